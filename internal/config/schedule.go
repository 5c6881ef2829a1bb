// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package internal_config

import "time"

// BusinessSchedule maps weekday (0=Monday .. 6=Sunday) to a list of
// [startHour, endHour) opening ranges. Days absent from the map are
// closed.
type BusinessSchedule map[int][][2]int

// DefaultBusinessSchedule is the support desk's standard week:
// Monday-Thursday 9-12 and 14-18, Friday 9-12 and 14-17.
func DefaultBusinessSchedule() BusinessSchedule {
	return BusinessSchedule{
		0: {{9, 12}, {14, 18}},
		1: {{9, 12}, {14, 18}},
		2: {{9, 12}, {14, 18}},
		3: {{9, 12}, {14, 18}},
		4: {{9, 12}, {14, 17}},
	}
}

// IsOpenAt reports whether the desk is open at the given instant.
func (s BusinessSchedule) IsOpenAt(t time.Time) bool {
	// time.Weekday has Sunday=0; the schedule uses Monday=0.
	weekday := (int(t.Weekday()) + 6) % 7
	ranges, ok := s[weekday]
	if !ok {
		return false
	}
	hour := t.Hour()
	for _, r := range ranges {
		if hour >= r[0] && hour < r[1] {
			return true
		}
	}
	return false
}
