// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package utils

import (
	"strings"
	"unicode/utf8"
)

// defaultProfanity maps raw insult tokens to their stored replacement.
// Ticket summaries are read by support staff; the raw token never reaches
// the database.
var defaultProfanity = map[string]string{
	"merde":   "***",
	"putain":  "***",
	"connard": "***",
	"salaud":  "***",
	"enfoiré": "***",
}

// SanitizeString strips NUL bytes, repairs invalid UTF-8 and substitutes
// profanity tokens. It is idempotent: sanitizing an already sanitized
// string returns it unchanged.
func SanitizeString(s string) string {
	if s == "" {
		return s
	}
	s = strings.ReplaceAll(s, "\x00", "")
	if !utf8.ValidString(s) {
		s = strings.ToValidUTF8(s, "")
	}
	lower := strings.ToLower(s)
	if len(lower) != len(s) {
		// Case folding moved byte offsets; match exact tokens only.
		lower = s
	}
	for token, repl := range defaultProfanity {
		for {
			idx := strings.Index(lower, token)
			if idx < 0 {
				break
			}
			s = s[:idx] + repl + s[idx+len(token):]
			lower = lower[:idx] + repl + lower[idx+len(token):]
		}
	}
	return s
}

// SanitizeMap applies SanitizeString to every value in place and returns
// the map for chaining.
func SanitizeMap(m map[string]string) map[string]string {
	for k, v := range m {
		m[k] = SanitizeString(v)
	}
	return m
}
