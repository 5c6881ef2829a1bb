// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package internal_transformer_deepgram

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/rapidaai/sav-voicebot/pkg/commons"
)

// keyword boost intensities accepted by the recognizer
const (
	minIntensity = 1
	maxIntensity = 3
)

type keywordFile struct {
	Keywords []string `yaml:"keywords"`
}

// ValidateKeyword checks a "word:intensity" boost entry. The word must be
// non-empty and the intensity must fall within [1,3].
func ValidateKeyword(entry string) error {
	word, raw, ok := strings.Cut(strings.TrimSpace(entry), ":")
	if !ok {
		return fmt.Errorf("keyword %q: missing ':intensity' suffix", entry)
	}
	word = strings.TrimSpace(word)
	if word == "" {
		return fmt.Errorf("keyword %q: empty word", entry)
	}
	intensity, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return fmt.Errorf("keyword %q: non-numeric intensity", entry)
	}
	if intensity < minIntensity || intensity > maxIntensity {
		return fmt.Errorf("keyword %q: intensity %d outside [%d,%d]", entry, intensity, minIntensity, maxIntensity)
	}
	return nil
}

// LoadKeywords reads recognition boosts from a YAML file. Invalid entries
// are skipped with a warning so one typo does not silence the whole list.
// A missing file yields no keywords and no error.
func LoadKeywords(logger commons.Logger, path string) ([]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			logger.Warnf("stt keywords file %s not found, boosting disabled", path)
			return nil, nil
		}
		return nil, fmt.Errorf("stt keywords: read %s: %w", path, err)
	}

	var parsed keywordFile
	if err := yaml.Unmarshal(data, &parsed); err != nil {
		return nil, fmt.Errorf("stt keywords: parse %s: %w", path, err)
	}

	valid := make([]string, 0, len(parsed.Keywords))
	for _, entry := range parsed.Keywords {
		if err := ValidateKeyword(entry); err != nil {
			logger.Warnf("stt keywords: skipping entry: %v", err)
			continue
		}
		valid = append(valid, strings.TrimSpace(entry))
	}
	return valid, nil
}
