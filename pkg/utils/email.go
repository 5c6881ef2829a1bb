// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package utils

import (
	"regexp"
	"strings"
)

// spokenEmailReplacer rewrites the French spoken forms of email
// punctuation as produced by speech transcription.
var spokenEmailReplacer = strings.NewReplacer(
	" arobase ", "@",
	" arrobase ", "@",
	" at ", "@",
	" chez ", "@",
	" point ", ".",
	" dot ", ".",
	" tiret ", "-",
	" underscore ", "_",
)

var emailPattern = regexp.MustCompile(`[a-z0-9._%+\-]+@[a-z0-9.\-]+\.[a-z]{2,}`)

// NormalizeEmail turns a transcribed utterance into a plain email address.
// "jean point dupont arobase orange point fr" becomes
// "jean.dupont@orange.fr". Returns "" when no address can be extracted.
// The function is idempotent.
func NormalizeEmail(transcript string) string {
	s := strings.ToLower(strings.TrimSpace(transcript))
	if s == "" {
		return ""
	}
	// Pad so edge words are caught by the replacer's spaced patterns.
	s = " " + s + " "
	s = spokenEmailReplacer.Replace(s)
	// Transcripts often put spaces around the converted symbols.
	s = strings.ReplaceAll(s, " @ ", "@")
	s = strings.ReplaceAll(s, " . ", ".")
	s = strings.ReplaceAll(s, "@ ", "@")
	s = strings.ReplaceAll(s, " @", "@")
	s = strings.ReplaceAll(s, ". ", ".")
	s = strings.ReplaceAll(s, " .", ".")
	return emailPattern.FindString(s)
}

// LooksLikeEmail reports whether the transcript plausibly contains an
// email address, spoken or literal.
func LooksLikeEmail(transcript string) bool {
	s := strings.ToLower(transcript)
	if strings.Contains(s, "@") {
		return true
	}
	for _, w := range []string{"arobase", "arrobase", " at ", " chez "} {
		if strings.Contains(" "+s+" ", w) {
			return true
		}
	}
	return false
}
