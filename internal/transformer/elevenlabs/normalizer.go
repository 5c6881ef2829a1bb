// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package internal_transformer_elevenlabs

import (
	"regexp"
	"strings"
)

// =============================================================================
// ElevenLabs Text Normalizer
// =============================================================================

// LLM output reaches the synthesizer as plain text; anything that reads
// like markup or a symbol gets spoken literally. The normalizer strips
// markdown and rewrites symbols the way a French agent would say them.

var (
	mdHeading    = regexp.MustCompile(`(?m)^#{1,6}\s*`)
	mdEmphasis   = regexp.MustCompile(`\*{1,2}([^*]+?)\*{1,2}|_{1,2}([^_]+?)_{1,2}`)
	mdInlineCode = regexp.MustCompile("`([^`]+)`")
	mdCodeBlock  = regexp.MustCompile("(?s)```[^`]*```")
	mdQuote      = regexp.MustCompile(`(?m)^>\s?`)
	mdLink       = regexp.MustCompile(`!?\[(.*?)\]\(.*?\)`)
	mdRule       = regexp.MustCompile(`(?m)^(-{3,}|\*{3,}|_{3,})$`)
	mdLeftover   = regexp.MustCompile(`[*_]+`)
	whitespace   = regexp.MustCompile(`\s+`)
)

// spokenSymbols maps symbols onto their French reading. The @ and dot
// rewrites matter most: the bot reads client emails back for confirmation.
var spokenSymbols = strings.NewReplacer(
	"@", " arobase ",
	"%", " pour cent",
	"€", " euros",
	"&", " et ",
)

// Normalize prepares LLM or template text for synthesis.
func Normalize(text string) string {
	if text == "" {
		return text
	}
	text = mdCodeBlock.ReplaceAllString(text, "")
	text = mdHeading.ReplaceAllString(text, "")
	text = mdEmphasis.ReplaceAllString(text, "$1$2")
	text = mdInlineCode.ReplaceAllString(text, "$1")
	text = mdQuote.ReplaceAllString(text, "")
	text = mdLink.ReplaceAllString(text, "$1")
	text = mdRule.ReplaceAllString(text, "")
	text = mdLeftover.ReplaceAllString(text, "")
	text = spokenSymbols.Replace(text)
	return strings.TrimSpace(whitespace.ReplaceAllString(text, " "))
}
