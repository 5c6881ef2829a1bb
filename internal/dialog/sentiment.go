// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package internal_dialog

import "strings"

// negativeKeywords flag caller frustration. The guard runs on every final
// transcript before any model call: an angry caller reaches a human
// without waiting on an LLM round trip.
var negativeKeywords = []string{
	"colère",
	"arnaque",
	"incompétent",
	"merde",
	"nul",
	"répéter",
	"enervé",
	"furieux",
	"scandale",
	"honte",
	"dégoûtant",
	"pourri",
	"marre",
	"ras le bol",
	"insupportable",
	"inadmissible",
	"inacceptable",
}

// ScoreNegativity counts negative-keyword hits in one transcript.
func ScoreNegativity(text string) int {
	lower := strings.ToLower(text)
	score := 0
	for _, kw := range negativeKeywords {
		if strings.Contains(lower, kw) {
			score++
		}
	}
	return score
}

// Sentiment values stored on tickets.
const (
	SentimentPositive = "positive"
	SentimentNeutral  = "neutral"
	SentimentNegative = "negative"
)

// SentimentLabel maps an accumulated anger score to a ticket sentiment.
// It is the keyword fallback when the end-of-call LLM analysis is
// unreachable: any negative hit marks the call negative.
func SentimentLabel(score int) string {
	if score > 0 {
		return SentimentNegative
	}
	return SentimentNeutral
}
