// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package internal_dialog

import "strings"

// Problem types stored on tickets and used for branching.
const (
	ProblemInternet = "internet"
	ProblemMobile   = "mobile"
	ProblemUnknown  = ""
)

// Closed keyword lists. Detection is pure keyword scoring so the outcome
// is reproducible; the LLM never overrides it. "réseau" sits on the
// mobile side: callers say it for cellular coverage, while a wired
// outage comes out as box/wifi/connexion.
var internetKeywords = []string{
	"internet", "box", "livebox", "wifi", "wi-fi", "connexion",
	"fibre", "adsl", "routeur", "modem", "ethernet", "débit", "synchro",
}

var mobileKeywords = []string{
	"mobile", "portable", "téléphone", "appel", "appels", "sms",
	"forfait", "sim", "4g", "5g", "données mobiles", "messagerie",
	"réseau", "couverture",
}

// DetectProblemType scores one description against both keyword lists.
// The higher score wins; ties (including a tie at zero when forced) go to
// internet. No match at all returns ProblemUnknown so the dialog can ask
// again.
func DetectProblemType(text string) string {
	lower := strings.ToLower(text)
	internet, mobile := 0, 0
	for _, kw := range internetKeywords {
		internet += strings.Count(lower, kw)
	}
	for _, kw := range mobileKeywords {
		mobile += strings.Count(lower, kw)
	}
	switch {
	case internet == 0 && mobile == 0:
		return ProblemUnknown
	case mobile > internet:
		return ProblemMobile
	default:
		return ProblemInternet
	}
}
