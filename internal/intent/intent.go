// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package internal_intent

import (
	"encoding/json"
	"errors"
)

// Kind enumerates what the classifier can recognize in a caller turn.
type Kind string

const (
	KindYes   Kind = "yes"
	KindNo    Kind = "no"
	KindMaybe Kind = "maybe"

	KindProblemDescription Kind = "problem_description"
	KindIdentityProvided   Kind = "identity_provided"
	KindEmailProvided      Kind = "email_provided"

	KindInternetIssue       Kind = "internet_issue"
	KindMobileIssue         Kind = "mobile_issue"
	KindModificationRequest Kind = "modification_request"

	KindDeviceRestarted Kind = "device_restarted"
	KindProblemResolved Kind = "problem_resolved"
	KindProblemPersists Kind = "problem_persists"

	KindRequestTechnician Kind = "request_technician"

	KindOffTopic   Kind = "off_topic"
	KindUnclear    Kind = "unclear"
	KindNoResponse Kind = "no_response"
)

var knownKinds = map[Kind]struct{}{
	KindYes: {}, KindNo: {}, KindMaybe: {},
	KindProblemDescription: {}, KindIdentityProvided: {}, KindEmailProvided: {},
	KindInternetIssue: {}, KindMobileIssue: {}, KindModificationRequest: {},
	KindDeviceRestarted: {}, KindProblemResolved: {}, KindProblemPersists: {},
	KindRequestTechnician: {}, KindOffTopic: {}, KindUnclear: {}, KindNoResponse: {},
}

// ConfidenceLevel buckets the raw confidence score.
type ConfidenceLevel string

const (
	ConfidenceHigh   ConfidenceLevel = "high"   // > 0.8
	ConfidenceMedium ConfidenceLevel = "medium" // 0.5 - 0.8
	ConfidenceLow    ConfidenceLevel = "low"    // < 0.5
)

// Intent is the structured result of one classification.
type Intent struct {
	Kind                  Kind            `json:"intent"`
	Confidence            float64         `json:"confidence"`
	Extracted             json.RawMessage `json:"extracted_value,omitempty"`
	OffTopic              bool            `json:"is_off_topic"`
	RequiresClarification bool            `json:"requires_clarification"`
	Reasoning             string          `json:"reasoning,omitempty"`
}

// Unclear is the fallback produced on any parse or provider failure.
func Unclear() Intent {
	return Intent{Kind: KindUnclear, Confidence: 0, RequiresClarification: true}
}

// FromJSON parses a classifier response. Any malformed payload or unknown
// intent kind degrades to Unclear rather than failing the dialog.
func FromJSON(raw string) Intent {
	var it Intent
	if err := json.Unmarshal([]byte(raw), &it); err != nil {
		return Unclear()
	}
	if _, ok := knownKinds[it.Kind]; !ok {
		return Unclear()
	}
	if it.Confidence < 0 {
		it.Confidence = 0
	} else if it.Confidence > 1 {
		it.Confidence = 1
	}
	return it
}

// Level buckets the confidence score.
func (i Intent) Level() ConfidenceLevel {
	switch {
	case i.Confidence > 0.8:
		return ConfidenceHigh
	case i.Confidence > 0.5:
		return ConfidenceMedium
	default:
		return ConfidenceLow
	}
}

// IsConfirmation reports whether the intent is a yes or a no.
func (i Intent) IsConfirmation() bool {
	return i.Kind == KindYes || i.Kind == KindNo
}

// IsYes reports a confident affirmative.
func (i Intent) IsYes() bool {
	return i.Kind == KindYes && i.Confidence > 0.6
}

// IsNo reports a confident negative.
func (i Intent) IsNo() bool {
	return i.Kind == KindNo && i.Confidence > 0.6
}

// ExtractedInto unmarshals a structured extracted value into dst.
func (i Intent) ExtractedInto(dst any) error {
	if len(i.Extracted) == 0 {
		return errors.New("intent: no extracted value")
	}
	return json.Unmarshal(i.Extracted, dst)
}

// ExtractedString returns the extracted value when it is a plain string.
func (i Intent) ExtractedString() string {
	if len(i.Extracted) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(i.Extracted, &s); err != nil {
		return ""
	}
	return s
}
