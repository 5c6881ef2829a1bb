package internal_intent

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFromJSONValid(t *testing.T) {
	it := FromJSON(`{
		"intent": "yes",
		"confidence": 0.95,
		"extracted_value": null,
		"is_off_topic": false,
		"requires_clarification": false,
		"reasoning": "l'utilisateur a clairement dit oui"
	}`)

	assert.Equal(t, KindYes, it.Kind)
	assert.InDelta(t, 0.95, it.Confidence, 1e-9)
	assert.True(t, it.IsYes())
	assert.False(t, it.IsNo())
	assert.True(t, it.IsConfirmation())
	assert.Equal(t, ConfidenceHigh, it.Level())
}

func TestFromJSONExtractedString(t *testing.T) {
	it := FromJSON(`{"intent": "email_provided", "confidence": 0.9, "extracted_value": "jean@orange.fr"}`)
	assert.Equal(t, KindEmailProvided, it.Kind)
	assert.Equal(t, "jean@orange.fr", it.ExtractedString())
}

func TestFromJSONExtractedObject(t *testing.T) {
	it := FromJSON(`{"intent": "identity_provided", "confidence": 0.8,
		"extracted_value": {"name": "jean dupont", "company": "acme"}}`)
	assert.Equal(t, KindIdentityProvided, it.Kind)
	// object values are not plain strings
	assert.Empty(t, it.ExtractedString())
	assert.NotEmpty(t, it.Extracted)
}

func TestFromJSONMalformed(t *testing.T) {
	for _, raw := range []string{
		"",
		"not json at all",
		`{"intent": 42}`,
		`{"intent": "made_up_kind", "confidence": 0.9}`,
	} {
		it := FromJSON(raw)
		assert.Equal(t, KindUnclear, it.Kind, "input %q", raw)
		assert.Zero(t, it.Confidence)
		assert.True(t, it.RequiresClarification)
	}
}

func TestFromJSONClampsConfidence(t *testing.T) {
	assert.Equal(t, 1.0, FromJSON(`{"intent": "yes", "confidence": 3.5}`).Confidence)
	assert.Equal(t, 0.0, FromJSON(`{"intent": "no", "confidence": -1}`).Confidence)
}

func TestConfidenceThresholds(t *testing.T) {
	low := Intent{Kind: KindYes, Confidence: 0.6}
	assert.False(t, low.IsYes(), "0.6 is not strictly above the threshold")
	assert.Equal(t, ConfidenceMedium, low.Level())

	no := Intent{Kind: KindNo, Confidence: 0.61}
	assert.True(t, no.IsNo())

	assert.Equal(t, ConfidenceLow, Intent{Confidence: 0.5}.Level())
	assert.Equal(t, ConfidenceMedium, Intent{Confidence: 0.51}.Level())
	assert.Equal(t, ConfidenceHigh, Intent{Confidence: 0.81}.Level())
}

func TestPromptsCarryPlaceholder(t *testing.T) {
	for name, tpl := range map[string]string{
		"yes_no":       PromptYesNo,
		"problem_type": PromptProblemType,
		"email":        PromptEmail,
		"identity":     PromptIdentity,
	} {
		assert.Contains(t, tpl, "{user_text}", "template %s", name)
	}
}
