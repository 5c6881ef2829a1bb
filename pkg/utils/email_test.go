package utils

import "testing"

func TestNormalizeEmail(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{"spoken full", "jean arobase orange point fr", "jean@orange.fr"},
		{"spoken with dots", "jean point dupont arobase orange point fr", "jean.dupont@orange.fr"},
		{"english forms", "jean at gmail dot com", "jean@gmail.com"},
		{"chez variant", "marie chez wanadoo point fr", "marie@wanadoo.fr"},
		{"tiret", "jean tiret luc arobase orange point fr", "jean-luc@orange.fr"},
		{"literal passthrough", "mon adresse est jean@orange.fr", "jean@orange.fr"},
		{"uppercase", "JEAN AROBASE ORANGE POINT FR", "jean@orange.fr"},
		{"nothing there", "je n'ai pas d'adresse", ""},
		{"empty", "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := NormalizeEmail(tt.input)
			if result != tt.expected {
				t.Errorf("expected %q, got %q", tt.expected, result)
			}
		})
	}
}

func TestNormalizeEmailIdempotent(t *testing.T) {
	inputs := []string{
		"jean point dupont arobase orange point fr",
		"jean@orange.fr",
		"rien",
	}
	for _, in := range inputs {
		once := NormalizeEmail(in)
		twice := NormalizeEmail(once)
		if once != twice {
			t.Errorf("not idempotent: %q -> %q -> %q", in, once, twice)
		}
	}
}

func TestLooksLikeEmail(t *testing.T) {
	tests := []struct {
		input    string
		expected bool
	}{
		{"jean arobase orange point fr", true},
		{"jean@orange.fr", true},
		{"je veux parler à un technicien", false},
		{"", false},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			if got := LooksLikeEmail(tt.input); got != tt.expected {
				t.Errorf("expected %t, got %t", tt.expected, got)
			}
		})
	}
}
