package internal_dialog

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDetectProblemType(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"internet", "ma box internet ne fonctionne plus", ProblemInternet},
		{"wifi", "le wifi coupe sans arrêt", ProblemInternet},
		{"mobile", "mon portable ne capte plus la 4g", ProblemMobile},
		{"no cell coverage", "mon portable n'a pas de réseau", ProblemMobile},
		{"bare network word", "je n'ai plus de réseau", ProblemMobile},
		{"sms", "je ne reçois plus mes sms", ProblemMobile},
		{"tie goes to internet", "le téléphone branché sur la box ne marche plus", ProblemInternet},
		{"no match", "j'ai une question sur ma facture", ProblemUnknown},
		{"empty", "", ProblemUnknown},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, DetectProblemType(tc.in))
		})
	}
}

func TestDetectProblemTypeIsDeterministic(t *testing.T) {
	in := "la box wifi et le portable ont un problème de réseau"
	first := DetectProblemType(in)
	for i := 0; i < 100; i++ {
		assert.Equal(t, first, DetectProblemType(in))
	}
}

func TestScoreNegativity(t *testing.T) {
	assert.Zero(t, ScoreNegativity("ma box ne fonctionne plus"))
	assert.Equal(t, 1, ScoreNegativity("c'est vraiment nul"))
	assert.Equal(t, 3, ScoreNegativity("J'en ai MARRE, c'est une arnaque, quelle honte"))
}

func TestSentimentLabel(t *testing.T) {
	assert.Equal(t, SentimentNeutral, SentimentLabel(0))
	assert.Equal(t, SentimentNegative, SentimentLabel(2))
	assert.Equal(t, SentimentNegative, SentimentLabel(3))
}
