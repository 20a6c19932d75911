package similarity

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultMethods(t *testing.T) {
	s := NewDefault()

	tests := []struct {
		name   string
		a, b   string
		method string
		want   float64
	}{
		{"tfidf identical", "球阀", "球阀", TFIDFCosine, 1},
		{"tfidf disjoint", "球阀", "轴承", TFIDFCosine, 0},
		{"tfidf case and spacing", "Ball  Valve", "ball valve", TFIDFCosine, 1},
		{"fuzzy identical", "天津泵业", "天津泵业", FuzzyString, 1},
		{"fuzzy one edit", "天津泵业", "天津泵厂", FuzzyString, 0.75},
		{"fuzzy empty", "", "", FuzzyString, 0},
		{"jaccard", "a b", "b c", Jaccard, 1.0 / 3.0},
		{"exact", "X", "x", Exact, 1},
		{"exact empty", "", "", Exact, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := s.Similarity(tt.a, tt.b, tt.method)
			require.NoError(t, err)
			assert.InDelta(t, tt.want, got, 1e-9)
		})
	}
}

func TestUnknownMethod(t *testing.T) {
	_, err := NewDefault().Similarity("a", "b", "word2vec")
	assert.ErrorIs(t, err, ErrUnknownMethod)
}

func TestNGramCosinePartialOverlap(t *testing.T) {
	// {不锈,锈钢,钢球,球阀} against {球阀}
	assert.InDelta(t, 0.5, NGramCosine("不锈钢球阀", "球阀", 2), 1e-9)
	// single rune strings compare as one gram
	assert.InDelta(t, 1.0, NGramCosine("泵", "泵", 2), 1e-9)
	assert.InDelta(t, 0.0, NGramCosine("泵", "阀", 2), 1e-9)
}

func TestTokenJaccardHan(t *testing.T) {
	assert.InDelta(t, 1.0/3.0, TokenJaccard("球阀", "球体"), 1e-9)
}

