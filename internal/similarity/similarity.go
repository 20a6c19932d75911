// Package similarity provides the string similarity functions that
// similarity rules delegate to.
package similarity

import (
	"errors"
	"fmt"
	"math"
	"strings"
	"unicode"
)

// Method names accepted by Default.
const (
	TFIDFCosine = "tfidf_cosine"
	FuzzyString = "fuzzy_string"
	Jaccard     = "jaccard"
	Exact       = "exact"
)

// ErrUnknownMethod is returned for a method the scorer does not implement.
var ErrUnknownMethod = errors.New("unknown similarity method")

// Scorer computes a similarity in [0,1] between two strings.
type Scorer interface {
	Similarity(a, b, method string) (float64, error)
}

// Default is the built-in Scorer.
type Default struct{}

// NewDefault returns the built-in Scorer.
func NewDefault() Default { return Default{} }

// Similarity implements Scorer.
func (Default) Similarity(a, b, method string) (float64, error) {
	a, b = normalize(a), normalize(b)
	switch method {
	case TFIDFCosine:
		return NGramCosine(a, b, 2), nil
	case FuzzyString:
		return LevenshteinSimilarity(a, b), nil
	case Jaccard:
		return TokenJaccard(a, b), nil
	case Exact:
		if a == b && a != "" {
			return 1, nil
		}
		return 0, nil
	default:
		return 0, fmt.Errorf("%w: %s", ErrUnknownMethod, method)
	}
}

func normalize(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}

// NGramCosine is the cosine similarity of the character n-gram count
// vectors of a and b. Strings shorter than n contribute themselves as a
// single gram.
func NGramCosine(a, b string, n int) float64 {
	if a == "" || b == "" {
		return 0
	}
	if a == b {
		return 1
	}
	ga, gb := ngrams(a, n), ngrams(b, n)

	var dot, na, nb float64
	for g, ca := range ga {
		na += float64(ca * ca)
		if cb, ok := gb[g]; ok {
			dot += float64(ca * cb)
		}
	}
	for _, cb := range gb {
		nb += float64(cb * cb)
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

func ngrams(s string, n int) map[string]int {
	runes := []rune(strings.ReplaceAll(s, " ", ""))
	grams := make(map[string]int)
	if len(runes) < n {
		if len(runes) > 0 {
			grams[string(runes)]++
		}
		return grams
	}
	for i := 0; i+n <= len(runes); i++ {
		grams[string(runes[i:i+n])]++
	}
	return grams
}

// LevenshteinSimilarity is 1 - edit distance / longer length, over runes.
func LevenshteinSimilarity(a, b string) float64 {
	if a == "" && b == "" {
		return 0
	}
	if a == b {
		return 1
	}
	ra, rb := []rune(a), []rune(b)
	longest := max(len(ra), len(rb))
	return 1 - float64(levenshtein(ra, rb))/float64(longest)
}

func levenshtein(a, b []rune) int {
	prev := make([]int, len(b)+1)
	curr := make([]int, len(b)+1)
	for j := range prev {
		prev[j] = j
	}
	for i := 1; i <= len(a); i++ {
		curr[0] = i
		for j := 1; j <= len(b); j++ {
			cost := 1
			if a[i-1] == b[j-1] {
				cost = 0
			}
			curr[j] = min(prev[j]+1, curr[j-1]+1, prev[j-1]+cost)
		}
		prev, curr = curr, prev
	}
	return prev[len(b)]
}

// TokenJaccard is the Jaccard index of the word sets of a and b. Han
// characters count as individual tokens.
func TokenJaccard(a, b string) float64 {
	ta, tb := tokens(a), tokens(b)
	if len(ta) == 0 || len(tb) == 0 {
		return 0
	}
	inter := 0
	for t := range ta {
		if _, ok := tb[t]; ok {
			inter++
		}
	}
	union := len(ta) + len(tb) - inter
	return float64(inter) / float64(union)
}

func tokens(s string) map[string]struct{} {
	out := make(map[string]struct{})
	var word strings.Builder
	flush := func() {
		if word.Len() > 0 {
			out[word.String()] = struct{}{}
			word.Reset()
		}
	}
	for _, r := range s {
		switch {
		case unicode.Is(unicode.Han, r):
			flush()
			out[string(r)] = struct{}{}
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			word.WriteRune(r)
		default:
			flush()
		}
	}
	flush()
	return out
}
