package matcher

import (
	"strings"
	"unicode"
)

// DescriptionSimilarity computes the token overlap ratio (Jaccard) between
// two descriptions, case-insensitively. Punctuation is stripped before
// tokenizing. Returns a value in [0, 1]; empty descriptions score 0.
func DescriptionSimilarity(a, b string) float64 {
	tokensA := tokenize(a)
	tokensB := tokenize(b)
	if len(tokensA) == 0 || len(tokensB) == 0 {
		return 0.0
	}

	intersection := 0
	for token := range tokensA {
		if tokensB[token] {
			intersection++
		}
	}
	union := len(tokensA) + len(tokensB) - intersection
	if union == 0 {
		return 0.0
	}
	return float64(intersection) / float64(union)
}

// tokenize lowercases the text, strips everything that is not a letter or
// digit, and returns the set of remaining whitespace-separated tokens.
func tokenize(s string) map[string]bool {
	var cleaned strings.Builder
	for _, r := range strings.ToLower(s) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || unicode.IsSpace(r) {
			cleaned.WriteRune(r)
		}
	}

	tokens := make(map[string]bool)
	for _, token := range strings.Fields(cleaned.String()) {
		tokens[token] = true
	}
	return tokens
}
