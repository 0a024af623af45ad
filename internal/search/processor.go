package search

import (
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/hyperjump/kenkyu/internal/models"
)

const (
	minTermLength     = 3
	termBoost         = 0.1
	maxHybridBoost    = 0.3
	phraseBoost       = 0.2
	maxReasonTerms    = 3
	highRelevance     = 0.8
	moderateRelevance = 0.6
)

// ProcessQuery validates the options and trims the query text.
func ProcessQuery(opts *models.QueryOptions) error {
	if err := opts.Validate(); err != nil {
		return err
	}
	opts.QueryText = strings.TrimSpace(opts.QueryText)
	return nil
}

// QueryTerms returns the distinct lowercase words of query longer than two characters, in order.
// Punctuation around a word is dropped.
func QueryTerms(query string) []string {
	var terms []string
	seen := make(map[string]bool)
	for _, f := range strings.Fields(strings.ToLower(query)) {
		w := strings.TrimFunc(f, func(r rune) bool { return !unicode.IsLetter(r) && !unicode.IsDigit(r) })
		if utf8.RuneCountInString(w) < minTermLength || seen[w] {
			continue
		}
		seen[w] = true
		terms = append(terms, w)
	}
	return terms
}

// MatchingTerms returns the terms that occur in text, compared case-insensitively.
func MatchingTerms(terms []string, text string) []string {
	lower := strings.ToLower(text)
	var out []string
	for _, t := range terms {
		if strings.Contains(lower, t) {
			out = append(out, t)
		}
	}
	return out
}

// HybridBoost is the keyword-overlap bonus for a result with the given number of matching terms.
func HybridBoost(matches int) float64 {
	return min(float64(matches)*termBoost, maxHybridBoost)
}

// ContainsPhrase reports whether text contains the whole query, case-insensitively.
func ContainsPhrase(text, query string) bool {
	q := strings.ToLower(strings.TrimSpace(query))
	return q != "" && strings.Contains(strings.ToLower(text), q)
}

// Reasoning summarizes why a result was returned: its similarity band and up to three query
// terms found in its text.
func Reasoning(similarity float64, matched []string) string {
	var band string
	switch {
	case similarity >= highRelevance:
		band = "High"
	case similarity >= moderateRelevance:
		band = "Moderate"
	default:
		band = "Low"
	}
	reason := fmt.Sprintf("%s semantic similarity (%.2f)", band, similarity)
	if len(matched) > maxReasonTerms {
		matched = matched[:maxReasonTerms]
	}
	if len(matched) > 0 {
		reason += "; matching terms: " + strings.Join(matched, ", ")
	}
	return reason
}

func clamp01(x float64) float64 {
	return max(0, min(1, x))
}
