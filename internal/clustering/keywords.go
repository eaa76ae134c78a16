package clustering

import (
	"sort"
	"strings"
	"unicode"

	"github.com/fyrsmithlabs/patternd/internal/pattern"
)

const (
	fallbackPatternName = "Learned Pattern"
	fallbackKeyword     = "learned"
)

// stopWords are excluded from names and keywords.
var stopWords = map[string]struct{}{
	"the": {}, "and": {}, "but": {}, "for": {}, "with": {}, "from": {},
	"was": {}, "are": {}, "were": {}, "been": {}, "being": {}, "have": {},
	"has": {}, "had": {}, "does": {}, "did": {}, "will": {}, "would": {},
	"should": {}, "could": {}, "may": {}, "might": {}, "must": {}, "can": {},
	"this": {}, "that": {}, "these": {}, "those": {}, "into": {}, "onto": {},
	"about": {}, "over": {}, "under": {}, "than": {}, "then": {}, "them": {},
	"they": {}, "their": {}, "there": {}, "here": {}, "what": {}, "when": {},
	"where": {}, "which": {}, "who": {}, "why": {}, "how": {}, "all": {},
	"any": {}, "some": {}, "each": {}, "our": {}, "your": {}, "you": {},
	"its": {}, "not": {}, "please": {}, "just": {}, "also": {}, "very": {},
	"new": {}, "use": {}, "using": {}, "need": {}, "want": {}, "like": {},
}

// tokenize lower-cases text and splits it on anything that is not a letter
// or digit, keeping tokens of at least minLen runes that are not stop words.
func tokenize(text string, minLen int) []string {
	fields := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	out := fields[:0]
	for _, f := range fields {
		if len([]rune(f)) < minLen {
			continue
		}
		if _, stop := stopWords[f]; stop {
			continue
		}
		out = append(out, f)
	}
	return out
}

// topTokens returns the n most frequent tokens. Ties break alphabetically.
func topTokens(texts []string, minLen, n int) []string {
	counts := make(map[string]int)
	for _, text := range texts {
		for _, tok := range tokenize(text, minLen) {
			counts[tok]++
		}
	}
	tokens := make([]string, 0, len(counts))
	for tok := range counts {
		tokens = append(tokens, tok)
	}
	sort.Slice(tokens, func(i, j int) bool {
		if counts[tokens[i]] != counts[tokens[j]] {
			return counts[tokens[i]] > counts[tokens[j]]
		}
		return tokens[i] < tokens[j]
	})
	if len(tokens) > n {
		tokens = tokens[:n]
	}
	return tokens
}

// SuggestName derives a pattern name from the three most frequent tokens
// across member input and feedback, e.g. "Invoice Approval Workflow Pattern".
func SuggestName(observations []pattern.Observation) string {
	texts := make([]string, 0, len(observations)*2)
	for _, o := range observations {
		texts = append(texts, o.Input, o.Feedback)
	}
	top := topTokens(texts, 3, 3)
	if len(top) == 0 {
		return fallbackPatternName
	}
	words := make([]string, len(top))
	for i, tok := range top {
		words[i] = titleCase(tok)
	}
	return strings.Join(words, " ") + " Pattern"
}

// TopKeyword returns the most frequent keyword of at least four characters
// across member inputs.
func TopKeyword(observations []pattern.Observation) string {
	texts := make([]string, len(observations))
	for i, o := range observations {
		texts[i] = o.Input
	}
	top := topTokens(texts, 4, 1)
	if len(top) == 0 {
		return fallbackKeyword
	}
	return top[0]
}

func titleCase(s string) string {
	r := []rune(s)
	r[0] = unicode.ToUpper(r[0])
	return string(r)
}
