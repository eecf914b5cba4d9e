package search

import (
	"regexp"
	"strings"
)

// Korean questions carry particles and question words that hurt literal
// CONTAINS matching ("보험금은 언제 지급되나요" should search for "보험금"
// and "지급"). KeywordTerms strips them and returns the content words.
var (
	questionWords = regexp.MustCompile(`(언제|어디|누구|무엇|뭐|어떻게|왜|얼마|몇|어느|알려줘|알려주세요|해주세요|해줘|인가요|일까요|입니까|되나요|하나요|있나요|없나요)`)
	particleTail  = regexp.MustCompile(`(은|는|이|가|을|를|의|에|에서|으로|로|와|과|도|만|까지|부터|에게|께|이란|란|라는)$`)
)

// KeywordTerms reduces a question to searchable content words. Terms
// shorter than two runes after stripping are dropped.
func KeywordTerms(question string) []string {
	cleaned := questionWords.ReplaceAllString(question, " ")

	var terms []string
	for _, field := range strings.Fields(cleaned) {
		term := strings.Trim(field, ".,!?~()[]'\"")
		term = particleTail.ReplaceAllString(term, "")
		if len([]rune(term)) < 2 {
			continue
		}
		terms = append(terms, term)
	}
	return terms
}

// KeywordQuery joins the stripped terms back into one search string, or
// returns the original question when nothing survives stripping.
func KeywordQuery(question string) string {
	terms := KeywordTerms(question)
	if len(terms) == 0 {
		return strings.TrimSpace(question)
	}
	return strings.Join(terms, " ")
}
