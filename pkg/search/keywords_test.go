package search

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKeywordTermsStripsParticlesAndQuestionWords(t *testing.T) {
	terms := KeywordTerms("보험금은 언제 지급되나요?")
	assert.Equal(t, []string{"보험금", "지급"}, terms)
}

func TestKeywordTermsKeepsContentWords(t *testing.T) {
	terms := KeywordTerms("변액연금의 해지 환급금을 알려주세요")
	assert.Equal(t, []string{"변액연금", "해지", "환급금"}, terms)
}

func TestKeywordTermsDropsShortRemainders(t *testing.T) {
	// "것은" reduces to a single rune after particle stripping.
	terms := KeywordTerms("것은 특약")
	assert.Equal(t, []string{"특약"}, terms)
}

func TestKeywordQueryFallsBackToOriginal(t *testing.T) {
	assert.Equal(t, "뭐", KeywordQuery(" 뭐 "))
}

func TestKeywordQueryJoinsTerms(t *testing.T) {
	assert.Equal(t, "종신 보험 청구 서류", KeywordQuery("종신 보험 청구 서류는?"))
}
