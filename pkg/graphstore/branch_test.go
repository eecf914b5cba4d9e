package graphstore

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEvalBranchEquality(t *testing.T) {
	values := map[string]any{"intent": "해지_환급금", "product_name": "변액연금"}

	got, err := EvalBranch("intent == '해지_환급금'", values)
	require.NoError(t, err)
	assert.True(t, got)

	got, err = EvalBranch("intent == '보험금_청구'", values)
	require.NoError(t, err)
	assert.False(t, got)

	got, err = EvalBranch("intent != '보험금_청구'", values)
	require.NoError(t, err)
	assert.True(t, got)
}

func TestEvalBranchBooleans(t *testing.T) {
	values := map[string]any{"confirmed": true, "claim_type": "accident"}

	got, err := EvalBranch("confirmed == true", values)
	require.NoError(t, err)
	assert.True(t, got)

	got, err = EvalBranch("confirmed == true and claim_type == 'accident'", values)
	require.NoError(t, err)
	assert.True(t, got)

	got, err = EvalBranch("confirmed == false or claim_type == 'illness'", values)
	require.NoError(t, err)
	assert.False(t, got)

	got, err = EvalBranch("not (claim_type == 'illness')", values)
	require.NoError(t, err)
	assert.True(t, got)
}

func TestEvalBranchIn(t *testing.T) {
	values := map[string]any{"intent": "해지_환급금"}

	got, err := EvalBranch("intent in ['보험금_청구', '해지_환급금']", values)
	require.NoError(t, err)
	assert.True(t, got)

	got, err = EvalBranch("intent in ['특약_설명']", values)
	require.NoError(t, err)
	assert.False(t, got)
}

func TestEvalBranchUnknownIdentifier(t *testing.T) {
	// Guards over unfilled slots compare against empty, never error.
	got, err := EvalBranch("missing_slot == 'anything'", map[string]any{})
	require.NoError(t, err)
	assert.False(t, got)

	got, err = EvalBranch("missing_slot == ''", map[string]any{})
	require.NoError(t, err)
	assert.True(t, got)
}

func TestEvalBranchParseErrors(t *testing.T) {
	cases := []string{
		"",
		"   ",
		"intent == 'unterminated",
		"intent =",
		"(intent == 'a'",
		"intent == 'a' extra garbage ==",
		"== 'a'",
	}
	for _, expr := range cases {
		_, err := EvalBranch(expr, map[string]any{"intent": "a"})
		assert.Error(t, err, "expression %q should not parse", expr)
	}
}

func TestEvalBranchPrecedence(t *testing.T) {
	values := map[string]any{"a": "1", "b": "2", "c": "3"}

	// and binds tighter than or.
	got, err := EvalBranch("a == '0' and b == '2' or c == '3'", values)
	require.NoError(t, err)
	assert.True(t, got)

	got, err = EvalBranch("a == '0' and (b == '2' or c == '3')", values)
	require.NoError(t, err)
	assert.False(t, got)
}
