package validation_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/elonfeng/dealmatch/pkg/validation"
)

func TestParseAssessment(t *testing.T) {
	raw := `{
		"clarity": 8,
		"specificity": "6.5",
		"evidence": 4,
		"marketValidation": 5,
		"founder_credibility": 9,
		"worth_solving": 12,
		"pass": true,
		"insights": ["clear wedge"],
		"gaps": "no pricing model",
		"red_flags": []
	}`

	a := validation.ParseAssessment(raw)
	require.False(t, a.Malformed)
	assert.Equal(t, 8.0, *a.Clarity)
	assert.Equal(t, 6.5, *a.Specificity, "numeric strings are coerced")
	assert.Equal(t, 5.0, *a.MarketValidation, "camelCase key accepted")
	assert.Equal(t, 10.0, *a.WorthSolving, "clamped to 10")
	assert.True(t, *a.ProvisionalPass)
	assert.Equal(t, []string{"clear wedge"}, a.Insights)
	assert.Equal(t, []string{"no pricing model"}, a.Gaps)
	assert.Empty(t, a.RedFlags)
}

func TestParseAssessment_CodeFence(t *testing.T) {
	raw := "```json\n{\"clarity\": 7, \"founder_credibility\": 5}\n```"

	a := validation.ParseAssessment(raw)
	require.False(t, a.Malformed)
	assert.Equal(t, 7.0, *a.Clarity)
	assert.Nil(t, a.Evidence)
}

func TestParseAssessment_Nested(t *testing.T) {
	a := validation.ParseAssessment(`{"assessment": {"evidence": 3}}`)
	require.False(t, a.Malformed)
	assert.Equal(t, 3.0, *a.Evidence)
}

func TestParseAssessment_Malformed(t *testing.T) {
	for _, raw := range []string{"", "not json", "[1,2,3]", "null", `{"clarity": }`} {
		t.Run(raw, func(t *testing.T) {
			a := validation.ParseAssessment(raw)
			assert.True(t, a.Malformed)
			assert.Nil(t, a.Clarity)
		})
	}
}

func TestParseAssessment_UnreadableFieldIsAbsent(t *testing.T) {
	a := validation.ParseAssessment(`{"clarity": "seven out of ten", "evidence": -4}`)
	require.False(t, a.Malformed)
	assert.Nil(t, a.Clarity)
	assert.Equal(t, 0.0, *a.Evidence)
}
