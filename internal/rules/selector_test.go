package rules

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clearproof/preflight/internal/core"
)

func ruleNames(rs []core.CorrectionRule) []string {
	names := make([]string, len(rs))
	for i, r := range rs {
		names[i] = r.Rule
	}
	return names
}

func TestSelect_HighReliabilityReturnsTemplateRulesOnly(t *testing.T) {
	tmpl := []core.CorrectionRule{
		{Field: "invoice_total", Rule: "currency_normalize"},
	}
	got := Select(tmpl, 0.96)
	assert.Equal(t, []string{"currency_normalize"}, ruleNames(got))
}

func TestSelect_BelowCrossFieldThreshold(t *testing.T) {
	got := Select(nil, 0.90)
	require.Len(t, got, 1)
	assert.Equal(t, "cross_field_validation", got[0].Rule)
	assert.Empty(t, got[0].Parameters)
}

func TestSelect_BelowStrictThresholdAddsValidationLayer(t *testing.T) {
	got := Select(nil, 0.75)
	assert.Equal(t, []string{
		"cross_field_validation",
		"confidence_threshold",
		"enhanced_validation",
	}, ruleNames(got))

	assert.Equal(t, "strict", got[0].Parameters["mode"])
	assert.Equal(t, 0.85, got[1].Parameters["min"])
	assert.Equal(t, "strict", got[2].Parameters["level"])
}

func TestSelect_BelowReviewThresholdFlagsForReview(t *testing.T) {
	got := Select(nil, 0.42)
	names := ruleNames(got)
	require.Equal(t, "flag_for_review", names[len(names)-1])

	flag := got[len(got)-1]
	assert.Equal(t, "low_reliability", flag.Parameters["reason"])
	assert.Equal(t, 0.42, flag.Parameters["threshold"])
}

func TestSelect_TemplateRuleBlocksReAddition(t *testing.T) {
	tmpl := []core.CorrectionRule{
		{Field: "date_field", Rule: "cross_field_validation", Parameters: map[string]any{"custom": true}},
	}
	got := Select(tmpl, 0.70)
	names := ruleNames(got)

	// The template's version survives; steps 2-3 do not duplicate it.
	assert.Equal(t, []string{"cross_field_validation", "confidence_threshold", "enhanced_validation"}, names)
	assert.Equal(t, "date_field", got[0].Field)
	assert.Equal(t, true, got[0].Parameters["custom"])
}

func TestSelect_DeterministicOrder(t *testing.T) {
	tmpl := []core.CorrectionRule{
		{Field: "a", Rule: "trim_whitespace"},
		{Field: "b", Rule: "date_normalize"},
	}
	first := Select(tmpl, 0.55)
	second := Select(tmpl, 0.55)
	assert.Equal(t, first, second)
}
