// Package rules layers correction rules onto a decision based on the
// matched template and the reliability score.
package rules

import "github.com/clearproof/preflight/internal/core"

// Reliability thresholds at which extra validation layers kick in.
const (
	crossFieldBelow = 0.95
	strictBelow     = 0.80
	reviewBelow     = 0.60
)

// Select layers rules deterministically: the template's own rules first,
// then reliability-driven additions. A rule name already present is never
// re-added, and the output order is stable for identical inputs.
func Select(template []core.CorrectionRule, reliability float64) []core.CorrectionRule {
	out := make([]core.CorrectionRule, 0, len(template)+4)
	seen := make(map[string]bool, len(template)+4)

	add := func(r core.CorrectionRule) {
		if seen[r.Rule] {
			return
		}
		seen[r.Rule] = true
		out = append(out, r)
	}

	for _, r := range template {
		add(r)
	}

	if reliability < crossFieldBelow {
		params := map[string]any{}
		if reliability < strictBelow {
			params["mode"] = "strict"
		}
		add(core.CorrectionRule{Field: "*", Rule: "cross_field_validation", Parameters: params})
	}
	if reliability < strictBelow {
		add(core.CorrectionRule{Field: "*", Rule: "confidence_threshold", Parameters: map[string]any{"min": 0.85}})
		add(core.CorrectionRule{Field: "*", Rule: "enhanced_validation", Parameters: map[string]any{"level": "strict"}})
	}
	if reliability < reviewBelow {
		add(core.CorrectionRule{Field: "*", Rule: "flag_for_review", Parameters: map[string]any{
			"reason":    "low_reliability",
			"threshold": reliability,
		}})
	}

	return out
}
