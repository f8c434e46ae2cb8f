// Package reliability predicts extraction quality for a matched template.
package reliability

import "math"

// Composition weights for the base score.
const (
	baselineWeight   = 0.40
	confidenceWeight = 0.35
	driftWeight      = 0.25
)

// Adjustment factors applied after composition, in this order.
const (
	unknownProviderPenalty = 0.90
	highDriftPenalty       = 0.85
	highDriftThreshold     = 0.50
	highConfidenceBonus    = 1.05
	highConfidenceFloor    = 0.95
)

// Input carries everything the scorer needs. ProviderKnown is false when
// the extractor vendor is not in the provider registry.
type Input struct {
	Baseline      float64
	Confidence    float64
	Drift         float64
	ProviderKnown bool
}

// Score composes baseline reliability, extractor confidence, and an
// exponential drift decay, then applies ordered penalties and the
// high-confidence bonus. The result is always in [0,1].
func Score(in Input) float64 {
	r := baselineWeight*in.Baseline +
		confidenceWeight*in.Confidence +
		driftWeight*math.Exp(-2*in.Drift)

	if !in.ProviderKnown {
		r *= unknownProviderPenalty
	}
	if in.Drift > highDriftThreshold {
		r *= highDriftPenalty
	}
	if in.Confidence > highConfidenceFloor {
		r = math.Min(r*highConfidenceBonus, 1.0)
	}

	if r < 0 {
		return 0
	}
	if r > 1 {
		return 1
	}
	return r
}
