package reliability

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestScore_KnownProviderNoDrift(t *testing.T) {
	got := Score(Input{Baseline: 0.85, Confidence: 0.95, Drift: 0, ProviderKnown: true})
	// 0.40*0.85 + 0.35*0.95 + 0.25*1 = 0.9225; confidence is not above 0.95
	// so no bonus.
	assert.InDelta(t, 0.9225, got, 1e-9)
}

func TestScore_HighConfidenceBonusCappedAtOne(t *testing.T) {
	got := Score(Input{Baseline: 1.0, Confidence: 1.0, Drift: 0, ProviderKnown: true})
	assert.Equal(t, 1.0, got)
}

func TestScore_UnknownProviderPenalty(t *testing.T) {
	in := Input{Baseline: 0.85, Confidence: 0.90, Drift: 0}
	known := Score(Input{Baseline: in.Baseline, Confidence: in.Confidence, Drift: in.Drift, ProviderKnown: true})
	unknown := Score(in)
	assert.InDelta(t, known*0.90, unknown, 1e-9)
}

func TestScore_HighDriftPenaltyAppliesAboveHalf(t *testing.T) {
	at := Score(Input{Baseline: 0.85, Confidence: 0.90, Drift: 0.50, ProviderKnown: true})
	above := Score(Input{Baseline: 0.85, Confidence: 0.90, Drift: 0.51, ProviderKnown: true})

	wantAt := 0.40*0.85 + 0.35*0.90 + 0.25*math.Exp(-1.0)
	assert.InDelta(t, wantAt, at, 1e-9)

	wantAbove := (0.40*0.85 + 0.35*0.90 + 0.25*math.Exp(-1.02)) * 0.85
	assert.InDelta(t, wantAbove, above, 1e-9)
}

func TestScore_PenaltiesStack(t *testing.T) {
	got := Score(Input{Baseline: 0.85, Confidence: 0.90, Drift: 0.60})
	want := (0.40*0.85 + 0.35*0.90 + 0.25*math.Exp(-1.2)) * 0.90 * 0.85
	assert.InDelta(t, want, got, 1e-9)
}

func TestScore_AlwaysInUnitInterval(t *testing.T) {
	inputs := []Input{
		{},
		{Baseline: 1, Confidence: 1, Drift: 0, ProviderKnown: true},
		{Baseline: 1, Confidence: 1, Drift: 1, ProviderKnown: false},
		{Baseline: 0.2, Confidence: 0.99, Drift: 0.9, ProviderKnown: true},
		{Baseline: 0, Confidence: 0, Drift: 1},
	}
	for _, in := range inputs {
		got := Score(in)
		assert.GreaterOrEqual(t, got, 0.0)
		assert.LessOrEqual(t, got, 1.0)
	}
}
