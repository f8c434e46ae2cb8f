// Package drift scores how far a document's layout has moved from the
// matched template's baseline features.
package drift

import (
	"math"

	"github.com/clearproof/preflight/internal/core"
)

// Per-feature weights. They sum to 1.0, so the weighted mean stays in [0,1]
// as long as each component is clamped.
const (
	weightElements   = 0.15
	weightTables     = 0.20
	weightPages      = 0.15
	weightDensity    = 0.15
	weightComplexity = 0.15
	weightColumns    = 0.10
	weightBoundaries = 0.10
)

// Score computes the weighted per-feature deviation of current from
// baseline. Identical features score exactly 0; every component saturates
// at 1, so the result is always in [0,1].
func Score(baseline, current core.StructuralFeatures) float64 {
	score := weightElements * elementDrift(baseline.ElementCount, current.ElementCount)
	score += weightTables * countDrift(baseline.TableCount, current.TableCount)
	score += weightPages * pageDrift(baseline.PageCount, current.PageCount)
	score += weightDensity * densityDrift(baseline.TextDensity, current.TextDensity)
	score += weightComplexity * clamp01(math.Abs(current.LayoutComplexity-baseline.LayoutComplexity))
	if current.ColumnCount != baseline.ColumnCount {
		score += weightColumns
	}
	score += weightBoundaries * boundaryDrift(baseline, current)
	return clamp01(score)
}

// elementDrift tolerates 20% movement around the baseline before the
// component saturates.
func elementDrift(baseline, current int) float64 {
	delta := math.Abs(float64(current - baseline))
	tolerance := math.Max(0.2*float64(baseline), 1)
	return clamp01(delta / tolerance)
}

func countDrift(baseline, current int) float64 {
	if current == baseline {
		return 0
	}
	delta := math.Abs(float64(current - baseline))
	return clamp01(delta / math.Max(float64(baseline), 1))
}

func pageDrift(baseline, current int) float64 {
	if current == baseline {
		return 0
	}
	return clamp01(math.Abs(float64(current-baseline)) / float64(baseline))
}

func densityDrift(baseline, current float64) float64 {
	delta := math.Abs(current - baseline)
	tolerance := math.Max(0.3*baseline, 0.1)
	return clamp01(delta / tolerance)
}

// boundaryDrift averages the header and footer flags: each mismatch
// contributes 0.5.
func boundaryDrift(baseline, current core.StructuralFeatures) float64 {
	var d float64
	if baseline.HasHeader != current.HasHeader {
		d += 0.5
	}
	if baseline.HasFooter != current.HasFooter {
		d += 0.5
	}
	return d
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
