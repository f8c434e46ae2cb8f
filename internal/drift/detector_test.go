package drift

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/clearproof/preflight/internal/core"
)

func baselineFeatures() core.StructuralFeatures {
	return core.StructuralFeatures{
		ElementCount:     120,
		TableCount:       2,
		TextBlockCount:   45,
		ImageCount:       1,
		PageCount:        2,
		TextDensity:      0.42,
		LayoutComplexity: 0.55,
		ColumnCount:      2,
		HasHeader:        true,
		HasFooter:        true,
	}
}

func TestScore_IdenticalFeaturesIsZero(t *testing.T) {
	f := baselineFeatures()
	assert.Equal(t, 0.0, Score(f, f))
}

func TestScore_AlwaysInUnitInterval(t *testing.T) {
	base := baselineFeatures()
	base.LayoutComplexity = 0
	extreme := core.StructuralFeatures{
		ElementCount:     100000,
		TableCount:       500,
		PageCount:        900,
		TextDensity:      50,
		LayoutComplexity: 1.0,
		ColumnCount:      40,
		HasHeader:        false,
		HasFooter:        false,
	}
	got := Score(base, extreme)
	assert.GreaterOrEqual(t, got, 0.0)
	assert.LessOrEqual(t, got, 1.0)

	// Every component saturated: weights sum to 1, so the score is 1.
	assert.InDelta(t, 1.0, got, 1e-9)
}

func TestScore_ColumnChangeContributesFullWeight(t *testing.T) {
	base := baselineFeatures()
	cur := baselineFeatures()
	cur.ColumnCount = 3
	assert.InDelta(t, weightColumns, Score(base, cur), 1e-9)
}

func TestScore_HeaderFooterEachContributeHalf(t *testing.T) {
	base := baselineFeatures()

	cur := baselineFeatures()
	cur.HasHeader = false
	assert.InDelta(t, weightBoundaries*0.5, Score(base, cur), 1e-9)

	cur.HasFooter = false
	assert.InDelta(t, weightBoundaries, Score(base, cur), 1e-9)
}

func TestScore_ElementToleranceIsTwentyPercent(t *testing.T) {
	base := baselineFeatures() // 120 elements, tolerance 24

	cur := baselineFeatures()
	cur.ElementCount = 132 // delta 12, half the tolerance
	assert.InDelta(t, weightElements*0.5, Score(base, cur), 1e-9)

	cur.ElementCount = 200 // delta 80, saturates
	assert.InDelta(t, weightElements, Score(base, cur), 1e-9)
}

func TestScore_PageDriftRelativeToBaseline(t *testing.T) {
	base := baselineFeatures() // 2 pages
	cur := baselineFeatures()
	cur.PageCount = 3 // delta 1 / baseline 2
	assert.InDelta(t, weightPages*0.5, Score(base, cur), 1e-9)
}

func TestScore_TableDriftZeroBaselineUsesFloorOfOne(t *testing.T) {
	base := baselineFeatures()
	base.TableCount = 0
	cur := baselineFeatures()
	cur.TableCount = 1
	assert.InDelta(t, weightTables, Score(base, cur), 1e-9)
}

func TestScore_DensityToleranceFloor(t *testing.T) {
	base := baselineFeatures()
	base.TextDensity = 0.1 // 0.3*baseline = 0.03, floor 0.1 applies
	cur := baselineFeatures()
	cur.TextDensity = 0.15
	want := weightDensity * (0.05 / 0.1)
	assert.InDelta(t, want, Score(base, cur), 1e-9)
}

func TestScore_HighDriftScenarioCrossesAlertThreshold(t *testing.T) {
	base := baselineFeatures()
	cur := baselineFeatures()
	cur.PageCount = 6
	cur.ColumnCount = 4
	cur.HasHeader = !base.HasHeader
	cur.HasFooter = !base.HasFooter

	got := Score(base, cur)
	assert.Greater(t, got, core.HighDriftAlertThreshold)
	assert.False(t, math.IsNaN(got))
}
