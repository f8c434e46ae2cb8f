package match

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clearproof/preflight/internal/core"
)

func sampleFeatures() core.StructuralFeatures {
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

func TestCosine_IdenticalVectorsAreOne(t *testing.T) {
	v := FeatureVector(sampleFeatures())
	assert.InDelta(t, 1.0, Cosine(v, v), 1e-9)
}

func TestCosine_ZeroVectorIsZero(t *testing.T) {
	var zero [vectorDim]float64
	v := FeatureVector(sampleFeatures())
	assert.Equal(t, 0.0, Cosine(zero, v))
	assert.Equal(t, 0.0, Cosine(zero, zero))
}

func TestCosine_BoundedByOne(t *testing.T) {
	a := FeatureVector(sampleFeatures())
	other := sampleFeatures()
	other.ElementCount = 900
	other.LayoutComplexity = 0.1
	b := FeatureVector(other)
	sim := Cosine(a, b)
	assert.GreaterOrEqual(t, sim, 0.0)
	assert.LessOrEqual(t, sim, 1.0+1e-9)
}

func TestFeatureVector_CapsSaturate(t *testing.T) {
	f := core.StructuralFeatures{
		ElementCount: 5000, // over the 1000 cap
		TableCount:   200,  // over the 50 cap
		ColumnCount:  99,   // over the 10 cap
	}
	v := FeatureVector(f)
	assert.Equal(t, 1.0, v[0])
	assert.Equal(t, 1.0, v[1])
	assert.Equal(t, 1.0, v[5])
}

func TestFeatureVector_BoolsAndNormalisedFieldsCopied(t *testing.T) {
	f := sampleFeatures()
	v := FeatureVector(f)
	assert.Equal(t, 0.42, v[6])
	assert.Equal(t, 0.55, v[7])
	assert.Equal(t, 1.0, v[8])
	assert.Equal(t, 1.0, v[9])

	f.HasHeader = false
	assert.Equal(t, 0.0, FeatureVector(f)[8])
}

func TestFingerprint_DeterministicAndOrderIndependent(t *testing.T) {
	a, err := Fingerprint(sampleFeatures())
	require.NoError(t, err)
	b, err := Fingerprint(sampleFeatures())
	require.NoError(t, err)
	assert.Equal(t, a, b)
	assert.Len(t, a, 64)
}

func TestFingerprint_IgnoresBoundingBoxes(t *testing.T) {
	plain := sampleFeatures()
	boxed := sampleFeatures()
	boxed.BoundingBoxes = []core.BoundingBox{
		{X: 0.1, Y: 0.1, Width: 0.2, Height: 0.05, ElementType: "text", Confidence: 0.9},
	}
	a, err := Fingerprint(plain)
	require.NoError(t, err)
	b, err := Fingerprint(boxed)
	require.NoError(t, err)
	assert.Equal(t, a, b, "bounding boxes vary per document and must not change identity")
}

func TestFingerprint_SensitiveToFeatureChange(t *testing.T) {
	a, _ := Fingerprint(sampleFeatures())
	changed := sampleFeatures()
	changed.PageCount = 3
	b, _ := Fingerprint(changed)
	assert.NotEqual(t, a, b)
}
