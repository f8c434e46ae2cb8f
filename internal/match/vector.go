package match

import (
	"math"

	"github.com/clearproof/preflight/internal/core"
)

// Normalisation caps for count features. Values above a cap saturate at 1.
const (
	capElements   = 1000
	capTables     = 50
	capTextBlocks = 200
	capImages     = 100
	capPages      = 500
	capColumns    = 10
)

// vectorDim is the similarity space dimension.
const vectorDim = 10

// FeatureVector projects structural features into [0,1]^10 for cosine
// comparison.
func FeatureVector(f core.StructuralFeatures) [vectorDim]float64 {
	return [vectorDim]float64{
		capped(f.ElementCount, capElements),
		capped(f.TableCount, capTables),
		capped(f.TextBlockCount, capTextBlocks),
		capped(f.ImageCount, capImages),
		capped(f.PageCount, capPages),
		capped(f.ColumnCount, capColumns),
		f.TextDensity,
		f.LayoutComplexity,
		boolTo01(f.HasHeader),
		boolTo01(f.HasFooter),
	}
}

func capped(v, cap int) float64 {
	if v >= cap {
		return 1.0
	}
	return float64(v) / float64(cap)
}

func boolTo01(b bool) float64 {
	if b {
		return 1.0
	}
	return 0.0
}

// Cosine computes cosine similarity. Zero vectors have zero similarity to
// everything, including themselves.
func Cosine(a, b [vectorDim]float64) float64 {
	var dot, normA, normB float64
	for i := 0; i < vectorDim; i++ {
		dot += a[i] * b[i]
		normA += a[i] * a[i]
		normB += b[i] * b[i]
	}
	if normA == 0 || normB == 0 {
		return 0.0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
