package safeguard

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clearproof/preflight/internal/core"
	"github.com/clearproof/preflight/internal/database"
)

func cleanFeatures() core.StructuralFeatures {
	boxes := make([]core.BoundingBox, 20)
	for i := range boxes {
		boxes[i] = core.BoundingBox{
			X: 0.1, Y: float64(i) * 0.04, Width: 0.8, Height: 0.03,
			ElementType: "text", Confidence: 0.9, ReadingOrder: i,
		}
	}
	return core.StructuralFeatures{
		ElementCount:     120,
		TableCount:       2,
		TextBlockCount:   45,
		PageCount:        2,
		TextDensity:      0.42,
		LayoutComplexity: 0.55,
		ColumnCount:      2,
		HasHeader:        true,
		BoundingBoxes:    boxes,
	}
}

func cleanMeta() core.ExtractorMetadata {
	return core.ExtractorMetadata{
		Vendor: "aws_textract", Model: "analyze-document", Version: "1.0",
		Confidence: 0.94, LatencyMS: 2400,
	}
}

func textractProvider() *database.ExtractorProvider {
	return &database.ExtractorProvider{
		Vendor:                "aws_textract",
		ConfidenceMultiplier:  1.00,
		SupportedElementTypes: []string{"text", "table", "form", "signature"},
		TypicalLatencyMS:      2500,
		IsKnown:               true,
	}
}

func TestCheck_CleanRequestIsQuiet(t *testing.T) {
	assert.Empty(t, Check(cleanFeatures(), cleanMeta(), textractProvider()))
}

func TestCheck_IsPure(t *testing.T) {
	a := Check(cleanFeatures(), cleanMeta(), textractProvider())
	b := Check(cleanFeatures(), cleanMeta(), textractProvider())
	assert.Equal(t, a, b)
}

func TestCompleteness_EmptyDocumentErrors(t *testing.T) {
	got := Check(core.StructuralFeatures{}, cleanMeta(), nil)
	assert.Contains(t, got, "ERROR: element_count is zero")
	assert.Contains(t, got, "ERROR: page_count is zero")
	assert.Contains(t, got, "WARN: no bounding boxes reported")
}

func TestCompleteness_LowBoxCoverage(t *testing.T) {
	f := cleanFeatures()
	f.ElementCount = 500 // 20 boxes / 500 elements = 4%
	got := Check(f, cleanMeta(), textractProvider())
	require.NotEmpty(t, got)
	assert.Contains(t, got[0], "bounding boxes cover only")
}

func TestLayout_ZeroAreaBoxesSummarisedAfterThree(t *testing.T) {
	f := cleanFeatures()
	for i := 0; i < 5; i++ {
		f.BoundingBoxes[i].Width = 0
	}
	got := Check(f, cleanMeta(), textractProvider())

	perInstance := 0
	summary := 0
	for _, a := range got {
		if strings.Contains(a, "zero-area bounding box at index") {
			perInstance++
		}
		if strings.Contains(a, "zero-area bounding boxes in total") {
			summary++
		}
	}
	assert.Equal(t, 3, perInstance)
	assert.Equal(t, 1, summary)
}

func TestLayout_OutOfBoundsBox(t *testing.T) {
	f := cleanFeatures()
	f.BoundingBoxes[0].X = 0.9
	f.BoundingBoxes[0].Width = 0.2 // extends to 1.1
	got := Check(f, cleanMeta(), textractProvider())
	require.Len(t, got, 1)
	assert.Contains(t, got[0], "extends beyond page bounds")
}

func TestLayout_SlightOverhangTolerated(t *testing.T) {
	f := cleanFeatures()
	f.BoundingBoxes[0].X = 0.2
	f.BoundingBoxes[0].Width = 0.805 // 1.005, inside the slack
	assert.Empty(t, Check(f, cleanMeta(), textractProvider()))
}

func TestProvider_UnsupportedElementTypesCapped(t *testing.T) {
	f := cleanFeatures()
	exotic := []string{"barcode", "stamp", "chart", "equation", "footnote", "watermark", "qr"}
	for i, et := range exotic {
		f.BoundingBoxes[i].ElementType = et
	}
	got := Check(f, cleanMeta(), textractProvider())
	require.Len(t, got, 1)
	assert.Contains(t, got[0], "not supported by aws_textract")
	assert.Contains(t, got[0], "+2 more")
}

func TestProvider_LatencyOutliers(t *testing.T) {
	meta := cleanMeta()
	meta.LatencyMS = 9000 // > 3x typical 2500
	got := Check(cleanFeatures(), meta, textractProvider())
	require.Len(t, got, 1)
	assert.Contains(t, got[0], "far above typical")

	meta.LatencyMS = 100 // < 0.1x typical
	got = Check(cleanFeatures(), meta, textractProvider())
	require.Len(t, got, 1)
	assert.Contains(t, got[0], "implausibly below typical")
}

func TestProvider_CalibratedConfidenceOverflow(t *testing.T) {
	p := textractProvider()
	p.ConfidenceMultiplier = 1.15
	got := Check(cleanFeatures(), cleanMeta(), p)
	require.Len(t, got, 1)
	assert.Contains(t, got[0], "exceeds 1.0")
}

func TestProvider_SkippedWhenUnknown(t *testing.T) {
	meta := cleanMeta()
	meta.LatencyMS = 99999
	assert.Empty(t, Check(cleanFeatures(), meta, nil))
}

func TestAnomalies(t *testing.T) {
	f := cleanFeatures()
	meta := cleanMeta()
	meta.Confidence = 0.4
	got := Check(f, meta, textractProvider())
	require.Len(t, got, 1)
	assert.Contains(t, got[0], "low confidence")

	f.ElementCount = 3
	meta.Confidence = 0.99
	got = Check(f, meta, textractProvider())
	require.Len(t, got, 1)
	assert.Contains(t, got[0], "high confidence")

	meta.Confidence = 1.0
	got = Check(cleanFeatures(), meta, textractProvider())
	require.Len(t, got, 1)
	assert.Contains(t, got[0], "perfect confidence")

	f = cleanFeatures()
	f.PageCount = 15
	f.TableCount = 0
	f.TextBlockCount = 10
	got = Check(f, cleanMeta(), textractProvider())
	require.Len(t, got, 1)
	assert.Contains(t, got[0], "almost no recognised structure")

	f = cleanFeatures()
	f.ColumnCount = 12
	got = Check(f, cleanMeta(), textractProvider())
	require.Len(t, got, 1)
	assert.Contains(t, got[0], "implausible column count")
}
