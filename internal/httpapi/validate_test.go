package httpapi

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clearproof/preflight/internal/core"
)

const validHex = "a3f2b1c4d5e6f708192a3b4c5d6e7f8090a1b2c3d4e5f60718293a4b5c6d7e8f"

func validEvaluateBody() core.EvaluateRequest {
	return core.EvaluateRequest{
		LayoutFingerprint: validHex,
		ClientDocHash:     validHex,
		StructuralFeatures: core.StructuralFeatures{
			ElementCount:     120,
			TableCount:       2,
			TextBlockCount:   45,
			PageCount:        2,
			TextDensity:      0.42,
			LayoutComplexity: 0.55,
			ColumnCount:      2,
		},
		ExtractorMetadata: core.ExtractorMetadata{
			Vendor:     "aws_textract",
			Model:      "analyze-document",
			Version:    "1.0",
			Confidence: 0.94,
			LatencyMS:  2400,
		},
		ClientCorrelationID: "batch-42",
	}
}

func failedFields(details map[string]any) []string {
	if details == nil {
		return nil
	}
	errs := details["fields"].([]fieldError)
	out := make([]string, len(errs))
	for i, e := range errs {
		out[i] = e.Field
	}
	return out
}

func TestValidateEvaluateRequest_AcceptsWellFormedBody(t *testing.T) {
	req := validEvaluateBody()
	assert.Nil(t, validateEvaluateRequest(&req))
}

func TestValidateEvaluateRequest_FingerprintFormat(t *testing.T) {
	for _, bad := range []string{"", "short", strings.ToUpper(validHex), validHex + "00"} {
		req := validEvaluateBody()
		req.LayoutFingerprint = bad
		details := validateEvaluateRequest(&req)
		require.NotNil(t, details, "fingerprint %q must be rejected", bad)
		assert.Contains(t, failedFields(details), "layout_fingerprint")
	}
}

func TestValidateEvaluateRequest_DocHashFormat(t *testing.T) {
	req := validEvaluateBody()
	req.ClientDocHash = "zz"
	assert.Contains(t, failedFields(validateEvaluateRequest(&req)), "client_doc_hash")
}

func TestValidateEvaluateRequest_FeatureRanges(t *testing.T) {
	req := validEvaluateBody()
	req.StructuralFeatures.ElementCount = -1
	req.StructuralFeatures.PageCount = 0
	req.StructuralFeatures.LayoutComplexity = 1.5

	fields := failedFields(validateEvaluateRequest(&req))
	assert.Contains(t, fields, "structural_features.element_count")
	assert.Contains(t, fields, "structural_features.page_count")
	assert.Contains(t, fields, "structural_features.layout_complexity")
}

func TestValidateEvaluateRequest_BoundingBoxCap(t *testing.T) {
	req := validEvaluateBody()
	req.StructuralFeatures.BoundingBoxes = make([]core.BoundingBox, maxBoundingBoxes+1)
	assert.Contains(t, failedFields(validateEvaluateRequest(&req)), "structural_features.bounding_boxes")
}

func TestValidateEvaluateRequest_BoundingBoxRanges(t *testing.T) {
	req := validEvaluateBody()
	req.StructuralFeatures.BoundingBoxes = []core.BoundingBox{
		{X: 1.2, Y: 0, Width: 0.1, Height: 0.1, Confidence: 2, ElementType: strings.Repeat("t", 60), ReadingOrder: -1},
	}
	fields := failedFields(validateEvaluateRequest(&req))
	assert.Contains(t, fields, "structural_features.bounding_boxes[0]")
	assert.Contains(t, fields, "structural_features.bounding_boxes[0].element_type")
	assert.Contains(t, fields, "structural_features.bounding_boxes[0].confidence")
	assert.Contains(t, fields, "structural_features.bounding_boxes[0].reading_order")
}

func TestValidateEvaluateRequest_ExtractorFields(t *testing.T) {
	req := validEvaluateBody()
	req.ExtractorMetadata.Vendor = ""
	req.ExtractorMetadata.Confidence = -0.1
	req.ExtractorMetadata.LatencyMS = -1

	fields := failedFields(validateEvaluateRequest(&req))
	assert.Contains(t, fields, "extractor_metadata.vendor")
	assert.Contains(t, fields, "extractor_metadata.confidence")
	assert.Contains(t, fields, "extractor_metadata.latency_ms")
}

func TestValidateEvaluateRequest_CorrelationIDLength(t *testing.T) {
	req := validEvaluateBody()
	req.ClientCorrelationID = strings.Repeat("c", 256)
	assert.Contains(t, failedFields(validateEvaluateRequest(&req)), "client_correlation_id")
}

func TestValidateTemplateSpec(t *testing.T) {
	f := validEvaluateBody().StructuralFeatures
	baseline := func(v float64) *float64 { return &v }

	assert.Nil(t, validateTemplateSpec("INV-STD", "1.0", validHex, baseline(0.85), &f))
	assert.Nil(t, validateTemplateSpec("INV-STD", "1.0", "", baseline(0.85), &f), "fingerprint is optional")
	assert.Nil(t, validateTemplateSpec("INV-STD", "1.0", "", nil, &f), "baseline is optional")
	assert.Nil(t, validateTemplateSpec("INV-STD", "1.0", "", baseline(0), &f), "explicit zero baseline is legal")

	details := validateTemplateSpec("", "", "nothex", baseline(1.5), &f)
	fields := failedFields(details)
	assert.Contains(t, fields, "template_id")
	assert.Contains(t, fields, "version")
	assert.Contains(t, fields, "fingerprint")
	assert.Contains(t, fields, "baseline_reliability")
}
