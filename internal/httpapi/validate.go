package httpapi

import (
	"fmt"
	"regexp"

	"github.com/clearproof/preflight/internal/core"
)

var hex64 = regexp.MustCompile(`^[0-9a-f]{64}$`)

const maxBoundingBoxes = 1000

// fieldError accumulates per-field validation failures for the envelope.
type fieldError struct {
	Field  string `json:"field"`
	Reason string `json:"reason"`
}

type validator struct {
	errs []fieldError
}

func (v *validator) fail(field, format string, args ...any) {
	v.errs = append(v.errs, fieldError{Field: field, Reason: fmt.Sprintf(format, args...)})
}

func (v *validator) details() map[string]any {
	if len(v.errs) == 0 {
		return nil
	}
	return map[string]any{"fields": v.errs}
}

// validateEvaluateRequest enforces the body schema. It returns nil when the
// request is well formed.
func validateEvaluateRequest(req *core.EvaluateRequest) map[string]any {
	v := &validator{}

	if !hex64.MatchString(req.LayoutFingerprint) {
		v.fail("layout_fingerprint", "must be 64 lowercase hex characters")
	}
	if !hex64.MatchString(req.ClientDocHash) {
		v.fail("client_doc_hash", "must be 64 lowercase hex characters")
	}
	if len(req.ClientCorrelationID) > 255 {
		v.fail("client_correlation_id", "must be at most 255 characters")
	}
	if len(req.PipelineID) > 255 {
		v.fail("pipeline_id", "must be at most 255 characters")
	}

	validateFeatures(v, &req.StructuralFeatures)
	validateExtractor(v, &req.ExtractorMetadata)

	return v.details()
}

func validateFeatures(v *validator, f *core.StructuralFeatures) {
	nonNegative(v, "structural_features.element_count", f.ElementCount)
	nonNegative(v, "structural_features.table_count", f.TableCount)
	nonNegative(v, "structural_features.text_block_count", f.TextBlockCount)
	nonNegative(v, "structural_features.image_count", f.ImageCount)
	nonNegative(v, "structural_features.column_count", f.ColumnCount)
	if f.PageCount < 1 {
		v.fail("structural_features.page_count", "must be at least 1")
	}
	if f.TextDensity < 0 {
		v.fail("structural_features.text_density", "must be non-negative")
	}
	if f.LayoutComplexity < 0 || f.LayoutComplexity > 1 {
		v.fail("structural_features.layout_complexity", "must be in [0,1]")
	}
	if len(f.BoundingBoxes) > maxBoundingBoxes {
		v.fail("structural_features.bounding_boxes", "at most %d entries", maxBoundingBoxes)
		return
	}
	for i, b := range f.BoundingBoxes {
		field := fmt.Sprintf("structural_features.bounding_boxes[%d]", i)
		if b.X < 0 || b.X > 1 || b.Y < 0 || b.Y > 1 || b.Width < 0 || b.Width > 1 || b.Height < 0 || b.Height > 1 {
			v.fail(field, "coordinates must be in [0,1]")
		}
		if len(b.ElementType) > 50 {
			v.fail(field+".element_type", "must be at most 50 characters")
		}
		if b.Confidence < 0 || b.Confidence > 1 {
			v.fail(field+".confidence", "must be in [0,1]")
		}
		if b.ReadingOrder < 0 {
			v.fail(field+".reading_order", "must be non-negative")
		}
	}
}

func validateExtractor(v *validator, m *core.ExtractorMetadata) {
	if m.Vendor == "" || len(m.Vendor) > 100 {
		v.fail("extractor_metadata.vendor", "required, at most 100 characters")
	}
	if len(m.Model) > 100 {
		v.fail("extractor_metadata.model", "must be at most 100 characters")
	}
	if len(m.Version) > 50 {
		v.fail("extractor_metadata.version", "must be at most 50 characters")
	}
	if m.Confidence < 0 || m.Confidence > 1 {
		v.fail("extractor_metadata.confidence", "must be in [0,1]")
	}
	if m.LatencyMS < 0 {
		v.fail("extractor_metadata.latency_ms", "must be non-negative")
	}
	if m.CostUSD < 0 {
		v.fail("extractor_metadata.cost_usd", "must be non-negative")
	}
}

func nonNegative(v *validator, field string, n int) {
	if n < 0 {
		v.fail(field, "must be non-negative")
	}
}

// validateTemplateSpec checks the template registration body. A nil
// baseline means the field was omitted and the default applies.
func validateTemplateSpec(templateID, version, fingerprint string, baseline *float64, f *core.StructuralFeatures) map[string]any {
	v := &validator{}
	if templateID == "" || len(templateID) > 255 {
		v.fail("template_id", "required, at most 255 characters")
	}
	if version == "" || len(version) > 50 {
		v.fail("version", "required, at most 50 characters")
	}
	if fingerprint != "" && !hex64.MatchString(fingerprint) {
		v.fail("fingerprint", "must be 64 lowercase hex characters")
	}
	if baseline != nil && (*baseline < 0 || *baseline > 1) {
		v.fail("baseline_reliability", "must be in [0,1]")
	}
	validateFeatures(v, f)
	return v.details()
}
