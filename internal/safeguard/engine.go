// Package safeguard inspects an evaluate request for structural and
// extractor anomalies. Checks are pure: the same inputs always yield the
// same messages in the same order.
package safeguard

import (
	"fmt"
	"strings"

	"github.com/clearproof/preflight/internal/core"
	"github.com/clearproof/preflight/internal/database"
)

const (
	// Below this bbox-to-element ratio the extraction looks incomplete.
	minBoxCoverage = 0.10
	// Individual zero-area boxes are reported up to this many, then summarised.
	maxZeroAreaReports = 3
	// Unsupported element types are listed up to this many, then "+N more".
	maxUnsupportedListed = 5
	// Boxes may exceed the unit square by this much before we warn; some
	// extractors emit slightly out-of-range coordinates at page edges.
	boundsSlack = 0.01
)

// Check runs all safeguard families in a fixed order: completeness, layout,
// provider, anomalies. provider is nil when the vendor is not registered,
// which skips the provider family.
func Check(f core.StructuralFeatures, meta core.ExtractorMetadata, provider *database.ExtractorProvider) []string {
	var alerts []string
	alerts = append(alerts, completeness(f)...)
	alerts = append(alerts, layout(f)...)
	if provider != nil {
		alerts = append(alerts, providerChecks(f, meta, provider)...)
	}
	alerts = append(alerts, anomalies(f, meta)...)
	return alerts
}

func completeness(f core.StructuralFeatures) []string {
	var out []string
	if len(f.BoundingBoxes) == 0 {
		out = append(out, "WARN: no bounding boxes reported")
	}
	if f.ElementCount == 0 {
		out = append(out, "ERROR: element_count is zero")
	}
	if f.PageCount == 0 {
		out = append(out, "ERROR: page_count is zero")
	}
	if f.ElementCount > 0 && len(f.BoundingBoxes) > 0 {
		coverage := float64(len(f.BoundingBoxes)) / float64(f.ElementCount)
		if coverage < minBoxCoverage {
			out = append(out, fmt.Sprintf("WARN: bounding boxes cover only %.0f%% of elements", coverage*100))
		}
	}
	return out
}

func layout(f core.StructuralFeatures) []string {
	var out []string

	zeroArea := 0
	for i, b := range f.BoundingBoxes {
		if b.Width <= 0 || b.Height <= 0 {
			zeroArea++
			if zeroArea <= maxZeroAreaReports {
				out = append(out, fmt.Sprintf("WARN: zero-area bounding box at index %d", i))
			}
		}
		if b.X < -boundsSlack || b.Y < -boundsSlack ||
			b.X+b.Width > 1+boundsSlack || b.Y+b.Height > 1+boundsSlack {
			out = append(out, fmt.Sprintf("WARN: bounding box at index %d extends beyond page bounds", i))
		}
	}
	if zeroArea > maxZeroAreaReports {
		out = append(out, fmt.Sprintf("WARN: %d zero-area bounding boxes in total", zeroArea))
	}

	if f.LayoutComplexity > 0.95 {
		out = append(out, fmt.Sprintf("WARN: layout complexity %.2f is near maximum", f.LayoutComplexity))
	}
	if f.TextDensity == 0 && f.TextBlockCount > 0 {
		out = append(out, fmt.Sprintf("WARN: zero text density with %d text blocks", f.TextBlockCount))
	}
	return out
}

func providerChecks(f core.StructuralFeatures, meta core.ExtractorMetadata, p *database.ExtractorProvider) []string {
	var out []string

	if len(p.SupportedElementTypes) > 0 {
		supported := make(map[string]bool, len(p.SupportedElementTypes))
		for _, t := range p.SupportedElementTypes {
			supported[strings.ToLower(t)] = true
		}
		var unsupported []string
		seen := map[string]bool{}
		for _, b := range f.BoundingBoxes {
			t := strings.ToLower(b.ElementType)
			if t == "" || supported[t] || seen[t] {
				continue
			}
			seen[t] = true
			unsupported = append(unsupported, b.ElementType)
		}
		if len(unsupported) > 0 {
			listed := unsupported
			extra := ""
			if len(listed) > maxUnsupportedListed {
				extra = fmt.Sprintf(" +%d more", len(listed)-maxUnsupportedListed)
				listed = listed[:maxUnsupportedListed]
			}
			out = append(out, fmt.Sprintf("WARN: element types not supported by %s: %s%s",
				p.Vendor, strings.Join(listed, ", "), extra))
		}
	}

	if p.TypicalLatencyMS > 0 && meta.LatencyMS > 0 {
		if meta.LatencyMS > 3*p.TypicalLatencyMS {
			out = append(out, fmt.Sprintf("WARN: latency %.0fms far above typical %.0fms for %s",
				meta.LatencyMS, p.TypicalLatencyMS, p.Vendor))
		} else if meta.LatencyMS < 0.1*p.TypicalLatencyMS {
			out = append(out, fmt.Sprintf("WARN: latency %.0fms implausibly below typical %.0fms for %s",
				meta.LatencyMS, p.TypicalLatencyMS, p.Vendor))
		}
	}

	if meta.Confidence*p.ConfidenceMultiplier > 1.0 {
		out = append(out, fmt.Sprintf("WARN: calibrated confidence %.2f exceeds 1.0",
			meta.Confidence*p.ConfidenceMultiplier))
	}
	return out
}

func anomalies(f core.StructuralFeatures, meta core.ExtractorMetadata) []string {
	var out []string
	if meta.Confidence < 0.5 && f.ElementCount > 100 {
		out = append(out, fmt.Sprintf("WARN: low confidence %.2f despite %d elements", meta.Confidence, f.ElementCount))
	}
	if meta.Confidence > 0.95 && f.ElementCount < 5 {
		out = append(out, fmt.Sprintf("WARN: high confidence %.2f on only %d elements", meta.Confidence, f.ElementCount))
	}
	if meta.Confidence == 1.0 {
		out = append(out, "WARN: perfect confidence reported; extractor calibration suspect")
	}
	if f.PageCount > 10 && f.TableCount == 0 && f.TextBlockCount < 50 {
		out = append(out, fmt.Sprintf("WARN: %d pages with almost no recognised structure", f.PageCount))
	}
	if f.ColumnCount > 10 {
		out = append(out, fmt.Sprintf("WARN: implausible column count %d", f.ColumnCount))
	}
	return out
}
