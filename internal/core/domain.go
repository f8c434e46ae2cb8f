package core

import "time"

// Decision is the governance verdict for an evaluate request.
type Decision string

const (
	DecisionMatch  Decision = "MATCH"
	DecisionReview Decision = "REVIEW"
	DecisionNew    Decision = "NEW"
	// DecisionReject is reserved for future anomaly gating. No code path
	// currently produces it.
	DecisionReject Decision = "REJECT"
)

// BoundingBox is a normalized element region reported by an extractor.
// All coordinates are fractions of the page in [0,1].
type BoundingBox struct {
	X            float64 `json:"x"`
	Y            float64 `json:"y"`
	Width        float64 `json:"w"`
	Height       float64 `json:"h"`
	ElementType  string  `json:"element_type"`
	Confidence   float64 `json:"confidence"`
	ReadingOrder int     `json:"reading_order"`
}

// StructuralFeatures is the layout metadata a client sends instead of
// document content. It is the sole input to fingerprinting, matching,
// drift detection and safeguards.
type StructuralFeatures struct {
	ElementCount     int           `json:"element_count"`
	TableCount       int           `json:"table_count"`
	TextBlockCount   int           `json:"text_block_count"`
	ImageCount       int           `json:"image_count"`
	PageCount        int           `json:"page_count"`
	TextDensity      float64       `json:"text_density"`
	LayoutComplexity float64       `json:"layout_complexity"`
	ColumnCount      int           `json:"column_count"`
	HasHeader        bool          `json:"has_header"`
	HasFooter        bool          `json:"has_footer"`
	BoundingBoxes    []BoundingBox `json:"bounding_boxes,omitempty"`
}

// ExtractorMetadata identifies the upstream OCR/IDP run.
type ExtractorMetadata struct {
	Vendor     string  `json:"vendor"`
	Model      string  `json:"model"`
	Version    string  `json:"version"`
	Confidence float64 `json:"confidence"`
	LatencyMS  float64 `json:"latency_ms"`
	CostUSD    float64 `json:"cost_usd,omitempty"`
}

// CorrectionRule names a downstream transformation for a field ("*" for all).
type CorrectionRule struct {
	Field      string         `json:"field"`
	Rule       string         `json:"rule"`
	Parameters map[string]any `json:"parameters,omitempty"`
}

// EvaluateRequest is the body of POST /v1/evaluate.
type EvaluateRequest struct {
	LayoutFingerprint   string             `json:"layout_fingerprint"`
	StructuralFeatures  StructuralFeatures `json:"structural_features"`
	ExtractorMetadata   ExtractorMetadata  `json:"extractor_metadata"`
	ClientDocHash       string             `json:"client_doc_hash"`
	ClientCorrelationID string             `json:"client_correlation_id"`
	PipelineID          string             `json:"pipeline_id"`
}

// EvaluateResponse is the governance decision returned to the client.
type EvaluateResponse struct {
	Decision          Decision         `json:"decision"`
	TemplateVersionID *string          `json:"template_version_id"`
	DriftScore        float64          `json:"drift_score"`
	ReliabilityScore  float64          `json:"reliability_score"`
	CorrectionRules   []CorrectionRule `json:"correction_rules"`
	ReplayHash        string           `json:"replay_hash"`
	EvaluationID      string           `json:"evaluation_id"`
	Alerts            []string         `json:"alerts"`
}

// TemplateStatus is the lifecycle state of a learned template.
type TemplateStatus string

const (
	TemplateActive     TemplateStatus = "ACTIVE"
	TemplateDeprecated TemplateStatus = "DEPRECATED"
	TemplateReview     TemplateStatus = "REVIEW"
)

// Principal is the authenticated identity attached to a request after
// API-key validation.
type Principal struct {
	TenantID   string
	TenantName string
	APIKeyID   string
	APIKeyName string
	Scopes     []string
	RateLimit  int
}

// HasScope reports whether the principal carries the scope. The wildcard
// scope "*" grants everything.
func (p *Principal) HasScope(scope string) bool {
	for _, s := range p.Scopes {
		if s == scope || s == "*" {
			return true
		}
	}
	return false
}

// IsAdmin reports whether the principal may reach admin endpoints.
func (p *Principal) IsAdmin() bool { return p.HasScope("admin") }

// IsSuperAdmin reports whether the principal may act across tenants.
func (p *Principal) IsSuperAdmin() bool { return p.HasScope("superadmin") }

// Alert thresholds applied when building the response alert list.
const (
	HighDriftAlertThreshold      = 0.30
	LowReliabilityAlertThreshold = 0.80
)

// Clock is the timestamp type used across persisted records.
type Clock interface {
	Now() time.Time
}

// SystemClock is the production Clock.
type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now().UTC() }
