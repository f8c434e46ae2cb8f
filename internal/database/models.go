package database

import (
	"time"

	"github.com/clearproof/preflight/internal/core"
)

// Tenant is an organization boundary. Deletion is soft: revoke all keys.
type Tenant struct {
	ID        string         `json:"id"`
	Name      string         `json:"name"`
	Settings  map[string]any `json:"settings"`
	CreatedAt time.Time      `json:"created_at"`
}

// APIKey is an authentication principal. The clear key (cp_ + 32 hex) is
// shown exactly once at creation; only the salted SHA-256 is stored.
type APIKey struct {
	ID         string     `json:"id"`
	TenantID   string     `json:"tenant_id"`
	KeyHash    string     `json:"-"`
	KeyPrefix  string     `json:"key_prefix"`
	Name       string     `json:"name"`
	Scopes     []string   `json:"scopes"`
	RateLimit  int        `json:"rate_limit"`
	CreatedAt  time.Time  `json:"created_at"`
	LastUsedAt *time.Time `json:"last_used_at,omitempty"`
	RevokedAt  *time.Time `json:"revoked_at,omitempty"`
}

// IsActive reports whether the key may authenticate.
func (k *APIKey) IsActive() bool { return k.RevokedAt == nil }

// User is a dashboard principal, authenticated by email + bcrypt password.
type User struct {
	ID           string     `json:"id"`
	TenantID     string     `json:"tenant_id"`
	Email        string     `json:"email"`
	PasswordHash string     `json:"-"`
	Role         string     `json:"role"`
	IsActive     bool       `json:"is_active"`
	CreatedAt    time.Time  `json:"created_at"`
	LastLoginAt  *time.Time `json:"last_login_at,omitempty"`
}

// ExtractorProvider is a registry row describing a known OCR/IDP vendor.
// Lookup is case-insensitive on Vendor.
type ExtractorProvider struct {
	ID                    string   `json:"id"`
	Vendor                string   `json:"vendor"`
	DisplayName           string   `json:"display_name"`
	ConfidenceMultiplier  float64  `json:"confidence_multiplier"`
	DriftSensitivity      float64  `json:"drift_sensitivity"`
	SupportedElementTypes []string `json:"supported_element_types"`
	TypicalLatencyMS      float64  `json:"typical_latency_ms"`
	IsActive              bool     `json:"is_active"`
	IsKnown               bool     `json:"is_known"`
}

// Template is a learned document archetype. Unique on
// (tenant_id, template_id, version); only ACTIVE templates match.
type Template struct {
	ID                  string                  `json:"id"`
	TenantID            string                  `json:"tenant_id"`
	TemplateID          string                  `json:"template_id"`
	Version             string                  `json:"version"`
	Fingerprint         string                  `json:"fingerprint"`
	StructuralFeatures  core.StructuralFeatures `json:"structural_features"`
	BaselineReliability float64                 `json:"baseline_reliability"`
	CorrectionRules     []core.CorrectionRule   `json:"correction_rules"`
	Status              core.TemplateStatus     `json:"status"`
	CreatedAt           time.Time               `json:"created_at"`
	CreatedBy           *string                 `json:"created_by,omitempty"`
}

// VersionID is the "{template_id}:{version}" identifier returned to clients.
func (t *Template) VersionID() string { return t.TemplateID + ":" + t.Version }

// Evaluation is the immutable record of a governance decision.
type Evaluation struct {
	ID                 string                `json:"id"`
	TenantID           string                `json:"tenant_id"`
	CorrelationID      string                `json:"correlation_id"`
	DocumentHash       string                `json:"document_hash"`
	TemplateID         *string               `json:"template_id,omitempty"`
	Decision           core.Decision         `json:"decision"`
	MatchConfidence    *float64              `json:"match_confidence,omitempty"`
	DriftScore         *float64              `json:"drift_score,omitempty"`
	ReliabilityScore   *float64              `json:"reliability_score,omitempty"`
	CorrectionRules    []core.CorrectionRule `json:"correction_rules"`
	ExtractorVendor    string                `json:"extractor_vendor"`
	ExtractorModel     string                `json:"extractor_model"`
	ExtractorVersion   string                `json:"extractor_version"`
	ExtractorConf      float64               `json:"extractor_confidence"`
	ExtractorLatencyMS float64               `json:"extractor_latency_ms"`
	ExtractorCostUSD   float64               `json:"extractor_cost_usd"`
	ProviderID         *string               `json:"provider_id,omitempty"`
	ValidationWarnings []string              `json:"validation_warnings"`
	ProcessingTimeMS   float64               `json:"processing_time_ms"`
	CreatedAt          time.Time             `json:"created_at"`
}

// AuditEntry is an append-only audit row. Deliberately not tenant-scoped so
// admin tooling can see cross-tenant activity through an unscoped session.
type AuditEntry struct {
	ID           int64          `json:"id"`
	Timestamp    time.Time      `json:"timestamp"`
	TenantID     *string        `json:"tenant_id,omitempty"`
	ActorID      *string        `json:"actor_id,omitempty"`
	Action       string         `json:"action"`
	ResourceType *string        `json:"resource_type,omitempty"`
	ResourceID   *string        `json:"resource_id,omitempty"`
	Details      map[string]any `json:"details,omitempty"`
	IPAddress    *string        `json:"ip_address,omitempty"`
	RequestID    *string        `json:"request_id,omitempty"`
}
