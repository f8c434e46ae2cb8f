// Package evaluate runs the core governance decision: match the layout,
// score drift and reliability, select correction rules, run safeguards,
// and persist the immutable evaluation record.
package evaluate

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/clearproof/preflight/internal/audit"
	"github.com/clearproof/preflight/internal/core"
	"github.com/clearproof/preflight/internal/database"
	"github.com/clearproof/preflight/internal/drift"
	"github.com/clearproof/preflight/internal/match"
	"github.com/clearproof/preflight/internal/metrics"
	"github.com/clearproof/preflight/internal/provider"
	"github.com/clearproof/preflight/internal/reliability"
	"github.com/clearproof/preflight/internal/rules"
	"github.com/clearproof/preflight/internal/safeguard"
)

// Decision confidence boundaries. Exactly 0.50 lands in REVIEW.
const (
	newBelow   = 0.50
	matchAbove = 0.85
)

// Orchestrator wires the scoring pipeline to persistence, audit and
// metrics.
type Orchestrator struct {
	store   *database.Store
	matcher *match.Matcher
	audit   *audit.Logger
	metrics *metrics.Metrics
	clock   core.Clock
	logger  *slog.Logger
}

func New(store *database.Store, matcher *match.Matcher, auditLog *audit.Logger, m *metrics.Metrics, clock core.Clock, logger *slog.Logger) *Orchestrator {
	return &Orchestrator{store: store, matcher: matcher, audit: auditLog, metrics: m, clock: clock, logger: logger}
}

// Evaluate executes the full decision pipeline inside one tenant-scoped
// transaction. The evaluation id is allocated up front so the replay hash
// is stable before the record is committed.
func (o *Orchestrator) Evaluate(ctx context.Context, p *core.Principal, req *core.EvaluateRequest, requestID string) (*core.EvaluateResponse, error) {
	start := time.Now()
	evaluationID := NewEvaluationID()

	var resp *core.EvaluateResponse
	err := o.store.WithTenant(ctx, p.TenantID, func(tx *sql.Tx) error {
		out, err := o.run(ctx, tx, p.TenantID, evaluationID, req, start)
		if err != nil {
			return err
		}
		resp = out
		return nil
	})
	if err != nil {
		return nil, err
	}

	o.audit.Log(ctx, audit.Event{
		Action:       audit.ActionEvaluationRequested,
		TenantID:     p.TenantID,
		ActorID:      p.APIKeyID,
		ResourceType: "evaluation",
		ResourceID:   evaluationID,
		RequestID:    requestID,
		Details: map[string]any{
			"correlation_id":     req.ClientCorrelationID,
			"decision":           string(resp.Decision),
			"processing_time_ms": elapsedMS(start),
		},
	})
	return resp, nil
}

func (o *Orchestrator) run(ctx context.Context, tx *sql.Tx, tenantID, evaluationID string, req *core.EvaluateRequest, start time.Time) (*core.EvaluateResponse, error) {
	t, conf, err := o.matcher.Match(ctx, tx, req.LayoutFingerprint, req.StructuralFeatures, tenantID)
	if err != nil {
		return nil, fmt.Errorf("match: %w", err)
	}

	decision := Decide(t != nil, conf)
	matched := decision != core.DecisionNew

	prov, err := provider.Resolve(ctx, tx, req.ExtractorMetadata.Vendor)
	if err != nil {
		return nil, err
	}

	var (
		driftScore       float64
		reliabilityScore float64
		selectedRules    = []core.CorrectionRule{}
		versionID        *string
	)
	if matched {
		driftScore = drift.Score(t.StructuralFeatures, req.StructuralFeatures)
		reliabilityScore = reliability.Score(reliability.Input{
			Baseline:      t.BaselineReliability,
			Confidence:    req.ExtractorMetadata.Confidence,
			Drift:         driftScore,
			ProviderKnown: prov != nil,
		})
		selectedRules = rules.Select(t.CorrectionRules, reliabilityScore)
		v := t.VersionID()
		versionID = &v
	}

	warnings := safeguard.Check(req.StructuralFeatures, req.ExtractorMetadata, prov)
	replayHash := ReplayHash(evaluationID, req.ClientDocHash, decision)

	record := &database.Evaluation{
		ID:                 evaluationID,
		TenantID:           tenantID,
		CorrelationID:      req.ClientCorrelationID,
		DocumentHash:       req.ClientDocHash,
		Decision:           decision,
		CorrectionRules:    selectedRules,
		ExtractorVendor:    req.ExtractorMetadata.Vendor,
		ExtractorModel:     req.ExtractorMetadata.Model,
		ExtractorVersion:   req.ExtractorMetadata.Version,
		ExtractorConf:      req.ExtractorMetadata.Confidence,
		ExtractorLatencyMS: req.ExtractorMetadata.LatencyMS,
		ExtractorCostUSD:   req.ExtractorMetadata.CostUSD,
		ValidationWarnings: warnings,
		ProcessingTimeMS:   elapsedMS(start),
		CreatedAt:          o.clock.Now(),
	}
	if matched {
		record.TemplateID = &t.ID
		record.MatchConfidence = &conf
		record.DriftScore = &driftScore
		record.ReliabilityScore = &reliabilityScore
	}
	if prov != nil {
		record.ProviderID = &prov.ID
	}
	if err := database.InsertEvaluation(ctx, tx, record); err != nil {
		return nil, err
	}

	o.metrics.ObserveDecision(string(decision), matched, driftScore, reliabilityScore)

	return &core.EvaluateResponse{
		Decision:          decision,
		TemplateVersionID: versionID,
		DriftScore:        driftScore,
		ReliabilityScore:  reliabilityScore,
		CorrectionRules:   selectedRules,
		ReplayHash:        replayHash,
		EvaluationID:      evaluationID,
		Alerts:            BuildAlerts(matched, driftScore, reliabilityScore, warnings),
	}, nil
}

// Decide maps match confidence onto a verdict. REJECT is reserved and
// never produced here.
func Decide(matched bool, conf float64) core.Decision {
	switch {
	case !matched || conf < newBelow:
		return core.DecisionNew
	case conf < matchAbove:
		return core.DecisionReview
	default:
		return core.DecisionMatch
	}
}

// ReplayHash binds an evaluation id, document hash and verdict into a
// client-verifiable digest.
func ReplayHash(evaluationID, docHash string, decision core.Decision) string {
	sum := sha256.Sum256([]byte(evaluationID + ":" + docHash + ":" + string(decision)))
	return hex.EncodeToString(sum[:])
}

// NewEvaluationID allocates a time-ordered UUID so the primary key indexes
// time ranges well. Falls back to v4 if the monotonic source fails.
func NewEvaluationID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}

// BuildAlerts assembles the response alert list. Score alerts only apply to
// matched decisions; a NEW document has no baseline to drift from.
func BuildAlerts(matched bool, driftScore, reliabilityScore float64, warnings []string) []string {
	alerts := []string{}
	if matched {
		if driftScore > core.HighDriftAlertThreshold {
			alerts = append(alerts, fmt.Sprintf("High drift detected: %.2f", driftScore))
		}
		if reliabilityScore < core.LowReliabilityAlertThreshold {
			alerts = append(alerts, fmt.Sprintf("Low reliability: %.2f", reliabilityScore))
		}
	}
	return append(alerts, warnings...)
}

func elapsedMS(start time.Time) float64 {
	return float64(time.Since(start)) / float64(time.Millisecond)
}
