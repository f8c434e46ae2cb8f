package match

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"github.com/clearproof/preflight/internal/core"
	"github.com/clearproof/preflight/internal/database"
	"github.com/clearproof/preflight/internal/lsh"
)

// SimilarityThreshold is the minimum cosine similarity for a non-exact
// match. Below it the document is treated as a new archetype.
const SimilarityThreshold = 0.50

// lshCandidateLimit bounds how many index hits are hydrated from the store.
const lshCandidateLimit = 20

// Matcher resolves a request's features to an active template. Exact
// fingerprint hits return confidence 1.0; otherwise the best cosine
// similarity over the candidate set decides.
type Matcher struct {
	index  *lsh.Index
	logger *slog.Logger
}

// NewMatcher builds a matcher. index may be nil in deployments without a
// shared cache; every lookup then scans the tenant's active templates.
func NewMatcher(index *lsh.Index, logger *slog.Logger) *Matcher {
	return &Matcher{index: index, logger: logger}
}

// Match runs inside the caller's tenant-scoped transaction. It returns
// (nil, 0) when nothing clears the similarity threshold.
func (m *Matcher) Match(ctx context.Context, tx *sql.Tx, fingerprint string, features core.StructuralFeatures, tenantID string) (*database.Template, float64, error) {
	// 1. Exact fingerprint.
	t, err := database.GetActiveTemplateByFingerprint(ctx, tx, fingerprint)
	if err == nil {
		return t, 1.0, nil
	}
	if !errors.Is(err, database.ErrNotFound) {
		return nil, 0, fmt.Errorf("exact match lookup: %w", err)
	}

	// 2. Candidate set: LSH when available, full scan otherwise.
	candidates, err := m.candidates(ctx, tx, features, tenantID)
	if err != nil {
		return nil, 0, err
	}
	if len(candidates) == 0 {
		return nil, 0, nil
	}

	// 3. Cosine similarity in feature space.
	query := FeatureVector(features)
	var (
		best    *database.Template
		bestSim float64
	)
	for _, c := range candidates {
		sim := Cosine(query, FeatureVector(c.StructuralFeatures))
		if sim > bestSim {
			best, bestSim = c, sim
		}
	}

	// 4. Threshold.
	if bestSim >= SimilarityThreshold {
		return best, bestSim, nil
	}
	return nil, 0, nil
}

func (m *Matcher) candidates(ctx context.Context, tx *sql.Tx, features core.StructuralFeatures, tenantID string) ([]*database.Template, error) {
	if m.index != nil {
		hits, err := m.index.Query(ctx, features, lshCandidateLimit, tenantID)
		if err == nil && len(hits) > 0 {
			ids := make([]string, len(hits))
			for i, h := range hits {
				ids[i] = h.TemplateID
			}
			templates, err := database.ListTemplatesByIDs(ctx, tx, ids)
			if err != nil {
				return nil, fmt.Errorf("hydrate lsh candidates: %w", err)
			}
			if len(templates) > 0 {
				return templates, nil
			}
			// Index pointed only at rows no longer active; fall through.
		}
		if err != nil && !errors.Is(err, lsh.ErrUnavailable) {
			return nil, fmt.Errorf("lsh query: %w", err)
		}
		if errors.Is(err, lsh.ErrUnavailable) {
			m.logger.Warn("lsh index unavailable, falling back to full scan")
		}
	}

	templates, err := database.ListActiveTemplates(ctx, tx)
	if err != nil {
		return nil, fmt.Errorf("scan active templates: %w", err)
	}
	return templates, nil
}

// IndexTemplate registers a created or re-activated template in the LSH
// index. Best-effort: an unreachable index only costs query speed.
func (m *Matcher) IndexTemplate(ctx context.Context, t *database.Template) {
	if m.index == nil {
		return
	}
	if err := m.index.Add(ctx, t.ID, t.TenantID, t.StructuralFeatures); err != nil {
		m.logger.Warn("template indexing failed", "template_id", t.ID, "error", err)
	}
}

// UnindexTemplate removes a deprecated template from the LSH index.
func (m *Matcher) UnindexTemplate(ctx context.Context, t *database.Template) {
	if m.index == nil {
		return
	}
	if err := m.index.Remove(ctx, t.ID); err != nil {
		m.logger.Warn("template unindexing failed", "template_id", t.ID, "error", err)
	}
}
