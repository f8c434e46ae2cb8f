package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
)

const evaluationColumns = `id, tenant_id, correlation_id, document_hash,
	template_id, decision, match_confidence, drift_score, reliability_score,
	correction_rules, extractor_vendor, extractor_model, extractor_version,
	extractor_confidence, extractor_latency_ms, extractor_cost_usd,
	provider_id, validation_warnings, processing_time_ms, created_at`

// InsertEvaluation appends an immutable decision record inside a
// tenant-scoped transaction.
func InsertEvaluation(ctx context.Context, tx *sql.Tx, e *Evaluation) error {
	rules, err := json.Marshal(e.CorrectionRules)
	if err != nil {
		return fmt.Errorf("marshal rules: %w", err)
	}
	warnings, err := json.Marshal(e.ValidationWarnings)
	if err != nil {
		return fmt.Errorf("marshal warnings: %w", err)
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO evaluations (id, tenant_id, correlation_id, document_hash,
			template_id, decision, match_confidence, drift_score, reliability_score,
			correction_rules, extractor_vendor, extractor_model, extractor_version,
			extractor_confidence, extractor_latency_ms, extractor_cost_usd,
			provider_id, validation_warnings, processing_time_ms, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20)`,
		e.ID, e.TenantID, e.CorrelationID, e.DocumentHash,
		e.TemplateID, e.Decision, e.MatchConfidence, e.DriftScore, e.ReliabilityScore,
		rules, e.ExtractorVendor, e.ExtractorModel, e.ExtractorVersion,
		e.ExtractorConf, e.ExtractorLatencyMS, e.ExtractorCostUSD,
		e.ProviderID, warnings, e.ProcessingTimeMS, e.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert evaluation: %w", err)
	}
	return nil
}

// GetEvaluation fetches one decision record under the current scope.
func GetEvaluation(ctx context.Context, tx *sql.Tx, id string) (*Evaluation, error) {
	row := tx.QueryRowContext(ctx,
		`SELECT `+evaluationColumns+` FROM evaluations WHERE id = $1`, id)
	return scanEvaluation(row)
}

// ListEvaluations pages the tenant's decision history, newest first.
func ListEvaluations(ctx context.Context, tx *sql.Tx, limit, offset int) ([]*Evaluation, error) {
	rows, err := tx.QueryContext(ctx, `
		SELECT `+evaluationColumns+` FROM evaluations
		ORDER BY created_at DESC LIMIT $1 OFFSET $2`, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list evaluations: %w", err)
	}
	defer rows.Close()

	var out []*Evaluation
	for rows.Next() {
		e, err := scanEvaluation(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func scanEvaluation(row rowScanner) (*Evaluation, error) {
	var (
		e        Evaluation
		rules    []byte
		warnings []byte
	)
	err := row.Scan(&e.ID, &e.TenantID, &e.CorrelationID, &e.DocumentHash,
		&e.TemplateID, &e.Decision, &e.MatchConfidence, &e.DriftScore, &e.ReliabilityScore,
		&rules, &e.ExtractorVendor, &e.ExtractorModel, &e.ExtractorVersion,
		&e.ExtractorConf, &e.ExtractorLatencyMS, &e.ExtractorCostUSD,
		&e.ProviderID, &warnings, &e.ProcessingTimeMS, &e.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan evaluation: %w", err)
	}
	if err := json.Unmarshal(rules, &e.CorrectionRules); err != nil {
		return nil, fmt.Errorf("decode rules: %w", err)
	}
	if err := json.Unmarshal(warnings, &e.ValidationWarnings); err != nil {
		return nil, fmt.Errorf("decode warnings: %w", err)
	}
	return &e, nil
}
