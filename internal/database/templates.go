package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/lib/pq"

	"github.com/clearproof/preflight/internal/core"
)

const templateColumns = `id, tenant_id, template_id, version, fingerprint,
	structural_features, baseline_reliability, correction_rules, status,
	created_at, created_by`

// CreateTemplate inserts a template inside a tenant-scoped transaction.
// A concurrent duplicate of (tenant_id, template_id, version) surfaces as
// *ErrDuplicate.
func CreateTemplate(ctx context.Context, tx *sql.Tx, t *Template) error {
	features, err := json.Marshal(t.StructuralFeatures)
	if err != nil {
		return fmt.Errorf("marshal features: %w", err)
	}
	rules, err := json.Marshal(t.CorrectionRules)
	if err != nil {
		return fmt.Errorf("marshal rules: %w", err)
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO templates (id, tenant_id, template_id, version, fingerprint,
			structural_features, baseline_reliability, correction_rules, status,
			created_at, created_by)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		t.ID, t.TenantID, t.TemplateID, t.Version, t.Fingerprint,
		features, t.BaselineReliability, rules, t.Status, t.CreatedAt, t.CreatedBy)
	if constraint, ok := isUniqueViolation(err); ok {
		return &ErrDuplicate{Constraint: constraint}
	}
	if err != nil {
		return fmt.Errorf("insert template: %w", err)
	}
	return nil
}

// GetTemplate fetches one template by primary key under the current scope.
func GetTemplate(ctx context.Context, tx *sql.Tx, id string) (*Template, error) {
	row := tx.QueryRowContext(ctx,
		`SELECT `+templateColumns+` FROM templates WHERE id = $1`, id)
	return scanTemplate(row)
}

// GetActiveTemplateByFingerprint returns the ACTIVE template whose
// fingerprint matches exactly, or ErrNotFound.
func GetActiveTemplateByFingerprint(ctx context.Context, tx *sql.Tx, fingerprint string) (*Template, error) {
	row := tx.QueryRowContext(ctx, `
		SELECT `+templateColumns+` FROM templates
		WHERE fingerprint = $1 AND status = 'ACTIVE'
		ORDER BY created_at DESC LIMIT 1`, fingerprint)
	return scanTemplate(row)
}

// ListActiveTemplates returns all ACTIVE templates under the current scope,
// ordered for deterministic matching.
func ListActiveTemplates(ctx context.Context, tx *sql.Tx) ([]*Template, error) {
	rows, err := tx.QueryContext(ctx, `
		SELECT `+templateColumns+` FROM templates
		WHERE status = 'ACTIVE' ORDER BY template_id, version`)
	if err != nil {
		return nil, fmt.Errorf("list active templates: %w", err)
	}
	defer rows.Close()
	return scanTemplates(rows)
}

// ListTemplates pages templates, optionally filtered by status.
func ListTemplates(ctx context.Context, tx *sql.Tx, status string, limit, offset int) ([]*Template, error) {
	var (
		rows *sql.Rows
		err  error
	)
	if status != "" {
		rows, err = tx.QueryContext(ctx, `
			SELECT `+templateColumns+` FROM templates
			WHERE status = $1 ORDER BY created_at DESC LIMIT $2 OFFSET $3`,
			status, limit, offset)
	} else {
		rows, err = tx.QueryContext(ctx, `
			SELECT `+templateColumns+` FROM templates
			ORDER BY created_at DESC LIMIT $1 OFFSET $2`, limit, offset)
	}
	if err != nil {
		return nil, fmt.Errorf("list templates: %w", err)
	}
	defer rows.Close()
	return scanTemplates(rows)
}

// ListTemplatesByIDs resolves a candidate set (from the LSH index) to rows,
// keeping only ACTIVE ones.
func ListTemplatesByIDs(ctx context.Context, tx *sql.Tx, ids []string) ([]*Template, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	rows, err := tx.QueryContext(ctx, `
		SELECT `+templateColumns+` FROM templates
		WHERE id = ANY($1) AND status = 'ACTIVE'
		ORDER BY template_id, version`, pq.Array(ids))
	if err != nil {
		return nil, fmt.Errorf("list templates by ids: %w", err)
	}
	defer rows.Close()
	return scanTemplates(rows)
}

// UpdateTemplate persists baseline_reliability and/or correction_rules.
func UpdateTemplate(ctx context.Context, tx *sql.Tx, id string, baseline *float64, rules []core.CorrectionRule) error {
	if baseline != nil {
		res, err := tx.ExecContext(ctx,
			`UPDATE templates SET baseline_reliability = $1 WHERE id = $2`, *baseline, id)
		if err != nil {
			return fmt.Errorf("update baseline: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return ErrNotFound
		}
	}
	if rules != nil {
		blob, err := json.Marshal(rules)
		if err != nil {
			return fmt.Errorf("marshal rules: %w", err)
		}
		res, err := tx.ExecContext(ctx,
			`UPDATE templates SET correction_rules = $1 WHERE id = $2`, blob, id)
		if err != nil {
			return fmt.Errorf("update rules: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return ErrNotFound
		}
	}
	return nil
}

// UpdateTemplateStatus transitions the lifecycle state.
func UpdateTemplateStatus(ctx context.Context, tx *sql.Tx, id string, status core.TemplateStatus) error {
	res, err := tx.ExecContext(ctx,
		`UPDATE templates SET status = $1 WHERE id = $2`, status, id)
	if err != nil {
		return fmt.Errorf("update template status: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTemplate(row rowScanner) (*Template, error) {
	var (
		t        Template
		features []byte
		rules    []byte
	)
	err := row.Scan(&t.ID, &t.TenantID, &t.TemplateID, &t.Version, &t.Fingerprint,
		&features, &t.BaselineReliability, &rules, &t.Status, &t.CreatedAt, &t.CreatedBy)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan template: %w", err)
	}
	if err := json.Unmarshal(features, &t.StructuralFeatures); err != nil {
		return nil, fmt.Errorf("decode features: %w", err)
	}
	if err := json.Unmarshal(rules, &t.CorrectionRules); err != nil {
		return nil, fmt.Errorf("decode rules: %w", err)
	}
	return &t, nil
}

func scanTemplates(rows *sql.Rows) ([]*Template, error) {
	var out []*Template
	for rows.Next() {
		t, err := scanTemplate(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}
