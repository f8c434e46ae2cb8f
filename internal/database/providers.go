package database

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/lib/pq"
)

const providerColumns = `id, vendor, display_name, confidence_multiplier,
	drift_sensitivity, supported_element_types, typical_latency_ms,
	is_active, is_known`

// GetProviderByVendor resolves an extractor vendor case-insensitively.
func GetProviderByVendor(ctx context.Context, tx *sql.Tx, vendor string) (*ExtractorProvider, error) {
	row := tx.QueryRowContext(ctx, `
		SELECT `+providerColumns+` FROM extractor_providers
		WHERE lower(vendor) = lower($1)`, vendor)
	return scanProvider(row)
}

// ListProviders returns the registry, active first.
func ListProviders(ctx context.Context, tx *sql.Tx) ([]*ExtractorProvider, error) {
	rows, err := tx.QueryContext(ctx, `
		SELECT `+providerColumns+` FROM extractor_providers
		ORDER BY is_active DESC, vendor`)
	if err != nil {
		return nil, fmt.Errorf("list providers: %w", err)
	}
	defer rows.Close()

	var out []*ExtractorProvider
	for rows.Next() {
		p, err := scanProvider(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func scanProvider(row rowScanner) (*ExtractorProvider, error) {
	var p ExtractorProvider
	err := row.Scan(&p.ID, &p.Vendor, &p.DisplayName, &p.ConfidenceMultiplier,
		&p.DriftSensitivity, pq.Array(&p.SupportedElementTypes),
		&p.TypicalLatencyMS, &p.IsActive, &p.IsKnown)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan provider: %w", err)
	}
	return &p, nil
}
