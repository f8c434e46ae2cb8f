// Package provider resolves extractor vendors against the seeded registry.
package provider

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/clearproof/preflight/internal/database"
)

// Resolve looks up a vendor case-insensitively. An unregistered or inactive
// vendor returns (nil, nil): callers treat that as an unknown provider and
// apply the calibration penalty instead of failing the request.
func Resolve(ctx context.Context, tx *sql.Tx, vendor string) (*database.ExtractorProvider, error) {
	if vendor == "" {
		return nil, nil
	}
	p, err := database.GetProviderByVendor(ctx, tx, vendor)
	if errors.Is(err, database.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("resolve provider %q: %w", vendor, err)
	}
	if !p.IsActive || !p.IsKnown {
		return nil, nil
	}
	return p, nil
}
