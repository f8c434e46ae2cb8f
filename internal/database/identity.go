package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"
)

// Identity queries run through unscoped sessions: API-key and login lookups
// happen before a tenant context exists, and superadmin tooling acts across
// tenants.

// CreateTenant inserts a tenant.
func CreateTenant(ctx context.Context, tx *sql.Tx, t *Tenant) error {
	settings, err := json.Marshal(t.Settings)
	if err != nil {
		return fmt.Errorf("marshal settings: %w", err)
	}
	_, err = tx.ExecContext(ctx,
		`INSERT INTO tenants (id, name, settings, created_at) VALUES ($1, $2, $3, $4)`,
		t.ID, t.Name, settings, t.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert tenant: %w", err)
	}
	return nil
}

// GetTenant fetches a tenant by id.
func GetTenant(ctx context.Context, tx *sql.Tx, id string) (*Tenant, error) {
	var (
		t        Tenant
		settings []byte
	)
	err := tx.QueryRowContext(ctx,
		`SELECT id, name, settings, created_at FROM tenants WHERE id = $1`, id).
		Scan(&t.ID, &t.Name, &settings, &t.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get tenant: %w", err)
	}
	if err := json.Unmarshal(settings, &t.Settings); err != nil {
		return nil, fmt.Errorf("decode settings: %w", err)
	}
	return &t, nil
}

// ListTenants pages all tenants (superadmin only at the HTTP layer).
func ListTenants(ctx context.Context, tx *sql.Tx, limit, offset int) ([]*Tenant, error) {
	rows, err := tx.QueryContext(ctx,
		`SELECT id, name, settings, created_at FROM tenants
		 ORDER BY created_at DESC LIMIT $1 OFFSET $2`, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list tenants: %w", err)
	}
	defer rows.Close()

	var out []*Tenant
	for rows.Next() {
		var (
			t        Tenant
			settings []byte
		)
		if err := rows.Scan(&t.ID, &t.Name, &settings, &t.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan tenant: %w", err)
		}
		if err := json.Unmarshal(settings, &t.Settings); err != nil {
			return nil, fmt.Errorf("decode settings: %w", err)
		}
		out = append(out, &t)
	}
	return out, rows.Err()
}

const apiKeyColumns = `id, tenant_id, key_hash, key_prefix, name, scopes,
	rate_limit, created_at, last_used_at, revoked_at`

// CreateAPIKey inserts a key row. The clear key never reaches this layer.
func CreateAPIKey(ctx context.Context, tx *sql.Tx, k *APIKey) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO api_keys (id, tenant_id, key_hash, key_prefix, name, scopes,
			rate_limit, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		k.ID, k.TenantID, k.KeyHash, k.KeyPrefix, k.Name, pq.Array(k.Scopes),
		k.RateLimit, k.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert api key: %w", err)
	}
	return nil
}

// GetAPIKeyByHash looks a key up by (hash, prefix). Revoked keys are
// returned so the caller can distinguish "revoked" from "invalid".
func GetAPIKeyByHash(ctx context.Context, tx *sql.Tx, hash, prefix string) (*APIKey, error) {
	row := tx.QueryRowContext(ctx, `
		SELECT `+apiKeyColumns+` FROM api_keys
		WHERE key_hash = $1 AND key_prefix = $2`, hash, prefix)
	return scanAPIKey(row)
}

// GetAPIKey fetches a key by id.
func GetAPIKey(ctx context.Context, tx *sql.Tx, id string) (*APIKey, error) {
	row := tx.QueryRowContext(ctx,
		`SELECT `+apiKeyColumns+` FROM api_keys WHERE id = $1`, id)
	return scanAPIKey(row)
}

// ListAPIKeys returns a tenant's keys, newest first.
func ListAPIKeys(ctx context.Context, tx *sql.Tx, tenantID string) ([]*APIKey, error) {
	rows, err := tx.QueryContext(ctx, `
		SELECT `+apiKeyColumns+` FROM api_keys
		WHERE tenant_id = $1 ORDER BY created_at DESC`, tenantID)
	if err != nil {
		return nil, fmt.Errorf("list api keys: %w", err)
	}
	defer rows.Close()

	var out []*APIKey
	for rows.Next() {
		k, err := scanAPIKey(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, k)
	}
	return out, rows.Err()
}

// RevokeAPIKey marks a key revoked. Returns *ErrDuplicate-like conflict via
// ErrNotFound when the key is absent; already-revoked is reported distinctly.
func RevokeAPIKey(ctx context.Context, tx *sql.Tx, id string, at time.Time) error {
	res, err := tx.ExecContext(ctx,
		`UPDATE api_keys SET revoked_at = $1 WHERE id = $2 AND revoked_at IS NULL`, at, id)
	if err != nil {
		return fmt.Errorf("revoke api key: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// TouchAPIKey updates last_used_at. Best-effort: callers ignore the error.
func TouchAPIKey(ctx context.Context, db *sql.DB, id string, at time.Time) error {
	_, err := db.ExecContext(ctx,
		`UPDATE api_keys SET last_used_at = $1 WHERE id = $2`, at, id)
	return err
}

func scanAPIKey(row rowScanner) (*APIKey, error) {
	var k APIKey
	err := row.Scan(&k.ID, &k.TenantID, &k.KeyHash, &k.KeyPrefix, &k.Name,
		pq.Array(&k.Scopes), &k.RateLimit, &k.CreatedAt, &k.LastUsedAt, &k.RevokedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan api key: %w", err)
	}
	return &k, nil
}

// CreateUser inserts a dashboard user. Email uniqueness is enforced by the
// table; callers lowercase before insert.
func CreateUser(ctx context.Context, tx *sql.Tx, u *User) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO users (id, tenant_id, email, password_hash, role, is_active, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		u.ID, u.TenantID, strings.ToLower(u.Email), u.PasswordHash, u.Role, u.IsActive, u.CreatedAt)
	if constraint, ok := isUniqueViolation(err); ok {
		return &ErrDuplicate{Constraint: constraint}
	}
	if err != nil {
		return fmt.Errorf("insert user: %w", err)
	}
	return nil
}

// GetUserByEmail looks a user up by lowercased email.
func GetUserByEmail(ctx context.Context, tx *sql.Tx, email string) (*User, error) {
	row := tx.QueryRowContext(ctx, `
		SELECT id, tenant_id, email, password_hash, role, is_active, created_at, last_login_at
		FROM users WHERE email = $1`, strings.ToLower(email))
	return scanUser(row)
}

// GetUser fetches a user by id.
func GetUser(ctx context.Context, tx *sql.Tx, id string) (*User, error) {
	row := tx.QueryRowContext(ctx, `
		SELECT id, tenant_id, email, password_hash, role, is_active, created_at, last_login_at
		FROM users WHERE id = $1`, id)
	return scanUser(row)
}

// UpdateUserLogin records a successful login.
func UpdateUserLogin(ctx context.Context, tx *sql.Tx, id string, at time.Time) error {
	_, err := tx.ExecContext(ctx,
		`UPDATE users SET last_login_at = $1 WHERE id = $2`, at, id)
	return err
}

// UpdateUserPassword replaces the bcrypt hash.
func UpdateUserPassword(ctx context.Context, tx *sql.Tx, id, passwordHash string) error {
	res, err := tx.ExecContext(ctx,
		`UPDATE users SET password_hash = $1 WHERE id = $2`, passwordHash, id)
	if err != nil {
		return fmt.Errorf("update password: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func scanUser(row rowScanner) (*User, error) {
	var u User
	err := row.Scan(&u.ID, &u.TenantID, &u.Email, &u.PasswordHash, &u.Role,
		&u.IsActive, &u.CreatedAt, &u.LastLoginAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan user: %w", err)
	}
	return &u, nil
}
