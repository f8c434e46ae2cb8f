// Package admin implements the control plane: tenant management, API-key
// lifecycle and audit-log queries. Authorisation is scope-based: "admin"
// confines a caller to its own tenant, "superadmin" acts across tenants.
package admin

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/clearproof/preflight/internal/audit"
	"github.com/clearproof/preflight/internal/auth"
	"github.com/clearproof/preflight/internal/core"
	"github.com/clearproof/preflight/internal/database"
)

// Typed failures the HTTP layer maps onto envelopes.
var (
	ErrForbidden      = errors.New("admin: cross-tenant access denied")
	ErrKeyNotFound    = errors.New("admin: api key not found")
	ErrAlreadyRevoked = errors.New("admin: api key already revoked")
	ErrTenantNotFound = errors.New("admin: tenant not found")
)

const defaultRateLimit = 100

// Service runs control-plane operations through unscoped sessions; the
// scope checks here are the only tenant boundary on this path.
type Service struct {
	store  *database.Store
	audit  *audit.Logger
	salt   string
	clock  core.Clock
	logger *slog.Logger
}

func NewService(store *database.Store, auditLog *audit.Logger, salt string, clock core.Clock, logger *slog.Logger) *Service {
	return &Service{store: store, audit: auditLog, salt: salt, clock: clock, logger: logger}
}

// Meta carries request correlation into audit rows.
type Meta struct {
	IPAddress string
	RequestID string
}

// CreatedKey pairs a key row with its clear value; the clear key exists
// only in this return value.
type CreatedKey struct {
	Key      *database.APIKey `json:"key"`
	ClearKey string           `json:"api_key"`
}

// CreateTenant provisions a tenant. Superadmin only.
func (s *Service) CreateTenant(ctx context.Context, p *core.Principal, name string, settings map[string]any, meta Meta) (*database.Tenant, error) {
	if !p.IsSuperAdmin() {
		return nil, ErrForbidden
	}
	if settings == nil {
		settings = map[string]any{}
	}
	tenant := &database.Tenant{
		ID:        newID(),
		Name:      name,
		Settings:  settings,
		CreatedAt: s.clock.Now(),
	}
	err := s.store.WithSession(ctx, func(tx *sql.Tx) error {
		if err := database.CreateTenant(ctx, tx, tenant); err != nil {
			return err
		}
		return s.audit.LogTx(ctx, tx, audit.Event{
			Action:       audit.ActionTenantCreated,
			TenantID:     tenant.ID,
			ActorID:      p.APIKeyID,
			ResourceType: "tenant",
			ResourceID:   tenant.ID,
			Details:      map[string]any{"name": name},
			IPAddress:    meta.IPAddress,
			RequestID:    meta.RequestID,
		})
	})
	if err != nil {
		return nil, err
	}
	return tenant, nil
}

// GetTenant fetches one tenant; non-superadmins only see their own.
func (s *Service) GetTenant(ctx context.Context, p *core.Principal, tenantID string) (*database.Tenant, error) {
	if !p.IsSuperAdmin() && p.TenantID != tenantID {
		return nil, ErrTenantNotFound
	}
	var tenant *database.Tenant
	err := s.store.WithSession(ctx, func(tx *sql.Tx) error {
		var err error
		tenant, err = database.GetTenant(ctx, tx, tenantID)
		return err
	})
	if errors.Is(err, database.ErrNotFound) {
		return nil, ErrTenantNotFound
	}
	if err != nil {
		return nil, err
	}
	return tenant, nil
}

// ListTenants pages all tenants. Superadmin only.
func (s *Service) ListTenants(ctx context.Context, p *core.Principal, limit, offset int) ([]*database.Tenant, error) {
	if !p.IsSuperAdmin() {
		return nil, ErrForbidden
	}
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	var out []*database.Tenant
	err := s.store.WithSession(ctx, func(tx *sql.Tx) error {
		var err error
		out, err = database.ListTenants(ctx, tx, limit, offset)
		return err
	})
	return out, err
}

// KeySpec is the caller-provided shape of a new API key.
type KeySpec struct {
	Name      string   `json:"name"`
	Scopes    []string `json:"scopes"`
	RateLimit int      `json:"rate_limit"`
}

// CreateKey mints an API key for a tenant. The clear key is returned once.
func (s *Service) CreateKey(ctx context.Context, p *core.Principal, tenantID string, spec KeySpec, meta Meta) (*CreatedKey, error) {
	if err := s.confine(p, tenantID); err != nil {
		return nil, err
	}
	if spec.RateLimit <= 0 {
		spec.RateLimit = defaultRateLimit
	}
	if len(spec.Scopes) == 0 {
		spec.Scopes = []string{"evaluate"}
	}

	clear, hash, prefix, err := auth.GenerateKey(s.salt)
	if err != nil {
		return nil, err
	}
	key := &database.APIKey{
		ID:        auth.NewKeyID(),
		TenantID:  tenantID,
		KeyHash:   hash,
		KeyPrefix: prefix,
		Name:      spec.Name,
		Scopes:    spec.Scopes,
		RateLimit: spec.RateLimit,
		CreatedAt: s.clock.Now(),
	}
	err = s.store.WithSession(ctx, func(tx *sql.Tx) error {
		if _, err := database.GetTenant(ctx, tx, tenantID); err != nil {
			return err
		}
		if err := database.CreateAPIKey(ctx, tx, key); err != nil {
			return err
		}
		return s.audit.LogTx(ctx, tx, audit.Event{
			Action:       audit.ActionAPIKeyCreated,
			TenantID:     tenantID,
			ActorID:      p.APIKeyID,
			ResourceType: "api_key",
			ResourceID:   key.ID,
			Details:      map[string]any{"name": spec.Name, "key_prefix": prefix, "scopes": spec.Scopes},
			IPAddress:    meta.IPAddress,
			RequestID:    meta.RequestID,
		})
	})
	if errors.Is(err, database.ErrNotFound) {
		return nil, ErrTenantNotFound
	}
	if err != nil {
		return nil, err
	}
	return &CreatedKey{Key: key, ClearKey: clear}, nil
}

// ListKeys returns a tenant's keys, hashes omitted by the model's JSON tags.
func (s *Service) ListKeys(ctx context.Context, p *core.Principal, tenantID string) ([]*database.APIKey, error) {
	if err := s.confine(p, tenantID); err != nil {
		return nil, err
	}
	var out []*database.APIKey
	err := s.store.WithSession(ctx, func(tx *sql.Tx) error {
		var err error
		out, err = database.ListAPIKeys(ctx, tx, tenantID)
		return err
	})
	return out, err
}

// RevokeKey marks a key revoked. Revoking twice is a conflict.
func (s *Service) RevokeKey(ctx context.Context, p *core.Principal, keyID string, meta Meta) error {
	err := s.store.WithSession(ctx, func(tx *sql.Tx) error {
		key, err := database.GetAPIKey(ctx, tx, keyID)
		if err != nil {
			return err
		}
		if err := s.confine(p, key.TenantID); err != nil {
			return err
		}
		if !key.IsActive() {
			return ErrAlreadyRevoked
		}
		if err := database.RevokeAPIKey(ctx, tx, keyID, s.clock.Now()); err != nil {
			return err
		}
		return s.audit.LogTx(ctx, tx, audit.Event{
			Action:       audit.ActionAPIKeyRevoked,
			TenantID:     key.TenantID,
			ActorID:      p.APIKeyID,
			ResourceType: "api_key",
			ResourceID:   keyID,
			Details:      map[string]any{"key_prefix": key.KeyPrefix},
			IPAddress:    meta.IPAddress,
			RequestID:    meta.RequestID,
		})
	})
	if errors.Is(err, database.ErrNotFound) {
		return ErrKeyNotFound
	}
	return err
}

// RotateKey mints a replacement with the old key's name, scopes and rate
// limit, and revokes the old key in the same transaction. Either both
// happen or neither does.
func (s *Service) RotateKey(ctx context.Context, p *core.Principal, keyID string, meta Meta) (*CreatedKey, error) {
	clear, hash, prefix, err := auth.GenerateKey(s.salt)
	if err != nil {
		return nil, err
	}

	var created *CreatedKey
	err = s.store.WithSession(ctx, func(tx *sql.Tx) error {
		old, err := database.GetAPIKey(ctx, tx, keyID)
		if err != nil {
			return err
		}
		if err := s.confine(p, old.TenantID); err != nil {
			return err
		}
		if !old.IsActive() {
			return ErrAlreadyRevoked
		}

		replacement := &database.APIKey{
			ID:        auth.NewKeyID(),
			TenantID:  old.TenantID,
			KeyHash:   hash,
			KeyPrefix: prefix,
			Name:      old.Name,
			Scopes:    old.Scopes,
			RateLimit: old.RateLimit,
			CreatedAt: s.clock.Now(),
		}
		if err := database.CreateAPIKey(ctx, tx, replacement); err != nil {
			return err
		}
		if err := database.RevokeAPIKey(ctx, tx, old.ID, s.clock.Now()); err != nil {
			return err
		}
		created = &CreatedKey{Key: replacement, ClearKey: clear}

		return s.audit.LogTx(ctx, tx, audit.Event{
			Action:       audit.ActionAPIKeyRotated,
			TenantID:     old.TenantID,
			ActorID:      p.APIKeyID,
			ResourceType: "api_key",
			ResourceID:   old.ID,
			Details: map[string]any{
				"old_key_prefix": old.KeyPrefix,
				"new_key_id":     replacement.ID,
				"new_key_prefix": prefix,
			},
			IPAddress: meta.IPAddress,
			RequestID: meta.RequestID,
		})
	})
	if errors.Is(err, database.ErrNotFound) {
		return nil, ErrKeyNotFound
	}
	if err != nil {
		return nil, err
	}
	return created, nil
}

// AuditLogs queries the audit trail. Non-superadmins are silently confined
// to their own tenant regardless of the requested filter.
func (s *Service) AuditLogs(ctx context.Context, p *core.Principal, q database.AuditQuery) ([]*database.AuditEntry, error) {
	if !p.IsSuperAdmin() {
		q.TenantID = p.TenantID
	}
	var out []*database.AuditEntry
	err := s.store.WithSession(ctx, func(tx *sql.Tx) error {
		var err error
		out, err = database.QueryAuditLog(ctx, tx, q)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("audit query: %w", err)
	}
	return out, nil
}

// confine enforces the tenant boundary for ordinary admins.
func (s *Service) confine(p *core.Principal, tenantID string) error {
	if p.IsSuperAdmin() || p.TenantID == tenantID {
		return nil
	}
	return ErrForbidden
}

func newID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}
