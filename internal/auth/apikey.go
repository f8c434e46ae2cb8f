// Package auth implements the tenant-scoped authentication gate: API-key
// hashing and lookup, JWT issue/verify for the dashboard, and the
// cache-backed token revocation list.
package auth

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"time"

	"github.com/google/uuid"

	"github.com/clearproof/preflight/internal/audit"
	"github.com/clearproof/preflight/internal/core"
	"github.com/clearproof/preflight/internal/database"
)

// Clear keys are cp_ followed by 32 lowercase hex characters. The stored
// prefix is the first 8 characters of the clear key.
const (
	keyPrefixLen = 8
	clearKeyLen  = 35 // "cp_" + 32 hex
)

var keyFormat = regexp.MustCompile(`^cp_[0-9a-f]{32}$`)

// Authentication failures. The HTTP layer maps these to 401 envelopes.
var (
	ErrMissingKey = errors.New("auth: missing api key")
	ErrInvalidKey = errors.New("auth: invalid api key")
	ErrRevokedKey = errors.New("auth: api key revoked")
)

// HashKey computes the stored digest: SHA256(salt ":" key), hex-encoded.
func HashKey(salt, key string) string {
	sum := sha256.Sum256([]byte(salt + ":" + key))
	return hex.EncodeToString(sum[:])
}

// GenerateKey mints a clear API key and its derived storage fields. The
// clear key is returned exactly once and never persisted.
func GenerateKey(salt string) (clear, hash, prefix string, err error) {
	buf := make([]byte, 16)
	if _, err = rand.Read(buf); err != nil {
		return "", "", "", fmt.Errorf("generate key material: %w", err)
	}
	clear = "cp_" + hex.EncodeToString(buf)
	return clear, HashKey(salt, clear), clear[:keyPrefixLen], nil
}

// Authenticator validates API keys against the store.
type Authenticator struct {
	store  *database.Store
	audit  *audit.Logger
	logger *slog.Logger
	salt   string
}

// NewAuthenticator wires the API-key gate.
func NewAuthenticator(store *database.Store, auditLog *audit.Logger, salt string, logger *slog.Logger) *Authenticator {
	return &Authenticator{store: store, audit: auditLog, logger: logger, salt: salt}
}

// RequestMeta carries connection metadata into audit rows.
type RequestMeta struct {
	IPAddress string
	RequestID string
}

// Authenticate resolves a clear key to a Principal. Failures emit an
// AUTH_FAILED audit event with reason "invalid" or "revoked"; the clear key
// itself never reaches a log or audit row.
func (a *Authenticator) Authenticate(ctx context.Context, clearKey string, meta RequestMeta) (*core.Principal, error) {
	if clearKey == "" {
		return nil, ErrMissingKey
	}
	if len(clearKey) != clearKeyLen || !keyFormat.MatchString(clearKey) {
		a.auditFailure(ctx, "invalid", safePrefix(clearKey), meta)
		return nil, ErrInvalidKey
	}

	hash := HashKey(a.salt, clearKey)
	prefix := clearKey[:keyPrefixLen]

	var (
		key    *database.APIKey
		tenant *database.Tenant
	)
	err := a.store.WithSession(ctx, func(tx *sql.Tx) error {
		var err error
		key, err = database.GetAPIKeyByHash(ctx, tx, hash, prefix)
		if err != nil {
			return err
		}
		tenant, err = database.GetTenant(ctx, tx, key.TenantID)
		return err
	})
	if errors.Is(err, database.ErrNotFound) {
		a.auditFailure(ctx, "invalid", prefix, meta)
		return nil, ErrInvalidKey
	}
	if err != nil {
		return nil, fmt.Errorf("api key lookup: %w", err)
	}
	if !key.IsActive() {
		a.auditFailure(ctx, "revoked", prefix, meta)
		return nil, ErrRevokedKey
	}

	// Best-effort usage stamp; an error here must not fail the request.
	if err := database.TouchAPIKey(ctx, a.store.DB(), key.ID, time.Now().UTC()); err != nil {
		a.logger.Debug("last_used_at update failed", "key_id", key.ID, "error", err)
	}

	return &core.Principal{
		TenantID:   key.TenantID,
		TenantName: tenant.Name,
		APIKeyID:   key.ID,
		APIKeyName: key.Name,
		Scopes:     key.Scopes,
		RateLimit:  key.RateLimit,
	}, nil
}

func (a *Authenticator) auditFailure(ctx context.Context, reason, prefix string, meta RequestMeta) {
	a.audit.Log(ctx, audit.Event{
		Action: audit.ActionAuthFailed,
		Details: map[string]any{
			"reason":     reason,
			"key_prefix": prefix,
		},
		IPAddress: meta.IPAddress,
		RequestID: meta.RequestID,
	})
}

// safePrefix truncates malformed input for the audit trail without leaking
// a full (possibly valid-elsewhere) credential.
func safePrefix(key string) string {
	if len(key) > keyPrefixLen {
		return key[:keyPrefixLen]
	}
	return key
}

// NewKeyID mints a time-ordered identifier for a key row.
func NewKeyID() string {
	id, err := uuid.NewV7()
	if err != nil {
		// NewV7 only fails when the entropy source does; fall back to v4.
		return uuid.NewString()
	}
	return id.String()
}
