package auth

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/clearproof/preflight/internal/cache"
)

const blocklistPrefix = "auth:revoked:"

// Blocklist is the cache-backed token revocation list. Membership checks
// fail open when the cache is unreachable.
type Blocklist struct {
	cache  *cache.Client
	logger *slog.Logger
}

// NewBlocklist wires the revocation list over the shared cache.
func NewBlocklist(c *cache.Client, logger *slog.Logger) *Blocklist {
	return &Blocklist{cache: c, logger: logger}
}

// Revoke records a jti with TTL equal to the token's remaining lifetime.
func (b *Blocklist) Revoke(ctx context.Context, jti string, ttl time.Duration) error {
	return b.cache.Set(ctx, blocklistPrefix+jti, []byte("1"), ttl)
}

// IsRevoked reports membership. On cache unavailability it logs and
// returns (false, nil): the token is treated as valid.
func (b *Blocklist) IsRevoked(ctx context.Context, jti string) (bool, error) {
	ok, err := b.cache.Exists(ctx, blocklistPrefix+jti)
	if errors.Is(err, cache.ErrUnavailable) {
		b.logger.Warn("token blocklist unavailable, failing open", "error", err)
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return ok, nil
}
