package httpapi

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clearproof/preflight/internal/auth"
	"github.com/clearproof/preflight/internal/config"
	"github.com/clearproof/preflight/internal/metrics"
	"github.com/clearproof/preflight/internal/ratelimit"
)

// The default Prometheus registry tolerates one registration per process.
var testMetrics = metrics.New()

// newRoutedServer builds a server whose limiter breaker is open, so every
// check fails open without touching the cache, and whose authenticator has
// no store behind it. That is enough surface to exercise routing and
// middleware order without Postgres or Redis.
func newRoutedServer() http.Handler {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	breaker := ratelimit.NewBreaker(1, time.Hour)
	breaker.RecordFailure()
	s := &Server{
		cfg: &config.Config{
			MaxRequestBodySize: 1 << 20,
			RateLimitUnauth:    20,
			RateLimitPerMinute: 100,
		},
		logger:  logger,
		auth:    auth.NewAuthenticator(nil, nil, "0123456789abcdef0123456789abcdef", logger),
		limiter: ratelimit.NewLimiter(nil, breaker, logger),
		metrics: testMetrics,
	}
	return s.routes()
}

func TestRateLimiterRunsBeforeKeyEnforcement(t *testing.T) {
	h := newRoutedServer()
	req := httptest.NewRequest(http.MethodPost, "/v1/evaluate", strings.NewReader("{}"))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	require.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "20", rec.Header().Get("X-RateLimit-Limit"),
		"keyless requests must be counted against the IP window before rejection")

	var body struct {
		Code string `json:"code"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	assert.Equal(t, CodeMissingAPIKey, body.Code)
}

func TestDashboardAuthRoutesAreRateLimited(t *testing.T) {
	h := newRoutedServer()
	req := httptest.NewRequest(http.MethodPost, "/auth/login", strings.NewReader("{"))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "20", rec.Header().Get("X-RateLimit-Limit"),
		"login attempts carry the IP-keyed unauthenticated limit")
}

func TestAdminRoutesOrderLimiterBeforeAuth(t *testing.T) {
	h := newRoutedServer()
	req := httptest.NewRequest(http.MethodGet, "/admin/tenants", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	require.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("X-RateLimit-Limit"))
}

func TestOpenEndpointsSkipRateLimiting(t *testing.T) {
	h := newRoutedServer()
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, rec.Header().Get("X-RateLimit-Limit"))
}
