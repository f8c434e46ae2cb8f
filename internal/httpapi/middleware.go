package httpapi

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"

	"github.com/clearproof/preflight/internal/audit"
	"github.com/clearproof/preflight/internal/auth"
	"github.com/clearproof/preflight/internal/core"
)

type contextKey string

const (
	ctxPrincipal contextKey = "principal"
	ctxRequestID contextKey = "request_id"
	ctxAuth      contextKey = "auth_outcome"
)

// authOutcome is the key resolution performed by the rate limiter, consumed
// by authenticate further down the chain.
type authOutcome struct {
	principal *core.Principal
	err       error
}

func principalFrom(ctx context.Context) *core.Principal {
	p, _ := ctx.Value(ctxPrincipal).(*core.Principal)
	return p
}

func requestIDFrom(ctx context.Context) string {
	id, _ := ctx.Value(ctxRequestID).(string)
	return id
}

// bodyLimit rejects oversized bodies before any handler reads them.
func (s *Server) bodyLimit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.ContentLength > s.cfg.MaxRequestBodySize {
			writeError(w, http.StatusRequestEntityTooLarge, CodeRequestTooLarge,
				fmt.Sprintf("request body exceeds %d bytes", s.cfg.MaxRequestBodySize), nil)
			return
		}
		r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxRequestBodySize)
		next.ServeHTTP(w, r)
	})
}

func securityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		h.Set("X-Content-Type-Options", "nosniff")
		h.Set("X-Frame-Options", "DENY")
		h.Set("X-XSS-Protection", "1; mode=block")
		h.Set("Referrer-Policy", "strict-origin-when-cross-origin")
		h.Set("Cache-Control", "no-store")
		next.ServeHTTP(w, r)
	})
}

// requestID echoes an inbound X-Request-ID or mints a 16-byte hex one.
func requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-ID")
		if id == "" || len(id) > 64 {
			id = newRequestID()
		}
		w.Header().Set("X-Request-ID", id)
		ctx := context.WithValue(r.Context(), ctxRequestID, id)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func newRequestID() string {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return strconv.FormatInt(time.Now().UnixNano(), 16)
	}
	return hex.EncodeToString(buf)
}

// recoverPanic converts handler panics into the standard 500 envelope.
func (s *Server) recoverPanic(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				s.logger.Error("panic in handler",
					"method", r.Method, "path", r.URL.Path,
					"request_id", requestIDFrom(r.Context()), "panic", rec)
				writeError(w, http.StatusInternalServerError, CodeInternal, "internal error", nil)
			}
		}()
		next.ServeHTTP(w, r)
	})
}

// statusRecorder captures the status code for logging and metrics.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Write(b []byte) (int, error) {
	if r.status == 0 {
		r.status = http.StatusOK
	}
	return r.ResponseWriter.Write(b)
}

// observe logs each request and feeds the HTTP metrics, labelled by route
// pattern rather than raw path to bound cardinality.
func (s *Server) observe(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		route := r.URL.Path
		if current := mux.CurrentRoute(r); current != nil {
			if tpl, err := current.GetPathTemplate(); err == nil {
				route = tpl
			}
		}
		elapsed := time.Since(start)
		s.metrics.HTTPRequests.WithLabelValues(r.Method, route, strconv.Itoa(rec.status)).Inc()
		s.metrics.HTTPDuration.WithLabelValues(r.Method, route).Observe(elapsed.Seconds())
		s.logger.Info("request",
			"method", r.Method, "path", r.URL.Path, "status", rec.status,
			"duration_ms", float64(elapsed)/float64(time.Millisecond),
			"request_id", requestIDFrom(r.Context()))
	})
}

// authenticate enforces the key resolution the rate limiter already
// performed, or resolves the key itself when mounted without it.
func (s *Server) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var (
			p   *core.Principal
			err error
		)
		if out, ok := r.Context().Value(ctxAuth).(*authOutcome); ok {
			p, err = out.principal, out.err
		} else {
			meta := auth.RequestMeta{
				IPAddress: clientIP(r),
				RequestID: requestIDFrom(r.Context()),
			}
			p, err = s.auth.Authenticate(r.Context(), r.Header.Get("X-API-Key"), meta)
		}
		if err != nil {
			w.Header().Set("WWW-Authenticate", "ApiKey")
			switch {
			case errors.Is(err, auth.ErrMissingKey):
				writeError(w, http.StatusUnauthorized, CodeMissingAPIKey, "missing API key", nil)
			case errors.Is(err, auth.ErrRevokedKey):
				s.metrics.AuthFailures.WithLabelValues("revoked").Inc()
				writeError(w, http.StatusUnauthorized, CodeRevokedAPIKey, "API key revoked", nil)
			case errors.Is(err, auth.ErrInvalidKey):
				s.metrics.AuthFailures.WithLabelValues("invalid").Inc()
				writeError(w, http.StatusUnauthorized, CodeInvalidAPIKey, "invalid API key", nil)
			default:
				writeInternal(w, r, s.logger, err)
			}
			return
		}
		ctx := r.Context()
		if principalFrom(ctx) == nil {
			ctx = context.WithValue(ctx, ctxPrincipal, p)
		}
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// rateLimit runs ahead of auth enforcement. It resolves the API key without
// rejecting: a valid key is throttled by its own stored limit, everything
// else (no key, bad key, dashboard traffic) by client IP at the
// unauthenticated limit. Denials carry Retry-After and an audit row.
func (s *Server) rateLimit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		meta := auth.RequestMeta{
			IPAddress: clientIP(r),
			RequestID: requestIDFrom(r.Context()),
		}
		p, authErr := s.auth.Authenticate(r.Context(), r.Header.Get("X-API-Key"), meta)

		key, limit := "ip:"+clientIP(r), s.cfg.RateLimitUnauth
		if p != nil {
			key, limit = "key:"+p.APIKeyID, p.RateLimit
			if limit <= 0 {
				limit = s.cfg.RateLimitPerMinute
			}
		}

		res := s.limiter.Check(r.Context(), key, limit)
		w.Header().Set("X-RateLimit-Limit", strconv.Itoa(res.Limit))
		w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(res.Remaining))
		w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(int64(res.ResetAfter.Seconds()+0.999), 10))
		if !res.Allowed {
			s.metrics.RateLimited.Inc()
			retryAfter := int64(res.ResetAfter.Seconds() + 0.999)
			if retryAfter < 1 {
				retryAfter = 1
			}
			w.Header().Set("Retry-After", strconv.FormatInt(retryAfter, 10))

			ev := audit.Event{
				Action:    audit.ActionRateLimitExceeded,
				Details:   map[string]any{"limit": res.Limit},
				IPAddress: clientIP(r),
				RequestID: requestIDFrom(r.Context()),
			}
			if p != nil {
				ev.TenantID = p.TenantID
				ev.ActorID = p.APIKeyID
			}
			s.audit.Log(r.Context(), ev)

			writeError(w, http.StatusTooManyRequests, CodeRateLimited, "rate limit exceeded",
				map[string]any{"retry_after_seconds": retryAfter})
			return
		}

		ctx := context.WithValue(r.Context(), ctxAuth, &authOutcome{principal: p, err: authErr})
		if p != nil {
			ctx = context.WithValue(ctx, ctxPrincipal, p)
		}
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// requireAdmin gates the control-plane routes.
func (s *Server) requireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p := principalFrom(r.Context())
		if p == nil || !p.IsAdmin() {
			writeError(w, http.StatusForbidden, CodeInsufficientScope, "admin scope required", nil)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		if i := strings.IndexByte(fwd, ','); i >= 0 {
			fwd = fwd[:i]
		}
		return strings.TrimSpace(fwd)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
