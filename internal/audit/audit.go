// Package audit appends structured governance events to the audit_log table
// and mirrors them to the structured log. Secret-bearing detail values are
// redacted before either sink sees them.
package audit

import (
	"context"
	"database/sql"
	"log/slog"
	"strings"
	"time"

	"github.com/clearproof/preflight/internal/database"
)

// Actions recorded by the service.
const (
	ActionAuthFailed            = "AUTH_FAILED"
	ActionRateLimitExceeded     = "RATE_LIMIT_EXCEEDED"
	ActionEvaluationRequested   = "EVALUATION_REQUESTED"
	ActionTenantCreated         = "TENANT_CREATED"
	ActionAPIKeyCreated         = "API_KEY_CREATED"
	ActionAPIKeyRevoked         = "API_KEY_REVOKED"
	ActionAPIKeyRotated         = "API_KEY_ROTATED"
	ActionTemplateCreated       = "TEMPLATE_CREATED"
	ActionTemplateUpdated       = "TEMPLATE_UPDATED"
	ActionTemplateStatusChanged = "TEMPLATE_STATUS_CHANGED"
	ActionUserSignup            = "USER_SIGNUP"
	ActionUserLogin             = "USER_LOGIN"
	ActionUserLogout            = "USER_LOGOUT"
	ActionPasswordChanged       = "PASSWORD_CHANGED"
)

// sensitiveMarkers flag detail keys whose values must never be persisted or
// logged in the clear. Matched case-insensitively as substrings.
var sensitiveMarkers = []string{
	"password", "api_key", "api-key", "authorization", "token", "secret", "key_hash", "jwt",
}

// Event is one audit record before persistence.
type Event struct {
	Action       string
	TenantID     string
	ActorID      string
	ResourceType string
	ResourceID   string
	Details      map[string]any
	IPAddress    string
	RequestID    string
}

// Logger writes audit events.
type Logger struct {
	store  *database.Store
	logger *slog.Logger
	clock  func() time.Time
}

// NewLogger builds an audit logger on the unscoped store.
func NewLogger(store *database.Store, logger *slog.Logger) *Logger {
	return &Logger{store: store, logger: logger, clock: func() time.Time { return time.Now().UTC() }}
}

// Log sanitizes and persists an event in its own session. Failures are
// logged and swallowed: audit must never take down the request path when it
// owns the transaction.
func (l *Logger) Log(ctx context.Context, ev Event) {
	entry := l.build(ev)
	err := l.store.WithSession(ctx, func(tx *sql.Tx) error {
		return database.InsertAuditEntry(ctx, tx, entry)
	})
	if err != nil {
		l.logger.Error("audit write failed", "action", ev.Action, "error", err)
	}
	l.emit(entry)
}

// LogTx adds the row to a caller-owned transaction; it commits or rolls
// back with the business write, and errors surface to the caller.
func (l *Logger) LogTx(ctx context.Context, tx *sql.Tx, ev Event) error {
	entry := l.build(ev)
	if err := database.InsertAuditEntry(ctx, tx, entry); err != nil {
		return err
	}
	l.emit(entry)
	return nil
}

func (l *Logger) build(ev Event) *database.AuditEntry {
	entry := &database.AuditEntry{
		Timestamp: l.clock(),
		Action:    ev.Action,
		Details:   Sanitize(ev.Details),
	}
	if ev.TenantID != "" {
		entry.TenantID = &ev.TenantID
	}
	if ev.ActorID != "" {
		entry.ActorID = &ev.ActorID
	}
	if ev.ResourceType != "" {
		entry.ResourceType = &ev.ResourceType
	}
	if ev.ResourceID != "" {
		entry.ResourceID = &ev.ResourceID
	}
	if ev.IPAddress != "" {
		entry.IPAddress = &ev.IPAddress
	}
	if ev.RequestID != "" {
		entry.RequestID = &ev.RequestID
	}
	return entry
}

// emit mirrors the entry to the structured log. Auth and rate-limit
// rejections are warnings; everything else is informational.
func (l *Logger) emit(e *database.AuditEntry) {
	attrs := []any{"action", e.Action}
	if e.TenantID != nil {
		attrs = append(attrs, "tenant_id", *e.TenantID)
	}
	if e.ResourceType != nil {
		attrs = append(attrs, "resource_type", *e.ResourceType)
	}
	if e.ResourceID != nil {
		attrs = append(attrs, "resource_id", *e.ResourceID)
	}
	if e.RequestID != nil {
		attrs = append(attrs, "request_id", *e.RequestID)
	}
	switch e.Action {
	case ActionAuthFailed, ActionRateLimitExceeded:
		l.logger.Warn("audit", attrs...)
	default:
		l.logger.Info("audit", attrs...)
	}
}

// Sanitize redacts values under secret-bearing keys, recursing through
// nested maps. String values longer than 8 characters keep their first 4
// characters for correlation.
func Sanitize(details map[string]any) map[string]any {
	if details == nil {
		return nil
	}
	out := make(map[string]any, len(details))
	for k, v := range details {
		if nested, ok := v.(map[string]any); ok {
			out[k] = Sanitize(nested)
			continue
		}
		if isSensitiveKey(k) {
			out[k] = redact(v)
			continue
		}
		out[k] = v
	}
	return out
}

func isSensitiveKey(key string) bool {
	lower := strings.ToLower(key)
	for _, marker := range sensitiveMarkers {
		if strings.Contains(lower, marker) {
			return true
		}
	}
	return false
}

func redact(v any) string {
	if s, ok := v.(string); ok && len(s) > 8 {
		return s[:4] + "...REDACTED"
	}
	return "REDACTED"
}
