package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

const auditColumns = `id, timestamp, tenant_id, actor_id, action,
	resource_type, resource_id, details, ip_address, request_id`

// InsertAuditEntry appends one audit row. When called with a caller-owned
// transaction the row commits (or rolls back) with the business write.
func InsertAuditEntry(ctx context.Context, tx *sql.Tx, e *AuditEntry) error {
	details, err := json.Marshal(e.Details)
	if err != nil {
		return fmt.Errorf("marshal details: %w", err)
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO audit_log (timestamp, tenant_id, actor_id, action,
			resource_type, resource_id, details, ip_address, request_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		e.Timestamp, e.TenantID, e.ActorID, e.Action,
		e.ResourceType, e.ResourceID, details, e.IPAddress, e.RequestID)
	if err != nil {
		return fmt.Errorf("insert audit entry: %w", err)
	}
	return nil
}

// AuditQuery filters an audit-log listing.
type AuditQuery struct {
	TenantID string
	Action   string
	Since    *time.Time
	Limit    int
	Offset   int
}

// QueryAuditLog pages audit rows, newest first. Runs unscoped: the HTTP
// layer confines non-superadmins to their own tenant before calling.
func QueryAuditLog(ctx context.Context, tx *sql.Tx, q AuditQuery) ([]*AuditEntry, error) {
	if q.Limit <= 0 || q.Limit > 500 {
		q.Limit = 100
	}
	where := "TRUE"
	args := []any{}
	n := 0
	addArg := func(clause string, v any) {
		n++
		args = append(args, v)
		where += fmt.Sprintf(" AND %s $%d", clause, n)
	}
	if q.TenantID != "" {
		addArg("tenant_id =", q.TenantID)
	}
	if q.Action != "" {
		addArg("action =", q.Action)
	}
	if q.Since != nil {
		addArg("timestamp >=", *q.Since)
	}
	args = append(args, q.Limit, q.Offset)

	rows, err := tx.QueryContext(ctx, fmt.Sprintf(`
		SELECT %s FROM audit_log WHERE %s
		ORDER BY id DESC LIMIT $%d OFFSET $%d`, auditColumns, where, n+1, n+2), args...)
	if err != nil {
		return nil, fmt.Errorf("query audit log: %w", err)
	}
	defer rows.Close()

	var out []*AuditEntry
	for rows.Next() {
		var (
			e       AuditEntry
			details []byte
		)
		if err := rows.Scan(&e.ID, &e.Timestamp, &e.TenantID, &e.ActorID, &e.Action,
			&e.ResourceType, &e.ResourceID, &details, &e.IPAddress, &e.RequestID); err != nil {
			return nil, fmt.Errorf("scan audit entry: %w", err)
		}
		if err := json.Unmarshal(details, &e.Details); err != nil {
			return nil, fmt.Errorf("decode details: %w", err)
		}
		out = append(out, &e)
	}
	return out, rows.Err()
}

// DB exposes the raw pool for best-effort single statements (last_used_at
// touches) that must not join a caller's transaction.
func (s *Store) DB() *sql.DB { return s.db }
