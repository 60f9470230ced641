package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Bind audit results.
const (
	BindResultOK      = "ok"
	BindResultFailed  = "failed"
	BindResultBlocked = "blocked"
)

// BindAuditEntry is one recorded credential-binding attempt.
type BindAuditEntry struct {
	ID           int64
	Timestamp    time.Time
	TraceID      string
	Sender       string
	Provider     string
	KeyDigest    sql.NullString
	Result       string
	ErrorMessage sql.NullString
}

// WriteBindAudit records a binding attempt. keyDigest is the credential
// digest for successful binds and empty otherwise; errorMsg carries the
// upstream error for failed attempts. An empty traceID is replaced with a
// fresh UUID so every row stays correlatable.
func (s *Store) WriteBindAudit(ctx context.Context, traceID, sender, providerName, keyDigest, result, errorMsg string) error {
	if traceID == "" {
		traceID = uuid.New().String()
	}

	var digestNull sql.NullString
	if keyDigest != "" {
		digestNull = sql.NullString{String: keyDigest, Valid: true}
	}
	var errorNull sql.NullString
	if errorMsg != "" {
		errorNull = sql.NullString{String: errorMsg, Valid: true}
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO bind_audit (ts, trace_id, sender, provider, key_digest, result, error_message)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, time.Now(), traceID, sender, providerName, digestNull, result, errorNull)
	if err != nil {
		return fmt.Errorf("write bind audit: %w", err)
	}
	return nil
}

// RecentBindAudit returns the most recent binding attempts, newest first.
func (s *Store) RecentBindAudit(ctx context.Context, limit int) ([]*BindAuditEntry, error) {
	if limit <= 0 {
		limit = 100
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, ts, trace_id, sender, provider, key_digest, result, error_message
		FROM bind_audit
		ORDER BY ts DESC, id DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("query bind audit: %w", err)
	}
	defer rows.Close()

	var entries []*BindAuditEntry
	for rows.Next() {
		entry := &BindAuditEntry{}
		if err := rows.Scan(
			&entry.ID, &entry.Timestamp, &entry.TraceID, &entry.Sender,
			&entry.Provider, &entry.KeyDigest, &entry.Result, &entry.ErrorMessage,
		); err != nil {
			return nil, fmt.Errorf("scan bind audit entry: %w", err)
		}
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}
