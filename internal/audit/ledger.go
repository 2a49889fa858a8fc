// Package audit provides the append-only action ledger. It records every
// dispatched mutation and deduplicates retried submissions by idempotency key.
package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// EventType represents the type of event in the ledger
type EventType string

const (
	EventActionStarted   EventType = "action_started"
	EventActionCompleted EventType = "action_completed"
	EventActionFailed    EventType = "action_failed"
)

// Entry is one ledger row.
type Entry struct {
	ID             int64          `json:"id"`
	EventType      EventType      `json:"eventType"`
	Timestamp      time.Time      `json:"timestamp"`
	Action         string         `json:"action"`
	UserID         int64          `json:"userId"`
	Resource       string         `json:"resource,omitempty"`
	RequestID      int64          `json:"requestId,omitempty"`
	IdempotencyKey string         `json:"idempotencyKey,omitempty"`
	ErrorKind      string         `json:"errorKind,omitempty"`
	Payload        map[string]any `json:"payload,omitempty"`
}

// Ledger provides append-only action logging with deduplication
type Ledger struct {
	db *sql.DB
}

// New creates a new Ledger using the provided database connection
func New(db *sql.DB) *Ledger {
	return &Ledger{db: db}
}

// Append adds an entry. Completions with an idempotency key use INSERT OR
// IGNORE so the first writer wins under the unique partial index.
func (l *Ledger) Append(ctx context.Context, e Entry) error {
	var payloadJSON []byte
	if e.Payload != nil {
		var err error
		payloadJSON, err = json.Marshal(e.Payload)
		if err != nil {
			return fmt.Errorf("failed to marshal payload: %w", err)
		}
	}

	ts := e.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}

	insertSQL := `INSERT INTO action_ledger (event_type, timestamp, action, user_id, resource, request_id, idempotency_key, error_kind, payload) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`
	if e.EventType == EventActionCompleted && e.IdempotencyKey != "" {
		insertSQL = `INSERT OR IGNORE INTO action_ledger (event_type, timestamp, action, user_id, resource, request_id, idempotency_key, error_kind, payload) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`
	}

	_, err := l.db.ExecContext(ctx, insertSQL,
		string(e.EventType), ts.UTC().Unix(), e.Action, e.UserID, e.Resource, e.RequestID,
		e.IdempotencyKey, e.ErrorKind, string(payloadJSON))
	if err != nil {
		return fmt.Errorf("failed to append %s: %w", e.EventType, err)
	}
	return nil
}

// Completed returns the completion recorded under an idempotency key, or
// nil when there is none. An empty key never matches.
func (l *Ledger) Completed(ctx context.Context, idempotencyKey string) (*Entry, error) {
	if idempotencyKey == "" {
		return nil, nil
	}

	rows, err := l.db.QueryContext(ctx, `
		SELECT id, event_type, timestamp, action, user_id, resource, request_id, idempotency_key, error_kind, payload
		FROM action_ledger
		WHERE idempotency_key = ? AND event_type = ?
		LIMIT 1
	`, idempotencyKey, string(EventActionCompleted))
	if err != nil {
		return nil, fmt.Errorf("failed to check idempotency key: %w", err)
	}
	defer rows.Close()

	entries, err := scanEntries(rows)
	if err != nil {
		return nil, fmt.Errorf("failed to check idempotency key: %w", err)
	}
	if len(entries) == 0 {
		return nil, nil
	}
	return entries[0], nil
}

// SameOperation reports whether e records the given action by the given
// user on the same target.
func (e *Entry) SameOperation(action string, userID int64, resource string, requestID int64) bool {
	return e.Action == action && e.UserID == userID && e.Resource == resource && e.RequestID == requestID
}

// Recent returns the newest entries, optionally for one user (0 = all).
func (l *Ledger) Recent(ctx context.Context, userID int64, limit int) ([]*Entry, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := l.db.QueryContext(ctx, `
		SELECT id, event_type, timestamp, action, user_id, resource, request_id, idempotency_key, error_kind, payload
		FROM action_ledger
		WHERE ? = 0 OR user_id = ?
		ORDER BY timestamp DESC, id DESC
		LIMIT ?
	`, userID, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query ledger: %w", err)
	}
	defer rows.Close()

	return scanEntries(rows)
}

// DeleteOlderThan removes entries older than the specified duration (retention policy)
func (l *Ledger) DeleteOlderThan(ctx context.Context, retention time.Duration) (int64, error) {
	cutoff := time.Now().Add(-retention).Unix()
	result, err := l.db.ExecContext(ctx, `DELETE FROM action_ledger WHERE timestamp < ?`, cutoff)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

func scanEntries(rows *sql.Rows) ([]*Entry, error) {
	var entries []*Entry
	for rows.Next() {
		var entry Entry
		var resource, idempotencyKey, errorKind, payloadStr sql.NullString
		var requestID sql.NullInt64
		var timestamp int64

		err := rows.Scan(
			&entry.ID, &entry.EventType, &timestamp, &entry.Action, &entry.UserID,
			&resource, &requestID, &idempotencyKey, &errorKind, &payloadStr,
		)
		if err != nil {
			return nil, err
		}

		entry.Timestamp = time.Unix(timestamp, 0).UTC()
		entry.Resource = resource.String
		entry.RequestID = requestID.Int64
		entry.IdempotencyKey = idempotencyKey.String
		entry.ErrorKind = errorKind.String

		if payloadStr.Valid && payloadStr.String != "" {
			entry.Payload = make(map[string]any)
			if err := json.Unmarshal([]byte(payloadStr.String), &entry.Payload); err != nil {
				return nil, fmt.Errorf("failed to unmarshal payload: %w", err)
			}
		}

		entries = append(entries, &entry)
	}

	return entries, rows.Err()
}
