package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"

	audit "certledger/pkg/platform/audit"
)

// Store implements audit.Store and audit.Reader over database/sql with the
// lib/pq driver.
type Store struct {
	db *sql.DB
}

func New(db *sql.DB) *Store {
	return &Store{db: db}
}

const schema = `
CREATE TABLE IF NOT EXISTS audit_events (
	id               UUID PRIMARY KEY,
	category         TEXT NOT NULL,
	timestamp        TIMESTAMPTZ NOT NULL,
	action           TEXT NOT NULL,
	certificate_hash TEXT NOT NULL DEFAULT '',
	tx_hash          TEXT NOT NULL DEFAULT '',
	actor_id         TEXT NOT NULL DEFAULT '',
	decision         TEXT NOT NULL DEFAULT '',
	reason           TEXT NOT NULL DEFAULT '',
	request_id       TEXT NOT NULL DEFAULT '',
	client_ip        TEXT NOT NULL DEFAULT '',
	client           TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS audit_events_certificate_hash_idx ON audit_events (certificate_hash, timestamp);
CREATE INDEX IF NOT EXISTS audit_events_timestamp_idx ON audit_events (timestamp DESC);
`

// EnsureSchema creates the audit table when missing.
func (s *Store) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("create audit schema: %w", err)
	}
	return nil
}

// Append is idempotent on event ID.
func (s *Store) Append(ctx context.Context, event audit.Event) error {
	eventID, err := uuid.Parse(event.ID)
	if err != nil {
		eventID = uuid.New()
	}
	category := event.Category
	if category == "" {
		category = audit.AuditEvent(event.Action).Category()
	}

	query := `
		INSERT INTO audit_events (
			id, category, timestamp, action, certificate_hash, tx_hash,
			actor_id, decision, reason, request_id, client_ip, client
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (id) DO NOTHING
	`
	_, err = s.db.ExecContext(ctx, query,
		eventID,
		string(category),
		event.Timestamp,
		event.Action,
		event.CertificateHash,
		event.TxHash,
		event.ActorID,
		event.Decision,
		event.Reason,
		event.RequestID,
		event.ClientIP,
		event.Client,
	)
	if err != nil {
		return fmt.Errorf("insert audit event: %w", err)
	}
	return nil
}

const selectColumns = `
	SELECT id, category, timestamp, action, certificate_hash, tx_hash,
	       actor_id, decision, reason, request_id, client_ip, client
	FROM audit_events
`

// ListByCertificate returns events for one fingerprint, oldest first.
func (s *Store) ListByCertificate(ctx context.Context, certificateHash string) ([]audit.Event, error) {
	rows, err := s.db.QueryContext(ctx, selectColumns+`
		WHERE certificate_hash = $1
		ORDER BY timestamp ASC
	`, certificateHash)
	if err != nil {
		return nil, fmt.Errorf("query audit events: %w", err)
	}
	defer rows.Close()

	return s.scanEvents(rows)
}

// ListRecent returns the N most recent events.
func (s *Store) ListRecent(ctx context.Context, limit int) ([]audit.Event, error) {
	rows, err := s.db.QueryContext(ctx, selectColumns+`
		ORDER BY timestamp DESC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("query audit events: %w", err)
	}
	defer rows.Close()

	return s.scanEvents(rows)
}

func (s *Store) scanEvents(rows *sql.Rows) ([]audit.Event, error) {
	var events []audit.Event

	for rows.Next() {
		var (
			eventID  uuid.UUID
			category string
			event    audit.Event
		)
		err := rows.Scan(
			&eventID,
			&category,
			&event.Timestamp,
			&event.Action,
			&event.CertificateHash,
			&event.TxHash,
			&event.ActorID,
			&event.Decision,
			&event.Reason,
			&event.RequestID,
			&event.ClientIP,
			&event.Client,
		)
		if err != nil {
			return nil, fmt.Errorf("scan audit event: %w", err)
		}
		event.ID = eventID.String()
		event.Category = audit.EventCategory(category)
		events = append(events, event)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate audit events: %w", err)
	}
	return events, nil
}

var (
	_ audit.Store  = (*Store)(nil)
	_ audit.Reader = (*Store)(nil)
)
