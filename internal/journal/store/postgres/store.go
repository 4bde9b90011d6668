// Package postgres persists the submission journal through a pgx pool.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"certledger/internal/certificate"
	"certledger/internal/journal"
	"certledger/pkg/platform/sentinel"
)

const schema = `
CREATE TABLE IF NOT EXISTS publish_journal (
	tx_hash      TEXT PRIMARY KEY,
	fingerprint  TEXT NOT NULL,
	signer       TEXT NOT NULL,
	state        TEXT NOT NULL,
	block_number BIGINT NOT NULL DEFAULT 0,
	issued_at    TIMESTAMPTZ,
	submitted_at TIMESTAMPTZ NOT NULL,
	updated_at   TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_publish_journal_fingerprint ON publish_journal (fingerprint);
CREATE INDEX IF NOT EXISTS idx_publish_journal_state ON publish_journal (state, submitted_at);
`

const selectColumns = `tx_hash, fingerprint, signer, state, block_number, issued_at, submitted_at, updated_at`

type Store struct {
	pool *pgxpool.Pool
}

// Connect opens a pool for dsn and checks it answers.
func Connect(ctx context.Context, dsn string) (*pgxpool.Pool, error) {
	if strings.TrimSpace(dsn) == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return pool, nil
}

func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

func (s *Store) EnsureSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("create journal schema: %w", err)
	}
	return nil
}

func (s *Store) Record(ctx context.Context, entry journal.Entry) error {
	var issuedAt *time.Time
	if !entry.IssuedAt.IsZero() {
		t := entry.IssuedAt.UTC()
		issuedAt = &t
	}
	updatedAt := entry.UpdatedAt
	if updatedAt.IsZero() {
		updatedAt = time.Now()
	}
	submittedAt := entry.SubmittedAt
	if submittedAt.IsZero() {
		submittedAt = updatedAt
	}
	_, err := s.pool.Exec(ctx, `
INSERT INTO publish_journal (tx_hash, fingerprint, signer, state, block_number, issued_at, submitted_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
ON CONFLICT (tx_hash) DO UPDATE SET
	state = EXCLUDED.state,
	block_number = EXCLUDED.block_number,
	issued_at = EXCLUDED.issued_at,
	updated_at = EXCLUDED.updated_at`,
		strings.ToLower(entry.TxHash),
		entry.Fingerprint.String(),
		entry.Signer,
		string(entry.State),
		int64(entry.BlockNumber),
		issuedAt,
		submittedAt.UTC(),
		updatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("record journal entry %s: %w", entry.TxHash, err)
	}
	return nil
}

func (s *Store) Find(ctx context.Context, txHash string) (journal.Entry, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+selectColumns+` FROM publish_journal WHERE tx_hash = $1`, strings.ToLower(txHash))
	entry, err := scanEntry(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return journal.Entry{}, fmt.Errorf("journal entry %s: %w", txHash, sentinel.ErrNotFound)
		}
		return journal.Entry{}, fmt.Errorf("find journal entry %s: %w", txHash, err)
	}
	return entry, nil
}

func (s *Store) ListByFingerprint(ctx context.Context, fp certificate.Fingerprint) ([]journal.Entry, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+selectColumns+` FROM publish_journal
WHERE fingerprint = $1 ORDER BY submitted_at ASC, tx_hash ASC`, fp.String())
	if err != nil {
		return nil, fmt.Errorf("list journal by fingerprint: %w", err)
	}
	return collect(rows)
}

func (s *Store) ListByState(ctx context.Context, state journal.State, limit int) ([]journal.Entry, error) {
	query := `SELECT ` + selectColumns + ` FROM publish_journal
WHERE state = $1 ORDER BY submitted_at ASC, tx_hash ASC`
	args := []any{string(state)}
	if limit > 0 {
		query += ` LIMIT $2`
		args = append(args, limit)
	}
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list journal by state: %w", err)
	}
	return collect(rows)
}

func collect(rows pgx.Rows) ([]journal.Entry, error) {
	defer rows.Close()
	out := make([]journal.Entry, 0)
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, entry)
	}
	return out, rows.Err()
}

func scanEntry(row pgx.Row) (journal.Entry, error) {
	var (
		entry       journal.Entry
		fingerprint string
		state       string
		block       int64
		issuedAt    *time.Time
	)
	if err := row.Scan(&entry.TxHash, &fingerprint, &entry.Signer, &state, &block, &issuedAt, &entry.SubmittedAt, &entry.UpdatedAt); err != nil {
		return journal.Entry{}, err
	}
	entry.Fingerprint = certificate.Fingerprint(fingerprint)
	entry.State = journal.State(state)
	entry.BlockNumber = uint64(block)
	if issuedAt != nil {
		entry.IssuedAt = issuedAt.UTC()
	}
	entry.SubmittedAt = entry.SubmittedAt.UTC()
	entry.UpdatedAt = entry.UpdatedAt.UTC()
	return entry, nil
}

var _ journal.Store = (*Store)(nil)
