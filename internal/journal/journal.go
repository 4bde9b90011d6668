// Package journal keeps an operational record of every publish transaction the
// service has sent. The ledger stays the source of truth; the journal exists
// so an ambiguous outcome (a confirmation timeout) can be found and followed up.
package journal

import (
	"context"
	"time"

	"certledger/internal/certificate"
)

type State string

const (
	StateSubmitted State = "submitted"
	StateConfirmed State = "confirmed"
	StateReverted  State = "reverted"
	StateTimedOut  State = "timed_out"
)

// Terminal reports whether the ledger has settled the transaction.
func (s State) Terminal() bool {
	return s == StateConfirmed || s == StateReverted
}

type Entry struct {
	TxHash      string
	Fingerprint certificate.Fingerprint
	Signer      string
	State       State
	BlockNumber uint64
	IssuedAt    time.Time
	SubmittedAt time.Time
	UpdatedAt   time.Time
}

// Store is keyed by transaction hash. Record inserts or replaces the mutable
// fields (state, block, issuedAt, updatedAt); Find returns sentinel.ErrNotFound
// for unknown hashes.
type Store interface {
	Record(ctx context.Context, entry Entry) error
	Find(ctx context.Context, txHash string) (Entry, error)
	ListByFingerprint(ctx context.Context, fp certificate.Fingerprint) ([]Entry, error)
	ListByState(ctx context.Context, state State, limit int) ([]Entry, error)
}
