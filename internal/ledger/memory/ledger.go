// Package memory is an in-process registry with ledger semantics: submissions
// are pending until "mined" into a block, blocks carry non-decreasing
// timestamps, and records are only written by confirmed transactions.
// It backs LEDGER_MODE=memory and the test suites.
package memory

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"sync"
	"time"

	"certledger/internal/certificate"
	"certledger/internal/ledger"
	"certledger/pkg/platform/sentinel"
)

// DefaultSigner is the identity used when a submission names none.
const DefaultSigner = "0x0000000000000000000000000000000000c0ffee"

type transaction struct {
	submission  ledger.Submission
	submittedAt time.Time
	status      ledger.ConfirmationStatus
	revert      bool
	block       uint64
	blockTime   time.Time
}

// Ledger is safe for concurrent use.
type Ledger struct {
	confirmDelay time.Duration
	pollInterval time.Duration
	now          func() time.Time
	signers      map[string]bool

	mu            sync.Mutex
	records       map[certificate.Fingerprint]certificate.Certificate
	txs           map[string]*transaction
	nonce         uint64
	height        uint64
	lastBlockTime time.Time
	reachable     bool
	revertNext    bool
}

type Option func(*Ledger)

// WithConfirmDelay sets how long a transaction stays pending.
func WithConfirmDelay(d time.Duration) Option {
	return func(l *Ledger) {
		l.confirmDelay = d
	}
}

func WithPollInterval(d time.Duration) Option {
	return func(l *Ledger) {
		if d > 0 {
			l.pollInterval = d
		}
	}
}

// WithClock replaces time.Now for block timestamps.
func WithClock(now func() time.Time) Option {
	return func(l *Ledger) {
		if now != nil {
			l.now = now
		}
	}
}

// WithSigners restricts submissions to the given identities.
func WithSigners(signers ...string) Option {
	return func(l *Ledger) {
		for _, s := range signers {
			l.signers[strings.ToLower(s)] = true
		}
	}
}

func New(opts ...Option) *Ledger {
	l := &Ledger{
		pollInterval: 5 * time.Millisecond,
		now:          time.Now,
		signers:      make(map[string]bool),
		records:      make(map[certificate.Fingerprint]certificate.Certificate),
		txs:          make(map[string]*transaction),
		reachable:    true,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// SetReachable simulates the endpoint going down or coming back.
func (l *Ledger) SetReachable(reachable bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.reachable = reachable
}

// RevertNext makes the next submitted transaction revert when mined.
func (l *Ledger) RevertNext() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.revertNext = true
}

// Submissions counts accepted transactions, mined or not.
func (l *Ledger) Submissions() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.txs)
}

func (l *Ledger) Height() uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.height
}

func (l *Ledger) IsReachable(_ context.Context) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.reachable
}

func (l *Ledger) SubmitCertificate(ctx context.Context, sub ledger.Submission) (ledger.TxHandle, error) {
	if err := ctx.Err(); err != nil {
		return ledger.TxHandle{}, ledger.NewError(ledger.CategoryUnavailable, "submit", "context done", err)
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	if !l.reachable {
		return ledger.TxHandle{}, ledger.NewError(ledger.CategoryUnavailable, "submit", "endpoint unreachable", ledger.ErrUnreachable)
	}
	signer := strings.ToLower(sub.Signer)
	if signer == "" {
		signer = DefaultSigner
	}
	if len(l.signers) > 0 && !l.signers[signer] {
		return ledger.TxHandle{}, ledger.NewError(ledger.CategoryUnauthorized, "submit", "unknown signer "+signer, nil)
	}
	if err := sub.Validate(); err != nil {
		return ledger.TxHandle{}, ledger.NewError(ledger.CategoryRejected, "submit", err.Error(), nil)
	}

	l.nonce++
	sum := sha256.Sum256([]byte(fmt.Sprintf("%s|%s|%d", sub.Fingerprint, signer, l.nonce)))
	hash := "0x" + hex.EncodeToString(sum[:])
	submittedAt := l.now()
	l.txs[hash] = &transaction{
		submission:  sub,
		submittedAt: submittedAt,
		status:      ledger.StatusPending,
		revert:      l.revertNext,
	}
	l.revertNext = false

	return ledger.TxHandle{Hash: hash, Fingerprint: sub.Fingerprint, Signer: signer, SubmittedAt: submittedAt}, nil
}

func (l *Ledger) AwaitConfirmation(ctx context.Context, handle ledger.TxHandle, timeout time.Duration) (ledger.Confirmation, error) {
	deadline := time.Now().Add(timeout)
	for {
		conf, known := l.poll(handle.Hash)
		if !known {
			return ledger.Confirmation{}, fmt.Errorf("await %s: %w", handle.Hash, sentinel.ErrNotFound)
		}
		if conf.Status != ledger.StatusPending {
			return conf, nil
		}
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return ledger.Confirmation{Status: ledger.StatusTimedOut, TxHash: handle.Hash}, nil
		}
		wait := min(l.pollInterval, remaining)
		select {
		case <-ctx.Done():
			return ledger.Confirmation{Status: ledger.StatusPending, TxHash: handle.Hash}, ctx.Err()
		case <-time.After(wait):
		}
	}
}

func (l *Ledger) TransactionStatus(_ context.Context, txHash string) (ledger.Confirmation, error) {
	l.mu.Lock()
	reachable := l.reachable
	l.mu.Unlock()
	if !reachable {
		return ledger.Confirmation{}, ledger.NewError(ledger.CategoryUnavailable, "status", "endpoint unreachable", ledger.ErrUnreachable)
	}
	conf, known := l.poll(txHash)
	if !known {
		return ledger.Confirmation{}, fmt.Errorf("transaction %s: %w", txHash, sentinel.ErrNotFound)
	}
	return conf, nil
}

func (l *Ledger) QueryCertificate(ctx context.Context, fp certificate.Fingerprint) ledger.QueryResult {
	if err := ctx.Err(); err != nil {
		return ledger.ConnectionError(err)
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.reachable {
		return ledger.ConnectionError(ledger.NewError(ledger.CategoryUnavailable, "query", "endpoint unreachable", ledger.ErrUnreachable))
	}
	c, ok := l.records[fp]
	if !ok {
		return ledger.NotFound()
	}
	return ledger.Found(c)
}

// poll mines the transaction if it is due and the endpoint is up, then reports it.
func (l *Ledger) poll(hash string) (ledger.Confirmation, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	t, ok := l.txs[hash]
	if !ok {
		return ledger.Confirmation{}, false
	}
	if l.reachable {
		l.mineLocked(t)
	}
	return ledger.Confirmation{
		Status:      t.status,
		TxHash:      hash,
		BlockNumber: t.block,
		BlockTime:   t.blockTime,
	}, true
}

func (l *Ledger) mineLocked(t *transaction) {
	if t.status != ledger.StatusPending {
		return
	}
	now := l.now()
	if now.Sub(t.submittedAt) < l.confirmDelay {
		return
	}
	if now.Before(l.lastBlockTime) {
		now = l.lastBlockTime
	}
	l.height++
	l.lastBlockTime = now
	t.block = l.height
	t.blockTime = now
	if t.revert {
		t.status = ledger.StatusReverted
		return
	}
	t.status = ledger.StatusConfirmed
	// Plain mapping assignment: a later publish of the same key overwrites.
	l.records[t.submission.Fingerprint] = certificate.Certificate{
		AwardeeName:     t.submission.AwardeeName,
		CertificateName: t.submission.CertificateName,
		CertificateCode: t.submission.CertificateCode,
		Fingerprint:     t.submission.Fingerprint,
		IssuedAt:        now,
	}
}

var _ ledger.Gateway = (*Ledger)(nil)
