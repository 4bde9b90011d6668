package ledger

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"time"

	"certledger/internal/certificate"
	"certledger/pkg/platform/circuit"
	"certledger/pkg/platform/sentinel"
)

// Observer receives per-call telemetry from Guarded.
type Observer interface {
	ObserveLedgerCall(op string, duration time.Duration, err error)
	SetLedgerCircuitOpen(open bool)
}

// Guarded decorates a Gateway with a circuit breaker and call telemetry.
// Only connectivity failures trip the breaker: a registry that answers
// "rejected" or "not found" is healthy.
type Guarded struct {
	inner    Gateway
	breaker  *circuit.Breaker
	observer Observer
	logger   *slog.Logger
}

type GuardOption func(*Guarded)

func WithObserver(o Observer) GuardOption {
	return func(g *Guarded) {
		g.observer = o
	}
}

func WithLogger(logger *slog.Logger) GuardOption {
	return func(g *Guarded) {
		if logger != nil {
			g.logger = logger
		}
	}
}

// NewBreaker builds the breaker for Guarded. It opens after failureThreshold
// consecutive connectivity failures and closes on the first successful probe
// after cooldown. Guarded has no fallback, so calls shed while open surface as
// ErrCircuitOpen.
func NewBreaker(failureThreshold int, cooldown time.Duration, opts ...circuit.Option) *circuit.Breaker {
	base := []circuit.Option{
		circuit.WithFailureThreshold(failureThreshold),
		circuit.WithSuccessThreshold(1),
		circuit.WithCooldown(cooldown),
	}
	return circuit.New("ledger", append(base, opts...)...)
}

func NewGuarded(inner Gateway, breaker *circuit.Breaker, opts ...GuardOption) *Guarded {
	g := &Guarded{
		inner:   inner,
		breaker: breaker,
		logger:  slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

func (g *Guarded) IsReachable(ctx context.Context) bool {
	start := time.Now()
	ok := g.inner.IsReachable(ctx)
	var err error
	if !ok {
		err = ErrUnreachable
	}
	g.record(ctx, "probe", start, err, !ok)
	return ok
}

func (g *Guarded) SubmitCertificate(ctx context.Context, submission Submission) (TxHandle, error) {
	if !g.breaker.Allow() {
		return TxHandle{}, NewError(CategoryUnavailable, "submit", "shedding calls while ledger is unreachable", ErrCircuitOpen)
	}
	start := time.Now()
	handle, err := g.inner.SubmitCertificate(ctx, submission)
	g.record(ctx, "submit", start, err, CategoryOf(err) == CategoryUnavailable)
	return handle, err
}

func (g *Guarded) AwaitConfirmation(ctx context.Context, handle TxHandle, timeout time.Duration) (Confirmation, error) {
	start := time.Now()
	conf, err := g.inner.AwaitConfirmation(ctx, handle, timeout)
	if g.observer != nil {
		g.observer.ObserveLedgerCall("await", time.Since(start), err)
	}
	return conf, err
}

func (g *Guarded) QueryCertificate(ctx context.Context, fingerprint certificate.Fingerprint) QueryResult {
	if !g.breaker.Allow() {
		return ConnectionError(ErrCircuitOpen)
	}
	start := time.Now()
	res := g.inner.QueryCertificate(ctx, fingerprint)
	var err error
	if res.Outcome == OutcomeConnectionError {
		err = res.Err
	}
	g.record(ctx, "query", start, err, err != nil)
	return res
}

func (g *Guarded) TransactionStatus(ctx context.Context, txHash string) (Confirmation, error) {
	if !g.breaker.Allow() {
		return Confirmation{}, NewError(CategoryUnavailable, "status", "shedding calls while ledger is unreachable", ErrCircuitOpen)
	}
	start := time.Now()
	conf, err := g.inner.TransactionStatus(ctx, txHash)
	failed := err != nil && !errors.Is(err, sentinel.ErrNotFound) && CategoryOf(err) == CategoryUnavailable
	g.record(ctx, "status", start, err, failed)
	return conf, err
}

func (g *Guarded) record(ctx context.Context, op string, start time.Time, err error, connectivityFailure bool) {
	if g.observer != nil {
		g.observer.ObserveLedgerCall(op, time.Since(start), err)
	}
	var change circuit.StateChange
	if connectivityFailure {
		_, change = g.breaker.RecordFailure()
	} else {
		_, change = g.breaker.RecordSuccess()
	}
	if change.Opened {
		g.logger.WarnContext(ctx, "ledger circuit opened", "op", op, "error", err)
	}
	if change.Closed {
		g.logger.InfoContext(ctx, "ledger circuit closed", "op", op)
	}
	if (change.Opened || change.Closed) && g.observer != nil {
		g.observer.SetLedgerCircuitOpen(change.Opened)
	}
}
