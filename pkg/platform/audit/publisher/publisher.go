// Package publisher emits audit events either inline or through a bounded
// buffer drained by a background worker.
//
// Async mode never blocks the caller: when the buffer is full the event is
// dropped and counted. Audit is an operational trail here, the ledger is the
// record of truth, so losing an event must not fail a publish or a verify.
package publisher

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	audit "certledger/pkg/platform/audit"
	"certledger/pkg/platform/audit/worker"
)

var (
	ErrBufferFull  = errors.New("audit buffer full")
	ErrClosed      = errors.New("audit publisher closed")
	ErrNotListable = errors.New("audit store does not support listing")
)

type Publisher struct {
	store  audit.Store
	logger *slog.Logger
	buffer int

	mu      sync.RWMutex
	closed  bool
	inbox   chan audit.Event
	done    chan struct{}
	dropped atomic.Int64
	onDrop  func()
}

type Option func(*Publisher)

// WithAsyncBuffer switches to async mode with a buffer of n events.
func WithAsyncBuffer(n int) Option {
	return func(p *Publisher) {
		if n > 0 {
			p.buffer = n
		}
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(p *Publisher) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// WithDropHook is called once per dropped event.
func WithDropHook(fn func()) Option {
	return func(p *Publisher) {
		p.onDrop = fn
	}
}

func NewPublisher(store audit.Store, opts ...Option) *Publisher {
	p := &Publisher{
		store:  store,
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.buffer > 0 {
		p.inbox = make(chan audit.Event, p.buffer)
		p.done = make(chan struct{})
		w := worker.NewWorker(store, p.inbox, worker.WithLogger(p.logger))
		go func() {
			defer close(p.done)
			_ = w.Run(context.Background())
		}()
	}
	return p
}

// Emit fills in ID, Timestamp and Category when unset, then stores or enqueues.
func (p *Publisher) Emit(ctx context.Context, event audit.Event) error {
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	if event.Category == "" {
		event.Category = audit.AuditEvent(event.Action).Category()
	}

	if p.inbox == nil {
		return p.store.Append(ctx, event)
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return ErrClosed
	}
	select {
	case p.inbox <- event:
		return nil
	default:
		p.dropped.Add(1)
		if p.onDrop != nil {
			p.onDrop()
		}
		p.logger.WarnContext(ctx, "audit buffer full, dropping event", "action", event.Action)
		return ErrBufferFull
	}
}

// List reads events back for one certificate when the store supports it.
func (p *Publisher) List(ctx context.Context, certificateHash string) ([]audit.Event, error) {
	reader, ok := p.store.(audit.Reader)
	if !ok {
		return nil, ErrNotListable
	}
	return reader.ListByCertificate(ctx, certificateHash)
}

// Recent returns the newest events when the store supports it.
func (p *Publisher) Recent(ctx context.Context, limit int) ([]audit.Event, error) {
	reader, ok := p.store.(audit.Reader)
	if !ok {
		return nil, ErrNotListable
	}
	return reader.ListRecent(ctx, limit)
}

func (p *Publisher) Dropped() int64 {
	return p.dropped.Load()
}

// Close stops accepting events and waits for the buffer to drain.
func (p *Publisher) Close() {
	if p.inbox == nil {
		return
	}
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	close(p.inbox)
	p.mu.Unlock()
	<-p.done
}
