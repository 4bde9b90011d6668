// Package issuance publishes certificates: validate, fingerprint, submit to the
// ledger, wait for confirmation, then build the verification artifact.
//
// A publish reports success only after confirmation. Once a transaction has
// been submitted the caller's cancellation no longer applies; the wait runs to
// its own timeout so the outcome can be journaled.
package issuance

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/singleflight"

	"certledger/internal/certificate"
	"certledger/internal/issuance/store/claim"
	"certledger/internal/journal"
	"certledger/internal/ledger"
	"certledger/internal/platform/metrics"
	"certledger/internal/verifylink"
	"certledger/pkg/attrs"
	dErrors "certledger/pkg/domain-errors"
	audit "certledger/pkg/platform/audit"
	"certledger/pkg/platform/sentinel"
	"certledger/pkg/requestcontext"
)

const (
	DefaultConfirmTimeout = 60 * time.Second
	DefaultClaimTTL       = 2 * time.Minute

	// claimMargin covers the submit call on top of the confirmation wait.
	claimMargin = 30 * time.Second
)

// ClaimStore hands out short-lived per-fingerprint publish claims. Acquire
// returns sentinel.ErrConflict while another holder owns the claim.
type ClaimStore interface {
	Acquire(ctx context.Context, fp certificate.Fingerprint, ttl time.Duration) (string, error)
	Release(ctx context.Context, fp certificate.Fingerprint, token string) error
}

type AuditPublisher interface {
	Emit(ctx context.Context, event audit.Event) error
}

// Service is safe for concurrent use.
type Service struct {
	gateway        ledger.Gateway
	encoder        *verifylink.Encoder
	journal        journal.Store
	claims         ClaimStore
	auditPublisher AuditPublisher
	metrics        *metrics.Metrics
	logger         *slog.Logger
	tracer         trace.Tracer
	confirmTimeout time.Duration
	claimTTL       time.Duration
	signer         string
	now            func() time.Time
	flight         singleflight.Group
}

type Option func(*Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

func WithAuditPublisher(publisher AuditPublisher) Option {
	return func(s *Service) {
		s.auditPublisher = publisher
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

// WithJournal records every submitted transaction and its outcome.
func WithJournal(store journal.Store) Option {
	return func(s *Service) {
		s.journal = store
	}
}

// WithClaims replaces the in-process claim store, e.g. with one shared
// through redis.
func WithClaims(store ClaimStore) Option {
	return func(s *Service) {
		if store != nil {
			s.claims = store
		}
	}
}

func WithConfirmTimeout(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.confirmTimeout = d
		}
	}
}

func WithClaimTTL(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.claimTTL = d
		}
	}
}

// WithSigner sets the identity used when a request names none.
func WithSigner(signer string) Option {
	return func(s *Service) {
		s.signer = signer
	}
}

func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

func New(gateway ledger.Gateway, encoder *verifylink.Encoder, opts ...Option) *Service {
	s := &Service{
		gateway:        gateway,
		encoder:        encoder,
		claims:         claim.NewInMemory(),
		logger:         slog.New(slog.NewTextHandler(io.Discard, nil)),
		tracer:         otel.Tracer("certledger/issuance"),
		confirmTimeout: DefaultConfirmTimeout,
		claimTTL:       DefaultClaimTTL,
		now:            time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	// A claim that expires while its publish is still waiting would let a
	// second publish of the same fingerprint submit again.
	if floor := s.confirmTimeout + claimMargin; s.claimTTL < floor {
		s.claimTTL = floor
	}
	return s
}

// Publish anchors a certificate and returns its artifact. Errors are coded:
// CodeValidation for bad input, and a wrapped *SubmissionError for ledger
// outcomes other than confirmation.
func (s *Service) Publish(ctx context.Context, req Request) (*Result, error) {
	start := time.Now()
	ctx, span := s.tracer.Start(ctx, "issuance.Publish")
	defer span.End()
	defer func() { s.metrics.ObservePublishLatency(time.Since(start)) }()

	run := &attempt{svc: s, span: span, state: StateValidating}
	if err := req.Identity.Validate(); err != nil {
		run.fail(ctx, err)
		s.metrics.IncrementPublishOutcome("invalid")
		s.logAudit(ctx, audit.EventCertificatePublishFailed,
			"outcome", "invalid",
			"reason", dErrors.MessageOf(err),
		)
		return nil, err
	}

	run.enter(ctx, StateHashing)
	fp := req.Identity.Fingerprint()
	span.SetAttributes(attribute.String("certificate.hash", fp.String()))

	// An artifact must be producible before anything is written to the ledger.
	if _, err := verifylink.URL(fp, req.BaseURL); err != nil {
		run.fail(ctx, err)
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "Failed to publish certificate: verification link base is not usable")
	}

	signer := req.Signer
	if signer == "" {
		signer = s.signer
	}
	sub := ledger.Submission{
		AwardeeName:     req.Identity.AwardeeName,
		CertificateName: req.Identity.CertificateName,
		CertificateCode: req.Identity.CertificateCode,
		Fingerprint:     fp,
		Signer:          signer,
	}

	run.enter(ctx, StateSubmitting)
	key := strings.Join([]string{fp.String(), sub.AwardeeName, strings.ToLower(signer)}, "\x00")
	v, err, shared := s.flight.Do(key, func() (any, error) {
		res, err := s.anchor(context.WithoutCancel(ctx), sub, func() {
			run.enter(ctx, StateAwaitingConfirmation)
		})
		if err != nil {
			return nil, err
		}
		return res, nil
	})
	if shared {
		s.logger.DebugContext(ctx, "joined in-flight publish",
			"request_id", requestcontext.RequestID(ctx),
			"certificate_hash", fp.Short(),
		)
	}
	if err != nil {
		run.fail(ctx, err)
		var se *SubmissionError
		if errors.As(err, &se) {
			return nil, se.asDomainError()
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "Failed to publish certificate")
	}
	res := v.(*anchored)

	run.enter(ctx, StateEncoding)
	artifact, err := s.encoder.Encode(fp, req.BaseURL)
	if err != nil {
		// The certificate is on the ledger; the artifact can be regenerated.
		run.fail(ctx, err)
		s.logger.ErrorContext(ctx, "verification artifact failed after confirmation",
			"request_id", requestcontext.RequestID(ctx),
			"certificate_hash", fp.String(),
			"tx_hash", res.handle.Hash,
			"error", err,
		)
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "Failed to publish certificate: could not render verification artifact")
	}

	run.enter(ctx, StateDone)
	return &Result{
		Fingerprint: fp,
		Artifact:    artifact,
		TxHash:      res.handle.Hash,
		BlockNumber: res.confirmation.BlockNumber,
		IssuedAt:    res.confirmation.BlockTime,
	}, nil
}

// anchor submits and waits. It runs once per in-flight identity; joiners share
// its outcome, so audit and metrics are recorded here. submitted is called
// once the transaction has left the service.
func (s *Service) anchor(ctx context.Context, sub ledger.Submission, submitted func()) (*anchored, error) {
	fp := sub.Fingerprint
	token, err := s.claims.Acquire(ctx, fp, s.claimTTL)
	switch {
	case errors.Is(err, sentinel.ErrConflict):
		return nil, s.submissionFailed(ctx, fp, &SubmissionError{Reason: ReasonInProgress, Err: err})
	case err != nil:
		s.logger.WarnContext(ctx, "publish claim unavailable, continuing without it",
			"request_id", requestcontext.RequestID(ctx),
			"certificate_hash", fp.Short(),
			"error", err,
		)
		token = ""
	}
	release := func() {
		if token == "" {
			return
		}
		if err := s.claims.Release(ctx, fp, token); err != nil {
			s.logger.WarnContext(ctx, "failed to release publish claim",
				"certificate_hash", fp.Short(),
				"error", err,
			)
		}
	}

	handle, err := s.gateway.SubmitCertificate(ctx, sub)
	if err != nil {
		release()
		return nil, s.submissionFailed(ctx, fp, &SubmissionError{Reason: reasonFor(err), Err: err})
	}
	s.logger.InfoContext(ctx, "certificate submitted",
		"request_id", requestcontext.RequestID(ctx),
		"certificate_hash", fp.Short(),
		"tx_hash", handle.Hash,
		"signer", handle.Signer,
	)
	s.record(ctx, journal.Entry{
		TxHash:      handle.Hash,
		Fingerprint: fp,
		Signer:      handle.Signer,
		State:       journal.StateSubmitted,
		SubmittedAt: handle.SubmittedAt,
		UpdatedAt:   s.now(),
	})
	submitted()

	waitStart := time.Now()
	conf, err := s.gateway.AwaitConfirmation(ctx, handle, s.confirmTimeout)
	if err != nil {
		s.logger.WarnContext(ctx, "confirmation wait ended early",
			"tx_hash", handle.Hash,
			"error", err,
		)
		conf = ledger.Confirmation{Status: ledger.StatusTimedOut, TxHash: handle.Hash}
	}

	entry := journal.Entry{
		TxHash:      handle.Hash,
		Fingerprint: fp,
		Signer:      handle.Signer,
		SubmittedAt: handle.SubmittedAt,
		BlockNumber: conf.BlockNumber,
		IssuedAt:    conf.BlockTime,
		UpdatedAt:   s.now(),
	}
	switch conf.Status {
	case ledger.StatusConfirmed:
		entry.State = journal.StateConfirmed
		s.record(ctx, entry)
		release()
		s.metrics.IncrementPublishOutcome(string(ledger.StatusConfirmed))
		s.logAudit(ctx, audit.EventCertificatePublished,
			"certificate_hash", fp.String(),
			"tx_hash", handle.Hash,
			"outcome", string(conf.Status),
			"block_number", conf.BlockNumber,
			"duration_ms", time.Since(waitStart).Milliseconds(),
		)
		return &anchored{handle: handle, confirmation: conf}, nil
	case ledger.StatusReverted:
		entry.State = journal.StateReverted
		s.record(ctx, entry)
		release()
		return nil, s.submissionFailed(ctx, fp, &SubmissionError{Reason: ReasonReverted, TxHash: handle.Hash})
	default:
		// Keep the claim: the transaction may still land and a resubmit
		// would double-issue. It lapses with its TTL.
		entry.State = journal.StateTimedOut
		s.record(ctx, entry)
		return nil, s.submissionFailed(ctx, fp, &SubmissionError{Reason: ReasonTimedOut, TxHash: handle.Hash})
	}
}

func (s *Service) submissionFailed(ctx context.Context, fp certificate.Fingerprint, se *SubmissionError) *SubmissionError {
	s.metrics.IncrementPublishOutcome(string(se.Reason))
	args := []any{
		"certificate_hash", fp.String(),
		"outcome", string(se.Reason),
	}
	if se.TxHash != "" {
		args = append(args, "tx_hash", se.TxHash)
	}
	if se.Err != nil {
		s.logger.WarnContext(ctx, "ledger submission failed",
			"request_id", requestcontext.RequestID(ctx),
			"certificate_hash", fp.Short(),
			"reason", string(se.Reason),
			"error", se.Err,
		)
		args = append(args, "reason", string(ledger.CategoryOf(se.Err)))
	}
	s.logAudit(ctx, audit.EventCertificatePublishFailed, args...)
	return se
}

// Status reports where a transaction stands. A settled outcome for a journaled
// transaction is written back so timed-out publishes get closed out.
func (s *Service) Status(ctx context.Context, txHash string) (*TxStatus, error) {
	txHash = strings.TrimSpace(txHash)
	if txHash == "" {
		return nil, dErrors.New(dErrors.CodeValidation, "Missing parameter: tx_hash")
	}

	conf, err := s.gateway.TransactionStatus(ctx, txHash)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.New(dErrors.CodeNotFound, "transaction not found")
		}
		s.logger.WarnContext(ctx, "transaction status unavailable",
			"request_id", requestcontext.RequestID(ctx),
			"tx_hash", txHash,
			"error", err,
		)
		return nil, dErrors.Wrap(err, dErrors.CodeLedgerUnavailable, "ledger unavailable")
	}

	status := &TxStatus{
		TxHash:      txHash,
		Status:      conf.Status,
		BlockNumber: conf.BlockNumber,
		IssuedAt:    conf.BlockTime,
	}
	if s.journal == nil {
		return status, nil
	}
	entry, err := s.journal.Find(ctx, txHash)
	if err != nil {
		if !errors.Is(err, sentinel.ErrNotFound) {
			s.logger.WarnContext(ctx, "journal lookup failed", "tx_hash", txHash, "error", err)
		}
		return status, nil
	}
	status.Fingerprint = entry.Fingerprint

	settled, ok := journalState(conf.Status)
	if !ok || entry.State.Terminal() {
		return status, nil
	}
	previous := entry.State
	entry.State = settled
	entry.BlockNumber = conf.BlockNumber
	entry.IssuedAt = conf.BlockTime
	entry.UpdatedAt = s.now()
	s.record(ctx, entry)
	if previous == journal.StateTimedOut {
		event := audit.EventCertificatePublished
		if settled == journal.StateReverted {
			event = audit.EventCertificatePublishFailed
		}
		s.logAudit(ctx, event,
			"certificate_hash", entry.Fingerprint.String(),
			"tx_hash", entry.TxHash,
			"outcome", string(conf.Status),
			"reason", "settled after confirmation timeout",
		)
	}
	return status, nil
}

// Unsettled lists journaled transactions whose outcome is still open, oldest
// first.
func (s *Service) Unsettled(ctx context.Context, limit int) ([]journal.Entry, error) {
	if s.journal == nil {
		return []journal.Entry{}, nil
	}
	var out []journal.Entry
	for _, state := range []journal.State{journal.StateTimedOut, journal.StateSubmitted} {
		entries, err := s.journal.ListByState(ctx, state, limit)
		if err != nil {
			return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to read journal")
		}
		out = append(out, entries...)
	}
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Artifact rebuilds the verification artifact for a fingerprint. It never
// touches the ledger.
func (s *Service) Artifact(raw, baseURL string) (verifylink.Artifact, error) {
	fp, err := certificate.ParseFingerprint(raw)
	if err != nil {
		return verifylink.Artifact{}, err
	}
	artifact, err := s.encoder.Encode(fp, baseURL)
	if err != nil {
		return verifylink.Artifact{}, dErrors.Wrap(err, dErrors.CodeInternal, "failed to build verification artifact")
	}
	return artifact, nil
}

func journalState(status ledger.ConfirmationStatus) (journal.State, bool) {
	switch status {
	case ledger.StatusConfirmed:
		return journal.StateConfirmed, true
	case ledger.StatusReverted:
		return journal.StateReverted, true
	}
	return "", false
}

// record never fails a publish; the journal is an operational aid.
func (s *Service) record(ctx context.Context, entry journal.Entry) {
	if s.journal == nil {
		return
	}
	if err := s.journal.Record(ctx, entry); err != nil {
		s.logger.ErrorContext(ctx, "failed to journal transaction",
			"tx_hash", entry.TxHash,
			"state", string(entry.State),
			"error", err,
		)
	}
}

func (s *Service) logAudit(ctx context.Context, event audit.AuditEvent, attributes ...any) {
	if requestID := requestcontext.RequestID(ctx); requestID != "" {
		attributes = append(attributes, "request_id", requestID)
	}
	args := append(attributes, "event", string(event), "log_type", "audit")
	s.logger.InfoContext(ctx, string(event), args...)
	if s.auditPublisher == nil {
		return
	}
	_ = s.auditPublisher.Emit(ctx, audit.Event{
		Action:          string(event),
		CertificateHash: attrs.ExtractString(attributes, "certificate_hash"),
		TxHash:          attrs.ExtractString(attributes, "tx_hash"),
		Decision:        attrs.ExtractString(attributes, "outcome"),
		Reason:          attrs.ExtractString(attributes, "reason"),
		ActorID:         requestcontext.OperatorID(ctx),
		RequestID:       requestcontext.RequestID(ctx),
		ClientIP:        requestcontext.ClientIP(ctx),
		Client:          requestcontext.Client(ctx),
	})
}

// attempt tracks one publish through its states for logs and the trace.
type attempt struct {
	svc   *Service
	span  trace.Span
	state State
}

func (a *attempt) enter(ctx context.Context, next State) {
	a.svc.logger.DebugContext(ctx, "publish state",
		"request_id", requestcontext.RequestID(ctx),
		"from", string(a.state),
		"to", string(next),
	)
	a.state = next
	a.span.AddEvent(string(next))
}

func (a *attempt) fail(ctx context.Context, err error) {
	a.svc.logger.InfoContext(ctx, "publish failed",
		"request_id", requestcontext.RequestID(ctx),
		"state", string(a.state),
		"error", err,
	)
	a.span.RecordError(err)
	a.span.SetStatus(codes.Error, string(a.state))
	a.state = StateFailed
}
