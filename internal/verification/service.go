// Package verification answers "was this certificate published?" from the
// ledger. It is read-only: a query never changes ledger state, and "absent"
// is never confused with "could not ask".
package verification

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"certledger/internal/certificate"
	"certledger/internal/ledger"
	"certledger/internal/platform/metrics"
	"certledger/pkg/attrs"
	dErrors "certledger/pkg/domain-errors"
	audit "certledger/pkg/platform/audit"
	"certledger/pkg/requestcontext"
)

// ErrLedgerUnavailable marks a verification that could not reach the ledger.
// It is a distinct failure, never a "not verified" answer.
var ErrLedgerUnavailable = errors.New("ledger unavailable")

const DefaultCacheTTL = 5 * time.Minute

type Status string

const (
	StatusVerified Status = "verified"
	StatusNotFound Status = "not_found"
)

type Result struct {
	Status      Status
	Fingerprint certificate.Fingerprint
	// Certificate is set only when Status is StatusVerified.
	Certificate certificate.Certificate
}

func (r Result) Verified() bool {
	return r.Status == StatusVerified
}

// Cache holds verified certificates. Only Found answers are ever stored: a
// miss may be published a second later, and an outage says nothing.
type Cache interface {
	Get(ctx context.Context, fp certificate.Fingerprint) (certificate.Certificate, bool, error)
	Put(ctx context.Context, cert certificate.Certificate, ttl time.Duration) error
}

type AuditPublisher interface {
	Emit(ctx context.Context, event audit.Event) error
}

type Service struct {
	gateway        ledger.Gateway
	cache          Cache
	cacheTTL       time.Duration
	auditPublisher AuditPublisher
	metrics        *metrics.Metrics
	logger         *slog.Logger
	tracer         trace.Tracer
}

type Option func(*Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

func WithCache(cache Cache, ttl time.Duration) Option {
	return func(s *Service) {
		s.cache = cache
		if ttl > 0 {
			s.cacheTTL = ttl
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

func New(gateway ledger.Gateway, opts ...Option) *Service {
	s := &Service{
		gateway:  gateway,
		cacheTTL: DefaultCacheTTL,
		logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
		tracer:   otel.Tracer("certledger/verification"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Verify looks a fingerprint up. Input is trimmed and lower-cased; any
// non-empty value is queried, and the ledger answers NotFound for keys it
// does not hold. Infrastructure failures return an error wrapping
// ErrLedgerUnavailable with CodeLedgerUnavailable.
func (s *Service) Verify(ctx context.Context, raw string) (*Result, error) {
	ctx, span := s.tracer.Start(ctx, "verification.Verify")
	defer span.End()

	normalized := strings.ToLower(strings.TrimSpace(raw))
	if normalized == "" {
		s.metrics.IncrementVerificationOutcome("invalid")
		return nil, dErrors.New(dErrors.CodeValidation, "Missing parameter: certificate_hash")
	}
	fp := certificate.Fingerprint(normalized)
	span.SetAttributes(attribute.String("certificate.hash", fp.String()))

	if cert, ok := s.cached(ctx, fp); ok {
		span.SetAttributes(attribute.Bool("cache.hit", true))
		return s.verified(ctx, fp, cert), nil
	}

	start := time.Now()
	res := s.gateway.QueryCertificate(ctx, fp)
	switch res.Outcome {
	case ledger.OutcomeFound:
		s.store(ctx, res.Certificate)
		return s.verified(ctx, fp, res.Certificate), nil
	case ledger.OutcomeNotFound:
		s.metrics.IncrementVerificationOutcome(string(StatusNotFound))
		s.logAudit(ctx, audit.EventCertificateNotFound,
			"certificate_hash", fp.String(),
			"outcome", string(StatusNotFound),
			"duration_ms", time.Since(start).Milliseconds(),
		)
		return &Result{Status: StatusNotFound, Fingerprint: fp}, nil
	default:
		span.RecordError(res.Err)
		span.SetStatus(codes.Error, "ledger unavailable")
		s.metrics.IncrementVerificationOutcome("unavailable")
		s.logger.WarnContext(ctx, "verification query failed",
			"request_id", requestcontext.RequestID(ctx),
			"certificate_hash", fp.Short(),
			"error", res.Err,
		)
		s.logAudit(ctx, audit.EventVerificationUnavailable,
			"certificate_hash", fp.String(),
			"outcome", "unavailable",
			"reason", string(ledger.CategoryOf(res.Err)),
		)
		return nil, dErrors.Wrap(fmt.Errorf("%w: %w", ErrLedgerUnavailable, res.Err),
			dErrors.CodeLedgerUnavailable, "Unable to verify certificate: ledger unavailable")
	}
}

func (s *Service) verified(ctx context.Context, fp certificate.Fingerprint, cert certificate.Certificate) *Result {
	s.metrics.IncrementVerificationOutcome(string(StatusVerified))
	s.logAudit(ctx, audit.EventCertificateVerified,
		"certificate_hash", fp.String(),
		"outcome", string(StatusVerified),
	)
	return &Result{Status: StatusVerified, Fingerprint: fp, Certificate: cert}
}

// cached treats every cache failure as a miss.
func (s *Service) cached(ctx context.Context, fp certificate.Fingerprint) (certificate.Certificate, bool) {
	if s.cache == nil {
		return certificate.Certificate{}, false
	}
	cert, ok, err := s.cache.Get(ctx, fp)
	switch {
	case err != nil:
		s.metrics.IncrementCacheLookup("error")
		s.logger.WarnContext(ctx, "verification cache read failed", "certificate_hash", fp.Short(), "error", err)
		return certificate.Certificate{}, false
	case !ok:
		s.metrics.IncrementCacheLookup("miss")
		return certificate.Certificate{}, false
	}
	s.metrics.IncrementCacheLookup("hit")
	return cert, true
}

func (s *Service) store(ctx context.Context, cert certificate.Certificate) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Put(ctx, cert, s.cacheTTL); err != nil {
		s.logger.WarnContext(ctx, "verification cache write failed", "certificate_hash", cert.Fingerprint.Short(), "error", err)
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
		Decision:        attrs.ExtractString(attributes, "outcome"),
		Reason:          attrs.ExtractString(attributes, "reason"),
		RequestID:       requestcontext.RequestID(ctx),
		ClientIP:        requestcontext.ClientIP(ctx),
		Client:          requestcontext.Client(ctx),
	})
}
