package operator

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"certledger/internal/operator/store/lockout"
	dErrors "certledger/pkg/domain-errors"
	audit "certledger/pkg/platform/audit"
	"certledger/pkg/requestcontext"
)

type AuditPublisher interface {
	Emit(ctx context.Context, event audit.Event) error
}

// LockoutStore counts failed logins per key within a fixed window.
type LockoutStore interface {
	RecordFailure(ctx context.Context, key string, window time.Duration) (int, time.Time, error)
	Failures(ctx context.Context, key string) (int, time.Time, error)
	Clear(ctx context.Context, key string) error
}

const (
	DefaultLockoutAttempts = 5
	DefaultLockoutWindow   = 15 * time.Minute
)

// LockedOutError is returned, wrapped as CodeRateLimited, while a
// username/IP pair has spent its failed attempts.
type LockedOutError struct {
	Until time.Time
}

func (e *LockedOutError) Error() string {
	return fmt.Sprintf("operator login locked until %s", e.Until.UTC().Format(time.RFC3339))
}

// Session is the result of a successful login.
type Session struct {
	Token     string
	ExpiresAt time.Time
}

type Service struct {
	authenticator   Authenticator
	tokens          *TokenService
	auditPublisher  AuditPublisher
	logger          *slog.Logger
	lockout         LockoutStore
	lockoutAttempts int
	lockoutWindow   time.Duration
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

// WithLockout refuses logins for a username/IP pair after attempts failures
// within window.
func WithLockout(store LockoutStore, attempts int, window time.Duration) Option {
	return func(s *Service) {
		s.lockout = store
		if attempts > 0 {
			s.lockoutAttempts = attempts
		}
		if window > 0 {
			s.lockoutWindow = window
		}
	}
}

func NewService(authenticator Authenticator, tokens *TokenService, opts ...Option) *Service {
	s := &Service{
		authenticator:   authenticator,
		tokens:          tokens,
		logger:          slog.New(slog.NewTextHandler(io.Discard, nil)),
		lockoutAttempts: DefaultLockoutAttempts,
		lockoutWindow:   DefaultLockoutWindow,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Login returns CodeBadRequest for missing fields and CodeUnauthorized for a
// wrong pair. The two failure messages never say which half was wrong.
// With a lockout configured, CodeRateLimited wraps a *LockedOutError.
func (s *Service) Login(ctx context.Context, username, password string) (*Session, error) {
	username = strings.TrimSpace(username)
	if username == "" || password == "" {
		return nil, dErrors.New(dErrors.CodeBadRequest, "Invalid input")
	}

	key := lockout.Key(username, requestcontext.ClientIP(ctx))
	if until, locked := s.lockedOut(ctx, key); locked {
		s.logAudit(ctx, audit.EventOperatorLoginFailed, username, "locked_out")
		return nil, dErrors.Wrap(&LockedOutError{Until: until}, dErrors.CodeRateLimited, "Too many failed login attempts")
	}

	if !s.authenticator.Authenticate(username, password) {
		s.recordFailure(ctx, key)
		s.logAudit(ctx, audit.EventOperatorLoginFailed, username, "invalid_credentials")
		return nil, dErrors.New(dErrors.CodeUnauthorized, "Invalid credentials")
	}
	if s.lockout != nil {
		if err := s.lockout.Clear(ctx, key); err != nil {
			s.logger.WarnContext(ctx, "failed to clear login failures", "error", err)
		}
	}
	token, expiresAt, err := s.tokens.Issue(username)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to issue session token")
	}
	s.logAudit(ctx, audit.EventOperatorLoginSucceeded, username, "")
	return &Session{Token: token, ExpiresAt: expiresAt}, nil
}

// lockedOut fails open: a broken counter store must not lock operators out.
func (s *Service) lockedOut(ctx context.Context, key string) (time.Time, bool) {
	if s.lockout == nil {
		return time.Time{}, false
	}
	failures, resetAt, err := s.lockout.Failures(ctx, key)
	if err != nil {
		s.logger.WarnContext(ctx, "login lockout check failed", "error", err)
		return time.Time{}, false
	}
	return resetAt, failures >= s.lockoutAttempts
}

func (s *Service) recordFailure(ctx context.Context, key string) {
	if s.lockout == nil {
		return
	}
	if _, _, err := s.lockout.RecordFailure(ctx, key, s.lockoutWindow); err != nil {
		s.logger.WarnContext(ctx, "failed to record login failure", "error", err)
	}
}

func (s *Service) logAudit(ctx context.Context, event audit.AuditEvent, operatorID, reason string) {
	requestID := requestcontext.RequestID(ctx)
	s.logger.InfoContext(ctx, string(event),
		"operator_id", operatorID,
		"reason", reason,
		"request_id", requestID,
		"client_ip", requestcontext.ClientIP(ctx),
		"log_type", "audit",
	)
	if s.auditPublisher == nil {
		return
	}
	_ = s.auditPublisher.Emit(ctx, audit.Event{
		Action:    string(event),
		ActorID:   operatorID,
		Reason:    reason,
		RequestID: requestID,
		ClientIP:  requestcontext.ClientIP(ctx),
		Client:    requestcontext.Client(ctx),
	})
}
