package httptransport

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"certledger/internal/issuance"
	"certledger/internal/journal"
	"certledger/internal/operator"
	"certledger/internal/verification"
	"certledger/internal/verifylink"
	audit "certledger/pkg/platform/audit"
	"certledger/pkg/platform/middleware/metadata"
	operatormw "certledger/pkg/platform/middleware/operator"
	"certledger/pkg/platform/middleware/request"
	"certledger/pkg/platform/middleware/requesttime"
)

// IssuanceService is the publish side of the API.
type IssuanceService interface {
	Publish(ctx context.Context, req issuance.Request) (*issuance.Result, error)
	Status(ctx context.Context, txHash string) (*issuance.TxStatus, error)
	Unsettled(ctx context.Context, limit int) ([]journal.Entry, error)
	Artifact(raw, baseURL string) (verifylink.Artifact, error)
}

type VerificationService interface {
	Verify(ctx context.Context, raw string) (*verification.Result, error)
}

type LoginService interface {
	Login(ctx context.Context, username, password string) (*operator.Session, error)
}

type AuditReader interface {
	List(ctx context.Context, certificateHash string) ([]audit.Event, error)
	Recent(ctx context.Context, limit int) ([]audit.Event, error)
}

type HealthChecker interface {
	IsReachable(ctx context.Context) bool
}

// Dependencies are the collaborators the router needs. Operators and Tokens
// are nil when operator auth is not configured, which leaves operator routes
// open.
type Dependencies struct {
	Issuance     IssuanceService
	Verification VerificationService
	Operators    LoginService
	Tokens       operatormw.TokenValidator
	Audit        AuditReader
	Health       HealthChecker
	Gatherer     prometheus.Gatherer
	Logger       *slog.Logger

	// PublicBaseURL overrides the base of verification links. When empty
	// the base is taken from the request.
	PublicBaseURL string
	// RequestTimeout bounds non-publish routes. Publish waits for
	// confirmation and is bounded by the issuance service instead.
	RequestTimeout time.Duration
}

// Handler is the thin HTTP layer over the issuance and verification services.
type Handler struct {
	issuance      IssuanceService
	verification  VerificationService
	operators     LoginService
	tokens        operatormw.TokenValidator
	audit         AuditReader
	health        HealthChecker
	logger        *slog.Logger
	publicBaseURL string
}

func New(deps Dependencies) *Handler {
	logger := deps.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Handler{
		issuance:      deps.Issuance,
		verification:  deps.Verification,
		operators:     deps.Operators,
		tokens:        deps.Tokens,
		audit:         deps.Audit,
		health:        deps.Health,
		logger:        logger,
		publicBaseURL: deps.PublicBaseURL,
	}
}

// NewRouter wires every public endpoint behind the shared middleware chain.
func NewRouter(deps Dependencies) http.Handler {
	h := New(deps)
	timeout := deps.RequestTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	r := chi.NewRouter()
	r.Use(chimw.Recoverer)
	r.Use(request.RequestID)
	r.Use(requesttime.Middleware)
	r.Use(metadata.ClientMetadata)
	r.Use(request.AccessLog(h.logger))

	r.Get("/health", h.handleHealth)
	if deps.Gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(deps.Gatherer, promhttp.HandlerOpts{}))
	}

	r.Group(func(r chi.Router) {
		r.Use(chimw.Timeout(timeout))
		r.Get("/verify_certificate", h.handleVerify)
		r.Get("/verification_artifact", h.handleArtifact)
		r.Get("/transactions/{tx_hash}", h.handleTransactionStatus)
		r.Post("/admin_login", h.handleLogin)
	})

	r.Group(func(r chi.Router) {
		r.Use(operatormw.RequireOperator(h.tokens, h.logger))
		r.Post("/publish", h.handlePublish)
		r.With(chimw.Timeout(timeout)).Get("/transactions", h.handleUnsettled)
		r.With(chimw.Timeout(timeout)).Get("/audit_events", h.handleAuditEvents)
	})

	return r
}
