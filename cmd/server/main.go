package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/sync/errgroup"

	"certledger/internal/issuance"
	"certledger/internal/issuance/store/claim"
	"certledger/internal/journal"
	journalmem "certledger/internal/journal/store/memory"
	journalpg "certledger/internal/journal/store/postgres"
	"certledger/internal/ledger"
	"certledger/internal/ledger/ethereum"
	"certledger/internal/ledger/memory"
	"certledger/internal/operator"
	"certledger/internal/operator/store/lockout"
	"certledger/internal/platform/config"
	"certledger/internal/platform/httpserver"
	"certledger/internal/platform/logger"
	"certledger/internal/platform/metrics"
	platformredis "certledger/internal/platform/redis"
	httptransport "certledger/internal/transport/http"
	"certledger/internal/verification"
	"certledger/internal/verification/store/cache"
	"certledger/internal/verifylink"
	audit "certledger/pkg/platform/audit"
	"certledger/pkg/platform/audit/publisher"
	auditkafka "certledger/pkg/platform/audit/store/kafka"
	auditmem "certledger/pkg/platform/audit/store/memory"
	auditpg "certledger/pkg/platform/audit/store/postgres"
)

// main wires high-level dependencies, exposes the HTTP router, and keeps the
// server lifecycle small. Business logic lives in internal services packages.
func main() {
	cfg, err := config.FromEnv()
	if err == nil {
		err = cfg.Validate()
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid configuration: %v\n", err)
		os.Exit(2)
	}
	log := logger.New(cfg.Log.Level, cfg.Log.Format)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		log.Error("certledger stopped", "error", err)
		os.Exit(1)
	}
}

// closers run in reverse order on shutdown.
type closers []func()

func (c *closers) add(fn func()) { *c = append(*c, fn) }

func (c closers) closeAll() {
	for i := len(c) - 1; i >= 0; i-- {
		c[i]()
	}
}

func run(ctx context.Context, cfg config.Config, log *slog.Logger) error {
	var cleanup closers
	defer cleanup.closeAll()

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.New(registry)

	gateway, signer, err := buildLedger(ctx, cfg, log, m, &cleanup)
	if err != nil {
		return err
	}

	redisClient, err := platformredis.New(ctx, cfg.Redis)
	if err != nil {
		return err
	}
	if redisClient != nil {
		cleanup.add(func() { _ = redisClient.Close() })
	}

	journalStore, err := buildJournal(ctx, cfg, &cleanup)
	if err != nil {
		return err
	}

	auditStore, err := buildAuditStore(ctx, cfg, &cleanup)
	if err != nil {
		return err
	}
	auditPublisher := publisher.NewPublisher(auditStore,
		publisher.WithAsyncBuffer(cfg.Audit.Buffer),
		publisher.WithLogger(log),
		publisher.WithDropHook(m.IncrementAuditDropped),
	)
	cleanup.add(auditPublisher.Close)

	level, err := verifylink.ParseLevel(cfg.QR.Level)
	if err != nil {
		return err
	}
	encoder := verifylink.NewEncoder(
		verifylink.WithLevel(level),
		verifylink.WithBoxSize(cfg.QR.BoxSize),
		verifylink.WithBorder(cfg.QR.Border),
	)

	issuanceOpts := []issuance.Option{
		issuance.WithLogger(log),
		issuance.WithAuditPublisher(auditPublisher),
		issuance.WithMetrics(m),
		issuance.WithJournal(journalStore),
		issuance.WithConfirmTimeout(cfg.Ledger.ConfirmTimeout),
		issuance.WithClaimTTL(cfg.Cache.ClaimTTL),
		issuance.WithSigner(signer),
	}
	verificationOpts := []verification.Option{
		verification.WithLogger(log),
		verification.WithAuditPublisher(auditPublisher),
		verification.WithMetrics(m),
	}
	if redisClient != nil {
		issuanceOpts = append(issuanceOpts, issuance.WithClaims(claim.NewRedis(redisClient.Client)))
		verificationOpts = append(verificationOpts, verification.WithCache(cache.NewRedis(redisClient.Client), cfg.Cache.VerifyTTL))
	}
	issuanceService := issuance.New(gateway, encoder, issuanceOpts...)
	verificationService := verification.New(gateway, verificationOpts...)

	deps := httptransport.Dependencies{
		Issuance:      issuanceService,
		Verification:  verificationService,
		Audit:         auditPublisher,
		Health:        gateway,
		Gatherer:      registry,
		Logger:        log,
		PublicBaseURL: cfg.Server.PublicBaseURL,
	}
	if cfg.Operator.Enabled() {
		authn, err := operator.NewStaticAuthenticator(cfg.Operator.Username, cfg.Operator.PasswordHash)
		if err != nil {
			return err
		}
		tokens := operator.NewTokenService(cfg.Operator.TokenKey, cfg.Operator.TokenTTL)
		var lockoutStore operator.LockoutStore = lockout.New()
		if redisClient != nil {
			lockoutStore = lockout.NewRedis(redisClient.Client)
		}
		deps.Operators = operator.NewService(authn, tokens,
			operator.WithLogger(log),
			operator.WithAuditPublisher(auditPublisher),
			operator.WithLockout(lockoutStore, cfg.Operator.LockoutAttempts, cfg.Operator.LockoutWindow),
		)
		deps.Tokens = tokens
	} else {
		log.Warn("operator auth is not configured; publish is open to any caller")
	}

	srv := httpserver.New(cfg.Server.Addr, httptransport.NewRouter(deps), cfg.Ledger.ConfirmTimeout)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("starting certledger",
			"addr", cfg.Server.Addr,
			"ledger_mode", cfg.Ledger.Mode,
			"audit_sink", cfg.Audit.Sink,
			"redis", redisClient != nil,
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		return issuanceService.Reconcile(gctx, cfg.Ledger.ReconcileInterval)
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutting down")
		// Publishes in flight are waiting on confirmation; give them the
		// configured grace period.
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(gctx), cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("graceful shutdown failed: %w", err)
		}
		return nil
	})
	return g.Wait()
}

func buildLedger(ctx context.Context, cfg config.Config, log *slog.Logger, m *metrics.Metrics, cleanup *closers) (ledger.Gateway, string, error) {
	var (
		inner  ledger.Gateway
		signer string
	)
	switch cfg.Ledger.Mode {
	case config.LedgerModeMemory:
		log.Warn("using the in-process ledger; certificates do not survive a restart")
		inner = memory.New(
			memory.WithConfirmDelay(cfg.Ledger.ConfirmDelay),
			memory.WithPollInterval(cfg.Ledger.PollInterval),
		)
		signer = memory.DefaultSigner
	default:
		gw, err := ethereum.New(ctx, ethereum.Config{
			RPCURL:          cfg.Ledger.RPCURL,
			ContractAddress: cfg.Ledger.ContractAddress,
			SignerKeys:      cfg.Ledger.SignerKeys,
			ChainID:         cfg.Ledger.ChainID,
			PollInterval:    cfg.Ledger.PollInterval,
			CallTimeout:     cfg.Ledger.CallTimeout,
			Confirmations:   cfg.Ledger.Confirmations,
		}, ethereum.WithLogger(log))
		if err != nil {
			return nil, "", fmt.Errorf("connect ledger: %w", err)
		}
		cleanup.add(gw.Close)
		inner, signer = gw, gw.DefaultSigner()
	}

	breaker := ledger.NewBreaker(cfg.Ledger.BreakerThreshold, cfg.Ledger.BreakerCooldown)
	return ledger.NewGuarded(inner, breaker, ledger.WithObserver(m), ledger.WithLogger(log)), signer, nil
}

func buildJournal(ctx context.Context, cfg config.Config, cleanup *closers) (journal.Store, error) {
	if cfg.DatabaseURL == "" {
		return journalmem.New(), nil
	}
	pool, err := journalpg.Connect(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, err
	}
	cleanup.add(pool.Close)
	store := journalpg.New(pool)
	if err := store.EnsureSchema(ctx); err != nil {
		return nil, fmt.Errorf("journal schema: %w", err)
	}
	return store, nil
}

func buildAuditStore(ctx context.Context, cfg config.Config, cleanup *closers) (audit.Store, error) {
	switch cfg.Audit.Sink {
	case config.AuditSinkPostgres:
		db, err := sql.Open("postgres", cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("open audit database: %w", err)
		}
		cleanup.add(func() { _ = db.Close() })
		store := auditpg.New(db)
		if err := store.EnsureSchema(ctx); err != nil {
			return nil, fmt.Errorf("audit schema: %w", err)
		}
		return store, nil
	case config.AuditSinkKafka:
		store, err := auditkafka.New(cfg.Audit.KafkaBrokers, cfg.Audit.KafkaTopic)
		if err != nil {
			return nil, err
		}
		cleanup.add(store.Close)
		if err := store.EnsureTopic(ctx, -1, -1); err != nil {
			return nil, fmt.Errorf("audit topic: %w", err)
		}
		return store, nil
	default:
		return auditmem.NewInMemoryStore(), nil
	}
}
