package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	strutil "certledger/pkg/platform/strings"
)

// Ledger modes.
const (
	LedgerModeEthereum = "ethereum"
	LedgerModeMemory   = "memory"
)

// Audit sinks.
const (
	AuditSinkMemory   = "memory"
	AuditSinkPostgres = "postgres"
	AuditSinkKafka    = "kafka"
)

// Server captures HTTP server level configuration.
type Server struct {
	Addr string
	// PublicBaseURL prefixes verification links. Empty derives it from the request.
	PublicBaseURL   string
	ShutdownTimeout time.Duration
}

type Log struct {
	Level  string
	Format string
}

type Ledger struct {
	Mode            string
	RPCURL          string
	ContractAddress string
	// SignerKeys are hex private keys; the first is the default signer.
	SignerKeys     []string
	ChainID        int64
	ConfirmTimeout time.Duration
	PollInterval   time.Duration
	CallTimeout    time.Duration
	Confirmations  uint64
	// ConfirmDelay only applies to the in-process ledger.
	ConfirmDelay     time.Duration
	BreakerThreshold int
	BreakerCooldown  time.Duration
	// ReconcileInterval paces the sweep over unsettled submissions; zero
	// disables it.
	ReconcileInterval time.Duration
}

// RedisConfig holds connection and pool settings. An empty URL disables redis.
type RedisConfig struct {
	URL          string
	PoolSize     int
	MinIdleConns int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

type Audit struct {
	Sink         string
	Buffer       int
	KafkaBrokers []string
	KafkaTopic   string
}

type Cache struct {
	VerifyTTL time.Duration
	ClaimTTL  time.Duration
}

type QR struct {
	BoxSize int
	Border  int
	Level   string
}

type Operator struct {
	Username     string
	PasswordHash string
	TokenKey     string
	TokenTTL     time.Duration
	// LockoutAttempts failed logins within LockoutWindow lock a
	// username/IP pair until the window ends.
	LockoutAttempts int
	LockoutWindow   time.Duration
}

// Enabled reports whether operator auth is configured at all.
func (o Operator) Enabled() bool {
	return o.Username != "" || o.PasswordHash != "" || o.TokenKey != ""
}

type Config struct {
	Server      Server
	Log         Log
	Ledger      Ledger
	Redis       RedisConfig
	DatabaseURL string
	Audit       Audit
	Cache       Cache
	QR          QR
	Operator    Operator
}

// FromEnv builds a Config from environment variables so main stays lean.
// Malformed values are reported together.
func FromEnv() (Config, error) {
	return load(os.Getenv)
}

func load(getenv func(string) string) (Config, error) {
	e := env{get: getenv}
	cfg := Config{
		Server: Server{
			Addr:            e.str("CERTLEDGER_ADDR", ":8080"),
			PublicBaseURL:   strings.TrimRight(e.str("PUBLIC_BASE_URL", ""), "/"),
			ShutdownTimeout: e.duration("SHUTDOWN_TIMEOUT", 10*time.Second),
		},
		Log: Log{
			Level:  e.str("LOG_LEVEL", "info"),
			Format: e.str("LOG_FORMAT", "json"),
		},
		Ledger: Ledger{
			Mode:              strings.ToLower(e.str("LEDGER_MODE", LedgerModeEthereum)),
			RPCURL:            e.str("LEDGER_RPC_URL", "http://127.0.0.1:8545"),
			ContractAddress:   e.str("LEDGER_CONTRACT_ADDRESS", ""),
			SignerKeys:        e.list("LEDGER_SIGNER_KEY"),
			ChainID:           e.int64("LEDGER_CHAIN_ID", 0),
			ConfirmTimeout:    e.duration("LEDGER_CONFIRM_TIMEOUT", 60*time.Second),
			PollInterval:      e.duration("LEDGER_POLL_INTERVAL", time.Second),
			CallTimeout:       e.duration("LEDGER_CALL_TIMEOUT", 5*time.Second),
			Confirmations:     uint64(e.int64("LEDGER_CONFIRMATIONS", 0)),
			ConfirmDelay:      e.duration("LEDGER_MEMORY_CONFIRM_DELAY", 0),
			BreakerThreshold:  int(e.int64("LEDGER_BREAKER_THRESHOLD", 5)),
			BreakerCooldown:   e.duration("LEDGER_BREAKER_COOLDOWN", 10*time.Second),
			ReconcileInterval: e.duration("LEDGER_RECONCILE_INTERVAL", time.Minute),
		},
		Redis: RedisConfig{
			URL:          e.str("REDIS_URL", ""),
			PoolSize:     int(e.int64("REDIS_POOL_SIZE", 10)),
			MinIdleConns: int(e.int64("REDIS_MIN_IDLE_CONNS", 2)),
			DialTimeout:  e.duration("REDIS_DIAL_TIMEOUT", 5*time.Second),
			ReadTimeout:  e.duration("REDIS_READ_TIMEOUT", 3*time.Second),
			WriteTimeout: e.duration("REDIS_WRITE_TIMEOUT", 3*time.Second),
		},
		DatabaseURL: e.str("DATABASE_URL", ""),
		Audit: Audit{
			Sink:         strings.ToLower(e.str("AUDIT_SINK", AuditSinkMemory)),
			Buffer:       int(e.int64("AUDIT_BUFFER", 1024)),
			KafkaBrokers: e.list("KAFKA_BROKERS"),
			KafkaTopic:   e.str("KAFKA_AUDIT_TOPIC", "certledger.audit"),
		},
		Cache: Cache{
			VerifyTTL: e.duration("VERIFY_CACHE_TTL", 5*time.Minute),
			ClaimTTL:  e.duration("PUBLISH_CLAIM_TTL", 2*time.Minute),
		},
		QR: QR{
			BoxSize: int(e.int64("QR_BOX_SIZE", 10)),
			Border:  int(e.int64("QR_BORDER", 4)),
			Level:   strings.ToUpper(e.str("QR_LEVEL", "L")),
		},
		Operator: Operator{
			Username:        e.str("OPERATOR_USERNAME", ""),
			PasswordHash:    e.str("OPERATOR_PASSWORD_HASH", ""),
			TokenKey:        e.str("OPERATOR_TOKEN_KEY", ""),
			TokenTTL:        e.duration("OPERATOR_TOKEN_TTL", time.Hour),
			LockoutAttempts: int(e.int64("OPERATOR_LOCKOUT_ATTEMPTS", 5)),
			LockoutWindow:   e.duration("OPERATOR_LOCKOUT_WINDOW", 15*time.Minute),
		},
	}
	if err := errors.Join(e.errs...); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate rejects incoherent combinations.
func (c Config) Validate() error {
	var errs []error
	switch c.Ledger.Mode {
	case LedgerModeEthereum:
		if c.Ledger.ContractAddress == "" {
			errs = append(errs, errors.New("LEDGER_CONTRACT_ADDRESS is required in ethereum mode"))
		}
		if len(c.Ledger.SignerKeys) == 0 {
			errs = append(errs, errors.New("LEDGER_SIGNER_KEY is required in ethereum mode"))
		}
		if c.Ledger.RPCURL == "" {
			errs = append(errs, errors.New("LEDGER_RPC_URL is required in ethereum mode"))
		}
	case LedgerModeMemory:
	default:
		errs = append(errs, fmt.Errorf("LEDGER_MODE %q is not one of ethereum, memory", c.Ledger.Mode))
	}
	if c.Ledger.ConfirmTimeout <= 0 {
		errs = append(errs, errors.New("LEDGER_CONFIRM_TIMEOUT must be positive"))
	}
	if c.Ledger.PollInterval <= 0 {
		errs = append(errs, errors.New("LEDGER_POLL_INTERVAL must be positive"))
	}
	if c.Cache.ClaimTTL < c.Ledger.ConfirmTimeout+c.Ledger.CallTimeout {
		errs = append(errs, fmt.Errorf("PUBLISH_CLAIM_TTL %s must cover LEDGER_CONFIRM_TIMEOUT plus LEDGER_CALL_TIMEOUT (%s)",
			c.Cache.ClaimTTL, c.Ledger.ConfirmTimeout+c.Ledger.CallTimeout))
	}

	switch c.Audit.Sink {
	case AuditSinkMemory:
	case AuditSinkPostgres:
		if c.DatabaseURL == "" {
			errs = append(errs, errors.New("DATABASE_URL is required for the postgres audit sink"))
		}
	case AuditSinkKafka:
		if len(c.Audit.KafkaBrokers) == 0 {
			errs = append(errs, errors.New("KAFKA_BROKERS is required for the kafka audit sink"))
		}
	default:
		errs = append(errs, fmt.Errorf("AUDIT_SINK %q is not one of memory, postgres, kafka", c.Audit.Sink))
	}

	if c.Server.PublicBaseURL != "" {
		u, err := url.Parse(c.Server.PublicBaseURL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			errs = append(errs, fmt.Errorf("PUBLIC_BASE_URL %q must be an absolute http(s) URL", c.Server.PublicBaseURL))
		}
	}
	if c.QR.BoxSize <= 0 || c.QR.Border < 0 {
		errs = append(errs, errors.New("QR_BOX_SIZE must be positive and QR_BORDER non-negative"))
	}

	op := c.Operator
	if op.Enabled() && (op.Username == "" || op.PasswordHash == "" || op.TokenKey == "") {
		errs = append(errs, errors.New("operator auth needs OPERATOR_USERNAME, OPERATOR_PASSWORD_HASH and OPERATOR_TOKEN_KEY together"))
	}
	if op.Enabled() && len(op.TokenKey) < 32 {
		errs = append(errs, errors.New("OPERATOR_TOKEN_KEY must be at least 32 bytes"))
	}
	return errors.Join(errs...)
}

type env struct {
	get  func(string) string
	errs []error
}

func (e *env) str(key, def string) string {
	if v := strings.TrimSpace(e.get(key)); v != "" {
		return v
	}
	return def
}

func (e *env) list(key string) []string {
	return strutil.SplitList(e.get(key))
}

func (e *env) duration(key string, def time.Duration) time.Duration {
	raw := strings.TrimSpace(e.get(key))
	if raw == "" {
		return def
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		e.errs = append(e.errs, fmt.Errorf("%s: %w", key, err))
		return def
	}
	return d
}

func (e *env) int64(key string, def int64) int64 {
	raw := strings.TrimSpace(e.get(key))
	if raw == "" {
		return def
	}
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || n < 0 {
		e.errs = append(e.errs, fmt.Errorf("%s: %q is not a non-negative integer", key, raw))
		return def
	}
	return n
}
