// Package ethereum adapts an EVM certificate registry contract to ledger.Gateway.
//
// Writes go through publishCertificate signed by a configured key; reads use
// the verifyCertificate view. Confirmation polls the transaction receipt and
// takes the including block's timestamp as the certificate's issuedAt.
package ethereum

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/big"
	"net"
	"strings"
	"sync"
	"time"

	goethereum "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/rpc"

	"certledger/internal/certificate"
	"certledger/internal/ledger"
	"certledger/pkg/platform/sentinel"
)

const (
	defaultPollInterval = time.Second
	defaultCallTimeout  = 5 * time.Second
)

// Backend is the subset of *ethclient.Client the gateway needs.
type Backend interface {
	bind.ContractBackend
	BlockNumber(ctx context.Context) (uint64, error)
	ChainID(ctx context.Context) (*big.Int, error)
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
	TransactionByHash(ctx context.Context, hash common.Hash) (*types.Transaction, bool, error)
}

type Config struct {
	RPCURL          string
	ContractAddress string
	// SignerKeys are hex-encoded secp256k1 private keys. The first one is the
	// default identity.
	SignerKeys []string
	// ChainID is resolved from the node on first submit when zero.
	ChainID       int64
	PollInterval  time.Duration
	CallTimeout   time.Duration
	Confirmations uint64
}

// Gateway is safe for concurrent use; one instance is shared by all requests.
type Gateway struct {
	backend       Backend
	registry      abi.ABI
	contract      *bind.BoundContract
	address       common.Address
	signers       map[common.Address]*ecdsa.PrivateKey
	defaultSigner common.Address
	pollInterval  time.Duration
	callTimeout   time.Duration
	confirmations uint64
	logger        *slog.Logger
	closer        func()

	chainMu sync.Mutex
	chainID *big.Int

	// Transact reads PendingNonceAt; concurrent sends from one account would
	// reuse a nonce.
	submitMu sync.Mutex
}

type Option func(*Gateway)

func WithLogger(logger *slog.Logger) Option {
	return func(g *Gateway) {
		if logger != nil {
			g.logger = logger
		}
	}
}

// New dials the RPC endpoint. HTTP endpoints are dialed lazily, so a node
// that is down at startup is reported by IsReachable rather than here.
func New(ctx context.Context, cfg Config, opts ...Option) (*Gateway, error) {
	client, err := ethclient.DialContext(ctx, cfg.RPCURL)
	if err != nil {
		return nil, fmt.Errorf("failed to dial ledger endpoint: %w", err)
	}
	g, err := NewWithBackend(client, cfg, opts...)
	if err != nil {
		client.Close()
		return nil, err
	}
	g.closer = client.Close
	return g, nil
}

// NewWithBackend builds a gateway on an existing backend such as a simulated chain.
func NewWithBackend(backend Backend, cfg Config, opts ...Option) (*Gateway, error) {
	if !common.IsHexAddress(cfg.ContractAddress) {
		return nil, fmt.Errorf("invalid registry contract address %q", cfg.ContractAddress)
	}
	if len(cfg.SignerKeys) == 0 {
		return nil, errors.New("at least one signer key is required")
	}
	registry, err := parseRegistryABI()
	if err != nil {
		return nil, err
	}

	g := &Gateway{
		backend:       backend,
		registry:      registry,
		address:       common.HexToAddress(cfg.ContractAddress),
		signers:       make(map[common.Address]*ecdsa.PrivateKey, len(cfg.SignerKeys)),
		pollInterval:  cfg.PollInterval,
		callTimeout:   cfg.CallTimeout,
		confirmations: cfg.Confirmations,
		logger:        slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	if g.pollInterval <= 0 {
		g.pollInterval = defaultPollInterval
	}
	if g.callTimeout <= 0 {
		g.callTimeout = defaultCallTimeout
	}
	if cfg.ChainID > 0 {
		g.chainID = big.NewInt(cfg.ChainID)
	}
	for i, raw := range cfg.SignerKeys {
		key, err := crypto.HexToECDSA(strings.TrimPrefix(strings.TrimSpace(raw), "0x"))
		if err != nil {
			return nil, fmt.Errorf("signer key %d: %w", i, err)
		}
		addr := crypto.PubkeyToAddress(key.PublicKey)
		if i == 0 {
			g.defaultSigner = addr
		}
		g.signers[addr] = key
	}
	g.contract = bind.NewBoundContract(g.address, registry, backend, backend, backend)
	for _, opt := range opts {
		opt(g)
	}
	return g, nil
}

// DefaultSigner is the address used when a submission names no signer.
func (g *Gateway) DefaultSigner() string {
	return g.defaultSigner.Hex()
}

func (g *Gateway) Close() {
	if g.closer != nil {
		g.closer()
	}
}

func (g *Gateway) IsReachable(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, g.callTimeout)
	defer cancel()
	if _, err := g.backend.BlockNumber(ctx); err != nil {
		g.logger.DebugContext(ctx, "ledger probe failed", "error", err)
		return false
	}
	return true
}

func (g *Gateway) SubmitCertificate(ctx context.Context, sub ledger.Submission) (ledger.TxHandle, error) {
	from, key, err := g.signerFor(sub.Signer)
	if err != nil {
		return ledger.TxHandle{}, err
	}
	if err := sub.Validate(); err != nil {
		return ledger.TxHandle{}, ledger.NewError(ledger.CategoryRejected, "submit", err.Error(), nil)
	}

	ctx, cancel := context.WithTimeout(ctx, g.callTimeout)
	defer cancel()

	chainID, err := g.resolveChainID(ctx)
	if err != nil {
		return ledger.TxHandle{}, err
	}
	opts, err := bind.NewKeyedTransactorWithChainID(key, chainID)
	if err != nil {
		return ledger.TxHandle{}, ledger.NewError(ledger.CategoryInternal, "submit", "failed to build transactor", err)
	}
	opts.Context = ctx

	g.submitMu.Lock()
	tx, err := g.contract.Transact(opts, methodPublish,
		sub.AwardeeName, sub.CertificateName, sub.CertificateCode, sub.Fingerprint.String())
	g.submitMu.Unlock()
	if err != nil {
		return ledger.TxHandle{}, mapRPCError("submit", err)
	}

	return ledger.TxHandle{
		Hash:        tx.Hash().Hex(),
		Fingerprint: sub.Fingerprint,
		Signer:      from.Hex(),
		SubmittedAt: time.Now().UTC(),
	}, nil
}

func (g *Gateway) AwaitConfirmation(ctx context.Context, handle ledger.TxHandle, timeout time.Duration) (ledger.Confirmation, error) {
	hash := common.HexToHash(handle.Hash)
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	ticker := time.NewTicker(g.pollInterval)
	defer ticker.Stop()

	for {
		conf, err := g.receiptStatus(ctx, hash, handle.Fingerprint)
		if err != nil {
			// Outages while waiting only count toward the timeout.
			g.logger.DebugContext(ctx, "receipt poll failed", "tx_hash", handle.Hash, "error", err)
		} else if conf.Status != ledger.StatusPending {
			return conf, nil
		}

		select {
		case <-ctx.Done():
			return ledger.Confirmation{Status: ledger.StatusPending, TxHash: handle.Hash}, ctx.Err()
		case <-deadline.C:
			return ledger.Confirmation{Status: ledger.StatusTimedOut, TxHash: handle.Hash}, nil
		case <-ticker.C:
		}
	}
}

func (g *Gateway) TransactionStatus(ctx context.Context, txHash string) (ledger.Confirmation, error) {
	hash := common.HexToHash(txHash)
	conf, err := g.receiptStatus(ctx, hash, "")
	if err != nil || conf.Status != ledger.StatusPending || conf.BlockNumber > 0 {
		return conf, err
	}

	ctx, cancel := context.WithTimeout(ctx, g.callTimeout)
	defer cancel()
	_, _, err = g.backend.TransactionByHash(ctx, hash)
	if errors.Is(err, goethereum.NotFound) {
		return ledger.Confirmation{}, fmt.Errorf("transaction %s: %w", txHash, sentinel.ErrNotFound)
	}
	if err != nil {
		return ledger.Confirmation{}, mapRPCError("status", err)
	}
	return conf, nil
}

func (g *Gateway) QueryCertificate(ctx context.Context, fp certificate.Fingerprint) ledger.QueryResult {
	ctx, cancel := context.WithTimeout(ctx, g.callTimeout)
	defer cancel()

	var out []interface{}
	if err := g.contract.Call(&bind.CallOpts{Context: ctx}, &out, methodVerify, fp.String()); err != nil {
		return ledger.ConnectionError(mapRPCError("query", err))
	}
	found, record, err := decodeVerifyResult(out)
	if err != nil {
		return ledger.ConnectionError(ledger.NewError(ledger.CategoryBadData, "query", "undecodable registry answer", err))
	}
	if !found {
		return ledger.NotFound()
	}
	return ledger.Found(record.certificate())
}

// receiptStatus reports a transaction without waiting. A missing receipt reads
// as pending. When expected is set, a successful receipt must carry a
// CertificatePublished event for that fingerprint.
func (g *Gateway) receiptStatus(ctx context.Context, hash common.Hash, expected certificate.Fingerprint) (ledger.Confirmation, error) {
	ctx, cancel := context.WithTimeout(ctx, g.callTimeout)
	defer cancel()

	conf := ledger.Confirmation{Status: ledger.StatusPending, TxHash: hash.Hex()}
	receipt, err := g.backend.TransactionReceipt(ctx, hash)
	if errors.Is(err, goethereum.NotFound) {
		return conf, nil
	}
	if err != nil {
		return ledger.Confirmation{}, mapRPCError("receipt", err)
	}
	if receipt.BlockNumber == nil {
		return conf, nil
	}

	block := receipt.BlockNumber.Uint64()
	// Included but not yet deep enough still reads as pending, with the block set.
	conf.BlockNumber = block
	if g.confirmations > 0 {
		head, err := g.backend.BlockNumber(ctx)
		if err != nil {
			return ledger.Confirmation{}, mapRPCError("receipt", err)
		}
		if head < block+g.confirmations {
			return conf, nil
		}
	}
	header, err := g.backend.HeaderByNumber(ctx, receipt.BlockNumber)
	if err != nil {
		return ledger.Confirmation{}, mapRPCError("receipt", err)
	}

	conf.BlockTime = time.Unix(int64(header.Time), 0).UTC()
	if receipt.Status != types.ReceiptStatusSuccessful {
		conf.Status = ledger.StatusReverted
		return conf, nil
	}
	if expected != "" && !containsFingerprint(publishedFingerprints(g.registry, g.address, receipt.Logs), expected) {
		g.logger.WarnContext(ctx, "receipt carries no publish event for fingerprint",
			"tx_hash", conf.TxHash,
			"certificate_hash", expected.Short(),
		)
		conf.Status = ledger.StatusReverted
		return conf, nil
	}
	conf.Status = ledger.StatusConfirmed
	return conf, nil
}

func (g *Gateway) signerFor(identity string) (common.Address, *ecdsa.PrivateKey, error) {
	addr := g.defaultSigner
	if identity != "" {
		if !common.IsHexAddress(identity) {
			return common.Address{}, nil, ledger.NewError(ledger.CategoryUnauthorized, "submit", "malformed signer address", nil)
		}
		addr = common.HexToAddress(identity)
	}
	key, ok := g.signers[addr]
	if !ok {
		return common.Address{}, nil, ledger.NewError(ledger.CategoryUnauthorized, "submit", "no key held for signer "+addr.Hex(), nil)
	}
	return addr, key, nil
}

func (g *Gateway) resolveChainID(ctx context.Context) (*big.Int, error) {
	g.chainMu.Lock()
	defer g.chainMu.Unlock()
	if g.chainID != nil {
		return g.chainID, nil
	}
	id, err := g.backend.ChainID(ctx)
	if err != nil {
		return nil, mapRPCError("chain_id", err)
	}
	g.chainID = id
	return id, nil
}

func containsFingerprint(published []string, fp certificate.Fingerprint) bool {
	for _, p := range published {
		if strings.EqualFold(p, fp.String()) {
			return true
		}
	}
	return false
}

// mapRPCError folds transport, node and contract failures into the ledger
// error taxonomy.
func mapRPCError(op string, err error) error {
	var le *ledger.Error
	if errors.As(err, &le) {
		return le
	}

	var (
		netErr  net.Error
		httpErr rpc.HTTPError
		rpcErr  rpc.Error
	)
	msg := strings.ToLower(err.Error())
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return ledger.NewError(ledger.CategoryUnavailable, op, "ledger endpoint timed out", err)
	case errors.Is(err, context.Canceled):
		return ledger.NewError(ledger.CategoryUnavailable, op, "call cancelled", err)
	case errors.As(err, &netErr), errors.As(err, &httpErr):
		return ledger.NewError(ledger.CategoryUnavailable, op, "ledger endpoint unreachable", err)
	case errors.Is(err, bind.ErrNoCode):
		return ledger.NewError(ledger.CategoryBadData, op, "no registry contract at configured address", err)
	case strings.Contains(msg, "insufficient funds"),
		strings.Contains(msg, "invalid sender"),
		strings.Contains(msg, "unknown account"):
		return ledger.NewError(ledger.CategoryUnauthorized, op, "signing identity cannot send transactions", err)
	case strings.Contains(msg, "execution reverted"):
		return ledger.NewError(ledger.CategoryRejected, op, "registry rejected the call", err)
	case errors.As(err, &rpcErr):
		return ledger.NewError(ledger.CategoryRejected, op, "ledger node refused the call", err)
	default:
		return ledger.NewError(ledger.CategoryInternal, op, "unexpected ledger error", err)
	}
}

// Ensure Gateway implements ledger.Gateway
var _ ledger.Gateway = (*Gateway)(nil)
