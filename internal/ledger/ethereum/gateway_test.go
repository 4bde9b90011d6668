package ethereum

import (
	"context"
	"encoding/hex"
	"errors"
	"math/big"
	"net"
	"sync"
	"syscall"
	"testing"
	"time"

	goethereum "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"certledger/internal/certificate"
	"certledger/internal/ledger"
	"certledger/pkg/platform/sentinel"
)

var registryAddress = common.HexToAddress("0x34005CF103E7546451cc9c43357942d12ca78540")

type revertError struct{}

func (revertError) Error() string  { return "execution reverted" }
func (revertError) ErrorCode() int { return 3 }

// fakeBackend answers the handful of RPCs the gateway issues. Anything else
// hits the nil embedded interface and panics.
type fakeBackend struct {
	bind.ContractBackend

	t        *testing.T
	registry abi.ABI

	mu          sync.Mutex
	down        bool
	head        uint64
	blockTimes  map[uint64]uint64
	records     map[string]registryRecord
	receipts    map[common.Hash]*types.Receipt
	mempool     map[common.Hash]bool
	sent        []*types.Transaction
	estimateErr error
}

func newFakeBackend(t *testing.T) *fakeBackend {
	registry, err := parseRegistryABI()
	require.NoError(t, err)
	return &fakeBackend{
		t:          t,
		registry:   registry,
		head:       10,
		blockTimes: map[uint64]uint64{},
		records:    map[string]registryRecord{},
		receipts:   map[common.Hash]*types.Receipt{},
		mempool:    map[common.Hash]bool{},
	}
}

func (f *fakeBackend) refused() error {
	return &net.OpError{Op: "dial", Net: "tcp", Err: syscall.ECONNREFUSED}
}

func (f *fakeBackend) BlockNumber(_ context.Context) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.down {
		return 0, f.refused()
	}
	return f.head, nil
}

func (f *fakeBackend) ChainID(_ context.Context) (*big.Int, error) {
	return big.NewInt(1337), nil
}

func (f *fakeBackend) HeaderByNumber(_ context.Context, number *big.Int) (*types.Header, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.down {
		return nil, f.refused()
	}
	n := f.head
	if number != nil {
		n = number.Uint64()
	}
	return &types.Header{Number: new(big.Int).SetUint64(n), Time: f.blockTimes[n], BaseFee: big.NewInt(1_000_000_000)}, nil
}

func (f *fakeBackend) SuggestGasTipCap(_ context.Context) (*big.Int, error) {
	return big.NewInt(1_000_000_000), nil
}

func (f *fakeBackend) PendingCodeAt(_ context.Context, _ common.Address) ([]byte, error) {
	return []byte{0x60}, nil
}

func (f *fakeBackend) CodeAt(_ context.Context, _ common.Address, _ *big.Int) ([]byte, error) {
	return nil, nil
}

func (f *fakeBackend) PendingNonceAt(_ context.Context, _ common.Address) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return uint64(len(f.sent)), nil
}

func (f *fakeBackend) EstimateGas(_ context.Context, _ goethereum.CallMsg) (uint64, error) {
	if f.estimateErr != nil {
		return 0, f.estimateErr
	}
	return 200_000, nil
}

func (f *fakeBackend) SendTransaction(_ context.Context, tx *types.Transaction) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, tx)
	f.mempool[tx.Hash()] = true
	return nil
}

func (f *fakeBackend) CallContract(_ context.Context, call goethereum.CallMsg, _ *big.Int) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.down {
		return nil, f.refused()
	}
	method := f.registry.Methods[methodVerify]
	if len(call.Data) < 4 || !assert.Equal(f.t, method.ID, call.Data[:4]) {
		return nil, errors.New("unexpected call")
	}
	args, err := method.Inputs.Unpack(call.Data[4:])
	require.NoError(f.t, err)
	rec, ok := f.records[args[0].(string)]
	if !ok {
		return method.Outputs.Pack(false, registryRecord{Timestamp: big.NewInt(0)})
	}
	return method.Outputs.Pack(true, rec)
}

func (f *fakeBackend) TransactionReceipt(_ context.Context, hash common.Hash) (*types.Receipt, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.down {
		return nil, f.refused()
	}
	r, ok := f.receipts[hash]
	if !ok {
		return nil, goethereum.NotFound
	}
	return r, nil
}

func (f *fakeBackend) TransactionByHash(_ context.Context, hash common.Hash) (*types.Transaction, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.mempool[hash] {
		return types.NewTx(&types.LegacyTx{}), true, nil
	}
	return nil, false, goethereum.NotFound
}

// mine includes hash in a new block and stores its receipt.
func (f *fakeBackend) mine(hash common.Hash, status uint64, blockTime uint64, published ...string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.head++
	f.blockTimes[f.head] = blockTime
	event := f.registry.Events[eventPublished]
	var logs []*types.Log
	for _, fp := range published {
		data, err := event.Inputs.Pack(fp)
		require.NoError(f.t, err)
		logs = append(logs, &types.Log{Address: registryAddress, Topics: []common.Hash{event.ID}, Data: data})
	}
	f.receipts[hash] = &types.Receipt{Status: status, BlockNumber: new(big.Int).SetUint64(f.head), Logs: logs}
	delete(f.mempool, hash)
}

type GatewaySuite struct {
	suite.Suite
	backend *fakeBackend
	gateway *Gateway
	signer  common.Address
}

func TestGatewaySuite(t *testing.T) {
	suite.Run(t, new(GatewaySuite))
}

func (s *GatewaySuite) SetupTest() {
	key, err := crypto.GenerateKey()
	s.Require().NoError(err)
	s.signer = crypto.PubkeyToAddress(key.PublicKey)
	s.backend = newFakeBackend(s.T())
	s.gateway, err = NewWithBackend(s.backend, Config{
		ContractAddress: registryAddress.Hex(),
		SignerKeys:      []string{"0x" + hex.EncodeToString(crypto.FromECDSA(key))},
		PollInterval:    5 * time.Millisecond,
		CallTimeout:     time.Second,
	})
	s.Require().NoError(err)
}

func (s *GatewaySuite) submission() ledger.Submission {
	return ledger.Submission{
		AwardeeName:     "Alice",
		CertificateName: "Intro",
		CertificateCode: "C-1",
		Fingerprint:     certificate.Derive("C-1", "Intro"),
	}
}

func (s *GatewaySuite) TestSubmitSendsPublishTransaction() {
	sub := s.submission()
	handle, err := s.gateway.SubmitCertificate(context.Background(), sub)
	s.Require().NoError(err)
	s.Require().Len(s.backend.sent, 1)

	tx := s.backend.sent[0]
	s.Equal(tx.Hash().Hex(), handle.Hash)
	s.Equal(s.signer.Hex(), handle.Signer)
	s.Equal(registryAddress, *tx.To())

	method := s.backend.registry.Methods[methodPublish]
	s.Equal(method.ID, tx.Data()[:4])
	args, err := method.Inputs.Unpack(tx.Data()[4:])
	s.Require().NoError(err)
	s.Equal([]interface{}{"Alice", "Intro", "C-1", sub.Fingerprint.String()}, args)
}

func (s *GatewaySuite) TestSubmitRefusesUnknownSigner() {
	sub := s.submission()
	sub.Signer = "0x24af5Ae5400781935b5d26611c671432AE41D098"
	_, err := s.gateway.SubmitCertificate(context.Background(), sub)
	s.Equal(ledger.CategoryUnauthorized, ledger.CategoryOf(err))
	s.Empty(s.backend.sent)
}

func (s *GatewaySuite) TestSubmitRefusesMalformedPayload() {
	sub := s.submission()
	sub.Fingerprint = "abc"
	_, err := s.gateway.SubmitCertificate(context.Background(), sub)
	s.Equal(ledger.CategoryRejected, ledger.CategoryOf(err))
	s.Empty(s.backend.sent)
}

func (s *GatewaySuite) TestSubmitRevertedEstimateIsRejected() {
	s.backend.estimateErr = revertError{}
	_, err := s.gateway.SubmitCertificate(context.Background(), s.submission())
	s.Equal(ledger.CategoryRejected, ledger.CategoryOf(err))
}

func (s *GatewaySuite) TestAwaitConfirmedUsesBlockTime() {
	sub := s.submission()
	handle, err := s.gateway.SubmitCertificate(context.Background(), sub)
	s.Require().NoError(err)
	s.backend.mine(common.HexToHash(handle.Hash), types.ReceiptStatusSuccessful, 1_700_000_000, sub.Fingerprint.String())

	conf, err := s.gateway.AwaitConfirmation(context.Background(), handle, time.Second)
	s.Require().NoError(err)
	s.Equal(ledger.StatusConfirmed, conf.Status)
	s.Equal(uint64(11), conf.BlockNumber)
	s.Equal(time.Unix(1_700_000_000, 0).UTC(), conf.BlockTime)
}

func (s *GatewaySuite) TestAwaitRevertedReceipt() {
	handle, err := s.gateway.SubmitCertificate(context.Background(), s.submission())
	s.Require().NoError(err)
	s.backend.mine(common.HexToHash(handle.Hash), types.ReceiptStatusFailed, 1_700_000_000)

	conf, err := s.gateway.AwaitConfirmation(context.Background(), handle, time.Second)
	s.Require().NoError(err)
	s.Equal(ledger.StatusReverted, conf.Status)
}

func (s *GatewaySuite) TestAwaitMissingEventIsNotConfirmed() {
	handle, err := s.gateway.SubmitCertificate(context.Background(), s.submission())
	s.Require().NoError(err)
	s.backend.mine(common.HexToHash(handle.Hash), types.ReceiptStatusSuccessful, 1_700_000_000, "some-other-hash")

	conf, err := s.gateway.AwaitConfirmation(context.Background(), handle, time.Second)
	s.Require().NoError(err)
	s.Equal(ledger.StatusReverted, conf.Status)
}

func (s *GatewaySuite) TestAwaitTimesOutWhilePending() {
	handle, err := s.gateway.SubmitCertificate(context.Background(), s.submission())
	s.Require().NoError(err)

	conf, err := s.gateway.AwaitConfirmation(context.Background(), handle, 30*time.Millisecond)
	s.Require().NoError(err)
	s.Equal(ledger.StatusTimedOut, conf.Status)
	s.Equal(handle.Hash, conf.TxHash)
}

func (s *GatewaySuite) TestAwaitOutageCountsTowardTimeout() {
	handle, err := s.gateway.SubmitCertificate(context.Background(), s.submission())
	s.Require().NoError(err)
	s.backend.down = true

	conf, err := s.gateway.AwaitConfirmation(context.Background(), handle, 30*time.Millisecond)
	s.Require().NoError(err)
	s.Equal(ledger.StatusTimedOut, conf.Status)
}

func (s *GatewaySuite) TestAwaitHonoursConfirmationDepth() {
	s.gateway.confirmations = 2
	sub := s.submission()
	handle, err := s.gateway.SubmitCertificate(context.Background(), sub)
	s.Require().NoError(err)
	s.backend.mine(common.HexToHash(handle.Hash), types.ReceiptStatusSuccessful, 1_700_000_000, sub.Fingerprint.String())

	status, err := s.gateway.TransactionStatus(context.Background(), handle.Hash)
	s.Require().NoError(err)
	s.Equal(ledger.StatusPending, status.Status)

	s.backend.mu.Lock()
	s.backend.head += 2
	s.backend.mu.Unlock()
	status, err = s.gateway.TransactionStatus(context.Background(), handle.Hash)
	s.Require().NoError(err)
	s.Equal(ledger.StatusConfirmed, status.Status)
}

func (s *GatewaySuite) TestTransactionStatusUnknownHash() {
	_, err := s.gateway.TransactionStatus(context.Background(), common.Hash{0x01}.Hex())
	s.ErrorIs(err, sentinel.ErrNotFound)
}

func (s *GatewaySuite) TestTransactionStatusPendingInMempool() {
	handle, err := s.gateway.SubmitCertificate(context.Background(), s.submission())
	s.Require().NoError(err)

	status, err := s.gateway.TransactionStatus(context.Background(), handle.Hash)
	s.Require().NoError(err)
	s.Equal(ledger.StatusPending, status.Status)
}

func (s *GatewaySuite) TestQueryTriState() {
	fp := certificate.Derive("C-1", "Intro")
	s.backend.records[fp.String()] = registryRecord{
		AwardeeName:     "Alice",
		CertificateName: "Intro",
		CertificateCode: "C-1",
		CertificateHash: fp.String(),
		Timestamp:       big.NewInt(1_700_000_000),
	}

	res := s.gateway.QueryCertificate(context.Background(), fp)
	s.Require().Equal(ledger.OutcomeFound, res.Outcome)
	s.Equal("Alice", res.Certificate.AwardeeName)
	s.Equal(fp, res.Certificate.Fingerprint)
	s.Equal(time.Unix(1_700_000_000, 0).UTC(), res.Certificate.IssuedAt)

	res = s.gateway.QueryCertificate(context.Background(), certificate.Derive("C-9", "Nope"))
	s.Equal(ledger.OutcomeNotFound, res.Outcome)
	s.NoError(res.Err)

	s.backend.down = true
	res = s.gateway.QueryCertificate(context.Background(), fp)
	s.Equal(ledger.OutcomeConnectionError, res.Outcome)
	s.Equal(ledger.CategoryUnavailable, ledger.CategoryOf(res.Err))
}

func (s *GatewaySuite) TestReachability() {
	s.True(s.gateway.IsReachable(context.Background()))
	s.backend.down = true
	s.False(s.gateway.IsReachable(context.Background()))
}

func TestNewWithBackendValidatesConfig(t *testing.T) {
	backend := newFakeBackend(t)
	_, err := NewWithBackend(backend, Config{ContractAddress: "not-an-address", SignerKeys: []string{"00"}})
	assert.Error(t, err)

	_, err = NewWithBackend(backend, Config{ContractAddress: registryAddress.Hex()})
	assert.Error(t, err)

	_, err = NewWithBackend(backend, Config{ContractAddress: registryAddress.Hex(), SignerKeys: []string{"zz"}})
	assert.Error(t, err)
}

func TestDecodeVerifyResult(t *testing.T) {
	registry, err := parseRegistryABI()
	require.NoError(t, err)

	packed, err := registry.Methods[methodVerify].Outputs.Pack(true, registryRecord{
		AwardeeName:     "Alice",
		CertificateName: "Intro",
		CertificateCode: "C-1",
		CertificateHash: "abc",
		Timestamp:       big.NewInt(42),
	})
	require.NoError(t, err)
	out, err := registry.Unpack(methodVerify, packed)
	require.NoError(t, err)

	found, rec, err := decodeVerifyResult(out)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, "C-1", rec.CertificateCode)
	assert.Equal(t, int64(42), rec.Timestamp.Int64())

	_, _, err = decodeVerifyResult([]interface{}{true})
	assert.Error(t, err)
}

func TestMapRPCError(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want ledger.Category
	}{
		{"deadline", context.DeadlineExceeded, ledger.CategoryUnavailable},
		{"refused", &net.OpError{Op: "dial", Net: "tcp", Err: syscall.ECONNREFUSED}, ledger.CategoryUnavailable},
		{"no code", bind.ErrNoCode, ledger.CategoryBadData},
		{"funds", errors.New("insufficient funds for gas * price + value"), ledger.CategoryUnauthorized},
		{"revert", revertError{}, ledger.CategoryRejected},
		{"other", errors.New("boom"), ledger.CategoryInternal},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, ledger.CategoryOf(mapRPCError("op", tc.err)))
		})
	}
}
