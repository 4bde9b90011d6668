package verification

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/suite"
	"go.uber.org/mock/gomock"

	"certledger/internal/certificate"
	"certledger/internal/ledger"
	"certledger/internal/ledger/memory"
	"certledger/internal/ledger/mocks"
	"certledger/internal/platform/metrics"
	dErrors "certledger/pkg/domain-errors"
	audit "certledger/pkg/platform/audit"
	"certledger/pkg/platform/audit/publisher"
	auditmem "certledger/pkg/platform/audit/store/memory"
)

// =============================================================================
// Verification Service Test Suite
// =============================================================================
// Justification for unit tests: the tri-state classification and the
// not-found/unavailable distinction are the core guarantees of verification.

type VerificationServiceSuite struct {
	suite.Suite
	ctx     context.Context
	ledger  *memory.Ledger
	audit   *auditmem.InMemoryStore
	metrics *metrics.Metrics
	service *Service
}

func TestVerificationServiceSuite(t *testing.T) {
	suite.Run(t, new(VerificationServiceSuite))
}

func (s *VerificationServiceSuite) SetupTest() {
	s.ctx = context.Background()
	s.ledger = memory.New(memory.WithPollInterval(time.Millisecond))
	s.audit = auditmem.NewInMemoryStore()
	s.metrics = metrics.New(prometheus.NewRegistry())
	s.service = New(s.ledger,
		WithAuditPublisher(publisher.NewPublisher(s.audit)),
		WithMetrics(s.metrics),
	)
}

func (s *VerificationServiceSuite) publish(awardee, code, name string) certificate.Fingerprint {
	fp := certificate.Derive(code, name)
	handle, err := s.ledger.SubmitCertificate(s.ctx, ledger.Submission{
		AwardeeName:     awardee,
		CertificateName: name,
		CertificateCode: code,
		Fingerprint:     fp,
	})
	s.Require().NoError(err)
	conf, err := s.ledger.AwaitConfirmation(s.ctx, handle, time.Second)
	s.Require().NoError(err)
	s.Require().Equal(ledger.StatusConfirmed, conf.Status)
	return fp
}

func (s *VerificationServiceSuite) TestVerified() {
	fp := s.publish("Alice", "C-1", "Intro")

	res, err := s.service.Verify(s.ctx, fp.String())
	s.Require().NoError(err)
	s.True(res.Verified())
	s.Equal(StatusVerified, res.Status)
	s.Equal("C-1", res.Certificate.CertificateCode)
	s.Equal("Alice", res.Certificate.AwardeeName)
	s.Equal(fp, res.Certificate.Fingerprint)
	s.False(res.Certificate.IssuedAt.IsZero())

	events, err := s.audit.ListByCertificate(s.ctx, fp.String())
	s.Require().NoError(err)
	s.Require().Len(events, 1)
	s.Equal(string(audit.EventCertificateVerified), events[0].Action)
	s.Equal(audit.CategoryOperations, events[0].Category)
}

func (s *VerificationServiceSuite) TestInputIsNormalized() {
	fp := s.publish("Alice", "C-1", "Intro")

	res, err := s.service.Verify(s.ctx, "  "+strings.ToUpper(fp.String())+"\n")
	s.Require().NoError(err)
	s.True(res.Verified())
}

func (s *VerificationServiceSuite) TestNeverPublishedIsNotFoundWithoutError() {
	s.Run("well-formed fingerprint", func() {
		res, err := s.service.Verify(s.ctx, certificate.Derive("C-404", "Missing").String())
		s.Require().NoError(err)
		s.False(res.Verified())
		s.Equal(StatusNotFound, res.Status)
		s.Empty(res.Certificate.CertificateCode)
	})

	s.Run("arbitrary text is asked of the ledger too", func() {
		res, err := s.service.Verify(s.ctx, "not-a-hash")
		s.Require().NoError(err)
		s.Equal(StatusNotFound, res.Status)
	})
}

func (s *VerificationServiceSuite) TestEmptyInputIsValidationError() {
	for _, raw := range []string{"", "   "} {
		_, err := s.service.Verify(s.ctx, raw)
		s.True(dErrors.HasCode(err, dErrors.CodeValidation))
		s.Contains(dErrors.MessageOf(err), "certificate_hash")
	}
	s.Equal(2.0, testutil.ToFloat64(s.metrics.VerificationOutcome.WithLabelValues("invalid")))
}

func (s *VerificationServiceSuite) TestUnreachableLedgerIsDistinctFromNotFound() {
	fp := s.publish("Alice", "C-1", "Intro")
	s.ledger.SetReachable(false)

	res, err := s.service.Verify(s.ctx, fp.String())
	s.Nil(res)
	s.Require().Error(err)
	s.True(errors.Is(err, ErrLedgerUnavailable))
	s.True(errors.Is(err, ledger.ErrUnreachable))
	s.True(dErrors.HasCode(err, dErrors.CodeLedgerUnavailable))
	s.NotContains(dErrors.MessageOf(err), "unreachable", "collaborator detail stays server-side")

	events, err := s.audit.ListByCertificate(s.ctx, fp.String())
	s.Require().NoError(err)
	s.Require().Len(events, 1)
	s.Equal(string(audit.EventVerificationUnavailable), events[0].Action)
}

func (s *VerificationServiceSuite) TestRepeatedVerificationIsIdempotent() {
	fp := s.publish("Alice", "C-1", "Intro")
	missing := certificate.Derive("C-2", "Other")

	first, err := s.service.Verify(s.ctx, fp.String())
	s.Require().NoError(err)
	firstMissing, err := s.service.Verify(s.ctx, missing.String())
	s.Require().NoError(err)

	for range 25 {
		again, err := s.service.Verify(s.ctx, fp.String())
		s.Require().NoError(err)
		s.Equal(first, again)

		againMissing, err := s.service.Verify(s.ctx, missing.String())
		s.Require().NoError(err)
		s.Equal(firstMissing, againMissing)
	}
	s.Equal(1, s.ledger.Submissions(), "verification never writes")
}

func (s *VerificationServiceSuite) TestConcurrentVerification() {
	fp := s.publish("Alice", "C-1", "Intro")

	var wg sync.WaitGroup
	errs := make(chan error, 50)
	for range 50 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := s.service.Verify(s.ctx, fp.String())
			if err == nil && !res.Verified() {
				err = errors.New("expected verified")
			}
			if err != nil {
				errs <- err
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		s.NoError(err)
	}
}

// =============================================================================
// Cache behavior
// =============================================================================

type mapCache struct {
	mu      sync.Mutex
	entries map[certificate.Fingerprint]certificate.Certificate
	failGet bool
	puts    int
}

func newMapCache() *mapCache {
	return &mapCache{entries: make(map[certificate.Fingerprint]certificate.Certificate)}
}

func (c *mapCache) Get(_ context.Context, fp certificate.Fingerprint) (certificate.Certificate, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.failGet {
		return certificate.Certificate{}, false, errors.New("redis: i/o timeout")
	}
	cert, ok := c.entries[fp]
	return cert, ok, nil
}

func (c *mapCache) Put(_ context.Context, cert certificate.Certificate, _ time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.puts++
	c.entries[cert.Fingerprint] = cert
	return nil
}

func TestCacheStoresOnlyFoundResults(t *testing.T) {
	ctx := context.Background()
	fp := certificate.Derive("C-1", "Intro")
	found := certificate.Certificate{AwardeeName: "Alice", CertificateName: "Intro", CertificateCode: "C-1", Fingerprint: fp}
	missing := certificate.Derive("C-2", "Other")

	ctrl := gomock.NewController(t)
	gw := mocks.NewMockGateway(ctrl)
	gw.EXPECT().QueryCertificate(gomock.Any(), fp).Return(ledger.Found(found)).Times(1)
	gw.EXPECT().QueryCertificate(gomock.Any(), missing).Return(ledger.NotFound()).Times(2)

	cache := newMapCache()
	svc := New(gw, WithCache(cache, time.Minute))

	for range 3 {
		res, err := svc.Verify(ctx, fp.String())
		if err != nil || !res.Verified() {
			t.Fatalf("expected verified, got %v %v", res, err)
		}
	}
	for range 2 {
		res, err := svc.Verify(ctx, missing.String())
		if err != nil || res.Verified() {
			t.Fatalf("expected not found, got %v %v", res, err)
		}
	}
	if cache.puts != 1 {
		t.Fatalf("expected exactly one cache write, got %d", cache.puts)
	}
}

func TestCacheFailureFallsBackToLedger(t *testing.T) {
	ctx := context.Background()
	fp := certificate.Derive("C-1", "Intro")

	ctrl := gomock.NewController(t)
	gw := mocks.NewMockGateway(ctrl)
	gw.EXPECT().QueryCertificate(gomock.Any(), fp).Return(ledger.ConnectionError(errors.New("dial tcp: refused")))

	cache := newMapCache()
	cache.failGet = true
	svc := New(gw, WithCache(cache, time.Minute))

	_, err := svc.Verify(ctx, fp.String())
	if !errors.Is(err, ErrLedgerUnavailable) {
		t.Fatalf("expected ledger unavailable, got %v", err)
	}
	if cache.puts != 0 {
		t.Fatalf("outage must not be cached")
	}
}
