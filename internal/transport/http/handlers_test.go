package httptransport

import (
	"context"
	"encoding/base64"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/suite"
	"golang.org/x/crypto/bcrypt"

	"certledger/internal/certificate"
	"certledger/internal/issuance"
	"certledger/internal/journal"
	"certledger/internal/ledger/memory"
	"certledger/internal/operator"
	"certledger/internal/operator/store/lockout"
	"certledger/internal/platform/metrics"
	"certledger/internal/verification"
	"certledger/internal/verifylink"
	audit "certledger/pkg/platform/audit"
	"certledger/pkg/platform/audit/publisher"
	auditmem "certledger/pkg/platform/audit/store/memory"
	"certledger/pkg/testutil"
)

const testBaseURL = "https://certs.example.org"

// =============================================================================
// HTTP Surface Test Suite
// =============================================================================
// Justification for unit tests: response shapes and status codes are the
// contract callers and scanned QR codes depend on. These run the real
// services over the in-memory ledger.

type HandlerSuite struct {
	suite.Suite
	ledger   *memory.Ledger
	audit    *auditmem.InMemoryStore
	registry *prometheus.Registry
	router   http.Handler
	deps     Dependencies
}

func TestHandlerSuite(t *testing.T) {
	suite.Run(t, new(HandlerSuite))
}

func (s *HandlerSuite) SetupTest() {
	s.ledger = memory.New(memory.WithPollInterval(time.Millisecond))
	s.build(time.Second)
}

func (s *HandlerSuite) build(confirmTimeout time.Duration, mutate ...func(*Dependencies)) {
	s.audit = auditmem.NewInMemoryStore()
	s.registry = prometheus.NewRegistry()
	m := metrics.New(s.registry)
	pub := publisher.NewPublisher(s.audit)

	s.deps = Dependencies{
		Issuance: issuance.New(s.ledger, verifylink.NewEncoder(),
			issuance.WithConfirmTimeout(confirmTimeout),
			issuance.WithAuditPublisher(pub),
			issuance.WithMetrics(m),
		),
		Verification:  verification.New(s.ledger, verification.WithAuditPublisher(pub), verification.WithMetrics(m)),
		Audit:         pub,
		Health:        s.ledger,
		Gatherer:      s.registry,
		PublicBaseURL: testBaseURL,
	}
	for _, fn := range mutate {
		fn(&s.deps)
	}
	s.router = NewRouter(s.deps)
}

func (s *HandlerSuite) publish(awardee, name, code string) *publishResponse {
	rr := testutil.DoRequest(s.router, testutil.NewPublishRequest(s.T(), awardee, name, code))
	s.Require().Equal(http.StatusCreated, rr.Code, rr.Body.String())
	return testutil.UnmarshalResponse[publishResponse](s.T(), rr)
}

func (s *HandlerSuite) verify(hash string) (int, *verifyResponse) {
	rr := testutil.DoRequest(s.router, testutil.NewRequest(s.T(), http.MethodGet,
		"/verify_certificate?certificate_hash="+url.QueryEscape(hash)))
	return rr.Code, testutil.UnmarshalResponse[verifyResponse](s.T(), rr)
}

// =============================================================================
// Publish
// =============================================================================

func (s *HandlerSuite) TestPublishThenVerify() {
	testutil.Given(s.T(), "a published certificate", func(t *testing.T) {
		resp := s.publish("Alice", "Intro", "C-1")
		s.Equal(certificate.Derive("C-1", "Intro").String(), resp.CertificateHash)
		s.Equal("Certificate published successfully", resp.Message)
		s.NotEmpty(resp.TransactionHash)
		s.Equal(testBaseURL+"/verify?certificate_hash="+resp.CertificateHash, resp.VerificationURL)

		png, err := base64.StdEncoding.DecodeString(resp.QRCode)
		s.Require().NoError(err)
		s.Equal("\x89PNG", string(png[:4]))

		testutil.Then(t, "verification returns the stored fields", func(t *testing.T) {
			code, v := s.verify(resp.CertificateHash)
			s.Equal(http.StatusOK, code)
			s.True(v.Verified)
			s.Require().NotNil(v.Certificate)
			s.Equal("Alice", v.Certificate.AwardeeName)
			s.Equal("Intro", v.Certificate.CertificateName)
			s.Equal("C-1", v.Certificate.CertificateCode)
			s.Equal(resp.CertificateHash, v.Certificate.CertificateHash)
			s.Positive(v.Certificate.Timestamp)
		})
	})
}

func (s *HandlerSuite) TestPublishMissingFieldNamesIt() {
	rr := testutil.DoRequest(s.router, testutil.NewPublishRequest(s.T(), "Alice", "", "C-1"))
	testutil.AssertStatus(s.T(), rr, http.StatusBadRequest)
	body := testutil.UnmarshalErrorResponse(s.T(), rr)
	s.Contains(body["error"], "certificate_name")
	s.Equal(0, s.ledger.Submissions())
}

func (s *HandlerSuite) TestPublishInvalidJSON() {
	rr := testutil.DoRequest(s.router, testutil.NewRequestWithBody(s.T(), http.MethodPost, "/publish", "{not json"))
	testutil.AssertStatusAndError(s.T(), rr, http.StatusBadRequest, "Invalid JSON body")
}

func (s *HandlerSuite) TestPublishLedgerDown() {
	s.ledger.SetReachable(false)
	rr := testutil.DoRequest(s.router, testutil.NewPublishRequest(s.T(), "Alice", "Intro", "C-1"))
	testutil.AssertStatus(s.T(), rr, http.StatusInternalServerError)
	body := testutil.UnmarshalErrorResponse(s.T(), rr)
	s.Equal("Failed to publish certificate: ledger unavailable", body["error"])
}

func (s *HandlerSuite) TestPublishTimeoutCarriesTransactionHash() {
	s.ledger = memory.New(memory.WithConfirmDelay(time.Hour), memory.WithPollInterval(time.Millisecond))
	s.build(20 * time.Millisecond)

	rr := testutil.DoRequest(s.router, testutil.NewPublishRequest(s.T(), "Alice", "Intro", "C-1"))
	testutil.AssertStatus(s.T(), rr, http.StatusInternalServerError)
	body := testutil.UnmarshalErrorResponse(s.T(), rr)
	s.Equal("timed_out", body["outcome"])
	s.NotEmpty(body["transaction_hash"])

	status := testutil.DoRequest(s.router, testutil.NewRequest(s.T(), http.MethodGet, "/transactions/"+body["transaction_hash"]))
	testutil.AssertStatusOK(s.T(), status)
	tx := testutil.UnmarshalResponse[transactionResponse](s.T(), status)
	s.Equal("pending", tx.Status)
}

func (s *HandlerSuite) TestPublishBaseURLFromRequest() {
	s.build(time.Second, func(d *Dependencies) { d.PublicBaseURL = "" })

	req := testutil.NewPublishRequest(s.T(), "Alice", "Intro", "C-1")
	req.Host = "verify.example.net"
	req.Header.Set("X-Forwarded-Proto", "https")
	rr := testutil.DoRequest(s.router, req)
	testutil.AssertStatus(s.T(), rr, http.StatusCreated)
	resp := testutil.UnmarshalResponse[publishResponse](s.T(), rr)
	s.True(strings.HasPrefix(resp.VerificationURL, "https://verify.example.net/verify?certificate_hash="))
}

// =============================================================================
// Verify
// =============================================================================

func (s *HandlerSuite) TestVerifyUnknownIsNotFound() {
	code, v := s.verify(certificate.Derive("C-404", "Nothing").String())
	s.Equal(http.StatusOK, code)
	s.False(v.Verified)
	s.Equal(msgNotFound, v.Message)
	s.Empty(v.Error)
	s.Nil(v.Certificate)
}

func (s *HandlerSuite) TestVerifyMissingParameter() {
	code, v := s.verify("")
	s.Equal(http.StatusBadRequest, code)
	s.False(v.Verified)
	s.Contains(v.Message, "certificate_hash")
}

func (s *HandlerSuite) TestVerifyLedgerDownIsNotNotFound() {
	resp := s.publish("Alice", "Intro", "C-1")
	s.ledger.SetReachable(false)

	code, v := s.verify(resp.CertificateHash)
	s.Equal(http.StatusInternalServerError, code)
	s.False(v.Verified)
	s.Equal("ledger_unavailable", v.Error)
	s.NotEqual(msgNotFound, v.Message)
}

// =============================================================================
// Supporting routes
// =============================================================================

func (s *HandlerSuite) TestArtifact() {
	fp := certificate.Derive("C-1", "Intro").String()
	rr := testutil.DoRequest(s.router, testutil.NewRequest(s.T(), http.MethodGet, "/verification_artifact?certificate_hash="+fp))
	testutil.AssertStatusOK(s.T(), rr)
	resp := testutil.UnmarshalResponse[artifactResponse](s.T(), rr)
	s.Equal(fp, resp.CertificateHash)
	s.NotEmpty(resp.QRCode)
	s.Equal(0, s.ledger.Submissions())

	bad := testutil.DoRequest(s.router, testutil.NewRequest(s.T(), http.MethodGet, "/verification_artifact?certificate_hash=xyz"))
	testutil.AssertStatus(s.T(), bad, http.StatusBadRequest)
}

type limitRecorder struct {
	IssuanceService
	limits []int
}

func (r *limitRecorder) Unsettled(ctx context.Context, limit int) ([]journal.Entry, error) {
	r.limits = append(r.limits, limit)
	return r.IssuanceService.Unsettled(ctx, limit)
}

func (s *HandlerSuite) TestUnsettledListingLimits() {
	var rec *limitRecorder
	s.build(time.Second, func(d *Dependencies) {
		rec = &limitRecorder{IssuanceService: d.Issuance}
		d.Issuance = rec
	})

	for _, path := range []string{"/transactions", "/transactions?limit=7", "/transactions?limit=9999"} {
		rr := testutil.DoRequest(s.router, testutil.NewRequest(s.T(), http.MethodGet, path))
		testutil.AssertStatusOK(s.T(), rr)
	}
	s.Equal([]int{issuance.DefaultReconcileBatch, 7, maxUnsettledListing}, rec.limits)

	rr := testutil.DoRequest(s.router, testutil.NewRequest(s.T(), http.MethodGet, "/transactions?limit=-1"))
	testutil.AssertStatusAndError(s.T(), rr, http.StatusBadRequest, "Invalid parameter: limit")
}

func (s *HandlerSuite) TestTransactionUnknown() {
	rr := testutil.DoRequest(s.router, testutil.NewRequest(s.T(), http.MethodGet, "/transactions/0xdeadbeef"))
	testutil.AssertStatus(s.T(), rr, http.StatusNotFound)
}

func (s *HandlerSuite) TestHealth() {
	rr := testutil.DoRequest(s.router, testutil.NewRequest(s.T(), http.MethodGet, "/health"))
	testutil.AssertStatusOK(s.T(), rr)
	testutil.AssertJSONContains(s.T(), rr, "ledger", "reachable")

	s.ledger.SetReachable(false)
	rr = testutil.DoRequest(s.router, testutil.NewRequest(s.T(), http.MethodGet, "/health"))
	testutil.AssertStatus(s.T(), rr, http.StatusServiceUnavailable)
	testutil.AssertJSONContains(s.T(), rr, "status", "degraded")
}

func (s *HandlerSuite) TestAuditEvents() {
	resp := s.publish("Alice", "Intro", "C-1")
	s.verify(resp.CertificateHash)

	rr := testutil.DoRequest(s.router, testutil.NewRequest(s.T(), http.MethodGet, "/audit_events?certificate_hash="+resp.CertificateHash))
	testutil.AssertStatusOK(s.T(), rr)
	body := testutil.UnmarshalResponse[struct {
		Events []auditEventResponse `json:"events"`
	}](s.T(), rr)
	s.Require().Len(body.Events, 2)
	s.Equal("certificate_published", body.Events[0].Action)
	s.Equal("certificate_verified", body.Events[1].Action)
}

func (s *HandlerSuite) TestAuditEventsNotListable() {
	s.build(time.Second, func(d *Dependencies) { d.Audit = publisher.NewPublisher(appendOnlyStore{}) })
	rr := testutil.DoRequest(s.router, testutil.NewRequest(s.T(), http.MethodGet, "/audit_events"))
	testutil.AssertStatus(s.T(), rr, http.StatusNotImplemented)
}

func (s *HandlerSuite) TestMetricsEndpoint() {
	s.publish("Alice", "Intro", "C-1")
	rr := testutil.DoRequest(s.router, testutil.NewRequest(s.T(), http.MethodGet, "/metrics"))
	testutil.AssertStatusOK(s.T(), rr)
	s.Contains(rr.Body.String(), "certledger_")
}

// =============================================================================
// Operator gate
// =============================================================================

func (s *HandlerSuite) withOperator() {
	hash, err := bcrypt.GenerateFromPassword([]byte("s3cret"), bcrypt.MinCost)
	s.Require().NoError(err)
	authn, err := operator.NewStaticAuthenticator("registrar", string(hash))
	s.Require().NoError(err)
	tokens := operator.NewTokenService("test-signing-key-at-least-32-bytes!!", time.Hour)
	s.build(time.Second, func(d *Dependencies) {
		d.Operators = operator.NewService(authn, tokens)
		d.Tokens = tokens
	})
}

func (s *HandlerSuite) TestOperatorGate() {
	s.withOperator()

	testutil.When(s.T(), "publishing without a token", func(t *testing.T) {
		rr := testutil.DoRequest(s.router, testutil.NewPublishRequest(t, "Alice", "Intro", "C-1"))
		testutil.AssertStatusAndError(t, rr, http.StatusUnauthorized, "unauthorized")
		s.Equal(0, s.ledger.Submissions())
	})

	testutil.When(s.T(), "logging in with bad credentials", func(t *testing.T) {
		rr := testutil.DoRequest(s.router, testutil.NewJSONRequest(t, http.MethodPost, "/admin_login",
			map[string]string{"username": "registrar", "password": "nope"}))
		testutil.AssertStatus(t, rr, http.StatusUnauthorized)
		resp := testutil.UnmarshalResponse[loginResponse](t, rr)
		s.False(resp.Success)
		s.Equal("Invalid credentials", resp.Message)
	})

	testutil.When(s.T(), "logging in with missing fields", func(t *testing.T) {
		rr := testutil.DoRequest(s.router, testutil.NewJSONRequest(t, http.MethodPost, "/admin_login",
			map[string]string{"username": "registrar"}))
		testutil.AssertStatusAndError(t, rr, http.StatusBadRequest, "Invalid input")
	})

	testutil.When(s.T(), "publishing with a session token", func(t *testing.T) {
		rr := testutil.DoRequest(s.router, testutil.NewJSONRequest(t, http.MethodPost, "/admin_login",
			map[string]string{"username": "registrar", "password": "s3cret"}))
		testutil.AssertStatusOK(t, rr)
		login := testutil.UnmarshalResponse[loginResponse](t, rr)
		s.True(login.Success)
		s.Require().NotEmpty(login.Token)

		rr = testutil.DoRequest(s.router, testutil.WithBearer(testutil.NewPublishRequest(t, "Alice", "Intro", "C-1"), login.Token))
		testutil.AssertStatus(t, rr, http.StatusCreated)
	})

	testutil.Then(s.T(), "verification stays public", func(t *testing.T) {
		code, v := s.verify(certificate.Derive("C-1", "Intro").String())
		s.Equal(http.StatusOK, code)
		s.True(v.Verified)
	})
}

func (s *HandlerSuite) TestPublishAuditNamesOperatorAndClient() {
	h := New(s.deps)
	req := testutil.NewPublishRequest(s.T(), "Alice", "Intro", "C-1")
	req = testutil.WithOperator(req, "registrar")
	req = testutil.WithClient(req, "203.0.113.7", "curl/8.5.0", "curl 8.5.0")

	rr := httptest.NewRecorder()
	h.handlePublish(rr, req)
	testutil.AssertStatus(s.T(), rr, http.StatusCreated)

	events, err := s.audit.ListByCertificate(context.Background(), certificate.Derive("C-1", "Intro").String())
	s.Require().NoError(err)
	s.Require().Len(events, 1)
	s.Equal(string(audit.EventCertificatePublished), events[0].Action)
	s.Equal("registrar", events[0].ActorID)
	s.Equal("203.0.113.7", events[0].ClientIP)
	s.Equal("curl 8.5.0", events[0].Client)
}

func (s *HandlerSuite) TestLoginNotConfigured() {
	rr := testutil.DoRequest(s.router, testutil.NewJSONRequest(s.T(), http.MethodPost, "/admin_login",
		map[string]string{"username": "registrar", "password": "s3cret"}))
	testutil.AssertStatus(s.T(), rr, http.StatusNotFound)
}

type appendOnlyStore struct{}

func (appendOnlyStore) Append(context.Context, audit.Event) error { return nil }

func (s *HandlerSuite) TestLoginLockout() {
	hash, err := bcrypt.GenerateFromPassword([]byte("s3cret"), bcrypt.MinCost)
	s.Require().NoError(err)
	authn, err := operator.NewStaticAuthenticator("registrar", string(hash))
	s.Require().NoError(err)
	tokens := operator.NewTokenService("test-signing-key-at-least-32-bytes!!", time.Hour)
	s.build(time.Second, func(d *Dependencies) {
		d.Operators = operator.NewService(authn, tokens, operator.WithLockout(lockout.New(), 2, time.Minute))
		d.Tokens = tokens
	})

	login := func(password string) *httptest.ResponseRecorder {
		return testutil.DoRequest(s.router, testutil.NewJSONRequest(s.T(), http.MethodPost, "/admin_login",
			map[string]string{"username": "registrar", "password": password}))
	}
	testutil.AssertStatus(s.T(), login("nope"), http.StatusUnauthorized)
	testutil.AssertStatus(s.T(), login("nope"), http.StatusUnauthorized)

	rr := login("s3cret")
	testutil.AssertStatus(s.T(), rr, http.StatusTooManyRequests)
	s.NotEmpty(rr.Header().Get("Retry-After"))
	resp := testutil.UnmarshalResponse[loginResponse](s.T(), rr)
	s.False(resp.Success)
	s.Empty(resp.Token)
}
