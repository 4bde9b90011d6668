package e2e

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"time"

	"certledger/internal/issuance"
	"certledger/internal/ledger/memory"
	httptransport "certledger/internal/transport/http"
	"certledger/internal/verification"
	"certledger/internal/verifylink"
	"certledger/pkg/platform/audit/publisher"
	auditmem "certledger/pkg/platform/audit/store/memory"
)

// TestContext holds per-scenario state. When CERTLEDGER_E2E_URL is set the
// scenarios run against that deployment; otherwise an in-process server over
// the in-memory ledger is started.
type TestContext struct {
	BaseURL string
	client  *http.Client
	server  *httptest.Server
	ledger  *memory.Ledger

	lastStatus int
	lastBody   []byte
	saved      map[string]string
}

func NewTestContext() *TestContext {
	tc := &TestContext{
		client: &http.Client{Timeout: 90 * time.Second},
		saved:  make(map[string]string),
	}
	if url := os.Getenv("CERTLEDGER_E2E_URL"); url != "" {
		tc.BaseURL = strings.TrimRight(url, "/")
		return tc
	}

	tc.ledger = memory.New(memory.WithPollInterval(time.Millisecond))
	pub := publisher.NewPublisher(auditmem.NewInMemoryStore())
	tc.server = httptest.NewServer(httptransport.NewRouter(httptransport.Dependencies{
		Issuance:     issuance.New(tc.ledger, verifylink.NewEncoder(), issuance.WithAuditPublisher(pub)),
		Verification: verification.New(tc.ledger, verification.WithAuditPublisher(pub)),
		Audit:        pub,
		Health:       tc.ledger,
	}))
	tc.BaseURL = tc.server.URL
	return tc
}

func (tc *TestContext) Close() {
	if tc.server != nil {
		tc.server.Close()
	}
}

// Ledger is nil when running against an external deployment.
func (tc *TestContext) Ledger() *memory.Ledger {
	return tc.ledger
}

func (tc *TestContext) POST(path string, body interface{}) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequest(http.MethodPost, tc.BaseURL+path, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	return tc.do(req)
}

func (tc *TestContext) GET(path string) error {
	req, err := http.NewRequest(http.MethodGet, tc.BaseURL+path, nil)
	if err != nil {
		return err
	}
	return tc.do(req)
}

func (tc *TestContext) do(req *http.Request) error {
	resp, err := tc.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	tc.lastStatus = resp.StatusCode
	tc.lastBody = body
	return nil
}

func (tc *TestContext) GetLastStatus() int {
	return tc.lastStatus
}

func (tc *TestContext) GetLastBody() []byte {
	return tc.lastBody
}

// GetResponseField reads a dotted path ("certificate.certificate_code") from
// the last JSON response.
func (tc *TestContext) GetResponseField(field string) (interface{}, error) {
	var data interface{}
	if err := json.Unmarshal(tc.lastBody, &data); err != nil {
		return nil, fmt.Errorf("response is not JSON: %w", err)
	}
	for _, part := range strings.Split(field, ".") {
		obj, ok := data.(map[string]interface{})
		if !ok {
			return nil, fmt.Errorf("field %q: %q is not an object", field, part)
		}
		data, ok = obj[part]
		if !ok {
			return nil, fmt.Errorf("field %q not found in response: %s", field, tc.lastBody)
		}
	}
	return data, nil
}

func (tc *TestContext) Save(key, value string) {
	tc.saved[key] = value
}

func (tc *TestContext) Saved(key string) string {
	return tc.saved[key]
}
