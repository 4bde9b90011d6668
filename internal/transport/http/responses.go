package httptransport

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"certledger/internal/certificate"
	"certledger/internal/issuance"
	dErrors "certledger/pkg/domain-errors"
	audit "certledger/pkg/platform/audit"
	"certledger/pkg/platform/httputil"
)

type publishRequest struct {
	AwardeeName     string `json:"awardee_name"`
	CertificateName string `json:"certificate_name"`
	CertificateCode string `json:"certificate_code"`
}

func (r publishRequest) identity() certificate.Identity {
	return certificate.Identity{
		AwardeeName:     r.AwardeeName,
		CertificateName: r.CertificateName,
		CertificateCode: r.CertificateCode,
	}
}

type publishResponse struct {
	Message         string `json:"message"`
	CertificateHash string `json:"certificate_hash"`
	QRCode          string `json:"qr_code"`
	VerificationURL string `json:"verification_url"`
	TransactionHash string `json:"transaction_hash"`
	BlockNumber     uint64 `json:"block_number"`
	IssuedAt        string `json:"issued_at,omitempty"`
}

type certificateResponse struct {
	AwardeeName     string `json:"awardee_name"`
	CertificateName string `json:"certificate_name"`
	CertificateCode string `json:"certificate_code"`
	CertificateHash string `json:"certificate_hash"`
	Timestamp       int64  `json:"timestamp"`
}

type verifyResponse struct {
	Verified    bool                 `json:"verified"`
	Message     string               `json:"message,omitempty"`
	Error       string               `json:"error,omitempty"`
	Certificate *certificateResponse `json:"certificate,omitempty"`
}

type artifactResponse struct {
	CertificateHash string `json:"certificate_hash"`
	VerificationURL string `json:"verification_url"`
	QRCode          string `json:"qr_code"`
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type loginResponse struct {
	Success   bool   `json:"success"`
	Message   string `json:"message"`
	Token     string `json:"token,omitempty"`
	ExpiresAt string `json:"expires_at,omitempty"`
}

type transactionResponse struct {
	TransactionHash string `json:"transaction_hash"`
	Status          string `json:"status"`
	CertificateHash string `json:"certificate_hash,omitempty"`
	BlockNumber     uint64 `json:"block_number,omitempty"`
	IssuedAt        string `json:"issued_at,omitempty"`
}

type journalEntryResponse struct {
	TransactionHash string `json:"transaction_hash"`
	CertificateHash string `json:"certificate_hash"`
	State           string `json:"state"`
	Signer          string `json:"signer,omitempty"`
	SubmittedAt     string `json:"submitted_at"`
	UpdatedAt       string `json:"updated_at"`
}

type auditEventResponse struct {
	ID              string `json:"id"`
	Category        string `json:"category"`
	Action          string `json:"action"`
	Timestamp       string `json:"timestamp"`
	CertificateHash string `json:"certificate_hash,omitempty"`
	TxHash          string `json:"tx_hash,omitempty"`
	ActorID         string `json:"actor_id,omitempty"`
	Decision        string `json:"decision,omitempty"`
	Reason          string `json:"reason,omitempty"`
	RequestID       string `json:"request_id,omitempty"`
}

func toAuditEventResponses(events []audit.Event) []auditEventResponse {
	out := make([]auditEventResponse, 0, len(events))
	for _, e := range events {
		out = append(out, auditEventResponse{
			ID:              e.ID,
			Category:        string(e.Category),
			Action:          e.Action,
			Timestamp:       formatTime(e.Timestamp),
			CertificateHash: e.CertificateHash,
			TxHash:          e.TxHash,
			ActorID:         e.ActorID,
			Decision:        e.Decision,
			Reason:          e.Reason,
			RequestID:       e.RequestID,
		})
	}
	return out
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

// writeError writes {error: <client-safe message>} with the status of the
// error's code. Publish failures after submission also carry the transaction
// hash so callers can poll /transactions/{tx_hash}.
func writeError(w http.ResponseWriter, err error) {
	body := map[string]any{"error": dErrors.MessageOf(err)}
	var se *issuance.SubmissionError
	if errors.As(err, &se) {
		if se.TxHash != "" {
			body["transaction_hash"] = se.TxHash
		}
		if se.Ambiguous() {
			body["outcome"] = string(issuance.ReasonTimedOut)
		}
	}
	httputil.WriteJSON(w, dErrors.CodeOf(err).HTTPStatus(), body)
}

// baseURL is the configured public base, or the origin the request came in on.
func (h *Handler) baseURL(r *http.Request) string {
	if h.publicBaseURL != "" {
		return h.publicBaseURL
	}
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	if proto := r.Header.Get("X-Forwarded-Proto"); proto == "http" || proto == "https" {
		scheme = proto
	}
	host := r.Host
	if fwd := strings.TrimSpace(r.Header.Get("X-Forwarded-Host")); fwd != "" {
		host = fwd
	}
	return scheme + "://" + host
}
