package httptransport

import (
	"net/http"

	dErrors "certledger/pkg/domain-errors"
	"certledger/pkg/platform/httputil"
	"certledger/pkg/requestcontext"
)

const msgNotFound = "Certificate not found on ledger"

// handleVerify answers one of three ways: verified, not found (both 200), or
// a 500 when the ledger could not be asked. The last never reads as
// "not verified" alone; it carries error "ledger_unavailable".
func (h *Handler) handleVerify(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	res, err := h.verification.Verify(ctx, r.URL.Query().Get("certificate_hash"))
	if err != nil {
		code := dErrors.CodeOf(err)
		resp := verifyResponse{Verified: false, Message: dErrors.MessageOf(err)}
		if code.HTTPStatus() >= http.StatusInternalServerError {
			resp.Error = string(code)
			h.logger.ErrorContext(ctx, "verification failed",
				"request_id", requestcontext.RequestID(ctx),
				"error", err,
			)
		}
		httputil.WriteJSON(w, code.HTTPStatus(), resp)
		return
	}

	if !res.Verified() {
		httputil.WriteJSON(w, http.StatusOK, verifyResponse{Verified: false, Message: msgNotFound})
		return
	}

	cert := res.Certificate
	var ts int64
	if !cert.IssuedAt.IsZero() {
		ts = cert.IssuedAt.Unix()
	}
	httputil.WriteJSON(w, http.StatusOK, verifyResponse{
		Verified: true,
		Certificate: &certificateResponse{
			AwardeeName:     cert.AwardeeName,
			CertificateName: cert.CertificateName,
			CertificateCode: cert.CertificateCode,
			CertificateHash: cert.Fingerprint.String(),
			Timestamp:       ts,
		},
	})
}
