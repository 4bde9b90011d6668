package httptransport

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"certledger/internal/issuance"
	dErrors "certledger/pkg/domain-errors"
	"certledger/pkg/platform/httputil"
	"certledger/pkg/requestcontext"
)

const maxUnsettledListing = 500

// handlePublish anchors a certificate and answers with its verification
// artifact once the ledger has confirmed the transaction.
func (h *Handler) handlePublish(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)

	req, err := httputil.DecodeJSON[publishRequest](r)
	if err != nil {
		h.logger.WarnContext(ctx, "invalid publish request",
			"request_id", requestID,
			"error", err,
		)
		writeError(w, dErrors.New(dErrors.CodeBadRequest, "Invalid JSON body"))
		return
	}

	res, err := h.issuance.Publish(ctx, issuance.Request{
		Identity: req.identity(),
		BaseURL:  h.baseURL(r),
	})
	if err != nil {
		h.logPublishError(r, err)
		writeError(w, err)
		return
	}

	httputil.WriteJSON(w, http.StatusCreated, publishResponse{
		Message:         "Certificate published successfully",
		CertificateHash: res.Fingerprint.String(),
		QRCode:          res.Artifact.Base64(),
		VerificationURL: res.Artifact.URL,
		TransactionHash: res.TxHash,
		BlockNumber:     res.BlockNumber,
		IssuedAt:        formatTime(res.IssuedAt),
	})
}

func (h *Handler) logPublishError(r *http.Request, err error) {
	ctx := r.Context()
	attrs := []any{
		"request_id", requestcontext.RequestID(ctx),
		"operator_id", requestcontext.OperatorID(ctx),
		"code", dErrors.CodeOf(err),
		"error", err,
	}
	var se *issuance.SubmissionError
	if errors.As(err, &se) {
		attrs = append(attrs, "reason", se.Reason, "tx_hash", se.TxHash)
	}
	if dErrors.CodeOf(err).HTTPStatus() < http.StatusInternalServerError {
		h.logger.WarnContext(ctx, "publish refused", attrs...)
		return
	}
	h.logger.ErrorContext(ctx, "publish failed", attrs...)
}

// handleArtifact regenerates the QR for an already published fingerprint.
func (h *Handler) handleArtifact(w http.ResponseWriter, r *http.Request) {
	artifact, err := h.issuance.Artifact(r.URL.Query().Get("certificate_hash"), h.baseURL(r))
	if err != nil {
		writeError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, artifactResponse{
		CertificateHash: artifact.Fingerprint.String(),
		VerificationURL: artifact.URL,
		QRCode:          artifact.Base64(),
	})
}

func (h *Handler) handleTransactionStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	status, err := h.issuance.Status(ctx, chi.URLParam(r, "tx_hash"))
	if err != nil {
		if dErrors.CodeOf(err).HTTPStatus() >= http.StatusInternalServerError {
			h.logger.ErrorContext(ctx, "transaction status failed",
				"request_id", requestcontext.RequestID(ctx),
				"error", err,
			)
		}
		writeError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, transactionResponse{
		TransactionHash: status.TxHash,
		Status:          string(status.Status),
		CertificateHash: status.Fingerprint.String(),
		BlockNumber:     status.BlockNumber,
		IssuedAt:        formatTime(status.IssuedAt),
	})
}

// handleUnsettled lists journaled transactions that never reached a final
// outcome.
func (h *Handler) handleUnsettled(w http.ResponseWriter, r *http.Request) {
	limit, err := parseLimit(r.URL.Query().Get("limit"), issuance.DefaultReconcileBatch, maxUnsettledListing)
	if err != nil {
		writeError(w, err)
		return
	}
	entries, err := h.issuance.Unsettled(r.Context(), limit)
	if err != nil {
		writeError(w, err)
		return
	}
	out := make([]journalEntryResponse, 0, len(entries))
	for _, e := range entries {
		out = append(out, journalEntryResponse{
			TransactionHash: e.TxHash,
			CertificateHash: e.Fingerprint.String(),
			State:           string(e.State),
			Signer:          e.Signer,
			SubmittedAt:     formatTime(e.SubmittedAt),
			UpdatedAt:       formatTime(e.UpdatedAt),
		})
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{"transactions": out})
}

func parseLimit(raw string, def, ceiling int) (int, error) {
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return 0, dErrors.New(dErrors.CodeBadRequest, "Invalid parameter: limit")
	}
	if n > ceiling {
		n = ceiling
	}
	return n, nil
}
