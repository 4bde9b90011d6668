package httptransport

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"certledger/internal/operator"
	dErrors "certledger/pkg/domain-errors"
	"certledger/pkg/platform/audit/publisher"
	"certledger/pkg/platform/httputil"
	"certledger/pkg/requestcontext"
)

const recentAuditEvents = 100

func (h *Handler) handleLogin(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.operators == nil {
		writeError(w, dErrors.New(dErrors.CodeNotFound, "Operator login is not configured"))
		return
	}

	req, err := httputil.DecodeJSON[loginRequest](r)
	if err != nil {
		writeError(w, dErrors.New(dErrors.CodeBadRequest, "Invalid input"))
		return
	}

	session, err := h.operators.Login(ctx, req.Username, req.Password)
	if err != nil {
		var locked *operator.LockedOutError
		if errors.As(err, &locked) {
			if wait := time.Until(locked.Until); wait > 0 {
				w.Header().Set("Retry-After", strconv.Itoa(int(wait.Seconds())+1))
			}
			httputil.WriteJSON(w, http.StatusTooManyRequests, loginResponse{
				Success: false,
				Message: dErrors.MessageOf(err),
			})
			return
		}
		if dErrors.HasCode(err, dErrors.CodeUnauthorized) {
			h.logger.WarnContext(ctx, "operator login rejected",
				"request_id", requestcontext.RequestID(ctx),
				"client_ip", requestcontext.ClientIP(ctx),
			)
			httputil.WriteJSON(w, http.StatusUnauthorized, loginResponse{
				Success: false,
				Message: dErrors.MessageOf(err),
			})
			return
		}
		writeError(w, err)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, loginResponse{
		Success:   true,
		Message:   "Login successful",
		Token:     session.Token,
		ExpiresAt: formatTime(session.ExpiresAt),
	})
}

// handleAuditEvents reads the trail for one certificate, or the most recent
// events when no hash is given.
func (h *Handler) handleAuditEvents(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.audit == nil {
		writeAuditNotListable(w)
		return
	}

	hash := strings.ToLower(strings.TrimSpace(r.URL.Query().Get("certificate_hash")))
	var (
		events []auditEventResponse
		err    error
	)
	if hash != "" {
		list, listErr := h.audit.List(ctx, hash)
		events, err = toAuditEventResponses(list), listErr
	} else {
		list, listErr := h.audit.Recent(ctx, recentAuditEvents)
		events, err = toAuditEventResponses(list), listErr
	}
	if err != nil {
		if errors.Is(err, publisher.ErrNotListable) {
			writeAuditNotListable(w)
			return
		}
		h.logger.ErrorContext(ctx, "audit listing failed",
			"request_id", requestcontext.RequestID(ctx),
			"error", err,
		)
		writeError(w, dErrors.Wrap(err, dErrors.CodeInternal, "Failed to read audit events"))
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{"events": events})
}

func writeAuditNotListable(w http.ResponseWriter) {
	httputil.WriteJSON(w, http.StatusNotImplemented, map[string]string{
		"error": "The configured audit sink cannot be read back",
	})
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	if h.health != nil && !h.health.IsReachable(r.Context()) {
		httputil.WriteJSON(w, http.StatusServiceUnavailable, map[string]string{
			"status": "degraded",
			"ledger": "unreachable",
		})
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]string{
		"status": "ok",
		"ledger": "reachable",
	})
}
