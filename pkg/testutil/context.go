package testutil

import (
	"net/http"

	"certledger/pkg/requestcontext"
)

// WithOperator adds an operator ID to the request context.
// This simulates what the operator middleware does for authenticated requests.
func WithOperator(req *http.Request, operatorID string) *http.Request {
	if operatorID == "" {
		return req
	}
	return req.WithContext(requestcontext.WithOperatorID(req.Context(), operatorID))
}

// WithClient adds client metadata the way the metadata middleware would.
func WithClient(req *http.Request, clientIP, userAgent, client string) *http.Request {
	return req.WithContext(requestcontext.WithClientMetadata(req.Context(), clientIP, userAgent, client))
}
