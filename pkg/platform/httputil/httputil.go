// Package httputil holds the JSON envelope helpers shared by all handlers.
package httputil

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	dErrors "certledger/pkg/domain-errors"
)

// MaxBodyBytes bounds JSON request bodies.
const MaxBodyBytes = 64 << 10

// WriteJSON writes v with the given status.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// WriteError writes the standard {error, error_description} envelope for a coded error.
// Internal errors omit the description so collaborator details never reach clients.
func WriteError(w http.ResponseWriter, err error) {
	code := dErrors.CodeOf(err)
	body := map[string]string{"error": string(code)}
	if code != dErrors.CodeInternal {
		body["error_description"] = dErrors.MessageOf(err)
	}
	WriteJSON(w, code.HTTPStatus(), body)
}

// DecodeJSON decodes a bounded JSON body into T. Decode failures come back as
// CodeBadRequest so handlers can pass them straight to their error writer.
func DecodeJSON[T any](r *http.Request) (T, error) {
	var v T
	if r.Body == nil {
		return v, dErrors.New(dErrors.CodeBadRequest, "request body is required")
	}
	dec := json.NewDecoder(io.LimitReader(r.Body, MaxBodyBytes))
	if err := dec.Decode(&v); err != nil {
		if errors.Is(err, io.EOF) {
			return v, dErrors.New(dErrors.CodeBadRequest, "request body is required")
		}
		return v, dErrors.Wrap(err, dErrors.CodeBadRequest, fmt.Sprintf("invalid JSON body: %v", err))
	}
	return v, nil
}
