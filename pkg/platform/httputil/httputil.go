// Package httputil holds the shared JSON response helpers for the HTTP
// transport layer.
package httputil

import (
	"encoding/json"
	"log/slog"
	"net/http"

	dErrors "custodia/pkg/domain-errors"
)

// WriteJSON writes v as a JSON response with the given status.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// WriteError translates a domain error into the wire envelope. Internal
// errors omit the reason so storage details never leak to callers.
func WriteError(w http.ResponseWriter, err error) {
	code := dErrors.CodeOf(err)
	body := map[string]string{"error": string(code)}
	if code != dErrors.CodeInternal {
		body["error_description"] = dErrors.ReasonOf(err)
	}
	WriteJSON(w, statusFor(code), body)
}

func statusFor(code dErrors.Code) int {
	switch code {
	case dErrors.CodeBadRequest:
		return http.StatusBadRequest
	case dErrors.CodePermissionDenied:
		return http.StatusForbidden
	case dErrors.CodeNotFound:
		return http.StatusNotFound
	case dErrors.CodeAlreadyExists:
		return http.StatusConflict
	case dErrors.CodeInvalidStatus, dErrors.CodeInvalidTransferState, dErrors.CodeSourceChainMismatch, dErrors.CodeIntegrityMismatch:
		return http.StatusConflict
	case dErrors.CodeAttestationExpired, dErrors.CodeInsufficientVerifiers:
		return http.StatusPreconditionFailed
	default:
		return http.StatusInternalServerError
	}
}

// Decode reads the request body into T, answering a bad_request envelope on
// malformed input.
func Decode[T any](w http.ResponseWriter, r *http.Request, log *slog.Logger) (T, bool) {
	var req T
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		log.WarnContext(r.Context(), "malformed request body", "path", r.URL.Path, "error", err)
		WriteError(w, dErrors.Wrap(err, dErrors.CodeBadRequest, "malformed request body"))
		return req, false
	}
	return req, true
}
