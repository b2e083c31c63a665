// Package domainerrors provides coded errors for the custody ledger.
//
// Services return these so transport layers can translate them into wire
// responses and so callers can branch on failure class without string
// matching. Codes mirror the ledger's failure taxonomy: attestation gating,
// permission evaluation, record existence, state-machine violations, and the
// cross-ledger transfer protocol.
package domainerrors

import (
	"errors"
	"fmt"
)

// Code classifies a domain error.
type Code string

const (
	CodeAttestationExpired    Code = "attestation_expired"
	CodeInsufficientVerifiers Code = "insufficient_verifiers"
	CodePermissionDenied      Code = "permission_denied"
	CodeNotFound              Code = "not_found"
	CodeAlreadyExists         Code = "already_exists"
	CodeInvalidStatus         Code = "invalid_status"
	CodeInvalidTransferState  Code = "invalid_transfer_state"
	CodeSourceChainMismatch   Code = "source_chain_mismatch"
	CodeIntegrityMismatch     Code = "integrity_mismatch"
	CodeBadRequest            Code = "bad_request"
	CodeInternal              Code = "internal"
)

// Error is a coded domain error. Reason is human-readable and is what the
// audit trail records verbatim.
type Error struct {
	Code   Code
	Reason string
	cause  error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Reason, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Reason)
}

func (e *Error) Unwrap() error { return e.cause }

// New creates a coded error with a human-readable reason.
func New(code Code, reason string) error {
	return &Error{Code: code, Reason: reason}
}

// Newf creates a coded error with a formatted reason.
func Newf(code Code, format string, args ...any) error {
	return &Error{Code: code, Reason: fmt.Sprintf(format, args...)}
}

// Wrap attaches a code and reason to an underlying error. The cause remains
// reachable through errors.Is / errors.As.
func Wrap(err error, code Code, reason string) error {
	if err == nil {
		return nil
	}
	return &Error{Code: code, Reason: reason, cause: err}
}

// HasCode reports whether err carries the given code anywhere in its chain.
func HasCode(err error, code Code) bool {
	var de *Error
	if errors.As(err, &de) {
		return de.Code == code
	}
	return false
}

// CodeOf extracts the code from err, defaulting to CodeInternal for errors
// that did not originate in domain logic.
func CodeOf(err error) Code {
	var de *Error
	if errors.As(err, &de) {
		return de.Code
	}
	return CodeInternal
}

// ReasonOf extracts the human-readable reason, falling back to the error text.
func ReasonOf(err error) string {
	var de *Error
	if errors.As(err, &de) {
		return de.Reason
	}
	if err != nil {
		return err.Error()
	}
	return ""
}
