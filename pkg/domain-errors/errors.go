// Package domainerrors provides coded errors for the engine. Services attach a
// Code describing the failure class; transports translate codes to HTTP status
// without inspecting error strings.
package domainerrors

import (
	"errors"
	"fmt"
	"net/http"
)

// Code classifies a domain failure. The set mirrors the protocol error
// taxonomy: validation failures are rejected before any state change,
// correlation misses are logged and dropped, protocol errors move the owning
// operation to a terminal failure state.
type Code string

const (
	// CodeInvalidInput marks malformed or missing required fields. Never
	// retried by the engine.
	CodeInvalidInput Code = "invalid_input"

	// CodeNotFound marks lookups for entities that do not exist.
	CodeNotFound Code = "not_found"

	// CodeInvalidState marks operations attempted against an entity in the
	// wrong lifecycle state, e.g. requesting data for a non-granted artefact.
	CodeInvalidState Code = "invalid_state"

	// CodeProtocol marks inconsistencies in callback payloads that the
	// protocol forbids, e.g. a GRANTED status with no artefacts or a
	// pageCount that changes between pages of one transaction.
	CodeProtocol Code = "protocol_error"

	// CodeCorrelationMiss marks callbacks referencing an identifier this
	// process does not know. Not fatal: in a multi-instance deployment the
	// request may have been originated elsewhere.
	CodeCorrelationMiss Code = "correlation_miss"

	// CodeConflict marks duplicate deliveries the protocol does not allow to
	// be re-applied, e.g. a transfer page number already ingested.
	CodeConflict Code = "conflict"

	// CodeTimeout marks a deadline elapsing with no matching callback.
	CodeTimeout Code = "timeout"

	// CodeGatewayUnavailable marks outbound call failures (network, 4xx, 5xx
	// from the gateway). Surfaced synchronously to the initiator.
	CodeGatewayUnavailable Code = "gateway_unavailable"

	// CodeUnauthorized marks local API calls with a missing or invalid token.
	CodeUnauthorized Code = "unauthorized"

	// CodeInternal marks unexpected failures.
	CodeInternal Code = "internal"
)

// Error carries a code alongside the message. Use New/Newf/Wrap to construct.
type Error struct {
	Code    Code
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// New returns a coded error with a static message.
func New(code Code, message string) error {
	return &Error{Code: code, Message: message}
}

// Newf returns a coded error with a formatted message.
func Newf(code Code, format string, args ...any) error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap attaches a code and message to an underlying error.
func Wrap(code Code, message string, err error) error {
	return &Error{Code: code, Message: message, Err: err}
}

// CodeOf extracts the code from err, walking wrapped errors. Uncoded errors
// map to CodeInternal.
func CodeOf(err error) Code {
	var de *Error
	if errors.As(err, &de) {
		return de.Code
	}
	return CodeInternal
}

// HasCode reports whether err carries the given code.
func HasCode(err error, code Code) bool {
	return err != nil && CodeOf(err) == code
}

// ToHTTPStatus maps a code to the status the transport layer should emit.
func ToHTTPStatus(code Code) int {
	switch code {
	case CodeInvalidInput:
		return http.StatusBadRequest
	case CodeNotFound:
		return http.StatusNotFound
	case CodeInvalidState, CodeConflict, CodeProtocol:
		return http.StatusConflict
	case CodeCorrelationMiss:
		// Callbacks for unknown identifiers are acknowledged and dropped.
		return http.StatusAccepted
	case CodeTimeout:
		return http.StatusGatewayTimeout
	case CodeGatewayUnavailable:
		return http.StatusBadGateway
	case CodeUnauthorized:
		return http.StatusUnauthorized
	default:
		return http.StatusInternalServerError
	}
}
