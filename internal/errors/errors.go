// Package errors provides standardized error codes for the relay.
//
// Error codes follow the format {domain}.{error} where:
//   - domain: The subsystem that generated the error (handshake, session, request, transport, server)
//   - error: The specific error type within that domain
//
// These codes are stable and can be used by automation clients for
// programmatic error handling. Human-readable messages are provided
// alongside codes.
package errors

import (
	"errors"
	"fmt"
)

// Error codes by domain.
// These are stable identifiers that clients can rely on for error handling.
const (
	// Handshake domain - connection establishment errors.
	// These are rejected at connect time; no session is created.
	CodeHandshakeInvalidTimeout = "handshake.invalid_timeout" // Requested idle timeout outside configured bounds
	CodeHandshakeMalformed      = "handshake.malformed"       // Handshake frame not parseable
	CodeHandshakeAuthRequired   = "handshake.auth_required"   // Relay requires a token and none was supplied
	CodeHandshakeAuthInvalid    = "handshake.auth_invalid"    // Supplied token unknown or revoked

	// Session domain - session lifecycle errors
	CodeSessionNotFound = "session.not_found" // Resume id does not match any session
	CodeSessionExpired  = "session.expired"   // Session existed but its idle timeout elapsed
	CodeSessionClosed   = "session.closed"    // Session was explicitly closed
	CodeSessionBusy     = "session.busy"      // Session already has an attached connection

	// Request domain - command lifecycle errors
	CodeRequestTimeout     = "request.timeout"      // Pending request exceeded the relay deadline
	CodeRequestCancelled   = "request.cancelled"    // Owning session closed before a reply arrived
	CodeRequestRateLimited = "request.rate_limited" // Too many commands per second on one connection
	CodeRequestDuplicate   = "request.duplicate"    // Request id already pending for this session

	// Transport domain - shared-transport channel errors
	CodeHostDisconnected      = "transport.host_disconnected" // Extension bridge connection lost mid-flight
	CodeTransportDecodeFailed = "transport.decode_failed"     // Malformed frame or chunk sequence
	CodeTransportUnavailable  = "transport.unavailable"       // No bridge connection established yet

	// Server domain - WebSocket and network errors
	CodeServerInvalidMessage = "server.invalid_message" // Malformed or invalid client message
	CodeServerSendFailed     = "server.send_failed"     // Failed to send message to client

	// General domain - catch-all errors
	CodeUnknown  = "error.unknown"  // Unknown error
	CodeInternal = "error.internal" // Internal relay error
)

// CodedError wraps an error with a stable error code.
// This allows errors to carry both a code for programmatic handling
// and a message for human consumption.
type CodedError struct {
	Code    string // Stable error code (e.g., "session.expired")
	Message string // Human-readable error message
	Cause   error  // Underlying error (may be nil)
}

// Error implements the error interface.
func (e *CodedError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (%v)", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause for errors.Is/As support.
func (e *CodedError) Unwrap() error {
	return e.Cause
}

// New creates a new CodedError with the given code and message.
func New(code, message string) *CodedError {
	return &CodedError{
		Code:    code,
		Message: message,
	}
}

// Wrap creates a new CodedError wrapping an existing error.
func Wrap(code, message string, cause error) *CodedError {
	return &CodedError{
		Code:    code,
		Message: message,
		Cause:   cause,
	}
}

// GetCode extracts the error code from an error.
// If the error is a CodedError, returns its code.
// Falls back to CodeUnknown for unrecognized errors.
func GetCode(err error) string {
	if err == nil {
		return ""
	}

	var coded *CodedError
	if errors.As(err, &coded) {
		return coded.Code
	}

	return CodeUnknown
}

// GetMessage extracts a human-readable message from an error.
// If the error is a CodedError, returns its message.
// Otherwise, returns the error's Error() string.
func GetMessage(err error) string {
	if err == nil {
		return ""
	}

	var coded *CodedError
	if errors.As(err, &coded) {
		return coded.Message
	}

	return err.Error()
}

// ToCodeAndMessage extracts both code and message from an error.
// This is the primary function for converting errors to client responses.
func ToCodeAndMessage(err error) (code, message string) {
	if err == nil {
		return "", ""
	}

	var coded *CodedError
	if errors.As(err, &coded) {
		return coded.Code, coded.Message
	}

	return CodeUnknown, err.Error()
}

// HasCode reports whether err carries the given error code.
func HasCode(err error, code string) bool {
	return GetCode(err) == code
}
