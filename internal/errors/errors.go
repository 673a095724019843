// Package errors provides standardized error codes for the host application.
//
// Error codes follow the format {domain}.{error} where:
//   - domain: The subsystem that generated the error (session, transport, keyboard, rpc, keepawake, storage)
//   - error: The specific error type within that domain
//
// Codes never cross the control RPC boundary; the controller folds every
// failure into a boolean success flag. They exist so logs and tests can tell
// failure classes apart without string matching.
package errors

import (
	"errors"
	"fmt"
)

// Error codes by domain.
const (
	// Session domain - lifecycle state machine
	CodeSessionAlreadyRunning = "session.already_running" // start while Running

	// Transport domain - keyboard forwarding capability
	CodeTransportBindFailed     = "transport.bind_failed"     // port could not be bound
	CodeTransportFatal          = "transport.fatal"           // run loop died while Running
	CodeTransportShutdownFailed = "transport.shutdown_failed" // shutdown returned an error

	// Keyboard domain - browser clients of the transport
	CodeKeyboardInvalidMessage = "keyboard.invalid_message" // unparseable or incomplete client message
	CodeKeyboardRateLimited    = "keyboard.rate_limited"    // auth or keystroke limit exceeded
	CodeKeyboardInjectFailed   = "keyboard.inject_failed"   // injector command failed

	// Pairing domain - code generation
	CodePairingGenerateFailed = "pairing.generate_failed" // crypto/rand failure

	// RPC domain - control socket
	CodeRPCFailed         = "rpc.failed"          // call never reached the backend or returned non-2xx
	CodeRPCInvalidRequest = "rpc.invalid_request" // malformed request body

	// Keep-awake domain - sleep inhibitor while a session runs
	CodeKeepAwakeUnsupported   = "keepawake.unsupported"    // no inhibitor available on this host
	CodeKeepAwakeAcquireFailed = "keepawake.acquire_failed" // inhibitor failed to start

	// Storage domain - audit log
	CodeStorageOpenFailed = "storage.open_failed" // Database open failed
	CodeStorageSaveFailed = "storage.save_failed" // Failed to save data

	// General domain - catch-all errors
	CodeUnknown = "error.unknown" // Unknown error
)

// CodedError wraps an error with a stable error code.
type CodedError struct {
	Code    string // Stable error code (e.g., "transport.bind_failed")
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
// Falls back to CodeUnknown for errors that carry no code.
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

// IsCode checks if an error has a specific error code.
func IsCode(err error, code string) bool {
	return GetCode(err) == code
}

// AlreadyRunning creates a "session.already_running" error.
func AlreadyRunning(port int) *CodedError {
	return New(CodeSessionAlreadyRunning, fmt.Sprintf("server already running on port %d", port))
}

// BindFailed creates a "transport.bind_failed" error.
func BindFailed(port int, cause error) *CodedError {
	return Wrap(CodeTransportBindFailed, fmt.Sprintf("failed to bind port %d", port), cause)
}

// TransportFatal creates a "transport.fatal" error.
func TransportFatal(cause error) *CodedError {
	return Wrap(CodeTransportFatal, "keyboard transport stopped unexpectedly", cause)
}

// ShutdownFailed creates a "transport.shutdown_failed" error.
func ShutdownFailed(cause error) *CodedError {
	return Wrap(CodeTransportShutdownFailed, "keyboard transport shutdown failed", cause)
}

// InjectFailed creates a "keyboard.inject_failed" error for a key.
func InjectFailed(key string, cause error) *CodedError {
	return Wrap(CodeKeyboardInjectFailed, fmt.Sprintf("failed to inject key %q", key), cause)
}

// RPCFailed creates an "rpc.failed" error for a named control operation.
func RPCFailed(op string, cause error) *CodedError {
	return Wrap(CodeRPCFailed, fmt.Sprintf("%s call failed", op), cause)
}

// InvalidRequest creates an "rpc.invalid_request" error.
func InvalidRequest(reason string) *CodedError {
	return New(CodeRPCInvalidRequest, reason)
}
