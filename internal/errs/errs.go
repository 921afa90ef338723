// Package errs defines the structured error type shared by the retuning
// core. Every failure that can surface through a destination's status
// carries a machine-readable code so callers can branch on the category
// without string matching.
package errs

import (
	"errors"
	"fmt"
)

// Code categorizes a destination or transport failure.
type Code string

const (
	// CodeNoDestinationSelected indicates an event had no matching destination.
	CodeNoDestinationSelected Code = "NO_DESTINATION_SELECTED"

	// CodeDestinationNotFound indicates a route referenced an unknown destination.
	CodeDestinationNotFound Code = "DESTINATION_NOT_FOUND"

	// CodePermissionDenied indicates the platform denied access to the device.
	CodePermissionDenied Code = "PERMISSION_DENIED"

	// CodeBridgeDisconnected indicates a native destination's host bridge is unreachable.
	CodeBridgeDisconnected Code = "BRIDGE_DISCONNECTED"

	// CodePluginNotInstalled indicates a native plugin destination is missing.
	CodePluginNotInstalled Code = "PLUGIN_NOT_INSTALLED"

	// CodePluginVersionMismatch indicates a native plugin is present but incompatible.
	CodePluginVersionMismatch Code = "PLUGIN_VERSION_MISMATCH"

	// CodeNoTuningClients indicates a tuning-table broadcast has no listeners.
	CodeNoTuningClients Code = "NO_TUNING_BROADCAST_CLIENTS"

	// CodeConfigTimeout indicates preflight configuration did not drain in time.
	CodeConfigTimeout Code = "CONFIG_TIMEOUT"

	// CodeSendFailed indicates a transport-level send failure.
	CodeSendFailed Code = "SEND_FAILED"

	// CodeUnknown is the fallback for uncategorized failures.
	CodeUnknown Code = "UNKNOWN"
)

// Error is a categorized failure. Dest is the destination id when the
// failure is scoped to one destination, empty otherwise.
type Error struct {
	Code    Code
	Message string
	Dest    string
	Err     error // wrapped cause, may be nil
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Dest != "" {
		return fmt.Sprintf("%s: %s (dest=%s)", e.Code, e.Message, e.Dest)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap exposes the wrapped cause for errors.Is / errors.As.
func (e *Error) Unwrap() error {
	return e.Err
}

// New creates an Error with a code and message.
func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Newf creates an Error with a formatted message.
func Newf(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap attaches a code and destination to an underlying error. Returns nil
// when err is nil. If err already carries a Code, that code is preserved.
func Wrap(code Code, dest string, err error) *Error {
	if err == nil {
		return nil
	}
	var inner *Error
	if errors.As(err, &inner) {
		code = inner.Code
	}
	return &Error{Code: code, Message: err.Error(), Dest: dest, Err: err}
}

// CodeOf extracts the code from an error chain, or CodeUnknown.
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return CodeUnknown
}

// HasCode reports whether the error chain carries the given code.
func HasCode(err error, code Code) bool {
	return CodeOf(err) == code
}
