package errors

import (
	"errors"
	"fmt"
)

// Code classifies a call-path failure. The set is closed: every error
// that can reach a user or drive a session transition carries one.
type Code string

const (
	CodePermissionDenied Code = "PERMISSION_DENIED"
	CodeDeviceNotFound   Code = "DEVICE_NOT_FOUND"
	CodeDeviceNotWorking Code = "DEVICE_NOT_WORKING"
	CodeRelayUnavailable Code = "RELAY_UNAVAILABLE"
	CodePeerUnavailable  Code = "PEER_UNAVAILABLE"
	CodeConnectionError  Code = "CONNECTION_ERROR"
	CodeTimeout          Code = "TIMEOUT"
	CodeUnknown          Code = "UNKNOWN"
)

// CallError is a classified error with a message fit for direct display.
type CallError struct {
	Code    Code
	Message string
	Cause   error
}

func (e *CallError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *CallError) Unwrap() error {
	return e.Cause
}

// Benign reports whether the error is expected during normal operation
// and must not be surfaced to the user. Only peer-unavailable qualifies:
// it means the remote side has not joined yet.
func (e *CallError) Benign() bool {
	return e.Code == CodePeerUnavailable
}

// New creates a classified error.
func New(code Code, message string) *CallError {
	return &CallError{Code: code, Message: message}
}

// Wrap attaches a classification to an underlying error.
func Wrap(err error, code Code, message string) *CallError {
	return &CallError{Code: code, Message: message, Cause: err}
}

// Common constructors.

func NewPermissionDenied() *CallError {
	return New(CodePermissionDenied, "camera/microphone permission was denied")
}

func NewDeviceNotFound() *CallError {
	return New(CodeDeviceNotFound, "no camera or microphone was found")
}

func NewDeviceNotWorking() *CallError {
	return New(CodeDeviceNotWorking, "a capture device was granted but produced no media")
}

func NewRelayUnavailable(cause error) *CallError {
	return Wrap(cause, CodeRelayUnavailable, "could not reach the signalling relay")
}

func NewPeerUnavailable(target string) *CallError {
	return New(CodePeerUnavailable, fmt.Sprintf("peer %s is not reachable yet", target))
}

func NewConnectionError(cause error) *CallError {
	return Wrap(cause, CodeConnectionError, "the connection to the other side failed")
}

func NewTimeout(op string) *CallError {
	return New(CodeTimeout, fmt.Sprintf("%s timed out", op))
}

// CodeOf extracts the classification from an error chain. Unclassified
// errors report CodeUnknown.
func CodeOf(err error) Code {
	var ce *CallError
	if errors.As(err, &ce) {
		return ce.Code
	}
	return CodeUnknown
}

// IsBenign reports whether err classifies as an expected, recoverable
// condition.
func IsBenign(err error) bool {
	var ce *CallError
	return errors.As(err, &ce) && ce.Benign()
}
