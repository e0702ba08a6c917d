package errors

import (
	stderrors "errors"
	"fmt"
)

// ErrorCode represents a claimdesk error code.
type ErrorCode string

const (
	ErrInvalidRequest     ErrorCode = "INVALID_REQUEST"     // 400
	ErrNotFound           ErrorCode = "NOT_FOUND"           // 404
	ErrConflict           ErrorCode = "CONFLICT"            // 409 (stale proposal)
	ErrSessionBusy        ErrorCode = "SESSION_BUSY"        // 409
	ErrSessionClosed      ErrorCode = "SESSION_CLOSED"      // 410
	ErrPayloadTooLarge    ErrorCode = "PAYLOAD_TOO_LARGE"   // 413
	ErrUnsupportedTarget  ErrorCode = "UNSUPPORTED_TARGET"  // 422
	ErrInternal           ErrorCode = "INTERNAL"            // 500
	ErrStorageUnavailable ErrorCode = "STORAGE_UNAVAILABLE" // 503
	ErrAgentUnavailable   ErrorCode = "AGENT_UNAVAILABLE"   // 503
)

// DeskError represents a structured error with code, status, and details.
type DeskError struct {
	Code    ErrorCode
	Status  int
	Message string
	Details map[string]any

	// cause is the underlying error, kept for logs only.
	cause error
}

// Error implements the error interface.
func (e *DeskError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause, if any.
func (e *DeskError) Unwrap() error {
	return e.cause
}

// NewInvalidRequest creates a 400 error for invalid request parameters.
func NewInvalidRequest(msg string) *DeskError {
	return &DeskError{
		Code:    ErrInvalidRequest,
		Status:  400,
		Message: msg,
	}
}

// NewNotFound creates a 404 error. kind names what is missing ("claim",
// "artifact", "file", "proposal"), identifier is the id or display name.
func NewNotFound(kind, identifier string) *DeskError {
	return &DeskError{
		Code:    ErrNotFound,
		Status:  404,
		Message: fmt.Sprintf("%s not found: %s", kind, identifier),
		Details: map[string]any{"kind": kind, "identifier": identifier},
	}
}

// NewConflict creates a 409 error for a proposal whose snapshot no longer
// matches the live content of its target.
func NewConflict(targetName string) *DeskError {
	return &DeskError{
		Code:    ErrConflict,
		Status:  409,
		Message: fmt.Sprintf("%q changed since this proposal was generated; regenerate the proposal and review it again", targetName),
		Details: map[string]any{"target_name": targetName},
	}
}

// NewSessionBusy creates a 409 error for a session that already has a request in flight.
func NewSessionBusy(sessionID string) *DeskError {
	return &DeskError{
		Code:    ErrSessionBusy,
		Status:  409,
		Message: "a request is already in progress for this session",
		Details: map[string]any{"session_id": sessionID},
	}
}

// NewSessionClosed creates a 410 error for a torn-down session.
func NewSessionClosed(sessionID string) *DeskError {
	return &DeskError{
		Code:    ErrSessionClosed,
		Status:  410,
		Message: "session has ended",
		Details: map[string]any{"session_id": sessionID},
	}
}

// NewPayloadTooLarge creates a 413 error when an upload exceeds the size limit.
func NewPayloadTooLarge(max int64) *DeskError {
	return &DeskError{
		Code:    ErrPayloadTooLarge,
		Status:  413,
		Message: fmt.Sprintf("upload exceeds maximum size of %d bytes", max),
		Details: map[string]any{"max_bytes": max},
	}
}

// NewUnsupportedTarget creates a 422 error for targets that cannot be rewritten as text.
func NewUnsupportedTarget(filename string) *DeskError {
	return &DeskError{
		Code:    ErrUnsupportedTarget,
		Status:  422,
		Message: fmt.Sprintf("Cannot update '%s'. Only text files can be updated. PDFs and images can be read but not modified.", filename),
		Details: map[string]any{"target_name": filename},
	}
}

// NewStorageUnavailable creates a 503 error after storage retries are exhausted.
// The cause is kept for logging; the message stays generic.
func NewStorageUnavailable(cause error) *DeskError {
	return &DeskError{
		Code:    ErrStorageUnavailable,
		Status:  503,
		Message: "storage is temporarily unavailable, please retry",
		cause:   cause,
	}
}

// NewAgentUnavailable creates a 503 error when the proposal generator fails
// or times out. Generation is never retried automatically.
func NewAgentUnavailable(cause error) *DeskError {
	return &DeskError{
		Code:    ErrAgentUnavailable,
		Status:  503,
		Message: "Sorry, I encountered an error processing your request.",
		cause:   cause,
	}
}

// NewInternal creates a 500 error for unexpected internal errors. The
// message is generic; err is kept as the cause for logging.
func NewInternal(err error) *DeskError {
	return &DeskError{
		Code:    ErrInternal,
		Status:  500,
		Message: "an internal error occurred",
		cause:   err,
	}
}

// Is checks if an error is a DeskError with the given code.
func Is(err error, code ErrorCode) bool {
	var dErr *DeskError
	if stderrors.As(err, &dErr) {
		return dErr.Code == code
	}
	return false
}

// As converts any error into a DeskError, wrapping unknown errors as INTERNAL.
func As(err error) *DeskError {
	var dErr *DeskError
	if stderrors.As(err, &dErr) {
		return dErr
	}
	return NewInternal(err)
}

// Retryable reports whether the caller may retry the same request unchanged.
func Retryable(err error) bool {
	return Is(err, ErrStorageUnavailable)
}
