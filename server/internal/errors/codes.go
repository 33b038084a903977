// Package errors defines structured error codes for chat operations.
package errors

import (
	"fmt"
)

// ErrorCode represents a specific error type for chat operations.
type ErrorCode string

const (
	// ErrCodeInvalidArgument indicates invalid input parameters.
	ErrCodeInvalidArgument ErrorCode = "INVALID_ARGUMENT"
	// ErrCodeRateLimitExceeded indicates rate limit has been exceeded.
	ErrCodeRateLimitExceeded ErrorCode = "RATE_LIMIT_EXCEEDED"
	// ErrCodeConversationNotFound indicates the conversation does not exist.
	ErrCodeConversationNotFound ErrorCode = "CONVERSATION_NOT_FOUND"
	// ErrCodeInternal indicates a store or server failure.
	ErrCodeInternal ErrorCode = "INTERNAL"
)

// ChatError represents a structured error for chat operations.
type ChatError struct {
	Code    ErrorCode
	Message string
	Cause   error
}

// Error implements the error interface.
func (e *ChatError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause.
func (e *ChatError) Unwrap() error {
	return e.Cause
}

// New creates a ChatError.
func New(code ErrorCode, message string) *ChatError {
	return &ChatError{Code: code, Message: message}
}

// Wrap creates a ChatError wrapping a cause.
func Wrap(code ErrorCode, message string, cause error) *ChatError {
	return &ChatError{Code: code, Message: message, Cause: cause}
}
