// Package errors defines the error taxonomy used across the flow tracking
// engine. Boundary operations (registration, store-backed preconditions)
// return FlowErrors; reconciliation functions never error and polling
// failures are logged and folded into backoff instead of propagated.
package errors

import (
	"fmt"
)

// ErrorCode represents different categories of errors
type ErrorCode string

const (
	// ErrCodeValidation indicates input validation or precondition errors
	ErrCodeValidation ErrorCode = "VALIDATION"

	// ErrCodeNotFound indicates a transaction or flow unknown to the store
	ErrCodeNotFound ErrorCode = "NOT_FOUND"

	// ErrCodeNetwork indicates backend or network-related errors
	ErrCodeNetwork ErrorCode = "NETWORK"

	// ErrCodeStorage indicates persisted storage operation errors
	ErrCodeStorage ErrorCode = "STORAGE"

	// ErrCodeTimeout indicates polling or verification timeouts
	ErrCodeTimeout ErrorCode = "TIMEOUT"

	// ErrCodeInternal indicates internal engine errors
	ErrCodeInternal ErrorCode = "INTERNAL"
)

// FlowError represents an error scoped to one cross-chain flow
type FlowError struct {
	Code    ErrorCode              `json:"code"`
	Message string                 `json:"message"`
	FlowID  string                 `json:"flowId,omitempty"`
	Cause   error                  `json:"-"`
	Context map[string]interface{} `json:"context,omitempty"`
}

// NewFlowError creates a new FlowError
func NewFlowError(code ErrorCode, flowID, message string, cause error) *FlowError {
	return &FlowError{
		Code:    code,
		Message: message,
		FlowID:  flowID,
		Cause:   cause,
		Context: make(map[string]interface{}),
	}
}

// Error implements the error interface
func (e *FlowError) Error() string {
	if e.FlowID != "" {
		return fmt.Sprintf("[%s:%s] %s", e.FlowID, e.Code, e.Message)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause
func (e *FlowError) Unwrap() error {
	return e.Cause
}

// WithContext adds context to the error
func (e *FlowError) WithContext(key string, value interface{}) *FlowError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

// IsRetryable returns true if the error is transient and worth retrying
func (e *FlowError) IsRetryable() bool {
	switch e.Code {
	case ErrCodeNetwork, ErrCodeTimeout:
		return true
	default:
		return false
	}
}

// Common error constructors

// NewValidationError creates a validation error
func NewValidationError(flowID, message string) *FlowError {
	return NewFlowError(ErrCodeValidation, flowID, message, nil)
}

// NewNotFoundError creates a not-found error
func NewNotFoundError(flowID, message string) *FlowError {
	return NewFlowError(ErrCodeNotFound, flowID, message, nil)
}

// NewNetworkError creates a network error
func NewNetworkError(flowID, message string, cause error) *FlowError {
	return NewFlowError(ErrCodeNetwork, flowID, message, cause)
}
