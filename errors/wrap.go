package errors

import (
	"errors"
	"fmt"
)

// Wrap wraps an error with additional context
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}

// Wrapf wraps an error with formatted message
func Wrapf(err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), err)
}

// WrapFlowError wraps an error as a FlowError if it isn't already one
func WrapFlowError(err error, code ErrorCode, flowID, message string) *FlowError {
	if err == nil {
		return nil
	}

	var flowErr *FlowError
	if errors.As(err, &flowErr) {
		flowErr.Context["wrapped_message"] = message
		if flowID != "" && flowErr.FlowID == "" {
			flowErr.FlowID = flowID
		}
		return flowErr
	}

	return NewFlowError(code, flowID, message, err)
}

// Is reports whether any error in err's chain matches target
func Is(err error, target error) bool {
	return errors.Is(err, target)
}

// As finds the first error in err's chain that matches target
func As(err error, target interface{}) bool {
	return errors.As(err, target)
}

// IsFlowError checks if an error is a FlowError with a specific code
func IsFlowError(err error, code ErrorCode) bool {
	var flowErr *FlowError
	if errors.As(err, &flowErr) {
		return flowErr.Code == code
	}
	return false
}
