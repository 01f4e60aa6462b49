package core

import (
	"fmt"
)

// ExecutionError represents a structured error with category and details
type ExecutionError struct {
	Category ErrorCategory
	Code     string                 // Machine-readable code: stale_element_reference, timeout, etc.
	Message  string                 // Human-readable message
	Details  map[string]interface{} // Additional context
	Cause    error                  // Underlying error
}

// Error implements the error interface
func (e *ExecutionError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

// Unwrap returns the underlying error for errors.Is/As support
func (e *ExecutionError) Unwrap() error {
	return e.Cause
}

// Is reports whether target is an ExecutionError with the same code.
// Copies made by WithCause/WithMessage/WithDetails still match their sentinel.
func (e *ExecutionError) Is(target error) bool {
	t, ok := target.(*ExecutionError)
	if !ok || t == nil {
		return false
	}
	return t.Code != "" && t.Code == e.Code
}

// WithCause returns a copy of the error with the given cause
func (e *ExecutionError) WithCause(cause error) *ExecutionError {
	return &ExecutionError{
		Category: e.Category,
		Code:     e.Code,
		Message:  e.Message,
		Details:  e.Details,
		Cause:    cause,
	}
}

// WithMessage returns a copy of the error with a custom message
func (e *ExecutionError) WithMessage(msg string) *ExecutionError {
	return &ExecutionError{
		Category: e.Category,
		Code:     e.Code,
		Message:  msg,
		Details:  e.Details,
		Cause:    e.Cause,
	}
}

// WithDetails returns a copy of the error with additional details
func (e *ExecutionError) WithDetails(details map[string]interface{}) *ExecutionError {
	merged := make(map[string]interface{})
	for k, v := range e.Details {
		merged[k] = v
	}
	for k, v := range details {
		merged[k] = v
	}
	return &ExecutionError{
		Category: e.Category,
		Code:     e.Code,
		Message:  e.Message,
		Details:  merged,
		Cause:    e.Cause,
	}
}

// Predefined errors (W3C WebDriver error codes where one exists)
var (
	// Element errors
	ErrStaleElementReference = &ExecutionError{
		Category: ErrCategoryAssertion,
		Code:     "stale_element_reference",
		Message:  "element is not attached to the page document or is no longer cached",
	}
	ErrElementNotFound = &ExecutionError{
		Category: ErrCategoryAssertion,
		Code:     "element_not_found",
		Message:  "element not found",
	}
	ErrNoSuchFrame = &ExecutionError{
		Category: ErrCategoryAssertion,
		Code:     "no_such_frame",
		Message:  "frame not found",
	}

	// Timeout errors
	ErrTimeout = &ExecutionError{
		Category: ErrCategoryTimeout,
		Code:     "timeout",
		Message:  "operation timed out",
	}

	// Connection errors
	ErrServerUnreachable = &ExecutionError{
		Category: ErrCategoryConnection,
		Code:     "server_unreachable",
		Message:  "could not connect to automation server",
	}

	// App / page state errors
	ErrUnexpectedAlertOpen = &ExecutionError{
		Category: ErrCategoryApp,
		Code:     "unexpected_alert_open",
		Message:  "a modal dialog was open, blocking this operation",
	}
	ErrInvalidElementState = &ExecutionError{
		Category: ErrCategoryApp,
		Code:     "invalid_element_state",
		Message:  "the application is in a state that does not allow this operation",
	}
	ErrNoWebView = &ExecutionError{
		Category: ErrCategoryApp,
		Code:     "no_webview",
		Message:  "no WebView found, unable to translate web coordinates for native web tap",
	}

	// Config / argument errors
	ErrInvalidArgument = &ExecutionError{
		Category: ErrCategoryConfig,
		Code:     "invalid_argument",
		Message:  "invalid argument",
	}
	ErrNotImplemented = &ExecutionError{
		Category: ErrCategoryConfig,
		Code:     "not_implemented",
		Message:  "operation is not supported by this collaborator",
	}
)

// NewExecutionError creates a new ExecutionError with the given parameters
func NewExecutionError(category ErrorCategory, code, message string) *ExecutionError {
	return &ExecutionError{
		Category: category,
		Code:     code,
		Message:  message,
	}
}

// ErrorFromW3C maps a W3C WebDriver error name to a typed error. Unknown
// names become uncategorised JavaScript errors carrying message.
func ErrorFromW3C(name, message string) error {
	var base *ExecutionError
	switch name {
	case "stale element reference":
		base = ErrStaleElementReference
	case "no such element":
		base = ErrElementNotFound
	case "no such frame":
		base = ErrNoSuchFrame
	case "timeout", "script timeout":
		base = ErrTimeout
	case "unexpected alert open":
		base = ErrUnexpectedAlertOpen
	case "invalid element state":
		base = ErrInvalidElementState
	case "invalid argument":
		base = ErrInvalidArgument
	default:
		if message == "" {
			message = name
		}
		return NewExecutionError(ErrCategoryNone, "javascript_error", message)
	}
	if message == "" {
		return base
	}
	return base.WithMessage(message)
}
