package schema

import "fmt"

// Error codes for structured error reporting.
const (
	ErrCodeValidation             = "VALIDATION_ERROR"
	ErrCodeExecution              = "EXECUTION_ERROR"
	ErrCodeTimeout                = "TIMEOUT_ERROR"
	ErrCodeNotFound               = "NOT_FOUND"
	ErrCodeConflict               = "CONFLICT"
	ErrCodeInvalidTransition      = "INVALID_TRANSITION"
	ErrCodeCapabilityNotFound     = "CAPABILITY_NOT_FOUND"
	ErrCodeRetryable              = "RETRYABLE_HANDLER_ERROR"
	ErrCodeNonRetryable           = "NON_RETRYABLE_HANDLER_ERROR"
	ErrCodeRetryExhausted         = "RETRY_EXHAUSTED"
	ErrCodeRequiredContextMissing = "REQUIRED_CONTEXT_MISSING"
	ErrCodeTemplate               = "TEMPLATE_ERROR"
	ErrCodeStepFailed             = "STEP_FAILED"
	ErrCodeCancelled              = "CANCELLED"
	ErrCodeStore                  = "STORE_ERROR"
)

// EngineError is the structured error type for all patternd operations.
type EngineError struct {
	Code      string         `json:"code"`
	Message   string         `json:"message"`
	Details   map[string]any `json:"details,omitempty"`
	StepAlias string         `json:"step,omitempty"`
	Cause     error          `json:"-"`
}

func (e *EngineError) Error() string {
	if e.StepAlias != "" {
		return fmt.Sprintf("[%s] step %s: %s", e.Code, e.StepAlias, e.Message)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

func (e *EngineError) Unwrap() error {
	return e.Cause
}

// IsRetryable reports whether the runtime may retry the failed invocation.
// Only failures a handler explicitly signals as transient are retried;
// everything else surfaces immediately.
func (e *EngineError) IsRetryable() bool {
	return e.Code == ErrCodeRetryable
}

// NewError creates a new EngineError.
func NewError(code, message string) *EngineError {
	return &EngineError{Code: code, Message: message}
}

// NewErrorf creates a new EngineError with a formatted message.
func NewErrorf(code, format string, args ...any) *EngineError {
	return &EngineError{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Retryable wraps an arbitrary handler error as an explicitly transient failure.
func Retryable(err error) *EngineError {
	return &EngineError{Code: ErrCodeRetryable, Message: err.Error(), Cause: err}
}

// Retryablef builds a transient failure from a formatted message.
func Retryablef(format string, args ...any) *EngineError {
	return &EngineError{Code: ErrCodeRetryable, Message: fmt.Sprintf(format, args...)}
}

// WithStep attaches the step alias to the error.
func (e *EngineError) WithStep(alias string) *EngineError {
	e.StepAlias = alias
	return e
}

// WithCause attaches an underlying cause.
func (e *EngineError) WithCause(err error) *EngineError {
	e.Cause = err
	return e
}

// WithDetails attaches key-value details.
func (e *EngineError) WithDetails(details map[string]any) *EngineError {
	e.Details = details
	return e
}
