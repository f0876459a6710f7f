package schema

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEngineError_Error(t *testing.T) {
	err := NewError(ErrCodeCapabilityNotFound, "capability \"missing.op\" not registered")
	assert.Equal(t, `[CAPABILITY_NOT_FOUND] capability "missing.op" not registered`, err.Error())

	withStep := NewError(ErrCodeStepFailed, "handler failed").WithStep("valued")
	assert.Equal(t, "[STEP_FAILED] step valued: handler failed", withStep.Error())
}

func TestEngineError_Unwrap(t *testing.T) {
	cause := errors.New("connection reset")
	err := Retryable(cause)
	assert.True(t, errors.Is(err, cause))
	assert.Equal(t, ErrCodeRetryable, err.Code)
}

func TestEngineError_IsRetryable(t *testing.T) {
	assert.True(t, Retryablef("pricing feed %s unavailable", "eod").IsRetryable())

	for _, code := range []string{
		ErrCodeCapabilityNotFound,
		ErrCodeNonRetryable,
		ErrCodeValidation,
		ErrCodeRequiredContextMissing,
		ErrCodeCancelled,
	} {
		assert.False(t, NewError(code, "x").IsRetryable(), "expected %s to be non-retryable", code)
	}
}
