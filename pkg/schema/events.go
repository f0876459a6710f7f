package schema

// Event type constants for the audit event log.
const (
	EventInvocationStarted   = "invocation_started"
	EventInvocationCompleted = "invocation_completed"
	EventInvocationAborted   = "invocation_aborted"

	EventStepStarted   = "step_started"
	EventStepCompleted = "step_completed"
	EventStepFailed    = "step_failed"
	EventStepSkipped   = "step_skipped"
	EventStepRetrying  = "step_retrying"

	EventValidationWarning = "validation_warning"
	EventOutputsExtracted  = "outputs_extracted"
)

// InvocationStatus represents the lifecycle state of a pattern invocation.
type InvocationStatus string

const (
	InvocationLoaded     InvocationStatus = "loaded"
	InvocationValidating InvocationStatus = "validating"
	InvocationExecuting  InvocationStatus = "executing"
	InvocationExtracting InvocationStatus = "extracting"
	InvocationDone       InvocationStatus = "done"
	InvocationAborted    InvocationStatus = "aborted"
)
