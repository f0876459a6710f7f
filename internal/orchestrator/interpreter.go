package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/ledgerline/patternd/internal/capability"
	"github.com/ledgerline/patternd/internal/expressions"
	"github.com/ledgerline/patternd/internal/logging"
	"github.com/ledgerline/patternd/internal/store"
	"github.com/ledgerline/patternd/pkg/schema"
)

// Library resolves pattern ids to loaded patterns. Implemented by the loader.
type Library interface {
	Get(id string) (*schema.Pattern, bool)
	ValidateInputs(id string, inputs map[string]any) error
}

// EventSink receives audit events during execution. Satisfied by
// *store.EventLog; a nil sink disables persistence entirely — the
// orchestrator itself never requires storage.
type EventSink interface {
	AppendEvent(ctx context.Context, event *store.Event) error
}

// Options configures an Interpreter.
type Options struct {
	// StrictValidation elevates unknown-capability and forward-reference
	// findings to fatal: the invocation aborts before step 0. Default is the
	// permissive legacy policy — findings are logged and execution proceeds.
	StrictValidation bool

	// InvocationTimeout bounds one whole invocation. Zero means no deadline.
	InvocationTimeout time.Duration

	// RedactKeys lists argument-name fragments whose resolved values are
	// replaced in trace entries.
	RedactKeys []string

	Logger *slog.Logger
	Events EventSink
}

// Result is the response of one invocation: the extracted outputs and the
// full trace on success, or a structured step error plus the partial trace on
// abort — never a raw error with no context.
type Result struct {
	InvocationID string                  `json:"invocationId"`
	PatternID    string                  `json:"patternId"`
	Status       schema.InvocationStatus `json:"status"`
	Outputs      map[string]any          `json:"outputs,omitempty"`
	Trace        schema.Trace            `json:"trace"`
	Error        *StepError              `json:"error,omitempty"`
	StartedAt    time.Time               `json:"startedAt"`
	CompletedAt  time.Time               `json:"completedAt"`
}

// StepError names the failing step when an invocation aborts.
type StepError struct {
	Step       int    `json:"step"`
	Capability string `json:"capability"`
	Code       string `json:"code"`
	Message    string `json:"message"`
}

// Interpreter executes patterns: it validates them against the runtime's
// registered capabilities, runs steps in declared order against a fresh run
// state, resolves template args, and extracts the declared outputs.
type Interpreter struct {
	runtime    *capability.Runtime
	library    Library
	resolver   *expressions.Resolver
	conditions *expressions.CELEngine
	opts       Options
	logger     *slog.Logger
}

// New creates an Interpreter. The registry behind the runtime must be fully
// populated before the first Run; registration is a startup-phase operation.
func New(runtime *capability.Runtime, library Library, opts Options) (*Interpreter, error) {
	cel, err := expressions.NewCELEngine()
	if err != nil {
		return nil, err
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Interpreter{
		runtime:    runtime,
		library:    library,
		resolver:   expressions.NewResolver(),
		conditions: cel,
		opts:       opts,
		logger:     logger,
	}, nil
}

// Run executes one pattern invocation. Steps run strictly sequentially;
// concurrency exists only across invocations, each with its own run state
// and trace.
func (it *Interpreter) Run(ctx context.Context, patternID string, inputs map[string]any, req *schema.RequestContext) (*Result, error) {
	pattern, ok := it.library.Get(patternID)
	if !ok {
		return nil, schema.NewErrorf(schema.ErrCodeNotFound, "pattern %q not found", patternID)
	}

	if it.opts.InvocationTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, it.opts.InvocationTimeout)
		defer cancel()
	}

	ctx = logging.WithPatternID(ctx, patternID)
	if req != nil {
		ctx = logging.WithTraceID(ctx, req.TraceID)
	}

	run := &invocationRun{
		result: &Result{
			InvocationID: uuid.New().String(),
			PatternID:    patternID,
			StartedAt:    time.Now().UTC(),
		},
		fsm:     newInvocationFSM(),
		pattern: pattern,
		state:   schema.NewRunState(inputs),
	}

	it.emit(ctx, run, schema.EventInvocationStarted, nil)

	// VALIDATING
	_ = run.fsm.transition(schema.InvocationValidating)
	validation := it.Validate(patternID, inputs)
	if !validation.Valid() {
		for _, issue := range validation.Errors {
			it.logger.WarnContext(ctx, "pattern validation finding",
				slog.String("path", issue.Path),
				slog.String("code", issue.Code),
				slog.String("message", issue.Message))
		}
		it.emit(ctx, run, schema.EventValidationWarning, validation)
		if it.opts.StrictValidation {
			_ = run.fsm.transition(schema.InvocationAborted)
			return it.abort(ctx, run, &StepError{
				Step:    -1,
				Code:    schema.ErrCodeValidation,
				Message: validation.ToError().Error(),
			})
		}
	}

	// EXECUTING
	_ = run.fsm.transition(schema.InvocationExecuting)
	for i, step := range pattern.Steps {
		if err := ctx.Err(); err != nil {
			_ = run.fsm.transition(schema.InvocationAborted)
			return it.abort(ctx, run, &StepError{
				Step:       i,
				Capability: step.Capability,
				Code:       schema.ErrCodeCancelled,
				Message:    "invocation cancelled: " + err.Error(),
			})
		}

		stepErr := it.executeStep(ctx, run, i, step, req)
		if stepErr != nil {
			_ = run.fsm.transition(schema.InvocationAborted)
			return it.abort(ctx, run, stepErr)
		}
	}

	// EXTRACTING
	_ = run.fsm.transition(schema.InvocationExtracting)
	run.result.Outputs = ExtractOutputs(pattern.Outputs, run.state)
	it.emit(ctx, run, schema.EventOutputsExtracted, run.result.Outputs)

	// DONE
	_ = run.fsm.transition(schema.InvocationDone)
	run.result.Status = run.fsm.state()
	run.result.CompletedAt = time.Now().UTC()
	it.emit(ctx, run, schema.EventInvocationCompleted, nil)

	it.logger.InfoContext(ctx, "invocation completed",
		slog.String("invocation_id", run.result.InvocationID),
		slog.Int("steps", len(run.result.Trace)),
		slog.Duration("elapsed", run.result.CompletedAt.Sub(run.result.StartedAt)))
	return run.result, nil
}

// invocationRun bundles the per-invocation moving parts.
type invocationRun struct {
	result  *Result
	fsm     *invocationFSM
	pattern *schema.Pattern
	state   schema.RunState
}

// executeStep runs one step: condition gate, template resolution, capability
// invocation, run-state write, and trace append. A non-nil return aborts the
// remaining steps.
func (it *Interpreter) executeStep(ctx context.Context, run *invocationRun, index int, step schema.StepSpec, req *schema.RequestContext) *StepError {
	stepCtx := logging.WithStepAlias(ctx, step.As)
	scope := expressions.NewScope(run.state, req)
	started := time.Now().UTC()

	entry := schema.TraceEntry{
		Step:       index,
		Capability: step.Capability,
		Alias:      step.As,
		StartedAt:  started,
	}

	// Condition gate: a false condition skips the step; its alias stays
	// absent from run state.
	if step.Condition != "" {
		pass, err := it.evaluateCondition(stepCtx, step.Condition, scope)
		if err != nil {
			return it.failStep(stepCtx, run, entry, started, err)
		}
		if !pass {
			entry.Status = schema.TraceStatusSkipped
			entry.DurationMs = time.Since(started).Milliseconds()
			run.result.Trace = run.result.Trace.Append(entry)
			it.emit(stepCtx, run, schema.EventStepSkipped, entry)
			it.logger.DebugContext(stepCtx, "step skipped by condition",
				slog.String("condition", step.Condition))
			return nil
		}
	}

	args, err := it.resolver.ResolveArgs(step.Args, scope)
	if err != nil {
		return it.failStep(stepCtx, run, entry, started, err)
	}
	entry.Args = schema.RedactArgs(args, it.opts.RedactKeys)

	it.emit(stepCtx, run, schema.EventStepStarted, entry)

	invokeCtx := capability.WithRetryObserver(stepCtx, func(name string, attempt int, delay time.Duration, cause error) {
		it.emit(stepCtx, run, schema.EventStepRetrying, map[string]any{
			"step":       index,
			"capability": name,
			"alias":      step.As,
			"attempt":    attempt,
			"backoffMs":  delay.Milliseconds(),
			"error":      cause.Error(),
		})
	})
	inv, err := it.runtime.Invoke(invokeCtx, step.Capability, req, run.state, args)
	if inv != nil {
		entry.HandlerID = inv.HandlerID
		entry.Attempts = inv.Attempts
	}
	if err != nil {
		return it.failStep(stepCtx, run, entry, started, err)
	}

	run.state.Set(step.As, inv.Payload)

	entry.Status = schema.TraceStatusSuccess
	entry.DurationMs = time.Since(started).Milliseconds()
	run.result.Trace = run.result.Trace.Append(entry)
	it.emit(stepCtx, run, schema.EventStepCompleted, entry)
	return nil
}

// evaluateCondition gates a step. A condition that is itself a single
// template resolves through the template path and is truthiness-tested;
// anything else is a CEL expression over state/inputs/ctx.
func (it *Interpreter) evaluateCondition(ctx context.Context, condition string, scope *expressions.Scope) (bool, error) {
	if expressions.HasTemplate(condition) {
		val, err := it.resolver.ResolveValue(condition, scope)
		if err != nil {
			return false, err
		}
		return expressions.Truthy(val), nil
	}
	return it.conditions.EvaluateBool(ctx, condition, scope.Namespaces())
}

// failStep records a failure trace entry and builds the structured step error.
func (it *Interpreter) failStep(ctx context.Context, run *invocationRun, entry schema.TraceEntry, started time.Time, err error) *StepError {
	entry.Status = schema.TraceStatusFailure
	entry.Error = err.Error()
	entry.DurationMs = time.Since(started).Milliseconds()
	run.result.Trace = run.result.Trace.Append(entry)
	it.emit(ctx, run, schema.EventStepFailed, entry)

	code := schema.ErrCodeStepFailed
	message := err.Error()
	var engErr *schema.EngineError
	if errors.As(err, &engErr) {
		code = engErr.Code
		message = engErr.Message
	}

	it.logger.ErrorContext(ctx, "step failed",
		slog.Int("step", entry.Step),
		slog.String("capability", entry.Capability),
		slog.String("code", code),
		slog.String("error", message))

	return &StepError{
		Step:       entry.Step,
		Capability: entry.Capability,
		Code:       code,
		Message:    message,
	}
}

// abort finalizes an aborted invocation, returning the partial trace plus the
// structured error.
func (it *Interpreter) abort(ctx context.Context, run *invocationRun, stepErr *StepError) (*Result, error) {
	run.result.Status = schema.InvocationAborted
	run.result.Error = stepErr
	run.result.CompletedAt = time.Now().UTC()
	it.emit(ctx, run, schema.EventInvocationAborted, stepErr)
	return run.result, nil
}

// emit appends an audit event, best-effort: a failing sink never fails the
// invocation.
func (it *Interpreter) emit(ctx context.Context, run *invocationRun, eventType string, payload any) {
	if it.opts.Events == nil {
		return
	}
	var raw json.RawMessage
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			it.logger.WarnContext(ctx, "audit payload not serializable",
				slog.String("event_type", eventType), slog.String("error", err.Error()))
		} else {
			raw = b
		}
	}
	event := &store.Event{
		InvocationID: run.result.InvocationID,
		PatternID:    run.result.PatternID,
		StepAlias:    logging.StepAlias(ctx),
		Type:         eventType,
		Payload:      raw,
	}
	if err := it.opts.Events.AppendEvent(ctx, event); err != nil {
		it.logger.WarnContext(ctx, "audit event append failed",
			slog.String("event_type", eventType), slog.String("error", err.Error()))
	}
}
