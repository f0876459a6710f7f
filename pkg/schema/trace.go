package schema

import (
	"strings"
	"time"
)

// Step outcome recorded in the trace.
const (
	TraceStatusSuccess = "success"
	TraceStatusFailure = "failure"
	TraceStatusSkipped = "skipped"
)

// RedactedValue replaces sensitive resolved arguments in trace entries.
const RedactedValue = "[redacted]"

// TraceEntry records one step execution within an invocation.
type TraceEntry struct {
	Step       int            `json:"step"`
	Capability string         `json:"capability"`
	Alias      string         `json:"as"`
	HandlerID  string         `json:"handlerId,omitempty"`
	Args       map[string]any `json:"args,omitempty"`
	Status     string         `json:"status"`
	Error      string         `json:"error,omitempty"`
	Attempts   int            `json:"attempts,omitempty"`
	StartedAt  time.Time      `json:"startedAt"`
	DurationMs int64          `json:"durationMs"`
}

// Trace is the append-only ordered log of step executions for one invocation.
// It is built incrementally during execution and never mutated after the
// invocation completes.
type Trace []TraceEntry

// Append adds an entry and returns the extended trace.
func (t Trace) Append(entry TraceEntry) Trace {
	return append(t, entry)
}

// Succeeded counts entries with a success status.
func (t Trace) Succeeded() int {
	n := 0
	for _, e := range t {
		if e.Status == TraceStatusSuccess {
			n++
		}
	}
	return n
}

// RedactArgs returns a copy of args with values under sensitive keys replaced.
// Key matching is case-insensitive on the full key and on substring match, so
// "apiToken" is caught by the "token" redaction key.
func RedactArgs(args map[string]any, redactKeys []string) map[string]any {
	if len(args) == 0 || len(redactKeys) == 0 {
		return args
	}
	out := make(map[string]any, len(args))
	for k, v := range args {
		out[k] = v
		lower := strings.ToLower(k)
		for _, rk := range redactKeys {
			if strings.Contains(lower, strings.ToLower(rk)) {
				out[k] = RedactedValue
				break
			}
		}
	}
	return out
}
