package expressions

import "context"

// Engine evaluates expressions against an invocation scope.
// Three implementations: CEL (step conditions), Expr (builtin expr.eval
// capability), GoJQ (builtin jq.query capability).
type Engine interface {
	Name() string
	Evaluate(ctx context.Context, expression string, data map[string]any) (any, error)
}
