package handlers

import (
	"context"

	"github.com/ledgerline/patternd/internal/capability"
	"github.com/ledgerline/patternd/internal/expressions"
	"github.com/ledgerline/patternd/pkg/schema"
)

// expressionHandler hosts the expression-evaluation capabilities. Both engines
// cache compiled programs, so the handler is shared across invocations.
type expressionHandler struct {
	expr *expressions.ExprEngine
	jq   *expressions.GoJQEngine
}

func newExpressionHandler() capability.Handler {
	h := &expressionHandler{
		expr: expressions.NewExprEngine(),
		jq:   expressions.NewGoJQEngine(),
	}
	return h
}

func (h *expressionHandler) HandlerID() string { return "builtin-expressions" }

func (h *expressionHandler) Capabilities() map[string]capability.Func {
	return map[string]capability.Func{
		"expr.eval": h.exprEval,
		"jq.query":  h.jqQuery,
	}
}

// exprEval evaluates an expr-lang expression. The environment exposes the
// same namespaces templates see (state, inputs, ctx) plus an optional "data"
// argument for explicit payloads. The result is wrapped as {"result": ...}.
func (h *expressionHandler) exprEval(ctx context.Context, req *schema.RequestContext, state schema.RunState, args map[string]any) (any, error) {
	expression, ok := args["expression"].(string)
	if !ok || expression == "" {
		return nil, schema.NewError(schema.ErrCodeValidation, "expr.eval requires a non-empty \"expression\" string argument")
	}

	env := expressions.NewScope(state, req).Namespaces()
	if data, ok := args["data"]; ok {
		env["data"] = data
	}

	result, err := h.expr.Evaluate(ctx, expression, env)
	if err != nil {
		return nil, err
	}
	return map[string]any{"result": result}, nil
}

// jqQuery runs a jq program. The input object is the "data" argument when
// given, the whole run state otherwise.
func (h *expressionHandler) jqQuery(ctx context.Context, req *schema.RequestContext, state schema.RunState, args map[string]any) (any, error) {
	query, ok := args["query"].(string)
	if !ok || query == "" {
		return nil, schema.NewError(schema.ErrCodeValidation, "jq.query requires a non-empty \"query\" string argument")
	}

	input := map[string]any(state)
	if data, ok := args["data"]; ok {
		m, isMap := data.(map[string]any)
		if !isMap {
			m = map[string]any{"data": data}
		}
		input = m
	}

	result, err := h.jq.Evaluate(ctx, query, input)
	if err != nil {
		return nil, err
	}
	return map[string]any{"result": result}, nil
}

var _ capability.Handler = (*expressionHandler)(nil)
