// Package handlers ships the builtin capability handlers every deployment
// gets for free: value plumbing, assertions, and expression evaluation over
// run state. Domain handlers register alongside these through the same
// registry.
package handlers

import (
	"github.com/ledgerline/patternd/internal/capability"
)

// Builtin returns the builtin handlers in registration order.
func Builtin() []capability.Handler {
	return []capability.Handler{
		newCoreHandler(),
		newExpressionHandler(),
	}
}

// RegisterBuiltin registers every builtin handler on the registry.
func RegisterBuiltin(reg *capability.Registry) error {
	for _, h := range Builtin() {
		if err := reg.Register(h); err != nil {
			return err
		}
	}
	return nil
}
