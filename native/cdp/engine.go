// Package cdp implements the collateralized debt position lifecycle: creation,
// collateral and debt management, stability fee accrual, liquidation and
// portfolio aggregation.
//
// The engine is pure. It never stores positions, performs I/O or reads a
// clock; every operation receives a CDP value plus explicit inputs and returns
// a new value wrapped in a result.Result. Callers own persistence and must
// serialise writers per CDP.
package cdp

import "fmt"

// Engine applies a Policy to CDP operations. It holds no mutable state and is
// safe for concurrent use.
type Engine struct {
	policy Policy
}

// NewEngine validates the policy and constructs an engine.
func NewEngine(policy Policy) (*Engine, error) {
	if err := policy.Validate(); err != nil {
		return nil, fmt.Errorf("cdp engine: invalid policy: %w", err)
	}
	return &Engine{policy: policy}, nil
}

// MustNewEngine is NewEngine that panics on a malformed policy.
func MustNewEngine(policy Policy) *Engine {
	engine, err := NewEngine(policy)
	if err != nil {
		panic(err)
	}
	return engine
}

// Policy returns the engine parameters.
func (e *Engine) Policy() Policy {
	return e.policy
}

// Restore recomputes the derived fields of a persisted position at its stored
// price. Status and timestamps are left as stored.
func (e *Engine) Restore(position CDP) CDP {
	return position.withMetrics(e.policy.Risk)
}

// transition moves next to the requested status if the lifecycle permits it.
func transition(next CDP, to Status) (CDP, error) {
	if !CanTransition(next.Status, to) {
		return CDP{}, newError(KindInvalidTransition, "cannot move %s from %s to %s", next.ID, next.Status, to)
	}
	next.Status = to
	return next, nil
}
