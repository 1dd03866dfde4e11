package accesscontrol

import (
	"context"
	"fmt"
	"log/slog"
)

// Engine is the contract every policy engine satisfies. An engine returns
// its own verdict for the context; an error (or panic) counts as a Deny
// contribution at the composite layer.
type Engine interface {
	Name() string
	Evaluate(ctx context.Context, actx *AccessContext, policies []*AccessPolicy) (AccessDecision, error)
}

// CompositeEngine runs every sub-engine over the same context and policy
// list and combines their verdicts by strictness. It never lets a sub-engine
// failure escape: errors and panics become Deny contributions.
type CompositeEngine struct {
	engines []Engine
	logger  *slog.Logger
}

// NewCompositeEngine creates a composite over the given engines, invoked in
// order. An empty engine list denies everything.
func NewCompositeEngine(logger *slog.Logger, engines ...Engine) *CompositeEngine {
	if logger == nil {
		logger = slog.Default()
	}
	return &CompositeEngine{engines: engines, logger: logger}
}

// Name identifies the engine in logs.
func (e *CompositeEngine) Name() string { return "composite" }

// Evaluate collects one decision per sub-engine and returns the strictest.
// No engines configured means Deny.
func (e *CompositeEngine) Evaluate(ctx context.Context, actx *AccessContext, policies []*AccessPolicy) (AccessDecision, error) {
	if len(e.engines) == 0 {
		return DecisionDeny, nil
	}

	combined := DecisionAllow
	for _, engine := range e.engines {
		decision, err := e.safeEvaluate(ctx, engine, actx, policies)
		if err != nil {
			e.logger.Error("policy engine failed, contributing deny",
				slog.String("engine", engine.Name()),
				slog.String("error", err.Error()),
			)
			decision = DecisionDeny
		}
		combined = Stricter(combined, decision)
	}
	return combined, nil
}

// safeEvaluate invokes one engine, converting a panic into an error so a
// misbehaving engine can never fail the authority open.
func (e *CompositeEngine) safeEvaluate(ctx context.Context, engine Engine, actx *AccessContext, policies []*AccessPolicy) (decision AccessDecision, err error) {
	defer func() {
		if r := recover(); r != nil {
			decision = DecisionDeny
			err = fmt.Errorf("engine %s panicked: %v", engine.Name(), r)
		}
	}()
	return engine.Evaluate(ctx, actx, policies)
}
