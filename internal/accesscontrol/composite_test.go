package accesscontrol

import (
	"context"
	"errors"
	"testing"
)

// stubEngine returns a fixed decision, error, or panic.
type stubEngine struct {
	name     string
	decision AccessDecision
	err      error
	panics   bool
}

func (s *stubEngine) Name() string { return s.name }

func (s *stubEngine) Evaluate(context.Context, *AccessContext, []*AccessPolicy) (AccessDecision, error) {
	if s.panics {
		panic("stub engine panic")
	}
	return s.decision, s.err
}

func TestCompositeEngine_StrictestWins(t *testing.T) {
	tests := []struct {
		name      string
		decisions []AccessDecision
		want      AccessDecision
	}{
		{"all allow", []AccessDecision{DecisionAllow, DecisionAllow}, DecisionAllow},
		{"conditional beats allow", []AccessDecision{DecisionAllow, DecisionConditional}, DecisionConditional},
		{"approval beats conditional", []AccessDecision{DecisionConditional, DecisionRequireApproval}, DecisionRequireApproval},
		{"deny beats everything", []AccessDecision{DecisionAllow, DecisionRequireApproval, DecisionDeny}, DecisionDeny},
	}

	actx := testContext("worker-007", "mem-1", ResourceMemory, ActionRead, nil)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			engines := make([]Engine, len(tt.decisions))
			for i, d := range tt.decisions {
				engines[i] = &stubEngine{name: "stub", decision: d}
			}
			e := NewCompositeEngine(nil, engines...)
			got, err := e.Evaluate(context.Background(), actx, nil)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Errorf("combined = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestCompositeEngine_EmptyDenies(t *testing.T) {
	e := NewCompositeEngine(nil)
	actx := testContext("worker-007", "mem-1", ResourceMemory, ActionRead, nil)
	d, _ := e.Evaluate(context.Background(), actx, nil)
	if d != DecisionDeny {
		t.Errorf("no engines = %s, want deny", d)
	}
}

func TestCompositeEngine_ErrorContributesDeny(t *testing.T) {
	e := NewCompositeEngine(nil,
		&stubEngine{name: "ok", decision: DecisionAllow},
		&stubEngine{name: "broken", decision: DecisionAllow, err: errors.New("backend unavailable")},
	)
	actx := testContext("worker-007", "mem-1", ResourceMemory, ActionRead, nil)
	d, err := e.Evaluate(context.Background(), actx, nil)
	if err != nil {
		t.Fatalf("engine error must not escape the composite: %v", err)
	}
	if d != DecisionDeny {
		t.Errorf("combined = %s, want deny when any engine errors", d)
	}
}

func TestCompositeEngine_PanicContributesDeny(t *testing.T) {
	e := NewCompositeEngine(nil,
		&stubEngine{name: "ok", decision: DecisionAllow},
		&stubEngine{name: "crashy", panics: true},
	)
	actx := testContext("worker-007", "mem-1", ResourceMemory, ActionRead, nil)
	d, err := e.Evaluate(context.Background(), actx, nil)
	if err != nil {
		t.Fatalf("engine panic must not escape the composite: %v", err)
	}
	if d != DecisionDeny {
		t.Errorf("combined = %s, want deny when any engine panics", d)
	}
}
