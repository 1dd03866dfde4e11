package accesscontrol

import (
	"errors"
	"testing"
	"time"
)

func TestAccessPolicy_Validate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*AccessPolicy)
	}{
		{"missing id", func(p *AccessPolicy) { p.ID = "" }},
		{"no resource types", func(p *AccessPolicy) { p.ResourceTypes = nil }},
		{"no actions", func(p *AccessPolicy) { p.Actions = nil }},
		{"no agent patterns", func(p *AccessPolicy) { p.AgentPatterns = nil }},
		{"unknown resource type", func(p *AccessPolicy) { p.ResourceTypes = []ResourceType{"spaceship"} }},
		{"unknown action", func(p *AccessPolicy) { p.Actions = []ActionType{"teleport"} }},
		{"bad regex", func(p *AccessPolicy) { p.AgentPatterns = []string{"("} }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := &AccessPolicy{
				ID:            "p1",
				Name:          "P1",
				ResourceTypes: []ResourceType{ResourceMemory},
				Actions:       []ActionType{ActionRead},
				AgentPatterns: []string{".*"},
				Decision:      DecisionAllow,
				Active:        true,
			}
			tt.mutate(p)
			if err := p.Validate(); !errors.Is(err, ErrPolicyConfig) {
				t.Errorf("Validate() = %v, want ErrPolicyConfig", err)
			}
		})
	}
}

func TestAccessPolicy_Expired(t *testing.T) {
	now := time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)

	p := &AccessPolicy{}
	if p.Expired(now) {
		t.Error("zero ExpiresAt must mean never expires")
	}

	p.ExpiresAt = now.Add(-time.Minute)
	if !p.Expired(now) {
		t.Error("past ExpiresAt must report expired")
	}

	p.ExpiresAt = now.Add(time.Minute)
	if p.Expired(now) {
		t.Error("future ExpiresAt must not report expired")
	}
}

func TestAccessContext_Namespace(t *testing.T) {
	tests := []struct {
		agent string
		want  string
	}{
		{"trinitas-worker-01", "trinitas"},
		{"system-scheduler", "system"},
		{"standalone", "standalone"},
		{"", ""},
	}
	for _, tt := range tests {
		actx := NewAccessContext(tt.agent, "r", ResourceMemory, ActionRead, nil)
		if got := actx.Namespace(); got != tt.want {
			t.Errorf("Namespace(%q) = %q, want %q", tt.agent, got, tt.want)
		}
	}
}

func TestAccessContext_Owner(t *testing.T) {
	tests := []struct {
		name     string
		metadata map[string]any
		want     string
		wantOK   bool
	}{
		{"agent_id key", map[string]any{"agent_id": "worker-007"}, "worker-007", true},
		{"owner fallback", map[string]any{"owner": "worker-008"}, "worker-008", true},
		{"agent_id precedence", map[string]any{"agent_id": "a", "owner": "b"}, "a", true},
		{"non-string ignored", map[string]any{"agent_id": 42}, "", false},
		{"no metadata", nil, "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			actx := NewAccessContext("caller", "r", ResourceMemory, ActionRead, tt.metadata)
			got, ok := actx.Owner()
			if got != tt.want || ok != tt.wantOK {
				t.Errorf("Owner() = %q, %v, want %q, %v", got, ok, tt.want, tt.wantOK)
			}
		})
	}
}

func TestNewAccessContext_Defaults(t *testing.T) {
	actx := NewAccessContext("worker-007", "mem-1", ResourceMemory, ActionRead, nil)
	if actx.ResourceMetadata == nil {
		t.Error("nil metadata must be normalized to an empty map")
	}
	if actx.Timestamp.IsZero() {
		t.Error("timestamp must be stamped at construction")
	}
	if actx.Timestamp.Location() != time.UTC {
		t.Error("timestamp must be UTC")
	}
}

func TestParseDecision(t *testing.T) {
	for _, s := range []string{"allow", "conditional", "require_approval", "deny"} {
		d, err := ParseDecision(s)
		if err != nil {
			t.Fatalf("ParseDecision(%q): %v", s, err)
		}
		if d.String() != s {
			t.Errorf("round trip %q -> %q", s, d.String())
		}
	}

	d, err := ParseDecision("maybe")
	if err == nil {
		t.Fatal("unknown decision must error")
	}
	if d != DecisionDeny {
		t.Errorf("unknown decision = %s, must fail closed to deny", d)
	}
}
