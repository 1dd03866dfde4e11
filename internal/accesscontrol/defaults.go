package accesscontrol

import (
	"fmt"
	"time"
)

// Defaults for the seed policy set and abuse detection.
const (
	defaultRateLimitPerHour = 1000

	abuseScanDepth   = 100              // Audit entries scanned per denial.
	abuseWindow      = 10 * time.Minute // Trailing window for repeated denials.
	abuseDenialCount = 5                // Denials in window that trigger the signal.
)

// defaultNamespaces is the allowed set for the namespace isolation policy
// when the deployment does not configure its own.
var defaultNamespaces = []string{"trinitas", "system"}

// seedPolicies builds the default policy set installed at construction.
// All are created by "system" and stay active until removed.
func seedPolicies(allowedNamespaces []string, rateLimitPerHour int) []*AccessPolicy {
	if len(allowedNamespaces) == 0 {
		allowedNamespaces = defaultNamespaces
	}
	if rateLimitPerHour <= 0 {
		rateLimitPerHour = defaultRateLimitPerHour
	}
	now := time.Now().UTC()

	return []*AccessPolicy{
		mustPolicy(&AccessPolicy{
			ID:            "default_self_access",
			Name:          "Self Resource Access",
			Description:   "Agents may read, update, and delete their own resources.",
			ResourceTypes: []ResourceType{ResourceMemory, ResourceTask, ResourceLearningPattern},
			Actions:       []ActionType{ActionRead, ActionUpdate, ActionDelete},
			AgentPatterns: []string{".*"},
			Conditions: []Condition{
				{Type: "resource_owner", Params: map[string]any{"require_ownership": true}},
			},
			Decision:  DecisionAllow,
			Priority:  200,
			CreatedBy: "system",
			CreatedAt: now,
			Active:    true,
		}),
		mustPolicy(&AccessPolicy{
			ID:            "namespace_isolation",
			Name:          "Namespace Isolation",
			Description:   "Cross-namespace access is granted conditionally, with monitoring.",
			ResourceTypes: []ResourceType{ResourceMemory, ResourceTask},
			Actions:       []ActionType{ActionRead, ActionUpdate},
			AgentPatterns: []string{".*"},
			Conditions: []Condition{
				{Type: "agent_namespace", Params: map[string]any{"allowed_namespaces": allowedNamespaces}},
			},
			Decision:  DecisionConditional,
			Priority:  150,
			CreatedBy: "system",
			CreatedAt: now,
			Active:    true,
		}),
		mustPolicy(&AccessPolicy{
			ID:            "admin_override",
			Name:          "Admin Override",
			Description:   "System administrators have full access.",
			ResourceTypes: AllResourceTypes(),
			Actions:       AllActionTypes(),
			AgentPatterns: []string{`.*-admin$`, `^system-.*`},
			Decision:      DecisionAllow,
			Priority:      300,
			CreatedBy:     "system",
			CreatedAt:     now,
			Active:        true,
		}),
		mustPolicy(&AccessPolicy{
			ID:            "rate_limiting",
			Name:          "Request Rate Limiting",
			Description:   "Catch-all grant bounded by per-agent request frequency.",
			ResourceTypes: AllResourceTypes(),
			Actions:       AllActionTypes(),
			AgentPatterns: []string{".*"},
			Conditions: []Condition{
				{Type: "request_frequency", Params: map[string]any{"max_requests_per_hour": rateLimitPerHour}},
			},
			Decision:  DecisionAllow,
			Priority:  50,
			CreatedBy: "system",
			CreatedAt: now,
			Active:    true,
		}),
	}
}

// mustPolicy validates a statically defined policy. The seed set is fixed at
// compile time, so a validation failure here is a programming error.
func mustPolicy(p *AccessPolicy) *AccessPolicy {
	if err := p.Validate(); err != nil {
		panic(fmt.Sprintf("invalid seed policy %s: %v", p.ID, err))
	}
	return p
}
