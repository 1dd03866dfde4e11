package accesscontrol

import (
	"fmt"
	"regexp"
	"slices"
	"strings"
	"time"
)

// AccessContext carries everything the engines may inspect about a single
// request. It is built fresh per request and never persisted.
type AccessContext struct {
	RequestingAgent string
	TargetResource  string
	ResourceType    ResourceType
	Action          ActionType
	Timestamp       time.Time

	RequestSource    string         // "api", "mcp", "internal"; optional.
	UserContext      map[string]any // Set when a human user initiated the request.
	ResourceMetadata map[string]any // Caller-supplied; ownership and classification live here.
	SessionInfo      map[string]any
}

// NewAccessContext builds a context stamped with the current UTC time.
func NewAccessContext(agent, resource string, rt ResourceType, action ActionType, metadata map[string]any) *AccessContext {
	if metadata == nil {
		metadata = map[string]any{}
	}
	return &AccessContext{
		RequestingAgent:  agent,
		TargetResource:   resource,
		ResourceType:     rt,
		Action:           action,
		Timestamp:        time.Now().UTC(),
		ResourceMetadata: metadata,
	}
}

// Namespace derives the agent's namespace: text before the first "-".
// Agent ids without a "-" are their own namespace.
func (c *AccessContext) Namespace() string {
	ns, _, _ := strings.Cut(c.RequestingAgent, "-")
	return ns
}

// Owner returns the resource owner from metadata ("agent_id" preferred,
// "owner" as fallback) and whether one was supplied at all.
func (c *AccessContext) Owner() (string, bool) {
	for _, key := range []string{"agent_id", "owner"} {
		if v, ok := c.ResourceMetadata[key]; ok {
			if s, ok := v.(string); ok {
				return s, true
			}
		}
	}
	return "", false
}

// Condition is a named, parameterized predicate evaluated against an
// AccessContext. The vocabulary is a small closed set; unknown types are
// skipped with a warning during evaluation rather than failing the policy.
type Condition struct {
	Type   string         `json:"type" yaml:"type"`
	Params map[string]any `json:"params,omitempty" yaml:"params,omitempty"`
}

// AccessPolicy is a declarative rule created by administrators. Policies are
// immutable once added: replacing one means RemovePolicy + AddPolicy.
type AccessPolicy struct {
	ID          string
	Name        string
	Description string

	ResourceTypes []ResourceType
	Actions       []ActionType
	AgentPatterns []string // Anchored-at-start regular expressions over agent ids.

	Conditions []Condition
	Decision   AccessDecision
	Priority   int // Higher evaluates first.

	CreatedBy string
	CreatedAt time.Time
	ExpiresAt time.Time // Zero = never expires.
	Active    bool

	compiled []*regexp.Regexp
}

// Validate checks the policy definition and compiles its agent patterns.
// Called once at AddPolicy time so evaluation never recompiles regexps.
func (p *AccessPolicy) Validate() error {
	if p.ID == "" {
		return fmt.Errorf("%w: policy id is required", ErrPolicyConfig)
	}
	if len(p.ResourceTypes) == 0 {
		return fmt.Errorf("%w: policy %q has no resource types", ErrPolicyConfig, p.ID)
	}
	if len(p.Actions) == 0 {
		return fmt.Errorf("%w: policy %q has no actions", ErrPolicyConfig, p.ID)
	}
	if len(p.AgentPatterns) == 0 {
		return fmt.Errorf("%w: policy %q has no agent patterns", ErrPolicyConfig, p.ID)
	}
	for _, rt := range p.ResourceTypes {
		if _, err := ParseResourceType(string(rt)); err != nil {
			return err
		}
	}
	for _, at := range p.Actions {
		if _, err := ParseActionType(string(at)); err != nil {
			return err
		}
	}
	compiled := make([]*regexp.Regexp, 0, len(p.AgentPatterns))
	for _, pattern := range p.AgentPatterns {
		re, err := regexp.Compile(pattern)
		if err != nil {
			return fmt.Errorf("%w: policy %q pattern %q: %v", ErrPolicyConfig, p.ID, pattern, err)
		}
		compiled = append(compiled, re)
	}
	p.compiled = compiled
	return nil
}

// Expired reports whether the policy's expiry has passed.
func (p *AccessPolicy) Expired(now time.Time) bool {
	return !p.ExpiresAt.IsZero() && now.After(p.ExpiresAt)
}

// AppliesTo reports whether the policy targets the given context: resource
// type and action in the policy's sets, and at least one agent pattern
// matching the requesting agent id at the start of the string.
func (p *AccessPolicy) AppliesTo(ctx *AccessContext) bool {
	if !slices.Contains(p.ResourceTypes, ctx.ResourceType) {
		return false
	}
	if !slices.Contains(p.Actions, ctx.Action) {
		return false
	}
	for _, re := range p.compiled {
		loc := re.FindStringIndex(ctx.RequestingAgent)
		if loc != nil && loc[0] == 0 {
			return true
		}
	}
	return false
}
