// Package accesscontrol implements the TMWS access-control decision engine:
// a composite RBAC + ABAC policy evaluator with default-deny semantics,
// an append-only audit trail, an approval workflow for sensitive requests,
// and repeated-denial abuse detection.
//
// The package is a library-level authority invoked in-process by the API
// layer. It authenticates nothing and encrypts nothing — agent identity
// strings are opaque here except for pattern matching and namespace
// derivation, and resource payloads never pass through it.
package accesscontrol

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Sentinel errors for policy administration and approval resolution.
var (
	ErrPolicyConfig     = errors.New("invalid policy configuration")
	ErrPolicyNotFound   = errors.New("policy not found")
	ErrApprovalNotFound = errors.New("approval not found")
	ErrApprovalExpired  = errors.New("approval expired")
	ErrApprovalResolved = errors.New("approval already resolved")
)

// ResourceType identifies the kind of entity an agent wants to act on.
type ResourceType string

const (
	ResourceMemory          ResourceType = "memory"
	ResourceTask            ResourceType = "task"
	ResourceWorkflow        ResourceType = "workflow"
	ResourceAgent           ResourceType = "agent"
	ResourceSystem          ResourceType = "system"
	ResourceNamespace       ResourceType = "namespace"
	ResourceAuditLog        ResourceType = "audit_log"
	ResourceLearningPattern ResourceType = "learning_pattern"
)

// AllResourceTypes lists every known resource type.
func AllResourceTypes() []ResourceType {
	return []ResourceType{
		ResourceMemory, ResourceTask, ResourceWorkflow, ResourceAgent,
		ResourceSystem, ResourceNamespace, ResourceAuditLog, ResourceLearningPattern,
	}
}

// ParseResourceType converts a string to a ResourceType.
// Unknown values are rejected rather than passed through (default-deny principle).
func ParseResourceType(s string) (ResourceType, error) {
	rt := ResourceType(s)
	for _, known := range AllResourceTypes() {
		if rt == known {
			return rt, nil
		}
	}
	return "", fmt.Errorf("%w: unknown resource type %q", ErrPolicyConfig, s)
}

// ActionType identifies the operation an agent wants to perform.
type ActionType string

const (
	ActionCreate  ActionType = "create"
	ActionRead    ActionType = "read"
	ActionUpdate  ActionType = "update"
	ActionDelete  ActionType = "delete"
	ActionExecute ActionType = "execute"
	ActionShare   ActionType = "share"
	ActionAssign  ActionType = "assign"
	ActionApprove ActionType = "approve"
	ActionAudit   ActionType = "audit"
)

// AllActionTypes lists every known action type.
func AllActionTypes() []ActionType {
	return []ActionType{
		ActionCreate, ActionRead, ActionUpdate, ActionDelete, ActionExecute,
		ActionShare, ActionAssign, ActionApprove, ActionAudit,
	}
}

// ParseActionType converts a string to an ActionType, rejecting unknown values.
func ParseActionType(s string) (ActionType, error) {
	at := ActionType(s)
	for _, known := range AllActionTypes() {
		if at == known {
			return at, nil
		}
	}
	return "", fmt.Errorf("%w: unknown action type %q", ErrPolicyConfig, s)
}

// AccessDecision is a policy verdict, ordered by strictness.
// Deny is the strictest; combining decisions always keeps the stricter one.
type AccessDecision int

const (
	DecisionAllow AccessDecision = iota
	DecisionConditional
	DecisionRequireApproval
	DecisionDeny
)

func (d AccessDecision) String() string {
	switch d {
	case DecisionAllow:
		return "allow"
	case DecisionConditional:
		return "conditional"
	case DecisionRequireApproval:
		return "require_approval"
	case DecisionDeny:
		return "deny"
	default:
		return "unknown"
	}
}

// ParseDecision converts a string to an AccessDecision.
// Unrecognized values fail closed to DecisionDeny alongside the error.
func ParseDecision(s string) (AccessDecision, error) {
	switch s {
	case "allow":
		return DecisionAllow, nil
	case "conditional":
		return DecisionConditional, nil
	case "require_approval":
		return DecisionRequireApproval, nil
	case "deny":
		return DecisionDeny, nil
	default:
		return DecisionDeny, fmt.Errorf("%w: unknown decision %q", ErrPolicyConfig, s)
	}
}

// Stricter returns the stricter of two decisions.
func Stricter(a, b AccessDecision) AccessDecision {
	if b > a {
		return b
	}
	return a
}

// MarshalJSON encodes the decision as its string form.
func (d AccessDecision) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.String())
}

// UnmarshalJSON decodes a decision from its string form.
func (d *AccessDecision) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	parsed, err := ParseDecision(s)
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

// OutcomeStatus is the caller-visible result class of an access check.
type OutcomeStatus int

const (
	StatusGranted OutcomeStatus = iota
	StatusPending
	StatusDenied
)

func (s OutcomeStatus) String() string {
	switch s {
	case StatusGranted:
		return "granted"
	case StatusPending:
		return "pending"
	case StatusDenied:
		return "denied"
	default:
		return "unknown"
	}
}

// Outcome is the structured result of Manager.CheckAccess. Callers always
// receive one of three statuses; evaluation failures surface as Denied
// (fail closed), never as a raw error.
type Outcome struct {
	Status   OutcomeStatus
	Decision AccessDecision

	// Monitored is set when a Conditional decision was granted; the caller's
	// operations tooling is expected to watch the session.
	Monitored bool

	// ApprovalID correlates a Pending outcome with its approval request.
	ApprovalID string

	// Reason is a human-readable explanation for Denied outcomes.
	Reason string
}

// Granted reports whether the caller may proceed.
func (o Outcome) Granted() bool {
	return o.Status == StatusGranted
}
