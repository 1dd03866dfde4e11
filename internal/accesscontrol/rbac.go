package accesscontrol

import (
	"context"
	"log/slog"
	"strings"
)

// Role is the coarse permission class RBAC assigns to an agent.
type Role int

const (
	RoleSystemAdmin Role = iota
	RoleAgentAdmin
	RoleStandardAgent
	RoleReadonlyAgent
)

func (r Role) String() string {
	switch r {
	case RoleSystemAdmin:
		return "system_admin"
	case RoleAgentAdmin:
		return "agent_admin"
	case RoleStandardAgent:
		return "standard_agent"
	case RoleReadonlyAgent:
		return "readonly_agent"
	default:
		return "unknown"
	}
}

// DeriveRole maps an agent id to a role using a fixed, ordered rule set.
// RoleReadonlyAgent is never derived here — it exists in the permission
// table for explicit assignment by the identity collaborator.
func DeriveRole(agentID string) Role {
	switch {
	case strings.HasSuffix(agentID, "-admin"):
		return RoleSystemAdmin
	case strings.HasPrefix(agentID, "system-"):
		return RoleAgentAdmin
	default:
		return RoleStandardAgent
	}
}

// rolePermissions maps each role to its fixed "resource:action:scope"
// permission set. Scope "*" grants regardless of ownership; scope "own"
// grants only when the caller-supplied ownership metadata names the
// requesting agent (absent metadata means not owned).
var rolePermissions = map[Role][]string{
	RoleSystemAdmin: {
		"*:*:*",
	},
	RoleAgentAdmin: {
		"memory:*:*", "task:*:*", "workflow:*:*", "agent:*:*",
		"system:*:*", "namespace:*:*", "audit_log:*:*", "learning_pattern:*:*",
	},
	RoleStandardAgent: {
		"memory:create:own", "memory:read:own", "memory:update:own", "memory:delete:own",
		"task:create:*", "task:read:own", "task:update:own", "task:delete:own", "task:execute:own",
		"workflow:read:own",
		"learning_pattern:read:*", "learning_pattern:update:own", "learning_pattern:delete:own",
	},
	RoleReadonlyAgent: {
		"memory:read:own", "task:read:own", "workflow:read:own", "learning_pattern:read:own",
	},
}

// RBACEngine evaluates coarse, role-based permissions. It ignores the policy
// list entirely and never errors: anything it cannot positively grant is a
// Deny contribution (fail closed).
type RBACEngine struct {
	logger *slog.Logger
}

// NewRBACEngine creates an RBAC engine.
func NewRBACEngine(logger *slog.Logger) *RBACEngine {
	if logger == nil {
		logger = slog.Default()
	}
	return &RBACEngine{logger: logger}
}

// Name identifies the engine in logs and composite bookkeeping.
func (e *RBACEngine) Name() string { return "rbac" }

// Evaluate returns Allow when the derived role holds a matching "*"-scoped
// permission, or a matching "own"-scoped permission with confirmed ownership.
func (e *RBACEngine) Evaluate(_ context.Context, actx *AccessContext, _ []*AccessPolicy) (AccessDecision, error) {
	role := DeriveRole(actx.RequestingAgent)
	perms := rolePermissions[role]

	owner, hasOwner := actx.Owner()
	isOwner := hasOwner && owner == actx.RequestingAgent

	for _, perm := range perms {
		resource, action, scope, ok := splitPermission(perm)
		if !ok {
			continue
		}
		if !componentMatches(resource, string(actx.ResourceType)) {
			continue
		}
		if !componentMatches(action, string(actx.Action)) {
			continue
		}
		switch scope {
		case "*":
			return DecisionAllow, nil
		case "own":
			if isOwner {
				return DecisionAllow, nil
			}
		}
	}

	e.logger.Debug("rbac no matching permission",
		slog.String("agent", actx.RequestingAgent),
		slog.String("role", role.String()),
		slog.String("resource_type", string(actx.ResourceType)),
		slog.String("action", string(actx.Action)),
	)
	return DecisionDeny, nil
}

func splitPermission(perm string) (resource, action, scope string, ok bool) {
	parts := strings.SplitN(perm, ":", 3)
	if len(parts) != 3 {
		return "", "", "", false
	}
	return parts[0], parts[1], parts[2], true
}

func componentMatches(pattern, value string) bool {
	return pattern == "*" || pattern == value
}
