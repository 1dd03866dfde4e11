package accesscontrol

import (
	"context"
	"log/slog"
	"slices"
	"sort"
)

// classificationLevels is the fixed ordinal scale for data classification.
// Unknown classifications rank as "internal".
var classificationLevels = map[string]int{
	"public":       0,
	"internal":     1,
	"confidential": 2,
	"restricted":   3,
	"top_secret":   4,
}

const defaultClassification = "internal"

// conditionEvaluator tests a single condition against a context.
// Evaluators may keep state (request_frequency does).
type conditionEvaluator func(cond Condition, actx *AccessContext) bool

// ABACEngine evaluates the ordered policy list against a request context.
// First-match-wins: the highest-priority applicable policy whose conditions
// all hold determines the verdict; no applicable policy holding means Deny.
//
// Safe for concurrent use. The only mutable state is the per-agent request
// history behind the request_frequency condition.
type ABACEngine struct {
	evaluators map[string]conditionEvaluator
	frequency  *frequencyTracker
	logger     *slog.Logger
}

// NewABACEngine creates an ABAC engine with the closed condition vocabulary
// registered: time_of_day, agent_namespace, resource_owner,
// data_classification, request_frequency.
func NewABACEngine(logger *slog.Logger) *ABACEngine {
	if logger == nil {
		logger = slog.Default()
	}
	e := &ABACEngine{
		frequency: newFrequencyTracker(),
		logger:    logger,
	}
	e.evaluators = map[string]conditionEvaluator{
		"time_of_day":         e.evalTimeOfDay,
		"agent_namespace":     e.evalAgentNamespace,
		"resource_owner":      e.evalResourceOwner,
		"data_classification": e.evalDataClassification,
		"request_frequency":   e.evalRequestFrequency,
	}
	return e
}

// Name identifies the engine in logs and composite bookkeeping.
func (e *ABACEngine) Name() string { return "abac" }

// Evaluate walks active, non-expired policies in descending priority order
// and returns the decision of the first applicable policy whose conditions
// all hold. Default deny.
func (e *ABACEngine) Evaluate(_ context.Context, actx *AccessContext, policies []*AccessPolicy) (AccessDecision, error) {
	ordered := make([]*AccessPolicy, 0, len(policies))
	for _, p := range policies {
		if p.Active && !p.Expired(actx.Timestamp) {
			ordered = append(ordered, p)
		}
	}
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].Priority > ordered[j].Priority
	})

	for _, p := range ordered {
		if !p.AppliesTo(actx) {
			continue
		}
		if e.conditionsHold(p.Conditions, actx) {
			e.logger.Debug("abac policy matched",
				slog.String("policy_id", p.ID),
				slog.String("agent", actx.RequestingAgent),
				slog.String("decision", p.Decision.String()),
			)
			return p.Decision, nil
		}
	}

	return DecisionDeny, nil
}

// conditionsHold applies AND semantics: every condition must hold, and an
// empty list always holds. Unknown condition types are logged and treated
// as vacuously true so a typo in one condition cannot silently widen a
// policy into a denial of everything else.
func (e *ABACEngine) conditionsHold(conditions []Condition, actx *AccessContext) bool {
	for _, cond := range conditions {
		eval, ok := e.evaluators[cond.Type]
		if !ok {
			e.logger.Warn("unknown condition type, skipping",
				slog.String("type", cond.Type),
			)
			continue
		}
		if !eval(cond, actx) {
			return false
		}
	}
	return true
}

// evalTimeOfDay holds when the context hour is in [start_hour, end_hour).
func (e *ABACEngine) evalTimeOfDay(cond Condition, actx *AccessContext) bool {
	start := intParam(cond.Params, "start_hour", 0)
	end := intParam(cond.Params, "end_hour", 24)
	hour := actx.Timestamp.Hour()
	return start <= hour && hour < end
}

// evalAgentNamespace holds when the agent's namespace (text before the first
// "-") is in the allowed set.
func (e *ABACEngine) evalAgentNamespace(cond Condition, actx *AccessContext) bool {
	allowed := stringsParam(cond.Params, "allowed_namespaces")
	return slices.Contains(allowed, actx.Namespace())
}

// evalResourceOwner holds when ownership is not required, or when the
// resource metadata names the requesting agent as owner. Missing ownership
// metadata means not owned.
func (e *ABACEngine) evalResourceOwner(cond Condition, actx *AccessContext) bool {
	if !boolParam(cond.Params, "require_ownership", false) {
		return true
	}
	owner, ok := actx.Owner()
	return ok && owner == actx.RequestingAgent
}

// evalDataClassification holds when the resource's classification (from
// metadata, defaulting to "internal") does not exceed max_classification
// on the fixed ordinal scale.
func (e *ABACEngine) evalDataClassification(cond Condition, actx *AccessContext) bool {
	maxName := stringParam(cond.Params, "max_classification", "confidential")
	resName := defaultClassification
	if v, ok := actx.ResourceMetadata["classification"].(string); ok {
		resName = v
	}
	maxLevel, ok := classificationLevels[maxName]
	if !ok {
		maxLevel = classificationLevels[defaultClassification]
	}
	resLevel, ok := classificationLevels[resName]
	if !ok {
		resLevel = classificationLevels[defaultClassification]
	}
	return resLevel <= maxLevel
}

// evalRequestFrequency holds when the agent's request count in the trailing
// hour is within max_requests_per_hour. The current request is recorded in
// the history as a side effect of evaluation — even when the overall check
// fails later for an unrelated reason. That behavior is load-bearing: tests
// pin it, do not optimize it away.
func (e *ABACEngine) evalRequestFrequency(cond Condition, actx *AccessContext) bool {
	maxPerHour := intParam(cond.Params, "max_requests_per_hour", 100)
	count := e.frequency.Observe(actx.RequestingAgent, actx.Timestamp)
	return count <= maxPerHour
}

// --- Parameter helpers ---
//
// Condition parameters arrive from JSON/YAML config as map[string]any, so
// numbers may be int, int64, or float64 depending on the decoder.

func intParam(params map[string]any, key string, def int) int {
	switch v := params[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	default:
		return def
	}
}

func boolParam(params map[string]any, key string, def bool) bool {
	if v, ok := params[key].(bool); ok {
		return v
	}
	return def
}

func stringParam(params map[string]any, key, def string) string {
	if v, ok := params[key].(string); ok {
		return v
	}
	return def
}

func stringsParam(params map[string]any, key string) []string {
	switch v := params[key].(type) {
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}
