package accesscontrol

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// ManagerConfig tunes the default policy seed. Zero values use the
// built-in defaults.
type ManagerConfig struct {
	// AllowedNamespaces feeds the namespace_isolation seed policy.
	AllowedNamespaces []string
	// RateLimitPerHour feeds the rate_limiting seed policy.
	RateLimitPerHour int
}

// Manager is the public façade of the access-control core. It owns the
// policy list (seeded with defaults), builds contexts, invokes the composite
// engine, interprets decisions into caller-visible outcomes, appends to the
// audit log, registers approval requests, and watches for repeated-denial
// abuse.
//
// All state is owned here and guarded internally; the manager is safe for
// concurrent use from any number of goroutines.
type Manager struct {
	engine Engine
	logger *slog.Logger

	policyMu sync.RWMutex
	policies []*AccessPolicy

	audit *auditLog
	sink  AuditSink // Optional durable tee; nil = in-memory only.

	approvalMu sync.Mutex
	approvals  map[string]*ApprovalRequest

	// onAbuse, when set, is called with the agent ID each time the
	// repeated-denial detector fires. Must not block.
	onAbuse func(agent string)
}

// NewManager creates a manager with the standard composite engine
// (RBAC + ABAC) and the default policy seed installed.
func NewManager(cfg ManagerConfig, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	engine := NewCompositeEngine(logger,
		NewRBACEngine(logger),
		NewABACEngine(logger),
	)
	return NewManagerWithEngine(engine, cfg, logger)
}

// NewManagerWithEngine creates a manager over a caller-supplied engine.
// Used by tests and by deployments that add engines beyond RBAC/ABAC.
func NewManagerWithEngine(engine Engine, cfg ManagerConfig, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		engine:    engine,
		logger:    logger,
		policies:  seedPolicies(cfg.AllowedNamespaces, cfg.RateLimitPerHour),
		audit:     &auditLog{},
		approvals: make(map[string]*ApprovalRequest),
	}
}

// WithAuditSink attaches a durable audit sink. Entries are still kept in
// memory; the sink receives a copy of each one.
func (m *Manager) WithAuditSink(sink AuditSink) *Manager {
	m.sink = sink
	return m
}

// WithAbuseNotifier registers a callback fired when the repeated-denial
// detector trips. Call before the manager starts serving checks.
func (m *Manager) WithAbuseNotifier(fn func(agent string)) *Manager {
	m.onAbuse = fn
	return m
}

// CheckAccess decides whether the requesting agent may perform the action on
// the resource. Every call is audited, whatever the outcome. The manager
// never fails open: an internal evaluation error yields a Denied outcome.
func (m *Manager) CheckAccess(ctx context.Context, agent, resourceID string, rt ResourceType, action ActionType, metadata map[string]any) Outcome {
	actx := NewAccessContext(agent, resourceID, rt, action, metadata)

	decision, err := m.engine.Evaluate(ctx, actx, m.snapshotPolicies())
	if err != nil {
		m.logger.Error("access evaluation failed, denying",
			slog.String("agent", agent),
			slog.String("resource", resourceID),
			slog.String("error", err.Error()),
		)
		decision = DecisionDeny
	}

	m.logAttempt(ctx, actx, decision)

	switch decision {
	case DecisionAllow:
		return Outcome{Status: StatusGranted, Decision: decision}

	case DecisionConditional:
		m.logger.Info("conditional access granted with monitoring",
			slog.String("agent", agent),
			slog.String("resource", resourceID),
		)
		return Outcome{Status: StatusGranted, Decision: decision, Monitored: true}

	case DecisionRequireApproval:
		id := m.registerApproval(actx)
		return Outcome{Status: StatusPending, Decision: decision, ApprovalID: id}

	default:
		m.handleDenied(actx)
		return Outcome{
			Status:   StatusDenied,
			Decision: DecisionDeny,
			Reason:   fmt.Sprintf("access denied: %s on %s", action, rt),
		}
	}
}

// AddPolicy validates and installs a new policy. Duplicate ids and malformed
// definitions are rejected synchronously; nothing is partially installed.
func (m *Manager) AddPolicy(p *AccessPolicy) error {
	if p == nil {
		return fmt.Errorf("%w: nil policy", ErrPolicyConfig)
	}
	if err := p.Validate(); err != nil {
		return err
	}

	m.policyMu.Lock()
	defer m.policyMu.Unlock()

	for _, existing := range m.policies {
		if existing.ID == p.ID {
			return fmt.Errorf("%w: duplicate policy id %q", ErrPolicyConfig, p.ID)
		}
	}
	m.policies = append(m.policies, p)

	m.logger.Info("policy added",
		slog.String("policy_id", p.ID),
		slog.Int("priority", p.Priority),
		slog.String("decision", p.Decision.String()),
	)
	return nil
}

// RemovePolicy deletes the policy with the given id, reporting whether one
// existed.
func (m *Manager) RemovePolicy(policyID string) bool {
	m.policyMu.Lock()
	defer m.policyMu.Unlock()

	for i, p := range m.policies {
		if p.ID == policyID {
			m.policies = append(m.policies[:i], m.policies[i+1:]...)
			m.logger.Info("policy removed", slog.String("policy_id", policyID))
			return true
		}
	}
	return false
}

// Policies returns a snapshot of the current policy list.
func (m *Manager) Policies() []*AccessPolicy {
	return m.snapshotPolicies()
}

// Stats summarizes the trailing 24 hours of the in-memory audit log.
type Stats struct {
	TotalPolicies       int            `json:"total_policies"`
	TotalAccessAttempts int            `json:"total_access_attempts"`
	DecisionBreakdown   map[string]int `json:"decision_breakdown"`
	PendingApprovals    int            `json:"pending_approvals"`
	UniqueAgents        int            `json:"unique_agents"`
}

// GetStats computes access statistics over the trailing 24 hours.
func (m *Manager) GetStats() Stats {
	recent := m.audit.since(time.Now().UTC().Add(-24 * time.Hour))

	breakdown := make(map[string]int)
	agents := make(map[string]struct{})
	for _, e := range recent {
		breakdown[e.Decision.String()]++
		agents[e.RequestingAgent] = struct{}{}
	}

	m.policyMu.RLock()
	totalPolicies := len(m.policies)
	m.policyMu.RUnlock()

	m.approvalMu.Lock()
	pending := 0
	for _, a := range m.approvals {
		if a.Status == ApprovalPending {
			pending++
		}
	}
	m.approvalMu.Unlock()

	return Stats{
		TotalPolicies:       totalPolicies,
		TotalAccessAttempts: len(recent),
		DecisionBreakdown:   breakdown,
		PendingApprovals:    pending,
		UniqueAgents:        len(agents),
	}
}

// AuditLog returns up to limit recent entries, newest first, optionally
// filtered by agent id and decision.
func (m *Manager) AuditLog(limit int, filter AuditFilter) []AuditEntry {
	return m.audit.recent(limit, filter)
}

// GetApproval returns the approval request with the given id, marking it
// expired on access when past its TTL.
func (m *Manager) GetApproval(id string) (*ApprovalRequest, error) {
	m.approvalMu.Lock()
	defer m.approvalMu.Unlock()

	a, ok := m.approvals[id]
	if !ok {
		return nil, ErrApprovalNotFound
	}
	if a.Status == ApprovalPending && time.Now().UTC().After(a.ExpiresAt) {
		a.Status = ApprovalExpiredStatus
	}
	out := *a
	return &out, nil
}

// ResolveApproval transitions a pending approval to approved or denied.
// This is the administrative half of the workflow; the core never resolves
// its own requests.
func (m *Manager) ResolveApproval(id, resolverID string, approve bool) error {
	m.approvalMu.Lock()
	defer m.approvalMu.Unlock()

	a, ok := m.approvals[id]
	if !ok {
		return ErrApprovalNotFound
	}
	if time.Now().UTC().After(a.ExpiresAt) {
		a.Status = ApprovalExpiredStatus
		return ErrApprovalExpired
	}
	if a.Status != ApprovalPending {
		return ErrApprovalResolved
	}

	if approve {
		a.Status = ApprovalApproved
	} else {
		a.Status = ApprovalDenied
	}
	a.ResolvedBy = resolverID
	a.ResolvedAt = time.Now().UTC()

	m.logger.Info("approval resolved",
		slog.String("approval_id", id),
		slog.String("resolver", resolverID),
		slog.String("status", a.Status.String()),
	)
	return nil
}

// ExpireApprovals marks pending approvals past their TTL as expired and
// drops resolved or expired entries older than twice the TTL. Returns the
// number of requests newly marked expired.
func (m *Manager) ExpireApprovals() int {
	m.approvalMu.Lock()
	defer m.approvalMu.Unlock()

	now := time.Now().UTC()
	expired := 0
	for id, a := range m.approvals {
		if a.Status == ApprovalPending && now.After(a.ExpiresAt) {
			a.Status = ApprovalExpiredStatus
			expired++
		}
		if a.Status != ApprovalPending && now.After(a.ExpiresAt.Add(approvalTTL)) {
			delete(m.approvals, id)
		}
	}
	return expired
}

// --- internals ---

// snapshotPolicies copies the policy slice header under the read lock.
// Policies themselves are immutable after AddPolicy, so sharing the backing
// elements is safe; mutation only ever replaces the slice.
func (m *Manager) snapshotPolicies() []*AccessPolicy {
	m.policyMu.RLock()
	defer m.policyMu.RUnlock()
	snapshot := make([]*AccessPolicy, len(m.policies))
	copy(snapshot, m.policies)
	return snapshot
}

func (m *Manager) logAttempt(ctx context.Context, actx *AccessContext, decision AccessDecision) {
	entry := AuditEntry{
		Timestamp:        actx.Timestamp,
		RequestingAgent:  actx.RequestingAgent,
		ResourceID:       actx.TargetResource,
		ResourceType:     actx.ResourceType,
		Action:           actx.Action,
		Decision:         decision,
		Source:           actx.RequestSource,
		ResourceMetadata: actx.ResourceMetadata,
	}
	m.audit.append(entry)

	if m.sink != nil {
		if err := m.sink.Append(ctx, entry); err != nil {
			m.logger.Warn("audit sink append failed",
				slog.String("agent", actx.RequestingAgent),
				slog.String("error", err.Error()),
			)
		}
	}

	if decision == DecisionDeny {
		m.logger.Warn("access denied",
			slog.String("agent", actx.RequestingAgent),
			slog.String("action", string(actx.Action)),
			slog.String("resource_type", string(actx.ResourceType)),
			slog.String("resource", actx.TargetResource),
		)
	}
}

func (m *Manager) registerApproval(actx *AccessContext) string {
	a := newApprovalRequest(actx)

	m.approvalMu.Lock()
	m.approvals[a.ID] = a
	m.approvalMu.Unlock()

	m.logger.Info("approval request created",
		slog.String("approval_id", a.ID),
		slog.String("agent", actx.RequestingAgent),
		slog.String("resource", actx.TargetResource),
	)
	return a.ID
}

// handleDenied scans the recent audit tail for repeated denials by the same
// agent. Observational only: the signal never changes the decision.
func (m *Manager) handleDenied(actx *AccessContext) {
	cutoff := time.Now().UTC().Add(-abuseWindow)

	denials := 0
	for _, e := range m.audit.tail(abuseScanDepth) {
		if e.RequestingAgent == actx.RequestingAgent &&
			e.Decision == DecisionDeny &&
			e.Timestamp.After(cutoff) {
			denials++
		}
	}

	if denials >= abuseDenialCount {
		m.logger.Error("repeated access denials, possible attack",
			slog.String("agent", actx.RequestingAgent),
			slog.Int("denials", denials),
			slog.Duration("window", abuseWindow),
		)
		if m.onAbuse != nil {
			m.onAbuse(actx.RequestingAgent)
		}
	}
}
