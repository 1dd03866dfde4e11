package observability

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/tmws-ai/tmws/internal/accesscontrol"
)

// InstrumentedManager wraps an accesscontrol.Manager with metrics and
// tracing. It embeds the manager so the rest of its API passes through.
type InstrumentedManager struct {
	*accesscontrol.Manager
	metrics *MetricsCollector
	tracer  trace.Tracer
}

// NewInstrumentedManager wraps an access-control manager with observability.
func NewInstrumentedManager(inner *accesscontrol.Manager, metrics *MetricsCollector, tr *Tracing) *InstrumentedManager {
	var tracer trace.Tracer
	if tr != nil {
		tracer = tr.Tracer()
	}
	im := &InstrumentedManager{
		Manager: inner,
		metrics: metrics,
		tracer:  tracer,
	}
	if metrics != nil {
		inner.WithAbuseNotifier(func(agent string) {
			metrics.AbuseSignalsTotal.WithLabelValues(agent).Inc()
		})
	}
	im.syncGauges()
	return im
}

// CheckAccess runs the wrapped check, recording decision counts and
// evaluation latency.
func (m *InstrumentedManager) CheckAccess(ctx context.Context, agent, resourceID string, rt accesscontrol.ResourceType, action accesscontrol.ActionType, metadata map[string]any) accesscontrol.Outcome {
	if m.tracer != nil {
		var span trace.Span
		ctx, span = m.tracer.Start(ctx, "access.check",
			trace.WithAttributes(
				attribute.String("access.agent", agent),
				attribute.String("access.resource_type", string(rt)),
				attribute.String("access.action", string(action)),
			))
		defer span.End()
	}

	start := time.Now()
	out := m.Manager.CheckAccess(ctx, agent, resourceID, rt, action, metadata)
	duration := time.Since(start).Seconds()

	if m.tracer != nil {
		span := trace.SpanFromContext(ctx)
		span.SetAttributes(attribute.String("access.decision", out.Decision.String()))
	}

	if m.metrics != nil {
		m.metrics.AccessChecksTotal.WithLabelValues(string(rt), string(action), out.Decision.String()).Inc()
		m.metrics.AccessCheckDuration.WithLabelValues(string(rt)).Observe(duration)
		if out.Status == accesscontrol.StatusPending {
			m.metrics.ApprovalsPending.Inc()
		}
	}

	return out
}

// AddPolicy installs a policy and refreshes the policy gauge.
func (m *InstrumentedManager) AddPolicy(p *accesscontrol.AccessPolicy) error {
	err := m.Manager.AddPolicy(p)
	if err == nil && m.metrics != nil {
		m.metrics.PoliciesActive.Set(float64(len(m.Manager.Policies())))
	}
	return err
}

// RemovePolicy removes a policy and refreshes the policy gauge.
func (m *InstrumentedManager) RemovePolicy(policyID string) bool {
	removed := m.Manager.RemovePolicy(policyID)
	if removed && m.metrics != nil {
		m.metrics.PoliciesActive.Set(float64(len(m.Manager.Policies())))
	}
	return removed
}

// ResolveApproval resolves an approval and decrements the pending gauge.
func (m *InstrumentedManager) ResolveApproval(id, resolverID string, approve bool) error {
	err := m.Manager.ResolveApproval(id, resolverID, approve)
	if err == nil && m.metrics != nil {
		m.metrics.ApprovalsPending.Dec()
	}
	return err
}

// ExpireApprovals sweeps expired approvals and adjusts the pending gauge.
func (m *InstrumentedManager) ExpireApprovals() int {
	expired := m.Manager.ExpireApprovals()
	if expired > 0 && m.metrics != nil {
		m.metrics.ApprovalsPending.Sub(float64(expired))
	}
	return expired
}

func (m *InstrumentedManager) syncGauges() {
	if m.metrics == nil {
		return
	}
	m.metrics.PoliciesActive.Set(float64(len(m.Manager.Policies())))
}
