package observability

import (
	"context"
	"errors"
	"log/slog"
	"testing"

	dto "github.com/prometheus/client_model/go"

	"github.com/tmws-ai/tmws/internal/accesscontrol"
	"github.com/tmws-ai/tmws/internal/config"
)

// --- No-op Path ---

func TestNew_NilConfig(t *testing.T) {
	obs, err := New(nil, nil)
	if err != nil {
		t.Fatalf("New(nil) error: %v", err)
	}
	if obs == nil {
		t.Fatal("expected non-nil Observability for nil config")
	}
	if obs.Probe == nil {
		t.Error("probe should always be created")
	}
	if obs.Metrics != nil || obs.Tracing != nil {
		t.Error("metrics and tracing should be nil for nil config")
	}
}

func TestNew_AllDisabled(t *testing.T) {
	obs, err := New(&config.ObservabilityConfig{}, nil)
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	if obs.Metrics != nil {
		t.Error("metrics should be nil when not enabled")
	}
	if obs.Tracing != nil {
		t.Error("tracing should be nil when not enabled")
	}
	if obs.Probe == nil {
		t.Error("probe should always be created")
	}
}

func TestObservability_ShutdownNil(t *testing.T) {
	// Should not panic on a nil stack or a disabled pipeline.
	var obs *Observability
	if err := obs.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown on nil: %v", err)
	}
	obs = &Observability{}
	if err := obs.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown with disabled tracing: %v", err)
	}
}

func TestTracing_NilIsNoop(t *testing.T) {
	var tr *Tracing
	tracer := tr.Tracer()
	if tracer == nil {
		t.Fatal("nil Tracing must still hand out a tracer")
	}
	_, span := tracer.Start(context.Background(), "noop")
	span.End()
	if err := tr.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown on nil Tracing: %v", err)
	}
}

// --- MetricsCollector ---

func TestMetricsCollector_Created(t *testing.T) {
	m := NewMetricsCollector()
	if m == nil {
		t.Fatal("expected non-nil MetricsCollector")
	}
	if m.Registry == nil {
		t.Fatal("expected non-nil Registry")
	}

	// Initialize vec metrics so they appear in Gather (a CounterVec only
	// appears after first use).
	m.AccessChecksTotal.WithLabelValues("memory", "read", "allow").Inc()
	m.AbuseSignalsTotal.WithLabelValues("worker-007").Inc()
	m.HTTPRequestsTotal.WithLabelValues("GET", "/test", "200").Inc()

	families, err := m.Registry.Gather()
	if err != nil {
		t.Fatalf("gather error: %v", err)
	}

	names := make(map[string]bool)
	for _, f := range families {
		names[f.GetName()] = true
	}
	for _, expected := range []string{
		"tmws_access_checks_total",
		"tmws_access_abuse_signals_total",
		"tmws_access_policies_active",
		"tmws_http_requests_total",
	} {
		if !names[expected] {
			t.Errorf("metric %q not found in registry", expected)
		}
	}
}

func labelMap(pairs []*dto.LabelPair) map[string]string {
	m := make(map[string]string)
	for _, p := range pairs {
		m[p.GetName()] = p.GetValue()
	}
	return m
}

func counterValue(t *testing.T, m *MetricsCollector, family string, labels map[string]string) float64 {
	t.Helper()
	families, err := m.Registry.Gather()
	if err != nil {
		t.Fatalf("gather error: %v", err)
	}
	for _, f := range families {
		if f.GetName() != family {
			continue
		}
	metric:
		for _, metric := range f.GetMetric() {
			got := labelMap(metric.GetLabel())
			for k, v := range labels {
				if got[k] != v {
					continue metric
				}
			}
			return metric.GetCounter().GetValue()
		}
	}
	return 0
}

// --- InstrumentedManager ---

func TestInstrumentedManager_RecordsDecisions(t *testing.T) {
	metrics := NewMetricsCollector()
	inner := accesscontrol.NewManager(accesscontrol.ManagerConfig{}, slog.New(slog.DiscardHandler))
	m := NewInstrumentedManager(inner, metrics, nil)

	m.CheckAccess(context.Background(), "root-admin", "sys-1", accesscontrol.ResourceSystem, accesscontrol.ActionRead, nil)
	m.CheckAccess(context.Background(), "worker-007", "task-9", accesscontrol.ResourceTask, accesscontrol.ActionShare, nil)

	allow := counterValue(t, metrics, "tmws_access_checks_total",
		map[string]string{"resource_type": "system", "action": "read", "decision": "allow"})
	if allow != 1 {
		t.Errorf("allow count = %v, want 1", allow)
	}
	deny := counterValue(t, metrics, "tmws_access_checks_total",
		map[string]string{"resource_type": "task", "action": "share", "decision": "deny"})
	if deny != 1 {
		t.Errorf("deny count = %v, want 1", deny)
	}
}

func TestInstrumentedManager_PolicyGauge(t *testing.T) {
	metrics := NewMetricsCollector()
	inner := accesscontrol.NewManager(accesscontrol.ManagerConfig{}, slog.New(slog.DiscardHandler))
	m := NewInstrumentedManager(inner, metrics, nil)

	gaugeValue := func() float64 {
		families, err := metrics.Registry.Gather()
		if err != nil {
			t.Fatalf("gather error: %v", err)
		}
		for _, f := range families {
			if f.GetName() == "tmws_access_policies_active" {
				return f.GetMetric()[0].GetGauge().GetValue()
			}
		}
		return -1
	}

	if got := gaugeValue(); got != 4 {
		t.Fatalf("initial gauge = %v, want 4 seed policies", got)
	}

	p := &accesscontrol.AccessPolicy{
		ID:            "extra",
		Name:          "Extra",
		ResourceTypes: []accesscontrol.ResourceType{accesscontrol.ResourceMemory},
		Actions:       []accesscontrol.ActionType{accesscontrol.ActionRead},
		AgentPatterns: []string{".*"},
		Decision:      accesscontrol.DecisionAllow,
		Active:        true,
	}
	if err := m.AddPolicy(p); err != nil {
		t.Fatal(err)
	}
	if got := gaugeValue(); got != 5 {
		t.Errorf("gauge after add = %v, want 5", got)
	}

	m.RemovePolicy("extra")
	if got := gaugeValue(); got != 4 {
		t.Errorf("gauge after remove = %v, want 4", got)
	}
}

// --- Probe ---

func TestProbe_NoChecks(t *testing.T) {
	p := NewProbe(nil)
	report := p.Run(context.Background())
	if report.Status != "ok" {
		t.Errorf("status = %q, want ok", report.Status)
	}
	if len(report.Checks) != 0 {
		t.Errorf("checks = %d, want none", len(report.Checks))
	}
}

func TestProbe_OneFails(t *testing.T) {
	p := NewProbe(nil)
	p.Register("db", func(ctx context.Context) error { return errors.New("connection refused") })
	p.Register("audit", func(ctx context.Context) error { return nil })

	report := p.Run(context.Background())
	if report.Status != "degraded" {
		t.Errorf("status = %q, want degraded", report.Status)
	}
	if len(report.Checks) != 2 {
		t.Fatalf("checks = %d, want 2", len(report.Checks))
	}

	// Results keep registration order.
	db, audit := report.Checks[0], report.Checks[1]
	if db.Name != "db" || db.OK {
		t.Errorf("db check = %+v, want failed", db)
	}
	if db.Error != "connection refused" {
		t.Errorf("db error = %q", db.Error)
	}
	if audit.Name != "audit" || !audit.OK {
		t.Errorf("audit check = %+v, want ok", audit)
	}
}

func TestProbe_ReregisterReplaces(t *testing.T) {
	p := NewProbe(nil)
	p.Register("db", func(ctx context.Context) error { return errors.New("down") })
	p.Register("db", func(ctx context.Context) error { return nil })

	report := p.Run(context.Background())
	if report.Status != "ok" {
		t.Errorf("status = %q, want ok after replacement", report.Status)
	}
	if len(report.Checks) != 1 {
		t.Errorf("checks = %d, want 1", len(report.Checks))
	}
}
