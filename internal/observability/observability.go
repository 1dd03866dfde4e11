// Package observability wires Prometheus metrics, OTLP tracing, and
// readiness probing around the access-control core. Metrics and tracing
// are opt-in per config; the probe is always available so the gateway can
// serve readiness even on a bare deployment.
package observability

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/tmws-ai/tmws/internal/config"
)

// Observability bundles the telemetry components the serve command hands
// to the gateway and the instrumented manager. Metrics and Tracing are
// nil when disabled; Probe is never nil.
type Observability struct {
	Metrics *MetricsCollector
	Tracing *Tracing
	Probe   *Probe
}

// New builds the enabled components. A nil config yields a stack with
// only the probe, which is still safe to wire everywhere.
func New(cfg *config.ObservabilityConfig, logger *slog.Logger) (*Observability, error) {
	obs := &Observability{Probe: NewProbe(logger)}
	if cfg == nil {
		return obs, nil
	}

	if cfg.Metrics != nil && cfg.Metrics.Enabled {
		obs.Metrics = NewMetricsCollector()
	}

	if cfg.Tracing != nil && cfg.Tracing.Enabled {
		tr, err := NewTracing(cfg.Tracing)
		if err != nil {
			return nil, fmt.Errorf("initializing tracing: %w", err)
		}
		obs.Tracing = tr
	}

	return obs, nil
}

// Shutdown flushes the tracing pipeline. Metrics and the probe hold no
// resources to release.
func (o *Observability) Shutdown(ctx context.Context) error {
	if o == nil {
		return nil
	}
	return o.Tracing.Shutdown(ctx)
}
