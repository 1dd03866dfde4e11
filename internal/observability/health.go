package observability

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// probeTimeout bounds a whole readiness sweep. A dependency that cannot
// answer within this window counts as failed.
const probeTimeout = 2 * time.Second

// CheckFunc probes a single dependency, e.g. a database ping.
type CheckFunc func(ctx context.Context) error

// Probe runs registered dependency checks for the readiness endpoint.
// Checks run concurrently under a shared deadline, so one stuck
// dependency cannot starve the rest of the sweep.
type Probe struct {
	logger *slog.Logger

	mu     sync.Mutex
	names  []string // Registration order, preserved in reports.
	checks map[string]CheckFunc
}

// CheckStatus is the outcome of one dependency check.
type CheckStatus struct {
	Name      string `json:"name"`
	OK        bool   `json:"ok"`
	Error     string `json:"error,omitempty"`
	LatencyMS int64  `json:"latency_ms"`
}

// Report aggregates a readiness sweep. Status is "ok" only when every
// registered check passed.
type Report struct {
	Status string        `json:"status"` // "ok" or "degraded"
	Checks []CheckStatus `json:"checks,omitempty"`
}

// NewProbe creates a Probe with no checks registered. A probe with no
// checks always reports "ok".
func NewProbe(logger *slog.Logger) *Probe {
	return &Probe{
		logger: logger,
		checks: make(map[string]CheckFunc),
	}
}

// Register adds a named check. Registering an existing name replaces the
// check and keeps its original position in reports.
func (p *Probe) Register(name string, check CheckFunc) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, exists := p.checks[name]; !exists {
		p.names = append(p.names, name)
	}
	p.checks[name] = check
}

// Run executes every registered check concurrently and aggregates the
// results in registration order.
func (p *Probe) Run(ctx context.Context) Report {
	p.mu.Lock()
	names := append([]string(nil), p.names...)
	checks := make(map[string]CheckFunc, len(p.checks))
	for name, check := range p.checks {
		checks[name] = check
	}
	p.mu.Unlock()

	if len(names) == 0 {
		return Report{Status: "ok"}
	}

	ctx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()

	results := make([]CheckStatus, len(names))
	var wg sync.WaitGroup
	for i, name := range names {
		wg.Add(1)
		go func(i int, name string, check CheckFunc) {
			defer wg.Done()
			start := time.Now()
			err := check(ctx)
			status := CheckStatus{
				Name:      name,
				OK:        err == nil,
				LatencyMS: time.Since(start).Milliseconds(),
			}
			if err != nil {
				status.Error = err.Error()
			}
			results[i] = status
		}(i, name, checks[name])
	}
	wg.Wait()

	report := Report{Status: "ok", Checks: results}
	for _, status := range results {
		if status.OK {
			continue
		}
		report.Status = "degraded"
		if p.logger != nil {
			p.logger.Warn("readiness check failed",
				slog.String("check", status.Name),
				slog.String("error", status.Error),
			)
		}
	}
	return report
}
