// Package scheduler runs periodic maintenance against the access-control
// manager on a cron schedule.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
)

// DefaultSchedule sweeps every five minutes.
const DefaultSchedule = "*/5 * * * *"

// ApprovalExpirer is the slice of the manager the sweeper needs.
type ApprovalExpirer interface {
	ExpireApprovals() int
}

// Sweeper marks expired approval requests on a cron schedule.
type Sweeper struct {
	manager  ApprovalExpirer
	logger   *slog.Logger
	schedule cron.Schedule
	spec     string
}

// New creates a Sweeper. An empty spec uses DefaultSchedule.
func New(manager ApprovalExpirer, spec string, logger *slog.Logger) (*Sweeper, error) {
	if spec == "" {
		spec = DefaultSchedule
	}
	if logger == nil {
		logger = slog.Default()
	}

	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
	schedule, err := parser.Parse(spec)
	if err != nil {
		return nil, fmt.Errorf("parsing sweep schedule %q: %w", spec, err)
	}

	return &Sweeper{
		manager:  manager,
		logger:   logger,
		schedule: schedule,
		spec:     spec,
	}, nil
}

// Start begins the sweep loop. Returns a cancel function.
func (s *Sweeper) Start(ctx context.Context) func() {
	ctx, cancel := context.WithCancel(ctx)

	go func() {
		s.logger.Info("approval sweeper started", slog.String("schedule", s.spec))

		for {
			next := s.schedule.Next(time.Now())
			timer := time.NewTimer(time.Until(next))

			select {
			case <-ctx.Done():
				timer.Stop()
				s.logger.Info("approval sweeper stopped")
				return
			case <-timer.C:
				s.tick()
			}
		}
	}()

	return cancel
}

// tick runs a single sweep cycle.
func (s *Sweeper) tick() {
	if expired := s.manager.ExpireApprovals(); expired > 0 {
		s.logger.Info("approvals expired", slog.Int("count", expired))
	}
}
