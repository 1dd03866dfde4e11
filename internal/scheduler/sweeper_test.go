package scheduler

import (
	"log/slog"
	"testing"
	"time"
)

type fakeExpirer struct {
	calls   int
	expired int
}

func (f *fakeExpirer) ExpireApprovals() int {
	f.calls++
	return f.expired
}

func TestNew_InvalidSchedule(t *testing.T) {
	if _, err := New(&fakeExpirer{}, "not a cron spec", nil); err == nil {
		t.Fatal("invalid spec must fail")
	}
}

func TestNew_DefaultSchedule(t *testing.T) {
	s, err := New(&fakeExpirer{}, "", slog.New(slog.DiscardHandler))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if s.spec != DefaultSchedule {
		t.Errorf("spec = %q, want default", s.spec)
	}

	// The default schedule fires within five minutes of any instant.
	now := time.Now()
	next := s.schedule.Next(now)
	if gap := next.Sub(now); gap <= 0 || gap > 5*time.Minute {
		t.Errorf("next fire in %v, want within (0, 5m]", gap)
	}
}

func TestSweeper_Tick(t *testing.T) {
	f := &fakeExpirer{expired: 3}
	s, err := New(f, DefaultSchedule, slog.New(slog.DiscardHandler))
	if err != nil {
		t.Fatal(err)
	}

	s.tick()
	s.tick()
	if f.calls != 2 {
		t.Errorf("expirer calls = %d, want 2", f.calls)
	}
}
