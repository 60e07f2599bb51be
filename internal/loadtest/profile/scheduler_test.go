package profile

import (
	"testing"
	"time"
)

type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time { return c.now }

func (c *fakeClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

func TestScheduler_FollowsClock(t *testing.T) {
	p := rampProfile(t)
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	clock := &fakeClock{now: start}
	s := NewScheduler(p, start, WithClock(clock.Now))

	if s.TestStart() != start {
		t.Errorf("TestStart() = %v, want %v", s.TestStart(), start)
	}
	if got := s.Target(); got != 0 {
		t.Errorf("Target() at start = %d, want 0", got)
	}

	clock.Advance(30 * time.Second)
	if got := s.Target(); got != 5 {
		t.Errorf("Target() at 30s = %d, want 5", got)
	}
	if idx, ok := s.Stage(); !ok || idx != 1 {
		t.Errorf("Stage() at 30s = %d, %v, want 1, true", idx, ok)
	}
	if got := s.Progress(); got != 0.3 {
		t.Errorf("Progress() at 30s = %v, want 0.3", got)
	}

	clock.Advance(70 * time.Second)
	if !s.Done() {
		t.Error("Done() at 100s = false, want true")
	}
	if s.Phase() != PhaseDone {
		t.Errorf("Phase() at 100s = %s, want done", s.Phase())
	}

	clock.Advance(time.Hour)
	if got := s.Progress(); got != 1 {
		t.Errorf("Progress() past end = %v, want 1", got)
	}
}

func TestScheduler_EmptyProfileProgress(t *testing.T) {
	p, _ := New()
	s := NewScheduler(p, time.Now())

	if !s.Done() {
		t.Error("Done() = false for empty profile")
	}
	if s.Progress() != 1 {
		t.Errorf("Progress() = %v, want 1", s.Progress())
	}
}
