package profile

import "time"

// Scheduler evaluates a profile against wall-clock time since a fixed start.
type Scheduler struct {
	profile   *LoadProfile
	testStart time.Time
	clock     func() time.Time
}

// SchedulerOption configures a Scheduler.
type SchedulerOption func(*Scheduler)

// WithClock replaces time.Now, mainly for tests.
func WithClock(clock func() time.Time) SchedulerOption {
	return func(s *Scheduler) {
		s.clock = clock
	}
}

// NewScheduler binds a profile to an explicit test start time.
func NewScheduler(p *LoadProfile, testStart time.Time, opts ...SchedulerOption) *Scheduler {
	s := &Scheduler{
		profile:   p,
		testStart: testStart,
		clock:     time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Profile returns the underlying profile.
func (s *Scheduler) Profile() *LoadProfile {
	return s.profile
}

// TestStart returns the start time the scheduler measures from.
func (s *Scheduler) TestStart() time.Time {
	return s.testStart
}

// Elapsed is the time since the test started.
func (s *Scheduler) Elapsed() time.Duration {
	return s.clock().Sub(s.testStart)
}

// Target is the rounded target concurrency right now.
func (s *Scheduler) Target() int {
	return s.profile.Target(s.Elapsed())
}

// Done reports whether the profile has run to completion.
func (s *Scheduler) Done() bool {
	return s.profile.Done(s.Elapsed())
}

// Stage returns the index of the current stage.
func (s *Scheduler) Stage() (int, bool) {
	return s.profile.StageAt(s.Elapsed())
}

// Phase returns the phase of the current stage.
func (s *Scheduler) Phase() Phase {
	return s.profile.PhaseAt(s.Elapsed())
}

// Progress returns the fraction of the profile that has elapsed, 0.0 to 1.0.
func (s *Scheduler) Progress() float64 {
	total := s.profile.TotalDuration()
	if total == 0 {
		return 1
	}
	progress := float64(s.Elapsed()) / float64(total)
	if progress < 0 {
		return 0
	}
	if progress > 1 {
		return 1
	}
	return progress
}
