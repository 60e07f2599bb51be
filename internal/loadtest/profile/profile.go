// Package profile implements the stage scheduler: it turns an ordered list of
// (duration, target) stages into the number of virtual users that should be
// active at any point since the test started.
package profile

import (
	"errors"
	"fmt"
	"time"
)

// MaxTarget is the largest target a stage may request. VU ids are rendered
// with four digits in generated phone numbers.
const MaxTarget = 9999

// ErrInvalidProfile is matched by every error returned from New.
var ErrInvalidProfile = errors.New("invalid profile")

// StageError describes the stage that made a profile invalid.
type StageError struct {
	Index   int
	Field   string
	Message string
}

func (e *StageError) Error() string {
	return fmt.Sprintf("invalid profile: stage %d %s: %s", e.Index+1, e.Field, e.Message)
}

// Is reports whether target is ErrInvalidProfile.
func (e *StageError) Is(target error) bool {
	return target == ErrInvalidProfile
}

// Stage is one segment of the load ramp.
type Stage struct {
	// Duration of this stage
	Duration time.Duration `json:"duration" yaml:"duration"`

	// Target VU count reached at the end of the stage
	Target int `json:"target" yaml:"target"`

	// Optional name for reporting
	Name string `json:"name,omitempty" yaml:"name,omitempty"`
}

// Phase classifies a stage by the direction of its ramp.
type Phase string

const (
	PhaseRampUp   Phase = "ramp-up"
	PhaseSteady   Phase = "steady"
	PhaseRampDown Phase = "ramp-down"
	PhaseDone     Phase = "done"
)

// LoadProfile is an immutable, validated sequence of stages.
type LoadProfile struct {
	stages []Stage
	ends   []time.Duration
	total  time.Duration
}

// New validates the stages and returns a profile. An empty profile is valid
// and completes immediately.
func New(stages ...Stage) (*LoadProfile, error) {
	p := &LoadProfile{
		stages: make([]Stage, len(stages)),
		ends:   make([]time.Duration, len(stages)),
	}
	copy(p.stages, stages)

	for i, s := range stages {
		if s.Duration < 0 {
			return nil, &StageError{Index: i, Field: "duration", Message: fmt.Sprintf("must not be negative, got %s", s.Duration)}
		}
		if s.Target < 0 {
			return nil, &StageError{Index: i, Field: "target", Message: fmt.Sprintf("must not be negative, got %d", s.Target)}
		}
		if s.Target > MaxTarget {
			return nil, &StageError{Index: i, Field: "target", Message: fmt.Sprintf("must not exceed %d, got %d", MaxTarget, s.Target)}
		}
		p.total += s.Duration
		p.ends[i] = p.total
	}

	return p, nil
}

// Stages returns a copy of the stages.
func (p *LoadProfile) Stages() []Stage {
	out := make([]Stage, len(p.stages))
	copy(out, p.stages)
	return out
}

// TotalDuration is the sum of all stage durations.
func (p *LoadProfile) TotalDuration() time.Duration {
	return p.total
}

// MaxTarget returns the highest target of any stage.
func (p *LoadProfile) MaxTarget() int {
	peak := 0
	for _, s := range p.stages {
		if s.Target > peak {
			peak = s.Target
		}
	}
	return peak
}

// TargetAt returns the continuous target concurrency at elapsed.
//
// Within a stage the target moves linearly from the previous stage's target
// (0 before the first stage) to this stage's target. Past the end of the
// profile the target is 0.
func (p *LoadProfile) TargetAt(elapsed time.Duration) float64 {
	if elapsed < 0 {
		elapsed = 0
	}
	if elapsed > p.total || len(p.stages) == 0 {
		return 0
	}

	var start time.Duration
	prev := 0
	for i, s := range p.stages {
		end := p.ends[i]
		if elapsed < end {
			progress := float64(elapsed-start) / float64(s.Duration)
			return float64(prev) + float64(s.Target-prev)*progress
		}
		prev = s.Target
		start = end
	}

	// elapsed == total
	return float64(prev)
}

// Target returns TargetAt rounded half-up.
func (p *LoadProfile) Target(elapsed time.Duration) int {
	return int(p.TargetAt(elapsed) + 0.5)
}

// Done reports whether elapsed has reached the end of the profile.
func (p *LoadProfile) Done(elapsed time.Duration) bool {
	return elapsed >= p.total
}

// StageAt returns the index of the stage running at elapsed. ok is false
// once the profile is done.
func (p *LoadProfile) StageAt(elapsed time.Duration) (index int, ok bool) {
	if elapsed < 0 {
		elapsed = 0
	}
	for i := range p.stages {
		if elapsed < p.ends[i] {
			return i, true
		}
	}
	return len(p.stages), false
}

// PhaseAt classifies the stage running at elapsed.
func (p *LoadProfile) PhaseAt(elapsed time.Duration) Phase {
	idx, ok := p.StageAt(elapsed)
	if !ok {
		return PhaseDone
	}

	prev := 0
	if idx > 0 {
		prev = p.stages[idx-1].Target
	}
	switch target := p.stages[idx].Target; {
	case target > prev:
		return PhaseRampUp
	case target < prev:
		return PhaseRampDown
	default:
		return PhaseSteady
	}
}
