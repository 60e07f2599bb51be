package profile

import (
	"errors"
	"math"
	"testing"
	"time"
)

func rampProfile(t *testing.T) *LoadProfile {
	t.Helper()
	p, err := New(
		Stage{Duration: 30 * time.Second, Target: 5},
		Stage{Duration: 60 * time.Second, Target: 5},
		Stage{Duration: 10 * time.Second, Target: 0},
	)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return p
}

func TestLoadProfile_TargetAt(t *testing.T) {
	p := rampProfile(t)

	tests := []struct {
		elapsed time.Duration
		want    float64
	}{
		{0, 0},
		{15 * time.Second, 2.5},
		{30 * time.Second, 5},
		{60 * time.Second, 5},
		{90 * time.Second, 5},
		{95 * time.Second, 2.5},
		{100 * time.Second, 0},
		{101 * time.Second, 0},
		{-time.Second, 0},
	}

	for _, tt := range tests {
		got := p.TargetAt(tt.elapsed)
		if math.Abs(got-tt.want) > 1e-9 {
			t.Errorf("TargetAt(%v) = %v, want %v", tt.elapsed, got, tt.want)
		}
	}
}

func TestLoadProfile_TargetRoundsHalfUp(t *testing.T) {
	p := rampProfile(t)

	if got := p.Target(15 * time.Second); got != 3 {
		t.Errorf("Target(15s) = %d, want 3", got)
	}
	if got := p.Target(12 * time.Second); got != 2 {
		t.Errorf("Target(12s) = %d, want 2", got)
	}
	if got := p.Target(97 * time.Second); got != 2 {
		t.Errorf("Target(97s) = %d, want 2", got)
	}
}

func TestLoadProfile_BoundariesMatchTargets(t *testing.T) {
	p, err := New(
		Stage{Duration: 2 * time.Minute, Target: 1000},
		Stage{Duration: time.Minute, Target: 1000},
		Stage{Duration: time.Minute, Target: 0},
	)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	var boundary time.Duration
	for i, s := range p.Stages() {
		boundary += s.Duration
		if got := p.TargetAt(boundary); got != float64(s.Target) {
			t.Errorf("stage %d boundary %v: TargetAt = %v, want %d", i, boundary, got, s.Target)
		}
	}
}

func TestLoadProfile_Continuous(t *testing.T) {
	p := rampProfile(t)

	// Largest possible change over one millisecond is 5 VUs / 10s.
	const maxSlopePerMs = 5.0 / 10000.0
	step := time.Millisecond
	prev := p.TargetAt(0)
	for elapsed := step; elapsed <= p.TotalDuration(); elapsed += step {
		cur := p.TargetAt(elapsed)
		if math.Abs(cur-prev) > maxSlopePerMs+1e-9 {
			t.Fatalf("discontinuity at %v: %v -> %v", elapsed, prev, cur)
		}
		prev = cur
	}
}

func TestLoadProfile_Done(t *testing.T) {
	p := rampProfile(t)

	if p.Done(99 * time.Second) {
		t.Error("Done(99s) = true, want false")
	}
	if !p.Done(100 * time.Second) {
		t.Error("Done(100s) = false, want true")
	}
	if p.TotalDuration() != 100*time.Second {
		t.Errorf("TotalDuration() = %v, want 100s", p.TotalDuration())
	}
}

func TestLoadProfile_Empty(t *testing.T) {
	p, err := New()
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	if !p.Done(0) {
		t.Error("empty profile should be done immediately")
	}
	if got := p.Target(0); got != 0 {
		t.Errorf("Target(0) = %d, want 0", got)
	}
	if p.TotalDuration() != 0 {
		t.Errorf("TotalDuration() = %v, want 0", p.TotalDuration())
	}
}

func TestLoadProfile_ZeroDurationStageJumps(t *testing.T) {
	p, err := New(
		Stage{Duration: 0, Target: 10},
		Stage{Duration: 10 * time.Second, Target: 10},
	)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	if got := p.TargetAt(0); got != 10 {
		t.Errorf("TargetAt(0) = %v, want 10", got)
	}
	if got := p.TargetAt(5 * time.Second); got != 10 {
		t.Errorf("TargetAt(5s) = %v, want 10", got)
	}
}

func TestNew_RejectsInvalidStages(t *testing.T) {
	tests := []struct {
		name  string
		stage Stage
		field string
	}{
		{"negative duration", Stage{Duration: -time.Second, Target: 1}, "duration"},
		{"negative target", Stage{Duration: time.Second, Target: -1}, "target"},
		{"target too large", Stage{Duration: time.Second, Target: MaxTarget + 1}, "target"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(Stage{Duration: time.Second, Target: 1}, tt.stage)
			if err == nil {
				t.Fatal("New() error = nil, want error")
			}
			if !errors.Is(err, ErrInvalidProfile) {
				t.Errorf("errors.Is(err, ErrInvalidProfile) = false for %v", err)
			}
			var stageErr *StageError
			if !errors.As(err, &stageErr) {
				t.Fatalf("error is %T, want *StageError", err)
			}
			if stageErr.Index != 1 || stageErr.Field != tt.field {
				t.Errorf("StageError = %+v, want index 1 field %s", stageErr, tt.field)
			}
		})
	}
}

func TestLoadProfile_PhaseAt(t *testing.T) {
	p := rampProfile(t)

	tests := []struct {
		elapsed time.Duration
		want    Phase
	}{
		{10 * time.Second, PhaseRampUp},
		{45 * time.Second, PhaseSteady},
		{95 * time.Second, PhaseRampDown},
		{100 * time.Second, PhaseDone},
	}
	for _, tt := range tests {
		if got := p.PhaseAt(tt.elapsed); got != tt.want {
			t.Errorf("PhaseAt(%v) = %s, want %s", tt.elapsed, got, tt.want)
		}
	}
}

func TestLoadProfile_StagesIsACopy(t *testing.T) {
	p := rampProfile(t)
	stages := p.Stages()
	stages[0].Target = 500

	if got := p.Stages()[0].Target; got != 5 {
		t.Errorf("profile was mutated through Stages(): target = %d", got)
	}
	if p.MaxTarget() != 5 {
		t.Errorf("MaxTarget() = %d, want 5", p.MaxTarget())
	}
}
