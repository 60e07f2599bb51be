// Package executor drives the VU pool from a load profile.
package executor

import (
	"context"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/fitness-team/fitload/internal/loadtest"
	"github.com/fitness-team/fitload/internal/loadtest/metrics"
	"github.com/fitness-team/fitload/internal/loadtest/profile"
)

// DefaultTick is how often the target is recomputed.
const DefaultTick = 100 * time.Millisecond

// RampingVUs ramps the pool up and down following a profile.
//
// Every tick it asks the scheduler for the target at the current elapsed
// time and sends it to the pool. The pool does the spawning and stopping;
// this type never touches a VU directly. Once the profile is done it sends a
// final target of zero and tells the pool to finish.
//
// Example stages:
//
//	stages:
//	  - duration: 2m
//	    target: 1000   # ramp from 0 to 1000 VUs
//	  - duration: 1m
//	    target: 1000   # hold
//	  - duration: 1m
//	    target: 0      # ramp down
type RampingVUs struct {
	scheduler *profile.Scheduler
	pool      *loadtest.Pool
	metrics   *metrics.Engine
	tick      time.Duration
	logger    *zap.Logger

	targetVUs atomic.Int32
	stage     atomic.Int32
	started   atomic.Bool
	running   atomic.Bool
}

// Option configures RampingVUs.
type Option func(*RampingVUs)

// WithTick sets the controller interval.
func WithTick(d time.Duration) Option {
	return func(e *RampingVUs) {
		if d > 0 {
			e.tick = d
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(e *RampingVUs) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// NewRampingVUs creates a controller. metricsEngine may be nil.
func NewRampingVUs(scheduler *profile.Scheduler, pool *loadtest.Pool, metricsEngine *metrics.Engine, opts ...Option) *RampingVUs {
	e := &RampingVUs{
		scheduler: scheduler,
		pool:      pool,
		metrics:   metricsEngine,
		tick:      DefaultTick,
		logger:    zap.NewNop(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Run drives the pool until the profile completes or ctx is cancelled. The
// pool's Run must be running concurrently.
func (e *RampingVUs) Run(ctx context.Context) error {
	e.started.Store(true)
	e.running.Store(true)
	defer e.running.Store(false)

	ticker := time.NewTicker(e.tick)
	defer ticker.Stop()

	for {
		if done := e.step(); done {
			e.logger.Info("load profile complete",
				zap.Duration("elapsed", e.scheduler.Elapsed()),
				zap.Int64("iterations", e.pool.Iterations()))
			e.pool.SetTarget(0)
			e.pool.Finish()
			return nil
		}

		select {
		case <-ctx.Done():
			e.pool.Finish()
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// step applies the target for the current instant and reports whether the
// profile is done.
func (e *RampingVUs) step() bool {
	p := e.scheduler.Profile()
	elapsed := e.scheduler.Elapsed()
	if p.Done(elapsed) {
		e.targetVUs.Store(0)
		if e.metrics != nil {
			e.metrics.SetTargetVUs(0)
		}
		return true
	}

	target := p.Target(elapsed)
	idx, _ := p.StageAt(elapsed)
	if prev := e.stage.Swap(int32(idx)); prev != int32(idx) {
		e.logger.Debug("entering stage", zap.Int("stage", idx), zap.Int("target", p.Stages()[idx].Target))
	}
	e.targetVUs.Store(int32(target))
	e.pool.SetTarget(target)

	if e.metrics != nil {
		e.metrics.SetTargetVUs(target)
		e.metrics.SetPhase(metrics.Phase(p.PhaseAt(elapsed)))
	}
	return false
}

// Progress returns the fraction of the profile that has elapsed, 0.0 to 1.0.
func (e *RampingVUs) Progress() float64 {
	if !e.started.Load() {
		return 0
	}
	if !e.running.Load() {
		return 1
	}
	return e.scheduler.Progress()
}

// Stats returns a snapshot of the controller and pool state.
func (e *RampingVUs) Stats() *Stats {
	p := e.scheduler.Profile()
	stages := p.Stages()

	idx := int(e.stage.Load())
	name := ""
	if idx < len(stages) {
		name = stages[idx].Name
	}

	var elapsed time.Duration
	if e.started.Load() {
		elapsed = e.scheduler.Elapsed()
	}

	return &Stats{
		StartTime:        e.scheduler.TestStart(),
		CurrentTime:      e.scheduler.TestStart().Add(elapsed),
		Elapsed:          elapsed,
		TotalDuration:    p.TotalDuration(),
		ActiveVUs:        e.pool.Active(),
		TargetVUs:        int(e.targetVUs.Load()),
		MaxVUs:           e.pool.MaxID(),
		Iterations:       e.pool.Iterations(),
		CurrentStage:     idx,
		CurrentStageName: name,
		TotalStages:      len(stages),
		Progress:         e.Progress(),
	}
}

// Stats contains real-time executor statistics.
type Stats struct {
	StartTime     time.Time     `json:"startTime"`
	CurrentTime   time.Time     `json:"currentTime"`
	Elapsed       time.Duration `json:"elapsed"`
	TotalDuration time.Duration `json:"totalDuration"`

	ActiveVUs int `json:"activeVUs"`
	TargetVUs int `json:"targetVUs"`
	// MaxVUs is the number of distinct VUs allocated so far
	MaxVUs int `json:"maxVUs"`

	Iterations int64 `json:"iterations"`

	CurrentStage     int     `json:"currentStage"`
	CurrentStageName string  `json:"currentStageName"`
	TotalStages      int     `json:"totalStages"`
	Progress         float64 `json:"progress"`
}
