// Package metrics aggregates load test results: HDR latency histograms,
// request and check counters, and a per-second time series.
package metrics

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/HdrHistogram/hdrhistogram-go"
)

// Engine collects request, check and iteration results from every VU.
//
// Counters are atomic. Histograms are not safe for concurrent writes, so each
// one is guarded by a mutex. A background goroutine closes a time bucket every
// BucketInterval until Stop is called.
type Engine struct {
	config EngineConfig

	latencyHist   *hdrhistogram.Histogram
	latencyHistMu sync.Mutex

	requestHists   map[string]*hdrhistogram.Histogram
	requestHistsMu sync.Mutex

	// Request counts by name and status code, for exposition
	statusCounts   map[RequestKey]int64
	statusCountsMu sync.Mutex

	checks      map[string]*checkCounter
	checkOrder  []string
	checksMu    sync.RWMutex
	checkPasses atomic.Int64
	checkFails  atomic.Int64

	totalRequests   atomic.Int64
	successRequests atomic.Int64
	failedRequests  atomic.Int64
	totalBytes      atomic.Int64
	iterations      atomic.Int64

	activeVUs atomic.Int32
	targetVUs atomic.Int32

	phase        Phase
	phaseHistory []PhaseChange
	phaseMu      sync.RWMutex

	bucketStore *TimeBucketStore
	startTime   time.Time
	startMu     sync.RWMutex

	emitterCancel context.CancelFunc
	emitterWg     sync.WaitGroup
	stopOnce      sync.Once
}

// RequestKey identifies a request series by name and status code.
type RequestKey struct {
	Name   string
	Status int
}

type checkCounter struct {
	passes atomic.Int64
	fails  atomic.Int64
}

// NewEngine creates an engine with the default configuration.
func NewEngine() *Engine {
	return NewEngineWithConfig(DefaultEngineConfig())
}

// NewEngineWithConfig creates an engine and starts its bucket emitter.
func NewEngineWithConfig(config EngineConfig) *Engine {
	defaults := DefaultEngineConfig()
	if config.BucketInterval <= 0 {
		config.BucketInterval = defaults.BucketInterval
	}
	if config.HistogramMin <= 0 {
		config.HistogramMin = defaults.HistogramMin
	}
	if config.HistogramMax <= config.HistogramMin {
		config.HistogramMax = defaults.HistogramMax
	}
	if config.HistogramSigFigs <= 0 {
		config.HistogramSigFigs = defaults.HistogramSigFigs
	}

	ctx, cancel := context.WithCancel(context.Background())
	e := &Engine{
		config:        config,
		latencyHist:   hdrhistogram.New(config.HistogramMin, config.HistogramMax, config.HistogramSigFigs),
		requestHists:  make(map[string]*hdrhistogram.Histogram),
		statusCounts:  make(map[RequestKey]int64),
		checks:        make(map[string]*checkCounter),
		phase:         PhaseInit,
		bucketStore:   NewTimeBucketStore(config.MaxBuckets),
		startTime:     time.Now(),
		emitterCancel: cancel,
	}

	e.emitterWg.Add(1)
	go e.runEmitter(ctx)

	return e
}

// RecordRequest records one HTTP exchange. A request fails when err is
// non-nil or the status is 400 or above; transport failures use status 0.
func (e *Engine) RecordRequest(name string, d time.Duration, status int, bytes int64, err error) {
	success := err == nil && status > 0 && status < 400
	micros := e.clamp(d.Microseconds())

	e.latencyHistMu.Lock()
	_ = e.latencyHist.RecordValue(micros)
	e.latencyHistMu.Unlock()

	if name != "" {
		e.requestHistsMu.Lock()
		hist, ok := e.requestHists[name]
		if !ok {
			hist = hdrhistogram.New(e.config.HistogramMin, e.config.HistogramMax, e.config.HistogramSigFigs)
			e.requestHists[name] = hist
		}
		_ = hist.RecordValue(micros)
		e.requestHistsMu.Unlock()
	}

	e.statusCountsMu.Lock()
	e.statusCounts[RequestKey{Name: name, Status: status}]++
	e.statusCountsMu.Unlock()

	e.totalRequests.Add(1)
	e.totalBytes.Add(bytes)
	if success {
		e.successRequests.Add(1)
	} else {
		e.failedRequests.Add(1)
	}
	e.bucketStore.RecordRequest(success)
}

func (e *Engine) clamp(micros int64) int64 {
	if micros < e.config.HistogramMin {
		return e.config.HistogramMin
	}
	if micros > e.config.HistogramMax {
		return e.config.HistogramMax
	}
	return micros
}

// RecordCheck records one evaluation of a named check.
func (e *Engine) RecordCheck(name string, passed bool) {
	e.checksMu.RLock()
	c, ok := e.checks[name]
	e.checksMu.RUnlock()

	if !ok {
		e.checksMu.Lock()
		if c, ok = e.checks[name]; !ok {
			c = &checkCounter{}
			e.checks[name] = c
			e.checkOrder = append(e.checkOrder, name)
		}
		e.checksMu.Unlock()
	}

	if passed {
		c.passes.Add(1)
		e.checkPasses.Add(1)
	} else {
		c.fails.Add(1)
		e.checkFails.Add(1)
	}
	e.bucketStore.RecordCheck(passed)
}

// RecordIteration counts one completed scenario iteration.
func (e *Engine) RecordIteration() {
	e.iterations.Add(1)
	e.bucketStore.RecordIteration()
}

// SetPhase records a phase transition. Repeated calls with the current phase
// are ignored.
func (e *Engine) SetPhase(phase Phase) {
	e.phaseMu.Lock()
	defer e.phaseMu.Unlock()

	if e.phase == phase {
		return
	}
	e.phase = phase
	e.phaseHistory = append(e.phaseHistory, PhaseChange{
		Phase:     phase,
		Timestamp: time.Now(),
		Requests:  e.totalRequests.Load(),
	})
}

// Phase returns the current phase.
func (e *Engine) Phase() Phase {
	e.phaseMu.RLock()
	defer e.phaseMu.RUnlock()
	return e.phase
}

// PhaseHistory returns a copy of all phase transitions.
func (e *Engine) PhaseHistory() []PhaseChange {
	e.phaseMu.RLock()
	defer e.phaseMu.RUnlock()

	out := make([]PhaseChange, len(e.phaseHistory))
	copy(out, e.phaseHistory)
	return out
}

func (e *Engine) SetActiveVUs(n int) { e.activeVUs.Store(int32(n)) }
func (e *Engine) ActiveVUs() int     { return int(e.activeVUs.Load()) }
func (e *Engine) SetTargetVUs(n int) { e.targetVUs.Store(int32(n)) }
func (e *Engine) TargetVUs() int     { return int(e.targetVUs.Load()) }

// Iterations returns the number of completed iterations.
func (e *Engine) Iterations() int64 {
	return e.iterations.Load()
}

func (e *Engine) runEmitter(ctx context.Context) {
	defer e.emitterWg.Done()

	ticker := time.NewTicker(e.config.BucketInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.emitBucket()
		}
	}
}

func (e *Engine) emitBucket() {
	e.bucketStore.flush(time.Now(), bucketTotals{
		requests:  e.totalRequests.Load(),
		successes: e.successRequests.Load(),
		failures:  e.failedRequests.Load(),
		bytes:     e.totalBytes.Load(),
		latency:   e.LatencyPercentiles(),
		activeVUs: e.ActiveVUs(),
		targetVUs: e.TargetVUs(),
		phase:     e.Phase(),
	})
}

// LatencyPercentiles returns the current overall percentiles.
func (e *Engine) LatencyPercentiles() LatencyPercentiles {
	e.latencyHistMu.Lock()
	defer e.latencyHistMu.Unlock()

	h := e.latencyHist
	return LatencyPercentiles{
		Min: micros(h.Min()),
		Max: micros(h.Max()),
		P50: micros(h.ValueAtQuantile(50)),
		P90: micros(h.ValueAtQuantile(90)),
		P95: micros(h.ValueAtQuantile(95)),
		P99: micros(h.ValueAtQuantile(99)),
	}
}

func micros(v int64) time.Duration {
	return time.Duration(v) * time.Microsecond
}

func latencyStats(h *hdrhistogram.Histogram) LatencyStats {
	return LatencyStats{
		Min:    micros(h.Min()),
		Max:    micros(h.Max()),
		Mean:   micros(int64(h.Mean())),
		StdDev: micros(int64(h.StdDev())),
		P50:    micros(h.ValueAtQuantile(50)),
		P90:    micros(h.ValueAtQuantile(90)),
		P95:    micros(h.ValueAtQuantile(95)),
		P99:    micros(h.ValueAtQuantile(99)),
		Count:  h.TotalCount(),
	}
}

// Snapshot returns a point-in-time view of all metrics.
func (e *Engine) Snapshot() *Snapshot {
	e.latencyHistMu.Lock()
	latency := latencyStats(e.latencyHist)
	e.latencyHistMu.Unlock()

	now := time.Now()
	start := e.StartTime()
	elapsed := now.Sub(start)
	total := e.totalRequests.Load()
	failed := e.failedRequests.Load()

	rps := 0.0
	if elapsed > 0 {
		rps = float64(total) / elapsed.Seconds()
	}
	steady, n := e.bucketStore.SteadyStateRPS()
	if n > 0 {
		rps = steady
	}

	errorRate := 0.0
	if total > 0 {
		errorRate = float64(failed) / float64(total)
	}

	return &Snapshot{
		TotalRequests:   total,
		SuccessRequests: e.successRequests.Load(),
		FailedRequests:  failed,
		TotalBytes:      e.totalBytes.Load(),
		Latency:         latency,
		RPS:             rps,
		SteadyStateRPS:  steady,
		ErrorRate:       errorRate,
		Checks:          e.Checks(),
		CheckPasses:     e.checkPasses.Load(),
		CheckFails:      e.checkFails.Load(),
		CheckRate:       e.CheckRate(),
		Iterations:      e.iterations.Load(),
		ActiveVUs:       e.ActiveVUs(),
		TargetVUs:       e.TargetVUs(),
		CurrentPhase:    e.Phase(),
		Elapsed:         elapsed,
		StartTime:       start,
		Timestamp:       now,
	}
}

// Checks returns per-check counters in the order checks were first seen.
func (e *Engine) Checks() []CheckStats {
	e.checksMu.RLock()
	defer e.checksMu.RUnlock()

	out := make([]CheckStats, 0, len(e.checkOrder))
	for _, name := range e.checkOrder {
		c := e.checks[name]
		out = append(out, CheckStats{Name: name, Passes: c.passes.Load(), Fails: c.fails.Load()})
	}
	return out
}

// CheckRate returns the fraction of all check evaluations that passed, or 0
// if no check ran.
func (e *Engine) CheckRate() float64 {
	passes := e.checkPasses.Load()
	total := passes + e.checkFails.Load()
	if total == 0 {
		return 0
	}
	return float64(passes) / float64(total)
}

// RequestStats returns latency statistics per request name.
func (e *Engine) RequestStats() map[string]LatencyStats {
	e.requestHistsMu.Lock()
	defer e.requestHistsMu.Unlock()

	out := make(map[string]LatencyStats, len(e.requestHists))
	for name, h := range e.requestHists {
		out[name] = latencyStats(h)
	}
	return out
}

// StatusCounts returns a copy of the request counts keyed by name and status.
func (e *Engine) StatusCounts() map[RequestKey]int64 {
	e.statusCountsMu.Lock()
	defer e.statusCountsMu.Unlock()

	out := make(map[RequestKey]int64, len(e.statusCounts))
	for k, v := range e.statusCounts {
		out[k] = v
	}
	return out
}

// TimeSeries returns all retained time buckets.
func (e *Engine) TimeSeries() []*TimeBucket {
	return e.bucketStore.Buckets()
}

// LatestBucket returns the most recent time bucket, or nil.
func (e *Engine) LatestBucket() *TimeBucket {
	return e.bucketStore.Latest()
}

// Start marks t as the beginning of the measured run. Until it is called
// the engine's creation time is used.
func (e *Engine) Start(t time.Time) {
	e.startMu.Lock()
	e.startTime = t
	e.startMu.Unlock()
}

// StartTime returns the beginning of the measured run.
func (e *Engine) StartTime() time.Time {
	e.startMu.RLock()
	defer e.startMu.RUnlock()
	return e.startTime
}

// Stop stops the emitter and closes a final bucket. Safe to call more than
// once.
func (e *Engine) Stop() {
	e.stopOnce.Do(func() {
		e.emitterCancel()
		e.emitterWg.Wait()
		e.emitBucket()
	})
}
