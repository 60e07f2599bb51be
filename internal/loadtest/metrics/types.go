package metrics

import "time"

// Phase labels the part of the load profile a measurement belongs to.
type Phase string

const (
	PhaseInit     Phase = "init"
	PhaseRampUp   Phase = "ramp-up"
	PhaseSteady   Phase = "steady"
	PhaseRampDown Phase = "ramp-down"
	PhaseDone     Phase = "done"
)

// Snapshot contains a point-in-time view of all metrics.
type Snapshot struct {
	TotalRequests   int64 `json:"totalRequests"`
	SuccessRequests int64 `json:"successRequests"`
	// FailedRequests counts transport errors and responses with status >= 400
	FailedRequests int64 `json:"failedRequests"`
	TotalBytes     int64 `json:"totalBytes"`

	Latency LatencyStats `json:"latency"`

	RPS            float64 `json:"rps"`
	SteadyStateRPS float64 `json:"steadyStateRps"`
	ErrorRate      float64 `json:"errorRate"`

	Checks       []CheckStats `json:"checks"`
	CheckPasses  int64        `json:"checkPasses"`
	CheckFails   int64        `json:"checkFails"`
	CheckRate    float64      `json:"checkRate"`
	Iterations   int64        `json:"iterations"`
	ActiveVUs    int          `json:"activeVUs"`
	TargetVUs    int          `json:"targetVUs"`
	CurrentPhase Phase        `json:"currentPhase"`

	Elapsed   time.Duration `json:"elapsed"`
	StartTime time.Time     `json:"startTime"`
	Timestamp time.Time     `json:"timestamp"`
}

// LatencyStats contains latency statistics.
type LatencyStats struct {
	Min    time.Duration `json:"min"`
	Max    time.Duration `json:"max"`
	Mean   time.Duration `json:"mean"`
	StdDev time.Duration `json:"stdDev"`
	P50    time.Duration `json:"p50"`
	P90    time.Duration `json:"p90"`
	P95    time.Duration `json:"p95"`
	P99    time.Duration `json:"p99"`
	Count  int64         `json:"count"`
}

// LatencyPercentiles holds the percentiles copied into each time bucket.
type LatencyPercentiles struct {
	Min time.Duration
	Max time.Duration
	P50 time.Duration
	P90 time.Duration
	P95 time.Duration
	P99 time.Duration
}

// CheckStats holds pass/fail counts for one named check.
type CheckStats struct {
	Name   string `json:"name"`
	Passes int64  `json:"passes"`
	Fails  int64  `json:"fails"`
}

// Rate returns the fraction of evaluations that passed.
func (c CheckStats) Rate() float64 {
	total := c.Passes + c.Fails
	if total == 0 {
		return 0
	}
	return float64(c.Passes) / float64(total)
}

// TimeBucket is one interval of the time series.
//
// Totals are cumulative since the test started; interval fields cover only
// the bucket's own window.
type TimeBucket struct {
	Timestamp time.Time `json:"timestamp"`

	TotalRequests  int64 `json:"totalRequests"`
	TotalSuccesses int64 `json:"totalSuccesses"`
	TotalFailures  int64 `json:"totalFailures"`
	TotalBytes     int64 `json:"totalBytes"`

	IntervalRequests   int64   `json:"intervalRequests"`
	IntervalRPS        float64 `json:"intervalRPS"`
	IntervalErrorRate  float64 `json:"intervalErrorRate"`
	IntervalIterations int64   `json:"intervalIterations"`
	IntervalCheckFails int64   `json:"intervalCheckFails"`

	LatencyMin time.Duration `json:"latencyMin"`
	LatencyMax time.Duration `json:"latencyMax"`
	LatencyP50 time.Duration `json:"latencyP50"`
	LatencyP90 time.Duration `json:"latencyP90"`
	LatencyP95 time.Duration `json:"latencyP95"`
	LatencyP99 time.Duration `json:"latencyP99"`

	ActiveVUs int   `json:"activeVUs"`
	TargetVUs int   `json:"targetVUs"`
	Phase     Phase `json:"phase"`
}

// PhaseChange records when a phase transition occurred.
type PhaseChange struct {
	Phase     Phase     `json:"phase"`
	Timestamp time.Time `json:"timestamp"`
	Requests  int64     `json:"requests"`
}

// EngineConfig contains configuration for the metrics engine.
type EngineConfig struct {
	// BucketInterval is the interval for time-series buckets (default: 1s)
	BucketInterval time.Duration

	// MaxBuckets bounds the ring buffer (default: 3600)
	MaxBuckets int

	// HistogramMin and HistogramMax are in microseconds (default: 1µs to 1h)
	HistogramMin int64
	HistogramMax int64

	// HistogramSigFigs is the number of significant figures (default: 3)
	HistogramSigFigs int
}

// DefaultEngineConfig returns the default configuration.
func DefaultEngineConfig() EngineConfig {
	return EngineConfig{
		BucketInterval:   time.Second,
		MaxBuckets:       3600,
		HistogramMin:     1,
		HistogramMax:     3600000000,
		HistogramSigFigs: 3,
	}
}
