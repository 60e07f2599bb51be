// Package engine wires configuration, the scenario, the VU pool and the
// ramping controller into a single load test run.
package engine

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/fitness-team/fitload/internal/loadtest"
	"github.com/fitness-team/fitload/internal/loadtest/config"
	"github.com/fitness-team/fitload/internal/loadtest/executor"
	"github.com/fitness-team/fitload/internal/loadtest/metrics"
	"github.com/fitness-team/fitload/internal/loadtest/profile"
	"github.com/fitness-team/fitload/internal/loadtest/scenario"
)

// ErrAlreadyRun is returned when Run is called a second time.
var ErrAlreadyRun = errors.New("engine has already run")

// Engine is the orchestrator for one load test.
//
// It coordinates:
//   - Configuration validation and the load profile
//   - The scenario runner shared by every VU
//   - The VU pool and the ramping-vus controller
//   - Metrics collection and threshold evaluation
//
// Example usage:
//
//	cfg, _ := config.LoadConfig("test.yaml")
//	eng, _ := engine.New(cfg)
//	result, _ := eng.Run(context.Background())
//	fmt.Printf("Test passed: %v\n", result.Passed)
type Engine struct {
	config  *config.TestConfig
	profile *profile.LoadProfile
	runID   string
	logger  *zap.Logger
	tick    time.Duration
	clock   func() time.Time

	client        *http.Client
	limiter       *rate.Limiter
	metricsEngine *metrics.Engine
	runner        *scenario.Runner
	pool          *loadtest.Pool

	mu         sync.RWMutex
	controller *executor.RampingVUs
	startTime  time.Time
	running    bool
	ran        bool
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the logger. Every line carries the run id.
func WithLogger(logger *zap.Logger) Option {
	return func(e *Engine) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// WithHTTPClient replaces the client built from the http settings.
func WithHTTPClient(client *http.Client) Option {
	return func(e *Engine) {
		if client != nil {
			e.client = client
		}
	}
}

// WithTick sets the controller interval.
func WithTick(d time.Duration) Option {
	return func(e *Engine) { e.tick = d }
}

// WithClock sets the time source of the stage scheduler.
func WithClock(clock func() time.Time) Option {
	return func(e *Engine) {
		if clock != nil {
			e.clock = clock
		}
	}
}

// TestResult contains the complete test results.
type TestResult struct {
	RunID       string        `json:"runId"`
	Name        string        `json:"name"`
	Description string        `json:"description,omitempty"`
	BaseURL     string        `json:"baseUrl"`
	StartTime   time.Time     `json:"startTime"`
	EndTime     time.Time     `json:"endTime"`
	Duration    time.Duration `json:"duration"`

	Metrics      *metrics.Snapshot                `json:"metrics"`
	TimeSeries   []*metrics.TimeBucket            `json:"timeSeries,omitempty"`
	RequestStats map[string]metrics.LatencyStats `json:"requestStats,omitempty"`
	Phases       []metrics.PhaseChange            `json:"phases,omitempty"`
	Checks       []metrics.CheckStats             `json:"checks"`
	Iterations   int64                            `json:"iterations"`
	// MaxVUs is the number of distinct VUs the run allocated
	MaxVUs int `json:"maxVUs"`

	Passed     bool              `json:"passed"`
	Thresholds []ThresholdResult `json:"thresholds,omitempty"`

	// Error is set when the run was interrupted
	Error string `json:"error,omitempty"`
}

// ThresholdResult contains the result of a threshold evaluation.
type ThresholdResult struct {
	Metric     string `json:"metric"`
	Expression string `json:"expression"`
	Passed     bool   `json:"passed"`
	Value      string `json:"value"`
	Message    string `json:"message,omitempty"`
}

// New validates cfg and builds everything a run needs.
//
// Configuration errors, including an invalid profile, are returned here;
// nothing that happens during Run is fatal.
func New(cfg *config.TestConfig, opts ...Option) (*Engine, error) {
	if cfg == nil {
		return nil, errors.New("config is required")
	}
	config.ApplyDefaults(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	p, err := cfg.Profile()
	if err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	scenarioCfg, err := cfg.ScenarioConfig()
	if err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	e := &Engine{
		config:  cfg,
		profile: p,
		runID:   uuid.NewString(),
		logger:  zap.NewNop(),
		tick:    executor.DefaultTick,
		clock:   time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	e.logger = e.logger.With(zap.String("run", e.runID))

	if e.client == nil {
		e.client = newHTTPClient(cfg.HTTP)
	}
	if cfg.MaxRPS > 0 {
		burst := int(cfg.MaxRPS)
		if burst < 1 {
			burst = 1
		}
		e.limiter = rate.NewLimiter(rate.Limit(cfg.MaxRPS), burst)
	}

	e.metricsEngine = metrics.NewEngine()
	e.metricsEngine.SetPhase(metrics.PhaseInit)

	runnerOpts := []scenario.Option{scenario.WithLogger(e.logger)}
	if e.limiter != nil {
		runnerOpts = append(runnerOpts, scenario.WithLimiter(e.limiter))
	}
	e.runner, err = scenario.NewRunner(e.client, scenarioCfg, e.metricsEngine, runnerOpts...)
	if err != nil {
		e.metricsEngine.Stop()
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	e.pool = loadtest.NewPool(e.iterate,
		loadtest.WithGracefulStop(cfg.GracefulStopDuration()),
		loadtest.WithObserver(e.metricsEngine.SetActiveVUs),
		loadtest.WithPoolLogger(e.logger),
	)
	return e, nil
}

// newHTTPClient builds the shared client. All VUs share its connection pool.
func newHTTPClient(s config.HTTPSettings) *http.Client {
	transport := &http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		MaxIdleConns:        1000,
		MaxIdleConnsPerHost: s.MaxIdleConnsPerHost,
		MaxConnsPerHost:     s.MaxConnsPerHost,
		IdleConnTimeout:     90 * time.Second,
	}
	if s.InsecureSkipVerify {
		transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true} //nolint:gosec
	}

	timeout := time.Duration(s.Timeout)
	if timeout == 0 {
		timeout = config.DefaultTimeout
	}
	return &http.Client{
		Transport: &userAgentTransport{next: transport, userAgent: s.UserAgent},
		Timeout:   timeout,
	}
}

type userAgentTransport struct {
	next      http.RoundTripper
	userAgent string
}

func (t *userAgentTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if t.userAgent != "" && req.Header.Get("User-Agent") == "" {
		req = req.Clone(req.Context())
		req.Header.Set("User-Agent", t.userAgent)
	}
	return t.next.RoundTrip(req)
}

// iterate is the pool's IterationFunc.
func (e *Engine) iterate(ctx context.Context, vu *loadtest.VirtualUser) {
	res := e.runner.Iterate(ctx, vu)
	if ctx.Err() != nil {
		// the pool does not count an aborted iteration, neither do the metrics
		return
	}
	e.metricsEngine.RecordIteration()
	if res.Failed() {
		e.logger.Debug("iteration failed",
			zap.Int("vu", res.VUID),
			zap.Int64("iteration", res.Iteration),
			zap.Strings("checks", res.FailedChecks()))
	}
}

// Run executes the profile and returns the test results.
//
// Cancelling ctx aborts in-flight requests and ends the run early; the
// partial result is still returned together with the context error.
func (e *Engine) Run(ctx context.Context) (*TestResult, error) {
	e.mu.Lock()
	if e.ran {
		e.mu.Unlock()
		return nil, ErrAlreadyRun
	}
	e.ran = true
	e.running = true
	e.startTime = e.clock()
	e.metricsEngine.Start(e.startTime)
	scheduler := profile.NewScheduler(e.profile, e.startTime, profile.WithClock(e.clock))
	e.controller = executor.NewRampingVUs(scheduler, e.pool, e.metricsEngine,
		executor.WithTick(e.tick),
		executor.WithLogger(e.logger),
	)
	controller := e.controller
	e.mu.Unlock()

	defer func() {
		e.mu.Lock()
		e.running = false
		e.mu.Unlock()
	}()

	e.logger.Info("starting load test",
		zap.String("name", e.config.Name),
		zap.String("baseUrl", e.config.BaseURL),
		zap.Int("stages", len(e.profile.Stages())),
		zap.Int("maxVUs", e.profile.MaxTarget()),
		zap.Duration("duration", e.profile.TotalDuration()))

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return e.pool.Run(gctx) })
	g.Go(func() error { return controller.Run(gctx) })
	runErr := g.Wait()

	e.metricsEngine.SetPhase(metrics.PhaseDone)
	e.metricsEngine.SetActiveVUs(0)
	e.metricsEngine.Stop()

	snapshot := e.metricsEngine.Snapshot()
	thresholds := e.evaluateThresholds(snapshot)
	passed := runErr == nil
	for _, tr := range thresholds {
		if !tr.Passed {
			passed = false
			break
		}
	}

	end := time.Now()
	result := &TestResult{
		RunID:        e.runID,
		Name:         e.config.Name,
		Description:  e.config.Description,
		BaseURL:      e.config.BaseURL,
		StartTime:    e.startTime,
		EndTime:      end,
		Duration:     end.Sub(e.startTime),
		Metrics:      snapshot,
		TimeSeries:   e.metricsEngine.TimeSeries(),
		RequestStats: e.metricsEngine.RequestStats(),
		Phases:       e.metricsEngine.PhaseHistory(),
		Checks:       snapshot.Checks,
		Iterations:   snapshot.Iterations,
		MaxVUs:       e.pool.MaxID(),
		Passed:       passed,
		Thresholds:   thresholds,
	}
	if runErr != nil {
		result.Error = runErr.Error()
	}

	e.logger.Info("load test finished",
		zap.Bool("passed", passed),
		zap.Int64("requests", snapshot.TotalRequests),
		zap.Int64("iterations", snapshot.Iterations),
		zap.Float64("checkRate", snapshot.CheckRate),
		zap.Duration("duration", result.Duration),
		zap.Error(runErr))

	return result, runErr
}

// evaluateThresholds evaluates all configured thresholds. Expressions were
// checked by Validate, so a parse error here only shows up as a failed entry.
func (e *Engine) evaluateThresholds(snapshot *metrics.Snapshot) []ThresholdResult {
	t := e.config.Thresholds
	if t == nil || t.Empty() {
		return nil
	}

	var results []ThresholdResult
	for _, group := range []struct {
		metric string
		exprs  []string
	}{
		{config.MetricHTTPReqDuration, t.HTTPReqDuration},
		{config.MetricHTTPReqFailed, t.HTTPReqFailed},
		{config.MetricHTTPReqs, t.HTTPReqs},
		{config.MetricChecks, t.Checks},
	} {
		for _, expr := range group.exprs {
			results = append(results, evaluateThreshold(group.metric, expr, snapshot))
		}
	}
	return results
}

func evaluateThreshold(metric, expr string, snapshot *metrics.Snapshot) ThresholdResult {
	result := ThresholdResult{Metric: metric, Expression: expr}

	th, err := config.ParseThreshold(metric, expr)
	if err != nil {
		result.Message = fmt.Sprintf("failed to parse expression: %v", err)
		return result
	}

	switch metric {
	case config.MetricHTTPReqDuration:
		actual := durationStat(th.Stat, snapshot.Latency)
		limit := time.Duration(th.Value * float64(time.Millisecond))
		result.Value = actual.String()
		result.Passed = th.Compare(float64(actual) / float64(time.Millisecond))
		if !result.Passed {
			result.Message = fmt.Sprintf("%s is %s, threshold: %s %s", th.Stat, actual, th.Op, limit)
		}

	case config.MetricHTTPReqFailed:
		result.Value = fmt.Sprintf("%.4f", snapshot.ErrorRate)
		result.Passed = th.Compare(snapshot.ErrorRate)
		if !result.Passed {
			result.Message = fmt.Sprintf("error rate is %.4f, threshold: %s %.4f", snapshot.ErrorRate, th.Op, th.Value)
		}

	case config.MetricHTTPReqs:
		actual := snapshot.RPS
		if th.Stat == "count" {
			actual = float64(snapshot.TotalRequests)
		}
		result.Value = fmt.Sprintf("%.2f", actual)
		result.Passed = th.Compare(actual)
		if !result.Passed {
			result.Message = fmt.Sprintf("%s is %.2f, threshold: %s %.2f", th.Stat, actual, th.Op, th.Value)
		}

	case config.MetricChecks:
		result.Value = fmt.Sprintf("%.4f", snapshot.CheckRate)
		result.Passed = th.Compare(snapshot.CheckRate)
		if !result.Passed {
			result.Message = fmt.Sprintf("check rate is %.4f, threshold: %s %.4f", snapshot.CheckRate, th.Op, th.Value)
		}
	}

	return result
}

func durationStat(stat string, l metrics.LatencyStats) time.Duration {
	switch stat {
	case "min":
		return l.Min
	case "max":
		return l.Max
	case "avg":
		return l.Mean
	case "p50", "med":
		return l.P50
	case "p90":
		return l.P90
	case "p95":
		return l.P95
	case "p99":
		return l.P99
	default:
		return 0
	}
}

// RunID returns the id attached to every log line and to the result.
func (e *Engine) RunID() string {
	return e.runID
}

// Config returns the effective configuration, defaults applied.
func (e *Engine) Config() *config.TestConfig {
	return e.config
}

// Profile returns the load profile.
func (e *Engine) Profile() *profile.LoadProfile {
	return e.profile
}

// Metrics returns the current metrics snapshot.
func (e *Engine) Metrics() *metrics.Snapshot {
	return e.metricsEngine.Snapshot()
}

// Close releases what New started. It is a no-op after Run, and safe to
// call more than once.
func (e *Engine) Close() {
	e.metricsEngine.Stop()
}

// MetricsEngine returns the live metrics engine, e.g. for an Exporter.
func (e *Engine) MetricsEngine() *metrics.Engine {
	return e.metricsEngine
}

// IsRunning returns true while Run is executing.
func (e *Engine) IsRunning() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.running
}

// Progress returns the fraction of the profile that has elapsed.
func (e *Engine) Progress() float64 {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.controller == nil {
		return 0
	}
	return e.controller.Progress()
}

// Stats returns the controller statistics, or nil before Run.
func (e *Engine) Stats() *executor.Stats {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.controller == nil {
		return nil
	}
	return e.controller.Stats()
}
