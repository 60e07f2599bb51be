// Package scenario implements one iteration of the fitness backend user
// journey: log in by phone, then browse the exercise library.
package scenario

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/tidwall/gjson"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/fitness-team/fitload/internal/loadtest"
	"github.com/fitness-team/fitload/pkg/jsonschema"
)

const (
	// maxBodySize bounds how much of a response is read.
	maxBodySize = 1 << 20

	// maxLoggedBody bounds the body excerpt in failure logs.
	maxLoggedBody = 2 << 10
)

// Runner executes the scenario. It is shared by all VUs.
type Runner struct {
	client  *http.Client
	cfg     Config
	rec     Recorder
	logger  *zap.Logger
	limiter *rate.Limiter
	schema  *jsonschema.Validator
	sleep   func(ctx context.Context, d time.Duration)
}

// Option configures a Runner.
type Option func(*Runner)

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(r *Runner) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// WithLimiter caps the request rate across every VU sharing the runner.
func WithLimiter(l *rate.Limiter) Option {
	return func(r *Runner) {
		r.limiter = l
	}
}

// WithSleeper replaces the end-of-iteration idle.
func WithSleeper(fn func(ctx context.Context, d time.Duration)) Option {
	return func(r *Runner) {
		if fn != nil {
			r.sleep = fn
		}
	}
}

// WithSchema overrides the library contract used when ValidateLibrary is set.
func WithSchema(v *jsonschema.Validator) Option {
	return func(r *Runner) {
		r.schema = v
	}
}

// NewRunner creates a runner. The client should carry its own timeout.
func NewRunner(client *http.Client, cfg Config, rec Recorder, opts ...Option) (*Runner, error) {
	cfg = cfg.withDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if client == nil {
		client = http.DefaultClient
	}

	r := &Runner{
		client: client,
		cfg:    cfg,
		rec:    rec,
		logger: zap.NewNop(),
		sleep:  sleepContext,
	}
	for _, opt := range opts {
		opt(r)
	}
	if cfg.ValidateLibrary && r.schema == nil {
		r.schema = LibraryValidator()
	}
	return r, nil
}

// Config returns the effective configuration.
func (r *Runner) Config() Config {
	return r.cfg
}

// Iterate runs one iteration for vu. Failures are recorded and logged, never
// returned: the caller keeps iterating regardless.
func (r *Runner) Iterate(ctx context.Context, vu *loadtest.VirtualUser) *Result {
	res := &Result{VUID: vu.ID, Iteration: vu.Iteration()}
	logger := r.logger.With(zap.Int("vu", res.VUID), zap.Int64("iteration", res.Iteration))

	phone, err := Phone(r.cfg.PhonePrefix, res.VUID, res.Iteration)
	if err != nil {
		res.Err = err
		res.check(r.rec, CheckLoginStatus, false)
		res.check(r.rec, CheckLoginSuccess, false)
		logger.Error("skipping login", zap.Error(err))
	} else {
		res.Phone = phone
		if token, ok := r.login(ctx, logger, res); ok {
			r.browse(ctx, logger, res, token)
		}
	}

	r.sleep(ctx, r.cfg.Sleep)
	return res
}

func (r *Runner) login(ctx context.Context, logger *zap.Logger, res *Result) (string, bool) {
	body, err := json.Marshal(AuthRequest{Type: LoginTypePhone, Phone: res.Phone})
	if err != nil {
		res.Err = err
		return "", false
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.cfg.loginURL(), bytes.NewReader(body))
	if err != nil {
		res.Err = err
		return "", false
	}
	req.Header.Set("Content-Type", "application/json")
	if r.cfg.SpoofSourceIP {
		req.Header.Set("X-Forwarded-For", RandomIPv4(nil))
	}

	rr, raw := r.do(ctx, RequestLogin, req)
	res.Requests = append(res.Requests, rr)

	var resp LoginResponse
	succeeded := false
	if rr.Err == nil {
		if err := decode(raw, &resp); err == nil {
			succeeded, _ = resp.Succeeded()
		}
	}

	statusOK := res.check(r.rec, CheckLoginStatus, rr.Err == nil && rr.Status == http.StatusOK)
	successOK := res.check(r.rec, CheckLoginSuccess, succeeded)
	if !statusOK || !successOK {
		r.logFailure(logger, "login failed", rr, raw)
		return "", false
	}

	token, err := resp.Token()
	if !res.check(r.rec, CheckLoginToken, err == nil) {
		logger.Warn("login succeeded without a token", zap.Error(err), zap.String("phone", res.Phone))
		return "", false
	}
	logger.Debug("logged in", zap.String("phone", res.Phone), zap.Duration("duration", rr.Duration))
	return token, true
}

func (r *Runner) browse(ctx context.Context, logger *zap.Logger, res *Result, token string) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.cfg.libraryURL(), nil)
	if err != nil {
		res.Err = err
		return
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)

	res.FollowUp = true
	rr, raw := r.do(ctx, RequestLibrary, req)
	res.Requests = append(res.Requests, rr)

	var resp LibraryResponse
	succeeded := false
	if rr.Err == nil {
		if err := decode(raw, &resp); err == nil {
			succeeded, _ = resp.Succeeded()
		}
	}

	statusOK := res.check(r.rec, CheckLibraryStatus, rr.Err == nil && rr.Status == http.StatusOK)
	successOK := res.check(r.rec, CheckLibrarySuccess, succeeded)
	if !statusOK || !successOK {
		r.logFailure(logger, "library request failed", rr, raw)
		return
	}

	if r.schema != nil {
		if err := r.schema.Validate(raw); !res.check(r.rec, CheckLibrarySchema, err == nil) {
			logger.Warn("library response violates schema", zap.Error(err))
			return
		}
	}

	if lib, err := resp.Library(); err == nil {
		logger.Debug("library fetched",
			zap.Int("moves", len(lib.Moves)),
			zap.Int("sessions", len(lib.Sessions)),
			zap.Duration("duration", rr.Duration))
	}
}

// do sends req and reads the body. Every exchange is reported to the
// recorder, including ones that never reached the server.
func (r *Runner) do(ctx context.Context, name string, req *http.Request) (RequestResult, []byte) {
	rr := RequestResult{Name: name, Method: req.Method, URL: req.URL.String()}

	if r.limiter != nil {
		if err := r.limiter.Wait(ctx); err != nil {
			rr.Err = fmt.Errorf("%w: rate limit wait: %v", ErrTransport, err)
			r.rec.RecordRequest(name, 0, 0, 0, rr.Err)
			return rr, nil
		}
	}

	start := time.Now()
	resp, err := r.client.Do(req)
	if err != nil {
		rr.Duration = time.Since(start)
		rr.Err = fmt.Errorf("%w: %v", ErrTransport, err)
		r.rec.RecordRequest(name, rr.Duration, 0, 0, rr.Err)
		return rr, nil
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	rr.Duration = time.Since(start)
	rr.Status = resp.StatusCode
	rr.Bytes = int64(len(raw))
	if err != nil {
		rr.Err = fmt.Errorf("%w: read body: %v", ErrTransport, err)
	}
	r.rec.RecordRequest(name, rr.Duration, rr.Status, rr.Bytes, rr.Err)
	return rr, raw
}

func (r *Runner) logFailure(logger *zap.Logger, msg string, rr RequestResult, raw []byte) {
	fields := []zap.Field{
		zap.String("request", rr.Name),
		zap.Int("status", rr.Status),
		zap.Duration("duration", rr.Duration),
	}
	if rr.Err != nil {
		fields = append(fields, zap.Error(rr.Err))
	}
	if gjson.ValidBytes(raw) {
		if m := gjson.GetBytes(raw, "message"); m.Exists() {
			fields = append(fields, zap.String("message", m.String()))
		}
		if c := gjson.GetBytes(raw, "code"); c.Exists() {
			fields = append(fields, zap.Int64("code", c.Int()))
		}
	}
	if len(raw) > 0 {
		body := raw
		if len(body) > maxLoggedBody {
			body = body[:maxLoggedBody]
		}
		fields = append(fields, zap.ByteString("body", body))
	}
	logger.Warn(msg, fields...)
}

func sleepContext(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
