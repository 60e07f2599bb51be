package scenario

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	// ErrCheckFailed marks an iteration in which at least one check failed.
	ErrCheckFailed = errors.New("check failed")

	// ErrTransport wraps network errors. Transport failures are recorded with
	// status 0 and count as failed checks.
	ErrTransport = errors.New("transport failure")
)

// Recorder receives request and check results. metrics.Engine implements it.
type Recorder interface {
	RecordRequest(name string, d time.Duration, status int, bytes int64, err error)
	RecordCheck(name string, passed bool)
}

// RequestResult describes one HTTP exchange.
type RequestResult struct {
	Name     string        `json:"name"`
	Method   string        `json:"method"`
	URL      string        `json:"url"`
	Status   int           `json:"status"`
	Duration time.Duration `json:"duration"`
	Bytes    int64         `json:"bytes"`
	Err      error         `json:"-"`
}

// CheckResult is the outcome of one named assertion.
type CheckResult struct {
	Name   string `json:"name"`
	Passed bool   `json:"passed"`
}

// Result is the outcome of one iteration.
type Result struct {
	VUID      int             `json:"vu"`
	Iteration int64           `json:"iteration"`
	Phone     string          `json:"phone"`
	Requests  []RequestResult `json:"requests"`
	Checks    []CheckResult   `json:"checks"`
	// FollowUp is true when the authenticated library request was sent
	FollowUp bool `json:"followUp"`
	// Err is set when the iteration could not be built at all
	Err error `json:"-"`
}

func (r *Result) check(rec Recorder, name string, passed bool) bool {
	r.Checks = append(r.Checks, CheckResult{Name: name, Passed: passed})
	rec.RecordCheck(name, passed)
	return passed
}

// Failed reports whether any check failed.
func (r *Result) Failed() bool {
	for _, c := range r.Checks {
		if !c.Passed {
			return true
		}
	}
	return false
}

// FailedChecks returns the names of the failed checks.
func (r *Result) FailedChecks() []string {
	var names []string
	for _, c := range r.Checks {
		if !c.Passed {
			names = append(names, c.Name)
		}
	}
	return names
}

// Error summarizes the iteration as an error matching ErrCheckFailed, or nil
// if every check passed.
func (r *Result) Error() error {
	if !r.Failed() {
		return nil
	}
	return fmt.Errorf("%w: vu %d iteration %d: %s",
		ErrCheckFailed, r.VUID, r.Iteration, strings.Join(r.FailedChecks(), ", "))
}
