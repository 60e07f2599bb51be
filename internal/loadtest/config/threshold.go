package config

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// Metric names accepted in the thresholds block.
const (
	MetricHTTPReqDuration = "http_req_duration"
	MetricHTTPReqFailed   = "http_req_failed"
	MetricHTTPReqs        = "http_reqs"
	MetricChecks          = "checks"
)

var thresholdRe = regexp.MustCompile(`^(\w+)\s*(<=|>=|==|!=|<|>)\s*(.+)$`)

// allowedStats lists, per metric, the statistics an expression may use.
var allowedStats = map[string][]string{
	MetricHTTPReqDuration: {"p50", "p90", "p95", "p99", "min", "max", "avg", "med"},
	MetricHTTPReqFailed:   {"rate"},
	MetricHTTPReqs:        {"count", "rate"},
	MetricChecks:          {"rate"},
}

// Threshold is a parsed expression such as "p95 < 500ms".
type Threshold struct {
	Metric string
	Stat   string
	Op     string
	// Value is in milliseconds for http_req_duration, a plain number otherwise
	Value float64
	Expr  string
}

// ParseThreshold parses expr for the given metric.
func ParseThreshold(metric, expr string) (Threshold, error) {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return Threshold{}, fmt.Errorf("threshold expression cannot be empty")
	}

	m := thresholdRe.FindStringSubmatch(expr)
	if m == nil {
		return Threshold{}, fmt.Errorf("invalid threshold expression %q: want \"<stat> <op> <value>\"", expr)
	}
	t := Threshold{Metric: metric, Stat: m[1], Op: m[2], Expr: expr}

	allowed, ok := allowedStats[metric]
	if !ok {
		return Threshold{}, fmt.Errorf("unknown metric %q", metric)
	}
	if !contains(allowed, t.Stat) {
		return Threshold{}, fmt.Errorf("%s does not support %q (use %s)", metric, t.Stat, strings.Join(allowed, ", "))
	}

	raw := strings.TrimSpace(m[3])
	if metric == MetricHTTPReqDuration {
		d, err := parseThresholdDuration(raw)
		if err != nil {
			return Threshold{}, fmt.Errorf("invalid duration %q in %q: %w", raw, expr, err)
		}
		t.Value = float64(d) / float64(time.Millisecond)
		return t, nil
	}

	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return Threshold{}, fmt.Errorf("invalid number %q in %q", raw, expr)
	}
	t.Value = v
	return t, nil
}

// parseThresholdDuration accepts a Go duration or a bare number of
// milliseconds.
func parseThresholdDuration(s string) (time.Duration, error) {
	if d, err := time.ParseDuration(s); err == nil {
		return d, nil
	}
	ms, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, err
	}
	return time.Duration(ms * float64(time.Millisecond)), nil
}

// Compare applies the threshold's operator to actual.
func (t Threshold) Compare(actual float64) bool {
	switch t.Op {
	case "<":
		return actual < t.Value
	case "<=":
		return actual <= t.Value
	case ">":
		return actual > t.Value
	case ">=":
		return actual >= t.Value
	case "==":
		return actual == t.Value
	case "!=":
		return actual != t.Value
	default:
		return false
	}
}

// All parses every configured threshold in a stable order: duration, failed,
// requests, checks.
func (t *ThresholdsConfig) All() ([]Threshold, error) {
	if t == nil {
		return nil, nil
	}
	var out []Threshold
	for _, group := range []struct {
		metric string
		exprs  []string
	}{
		{MetricHTTPReqDuration, t.HTTPReqDuration},
		{MetricHTTPReqFailed, t.HTTPReqFailed},
		{MetricHTTPReqs, t.HTTPReqs},
		{MetricChecks, t.Checks},
	} {
		for _, expr := range group.exprs {
			th, err := ParseThreshold(group.metric, expr)
			if err != nil {
				return nil, err
			}
			out = append(out, th)
		}
	}
	return out, nil
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
