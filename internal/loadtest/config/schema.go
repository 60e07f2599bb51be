// Package config loads and validates load test configuration files.
package config

import (
	"encoding/json"
	"fmt"
	"time"

	"gopkg.in/yaml.v3"
)

// TestConfig is the root configuration for a load test.
//
// Example YAML:
//
//	name: "library browse"
//	baseUrl: "http://localhost:8080"
//	stages:
//	  - duration: 2m
//	    target: 1000
//	  - duration: 1m
//	    target: 1000
//	  - duration: 1m
//	    target: 0
//	scenario:
//	  spoofSourceIp: true
//	thresholds:
//	  http_req_duration: ["p95 < 500ms"]
//	  checks: ["rate > 0.99"]
type TestConfig struct {
	// Name of the test (for reporting)
	Name string `json:"name" yaml:"name"`

	// Description of the test (optional)
	Description string `json:"description,omitempty" yaml:"description,omitempty"`

	// BaseURL is the backend origin
	BaseURL string `json:"baseUrl,omitempty" yaml:"baseUrl,omitempty"`

	// Stages is the load profile
	Stages []StageConfig `json:"stages" yaml:"stages"`

	Scenario ScenarioSettings `json:"scenario,omitempty" yaml:"scenario,omitempty"`
	HTTP     HTTPSettings     `json:"http,omitempty" yaml:"http,omitempty"`

	// GracefulStop is how long to wait for in-flight iterations at the end
	GracefulStop string `json:"gracefulStop,omitempty" yaml:"gracefulStop,omitempty"`

	// MaxRPS caps the total request rate across all VUs; 0 means unlimited
	MaxRPS float64 `json:"maxRps,omitempty" yaml:"maxRps,omitempty"`

	// Thresholds define pass/fail criteria for metrics
	Thresholds *ThresholdsConfig `json:"thresholds,omitempty" yaml:"thresholds,omitempty"`

	Log LogSettings `json:"log,omitempty" yaml:"log,omitempty"`
}

// StageConfig defines a single stage of the profile.
type StageConfig struct {
	// Duration of this stage (e.g., "30s", "2m")
	Duration string `json:"duration" yaml:"duration"`

	// Target VU count reached at the end of the stage
	Target int `json:"target" yaml:"target"`

	// Name is an optional name for this stage (for reporting)
	Name string `json:"name,omitempty" yaml:"name,omitempty"`
}

// ScenarioSettings tunes the login-then-browse scenario.
type ScenarioSettings struct {
	// SpoofSourceIP sends a random X-Forwarded-For on login
	SpoofSourceIP bool `json:"spoofSourceIp,omitempty" yaml:"spoofSourceIp,omitempty"`

	// Difficulty filters the library (default: novice)
	Difficulty string `json:"difficulty,omitempty" yaml:"difficulty,omitempty"`

	// PhonePrefix starts every generated phone number (default: 139)
	PhonePrefix string `json:"phonePrefix,omitempty" yaml:"phonePrefix,omitempty"`

	// Sleep is the idle time after each iteration (default: 1s)
	Sleep string `json:"sleep,omitempty" yaml:"sleep,omitempty"`

	// ValidateLibrary checks library responses against their JSON Schema
	ValidateLibrary bool `json:"validateLibrary,omitempty" yaml:"validateLibrary,omitempty"`
}

// HTTPSettings configures the shared HTTP client.
type HTTPSettings struct {
	Timeout             Duration `json:"timeout,omitempty" yaml:"timeout,omitempty"`
	MaxIdleConnsPerHost int      `json:"maxIdleConnsPerHost,omitempty" yaml:"maxIdleConnsPerHost,omitempty"`
	MaxConnsPerHost     int      `json:"maxConnsPerHost,omitempty" yaml:"maxConnsPerHost,omitempty"`
	InsecureSkipVerify  bool     `json:"insecureSkipVerify,omitempty" yaml:"insecureSkipVerify,omitempty"`
	UserAgent           string   `json:"userAgent,omitempty" yaml:"userAgent,omitempty"`
}

// ThresholdsConfig defines pass/fail criteria for the test.
type ThresholdsConfig struct {
	// HTTPReqDuration thresholds for request duration
	// e.g., ["p95 < 500ms", "avg < 200ms"]
	HTTPReqDuration []string `json:"http_req_duration,omitempty" yaml:"http_req_duration,omitempty"`

	// HTTPReqFailed thresholds for failure rate
	// e.g., ["rate < 0.01"] (less than 1% failures)
	HTTPReqFailed []string `json:"http_req_failed,omitempty" yaml:"http_req_failed,omitempty"`

	// HTTPReqs thresholds for request count/rate
	// e.g., ["count > 1000", "rate > 100"]
	HTTPReqs []string `json:"http_reqs,omitempty" yaml:"http_reqs,omitempty"`

	// Checks thresholds for the check pass rate
	// e.g., ["rate > 0.99"]
	Checks []string `json:"checks,omitempty" yaml:"checks,omitempty"`
}

// Empty reports whether no threshold is configured.
func (t *ThresholdsConfig) Empty() bool {
	return t == nil ||
		len(t.HTTPReqDuration)+len(t.HTTPReqFailed)+len(t.HTTPReqs)+len(t.Checks) == 0
}

// LogSettings are logging defaults; command-line flags override them.
type LogSettings struct {
	Level  string `json:"level,omitempty" yaml:"level,omitempty"`
	Format string `json:"format,omitempty" yaml:"format,omitempty"`
}

// Duration is a time.Duration that can be unmarshaled from JSON/YAML strings.
type Duration time.Duration

// GetDuration returns the duration or a default if empty.
func (d Duration) GetDuration(defaultValue time.Duration) time.Duration {
	if d == 0 {
		return defaultValue
	}
	return time.Duration(d)
}

// MarshalJSON implements json.Marshaler.
func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

// UnmarshalJSON implements json.Unmarshaler.
func (d *Duration) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return fmt.Errorf("duration must be a string: %w", err)
	}
	return d.set(s)
}

// MarshalYAML implements yaml.Marshaler.
func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var s string
	if err := node.Decode(&s); err != nil {
		return err
	}
	return d.set(s)
}

func (d *Duration) set(s string) error {
	dur, err := ParseDurationString(s)
	if err != nil {
		return err
	}
	*d = Duration(dur)
	return nil
}

// String returns the duration as a string.
func (d Duration) String() string {
	return time.Duration(d).String()
}
