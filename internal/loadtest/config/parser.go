package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/fitness-team/fitload/internal/loadtest"
	"github.com/fitness-team/fitload/internal/loadtest/profile"
	"github.com/fitness-team/fitload/internal/loadtest/scenario"
)

const (
	DefaultTimeout             = 30 * time.Second
	DefaultMaxIdleConnsPerHost = 100
	DefaultUserAgent           = "fitload/1.0"
)

// LoadConfig loads a test configuration from a file.
//
// The file format is determined by extension:
//   - .yaml, .yml -> YAML
//   - .json -> JSON
func LoadConfig(path string) (*TestConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return ParseConfig(data, path)
}

// ParseConfig parses configuration data. Anything but a .json path is read
// as YAML. Unknown fields are rejected.
func ParseConfig(data []byte, path string) (*TestConfig, error) {
	var config TestConfig

	if strings.ToLower(filepath.Ext(path)) == ".json" {
		dec := json.NewDecoder(bytes.NewReader(data))
		dec.DisallowUnknownFields()
		if err := dec.Decode(&config); err != nil {
			return nil, fmt.Errorf("failed to parse JSON config: %w", err)
		}
		return &config, nil
	}

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&config); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("failed to parse YAML config: %w", err)
	}
	return &config, nil
}

// ParseDurationString parses a duration string with support for common formats.
//
// Supported formats:
//   - Standard Go duration: "30s", "2m", "1h30m", "500ms"
//   - Seconds as integer: "30" (treated as 30 seconds)
func ParseDurationString(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, nil
	}

	if d, err := time.ParseDuration(s); err == nil {
		return d, nil
	}

	var seconds int
	var rest string
	if n, _ := fmt.Sscanf(s, "%d%s", &seconds, &rest); n == 1 {
		return time.Duration(seconds) * time.Second, nil
	}

	return 0, fmt.Errorf("invalid duration format: %s", s)
}

// ApplyDefaults fills in unset values.
func ApplyDefaults(config *TestConfig) {
	if config.Name == "" {
		config.Name = "fitload"
	}
	if config.BaseURL == "" {
		config.BaseURL = scenario.DefaultBaseURL
	}
	if config.Scenario.Difficulty == "" {
		config.Scenario.Difficulty = scenario.DefaultDifficulty
	}
	if config.Scenario.PhonePrefix == "" {
		config.Scenario.PhonePrefix = scenario.DefaultPhonePrefix
	}
	if config.Scenario.Sleep == "" {
		config.Scenario.Sleep = scenario.DefaultSleep.String()
	}
	if config.HTTP.Timeout == 0 {
		config.HTTP.Timeout = Duration(DefaultTimeout)
	}
	if config.HTTP.MaxIdleConnsPerHost == 0 {
		config.HTTP.MaxIdleConnsPerHost = DefaultMaxIdleConnsPerHost
	}
	if config.HTTP.UserAgent == "" {
		config.HTTP.UserAgent = DefaultUserAgent
	}
	if config.GracefulStop == "" {
		config.GracefulStop = loadtest.DefaultGracefulStop.String()
	}
}

// Profile converts the configured stages into a load profile.
func (c *TestConfig) Profile() (*profile.LoadProfile, error) {
	stages := make([]profile.Stage, 0, len(c.Stages))
	for i, s := range c.Stages {
		d, err := ParseDurationString(s.Duration)
		if err != nil {
			return nil, &profile.StageError{Index: i, Field: "duration", Message: err.Error()}
		}
		stages = append(stages, profile.Stage{Duration: d, Target: s.Target, Name: s.Name})
	}
	return profile.New(stages...)
}

// ScenarioConfig returns the scenario settings with durations parsed.
func (c *TestConfig) ScenarioConfig() (scenario.Config, error) {
	sleep := scenario.DefaultSleep
	if c.Scenario.Sleep != "" {
		d, err := ParseDurationString(c.Scenario.Sleep)
		if err != nil {
			return scenario.Config{}, fmt.Errorf("invalid scenario.sleep: %w", err)
		}
		sleep = d
	}
	return scenario.Config{
		BaseURL:         c.BaseURL,
		SpoofSourceIP:   c.Scenario.SpoofSourceIP,
		Difficulty:      c.Scenario.Difficulty,
		PhonePrefix:     c.Scenario.PhonePrefix,
		Sleep:           sleep,
		ValidateLibrary: c.Scenario.ValidateLibrary,
	}, nil
}

// GracefulStopDuration returns the parsed graceful stop, or the default.
func (c *TestConfig) GracefulStopDuration() time.Duration {
	d, err := ParseDurationString(c.GracefulStop)
	if err != nil || d <= 0 {
		return loadtest.DefaultGracefulStop
	}
	return d
}

// TotalDuration sums the stage durations, ignoring unparsable ones.
func (c *TestConfig) TotalDuration() time.Duration {
	var total time.Duration
	for _, s := range c.Stages {
		d, _ := ParseDurationString(s.Duration)
		total += d
	}
	return total
}
