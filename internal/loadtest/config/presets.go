package config

import (
	"fmt"
	"sort"
)

// Built-in profiles.
const (
	PresetLoad  = "load"
	PresetSmoke = "smoke"
)

var presets = map[string]func() *TestConfig{
	// Ramp to 1000 VUs over two minutes, hold for one, ramp down over one.
	// Login source IPs are spoofed so the per-IP login limit is not the
	// bottleneck being measured.
	PresetLoad: func() *TestConfig {
		return &TestConfig{
			Name:        "library browse load",
			Description: "phone login followed by a novice library fetch",
			Stages: []StageConfig{
				{Duration: "2m", Target: 1000, Name: "ramp-up"},
				{Duration: "1m", Target: 1000, Name: "hold"},
				{Duration: "1m", Target: 0, Name: "ramp-down"},
			},
			Scenario: ScenarioSettings{SpoofSourceIP: true},
		}
	},
	PresetSmoke: func() *TestConfig {
		return &TestConfig{
			Name:        "library browse smoke",
			Description: "a handful of VUs against a single client IP",
			Stages: []StageConfig{
				{Duration: "30s", Target: 5, Name: "ramp-up"},
				{Duration: "60s", Target: 5, Name: "hold"},
				{Duration: "10s", Target: 0, Name: "ramp-down"},
			},
			Thresholds: &ThresholdsConfig{
				HTTPReqFailed: []string{"rate < 0.01"},
				Checks:        []string{"rate > 0.99"},
			},
		}
	},
}

// Preset returns a fresh copy of a built-in configuration.
func Preset(name string) (*TestConfig, error) {
	build, ok := presets[name]
	if !ok {
		return nil, fmt.Errorf("unknown preset %q (available: %v)", name, PresetNames())
	}
	return build(), nil
}

// PresetNames lists the built-in presets.
func PresetNames() []string {
	names := make([]string, 0, len(presets))
	for name := range presets {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
