package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/fitness-team/fitload/internal/loadtest/profile"
)

const sampleYAML = `
name: "library browse"
baseUrl: "http://api.example.com"
stages:
  - duration: 30s
    target: 5
  - duration: 1m
    target: 5
    name: hold
  - duration: "10"
    target: 0
scenario:
  spoofSourceIp: true
  sleep: 500ms
http:
  timeout: 5s
thresholds:
  http_req_duration: ["p95 < 500ms"]
  checks: ["rate > 0.99"]
`

func TestParseConfig_YAML(t *testing.T) {
	cfg, err := ParseConfig([]byte(sampleYAML), "test.yaml")
	if err != nil {
		t.Fatalf("ParseConfig() error = %v", err)
	}

	if cfg.Name != "library browse" {
		t.Errorf("Name = %q", cfg.Name)
	}
	if len(cfg.Stages) != 3 || cfg.Stages[1].Name != "hold" {
		t.Errorf("Stages = %+v", cfg.Stages)
	}
	if !cfg.Scenario.SpoofSourceIP {
		t.Error("Scenario.SpoofSourceIP = false, want true")
	}
	if time.Duration(cfg.HTTP.Timeout) != 5*time.Second {
		t.Errorf("HTTP.Timeout = %v, want 5s", cfg.HTTP.Timeout)
	}
	if got := cfg.TotalDuration(); got != 100*time.Second {
		t.Errorf("TotalDuration() = %v, want 100s", got)
	}
}

func TestParseConfig_JSON(t *testing.T) {
	data := `{
		"name": "json test",
		"baseUrl": "http://localhost:9000",
		"stages": [{"duration": "1m", "target": 10}],
		"http": {"timeout": "2s"},
		"maxRps": 50
	}`
	cfg, err := ParseConfig([]byte(data), "test.json")
	if err != nil {
		t.Fatalf("ParseConfig() error = %v", err)
	}
	if cfg.MaxRPS != 50 {
		t.Errorf("MaxRPS = %v, want 50", cfg.MaxRPS)
	}
	if time.Duration(cfg.HTTP.Timeout) != 2*time.Second {
		t.Errorf("HTTP.Timeout = %v, want 2s", cfg.HTTP.Timeout)
	}
}

func TestParseConfig_Errors(t *testing.T) {
	tests := []struct {
		name string
		data string
		path string
	}{
		{"unknown yaml field", "stagez: []", "x.yaml"},
		{"unknown json field", `{"stagez": []}`, "x.json"},
		{"bad yaml", "stages: [", "x.yml"},
		{"bad duration", "http:\n  timeout: soon", "x.yaml"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := ParseConfig([]byte(tt.data), tt.path); err == nil {
				t.Error("ParseConfig() error = nil, want error")
			}
		})
	}
}

func TestParseConfig_Empty(t *testing.T) {
	cfg, err := ParseConfig(nil, "empty.yaml")
	if err != nil {
		t.Fatalf("ParseConfig() error = %v", err)
	}
	if len(cfg.Stages) != 0 {
		t.Errorf("Stages = %v, want none", cfg.Stages)
	}
}

func TestLoadConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "load.yaml")
	if err := os.WriteFile(path, []byte(sampleYAML), 0o600); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig() error = %v", err)
	}
	if cfg.BaseURL != "http://api.example.com" {
		t.Errorf("BaseURL = %q", cfg.BaseURL)
	}

	if _, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("LoadConfig() on a missing file returned nil error")
	}
}

func TestParseDurationString(t *testing.T) {
	tests := []struct {
		in      string
		want    time.Duration
		wantErr bool
	}{
		{"", 0, false},
		{"30s", 30 * time.Second, false},
		{"2m", 2 * time.Minute, false},
		{"1h30m", 90 * time.Minute, false},
		{"45", 45 * time.Second, false},
		{" 10s ", 10 * time.Second, false},
		{"10x", 0, true},
		{"soon", 0, true},
	}
	for _, tt := range tests {
		got, err := ParseDurationString(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseDurationString(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			continue
		}
		if got != tt.want {
			t.Errorf("ParseDurationString(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestApplyDefaults(t *testing.T) {
	cfg := &TestConfig{}
	ApplyDefaults(cfg)

	if cfg.BaseURL != "http://localhost:8080" {
		t.Errorf("BaseURL = %q", cfg.BaseURL)
	}
	if cfg.Scenario.Difficulty != "novice" || cfg.Scenario.PhonePrefix != "139" || cfg.Scenario.Sleep != "1s" {
		t.Errorf("Scenario = %+v", cfg.Scenario)
	}
	if time.Duration(cfg.HTTP.Timeout) != 30*time.Second {
		t.Errorf("HTTP.Timeout = %v", cfg.HTTP.Timeout)
	}
	if cfg.GracefulStopDuration() != 30*time.Second {
		t.Errorf("GracefulStopDuration() = %v", cfg.GracefulStopDuration())
	}
}

func TestTestConfig_Profile(t *testing.T) {
	cfg, err := ParseConfig([]byte(sampleYAML), "x.yaml")
	if err != nil {
		t.Fatal(err)
	}

	p, err := cfg.Profile()
	if err != nil {
		t.Fatalf("Profile() error = %v", err)
	}
	if p.TotalDuration() != 100*time.Second {
		t.Errorf("TotalDuration() = %v", p.TotalDuration())
	}
	if got := p.Target(15 * time.Second); got != 3 {
		t.Errorf("Target(15s) = %d, want 3", got)
	}

	cfg.Stages[0].Target = -1
	if _, err := cfg.Profile(); !errors.Is(err, profile.ErrInvalidProfile) {
		t.Errorf("Profile() error = %v, want ErrInvalidProfile", err)
	}

	cfg.Stages[0] = StageConfig{Duration: "nope", Target: 1}
	if _, err := cfg.Profile(); !errors.Is(err, profile.ErrInvalidProfile) {
		t.Errorf("Profile() error = %v, want ErrInvalidProfile", err)
	}
}

func TestTestConfig_ScenarioConfig(t *testing.T) {
	cfg, err := ParseConfig([]byte(sampleYAML), "x.yaml")
	if err != nil {
		t.Fatal(err)
	}
	ApplyDefaults(cfg)

	sc, err := cfg.ScenarioConfig()
	if err != nil {
		t.Fatalf("ScenarioConfig() error = %v", err)
	}
	if sc.Sleep != 500*time.Millisecond || !sc.SpoofSourceIP || sc.BaseURL != "http://api.example.com" {
		t.Errorf("ScenarioConfig() = %+v", sc)
	}
}

func TestPresets(t *testing.T) {
	names := PresetNames()
	if len(names) != 2 || names[0] != PresetLoad || names[1] != PresetSmoke {
		t.Fatalf("PresetNames() = %v", names)
	}

	load, err := Preset(PresetLoad)
	if err != nil {
		t.Fatal(err)
	}
	ApplyDefaults(load)
	if err := load.Validate(); err != nil {
		t.Errorf("load preset invalid: %v", err)
	}
	if load.TotalDuration() != 4*time.Minute || !load.Scenario.SpoofSourceIP {
		t.Errorf("load preset = %+v", load)
	}
	p, err := load.Profile()
	if err != nil {
		t.Fatal(err)
	}
	if p.MaxTarget() != 1000 {
		t.Errorf("load MaxTarget = %d, want 1000", p.MaxTarget())
	}

	smoke, _ := Preset(PresetSmoke)
	if smoke.Scenario.SpoofSourceIP {
		t.Error("smoke preset spoofs source IPs")
	}
	if smoke.TotalDuration() != 100*time.Second {
		t.Errorf("smoke TotalDuration = %v", smoke.TotalDuration())
	}

	// Presets are copies.
	smoke.Stages[0].Target = 99
	again, _ := Preset(PresetSmoke)
	if again.Stages[0].Target != 5 {
		t.Error("Preset() returned shared state")
	}

	if _, err := Preset("soak"); err == nil {
		t.Error("Preset(soak) error = nil")
	}
}
