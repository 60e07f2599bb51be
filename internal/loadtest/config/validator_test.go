package config

import (
	"errors"
	"strings"
	"testing"
)

func validConfig() *TestConfig {
	cfg := &TestConfig{
		Stages: []StageConfig{{Duration: "10s", Target: 2}},
	}
	ApplyDefaults(cfg)
	return cfg
}

func TestValidate_Valid(t *testing.T) {
	if err := validConfig().Validate(); err != nil {
		t.Errorf("Validate() error = %v", err)
	}
}

func TestValidate_Errors(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*TestConfig)
		field  string
	}{
		{"no stages", func(c *TestConfig) { c.Stages = nil }, "stages"},
		{"negative duration", func(c *TestConfig) { c.Stages[0].Duration = "-5s" }, "stages[0].duration"},
		{"missing duration", func(c *TestConfig) { c.Stages[0].Duration = "" }, "stages[0].duration"},
		{"bad duration", func(c *TestConfig) { c.Stages[0].Duration = "later" }, "stages[0].duration"},
		{"negative target", func(c *TestConfig) { c.Stages[0].Target = -1 }, "stages[0].target"},
		{"target too large", func(c *TestConfig) { c.Stages[0].Target = 10000 }, "stages[0].target"},
		{"relative base url", func(c *TestConfig) { c.BaseURL = "/api" }, "baseUrl"},
		{"empty base url", func(c *TestConfig) { c.BaseURL = "" }, "baseUrl"},
		{"bad sleep", func(c *TestConfig) { c.Scenario.Sleep = "-1s" }, "scenario.sleep"},
		{"bad prefix", func(c *TestConfig) { c.Scenario.PhonePrefix = "+86" }, "scenario.phonePrefix"},
		{"bad difficulty", func(c *TestConfig) { c.Scenario.Difficulty = "novice&x=1" }, "scenario.difficulty"},
		{"negative rps", func(c *TestConfig) { c.MaxRPS = -1 }, "maxRps"},
		{"bad graceful stop", func(c *TestConfig) { c.GracefulStop = "eventually" }, "gracefulStop"},
		{"negative conns", func(c *TestConfig) { c.HTTP.MaxConnsPerHost = -1 }, "http.maxConnsPerHost"},
		{"bad threshold", func(c *TestConfig) {
			c.Thresholds = &ThresholdsConfig{Checks: []string{"p95 < 1"}}
		}, "thresholds.checks[0]"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)

			err := cfg.Validate()
			var verrs *ValidationErrors
			if !errors.As(err, &verrs) {
				t.Fatalf("Validate() error = %v, want *ValidationErrors", err)
			}
			found := false
			for _, f := range verrs.Fields() {
				if f == tt.field {
					found = true
				}
			}
			if !found {
				t.Errorf("Validate() fields = %v, want %s", verrs.Fields(), tt.field)
			}
		})
	}
}

func TestValidationErrors_Error(t *testing.T) {
	errs := &ValidationErrors{}
	if errs.Error() != "no validation errors" {
		t.Errorf("empty Error() = %q", errs.Error())
	}
	errs.Add("a", "first")
	if errs.Error() != "validation error on field 'a': first" {
		t.Errorf("single Error() = %q", errs.Error())
	}
	errs.Add("", "second")
	if !strings.HasPrefix(errs.Error(), "2 validation errors:") {
		t.Errorf("multi Error() = %q", errs.Error())
	}
}

func TestParseThreshold(t *testing.T) {
	tests := []struct {
		metric  string
		expr    string
		stat    string
		op      string
		value   float64
		wantErr bool
	}{
		{MetricHTTPReqDuration, "p95 < 500ms", "p95", "<", 500, false},
		{MetricHTTPReqDuration, "avg<=1s", "avg", "<=", 1000, false},
		{MetricHTTPReqDuration, "max < 250", "max", "<", 250, false},
		{MetricHTTPReqFailed, "rate < 0.01", "rate", "<", 0.01, false},
		{MetricHTTPReqs, "count >= 100", "count", ">=", 100, false},
		{MetricChecks, "rate > 0.99", "rate", ">", 0.99, false},
		{MetricChecks, "count > 1", "", "", 0, true},
		{MetricHTTPReqFailed, "rate < lots", "", "", 0, true},
		{MetricHTTPReqDuration, "p95 ~ 1s", "", "", 0, true},
		{MetricHTTPReqDuration, "", "", "", 0, true},
		{"vus", "max < 5", "", "", 0, true},
	}

	for _, tt := range tests {
		th, err := ParseThreshold(tt.metric, tt.expr)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseThreshold(%s, %q) error = %v, wantErr %v", tt.metric, tt.expr, err, tt.wantErr)
			continue
		}
		if tt.wantErr {
			continue
		}
		if th.Stat != tt.stat || th.Op != tt.op || th.Value != tt.value {
			t.Errorf("ParseThreshold(%s, %q) = %+v", tt.metric, tt.expr, th)
		}
	}
}

func TestThreshold_Compare(t *testing.T) {
	tests := []struct {
		op     string
		actual float64
		want   bool
	}{
		{"<", 1, true}, {"<", 2, false},
		{"<=", 2, true}, {">", 3, true},
		{">=", 2, true}, {"==", 2, true},
		{"!=", 2, false}, {"~", 2, false},
	}
	for _, tt := range tests {
		th := Threshold{Op: tt.op, Value: 2}
		if got := th.Compare(tt.actual); got != tt.want {
			t.Errorf("%v %s 2 = %v, want %v", tt.actual, tt.op, got, tt.want)
		}
	}
}

func TestThresholdsConfig_All(t *testing.T) {
	var nilCfg *ThresholdsConfig
	if !nilCfg.Empty() {
		t.Error("nil thresholds not empty")
	}

	cfg := &ThresholdsConfig{
		Checks:          []string{"rate > 0.99"},
		HTTPReqDuration: []string{"p95 < 500ms"},
	}
	all, err := cfg.All()
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 2 || all[0].Metric != MetricHTTPReqDuration || all[1].Metric != MetricChecks {
		t.Errorf("All() = %+v", all)
	}
}
