package config

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/fitness-team/fitload/internal/loadtest/profile"
)

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("validation error on field '%s': %s", e.Field, e.Message)
	}
	return fmt.Sprintf("validation error: %s", e.Message)
}

// ValidationErrors is a collection of validation errors.
type ValidationErrors struct {
	Errors []*ValidationError
}

func (e *ValidationErrors) Error() string {
	if len(e.Errors) == 0 {
		return "no validation errors"
	}
	if len(e.Errors) == 1 {
		return e.Errors[0].Error()
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("%d validation errors:\n", len(e.Errors)))
	for i, err := range e.Errors {
		sb.WriteString(fmt.Sprintf("  %d. %s\n", i+1, err.Error()))
	}
	return sb.String()
}

// Add adds an error to the collection.
func (e *ValidationErrors) Add(field, message string) {
	e.Errors = append(e.Errors, &ValidationError{Field: field, Message: message})
}

// HasErrors returns true if there are any errors.
func (e *ValidationErrors) HasErrors() bool {
	return len(e.Errors) > 0
}

// Fields returns the names of the invalid fields.
func (e *ValidationErrors) Fields() []string {
	out := make([]string, len(e.Errors))
	for i, err := range e.Errors {
		out[i] = err.Field
	}
	return out
}

// Validate validates the entire test configuration.
//
// Returns nil if valid, or a *ValidationErrors containing every problem.
func (c *TestConfig) Validate() error {
	errs := &ValidationErrors{}

	validateBaseURL(c.BaseURL, errs)
	validateStages(c.Stages, errs)
	validateScenario(&c.Scenario, errs)
	validateHTTP(&c.HTTP, errs)

	if c.GracefulStop != "" {
		if d, err := ParseDurationString(c.GracefulStop); err != nil {
			errs.Add("gracefulStop", err.Error())
		} else if d < 0 {
			errs.Add("gracefulStop", "cannot be negative")
		}
	}
	if c.MaxRPS < 0 {
		errs.Add("maxRps", "cannot be negative")
	}
	if c.Thresholds != nil {
		validateThresholds(c.Thresholds, errs)
	}

	if errs.HasErrors() {
		return errs
	}
	return nil
}

func validateBaseURL(raw string, errs *ValidationErrors) {
	if raw == "" {
		errs.Add("baseUrl", "base URL is required")
		return
	}
	u, err := url.Parse(raw)
	if err != nil {
		errs.Add("baseUrl", fmt.Sprintf("invalid URL: %v", err))
		return
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		errs.Add("baseUrl", "scheme must be http or https")
	}
	if u.Host == "" {
		errs.Add("baseUrl", "host is required")
	}
}

func validateStages(stages []StageConfig, errs *ValidationErrors) {
	if len(stages) == 0 {
		errs.Add("stages", "at least one stage is required")
		return
	}
	for i, stage := range stages {
		prefix := fmt.Sprintf("stages[%d]", i)
		if stage.Duration == "" {
			errs.Add(prefix+".duration", "duration is required")
		} else if d, err := ParseDurationString(stage.Duration); err != nil {
			errs.Add(prefix+".duration", fmt.Sprintf("invalid duration: %v", err))
		} else if d < 0 {
			errs.Add(prefix+".duration", "duration cannot be negative")
		}
		if stage.Target < 0 {
			errs.Add(prefix+".target", "target cannot be negative")
		}
		if stage.Target > profile.MaxTarget {
			errs.Add(prefix+".target", fmt.Sprintf("target cannot exceed %d", profile.MaxTarget))
		}
	}
}

func validateScenario(s *ScenarioSettings, errs *ValidationErrors) {
	if s.Sleep != "" {
		if d, err := ParseDurationString(s.Sleep); err != nil {
			errs.Add("scenario.sleep", fmt.Sprintf("invalid duration: %v", err))
		} else if d < 0 {
			errs.Add("scenario.sleep", "cannot be negative")
		}
	}
	for _, r := range s.PhonePrefix {
		if r < '0' || r > '9' {
			errs.Add("scenario.phonePrefix", "must contain only digits")
			break
		}
	}
	if strings.ContainsAny(s.Difficulty, "&=?#") {
		errs.Add("scenario.difficulty", "must be a single query value")
	}
}

func validateHTTP(h *HTTPSettings, errs *ValidationErrors) {
	if h.Timeout < 0 {
		errs.Add("http.timeout", "cannot be negative")
	}
	if h.MaxConnsPerHost < 0 {
		errs.Add("http.maxConnsPerHost", "cannot be negative")
	}
	if h.MaxIdleConnsPerHost < 0 {
		errs.Add("http.maxIdleConnsPerHost", "cannot be negative")
	}
}

func validateThresholds(t *ThresholdsConfig, errs *ValidationErrors) {
	for _, group := range []struct {
		metric string
		exprs  []string
	}{
		{MetricHTTPReqDuration, t.HTTPReqDuration},
		{MetricHTTPReqFailed, t.HTTPReqFailed},
		{MetricHTTPReqs, t.HTTPReqs},
		{MetricChecks, t.Checks},
	} {
		for i, expr := range group.exprs {
			if _, err := ParseThreshold(group.metric, expr); err != nil {
				errs.Add(fmt.Sprintf("thresholds.%s[%d]", group.metric, i), err.Error())
			}
		}
	}
}
