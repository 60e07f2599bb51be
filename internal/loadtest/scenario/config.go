package scenario

import (
	"fmt"
	"net/url"
	"strings"
	"time"
)

// Request names used for metrics.
const (
	RequestLogin   = "login"
	RequestLibrary = "library"
)

// Check names, one per assertion made on a response.
const (
	CheckLoginStatus    = "login status is 200"
	CheckLoginSuccess   = "login success is true"
	CheckLoginToken     = "login returns token"
	CheckLibraryStatus  = "library status is 200"
	CheckLibrarySuccess = "library success is true"
	CheckLibrarySchema  = "library matches schema"
)

const (
	DefaultBaseURL     = "http://localhost:8080"
	DefaultDifficulty  = "novice"
	DefaultPhonePrefix = "139"
	DefaultSleep       = time.Second
)

// Config describes the login-then-browse scenario.
type Config struct {
	// BaseURL is the backend origin, without a trailing slash
	BaseURL string

	// SpoofSourceIP sends a random X-Forwarded-For on login, so the backend's
	// per-IP login limit sees many clients instead of one.
	SpoofSourceIP bool

	// Difficulty is the library filter
	Difficulty string

	// PhonePrefix is prepended to the VU and iteration digits
	PhonePrefix string

	// Sleep is the idle time at the end of every iteration
	Sleep time.Duration

	// ValidateLibrary adds a JSON Schema check on the library response
	ValidateLibrary bool
}

// DefaultConfig returns the scenario defaults.
func DefaultConfig() Config {
	return Config{
		BaseURL:     DefaultBaseURL,
		Difficulty:  DefaultDifficulty,
		PhonePrefix: DefaultPhonePrefix,
		Sleep:       DefaultSleep,
	}
}

// withDefaults fills zero values and trims the base URL.
func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.BaseURL == "" {
		c.BaseURL = d.BaseURL
	}
	c.BaseURL = strings.TrimRight(c.BaseURL, "/")
	if c.Difficulty == "" {
		c.Difficulty = d.Difficulty
	}
	if c.PhonePrefix == "" {
		c.PhonePrefix = d.PhonePrefix
	}
	if c.Sleep < 0 {
		c.Sleep = 0
	}
	return c
}

// Validate checks that the base URL is an absolute http(s) URL.
func (c Config) Validate() error {
	u, err := url.Parse(c.BaseURL)
	if err != nil {
		return fmt.Errorf("invalid base URL %q: %w", c.BaseURL, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("invalid base URL %q: scheme must be http or https", c.BaseURL)
	}
	if u.Host == "" {
		return fmt.Errorf("invalid base URL %q: missing host", c.BaseURL)
	}
	return nil
}

func (c Config) loginURL() string {
	return c.BaseURL + "/api/auth"
}

func (c Config) libraryURL() string {
	return c.BaseURL + "/api/library?difficulty=" + url.QueryEscape(c.Difficulty)
}
