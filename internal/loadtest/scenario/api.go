package scenario

import (
	"encoding/json"
	"errors"
	"fmt"
)

// ErrFieldAbsent is returned when a response lacks a field the scenario
// depends on.
var ErrFieldAbsent = errors.New("field absent")

func absent(path string) error {
	return fmt.Errorf("%s: %w", path, ErrFieldAbsent)
}

// LoginTypePhone selects phone-number login.
const LoginTypePhone = "login_phone"

// AuthRequest is the body of POST /api/auth.
type AuthRequest struct {
	Type  string `json:"type"`
	Phone string `json:"phone"`
}

// Envelope is the wrapper the backend puts around every response.
type Envelope struct {
	Success *bool   `json:"success"`
	Message *string `json:"message"`
	Code    *int    `json:"code"`
}

// Succeeded reports the success flag. A missing flag is an error.
func (e *Envelope) Succeeded() (bool, error) {
	if e.Success == nil {
		return false, absent("success")
	}
	return *e.Success, nil
}

// LoginResponse is the response to a login request.
type LoginResponse struct {
	Envelope
	Data *LoginData `json:"data"`
}

// LoginData is the logged-in user.
type LoginData struct {
	ID       string  `json:"id"`
	Nickname string  `json:"nickname"`
	Phone    string  `json:"phone"`
	Avatar   string  `json:"avatar"`
	Token    *string `json:"token"`
}

// Token returns the bearer token. An empty token counts as absent.
func (r *LoginResponse) Token() (string, error) {
	if r.Data == nil {
		return "", absent("data")
	}
	if r.Data.Token == nil || *r.Data.Token == "" {
		return "", absent("data.token")
	}
	return *r.Data.Token, nil
}

// LibraryResponse is the response to a library listing.
type LibraryResponse struct {
	Envelope
	Data *Library `json:"data"`
}

// Library lists the moves and sessions for one difficulty.
type Library struct {
	Moves    []Move    `json:"moves"`
	Sessions []Session `json:"sessions"`
}

// Move is a single exercise.
type Move struct {
	ID            string                 `json:"id"`
	Name          string                 `json:"name"`
	ModelURL      string                 `json:"modelUrl,omitempty"`
	ScoringConfig map[string]interface{} `json:"scoringConfig,omitempty"`
}

// Session is a sequence of moves.
type Session struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	Difficulty string `json:"difficulty,omitempty"`
	// Duration is in minutes
	Duration int    `json:"duration,omitempty"`
	CoverURL string `json:"coverUrl,omitempty"`
	Moves    []Move `json:"moves,omitempty"`
}

// Library returns the payload, or ErrFieldAbsent without one.
func (r *LibraryResponse) Library() (*Library, error) {
	if r.Data == nil {
		return nil, absent("data")
	}
	return r.Data, nil
}

func decode(raw []byte, v interface{}) error {
	if len(raw) == 0 {
		return errors.New("empty response body")
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
