package auth

import (
	"errors"
	"time"

	"github.com/goccy/go-json"
)

var (
	// ErrIdentityUnavailable means the token was issued but the user record could not be fetched.
	ErrIdentityUnavailable = errors.New("auth: identity unavailable")
	// ErrSignInSuperseded means the session was logged out while the sign-in was in flight.
	ErrSignInSuperseded = errors.New("auth: sign-in superseded by logout")
	// ErrSessionRevoked means the backend no longer accepts the session's token.
	ErrSessionRevoked = errors.New("auth: session revoked")
)

type loginForm struct {
	Username string `validate:"required,max=150"`
	Password string `validate:"required,max=256"`
}

// LoginPage is the data handed to the login template.
type LoginPage struct {
	Username string
	Next     string
	Error    string
}

// SessionState is the JSON answer of GET /auth/session.
type SessionState struct {
	Authenticated    bool            `json:"authenticated"`
	Loading          bool            `json:"loading"`
	User             json.RawMessage `json:"user"`
	LandingPage      string          `json:"landing_page,omitempty"`
	ExpiresAt        *time.Time      `json:"expires_at,omitempty"`
	ExpiresInSeconds *int64          `json:"expires_in_seconds,omitempty"`
}
