// Package backend calls the FAMIS REST API identity endpoints.
package backend

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/sony/gobreaker/v2"
	"golang.org/x/sync/singleflight"

	"github.com/famis-lga/famis-portal/internal/identity"
)

var (
	// ErrInvalidCredentials means the backend refused the username/password pair.
	ErrInvalidCredentials = errors.New("backend: invalid credentials")
	// ErrUnauthorized means the bearer token was rejected.
	ErrUnauthorized = errors.New("backend: unauthorized")
	// ErrUnavailable means the backend could not be reached or answered unexpectedly.
	ErrUnavailable = errors.New("backend: unavailable")
	// ErrCallerGone means the caller's context ended before the backend answered.
	ErrCallerGone = errors.New("backend: caller gone")
)

// CredentialsError carries the backend's explanation for a refused login.
type CredentialsError struct {
	Message string
}

func (e *CredentialsError) Error() string {
	if e.Message == "" {
		return ErrInvalidCredentials.Error()
	}
	return ErrInvalidCredentials.Error() + ": " + e.Message
}

func (e *CredentialsError) Unwrap() error { return ErrInvalidCredentials }

// Observer receives call outcomes, typically for metrics.
type Observer interface {
	ObserveBackend(op, outcome string)
}

// Options tune the client.
type Options struct {
	HTTPClient *http.Client
	Logger     *slog.Logger
	Observer   Observer
	// BreakerTimeout is how long the breaker stays open before probing again.
	BreakerTimeout time.Duration
}

// Client talks to the backend identity endpoints.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
	observer   Observer
	breaker    *gobreaker.CircuitBreaker[[]byte]
	inflight   singleflight.Group
}

// NewClient constructs a client for the API rooted at baseURL.
func NewClient(baseURL string, opts Options) *Client {
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 15 * time.Second}
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	timeout := opts.BreakerTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: httpClient,
		logger:     logger,
		observer:   opts.Observer,
	}
	c.breaker = gobreaker.NewCircuitBreaker[[]byte](gobreaker.Settings{
		Name:        "famis-backend",
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		IsSuccessful: func(err error) bool {
			// Refused credentials, refused tokens and abandoned calls are not outages.
			return err == nil || errors.Is(err, ErrInvalidCredentials) || errors.Is(err, ErrUnauthorized) || errors.Is(err, ErrCallerGone)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("backend breaker state", slog.String("name", name), slog.String("from", from.String()), slog.String("to", to.String()))
		},
	})
	return c
}

// BaseURL returns the API root.
func (c *Client) BaseURL() string {
	return c.baseURL
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
}

type errorResponse struct {
	Detail  any    `json:"detail"`
	Message string `json:"message"`
}

// Login exchanges credentials for a bearer token.
func (c *Client) Login(ctx context.Context, username, password string) (string, error) {
	form := url.Values{}
	form.Set("username", username)
	form.Set("password", password)
	body, err := c.call(ctx, "login", func() (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/auth/login", strings.NewReader(form.Encode()))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		return req, nil
	})
	if err != nil {
		return "", err
	}
	var tok tokenResponse
	if err := json.Unmarshal(body, &tok); err != nil {
		return "", fmt.Errorf("%w: decode token: %v", ErrUnavailable, err)
	}
	if strings.TrimSpace(tok.AccessToken) == "" {
		return "", fmt.Errorf("%w: empty access token", ErrUnavailable)
	}
	return tok.AccessToken, nil
}

// CurrentUser fetches the user owning token. Concurrent calls for the same token share
// a single request.
func (c *Client) CurrentUser(ctx context.Context, token string) (*identity.User, error) {
	if token == "" {
		return nil, ErrUnauthorized
	}
	shared := context.WithoutCancel(ctx)
	results := c.inflight.DoChan(token, func() (any, error) {
		body, err := c.call(shared, "current_user", func() (*http.Request, error) {
			req, err := http.NewRequestWithContext(shared, http.MethodGet, c.baseURL+"/users/me", nil)
			if err != nil {
				return nil, err
			}
			req.Header.Set("Authorization", "Bearer "+token)
			req.Header.Set("Accept", "application/json")
			return req, nil
		})
		if err != nil {
			return nil, err
		}
		user, err := identity.Decode(body)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrUnavailable, err)
		}
		return user, nil
	})
	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("%w: %w", ErrCallerGone, ctx.Err())
	case res := <-results:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*identity.User), nil
	}
}

func (c *Client) call(ctx context.Context, op string, build func() (*http.Request, error)) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		err = fmt.Errorf("%w: %w", ErrCallerGone, err)
		c.observe(ctx, op, err)
		return nil, err
	}
	body, err := c.breaker.Execute(func() ([]byte, error) {
		req, err := build()
		if err != nil {
			return nil, err
		}
		resp, err := c.httpClient.Do(req)
		if err != nil {
			return nil, unavailable(ctx, err)
		}
		defer func() {
			_ = resp.Body.Close()
		}()
		data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
		if err != nil {
			return nil, unavailable(ctx, fmt.Errorf("read body: %w", err))
		}
		switch {
		case resp.StatusCode == http.StatusUnauthorized && op != "login":
			return nil, ErrUnauthorized
		case (resp.StatusCode == http.StatusBadRequest || resp.StatusCode == http.StatusUnauthorized) && op == "login":
			return nil, &CredentialsError{Message: errorMessage(data)}
		case resp.StatusCode >= 300:
			return nil, fmt.Errorf("%w: status %d", ErrUnavailable, resp.StatusCode)
		}
		return data, nil
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		err = fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	c.observe(ctx, op, err)
	return body, err
}

func (c *Client) observe(ctx context.Context, op string, err error) {
	outcome := "ok"
	switch {
	case err == nil:
	case errors.Is(err, ErrInvalidCredentials):
		outcome = "invalid_credentials"
	case errors.Is(err, ErrUnauthorized):
		outcome = "unauthorized"
	case errors.Is(err, ErrCallerGone):
		outcome = "canceled"
	default:
		outcome = "error"
		c.logger.WarnContext(ctx, "backend call failed", slog.String("op", op), slog.Any("error", err))
	}
	if c.observer != nil {
		c.observer.ObserveBackend(op, outcome)
	}
}

// unavailable classifies a transport failure. Failures caused by the caller's own
// context ending are not held against the backend.
func unavailable(ctx context.Context, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return fmt.Errorf("%w: %w", ErrCallerGone, ctxErr)
	}
	return fmt.Errorf("%w: %v", ErrUnavailable, err)
}

// errorMessage extracts FastAPI's detail or a message field from an error body.
func errorMessage(data []byte) string {
	var e errorResponse
	if err := json.Unmarshal(data, &e); err != nil {
		return ""
	}
	if e.Message != "" {
		return e.Message
	}
	if s, ok := e.Detail.(string); ok {
		return s
	}
	return ""
}
