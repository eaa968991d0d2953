package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/famis-lga/famis-portal/internal/backend"
	"github.com/famis-lga/famis-portal/internal/identity"
	"github.com/famis-lga/famis-portal/internal/session"
)

// Backend is the subset of the FAMIS API the sign-in flow needs.
type Backend interface {
	Login(ctx context.Context, username, password string) (string, error)
	CurrentUser(ctx context.Context, token string) (*identity.User, error)
}

// Observer counts session transitions.
type Observer interface {
	ObserveSession(event string)
}

// Service wraps the sign-in exchange against the backend.
type Service struct {
	backend  Backend
	logger   *slog.Logger
	observer Observer
	now      func() time.Time
}

// NewService constructs a new Service. logger and observer may be nil.
func NewService(api Backend, logger *slog.Logger, observer Observer) *Service {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Service{backend: api, logger: logger, observer: observer, now: time.Now}
}

// SignIn exchanges credentials for a token, fetches the user it belongs to and stores both.
// A logout landing while the exchange is in flight wins: the fetched identity is dropped and
// ErrSignInSuperseded is returned.
func (s *Service) SignIn(ctx context.Context, store *session.Store, username, password string) (*identity.User, error) {
	ticket, err := store.BeginIdentityFetch(ctx)
	if err != nil {
		return nil, fmt.Errorf("auth: begin sign-in: %w", err)
	}
	token, err := s.backend.Login(ctx, username, password)
	if err != nil {
		s.observe("login_failed")
		return nil, err
	}
	user, err := s.backend.CurrentUser(ctx, token)
	if err != nil {
		// The token is dropped; nothing was stored yet.
		s.observe("login_failed")
		s.logger.WarnContext(ctx, "fetch identity after login", slog.String("username", username), slog.Any("error", err))
		return nil, fmt.Errorf("%w: %w", ErrIdentityUnavailable, err)
	}
	if err := store.CompleteLogin(ctx, ticket, token, user); err != nil {
		if errors.Is(err, session.ErrStaleIdentity) {
			s.observe("stale_discarded")
			s.logger.InfoContext(ctx, "discarding identity fetched after logout", slog.Int64("user_id", user.ID))
			return nil, ErrSignInSuperseded
		}
		return nil, fmt.Errorf("auth: complete sign-in: %w", err)
	}
	s.observe("login")
	s.logger.InfoContext(ctx, "signed in", slog.Int64("user_id", user.ID), slog.String("role", string(user.Role)))
	return user, nil
}

// SignOut logs the store out. The in-memory identity is cleared even when storage fails.
func (s *Service) SignOut(ctx context.Context, store *session.Store) error {
	var userID int64
	if u := store.CurrentUser(); u != nil {
		userID = u.ID
	}
	err := store.Logout(ctx)
	s.observe("logout")
	if err != nil {
		s.logger.WarnContext(ctx, "sign out", slog.Int64("user_id", userID), slog.Any("error", err))
		return err
	}
	s.logger.InfoContext(ctx, "signed out", slog.Int64("user_id", userID))
	return nil
}

// Revalidate refreshes the stored user from the backend. A rejected token logs the session
// out and returns ErrSessionRevoked; other failures keep the current identity.
func (s *Service) Revalidate(ctx context.Context, store *session.Store) error {
	token := store.Token()
	if token == "" {
		return nil
	}
	user, err := s.backend.CurrentUser(ctx, token)
	switch {
	case errors.Is(err, backend.ErrUnauthorized):
		s.observe("revoked")
		if err := store.Logout(ctx); err != nil {
			s.logger.WarnContext(ctx, "logout revoked session", slog.Any("error", err))
		}
		return ErrSessionRevoked
	case err != nil:
		return fmt.Errorf("auth: revalidate: %w", err)
	}
	if err := store.Refresh(ctx, user); err != nil {
		if errors.Is(err, session.ErrStaleIdentity) {
			s.observe("stale_discarded")
			return nil
		}
		return fmt.Errorf("auth: revalidate: %w", err)
	}
	return nil
}

func (s *Service) observe(event string) {
	if s.observer != nil {
		s.observer.ObserveSession(event)
	}
}
