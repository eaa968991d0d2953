// Package session holds the identity of whoever is signed in to a browser session.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/famis-lga/famis-portal/internal/identity"
)

var (
	// ErrStaleIdentity means a logout happened while the identity was being fetched.
	ErrStaleIdentity = errors.New("session: identity fetch superseded by logout")
	// ErrMissingToken rejects a login without a bearer token.
	ErrMissingToken = errors.New("session: token required")
	// ErrMissingUser rejects a login without a user.
	ErrMissingUser = errors.New("session: user required")
)

// Reader is the narrow read side of a Store handed to route guards and pages.
type Reader interface {
	CurrentUser() *identity.User
	Token() string
	IsAuthenticated() bool
	IsLoading() bool
}

// Snapshot is a consistent copy of the store state.
type Snapshot struct {
	Token         string
	User          *identity.User
	Authenticated bool
	Loading       bool
	ExpiresAt     time.Time
}

// Ticket captures the logout epoch at the start of an identity fetch.
type Ticket struct {
	epoch int64
}

// Store is the single source of truth for who is signed in to one browser session.
// It starts in the loading state until Rehydrate or Login resolves it.
type Store struct {
	storage Storage
	logger  *slog.Logger
	now     func() time.Time

	mu        sync.RWMutex
	token     string
	user      *identity.User
	loading   bool
	epoch     int64
	expiresAt time.Time
}

// NewStore builds a Store over storage. A nil logger discards log output.
func NewStore(storage Storage, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Store{storage: storage, logger: logger, now: time.Now, loading: true}
}

// Rehydrate restores the identity persisted by an earlier request. It never fails:
// corrupt or expired state is purged and the store resolves to logged out, while a storage
// outage leaves the store loading.
func (s *Store) Rehydrate(ctx context.Context) {
	epoch, err := s.storage.Epoch(ctx)
	if err != nil {
		s.logger.Warn("session rehydrate epoch", slog.Any("error", err))
		return
	}
	token, err := s.storage.Get(ctx, KeyToken)
	if errors.Is(err, ErrKeyNotFound) {
		s.resolve(epoch, "", nil)
		return
	}
	if err != nil {
		s.logger.Warn("session rehydrate token", slog.Any("error", err))
		return
	}
	raw, err := s.storage.Get(ctx, KeyUser)
	if err != nil && !errors.Is(err, ErrKeyNotFound) {
		s.logger.Warn("session rehydrate user", slog.Any("error", err))
		return
	}
	var user *identity.User
	if err == nil {
		user, err = identity.Decode([]byte(raw))
	}
	if err != nil || token == "" {
		s.logger.Warn("discarding unusable persisted session", slog.Any("error", err))
		s.purge(ctx)
		s.resolve(epoch, "", nil)
		return
	}
	if exp := TokenExpiry(token); !exp.IsZero() && !s.now().Before(exp) {
		s.logger.Info("persisted token expired", slog.Int64("user_id", user.ID), slog.Time("expired_at", exp))
		s.purge(ctx)
		s.resolve(epoch, "", nil)
		return
	}
	s.resolve(epoch, token, user)
}

// Login stores the token and user and persists both.
func (s *Store) Login(ctx context.Context, token string, user *identity.User) error {
	values, err := persisted(token, user)
	if err != nil {
		return err
	}
	if err := s.storage.Set(ctx, values); err != nil {
		return fmt.Errorf("session: persist login: %w", err)
	}
	s.mu.Lock()
	s.set(token, user)
	s.mu.Unlock()
	return nil
}

// BeginIdentityFetch marks the start of a login exchange.
func (s *Store) BeginIdentityFetch(ctx context.Context) (Ticket, error) {
	epoch, err := s.storage.Epoch(ctx)
	if err != nil {
		return Ticket{}, fmt.Errorf("session: read epoch: %w", err)
	}
	s.mu.Lock()
	s.epoch = epoch
	s.mu.Unlock()
	return Ticket{epoch: epoch}, nil
}

// CompleteLogin applies a fetched identity unless a logout happened after the ticket was
// issued, in which case it returns ErrStaleIdentity and leaves the session logged out.
func (s *Store) CompleteLogin(ctx context.Context, ticket Ticket, token string, user *identity.User) error {
	values, err := persisted(token, user)
	if err != nil {
		return err
	}
	s.mu.RLock()
	stale := s.epoch != ticket.epoch
	s.mu.RUnlock()
	if stale {
		return ErrStaleIdentity
	}
	ok, err := s.storage.SetIfEpoch(ctx, ticket.epoch, values)
	if err != nil {
		return fmt.Errorf("session: persist login: %w", err)
	}
	if !ok {
		return ErrStaleIdentity
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	// A logout in this process after the write has already purged storage.
	if s.epoch != ticket.epoch {
		return ErrStaleIdentity
	}
	s.set(token, user)
	return nil
}

// Logout clears the in-memory identity and the persisted copy. The in-memory state is
// logged out even when storage fails.
func (s *Store) Logout(ctx context.Context) error {
	s.mu.Lock()
	s.token, s.user, s.expiresAt = "", nil, time.Time{}
	s.loading = false
	s.epoch++
	s.mu.Unlock()

	epoch, bumpErr := s.storage.BumpEpoch(ctx)
	if bumpErr == nil {
		s.mu.Lock()
		if epoch > s.epoch {
			s.epoch = epoch
		}
		s.mu.Unlock()
	}
	delErr := s.storage.Delete(ctx, KeyToken, KeyUser)
	if err := errors.Join(bumpErr, delErr); err != nil {
		return fmt.Errorf("session: logout: %w", err)
	}
	return nil
}

// Refresh replaces the stored user of an authenticated session after revalidation.
func (s *Store) Refresh(ctx context.Context, user *identity.User) error {
	s.mu.RLock()
	token, epoch := s.token, s.epoch
	s.mu.RUnlock()
	if token == "" {
		return ErrMissingToken
	}
	return s.CompleteLogin(ctx, Ticket{epoch: epoch}, token, user)
}

// CurrentUser returns the signed-in user or nil.
func (s *Store) CurrentUser() *identity.User {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.user
}

// Token returns the bearer token or an empty string.
func (s *Store) Token() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.token
}

// IsAuthenticated is true only while both token and user are held.
func (s *Store) IsAuthenticated() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.token != "" && s.user != nil
}

// IsLoading is true until the first rehydrate, login or logout resolves the store.
func (s *Store) IsLoading() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.loading
}

// ExpiresAt returns the bearer token expiry; zero when the token carries none.
func (s *Store) ExpiresAt() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.expiresAt
}

// Snapshot returns a consistent copy of the state.
func (s *Store) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return Snapshot{
		Token:         s.token,
		User:          s.user,
		Authenticated: s.token != "" && s.user != nil,
		Loading:       s.loading,
		ExpiresAt:     s.expiresAt,
	}
}

func (s *Store) resolve(epoch int64, token string, user *identity.User) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.epoch = epoch
	if user == nil {
		token = ""
	}
	s.set(token, user)
}

// set must be called with mu held.
func (s *Store) set(token string, user *identity.User) {
	s.token, s.user = token, user
	s.expiresAt = TokenExpiry(token)
	s.loading = false
}

func (s *Store) purge(ctx context.Context) {
	if err := s.storage.Delete(ctx, KeyToken, KeyUser); err != nil {
		s.logger.Warn("purge persisted session", slog.Any("error", err))
	}
}

func persisted(token string, user *identity.User) (map[string]string, error) {
	if token == "" {
		return nil, ErrMissingToken
	}
	if user == nil {
		return nil, ErrMissingUser
	}
	data, err := identity.Encode(user)
	if err != nil {
		return nil, err
	}
	return map[string]string{KeyToken: token, KeyUser: string(data)}, nil
}

// TokenExpiry reads the exp claim of a JWT bearer token without verifying it; the backend
// stays the authority on validity. Opaque or malformed tokens report a zero time.
func TokenExpiry(token string) time.Time {
	if token == "" {
		return time.Time{}
	}
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return time.Time{}
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return time.Time{}
	}
	return exp.Time
}

var _ Reader = (*Store)(nil)
