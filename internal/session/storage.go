package session

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Keys persisted for an authenticated browser session.
const (
	KeyToken = "token"
	KeyUser  = "user"
)

// ErrKeyNotFound is returned by Storage.Get for absent keys.
var ErrKeyNotFound = errors.New("session: key not found")

// Storage is the durable per-browser storage behind a Store.
//
// Besides plain string keys it keeps a logout epoch. Every logout bumps the epoch, and
// SetIfEpoch only writes while the epoch is unchanged, which lets a login discard an
// identity fetched before a concurrent logout.
type Storage interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, values map[string]string) error
	Delete(ctx context.Context, keys ...string) error
	Epoch(ctx context.Context) (int64, error)
	BumpEpoch(ctx context.Context) (int64, error)
	SetIfEpoch(ctx context.Context, epoch int64, values map[string]string) (bool, error)
}

// RedisStorage keeps identity keys in Redis, namespaced by the browser session id.
type RedisStorage struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// NewRedisStorage scopes storage to one browser session.
func NewRedisStorage(client *redis.Client, sessionID string, ttl time.Duration) *RedisStorage {
	return &RedisStorage{client: client, prefix: "famis:identity:" + sessionID + ":", ttl: ttl}
}

func (s *RedisStorage) key(name string) string {
	return s.prefix + name
}

func (s *RedisStorage) epochKey() string {
	return s.key("epoch")
}

// Get reads a key.
func (s *RedisStorage) Get(ctx context.Context, key string) (string, error) {
	value, err := s.client.Get(ctx, s.key(key)).Result()
	if errors.Is(err, redis.Nil) {
		return "", ErrKeyNotFound
	}
	return value, err
}

// Set writes all values atomically.
func (s *RedisStorage) Set(ctx context.Context, values map[string]string) error {
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		s.queue(ctx, pipe, values)
		return nil
	})
	return err
}

// Delete removes keys; absent keys are ignored.
func (s *RedisStorage) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	full := make([]string, len(keys))
	for i, k := range keys {
		full[i] = s.key(k)
	}
	return s.client.Del(ctx, full...).Err()
}

// Epoch returns the current logout epoch, zero when none was recorded.
func (s *RedisStorage) Epoch(ctx context.Context) (int64, error) {
	epoch, err := s.client.Get(ctx, s.epochKey()).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	return epoch, err
}

// BumpEpoch increments the logout epoch.
func (s *RedisStorage) BumpEpoch(ctx context.Context) (int64, error) {
	var incr *redis.IntCmd
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		incr = pipe.Incr(ctx, s.epochKey())
		if s.ttl > 0 {
			pipe.Expire(ctx, s.epochKey(), s.ttl)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return incr.Val(), nil
}

var errEpochMoved = errors.New("session: epoch moved")

// SetIfEpoch writes values only when the epoch still equals epoch.
func (s *RedisStorage) SetIfEpoch(ctx context.Context, epoch int64, values map[string]string) (bool, error) {
	err := s.client.Watch(ctx, func(tx *redis.Tx) error {
		current, err := tx.Get(ctx, s.epochKey()).Int64()
		if err != nil && !errors.Is(err, redis.Nil) {
			return err
		}
		if current != epoch {
			return errEpochMoved
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			s.queue(ctx, pipe, values)
			return nil
		})
		return err
	}, s.epochKey())
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, errEpochMoved), errors.Is(err, redis.TxFailedErr):
		return false, nil
	default:
		return false, err
	}
}

func (s *RedisStorage) queue(ctx context.Context, pipe redis.Pipeliner, values map[string]string) {
	for k, v := range values {
		pipe.Set(ctx, s.key(k), v, s.ttl)
	}
}

// MemoryStorage is an in-process Storage, used by tests and single-instance setups.
type MemoryStorage struct {
	mu     sync.Mutex
	values map[string]string
	epoch  int64
}

// NewMemoryStorage returns an empty MemoryStorage.
func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{values: make(map[string]string)}
}

// Get reads a key.
func (m *MemoryStorage) Get(_ context.Context, key string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.values[key]
	if !ok {
		return "", ErrKeyNotFound
	}
	return v, nil
}

// Set writes values.
func (m *MemoryStorage) Set(_ context.Context, values map[string]string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for k, v := range values {
		m.values[k] = v
	}
	return nil
}

// Delete removes keys.
func (m *MemoryStorage) Delete(_ context.Context, keys ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, k := range keys {
		delete(m.values, k)
	}
	return nil
}

// Epoch returns the logout epoch.
func (m *MemoryStorage) Epoch(context.Context) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.epoch, nil
}

// BumpEpoch increments the logout epoch.
func (m *MemoryStorage) BumpEpoch(context.Context) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.epoch++
	return m.epoch, nil
}

// SetIfEpoch writes values while the epoch is unchanged.
func (m *MemoryStorage) SetIfEpoch(_ context.Context, epoch int64, values map[string]string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.epoch != epoch {
		return false, nil
	}
	for k, v := range values {
		m.values[k] = v
	}
	return true, nil
}

// Len reports how many keys are stored, excluding the epoch.
func (m *MemoryStorage) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.values)
}

var (
	_ Storage = (*RedisStorage)(nil)
	_ Storage = (*MemoryStorage)(nil)
)
