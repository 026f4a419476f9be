package sync

import (
	"context"
	stderrors "errors"
	"fmt"
	"strconv"
	"strings"
	stdsync "sync"
	"time"

	"admissions-workers/internal/common/errors"

	"github.com/redis/go-redis/v9"
)

// State is what a sync engine carries between cycles.
type State struct {
	LastHash     string
	BackoffDelay time.Duration
	BackoffUntil time.Time
}

// StateStore persists State so a restart does not re-diff an unchanged feed
// or forget an active rate limit.
type StateStore interface {
	Load(ctx context.Context) (State, error)
	Save(ctx context.Context, s State) error
}

type MemoryStateStore struct {
	mu    stdsync.Mutex
	state State
}

func NewMemoryStateStore() *MemoryStateStore {
	return &MemoryStateStore{}
}

func (m *MemoryStateStore) Load(ctx context.Context) (State, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state, nil
}

func (m *MemoryStateStore) Save(ctx context.Context, s State) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state = s
	return nil
}

// RedisStateStore keeps the state under "<prefix>:last_hash" and
// "<prefix>:backoff" ("<delay ms>:<until unix ms>").
type RedisStateStore struct {
	client *redis.Client
	prefix string
}

func NewRedisStateStore(client *redis.Client, prefix string) *RedisStateStore {
	if prefix == "" {
		prefix = "admissions:sync"
	}
	return &RedisStateStore{client: client, prefix: prefix}
}

func (r *RedisStateStore) hashKey() string    { return r.prefix + ":last_hash" }
func (r *RedisStateStore) backoffKey() string { return r.prefix + ":backoff" }

func (r *RedisStateStore) Load(ctx context.Context) (State, error) {
	var s State

	hash, err := r.client.Get(ctx, r.hashKey()).Result()
	switch {
	case stderrors.Is(err, redis.Nil):
	case err != nil:
		return s, errors.NewTransportError("redis", err)
	default:
		s.LastHash = hash
	}

	raw, err := r.client.Get(ctx, r.backoffKey()).Result()
	switch {
	case stderrors.Is(err, redis.Nil):
		return s, nil
	case err != nil:
		return s, errors.NewTransportError("redis", err)
	}

	delay, until, err := parseBackoff(raw)
	if err != nil {
		// A corrupt window is dropped rather than blocking sync.
		return s, nil
	}
	s.BackoffDelay = delay
	s.BackoffUntil = until
	return s, nil
}

func (r *RedisStateStore) Save(ctx context.Context, s State) error {
	if err := r.client.Set(ctx, r.hashKey(), s.LastHash, 0).Err(); err != nil {
		return errors.NewTransportError("redis", err)
	}

	if s.BackoffDelay <= 0 {
		if err := r.client.Del(ctx, r.backoffKey()).Err(); err != nil {
			return errors.NewTransportError("redis", err)
		}
		return nil
	}

	value := fmt.Sprintf("%d:%d", s.BackoffDelay.Milliseconds(), s.BackoffUntil.UnixMilli())
	ttl := time.Until(s.BackoffUntil)
	if ttl <= 0 {
		ttl = time.Second
	}
	if err := r.client.Set(ctx, r.backoffKey(), value, ttl).Err(); err != nil {
		return errors.NewTransportError("redis", err)
	}
	return nil
}

func parseBackoff(raw string) (time.Duration, time.Time, error) {
	parts := strings.SplitN(raw, ":", 2)
	if len(parts) != 2 {
		return 0, time.Time{}, fmt.Errorf("malformed backoff %q", raw)
	}
	ms, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil {
		return 0, time.Time{}, err
	}
	until, err := strconv.ParseInt(parts[1], 10, 64)
	if err != nil {
		return 0, time.Time{}, err
	}
	return time.Duration(ms) * time.Millisecond, time.UnixMilli(until).UTC(), nil
}
