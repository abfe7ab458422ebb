package codestore

import (
	"context"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"
)

const redisBreakerDuration = 30 * time.Second

// RedisConfig holds connection settings for the Redis backend. An
// empty Addr disables Redis and codes live in process memory only.
type RedisConfig struct {
	Addr     string
	Password string
	Prefix   string
	DB       int
}

// Manager selects a code store backend: Redis when configured and
// reachable, otherwise an in-memory fallback. Redis failures trip a
// breaker so a flapping backend does not add latency to every login.
type Manager struct {
	memory *MemoryStore
	nowFn  func() time.Time

	mu           sync.Mutex
	redisStore   *RedisStore
	breakerUntil time.Time
}

// NewManager constructs a Manager. The Redis client is created eagerly
// when an address is configured; connection failures fall back to
// memory at call time.
func NewManager(cfg RedisConfig) *Manager {
	m := &Manager{
		memory: NewMemoryStore(),
		nowFn:  time.Now,
	}
	if cfg.Addr != "" {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Addr,
			Password: cfg.Password,
			DB:       cfg.DB,
		})
		m.redisStore = NewRedisStore(client, cfg.Prefix)
	}
	return m
}

// Save stores a code in the active backend.
func (m *Manager) Save(ctx context.Context, code string, data AuthCode, ttl time.Duration) error {
	if store := m.activeRedis(); store != nil {
		errSave := store.Save(ctx, code, data, ttl)
		if errSave == nil {
			return nil
		}
		m.tripBreaker(errSave)
	}
	return m.memory.Save(ctx, code, data, ttl)
}

// Redeem reads and deletes a code from the active backend.
func (m *Manager) Redeem(ctx context.Context, code string) (*AuthCode, error) {
	if store := m.activeRedis(); store != nil {
		data, errRedeem := store.Redeem(ctx, code)
		if errRedeem == nil {
			if data != nil {
				return data, nil
			}
			// Miss in redis: the code may have been saved to memory
			// while the breaker was tripped.
			return m.memory.Redeem(ctx, code)
		}
		m.tripBreaker(errRedeem)
	}
	return m.memory.Redeem(ctx, code)
}

func (m *Manager) activeRedis() *RedisStore {
	if m == nil || m.redisStore == nil {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.breakerUntil.IsZero() {
		if m.nowFn().Before(m.breakerUntil) {
			return nil
		}
		m.breakerUntil = time.Time{}
	}
	return m.redisStore
}

func (m *Manager) tripBreaker(err error) {
	if err == nil || m == nil {
		return
	}
	now := m.nowFn()
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.breakerUntil.IsZero() && now.Before(m.breakerUntil) {
		return
	}
	m.breakerUntil = now.Add(redisBreakerDuration)
	log.WithError(err).Warn("code store: redis unavailable, falling back to memory")
}
