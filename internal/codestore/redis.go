package codestore

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

var redisRedeemScript = redis.NewScript(`
local val = redis.call("GET", KEYS[1])
if val then
  redis.call("DEL", KEYS[1])
end
return val
`)

// RedisStore keeps authorization codes in Redis. Redemption runs a
// GET+DEL script so it is atomic per code.
type RedisStore struct {
	client *redis.Client
	prefix string
}

// NewRedisStore constructs a RedisStore.
func NewRedisStore(client *redis.Client, prefix string) *RedisStore {
	prefix = strings.TrimSpace(prefix)
	if prefix == "" {
		prefix = "auth_code"
	}
	return &RedisStore{client: client, prefix: prefix}
}

// Save stores a code with the given TTL.
func (s *RedisStore) Save(ctx context.Context, code string, data AuthCode, ttl time.Duration) error {
	if s == nil || s.client == nil {
		return fmt.Errorf("codestore redis: not initialized")
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	payload, errMarshal := json.Marshal(data)
	if errMarshal != nil {
		return fmt.Errorf("codestore redis: marshal: %w", errMarshal)
	}
	if errSet := s.client.Set(ctx, s.key(code), payload, ttl).Err(); errSet != nil {
		return fmt.Errorf("codestore redis: set: %w", errSet)
	}
	return nil
}

// Redeem reads and deletes a code.
func (s *RedisStore) Redeem(ctx context.Context, code string) (*AuthCode, error) {
	if s == nil || s.client == nil {
		return nil, fmt.Errorf("codestore redis: not initialized")
	}
	res, errEval := redisRedeemScript.Run(ctx, s.client, []string{s.key(code)}).Result()
	if errEval == redis.Nil {
		return nil, nil
	}
	if errEval != nil {
		return nil, fmt.Errorf("codestore redis: redeem: %w", errEval)
	}
	raw, ok := res.(string)
	if !ok {
		return nil, nil
	}
	var data AuthCode
	if errUnmarshal := json.Unmarshal([]byte(raw), &data); errUnmarshal != nil {
		return nil, fmt.Errorf("codestore redis: unmarshal: %w", errUnmarshal)
	}
	return &data, nil
}

func (s *RedisStore) key(code string) string {
	return s.prefix + ":" + code
}
