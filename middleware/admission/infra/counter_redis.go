package infra

import (
	"context"
	"fmt"
	"strings"
	"time"

	"admission-gateway/middleware/admission/domain"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// slidingScript mantém um ZSET de timestamps (ms) por chave.
// KEYS[1]=chave ARGV: now_ms, window_ms, limit, member
// Retorna {admitted, count, reset_ms}.
var slidingScript = redis.NewScript(`
local key = KEYS[1]
local now = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local limit = tonumber(ARGV[3])

redis.call('ZREMRANGEBYSCORE', key, '-inf', '(' .. (now - window))
local count = redis.call('ZCARD', key)
local admitted = 0
if count < limit then
	redis.call('ZADD', key, now, ARGV[4])
	count = count + 1
	admitted = 1
end
redis.call('PEXPIRE', key, window)

local reset = now + window
local oldest = redis.call('ZRANGE', key, 0, 0, 'WITHSCORES')
if #oldest > 0 then
	reset = tonumber(oldest[2]) + window
end
return {admitted, count, reset}
`)

// fixedScript é o incremento-com-expiração clássico; o índice da janela já vem na chave.
var fixedScript = redis.NewScript(`
local current = redis.call('INCR', KEYS[1])
if current == 1 then
	redis.call('PEXPIRE', KEYS[1], ARGV[1])
end
return current
`)

// RedisCounterStore implementa domain.CounterStore com scripts Lua, que executam
// de forma atômica no redis: várias instâncias do gateway compartilham os contadores.
type RedisCounterStore struct {
	rdb    redis.UniversalClient
	prefix string
}

type RedisCounterOption func(*RedisCounterStore)

func WithCounterPrefix(prefix string) RedisCounterOption {
	return func(s *RedisCounterStore) { s.prefix = strings.Trim(prefix, ":") }
}

func NewRedisCounterStore(rdb redis.UniversalClient, opts ...RedisCounterOption) *RedisCounterStore {
	s := &RedisCounterStore{rdb: rdb, prefix: "admission"}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

var _ domain.CounterStore = (*RedisCounterStore)(nil)

func (s *RedisCounterStore) key(k string) string {
	if s.prefix == "" {
		return k
	}
	return s.prefix + ":" + k
}

func (s *RedisCounterStore) SlidingWindow(ctx context.Context, key string, limit int, window time.Duration, now time.Time) (domain.WindowResult, error) {
	if s == nil || s.rdb == nil {
		return domain.WindowResult{}, domain.ErrConfigurationMissing
	}
	winMs := window.Milliseconds()
	if winMs < 1 {
		winMs = 1
	}
	vals, err := slidingScript.Run(ctx, s.rdb, []string{s.key(key)},
		now.UnixMilli(), winMs, limit, uuid.NewString(),
	).Int64Slice()
	if err != nil {
		return domain.WindowResult{}, fmt.Errorf("sliding window %s: %w", key, err)
	}
	if len(vals) != 3 {
		return domain.WindowResult{}, fmt.Errorf("sliding window %s: unexpected reply %v", key, vals)
	}
	return domain.WindowResult{
		Admitted: vals[0] == 1,
		Count:    int(vals[1]),
		ResetAt:  time.UnixMilli(vals[2]),
	}, nil
}

func (s *RedisCounterStore) FixedWindow(ctx context.Context, key string, limit int, window time.Duration, now time.Time) (domain.WindowResult, error) {
	if s == nil || s.rdb == nil {
		return domain.WindowResult{}, domain.ErrConfigurationMissing
	}
	_, end := FixedWindowBounds(now, window)
	ttl := end.Sub(now).Milliseconds()
	if ttl < 1 {
		ttl = 1
	}
	count, err := fixedScript.Run(ctx, s.rdb, []string{s.key(fixedKey(key, now, window))}, ttl).Int64()
	if err != nil {
		return domain.WindowResult{}, fmt.Errorf("fixed window %s: %w", key, err)
	}
	return domain.WindowResult{
		Admitted: int(count) <= limit,
		Count:    int(count),
		ResetAt:  end,
	}, nil
}
