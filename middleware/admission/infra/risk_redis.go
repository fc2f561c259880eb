package infra

import (
	"context"
	"fmt"
	"strings"
	"time"

	"admission-gateway/middleware/admission/domain"

	"github.com/redis/go-redis/v9"
)

// riskScript aplica o decaimento preguiçoso e soma a severidade numa única operação.
// KEYS[1]=hash {score, updated} ARGV: now_ms, decay_ms, add
// Com add=0 só lê; score efetivo zero apaga a chave.
var riskScript = redis.NewScript(`
local key = KEYS[1]
local now = tonumber(ARGV[1])
local decay = tonumber(ARGV[2])
local add = tonumber(ARGV[3])

local score = tonumber(redis.call('HGET', key, 'score') or '0')
local updated = tonumber(redis.call('HGET', key, 'updated') or ARGV[1])

if score > 0 and decay > 0 and now > updated then
	local steps = math.floor((now - updated) / decay)
	if steps >= score then
		score = 0
	else
		score = score - steps
		updated = updated + steps * decay
	end
end
if score <= 0 then
	score = 0
	updated = now
end

if add == 0 then
	if score == 0 then
		redis.call('DEL', key)
	end
	return score
end

score = score + add
if score <= 0 then
	redis.call('DEL', key)
	return 0
end
redis.call('HSET', key, 'score', score, 'updated', updated)
local ttl = updated + score * decay - now
if ttl < 1 then
	ttl = 1
end
redis.call('PEXPIRE', key, ttl)
return score
`)

// RedisRiskStore compartilha o score de suspeita entre instâncias do gateway.
type RedisRiskStore struct {
	rdb    redis.UniversalClient
	prefix string
}

func NewRedisRiskStore(rdb redis.UniversalClient, prefix string) *RedisRiskStore {
	prefix = strings.Trim(prefix, ":")
	if prefix == "" {
		prefix = "admission:risk"
	}
	return &RedisRiskStore{rdb: rdb, prefix: prefix}
}

var _ domain.RiskStore = (*RedisRiskStore)(nil)

func (s *RedisRiskStore) Add(ctx context.Context, identity string, severity int, decay time.Duration, now time.Time) (int, error) {
	return s.run(ctx, identity, severity, decay, now)
}

func (s *RedisRiskStore) Score(ctx context.Context, identity string, decay time.Duration, now time.Time) (int, error) {
	return s.run(ctx, identity, 0, decay, now)
}

func (s *RedisRiskStore) run(ctx context.Context, identity string, add int, decay time.Duration, now time.Time) (int, error) {
	if s == nil || s.rdb == nil {
		return 0, domain.ErrConfigurationMissing
	}
	score, err := riskScript.Run(ctx, s.rdb, []string{s.prefix + ":" + identity},
		now.UnixMilli(), decay.Milliseconds(), add,
	).Int()
	if err != nil {
		return 0, fmt.Errorf("risk score %s: %w", identity, err)
	}
	return score, nil
}
