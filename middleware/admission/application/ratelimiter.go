package application

import (
	"context"
	"errors"
	"strings"
	"time"

	"admission-gateway/middleware/admission/domain"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

// failOpenReset é o reset informado quando o store não está disponível.
const failOpenReset = time.Second

// RateLimiter é o banco de limitadores: escolhe a política, aplica o multiplicador
// de risco e delega a contagem ao CounterStore.
//
// Ele não sabe nada sobre HTTP (headers/status), apenas retorna uma decisão.
type RateLimiter struct {
	store   domain.CounterStore
	matcher *PolicyMatcher
	risk    *RiskEngine
	now     func() time.Time
	logger  zerolog.Logger
	warn    *rate.Sometimes
}

type RateLimiterOption func(*RateLimiter)

func WithRiskEngine(e *RiskEngine) RateLimiterOption {
	return func(l *RateLimiter) { l.risk = e }
}

func WithLimiterClock(now func() time.Time) RateLimiterOption {
	return func(l *RateLimiter) { l.now = now }
}

func WithLimiterLogger(lg zerolog.Logger) RateLimiterOption {
	return func(l *RateLimiter) { l.logger = lg.With().Str("component", "rate_limiter").Logger() }
}

// NewRateLimiter aceita store nil: nesse caso todas as decisões são fail-open.
func NewRateLimiter(store domain.CounterStore, matcher *PolicyMatcher, opts ...RateLimiterOption) (*RateLimiter, error) {
	if matcher == nil {
		return nil, errors.New("policy matcher is required")
	}
	l := &RateLimiter{
		store:   store,
		matcher: matcher,
		now:     time.Now,
		logger:  zerolog.Nop(),
		warn:    &rate.Sometimes{First: 1, Interval: 30 * time.Second},
	}
	for _, opt := range opts {
		opt(l)
	}
	return l, nil
}

// Policy devolve a política do endpoint. Um path ("/api/...") passa pelo
// matcher; qualquer outra coisa é o nome lógico de uma política, e um nome
// desconhecido cai na política global.
func (l *RateLimiter) Policy(endpoint string) domain.EndpointPolicy {
	if IsPolicyName(endpoint) {
		if p, ok := l.matcher.Named(endpoint); ok {
			return p
		}
	}
	return l.matcher.Match(endpoint)
}

// HasPolicy diz se endpoint é um path ou um nome de política conhecido.
func (l *RateLimiter) HasPolicy(endpoint string) bool {
	if !IsPolicyName(endpoint) {
		return true
	}
	_, ok := l.matcher.Named(endpoint)
	return ok
}

// IsPolicyName separa nomes lógicos de paths: paths começam com "/".
func IsPolicyName(endpoint string) bool {
	return endpoint != "" && !strings.HasPrefix(endpoint, "/")
}

// Check decide se a identidade ainda tem orçamento na política.
//
// Sem store, ou com erro no store, a decisão é fail-open: Admitted=true,
// Remaining=0 e um reset curto, para que fique visível que o gateway está
// rodando sem proteção.
func (l *RateLimiter) Check(ctx context.Context, id domain.ClientIdentity, policy domain.EndpointPolicy) domain.Decision {
	limit := policy.Limit
	if l.risk != nil {
		limit = l.risk.EffectiveLimit(ctx, id.String(), limit)
	}
	return l.count(ctx, "rl:"+policy.Name+":"+id.String(), limit, policy)
}

// CheckBurst aplica a política de burst da operação. ok=false quando a operação
// não tem política configurada.
func (l *RateLimiter) CheckBurst(ctx context.Context, id domain.ClientIdentity, operation string) (dec domain.Decision, ok bool) {
	policy, ok := l.matcher.Burst(operation)
	if !ok {
		return domain.Decision{Admitted: true}, false
	}
	return l.count(ctx, "burst:"+operation+":"+id.String(), policy.Limit, policy), true
}

func (l *RateLimiter) count(ctx context.Context, key string, limit int, policy domain.EndpointPolicy) domain.Decision {
	now := l.now()
	if l.store == nil {
		l.warn.Do(func() {
			l.logger.Warn().Err(domain.ErrConfigurationMissing).Str("policy", policy.Name).Msg("no counter store configured, admitting without rate limiting")
		})
		return failOpen(now, limit, policy.Name)
	}

	var (
		res domain.WindowResult
		err error
	)
	switch policy.Algorithm {
	case domain.Fixed:
		res, err = l.store.FixedWindow(ctx, key, limit, policy.Window, now)
	default:
		res, err = l.store.SlidingWindow(ctx, key, limit, policy.Window, now)
	}
	if err != nil {
		l.warn.Do(func() {
			l.logger.Error().Err(err).Str("policy", policy.Name).Msg("counter store unavailable, admitting without rate limiting")
		})
		return failOpen(now, limit, policy.Name)
	}

	remaining := limit - res.Count
	if remaining < 0 {
		remaining = 0
	}
	return domain.Decision{
		Admitted:  res.Admitted,
		Remaining: remaining,
		Limit:     limit,
		ResetAt:   res.ResetAt,
		Policy:    policy.Name,
	}
}

func failOpen(now time.Time, limit int, policy string) domain.Decision {
	return domain.Decision{
		Admitted:  true,
		Remaining: 0,
		Limit:     limit,
		ResetAt:   now.Add(failOpenReset),
		Degraded:  true,
		Policy:    policy,
	}
}
