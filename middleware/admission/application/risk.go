package application

import (
	"context"
	"time"

	"admission-gateway/middleware/admission/domain"

	"github.com/rs/zerolog"
)

// DecayInterval é o tempo para o score de suspeita cair 1 ponto.
const DecayInterval = 5 * time.Minute

// RiskEngine acumula um score de suspeita por identidade e reduz o limite
// efetivo de quem abusa.
//
// O estado fica no RiskStore. Com o store em memória cada instância do gateway
// enxerga só o próprio tráfego; use o store redis para compartilhar entre instâncias.
type RiskEngine struct {
	store  domain.RiskStore
	decay  time.Duration
	now    func() time.Time
	logger zerolog.Logger
}

type RiskOption func(*RiskEngine)

func WithRiskDecay(d time.Duration) RiskOption {
	return func(e *RiskEngine) { e.decay = d }
}

func WithRiskClock(now func() time.Time) RiskOption {
	return func(e *RiskEngine) { e.now = now }
}

func WithRiskLogger(l zerolog.Logger) RiskOption {
	return func(e *RiskEngine) { e.logger = l.With().Str("component", "risk_engine").Logger() }
}

func NewRiskEngine(store domain.RiskStore, opts ...RiskOption) *RiskEngine {
	e := &RiskEngine{
		store:  store,
		decay:  DecayInterval,
		now:    time.Now,
		logger: zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// RecordAbuse soma severity ao score da identidade e devolve o novo score.
// Erros do store são logados e ignorados.
func (e *RiskEngine) RecordAbuse(ctx context.Context, identity string, severity int) int {
	if e == nil || e.store == nil || severity <= 0 {
		return 0
	}
	score, err := e.store.Add(ctx, identity, severity, e.decay, e.now())
	if err != nil {
		e.logger.Warn().Err(err).Str("identity", identity).Int("severity", severity).Msg("risk store unavailable, abuse not recorded")
		return 0
	}
	return score
}

// Score devolve o score efetivo (já com decaimento). Store indisponível conta como 0.
func (e *RiskEngine) Score(ctx context.Context, identity string) int {
	if e == nil || e.store == nil {
		return 0
	}
	score, err := e.store.Score(ctx, identity, e.decay, e.now())
	if err != nil {
		e.logger.Warn().Err(err).Str("identity", identity).Msg("risk store unavailable, using base limit")
		return 0
	}
	return score
}

// EffectiveLimit aplica ScaleLimit ao score atual da identidade.
func (e *RiskEngine) EffectiveLimit(ctx context.Context, identity string, base int) int {
	return ScaleLimit(e.Score(ctx, identity), base)
}

// ScaleLimit: score > 10 → 20% do limite; 5 < score ≤ 10 → 50%; senão o limite base.
// Não-crescente no score.
func ScaleLimit(score, base int) int {
	switch {
	case score > 10:
		return base * 2 / 10
	case score > 5:
		return base / 2
	default:
		return base
	}
}
