package domain

import (
	"context"
	"time"
)

// RiskStore guarda (score, lastUpdate) por identidade.
//
// O decaimento é preguiçoso: o score efetivo é
// score - floor((now-lastUpdate)/decay), nunca negativo.
// Implementações removem o registro quando o score efetivo chega a zero.
type RiskStore interface {
	Add(ctx context.Context, identity string, severity int, decay time.Duration, now time.Time) (int, error)
	Score(ctx context.Context, identity string, decay time.Duration, now time.Time) (int, error)
}

// Severidades padrão por tipo de abuso.
const (
	SeveritySQLInjection  = 5
	SeverityXSS           = 4
	SeverityBlockedIP     = 3
	SeveritySessionDenied = 2
	SeverityLimitExceeded = 1
)

// DecayedScore aplica o decaimento preguiçoso. Retorna o score efetivo e o
// lastUpdate avançado pelos intervalos já consumidos, para que o progresso
// parcial do intervalo corrente não se perca numa nova escrita.
func DecayedScore(score int, lastUpdate time.Time, decay time.Duration, now time.Time) (int, time.Time) {
	if score <= 0 {
		return 0, now
	}
	if decay <= 0 || !now.After(lastUpdate) {
		return score, lastUpdate
	}
	steps := int(now.Sub(lastUpdate) / decay)
	if steps >= score {
		return 0, now
	}
	return score - steps, lastUpdate.Add(time.Duration(steps) * decay)
}
