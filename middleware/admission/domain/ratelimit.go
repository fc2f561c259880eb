package domain

import (
	"context"
	"time"
)

// Algorithm seleciona a estratégia de contagem de uma política.
type Algorithm string

const (
	// Sliding conta requests na janela móvel [now-W, now].
	Sliding Algorithm = "sliding"
	// Fixed conta requests em janelas alinhadas a múltiplos de W desde a epoch.
	Fixed Algorithm = "fixed"
)

// EndpointPolicy é uma linha da tabela estática de limites.
type EndpointPolicy struct {
	Name      string
	Pattern   string
	Limit     int
	Window    time.Duration
	Algorithm Algorithm
}

// WindowResult é o que o store de contagem devolve para uma chave.
//
// Count já inclui o request atual quando Admitted=true.
type WindowResult struct {
	Admitted bool
	Count    int
	ResetAt  time.Time
}

// CounterStore é o store compartilhado (ex: redis) com incremento atômico e TTL.
//
// A corretude entre instâncias do gateway depende só da atomicidade deste
// contrato, não de locks em processo.
type CounterStore interface {
	// SlidingWindow admite se houver menos de limit eventos em (now-window, now]
	// e, ao admitir, registra o evento atual.
	SlidingWindow(ctx context.Context, key string, limit int, window time.Duration, now time.Time) (WindowResult, error)
	// FixedWindow incrementa o contador da janela alinhada que contém now.
	FixedWindow(ctx context.Context, key string, limit int, window time.Duration, now time.Time) (WindowResult, error)
}

// Decision é o resultado do Rate Limiter Bank para um request.
type Decision struct {
	Admitted  bool
	Remaining int
	Limit     int
	ResetAt   time.Time
	// Degraded indica que a decisão foi fail-open (store ausente ou com erro).
	Degraded bool
	Policy   string
}

// RetryAfter calcula o valor de Retry-After (em segundos, arredondado para cima,
// mínimo 1) a partir de ResetAt.
func (d Decision) RetryAfter(now time.Time) time.Duration {
	wait := d.ResetAt.Sub(now)
	if wait <= 0 {
		return time.Second
	}
	secs := wait / time.Second
	if wait%time.Second != 0 {
		secs++
	}
	return secs * time.Second
}
