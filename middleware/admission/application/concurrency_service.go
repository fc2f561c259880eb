package application

import (
	"context"
	"time"

	"admission-gateway/middleware/admission/domain"
)

// ConcurrencyService limita quantos requests executam ao mesmo tempo, sem
// saber nada sobre HTTP.
type ConcurrencyService struct {
	Pool           domain.SlotPool
	AcquireTimeout time.Duration
}

// Acquire devolve domain.ErrOverloaded quando a vaga não sai dentro do
// AcquireTimeout (<= 0 espera sem limite). Se foi o ctx do chamador que
// encerrou, devolve ctx.Err(): o cliente desistiu e não há o que responder.
func (s ConcurrencyService) Acquire(ctx context.Context) (release func(), err error) {
	if s.Pool == nil {
		return func() {}, nil
	}

	acqCtx := ctx
	if s.AcquireTimeout > 0 {
		var cancel context.CancelFunc
		acqCtx, cancel = context.WithTimeout(ctx, s.AcquireTimeout)
		defer cancel()
	}
	if rel, ok := s.Pool.Acquire(acqCtx); ok {
		return rel, nil
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return nil, domain.ErrOverloaded
}
