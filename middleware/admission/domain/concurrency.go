package domain

import "context"

// SlotPool é a capacidade de execução simultânea do gateway.
// Acquire bloqueia até haver vaga ou o ctx encerrar; o release devolvido
// precisa ser chamado ao fim do request.
type SlotPool interface {
	Acquire(ctx context.Context) (release func(), ok bool)
}
