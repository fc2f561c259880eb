package admission

import (
	"context"

	"admission-gateway/middleware/admission/domain"
)

type ctxKey int

const (
	securityContextKey ctxKey = iota
	requestIDKey
)

// SecurityContextFrom devolve o contexto de segurança resolvido no estágio de autenticação.
// ok=false quando a rota não exige autenticação.
func SecurityContextFrom(ctx context.Context) (*domain.SecurityContext, bool) {
	sc, ok := ctx.Value(securityContextKey).(*domain.SecurityContext)
	return sc, ok && sc != nil
}

func RequestIDFrom(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey).(string)
	return id
}
