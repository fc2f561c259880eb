package admission

import (
	"errors"
	"net/http"
	"time"

	"admission-gateway/middleware/admission/application"
	"admission-gateway/middleware/admission/domain"
	"admission-gateway/middleware/admission/infra"
)

type ConcurrencyOptions struct {
	Max            int
	AcquireTimeout time.Duration
	// RetryAfter vai no header quando não há vaga (padrão 1s).
	RetryAfter time.Duration
}

// ConcurrencyMiddleware limita quantos requests executam ao mesmo tempo.
// Sem vaga dentro do AcquireTimeout, responde 503 com o envelope JSON; se o
// cliente desistir antes, não escreve nada.
// Max <= 0 desliga o limite.
func ConcurrencyMiddleware(opts ConcurrencyOptions) func(next http.Handler) http.Handler {
	if opts.Max <= 0 {
		return func(next http.Handler) http.Handler { return next }
	}
	if opts.RetryAfter <= 0 {
		opts.RetryAfter = time.Second
	}

	svc := application.ConcurrencyService{
		Pool:           infra.NewChanPool(opts.Max),
		AcquireTimeout: opts.AcquireTimeout,
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			release, err := svc.Acquire(r.Context())
			if err != nil {
				if !errors.Is(err, domain.ErrOverloaded) {
					// cliente foi embora enquanto esperava
					return
				}
				SetSecurityHeaders(w.Header())
				rej := RejectionFor(err)
				rej.RetryAfter = opts.RetryAfter
				writeRejection(w, rej)
				return
			}
			defer release()

			next.ServeHTTP(w, r)
		})
	}
}
