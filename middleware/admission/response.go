package admission

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"admission-gateway/middleware/admission/domain"
)

// Rejection é a forma HTTP de um erro de taxonomia: status, código estável e
// mensagem pública. Err preserva a causa para errors.Is/As e logs.
type Rejection struct {
	Err        error
	Status     int
	Code       string
	Message    string
	RetryAfter time.Duration
}

func (r *Rejection) Error() string {
	if r.Err == nil {
		return r.Code
	}
	return r.Code + ": " + r.Err.Error()
}

func (r *Rejection) Unwrap() error { return r.Err }

// envelope é o corpo JSON de todo caminho de erro.
type envelope struct {
	Error      string `json:"error"`
	Message    string `json:"message,omitempty"`
	RetryAfter int    `json:"retryAfter,omitempty"`
}

// RejectionFor traduz um erro para a resposta HTTP. Erros fora da taxonomia viram 500
// sem expor a mensagem original.
func RejectionFor(err error) *Rejection {
	var rej *Rejection
	if errors.As(err, &rej) {
		return rej
	}

	status, code, msg := http.StatusInternalServerError, "internal_error", "internal server error"
	switch {
	case errors.Is(err, domain.ErrMethodNotAllowed):
		status, code, msg = http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed"
	case errors.Is(err, domain.ErrPayloadTooLarge):
		status, code, msg = http.StatusRequestEntityTooLarge, "payload_too_large", "request body too large"
	case errors.Is(err, domain.ErrMalformedRequest):
		status, code, msg = http.StatusBadRequest, "malformed_request", "malformed request"
	case errors.Is(err, domain.ErrLimitExceeded):
		status, code, msg = http.StatusTooManyRequests, "rate_limit_exceeded", "too many requests"
	case errors.Is(err, domain.ErrBlocked):
		status, code, msg = http.StatusForbidden, "ip_blocked", "access denied"
	case errors.Is(err, domain.ErrChallengeRequired):
		status, code, msg = http.StatusUnauthorized, "step_up_required", "additional verification required"
	case errors.Is(err, domain.ErrSessionInvalid):
		status, code, msg = http.StatusUnauthorized, "session_invalid", "session is no longer valid"
	case errors.Is(err, domain.ErrUnauthenticated):
		status, code, msg = http.StatusUnauthorized, "unauthenticated", "authentication required"
	case errors.Is(err, domain.ErrUnverified):
		status, code, msg = http.StatusForbidden, "verification_required", "a verified account is required"
	case errors.Is(err, domain.ErrInsufficientPermissions):
		status, code, msg = http.StatusForbidden, "insufficient_permissions", "insufficient permissions"
	case errors.Is(err, domain.ErrThreatDetected):
		status, code, msg = http.StatusBadRequest, "malicious_input", "request contains disallowed content"
	case errors.Is(err, domain.ErrOverloaded):
		status, code, msg = http.StatusServiceUnavailable, "server_busy", "server is busy, retry later"
	case errors.Is(err, domain.ErrUpstreamUnavailable):
		status, code, msg = http.StatusBadGateway, "bad_gateway", "upstream unavailable"
	}
	return &Rejection{Err: err, Status: status, Code: code, Message: msg}
}

// WriteError escreve o envelope de erro para err. Handlers atrás do Gateway
// podem usar para manter o mesmo contrato de resposta.
func WriteError(w http.ResponseWriter, err error) {
	writeRejection(w, RejectionFor(err))
}

func writeRejection(w http.ResponseWriter, rej *Rejection) {
	env := envelope{Error: rej.Code, Message: rej.Message}
	if rej.RetryAfter > 0 {
		w.Header().Set("Retry-After", formatSeconds(rej.RetryAfter))
		env.RetryAfter = int((rej.RetryAfter + time.Second - 1) / time.Second)
	}
	writeJSON(w, rej.Status, env)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
