package admission

import (
	"net/http"

	"admission-gateway/middleware/admission/domain"
)

const RequestIDHeader = "X-Request-ID"

var securityHeaders = []struct{ name, value string }{
	{"X-Content-Type-Options", "nosniff"},
	{"X-Frame-Options", "DENY"},
	{"Content-Security-Policy", "default-src 'none'; frame-ancestors 'none'"},
	{"Strict-Transport-Security", "max-age=31536000; includeSubDomains"},
	{"Referrer-Policy", "no-referrer"},
	{"X-XSS-Protection", "0"},
	{"Permissions-Policy", "camera=(), microphone=(), geolocation=()"},
	{"Cache-Control", "no-store"},
}

// SetSecurityHeaders aplica os headers de segurança de base. O handler pode
// sobrescrever algum deles (ex: Cache-Control) depois.
func SetSecurityHeaders(h http.Header) {
	for _, sh := range securityHeaders {
		h.Set(sh.name, sh.value)
	}
}

func setRateLimitHeaders(h http.Header, dec domain.Decision) {
	h.Set("X-RateLimit-Limit", formatInt(dec.Limit))
	h.Set("X-RateLimit-Remaining", formatInt(dec.Remaining))
	h.Set("X-RateLimit-Reset", formatUnix(dec.ResetAt))
	if dec.Policy != "" {
		h.Set("X-RateLimit-Policy", dec.Policy)
	}
	if dec.Degraded {
		// store fora: operador enxerga que o gateway está sem proteção
		h.Set("X-RateLimit-Degraded", "true")
	}
}
