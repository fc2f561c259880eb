package admission

import (
	"net"
	"net/http"
	"strings"

	"admission-gateway/middleware/admission/application"
	"admission-gateway/middleware/admission/domain"
)

// DefaultUserHeader é preenchido pelo proxy de autenticação com o id do usuário.
const DefaultUserHeader = "X-User-ID"

// forwardedHeaders declaram o cliente original; só valem vindos de um proxy confiável.
var forwardedHeaders = []string{"X-Forwarded-For", "X-Real-IP", "Forwarded"}

// IdentityFunc deriva a identidade do cliente. Nunca falha.
type IdentityFunc func(r *http.Request) domain.ClientIdentity

// ResolveIdentity assume que todo tráfego chega pelo proxy de autenticação:
// usa DefaultUserHeader e cai para o IP declarado nos headers. Fora desse
// cenário use HeaderIdentity com o conjunto de proxies confiáveis.
func ResolveIdentity(r *http.Request) domain.ClientIdentity {
	return HeaderIdentity(DefaultUserHeader, application.TrustAnyProxy())(r)
}

// HeaderIdentity: "user:<id>" se userHeader vier preenchido por um proxy de
// proxies, senão "ip:<ClientIP>". De outros pares o header é ignorado.
func HeaderIdentity(userHeader string, proxies *application.ProxySet) IdentityFunc {
	return func(r *http.Request) domain.ClientIdentity {
		if userHeader != "" && proxies.Contains(remoteHost(r)) {
			if v := strings.TrimSpace(r.Header.Get(userHeader)); v != "" {
				return domain.UserIdentity(v)
			}
		}
		return domain.IPIdentity(ClientIP(r, proxies))
	}
}

// ClientIP devolve o IP do cliente. Se o par TCP estiver em proxies, vale o
// primeiro IP do X-Forwarded-For e depois o X-Real-IP; senão, e como fallback,
// o host de RemoteAddr e, por fim, "unknown".
func ClientIP(r *http.Request, proxies *application.ProxySet) string {
	peer := remoteHost(r)
	if proxies.Contains(peer) {
		// pega o primeiro IP do X-Forwarded-For (cliente original)
		if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
			first, _, _ := strings.Cut(xff, ",")
			if ip := strings.TrimSpace(first); ip != "" {
				return ip
			}
		}
		if ip := strings.TrimSpace(r.Header.Get("X-Real-IP")); ip != "" {
			return ip
		}
	}
	if peer != "" {
		return peer
	}
	return "unknown"
}

func remoteHost(r *http.Request) string {
	addr := strings.TrimSpace(r.RemoteAddr)
	host, _, err := net.SplitHostPort(addr)
	if err == nil && host != "" {
		return host
	}
	return addr
}

// StripForwardedHeaders apaga os headers de encaminhamento e o de usuário
// quando o par não é um proxy confiável, para que nem o pipeline nem o
// upstream acreditem neles.
func StripForwardedHeaders(proxies *application.ProxySet, userHeader string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !proxies.Contains(remoteHost(r)) {
				for _, h := range forwardedHeaders {
					r.Header.Del(h)
				}
				if userHeader != "" {
					r.Header.Del(userHeader)
				}
			}
			next.ServeHTTP(w, r)
		})
	}
}
