package domain

import (
	"context"
	"time"
)

// SecurityContext é montado por request a partir do provedor de sessão.
// Este subsistema nunca o persiste.
type SecurityContext struct {
	UserID         string
	OrganizationID string
	Role           string
	Permissions    []string
	SessionID      string
	IPAddress      string
	UserAgent      string
	IsVerified     bool
}

// HasPermission considera "*" como curinga de todas as permissões.
func (sc *SecurityContext) HasPermission(p string) bool {
	if sc == nil {
		return false
	}
	for _, have := range sc.Permissions {
		if have == p || have == "*" {
			return true
		}
	}
	return false
}

// SessionRecord é a visão somente-leitura da sessão guardada pelo provedor de identidade.
type SessionRecord struct {
	SessionID string
	IPAddress string
	UserAgent string
	CreatedAt time.Time
}

// Credentials é o que o gateway extrai do request para o provedor de sessão.
type Credentials struct {
	BearerToken string
	SessionID   string
	IPAddress   string
	UserAgent   string
}

// SessionProvider resolve credenciais em um SecurityContext.
// Deve retornar ErrUnauthenticated (ou um erro que o envolva) quando não houver sessão válida.
type SessionProvider interface {
	Resolve(ctx context.Context, creds Credentials) (*SecurityContext, error)
}

// SessionStore devolve o registro de sessão usado nas checagens de integridade.
// Deve retornar ErrSessionNotFound quando a sessão não existir.
type SessionStore interface {
	Session(ctx context.Context, sessionID string) (*SessionRecord, error)
}

// SessionAction é o veredito da checagem de integridade de sessão.
type SessionAction string

const (
	SessionAllow     SessionAction = "allow"
	SessionChallenge SessionAction = "challenge"
	SessionDeny      SessionAction = "deny"
)

type SessionVerdict struct {
	Action SessionAction
	Reason string
}
