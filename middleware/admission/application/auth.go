package application

import (
	"context"
	"errors"
	"fmt"
	"net/netip"
	"strings"
	"time"

	"admission-gateway/middleware/admission/domain"

	"github.com/rs/zerolog"
)

// MaxSessionAge é a idade máxima de uma sessão antes de ser negada.
const MaxSessionAge = 24 * time.Hour

// ProximityFunc diz se dois IPs são geograficamente próximos o bastante para
// que a troca de IP numa sessão não exija nova verificação.
type ProximityFunc func(stored, current string) bool

// SamePrefixProximity considera próximos IPs do mesmo /24 (IPv4) ou /48 (IPv6).
func SamePrefixProximity(stored, current string) bool {
	a, errA := netip.ParseAddr(stored)
	b, errB := netip.ParseAddr(current)
	if errA != nil || errB != nil {
		return false
	}
	a, b = a.Unmap(), b.Unmap()
	if a.Is4() != b.Is4() {
		return false
	}
	bits := 48
	if a.Is4() {
		bits = 24
	}
	pa, _ := a.Prefix(bits)
	pb, _ := b.Prefix(bits)
	return pa == pb
}

// AuthService resolve o SecurityContext, checa permissões e a integridade da sessão.
type AuthService struct {
	provider  domain.SessionProvider
	sessions  domain.SessionStore
	proximity ProximityFunc
	maxAge    time.Duration
	now       func() time.Time
	logger    zerolog.Logger
}

type AuthOption func(*AuthService)

// WithSessionStore habilita as checagens de integridade de sessão.
func WithSessionStore(s domain.SessionStore) AuthOption {
	return func(a *AuthService) { a.sessions = s }
}

func WithProximity(fn ProximityFunc) AuthOption {
	return func(a *AuthService) { a.proximity = fn }
}

func WithMaxSessionAge(d time.Duration) AuthOption {
	return func(a *AuthService) { a.maxAge = d }
}

func WithAuthClock(now func() time.Time) AuthOption {
	return func(a *AuthService) { a.now = now }
}

func WithAuthLogger(l zerolog.Logger) AuthOption {
	return func(a *AuthService) { a.logger = l.With().Str("component", "auth").Logger() }
}

func NewAuthService(provider domain.SessionProvider, opts ...AuthOption) *AuthService {
	a := &AuthService{
		provider:  provider,
		proximity: SamePrefixProximity,
		maxAge:    MaxSessionAge,
		now:       time.Now,
		logger:    zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Authenticate devolve sempre um erro que satisfaz domain.IsUnauthenticated em caso de falha.
func (a *AuthService) Authenticate(ctx context.Context, creds domain.Credentials) (*domain.SecurityContext, error) {
	if a == nil || a.provider == nil {
		return nil, fmt.Errorf("%w: no session provider configured", domain.ErrUnauthenticated)
	}
	if creds.BearerToken == "" && creds.SessionID == "" {
		return nil, fmt.Errorf("%w: no credentials", domain.ErrUnauthenticated)
	}
	sc, err := a.provider.Resolve(ctx, creds)
	if err != nil {
		if !domain.IsUnauthenticated(err) {
			a.logger.Error().Err(err).Msg("session provider failed")
			err = fmt.Errorf("%w: %w", domain.ErrUnauthenticated, err)
		}
		return nil, err
	}
	if sc == nil || sc.UserID == "" {
		return nil, fmt.Errorf("%w: empty session", domain.ErrUnauthenticated)
	}
	if sc.IPAddress == "" {
		sc.IPAddress = creds.IPAddress
	}
	if sc.UserAgent == "" {
		sc.UserAgent = creds.UserAgent
	}
	return sc, nil
}

// Authorize exige que o contexto cubra todas as permissões pedidas.
func (a *AuthService) Authorize(sc *domain.SecurityContext, required []string) bool {
	if sc == nil {
		return false
	}
	for _, p := range required {
		if !sc.HasPermission(p) {
			return false
		}
	}
	return true
}

// CheckAccess combina Authorize com a exigência de conta verificada para endpoints sensíveis.
func (a *AuthService) CheckAccess(sc *domain.SecurityContext, required []string, sensitive bool) error {
	if !a.Authorize(sc, required) {
		return fmt.Errorf("%w: requires %s", domain.ErrInsufficientPermissions, strings.Join(required, ","))
	}
	if sensitive && !sc.IsVerified {
		return domain.ErrUnverified
	}
	return nil
}

// ValidateSession compara a sessão guardada com o request atual.
//
// Idade acima do máximo sempre nega, independente de IP e user-agent.
// Troca de IP sem proximidade e troca de user-agent pedem challenge.
func (a *AuthService) ValidateSession(ctx context.Context, sc *domain.SecurityContext, currentIP, currentUA string) domain.SessionVerdict {
	if a == nil || a.sessions == nil || sc == nil || sc.SessionID == "" {
		return domain.SessionVerdict{Action: domain.SessionAllow}
	}

	rec, err := a.sessions.Session(ctx, sc.SessionID)
	if err != nil {
		if errors.Is(err, domain.ErrSessionNotFound) {
			return domain.SessionVerdict{Action: domain.SessionDeny, Reason: "session_not_found"}
		}
		a.logger.Warn().Err(err).Str("session_id", sc.SessionID).Msg("session store unavailable, skipping integrity check")
		return domain.SessionVerdict{Action: domain.SessionAllow}
	}

	if !rec.CreatedAt.IsZero() && a.now().Sub(rec.CreatedAt) > a.maxAge {
		return domain.SessionVerdict{Action: domain.SessionDeny, Reason: "session_expired"}
	}
	if rec.IPAddress != "" && currentIP != "" && rec.IPAddress != currentIP {
		if a.proximity == nil || !a.proximity(rec.IPAddress, currentIP) {
			return domain.SessionVerdict{Action: domain.SessionChallenge, Reason: "ip_changed"}
		}
	}
	if rec.UserAgent != "" && currentUA != rec.UserAgent {
		return domain.SessionVerdict{Action: domain.SessionChallenge, Reason: "user_agent_changed"}
	}
	return domain.SessionVerdict{Action: domain.SessionAllow}
}
