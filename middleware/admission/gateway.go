package admission

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"runtime/debug"
	"sort"
	"strings"
	"time"

	"admission-gateway/middleware/admission/application"
	"admission-gateway/middleware/admission/domain"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// MaxBodyBytes é o maior body aceito no estágio de validação básica.
const MaxBodyBytes int64 = 10 << 20

// SessionCookie carrega o id da sessão quando o cliente não manda Authorization: Bearer.
const SessionCookie = "session_id"

// ChallengeMode decide o que fazer quando a integridade de sessão pede challenge.
type ChallengeMode string

const (
	// ChallengeLog audita e segue com o request.
	ChallengeLog ChallengeMode = "log"
	// ChallengeEnforce responde 401 step_up_required com WWW-Authenticate: StepUp.
	ChallengeEnforce ChallengeMode = "enforce"
)

// Nomes de estágio usados em auditoria e logs.
const (
	StageRequest   = "request_validation"
	StageRateLimit = "rate_limit"
	StageIPPolicy  = "ip_policy"
	StageAuth      = "authentication"
	StageInput     = "input_validation"
	StageSession   = "session_security"
	StageAdmit     = "admit"
	StageHandler   = "handler"
)

var defaultMethods = []string{
	http.MethodGet, http.MethodHead, http.MethodPost, http.MethodPut,
	http.MethodPatch, http.MethodDelete, http.MethodOptions,
}

// Route descreve os requisitos de um endpoint protegido.
type Route struct {
	// Endpoint escolhe a política de rate limit: um path ("/api/auth/login") ou
	// o nome de uma política ("auth"). Vazio usa o path do request.
	Endpoint    string
	RequireAuth bool
	// Permissions precisam estar todas no SecurityContext.
	Permissions []string
	// Sensitive exige conta verificada.
	Sensitive bool
	// Operation, se tiver política de burst, também é checada no estágio de rate limit.
	Operation string
}

// HandlerFunc é um handler que pode devolver erro; o Gateway converte em 500.
type HandlerFunc func(w http.ResponseWriter, r *http.Request) error

// Gateway executa o pipeline de admissão na frente de cada handler.
//
// Os colaboradores com estado (limiter, risco, filtro de IP, auth) são
// injetados; o Gateway em si não guarda estado por identidade.
type Gateway struct {
	limiter  *application.RateLimiter
	risk     *application.RiskEngine
	ipgate   *application.IPGate
	scanner  *application.Scanner
	auth     *application.AuthService
	sink     domain.AuditSink
	identity IdentityFunc
	proxies  *application.ProxySet

	methods   map[string]bool
	allow     string
	maxBody   int64
	challenge ChallengeMode
	env       string
	bypass    bool

	logger zerolog.Logger
	now    func() time.Time
}

type Option func(*Gateway)

func WithRateLimiter(l *application.RateLimiter) Option {
	return func(g *Gateway) { g.limiter = l }
}

// WithRiskEngine faz o Gateway registrar abuso (limite estourado, IP bloqueado,
// ataque no body, sessão negada). Para que o score reduza limites, o mesmo
// engine precisa estar no RateLimiter.
func WithRiskEngine(e *application.RiskEngine) Option {
	return func(g *Gateway) { g.risk = e }
}

func WithIPGate(ip *application.IPGate) Option {
	return func(g *Gateway) { g.ipgate = ip }
}

func WithScanner(s *application.Scanner) Option {
	return func(g *Gateway) { g.scanner = s }
}

func WithAuth(a *application.AuthService) Option {
	return func(g *Gateway) { g.auth = a }
}

func WithAuditSink(s domain.AuditSink) Option {
	return func(g *Gateway) { g.sink = s }
}

// WithTrustedProxies define de quais pares os headers X-Forwarded-For,
// X-Real-IP e o header de usuário são aceitos. Sem proxies, vale só RemoteAddr.
func WithTrustedProxies(p *application.ProxySet) Option {
	return func(g *Gateway) { g.proxies = p }
}

func WithIdentityFunc(fn IdentityFunc) Option {
	return func(g *Gateway) { g.identity = fn }
}

func WithAllowedMethods(methods ...string) Option {
	return func(g *Gateway) { g.setMethods(methods) }
}

func WithMaxBodyBytes(n int64) Option {
	return func(g *Gateway) { g.maxBody = n }
}

func WithChallengeMode(m ChallengeMode) Option {
	return func(g *Gateway) { g.challenge = m }
}

// WithEnvironment informa o ambiente (APP_ENV); "production" nunca aceita bypass.
func WithEnvironment(env string) Option {
	return func(g *Gateway) { g.env = env }
}

// WithDisabledPipeline pede para desligar o pipeline inteiro. Só tem efeito em
// binários compilados com -tags devgateway e fora de produção.
func WithDisabledPipeline(disabled bool) Option {
	return func(g *Gateway) { g.bypass = disabled }
}

func WithLogger(l zerolog.Logger) Option {
	return func(g *Gateway) { g.logger = l.With().Str("component", "gateway").Logger() }
}

func WithClock(now func() time.Time) Option {
	return func(g *Gateway) { g.now = now }
}

// New monta o Gateway. Sem RateLimiter, usa a tabela padrão sem store
// (todas as decisões fail-open).
func New(opts ...Option) (*Gateway, error) {
	g := &Gateway{
		maxBody:   MaxBodyBytes,
		challenge: ChallengeLog,
		logger:    zerolog.Nop(),
		now:       time.Now,
	}
	g.setMethods(defaultMethods)
	for _, opt := range opts {
		opt(g)
	}

	switch g.challenge {
	case ChallengeLog, ChallengeEnforce:
	default:
		return nil, fmt.Errorf("unknown challenge mode %q", g.challenge)
	}
	if g.maxBody <= 0 {
		return nil, fmt.Errorf("max body bytes must be positive, got %d", g.maxBody)
	}
	if g.limiter == nil {
		m, err := application.NewPolicyMatcher(application.DefaultPolicyTable().ForEnvironment(g.env))
		if err != nil {
			return nil, err
		}
		if g.limiter, err = application.NewRateLimiter(nil, m, application.WithLimiterLogger(g.logger)); err != nil {
			return nil, err
		}
	}
	if g.identity == nil {
		g.identity = HeaderIdentity(DefaultUserHeader, g.proxies)
	}
	if g.scanner == nil {
		g.scanner = application.NewScanner()
	}
	if g.auth == nil {
		g.auth = application.NewAuthService(nil)
	}

	if g.bypass {
		switch {
		case !devBuild:
			g.logger.Error().Msg("pipeline bypass requested but binary was built without the devgateway tag; ignoring")
			g.bypass = false
		case application.IsProduction(g.env):
			g.logger.Error().Str("environment", g.env).Msg("pipeline bypass is not allowed in production; ignoring")
			g.bypass = false
		default:
			g.logger.Warn().Msg("admission pipeline DISABLED, development build only")
		}
	}
	return g, nil
}

func (g *Gateway) setMethods(methods []string) {
	g.methods = make(map[string]bool, len(methods))
	list := make([]string, 0, len(methods))
	for _, m := range methods {
		m = strings.ToUpper(strings.TrimSpace(m))
		if m == "" || g.methods[m] {
			continue
		}
		g.methods[m] = true
		list = append(list, m)
	}
	sort.Strings(list)
	g.allow = strings.Join(list, ", ")
}

// Protect é o middleware net/http do pipeline para a rota.
func (g *Gateway) Protect(route Route) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return g.Wrap(route, func(w http.ResponseWriter, r *http.Request) error {
			next.ServeHTTP(w, r)
			return nil
		})
	}
}

// Wrap protege um HandlerFunc. O SecurityContext chega via SecurityContextFrom(r.Context()).
func (g *Gateway) Wrap(route Route, h HandlerFunc) http.Handler {
	if !g.limiter.HasPolicy(route.Endpoint) {
		g.logger.Error().Str("endpoint", route.Endpoint).Msg("route names an unknown rate limit policy; the global policy applies")
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		g.serve(w, r, route, h)
	})
}

// pass é o que se resolve uma vez por request e acompanha todos os estágios.
type pass struct {
	requestID string
	identity  domain.ClientIdentity
	ip        string
	route     Route
}

func (g *Gateway) serve(w http.ResponseWriter, r *http.Request, route Route, h HandlerFunc) {
	reqID := requestID(r)
	w.Header().Set(RequestIDHeader, reqID)
	SetSecurityHeaders(w.Header())
	r = r.WithContext(context.WithValue(r.Context(), requestIDKey, reqID))

	p := &pass{
		requestID: reqID,
		identity:  g.identity(r),
		ip:        ClientIP(r, g.proxies),
		route:     route,
	}

	if g.bypass {
		g.invoke(w, r, p, h)
		return
	}

	body, err := g.validateRequest(r)
	if err != nil {
		g.reject(w, r, p, StageRequest, err)
		return
	}

	if err := g.checkRateLimit(w, r, p); err != nil {
		g.reject(w, r, p, StageRateLimit, err)
		return
	}

	if g.ipgate.IsBlocked(p.ip) {
		g.reject(w, r, p, StageIPPolicy, g.blockedIP(r, p))
		return
	}

	var sc *domain.SecurityContext
	if route.RequireAuth {
		if sc, err = g.authenticate(r, p); err != nil {
			g.reject(w, r, p, StageAuth, err)
			return
		}
	}

	if hasBody(r.Method) {
		if err := g.scanInput(r, p, body); err != nil {
			g.reject(w, r, p, StageInput, err)
			return
		}
	}

	if sc != nil {
		if err := g.checkSession(r, p, sc); err != nil {
			g.reject(w, r, p, StageSession, err)
			return
		}
	}

	g.admit(w, r, p, sc, h)
}

// Estágio 1.
func (g *Gateway) validateRequest(r *http.Request) ([]byte, error) {
	if !g.methods[r.Method] {
		return nil, fmt.Errorf("%w: %s", domain.ErrMethodNotAllowed, r.Method)
	}
	if needsJSON(r) {
		mt, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
		if err != nil || mt != "application/json" {
			return nil, &Rejection{
				Err:     fmt.Errorf("%w: content-type %q", domain.ErrMalformedRequest, r.Header.Get("Content-Type")),
				Status:  http.StatusBadRequest,
				Code:    "invalid_content_type",
				Message: "content-type must be application/json",
			}
		}
	}
	if r.ContentLength > g.maxBody {
		return nil, fmt.Errorf("%w: content-length %d", domain.ErrPayloadTooLarge, r.ContentLength)
	}
	if !hasBody(r.Method) || r.Body == nil || r.Body == http.NoBody {
		return nil, nil
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, g.maxBody+1))
	_ = r.Body.Close()
	if err != nil {
		return nil, fmt.Errorf("%w: reading body: %w", domain.ErrMalformedRequest, err)
	}
	if int64(len(body)) > g.maxBody {
		return nil, fmt.Errorf("%w: body exceeds %d bytes", domain.ErrPayloadTooLarge, g.maxBody)
	}
	// o handler lê o mesmo body que foi escaneado
	r.Body = io.NopCloser(bytes.NewReader(body))
	return body, nil
}

// Estágio 2. Um IP da deny-list recebe 403 mesmo com o orçamento esgotado.
//
// O burst da operação é checado antes do endpoint: um request barrado pelo
// burst não gasta o orçamento do endpoint. O contrário não vale; um request
// barrado pelo endpoint já contou no burst.
func (g *Gateway) checkRateLimit(w http.ResponseWriter, r *http.Request, p *pass) error {
	endpoint := p.route.Endpoint
	if endpoint == "" {
		endpoint = r.URL.Path
	}
	var (
		dec  domain.Decision
		kind = "endpoint"
	)
	if p.route.Operation != "" {
		if burst, ok := g.limiter.CheckBurst(r.Context(), p.identity, p.route.Operation); ok && !burst.Admitted {
			dec, kind = burst, "burst"
		}
	}
	if kind == "endpoint" {
		dec = g.limiter.Check(r.Context(), p.identity, g.limiter.Policy(endpoint))
	}
	setRateLimitHeaders(w.Header(), dec)
	if dec.Admitted {
		return nil
	}

	if g.ipgate.IsBlocked(p.ip) {
		return g.blockedIP(r, p)
	}

	g.audit(r, p, domain.AuditRateLimitExceeded, StageRateLimit, map[string]any{
		"policy":   dec.Policy,
		"kind":     kind,
		"limit":    dec.Limit,
		"reset_at": dec.ResetAt.Unix(),
	})
	g.recordAbuse(r, p, domain.SeverityLimitExceeded)
	return &Rejection{
		Err:        fmt.Errorf("%w: policy %s", domain.ErrLimitExceeded, dec.Policy),
		Status:     http.StatusTooManyRequests,
		Code:       "rate_limit_exceeded",
		Message:    "too many requests, retry later",
		RetryAfter: dec.RetryAfter(g.now()),
	}
}

// Estágio 3.
func (g *Gateway) blockedIP(r *http.Request, p *pass) error {
	g.audit(r, p, domain.AuditBlockedIPAttempt, StageIPPolicy, map[string]any{"ip": p.ip})
	g.recordAbuse(r, p, domain.SeverityBlockedIP)
	return fmt.Errorf("%w: %s", domain.ErrBlocked, p.ip)
}

// Estágio 4.
func (g *Gateway) authenticate(r *http.Request, p *pass) (*domain.SecurityContext, error) {
	sc, err := g.auth.Authenticate(r.Context(), credentials(r, p.ip))
	if err != nil {
		return nil, err
	}
	if err := g.auth.CheckAccess(sc, p.route.Permissions, p.route.Sensitive); err != nil {
		return nil, err
	}
	return sc, nil
}

func credentials(r *http.Request, ip string) domain.Credentials {
	c := domain.Credentials{IPAddress: ip, UserAgent: r.UserAgent()}
	if scheme, token, ok := strings.Cut(r.Header.Get("Authorization"), " "); ok && strings.EqualFold(scheme, "Bearer") {
		c.BearerToken = strings.TrimSpace(token)
	}
	if ck, err := r.Cookie(SessionCookie); err == nil {
		c.SessionID = ck.Value
	}
	return c
}

// Estágio 5. Dado sensível só audita; SQLi/XSS bloqueiam e contam como abuso.
func (g *Gateway) scanInput(r *http.Request, p *pass, body []byte) error {
	res := g.scanner.Scan(body)

	var sensitive []string
	blocking := map[domain.ThreatCategory][]string{}
	for _, f := range res.Findings {
		if f.Category.Blocking() {
			blocking[f.Category] = append(blocking[f.Category], f.Pattern)
			continue
		}
		sensitive = append(sensitive, f.Pattern)
	}
	if len(sensitive) > 0 {
		g.audit(r, p, domain.AuditSensitiveDataDetected, StageInput, map[string]any{"patterns": sensitive})
	}
	if !res.Blocked {
		return nil
	}

	if patterns, ok := blocking[domain.ThreatSQLInjection]; ok {
		g.audit(r, p, domain.AuditSQLInjectionAttempt, StageInput, map[string]any{"patterns": patterns})
		g.recordAbuse(r, p, domain.SeveritySQLInjection)
	}
	if patterns, ok := blocking[domain.ThreatXSS]; ok {
		g.audit(r, p, domain.AuditXSSAttempt, StageInput, map[string]any{"patterns": patterns})
		g.recordAbuse(r, p, domain.SeverityXSS)
	}
	return domain.ErrThreatDetected
}

// Estágio 6.
func (g *Gateway) checkSession(r *http.Request, p *pass, sc *domain.SecurityContext) error {
	v := g.auth.ValidateSession(r.Context(), sc, p.ip, r.UserAgent())
	switch v.Action {
	case domain.SessionDeny:
		g.audit(r, p, domain.AuditSessionSecurityFailed, StageSession, map[string]any{
			"action": string(v.Action),
			"reason": v.Reason,
		})
		g.recordAbuse(r, p, domain.SeveritySessionDenied)
		return fmt.Errorf("%w: %s", domain.ErrSessionInvalid, v.Reason)

	case domain.SessionChallenge:
		g.audit(r, p, domain.AuditSessionSecurityFailed, StageSession, map[string]any{
			"action": string(v.Action),
			"reason": v.Reason,
			"mode":   string(g.challenge),
		})
		if g.challenge == ChallengeEnforce {
			return fmt.Errorf("%w: %s", domain.ErrChallengeRequired, v.Reason)
		}
		g.logger.Info().
			Str("request_id", p.requestID).
			Str("user_id", sc.UserID).
			Str("reason", v.Reason).
			Msg("session challenge not enforced")
	}
	return nil
}

// Estágio 7.
func (g *Gateway) admit(w http.ResponseWriter, r *http.Request, p *pass, sc *domain.SecurityContext, h HandlerFunc) {
	details := map[string]any{}
	if sc != nil {
		details["user_id"] = sc.UserID
	}
	g.audit(r, p, domain.AuditRequestValidated, StageAdmit, details)

	if sc != nil {
		r = r.WithContext(context.WithValue(r.Context(), securityContextKey, sc))
	}
	g.invoke(w, r, p, h)
}

func (g *Gateway) invoke(w http.ResponseWriter, r *http.Request, p *pass, h HandlerFunc) {
	rw := &responseWriter{ResponseWriter: w}
	defer func() {
		if v := recover(); v != nil {
			if v == http.ErrAbortHandler {
				panic(v)
			}
			g.handlerFailed(rw, r, p, fmt.Errorf("panic: %v", v), debug.Stack())
		}
	}()
	if err := h(rw, r); err != nil {
		g.handlerFailed(rw, r, p, err, nil)
	}
}

func (g *Gateway) handlerFailed(rw *responseWriter, r *http.Request, p *pass, err error, stack []byte) {
	g.logger.Error().
		Err(err).
		Str("request_id", p.requestID).
		Str("method", r.Method).
		Str("path", r.URL.Path).
		Bool("panic", stack != nil).
		Msg("handler failed")
	g.audit(r, p, domain.AuditHandlerError, StageHandler, map[string]any{
		"error": err.Error(),
		"panic": stack != nil,
	})

	if rw.wroteHeader {
		// resposta já começou; só resta o log
		return
	}
	msg := "internal server error"
	if devBuild {
		msg = err.Error()
		if stack != nil {
			msg += "\n" + string(stack)
		}
	}
	writeRejection(rw, &Rejection{
		Err:     fmt.Errorf("%w: %w", domain.ErrInternal, err),
		Status:  http.StatusInternalServerError,
		Code:    "internal_error",
		Message: msg,
	})
}

func (g *Gateway) reject(w http.ResponseWriter, r *http.Request, p *pass, stage string, err error) {
	rej := RejectionFor(err)
	switch {
	case errors.Is(err, domain.ErrMethodNotAllowed):
		w.Header().Set("Allow", g.allow)
	case errors.Is(err, domain.ErrChallengeRequired):
		w.Header().Set("WWW-Authenticate", "StepUp")
	}

	g.logger.Debug().
		Err(err).
		Str("request_id", p.requestID).
		Str("identity", p.identity.String()).
		Str("stage", stage).
		Int("status", rej.Status).
		Msg("request rejected")
	writeRejection(w, rej)
}

func (g *Gateway) recordAbuse(r *http.Request, p *pass, severity int) {
	if g.risk == nil {
		return
	}
	g.risk.RecordAbuse(r.Context(), p.identity.String(), severity)
}

// audit é best-effort: erro no sink vira log, nunca derruba o request.
func (g *Gateway) audit(r *http.Request, p *pass, t domain.AuditType, stage string, details map[string]any) {
	if g.sink == nil {
		return
	}
	ev := domain.AuditEvent{
		ID:        uuid.NewString(),
		RequestID: p.requestID,
		Type:      t,
		Identity:  p.identity.String(),
		Method:    r.Method,
		Path:      r.URL.Path,
		Stage:     stage,
		Details:   details,
		At:        g.now(),
	}
	if err := g.sink.Record(context.WithoutCancel(r.Context()), ev); err != nil {
		g.logger.Warn().Err(err).Str("event", string(t)).Str("request_id", p.requestID).Msg("audit sink failed")
	}
}

// requestID reaproveita um X-Request-ID de entrada se for um uuid válido.
func requestID(r *http.Request) string {
	if v := strings.TrimSpace(r.Header.Get(RequestIDHeader)); v != "" {
		if id, err := uuid.Parse(v); err == nil {
			return id.String()
		}
	}
	return uuid.NewString()
}

func hasBody(method string) bool {
	return method != http.MethodGet && method != http.MethodHead
}

// needsJSON: POST/PUT/PATCH sempre; DELETE/OPTIONS só quando trazem body ou content-type.
func needsJSON(r *http.Request) bool {
	switch r.Method {
	case http.MethodPost, http.MethodPut, http.MethodPatch:
		return true
	case http.MethodGet, http.MethodHead:
		return false
	default:
		return r.ContentLength != 0 || r.Header.Get("Content-Type") != ""
	}
}

// responseWriter registra se o handler já começou a resposta.
type responseWriter struct {
	http.ResponseWriter
	wroteHeader bool
}

func (w *responseWriter) WriteHeader(code int) {
	w.wroteHeader = true
	w.ResponseWriter.WriteHeader(code)
}

func (w *responseWriter) Write(b []byte) (int, error) {
	w.wroteHeader = true
	return w.ResponseWriter.Write(b)
}

func (w *responseWriter) Flush() {
	if f, ok := w.ResponseWriter.(http.Flusher); ok {
		w.wroteHeader = true
		f.Flush()
	}
}

func (w *responseWriter) Unwrap() http.ResponseWriter { return w.ResponseWriter }
