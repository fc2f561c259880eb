package admission

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"admission-gateway/middleware/admission/application"
	"admission-gateway/middleware/admission/domain"
	"admission-gateway/middleware/admission/infra"
)

// testPolicies acrescenta endpoints pequenos à tabela padrão.
func testPolicies() application.PolicyTable {
	t := application.DefaultPolicyTable()
	t.Endpoints = append(t.Endpoints,
		domain.EndpointPolicy{Name: "limited", Pattern: "/api/limited", Limit: 3, Window: time.Minute, Algorithm: domain.Sliding},
		domain.EndpointPolicy{Name: "bulk", Pattern: "/api/bulk", Limit: 100, Window: time.Minute, Algorithm: domain.Sliding},
		domain.EndpointPolicy{Name: "single", Pattern: "/api/single", Limit: 1, Window: time.Minute, Algorithm: domain.Sliding},
	)
	return t
}

var testNow = time.Date(2026, 5, 4, 10, 0, 30, 0, time.UTC)

func testClock() time.Time { return testNow }

type testGateway struct {
	gw      *Gateway
	counter *infra.MemoryCounterStore
	risk    *infra.MemoryRiskStore
	stats   *infra.MemoryStatsStore
}

func newTestGateway(t *testing.T, opts ...Option) *testGateway {
	t.Helper()
	tg := &testGateway{
		counter: infra.NewMemoryCounterStore(),
		risk:    infra.NewMemoryRiskStore(),
		stats:   infra.NewMemoryStatsStore(),
	}
	matcher, err := application.NewPolicyMatcher(testPolicies())
	if err != nil {
		t.Fatalf("failed to build matcher: %v", err)
	}
	engine := application.NewRiskEngine(tg.risk, application.WithRiskClock(testClock))
	limiter, err := application.NewRateLimiter(tg.counter, matcher,
		application.WithRiskEngine(engine),
		application.WithLimiterClock(testClock),
	)
	if err != nil {
		t.Fatalf("failed to create limiter: %v", err)
	}

	base := []Option{
		WithRateLimiter(limiter),
		WithRiskEngine(engine),
		WithAuditSink(tg.stats),
		WithClock(testClock),
	}
	tg.gw, err = New(append(base, opts...)...)
	if err != nil {
		t.Fatalf("failed to create gateway: %v", err)
	}
	return tg
}

func okHandler(w http.ResponseWriter, r *http.Request) error {
	w.WriteHeader(http.StatusOK)
	_, _ = io.WriteString(w, "ok")
	return nil
}

func newRequest(method, path, body string) *http.Request {
	var rd io.Reader
	if body != "" {
		rd = strings.NewReader(body)
	}
	r := httptest.NewRequest(method, "http://example"+path, rd)
	r.RemoteAddr = "10.0.0.1:1234"
	if body != "" {
		r.Header.Set("Content-Type", "application/json")
	}
	return r
}

func serve(h http.Handler, r *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	h.ServeHTTP(w, r)
	return w
}

func decodeEnvelope(t *testing.T, w *httptest.ResponseRecorder) envelope {
	t.Helper()
	var env envelope
	if err := json.Unmarshal(w.Body.Bytes(), &env); err != nil {
		t.Fatalf("expected json envelope, got %q", w.Body.String())
	}
	return env
}

func TestGateway_FourthRequestInWindowGets429(t *testing.T) {
	tg := newTestGateway(t)
	h := tg.gw.Wrap(Route{}, okHandler)

	for n := 1; n <= 3; n++ {
		w := serve(h, newRequest(http.MethodGet, "/api/limited", ""))
		if w.Code != http.StatusOK {
			t.Fatalf("request %d: expected 200, got %d", n, w.Code)
		}
		if got := w.Header().Get("X-RateLimit-Remaining"); got != strconv.Itoa(3-n) {
			t.Fatalf("request %d: expected remaining %d, got %q", n, 3-n, got)
		}
		if got := w.Header().Get("X-RateLimit-Limit"); got != "3" {
			t.Fatalf("expected X-RateLimit-Limit=3, got %q", got)
		}
	}

	w := serve(h, newRequest(http.MethodGet, "/api/limited", ""))
	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", w.Code)
	}
	retry, err := strconv.Atoi(w.Header().Get("Retry-After"))
	if err != nil || retry <= 0 || retry > 60 {
		t.Fatalf("expected 0 < Retry-After <= 60, got %q", w.Header().Get("Retry-After"))
	}
	env := decodeEnvelope(t, w)
	if env.Error != "rate_limit_exceeded" || env.RetryAfter != retry {
		t.Fatalf("unexpected envelope %+v", env)
	}
	if tg.stats.Count(domain.AuditRateLimitExceeded) != 1 {
		t.Fatalf("expected one rate_limit_exceeded event")
	}
}

func TestGateway_SuspiciousIdentityThrottledAtTwentyPercent(t *testing.T) {
	tg := newTestGateway(t)
	if _, err := tg.risk.Add(context.Background(), "ip:6.6.6.6", 12, application.DecayInterval, testNow); err != nil {
		t.Fatalf("failed to seed risk: %v", err)
	}
	h := tg.gw.Wrap(Route{}, okHandler)

	admitted := 0
	for i := 0; i < 100; i++ {
		r := newRequest(http.MethodGet, "/api/bulk", "")
		r.RemoteAddr = "6.6.6.6:4000"
		if serve(h, r).Code == http.StatusOK {
			admitted++
		}
	}
	if admitted != 20 {
		t.Fatalf("expected 20 admitted requests, got %d", admitted)
	}
}

func TestGateway_WrongContentTypeRejectedBeforeRateLimitAndAuth(t *testing.T) {
	tg := newTestGateway(t)
	h := tg.gw.Wrap(Route{RequireAuth: true}, okHandler)

	r := newRequest(http.MethodPost, "/api/limited", "hello")
	r.Header.Set("Content-Type", "text/plain")
	w := serve(h, r)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
	if env := decodeEnvelope(t, w); env.Error != "invalid_content_type" {
		t.Fatalf("unexpected envelope %+v", env)
	}
	if w.Header().Get("X-RateLimit-Limit") != "" || tg.counter.Len() != 0 {
		t.Fatalf("expected rate limiting to be skipped")
	}
}

func TestGateway_BasicValidation(t *testing.T) {
	tg := newTestGateway(t, WithMaxBodyBytes(16))
	h := tg.gw.Wrap(Route{}, okHandler)

	w := serve(h, newRequest("TRACE", "/api/x", ""))
	if w.Code != http.StatusMethodNotAllowed || !strings.Contains(w.Header().Get("Allow"), "GET") {
		t.Fatalf("expected 405 with Allow header, got %d %q", w.Code, w.Header().Get("Allow"))
	}

	w = serve(h, newRequest(http.MethodPost, "/api/x", `{"data":"this body is too long"}`))
	if w.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("expected 413, got %d", w.Code)
	}

	// DELETE sem body não precisa de content-type
	w = serve(h, newRequest(http.MethodDelete, "/api/x", ""))
	if w.Code != http.StatusOK {
		t.Fatalf("expected DELETE without body to pass, got %d", w.Code)
	}

	r := newRequest(http.MethodPost, "/api/x", `{"a":1}`)
	r.Header.Set("Content-Type", "application/json; charset=utf-8")
	if w = serve(h, r); w.Code != http.StatusOK {
		t.Fatalf("expected json with charset to pass, got %d", w.Code)
	}
}

func TestGateway_BlockedIPRejectedRegardlessOfBudget(t *testing.T) {
	gate, err := application.NewIPGate([]string{"203.0.113.0/24"})
	if err != nil {
		t.Fatalf("failed to create ip gate: %v", err)
	}
	tg := newTestGateway(t, WithIPGate(gate))
	h := tg.gw.Wrap(Route{}, okHandler)

	for i := 0; i < 3; i++ {
		r := newRequest(http.MethodGet, "/api/single", "")
		r.RemoteAddr = "203.0.113.7:999"
		w := serve(h, r)
		if w.Code != http.StatusForbidden {
			t.Fatalf("request %d: expected 403, got %d", i+1, w.Code)
		}
		if env := decodeEnvelope(t, w); env.Error != "ip_blocked" {
			t.Fatalf("unexpected envelope %+v", env)
		}
	}
	if tg.stats.Count(domain.AuditBlockedIPAttempt) != 3 || tg.stats.Count(domain.AuditRateLimitExceeded) != 0 {
		t.Fatalf("expected only blocked ip events, got %v", tg.stats.Types())
	}
	score, _ := tg.risk.Score(context.Background(), "ip:203.0.113.7", application.DecayInterval, testNow)
	if score != 3*domain.SeverityBlockedIP {
		t.Fatalf("expected risk score %d, got %d", 3*domain.SeverityBlockedIP, score)
	}

	// outro IP segue normalmente
	if w := serve(h, newRequest(http.MethodGet, "/api/single", "")); w.Code != http.StatusOK {
		t.Fatalf("expected clean ip to pass, got %d", w.Code)
	}
}

func TestGateway_InputScanning(t *testing.T) {
	tg := newTestGateway(t)
	var seen string
	h := tg.gw.Wrap(Route{}, func(w http.ResponseWriter, r *http.Request) error {
		b, _ := io.ReadAll(r.Body)
		seen = string(b)
		return okHandler(w, r)
	})

	body := `{"contact":"jane@example.com"}`
	w := serve(h, newRequest(http.MethodPost, "/api/notes", body))
	if w.Code != http.StatusOK {
		t.Fatalf("expected sensitive data to pass, got %d", w.Code)
	}
	if seen != body {
		t.Fatalf("expected handler to read the original body, got %q", seen)
	}
	if tg.stats.Count(domain.AuditSensitiveDataDetected) != 1 {
		t.Fatalf("expected sensitive_data_detected event, got %v", tg.stats.Types())
	}

	w = serve(h, newRequest(http.MethodPost, "/api/notes", `{"q":"' OR '1'='1"}`))
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for sql injection, got %d", w.Code)
	}
	if env := decodeEnvelope(t, w); env.Error != "malicious_input" {
		t.Fatalf("unexpected envelope %+v", env)
	}
	if tg.stats.Count(domain.AuditSQLInjectionAttempt) != 1 {
		t.Fatalf("expected sql_injection_attempt event")
	}

	w = serve(h, newRequest(http.MethodPut, "/api/notes", `{"html":"<script>alert(1)</script>"}`))
	if w.Code != http.StatusBadRequest || tg.stats.Count(domain.AuditXSSAttempt) != 1 {
		t.Fatalf("expected xss to be blocked and audited, got %d", w.Code)
	}

	score, _ := tg.risk.Score(context.Background(), "ip:10.0.0.1", application.DecayInterval, testNow)
	if score != domain.SeveritySQLInjection+domain.SeverityXSS {
		t.Fatalf("expected risk score %d, got %d", domain.SeveritySQLInjection+domain.SeverityXSS, score)
	}
}

func TestGateway_HandlerFailuresBecome500(t *testing.T) {
	tg := newTestGateway(t)

	panicking := tg.gw.Wrap(Route{}, func(w http.ResponseWriter, r *http.Request) error {
		panic("boom")
	})
	w := serve(panicking, newRequest(http.MethodGet, "/api/x", ""))
	if w.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500 on panic, got %d", w.Code)
	}
	env := decodeEnvelope(t, w)
	if env.Error != "internal_error" {
		t.Fatalf("unexpected envelope %+v", env)
	}
	if !devBuild && strings.Contains(env.Message, "boom") {
		t.Fatalf("expected no internal details outside dev builds, got %q", env.Message)
	}
	if w.Header().Get("X-Content-Type-Options") != "nosniff" {
		t.Fatalf("expected security headers on 500")
	}

	failing := tg.gw.Wrap(Route{}, func(w http.ResponseWriter, r *http.Request) error {
		return errors.New("db down")
	})
	if w = serve(failing, newRequest(http.MethodGet, "/api/x", "")); w.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500 on handler error, got %d", w.Code)
	}

	partial := tg.gw.Wrap(Route{}, func(w http.ResponseWriter, r *http.Request) error {
		w.WriteHeader(http.StatusAccepted)
		return errors.New("late failure")
	})
	if w = serve(partial, newRequest(http.MethodGet, "/api/x", "")); w.Code != http.StatusAccepted {
		t.Fatalf("expected status already written to be kept, got %d", w.Code)
	}

	if tg.stats.Count(domain.AuditHandlerError) != 3 {
		t.Fatalf("expected 3 handler_error events, got %d", tg.stats.Count(domain.AuditHandlerError))
	}
}

func TestGateway_ProtectWrapsPlainHandlers(t *testing.T) {
	tg := newTestGateway(t)
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if RequestIDFrom(r.Context()) == "" {
			t.Errorf("expected request id on context")
		}
		w.WriteHeader(http.StatusNoContent)
	})
	h := tg.gw.Protect(Route{})(next)

	r := newRequest(http.MethodGet, "/api/x", "")
	r.Header.Set(RequestIDHeader, "6f1c2a7e-3c1d-4d59-9a65-0f7e4c1e2b10")
	w := serve(h, r)
	if w.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", w.Code)
	}
	if got := w.Header().Get(RequestIDHeader); got != "6f1c2a7e-3c1d-4d59-9a65-0f7e4c1e2b10" {
		t.Fatalf("expected incoming request id to be kept, got %q", got)
	}

	r = newRequest(http.MethodGet, "/api/x", "")
	r.Header.Set(RequestIDHeader, "not-a-uuid")
	if got := serve(h, r).Header().Get(RequestIDHeader); got == "" || got == "not-a-uuid" {
		t.Fatalf("expected a fresh request id, got %q", got)
	}

	events := tg.stats.Events()
	if len(events) == 0 || events[0].Type != domain.AuditRequestValidated || events[0].RequestID == "" || events[0].ID == "" {
		t.Fatalf("expected request_validated event with ids, got %+v", events)
	}
}

func TestGateway_SecurityHeadersOnEveryResponse(t *testing.T) {
	tg := newTestGateway(t)
	h := tg.gw.Wrap(Route{RequireAuth: true}, okHandler)

	responses := []*httptest.ResponseRecorder{
		serve(h, newRequest(http.MethodGet, "/api/x", "")),
		serve(h, newRequest("TRACE", "/api/x", "")),
	}
	for i, w := range responses {
		for _, sh := range securityHeaders {
			if w.Header().Get(sh.name) != sh.value {
				t.Fatalf("response %d (%d): missing %s", i, w.Code, sh.name)
			}
		}
		if w.Header().Get(RequestIDHeader) == "" {
			t.Fatalf("response %d: missing request id", i)
		}
	}
}

func TestGateway_FailsOpenWithoutCounterStore(t *testing.T) {
	gw, err := New()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	w := serve(gw.Wrap(Route{}, okHandler), newRequest(http.MethodGet, "/api/x", ""))
	if w.Code != http.StatusOK {
		t.Fatalf("expected fail-open admission, got %d", w.Code)
	}
	if w.Header().Get("X-RateLimit-Remaining") != "0" || w.Header().Get("X-RateLimit-Degraded") != "true" {
		t.Fatalf("expected degraded headers, got %v", w.Header())
	}
}

func TestGateway_RotatingUserHeaderDoesNotEscapeLimit(t *testing.T) {
	tg := newTestGateway(t)
	h := tg.gw.Wrap(Route{}, okHandler)

	admitted := 0
	for i := 0; i < 20; i++ {
		r := newRequest(http.MethodGet, "/api/limited", "")
		r.Header.Set(DefaultUserHeader, "user-"+strconv.Itoa(i))
		if serve(h, r).Code == http.StatusOK {
			admitted++
		}
	}
	if admitted != 3 {
		t.Fatalf("expected the ip budget of 3 to apply, admitted %d", admitted)
	}
}

func TestGateway_ForwardedForFromUntrustedPeerCannotDodgeDenyList(t *testing.T) {
	gate, err := application.NewIPGate([]string{"203.0.113.0/24"})
	if err != nil {
		t.Fatalf("failed to create ip gate: %v", err)
	}
	proxies, err := application.NewProxySet("10.0.0.0/8")
	if err != nil {
		t.Fatalf("failed to build proxy set: %v", err)
	}
	tg := newTestGateway(t, WithIPGate(gate), WithTrustedProxies(proxies))
	h := tg.gw.Wrap(Route{}, okHandler)

	r := newRequest(http.MethodGet, "/api/bulk", "")
	r.RemoteAddr = "203.0.113.7:999"
	r.Header.Set("X-Forwarded-For", "192.0.2.1")
	if w := serve(h, r); w.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for deny-listed peer, got %d", w.Code)
	}

	// atrás de um proxy confiável o X-Forwarded-For é o cliente real
	r = newRequest(http.MethodGet, "/api/bulk", "")
	r.RemoteAddr = "10.0.0.2:999"
	r.Header.Set("X-Forwarded-For", "203.0.113.8")
	if w := serve(h, r); w.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for deny-listed client behind proxy, got %d", w.Code)
	}

	r = newRequest(http.MethodGet, "/api/bulk", "")
	r.RemoteAddr = "10.0.0.2:999"
	r.Header.Set("X-Forwarded-For", "192.0.2.1")
	r.Header.Set(DefaultUserHeader, "u-7")
	if w := serve(h, r); w.Code != http.StatusOK {
		t.Fatalf("expected clean client behind proxy to pass, got %d", w.Code)
	}
	if tg.stats.ByIdentity()["user:u-7"] == 0 {
		t.Fatalf("expected user identity from trusted proxy, got %v", tg.stats.ByIdentity())
	}
}

func TestGateway_BurstPolicyOnOperation(t *testing.T) {
	tg := newTestGateway(t)
	h := tg.gw.Wrap(Route{Operation: "batch-enrichment"}, okHandler)

	for i := 0; i < 3; i++ {
		if w := serve(h, newRequest(http.MethodGet, "/api/leads/enrich", "")); w.Code != http.StatusOK {
			t.Fatalf("request %d: expected 200, got %d", i+1, w.Code)
		}
	}
	w := serve(h, newRequest(http.MethodGet, "/api/leads/enrich", ""))
	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("expected burst cap to reject, got %d", w.Code)
	}
	if got := w.Header().Get("X-RateLimit-Policy"); got != "batch-enrichment" {
		t.Fatalf("expected burst policy header, got %q", got)
	}
	// janela fixa de 1m alinhada: 10:00:30 reseta às 10:01:00
	if got := w.Header().Get("Retry-After"); got != "30" {
		t.Fatalf("expected Retry-After up to the window boundary, got %q", got)
	}

	// o request barrado pelo burst não gastou o orçamento do endpoint
	res, err := tg.counter.SlidingWindow(context.Background(), "rl:leads:ip:10.0.0.1", 1000, time.Minute, testNow)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Count != 4 {
		t.Fatalf("expected 3 endpoint hits before this one, got count=%d", res.Count)
	}
}

func TestGateway_RouteEndpointByPolicyName(t *testing.T) {
	tg := newTestGateway(t)
	h := tg.gw.Wrap(Route{Endpoint: "single"}, okHandler)

	if w := serve(h, newRequest(http.MethodGet, "/v1/anything", "")); w.Code != http.StatusOK {
		t.Fatalf("expected first request admitted, got %d", w.Code)
	}
	w := serve(h, newRequest(http.MethodGet, "/v1/other", ""))
	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("expected the named policy (limit 1) to apply, got %d", w.Code)
	}
	if got := w.Header().Get("X-RateLimit-Policy"); got != "single" {
		t.Fatalf("expected policy header single, got %q", got)
	}
}

func TestGateway_WithDisabledPipelineIgnoredInProduction(t *testing.T) {
	tg := newTestGateway(t, WithDisabledPipeline(true), WithEnvironment("production"))

	r := newRequest(http.MethodPost, "/api/x", "hello")
	r.Header.Set("Content-Type", "text/plain")
	if w := serve(tg.gw.Wrap(Route{}, okHandler), r); w.Code != http.StatusBadRequest {
		t.Fatalf("expected pipeline to stay on in production, got %d", w.Code)
	}
}

func TestNew_RejectsUnknownChallengeMode(t *testing.T) {
	if _, err := New(WithChallengeMode("sometimes")); err == nil {
		t.Fatalf("expected error for unknown challenge mode")
	}
}
