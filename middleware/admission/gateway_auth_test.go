package admission

import (
	"context"
	"net/http"
	"testing"
	"time"

	"admission-gateway/middleware/admission/application"
	"admission-gateway/middleware/admission/domain"
)

// fakeSessions resolve tokens e devolve registros de sessão de um map.
type fakeSessions struct {
	contexts map[string]domain.SecurityContext
	records  map[string]domain.SessionRecord
}

func (f fakeSessions) Resolve(_ context.Context, creds domain.Credentials) (*domain.SecurityContext, error) {
	id := creds.BearerToken
	if id == "" {
		id = creds.SessionID
	}
	sc, ok := f.contexts[id]
	if !ok {
		return nil, domain.ErrUnauthenticated
	}
	return &sc, nil
}

func (f fakeSessions) Session(_ context.Context, id string) (*domain.SessionRecord, error) {
	rec, ok := f.records[id]
	if !ok {
		return nil, domain.ErrSessionNotFound
	}
	return &rec, nil
}

func newAuthGateway(t *testing.T, opts ...Option) *testGateway {
	t.Helper()
	sessions := fakeSessions{
		contexts: map[string]domain.SecurityContext{
			"tok-reader":   {UserID: "u1", SessionID: "s1", Permissions: []string{"leads:read"}},
			"tok-verified": {UserID: "u2", SessionID: "s2", Permissions: []string{"*"}, IsVerified: true},
			"tok-old":      {UserID: "u3", SessionID: "s3", Permissions: []string{"leads:read"}},
			"tok-ghost":    {UserID: "u4", SessionID: "s4", Permissions: []string{"leads:read"}},
		},
		records: map[string]domain.SessionRecord{
			"s1": {SessionID: "s1", IPAddress: "10.0.0.1", UserAgent: "agent/1", CreatedAt: testNow.Add(-time.Hour)},
			"s2": {SessionID: "s2", IPAddress: "10.0.0.1", UserAgent: "agent/1", CreatedAt: testNow.Add(-time.Hour)},
			"s3": {SessionID: "s3", IPAddress: "10.0.0.1", UserAgent: "agent/1", CreatedAt: testNow.Add(-25 * time.Hour)},
		},
	}
	auth := application.NewAuthService(sessions,
		application.WithSessionStore(sessions),
		application.WithAuthClock(testClock),
	)
	return newTestGateway(t, append([]Option{WithAuth(auth)}, opts...)...)
}

func authRequest(token, ua string) *http.Request {
	r := newRequest(http.MethodGet, "/api/leads/42", "")
	if token != "" {
		r.Header.Set("Authorization", "Bearer "+token)
	}
	r.Header.Set("User-Agent", ua)
	return r
}

func TestGateway_AuthenticationAndAuthorization(t *testing.T) {
	tg := newAuthGateway(t)

	var gotUser string
	read := tg.gw.Wrap(Route{RequireAuth: true, Permissions: []string{"leads:read"}}, func(w http.ResponseWriter, r *http.Request) error {
		sc, ok := SecurityContextFrom(r.Context())
		if !ok {
			t.Errorf("expected security context in handler")
			return nil
		}
		gotUser = sc.UserID
		return okHandler(w, r)
	})
	write := tg.gw.Wrap(Route{RequireAuth: true, Permissions: []string{"leads:read", "leads:write"}}, okHandler)
	sensitive := tg.gw.Wrap(Route{RequireAuth: true, Sensitive: true}, okHandler)

	cases := []struct {
		name  string
		h     http.Handler
		token string
		code  int
		err   string
	}{
		{"no credentials", read, "", http.StatusUnauthorized, "unauthenticated"},
		{"unknown token", read, "nope", http.StatusUnauthorized, "unauthenticated"},
		{"missing permission", write, "tok-reader", http.StatusForbidden, "insufficient_permissions"},
		{"unverified on sensitive", sensitive, "tok-reader", http.StatusForbidden, "verification_required"},
		{"verified on sensitive", sensitive, "tok-verified", http.StatusOK, ""},
		{"wildcard permission", write, "tok-verified", http.StatusOK, ""},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			w := serve(c.h, authRequest(c.token, "agent/1"))
			if w.Code != c.code {
				t.Fatalf("expected %d, got %d", c.code, w.Code)
			}
			if c.err != "" {
				if env := decodeEnvelope(t, w); env.Error != c.err {
					t.Fatalf("expected %s, got %+v", c.err, env)
				}
			}
		})
	}

	if w := serve(read, authRequest("tok-reader", "agent/1")); w.Code != http.StatusOK || gotUser != "u1" {
		t.Fatalf("expected handler to receive u1, got %d %q", w.Code, gotUser)
	}
}

func TestGateway_SessionCookieCredentials(t *testing.T) {
	tg := newAuthGateway(t)
	h := tg.gw.Wrap(Route{RequireAuth: true}, okHandler)

	r := authRequest("", "agent/1")
	r.AddCookie(&http.Cookie{Name: SessionCookie, Value: "tok-reader"})
	if w := serve(h, r); w.Code != http.StatusOK {
		t.Fatalf("expected cookie session to authenticate, got %d", w.Code)
	}
}

func TestGateway_SessionDenyIs401(t *testing.T) {
	tg := newAuthGateway(t)
	h := tg.gw.Wrap(Route{RequireAuth: true}, okHandler)

	for _, token := range []string{"tok-old", "tok-ghost"} {
		w := serve(h, authRequest(token, "agent/1"))
		if w.Code != http.StatusUnauthorized {
			t.Fatalf("%s: expected 401, got %d", token, w.Code)
		}
		if env := decodeEnvelope(t, w); env.Error != "session_invalid" {
			t.Fatalf("%s: unexpected envelope %+v", token, env)
		}
	}
	if tg.stats.Count(domain.AuditSessionSecurityFailed) != 2 {
		t.Fatalf("expected 2 session_security_failed events")
	}
}

func TestGateway_ChallengeModes(t *testing.T) {
	logMode := newAuthGateway(t)
	w := serve(logMode.gw.Wrap(Route{RequireAuth: true}, okHandler), authRequest("tok-reader", "other-agent/9"))
	if w.Code != http.StatusOK {
		t.Fatalf("expected challenge to be logged only, got %d", w.Code)
	}
	events := logMode.stats.Events()
	var challenged bool
	for _, ev := range events {
		if ev.Type == domain.AuditSessionSecurityFailed && ev.Details["action"] == "challenge" && ev.Details["reason"] == "user_agent_changed" {
			challenged = true
		}
	}
	if !challenged {
		t.Fatalf("expected challenge audit event, got %+v", events)
	}

	enforce := newAuthGateway(t, WithChallengeMode(ChallengeEnforce))
	r := authRequest("tok-reader", "agent/1")
	r.RemoteAddr = "172.16.5.5:1000"
	w = serve(enforce.gw.Wrap(Route{RequireAuth: true}, okHandler), r)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 in enforce mode, got %d", w.Code)
	}
	if w.Header().Get("WWW-Authenticate") != "StepUp" {
		t.Fatalf("expected StepUp challenge header")
	}
	if env := decodeEnvelope(t, w); env.Error != "step_up_required" {
		t.Fatalf("unexpected envelope %+v", env)
	}
}
