package application

import (
	"context"
	"errors"
	"testing"
	"time"

	"admission-gateway/middleware/admission/domain"
)

type fakeProvider struct {
	sc  *domain.SecurityContext
	err error
}

func (f fakeProvider) Resolve(context.Context, domain.Credentials) (*domain.SecurityContext, error) {
	return f.sc, f.err
}

type fakeSessions struct {
	rec *domain.SessionRecord
	err error
}

func (f fakeSessions) Session(context.Context, string) (*domain.SessionRecord, error) {
	return f.rec, f.err
}

var authNow = time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)

func newTestAuth(rec *domain.SessionRecord, err error) *AuthService {
	return NewAuthService(fakeProvider{},
		WithSessionStore(fakeSessions{rec: rec, err: err}),
		WithAuthClock(func() time.Time { return authNow }),
	)
}

func TestAuthService_AuthenticateFailures(t *testing.T) {
	ctx := context.Background()

	a := NewAuthService(nil)
	if _, err := a.Authenticate(ctx, domain.Credentials{BearerToken: "t"}); !domain.IsUnauthenticated(err) {
		t.Fatalf("expected unauthenticated without provider, got %v", err)
	}

	a = NewAuthService(fakeProvider{sc: &domain.SecurityContext{UserID: "u1"}})
	if _, err := a.Authenticate(ctx, domain.Credentials{}); !domain.IsUnauthenticated(err) {
		t.Fatalf("expected unauthenticated without credentials, got %v", err)
	}

	a = NewAuthService(fakeProvider{err: errors.New("idp timeout")})
	_, err := a.Authenticate(ctx, domain.Credentials{SessionID: "s1"})
	if !domain.IsUnauthenticated(err) {
		t.Fatalf("expected provider failure to map to unauthenticated, got %v", err)
	}

	a = NewAuthService(fakeProvider{sc: &domain.SecurityContext{}})
	if _, err := a.Authenticate(ctx, domain.Credentials{SessionID: "s1"}); !domain.IsUnauthenticated(err) {
		t.Fatalf("expected empty user to be unauthenticated, got %v", err)
	}
}

func TestAuthService_AuthenticateFillsRequestData(t *testing.T) {
	a := NewAuthService(fakeProvider{sc: &domain.SecurityContext{UserID: "u1", SessionID: "s1"}})
	sc, err := a.Authenticate(context.Background(), domain.Credentials{BearerToken: "t", IPAddress: "10.0.0.1", UserAgent: "ua"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if sc.IPAddress != "10.0.0.1" || sc.UserAgent != "ua" {
		t.Fatalf("expected request ip/ua on context, got %+v", sc)
	}
}

func TestAuthService_CheckAccess(t *testing.T) {
	a := NewAuthService(nil)
	sc := &domain.SecurityContext{UserID: "u1", Permissions: []string{"leads:read", "leads:write"}}

	if err := a.CheckAccess(sc, []string{"leads:read"}, false); err != nil {
		t.Fatalf("expected access, got %v", err)
	}
	if err := a.CheckAccess(sc, []string{"leads:read", "reports:generate"}, false); !errors.Is(err, domain.ErrInsufficientPermissions) {
		t.Fatalf("expected insufficient permissions, got %v", err)
	}
	if err := a.CheckAccess(sc, nil, true); !errors.Is(err, domain.ErrUnverified) {
		t.Fatalf("expected unverified, got %v", err)
	}
	sc.IsVerified = true
	if err := a.CheckAccess(sc, nil, true); err != nil {
		t.Fatalf("expected verified access, got %v", err)
	}

	admin := &domain.SecurityContext{UserID: "root", Permissions: []string{"*"}}
	if !a.Authorize(admin, []string{"anything", "else"}) {
		t.Fatalf("expected wildcard permission to cover everything")
	}
}

func TestAuthService_ValidateSession(t *testing.T) {
	sc := &domain.SecurityContext{UserID: "u1", SessionID: "s1"}
	fresh := authNow.Add(-time.Hour)

	cases := []struct {
		name   string
		rec    *domain.SessionRecord
		err    error
		ip, ua string
		want   domain.SessionAction
		reason string
	}{
		{"same device", &domain.SessionRecord{IPAddress: "10.0.0.1", UserAgent: "ua", CreatedAt: fresh}, nil, "10.0.0.1", "ua", domain.SessionAllow, ""},
		{"nearby ip", &domain.SessionRecord{IPAddress: "10.0.0.1", UserAgent: "ua", CreatedAt: fresh}, nil, "10.0.0.77", "ua", domain.SessionAllow, ""},
		{"far ip", &domain.SessionRecord{IPAddress: "10.0.0.1", UserAgent: "ua", CreatedAt: fresh}, nil, "172.16.5.5", "ua", domain.SessionChallenge, "ip_changed"},
		{"new user agent", &domain.SessionRecord{IPAddress: "10.0.0.1", UserAgent: "ua", CreatedAt: fresh}, nil, "10.0.0.1", "other", domain.SessionChallenge, "user_agent_changed"},
		{"expired matching", &domain.SessionRecord{IPAddress: "10.0.0.1", UserAgent: "ua", CreatedAt: authNow.Add(-25 * time.Hour)}, nil, "10.0.0.1", "ua", domain.SessionDeny, "session_expired"},
		{"expired drifting", &domain.SessionRecord{IPAddress: "10.0.0.1", UserAgent: "ua", CreatedAt: authNow.Add(-48 * time.Hour)}, nil, "172.16.5.5", "other", domain.SessionDeny, "session_expired"},
		{"missing", nil, domain.ErrSessionNotFound, "10.0.0.1", "ua", domain.SessionDeny, "session_not_found"},
		{"store down", nil, errors.New("dial tcp: refused"), "10.0.0.1", "ua", domain.SessionAllow, ""},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			got := newTestAuth(c.rec, c.err).ValidateSession(context.Background(), sc, c.ip, c.ua)
			if got.Action != c.want || got.Reason != c.reason {
				t.Fatalf("expected %s/%q, got %s/%q", c.want, c.reason, got.Action, got.Reason)
			}
		})
	}
}

func TestSamePrefixProximity(t *testing.T) {
	if !SamePrefixProximity("192.0.2.10", "192.0.2.200") {
		t.Fatalf("expected same /24 to be near")
	}
	if SamePrefixProximity("192.0.2.10", "192.0.3.10") {
		t.Fatalf("expected different /24 to be far")
	}
	if !SamePrefixProximity("2001:db8:1::1", "2001:db8:1:ffff::2") {
		t.Fatalf("expected same /48 to be near")
	}
	if SamePrefixProximity("192.0.2.10", "2001:db8::1") || SamePrefixProximity("bad", "192.0.2.1") {
		t.Fatalf("expected mixed families and garbage to be far")
	}
}
