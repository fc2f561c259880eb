package application

import (
	"testing"
	"time"

	"admission-gateway/middleware/admission/domain"
)

func TestPolicyMatcher_PrefersMostSpecificPattern(t *testing.T) {
	m, err := NewPolicyMatcher(DefaultPolicyTable())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	cases := map[string]string{
		"/api/leads/enrich/batch": "lead-enrich-batch",
		"/api/leads/42":           "leads",
		"/api/leads":              "leads",
		"/api/auth/login":         "auth",
		"/api/contacts/export":    "export",
		"/api/reports/generate":   "reports-generate",
		"/api/reports/7":          "api",
		"/api/unknown/thing":      "api",
		"/dashboard":              "global",
		"/":                       "global",
	}
	for path, want := range cases {
		if got := m.Match(path).Name; got != want {
			t.Errorf("Match(%q) = %q, want %q", path, got, want)
		}
	}
}

func TestPolicyMatcher_DoesNotMatchBySubstring(t *testing.T) {
	m, err := NewPolicyMatcher(PolicyTable{
		Endpoints: []domain.EndpointPolicy{
			{Name: "auth", Pattern: "/api/auth/**", Limit: 5, Window: time.Minute, Algorithm: domain.Sliding},
		},
		API:    domain.EndpointPolicy{Name: "api", Limit: 10, Window: time.Minute, Algorithm: domain.Sliding},
		Global: domain.EndpointPolicy{Name: "global", Limit: 10, Window: time.Minute, Algorithm: domain.Sliding},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// "/api/oauth-callback" contém "auth" mas não é o segmento /api/auth
	if got := m.Match("/api/oauth-callback").Name; got != "api" {
		t.Fatalf("expected generic api policy, got %q", got)
	}
	if got := m.Match("/v2/api/auth/login").Name; got != "global" {
		t.Fatalf("expected global policy, got %q", got)
	}
}

func TestPolicyMatcher_LiteralBeatsWildcard(t *testing.T) {
	m, err := NewPolicyMatcher(PolicyTable{
		Endpoints: []domain.EndpointPolicy{
			{Name: "any-export", Pattern: "/api/*/export", Limit: 5, Window: time.Minute, Algorithm: domain.Sliding},
			{Name: "lead-export", Pattern: "/api/leads/export", Limit: 1, Window: time.Minute, Algorithm: domain.Fixed},
		},
		API:    domain.EndpointPolicy{Name: "api", Limit: 10, Window: time.Minute, Algorithm: domain.Sliding},
		Global: domain.EndpointPolicy{Name: "global", Limit: 10, Window: time.Minute, Algorithm: domain.Sliding},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := m.Match("/api/leads/export").Name; got != "lead-export" {
		t.Fatalf("expected literal match, got %q", got)
	}
	if got := m.Match("/api/users/export").Name; got != "any-export" {
		t.Fatalf("expected wildcard match, got %q", got)
	}
}

func TestPolicyTable_ValidateRejectsBadEntries(t *testing.T) {
	table := DefaultPolicyTable()
	table.Endpoints = append(table.Endpoints,
		domain.EndpointPolicy{Name: "zero", Pattern: "/api/zero", Limit: 0, Window: time.Minute, Algorithm: domain.Sliding},
		domain.EndpointPolicy{Name: "mid", Pattern: "/api/**/x", Limit: 1, Window: time.Minute, Algorithm: domain.Sliding},
		domain.EndpointPolicy{Name: "algo", Pattern: "/api/algo", Limit: 1, Window: time.Minute, Algorithm: "leaky"},
	)
	if err := table.Validate(); err == nil {
		t.Fatalf("expected validation error")
	}
	if _, err := NewPolicyMatcher(table); err == nil {
		t.Fatalf("expected NewPolicyMatcher to fail")
	}
}

func TestPolicyTable_ProductionScaling(t *testing.T) {
	base := DefaultPolicyTable()

	dev := base.ForEnvironment("development")
	if dev.API.Limit != base.API.Limit {
		t.Fatalf("expected unscaled api limit in development, got %d", dev.API.Limit)
	}

	prod := base.ForEnvironment("production")
	if prod.API.Limit != 50 {
		t.Fatalf("expected api limit 50 in production, got %d", prod.API.Limit)
	}
	for i, p := range prod.Endpoints {
		if p.Limit > base.Endpoints[i].Limit || p.Limit < 1 {
			t.Fatalf("endpoint %q: scaled limit %d out of range", p.Name, p.Limit)
		}
	}
	if base.API.Limit != 100 {
		t.Fatalf("scaling must not mutate the source table")
	}
}
