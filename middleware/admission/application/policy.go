package application

import (
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"admission-gateway/middleware/admission/domain"
)

// ProductionMultiplier deixa todos os limites mais estritos em produção.
const ProductionMultiplier = 0.5

// PolicyTable é a fonte única das políticas de limite: uma entrada por endpoint
// lógico, uma política genérica para /api e uma global para o resto.
// Bursts são políticas de janela fixa por operação custosa.
type PolicyTable struct {
	Endpoints []domain.EndpointPolicy
	Bursts    map[string]domain.EndpointPolicy
	API       domain.EndpointPolicy
	Global    domain.EndpointPolicy
}

// DefaultPolicyTable é usada quando nenhum arquivo de políticas é informado.
func DefaultPolicyTable() PolicyTable {
	return PolicyTable{
		Endpoints: []domain.EndpointPolicy{
			{Name: "auth", Pattern: "/api/auth/**", Limit: 10, Window: time.Minute, Algorithm: domain.Sliding},
			{Name: "ai", Pattern: "/api/ai/**", Limit: 20, Window: time.Minute, Algorithm: domain.Sliding},
			{Name: "leads", Pattern: "/api/leads/**", Limit: 60, Window: time.Minute, Algorithm: domain.Sliding},
			{Name: "lead-enrich-batch", Pattern: "/api/leads/enrich/batch", Limit: 5, Window: time.Hour, Algorithm: domain.Fixed},
			{Name: "reports-generate", Pattern: "/api/reports/generate", Limit: 10, Window: time.Hour, Algorithm: domain.Fixed},
			{Name: "export", Pattern: "/api/*/export", Limit: 10, Window: 10 * time.Minute, Algorithm: domain.Sliding},
		},
		Bursts: map[string]domain.EndpointPolicy{
			"batch-enrichment":  {Name: "batch-enrichment", Limit: 3, Window: time.Minute, Algorithm: domain.Fixed},
			"report-generation": {Name: "report-generation", Limit: 5, Window: time.Minute, Algorithm: domain.Fixed},
		},
		API:    domain.EndpointPolicy{Name: "api", Pattern: "/api/**", Limit: 100, Window: time.Minute, Algorithm: domain.Sliding},
		Global: domain.EndpointPolicy{Name: "global", Pattern: "/**", Limit: 300, Window: time.Minute, Algorithm: domain.Sliding},
	}
}

// Validate checa limites, janelas, algoritmos e padrões de todas as entradas.
func (t PolicyTable) Validate() error {
	var errs []error
	seen := make(map[string]bool, len(t.Endpoints))
	names := map[string]bool{t.API.Name: true, t.Global.Name: true}
	for _, p := range t.Endpoints {
		if err := validatePolicy(p, true); err != nil {
			errs = append(errs, err)
			continue
		}
		if seen[p.Pattern] {
			errs = append(errs, fmt.Errorf("duplicate endpoint pattern %q", p.Pattern))
		}
		seen[p.Pattern] = true
		if names[p.Name] {
			errs = append(errs, fmt.Errorf("duplicate endpoint name %q", p.Name))
		}
		names[p.Name] = true
	}
	for op, p := range t.Bursts {
		if p.Algorithm != domain.Fixed {
			errs = append(errs, fmt.Errorf("burst %q must use the fixed algorithm", op))
		}
		if err := validatePolicy(p, false); err != nil {
			errs = append(errs, fmt.Errorf("burst %q: %w", op, err))
		}
	}
	if err := validatePolicy(t.API, false); err != nil {
		errs = append(errs, fmt.Errorf("api policy: %w", err))
	}
	if err := validatePolicy(t.Global, false); err != nil {
		errs = append(errs, fmt.Errorf("global policy: %w", err))
	}
	return errors.Join(errs...)
}

func validatePolicy(p domain.EndpointPolicy, needPattern bool) error {
	if p.Name == "" {
		return fmt.Errorf("policy %q has no name", p.Pattern)
	}
	if p.Limit <= 0 {
		return fmt.Errorf("policy %q: limit must be > 0", p.Name)
	}
	if p.Window <= 0 {
		return fmt.Errorf("policy %q: window must be > 0", p.Name)
	}
	if p.Algorithm != domain.Sliding && p.Algorithm != domain.Fixed {
		return fmt.Errorf("policy %q: unknown algorithm %q", p.Name, p.Algorithm)
	}
	if !needPattern {
		return nil
	}
	if !strings.HasPrefix(p.Pattern, "/") {
		return fmt.Errorf("policy %q: pattern must start with /", p.Name)
	}
	segs := splitPath(p.Pattern)
	for i, s := range segs {
		if s == "**" && i != len(segs)-1 {
			return fmt.Errorf("policy %q: ** is only allowed as the last segment", p.Name)
		}
	}
	return nil
}

// Scaled devolve uma cópia com todos os limites multiplicados por mult
// (arredondado para baixo, mínimo 1).
func (t PolicyTable) Scaled(mult float64) PolicyTable {
	scale := func(p domain.EndpointPolicy) domain.EndpointPolicy {
		p.Limit = int(math.Floor(float64(p.Limit) * mult))
		if p.Limit < 1 {
			p.Limit = 1
		}
		return p
	}
	out := PolicyTable{
		Endpoints: make([]domain.EndpointPolicy, len(t.Endpoints)),
		Bursts:    make(map[string]domain.EndpointPolicy, len(t.Bursts)),
		API:       scale(t.API),
		Global:    scale(t.Global),
	}
	for i, p := range t.Endpoints {
		out.Endpoints[i] = scale(p)
	}
	for op, p := range t.Bursts {
		out.Bursts[op] = scale(p)
	}
	return out
}

// ForEnvironment aplica ProductionMultiplier quando env é "production".
func (t PolicyTable) ForEnvironment(env string) PolicyTable {
	if IsProduction(env) {
		return t.Scaled(ProductionMultiplier)
	}
	return t
}

func IsProduction(env string) bool {
	switch strings.ToLower(strings.TrimSpace(env)) {
	case "production", "prod":
		return true
	}
	return false
}

// PolicyMatcher seleciona a política de um path por segmentos:
// segmento literal > "*" (um segmento) > "**" (zero ou mais segmentos finais).
// É imutável depois de construído e seguro para uso concorrente.
type PolicyMatcher struct {
	root   *policyNode
	api    domain.EndpointPolicy
	global domain.EndpointPolicy
	named  map[string]domain.EndpointPolicy
	bursts map[string]domain.EndpointPolicy
}

type policyNode struct {
	children map[string]*policyNode
	star     *policyNode
	policy   *domain.EndpointPolicy
	rest     *domain.EndpointPolicy
}

func newPolicyNode() *policyNode {
	return &policyNode{children: make(map[string]*policyNode)}
}

func NewPolicyMatcher(t PolicyTable) (*PolicyMatcher, error) {
	if err := t.Validate(); err != nil {
		return nil, fmt.Errorf("invalid policy table: %w", err)
	}
	m := &PolicyMatcher{
		root:   newPolicyNode(),
		api:    t.API,
		global: t.Global,
		named:  make(map[string]domain.EndpointPolicy, len(t.Endpoints)+2),
		bursts: make(map[string]domain.EndpointPolicy, len(t.Bursts)),
	}
	for op, p := range t.Bursts {
		m.bursts[op] = p
	}
	m.named[t.API.Name] = t.API
	m.named[t.Global.Name] = t.Global
	for i := range t.Endpoints {
		p := t.Endpoints[i]
		m.insert(splitPath(p.Pattern), &p)
		m.named[p.Name] = p
	}
	return m, nil
}

func (m *PolicyMatcher) insert(segs []string, p *domain.EndpointPolicy) {
	n := m.root
	for _, s := range segs {
		switch s {
		case "**":
			n.rest = p
			return
		case "*":
			if n.star == nil {
				n.star = newPolicyNode()
			}
			n = n.star
		default:
			c, ok := n.children[s]
			if !ok {
				c = newPolicyNode()
				n.children[s] = c
			}
			n = c
		}
	}
	n.policy = p
}

// Match devolve exatamente uma política para o path.
func (m *PolicyMatcher) Match(path string) domain.EndpointPolicy {
	segs := splitPath(path)
	if p := m.root.match(segs); p != nil {
		return *p
	}
	if len(segs) > 0 && segs[0] == "api" {
		return m.api
	}
	return m.global
}

func (n *policyNode) match(segs []string) *domain.EndpointPolicy {
	if len(segs) == 0 {
		if n.policy != nil {
			return n.policy
		}
		return n.rest
	}
	if c, ok := n.children[segs[0]]; ok {
		if p := c.match(segs[1:]); p != nil {
			return p
		}
	}
	if n.star != nil {
		if p := n.star.match(segs[1:]); p != nil {
			return p
		}
	}
	return n.rest
}

// Named devolve a política pelo nome lógico ("auth", "api", "global").
func (m *PolicyMatcher) Named(name string) (domain.EndpointPolicy, bool) {
	p, ok := m.named[name]
	return p, ok
}

// Burst devolve a política de burst de uma operação, se existir.
func (m *PolicyMatcher) Burst(operation string) (domain.EndpointPolicy, bool) {
	p, ok := m.bursts[operation]
	return p, ok
}

func splitPath(p string) []string {
	parts := strings.Split(p, "/")
	out := parts[:0]
	for _, s := range parts {
		if s != "" {
			out = append(out, s)
		}
	}
	return out
}
