package infra

import (
	"errors"
	"fmt"
	"os"
	"time"

	"admission-gateway/middleware/admission/application"
	"admission-gateway/middleware/admission/domain"

	"gopkg.in/yaml.v3"
)

// PolicyFile é o formato YAML da tabela de políticas, das rotas protegidas e das listas de IP.
//
//	endpoints:
//	  - name: auth
//	    pattern: /api/auth/**
//	    limit: 10
//	    window: 1m
//	    algorithm: sliding
//	bursts:
//	  batch-enrichment: {limit: 3, window: 1m}
//	api: {limit: 100, window: 1m}
//	global: {limit: 300, window: 1m}
//	routes:
//	  - pattern: /api/leads/*
//	    require_auth: true
//	    permissions: [leads:read]
//	ip:
//	  deny: [203.0.113.0/24]
type PolicyFile struct {
	Endpoints []PolicySpec          `yaml:"endpoints"`
	Bursts    map[string]PolicySpec `yaml:"bursts"`
	API       *PolicySpec           `yaml:"api"`
	Global    *PolicySpec           `yaml:"global"`
	Routes    []RouteSpec           `yaml:"routes"`
	IP        IPSpec                `yaml:"ip"`
}

type PolicySpec struct {
	Name      string        `yaml:"name"`
	Pattern   string        `yaml:"pattern"`
	Limit     int           `yaml:"limit"`
	Window    time.Duration `yaml:"window"`
	Algorithm string        `yaml:"algorithm"`
}

// RouteSpec declara os requisitos de uma rota; o binário do gateway monta
// cada uma com admission.Route.
type RouteSpec struct {
	Pattern     string   `yaml:"pattern"`
	Methods     []string `yaml:"methods"`
	RequireAuth bool     `yaml:"require_auth"`
	Permissions []string `yaml:"permissions"`
	Sensitive   bool     `yaml:"sensitive"`
	Operation   string   `yaml:"operation"`
	Endpoint    string   `yaml:"endpoint"`
}

type IPSpec struct {
	Deny  []string `yaml:"deny"`
	Allow []string `yaml:"allow"`
}

// LoadPolicyFile lê o arquivo; caminho vazio ou inexistente devolve um
// PolicyFile vazio (e Table cai nos padrões).
func LoadPolicyFile(path string) (*PolicyFile, error) {
	pf := &PolicyFile{}
	if path == "" {
		return pf, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return pf, nil
		}
		return nil, fmt.Errorf("reading policy file: %w", err)
	}
	if err := yaml.Unmarshal(data, pf); err != nil {
		return nil, fmt.Errorf("parsing policy file: %w", err)
	}
	return pf, nil
}

// Table monta a PolicyTable partindo dos padrões: seções ausentes mantêm o padrão.
func (pf *PolicyFile) Table() (application.PolicyTable, error) {
	t := application.DefaultPolicyTable()
	if len(pf.Endpoints) > 0 {
		t.Endpoints = make([]domain.EndpointPolicy, 0, len(pf.Endpoints))
		for _, spec := range pf.Endpoints {
			t.Endpoints = append(t.Endpoints, spec.policy(spec.Pattern, domain.Sliding))
		}
	}
	if len(pf.Bursts) > 0 {
		t.Bursts = make(map[string]domain.EndpointPolicy, len(pf.Bursts))
		for op, spec := range pf.Bursts {
			t.Bursts[op] = spec.policy(op, domain.Fixed)
		}
	}
	if pf.API != nil {
		t.API = pf.API.policy("api", domain.Sliding)
	}
	if pf.Global != nil {
		t.Global = pf.Global.policy("global", domain.Sliding)
	}
	if err := t.Validate(); err != nil {
		return application.PolicyTable{}, err
	}
	if err := pf.validateRoutes(t); err != nil {
		return application.PolicyTable{}, err
	}
	return t, nil
}

// validateRoutes recusa "endpoint:" com nome que não existe na tabela; sem isso
// a rota cairia em silêncio na política global.
func (pf *PolicyFile) validateRoutes(t application.PolicyTable) error {
	names := map[string]bool{t.API.Name: true, t.Global.Name: true}
	for _, p := range t.Endpoints {
		names[p.Name] = true
	}
	var errs []error
	for _, r := range pf.Routes {
		if application.IsPolicyName(r.Endpoint) && !names[r.Endpoint] {
			errs = append(errs, fmt.Errorf("route %s: unknown endpoint policy %q", r.Pattern, r.Endpoint))
		}
		if r.Operation != "" {
			if _, ok := t.Bursts[r.Operation]; !ok {
				errs = append(errs, fmt.Errorf("route %s: no burst policy for operation %q", r.Pattern, r.Operation))
			}
		}
	}
	return errors.Join(errs...)
}

func (s PolicySpec) policy(defaultName string, defaultAlgo domain.Algorithm) domain.EndpointPolicy {
	name := s.Name
	if name == "" {
		name = defaultName
	}
	algo := domain.Algorithm(s.Algorithm)
	if algo == "" {
		algo = defaultAlgo
	}
	return domain.EndpointPolicy{
		Name:      name,
		Pattern:   s.Pattern,
		Limit:     s.Limit,
		Window:    s.Window,
		Algorithm: algo,
	}
}
