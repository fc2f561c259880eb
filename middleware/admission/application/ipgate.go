package application

import (
	"fmt"
	"net/netip"
	"strings"
	"sync"
)

// GeoResolver traduz um IP para um código de país (ISO 3166 alpha-2).
// ok=false quando o país é desconhecido.
type GeoResolver interface {
	Country(ip netip.Addr) (country string, ok bool)
}

// IPGate é o filtro de IP: deny-list, allow-list opcional e filtro geográfico opcional.
//
// Deny sempre vence. Com allow-list não vazia, IPs fora dela são bloqueados.
type IPGate struct {
	mu        sync.RWMutex
	deny      []netip.Prefix
	allow     []netip.Prefix
	geo       GeoResolver
	countries map[string]bool
}

type IPGateOption func(*IPGate) error

// WithAllowList restringe o acesso aos IPs/CIDRs informados.
func WithAllowList(entries ...string) IPGateOption {
	return func(g *IPGate) error {
		prefixes, err := parsePrefixes(entries)
		if err != nil {
			return fmt.Errorf("allow list: %w", err)
		}
		g.allow = append(g.allow, prefixes...)
		return nil
	}
}

// WithGeoFilter bloqueia IPs cujo país resolvido não esteja em countries.
// IPs sem país conhecido passam.
func WithGeoFilter(geo GeoResolver, countries ...string) IPGateOption {
	return func(g *IPGate) error {
		g.geo = geo
		g.countries = make(map[string]bool, len(countries))
		for _, c := range countries {
			g.countries[strings.ToUpper(strings.TrimSpace(c))] = true
		}
		return nil
	}
}

// NewIPGate aceita IPs simples ("203.0.113.7") e CIDRs ("198.51.100.0/24") na deny-list.
func NewIPGate(deny []string, opts ...IPGateOption) (*IPGate, error) {
	prefixes, err := parsePrefixes(deny)
	if err != nil {
		return nil, fmt.Errorf("deny list: %w", err)
	}
	g := &IPGate{deny: prefixes}
	for _, opt := range opts {
		if err := opt(g); err != nil {
			return nil, err
		}
	}
	return g, nil
}

// Block adiciona uma entrada à deny-list em tempo de execução.
func (g *IPGate) Block(entry string) error {
	p, err := parsePrefix(entry)
	if err != nil {
		return err
	}
	g.mu.Lock()
	g.deny = append(g.deny, p)
	g.mu.Unlock()
	return nil
}

// IsBlocked não depende de nenhum estado de rate limit.
func (g *IPGate) IsBlocked(ip string) bool {
	if g == nil {
		return false
	}
	addr, err := netip.ParseAddr(strings.TrimSpace(ip))
	if err != nil {
		// identidade "unknown" ou lixo: só a allow-list pode barrar
		g.mu.RLock()
		defer g.mu.RUnlock()
		return len(g.allow) > 0
	}
	addr = addr.Unmap()

	g.mu.RLock()
	defer g.mu.RUnlock()

	if containsAddr(g.deny, addr) {
		return true
	}
	if len(g.allow) > 0 && !containsAddr(g.allow, addr) {
		return true
	}
	if g.geo != nil && len(g.countries) > 0 {
		if c, ok := g.geo.Country(addr); ok && !g.countries[strings.ToUpper(c)] {
			return true
		}
	}
	return false
}

func containsAddr(prefixes []netip.Prefix, addr netip.Addr) bool {
	for _, p := range prefixes {
		if p.Contains(addr) {
			return true
		}
	}
	return false
}

func parsePrefixes(entries []string) ([]netip.Prefix, error) {
	out := make([]netip.Prefix, 0, len(entries))
	for _, e := range entries {
		if strings.TrimSpace(e) == "" {
			continue
		}
		p, err := parsePrefix(e)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, nil
}

func parsePrefix(entry string) (netip.Prefix, error) {
	entry = strings.TrimSpace(entry)
	if strings.Contains(entry, "/") {
		p, err := netip.ParsePrefix(entry)
		if err != nil {
			return netip.Prefix{}, fmt.Errorf("invalid cidr %q: %w", entry, err)
		}
		return p.Masked(), nil
	}
	addr, err := netip.ParseAddr(entry)
	if err != nil {
		return netip.Prefix{}, fmt.Errorf("invalid ip %q: %w", entry, err)
	}
	addr = addr.Unmap()
	return netip.PrefixFrom(addr, addr.BitLen()), nil
}
