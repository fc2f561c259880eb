package application

import (
	"net/netip"
	"strings"
)

// ProxySet são os pares de rede autorizados a declarar quem é o cliente
// original (X-Forwarded-For, X-Real-IP, header de usuário). "*" confia em
// qualquer par. Um ProxySet nil não confia em ninguém.
type ProxySet struct {
	any      bool
	prefixes []netip.Prefix
}

// TrustAnyProxy é para quando o gateway só é alcançável pelo proxy de borda.
func TrustAnyProxy() *ProxySet { return &ProxySet{any: true} }

// NewProxySet aceita IPs e CIDRs; lista vazia devolve nil.
func NewProxySet(entries ...string) (*ProxySet, error) {
	var rest []string
	ps := &ProxySet{}
	for _, e := range entries {
		if strings.TrimSpace(e) == "*" {
			ps.any = true
			continue
		}
		rest = append(rest, e)
	}
	prefixes, err := parsePrefixes(rest)
	if err != nil {
		return nil, err
	}
	ps.prefixes = prefixes
	if !ps.any && len(ps.prefixes) == 0 {
		return nil, nil
	}
	return ps, nil
}

// Contains diz se o IP do par TCP é um proxy confiável.
func (p *ProxySet) Contains(ip string) bool {
	if p == nil {
		return false
	}
	if p.any {
		return true
	}
	addr, err := netip.ParseAddr(strings.TrimSpace(ip))
	if err != nil {
		return false
	}
	return containsAddr(p.prefixes, addr.Unmap())
}
