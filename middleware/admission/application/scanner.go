package application

import (
	"net/url"
	"regexp"

	"admission-gateway/middleware/admission/domain"
)

// Rule é um padrão de detecção compilado. O vocabulário é política plugável:
// DefaultRules é só um ponto de partida.
type Rule struct {
	Name     string
	Category domain.ThreatCategory
	Regex    *regexp.Regexp
}

// DefaultRules cobre os ataques mais comuns de SQLi/XSS e os formatos usuais de dado sensível.
func DefaultRules() []Rule {
	return []Rule{
		{Name: "sqli_or_true", Category: domain.ThreatSQLInjection,
			Regex: regexp.MustCompile(`(?i)\bor\b\s+['"\d]+\s*=\s*['"\d]+`)},
		{Name: "sqli_union", Category: domain.ThreatSQLInjection,
			Regex: regexp.MustCompile(`(?i)\bunion\b\s+(all\s+)?select\b`)},
		{Name: "sqli_stacked", Category: domain.ThreatSQLInjection,
			Regex: regexp.MustCompile(`(?i);\s*(drop|alter|truncate|delete\s+from|update\s+\w+\s+set|insert\s+into|exec(ute)?)\b`)},
		{Name: "sqli_comment", Category: domain.ThreatSQLInjection,
			Regex: regexp.MustCompile(`(?i)'\s*(--|#|/\*)`)},
		{Name: "sqli_sleep", Category: domain.ThreatSQLInjection,
			Regex: regexp.MustCompile(`(?i)(\bsleep\s*\(\s*\d+\s*\)|\bbenchmark\s*\(\s*\d+|waitfor\s+delay\s+')`)},
		{Name: "sqli_schema", Category: domain.ThreatSQLInjection,
			Regex: regexp.MustCompile(`(?i)\b(information_schema|pg_catalog|sysobjects)\b`)},

		{Name: "xss_script_tag", Category: domain.ThreatXSS,
			Regex: regexp.MustCompile(`(?i)<\s*/?\s*script\b`)},
		{Name: "xss_event_handler", Category: domain.ThreatXSS,
			Regex: regexp.MustCompile(`(?i)<[^>]+\bon(error|load|click|mouseover|focus|blur|submit)\s*=`)},
		{Name: "xss_javascript_uri", Category: domain.ThreatXSS,
			Regex: regexp.MustCompile(`(?i)\b(javascript|vbscript)\s*:`)},
		{Name: "xss_embed_tag", Category: domain.ThreatXSS,
			Regex: regexp.MustCompile(`(?i)<\s*(iframe|embed|object)\b`)},
		{Name: "xss_dom_sink", Category: domain.ThreatXSS,
			Regex: regexp.MustCompile(`(?i)(document\.(cookie|write)|\.innerHTML\s*=|\beval\s*\()`)},

		{Name: "email", Category: domain.ThreatSensitiveData,
			Regex: regexp.MustCompile(`[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}`)},
		{Name: "phone", Category: domain.ThreatSensitiveData,
			Regex: regexp.MustCompile(`\b(\+?1[-.\s]?)?\(?\d{3}\)?[-.\s]\d{3}[-.\s]\d{4}\b`)},
		{Name: "ssn", Category: domain.ThreatSensitiveData,
			Regex: regexp.MustCompile(`\b\d{3}-\d{2}-\d{4}\b`)},
		{Name: "credit_card", Category: domain.ThreatSensitiveData,
			Regex: regexp.MustCompile(`\b\d{4}[\s-]?\d{4}[\s-]?\d{4}[\s-]?\d{4}\b`)},
		{Name: "jwt", Category: domain.ThreatSensitiveData,
			Regex: regexp.MustCompile(`eyJ[A-Za-z0-9_-]*\.eyJ[A-Za-z0-9_-]*\.[A-Za-z0-9_-]*`)},
		{Name: "opaque_token", Category: domain.ThreatSensitiveData,
			Regex: regexp.MustCompile(`\b[A-Za-z0-9_\-]{40,}\b`)},
	}
}

// Scanner procura padrões de ataque e de dado sensível no body.
type Scanner struct {
	rules []Rule
}

// NewScanner usa DefaultRules quando nenhuma regra é passada.
func NewScanner(rules ...Rule) *Scanner {
	if len(rules) == 0 {
		rules = DefaultRules()
	}
	return &Scanner{rules: rules}
}

// Scan avalia o body cru e também sua forma URL-decodificada.
// Cada regra gera no máximo um achado.
func (s *Scanner) Scan(body []byte) domain.ScanResult {
	var res domain.ScanResult
	if len(body) == 0 {
		return res
	}

	raw := string(body)
	decoded := ""
	if d, err := url.QueryUnescape(raw); err == nil && d != raw {
		decoded = d
	}

	for _, rule := range s.rules {
		if !rule.Regex.MatchString(raw) && (decoded == "" || !rule.Regex.MatchString(decoded)) {
			continue
		}
		res.Findings = append(res.Findings, domain.ThreatFinding{Category: rule.Category, Pattern: rule.Name})
		if rule.Category.Blocking() {
			res.Blocked = true
		}
	}
	return res
}
