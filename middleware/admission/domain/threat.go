package domain

// ThreatCategory classifica um achado do scanner de entrada.
type ThreatCategory string

const (
	ThreatSQLInjection  ThreatCategory = "sql_injection"
	ThreatXSS           ThreatCategory = "xss"
	ThreatSensitiveData ThreatCategory = "sensitive_data"
)

// Blocking diz se a categoria rejeita o request. Dados sensíveis só geram auditoria.
func (c ThreatCategory) Blocking() bool {
	return c == ThreatSQLInjection || c == ThreatXSS
}

// ThreatFinding vive apenas dentro de um request.
type ThreatFinding struct {
	Category ThreatCategory
	Pattern  string
}

type ScanResult struct {
	Blocked  bool
	Findings []ThreatFinding
}

// Blocking retorna só os achados que bloqueiam.
func (r ScanResult) Blocking() []ThreatFinding {
	var out []ThreatFinding
	for _, f := range r.Findings {
		if f.Category.Blocking() {
			out = append(out, f)
		}
	}
	return out
}
