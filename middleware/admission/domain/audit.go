package domain

import (
	"context"
	"time"
)

// AuditType é o nome do evento enviado ao sink de auditoria.
type AuditType string

const (
	AuditRateLimitExceeded     AuditType = "rate_limit_exceeded"
	AuditBlockedIPAttempt      AuditType = "blocked_ip_attempt"
	AuditSQLInjectionAttempt   AuditType = "sql_injection_attempt"
	AuditXSSAttempt            AuditType = "xss_attempt"
	AuditSensitiveDataDetected AuditType = "sensitive_data_detected"
	AuditSessionSecurityFailed AuditType = "session_security_failed"
	AuditRequestValidated      AuditType = "request_validated"
	AuditHandlerError          AuditType = "handler_error"
)

// AuditEvent é propositalmente "agnóstico de HTTP": Method/Path são strings.
//
// Cuidado com cardinalidade em Details: não coloque o body do request aqui.
type AuditEvent struct {
	ID        string
	RequestID string
	Type      AuditType
	Identity  string
	Method    string
	Path      string
	Stage     string
	Details   map[string]any
	At        time.Time
}

// AuditSink recebe eventos estruturados. O gateway trata erro como best-effort
// (loga e segue, nunca derruba o request).
type AuditSink interface {
	Record(ctx context.Context, ev AuditEvent) error
}
