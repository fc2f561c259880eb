package infra

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"admission-gateway/middleware/admission/domain"
)

// Publisher é o subconjunto de *nats.Conn usado pelo NATSSink.
type Publisher interface {
	Publish(subject string, data []byte) error
}

// NATSSink publica cada evento em "<prefix>.<type>" para o coletor externo de auditoria.
type NATSSink struct {
	pub    Publisher
	prefix string
}

func NewNATSSink(pub Publisher, prefix string) *NATSSink {
	prefix = strings.Trim(prefix, ".")
	if prefix == "" {
		prefix = "admission.audit"
	}
	return &NATSSink{pub: pub, prefix: prefix}
}

var _ domain.AuditSink = (*NATSSink)(nil)

type auditMessage struct {
	ID        string         `json:"id"`
	RequestID string         `json:"request_id,omitempty"`
	Type      string         `json:"type"`
	Identity  string         `json:"identity,omitempty"`
	Method    string         `json:"method,omitempty"`
	Path      string         `json:"path,omitempty"`
	Stage     string         `json:"stage,omitempty"`
	Details   map[string]any `json:"details,omitempty"`
	At        time.Time      `json:"at"`
}

func (s *NATSSink) Record(_ context.Context, ev domain.AuditEvent) error {
	if s == nil || s.pub == nil {
		return nil
	}
	data, err := json.Marshal(auditMessage{
		ID:        ev.ID,
		RequestID: ev.RequestID,
		Type:      string(ev.Type),
		Identity:  ev.Identity,
		Method:    ev.Method,
		Path:      ev.Path,
		Stage:     ev.Stage,
		Details:   ev.Details,
		At:        ev.At,
	})
	if err != nil {
		return fmt.Errorf("encode audit event: %w", err)
	}
	if err := s.pub.Publish(s.prefix+"."+string(ev.Type), data); err != nil {
		return fmt.Errorf("publish audit event: %w", err)
	}
	return nil
}
