package infra

import (
	"context"

	"admission-gateway/middleware/admission/domain"

	"github.com/prometheus/client_golang/prometheus"
)

// PrometheusSink conta eventos de auditoria por tipo e estágio.
type PrometheusSink struct {
	events *prometheus.CounterVec
}

func NewPrometheusSink(reg prometheus.Registerer) (*PrometheusSink, error) {
	events := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "admission",
			Name:      "audit_events_total",
			Help:      "Audit events emitted by the admission gateway, by type and pipeline stage",
		},
		[]string{"type", "stage"},
	)
	if reg != nil {
		if err := reg.Register(events); err != nil {
			return nil, err
		}
	}
	return &PrometheusSink{events: events}, nil
}

var _ domain.AuditSink = (*PrometheusSink)(nil)

func (s *PrometheusSink) Record(_ context.Context, ev domain.AuditEvent) error {
	s.events.WithLabelValues(string(ev.Type), ev.Stage).Inc()
	return nil
}

// Counter expõe o contador de um par tipo/estágio (usado em testes).
func (s *PrometheusSink) Counter(t domain.AuditType, stage string) prometheus.Counter {
	return s.events.WithLabelValues(string(t), stage)
}
