package infra

import (
	"context"
	"errors"

	"admission-gateway/middleware/admission/domain"
)

// MultiSink repassa cada evento a todos os sinks; um sink com erro não impede os outros.
type MultiSink []domain.AuditSink

func (m MultiSink) Record(ctx context.Context, ev domain.AuditEvent) error {
	var errs []error
	for _, s := range m {
		if s == nil {
			continue
		}
		if err := s.Record(ctx, ev); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
