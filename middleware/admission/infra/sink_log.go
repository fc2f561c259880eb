package infra

import (
	"context"
	"sync/atomic"
	"time"

	"admission-gateway/middleware/admission/domain"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

// LogSink escreve eventos de auditoria como logs estruturados.
//
// Eventos de alto volume (request_validated, sensitive_data_detected) passam
// por um token bucket para não inundar o log; os descartados são contados.
type LogSink struct {
	logger  zerolog.Logger
	sampler *rate.Limiter
	dropped atomic.Int64
}

// NewLogSink: perSecond/burst controlam a amostragem dos eventos de alto volume.
// perSecond <= 0 desliga a amostragem.
func NewLogSink(logger zerolog.Logger, perSecond float64, burst int) *LogSink {
	s := &LogSink{logger: logger.With().Str("component", "audit").Logger()}
	if perSecond > 0 {
		if burst < 1 {
			burst = 1
		}
		s.sampler = rate.NewLimiter(rate.Limit(perSecond), burst)
	}
	return s
}

var _ domain.AuditSink = (*LogSink)(nil)

func (s *LogSink) Record(_ context.Context, ev domain.AuditEvent) error {
	if s.sampler != nil && highVolume(ev.Type) && !s.sampler.Allow() {
		s.dropped.Add(1)
		return nil
	}

	var e *zerolog.Event
	switch ev.Type {
	case domain.AuditRequestValidated:
		e = s.logger.Debug()
	case domain.AuditSensitiveDataDetected, domain.AuditRateLimitExceeded:
		e = s.logger.Info()
	case domain.AuditHandlerError:
		e = s.logger.Error()
	default:
		e = s.logger.Warn()
	}

	at := ev.At
	if at.IsZero() {
		at = time.Now()
	}
	e.Str("event_id", ev.ID).
		Str("request_id", ev.RequestID).
		Str("identity", ev.Identity).
		Str("method", ev.Method).
		Str("path", ev.Path).
		Str("stage", ev.Stage).
		Time("at", at)
	if len(ev.Details) > 0 {
		e.Fields(ev.Details)
	}
	e.Msg(string(ev.Type))
	return nil
}

// Dropped é o total de eventos descartados pela amostragem.
func (s *LogSink) Dropped() int64 { return s.dropped.Load() }

func highVolume(t domain.AuditType) bool {
	return t == domain.AuditRequestValidated || t == domain.AuditSensitiveDataDetected
}
