package infra

import (
	"context"
	"sync"

	"admission-gateway/middleware/admission/domain"
)

// MemoryStatsStore é um sink de auditoria em memória.
// Útil para testes e desenvolvimento: guarda contadores e os últimos eventos.
//
// Não faz expiração e não é indicada para produção.
type MemoryStatsStore struct {
	mu         sync.Mutex
	byType     map[domain.AuditType]int64
	byRoute    map[string]int64
	byIdentity map[string]int64
	events     []domain.AuditEvent
	keep       int
}

type MemoryStatsOption func(*MemoryStatsStore)

// WithKeepEvents limita quantos eventos ficam guardados (padrão 1000).
func WithKeepEvents(n int) MemoryStatsOption {
	return func(s *MemoryStatsStore) { s.keep = n }
}

func NewMemoryStatsStore(opts ...MemoryStatsOption) *MemoryStatsStore {
	s := &MemoryStatsStore{
		byType:     make(map[domain.AuditType]int64),
		byRoute:    make(map[string]int64),
		byIdentity: make(map[string]int64),
		keep:       1000,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

var _ domain.AuditSink = (*MemoryStatsStore)(nil)

func (s *MemoryStatsStore) Record(_ context.Context, ev domain.AuditEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.byType[ev.Type]++
	s.byRoute[ev.Method+" "+ev.Path+":"+string(ev.Type)]++
	if ev.Identity != "" {
		s.byIdentity[ev.Identity]++
	}
	if s.keep > 0 {
		if len(s.events) >= s.keep {
			s.events = s.events[1:]
		}
		s.events = append(s.events, ev)
	}
	return nil
}

func (s *MemoryStatsStore) Count(t domain.AuditType) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.byType[t]
}

func (s *MemoryStatsStore) ByRoute() map[string]int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]int64, len(s.byRoute))
	for k, v := range s.byRoute {
		out[k] = v
	}
	return out
}

func (s *MemoryStatsStore) ByIdentity() map[string]int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]int64, len(s.byIdentity))
	for k, v := range s.byIdentity {
		out[k] = v
	}
	return out
}

// Events devolve uma cópia dos eventos guardados, do mais antigo ao mais novo.
func (s *MemoryStatsStore) Events() []domain.AuditEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.AuditEvent(nil), s.events...)
}

// Types devolve só a sequência de tipos dos eventos guardados.
func (s *MemoryStatsStore) Types() []domain.AuditType {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.AuditType, len(s.events))
	for i, ev := range s.events {
		out[i] = ev.Type
	}
	return out
}
