package infra

import (
	"context"
	"sort"
	"sync"
	"time"

	"admission-gateway/middleware/admission/domain"
)

// MemoryCounterStore implementa domain.CounterStore em memória.
//
// Útil para testes e para uma única instância em desenvolvimento: o estado
// não é compartilhado entre processos.
type MemoryCounterStore struct {
	mu           sync.Mutex
	sliding      map[string]*slidingEntry
	fixed        map[string]*fixedEntry
	cleanupEvery time.Duration
}

type slidingEntry struct {
	hits    []time.Time
	expires time.Time
}

type fixedEntry struct {
	count   int
	expires time.Time
}

type MemoryCounterOption func(*MemoryCounterStore)

func WithCounterCleanupEvery(d time.Duration) MemoryCounterOption {
	return func(s *MemoryCounterStore) { s.cleanupEvery = d }
}

func NewMemoryCounterStore(opts ...MemoryCounterOption) *MemoryCounterStore {
	s := &MemoryCounterStore{
		sliding:      make(map[string]*slidingEntry),
		fixed:        make(map[string]*fixedEntry),
		cleanupEvery: time.Minute,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

var _ domain.CounterStore = (*MemoryCounterStore)(nil)

// SlidingWindow descarta eventos anteriores a now-window e admite se sobrar menos que limit.
// Os hits ficam ordenados: chamadas concorrentes leem o relógio antes do lock e
// podem chegar fora de ordem, e um hit mais novo que now continua contando.
func (s *MemoryCounterStore) SlidingWindow(_ context.Context, key string, limit int, window time.Duration, now time.Time) (domain.WindowResult, error) {
	cutoff := now.Add(-window)

	s.mu.Lock()
	defer s.mu.Unlock()

	ent, ok := s.sliding[key]
	if !ok {
		ent = &slidingEntry{}
		s.sliding[key] = ent
	}

	drop := sort.Search(len(ent.hits), func(i int) bool { return !ent.hits[i].Before(cutoff) })
	ent.hits = ent.hits[drop:]

	admitted := len(ent.hits) < limit
	if admitted {
		i := sort.Search(len(ent.hits), func(i int) bool { return ent.hits[i].After(now) })
		ent.hits = append(ent.hits, time.Time{})
		copy(ent.hits[i+1:], ent.hits[i:])
		ent.hits[i] = now
	}
	if exp := now.Add(window); exp.After(ent.expires) {
		ent.expires = exp
	}

	reset := now.Add(window)
	if len(ent.hits) > 0 {
		reset = ent.hits[0].Add(window)
	}
	return domain.WindowResult{Admitted: admitted, Count: len(ent.hits), ResetAt: reset}, nil
}

// FixedWindow usa janelas alinhadas a múltiplos de window desde a epoch.
func (s *MemoryCounterStore) FixedWindow(_ context.Context, key string, limit int, window time.Duration, now time.Time) (domain.WindowResult, error) {
	_, end := FixedWindowBounds(now, window)
	k := fixedKey(key, now, window)

	s.mu.Lock()
	defer s.mu.Unlock()

	ent, ok := s.fixed[k]
	if !ok || !now.Before(ent.expires) {
		ent = &fixedEntry{expires: end}
		s.fixed[k] = ent
	}
	ent.count++

	return domain.WindowResult{Admitted: ent.count <= limit, Count: ent.count, ResetAt: end}, nil
}

// Cleanup remove entradas expiradas.
func (s *MemoryCounterStore) Cleanup(now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for k, ent := range s.sliding {
		if !now.Before(ent.expires) {
			delete(s.sliding, k)
		}
	}
	for k, ent := range s.fixed {
		if !now.Before(ent.expires) {
			delete(s.fixed, k)
		}
	}
}

// Len é o número de chaves vivas (deslizantes + fixas).
func (s *MemoryCounterStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sliding) + len(s.fixed)
}

// StartJanitor inicia uma goroutine que limpa chaves expiradas periodicamente.
// Pare cancelando o contexto.
func (s *MemoryCounterStore) StartJanitor(ctx context.Context) {
	if s.cleanupEvery <= 0 {
		return
	}

	t := time.NewTicker(s.cleanupEvery)
	go func() {
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case now := <-t.C:
				s.Cleanup(now)
			}
		}
	}()
}
