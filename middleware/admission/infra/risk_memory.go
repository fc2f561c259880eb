package infra

import (
	"context"
	"sync"
	"time"

	"admission-gateway/middleware/admission/domain"
)

// MemoryRiskStore guarda scores por processo. Não é compartilhado entre instâncias.
type MemoryRiskStore struct {
	mu      sync.Mutex
	entries map[string]riskEntry
}

type riskEntry struct {
	score   int
	updated time.Time
}

func NewMemoryRiskStore() *MemoryRiskStore {
	return &MemoryRiskStore{entries: make(map[string]riskEntry)}
}

var _ domain.RiskStore = (*MemoryRiskStore)(nil)

func (s *MemoryRiskStore) Add(_ context.Context, identity string, severity int, decay time.Duration, now time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ent := s.entries[identity]
	score, updated := domain.DecayedScore(ent.score, ent.updated, decay, now)
	score += severity
	if score <= 0 {
		delete(s.entries, identity)
		return 0, nil
	}
	s.entries[identity] = riskEntry{score: score, updated: updated}
	return score, nil
}

func (s *MemoryRiskStore) Score(_ context.Context, identity string, decay time.Duration, now time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ent, ok := s.entries[identity]
	if !ok {
		return 0, nil
	}
	score, _ := domain.DecayedScore(ent.score, ent.updated, decay, now)
	if score == 0 {
		delete(s.entries, identity)
	}
	return score, nil
}

// Len é o número de identidades com score vivo.
func (s *MemoryRiskStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}
