package infra

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"admission-gateway/middleware/admission/domain"
)

// MemorySessionStore guarda sessões em memória. Serve ao servidor de exemplo e
// a desenvolvimento sem redis; o token bearer é o id da sessão.
type MemorySessionStore struct {
	mu       sync.RWMutex
	sessions map[string]memorySession
	now      func() time.Time
}

type memorySession struct {
	sc        domain.SecurityContext
	createdAt time.Time
	expires   time.Time
}

func NewMemorySessionStore() *MemorySessionStore {
	return &MemorySessionStore{sessions: make(map[string]memorySession), now: time.Now}
}

var (
	_ domain.SessionProvider = (*MemorySessionStore)(nil)
	_ domain.SessionStore    = (*MemorySessionStore)(nil)
)

// Put tem a mesma assinatura de RedisSessionStore.Put. ttl <= 0 não expira.
func (s *MemorySessionStore) Put(_ context.Context, sc domain.SecurityContext, createdAt time.Time, ttl time.Duration) error {
	if strings.TrimSpace(sc.SessionID) == "" {
		return errors.New("session id is required")
	}
	ms := memorySession{sc: sc, createdAt: createdAt}
	if ttl > 0 {
		ms.expires = s.now().Add(ttl)
	}
	s.mu.Lock()
	s.sessions[sc.SessionID] = ms
	s.mu.Unlock()
	return nil
}

func (s *MemorySessionStore) Resolve(ctx context.Context, creds domain.Credentials) (*domain.SecurityContext, error) {
	id := creds.SessionID
	if id == "" {
		id = creds.BearerToken
	}
	ms, err := s.get(id)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrUnauthenticated, err)
	}
	sc := ms.sc
	sc.Permissions = append([]string(nil), ms.sc.Permissions...)
	// o que vale para o request é o IP/UA atual; o guardado fica para Session
	sc.IPAddress = creds.IPAddress
	sc.UserAgent = creds.UserAgent
	return &sc, nil
}

func (s *MemorySessionStore) Session(_ context.Context, sessionID string) (*domain.SessionRecord, error) {
	ms, err := s.get(sessionID)
	if err != nil {
		return nil, err
	}
	return &domain.SessionRecord{
		SessionID: sessionID,
		IPAddress: ms.sc.IPAddress,
		UserAgent: ms.sc.UserAgent,
		CreatedAt: ms.createdAt,
	}, nil
}

func (s *MemorySessionStore) get(id string) (memorySession, error) {
	s.mu.RLock()
	ms, ok := s.sessions[id]
	s.mu.RUnlock()
	if !ok || (!ms.expires.IsZero() && !s.now().Before(ms.expires)) {
		return memorySession{}, domain.ErrSessionNotFound
	}
	return ms, nil
}
