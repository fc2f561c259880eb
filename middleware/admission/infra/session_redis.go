package infra

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"admission-gateway/middleware/admission/domain"

	"github.com/redis/go-redis/v9"
)

// RedisSessionStore lê sessões gravadas pelo provedor de identidade como hashes
// "<prefix>:<session id>". O token bearer é o próprio id da sessão.
//
// Campos: user_id, org_id, role, permissions (separadas por vírgula), ip,
// user_agent, created_at (unix segundos), verified ("1"/"true").
type RedisSessionStore struct {
	rdb    redis.UniversalClient
	prefix string
}

func NewRedisSessionStore(rdb redis.UniversalClient, prefix string) *RedisSessionStore {
	prefix = strings.Trim(prefix, ":")
	if prefix == "" {
		prefix = "session"
	}
	return &RedisSessionStore{rdb: rdb, prefix: prefix}
}

var (
	_ domain.SessionProvider = (*RedisSessionStore)(nil)
	_ domain.SessionStore    = (*RedisSessionStore)(nil)
)

// Resolve implementa domain.SessionProvider.
func (s *RedisSessionStore) Resolve(ctx context.Context, creds domain.Credentials) (*domain.SecurityContext, error) {
	id := creds.SessionID
	if id == "" {
		id = creds.BearerToken
	}
	fields, err := s.load(ctx, id)
	if err != nil {
		if domain.IsSessionNotFound(err) {
			return nil, fmt.Errorf("%w: %w", domain.ErrUnauthenticated, err)
		}
		return nil, err
	}

	var perms []string
	for _, p := range strings.Split(fields["permissions"], ",") {
		if p = strings.TrimSpace(p); p != "" {
			perms = append(perms, p)
		}
	}
	verified, _ := strconv.ParseBool(fields["verified"])
	return &domain.SecurityContext{
		UserID:         fields["user_id"],
		OrganizationID: fields["org_id"],
		Role:           fields["role"],
		Permissions:    perms,
		SessionID:      id,
		IPAddress:      creds.IPAddress,
		UserAgent:      creds.UserAgent,
		IsVerified:     verified,
	}, nil
}

// Session implementa domain.SessionStore.
func (s *RedisSessionStore) Session(ctx context.Context, sessionID string) (*domain.SessionRecord, error) {
	fields, err := s.load(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	rec := &domain.SessionRecord{
		SessionID: sessionID,
		IPAddress: fields["ip"],
		UserAgent: fields["user_agent"],
	}
	if v := fields["created_at"]; v != "" {
		secs, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("session %s: invalid created_at %q: %w", sessionID, v, err)
		}
		rec.CreatedAt = time.Unix(secs, 0)
	}
	return rec, nil
}

// Put grava uma sessão. Usado pelo servidor de exemplo e pelos testes; em
// produção quem escreve é o provedor de identidade.
func (s *RedisSessionStore) Put(ctx context.Context, sc domain.SecurityContext, createdAt time.Time, ttl time.Duration) error {
	key := s.prefix + ":" + sc.SessionID
	pipe := s.rdb.TxPipeline()
	pipe.HSet(ctx, key, map[string]any{
		"user_id":     sc.UserID,
		"org_id":      sc.OrganizationID,
		"role":        sc.Role,
		"permissions": strings.Join(sc.Permissions, ","),
		"ip":          sc.IPAddress,
		"user_agent":  sc.UserAgent,
		"created_at":  strconv.FormatInt(createdAt.Unix(), 10),
		"verified":    strconv.FormatBool(sc.IsVerified),
	})
	if ttl > 0 {
		pipe.Expire(ctx, key, ttl)
	}
	_, err := pipe.Exec(ctx)
	return err
}

func (s *RedisSessionStore) load(ctx context.Context, id string) (map[string]string, error) {
	if s == nil || s.rdb == nil {
		return nil, domain.ErrConfigurationMissing
	}
	if strings.TrimSpace(id) == "" {
		return nil, domain.ErrSessionNotFound
	}
	fields, err := s.rdb.HGetAll(ctx, s.prefix+":"+id).Result()
	if err != nil {
		return nil, fmt.Errorf("load session %s: %w", id, err)
	}
	if len(fields) == 0 || fields["user_id"] == "" {
		return nil, domain.ErrSessionNotFound
	}
	return fields, nil
}
