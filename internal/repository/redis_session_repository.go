package repository

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/terraconstructs/gatehouse/pkg/session"
)

const defaultRedisPrefix = "gatehouse"

// RedisSessionRepository keeps sessions in Redis hashes whose expiry tracks
// the session lifetime, so idle sessions disappear without a prune job.
type RedisSessionRepository struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
	now    func() time.Time
}

// RedisSessionOption configures a RedisSessionRepository.
type RedisSessionOption func(*RedisSessionRepository)

// WithRedisPrefix namespaces every key. The default is "gatehouse".
func WithRedisPrefix(prefix string) RedisSessionOption {
	return func(r *RedisSessionRepository) { r.prefix = prefix }
}

// WithRedisClock replaces time.Now when checking idle time.
func WithRedisClock(now func() time.Time) RedisSessionOption {
	return func(r *RedisSessionRepository) { r.now = now }
}

// NewRedisSessionRepository stores sessions in client. ttl is the session
// lifetime applied as key expiry on insert and on every touch.
func NewRedisSessionRepository(client *redis.Client, ttl time.Duration, opts ...RedisSessionOption) *RedisSessionRepository {
	r := &RedisSessionRepository{client: client, prefix: defaultRedisPrefix, ttl: ttl, now: time.Now}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

var _ SessionRepository = (*RedisSessionRepository)(nil)

// ConnectRedis parses url, connects and pings, retrying a few times while
// Redis starts up.
func ConnectRedis(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	const attempts = 3
	var lastErr error
	for i := 0; i < attempts; i++ {
		client := redis.NewClient(opts)
		if err := client.Ping(ctx).Err(); err != nil {
			lastErr = err
			client.Close()
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(time.Second):
			}
			continue
		}
		return client, nil
	}
	return nil, fmt.Errorf("failed to connect to redis after %d attempts: %w", attempts, lastErr)
}

type redisSession struct {
	AgentID        string `redis:"agent_id"`
	Perspective    int    `redis:"perspective"`
	SessionKeyHash string `redis:"session_key_hash"`
	APIKeyHash     string `redis:"api_key_hash"`
	Created        int64  `redis:"created"`
	LastUtilised   int64  `redis:"last_utilised"`
}

func (r *RedisSessionRepository) sessionKey(id string) string {
	return r.prefix + ":session:" + id
}

func (r *RedisSessionRepository) agentKey(agentID string) string {
	return r.prefix + ":agent-sessions:" + agentID
}

func (r *RedisSessionRepository) agentsKey() string {
	return r.prefix + ":agents"
}

// Insert stores the session and indexes it under its agent.
func (r *RedisSessionRepository) Insert(ctx context.Context, rec session.Record) error {
	key := r.sessionKey(rec.SessionID)
	created, err := r.client.HSetNX(ctx, key, "agent_id", rec.AgentID).Result()
	if err != nil {
		return fmt.Errorf("create session: %w", err)
	}
	if !created {
		return fmt.Errorf("create session: duplicate id")
	}

	_, err = r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, key, redisSession{
			AgentID:        rec.AgentID,
			Perspective:    int(rec.Perspective),
			SessionKeyHash: rec.SessionKeyHash,
			APIKeyHash:     rec.APIKeyHash,
			Created:        rec.Created.UnixNano(),
			LastUtilised:   rec.LastUtilised.UnixNano(),
		})
		pipe.Expire(ctx, key, r.ttl)
		pipe.SAdd(ctx, r.agentKey(rec.AgentID), rec.SessionID)
		pipe.SAdd(ctx, r.agentsKey(), rec.AgentID)
		return nil
	})
	if err != nil {
		r.client.Del(ctx, key)
		return fmt.Errorf("create session: %w", err)
	}
	return nil
}

func (r *RedisSessionRepository) load(ctx context.Context, sessionID string) (*session.Record, error) {
	cmd := r.client.HGetAll(ctx, r.sessionKey(sessionID))
	fields, err := cmd.Result()
	if err != nil {
		return nil, fmt.Errorf("get session: %w", err)
	}
	if len(fields) == 0 {
		return nil, session.ErrNotFound
	}
	var s redisSession
	if err := cmd.Scan(&s); err != nil {
		return nil, fmt.Errorf("decode session: %w", err)
	}
	return &session.Record{
		SessionID:      sessionID,
		AgentID:        s.AgentID,
		Perspective:    session.Perspective(s.Perspective),
		SessionKeyHash: s.SessionKeyHash,
		APIKeyHash:     s.APIKeyHash,
		Created:        time.Unix(0, s.Created).UTC(),
		LastUtilised:   time.Unix(0, s.LastUtilised).UTC(),
	}, nil
}

// Retrieve returns the session if it was used within ttl. Key expiry
// usually removes idle sessions first; the explicit check covers a ttl
// shorter than the repository's.
func (r *RedisSessionRepository) Retrieve(ctx context.Context, sessionID string, ttl time.Duration) (*session.Record, error) {
	rec, err := r.load(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if r.now().Sub(rec.LastUtilised) >= ttl {
		return nil, session.ErrNotFound
	}
	return rec, nil
}

// Touch advances last_utilised and renews the key expiry.
func (r *RedisSessionRepository) Touch(ctx context.Context, sessionID string, at time.Time) error {
	n, err := touchScript.Run(ctx, r.client, []string{r.sessionKey(sessionID)},
		at.UnixNano(), r.ttl.Milliseconds()).Int()
	if err != nil {
		return fmt.Errorf("touch session: %w", err)
	}
	if n == 0 {
		return session.ErrNotFound
	}
	return nil
}

// touchScript updates last_utilised and the expiry only while the hash
// still exists, so a concurrent delete cannot leave a partial hash behind.
var touchScript = redis.NewScript(`
if redis.call("EXISTS", KEYS[1]) == 0 then
	return 0
end
redis.call("HSET", KEYS[1], "last_utilised", ARGV[1])
if tonumber(ARGV[2]) > 0 then
	redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 1
`)

// Delete removes a session. Deleting an unknown id is not an error.
func (r *RedisSessionRepository) Delete(ctx context.Context, sessionID string) error {
	key := r.sessionKey(sessionID)
	agentID, err := r.client.HGet(ctx, key, "agent_id").Result()
	if errors.Is(err, redis.Nil) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	_, err = r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, key)
		pipe.SRem(ctx, r.agentKey(agentID), sessionID)
		return nil
	})
	if err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	return nil
}

// List returns live sessions, most recently used first. Index entries whose
// session has expired are dropped as they are found.
func (r *RedisSessionRepository) List(ctx context.Context, agentID string) ([]session.Record, error) {
	agents := []string{agentID}
	if agentID == "" {
		var err error
		agents, err = r.client.SMembers(ctx, r.agentsKey()).Result()
		if err != nil {
			return nil, fmt.Errorf("list agents: %w", err)
		}
	}

	var out []session.Record
	for _, a := range agents {
		ids, err := r.client.SMembers(ctx, r.agentKey(a)).Result()
		if err != nil {
			return nil, fmt.Errorf("list sessions: %w", err)
		}
		for _, id := range ids {
			rec, err := r.load(ctx, id)
			if errors.Is(err, session.ErrNotFound) {
				r.client.SRem(ctx, r.agentKey(a), id)
				continue
			}
			if err != nil {
				return nil, err
			}
			out = append(out, *rec)
		}
	}
	slices.SortFunc(out, func(a, b session.Record) int {
		return b.LastUtilised.Compare(a.LastUtilised)
	})
	return out, nil
}

// DeleteExpired removes sessions idle for ttl or longer that key expiry has
// not yet removed, along with stale index entries.
func (r *RedisSessionRepository) DeleteExpired(ctx context.Context, ttl time.Duration) (int, error) {
	recs, err := r.List(ctx, "")
	if err != nil {
		return 0, err
	}
	removed := 0
	for _, rec := range recs {
		if r.now().Sub(rec.LastUtilised) < ttl {
			continue
		}
		if err := r.Delete(ctx, rec.SessionID); err != nil {
			return removed, err
		}
		removed++
	}
	return removed, nil
}
