package session

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// PTTL sentinels as decoded by go-redis.
const (
	pttlMissing  = time.Duration(-2)
	pttlNoExpiry = time.Duration(-1)
)

// RedisRegistry keeps session config in the hash session:{id}, history in
// the list session:{id}:messages and each autonomous exchange in
// session:{id}:auto:{key}. History lists inherit the session's remaining TTL.
type RedisRegistry struct {
	client *redis.Client
	ttl    time.Duration
	logger *slog.Logger
}

func NewRedisRegistry(ctx context.Context, redisURL string, ttl time.Duration, logger *slog.Logger) (*RedisRegistry, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connect redis: %w", err)
	}
	return NewRedisRegistryFromClient(client, ttl, logger), nil
}

func NewRedisRegistryFromClient(client *redis.Client, ttl time.Duration, logger *slog.Logger) *RedisRegistry {
	if ttl <= 0 {
		ttl = 12 * time.Hour
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &RedisRegistry{client: client, ttl: ttl, logger: logger}
}

func sessionKey(id string) string { return "session:" + id }
func messagesKey(id string) string { return "session:" + id + ":messages" }
func autoKeyList(id, autoKey string) string { return "session:" + id + ":auto:" + autoKey }

func (r *RedisRegistry) Create(ctx context.Context, cfg Config) (*Session, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if cfg.Mode == "" {
		cfg.Mode = ModeAuto
	}
	now := time.Now().UTC()
	s := &Session{
		ID:             uuid.NewString(),
		HostLanguage:   cfg.HostLanguage,
		TargetLanguage: cfg.TargetLanguage,
		Mode:           cfg.Mode,
		HostUserID:     cfg.HostUserID,
		CreatedAt:      now,
		ExpiresAt:      now.Add(r.ttl),
	}
	key := sessionKey(s.ID)
	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, key, map[string]any{
			"host_language":   s.HostLanguage,
			"target_language": s.TargetLanguage,
			"mode":            string(s.Mode),
			"host_user_id":    s.HostUserID,
			"created_at":      now.Format(time.RFC3339Nano),
		})
		pipe.PExpire(ctx, key, r.ttl)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("session redis: create: %w", err)
	}
	return s, nil
}

func (r *RedisRegistry) Get(ctx context.Context, sessionID string) (*Session, error) {
	key := sessionKey(sessionID)
	var fields *redis.MapStringStringCmd
	var ttl *redis.DurationCmd
	_, err := r.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		fields = pipe.HGetAll(ctx, key)
		ttl = pipe.PTTL(ctx, key)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("session redis: get: %w", err)
	}
	vals := fields.Val()
	if len(vals) == 0 {
		return nil, ErrNotFound
	}

	s := &Session{
		ID:             sessionID,
		HostLanguage:   vals["host_language"],
		TargetLanguage: vals["target_language"],
		Mode:           Mode(vals["mode"]),
		HostUserID:     vals["host_user_id"],
	}
	if s.Mode == "" {
		s.Mode = ModeAuto
	}
	if created, err := time.Parse(time.RFC3339Nano, vals["created_at"]); err == nil {
		s.CreatedAt = created
	}
	if remaining := ttl.Val(); remaining > 0 {
		s.ExpiresAt = time.Now().UTC().Add(remaining)
	}
	return s, nil
}

func (r *RedisRegistry) AppendMessage(ctx context.Context, sessionID string, msg Message) error {
	remaining, err := r.client.PTTL(ctx, sessionKey(sessionID)).Result()
	if err != nil {
		return fmt.Errorf("session redis: pttl: %w", err)
	}
	if remaining == pttlMissing || (remaining <= 0 && remaining != pttlNoExpiry) {
		return ErrNotFound
	}

	raw, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("session redis: marshal message: %w", err)
	}
	_, err = r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		lists := []string{messagesKey(sessionID)}
		if msg.AutoKey != "" {
			lists = append(lists, autoKeyList(sessionID, msg.AutoKey))
		}
		for _, key := range lists {
			pipe.RPush(ctx, key, raw)
			if remaining > 0 {
				pipe.PExpire(ctx, key, remaining)
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("session redis: append: %w", err)
	}
	return nil
}

func (r *RedisRegistry) RecentMessages(ctx context.Context, sessionID string, n int) ([]Message, error) {
	if n <= 0 {
		return []Message{}, nil
	}
	return r.readList(ctx, sessionID, messagesKey(sessionID), -int64(n))
}

func (r *RedisRegistry) MessagesByAutoKey(ctx context.Context, sessionID, autoKey string) ([]Message, error) {
	return r.readList(ctx, sessionID, autoKeyList(sessionID, autoKey), 0)
}

func (r *RedisRegistry) Close() error {
	return r.client.Close()
}

func (r *RedisRegistry) readList(ctx context.Context, sessionID, key string, start int64) ([]Message, error) {
	exists, err := r.client.Exists(ctx, sessionKey(sessionID)).Result()
	if err != nil {
		return nil, fmt.Errorf("session redis: exists: %w", err)
	}
	if exists == 0 {
		return nil, ErrNotFound
	}
	raws, err := r.client.LRange(ctx, key, start, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("session redis: lrange: %w", err)
	}
	out := make([]Message, 0, len(raws))
	for i, raw := range raws {
		var m Message
		if err := json.Unmarshal([]byte(raw), &m); err != nil {
			r.logger.Warn("session redis: skip malformed message", "session_id", sessionID, "index", i, "err", err)
			continue
		}
		out = append(out, m)
	}
	return out, nil
}
