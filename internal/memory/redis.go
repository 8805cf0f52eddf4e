package memory

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"
)

const (
	redisKeyPrefix     = "user_memories:"
	redisUpdateRetries = 3
)

// RedisStore keeps each user's memories as a Redis list of JSON documents.
// Memories do not expire.
type RedisStore struct {
	client *redis.Client
	logger *slog.Logger
}

func NewRedisStore(ctx context.Context, redisURL string, logger *slog.Logger) (*RedisStore, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connect redis: %w", err)
	}
	return NewRedisStoreFromClient(client, logger), nil
}

func NewRedisStoreFromClient(client *redis.Client, logger *slog.Logger) *RedisStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &RedisStore{client: client, logger: logger}
}

func redisKey(userID string) string { return redisKeyPrefix + userID }

func (s *RedisStore) Append(ctx context.Context, entry Entry) error {
	raw, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("memory redis: marshal: %w", err)
	}
	if err := s.client.RPush(ctx, redisKey(entry.UserID), raw).Err(); err != nil {
		return fmt.Errorf("memory redis: rpush: %w", err)
	}
	return nil
}

func (s *RedisStore) List(ctx context.Context, userID string) ([]Entry, error) {
	raws, err := s.client.LRange(ctx, redisKey(userID), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("memory redis: lrange: %w", err)
	}
	entries := make([]Entry, 0, len(raws))
	for i, raw := range raws {
		var e Entry
		if err := json.Unmarshal([]byte(raw), &e); err != nil {
			s.logger.Warn("memory redis: skip malformed entry", "user_id", userID, "index", i, "err", err)
			continue
		}
		entries = append(entries, e)
	}
	if len(entries) == 0 {
		return nil, nil
	}
	return entries, nil
}

// UpdateMessage rewrites the list element in place inside a WATCH
// transaction so a concurrent append or delete cannot shift the index.
func (s *RedisStore) UpdateMessage(ctx context.Context, userID, memoryID, message string, embedding []float32) error {
	key := redisKey(userID)
	update := func(tx *redis.Tx) error {
		raws, err := tx.LRange(ctx, key, 0, -1).Result()
		if err != nil {
			return err
		}
		idx, entry, ok := findRedisEntry(raws, memoryID)
		if !ok {
			return ErrNotFound
		}
		entry.Message = message
		if embedding != nil {
			entry.Embedding = embedding
		}
		raw, err := json.Marshal(entry)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.LSet(ctx, key, int64(idx), raw)
			return nil
		})
		return err
	}

	for attempt := 0; attempt < redisUpdateRetries; attempt++ {
		err := s.client.Watch(ctx, update, key)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if err != nil && !errors.Is(err, ErrNotFound) {
			return fmt.Errorf("memory redis: update: %w", err)
		}
		return err
	}
	return fmt.Errorf("memory redis: update: %w", redis.TxFailedErr)
}

func (s *RedisStore) Delete(ctx context.Context, userID, memoryID string) error {
	key := redisKey(userID)
	raws, err := s.client.LRange(ctx, key, 0, -1).Result()
	if err != nil {
		return fmt.Errorf("memory redis: lrange: %w", err)
	}
	idx, _, ok := findRedisEntry(raws, memoryID)
	if !ok {
		return ErrNotFound
	}
	removed, err := s.client.LRem(ctx, key, 1, raws[idx]).Result()
	if err != nil {
		return fmt.Errorf("memory redis: lrem: %w", err)
	}
	if removed == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}

func findRedisEntry(raws []string, memoryID string) (int, Entry, bool) {
	for i, raw := range raws {
		var e Entry
		if err := json.Unmarshal([]byte(raw), &e); err != nil {
			continue
		}
		if e.ID == memoryID {
			return i, e, true
		}
	}
	return -1, Entry{}, false
}
