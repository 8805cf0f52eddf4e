package session

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"
)

// NewRegistry returns the in-process Manager for an empty URL and a
// RedisRegistry for redis:// or rediss://.
func NewRegistry(ctx context.Context, storeURL string, ttl time.Duration, logger *slog.Logger) (Registry, error) {
	u := strings.TrimSpace(storeURL)
	switch {
	case u == "":
		return NewManager(ttl), nil
	case strings.HasPrefix(u, "redis://"), strings.HasPrefix(u, "rediss://"):
		return NewRedisRegistry(ctx, u, ttl, logger)
	default:
		return nil, fmt.Errorf("unsupported session store url %q", storeURL)
	}
}
