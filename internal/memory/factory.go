package memory

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
)

// NewStore picks a backend from the store URL: empty for in-memory,
// postgres://, sqlite://<path> or redis://.
func NewStore(ctx context.Context, storeURL string, logger *slog.Logger) (Store, error) {
	u := strings.TrimSpace(storeURL)
	switch {
	case u == "":
		return NewInMemoryStore(), nil
	case strings.HasPrefix(u, "postgres://"), strings.HasPrefix(u, "postgresql://"):
		return NewPostgresStore(ctx, u)
	case strings.HasPrefix(u, "sqlite://"):
		path := strings.TrimPrefix(u, "sqlite://")
		if path == "" {
			return nil, fmt.Errorf("sqlite memory store requires a path")
		}
		return NewSQLiteStore(ctx, path, logger)
	case strings.HasPrefix(u, "redis://"), strings.HasPrefix(u, "rediss://"):
		return NewRedisStore(ctx, u, logger)
	default:
		return nil, fmt.Errorf("unsupported memory store url %q", storeURL)
	}
}
