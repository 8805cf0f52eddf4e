package embedding

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"
)

// Embedder maps text to a fixed-length vector.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

type Options struct {
	Provider     string // auto, http or hash
	URL          string
	APIKey       string
	Model        string
	Dimensions   int
	CacheEntries int
	Timeout      time.Duration
	Logger       *slog.Logger
}

// New builds the configured embedder. "auto" picks http when a URL is set
// and falls back to the local hashing embedder otherwise. A positive
// CacheEntries wraps the result in a CachedEmbedder.
func New(opts Options) (Embedder, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	provider := strings.ToLower(strings.TrimSpace(opts.Provider))
	if provider == "" || provider == "auto" {
		provider = "hash"
		if strings.TrimSpace(opts.URL) != "" {
			provider = "http"
		}
	}

	var base Embedder
	switch provider {
	case "http":
		if strings.TrimSpace(opts.URL) == "" {
			return nil, fmt.Errorf("embedding provider http requires EMBEDDING_URL")
		}
		base = NewHTTPEmbedder(HTTPConfig{
			BaseURL:    opts.URL,
			APIKey:     opts.APIKey,
			Model:      opts.Model,
			Dimensions: opts.Dimensions,
			Timeout:    opts.Timeout,
		})
	case "hash":
		logger.Warn("using local hashing embedder; memory ranking is lexical only")
		base = NewHashEmbedder(opts.Dimensions)
	default:
		return nil, fmt.Errorf("unsupported embedding provider %q", opts.Provider)
	}

	if opts.CacheEntries <= 0 {
		return base, nil
	}
	return NewCachedEmbedder(base, opts.CacheEntries)
}
