package app

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/ent0n29/chattoz/internal/assist"
	"github.com/ent0n29/chattoz/internal/config"
	"github.com/ent0n29/chattoz/internal/embedding"
	"github.com/ent0n29/chattoz/internal/httpapi"
	"github.com/ent0n29/chattoz/internal/hub"
	"github.com/ent0n29/chattoz/internal/llm"
	"github.com/ent0n29/chattoz/internal/memory"
	"github.com/ent0n29/chattoz/internal/observability"
	"github.com/ent0n29/chattoz/internal/relay"
	"github.com/ent0n29/chattoz/internal/session"
)

const janitorInterval = 30 * time.Second

type BuildResult struct {
	Config   config.Config
	API      *httpapi.Server
	Sessions session.Registry
	Hub      *hub.Hub
	Engine   *relay.Engine
	Memories *memory.Manager
	Metrics  *observability.Metrics

	// Cleanup should be called on shutdown to release external resources (DB, Redis, caches).
	Cleanup func() error
}

// Build wires every component from cfg. Background work such as the
// in-process session janitor is bound to ctx.
func Build(ctx context.Context, cfg config.Config, logger *slog.Logger) (*BuildResult, error) {
	if logger == nil {
		logger = slog.Default()
	}
	metrics := observability.NewMetrics(cfg.MetricsNamespace)

	var closers []func() error
	fail := func(err error) (*BuildResult, error) {
		for i := len(closers) - 1; i >= 0; i-- {
			_ = closers[i]()
		}
		return nil, err
	}

	memoryStore, err := memory.NewStore(ctx, cfg.MemoryStoreURL, logger)
	if err != nil {
		return fail(fmt.Errorf("memory store init failed: %w", err))
	}
	closers = append(closers, memoryStore.Close)

	embedder, err := embedding.New(embedding.Options{
		Provider:     cfg.EmbeddingProvider,
		URL:          cfg.EmbeddingURL,
		APIKey:       cfg.EmbeddingAPIKey,
		Model:        cfg.EmbeddingModel,
		Dimensions:   cfg.EmbeddingDim,
		CacheEntries: cfg.EmbeddingCacheEntries,
		Timeout:      cfg.CollaboratorTimeout,
		Logger:       logger,
	})
	if err != nil {
		return fail(fmt.Errorf("embedder init failed: %w", err))
	}
	if c, ok := embedder.(io.Closer); ok {
		closers = append(closers, c.Close)
	}

	model, err := llm.New(llm.Options{
		Provider:         cfg.LLMProvider,
		APIKey:           cfg.AnthropicAPIKey,
		BaseURL:          cfg.AnthropicBaseURL,
		TranslationModel: cfg.LLMTranslationModel,
		GenerationModel:  cfg.LLMGenerationModel,
		MaxRetries:       cfg.LLMMaxRetries,
		Timeout:          cfg.CollaboratorTimeout,
		Logger:           logger,
	})
	if err != nil {
		return fail(fmt.Errorf("llm init failed: %w", err))
	}

	memOpts := memory.Options{
		ReembedOnEdit: cfg.MemoryReembedOnEdit,
		RedactPII:     cfg.MemoryRedactPII,
		Logger:        logger,
	}
	if cfg.MemorySummarizeOnSave {
		memOpts.Summarizer = model
	}
	memories := memory.NewManager(memoryStore, embedder, memOpts)

	sessions, err := session.NewRegistry(ctx, cfg.SessionStoreURL, cfg.SessionTTL, logger)
	if err != nil {
		return fail(fmt.Errorf("session registry init failed: %w", err))
	}
	closers = append(closers, sessions.Close)
	if m, ok := sessions.(*session.Manager); ok {
		m.SetExpireHook(func(s *session.Session) {
			metrics.ObserveSessionEvent("expired")
			logger.Debug("session expired", "session_id", s.ID)
		})
		m.SetSweepHook(metrics.SetActiveSessions)
		m.StartJanitor(ctx, janitorInterval)
	}

	connections := hub.New(logger)
	closers = append(closers, func() error {
		connections.Close()
		return nil
	})

	engine := relay.NewEngine(relay.Config{
		CollaboratorTimeout: cfg.CollaboratorTimeout,
		AutoReplyMaxTurns:   cfg.AutoReplyMaxTurns,
		SuggestionHistory:   cfg.SuggestionHistory,
		MemoryTopN:          cfg.MemoryTopN,
	}, relay.Deps{
		Sessions:   sessions,
		Hub:        connections,
		Translator: model,
		Embedder:   embedder,
		Memories:   memories,
		Assistant:  assist.New(model, assist.Options{SuggestionCount: cfg.SuggestionCount, Logger: logger}),
		Metrics:    metrics,
		Logger:     logger,
	})

	api := httpapi.New(cfg, sessions, engine, memories, metrics, logger)

	cleanup := func() error {
		var errs []string
		// Connections first so no turn is mid-flight against a closed store.
		for i := len(closers) - 1; i >= 0; i-- {
			if err := closers[i](); err != nil {
				errs = append(errs, err.Error())
			}
		}
		if len(errs) > 0 {
			return fmt.Errorf("%s", strings.Join(errs, "; "))
		}
		return nil
	}

	return &BuildResult{
		Config:   cfg,
		API:      api,
		Sessions: sessions,
		Hub:      connections,
		Engine:   engine,
		Memories: memories,
		Metrics:  metrics,
		Cleanup:  cleanup,
	}, nil
}
