package app

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"

	"github.com/ent0n29/chattoz/internal/config"
	"github.com/ent0n29/chattoz/internal/session"
)

func baseConfig() config.Config {
	return config.Config{
		MetricsNamespace:      fmt.Sprintf("test_app_%d", time.Now().UnixNano()),
		PublicBaseURL:         "http://localhost:3000/s",
		SessionTTL:            time.Hour,
		MemoryReembedOnEdit:   true,
		MemorySummarizeOnSave: true,
		MemoryTopN:            3,
		EmbeddingProvider:     "hash",
		EmbeddingDim:          64,
		EmbeddingCacheEntries: 100,
		LLMProvider:           "mock",
		CollaboratorTimeout:   time.Second,
		AutoReplyMaxTurns:     4,
		SuggestionHistory:     4,
		SuggestionCount:       3,
	}
}

func TestBuildInMemory(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	built, err := Build(ctx, baseConfig(), nil)
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	if _, ok := built.Sessions.(*session.Manager); !ok {
		t.Fatalf("Sessions = %T, want *session.Manager", built.Sessions)
	}
	if built.API == nil || built.Engine == nil || built.Hub == nil {
		t.Fatalf("incomplete build result: %+v", built)
	}

	entry, err := built.Memories.Save(ctx, "u1", "I prefer window seats")
	if err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	if entry.Message != "I prefer window seats" || len(entry.Embedding) != 64 {
		t.Fatalf("saved entry = %+v", entry)
	}
	if err := built.Cleanup(); err != nil {
		t.Fatalf("Cleanup() error = %v", err)
	}
}

func TestBuildExternalStores(t *testing.T) {
	mr := miniredis.RunT(t)
	cfg := baseConfig()
	cfg.SessionStoreURL = "redis://" + mr.Addr()
	cfg.MemoryStoreURL = "sqlite://" + filepath.Join(t.TempDir(), "memories.db")

	built, err := Build(context.Background(), cfg, nil)
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	defer built.Cleanup()
	if _, ok := built.Sessions.(*session.RedisRegistry); !ok {
		t.Fatalf("Sessions = %T, want *session.RedisRegistry", built.Sessions)
	}
	s, err := built.Sessions.Create(context.Background(), session.Config{HostLanguage: "en", TargetLanguage: "it"})
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if !mr.Exists("session:" + s.ID) {
		t.Fatalf("session not written to redis")
	}
}

func TestBuildRejectsUnknownProvider(t *testing.T) {
	cfg := baseConfig()
	cfg.LLMProvider = "openai"
	if _, err := Build(context.Background(), cfg, nil); err == nil {
		t.Fatalf("Build() with unknown llm provider should fail")
	}
}
