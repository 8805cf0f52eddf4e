package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

var allKeys = []string{
	"APP_CONFIG_FILE",
	"APP_BIND_ADDR",
	"APP_SHUTDOWN_TIMEOUT",
	"APP_METRICS_NAMESPACE",
	"APP_PUBLIC_BASE_URL",
	"APP_LOG_LEVEL",
	"APP_LOG_FORMAT",
	"APP_ALLOW_ANY_ORIGIN",
	"SESSION_TTL",
	"SESSION_STORE_URL",
	"MEMORY_STORE_URL",
	"MEMORY_REEMBED_ON_EDIT",
	"MEMORY_REDACT_PII",
	"MEMORY_SUMMARIZE_ON_SAVE",
	"MEMORY_TOP_N",
	"EMBEDDING_PROVIDER",
	"EMBEDDING_URL",
	"EMBEDDING_API_KEY",
	"EMBEDDING_MODEL",
	"EMBEDDING_DIM",
	"EMBEDDING_CACHE_ENTRIES",
	"LLM_PROVIDER",
	"ANTHROPIC_API_KEY",
	"ANTHROPIC_BASE_URL",
	"LLM_TRANSLATION_MODEL",
	"LLM_GENERATION_MODEL",
	"LLM_MAX_RETRIES",
	"COLLABORATOR_TIMEOUT",
	"AUTO_REPLY_MAX_TURNS",
	"SUGGESTION_HISTORY",
	"SUGGESTION_COUNT",
}

func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range allKeys {
		t.Setenv(key, "")
	}
}

func TestLoadDefaults(t *testing.T) {
	clearEnv(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.BindAddr != ":8080" || cfg.MetricsNamespace != "chattoz" {
		t.Fatalf("bind/namespace = %q/%q", cfg.BindAddr, cfg.MetricsNamespace)
	}
	if cfg.SessionTTL != 12*time.Hour {
		t.Fatalf("SessionTTL = %v, want 12h", cfg.SessionTTL)
	}
	if cfg.SessionStoreURL != "" || cfg.MemoryStoreURL != "" {
		t.Fatalf("store urls should default to in-memory")
	}
	if !cfg.MemoryReembedOnEdit || cfg.MemoryRedactPII || !cfg.MemorySummarizeOnSave {
		t.Fatalf("memory flags = %+v", cfg)
	}
	if cfg.AutoReplyMaxTurns != 12 || cfg.SuggestionHistory != 4 || cfg.SuggestionCount != 3 || cfg.MemoryTopN != 3 {
		t.Fatalf("relay defaults = %+v", cfg)
	}
	if cfg.EmbeddingDim != 384 || cfg.EmbeddingProvider != "auto" || cfg.LLMProvider != "auto" {
		t.Fatalf("provider defaults = %+v", cfg)
	}
	if cfg.PublicBaseURL != "http://localhost:3000/s" {
		t.Fatalf("PublicBaseURL = %q", cfg.PublicBaseURL)
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("APP_BIND_ADDR", ":9191")
	t.Setenv("SESSION_TTL", "30m")
	t.Setenv("MEMORY_REEMBED_ON_EDIT", "off")
	t.Setenv("AUTO_REPLY_MAX_TURNS", "4")
	t.Setenv("APP_PUBLIC_BASE_URL", "https://chat.example.com/s/")
	t.Setenv("LLM_PROVIDER", "MOCK")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.BindAddr != ":9191" || cfg.SessionTTL != 30*time.Minute {
		t.Fatalf("cfg = %+v", cfg)
	}
	if cfg.MemoryReembedOnEdit {
		t.Fatalf("MemoryReembedOnEdit = true, want false")
	}
	if cfg.AutoReplyMaxTurns != 4 {
		t.Fatalf("AutoReplyMaxTurns = %d, want 4", cfg.AutoReplyMaxTurns)
	}
	if cfg.PublicBaseURL != "https://chat.example.com/s" {
		t.Fatalf("PublicBaseURL = %q, want trailing slash trimmed", cfg.PublicBaseURL)
	}
	if cfg.LLMProvider != "mock" {
		t.Fatalf("LLMProvider = %q, want mock", cfg.LLMProvider)
	}
}

func TestLoadFileOverlayIsBelowEnv(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "chattoz.yaml")
	body := strings.Join([]string{
		"APP_BIND_ADDR: \":7000\"",
		"session_ttl: 2h",
		"SUGGESTION_COUNT: 5",
		"MEMORY_REDACT_PII: true",
	}, "\n")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config file: %v", err)
	}
	t.Setenv("APP_CONFIG_FILE", path)
	t.Setenv("SUGGESTION_COUNT", "2")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.BindAddr != ":7000" || cfg.SessionTTL != 2*time.Hour || !cfg.MemoryRedactPII {
		t.Fatalf("file values not applied: %+v", cfg)
	}
	if cfg.SuggestionCount != 2 {
		t.Fatalf("SuggestionCount = %d, want env value 2", cfg.SuggestionCount)
	}
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	cases := map[string]string{
		"SESSION_TTL":          "30s",
		"COLLABORATOR_TIMEOUT": "soon",
		"MEMORY_TOP_N":         "three",
		"APP_ALLOW_ANY_ORIGIN": "maybe",
		"EMBEDDING_PROVIDER":   "onnx",
		"AUTO_REPLY_MAX_TURNS": "0",
		"APP_LOG_FORMAT":       "xml",
	}
	for key, value := range cases {
		t.Run(key, func(t *testing.T) {
			clearEnv(t)
			t.Setenv(key, value)
			_, err := Load()
			if err == nil {
				t.Fatalf("Load() with %s=%q should fail", key, value)
			}
			if !strings.Contains(err.Error(), key) {
				t.Fatalf("error %q does not name %s", err, key)
			}
		})
	}
}

func TestLoadMissingConfigFile(t *testing.T) {
	clearEnv(t)
	t.Setenv("APP_CONFIG_FILE", filepath.Join(t.TempDir(), "missing.yaml"))
	if _, err := Load(); err == nil {
		t.Fatalf("Load() with missing file should fail")
	}
}
