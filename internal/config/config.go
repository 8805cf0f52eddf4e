package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config contains all runtime settings for the translation relay.
type Config struct {
	BindAddr         string
	ShutdownTimeout  time.Duration
	MetricsNamespace string
	PublicBaseURL    string
	LogLevel         string
	LogFormat        string

	AllowAnyOrigin bool

	SessionTTL      time.Duration
	SessionStoreURL string

	MemoryStoreURL        string
	MemoryReembedOnEdit   bool
	MemoryRedactPII       bool
	MemorySummarizeOnSave bool
	MemoryTopN            int

	EmbeddingProvider     string
	EmbeddingURL          string
	EmbeddingAPIKey       string
	EmbeddingModel        string
	EmbeddingDim          int
	EmbeddingCacheEntries int

	LLMProvider         string
	AnthropicAPIKey     string
	AnthropicBaseURL    string
	LLMTranslationModel string
	LLMGenerationModel  string
	LLMMaxRetries       int

	CollaboratorTimeout time.Duration
	AutoReplyMaxTurns   int
	SuggestionHistory   int
	SuggestionCount     int
}

// Load reads an optional YAML file named by APP_CONFIG_FILE, then environment
// variables, and applies safe defaults. Environment values win over the file.
func Load() (Config, error) {
	src, err := newSource(strings.TrimSpace(os.Getenv("APP_CONFIG_FILE")))
	if err != nil {
		return Config{}, err
	}

	cfg := Config{
		BindAddr:            src.stringOr("APP_BIND_ADDR", ":8080"),
		MetricsNamespace:    src.stringOr("APP_METRICS_NAMESPACE", "chattoz"),
		PublicBaseURL:       strings.TrimRight(src.stringOr("APP_PUBLIC_BASE_URL", "http://localhost:3000/s"), "/"),
		LogLevel:            strings.ToLower(src.stringOr("APP_LOG_LEVEL", "info")),
		LogFormat:           strings.ToLower(src.stringOr("APP_LOG_FORMAT", "text")),
		SessionStoreURL:     src.trimmed("SESSION_STORE_URL"),
		MemoryStoreURL:      src.trimmed("MEMORY_STORE_URL"),
		EmbeddingProvider:   strings.ToLower(src.stringOr("EMBEDDING_PROVIDER", "auto")),
		EmbeddingURL:        src.trimmed("EMBEDDING_URL"),
		EmbeddingAPIKey:     src.trimmed("EMBEDDING_API_KEY"),
		EmbeddingModel:      src.trimmed("EMBEDDING_MODEL"),
		LLMProvider:         strings.ToLower(src.stringOr("LLM_PROVIDER", "auto")),
		AnthropicAPIKey:     src.trimmed("ANTHROPIC_API_KEY"),
		AnthropicBaseURL:    src.trimmed("ANTHROPIC_BASE_URL"),
		LLMTranslationModel: src.trimmed("LLM_TRANSLATION_MODEL"),
		LLMGenerationModel:  src.trimmed("LLM_GENERATION_MODEL"),

		ShutdownTimeout:       15 * time.Second,
		SessionTTL:            12 * time.Hour,
		MemoryReembedOnEdit:   true,
		MemorySummarizeOnSave: true,
		MemoryTopN:            3,
		EmbeddingDim:          384,
		EmbeddingCacheEntries: 10000,
		LLMMaxRetries:         2,
		CollaboratorTimeout:   20 * time.Second,
		AutoReplyMaxTurns:     12,
		SuggestionHistory:     4,
		SuggestionCount:       3,
	}

	durations := []struct {
		key string
		dst *time.Duration
	}{
		{"APP_SHUTDOWN_TIMEOUT", &cfg.ShutdownTimeout},
		{"SESSION_TTL", &cfg.SessionTTL},
		{"COLLABORATOR_TIMEOUT", &cfg.CollaboratorTimeout},
	}
	for _, d := range durations {
		if *d.dst, err = src.duration(d.key, *d.dst); err != nil {
			return Config{}, err
		}
	}

	ints := []struct {
		key string
		dst *int
	}{
		{"MEMORY_TOP_N", &cfg.MemoryTopN},
		{"EMBEDDING_DIM", &cfg.EmbeddingDim},
		{"EMBEDDING_CACHE_ENTRIES", &cfg.EmbeddingCacheEntries},
		{"LLM_MAX_RETRIES", &cfg.LLMMaxRetries},
		{"AUTO_REPLY_MAX_TURNS", &cfg.AutoReplyMaxTurns},
		{"SUGGESTION_HISTORY", &cfg.SuggestionHistory},
		{"SUGGESTION_COUNT", &cfg.SuggestionCount},
	}
	for _, n := range ints {
		if *n.dst, err = src.integer(n.key, *n.dst); err != nil {
			return Config{}, err
		}
	}

	bools := []struct {
		key string
		dst *bool
	}{
		{"APP_ALLOW_ANY_ORIGIN", &cfg.AllowAnyOrigin},
		{"MEMORY_REEMBED_ON_EDIT", &cfg.MemoryReembedOnEdit},
		{"MEMORY_REDACT_PII", &cfg.MemoryRedactPII},
		{"MEMORY_SUMMARIZE_ON_SAVE", &cfg.MemorySummarizeOnSave},
	}
	for _, b := range bools {
		if *b.dst, err = src.boolean(b.key, *b.dst); err != nil {
			return Config{}, err
		}
	}

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	if c.SessionTTL < time.Minute {
		return fmt.Errorf("SESSION_TTL must be at least 1m")
	}
	if c.CollaboratorTimeout <= 0 {
		return fmt.Errorf("COLLABORATOR_TIMEOUT must be positive")
	}
	if c.EmbeddingDim <= 0 {
		return fmt.Errorf("EMBEDDING_DIM must be positive")
	}
	if c.EmbeddingCacheEntries < 0 {
		return fmt.Errorf("EMBEDDING_CACHE_ENTRIES must be >= 0")
	}
	if c.MemoryTopN < 0 {
		return fmt.Errorf("MEMORY_TOP_N must be >= 0")
	}
	if c.LLMMaxRetries < 0 {
		return fmt.Errorf("LLM_MAX_RETRIES must be >= 0")
	}
	if c.AutoReplyMaxTurns <= 0 {
		return fmt.Errorf("AUTO_REPLY_MAX_TURNS must be positive")
	}
	if c.SuggestionHistory <= 0 {
		return fmt.Errorf("SUGGESTION_HISTORY must be positive")
	}
	if c.SuggestionCount <= 0 {
		return fmt.Errorf("SUGGESTION_COUNT must be positive")
	}
	switch c.EmbeddingProvider {
	case "auto", "http", "hash":
	default:
		return fmt.Errorf("EMBEDDING_PROVIDER must be one of auto, http, hash")
	}
	switch c.LLMProvider {
	case "auto", "anthropic", "mock":
	default:
		return fmt.Errorf("LLM_PROVIDER must be one of auto, anthropic, mock")
	}
	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("APP_LOG_LEVEL must be one of debug, info, warn, error")
	}
	switch c.LogFormat {
	case "text", "json":
	default:
		return fmt.Errorf("APP_LOG_FORMAT must be text or json")
	}
	return nil
}

// source resolves a key from the environment first and the config file second.
type source struct {
	file map[string]string
}

func newSource(path string) (source, error) {
	if path == "" {
		return source{}, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return source{}, fmt.Errorf("APP_CONFIG_FILE read error: %w", err)
	}
	var values map[string]string
	if err := yaml.Unmarshal(raw, &values); err != nil {
		return source{}, fmt.Errorf("APP_CONFIG_FILE parse error: %w", err)
	}
	file := make(map[string]string, len(values))
	for k, v := range values {
		file[strings.ToUpper(trimSpace(k))] = v
	}
	return source{file: file}, nil
}

func (s source) lookup(key string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return s.file[key]
}

func (s source) stringOr(key, fallback string) string {
	v := trimSpace(s.lookup(key))
	if v == "" {
		return fallback
	}
	return v
}

func (s source) trimmed(key string) string {
	return trimSpace(s.lookup(key))
}

func trimSpace(v string) string {
	return strings.Trim(v, " \n\t\r")
}

func (s source) duration(key string, fallback time.Duration) (time.Duration, error) {
	v := s.trimmed(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return d, nil
}

func (s source) integer(key string, fallback int) (int, error) {
	v := s.trimmed(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return n, nil
}

func (s source) boolean(key string, fallback bool) (bool, error) {
	v := strings.ToLower(s.trimmed(key))
	if v == "" {
		return fallback, nil
	}
	switch v {
	case "1", "true", "t", "yes", "y", "on":
		return true, nil
	case "0", "false", "f", "no", "n", "off":
		return false, nil
	default:
		return false, fmt.Errorf("%s parse error: expected bool", key)
	}
}
