package embedding

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/ent0n29/chattoz/internal/reliability"
)

const (
	defaultHTTPModel   = "text-embedding-3-small"
	defaultHTTPTimeout = 15 * time.Second
	httpAttempts       = 3
)

// HTTPConfig points at any OpenAI-compatible /embeddings endpoint.
type HTTPConfig struct {
	BaseURL    string
	APIKey     string
	Model      string
	Dimensions int // 0 accepts whatever length the server returns
	Timeout    time.Duration
}

type HTTPEmbedder struct {
	cfg    HTTPConfig
	client *http.Client
}

func NewHTTPEmbedder(cfg HTTPConfig) *HTTPEmbedder {
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.Model == "" {
		cfg.Model = defaultHTTPModel
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultHTTPTimeout
	}
	return &HTTPEmbedder{cfg: cfg, client: &http.Client{Timeout: cfg.Timeout}}
}

type embeddingRequest struct {
	Input      string `json:"input"`
	Model      string `json:"model"`
	Dimensions int    `json:"dimensions,omitempty"`
}

type embeddingResponse struct {
	Data []struct {
		Embedding []float32 `json:"embedding"`
		Index     int       `json:"index"`
	} `json:"data"`
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error,omitempty"`
}

func (e *HTTPEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	body, err := json.Marshal(embeddingRequest{Input: text, Model: e.cfg.Model, Dimensions: e.cfg.Dimensions})
	if err != nil {
		return nil, fmt.Errorf("embedder http: marshal request: %w", err)
	}

	var vec []float32
	err = reliability.Retry(ctx, httpAttempts, 200*time.Millisecond, 2*time.Second, func(ctx context.Context) error {
		v, err := e.post(ctx, body)
		if err != nil {
			return err
		}
		vec = v
		return nil
	})
	if err != nil {
		return nil, err
	}
	if e.cfg.Dimensions > 0 && len(vec) != e.cfg.Dimensions {
		return nil, fmt.Errorf("embedder http: got %d dimensions, want %d", len(vec), e.cfg.Dimensions)
	}
	return vec, nil
}

func (e *HTTPEmbedder) post(ctx context.Context, body []byte) ([]float32, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.cfg.BaseURL+"/embeddings", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("embedder http: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if e.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+e.cfg.APIKey)
	}

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("embedder http: request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return nil, fmt.Errorf("embedder http: read body: %w", err)
	}
	if resp.StatusCode >= 300 {
		return nil, &reliability.StatusError{Service: "embedder http", Code: resp.StatusCode, Body: truncate(string(raw), 200)}
	}

	var out embeddingResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("embedder http: decode response: %w", err)
	}
	if out.Error != nil {
		return nil, fmt.Errorf("embedder http: api error (%s): %s", out.Error.Type, out.Error.Message)
	}
	if len(out.Data) == 0 || len(out.Data[0].Embedding) == 0 {
		return nil, fmt.Errorf("embedder http: no embedding returned")
	}
	return out.Data[0].Embedding, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
