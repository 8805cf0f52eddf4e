package embedding

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/ent0n29/chattoz/internal/memory"
)

func cosine(a, b []float32) float64 {
	return memory.CosineSimilarity(a, b)
}

func TestHashEmbedderIsDeterministicAndLexical(t *testing.T) {
	e := NewHashEmbedder(256)
	ctx := context.Background()
	a1, _ := e.Embed(ctx, "I love spicy food")
	a2, _ := e.Embed(ctx, "i LOVE spicy food!")
	b, _ := e.Embed(ctx, "spicy food please")
	c, _ := e.Embed(ctx, "quantum chromodynamics lecture")

	if len(a1) != 256 {
		t.Fatalf("len = %d, want 256", len(a1))
	}
	if cosine(a1, a2) < 0.999 {
		t.Fatalf("same words should embed identically, cos = %v", cosine(a1, a2))
	}
	if cosine(a1, b) <= cosine(a1, c) {
		t.Fatalf("overlapping text should rank higher: %v <= %v", cosine(a1, b), cosine(a1, c))
	}
	empty, _ := e.Embed(ctx, "   ")
	if len(empty) != 256 {
		t.Fatalf("empty text len = %d, want 256", len(empty))
	}
}

func TestHTTPEmbedderRetriesThenSucceeds(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/embeddings" {
			http.NotFound(w, r)
			return
		}
		if r.Header.Get("Authorization") != "Bearer k" {
			t.Errorf("missing bearer token")
		}
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		var req embeddingRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		if req.Input != "hola" || req.Dimensions != 3 {
			t.Errorf("request = %+v", req)
		}
		_, _ = w.Write([]byte(`{"data":[{"index":0,"embedding":[0.1,0.2,0.3]}]}`))
	}))
	defer srv.Close()

	e := NewHTTPEmbedder(HTTPConfig{BaseURL: srv.URL + "/", APIKey: "k", Dimensions: 3})
	vec, err := e.Embed(context.Background(), "hola")
	if err != nil {
		t.Fatalf("Embed() error = %v", err)
	}
	if len(vec) != 3 || vec[2] != 0.3 {
		t.Fatalf("vec = %v", vec)
	}
	if calls.Load() != 2 {
		t.Fatalf("calls = %d, want 2", calls.Load())
	}
}

func TestHTTPEmbedderRejectsWrongDimensions(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"data":[{"index":0,"embedding":[1,2]}]}`))
	}))
	defer srv.Close()

	e := NewHTTPEmbedder(HTTPConfig{BaseURL: srv.URL, Dimensions: 4})
	if _, err := e.Embed(context.Background(), "x"); err == nil {
		t.Fatalf("expected dimension mismatch error")
	}
}

type countingEmbedder struct{ calls atomic.Int32 }

func (c *countingEmbedder) Embed(context.Context, string) ([]float32, error) {
	c.calls.Add(1)
	return []float32{1, 0}, nil
}

func TestCachedEmbedderServesRepeatsFromCache(t *testing.T) {
	inner := &countingEmbedder{}
	c, err := NewCachedEmbedder(inner, 100)
	if err != nil {
		t.Fatalf("NewCachedEmbedder() error = %v", err)
	}
	defer c.Close()

	ctx := context.Background()
	first, _ := c.Embed(ctx, "hello")
	c.Wait()
	first[0] = 42
	second, _ := c.Embed(ctx, "hello")
	if inner.calls.Load() != 1 {
		t.Fatalf("inner calls = %d, want 1", inner.calls.Load())
	}
	if second[0] != 1 {
		t.Fatalf("cached vector was mutated through caller copy: %v", second)
	}
}

func TestNewSelectsProvider(t *testing.T) {
	e, err := New(Options{Provider: "auto", Dimensions: 16})
	if err != nil {
		t.Fatalf("New(auto) error = %v", err)
	}
	if _, ok := e.(*HashEmbedder); !ok {
		t.Fatalf("New(auto without url) = %T, want *HashEmbedder", e)
	}
	e, err = New(Options{URL: "http://localhost:1", CacheEntries: 10})
	if err != nil {
		t.Fatalf("New(url) error = %v", err)
	}
	if _, ok := e.(*CachedEmbedder); !ok {
		t.Fatalf("New(url, cache) = %T, want *CachedEmbedder", e)
	}
	if _, err := New(Options{Provider: "http"}); err == nil {
		t.Fatalf("New(http without url) should fail")
	}
	if _, err := New(Options{Provider: "onnx"}); err == nil {
		t.Fatalf("New(onnx) should fail")
	}
}
