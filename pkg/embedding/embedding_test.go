package embedding

import (
	"context"
	"encoding/json"
	"math"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"ctxkeep/pkg/config"
)

func norm(v []float32) float64 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	return math.Sqrt(sum)
}

func TestHashProviderDeterministicAndNormalized(t *testing.T) {
	p := NewHashProvider(64)
	ctx := context.Background()

	a, err := p.Embed(ctx, "The database uses PostgreSQL")
	if err != nil {
		t.Fatalf("embed: %v", err)
	}
	b, _ := p.Embed(ctx, "The database uses PostgreSQL")

	if len(a) != 64 {
		t.Fatalf("expected 64 dims, got %d", len(a))
	}
	if Distance(a, b) != 0 {
		t.Fatalf("expected identical vectors, distance %v", Distance(a, b))
	}
	if math.Abs(norm(a)-1) > 1e-5 {
		t.Fatalf("expected unit norm, got %v", norm(a))
	}
}

func TestHashProviderSharedVocabularyIsCloser(t *testing.T) {
	p := NewHashProvider(384)
	ctx := context.Background()

	query, _ := p.Embed(ctx, "what database are we using?")
	texts := []string{
		"The database uses PostgreSQL",
		"We chose React for the frontend",
		"Deploy on AWS ECS",
	}
	vectors, err := p.EmbedBatch(ctx, texts)
	if err != nil {
		t.Fatalf("embed batch: %v", err)
	}

	best, bestDist := -1, math.Inf(1)
	for i, v := range vectors {
		if d := Distance(query, v); d < bestDist {
			best, bestDist = i, d
		}
	}
	if best != 0 {
		t.Fatalf("expected PostgreSQL text closest, got %q", texts[best])
	}
}

func TestHashProviderEmptyTextIsZeroVector(t *testing.T) {
	v, err := NewHashProvider(16).Embed(context.Background(), "the and of")
	if err != nil {
		t.Fatalf("embed: %v", err)
	}
	if norm(v) != 0 {
		t.Fatalf("expected zero vector for stopword-only text")
	}
}

func TestEmbedAllSplitsIntoBatches(t *testing.T) {
	p := &countingProvider{HashProvider: NewHashProvider(8), batch: 2}
	texts := []string{"alpha", "bravo", "charlie", "delta", "echo"}

	vectors, err := EmbedAll(context.Background(), p, texts)
	if err != nil {
		t.Fatalf("embed all: %v", err)
	}
	if len(vectors) != len(texts) {
		t.Fatalf("expected %d vectors, got %d", len(texts), len(vectors))
	}
	if p.calls != 3 {
		t.Fatalf("expected 3 batch calls, got %d", p.calls)
	}
}

type countingProvider struct {
	*HashProvider
	batch int
	calls int
}

func (p *countingProvider) MaxBatchSize() int { return p.batch }

func (p *countingProvider) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	p.calls++
	return p.HashProvider.EmbedBatch(ctx, texts)
}

func TestOllamaProviderEmbedBatch(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/embed" {
			t.Errorf("unexpected path %s", r.URL.Path)
			http.NotFound(w, r)
			return
		}
		var req struct {
			Model string   `json:"model"`
			Input []string `json:"input"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		if req.Model != "all-minilm" {
			t.Errorf("unexpected model %s", req.Model)
		}
		embeddings := make([][]float32, len(req.Input))
		for i := range req.Input {
			embeddings[i] = []float32{3, 4, 0}
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"model":      req.Model,
			"embeddings": embeddings,
		})
	}))
	defer server.Close()

	p, err := NewOllamaProvider(OllamaOptions{Host: server.URL, Dimension: 3, Timeout: 5 * time.Second})
	if err != nil {
		t.Fatalf("new provider: %v", err)
	}

	vectors, err := p.EmbedBatch(context.Background(), []string{"one", "two"})
	if err != nil {
		t.Fatalf("embed batch: %v", err)
	}
	if len(vectors) != 2 {
		t.Fatalf("expected 2 vectors, got %d", len(vectors))
	}
	if math.Abs(float64(vectors[0][0])-0.6) > 1e-6 || math.Abs(float64(vectors[0][1])-0.8) > 1e-6 {
		t.Fatalf("expected normalized vector, got %v", vectors[0])
	}
}

func TestOllamaProviderDimensionMismatch(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"model":"all-minilm","embeddings":[[1,2]]}`))
	}))
	defer server.Close()

	p, err := NewOllamaProvider(OllamaOptions{Host: server.URL, Dimension: 384})
	if err != nil {
		t.Fatalf("new provider: %v", err)
	}
	if _, err := p.Embed(context.Background(), "text"); err == nil {
		t.Fatal("expected dimension mismatch error")
	}
}

func TestOpenAIProviderEmbedBatch(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/embeddings" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer test-key" {
			t.Errorf("unexpected auth header %q", got)
		}
		w.Header().Set("Content-Type", "application/json")
		// Out-of-order indices must be placed by index.
		_, _ = w.Write([]byte(`{"object":"list","model":"text-embedding-3-small","data":[
			{"object":"embedding","index":1,"embedding":[0,2]},
			{"object":"embedding","index":0,"embedding":[5,0]}
		]}`))
	}))
	defer server.Close()

	p, err := NewOpenAIProvider(OpenAIOptions{
		APIKey:    "test-key",
		BaseURL:   server.URL + "/v1",
		Model:     "text-embedding-3-small",
		Dimension: 2,
	})
	if err != nil {
		t.Fatalf("new provider: %v", err)
	}

	vectors, err := p.EmbedBatch(context.Background(), []string{"first", "second"})
	if err != nil {
		t.Fatalf("embed batch: %v", err)
	}
	if vectors[0][0] != 1 || vectors[1][1] != 1 {
		t.Fatalf("unexpected vectors %v", vectors)
	}
}

func TestNewSelectsProvider(t *testing.T) {
	p, err := New(config.EmbeddingConfig{Provider: "hash", Dimension: 32})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if p.Dimension() != 32 || p.Model() != "hash-v1" {
		t.Fatalf("unexpected provider %s/%d", p.Model(), p.Dimension())
	}

	if _, err := New(config.EmbeddingConfig{Provider: "openai"}); err == nil {
		t.Fatal("expected error for openai without api key")
	}
	if _, err := New(config.EmbeddingConfig{Provider: "bogus"}); err == nil {
		t.Fatal("expected error for unknown provider")
	}
}
