// Package embedding turns text into fixed-dimension vectors.
//
// Every provider returns L2-normalized vectors so that Euclidean distance
// between any two embeddings lies in [0, 2] regardless of the model.
package embedding

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	"ctxkeep/pkg/config"
)

// Provider generates embeddings for text.
type Provider interface {
	// Embed generates an embedding for a single text.
	Embed(ctx context.Context, text string) ([]float32, error)

	// EmbedBatch generates embeddings for multiple texts, in input order.
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)

	// Dimension returns the dimension of embeddings.
	Dimension() int

	// MaxBatchSize returns the maximum number of texts per EmbedBatch call.
	MaxBatchSize() int

	// Model names the embedding model, recorded in store statistics.
	Model() string
}

// New builds the provider selected by cfg.Provider.
func New(cfg config.EmbeddingConfig) (Provider, error) {
	timeout := time.Duration(cfg.Timeout) * time.Second
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	switch strings.ToLower(strings.TrimSpace(cfg.Provider)) {
	case "", "hash":
		return NewHashProvider(cfg.Dimension), nil
	case "openai":
		return NewOpenAIProvider(OpenAIOptions{
			APIKey:    cfg.APIKey,
			BaseURL:   cfg.APIBase,
			Model:     cfg.Model,
			Dimension: cfg.Dimension,
			BatchSize: cfg.BatchSize,
			Timeout:   timeout,
		})
	case "ollama":
		return NewOllamaProvider(OllamaOptions{
			Host:      cfg.OllamaHost,
			Model:     cfg.Model,
			Dimension: cfg.Dimension,
			BatchSize: cfg.BatchSize,
			Timeout:   timeout,
		})
	default:
		return nil, fmt.Errorf("unknown embedding provider: %s", cfg.Provider)
	}
}

// EmbedAll embeds texts in groups of p.MaxBatchSize().
func EmbedAll(ctx context.Context, p Provider, texts []string) ([][]float32, error) {
	batch := p.MaxBatchSize()
	if batch <= 0 {
		batch = len(texts)
	}

	out := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += batch {
		end := min(start+batch, len(texts))
		vectors, err := p.EmbedBatch(ctx, texts[start:end])
		if err != nil {
			return nil, fmt.Errorf("embed batch %d-%d: %w", start, end, err)
		}
		if len(vectors) != end-start {
			return nil, fmt.Errorf("embed batch %d-%d: got %d vectors", start, end, len(vectors))
		}
		out = append(out, vectors...)
	}
	return out, nil
}

// Normalize scales v to unit length in place. Zero vectors are left as is.
func Normalize(v []float32) []float32 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	if sum == 0 {
		return v
	}
	inv := float32(1.0 / math.Sqrt(sum))
	for i := range v {
		v[i] *= inv
	}
	return v
}

// Distance is the Euclidean distance between a and b.
func Distance(a, b []float32) float64 {
	if len(a) != len(b) {
		return math.Inf(1)
	}
	var sum float64
	for i := range a {
		d := float64(a[i]) - float64(b[i])
		sum += d * d
	}
	return math.Sqrt(sum)
}

func checkDimension(vectors [][]float32, want int, model string) error {
	for i, v := range vectors {
		if len(v) != want {
			return fmt.Errorf("embedding %d dimension mismatch: got %d, want %d (model: %s)", i, len(v), want, model)
		}
	}
	return nil
}
