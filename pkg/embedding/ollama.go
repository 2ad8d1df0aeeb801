package embedding

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/ollama/ollama/api"
)

const (
	// DefaultOllamaModel produces 384-dimensional vectors.
	DefaultOllamaModel = "all-minilm"

	// DefaultOllamaDimension is the dimension for all-minilm.
	DefaultOllamaDimension = 384
)

// OllamaOptions configures an OllamaProvider.
type OllamaOptions struct {
	Host      string
	Model     string
	Dimension int
	BatchSize int
	Timeout   time.Duration
}

// OllamaProvider implements Provider using a local Ollama server.
type OllamaProvider struct {
	client    *api.Client
	model     string
	dimension int
	maxBatch  int
}

var _ Provider = (*OllamaProvider)(nil)

// NewOllamaProvider creates a new Ollama embedding client.
func NewOllamaProvider(opts OllamaOptions) (*OllamaProvider, error) {
	host := opts.Host
	if host == "" {
		host = "http://localhost:11434"
	}
	base, err := url.Parse(host)
	if err != nil {
		return nil, fmt.Errorf("parse ollama host: %w", err)
	}

	model := opts.Model
	if model == "" {
		model = DefaultOllamaModel
	}
	dimension := opts.Dimension
	if dimension <= 0 {
		dimension = DefaultOllamaDimension
	}
	maxBatch := opts.BatchSize
	if maxBatch <= 0 {
		maxBatch = 64
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	return &OllamaProvider{
		client:    api.NewClient(base, &http.Client{Timeout: timeout}),
		model:     model,
		dimension: dimension,
		maxBatch:  maxBatch,
	}, nil
}

// Embed generates an embedding vector for the given text.
func (p *OllamaProvider) Embed(ctx context.Context, text string) ([]float32, error) {
	vectors, err := p.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

// EmbedBatch generates embeddings for multiple texts in a single request.
func (p *OllamaProvider) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return [][]float32{}, nil
	}

	resp, err := p.client.Embed(ctx, &api.EmbedRequest{
		Model: p.model,
		Input: texts,
	})
	if err != nil {
		return nil, fmt.Errorf("ollama embed: %w", err)
	}
	if len(resp.Embeddings) != len(texts) {
		return nil, fmt.Errorf("embedding count mismatch: got %d, want %d", len(resp.Embeddings), len(texts))
	}
	if err := checkDimension(resp.Embeddings, p.dimension, p.model); err != nil {
		return nil, err
	}

	for _, v := range resp.Embeddings {
		Normalize(v)
	}
	return resp.Embeddings, nil
}

// Dimension returns the expected embedding dimension.
func (p *OllamaProvider) Dimension() int { return p.dimension }

// MaxBatchSize returns the maximum batch size.
func (p *OllamaProvider) MaxBatchSize() int { return p.maxBatch }

// Model returns the configured embedding model name.
func (p *OllamaProvider) Model() string { return p.model }
