package embedding

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"
)

// OpenAIOptions configures an OpenAIProvider.
type OpenAIOptions struct {
	APIKey  string
	BaseURL string
	Model   string
	// Dimension is requested from text-embedding-3 models, which can
	// shorten their output. Other models must already produce it.
	Dimension int
	BatchSize int
	Timeout   time.Duration
}

// OpenAIProvider provides embeddings using an OpenAI-compatible API.
type OpenAIProvider struct {
	client    *openai.Client
	model     string
	dimension int
	maxBatch  int
}

// NewOpenAIProvider creates a new OpenAI embedding provider.
func NewOpenAIProvider(opts OpenAIOptions) (*OpenAIProvider, error) {
	if opts.APIKey == "" {
		return nil, errors.New("openai embedding provider requires an api key")
	}

	model := opts.Model
	if model == "" || !strings.Contains(model, "embedding") {
		model = string(openai.SmallEmbedding3)
	}
	dimension := opts.Dimension
	if dimension <= 0 {
		dimension = 1536
	}
	maxBatch := opts.BatchSize
	if maxBatch <= 0 || maxBatch > 2048 {
		maxBatch = 2048
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	clientCfg := openai.DefaultConfig(opts.APIKey)
	if opts.BaseURL != "" {
		clientCfg.BaseURL = strings.TrimRight(opts.BaseURL, "/")
	}
	clientCfg.HTTPClient = &http.Client{Timeout: timeout}

	return &OpenAIProvider{
		client:    openai.NewClientWithConfig(clientCfg),
		model:     model,
		dimension: dimension,
		maxBatch:  maxBatch,
	}, nil
}

// Embed generates a single embedding.
func (p *OpenAIProvider) Embed(ctx context.Context, text string) ([]float32, error) {
	embeddings, err := p.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return embeddings[0], nil
}

// EmbedBatch generates multiple embeddings in one API call.
func (p *OpenAIProvider) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	if len(texts) > p.maxBatch {
		return nil, fmt.Errorf("batch size %d exceeds maximum %d", len(texts), p.maxBatch)
	}

	req := openai.EmbeddingRequest{
		Model: openai.EmbeddingModel(p.model),
		Input: texts,
	}
	if strings.HasPrefix(p.model, "text-embedding-3") {
		req.Dimensions = p.dimension
	}

	resp, err := p.client.CreateEmbeddings(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("openai embeddings: %w", err)
	}

	embeddings := make([][]float32, len(texts))
	for _, item := range resp.Data {
		if item.Index < 0 || item.Index >= len(embeddings) {
			continue
		}
		v := make([]float32, len(item.Embedding))
		for i := range item.Embedding {
			v[i] = float32(item.Embedding[i])
		}
		embeddings[item.Index] = Normalize(v)
	}
	for i, v := range embeddings {
		if v == nil {
			return nil, fmt.Errorf("openai embeddings: missing vector for input %d", i)
		}
	}
	if err := checkDimension(embeddings, p.dimension, p.model); err != nil {
		return nil, err
	}

	return embeddings, nil
}

// Dimension returns the dimension of embeddings.
func (p *OpenAIProvider) Dimension() int { return p.dimension }

// MaxBatchSize returns the maximum batch size.
func (p *OpenAIProvider) MaxBatchSize() int { return p.maxBatch }

// Model returns the model name.
func (p *OpenAIProvider) Model() string { return p.model }
