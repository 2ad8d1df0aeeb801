package embedding

import (
	"context"

	"github.com/cespare/xxhash/v2"

	"ctxkeep/pkg/tokens"
)

// HashProvider is a local, deterministic embedding: feature hashing of
// content words and their character trigrams. It has no notion of meaning
// beyond shared vocabulary, but needs no model and works offline.
type HashProvider struct {
	dimension int
}

// NewHashProvider creates a hash embedding provider.
func NewHashProvider(dimension int) *HashProvider {
	if dimension <= 0 {
		dimension = 384
	}
	return &HashProvider{dimension: dimension}
}

// Embed generates a hashed embedding.
func (p *HashProvider) Embed(_ context.Context, text string) ([]float32, error) {
	vec := make([]float32, p.dimension)
	for _, word := range tokens.ContentWords(text) {
		p.add(vec, "w:"+word, 1.0)
		if len(word) < 4 {
			continue
		}
		padded := "<" + word + ">"
		for i := 0; i+3 <= len(padded); i++ {
			p.add(vec, "t:"+padded[i:i+3], 0.25)
		}
	}
	return Normalize(vec), nil
}

// EmbedBatch generates hashed embeddings for each text.
func (p *HashProvider) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, text := range texts {
		vec, err := p.Embed(ctx, text)
		if err != nil {
			return nil, err
		}
		out[i] = vec
	}
	return out, nil
}

// Dimension returns the dimension of embeddings.
func (p *HashProvider) Dimension() int { return p.dimension }

// MaxBatchSize returns the maximum batch size.
func (p *HashProvider) MaxBatchSize() int { return 256 }

// Model names the provider.
func (p *HashProvider) Model() string { return "hash-v1" }

func (p *HashProvider) add(vec []float32, feature string, weight float32) {
	sum := xxhash.Sum64String(feature)
	idx := int(sum % uint64(len(vec)))
	if sum>>63 == 1 {
		weight = -weight
	}
	vec[idx] += weight
}
