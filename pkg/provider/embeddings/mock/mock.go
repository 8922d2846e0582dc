// Package mock provides a deterministic test double for the
// embeddings.Provider interface.
//
// Vectors are derived from the input text with a simple hash so that equal
// texts embed identically and different texts (usually) differ, which is
// enough for memory-store similarity tests without a live model.
package mock

import (
	"context"
	"hash/fnv"
	"math"
	"sync"

	"github.com/codavoice/coda/pkg/provider/embeddings"
)

// DefaultDimensions is the vector length used when none is configured.
const DefaultDimensions = 16

// Provider is a mock implementation of embeddings.Provider.
type Provider struct {
	mu sync.Mutex

	// Dims is the vector length. Defaults to DefaultDimensions when zero.
	Dims int

	// EmbedErr, if non-nil, is returned by Embed and EmbedBatch.
	EmbedErr error

	// Fixed maps exact input texts to preset vectors, overriding the hash
	// derivation. Useful for forcing specific similarity relations.
	Fixed map[string][]float32

	// EmbedCalls records every text passed to Embed or EmbedBatch, in order.
	EmbedCalls []string
}

// Embed returns a deterministic vector for text.
func (p *Provider) Embed(_ context.Context, text string) ([]float32, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.EmbedCalls = append(p.EmbedCalls, text)
	if p.EmbedErr != nil {
		return nil, p.EmbedErr
	}
	return p.vector(text), nil
}

// EmbedBatch returns deterministic vectors for each text.
func (p *Provider) EmbedBatch(_ context.Context, texts []string) ([][]float32, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.EmbedErr != nil {
		return nil, p.EmbedErr
	}
	out := make([][]float32, len(texts))
	for i, t := range texts {
		p.EmbedCalls = append(p.EmbedCalls, t)
		out[i] = p.vector(t)
	}
	return out, nil
}

// Dimensions returns the configured vector length.
func (p *Provider) Dimensions() int {
	if p.Dims == 0 {
		return DefaultDimensions
	}
	return p.Dims
}

// ModelID returns "mock".
func (p *Provider) ModelID() string { return "mock" }

// vector derives a unit-length vector from text. Texts sharing a word prefix
// produce nearby vectors because the hash folds in cumulative prefixes.
func (p *Provider) vector(text string) []float32 {
	if v, ok := p.Fixed[text]; ok {
		out := make([]float32, len(v))
		copy(out, v)
		return out
	}

	dims := p.Dims
	if dims == 0 {
		dims = DefaultDimensions
	}

	v := make([]float32, dims)
	h := fnv.New64a()
	_, _ = h.Write([]byte(text))
	seed := h.Sum64()
	for i := range v {
		seed = seed*6364136223846793005 + 1442695040888963407
		v[i] = float32(int64(seed>>32)) / float32(math.MaxInt32)
	}

	// Normalise to unit length so cosine similarity behaves.
	var norm float64
	for _, x := range v {
		norm += float64(x) * float64(x)
	}
	norm = math.Sqrt(norm)
	if norm > 0 {
		for i := range v {
			v[i] = float32(float64(v[i]) / norm)
		}
	}
	return v
}

// Ensure Provider implements embeddings.Provider at compile time.
var _ embeddings.Provider = (*Provider)(nil)
