package embedder

import (
	"context"
	"errors"
	"fmt"
	"math"

	openai "github.com/sashabaranov/go-openai"

	"github.com/perbu/qest/pkg/qest"
)

// maxInputsPerRequest bounds how many texts go into one embeddings call.
const maxInputsPerRequest = 64

// OpenAIEmbedder uses the OpenAI (or Azure OpenAI) API for embeddings
type OpenAIEmbedder struct {
	client *openai.Client
	model  string
	dim    int
	// requested is sent as the "dimensions" parameter when non-zero.
	requested int
}

// NewOpenAIEmbedder creates an OpenAI embedder from a client configuration.
// dimensions may be 0 to use the model's native size.
func NewOpenAIEmbedder(cfg openai.ClientConfig, model string, dimensions int) (*OpenAIEmbedder, error) {
	if model == "" {
		return nil, errors.New("embedding model not set")
	}

	// Set dimension based on model; 0 means learn it from the first response
	dim := 0
	switch model {
	case "text-embedding-3-small", string(openai.AdaEmbeddingV2):
		dim = 1536
	case "text-embedding-3-large":
		dim = 3072
	}
	if dimensions > 0 {
		dim = dimensions
	}

	return &OpenAIEmbedder{
		client:    openai.NewClientWithConfig(cfg),
		model:     model,
		dim:       dim,
		requested: dimensions,
	}, nil
}

// Embed generates an embedding for a single text
func (e *OpenAIEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	vecs, err := e.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

// EmbedBatch embeds texts in order, issuing one request per group of
// maxInputsPerRequest texts. Any failure fails the whole batch.
func (e *OpenAIEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	for i, t := range texts {
		if len(t) == 0 {
			return nil, fmt.Errorf("cannot embed empty text (index %d)", i)
		}
	}

	embeddings := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += maxInputsPerRequest {
		end := min(start+maxInputsPerRequest, len(texts))

		resp, err := e.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
			Model:      openai.EmbeddingModel(e.model),
			Input:      texts[start:end],
			Dimensions: e.requested,
		})
		if err != nil {
			return nil, fmt.Errorf("%w: OpenAI API error: %w", qest.ErrExternal, err)
		}
		if len(resp.Data) != end-start {
			return nil, fmt.Errorf("%w: expected %d embeddings, got %d", qest.ErrExternal, end-start, len(resp.Data))
		}

		group := make([][]float32, end-start)
		for _, d := range resp.Data {
			if d.Index < 0 || d.Index >= len(group) {
				return nil, fmt.Errorf("%w: embedding index %d out of range", qest.ErrExternal, d.Index)
			}
			v := make([]float32, len(d.Embedding))
			copy(v, d.Embedding)

			// L2 normalize (important for cosine similarity)
			l2normalize(v)

			if e.dim == 0 {
				e.dim = len(v)
			}
			if len(v) != e.dim {
				return nil, fmt.Errorf("%w: model returned %d components, expected %d", qest.ErrDimensionMismatch, len(v), e.dim)
			}
			group[d.Index] = v
		}
		embeddings = append(embeddings, group...)
	}

	return embeddings, nil
}

// Dimension returns the embedding dimension, or 0 before the first call
// for a model of unknown size.
func (e *OpenAIEmbedder) Dimension() int {
	return e.dim
}

// ModelInfo returns model information
func (e *OpenAIEmbedder) ModelInfo() string {
	return "openai-" + e.model
}

// l2normalize normalizes a vector to unit length
func l2normalize(v []float32) {
	var sum float32
	for _, x := range v {
		sum += x * x
	}
	if sum == 0 {
		return
	}
	inv := float32(1.0 / math.Sqrt(float64(sum)))
	for i := range v {
		v[i] *= inv
	}
}
