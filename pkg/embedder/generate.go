package embedder

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/perbu/qest/pkg/qest"
)

// EmbeddingError reports a failed embedding run. No partial result accompanies it.
type EmbeddingError struct {
	Model string
	Err   error
}

func (e *EmbeddingError) Error() string {
	return fmt.Sprintf("embedding with %s failed: %v", e.Model, e.Err)
}

func (e *EmbeddingError) Unwrap() error {
	return e.Err
}

// Generate embeds the text of every chunk and returns copies carrying the
// vectors. Chunks without text are dropped. Either every returned chunk has
// an embedding of the same dimension, or nothing is returned.
func Generate(ctx context.Context, emb Embedder, chunks []qest.Chunk, logger *zap.Logger) ([]qest.Chunk, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	selected := make([]qest.Chunk, 0, len(chunks))
	texts := make([]string, 0, len(chunks))
	for _, c := range chunks {
		if strings.TrimSpace(c.Text) == "" {
			logger.Warn("dropping chunk without text", zap.String("chunk_id", string(c.ID)))
			continue
		}
		selected = append(selected, c)
		texts = append(texts, c.Text)
	}
	if len(selected) == 0 {
		return nil, fmt.Errorf("%w: no chunk has text", qest.ErrEmptyInput)
	}

	logger.Info("generating embeddings",
		zap.Int("chunks", len(selected)),
		zap.String("model", emb.ModelInfo()))

	vectors, err := emb.EmbedBatch(ctx, texts)
	if err != nil {
		return nil, &EmbeddingError{Model: emb.ModelInfo(), Err: err}
	}
	if len(vectors) != len(selected) {
		return nil, &EmbeddingError{
			Model: emb.ModelInfo(),
			Err:   fmt.Errorf("got %d vectors for %d texts", len(vectors), len(selected)),
		}
	}

	dim := len(vectors[0])
	out := make([]qest.Chunk, len(selected))
	for i, c := range selected {
		if len(vectors[i]) == 0 || len(vectors[i]) != dim {
			return nil, &EmbeddingError{
				Model: emb.ModelInfo(),
				Err:   fmt.Errorf("chunk %s: %w: %d components, expected %d", c.ID, qest.ErrDimensionMismatch, len(vectors[i]), dim),
			}
		}
		c.Embedding = vectors[i]
		out[i] = c
	}

	return out, nil
}
