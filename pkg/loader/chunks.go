package loader

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/perbu/qest/pkg/qest"
)

// LoadChunks reads a chunk file: a JSON array of {"chunk_id", "text"} objects.
// Any problem with the file is reported as qest.ErrValidation.
func LoadChunks(path string) ([]qest.Chunk, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: reading %s: %w", qest.ErrValidation, path, err)
	}
	return ParseChunks(data)
}

// ParseChunks decodes and validates chunk file contents.
func ParseChunks(data []byte) ([]qest.Chunk, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || trimmed[0] != '[' {
		return nil, fmt.Errorf("%w: expected a JSON array of chunks", qest.ErrValidation)
	}

	var chunks []qest.Chunk
	if err := json.Unmarshal(trimmed, &chunks); err != nil {
		return nil, fmt.Errorf("%w: decoding chunks: %w", qest.ErrValidation, err)
	}

	seen := make(map[qest.ID]int, len(chunks))
	for i, c := range chunks {
		if c.ID == "" {
			return nil, fmt.Errorf("%w: chunk %d has no chunk_id", qest.ErrValidation, i)
		}
		if prev, dup := seen[c.ID]; dup {
			return nil, fmt.Errorf("%w: chunk_id %s repeated at %d and %d", qest.ErrValidation, c.ID, prev, i)
		}
		seen[c.ID] = i
	}

	return chunks, nil
}

// LoadEmbeddings reads an embedding file and checks that every chunk carries
// an embedding and that all embeddings share one length.
func LoadEmbeddings(path string) ([]qest.Chunk, error) {
	chunks, err := LoadChunks(path)
	if err != nil {
		return nil, err
	}
	if err := ValidateEmbeddings(chunks); err != nil {
		return nil, err
	}
	return chunks, nil
}

// ValidateEmbeddings checks that every chunk carries an embedding of one shared length.
func ValidateEmbeddings(chunks []qest.Chunk) error {
	if len(chunks) == 0 {
		return fmt.Errorf("%w: no embeddings", qest.ErrEmptyInput)
	}
	dim := len(chunks[0].Embedding)
	for i, c := range chunks {
		if len(c.Embedding) == 0 {
			return fmt.Errorf("%w: chunk %s (index %d) has no embedding", qest.ErrValidation, c.ID, i)
		}
		if len(c.Embedding) != dim {
			return fmt.Errorf("%w: chunk %s has %d components, expected %d: %w",
				qest.ErrValidation, c.ID, len(c.Embedding), dim, qest.ErrDimensionMismatch)
		}
	}
	return nil
}

// SaveChunks writes chunks as an indented JSON array. The file is replaced
// atomically.
func SaveChunks(path string, chunks []qest.Chunk) error {
	if chunks == nil {
		chunks = []qest.Chunk{}
	}
	data, err := json.MarshalIndent(chunks, "", "    ")
	if err != nil {
		return fmt.Errorf("encoding chunks: %w", err)
	}

	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return err
		}
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		os.Remove(tmp)
		return err
	}

	// Atomic rename
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return err
	}
	return nil
}
