// Package qest holds the data model shared by the ingestion and query paths.
package qest

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
)

// ID identifies a chunk. In JSON it may be an unsigned integer or a string;
// numeric ids are written back as numbers.
type ID string

// UnmarshalJSON accepts both `42` and `"42"` / `"intro-1"`.
func (id *ID) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*id = ID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("chunk id must be a string or an unsigned integer: %w", err)
	}
	if _, err := strconv.ParseUint(n.String(), 10, 64); err != nil {
		return fmt.Errorf("chunk id %s is not an unsigned integer", n)
	}
	*id = ID(n.String())
	return nil
}

// MarshalJSON writes numeric ids as JSON numbers.
func (id ID) MarshalJSON() ([]byte, error) {
	if _, ok := id.Uint(); ok {
		return []byte(id), nil
	}
	return json.Marshal(string(id))
}

// Uint reports whether the id is a canonical unsigned integer and returns it.
// "007" is not canonical and stays a string id.
func (id ID) Uint() (uint64, bool) {
	n, err := strconv.ParseUint(string(id), 10, 64)
	if err != nil || strconv.FormatUint(n, 10) != string(id) {
		return 0, false
	}
	return n, true
}

// Chunk is a unit of source text, optionally carrying its embedding.
type Chunk struct {
	ID        ID        `json:"chunk_id"`
	Text      string    `json:"text"`
	Embedding []float32 `json:"embedding,omitempty"`
}

// Distance is the similarity metric a collection is configured with.
type Distance string

const (
	Cosine    Distance = "Cosine"
	Euclidean Distance = "Euclid"
	Dot       Distance = "Dot"
)

// Collection describes a named, dimension-typed container in the vector store.
type Collection struct {
	Name       string
	Dimension  int
	Distance   Distance
	PointCount int
}

// Point is the stored unit in the vector store.
type Point struct {
	ID      ID
	Vector  []float32
	Payload map[string]any
}

// Payload keys written for every point.
const (
	PayloadText    = "text"
	PayloadChunkID = "chunk_id"
)

// PointFromChunk builds the point for an embedded chunk.
func PointFromChunk(c Chunk) Point {
	return Point{
		ID:     c.ID,
		Vector: c.Embedding,
		Payload: map[string]any{
			PayloadText:    c.Text,
			PayloadChunkID: string(c.ID),
		},
	}
}

// PointsFromChunks converts embedded chunks into points, preserving order.
func PointsFromChunks(chunks []Chunk) []Point {
	points := make([]Point, len(chunks))
	for i, c := range chunks {
		points[i] = PointFromChunk(c)
	}
	return points
}

// SearchHit is a single retrieval result.
type SearchHit struct {
	ID      ID
	Payload map[string]any
	Score   float32
}

// Text returns the payload text, or "" when absent.
func (h SearchHit) Text() string {
	s, _ := h.Payload[PayloadText].(string)
	return s
}

// QueryContext captures everything produced while answering one query.
type QueryContext struct {
	QueryText string
	Retrieved []SearchHit
	Prompt    string
	Answer    string
}
