// Package retrieval embeds queries and finds the nearest chunks in the
// synchronized collection.
package retrieval

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/perbu/qest/pkg/embedder"
	"github.com/perbu/qest/pkg/metrics"
	"github.com/perbu/qest/pkg/qest"
	"github.com/perbu/qest/pkg/vectorstore"
)

// DefaultLimit is the number of hits returned when the caller passes 0.
const DefaultLimit = 3

// Retriever combines an Embedder and a Store. The embedder must be the one
// used for ingestion.
type Retriever struct {
	embedder     embedder.Embedder
	store        vectorstore.Store
	collection   string
	defaultLimit int
	logger       *zap.Logger
}

// New constructs a Retriever over the named collection.
func New(emb embedder.Embedder, store vectorstore.Store, collection string, defaultLimit int, logger *zap.Logger) (*Retriever, error) {
	if emb == nil {
		return nil, errors.New("retrieval: embedder must not be nil")
	}
	if store == nil {
		return nil, errors.New("retrieval: store must not be nil")
	}
	if collection == "" {
		return nil, errors.New("retrieval: collection name must not be empty")
	}
	if defaultLimit <= 0 {
		defaultLimit = DefaultLimit
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Retriever{
		embedder:     emb,
		store:        store,
		collection:   collection,
		defaultLimit: defaultLimit,
		logger:       logger,
	}, nil
}

// Retrieve returns at most limit hits for query, best first. A missing or
// empty collection yields no hits and no error. A query vector that does not
// fit the collection is reported as qest.ErrDimensionMismatch.
func (r *Retriever) Retrieve(ctx context.Context, query string, limit int) ([]qest.SearchHit, error) {
	if limit <= 0 {
		limit = r.defaultLimit
	}
	start := time.Now()
	defer func() {
		metrics.RetrievalDuration.WithLabelValues(r.collection).Observe(time.Since(start).Seconds())
	}()

	info, err := r.store.GetCollection(ctx, r.collection)
	if errors.Is(err, qest.ErrCollectionNotFound) {
		r.logger.Info("collection not synced yet, no knowledge available", zap.String("collection", r.collection))
		metrics.RetrievalHits.Observe(0)
		return []qest.SearchHit{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("retrieval: inspecting collection: %w", err)
	}

	vector, err := r.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("retrieval: embedding query failed: %w", err)
	}
	if len(vector) != info.Dimension {
		return nil, fmt.Errorf("retrieval: query vector has %d components, collection %s has %d: %w",
			len(vector), r.collection, info.Dimension, qest.ErrDimensionMismatch)
	}

	hits, err := r.store.Search(ctx, r.collection, vector, limit)
	if errors.Is(err, qest.ErrCollectionNotFound) {
		metrics.RetrievalHits.Observe(0)
		return []qest.SearchHit{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("retrieval: vector search failed: %w", err)
	}

	hits = qest.Rank(hits, limit)
	metrics.RetrievalHits.Observe(float64(len(hits)))
	r.logger.Debug("retrieved hits",
		zap.String("collection", r.collection),
		zap.Int("hits", len(hits)),
		zap.Int("limit", limit))

	return hits, nil
}
