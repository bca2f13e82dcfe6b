// Package vectorstore provides access to the remote vector index and an
// in-memory stand-in with the same behaviour.
package vectorstore

import (
	"context"

	"github.com/perbu/qest/pkg/qest"
)

// Store is the set of vector-store operations the pipeline consumes.
//
// GetCollection and Search return qest.ErrCollectionNotFound for an absent
// collection. Upsert overwrites points with the same id.
type Store interface {
	ListCollections(ctx context.Context) ([]string, error)
	GetCollection(ctx context.Context, name string) (qest.Collection, error)
	CreateCollection(ctx context.Context, name string, dimension int, distance qest.Distance) error
	DeleteCollection(ctx context.Context, name string) error
	Upsert(ctx context.Context, name string, points []qest.Point) error
	// Search returns at most limit hits with payloads, best first.
	Search(ctx context.Context, name string, vector []float32, limit int) ([]qest.SearchHit, error)
}
