package vectorstore

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/perbu/qest/pkg/qest"
)

type memoryCollection struct {
	dimension int
	distance  qest.Distance
	order     []qest.ID // insertion order, for stable ties
	points    map[qest.ID]qest.Point
}

// Memory is an in-process Store. Search is a brute-force scan.
type Memory struct {
	mu          sync.RWMutex
	collections map[string]*memoryCollection
}

// Compile-time check that Memory implements Store.
var _ Store = (*Memory)(nil)

// NewMemory returns an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{collections: make(map[string]*memoryCollection)}
}

func (m *Memory) ListCollections(ctx context.Context) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	names := make([]string, 0, len(m.collections))
	for name := range m.collections {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

func (m *Memory) GetCollection(ctx context.Context, name string) (qest.Collection, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	c, ok := m.collections[name]
	if !ok {
		return qest.Collection{}, fmt.Errorf("%w: %s", qest.ErrCollectionNotFound, name)
	}
	return qest.Collection{
		Name:       name,
		Dimension:  c.dimension,
		Distance:   c.distance,
		PointCount: len(c.points),
	}, nil
}

func (m *Memory) CreateCollection(ctx context.Context, name string, dimension int, distance qest.Distance) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.collections[name]; ok {
		return fmt.Errorf("%w: collection %s already exists", qest.ErrExternal, name)
	}
	if dimension <= 0 {
		return fmt.Errorf("%w: invalid dimension %d", qest.ErrValidation, dimension)
	}
	m.collections[name] = &memoryCollection{
		dimension: dimension,
		distance:  distance,
		points:    make(map[qest.ID]qest.Point),
	}
	return nil
}

func (m *Memory) DeleteCollection(ctx context.Context, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.collections[name]; !ok {
		return fmt.Errorf("%w: %s", qest.ErrCollectionNotFound, name)
	}
	delete(m.collections, name)
	return nil
}

// Upsert applies the whole batch or nothing.
func (m *Memory) Upsert(ctx context.Context, name string, points []qest.Point) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	c, ok := m.collections[name]
	if !ok {
		return fmt.Errorf("%w: %s", qest.ErrCollectionNotFound, name)
	}
	for _, p := range points {
		if len(p.Vector) != c.dimension {
			return fmt.Errorf("point %s has %d components, collection %s expects %d: %w",
				p.ID, len(p.Vector), name, c.dimension, qest.ErrDimensionMismatch)
		}
	}

	for _, p := range points {
		if _, exists := c.points[p.ID]; !exists {
			c.order = append(c.order, p.ID)
		}
		vec := make([]float32, len(p.Vector))
		copy(vec, p.Vector)
		payload := make(map[string]any, len(p.Payload))
		for k, v := range p.Payload {
			payload[k] = v
		}
		c.points[p.ID] = qest.Point{ID: p.ID, Vector: vec, Payload: payload}
	}
	return nil
}

// Search scores every point against vector and returns the top limit hits.
func (m *Memory) Search(ctx context.Context, name string, vector []float32, limit int) ([]qest.SearchHit, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	c, ok := m.collections[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", qest.ErrCollectionNotFound, name)
	}
	if len(vector) != c.dimension {
		return nil, fmt.Errorf("query has %d components, collection %s expects %d: %w",
			len(vector), name, c.dimension, qest.ErrDimensionMismatch)
	}

	hits := make([]qest.SearchHit, 0, len(c.points))

	// Compute similarity for all points
	for _, id := range c.order {
		p := c.points[id]
		hits = append(hits, qest.SearchHit{
			ID:      p.ID,
			Payload: p.Payload,
			Score:   qest.Similarity(c.distance, vector, p.Vector),
		})
	}

	return qest.Rank(hits, limit), nil
}

// Points returns a copy of the points in a collection in insertion order.
func (m *Memory) Points(name string) []qest.Point {
	m.mu.RLock()
	defer m.mu.RUnlock()

	c, ok := m.collections[name]
	if !ok {
		return nil
	}
	points := make([]qest.Point, 0, len(c.order))
	for _, id := range c.order {
		points = append(points, c.points[id])
	}
	return points
}
