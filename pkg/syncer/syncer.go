// Package syncer keeps a vector-store collection in line with a point set:
// it negotiates the collection schema and uploads points in ordered batches.
package syncer

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"go.uber.org/zap"

	"github.com/perbu/qest/pkg/metrics"
	"github.com/perbu/qest/pkg/qest"
	"github.com/perbu/qest/pkg/vectorstore"
)

const (
	DefaultBatchSize      = 100
	DefaultSettleTimeout  = 10 * time.Second
	DefaultSettleInterval = 500 * time.Millisecond
)

// Action describes what EnsureCollection had to do.
type Action int

const (
	// Unchanged means the collection already matched.
	Unchanged Action = iota
	// Created means the collection did not exist.
	Created
	// Recreated means the collection was dropped for a dimension mismatch.
	Recreated
)

func (a Action) String() string {
	switch a {
	case Created:
		return "created"
	case Recreated:
		return "recreated"
	default:
		return "unchanged"
	}
}

// BatchUploadError reports the first failed batch. Batches before it stay
// committed; Batch is also the index to resume from.
type BatchUploadError struct {
	Collection string
	Batch      int // zero-based index of the failed batch
	Batches    int // total number of batches
	Committed  int // points committed before the failed batch
	Err        error
}

func (e *BatchUploadError) Error() string {
	return fmt.Sprintf("upload to %s failed at batch %d/%d (%d points committed): %v",
		e.Collection, e.Batch+1, e.Batches, e.Committed, e.Err)
}

func (e *BatchUploadError) Unwrap() error {
	return e.Err
}

// Options configures a Synchronizer. Zero values select the defaults.
type Options struct {
	BatchSize      int
	Distance       qest.Distance
	SettleTimeout  time.Duration
	SettleInterval time.Duration
	Locker         Locker
	Logger         *zap.Logger
}

// Synchronizer owns the lifecycle of collections in a Store.
type Synchronizer struct {
	store vectorstore.Store
	opts  Options
}

// New creates a Synchronizer over store.
func New(store vectorstore.Store, opts Options) *Synchronizer {
	if opts.BatchSize <= 0 {
		opts.BatchSize = DefaultBatchSize
	}
	if opts.Distance == "" {
		opts.Distance = qest.Cosine
	}
	if opts.SettleTimeout <= 0 {
		opts.SettleTimeout = DefaultSettleTimeout
	}
	if opts.SettleInterval <= 0 {
		opts.SettleInterval = DefaultSettleInterval
	}
	if opts.Locker == nil {
		opts.Locker = NewKeyedMutex()
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &Synchronizer{store: store, opts: opts}
}

// BatchSize returns the configured batch size.
func (s *Synchronizer) BatchSize() int {
	return s.opts.BatchSize
}

// Report summarizes a synchronization run.
type Report struct {
	Action   Action
	Uploaded int // points written by this run
	Skipped  int // points in batches skipped when resuming
	Batches  int
}

// Sync makes the named collection hold points and returns how many were
// uploaded, which equals len(points) on success.
func (s *Synchronizer) Sync(ctx context.Context, points []qest.Point, name string) (int, error) {
	report, err := s.SyncFrom(ctx, points, name, 0)
	return report.Uploaded, err
}

// SyncFrom is Sync resuming at batch startBatch. The skipped batches are
// assumed to be committed by an earlier run; if the collection has to be
// created or recreated the run starts over from batch 0.
func (s *Synchronizer) SyncFrom(ctx context.Context, points []qest.Point, name string, startBatch int) (Report, error) {
	if len(points) == 0 {
		return Report{}, fmt.Errorf("sync %s: %w", name, qest.ErrEmptyInput)
	}
	dimension := len(points[0].Vector)
	if dimension == 0 {
		return Report{}, fmt.Errorf("%w: point %s has an empty vector", qest.ErrValidation, points[0].ID)
	}
	for _, p := range points {
		if len(p.Vector) != dimension {
			return Report{}, fmt.Errorf("%w: point %s has %d components, expected %d: %w",
				qest.ErrValidation, p.ID, len(p.Vector), dimension, qest.ErrDimensionMismatch)
		}
	}

	batches := (len(points) + s.opts.BatchSize - 1) / s.opts.BatchSize
	if startBatch < 0 || startBatch >= batches {
		return Report{}, fmt.Errorf("%w: start batch %d outside [0, %d)", qest.ErrValidation, startBatch, batches)
	}

	unlock, err := s.opts.Locker.Lock(ctx, name)
	if err != nil {
		return Report{Batches: batches}, &BatchUploadError{
			Collection: name,
			Batch:      startBatch,
			Batches:    batches,
			Committed:  min(startBatch*s.opts.BatchSize, len(points)),
			Err:        err,
		}
	}
	defer unlock()

	action, err := s.ensureCollection(ctx, name, dimension)
	if err != nil {
		return Report{Action: action, Batches: batches}, err
	}
	if action != Unchanged && startBatch > 0 {
		s.opts.Logger.Warn("collection was (re)created, resume point discarded",
			zap.String("collection", name),
			zap.Int("start_batch", startBatch))
		startBatch = 0
	}

	report := Report{
		Action:  action,
		Batches: batches,
		Skipped: min(startBatch*s.opts.BatchSize, len(points)),
	}

	s.opts.Logger.Info("uploading points",
		zap.String("collection", name),
		zap.Int("points", len(points)),
		zap.Int("batch_size", s.opts.BatchSize),
		zap.Int("start_batch", startBatch))

	for b := startBatch; b < batches; b++ {
		start := b * s.opts.BatchSize
		end := min(start+s.opts.BatchSize, len(points))

		if err := ctx.Err(); err != nil {
			return report, &BatchUploadError{Collection: name, Batch: b, Batches: batches, Committed: start, Err: err}
		}

		s.opts.Logger.Debug("uploading batch",
			zap.String("collection", name),
			zap.Int("batch", b+1),
			zap.Int("of", batches))

		if err := s.store.Upsert(ctx, name, points[start:end]); err != nil {
			metrics.SyncBatchesTotal.WithLabelValues(name, metrics.StatusError).Inc()
			s.opts.Logger.Error("batch upload failed",
				zap.String("collection", name),
				zap.Int("batch", b+1),
				zap.Int("committed", start),
				zap.Error(err))
			return report, &BatchUploadError{Collection: name, Batch: b, Batches: batches, Committed: start, Err: err}
		}

		metrics.SyncBatchesTotal.WithLabelValues(name, metrics.StatusOK).Inc()
		metrics.SyncPointsTotal.WithLabelValues(name).Add(float64(end - start))
		report.Uploaded += end - start
	}

	s.opts.Logger.Info("upload complete",
		zap.String("collection", name),
		zap.Int("uploaded", report.Uploaded),
		zap.Int("skipped", report.Skipped))

	return report, nil
}

// EnsureCollection makes sure the named collection exists with the given
// dimension, dropping and recreating it on mismatch. Recreation discards
// every stored point.
func (s *Synchronizer) EnsureCollection(ctx context.Context, name string, dimension int) (Action, error) {
	if dimension <= 0 {
		return Unchanged, fmt.Errorf("%w: invalid dimension %d", qest.ErrValidation, dimension)
	}
	unlock, err := s.opts.Locker.Lock(ctx, name)
	if err != nil {
		return Unchanged, err
	}
	defer unlock()
	return s.ensureCollection(ctx, name, dimension)
}

func (s *Synchronizer) ensureCollection(ctx context.Context, name string, dimension int) (Action, error) {
	names, err := s.store.ListCollections(ctx)
	if err != nil {
		return Unchanged, fmt.Errorf("listing collections: %w", err)
	}
	var info qest.Collection
	if slices.Contains(names, name) {
		info, err = s.store.GetCollection(ctx, name)
	} else {
		err = qest.ErrCollectionNotFound
	}

	switch {
	case errors.Is(err, qest.ErrCollectionNotFound):
		s.opts.Logger.Info("creating collection",
			zap.String("collection", name),
			zap.Int("dimension", dimension),
			zap.String("distance", string(s.opts.Distance)))
		if err := s.store.CreateCollection(ctx, name, dimension, s.opts.Distance); err != nil {
			return Unchanged, fmt.Errorf("creating collection %s: %w", name, err)
		}
		return Created, nil

	case err != nil:
		return Unchanged, fmt.Errorf("inspecting collection %s: %w", name, err)

	case info.Dimension == dimension:
		return Unchanged, nil
	}

	s.opts.Logger.Warn("collection dimension mismatch, recreating and discarding all points",
		zap.String("collection", name),
		zap.Int("current_dimension", info.Dimension),
		zap.Int("new_dimension", dimension),
		zap.Int("discarded_points", info.PointCount))

	if err := s.store.DeleteCollection(ctx, name); err != nil && !errors.Is(err, qest.ErrCollectionNotFound) {
		return Unchanged, fmt.Errorf("deleting collection %s: %w", name, err)
	}
	if err := s.waitDeleted(ctx, name); err != nil {
		return Unchanged, err
	}
	if err := s.store.CreateCollection(ctx, name, dimension, s.opts.Distance); err != nil {
		return Unchanged, fmt.Errorf("recreating collection %s: %w", name, err)
	}
	metrics.CollectionRecreationsTotal.WithLabelValues(name).Inc()
	return Recreated, nil
}

// waitDeleted polls until the collection is reported absent.
func (s *Synchronizer) waitDeleted(ctx context.Context, name string) error {
	deadline := time.Now().Add(s.opts.SettleTimeout)
	for {
		_, err := s.store.GetCollection(ctx, name)
		if errors.Is(err, qest.ErrCollectionNotFound) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("waiting for %s deletion: %w", name, err)
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("%w: collection %s still present %s after deletion",
				qest.ErrExternal, name, s.opts.SettleTimeout)
		}

		timer := time.NewTimer(s.opts.SettleInterval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}
