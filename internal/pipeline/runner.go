// Package pipeline runs a stage's work items in fixed-size batches with a
// bounded worker pool. Batches execute sequentially; a batch is fully
// reduced (and its checkpoint shard flushed) before the next begins.
package pipeline

import (
	"context"
	"sync"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// DefaultBatchSize matches the checkpoint granularity of the stages.
const DefaultBatchSize = 1000

// defaultWorkers caps the fan-out when the caller does not bound it.
const defaultWorkers = 32

// Runner executes items for one stage.
type Runner[T any] struct {
	// Stage names the stage in progress logs.
	Stage string

	// BatchSize is the number of items per checkpoint shard. Defaults to
	// DefaultBatchSize.
	BatchSize int

	// Workers bounds concurrent tasks within a batch. 0 means the default
	// cap.
	Workers int
}

// Run partitions items into batches and fans each batch out over the worker
// pool. After every batch it calls flush with the 1-based shard number
// (continuing from startShard). Task errors do not abort the batch; the
// failing items are collected and returned for the caller's retry sweep.
// A flush error is fatal to the stage.
func (r Runner[T]) Run(
	ctx context.Context,
	items []T,
	startShard int,
	task func(ctx context.Context, item T) error,
	flush func(shard int) error,
) ([]T, error) {
	batchSize := r.BatchSize
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	workers := r.Workers
	if workers <= 0 {
		workers = defaultWorkers
	}

	var (
		mu     sync.Mutex
		failed []T
	)

	numBatches := (len(items) + batchSize - 1) / batchSize
	for b := 0; b < numBatches; b++ {
		if err := ctx.Err(); err != nil {
			return failed, eris.Wrapf(err, "pipeline: %s interrupted", r.Stage)
		}

		lo := b * batchSize
		hi := min(lo+batchSize, len(items))
		batch := items[lo:hi]

		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(workers)
		for _, item := range batch {
			item := item
			g.Go(func() error {
				if err := task(gctx, item); err != nil {
					mu.Lock()
					failed = append(failed, item)
					mu.Unlock()
					zap.L().Debug("task failed",
						zap.String("stage", r.Stage),
						zap.Error(err),
					)
				}
				// Task errors are captured, never propagated: one bad item
				// must not cancel the batch.
				return nil
			})
		}
		_ = g.Wait()

		shard := startShard + b + 1
		if flush != nil {
			if err := flush(shard); err != nil {
				return failed, eris.Wrapf(err, "pipeline: %s flush batch %d", r.Stage, shard)
			}
		}

		zap.L().Info("batch complete",
			zap.String("stage", r.Stage),
			zap.Int("batch", b+1),
			zap.Int("batches", numBatches),
			zap.Int("items", len(batch)),
		)
	}

	return failed, nil
}

// Sweep retries previously failed items once, concurrently, then calls
// flush. Items failing again are dropped (already logged by the stage).
func (r Runner[T]) Sweep(
	ctx context.Context,
	failed []T,
	task func(ctx context.Context, item T) error,
	flush func() error,
) error {
	if len(failed) == 0 {
		return nil
	}
	zap.L().Info("retrying failed items",
		zap.String("stage", r.Stage),
		zap.Int("count", len(failed)),
	)

	workers := r.Workers
	if workers <= 0 {
		workers = defaultWorkers
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for _, item := range failed {
		item := item
		g.Go(func() error {
			if err := task(gctx, item); err != nil {
				zap.L().Warn("item failed again",
					zap.String("stage", r.Stage),
					zap.Error(err),
				)
			}
			return nil
		})
	}
	_ = g.Wait()

	if flush != nil {
		return eris.Wrapf(flush(), "pipeline: %s flush retry", r.Stage)
	}
	return nil
}
