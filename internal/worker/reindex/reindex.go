// Package reindex rebuilds the projection keys of every stored friendship
// edge. Projection keys are derived from the record body, so after a key
// layout change a full rewrite restores index consistency.
package reindex

import (
	"context"
	"fmt"
	"sync/atomic"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/bramble-social/bramble/internal/friends"
	"github.com/bramble-social/bramble/internal/store"
)

const scanPageSize = 250

// Worker rewrites edge records page by page with recomputed projection keys.
type Worker struct {
	store       store.Store
	concurrency int64
	logger      *zap.Logger
}

// New creates a reindex worker. Concurrency bounds the number of in-flight
// rewrites per scan page.
func New(s store.Store, concurrency int, logger *zap.Logger) *Worker {
	if concurrency < 1 {
		concurrency = 1
	}

	return &Worker{
		store:       s,
		concurrency: int64(concurrency),
		logger:      logger.Named("reindex"),
	}
}

// Stats summarizes one reindex run.
type Stats struct {
	Scanned   int64
	Rewritten int64
	Skipped   int64
}

// Run scans all edge records and rewrites each with projection keys
// recomputed from the record body. Records that fail to decode are skipped
// and logged rather than aborting the run.
func (w *Worker) Run(ctx context.Context) (*Stats, error) {
	var (
		stats Stats
		start *store.Key
	)

	sem := semaphore.NewWeighted(w.concurrency)

	for {
		out, err := w.store.Scan(ctx, store.ScanInput{
			SortPrefix: friends.EdgeSortPrefix,
			StartAfter: start,
			Limit:      scanPageSize,
		})
		if err != nil {
			return &stats, fmt.Errorf("failed to scan edge records: %w", err)
		}

		for _, item := range out.Items {
			atomic.AddInt64(&stats.Scanned, 1)

			if err := sem.Acquire(ctx, 1); err != nil {
				return &stats, fmt.Errorf("reindex interrupted: %w", err)
			}

			go func(item *store.Item) {
				defer sem.Release(1)
				w.rewrite(ctx, item, &stats)
			}(item)
		}

		// Wait for the page to drain before fetching the next one so a
		// failure surfaces close to the records that caused it.
		if err := sem.Acquire(ctx, w.concurrency); err != nil {
			return &stats, fmt.Errorf("reindex interrupted: %w", err)
		}
		sem.Release(w.concurrency)

		if out.LastKey == nil {
			break
		}
		start = out.LastKey
	}

	w.logger.Info("Reindex complete",
		zap.Int64("scanned", stats.Scanned),
		zap.Int64("rewritten", stats.Rewritten),
		zap.Int64("skipped", stats.Skipped))

	return &stats, nil
}

func (w *Worker) rewrite(ctx context.Context, item *store.Item, stats *Stats) {
	edge, err := friends.DecodeEdge(item)
	if err != nil {
		atomic.AddInt64(&stats.Skipped, 1)
		w.logger.Warn("Skipping undecodable edge record",
			zap.String("pk", item.PK),
			zap.String("sk", item.SK),
			zap.Error(err))

		return
	}

	rebuilt, err := friends.EdgeItem(edge)
	if err != nil {
		atomic.AddInt64(&stats.Skipped, 1)
		w.logger.Warn("Skipping unencodable edge record",
			zap.String("pk", item.PK),
			zap.String("sk", item.SK),
			zap.Error(err))

		return
	}

	if err := w.store.Put(ctx, rebuilt); err != nil {
		atomic.AddInt64(&stats.Skipped, 1)
		w.logger.Error("Failed to rewrite edge record",
			zap.String("pk", item.PK),
			zap.String("sk", item.SK),
			zap.Error(err))

		return
	}

	atomic.AddInt64(&stats.Rewritten, 1)
}
