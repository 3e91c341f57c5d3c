package engine

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/slinet/ehsync/internal/crawler"
	"github.com/slinet/ehsync/internal/database"
	"go.uber.org/zap"
)

// ThumbStore is the queue surface the thumbnail worker depends on
type ThumbStore interface {
	ClaimNextThumbQueueItem(ctx context.Context) (*database.ThumbQueueItem, error)
	MarkThumbQueueDone(ctx context.Context, id int) error
	MarkThumbQueueFailed(ctx context.Context, id int) (int, error)
	ResetProcessingThumbs(ctx context.Context) (int64, error)
}

// ThumbFetcher downloads one thumbnail image
type ThumbFetcher interface {
	GetThumb(ctx context.Context, url string) ([]byte, error)
}

// ThumbWorker is the single consumer of the thumb_queue table. It
// claims due jobs, downloads images through its own rate limiter and
// writes them to disk named by gid.
type ThumbWorker struct {
	store   ThumbStore
	fetcher ThumbFetcher
	limiter *crawler.Limiter
	dir     string
	idle    time.Duration
	logger  *zap.Logger
}

// NewThumbWorker creates a thumbnail worker writing into dir
func NewThumbWorker(store ThumbStore, fetcher ThumbFetcher, limiter *crawler.Limiter, dir string, idle time.Duration, logger *zap.Logger) *ThumbWorker {
	return &ThumbWorker{
		store:   store,
		fetcher: fetcher,
		limiter: limiter,
		dir:     dir,
		idle:    idle,
		logger:  logger,
	}
}

// Run blocks until ctx is cancelled. Processing rows found at startup
// are crash leftovers from a previous run and go back to pending.
func (w *ThumbWorker) Run(ctx context.Context) error {
	if err := os.MkdirAll(w.dir, 0o755); err != nil {
		return fmt.Errorf("create thumb dir: %w", err)
	}
	if _, err := w.store.ResetProcessingThumbs(ctx); err != nil {
		return err
	}

	w.logger.Info("thumb worker started", zap.String("dir", w.dir))
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		item, err := w.store.ClaimNextThumbQueueItem(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			w.logger.Error("thumb claim failed", zap.Error(err))
			w.sleepIdle(ctx)
			continue
		}
		if item == nil {
			w.sleepIdle(ctx)
			continue
		}

		w.process(ctx, item)
	}
}

// process downloads one claimed item. Any failure re-queues the item
// with backoff; a crash mid-claim is recovered by the startup reset.
func (w *ThumbWorker) process(ctx context.Context, item *database.ThumbQueueItem) {
	if err := w.limiter.Acquire(ctx); err != nil {
		return
	}

	data, err := w.fetcher.GetThumb(ctx, item.ThumbURL)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		w.requeue(ctx, item, err)
		return
	}

	if err := w.writeThumb(item.Gid, data); err != nil {
		w.requeue(ctx, item, err)
		return
	}

	if err := w.store.MarkThumbQueueDone(ctx, item.ID); err != nil {
		w.logger.Error("thumb done mark failed", zap.Int("id", item.ID), zap.Error(err))
		return
	}
	w.logger.Debug("thumb stored", zap.Int64("gid", item.Gid), zap.Int("bytes", len(data)))
}

// writeThumb writes the image atomically: temp file, then rename, so a
// crash never leaves a truncated thumb behind
func (w *ThumbWorker) writeThumb(gid int64, data []byte) error {
	final := filepath.Join(w.dir, strconv.FormatInt(gid, 10))
	tmp := final + ".tmp"

	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write thumb %d: %w", gid, err)
	}
	if err := os.Rename(tmp, final); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("store thumb %d: %w", gid, err)
	}
	return nil
}

func (w *ThumbWorker) requeue(ctx context.Context, item *database.ThumbQueueItem, cause error) {
	retries, err := w.store.MarkThumbQueueFailed(ctx, item.ID)
	if err != nil {
		w.logger.Error("thumb requeue failed", zap.Int("id", item.ID), zap.Error(err))
		return
	}
	w.logger.Warn("thumb download failed",
		zap.Int64("gid", item.Gid),
		zap.Int("retries", retries),
		zap.Error(cause))
}

func (w *ThumbWorker) sleepIdle(ctx context.Context) {
	select {
	case <-ctx.Done():
	case <-time.After(w.idle):
	}
}
