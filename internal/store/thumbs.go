package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/slinet/ehsync/internal/database"
	"go.uber.org/zap"
)

// ClaimNextThumbQueueItem atomically claims the oldest due pending row,
// flips it to processing and returns it. Returns nil when the queue is
// empty.
func (s *Store) ClaimNextThumbQueueItem(ctx context.Context) (*database.ThumbQueueItem, error) {
	pool := database.GetPool()

	query := `
		UPDATE thumb_queue SET status = 'processing'
		WHERE id = (
			SELECT id
			FROM thumb_queue
			WHERE status = 'pending'
			  AND (next_retry_at IS NULL OR next_retry_at <= NOW())
			ORDER BY created_at
			LIMIT 1
			FOR UPDATE SKIP LOCKED
		)
		RETURNING id, gid, thumb_url, retry_count
	`
	var item database.ThumbQueueItem
	err := pool.QueryRow(ctx, query).Scan(&item.ID, &item.Gid, &item.ThumbURL, &item.RetryCount)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("claim thumb queue item: %w", err)
	}
	return &item, nil
}

// MarkThumbQueueDone finishes a claimed item
func (s *Store) MarkThumbQueueDone(ctx context.Context, id int) error {
	pool := database.GetPool()

	_, err := pool.Exec(ctx,
		"UPDATE thumb_queue SET status = 'done', processed_at = NOW() WHERE id = $1",
		id,
	)
	if err != nil {
		return fmt.Errorf("mark thumb queue item %d done: %w", id, err)
	}
	return nil
}

// MarkThumbQueueFailed re-queues a claimed item with exponential
// backoff: the retry delay doubles per failure and caps at 8 minutes.
// Returns the new retry count.
func (s *Store) MarkThumbQueueFailed(ctx context.Context, id int) (int, error) {
	pool := database.GetPool()

	query := `
		UPDATE thumb_queue
		SET retry_count = retry_count + 1,
		    status = 'pending',
		    processed_at = NULL,
		    next_retry_at = NOW() + (
		        LEAST(POWER(2, retry_count + 1), 8) || ' minutes'
		    )::interval
		WHERE id = $1
		RETURNING retry_count
	`
	var retryCount int
	if err := pool.QueryRow(ctx, query, id).Scan(&retryCount); err != nil {
		return 0, fmt.Errorf("mark thumb queue item %d failed: %w", id, err)
	}
	return retryCount, nil
}

// ResetProcessingThumbs returns orphaned processing rows to pending.
// With a single consumer, any processing row found at startup is a
// crash leftover.
func (s *Store) ResetProcessingThumbs(ctx context.Context) (int64, error) {
	pool := database.GetPool()

	tag, err := pool.Exec(ctx,
		"UPDATE thumb_queue SET status = 'pending', processed_at = NULL WHERE status = 'processing'",
	)
	if err != nil {
		return 0, fmt.Errorf("reset processing thumbs: %w", err)
	}
	if tag.RowsAffected() > 0 {
		s.logger.Info("reset orphaned thumb claims", zap.Int64("count", tag.RowsAffected()))
	}
	return tag.RowsAffected(), nil
}

// ThumbQueueStats summarizes queue depth by state
func (s *Store) ThumbQueueStats(ctx context.Context) (*database.ThumbQueueStats, error) {
	pool := database.GetPool()

	query := `
		SELECT
			COALESCE(SUM(CASE WHEN status = 'pending' AND (next_retry_at IS NULL OR next_retry_at <= NOW()) THEN 1 ELSE 0 END), 0) AS pending,
			COALESCE(SUM(CASE WHEN status = 'processing' THEN 1 ELSE 0 END), 0) AS processing,
			COALESCE(SUM(CASE WHEN status = 'done' THEN 1 ELSE 0 END), 0) AS done,
			COALESCE(SUM(CASE WHEN status = 'pending' AND next_retry_at > NOW() THEN 1 ELSE 0 END), 0) AS waiting
		FROM thumb_queue
	`
	var stats database.ThumbQueueStats
	err := pool.QueryRow(ctx, query).Scan(&stats.Pending, &stats.Processing, &stats.Done, &stats.Waiting)
	if err != nil {
		return nil, fmt.Errorf("thumb queue stats: %w", err)
	}
	return &stats, nil
}
