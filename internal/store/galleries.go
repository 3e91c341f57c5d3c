package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/slinet/ehsync/internal/database"
	"go.uber.org/zap"
)

const upsertGallerySQL = `
	INSERT INTO eh_galleries (
		gid, token, category, title, title_jpn, uploader, posted_at, language,
		pages, rating, fav_count, comment_count, thumb, tags, last_synced_at, is_active
	) VALUES (
		$1, $2, $3, $4, $5, $6, $7, $8,
		$9, $10, $11, $12, $13, $14, NOW(), TRUE
	)
	ON CONFLICT (gid) DO UPDATE SET
		token = EXCLUDED.token,
		category = EXCLUDED.category,
		title = EXCLUDED.title,
		title_jpn = EXCLUDED.title_jpn,
		uploader = EXCLUDED.uploader,
		posted_at = EXCLUDED.posted_at,
		language = EXCLUDED.language,
		pages = EXCLUDED.pages,
		rating = EXCLUDED.rating,
		fav_count = EXCLUDED.fav_count,
		comment_count = EXCLUDED.comment_count,
		thumb = EXCLUDED.thumb,
		tags = EXCLUDED.tags,
		last_synced_at = NOW(),
		is_active = TRUE
`

// A thumb row is only re-queued when the URL changed or the previous
// attempt ended in failure; in-flight and completed downloads are left
// alone.
const enqueueThumbSQL = `
	INSERT INTO thumb_queue (gid, thumb_url)
	VALUES ($1, $2)
	ON CONFLICT (gid) DO UPDATE SET
		thumb_url = EXCLUDED.thumb_url,
		status = 'pending',
		retry_count = 0,
		processed_at = NULL
	WHERE thumb_queue.thumb_url != EXCLUDED.thumb_url
	   OR thumb_queue.status = 'failed'
`

// UpsertGalleriesBulk writes the tick's collected detail rows in one
// transaction, refreshing last_synced_at and forcing is_active, and
// enqueues thumbnail jobs for rows carrying a thumb URL
func (s *Store) UpsertGalleriesBulk(ctx context.Context, rows []database.GalleryUpsert) (int, error) {
	if len(rows) == 0 {
		return 0, nil
	}

	pool := database.GetPool()
	tx, err := pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("begin upsert tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	batch := &pgx.Batch{}
	for _, row := range rows {
		tagsJSON, err := json.Marshal(row.Tags)
		if err != nil {
			return 0, fmt.Errorf("marshal tags of gid %d: %w", row.Gid, err)
		}

		var uploader interface{}
		if row.Uploader != "" {
			uploader = row.Uploader
		}

		batch.Queue(upsertGallerySQL,
			row.Gid, row.Token, row.Category, row.Title, row.TitleJpn,
			uploader, row.PostedAt, row.Language, row.Pages, row.Rating,
			row.FavCount, row.CommentCount, row.Thumb, tagsJSON,
		)
		if row.Thumb != "" {
			batch.Queue(enqueueThumbSQL, row.Gid, row.Thumb)
		}
	}

	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return 0, fmt.Errorf("send upsert batch: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("commit upsert tx: %w", err)
	}

	s.logger.Debug("bulk upsert committed", zap.Int("rows", len(rows)))
	return len(rows), nil
}

// GetGalleryMeta returns the stored subset the change detector compares
// against, or nil when the gallery is not mirrored yet
func (s *Store) GetGalleryMeta(ctx context.Context, gid int64) (*database.GalleryMeta, error) {
	pool := database.GetPool()

	query := "SELECT gid, fav_count, rating, COALESCE(tags, '{}'::jsonb) FROM eh_galleries WHERE gid = $1"

	var meta database.GalleryMeta
	var tagsJSON []byte
	err := pool.QueryRow(ctx, query, gid).Scan(&meta.Gid, &meta.FavCount, &meta.Rating, &tagsJSON)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get gallery meta %d: %w", gid, err)
	}

	if err := json.Unmarshal(tagsJSON, &meta.Tags); err != nil {
		return nil, fmt.Errorf("decode tags of gid %d: %w", gid, err)
	}
	return &meta, nil
}

// CountGalleriesByCategory counts mirrored galleries of one category,
// case-insensitively; full-task progress is measured against this
func (s *Store) CountGalleriesByCategory(ctx context.Context, category string) (int64, error) {
	pool := database.GetPool()

	var count int64
	err := pool.QueryRow(ctx,
		"SELECT COUNT(*) FROM eh_galleries WHERE LOWER(category) = LOWER($1)",
		category,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count galleries by category: %w", err)
	}
	return count, nil
}

// CountGalleries counts all mirrored galleries
func (s *Store) CountGalleries(ctx context.Context) (int64, error) {
	pool := database.GetPool()

	var count int64
	if err := pool.QueryRow(ctx, "SELECT COUNT(*) FROM eh_galleries").Scan(&count); err != nil {
		return 0, fmt.Errorf("count galleries: %w", err)
	}
	return count, nil
}
