// Package engine runs sync tasks against their persistent rows: a
// reconciler converges desired and actual task state, per-type runners
// advance one tick at a time, and a thumbnail worker drains the
// download queue. All cross-tick state lives in the database.
package engine

import (
	"context"

	"github.com/slinet/ehsync/internal/crawler"
	"github.com/slinet/ehsync/internal/database"
)

// TaskStore is the persistence surface the runners and the reconciler
// depend on
type TaskStore interface {
	ListSyncTasks(ctx context.Context) ([]database.SyncTask, error)
	GetTaskRuntime(ctx context.Context, id int) (*database.TaskRuntime, error)
	UpdateTaskRuntime(ctx context.Context, id int, upd database.TaskRuntimeUpdate) error
	SetTaskDesiredStatus(ctx context.Context, id int, desired string) error
	UpsertGalleriesBulk(ctx context.Context, rows []database.GalleryUpsert) (int, error)
	GetGalleryMeta(ctx context.Context, gid int64) (*database.GalleryMeta, error)
	CountGalleriesByCategory(ctx context.Context, category string) (int64, error)
}

// SiteFetcher is the network surface the runners depend on
type SiteFetcher interface {
	FetchListPage(ctx context.Context, q crawler.ListQuery) (*crawler.ListPage, error)
	FetchDetail(ctx context.Context, gid int64, token string) (*crawler.GalleryDetail, error)
}

func strPtr(s string) *string { return &s }

func f64Ptr(f float64) *float64 { return &f }

// clampPct bounds a progress percentage to [0, 100]
func clampPct(pct float64) float64 {
	if pct < 0 {
		return 0
	}
	if pct > 100 {
		return 100
	}
	return pct
}

// maxGid returns the highest gid of a list page
func maxGid(items []crawler.ListItem) int64 {
	var max int64
	for _, item := range items {
		if item.Gid > max {
			max = item.Gid
		}
	}
	return max
}

// buildUpsertRow converts a parsed detail record into a gateway row
func buildUpsertRow(item crawler.ListItem, detail *crawler.GalleryDetail) database.GalleryUpsert {
	return database.GalleryUpsert{
		Gid:          item.Gid,
		Token:        item.Token,
		Category:     detail.Category,
		Title:        detail.Title,
		TitleJpn:     detail.TitleJpn,
		Uploader:     detail.Uploader,
		PostedAt:     detail.PostedAt,
		Language:     detail.Language,
		Pages:        detail.Pages,
		Rating:       detail.Rating,
		FavCount:     detail.FavCount,
		CommentCount: detail.CommentCount,
		Thumb:        detail.Thumb,
		Tags:         detail.Tags,
	}
}
