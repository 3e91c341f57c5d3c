package engine

import (
	"context"
	"errors"

	"github.com/slinet/ehsync/internal/crawler"
	"github.com/slinet/ehsync/internal/database"
	"go.uber.org/zap"
)

// FullRunner advances a full-backfill task one list page per tick. The
// task walks its category from the newest gallery down through the
// next=<gid> cursor, upserting every row it passes.
type FullRunner struct {
	store   TaskStore
	fetcher SiteFetcher
	logger  *zap.Logger
}

// NewFullRunner creates a full-backfill runner
func NewFullRunner(store TaskStore, fetcher SiteFetcher, logger *zap.Logger) *FullRunner {
	return &FullRunner{store: store, fetcher: fetcher, logger: logger}
}

// Tick fetches one list page, fetches details for every row on it and
// advances the cursor. Returns true once the walk reaches the end of
// the category. A returned error means the tick could not leave the
// task row in a consistent state; transient site trouble is absorbed
// and retried next tick.
func (r *FullRunner) Tick(ctx context.Context, rt *database.TaskRuntime) (bool, error) {
	cfg, err := database.NormalizeFullConfig(rt.Config)
	if err != nil {
		return false, err
	}
	st, err := database.DecodeFullState(rt.State)
	if err != nil {
		return false, err
	}

	// A completed task that got re-armed restarts its walk from the
	// configured start; the round counter survives as a completion tally.
	if st.Done {
		round := st.Round
		st = database.InitialFullState(cfg)
		st.Round = round
		r.logger.Info("restarting completed backfill",
			zap.Int("task_id", rt.ID), zap.Int("round", round))
	}

	page, err := r.fetcher.FetchListPage(ctx, crawler.ListQuery{
		Categories: []string{rt.Category},
		NextGid:    st.NextGid,
	})
	if err != nil {
		return false, r.absorbFetchError(ctx, rt, st, err, "list")
	}

	if st.NextGid == nil && len(page.Items) > 0 {
		anchor := maxGid(page.Items)
		st.AnchorGid = &anchor
	}
	if page.TotalCount != nil {
		// The site total fluctuates as galleries are removed mid-walk;
		// keeping the maximum keeps progress monotonic.
		if st.TotalCount == nil || *page.TotalCount > *st.TotalCount {
			st.TotalCount = page.TotalCount
		}
	}

	rows, banErr := r.fetchDetails(ctx, page.Items)
	if len(rows) > 0 {
		if _, err := r.store.UpsertGalleriesBulk(ctx, rows); err != nil {
			return false, err
		}
	}
	if banErr != nil {
		return false, r.absorbFetchError(ctx, rt, st, banErr, "detail")
	}
	if ctx.Err() != nil {
		// Cancelled mid-page: already-fetched rows are committed above,
		// the cursor stays on this page so the next run re-walks it.
		return false, ctx.Err()
	}

	if len(page.Items) == 0 || page.NextGid == nil {
		st.Done = true
		st.Round++
		st.NextGid = nil
		err := r.store.UpdateTaskRuntime(ctx, rt.ID, database.TaskRuntimeUpdate{
			State:        st,
			ProgressPct:  f64Ptr(100),
			Status:       strPtr(database.StatusCompleted),
			ErrorMessage: strPtr(""),
			TouchRunTime: true,
		})
		if err != nil {
			return false, err
		}
		if err := r.store.SetTaskDesiredStatus(ctx, rt.ID, database.DesiredStopped); err != nil {
			return false, err
		}
		r.logger.Info("backfill completed",
			zap.Int("task_id", rt.ID),
			zap.String("category", rt.Category),
			zap.Int("round", st.Round))
		return true, nil
	}

	st.NextGid = page.NextGid
	progress := rt.ProgressPct
	if st.TotalCount != nil && *st.TotalCount > 0 {
		count, err := r.store.CountGalleriesByCategory(ctx, rt.Category)
		if err != nil {
			return false, err
		}
		progress = clampPct(float64(count) / float64(*st.TotalCount) * 100)
	}

	err = r.store.UpdateTaskRuntime(ctx, rt.ID, database.TaskRuntimeUpdate{
		State:        st,
		ProgressPct:  &progress,
		Status:       strPtr(database.StatusRunning),
		ErrorMessage: strPtr(""),
		TouchRunTime: true,
	})
	if err != nil {
		return false, err
	}

	r.logger.Debug("backfill page done",
		zap.Int("task_id", rt.ID),
		zap.Int("items", len(page.Items)),
		zap.Int64("next_gid", *page.NextGid),
		zap.Float64("progress", progress))
	return false, nil
}

// fetchDetails walks a page's rows through the detail endpoint. A ban
// stops the walk and is returned so the caller can park the task; any
// other per-row failure skips just that row.
func (r *FullRunner) fetchDetails(ctx context.Context, items []crawler.ListItem) ([]database.GalleryUpsert, error) {
	var rows []database.GalleryUpsert
	for _, item := range items {
		detail, err := r.fetcher.FetchDetail(ctx, item.Gid, item.Token)
		if err != nil {
			var banErr *crawler.BanError
			if errors.As(err, &banErr) {
				return rows, err
			}
			if ctx.Err() != nil {
				return rows, nil
			}
			r.logger.Warn("detail fetch failed, skipping row",
				zap.Int64("gid", item.Gid), zap.Error(err))
			continue
		}
		rows = append(rows, buildUpsertRow(item, detail))
	}
	return rows, nil
}

// absorbFetchError records a site-side failure on the task row without
// advancing the cursor, keeping the task running for the next tick
func (r *FullRunner) absorbFetchError(ctx context.Context, rt *database.TaskRuntime, st *database.FullState, fetchErr error, stage string) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}

	var banErr *crawler.BanError
	if errors.As(fetchErr, &banErr) {
		r.logger.Warn("backfill hit site ban",
			zap.Int("task_id", rt.ID),
			zap.String("stage", stage),
			zap.Duration("retry_after", banErr.RetryAfter))
	} else {
		r.logger.Warn("backfill fetch failed",
			zap.Int("task_id", rt.ID),
			zap.String("stage", stage),
			zap.Error(fetchErr))
	}

	return r.store.UpdateTaskRuntime(ctx, rt.ID, database.TaskRuntimeUpdate{
		State:        st,
		Status:       strPtr(database.StatusRunning),
		ErrorMessage: strPtr(fetchErr.Error()),
	})
}
