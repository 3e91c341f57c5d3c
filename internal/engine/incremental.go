package engine

import (
	"context"
	"errors"

	"github.com/slinet/ehsync/internal/crawler"
	"github.com/slinet/ehsync/internal/database"
	"go.uber.org/zap"
)

// IncrementalRunner runs scan cycles over the configured category mix.
// A cycle walks the list from the newest gallery until it either
// reaches the end or has scanned the configured window, re-fetching
// details only for rows the change detector flags.
type IncrementalRunner struct {
	store   TaskStore
	fetcher SiteFetcher
	logger  *zap.Logger
}

// NewIncrementalRunner creates an incremental runner
func NewIncrementalRunner(store TaskStore, fetcher SiteFetcher, logger *zap.Logger) *IncrementalRunner {
	return &IncrementalRunner{store: store, fetcher: fetcher, logger: logger}
}

// cycleExit names why a tick left its page loop
type cycleExit int

const (
	exitEnd cycleExit = iota
	exitWindow
	exitBanned
	exitError
	exitStopped
)

// Tick runs one scan cycle, or as much of it as the site allows. It
// always returns finished=false: the incremental task has no terminal
// state, a completed cycle just resets and starts over next tick.
func (r *IncrementalRunner) Tick(ctx context.Context, rt *database.TaskRuntime) (bool, error) {
	cfg, err := database.NormalizeIncrementalConfig(rt.Config)
	if err != nil {
		return false, err
	}
	st, err := database.DecodeIncrementalState(rt.State)
	if err != nil {
		return false, err
	}

	exit, exitErr, err := r.runCycle(ctx, rt, cfg, st)
	if err != nil {
		return false, err
	}

	switch exit {
	case exitEnd, exitWindow:
		reset := database.InitialIncrementalState()
		reset.Round = st.Round + 1
		err := r.store.UpdateTaskRuntime(ctx, rt.ID, database.TaskRuntimeUpdate{
			State:        reset,
			ProgressPct:  f64Ptr(0),
			Status:       strPtr(database.StatusRunning),
			ErrorMessage: strPtr(""),
			TouchRunTime: true,
		})
		if err != nil {
			return false, err
		}
		r.logger.Info("scan cycle complete",
			zap.Int("task_id", rt.ID),
			zap.Int("round", reset.Round),
			zap.Int("scanned", st.ScannedCount),
			zap.Bool("window_hit", exit == exitWindow))

	case exitBanned, exitError:
		// Position stays where it is; the next tick resumes the cycle.
		err := r.store.UpdateTaskRuntime(ctx, rt.ID, database.TaskRuntimeUpdate{
			State:        st,
			Status:       strPtr(database.StatusRunning),
			ErrorMessage: strPtr(exitErr.Error()),
		})
		if err != nil {
			return false, err
		}
		r.logger.Warn("scan cycle interrupted",
			zap.Int("task_id", rt.ID), zap.Error(exitErr))

	case exitStopped:
		err := r.store.UpdateTaskRuntime(ctx, rt.ID, database.TaskRuntimeUpdate{
			State: st,
		})
		if err != nil {
			return false, err
		}
		r.logger.Info("scan cycle yielded to stop request", zap.Int("task_id", rt.ID))
	}

	return false, nil
}

// runCycle drives the page loop, persisting position after every page.
// Mutates st in place; a non-nil error is a hard (database or context)
// failure.
func (r *IncrementalRunner) runCycle(ctx context.Context, rt *database.TaskRuntime, cfg *database.IncrementalConfig, st *database.IncrementalState) (cycleExit, error, error) {
	pages := 0
	for {
		// Re-check intent between pages so a stop request does not have
		// to wait for a full window.
		if pages > 0 {
			cur, err := r.store.GetTaskRuntime(ctx, rt.ID)
			if err != nil {
				return exitError, nil, err
			}
			if cur == nil {
				return exitStopped, nil, nil
			}
			if cur.DesiredStatus != database.DesiredRunning {
				return exitStopped, nil, nil
			}
		}

		page, err := r.fetcher.FetchListPage(ctx, crawler.ListQuery{
			Categories: cfg.Categories,
			NextGid:    st.NextGid,
		})
		if err != nil {
			if ctx.Err() != nil {
				return exitError, nil, ctx.Err()
			}
			var banErr *crawler.BanError
			if errors.As(err, &banErr) {
				return exitBanned, err, nil
			}
			return exitError, err, nil
		}

		if len(page.Items) == 0 {
			return exitEnd, nil, nil
		}

		if st.LatestGid == nil {
			latest := maxGid(page.Items)
			st.LatestGid = &latest
			st.ScannedCount = 0
		}

		rows, banErr, err := r.scanPage(ctx, page.Items, cfg)
		if len(rows) > 0 {
			if _, upErr := r.store.UpsertGalleriesBulk(ctx, rows); upErr != nil {
				return exitError, nil, upErr
			}
		}
		if err != nil {
			return exitError, nil, err
		}
		if banErr != nil {
			// The page's cursor is not advanced, so the unscanned rest
			// of it is re-walked after the ban lifts.
			return exitBanned, banErr, nil
		}

		st.ScannedCount += len(page.Items)
		st.NextGid = page.NextGid
		pages++

		progress := clampPct(float64(st.ScannedCount) / float64(cfg.ScanWindow) * 100)
		err = r.store.UpdateTaskRuntime(ctx, rt.ID, database.TaskRuntimeUpdate{
			State:        st,
			ProgressPct:  &progress,
			Status:       strPtr(database.StatusRunning),
			ErrorMessage: strPtr(""),
			TouchRunTime: true,
		})
		if err != nil {
			return exitError, nil, err
		}

		if page.NextGid == nil {
			return exitEnd, nil, nil
		}
		if st.ScannedCount >= cfg.ScanWindow {
			return exitWindow, nil, nil
		}
	}
}

// scanPage runs the change detector over a page and fetches details for
// the rows it flags. Returns the rows to upsert, a ban if one struck
// mid-page, and any hard failure.
func (r *IncrementalRunner) scanPage(ctx context.Context, items []crawler.ListItem, cfg *database.IncrementalConfig) ([]database.GalleryUpsert, error, error) {
	var rows []database.GalleryUpsert
	for _, item := range items {
		existing, err := r.store.GetGalleryMeta(ctx, item.Gid)
		if err != nil {
			return rows, nil, err
		}

		dec := DetectChange(existing, item, cfg.RatingDiffThreshold)
		if !dec.Refresh {
			r.logger.Debug("unchanged", zap.Int64("gid", item.Gid))
			continue
		}

		detail, err := r.fetcher.FetchDetail(ctx, item.Gid, item.Token)
		if err != nil {
			var banErr *crawler.BanError
			if errors.As(err, &banErr) {
				return rows, err, nil
			}
			if ctx.Err() != nil {
				return rows, nil, ctx.Err()
			}
			r.logger.Warn("detail fetch failed, skipping row",
				zap.Int64("gid", item.Gid), zap.Error(err))
			continue
		}

		r.logger.Info("refreshing gallery",
			zap.Int64("gid", item.Gid), zap.String("reason", dec.Reason))
		rows = append(rows, buildUpsertRow(item, detail))
	}
	return rows, nil, nil
}
