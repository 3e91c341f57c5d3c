package engine

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/slinet/ehsync/internal/crawler"
	"github.com/slinet/ehsync/internal/database"
	"go.uber.org/zap"
)

func incrementalTask(id int, cfg *database.IncrementalConfig, state *database.IncrementalState) *database.TaskRuntime {
	var rawCfg, rawState json.RawMessage
	if cfg != nil {
		rawCfg, _ = json.Marshal(cfg)
	}
	if state != nil {
		rawState, _ = json.Marshal(state)
	}
	return &database.TaskRuntime{
		ID:            id,
		Name:          "incremental",
		Type:          database.TaskTypeIncremental,
		Category:      database.MixedCategory,
		DesiredStatus: database.DesiredRunning,
		Status:        database.StatusRunning,
		Config:        rawCfg,
		State:         rawState,
	}
}

func decodeIncState(t *testing.T, upd *database.TaskRuntimeUpdate) *database.IncrementalState {
	t.Helper()
	if upd == nil {
		t.Fatal("no runtime update recorded")
	}
	st, ok := upd.State.(*database.IncrementalState)
	if !ok {
		t.Fatalf("update state is %T, want *database.IncrementalState", upd.State)
	}
	return st
}

func TestIncrementalTickCycleEnd(t *testing.T) {
	store := newFakeStore()
	fetcher := newFakeFetcher()
	rt := incrementalTask(2, nil, nil)
	store.tasks[2] = rt

	// gid 99 is mirrored and unchanged; only gid 100 needs a detail fetch
	store.galleries[99] = &database.GalleryMeta{Gid: 99, Rating: f64Ptr(4.0)}

	item99 := listItem(99, "b")
	item99.RatingEst = f64Ptr(4.0)
	fetcher.queuePage(&crawler.ListPage{
		Items: []crawler.ListItem{listItem(100, "a"), item99},
	})
	fetcher.details[100] = plainDetail("fresh", "Manga", nil)

	runner := NewIncrementalRunner(store, fetcher, zap.NewNop())
	finished, err := runner.Tick(context.Background(), rt)
	if err != nil {
		t.Fatalf("Tick() error = %v", err)
	}
	if finished {
		t.Fatal("incremental Tick() must never report finished")
	}

	if len(fetcher.detailCalls) != 1 || fetcher.detailCalls[0] != 100 {
		t.Errorf("detail calls = %v, want just gid 100", fetcher.detailCalls)
	}
	if len(store.upserts) != 1 || store.upserts[0].Gid != 100 {
		t.Errorf("upserts = %v, want just gid 100", store.upserts)
	}

	// Last page reached: the cycle resets for the next round
	upd := store.lastUpdate(2)
	st := decodeIncState(t, upd)
	if st.NextGid != nil || st.LatestGid != nil || st.ScannedCount != 0 {
		t.Errorf("state = %+v, want a fresh cycle", st)
	}
	if st.Round != 1 {
		t.Errorf("round = %d, want 1", st.Round)
	}
	if upd.ProgressPct == nil || *upd.ProgressPct != 0 {
		t.Errorf("progress = %v, want 0 after cycle reset", upd.ProgressPct)
	}
	if upd.Status == nil || *upd.Status != database.StatusRunning {
		t.Errorf("status = %v, want running", upd.Status)
	}
}

func TestIncrementalTickWindowExit(t *testing.T) {
	store := newFakeStore()
	fetcher := newFakeFetcher()
	cfg := &database.IncrementalConfig{Categories: []string{"Manga"}, ScanWindow: 3}
	rt := incrementalTask(2, cfg, nil)
	store.tasks[2] = rt

	fetcher.queuePage(&crawler.ListPage{
		Items:   []crawler.ListItem{listItem(100, "a"), listItem(99, "b")},
		NextGid: gidPtr(98),
	})
	fetcher.queuePage(&crawler.ListPage{
		Items:   []crawler.ListItem{listItem(98, "c"), listItem(97, "d")},
		NextGid: gidPtr(96),
	})
	for _, gid := range []int64{100, 99, 98, 97} {
		fetcher.details[gid] = plainDetail("t", "Manga", nil)
	}

	runner := NewIncrementalRunner(store, fetcher, zap.NewNop())
	if _, err := runner.Tick(context.Background(), rt); err != nil {
		t.Fatalf("Tick() error = %v", err)
	}

	if len(fetcher.listCalls) != 2 {
		t.Fatalf("list calls = %d, want 2 before the window filled", len(fetcher.listCalls))
	}
	if fetcher.listCalls[1].NextGid == nil || *fetcher.listCalls[1].NextGid != 98 {
		t.Errorf("second page cursor = %v, want 98", fetcher.listCalls[1].NextGid)
	}

	st := decodeIncState(t, store.lastUpdate(2))
	if st.ScannedCount != 0 || st.Round != 1 {
		t.Errorf("state = %+v, want reset after window exit", st)
	}
}

func TestIncrementalTickBanKeepsPosition(t *testing.T) {
	store := newFakeStore()
	fetcher := newFakeFetcher()
	prev := &database.IncrementalState{NextGid: gidPtr(900), LatestGid: gidPtr(1000), ScannedCount: 48}
	rt := incrementalTask(2, nil, prev)
	store.tasks[2] = rt

	fetcher.queuePage(&crawler.ListPage{
		Items:   []crawler.ListItem{listItem(899, "a")},
		NextGid: gidPtr(880),
	})
	fetcher.detailErrs[899] = &crawler.BanError{RetryAfter: 10 * time.Minute}

	runner := NewIncrementalRunner(store, fetcher, zap.NewNop())
	if _, err := runner.Tick(context.Background(), rt); err != nil {
		t.Fatalf("Tick() error = %v", err)
	}

	upd := store.lastUpdate(2)
	st := decodeIncState(t, upd)
	if st.NextGid == nil || *st.NextGid != 900 {
		t.Errorf("next_gid = %v, want 900: the banned page is re-walked", st.NextGid)
	}
	if st.ScannedCount != 48 {
		t.Errorf("scanned_count = %d, want 48 unchanged", st.ScannedCount)
	}
	if upd.ErrorMessage == nil || *upd.ErrorMessage == "" {
		t.Error("error_message not recorded")
	}
	if upd.TouchRunTime {
		t.Error("last_run_at must not advance on a banned tick")
	}
}

func TestIncrementalTickStopBetweenPages(t *testing.T) {
	store := newFakeStore()
	fetcher := newFakeFetcher()
	rt := incrementalTask(2, nil, nil)
	store.tasks[2] = rt

	fetcher.queuePage(&crawler.ListPage{
		Items:   []crawler.ListItem{listItem(100, "a")},
		NextGid: gidPtr(99),
	})
	fetcher.details[100] = plainDetail("t", "Manga", nil)

	// Operator flips intent while the first page is being processed
	store.onGetRuntime = func(s *fakeStore, id int) {
		s.mu.Lock()
		if task, ok := s.tasks[id]; ok {
			task.DesiredStatus = database.DesiredStopped
		}
		s.mu.Unlock()
	}

	runner := NewIncrementalRunner(store, fetcher, zap.NewNop())
	if _, err := runner.Tick(context.Background(), rt); err != nil {
		t.Fatalf("Tick() error = %v", err)
	}

	if len(fetcher.listCalls) != 1 {
		t.Errorf("list calls = %d, want 1: the stop must break the cycle", len(fetcher.listCalls))
	}
	st := decodeIncState(t, store.lastUpdate(2))
	if st.NextGid == nil || *st.NextGid != 99 {
		t.Errorf("next_gid = %v, want 99 preserved for resumption", st.NextGid)
	}
	if st.ScannedCount != 1 {
		t.Errorf("scanned_count = %d, want 1", st.ScannedCount)
	}
}

func TestIncrementalTickLatestGidAnchorsOnce(t *testing.T) {
	store := newFakeStore()
	fetcher := newFakeFetcher()
	prev := &database.IncrementalState{NextGid: gidPtr(900), LatestGid: gidPtr(1000), ScannedCount: 10}
	rt := incrementalTask(2, nil, prev)
	store.tasks[2] = rt

	// Mid-cycle page whose items all match the mirror
	item := listItem(899, "a")
	item.RatingEst = f64Ptr(3.0)
	store.galleries[899] = &database.GalleryMeta{Gid: 899, Rating: f64Ptr(3.0)}
	fetcher.queuePage(&crawler.ListPage{Items: []crawler.ListItem{item}})

	runner := NewIncrementalRunner(store, fetcher, zap.NewNop())
	if _, err := runner.Tick(context.Background(), rt); err != nil {
		t.Fatalf("Tick() error = %v", err)
	}

	if len(fetcher.detailCalls) != 0 {
		t.Errorf("detail calls = %v, want none for an unchanged page", fetcher.detailCalls)
	}

	// Cycle ended (no cursor), so the final update is a reset; the
	// intermediate one must still carry the original anchor.
	ups := store.updates[2]
	if len(ups) != 2 {
		t.Fatalf("got %d updates, want intermediate + reset", len(ups))
	}
	mid := decodeIncState(t, &ups[0])
	if mid.LatestGid == nil || *mid.LatestGid != 1000 {
		t.Errorf("latest_gid = %v, want the existing anchor kept", mid.LatestGid)
	}
	if mid.ScannedCount != 11 {
		t.Errorf("scanned_count = %d, want 11", mid.ScannedCount)
	}
	final := decodeIncState(t, &ups[1])
	if final.Round != 1 || final.ScannedCount != 0 {
		t.Errorf("final state = %+v, want cycle reset", final)
	}
}
