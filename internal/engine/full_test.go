package engine

import (
	"context"
	"encoding/json"
	"math"
	"testing"
	"time"

	"github.com/slinet/ehsync/internal/crawler"
	"github.com/slinet/ehsync/internal/database"
	"go.uber.org/zap"
)

func fullTask(id int, category string, state *database.FullState) *database.TaskRuntime {
	var raw json.RawMessage
	if state != nil {
		raw, _ = json.Marshal(state)
	}
	return &database.TaskRuntime{
		ID:            id,
		Name:          "backfill",
		Type:          database.TaskTypeFull,
		Category:      category,
		DesiredStatus: database.DesiredRunning,
		Status:        database.StatusStopped,
		State:         raw,
	}
}

func decodeFullState(t *testing.T, upd *database.TaskRuntimeUpdate) *database.FullState {
	t.Helper()
	if upd == nil {
		t.Fatal("no runtime update recorded")
	}
	st, ok := upd.State.(*database.FullState)
	if !ok {
		t.Fatalf("update state is %T, want *database.FullState", upd.State)
	}
	return st
}

func TestFullTickFirstPage(t *testing.T) {
	store := newFakeStore()
	fetcher := newFakeFetcher()
	rt := fullTask(1, "Manga", nil)
	store.tasks[1] = rt

	fetcher.queuePage(&crawler.ListPage{
		Items:      []crawler.ListItem{listItem(5, "a"), listItem(4, "b")},
		NextGid:    gidPtr(3),
		TotalCount: gidPtr(17),
	})
	fetcher.details[5] = plainDetail("T5", "Manga", f64Ptr(4.0))
	fetcher.details[4] = plainDetail("T4", "Manga", f64Ptr(4.0))

	runner := NewFullRunner(store, fetcher, zap.NewNop())
	finished, err := runner.Tick(context.Background(), rt)
	if err != nil {
		t.Fatalf("Tick() error = %v", err)
	}
	if finished {
		t.Fatal("Tick() finished = true on a page with a next cursor")
	}

	if len(store.upserts) != 2 {
		t.Errorf("upserted %d rows, want 2", len(store.upserts))
	}

	upd := store.lastUpdate(1)
	st := decodeFullState(t, upd)
	if st.NextGid == nil || *st.NextGid != 3 {
		t.Errorf("next_gid = %v, want 3", st.NextGid)
	}
	if st.AnchorGid == nil || *st.AnchorGid != 5 {
		t.Errorf("anchor_gid = %v, want 5", st.AnchorGid)
	}
	if st.TotalCount == nil || *st.TotalCount != 17 {
		t.Errorf("total_count = %v, want 17", st.TotalCount)
	}
	if st.Done || st.Round != 0 {
		t.Errorf("done = %v round = %d, want false/0", st.Done, st.Round)
	}

	if upd.ProgressPct == nil {
		t.Fatal("progress not updated")
	}
	want := 2.0 / 17.0 * 100
	if math.Abs(*upd.ProgressPct-want) > 0.01 {
		t.Errorf("progress = %.2f, want %.2f", *upd.ProgressPct, want)
	}
	if upd.Status == nil || *upd.Status != database.StatusRunning {
		t.Errorf("status = %v, want running", upd.Status)
	}
	if !upd.TouchRunTime {
		t.Error("last_run_at not touched on a successful page")
	}
}

func TestFullTickCompletion(t *testing.T) {
	store := newFakeStore()
	fetcher := newFakeFetcher()
	rt := fullTask(1, "Manga", &database.FullState{NextGid: gidPtr(3), TotalCount: gidPtr(17)})
	store.tasks[1] = rt

	fetcher.queuePage(&crawler.ListPage{}) // empty page, no cursor

	runner := NewFullRunner(store, fetcher, zap.NewNop())
	finished, err := runner.Tick(context.Background(), rt)
	if err != nil {
		t.Fatalf("Tick() error = %v", err)
	}
	if !finished {
		t.Fatal("Tick() finished = false at the end of the walk")
	}

	upd := store.lastUpdate(1)
	st := decodeFullState(t, upd)
	if !st.Done || st.Round != 1 {
		t.Errorf("done = %v round = %d, want true/1", st.Done, st.Round)
	}
	if st.NextGid != nil {
		t.Errorf("next_gid = %v, want nil after completion", *st.NextGid)
	}
	if upd.ProgressPct == nil || *upd.ProgressPct != 100 {
		t.Errorf("progress = %v, want 100", upd.ProgressPct)
	}
	if upd.Status == nil || *upd.Status != database.StatusCompleted {
		t.Errorf("status = %v, want completed", upd.Status)
	}
	if store.desired[1] != database.DesiredStopped {
		t.Errorf("desired = %q, want stopped after completion", store.desired[1])
	}
}

func TestFullTickBanMidDetail(t *testing.T) {
	store := newFakeStore()
	fetcher := newFakeFetcher()
	rt := fullTask(1, "Manga", nil)
	store.tasks[1] = rt

	fetcher.queuePage(&crawler.ListPage{
		Items:      []crawler.ListItem{listItem(5, "a"), listItem(4, "b")},
		NextGid:    gidPtr(3),
		TotalCount: gidPtr(17),
	})
	fetcher.details[5] = plainDetail("T5", "Manga", nil)
	fetcher.detailErrs[4] = &crawler.BanError{RetryAfter: 600 * time.Second}

	runner := NewFullRunner(store, fetcher, zap.NewNop())
	finished, err := runner.Tick(context.Background(), rt)
	if err != nil {
		t.Fatalf("Tick() error = %v", err)
	}
	if finished {
		t.Fatal("Tick() finished = true under a ban")
	}

	// The row fetched before the ban still lands
	if len(store.upserts) != 1 || store.upserts[0].Gid != 5 {
		t.Fatalf("upserts = %v, want just gid 5", store.upserts)
	}

	upd := store.lastUpdate(1)
	st := decodeFullState(t, upd)
	if st.NextGid != nil {
		t.Errorf("next_gid = %v, want cursor not advanced", *st.NextGid)
	}
	if upd.ErrorMessage == nil || *upd.ErrorMessage == "" {
		t.Error("error_message not recorded")
	}
	if upd.Status == nil || *upd.Status != database.StatusRunning {
		t.Errorf("status = %v, want running", upd.Status)
	}
	if upd.TouchRunTime {
		t.Error("last_run_at must not advance on a banned tick")
	}
}

func TestFullTickSkipsBrokenDetail(t *testing.T) {
	store := newFakeStore()
	fetcher := newFakeFetcher()
	rt := fullTask(1, "Manga", nil)
	store.tasks[1] = rt

	fetcher.queuePage(&crawler.ListPage{
		Items:   []crawler.ListItem{listItem(5, "a"), listItem(4, "b")},
		NextGid: gidPtr(3),
	})
	fetcher.details[5] = plainDetail("T5", "Manga", nil)
	// gid 4 has no detail mapped: transport-style failure, row skipped

	runner := NewFullRunner(store, fetcher, zap.NewNop())
	finished, err := runner.Tick(context.Background(), rt)
	if err != nil {
		t.Fatalf("Tick() error = %v", err)
	}
	if finished {
		t.Fatal("finished = true")
	}

	if len(store.upserts) != 1 || store.upserts[0].Gid != 5 {
		t.Fatalf("upserts = %v, want just gid 5", store.upserts)
	}
	st := decodeFullState(t, store.lastUpdate(1))
	if st.NextGid == nil || *st.NextGid != 3 {
		t.Errorf("next_gid = %v, want 3: a skipped row must not stall the walk", st.NextGid)
	}
}

func TestFullTickRearmResetsState(t *testing.T) {
	store := newFakeStore()
	fetcher := newFakeFetcher()
	rt := fullTask(1, "Manga", &database.FullState{Done: true, Round: 3, TotalCount: gidPtr(17)})
	rt.Status = database.StatusCompleted
	store.tasks[1] = rt

	fetcher.queuePage(&crawler.ListPage{
		Items:      []crawler.ListItem{listItem(9, "a")},
		NextGid:    gidPtr(8),
		TotalCount: gidPtr(20),
	})
	fetcher.details[9] = plainDetail("T9", "Manga", nil)

	runner := NewFullRunner(store, fetcher, zap.NewNop())
	if _, err := runner.Tick(context.Background(), rt); err != nil {
		t.Fatalf("Tick() error = %v", err)
	}

	st := decodeFullState(t, store.lastUpdate(1))
	if st.Done {
		t.Error("done flag not cleared on re-arm")
	}
	if st.Round != 3 {
		t.Errorf("round = %d, want the completion tally preserved", st.Round)
	}
	if st.AnchorGid == nil || *st.AnchorGid != 9 {
		t.Errorf("anchor_gid = %v, want re-anchored at 9", st.AnchorGid)
	}
	if st.TotalCount == nil || *st.TotalCount != 20 {
		t.Errorf("total_count = %v, want 20 from the fresh walk", st.TotalCount)
	}
}

func TestFullTickListFetchFailure(t *testing.T) {
	store := newFakeStore()
	fetcher := newFakeFetcher()
	rt := fullTask(1, "Manga", &database.FullState{NextGid: gidPtr(3)})
	store.tasks[1] = rt

	fetcher.queueError(context.DeadlineExceeded)

	runner := NewFullRunner(store, fetcher, zap.NewNop())
	finished, err := runner.Tick(context.Background(), rt)
	if err != nil {
		t.Fatalf("Tick() error = %v, transient trouble must be absorbed", err)
	}
	if finished {
		t.Fatal("finished = true")
	}

	upd := store.lastUpdate(1)
	if upd.ErrorMessage == nil || *upd.ErrorMessage == "" {
		t.Error("error_message not recorded")
	}
	st := decodeFullState(t, upd)
	if st.NextGid == nil || *st.NextGid != 3 {
		t.Errorf("next_gid = %v, want unchanged", st.NextGid)
	}
}

func gidPtr(v int64) *int64 { return &v }
