package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/slinet/ehsync/internal/crawler"
	"github.com/slinet/ehsync/internal/database"
)

// fakeStore is an in-memory TaskStore recording every mutation
type fakeStore struct {
	mu sync.Mutex

	tasks     map[int]*database.TaskRuntime
	galleries map[int64]*database.GalleryMeta

	upserts []database.GalleryUpsert
	updates map[int][]database.TaskRuntimeUpdate
	desired map[int]string

	// hook runs before each GetTaskRuntime, letting tests flip intent
	// mid-cycle
	onGetRuntime func(s *fakeStore, id int)
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		tasks:     make(map[int]*database.TaskRuntime),
		galleries: make(map[int64]*database.GalleryMeta),
		updates:   make(map[int][]database.TaskRuntimeUpdate),
		desired:   make(map[int]string),
	}
}

func (s *fakeStore) ListSyncTasks(ctx context.Context) ([]database.SyncTask, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var tasks []database.SyncTask
	for _, rt := range s.tasks {
		tasks = append(tasks, database.SyncTask{
			ID:            rt.ID,
			Name:          rt.Name,
			Type:          rt.Type,
			Category:      rt.Category,
			DesiredStatus: rt.DesiredStatus,
			Status:        rt.Status,
		})
	}
	return tasks, nil
}

func (s *fakeStore) GetTaskRuntime(ctx context.Context, id int) (*database.TaskRuntime, error) {
	if s.onGetRuntime != nil {
		s.onGetRuntime(s, id)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	rt, ok := s.tasks[id]
	if !ok {
		return nil, nil
	}
	cp := *rt
	return &cp, nil
}

func (s *fakeStore) UpdateTaskRuntime(ctx context.Context, id int, upd database.TaskRuntimeUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.updates[id] = append(s.updates[id], upd)

	rt, ok := s.tasks[id]
	if !ok {
		return nil
	}
	if upd.State != nil {
		raw, err := json.Marshal(upd.State)
		if err != nil {
			return err
		}
		rt.State = raw
	}
	if upd.Status != nil {
		rt.Status = *upd.Status
	}
	if upd.ProgressPct != nil {
		rt.ProgressPct = *upd.ProgressPct
	}
	return nil
}

func (s *fakeStore) SetTaskDesiredStatus(ctx context.Context, id int, desired string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.desired[id] = desired
	if rt, ok := s.tasks[id]; ok {
		rt.DesiredStatus = desired
	}
	return nil
}

func (s *fakeStore) UpsertGalleriesBulk(ctx context.Context, rows []database.GalleryUpsert) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.upserts = append(s.upserts, rows...)
	for _, row := range rows {
		s.galleries[row.Gid] = &database.GalleryMeta{
			Gid:      row.Gid,
			FavCount: row.FavCount,
			Rating:   row.Rating,
			Tags:     row.Tags,
		}
	}
	return len(rows), nil
}

func (s *fakeStore) GetGalleryMeta(ctx context.Context, gid int64) (*database.GalleryMeta, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	meta, ok := s.galleries[gid]
	if !ok {
		return nil, nil
	}
	cp := *meta
	return &cp, nil
}

func (s *fakeStore) CountGalleriesByCategory(ctx context.Context, category string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return int64(len(s.galleries)), nil
}

func (s *fakeStore) lastUpdate(id int) *database.TaskRuntimeUpdate {
	s.mu.Lock()
	defer s.mu.Unlock()
	ups := s.updates[id]
	if len(ups) == 0 {
		return nil
	}
	return &ups[len(ups)-1]
}

// fakeFetcher serves queued list pages and mapped detail records
type fakeFetcher struct {
	mu sync.Mutex

	pages    []*crawler.ListPage
	pageErrs []error // parallel to pages; nil entry means success
	listErr  error   // returned when the page queue is exhausted

	details    map[int64]*crawler.GalleryDetail
	detailErrs map[int64]error

	listCalls   []crawler.ListQuery
	detailCalls []int64
}

func newFakeFetcher() *fakeFetcher {
	return &fakeFetcher{
		details:    make(map[int64]*crawler.GalleryDetail),
		detailErrs: make(map[int64]error),
	}
}

func (f *fakeFetcher) queuePage(page *crawler.ListPage) {
	f.pages = append(f.pages, page)
	f.pageErrs = append(f.pageErrs, nil)
}

func (f *fakeFetcher) queueError(err error) {
	f.pages = append(f.pages, nil)
	f.pageErrs = append(f.pageErrs, err)
}

func (f *fakeFetcher) FetchListPage(ctx context.Context, q crawler.ListQuery) (*crawler.ListPage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.listCalls = append(f.listCalls, q)
	if len(f.pages) == 0 {
		if f.listErr != nil {
			return nil, f.listErr
		}
		return &crawler.ListPage{}, nil
	}
	page, err := f.pages[0], f.pageErrs[0]
	f.pages = f.pages[1:]
	f.pageErrs = f.pageErrs[1:]
	if err != nil {
		return nil, err
	}
	return page, nil
}

func (f *fakeFetcher) FetchDetail(ctx context.Context, gid int64, token string) (*crawler.GalleryDetail, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.detailCalls = append(f.detailCalls, gid)
	if err, ok := f.detailErrs[gid]; ok {
		return nil, err
	}
	detail, ok := f.details[gid]
	if !ok {
		return nil, fmt.Errorf("no detail for gid %d", gid)
	}
	return detail, nil
}

func plainDetail(title, category string, rating *float64) *crawler.GalleryDetail {
	return &crawler.GalleryDetail{
		Title:    title,
		Category: category,
		Rating:   rating,
		Tags:     map[string][]string{},
	}
}

func listItem(gid int64, token string) crawler.ListItem {
	return crawler.ListItem{Gid: gid, Token: token, Title: fmt.Sprintf("gallery %d", gid)}
}
