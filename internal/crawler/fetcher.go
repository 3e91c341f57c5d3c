package crawler

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/slinet/ehsync/internal/database"
	"go.uber.org/zap"
)

// Classification of non-transport failure modes reported inside an
// HTTP 200 body
var (
	ErrAccessDenied  = errors.New("access denied: invalid or expired cookies")
	ErrLoginRequired = errors.New("login required")
)

// BanError reports a temporary IP ban and its remaining duration
type BanError struct {
	RetryAfter time.Duration
}

func (e *BanError) Error() string {
	return fmt.Sprintf("temporarily banned, expires in %s", e.RetryAfter)
}

// ListItem is one entry parsed from a list page
type ListItem struct {
	Gid         int64
	Token       string
	Title       string
	RatingSig   string   // raw sprite signal, for logs
	RatingEst   *float64 // bucketed rating decoded from the sprite (0.5 steps)
	VisibleTags []string // tag strings visible on the list card
}

// ListPage is a parsed list page
type ListPage struct {
	Items      []ListItem
	NextGid    *int64 // cursor for the next page, nil at the last page
	TotalCount *int64 // "Found about N results" banner, when present
}

// GalleryDetail is a parsed detail page
type GalleryDetail struct {
	Title        string
	TitleJpn     string
	Category     string
	Uploader     string
	PostedAt     *time.Time
	Language     string
	Pages        int
	Rating       *float64
	FavCount     int
	CommentCount int
	Thumb        string
	Tags         map[string][]string
}

// ListQuery selects which categories a list fetch covers and where the
// cursor stands
type ListQuery struct {
	Categories []string
	NextGid    *int64
}

// Fetcher builds category-filtered URLs, issues requests through the
// global limiter and classifies responses
type Fetcher struct {
	client  *Client
	limiter *Limiter
	logger  *zap.Logger
}

// NewFetcher creates a fetcher bound to a client and the main-site limiter
func NewFetcher(client *Client, limiter *Limiter, logger *zap.Logger) *Fetcher {
	return &Fetcher{
		client:  client,
		limiter: limiter,
		logger:  logger,
	}
}

// listURL builds a category-filtered list URL. The category filter is
// an exclusion bitmask: to include a set, every other bit is raised.
func listURL(baseURL string, categories []string, nextGid *int64) string {
	mask := database.AllCategoryBits
	for _, c := range categories {
		mask -= database.CategoryBits[c]
	}

	url := fmt.Sprintf("%s/?f_cats=%d&inline_set=%s", baseURL, mask, database.InlineSetDetailed)
	if nextGid != nil {
		url += fmt.Sprintf("&next=%d", *nextGid)
	}
	return url
}

// detailURL builds a gallery detail URL
func detailURL(baseURL string, gid int64, token string) string {
	return fmt.Sprintf("%s/g/%d/%s/", baseURL, gid, token)
}

// classify scans a 200 body for inline failure markers, in order:
// access denial, login wall, temporary ban. A ban raises the barrier
// before the error is returned to the caller.
func (f *Fetcher) classify(body string) error {
	if strings.Contains(body, "Sad Panda") || strings.Contains(body, "panda.png") {
		return ErrAccessDenied
	}
	if strings.Contains(body, "This page requires you to log on") ||
		strings.Contains(body, "You must be logged in") {
		return ErrLoginRequired
	}
	if strings.Contains(body, "temporarily banned") {
		d := parseBanDuration(body)
		f.limiter.SetBan(d)
		f.logger.Warn("IP temporarily banned, barrier raised",
			zap.Duration("duration", d),
			zap.String("until", time.Now().Add(d).Format("2006-01-02 15:04:05")),
		)
		return &BanError{RetryAfter: d}
	}
	return nil
}

// FetchListPage fetches and parses one cursor page of the category set
func (f *Fetcher) FetchListPage(ctx context.Context, q ListQuery) (*ListPage, error) {
	if err := f.limiter.Acquire(ctx); err != nil {
		return nil, err
	}

	url := listURL(f.client.BaseURL(), q.Categories, q.NextGid)
	cursorLabel := "first"
	if q.NextGid != nil {
		cursorLabel = fmt.Sprintf("next=%d", *q.NextGid)
	}
	f.logger.Debug("fetching list page",
		zap.Strings("categories", q.Categories),
		zap.String("cursor", cursorLabel),
		zap.String("url", url),
	)

	body, err := f.client.Get(ctx, url)
	if err != nil {
		return nil, err
	}
	if err := f.classify(string(body)); err != nil {
		return nil, err
	}

	page, err := ParseGalleryList(body)
	if err != nil {
		return nil, fmt.Errorf("parse list page: %w", err)
	}
	return page, nil
}

// FetchDetail fetches and parses one gallery detail page
func (f *Fetcher) FetchDetail(ctx context.Context, gid int64, token string) (*GalleryDetail, error) {
	if err := f.limiter.Acquire(ctx); err != nil {
		return nil, err
	}

	url := detailURL(f.client.BaseURL(), gid, token)
	f.logger.Debug("fetching detail page", zap.Int64("gid", gid), zap.String("url", url))

	body, err := f.client.Get(ctx, url)
	if err != nil {
		return nil, err
	}
	if err := f.classify(string(body)); err != nil {
		return nil, err
	}

	detail, err := ParseGalleryDetail(body)
	if err != nil {
		return nil, fmt.Errorf("parse detail page: %w", err)
	}
	return detail, nil
}

// ValidateAccess checks that the front page is reachable with the
// configured cookies. The real denial page has neither the navigation
// bar nor a gallery grid, so both markers missing means the cookies are
// invalid even without an explicit denial string.
func (f *Fetcher) ValidateAccess(ctx context.Context) error {
	if err := f.limiter.Acquire(ctx); err != nil {
		return err
	}

	url := f.client.BaseURL() + "/"
	f.logger.Info("validating site access", zap.String("url", url))

	body, err := f.client.Get(ctx, url)
	if err != nil {
		return fmt.Errorf("access check: %w", err)
	}
	text := string(body)
	if err := f.classify(text); err != nil {
		return err
	}

	hasNav := strings.Contains(text, `id="nb"`)
	hasGallery := strings.Contains(text, `class="itg`) || strings.Contains(text, "itg glte") || strings.Contains(text, "itg gltc")
	if !hasNav && !hasGallery {
		return ErrAccessDenied
	}

	f.logger.Info("access check passed")
	return nil
}
