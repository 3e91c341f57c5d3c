package crawler

import (
	"errors"
	"testing"
	"time"

	"go.uber.org/zap"
)

func TestListURL(t *testing.T) {
	tests := []struct {
		name       string
		categories []string
		nextGid    *int64
		want       string
	}{
		{
			name:       "single category",
			categories: []string{"Manga"},
			want:       "https://example.org/?f_cats=1019&inline_set=dm_e",
		},
		{
			name:       "category mix",
			categories: []string{"Doujinshi", "Manga", "Cosplay"},
			want:       "https://example.org/?f_cats=953&inline_set=dm_e",
		},
		{
			name:       "with cursor",
			categories: []string{"Manga"},
			nextGid:    gid(123),
			want:       "https://example.org/?f_cats=1019&inline_set=dm_e&next=123",
		},
		{
			name:       "all categories",
			categories: []string{"Misc", "Doujinshi", "Manga", "Artist CG", "Game CG", "Image Set", "Cosplay", "Asian Porn", "Non-H", "Western"},
			want:       "https://example.org/?f_cats=0&inline_set=dm_e",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := listURL("https://example.org", tt.categories, tt.nextGid)
			if got != tt.want {
				t.Errorf("listURL() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestDetailURL(t *testing.T) {
	got := detailURL("https://example.org", 123456, "abcdef0123")
	want := "https://example.org/g/123456/abcdef0123/"
	if got != want {
		t.Errorf("detailURL() = %q, want %q", got, want)
	}
}

func TestClassify(t *testing.T) {
	newFetcher := func() *Fetcher {
		return NewFetcher(nil, NewLimiter(0), zap.NewNop())
	}

	t.Run("clean body", func(t *testing.T) {
		if err := newFetcher().classify("<html><body>galleries</body></html>"); err != nil {
			t.Errorf("classify() = %v, want nil", err)
		}
	})

	t.Run("access denied", func(t *testing.T) {
		err := newFetcher().classify(`<img src="panda.png">`)
		if !errors.Is(err, ErrAccessDenied) {
			t.Errorf("classify() = %v, want ErrAccessDenied", err)
		}
	})

	t.Run("login wall", func(t *testing.T) {
		err := newFetcher().classify("This page requires you to log on.")
		if !errors.Is(err, ErrLoginRequired) {
			t.Errorf("classify() = %v, want ErrLoginRequired", err)
		}
	})

	t.Run("temporary ban raises barrier", func(t *testing.T) {
		f := newFetcher()
		err := f.classify("Your IP address has been temporarily banned. The ban expires in 9 minutes and 30 seconds")

		var banErr *BanError
		if !errors.As(err, &banErr) {
			t.Fatalf("classify() = %v, want *BanError", err)
		}
		want := 9*time.Minute + 30*time.Second
		if banErr.RetryAfter != want {
			t.Errorf("RetryAfter = %v, want %v", banErr.RetryAfter, want)
		}
		if !f.limiter.Banned() {
			t.Error("limiter barrier not raised after ban")
		}
	})

	t.Run("denial wins over ban marker", func(t *testing.T) {
		f := newFetcher()
		err := f.classify("Sad Panda ... temporarily banned")
		if !errors.Is(err, ErrAccessDenied) {
			t.Errorf("classify() = %v, want ErrAccessDenied", err)
		}
		if f.limiter.Banned() {
			t.Error("barrier must stay open when the body is a denial page")
		}
	})
}

func gid(v int64) *int64 { return &v }
