package engine

import (
	"strings"
	"testing"

	"github.com/slinet/ehsync/internal/crawler"
	"github.com/slinet/ehsync/internal/database"
)

func TestDetectChange(t *testing.T) {
	meta := func(rating *float64, tags map[string][]string) *database.GalleryMeta {
		return &database.GalleryMeta{Gid: 1, Rating: rating, Tags: tags}
	}

	tests := []struct {
		name       string
		existing   *database.GalleryMeta
		item       crawler.ListItem
		refresh    bool
		reasonPart string
	}{
		{
			name:       "unknown gallery",
			existing:   nil,
			item:       crawler.ListItem{Gid: 1},
			refresh:    true,
			reasonPart: "new",
		},
		{
			name:     "visible tag not stored",
			existing: meta(f64Ptr(4.0), map[string][]string{"female": {"glasses"}}),
			item: crawler.ListItem{
				Gid:         1,
				RatingEst:   f64Ptr(4.0),
				VisibleTags: []string{"female:glasses", "female:swimsuit"},
			},
			refresh:    true,
			reasonPart: "tags_missing:1",
		},
		{
			name:     "stored tags are a superset",
			existing: meta(f64Ptr(4.0), map[string][]string{"female": {"glasses", "swimsuit"}, "language": {"translated"}}),
			item: crawler.ListItem{
				Gid:         1,
				RatingEst:   f64Ptr(4.0),
				VisibleTags: []string{"female:glasses"},
			},
			refresh: false,
		},
		{
			name:     "bare misc tag matches",
			existing: meta(nil, map[string][]string{"misc": {"full color"}}),
			item: crawler.ListItem{
				Gid:         1,
				VisibleTags: []string{"full color"},
			},
			refresh: false,
		},
		{
			name:     "rating moved a full bucket",
			existing: meta(f64Ptr(4.0), nil),
			item: crawler.ListItem{
				Gid:       1,
				RatingEst: f64Ptr(4.5),
			},
			refresh:    true,
			reasonPart: "rating:4.0!=4.5",
		},
		{
			name:     "rating drift below threshold",
			existing: meta(f64Ptr(4.38), nil),
			item: crawler.ListItem{
				Gid:       1,
				RatingEst: f64Ptr(4.5),
			},
			refresh: false,
		},
		{
			name:     "stored unrated but list shows stars",
			existing: meta(nil, nil),
			item: crawler.ListItem{
				Gid:       1,
				RatingEst: f64Ptr(4.0),
			},
			refresh:    true,
			reasonPart: "rating:unrated",
		},
		{
			name:     "list sprite missing",
			existing: meta(f64Ptr(4.0), nil),
			item:     crawler.ListItem{Gid: 1},
			refresh:  false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dec := DetectChange(tt.existing, tt.item, database.DefaultRatingDiffThreshold)
			if dec.Refresh != tt.refresh {
				t.Fatalf("Refresh = %v (%q), want %v", dec.Refresh, dec.Reason, tt.refresh)
			}
			if tt.reasonPart != "" && !strings.Contains(dec.Reason, tt.reasonPart) {
				t.Errorf("Reason = %q, want it to contain %q", dec.Reason, tt.reasonPart)
			}
		})
	}
}

func TestRatingBucket(t *testing.T) {
	tests := []struct {
		in   float64
		want float64
	}{
		{4.53, 4.5},
		{4.74, 4.5},
		{4.75, 5.0},
		{0.2, 0.0},
		{0.25, 0.5},
		{5.0, 5.0},
	}
	for _, tt := range tests {
		if got := ratingBucket(tt.in); got != tt.want {
			t.Errorf("ratingBucket(%v) = %v, want %v", tt.in, got, tt.want)
		}
	}
}
