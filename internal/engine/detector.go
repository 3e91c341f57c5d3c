package engine

import (
	"fmt"
	"math"
	"strings"

	"github.com/slinet/ehsync/internal/crawler"
	"github.com/slinet/ehsync/internal/database"
	"github.com/slinet/ehsync/pkg/utils"
)

// Decision is the change detector's verdict for one list row
type Decision struct {
	Refresh bool
	Reason  string
}

// ratingBucket snaps an estimate to the half-star grid the list sprite
// can actually express
func ratingBucket(r float64) float64 {
	return math.Round(r*2) / 2
}

// DetectChange compares a list row against the stored gallery and
// decides whether its detail page must be re-fetched. The comparison is
// one-directional: visible tags missing from the stored set force a
// refresh, stored tags absent from the list never do, because the list
// only shows a truncated excerpt.
func DetectChange(existing *database.GalleryMeta, item crawler.ListItem, ratingThreshold float64) Decision {
	if existing == nil {
		return Decision{Refresh: true, Reason: "new"}
	}

	stored := utils.FlattenTags(existing.Tags)
	var missing []string
	for _, tag := range item.VisibleTags {
		if _, ok := stored[tag]; !ok {
			missing = append(missing, tag)
		}
	}
	if len(missing) > 0 {
		shown := missing
		if len(shown) > 3 {
			shown = shown[:3]
		}
		return Decision{
			Refresh: true,
			Reason:  fmt.Sprintf("tags_missing:%d missing=[%s]", len(missing), strings.Join(shown, ", ")),
		}
	}

	if item.RatingEst != nil {
		listBucket := ratingBucket(*item.RatingEst)
		if existing.Rating == nil {
			return Decision{
				Refresh: true,
				Reason:  fmt.Sprintf("rating:unrated!=%.1f", listBucket),
			}
		}
		storedBucket := ratingBucket(*existing.Rating)
		if math.Abs(listBucket-storedBucket) >= ratingThreshold {
			return Decision{
				Refresh: true,
				Reason:  fmt.Sprintf("rating:%.1f!=%.1f", storedBucket, listBucket),
			}
		}
	}

	return Decision{Refresh: false, Reason: "match"}
}
