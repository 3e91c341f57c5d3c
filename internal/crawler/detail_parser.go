package crawler

import (
	"bytes"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
)

var (
	thumbStylePattern = regexp.MustCompile(`url\((.+?)\)`)
	firstIntPattern   = regexp.MustCompile(`(\d+)`)
)

const postedLayout = "2006-01-02 15:04"

// ParseGalleryDetail parses a gallery detail page into the full record
func ParseGalleryDetail(body []byte) (*GalleryDetail, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("parse html: %w", err)
	}

	gm := doc.Find(".gm").First()
	if gm.Length() == 0 {
		return nil, fmt.Errorf("no gallery container in detail page")
	}

	detail := &GalleryDetail{
		Tags: make(map[string][]string),
	}

	detail.Title = strings.TrimSpace(gm.Find("#gn").First().Text())
	detail.TitleJpn = strings.TrimSpace(gm.Find("#gj").First().Text())

	// Category badge: .cn (colored) or .cs (grayed)
	category := gm.Find(".cn").First()
	if category.Length() == 0 {
		category = gm.Find(".cs").First()
	}
	detail.Category = strings.TrimSpace(category.Text())

	detail.Uploader = strings.TrimSpace(gm.Find("#gdn").First().Text())
	detail.Rating = parseRatingLabel(gm.Find("#rating_label").First().Text())
	detail.Thumb = parseThumbStyle(gm.Find("#gd1 div").First())

	// Detail table: Posted / Language / Length / Favorited
	gm.Find("#gdd tr").Each(func(_ int, tr *goquery.Selection) {
		tds := tr.Find("td")
		if tds.Length() < 2 {
			return
		}
		key := strings.TrimSpace(tds.Eq(0).Text())
		value := strings.TrimSpace(tds.Eq(1).Text())

		switch {
		case strings.HasPrefix(key, "Posted"):
			if t, err := time.Parse(postedLayout, value); err == nil {
				utc := t.UTC()
				detail.PostedAt = &utc
			}
		case strings.HasPrefix(key, "Language"):
			detail.Language = value
		case strings.HasPrefix(key, "Length"):
			detail.Pages = leadingCount(value)
		case strings.HasPrefix(key, "Favorited"):
			detail.FavCount = parseFavorited(value)
		}
	})

	detail.CommentCount = parseCommentCount(doc)
	detail.Tags = parseTagList(doc)

	return detail, nil
}

// parseRatingLabel reads "Average: 4.53" style text; unrated galleries
// carry "Not Yet Rated"
func parseRatingLabel(text string) *float64 {
	text = strings.TrimSpace(text)
	if text == "" || strings.Contains(text, "Not Yet Rated") {
		return nil
	}
	idx := strings.Index(text, " ")
	if idx < 0 {
		return nil
	}
	rating, err := strconv.ParseFloat(strings.TrimSpace(text[idx+1:]), 64)
	if err != nil {
		return nil
	}
	return &rating
}

// parseThumbStyle extracts the cover URL from the inline background style
func parseThumbStyle(div *goquery.Selection) string {
	style, ok := div.Attr("style")
	if !ok {
		return ""
	}
	m := thumbStylePattern.FindStringSubmatch(style)
	if len(m) < 2 {
		return ""
	}
	return strings.Trim(m[1], `'"`)
}

// leadingCount parses the integer before the first space ("123 pages")
func leadingCount(value string) int {
	idx := strings.Index(value, " ")
	if idx < 0 {
		return 0
	}
	n, err := strconv.Atoi(strings.ReplaceAll(value[:idx], ",", ""))
	if err != nil {
		return 0
	}
	return n
}

// parseFavorited handles the site's spelled-out low counts
func parseFavorited(value string) int {
	switch value {
	case "Never":
		return 0
	case "Once":
		return 1
	}
	return leadingCount(value)
}

// parseCommentCount reads the "Showing N comments" header, falling back
// to counting comment blocks
func parseCommentCount(doc *goquery.Document) int {
	cdiv := doc.Find("#cdiv").First()
	if cdiv.Length() == 0 {
		return 0
	}
	aall := cdiv.Find("#aall").First()
	if aall.Length() > 0 {
		if m := firstIntPattern.FindStringSubmatch(aall.Text()); len(m) >= 2 {
			if n, err := strconv.Atoi(m[1]); err == nil {
				return n
			}
		}
	}
	return cdiv.Find(".c1").Length()
}

// parseTagList reads the namespaced tag table. Rows without an explicit
// namespace fall into "misc". Inner order is preserved; values are
// unique within a namespace.
func parseTagList(doc *goquery.Document) map[string][]string {
	tags := make(map[string][]string)

	doc.Find("#taglist tr").Each(func(_ int, tr *goquery.Selection) {
		tds := tr.Find("td")
		if tds.Length() < 2 {
			return
		}
		namespace := strings.TrimSuffix(strings.TrimSpace(tds.Eq(0).Text()), ":")
		if namespace == "" {
			namespace = "misc"
		}

		seen := make(map[string]bool)
		for _, existing := range tags[namespace] {
			seen[existing] = true
		}
		tds.Eq(1).Find("div a").Each(func(_ int, a *goquery.Selection) {
			value := strings.TrimSpace(a.Text())
			if value == "" || seen[value] {
				return
			}
			seen[value] = true
			tags[namespace] = append(tags[namespace], value)
		})
	})

	return tags
}
