package crawler

import (
	"bytes"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

var (
	gidTokenPattern   = regexp.MustCompile(`/g/(\d+)/([a-f0-9]+)/`)
	nextCursorPattern = regexp.MustCompile(`[?&]next=(\d+)`)
	foundPattern      = regexp.MustCompile(`Found (?:about )?([\d,]+) result`)
	spritePattern     = regexp.MustCompile(`background-position:\s*(-?\d+)px\s+(-?\d+)px`)
)

// ParseGalleryList parses a list page into items, the next-page cursor
// and the reported total count. Works across the site's list display
// modes; the detailed mode (inline_set=dm_e) exposes the richest
// signals.
func ParseGalleryList(body []byte) (*ListPage, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("parse html: %w", err)
	}

	page := &ListPage{}

	// Table display modes nest rows under an implicit tbody; the
	// thumbnail grid mode uses direct child divs
	itg := doc.Find(".itg").First()
	if itg.Length() > 0 {
		rows := itg.Find("tr")
		if rows.Length() == 0 {
			rows = itg.Children()
		}
		rows.Each(func(_ int, row *goquery.Selection) {
			item, ok := parseListRow(row)
			if ok {
				page.Items = append(page.Items, item)
			}
		})
	}

	// Next-page cursor from the pagination bar
	if href, ok := doc.Find("#dnext").Attr("href"); ok {
		if m := nextCursorPattern.FindStringSubmatch(href); len(m) >= 2 {
			if gid, err := strconv.ParseInt(m[1], 10, 64); err == nil {
				page.NextGid = &gid
			}
		}
	}

	// "Found about N results" banner
	if m := foundPattern.FindSubmatch(body); len(m) >= 2 {
		raw := strings.ReplaceAll(string(m[1]), ",", "")
		if n, err := strconv.ParseInt(raw, 10, 64); err == nil {
			page.TotalCount = &n
		}
	}

	return page, nil
}

// parseListRow extracts one gallery entry from a list row
func parseListRow(row *goquery.Selection) (ListItem, bool) {
	var item ListItem

	glname := row.Find(".glname").First()
	if glname.Length() == 0 {
		return item, false
	}

	// The link is either inside .glname or its direct parent
	link := glname.Find("a").First()
	if link.Length() == 0 {
		parent := glname.Parent()
		if goquery.NodeName(parent) == "a" {
			link = parent
		}
	}
	if link.Length() == 0 {
		return item, false
	}

	href, _ := link.Attr("href")
	m := gidTokenPattern.FindStringSubmatch(href)
	if len(m) < 3 {
		return item, false
	}
	gid, err := strconv.ParseInt(m[1], 10, 64)
	if err != nil {
		return item, false
	}
	item.Gid = gid
	item.Token = m[2]
	item.Title = deepestText(glname)

	item.RatingSig, item.RatingEst = extractRatingSignal(row)
	item.VisibleTags = extractVisibleTags(row)

	return item, true
}

// deepestText walks down the first-child chain and returns the leaf
// text, which is where the title lives across display modes
func deepestText(sel *goquery.Selection) string {
	node := sel
	for {
		children := node.Children()
		if children.Length() == 0 {
			break
		}
		node = children.First()
	}
	return strings.Join(strings.Fields(node.Text()), " ")
}

// extractRatingSignal decodes the star sprite of a list row. The sprite
// encodes the bucketed rating in 16px columns (full stars) and a 20px
// row shift (half star): est = 5 + x/16 − 0.5·[y = −21].
func extractRatingSignal(row *goquery.Selection) (string, *float64) {
	var sig string
	var est *float64

	row.Find(".ir").EachWithBreak(func(_ int, ir *goquery.Selection) bool {
		style, ok := ir.Attr("style")
		if !ok {
			return true
		}
		m := spritePattern.FindStringSubmatch(style)
		if len(m) < 3 {
			return true
		}
		x, errX := strconv.Atoi(m[1])
		y, errY := strconv.Atoi(m[2])
		if errX != nil || errY != nil {
			return true
		}
		if y != -1 && y != -21 {
			return true
		}

		score := 5.0 + float64(x)/16.0
		if y == -21 {
			score -= 0.5
		}
		if score < 0 {
			score = 0
		}
		sig = fmt.Sprintf("sprite:x=%d,y=%d", x, y)
		est = &score
		return false
	})

	return sig, est
}

// extractVisibleTags collects the tag strings shown on the list card
// (elements with a gt/gtl/gtw class). The title attribute carries the
// namespaced form; the node text is the fallback.
func extractVisibleTags(row *goquery.Selection) []string {
	var tags []string
	seen := make(map[string]bool)

	row.Find("div").Each(func(_ int, div *goquery.Selection) {
		class, ok := div.Attr("class")
		if !ok || !strings.HasPrefix(class, "gt") {
			return
		}
		tag, ok := div.Attr("title")
		if !ok || tag == "" {
			tag = strings.TrimSpace(div.Text())
		}
		tag = strings.ToLower(strings.TrimSpace(tag))
		if tag == "" || seen[tag] {
			return
		}
		seen[tag] = true
		tags = append(tags, tag)
	})

	return tags
}
