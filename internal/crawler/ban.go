package crawler

import (
	"regexp"
	"strconv"
	"time"
)

// The site reports temporary IP bans inline in the page body, e.g.
// "Your IP address has been temporarily banned ... The ban expires in
// 59 minutes and 43 seconds". When the duration cannot be parsed a
// conservative default is used so the barrier still rises.

const defaultBanDuration = 5 * time.Minute

var (
	banExpiresPattern = regexp.MustCompile(`ban expires in ([^)\n<]+)`)
	hourPattern       = regexp.MustCompile(`(\d+)\s+hour`)
	minutePattern     = regexp.MustCompile(`(\d+)\s+minute`)
	secondPattern     = regexp.MustCompile(`(\d+)\s+second`)
)

// parseBanDuration extracts the remaining ban time from a ban notice.
// Returns defaultBanDuration when the notice carries no parsable
// duration.
func parseBanDuration(body string) time.Duration {
	matches := banExpiresPattern.FindStringSubmatch(body)
	if len(matches) < 2 {
		return defaultBanDuration
	}

	durationStr := matches[1]
	var total time.Duration

	if m := hourPattern.FindStringSubmatch(durationStr); len(m) >= 2 {
		if hours, err := strconv.Atoi(m[1]); err == nil {
			total += time.Duration(hours) * time.Hour
		}
	}
	if m := minutePattern.FindStringSubmatch(durationStr); len(m) >= 2 {
		if minutes, err := strconv.Atoi(m[1]); err == nil {
			total += time.Duration(minutes) * time.Minute
		}
	}
	if m := secondPattern.FindStringSubmatch(durationStr); len(m) >= 2 {
		if seconds, err := strconv.Atoi(m[1]); err == nil {
			total += time.Duration(seconds) * time.Second
		}
	}

	if total <= 0 {
		return defaultBanDuration
	}
	return total
}
