package database

import (
	"encoding/json"
	"fmt"
)

// The config and state jsonb columns are tagged variants keyed by the
// task type. They are normalized on every read and on every ingest from
// the admin surface; opaque maps are never merged.

// InlineSetDetailed is the only list display mode the parsers understand.
// It is forced server-side and never honored from input.
const InlineSetDetailed = "dm_e"

// FullConfig is the config variant of a full-backfill task
type FullConfig struct {
	InlineSet string `json:"inline_set"`
	StartGid  *int64 `json:"start_gid"`
}

// IncrementalConfig is the config variant of the incremental task
type IncrementalConfig struct {
	InlineSet           string   `json:"inline_set"`
	Categories          []string `json:"categories"`
	ScanWindow          int      `json:"scan_window"`
	RatingDiffThreshold float64  `json:"rating_diff_threshold"`
}

// FullState is the cursor state of a full-backfill task
type FullState struct {
	NextGid    *int64 `json:"next_gid"`
	Round      int    `json:"round"`
	Done       bool   `json:"done"`
	AnchorGid  *int64 `json:"anchor_gid"`
	TotalCount *int64 `json:"total_count"`
}

// IncrementalState is the cycle state of the incremental task
type IncrementalState struct {
	NextGid      *int64 `json:"next_gid"`
	Round        int    `json:"round"`
	LatestGid    *int64 `json:"latest_gid"`
	ScannedCount int    `json:"scanned_count"`
}

// Defaults applied when the admin surface receives a partial config
const (
	DefaultScanWindow          = 10000
	DefaultRatingDiffThreshold = 0.5
)

// DefaultIncrementalCategories is the category subset a new incremental
// task starts with when none is supplied
var DefaultIncrementalCategories = []string{"Doujinshi", "Manga", "Cosplay"}

// NormalizeFullConfig validates and fills a full-task config
func NormalizeFullConfig(raw json.RawMessage) (*FullConfig, error) {
	cfg := FullConfig{}
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &cfg); err != nil {
			return nil, fmt.Errorf("invalid full config: %w", err)
		}
	}
	cfg.InlineSet = InlineSetDetailed
	return &cfg, nil
}

// NormalizeIncrementalConfig validates and fills an incremental-task
// config: categories deduplicated, each a valid site label, non-empty
func NormalizeIncrementalConfig(raw json.RawMessage) (*IncrementalConfig, error) {
	cfg := IncrementalConfig{}
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &cfg); err != nil {
			return nil, fmt.Errorf("invalid incremental config: %w", err)
		}
	}

	if len(cfg.Categories) == 0 {
		cfg.Categories = append([]string(nil), DefaultIncrementalCategories...)
	}

	seen := make(map[string]bool)
	normalized := make([]string, 0, len(cfg.Categories))
	for _, c := range cfg.Categories {
		if !IsValidCategory(c) {
			return nil, fmt.Errorf("invalid category %q in config.categories", c)
		}
		if !seen[c] {
			seen[c] = true
			normalized = append(normalized, c)
		}
	}
	cfg.Categories = normalized

	if cfg.ScanWindow <= 0 {
		cfg.ScanWindow = DefaultScanWindow
	}
	if cfg.RatingDiffThreshold <= 0 {
		cfg.RatingDiffThreshold = DefaultRatingDiffThreshold
	}
	cfg.InlineSet = InlineSetDetailed
	return &cfg, nil
}

// InitialFullState returns the state a full task starts (or restarts) from
func InitialFullState(cfg *FullConfig) *FullState {
	st := &FullState{}
	if cfg != nil {
		st.NextGid = cfg.StartGid
	}
	return st
}

// InitialIncrementalState returns the state a fresh incremental cycle starts from
func InitialIncrementalState() *IncrementalState {
	return &IncrementalState{}
}

// DecodeFullState reads a full-task state column, tolerating missing
// fields from older rows
func DecodeFullState(raw json.RawMessage) (*FullState, error) {
	st := FullState{}
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &st); err != nil {
			return nil, fmt.Errorf("invalid full state: %w", err)
		}
	}
	return &st, nil
}

// DecodeIncrementalState reads an incremental-task state column
func DecodeIncrementalState(raw json.RawMessage) (*IncrementalState, error) {
	st := IncrementalState{}
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &st); err != nil {
			return nil, fmt.Errorf("invalid incremental state: %w", err)
		}
	}
	return &st, nil
}
