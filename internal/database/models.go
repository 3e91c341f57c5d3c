package database

import (
	"encoding/json"
	"time"
)

// Task types
const (
	TaskTypeFull        = "full"
	TaskTypeIncremental = "incremental"
)

// Engine-observed task statuses
const (
	StatusStopped   = "stopped"
	StatusRunning   = "running"
	StatusCompleted = "completed"
	StatusError     = "error"
)

// Operator intent
const (
	DesiredRunning = "running"
	DesiredStopped = "stopped"
)

// MixedCategory is the category label carried by the (single) incremental task
const MixedCategory = "Mixed"

// SyncTask represents a row of the sync_tasks table
type SyncTask struct {
	ID            int             `json:"id"`
	Name          string          `json:"name"`
	Type          string          `json:"type"`
	Category      string          `json:"category"`
	Config        json.RawMessage `json:"config"`
	State         json.RawMessage `json:"state"`
	Status        string          `json:"status"`
	DesiredStatus string          `json:"desired_status"`
	ProgressPct   float64         `json:"progress_pct"`
	ErrorMessage  *string         `json:"error_message"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
	LastRunAt     *time.Time      `json:"last_run_at"`
}

// TaskRuntime is the subset of a task row the runners need per tick
type TaskRuntime struct {
	ID            int             `json:"id"`
	Name          string          `json:"name"`
	Type          string          `json:"type"`
	Category      string          `json:"category"`
	DesiredStatus string          `json:"desired_status"`
	Status        string          `json:"status"`
	Config        json.RawMessage `json:"config"`
	State         json.RawMessage `json:"state"`
	ProgressPct   float64         `json:"progress_pct"`
}

// TaskRuntimeUpdate is a partial update of the runtime columns.
// Nil fields are left untouched; updated_at always advances.
type TaskRuntimeUpdate struct {
	State        interface{} // marshaled to jsonb when non-nil
	ProgressPct  *float64
	Status       *string
	ErrorMessage *string
	TouchRunTime bool
}

// Gallery represents a mirrored gallery record
type Gallery struct {
	Gid          int64               `json:"gid"`
	Token        string              `json:"token"`
	Category     string              `json:"category"`
	Title        string              `json:"title"`
	TitleJpn     string              `json:"title_jpn"`
	Uploader     *string             `json:"uploader"`
	PostedAt     *time.Time          `json:"posted_at"`
	Language     string              `json:"language"`
	Pages        int                 `json:"pages"`
	Rating       *float64            `json:"rating"`
	FavCount     int                 `json:"fav_count"`
	CommentCount int                 `json:"comment_count"`
	Thumb        string              `json:"thumb"`
	Tags         map[string][]string `json:"tags"`
	LastSyncedAt *time.Time          `json:"last_synced_at"`
	IsActive     bool                `json:"is_active"`
}

// GalleryUpsert carries one parsed detail record into the bulk upsert
type GalleryUpsert struct {
	Gid          int64
	Token        string
	Category     string
	Title        string
	TitleJpn     string
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

// GalleryMeta is the stored subset the change detector compares against
type GalleryMeta struct {
	Gid      int64
	FavCount int
	Rating   *float64
	Tags     map[string][]string
}

// ThumbQueueItem represents a claimed thumb download job
type ThumbQueueItem struct {
	ID         int
	Gid        int64
	ThumbURL   string
	RetryCount int
}

// ThumbQueueStats summarizes thumb queue depth by state
type ThumbQueueStats struct {
	Pending    int64 `json:"pending"`
	Processing int64 `json:"processing"`
	Done       int64 `json:"done"`
	Waiting    int64 `json:"waiting"` // pending rows whose next_retry_at is in the future
}

// APIResponse represents the standard API response format
type APIResponse struct {
	Data    interface{} `json:"data"`
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Total   *int64      `json:"total,omitempty"`
}
