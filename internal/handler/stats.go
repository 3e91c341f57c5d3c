package handler

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/slinet/ehsync/internal/database"
	"github.com/slinet/ehsync/pkg/utils"
	"go.uber.org/zap"
)

// StatsHandler serves mirror-wide summary numbers
type StatsHandler struct {
	logger *zap.Logger
}

func NewStatsHandler(logger *zap.Logger) *StatsHandler {
	return &StatsHandler{logger: logger}
}

type mirrorStats struct {
	TotalGalleries int64            `json:"total_galleries"`
	ByCategory     map[string]int64 `json:"by_category"`
	LastSyncedAt   *time.Time       `json:"last_synced_at"`
	Tasks          []taskSummary    `json:"tasks"`
}

type taskSummary struct {
	ID          int        `json:"id"`
	Name        string     `json:"name"`
	Type        string     `json:"type"`
	Category    string     `json:"category"`
	Status      string     `json:"status"`
	ProgressPct float64    `json:"progress_pct"`
	LastRunAt   *time.Time `json:"last_run_at"`
}

// GetStats handles GET /v1/stats
func (h *StatsHandler) GetStats(c *gin.Context) {
	ctx := c.Request.Context()
	pool := database.GetPool()

	stats := mirrorStats{
		ByCategory: make(map[string]int64),
		Tasks:      []taskSummary{},
	}

	err := pool.QueryRow(ctx,
		"SELECT COUNT(*), MAX(last_synced_at) FROM eh_galleries",
	).Scan(&stats.TotalGalleries, &stats.LastSyncedAt)
	if err != nil {
		h.logger.Error("failed to query gallery totals", zap.Error(err))
		c.JSON(500, utils.GetResponse(nil, 500, "database error", nil))
		return
	}

	rows, err := pool.Query(ctx,
		"SELECT category, COUNT(*) FROM eh_galleries GROUP BY category ORDER BY category",
	)
	if err != nil {
		h.logger.Error("failed to query category counts", zap.Error(err))
		c.JSON(500, utils.GetResponse(nil, 500, "database error", nil))
		return
	}
	defer rows.Close()
	for rows.Next() {
		var category string
		var count int64
		if err := rows.Scan(&category, &count); err != nil {
			h.logger.Error("failed to scan category count", zap.Error(err))
			c.JSON(500, utils.GetResponse(nil, 500, "database error", nil))
			return
		}
		stats.ByCategory[category] = count
	}
	if err := rows.Err(); err != nil {
		h.logger.Error("failed to read category counts", zap.Error(err))
		c.JSON(500, utils.GetResponse(nil, 500, "database error", nil))
		return
	}

	taskRows, err := pool.Query(ctx, `
		SELECT id, name, type, category, status, progress_pct, last_run_at
		FROM sync_tasks
		ORDER BY id
	`)
	if err != nil {
		h.logger.Error("failed to query task summaries", zap.Error(err))
		c.JSON(500, utils.GetResponse(nil, 500, "database error", nil))
		return
	}
	defer taskRows.Close()
	for taskRows.Next() {
		var t taskSummary
		err := taskRows.Scan(&t.ID, &t.Name, &t.Type, &t.Category, &t.Status, &t.ProgressPct, &t.LastRunAt)
		if err != nil {
			h.logger.Error("failed to scan task summary", zap.Error(err))
			c.JSON(500, utils.GetResponse(nil, 500, "database error", nil))
			return
		}
		stats.Tasks = append(stats.Tasks, t)
	}
	if err := taskRows.Err(); err != nil {
		h.logger.Error("failed to read task summaries", zap.Error(err))
		c.JSON(500, utils.GetResponse(nil, 500, "database error", nil))
		return
	}

	c.JSON(200, utils.GetResponse(stats, 200, "success", nil))
}
