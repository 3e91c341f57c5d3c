package handler

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5"
	"github.com/slinet/ehsync/internal/database"
	"github.com/slinet/ehsync/internal/store"
	"github.com/slinet/ehsync/pkg/utils"
	"go.uber.org/zap"
)

// AdminHandler manages sync task rows. The engine only observes
// desired_status; every write rule that keeps the table consistent
// lives here.
type AdminHandler struct {
	store  *store.Store
	logger *zap.Logger
}

func NewAdminHandler(store *store.Store, logger *zap.Logger) *AdminHandler {
	return &AdminHandler{store: store, logger: logger}
}

type taskRequest struct {
	Name     string          `json:"name"`
	Type     string          `json:"type"`
	Category string          `json:"category"`
	Config   json.RawMessage `json:"config"`
}

// normalizeTaskConfig validates a request's category/config pair and
// returns the canonical config JSON
func normalizeTaskConfig(taskType, category string, raw json.RawMessage) ([]byte, error) {
	switch taskType {
	case database.TaskTypeFull:
		if !database.IsValidCategory(category) {
			return nil, errors.New("unknown category")
		}
		cfg, err := database.NormalizeFullConfig(raw)
		if err != nil {
			return nil, err
		}
		return json.Marshal(cfg)
	case database.TaskTypeIncremental:
		if category != database.MixedCategory {
			return nil, errors.New(`incremental task requires category "Mixed"`)
		}
		cfg, err := database.NormalizeIncrementalConfig(raw)
		if err != nil {
			return nil, err
		}
		return json.Marshal(cfg)
	default:
		return nil, errors.New("type must be full or incremental")
	}
}

// CreateTask handles POST /v1/admin/tasks
func (h *AdminHandler) CreateTask(c *gin.Context) {
	var req taskRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(400, utils.GetResponse(nil, 400, "invalid request body", nil))
		return
	}
	if req.Name == "" {
		c.JSON(422, utils.GetResponse(nil, 422, "name is required", nil))
		return
	}

	configJSON, err := normalizeTaskConfig(req.Type, req.Category, req.Config)
	if err != nil {
		c.JSON(422, utils.GetResponse(nil, 422, err.Error(), nil))
		return
	}

	ctx := c.Request.Context()
	pool := database.GetPool()

	// At most one incremental task may exist; its cycles already cover
	// every configured category.
	if req.Type == database.TaskTypeIncremental {
		var count int
		err := pool.QueryRow(ctx, "SELECT COUNT(*) FROM sync_tasks WHERE type = $1", database.TaskTypeIncremental).Scan(&count)
		if err != nil {
			h.logger.Error("failed to count incremental tasks", zap.Error(err))
			c.JSON(500, utils.GetResponse(nil, 500, "database error", nil))
			return
		}
		if count > 0 {
			c.JSON(409, utils.GetResponse(nil, 409, "an incremental task already exists", nil))
			return
		}
	}

	var stateJSON []byte
	if req.Type == database.TaskTypeFull {
		cfg, _ := database.NormalizeFullConfig(configJSON)
		stateJSON, _ = json.Marshal(database.InitialFullState(cfg))
	} else {
		stateJSON, _ = json.Marshal(database.InitialIncrementalState())
	}

	query := `
		INSERT INTO sync_tasks (name, type, category, config, state, status, desired_status, progress_pct)
		VALUES ($1, $2, $3, $4, $5, 'stopped', 'stopped', 0)
		RETURNING id
	`
	h.logger.Debug("executing task insert",
		zap.String("sql", utils.FormatSQL(query, req.Name, req.Type, req.Category, string(configJSON), string(stateJSON))),
	)

	var id int
	err = pool.QueryRow(ctx, query, req.Name, req.Type, req.Category, configJSON, stateJSON).Scan(&id)
	if err != nil {
		h.logger.Error("failed to insert task", zap.Error(err))
		c.JSON(500, utils.GetResponse(nil, 500, "database error", nil))
		return
	}

	task, err := h.getTask(ctx, id)
	if err != nil {
		h.logger.Error("failed to read back task", zap.Error(err), zap.Int("id", id))
		c.JSON(500, utils.GetResponse(nil, 500, "database error", nil))
		return
	}
	h.logger.Info("task created", zap.Int("id", id), zap.String("type", req.Type), zap.String("category", req.Category))
	c.JSON(201, utils.GetResponse(task, 201, "created", nil))
}

// ListTasks handles GET /v1/admin/tasks
func (h *AdminHandler) ListTasks(c *gin.Context) {
	tasks, err := h.store.ListSyncTasks(c.Request.Context())
	if err != nil {
		h.logger.Error("failed to list tasks", zap.Error(err))
		c.JSON(500, utils.GetResponse(nil, 500, "database error", nil))
		return
	}
	if tasks == nil {
		tasks = []database.SyncTask{}
	}
	total := int64(len(tasks))
	c.JSON(200, utils.GetResponse(tasks, 200, "success", &total))
}

// GetTask handles GET /v1/admin/tasks/:id
func (h *AdminHandler) GetTask(c *gin.Context) {
	id, ok := h.taskID(c)
	if !ok {
		return
	}

	task, err := h.getTask(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			c.JSON(404, utils.GetResponse(nil, 404, "task not found", nil))
			return
		}
		h.logger.Error("failed to query task", zap.Error(err), zap.Int("id", id))
		c.JSON(500, utils.GetResponse(nil, 500, "database error", nil))
		return
	}
	c.JSON(200, utils.GetResponse(task, 200, "success", nil))
}

// UpdateTask handles PATCH /v1/admin/tasks/:id. Config changes are
// refused while the task runs or is about to: the runner re-reads
// config every tick and must not see it shift mid-cycle.
func (h *AdminHandler) UpdateTask(c *gin.Context) {
	id, ok := h.taskID(c)
	if !ok {
		return
	}

	var req struct {
		Name   *string         `json:"name"`
		Config json.RawMessage `json:"config"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(400, utils.GetResponse(nil, 400, "invalid request body", nil))
		return
	}

	ctx := c.Request.Context()
	task, err := h.getTask(ctx, id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			c.JSON(404, utils.GetResponse(nil, 404, "task not found", nil))
			return
		}
		h.logger.Error("failed to query task", zap.Error(err), zap.Int("id", id))
		c.JSON(500, utils.GetResponse(nil, 500, "database error", nil))
		return
	}

	pool := database.GetPool()

	if req.Name != nil {
		_, err := pool.Exec(ctx, "UPDATE sync_tasks SET name = $1, updated_at = NOW() WHERE id = $2", *req.Name, id)
		if err != nil {
			h.logger.Error("failed to rename task", zap.Error(err), zap.Int("id", id))
			c.JSON(500, utils.GetResponse(nil, 500, "database error", nil))
			return
		}
	}

	if len(req.Config) > 0 {
		if task.Status == database.StatusRunning || task.DesiredStatus == database.DesiredRunning {
			c.JSON(409, utils.GetResponse(nil, 409, "cannot change config of a running task", nil))
			return
		}
		configJSON, err := normalizeTaskConfig(task.Type, task.Category, req.Config)
		if err != nil {
			c.JSON(422, utils.GetResponse(nil, 422, err.Error(), nil))
			return
		}
		_, err = pool.Exec(ctx, "UPDATE sync_tasks SET config = $1, updated_at = NOW() WHERE id = $2", configJSON, id)
		if err != nil {
			h.logger.Error("failed to update task config", zap.Error(err), zap.Int("id", id))
			c.JSON(500, utils.GetResponse(nil, 500, "database error", nil))
			return
		}
	}

	task, err = h.getTask(ctx, id)
	if err != nil {
		h.logger.Error("failed to read back task", zap.Error(err), zap.Int("id", id))
		c.JSON(500, utils.GetResponse(nil, 500, "database error", nil))
		return
	}
	c.JSON(200, utils.GetResponse(task, 200, "updated", nil))
}

// StartTask handles POST /v1/admin/tasks/:id/start
func (h *AdminHandler) StartTask(c *gin.Context) {
	id, ok := h.taskID(c)
	if !ok {
		return
	}

	ctx := c.Request.Context()
	task, err := h.getTask(ctx, id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			c.JSON(404, utils.GetResponse(nil, 404, "task not found", nil))
			return
		}
		h.logger.Error("failed to query task", zap.Error(err), zap.Int("id", id))
		c.JSON(500, utils.GetResponse(nil, 500, "database error", nil))
		return
	}
	if task.Status == database.StatusCompleted {
		c.JSON(409, utils.GetResponse(nil, 409, "task already completed", nil))
		return
	}

	if err := h.store.SetTaskDesiredStatus(ctx, id, database.DesiredRunning); err != nil {
		h.logger.Error("failed to set desired status", zap.Error(err), zap.Int("id", id))
		c.JSON(500, utils.GetResponse(nil, 500, "database error", nil))
		return
	}
	h.logger.Info("task start requested", zap.Int("id", id))
	c.JSON(200, utils.GetResponse(nil, 200, "start requested", nil))
}

// StopTask handles POST /v1/admin/tasks/:id/stop
func (h *AdminHandler) StopTask(c *gin.Context) {
	id, ok := h.taskID(c)
	if !ok {
		return
	}

	ctx := c.Request.Context()
	if _, err := h.getTask(ctx, id); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			c.JSON(404, utils.GetResponse(nil, 404, "task not found", nil))
			return
		}
		h.logger.Error("failed to query task", zap.Error(err), zap.Int("id", id))
		c.JSON(500, utils.GetResponse(nil, 500, "database error", nil))
		return
	}

	if err := h.store.SetTaskDesiredStatus(ctx, id, database.DesiredStopped); err != nil {
		h.logger.Error("failed to set desired status", zap.Error(err), zap.Int("id", id))
		c.JSON(500, utils.GetResponse(nil, 500, "database error", nil))
		return
	}
	h.logger.Info("task stop requested", zap.Int("id", id))
	c.JSON(200, utils.GetResponse(nil, 200, "stop requested", nil))
}

// DeleteTask handles DELETE /v1/admin/tasks/:id?confirm=true. Deletion
// of a running or transitioning task is refused; the caller stops it
// first and retries after the reconciler catches up.
func (h *AdminHandler) DeleteTask(c *gin.Context) {
	id, ok := h.taskID(c)
	if !ok {
		return
	}
	if c.Query("confirm") != "true" {
		c.JSON(400, utils.GetResponse(nil, 400, "confirm=true is required", nil))
		return
	}

	ctx := c.Request.Context()
	task, err := h.getTask(ctx, id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			c.JSON(404, utils.GetResponse(nil, 404, "task not found", nil))
			return
		}
		h.logger.Error("failed to query task", zap.Error(err), zap.Int("id", id))
		c.JSON(500, utils.GetResponse(nil, 500, "database error", nil))
		return
	}
	if task.Status == database.StatusRunning || task.DesiredStatus == database.DesiredRunning {
		c.JSON(409, utils.GetResponse(nil, 409, "stop the task before deleting it", nil))
		return
	}

	pool := database.GetPool()
	if _, err := pool.Exec(ctx, "DELETE FROM sync_tasks WHERE id = $1", id); err != nil {
		h.logger.Error("failed to delete task", zap.Error(err), zap.Int("id", id))
		c.JSON(500, utils.GetResponse(nil, 500, "database error", nil))
		return
	}
	h.logger.Info("task deleted", zap.Int("id", id), zap.String("name", task.Name))
	c.JSON(200, utils.GetResponse(nil, 200, "deleted", nil))
}

// ThumbQueueStats handles GET /v1/admin/thumb-queue/stats
func (h *AdminHandler) ThumbQueueStats(c *gin.Context) {
	stats, err := h.store.ThumbQueueStats(c.Request.Context())
	if err != nil {
		h.logger.Error("failed to query thumb queue stats", zap.Error(err))
		c.JSON(500, utils.GetResponse(nil, 500, "database error", nil))
		return
	}
	c.JSON(200, utils.GetResponse(stats, 200, "success", nil))
}

func (h *AdminHandler) taskID(c *gin.Context) (int, bool) {
	id, err := strconv.Atoi(c.Param("id"))
	if err != nil || id <= 0 {
		c.JSON(400, utils.GetResponse(nil, 400, "invalid task id", nil))
		return 0, false
	}
	return id, true
}

func (h *AdminHandler) getTask(ctx context.Context, id int) (*database.SyncTask, error) {
	pool := database.GetPool()

	query := `
		SELECT id, name, type, category, config, state, status, desired_status,
		       progress_pct, error_message, created_at, updated_at, last_run_at
		FROM sync_tasks
		WHERE id = $1
	`
	var t database.SyncTask
	err := pool.QueryRow(ctx, query, id).Scan(
		&t.ID, &t.Name, &t.Type, &t.Category, &t.Config, &t.State,
		&t.Status, &t.DesiredStatus, &t.ProgressPct, &t.ErrorMessage,
		&t.CreatedAt, &t.UpdatedAt, &t.LastRunAt,
	)
	if err != nil {
		return nil, err
	}
	return &t, nil
}
