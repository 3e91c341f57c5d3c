package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/slinet/ehsync/internal/database"
	"github.com/slinet/ehsync/pkg/utils"
	"go.uber.org/zap"
)

// ListSyncTasks returns all task rows ordered by id
func (s *Store) ListSyncTasks(ctx context.Context) ([]database.SyncTask, error) {
	pool := database.GetPool()

	query := `
		SELECT id, name, type, category, config, state, status, desired_status,
		       progress_pct, error_message, created_at, updated_at, last_run_at
		FROM sync_tasks
		ORDER BY id ASC
	`
	rows, err := pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list sync tasks: %w", err)
	}
	defer rows.Close()

	var tasks []database.SyncTask
	for rows.Next() {
		var t database.SyncTask
		err := rows.Scan(
			&t.ID, &t.Name, &t.Type, &t.Category, &t.Config, &t.State,
			&t.Status, &t.DesiredStatus, &t.ProgressPct, &t.ErrorMessage,
			&t.CreatedAt, &t.UpdatedAt, &t.LastRunAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan sync task: %w", err)
		}
		tasks = append(tasks, t)
	}

	return tasks, rows.Err()
}

// GetTaskRuntime returns the execution subset of a task row, or nil
// when the row no longer exists
func (s *Store) GetTaskRuntime(ctx context.Context, id int) (*database.TaskRuntime, error) {
	pool := database.GetPool()

	query := `
		SELECT id, name, type, category, desired_status, status, config, state, progress_pct
		FROM sync_tasks
		WHERE id = $1
	`
	var rt database.TaskRuntime
	err := pool.QueryRow(ctx, query, id).Scan(
		&rt.ID, &rt.Name, &rt.Type, &rt.Category, &rt.DesiredStatus,
		&rt.Status, &rt.Config, &rt.State, &rt.ProgressPct,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get task runtime %d: %w", id, err)
	}
	return &rt, nil
}

// UpdateTaskRuntime applies a partial update to the runtime columns.
// Unset fields stay untouched; updated_at always advances.
func (s *Store) UpdateTaskRuntime(ctx context.Context, id int, upd database.TaskRuntimeUpdate) error {
	pool := database.GetPool()

	sets := []string{"updated_at = NOW()"}
	var args []interface{}

	appendSet := func(column string, value interface{}) {
		args = append(args, value)
		sets = append(sets, fmt.Sprintf("%s = $%d", column, len(args)))
	}

	if upd.State != nil {
		stateJSON, err := json.Marshal(upd.State)
		if err != nil {
			return fmt.Errorf("marshal task state: %w", err)
		}
		appendSet("state", stateJSON)
	}
	if upd.ProgressPct != nil {
		appendSet("progress_pct", *upd.ProgressPct)
	}
	if upd.Status != nil {
		appendSet("status", *upd.Status)
	}
	if upd.ErrorMessage != nil {
		appendSet("error_message", *upd.ErrorMessage)
	}
	if upd.TouchRunTime {
		sets = append(sets, "last_run_at = NOW()")
	}

	if len(sets) == 1 && !upd.TouchRunTime {
		return nil
	}

	args = append(args, id)
	query := fmt.Sprintf("UPDATE sync_tasks SET %s WHERE id = $%d", strings.Join(sets, ", "), len(args))

	s.logger.Debug("executing task runtime update",
		zap.String("sql", utils.FormatSQL(query, args...)),
	)

	_, err := pool.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("update task runtime %d: %w", id, err)
	}
	return nil
}

// SetTaskDesiredStatus writes the operator-intent column
func (s *Store) SetTaskDesiredStatus(ctx context.Context, id int, desired string) error {
	pool := database.GetPool()

	query := "UPDATE sync_tasks SET desired_status = $1, updated_at = NOW() WHERE id = $2"
	s.logger.Debug("executing desired status update",
		zap.String("sql", utils.FormatSQL(query, desired, id)),
	)

	_, err := pool.Exec(ctx, query, desired, id)
	if err != nil {
		return fmt.Errorf("set desired status of task %d: %w", id, err)
	}
	return nil
}
