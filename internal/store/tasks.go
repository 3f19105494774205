package store

import (
	"context"
	"database/sql"
	"errors"

	"github.com/google/uuid"

	perrors "github.com/p-blackswan/bootstrap-orchestrator/internal/errors"
)

// TaskUpdate carries the mutable task fields; nil means unchanged.
type TaskUpdate struct {
	Title        *string     `json:"title"`
	Description  *string     `json:"description"`
	Status       *TaskStatus `json:"status"`
	AssignedTo   *string     `json:"assigned_to"`
	AllowedPaths *[]string   `json:"allowed_paths"`
	Priority     *Priority   `json:"priority"`
}

const taskColumns = `id, project_id, title, description, status, assigned_to, allowed_paths, priority, created_at, updated_at`

// CreateTask inserts t. Status defaults to READY.
func (s *Store) CreateTask(ctx context.Context, t *Task) error {
	if t.ID == "" {
		t.ID = uuid.New().String()
	}
	if t.Status == "" {
		t.Status = TaskReady
	}
	if t.AllowedPaths == nil {
		t.AllowedPaths = []string{}
	}
	now := nowMillis()
	t.CreatedAt, t.UpdatedAt = now, now

	paths, err := encodeJSON(t.AllowedPaths)
	if err != nil {
		return persistErr("encode allowed paths", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO tasks (`+taskColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.ID, t.ProjectID, t.Title, t.Description, string(t.Status), t.AssignedTo,
		paths, string(t.Priority), t.CreatedAt, t.UpdatedAt,
	)
	if err != nil {
		return persistErr("create task", err)
	}
	return nil
}

// GetTask retrieves a task by ID
func (s *Store) GetTask(ctx context.Context, id string) (*Task, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id = ?`, id)
	t, err := scanTask(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, perrors.NotFound("Task")
	}
	if err != nil {
		return nil, persistErr("get task", err)
	}
	return t, nil
}

// ListTasksByProject returns the project's tasks in work order (READY,
// IN_PROGRESS, BLOCKED, DONE), then by title.
func (s *Store) ListTasksByProject(ctx context.Context, projectID string) ([]*Task, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+taskColumns+` FROM tasks
		WHERE project_id = ?
		ORDER BY CASE status
			WHEN 'READY' THEN 0
			WHEN 'IN_PROGRESS' THEN 1
			WHEN 'BLOCKED' THEN 2
			ELSE 3
		END, title, created_at`, projectID)
	if err != nil {
		return nil, persistErr("list tasks", err)
	}
	defer rows.Close()

	tasks := []*Task{}
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, persistErr("scan task", err)
		}
		tasks = append(tasks, t)
	}
	if err := rows.Err(); err != nil {
		return nil, persistErr("list tasks", err)
	}
	return tasks, nil
}

// UpdateTask applies u and returns the stored result.
func (s *Store) UpdateTask(ctx context.Context, id string, u TaskUpdate) (*Task, error) {
	t, err := s.GetTask(ctx, id)
	if err != nil {
		return nil, err
	}
	if u.Title != nil {
		t.Title = *u.Title
	}
	if u.Description != nil {
		t.Description = *u.Description
	}
	if u.Status != nil {
		t.Status = *u.Status
	}
	if u.AssignedTo != nil {
		t.AssignedTo = *u.AssignedTo
	}
	if u.AllowedPaths != nil {
		t.AllowedPaths = *u.AllowedPaths
	}
	if u.Priority != nil {
		t.Priority = *u.Priority
	}
	t.UpdatedAt = nowMillis()

	paths, err := encodeJSON(t.AllowedPaths)
	if err != nil {
		return nil, persistErr("encode allowed paths", err)
	}
	_, err = s.db.ExecContext(ctx, `
		UPDATE tasks SET title = ?, description = ?, status = ?, assigned_to = ?,
			allowed_paths = ?, priority = ?, updated_at = ?
		WHERE id = ?`,
		t.Title, t.Description, string(t.Status), t.AssignedTo, paths, string(t.Priority), t.UpdatedAt, id,
	)
	if err != nil {
		return nil, persistErr("update task", err)
	}
	return t, nil
}

// UpdateTaskStatus sets only the status column.
func (s *Store) UpdateTaskStatus(ctx context.Context, id string, status TaskStatus) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE tasks SET status = ?, updated_at = ? WHERE id = ?`,
		string(status), nowMillis(), id,
	)
	if err != nil {
		return persistErr("update task status", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return perrors.NotFound("Task")
	}
	return nil
}

// DeleteTask removes a task.
func (s *Store) DeleteTask(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM tasks WHERE id = ?`, id)
	if err != nil {
		return persistErr("delete task", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return perrors.NotFound("Task")
	}
	return nil
}

func scanTask(row rowScanner) (*Task, error) {
	t := &Task{}
	var status, priority, paths string
	err := row.Scan(&t.ID, &t.ProjectID, &t.Title, &t.Description, &status, &t.AssignedTo,
		&paths, &priority, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		return nil, err
	}
	t.Status = TaskStatus(status)
	t.Priority = Priority(priority)
	t.AllowedPaths = decodeStrings(paths)
	return t, nil
}
