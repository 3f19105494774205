package store

import (
	"context"
	"database/sql"
	"errors"

	"github.com/google/uuid"

	perrors "github.com/p-blackswan/bootstrap-orchestrator/internal/errors"
)

// WorkflowUpdate carries the mutable workflow fields; nil means unchanged.
type WorkflowUpdate struct {
	CurrentPhase *Phase    `json:"current_phase"`
	ActiveTasks  *[]string `json:"active_tasks"`
	Blockers     *string   `json:"blockers"`
}

// EnsureWorkflowState creates the BLUEPRINT state for a project if none exists.
func (s *Store) EnsureWorkflowState(ctx context.Context, projectID string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO workflow_state (id, project_id, current_phase, active_tasks, blockers, updated_at)
		VALUES (?, ?, ?, '[]', '', ?)
		ON CONFLICT(project_id) DO NOTHING`,
		uuid.New().String(), projectID, string(PhaseBlueprint), nowMillis(),
	)
	if err != nil {
		return persistErr("create workflow state", err)
	}
	return nil
}

// GetWorkflowState returns the project's state or an ErrNotFound error.
func (s *Store) GetWorkflowState(ctx context.Context, projectID string) (*WorkflowState, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, project_id, current_phase, active_tasks, blockers, updated_at
		FROM workflow_state WHERE project_id = ?`, projectID)

	w := &WorkflowState{}
	var phase, active string
	err := row.Scan(&w.ID, &w.ProjectID, &phase, &active, &w.Blockers, &w.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, perrors.NotFound("Workflow state")
	}
	if err != nil {
		return nil, persistErr("get workflow state", err)
	}
	w.CurrentPhase = Phase(phase)
	w.ActiveTasks = decodeStrings(active)
	return w, nil
}

// UpdateWorkflowState applies u, creating the state first when missing.
func (s *Store) UpdateWorkflowState(ctx context.Context, projectID string, u WorkflowUpdate) (*WorkflowState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.EnsureWorkflowState(ctx, projectID); err != nil {
		return nil, err
	}
	w, err := s.GetWorkflowState(ctx, projectID)
	if err != nil {
		return nil, err
	}
	if u.CurrentPhase != nil {
		w.CurrentPhase = *u.CurrentPhase
	}
	if u.ActiveTasks != nil {
		w.ActiveTasks = *u.ActiveTasks
	}
	if u.Blockers != nil {
		w.Blockers = *u.Blockers
	}
	return w, s.saveWorkflow(ctx, w)
}

// AppendActiveTasks adds task ids to the project's active list, skipping
// ids already present.
func (s *Store) AppendActiveTasks(ctx context.Context, projectID string, taskIDs ...string) (*WorkflowState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.EnsureWorkflowState(ctx, projectID); err != nil {
		return nil, err
	}
	w, err := s.GetWorkflowState(ctx, projectID)
	if err != nil {
		return nil, err
	}
	seen := make(map[string]bool, len(w.ActiveTasks))
	for _, id := range w.ActiveTasks {
		seen[id] = true
	}
	for _, id := range taskIDs {
		if !seen[id] {
			w.ActiveTasks = append(w.ActiveTasks, id)
			seen[id] = true
		}
	}
	return w, s.saveWorkflow(ctx, w)
}

func (s *Store) saveWorkflow(ctx context.Context, w *WorkflowState) error {
	w.UpdatedAt = nowMillis()
	active, err := encodeJSON(w.ActiveTasks)
	if err != nil {
		return persistErr("encode active tasks", err)
	}
	_, err = s.db.ExecContext(ctx, `
		UPDATE workflow_state SET current_phase = ?, active_tasks = ?, blockers = ?, updated_at = ?
		WHERE project_id = ?`,
		string(w.CurrentPhase), active, w.Blockers, w.UpdatedAt, w.ProjectID,
	)
	if err != nil {
		return persistErr("update workflow state", err)
	}
	return nil
}
