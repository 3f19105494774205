package store

import (
	"context"
	"database/sql"
	"errors"

	"github.com/google/uuid"

	perrors "github.com/p-blackswan/bootstrap-orchestrator/internal/errors"
)

const sessionColumns = `id, project_id, status, goal, repo_urls, repo_metadata, analysis_json, qa_history, final_plan, created_at, updated_at`

// CreateSession inserts a new orchestration session.
func (s *Store) CreateSession(ctx context.Context, sess *Session) error {
	if sess.ID == "" {
		sess.ID = uuid.New().String()
	}
	now := nowMillis()
	sess.CreatedAt, sess.UpdatedAt = now, now

	urls, err := encodeJSON(sess.RepoURLs)
	if err != nil {
		return persistErr("encode repo urls", err)
	}
	var firstURL string
	if len(sess.RepoURLs) > 0 {
		firstURL = sess.RepoURLs[0]
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO orchestration_sessions (
			id, project_id, status, goal, repo_urls, github_url,
			repo_metadata, analysis_json, qa_history, final_plan, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		sess.ID, nullString(sess.ProjectID), string(sess.Status), sess.Goal, urls, firstURL,
		nullBytes(sess.RepoMetadata), nullBytes(sess.Analysis), nullBytes(sess.QAHistory), nullBytes(sess.Plan),
		sess.CreatedAt, sess.UpdatedAt,
	)
	if err != nil {
		return persistErr("create session", err)
	}
	return nil
}

// GetSession returns the session or an ErrNotFound error.
func (s *Store) GetSession(ctx context.Context, id string) (*Session, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+sessionColumns+` FROM orchestration_sessions WHERE id = ?`, id)

	sess := &Session{}
	var projectID, meta, analysis, qa, plan sql.NullString
	var status, urls string
	err := row.Scan(&sess.ID, &projectID, &status, &sess.Goal, &urls, &meta, &analysis, &qa, &plan,
		&sess.CreatedAt, &sess.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, perrors.NotFound("Session")
	}
	if err != nil {
		return nil, persistErr("get session", err)
	}
	sess.ProjectID = projectID.String
	sess.Status = SessionStatus(status)
	sess.RepoURLs = decodeStrings(urls)
	sess.RepoMetadata = rawBytes(meta)
	sess.Analysis = rawBytes(analysis)
	sess.QAHistory = rawBytes(qa)
	sess.Plan = rawBytes(plan)
	return sess, nil
}

// CompleteSession records answers and plan and moves a waiting session to
// planning_complete. A session that already left waiting_for_user is
// left untouched and reported as not updated.
func (s *Store) CompleteSession(ctx context.Context, id string, qaHistory, plan []byte) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE orchestration_sessions
		SET status = ?, qa_history = ?, final_plan = ?, updated_at = ?
		WHERE id = ? AND status = ?`,
		string(SessionPlanningComplete), nullBytes(qaHistory), nullBytes(plan), nowMillis(),
		id, string(SessionWaitingForUser),
	)
	if err != nil {
		return false, persistErr("complete session", err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// ListSessionsByProject returns a project's sessions, newest first.
func (s *Store) ListSessionsByProject(ctx context.Context, projectID string) ([]*Session, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, status, goal, created_at, updated_at FROM orchestration_sessions
		WHERE project_id = ? ORDER BY created_at DESC, rowid DESC`, projectID)
	if err != nil {
		return nil, persistErr("list sessions", err)
	}
	defer rows.Close()

	sessions := []*Session{}
	for rows.Next() {
		sess := &Session{ProjectID: projectID}
		var status string
		if err := rows.Scan(&sess.ID, &status, &sess.Goal, &sess.CreatedAt, &sess.UpdatedAt); err != nil {
			return nil, persistErr("scan session", err)
		}
		sess.Status = SessionStatus(status)
		sessions = append(sessions, sess)
	}
	if err := rows.Err(); err != nil {
		return nil, persistErr("list sessions", err)
	}
	return sessions, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullBytes(b []byte) sql.NullString {
	return sql.NullString{String: string(b), Valid: len(b) > 0}
}

func rawBytes(ns sql.NullString) []byte {
	if !ns.Valid || ns.String == "" {
		return nil
	}
	return []byte(ns.String)
}
