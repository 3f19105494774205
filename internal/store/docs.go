package store

import (
	"context"
	"database/sql"
	"errors"

	"github.com/google/uuid"

	perrors "github.com/p-blackswan/bootstrap-orchestrator/internal/errors"
)

// KnowledgeDocUpdate carries the mutable doc fields; nil means unchanged.
type KnowledgeDocUpdate struct {
	Title     *string `json:"title"`
	ContentMD *string `json:"content_md"`
	Tags      *string `json:"tags"`
}

const docColumns = `id, project_id, title, content_md, tags, created_at, updated_at`

// CreateKnowledgeDoc inserts d.
func (s *Store) CreateKnowledgeDoc(ctx context.Context, d *KnowledgeDoc) error {
	if d.ID == "" {
		d.ID = uuid.New().String()
	}
	now := nowMillis()
	d.CreatedAt, d.UpdatedAt = now, now

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO knowledge_docs (`+docColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		d.ID, d.ProjectID, d.Title, d.ContentMD, d.Tags, d.CreatedAt, d.UpdatedAt,
	)
	if err != nil {
		return persistErr("create knowledge doc", err)
	}
	return nil
}

// GetKnowledgeDoc returns one doc or an ErrNotFound error.
func (s *Store) GetKnowledgeDoc(ctx context.Context, id string) (*KnowledgeDoc, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+docColumns+` FROM knowledge_docs WHERE id = ?`, id)
	d := &KnowledgeDoc{}
	err := row.Scan(&d.ID, &d.ProjectID, &d.Title, &d.ContentMD, &d.Tags, &d.CreatedAt, &d.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, perrors.NotFound("Knowledge doc")
	}
	if err != nil {
		return nil, persistErr("get knowledge doc", err)
	}
	return d, nil
}

// ListKnowledgeDocs returns the project's docs in creation order.
func (s *Store) ListKnowledgeDocs(ctx context.Context, projectID string) ([]*KnowledgeDoc, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+docColumns+` FROM knowledge_docs
		WHERE project_id = ? ORDER BY created_at, rowid`, projectID)
	if err != nil {
		return nil, persistErr("list knowledge docs", err)
	}
	defer rows.Close()

	docs := []*KnowledgeDoc{}
	for rows.Next() {
		d := &KnowledgeDoc{}
		if err := rows.Scan(&d.ID, &d.ProjectID, &d.Title, &d.ContentMD, &d.Tags, &d.CreatedAt, &d.UpdatedAt); err != nil {
			return nil, persistErr("scan knowledge doc", err)
		}
		docs = append(docs, d)
	}
	if err := rows.Err(); err != nil {
		return nil, persistErr("list knowledge docs", err)
	}
	return docs, nil
}

// UpdateKnowledgeDoc applies u and returns the stored result.
func (s *Store) UpdateKnowledgeDoc(ctx context.Context, id string, u KnowledgeDocUpdate) (*KnowledgeDoc, error) {
	d, err := s.GetKnowledgeDoc(ctx, id)
	if err != nil {
		return nil, err
	}
	if u.Title != nil {
		d.Title = *u.Title
	}
	if u.ContentMD != nil {
		d.ContentMD = *u.ContentMD
	}
	if u.Tags != nil {
		d.Tags = *u.Tags
	}
	d.UpdatedAt = nowMillis()

	_, err = s.db.ExecContext(ctx, `
		UPDATE knowledge_docs SET title = ?, content_md = ?, tags = ?, updated_at = ?
		WHERE id = ?`,
		d.Title, d.ContentMD, d.Tags, d.UpdatedAt, id,
	)
	if err != nil {
		return nil, persistErr("update knowledge doc", err)
	}
	return d, nil
}

// DeleteKnowledgeDoc removes a doc.
func (s *Store) DeleteKnowledgeDoc(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM knowledge_docs WHERE id = ?`, id)
	if err != nil {
		return persistErr("delete knowledge doc", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return perrors.NotFound("Knowledge doc")
	}
	return nil
}
