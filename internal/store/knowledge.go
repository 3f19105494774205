package store

import (
	"context"
	"database/sql"
	"errors"

	"github.com/google/uuid"

	perrors "github.com/p-blackswan/bootstrap-orchestrator/internal/errors"
)

// UpsertKnowledgeFile stores content for (projectID, fileType). The first
// write creates version 1; every later write bumps the version.
func (s *Store) UpsertKnowledgeFile(ctx context.Context, projectID string, fileType KnowledgeType, content string) (*KnowledgeFile, error) {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO knowledge_files (id, project_id, file_type, content, version, updated_at)
		VALUES (?, ?, ?, ?, 1, ?)
		ON CONFLICT(project_id, file_type) DO UPDATE SET
			content = excluded.content,
			version = knowledge_files.version + 1,
			updated_at = excluded.updated_at`,
		uuid.New().String(), projectID, string(fileType), content, nowMillis(),
	)
	if err != nil {
		return nil, persistErr("upsert knowledge file", err)
	}
	return s.GetKnowledgeFile(ctx, projectID, fileType)
}

// GetKnowledgeFile returns one file or an ErrNotFound error.
func (s *Store) GetKnowledgeFile(ctx context.Context, projectID string, fileType KnowledgeType) (*KnowledgeFile, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, project_id, file_type, content, version, updated_at
		FROM knowledge_files WHERE project_id = ? AND file_type = ?`,
		projectID, string(fileType))
	f, err := scanKnowledgeFile(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, perrors.NotFound("Knowledge file")
	}
	if err != nil {
		return nil, persistErr("get knowledge file", err)
	}
	return f, nil
}

// ListKnowledgeFiles returns every stored file of a project keyed by type.
func (s *Store) ListKnowledgeFiles(ctx context.Context, projectID string) (map[KnowledgeType]*KnowledgeFile, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, project_id, file_type, content, version, updated_at
		FROM knowledge_files WHERE project_id = ?`, projectID)
	if err != nil {
		return nil, persistErr("list knowledge files", err)
	}
	defer rows.Close()

	files := make(map[KnowledgeType]*KnowledgeFile)
	for rows.Next() {
		f, err := scanKnowledgeFile(rows)
		if err != nil {
			return nil, persistErr("scan knowledge file", err)
		}
		files[f.FileType] = f
	}
	if err := rows.Err(); err != nil {
		return nil, persistErr("list knowledge files", err)
	}
	return files, nil
}

func scanKnowledgeFile(row rowScanner) (*KnowledgeFile, error) {
	f := &KnowledgeFile{}
	var fileType string
	if err := row.Scan(&f.ID, &f.ProjectID, &fileType, &f.Content, &f.Version, &f.UpdatedAt); err != nil {
		return nil, err
	}
	f.FileType = KnowledgeType(fileType)
	return f, nil
}
