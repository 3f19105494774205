package store

import (
	"context"
	"database/sql"
	"errors"

	"github.com/google/uuid"

	perrors "github.com/p-blackswan/bootstrap-orchestrator/internal/errors"
)

// ProjectUpdate carries the mutable project fields; nil means unchanged.
type ProjectUpdate struct {
	Name        *string            `json:"name"`
	Description *string            `json:"description"`
	Type        *string            `json:"type"`
	TechStack   *map[string]string `json:"tech_stack"`
}

const projectColumns = `id, name, description, type, tech_stack, created_at, updated_at`

// CreateProject inserts p, assigning an id and timestamps when missing.
func (s *Store) CreateProject(ctx context.Context, p *Project) error {
	if p.ID == "" {
		p.ID = uuid.New().String()
	}
	now := nowMillis()
	p.CreatedAt, p.UpdatedAt = now, now
	if p.TechStack == nil {
		p.TechStack = map[string]string{}
	}
	stack, err := encodeJSON(p.TechStack)
	if err != nil {
		return persistErr("encode tech stack", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO projects (`+projectColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		p.ID, p.Name, p.Description, p.Type, stack, p.CreatedAt, p.UpdatedAt,
	)
	if err != nil {
		return persistErr("create project", err)
	}
	return nil
}

// GetProject returns the project or an ErrNotFound error.
func (s *Store) GetProject(ctx context.Context, id string) (*Project, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+projectColumns+` FROM projects WHERE id = ?`, id)
	p, err := scanProject(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, perrors.NotFound("Project")
	}
	if err != nil {
		return nil, persistErr("get project", err)
	}
	return p, nil
}

// ListProjects returns every project, newest first.
func (s *Store) ListProjects(ctx context.Context) ([]*Project, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+projectColumns+` FROM projects ORDER BY created_at DESC, id`)
	if err != nil {
		return nil, persistErr("list projects", err)
	}
	defer rows.Close()

	projects := []*Project{}
	for rows.Next() {
		p, err := scanProject(rows)
		if err != nil {
			return nil, persistErr("scan project", err)
		}
		projects = append(projects, p)
	}
	if err := rows.Err(); err != nil {
		return nil, persistErr("list projects", err)
	}
	return projects, nil
}

// UpdateProject applies u and returns the stored result.
func (s *Store) UpdateProject(ctx context.Context, id string, u ProjectUpdate) (*Project, error) {
	p, err := s.GetProject(ctx, id)
	if err != nil {
		return nil, err
	}
	if u.Name != nil {
		p.Name = *u.Name
	}
	if u.Description != nil {
		p.Description = *u.Description
	}
	if u.Type != nil {
		p.Type = *u.Type
	}
	if u.TechStack != nil {
		p.TechStack = *u.TechStack
	}
	p.UpdatedAt = nowMillis()

	stack, err := encodeJSON(p.TechStack)
	if err != nil {
		return nil, persistErr("encode tech stack", err)
	}
	_, err = s.db.ExecContext(ctx, `
		UPDATE projects SET name = ?, description = ?, type = ?, tech_stack = ?, updated_at = ?
		WHERE id = ?`,
		p.Name, p.Description, p.Type, stack, p.UpdatedAt, id,
	)
	if err != nil {
		return nil, persistErr("update project", err)
	}
	return p, nil
}

// DeleteProject removes a project and, by cascade, everything it owns.
func (s *Store) DeleteProject(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM projects WHERE id = ?`, id)
	if err != nil {
		return persistErr("delete project", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return perrors.NotFound("Project")
	}
	return nil
}

func scanProject(row rowScanner) (*Project, error) {
	p := &Project{}
	var stack string
	if err := row.Scan(&p.ID, &p.Name, &p.Description, &p.Type, &stack, &p.CreatedAt, &p.UpdatedAt); err != nil {
		return nil, err
	}
	p.TechStack = decodeStringMap(stack)
	return p, nil
}
