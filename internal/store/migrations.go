package store

import (
	"fmt"
	"strconv"
)

func (s *Store) migrate() error {
	steps := []func() error{s.migrateV1, s.migrateV2, s.migrateV3}
	for i, step := range steps {
		if s.schemaVersion() >= i+1 {
			continue
		}
		if err := step(); err != nil {
			return err
		}
	}
	return nil
}

// schemaVersion returns the recorded version, 0 on a fresh database.
func (s *Store) schemaVersion() int {
	var raw string
	if err := s.db.QueryRow(`SELECT value FROM meta WHERE key = 'schema_version'`).Scan(&raw); err != nil {
		return 0
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0
	}
	return v
}

// migrateV1 creates the project workspace tables.
func (s *Store) migrateV1() error {
	schema := `
	CREATE TABLE IF NOT EXISTS meta (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS projects (
		id          TEXT PRIMARY KEY,
		name        TEXT NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		type        TEXT NOT NULL DEFAULT '',
		tech_stack  TEXT NOT NULL DEFAULT '{}',
		created_at  INTEGER NOT NULL,
		updated_at  INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS tasks (
		id            TEXT PRIMARY KEY,
		project_id    TEXT NOT NULL REFERENCES projects(id) ON DELETE CASCADE,
		title         TEXT NOT NULL,
		description   TEXT NOT NULL DEFAULT '',
		status        TEXT NOT NULL DEFAULT 'READY',
		assigned_to   TEXT NOT NULL DEFAULT '',
		allowed_paths TEXT NOT NULL DEFAULT '[]',
		created_at    INTEGER NOT NULL,
		updated_at    INTEGER NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_tasks_project ON tasks(project_id);

	CREATE TABLE IF NOT EXISTS knowledge_files (
		id         TEXT PRIMARY KEY,
		project_id TEXT NOT NULL REFERENCES projects(id) ON DELETE CASCADE,
		file_type  TEXT NOT NULL,
		content    TEXT NOT NULL DEFAULT '',
		version    INTEGER NOT NULL DEFAULT 1,
		updated_at INTEGER NOT NULL,
		UNIQUE(project_id, file_type)
	);

	CREATE TABLE IF NOT EXISTS workflow_state (
		id            TEXT PRIMARY KEY,
		project_id    TEXT NOT NULL UNIQUE REFERENCES projects(id) ON DELETE CASCADE,
		current_phase TEXT NOT NULL DEFAULT 'BLUEPRINT',
		active_tasks  TEXT NOT NULL DEFAULT '[]',
		blockers      TEXT NOT NULL DEFAULT '',
		updated_at    INTEGER NOT NULL
	);

	INSERT OR REPLACE INTO meta(key, value) VALUES ('schema_version', '1');
	`
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("failed to execute migration v1: %w", err)
	}
	return nil
}

// migrateV2 adds knowledge documents and orchestration sessions.
func (s *Store) migrateV2() error {
	schema := `
	CREATE TABLE IF NOT EXISTS knowledge_docs (
		id         TEXT PRIMARY KEY,
		project_id TEXT NOT NULL REFERENCES projects(id) ON DELETE CASCADE,
		title      TEXT NOT NULL,
		content_md TEXT NOT NULL DEFAULT '',
		tags       TEXT NOT NULL DEFAULT '',
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_knowledge_docs_project ON knowledge_docs(project_id);

	CREATE TABLE IF NOT EXISTS orchestration_sessions (
		id            TEXT PRIMARY KEY,
		project_id    TEXT REFERENCES projects(id) ON DELETE SET NULL,
		status        TEXT NOT NULL,
		goal          TEXT NOT NULL,
		repo_urls     TEXT NOT NULL DEFAULT '[]',
		github_url    TEXT NOT NULL DEFAULT '',
		repo_metadata TEXT,
		analysis_json TEXT,
		qa_history    TEXT,
		final_plan    TEXT,
		created_at    INTEGER NOT NULL,
		updated_at    INTEGER NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_sessions_project ON orchestration_sessions(project_id);

	INSERT OR REPLACE INTO meta(key, value) VALUES ('schema_version', '2');
	`
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("failed to execute migration v2: %w", err)
	}
	return nil
}

// migrateV3 adds task priority for template bootstraps.
func (s *Store) migrateV3() error {
	schema := `
	ALTER TABLE tasks ADD COLUMN priority TEXT NOT NULL DEFAULT '';

	CREATE INDEX IF NOT EXISTS idx_tasks_project_status ON tasks(project_id, status);

	INSERT OR REPLACE INTO meta(key, value) VALUES ('schema_version', '3');
	`
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("failed to execute migration v3: %w", err)
	}
	return nil
}
