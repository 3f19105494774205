package store

import (
	"context"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	perrors "github.com/p-blackswan/bootstrap-orchestrator/internal/errors"
)

func setupTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(":memory:", zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func createTestProject(t *testing.T, s *Store) *Project {
	t.Helper()
	p := &Project{Name: "Fireswarm", Description: "drone swarm", Type: "robotics",
		TechStack: map[string]string{"@backend": "python"}}
	require.NoError(t, s.CreateProject(context.Background(), p))
	return p
}

func TestNew_CreatesSchema(t *testing.T) {
	s := setupTestStore(t)

	tables := []string{"meta", "projects", "tasks", "knowledge_files", "workflow_state",
		"knowledge_docs", "orchestration_sessions"}
	for _, table := range tables {
		var count int
		err := s.db.QueryRow("SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name=?", table).Scan(&count)
		require.NoError(t, err)
		assert.Equal(t, 1, count, "table %s should exist", table)
	}
	assert.Equal(t, 3, s.schemaVersion())
	assert.NoError(t, s.Ping(context.Background()))
}

func TestMigrate_Idempotent(t *testing.T) {
	s := setupTestStore(t)
	require.NoError(t, s.migrate())
	assert.Equal(t, 3, s.schemaVersion())
}

func TestProject_CRUD(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()
	p := createTestProject(t, s)
	assert.NotEmpty(t, p.ID)
	assert.NotZero(t, p.CreatedAt)

	got, err := s.GetProject(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, "Fireswarm", got.Name)
	assert.Equal(t, "python", got.TechStack["@backend"])

	name := "Fireswarm v2"
	updated, err := s.UpdateProject(ctx, p.ID, ProjectUpdate{Name: &name})
	require.NoError(t, err)
	assert.Equal(t, "Fireswarm v2", updated.Name)
	assert.Equal(t, "drone swarm", updated.Description)

	list, err := s.ListProjects(ctx)
	require.NoError(t, err)
	assert.Len(t, list, 1)

	require.NoError(t, s.DeleteProject(ctx, p.ID))
	_, err = s.GetProject(ctx, p.ID)
	assert.ErrorIs(t, err, perrors.ErrNotFound)
	assert.ErrorIs(t, s.DeleteProject(ctx, p.ID), perrors.ErrNotFound)
}

func TestProject_DeleteCascades(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()
	p := createTestProject(t, s)

	task := &Task{ProjectID: p.ID, Title: "t"}
	require.NoError(t, s.CreateTask(ctx, task))
	_, err := s.UpsertKnowledgeFile(ctx, p.ID, KnowledgeProjectMap, "map")
	require.NoError(t, err)
	require.NoError(t, s.EnsureWorkflowState(ctx, p.ID))
	sess := &Session{ProjectID: p.ID, Status: SessionWaitingForUser, Goal: "g", RepoURLs: []string{"o/r"}}
	require.NoError(t, s.CreateSession(ctx, sess))

	require.NoError(t, s.DeleteProject(ctx, p.ID))

	_, err = s.GetTask(ctx, task.ID)
	assert.ErrorIs(t, err, perrors.ErrNotFound)
	_, err = s.GetWorkflowState(ctx, p.ID)
	assert.ErrorIs(t, err, perrors.ErrNotFound)

	kept, err := s.GetSession(ctx, sess.ID)
	require.NoError(t, err, "sessions outlive their project")
	assert.Empty(t, kept.ProjectID)
}

func TestTask_CRUD(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()
	p := createTestProject(t, s)

	task := &Task{ProjectID: p.ID, Title: "Build UI Shell", AssignedTo: "@frontend",
		AllowedPaths: []string{"src/components/*"}, Priority: PriorityHigh}
	require.NoError(t, s.CreateTask(ctx, task))
	assert.Equal(t, TaskReady, task.Status)

	got, err := s.GetTask(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"src/components/*"}, got.AllowedPaths)
	assert.Equal(t, PriorityHigh, got.Priority)

	require.NoError(t, s.UpdateTaskStatus(ctx, task.ID, TaskBlocked))
	got, err = s.GetTask(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, TaskBlocked, got.Status)

	done := TaskDone
	paths := []string{}
	updated, err := s.UpdateTask(ctx, task.ID, TaskUpdate{Status: &done, AllowedPaths: &paths})
	require.NoError(t, err)
	assert.Equal(t, TaskDone, updated.Status)
	assert.Empty(t, updated.AllowedPaths)
	assert.Equal(t, "Build UI Shell", updated.Title)

	assert.ErrorIs(t, s.UpdateTaskStatus(ctx, "missing", TaskDone), perrors.ErrNotFound)
	require.NoError(t, s.DeleteTask(ctx, task.ID))
	assert.ErrorIs(t, s.DeleteTask(ctx, task.ID), perrors.ErrNotFound)
}

func TestTask_ListOrdering(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()
	p := createTestProject(t, s)

	for _, tk := range []*Task{
		{ProjectID: p.ID, Title: "d", Status: TaskDone},
		{ProjectID: p.ID, Title: "b", Status: TaskReady},
		{ProjectID: p.ID, Title: "c", Status: TaskBlocked},
		{ProjectID: p.ID, Title: "a", Status: TaskReady},
		{ProjectID: p.ID, Title: "e", Status: TaskInProgress},
	} {
		require.NoError(t, s.CreateTask(ctx, tk))
	}

	tasks, err := s.ListTasksByProject(ctx, p.ID)
	require.NoError(t, err)
	var titles []string
	for _, tk := range tasks {
		titles = append(titles, tk.Title)
	}
	assert.Equal(t, []string{"a", "b", "e", "c", "d"}, titles)

	empty, err := s.ListTasksByProject(ctx, "other")
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestTask_UnknownProjectFails(t *testing.T) {
	s := setupTestStore(t)
	err := s.CreateTask(context.Background(), &Task{ProjectID: "nope", Title: "x"})
	assert.ErrorIs(t, err, perrors.ErrPersistence)
}

func TestKnowledgeFile_UpsertVersions(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()
	p := createTestProject(t, s)

	f, err := s.UpsertKnowledgeFile(ctx, p.ID, KnowledgeChangePatterns, "v1")
	require.NoError(t, err)
	assert.Equal(t, 1, f.Version)

	f, err = s.UpsertKnowledgeFile(ctx, p.ID, KnowledgeChangePatterns, "v2")
	require.NoError(t, err)
	assert.Equal(t, 2, f.Version)
	assert.Equal(t, "v2", f.Content)

	_, err = s.UpsertKnowledgeFile(ctx, p.ID, KnowledgeAgentsConfig, "## @hardware")
	require.NoError(t, err)

	files, err := s.ListKnowledgeFiles(ctx, p.ID)
	require.NoError(t, err)
	assert.Len(t, files, 2, "one row per (project, type)")

	_, err = s.GetKnowledgeFile(ctx, p.ID, KnowledgeProjectMap)
	assert.ErrorIs(t, err, perrors.ErrNotFound)
}

func TestKnowledgeDoc_CRUD(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()
	p := createTestProject(t, s)

	first := &KnowledgeDoc{ProjectID: p.ID, Title: "Strategy", ContentMD: "# S", Tags: "strategy"}
	second := &KnowledgeDoc{ProjectID: p.ID, Title: "Hardware", ContentMD: "# H", Tags: "hardware"}
	require.NoError(t, s.CreateKnowledgeDoc(ctx, first))
	require.NoError(t, s.CreateKnowledgeDoc(ctx, second))

	docs, err := s.ListKnowledgeDocs(ctx, p.ID)
	require.NoError(t, err)
	require.Len(t, docs, 2)
	assert.Equal(t, "Strategy", docs[0].Title)

	tags := "strategy,overview"
	d, err := s.UpdateKnowledgeDoc(ctx, first.ID, KnowledgeDocUpdate{Tags: &tags})
	require.NoError(t, err)
	assert.Equal(t, "strategy,overview", d.Tags)
	assert.Equal(t, "# S", d.ContentMD)

	require.NoError(t, s.DeleteKnowledgeDoc(ctx, second.ID))
	_, err = s.GetKnowledgeDoc(ctx, second.ID)
	assert.ErrorIs(t, err, perrors.ErrNotFound)
}

func TestWorkflowState(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()
	p := createTestProject(t, s)

	require.NoError(t, s.EnsureWorkflowState(ctx, p.ID))
	require.NoError(t, s.EnsureWorkflowState(ctx, p.ID))

	w, err := s.GetWorkflowState(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, PhaseBlueprint, w.CurrentPhase)
	assert.Empty(t, w.ActiveTasks)

	w, err = s.AppendActiveTasks(ctx, p.ID, "t1", "t2")
	require.NoError(t, err)
	w, err = s.AppendActiveTasks(ctx, p.ID, "t2", "t3")
	require.NoError(t, err)
	assert.Equal(t, []string{"t1", "t2", "t3"}, w.ActiveTasks)

	phase := PhaseConstruct
	blockers := "waiting on hardware"
	w, err = s.UpdateWorkflowState(ctx, p.ID, WorkflowUpdate{CurrentPhase: &phase, Blockers: &blockers})
	require.NoError(t, err)
	assert.Equal(t, PhaseConstruct, w.CurrentPhase)
	assert.Equal(t, []string{"t1", "t2", "t3"}, w.ActiveTasks)

	again, err := s.GetWorkflowState(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, "waiting on hardware", again.Blockers)
}

func TestSession_Lifecycle(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	sess := &Session{
		Status:       SessionWaitingForUser,
		Goal:         "ship it",
		RepoURLs:     []string{"https://github.com/o/a", "https://github.com/o/b"},
		RepoMetadata: []byte(`[{"name":"a"}]`),
		Analysis:     []byte(`{"questions":[]}`),
	}
	require.NoError(t, s.CreateSession(ctx, sess))

	got, err := s.GetSession(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, SessionWaitingForUser, got.Status)
	assert.Empty(t, got.ProjectID)
	assert.Equal(t, sess.RepoURLs, got.RepoURLs)
	assert.JSONEq(t, `[{"name":"a"}]`, string(got.RepoMetadata))
	assert.Nil(t, got.Plan)

	var githubURL string
	require.NoError(t, s.db.QueryRow(`SELECT github_url FROM orchestration_sessions WHERE id = ?`, sess.ID).Scan(&githubURL))
	assert.Equal(t, "https://github.com/o/a", githubURL)

	ok, err := s.CompleteSession(ctx, sess.ID, []byte(`{"answers":{}}`), []byte(`{"phases":[]}`))
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = s.CompleteSession(ctx, sess.ID, []byte(`{"answers":{"x":"y"}}`), []byte(`{}`))
	require.NoError(t, err)
	assert.False(t, ok, "completed sessions are not rewritten")

	got, err = s.GetSession(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, SessionPlanningComplete, got.Status)
	assert.JSONEq(t, `{"answers":{}}`, string(got.QAHistory))

	_, err = s.GetSession(ctx, "missing")
	assert.ErrorIs(t, err, perrors.ErrNotFound)
}

func TestSession_ListByProject(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()
	p := createTestProject(t, s)

	for i := 0; i < 2; i++ {
		require.NoError(t, s.CreateSession(ctx, &Session{ProjectID: p.ID, Status: SessionWaitingForUser, Goal: "g"}))
	}
	sessions, err := s.ListSessionsByProject(ctx, p.ID)
	require.NoError(t, err)
	assert.Len(t, sessions, 2)
}

func TestEnumValidation(t *testing.T) {
	assert.True(t, TaskInProgress.Valid())
	assert.False(t, TaskStatus("CANCELLED").Valid())
	assert.True(t, PriorityNone.Valid())
	assert.False(t, Priority("URGENT").Valid())
	assert.True(t, PhaseDeploy.Valid())
	assert.False(t, Phase("SHIP").Valid())
	assert.True(t, KnowledgeMCPConfig.Valid())
	assert.False(t, KnowledgeType("README").Valid())
}
