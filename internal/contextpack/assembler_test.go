package contextpack

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	perrors "github.com/p-blackswan/bootstrap-orchestrator/internal/errors"
	"github.com/p-blackswan/bootstrap-orchestrator/internal/metrics"
	"github.com/p-blackswan/bootstrap-orchestrator/internal/store"
)

func setupStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.New(":memory:", zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func createProject(t *testing.T, s *store.Store) *store.Project {
	t.Helper()
	p := &store.Project{Name: "Fireswarm", Type: "robotics",
		TechStack: map[string]string{"@backend": "python", "@ml": "torch"}}
	require.NoError(t, s.CreateProject(context.Background(), p))
	return p
}

func createTask(t *testing.T, s *store.Store, projectID, assignee string, paths []string) *store.Task {
	t.Helper()
	task := &store.Task{ProjectID: projectID, Title: "Wire telemetry", AssignedTo: assignee, AllowedPaths: paths}
	require.NoError(t, s.CreateTask(context.Background(), task))
	return task
}

func TestBuild_FallbacksForEmptyKnowledge(t *testing.T) {
	s := setupStore(t)
	p := createProject(t, s)
	task := createTask(t, s, p.ID, "", nil)

	pack, err := New(s, metrics.New(), zerolog.Nop()).Build(context.Background(), p.ID, task.ID, "")
	require.NoError(t, err)

	assert.Equal(t, DefaultRole, pack.Role)
	assert.Equal(t, "Context pack for task "+task.ID+" generated successfully.", pack.Message)
	assert.Equal(t, task.ID, pack.Task.ID)
	assert.Equal(t, store.TaskReady, pack.Task.Status)

	body := pack.ContextPack
	assert.Contains(t, body, "# CONTEXT PACK FOR AGENT: @backend")
	assert.Contains(t, body, "No description provided.")
	assert.Contains(t, body, "- No restrictions (all files allowed)")
	for _, s := range packSections {
		assert.Contains(t, body, s.Heading)
		assert.Contains(t, body, s.Fallback)
	}
}

func TestBuild_SectionOrderAndContent(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()
	p := createProject(t, s)
	task := createTask(t, s, p.ID, "@frontend", []string{"src/ui/**", "src/theme.ts"})

	_, err := s.UpsertKnowledgeFile(ctx, p.ID, store.KnowledgeChangePatterns, "Use hooks, never classes.")
	require.NoError(t, err)
	_, err = s.UpsertKnowledgeFile(ctx, p.ID, store.KnowledgeProjectMap, "   \n")
	require.NoError(t, err)

	pack, err := New(s, nil, zerolog.Nop()).Build(ctx, p.ID, task.ID, "")
	require.NoError(t, err)
	body := pack.ContextPack

	assert.Equal(t, "@frontend", pack.Role)
	assert.Contains(t, body, "- `src/ui/**`\n- `src/theme.ts`\n")
	assert.NotContains(t, body, "No restrictions")
	assert.Contains(t, body, "### 1. Change Patterns (How-To Guide)\n\nUse hooks, never classes.")
	assert.Contains(t, body, "### 4. Full Project Map (Reference)")
	assert.Contains(t, body, packSections[3].Fallback, "blank content falls back")

	idx := func(s string) int { return strings.Index(body, s) }
	assert.Less(t, idx("Change Patterns"), idx("Component Summaries"))
	assert.Less(t, idx("Component Summaries"), idx("File Dependencies"))
	assert.Less(t, idx("File Dependencies"), idx("Full Project Map"))
}

func TestBuild_RoleOverride(t *testing.T) {
	s := setupStore(t)
	p := createProject(t, s)
	task := createTask(t, s, p.ID, "@frontend", nil)

	pack, err := New(s, nil, zerolog.Nop()).Build(context.Background(), p.ID, task.ID, "@qa")
	require.NoError(t, err)
	assert.Equal(t, "@qa", pack.Role)
	assert.Equal(t, "@frontend", pack.Task.AssignedTo)
	assert.Contains(t, pack.ContextPack, "AGENT: @qa")
}

func TestBuild_Errors(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()
	p := createProject(t, s)
	other := &store.Project{Name: "Other"}
	require.NoError(t, s.CreateProject(ctx, other))
	foreign := createTask(t, s, other.ID, "", nil)
	a := New(s, nil, zerolog.Nop())

	_, err := a.Build(ctx, "", "t", "")
	assert.True(t, errors.Is(err, perrors.ErrInvalidInput))

	_, err = a.Build(ctx, "missing", foreign.ID, "")
	assert.True(t, errors.Is(err, perrors.ErrNotFound))

	_, err = a.Build(ctx, p.ID, foreign.ID, "")
	require.Error(t, err)
	assert.True(t, errors.Is(err, perrors.ErrNotFound))
	assert.Equal(t, "Task not found", perrors.Message(err))
}

func TestBuildOrchestratorPrompt_Fallbacks(t *testing.T) {
	s := setupStore(t)
	p := createProject(t, s)

	prompt, err := New(s, nil, zerolog.Nop()).BuildOrchestratorPrompt(context.Background(), p.ID)
	require.NoError(t, err)

	assert.Equal(t, `Sub-Orchestrator prompt for "Fireswarm" is ready.`, prompt.Message)
	assert.Equal(t, ProjectRef{ID: p.ID, Name: "Fireswarm", Type: "robotics"}, prompt.Project)

	body := prompt.OrchestratorPrompt
	assert.Contains(t, body, "# You are the SUB-ORCHESTRATOR for: Fireswarm")
	assert.Contains(t, body, "* **Description:** No description provided")
	assert.Contains(t, body, "* **Phase:** BLUEPRINT")
	assert.Contains(t, body, "* **Active Tasks:** 0 task(s) in progress")
	assert.Contains(t, body, "{\n  \"@backend\": \"python\",\n  \"@ml\": \"torch\"\n}")
	for _, s := range promptSections {
		assert.Contains(t, body, s.Fallback)
	}
}

func TestBuildOrchestratorPrompt_WorkflowState(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()
	p := createProject(t, s)
	require.NoError(t, s.EnsureWorkflowState(ctx, p.ID))
	phase := store.PhaseConstruct
	_, err := s.UpdateWorkflowState(ctx, p.ID, store.WorkflowUpdate{CurrentPhase: &phase})
	require.NoError(t, err)
	_, err = s.AppendActiveTasks(ctx, p.ID, "t1", "t2")
	require.NoError(t, err)
	_, err = s.UpsertKnowledgeFile(ctx, p.ID, store.KnowledgeProjectMap, "cmd/ -> binaries")
	require.NoError(t, err)

	prompt, err := New(s, nil, zerolog.Nop()).BuildOrchestratorPrompt(ctx, p.ID)
	require.NoError(t, err)
	body := prompt.OrchestratorPrompt

	assert.Contains(t, body, "* **Phase:** CONSTRUCT")
	assert.Contains(t, body, "* **Active Tasks:** 2 task(s) in progress")
	assert.Contains(t, body, "### 1. Project Map\n\ncmd/ -> binaries")
}

func TestBuildOrchestratorPrompt_UnknownProject(t *testing.T) {
	s := setupStore(t)
	_, err := New(s, nil, zerolog.Nop()).BuildOrchestratorPrompt(context.Background(), "nope")
	assert.True(t, errors.Is(err, perrors.ErrNotFound))

	_, err = New(s, nil, zerolog.Nop()).BuildOrchestratorPrompt(context.Background(), " ")
	assert.True(t, errors.Is(err, perrors.ErrInvalidInput))
}
