package api

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/p-blackswan/bootstrap-orchestrator/internal/besteffort"
	"github.com/p-blackswan/bootstrap-orchestrator/internal/contextpack"
	"github.com/p-blackswan/bootstrap-orchestrator/internal/health"
	"github.com/p-blackswan/bootstrap-orchestrator/internal/metrics"
	"github.com/p-blackswan/bootstrap-orchestrator/internal/orchestrator"
	"github.com/p-blackswan/bootstrap-orchestrator/internal/plan"
	"github.com/p-blackswan/bootstrap-orchestrator/internal/probe"
	"github.com/p-blackswan/bootstrap-orchestrator/internal/skills"
	"github.com/p-blackswan/bootstrap-orchestrator/internal/store"
)

type testEnv struct {
	app    *fiber.App
	store  *store.Store
	writer *besteffort.Writer
}

func cannedProber() probe.Prober {
	return probe.Func(func(_ context.Context, ref string) probe.Snapshot {
		if ref == "https://x/owner/repo" {
			return probe.Snapshot{
				Ref: ref, Success: true, Name: "repo", Owner: "owner",
				Files:  []string{"requirements.txt"},
				Config: "torch==2.2", ConfigFileName: "requirements.txt",
			}
		}
		return probe.Failed(ref, "Repository not found")
	})
}

func newTestEnv(t *testing.T, cfg Config) *testEnv {
	t.Helper()
	logger := zerolog.Nop()
	st, err := store.New(":memory:", logger)
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	m := metrics.New()
	w := besteffort.New(logger, m)
	det, err := skills.New()
	require.NoError(t, err)
	catalog, err := plan.DefaultCatalog()
	require.NoError(t, err)
	mat := plan.NewMaterializer(st, catalog, w, m, plan.Config{DefaultSprint: "fireswarm_phase0"}, logger)
	svc := orchestrator.NewService(orchestrator.Options{
		Store:        st,
		Prober:       cannedProber(),
		Detective:    det,
		Materializer: mat,
		Writer:       w,
		Metrics:      m,
		Logger:       logger,
	})
	checker := health.NewChecker(logger)
	checker.Register("store", health.PingCheck(st))

	srv := NewServer(cfg, Deps{
		Store:        st,
		Orchestrator: svc,
		Materializer: mat,
		Assembler:    contextpack.New(st, m, logger),
		Checker:      checker,
		Writer:       w,
		Metrics:      m,
	}, logger)
	t.Cleanup(func() { srv.limiter.stop() })
	return &testEnv{app: srv.App(), store: st, writer: w}
}

func (e *testEnv) do(t *testing.T, method, path, body string) (*http.Response, map[string]any) {
	t.Helper()
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req, _ := http.NewRequest(method, path, r)
	req.Header.Set("Content-Type", "application/json")
	resp, err := e.app.Test(req, -1)
	require.NoError(t, err)

	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	var out map[string]any
	if len(raw) > 0 && raw[0] == '{' {
		require.NoError(t, json.Unmarshal(raw, &out), string(raw))
	}
	return resp, out
}

func (e *testEnv) project(t *testing.T) string {
	t.Helper()
	resp, body := e.do(t, "POST", "/api/projects", `{"name":"  Fireswarm ","type":"robotics"}`)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.Equal(t, "Fireswarm", body["name"])
	e.writer.Wait()
	return body["id"].(string)
}

func TestServer_Probes(t *testing.T) {
	env := newTestEnv(t, Config{})

	resp, body := env.do(t, "GET", "/healthz", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ok", body["status"])

	resp, _ = env.do(t, "GET", "/readyz", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, _ = env.do(t, "GET", "/metrics", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestServer_RequestIDEchoed(t *testing.T) {
	env := newTestEnv(t, Config{})

	resp, _ := env.do(t, "GET", "/healthz", "")
	assert.NotEmpty(t, resp.Header.Get("X-Request-ID"))
}

func TestServer_UnknownRoute(t *testing.T) {
	env := newTestEnv(t, Config{})

	resp, body := env.do(t, "GET", "/api/nope", "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, "Route GET /api/nope not found", body["error"])
}

func TestServer_MalformedJSON(t *testing.T) {
	env := newTestEnv(t, Config{})

	resp, body := env.do(t, "POST", "/api/projects", `{"name":`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "Invalid JSON in request body", body["error"])
	assert.NotContains(t, body, "stack")
}

func TestServer_StackOnlyInDevelopment(t *testing.T) {
	env := newTestEnv(t, Config{Development: true})

	_, body := env.do(t, "POST", "/api/projects", `{}`)
	assert.Equal(t, "Missing required fields: name", body["error"])
	assert.Contains(t, body, "stack")
}

func TestServer_ProjectLifecycle(t *testing.T) {
	env := newTestEnv(t, Config{})
	id := env.project(t)

	resp, body := env.do(t, "GET", "/api/workflow/"+id, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "BLUEPRINT", body["current_phase"])

	resp, body = env.do(t, "PUT", "/api/projects/"+id, `{"description":"drones"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "drones", body["description"])
	assert.Equal(t, "Fireswarm", body["name"])

	resp, body = env.do(t, "DELETE", "/api/projects/"+id, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "Project and all associated data deleted successfully", body["message"])

	resp, body = env.do(t, "GET", "/api/projects/"+id, "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, "Project not found", body["error"])
}

func TestServer_TaskValidation(t *testing.T) {
	env := newTestEnv(t, Config{})
	id := env.project(t)

	resp, body := env.do(t, "POST", "/api/tasks", `{"title":"  "}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "Missing required fields: project_id, title", body["error"])

	resp, body = env.do(t, "POST", "/api/tasks", `{"project_id":"`+id+`","title":"x","status":"LATER"}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Contains(t, body["error"], "Invalid status")

	resp, _ = env.do(t, "POST", "/api/tasks", `{"project_id":"missing","title":"x"}`)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, body = env.do(t, "POST", "/api/tasks", `{"project_id":"`+id+`","title":"Build map","allowed_paths":["src/**"]}`)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.Equal(t, "READY", body["status"])
	taskID := body["id"].(string)

	resp, body = env.do(t, "PUT", "/api/tasks/"+taskID, `{"status":"DONE"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "DONE", body["status"])
	assert.Equal(t, "Build map", body["title"])
}

func TestServer_KnowledgeFiles(t *testing.T) {
	env := newTestEnv(t, Config{})
	id := env.project(t)

	resp, body := env.do(t, "PUT", "/api/knowledge", `{"project_id":"`+id+`","file_type":"NOTES","content":"x"}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Contains(t, body["error"], "Invalid file_type")

	resp, body = env.do(t, "PUT", "/api/knowledge", `{"project_id":"`+id+`","file_type":"PROJECT_MAP","content":"src/ -> app"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.EqualValues(t, 1, body["version"])

	resp, body = env.do(t, "GET", "/api/knowledge/byProject/"+id, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, map[string]any{
		"PROJECT_MAP":         "src/ -> app",
		"COMPONENT_SUMMARIES": "",
		"CHANGE_PATTERNS":     "",
		"FILE_DEPENDENCIES":   "",
	}, body)
}

func TestServer_AnalyzePlanExecute(t *testing.T) {
	env := newTestEnv(t, Config{})
	id := env.project(t)

	resp, body := env.do(t, "POST", "/api/orchestrator/analyze", `{"repoUrls":[],"goal":"x"}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "repoUrls array is required", body["error"])

	resp, body = env.do(t, "POST", "/api/orchestrator/analyze",
		`{"repoUrls":["https://x/owner/repo"],"goal":"Detect smoke in drone footage","projectId":"`+id+`"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, true, body["success"])
	sessionID := body["sessionId"].(string)
	recs := body["recommendations"].(map[string]any)
	agents := recs["agents"].([]any)
	require.NotEmpty(t, agents)
	assert.Contains(t, agents[0].(map[string]any)["why"], "torch")

	resp, body = env.do(t, "POST", "/api/orchestrator/execute", `{"sessionId":"`+sessionID+`"}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Contains(t, body["error"], "has no plan yet")

	resp, body = env.do(t, "POST", "/api/orchestrator/plan", `{"sessionId":"`+sessionID+`","answers":{"q_scope":"Speed"}}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Contains(t, body["error"], "missing answers for questions")

	answers := `{"q_python":"FastAPI","q_scope":"Speed","q_tech":"Mix of both"}`
	resp, body = env.do(t, "POST", "/api/orchestrator/plan", `{"sessionId":"`+sessionID+`","answers":`+answers+`}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	summary := body["plan"].(map[string]any)["summary"].(map[string]any)
	assert.EqualValues(t, 9, summary["total_tasks"])

	resp, body = env.do(t, "GET", "/api/orchestrator/"+sessionID+"/status", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "planning_complete", body["status"])

	resp, body = env.do(t, "POST", "/api/orchestrator/execute", `{"sessionId":"`+sessionID+`"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Len(t, body["tasks"], 9)

	resp, _ = env.do(t, "GET", "/api/orchestrator/nope/status", "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, body = env.do(t, "GET", "/api/projects/"+id+"/sessions", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	sessions := body["sessions"].([]any)
	require.Len(t, sessions, 1)
	assert.Equal(t, sessionID, sessions[0].(map[string]any)["sessionId"])
	assert.Equal(t, "planning_complete", sessions[0].(map[string]any)["status"])

	resp, _ = env.do(t, "GET", "/api/projects/nope/sessions", "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestServer_BootstrapAndContextPack(t *testing.T) {
	env := newTestEnv(t, Config{})
	id := env.project(t)

	resp, body := env.do(t, "POST", "/api/orchestrator/bootstrap", `{"projectId":"`+id+`"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "fireswarm_phase0", body["sprint"])
	assert.Len(t, body["knowledgeDocs"], 5)
	tasks := body["tasks"].([]any)
	require.Len(t, tasks, 3)
	taskID := tasks[0].(map[string]any)["id"].(string)

	resp, body = env.do(t, "POST", "/api/context-pack", `{"projectId":"`+id+`","taskId":"`+taskID+`"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, body["contextPack"], "Full Project Map (Reference)")
	assert.Equal(t, "Context pack for task "+taskID+" generated successfully.", body["message"])

	resp, body = env.do(t, "GET", "/api/projects/"+id+"/orchestrator-prompt", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, `Sub-Orchestrator prompt for "Fireswarm" is ready.`, body["message"])

	resp, body = env.do(t, "POST", "/api/projects/"+id+"/requests", `{"request":"Add a dark mode toggle"}`)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.Len(t, body["tasks"], 2)
}

func TestServer_AnalyzeRequestActivatesOwnProject(t *testing.T) {
	env := newTestEnv(t, Config{})
	a, b := env.project(t), env.project(t)

	want := map[string][]string{}
	for i := 0; i < 10; i++ {
		for _, id := range []string{a, b} {
			resp, body := env.do(t, "POST", "/api/projects/"+id+"/requests", `{"request":"Add a dark mode toggle"}`)
			require.Equal(t, http.StatusCreated, resp.StatusCode)
			for _, tk := range body["tasks"].([]any) {
				want[id] = append(want[id], tk.(map[string]any)["id"].(string))
			}
		}
	}
	env.writer.Wait()

	for _, id := range []string{a, b} {
		w, err := env.store.GetWorkflowState(context.Background(), id)
		require.NoError(t, err)
		assert.Len(t, want[id], 20)
		assert.ElementsMatch(t, want[id], w.ActiveTasks, id)
	}
}

func TestServer_AnalyzeRateLimited(t *testing.T) {
	env := newTestEnv(t, Config{RateLimit: RateLimitConfig{RPS: 1, Burst: 1}})

	resp, _ := env.do(t, "POST", "/api/orchestrator/analyze", `{"repoUrls":["https://x/owner/repo"],"goal":"g"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, body := env.do(t, "POST", "/api/orchestrator/analyze", `{"repoUrls":["https://x/owner/repo"],"goal":"g"}`)
	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
	assert.Equal(t, "Rate limit exceeded. Please try again later.", body["error"])

	resp, _ = env.do(t, "GET", "/api/projects", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode, "only analyze is limited")
}

func TestTokenBucket_Refills(t *testing.T) {
	now := time.Unix(0, 0)
	b := newTokenBucket(2, 2, now)
	assert.True(t, b.allow(now))
	assert.True(t, b.allow(now))
	assert.False(t, b.allow(now))
	assert.True(t, b.allow(now.Add(500*time.Millisecond)))
	assert.False(t, b.allow(now.Add(500*time.Millisecond)))
}
