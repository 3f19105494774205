package api

import (
	"context"
	"strings"

	"github.com/gofiber/fiber/v2"

	perrors "github.com/p-blackswan/bootstrap-orchestrator/internal/errors"
	"github.com/p-blackswan/bootstrap-orchestrator/internal/requestid"
	"github.com/p-blackswan/bootstrap-orchestrator/internal/store"
)

const validStatuses = "READY, IN_PROGRESS, DONE, BLOCKED"

func trimmed(s *string) *string {
	if s == nil {
		return nil
	}
	t := strings.TrimSpace(*s)
	return &t
}

type projectRequest struct {
	Name        *string            `json:"name"`
	Description *string            `json:"description"`
	Type        *string            `json:"type"`
	TechStack   *map[string]string `json:"tech_stack"`
}

// POST /api/projects
func (h *handlers) createProject(c *fiber.Ctx) error {
	var req projectRequest
	if err := bind(c, &req); err != nil {
		return err
	}
	if req.Name == nil || strings.TrimSpace(*req.Name) == "" {
		return perrors.InvalidInput("Missing required fields: name")
	}
	p := &store.Project{Name: strings.TrimSpace(*req.Name)}
	if req.Description != nil {
		p.Description = strings.TrimSpace(*req.Description)
	}
	if req.Type != nil {
		p.Type = strings.TrimSpace(*req.Type)
	}
	if req.TechStack != nil {
		p.TechStack = *req.TechStack
	}
	ctx := c.UserContext()
	if err := h.deps.Store.CreateProject(ctx, p); err != nil {
		return err
	}

	// The workflow state is bookkeeping: GET /api/workflow reports its
	// absence and PUT creates it on demand.
	h.deps.Writer.Dispatch(ctx, "project.ensure_workflow", func(ctx context.Context) error {
		return h.deps.Store.EnsureWorkflowState(ctx, p.ID)
	})

	log := requestid.Logger(ctx, h.logger)
	log.Info().Str("project_id", p.ID).Str("name", p.Name).Msg("project created")
	return c.Status(fiber.StatusCreated).JSON(p)
}

// GET /api/projects
func (h *handlers) listProjects(c *fiber.Ctx) error {
	projects, err := h.deps.Store.ListProjects(c.UserContext())
	if err != nil {
		return err
	}
	if projects == nil {
		projects = []*store.Project{}
	}
	return c.JSON(projects)
}

// GET /api/projects/:id
func (h *handlers) getProject(c *fiber.Ctx) error {
	p, err := h.deps.Store.GetProject(c.UserContext(), c.Params("id"))
	if err != nil {
		return err
	}
	return c.JSON(p)
}

// PUT /api/projects/:id
func (h *handlers) updateProject(c *fiber.Ctx) error {
	var req projectRequest
	if err := bind(c, &req); err != nil {
		return err
	}
	if req.Name != nil && strings.TrimSpace(*req.Name) == "" {
		return perrors.InvalidInput("name must not be blank")
	}
	p, err := h.deps.Store.UpdateProject(c.UserContext(), c.Params("id"), store.ProjectUpdate{
		Name:        trimmed(req.Name),
		Description: trimmed(req.Description),
		Type:        trimmed(req.Type),
		TechStack:   req.TechStack,
	})
	if err != nil {
		return err
	}
	return c.JSON(p)
}

// DELETE /api/projects/:id
func (h *handlers) deleteProject(c *fiber.Ctx) error {
	if err := h.deps.Store.DeleteProject(c.UserContext(), c.Params("id")); err != nil {
		return err
	}
	return c.JSON(fiber.Map{"message": "Project and all associated data deleted successfully"})
}

type taskRequest struct {
	ProjectID    string            `json:"project_id"`
	Title        *string           `json:"title"`
	Description  *string           `json:"description"`
	Status       *store.TaskStatus `json:"status"`
	AssignedTo   *string           `json:"assigned_to"`
	AllowedPaths *[]string         `json:"allowed_paths"`
	Priority     *store.Priority   `json:"priority"`
}

func (r taskRequest) validate() error {
	if r.Status != nil && !r.Status.Valid() {
		return perrors.InvalidInput("Invalid status: must be one of %s", validStatuses)
	}
	if r.Priority != nil && !r.Priority.Valid() {
		return perrors.InvalidInput("Invalid priority: must be one of HIGH, MEDIUM, LOW")
	}
	return nil
}

// POST /api/tasks
func (h *handlers) createTask(c *fiber.Ctx) error {
	var req taskRequest
	if err := bind(c, &req); err != nil {
		return err
	}
	title := ""
	if req.Title != nil {
		title = strings.TrimSpace(*req.Title)
	}
	if err := requireFields("project_id", req.ProjectID, "title", title); err != nil {
		return err
	}
	if err := req.validate(); err != nil {
		return err
	}
	ctx := c.UserContext()
	if _, err := h.deps.Store.GetProject(ctx, req.ProjectID); err != nil {
		return err
	}

	t := &store.Task{ProjectID: req.ProjectID, Title: title}
	if req.Description != nil {
		t.Description = strings.TrimSpace(*req.Description)
	}
	if req.Status != nil {
		t.Status = *req.Status
	}
	if req.AssignedTo != nil {
		t.AssignedTo = strings.TrimSpace(*req.AssignedTo)
	}
	if req.AllowedPaths != nil {
		t.AllowedPaths = *req.AllowedPaths
	}
	if req.Priority != nil {
		t.Priority = *req.Priority
	}
	if err := h.deps.Store.CreateTask(ctx, t); err != nil {
		return err
	}
	log := requestid.Logger(ctx, h.logger)
	log.Info().Str("task_id", t.ID).Str("project_id", t.ProjectID).Msg("task created")
	return c.Status(fiber.StatusCreated).JSON(t)
}

// GET /api/tasks/byProject/:projectId
func (h *handlers) listTasks(c *fiber.Ctx) error {
	tasks, err := h.deps.Store.ListTasksByProject(c.UserContext(), c.Params("projectId"))
	if err != nil {
		return err
	}
	if tasks == nil {
		tasks = []*store.Task{}
	}
	return c.JSON(tasks)
}

// PUT /api/tasks/:id
func (h *handlers) updateTask(c *fiber.Ctx) error {
	var req taskRequest
	if err := bind(c, &req); err != nil {
		return err
	}
	if err := req.validate(); err != nil {
		return err
	}
	if req.Title != nil && strings.TrimSpace(*req.Title) == "" {
		return perrors.InvalidInput("title must not be blank")
	}
	t, err := h.deps.Store.UpdateTask(c.UserContext(), c.Params("id"), store.TaskUpdate{
		Title:        trimmed(req.Title),
		Description:  trimmed(req.Description),
		Status:       req.Status,
		AssignedTo:   trimmed(req.AssignedTo),
		AllowedPaths: req.AllowedPaths,
		Priority:     req.Priority,
	})
	if err != nil {
		return err
	}
	return c.JSON(t)
}

// DELETE /api/tasks/:id
func (h *handlers) deleteTask(c *fiber.Ctx) error {
	if err := h.deps.Store.DeleteTask(c.UserContext(), c.Params("id")); err != nil {
		return err
	}
	return c.JSON(fiber.Map{"message": "Task deleted successfully"})
}

// GET /api/knowledge/byProject/:projectId returns the canonical files, with
// "" for any not yet written.
func (h *handlers) listKnowledge(c *fiber.Ctx) error {
	files, err := h.deps.Store.ListKnowledgeFiles(c.UserContext(), c.Params("projectId"))
	if err != nil {
		return err
	}
	out := make(map[store.KnowledgeType]string, len(store.CanonicalKnowledge))
	for _, t := range store.CanonicalKnowledge {
		out[t] = ""
		if f, ok := files[t]; ok {
			out[t] = f.Content
		}
	}
	return c.JSON(out)
}

type knowledgeRequest struct {
	ProjectID string              `json:"project_id"`
	FileType  store.KnowledgeType `json:"file_type"`
	Content   *string             `json:"content"`
}

// PUT /api/knowledge
func (h *handlers) upsertKnowledge(c *fiber.Ctx) error {
	var req knowledgeRequest
	if err := bind(c, &req); err != nil {
		return err
	}
	if err := requireFields("project_id", req.ProjectID, "file_type", string(req.FileType)); err != nil {
		return err
	}
	if req.Content == nil {
		return perrors.InvalidInput("Missing required fields: content")
	}
	if !req.FileType.Valid() {
		return perrors.InvalidInput("Invalid file_type: must be one of PROJECT_MAP, COMPONENT_SUMMARIES, CHANGE_PATTERNS, FILE_DEPENDENCIES, AGENTS_CONFIG, MCP_CONFIG")
	}
	ctx := c.UserContext()
	if _, err := h.deps.Store.GetProject(ctx, req.ProjectID); err != nil {
		return err
	}
	f, err := h.deps.Store.UpsertKnowledgeFile(ctx, req.ProjectID, req.FileType, *req.Content)
	if err != nil {
		return err
	}
	return c.JSON(f)
}

// GET /api/knowledge-docs/byProject/:projectId
func (h *handlers) listDocs(c *fiber.Ctx) error {
	docs, err := h.deps.Store.ListKnowledgeDocs(c.UserContext(), c.Params("projectId"))
	if err != nil {
		return err
	}
	if docs == nil {
		docs = []*store.KnowledgeDoc{}
	}
	return c.JSON(docs)
}

type docRequest struct {
	ProjectID string  `json:"project_id"`
	Title     *string `json:"title"`
	ContentMD *string `json:"content_md"`
	Tags      *string `json:"tags"`
}

// POST /api/knowledge-docs
func (h *handlers) createDoc(c *fiber.Ctx) error {
	var req docRequest
	if err := bind(c, &req); err != nil {
		return err
	}
	title := ""
	if req.Title != nil {
		title = strings.TrimSpace(*req.Title)
	}
	if err := requireFields("project_id", req.ProjectID, "title", title); err != nil {
		return err
	}
	if req.ContentMD == nil {
		return perrors.InvalidInput("Missing required fields: content_md")
	}
	ctx := c.UserContext()
	if _, err := h.deps.Store.GetProject(ctx, req.ProjectID); err != nil {
		return err
	}
	d := &store.KnowledgeDoc{ProjectID: req.ProjectID, Title: title, ContentMD: *req.ContentMD}
	if req.Tags != nil {
		d.Tags = strings.TrimSpace(*req.Tags)
	}
	if err := h.deps.Store.CreateKnowledgeDoc(ctx, d); err != nil {
		return err
	}
	return c.Status(fiber.StatusCreated).JSON(d)
}

// PUT /api/knowledge-docs/:id
func (h *handlers) updateDoc(c *fiber.Ctx) error {
	var req docRequest
	if err := bind(c, &req); err != nil {
		return err
	}
	if req.Title != nil && strings.TrimSpace(*req.Title) == "" {
		return perrors.InvalidInput("title must not be blank")
	}
	d, err := h.deps.Store.UpdateKnowledgeDoc(c.UserContext(), c.Params("id"), store.KnowledgeDocUpdate{
		Title:     trimmed(req.Title),
		ContentMD: req.ContentMD,
		Tags:      trimmed(req.Tags),
	})
	if err != nil {
		return err
	}
	return c.JSON(d)
}

// DELETE /api/knowledge-docs/:id
func (h *handlers) deleteDoc(c *fiber.Ctx) error {
	if err := h.deps.Store.DeleteKnowledgeDoc(c.UserContext(), c.Params("id")); err != nil {
		return err
	}
	return c.JSON(fiber.Map{"message": "Knowledge doc deleted successfully"})
}

// GET /api/workflow/:projectId
func (h *handlers) getWorkflow(c *fiber.Ctx) error {
	w, err := h.deps.Store.GetWorkflowState(c.UserContext(), c.Params("projectId"))
	if err != nil {
		return err
	}
	return c.JSON(w)
}

type workflowRequest struct {
	CurrentPhase *store.Phase `json:"current_phase"`
	ActiveTasks  *[]string    `json:"active_tasks"`
	Blockers     *string      `json:"blockers"`
}

// PUT /api/workflow/:projectId
func (h *handlers) updateWorkflow(c *fiber.Ctx) error {
	var req workflowRequest
	if err := bind(c, &req); err != nil {
		return err
	}
	if req.CurrentPhase != nil {
		phase := store.Phase(strings.TrimSpace(string(*req.CurrentPhase)))
		if !phase.Valid() {
			return perrors.InvalidInput("Invalid current_phase: must be one of BLUEPRINT, CONSTRUCT, TEST, DEPLOY")
		}
		req.CurrentPhase = &phase
	}
	ctx := c.UserContext()
	projectID := c.Params("projectId")
	if _, err := h.deps.Store.GetProject(ctx, projectID); err != nil {
		return err
	}
	w, err := h.deps.Store.UpdateWorkflowState(ctx, projectID, store.WorkflowUpdate{
		CurrentPhase: req.CurrentPhase,
		ActiveTasks:  req.ActiveTasks,
		Blockers:     trimmed(req.Blockers),
	})
	if err != nil {
		return err
	}
	log := requestid.Logger(ctx, h.logger)
	log.Info().Str("project_id", projectID).Str("phase", string(w.CurrentPhase)).Msg("workflow state updated")
	return c.JSON(w)
}
