package api

import (
	"encoding/json"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	perrors "github.com/p-blackswan/bootstrap-orchestrator/internal/errors"
	"github.com/p-blackswan/bootstrap-orchestrator/internal/orchestrator"
)

// handlers holds the route implementations. They return errors and let the
// error handler render them.
type handlers struct {
	deps   Deps
	logger zerolog.Logger
}

// bind decodes the JSON request body into v.
func bind(c *fiber.Ctx, v any) error {
	body := c.Body()
	if len(body) == 0 {
		return perrors.InvalidInput("Request body is required")
	}
	if err := json.Unmarshal(body, v); err != nil {
		return perrors.InvalidInput("Invalid JSON in request body")
	}
	return nil
}

// requireFields takes name/value pairs and reports every blank one.
func requireFields(kv ...string) error {
	var missing []string
	for i := 0; i+1 < len(kv); i += 2 {
		if strings.TrimSpace(kv[i+1]) == "" {
			missing = append(missing, kv[i])
		}
	}
	if len(missing) > 0 {
		return perrors.InvalidInput("Missing required fields: %s", strings.Join(missing, ", "))
	}
	return nil
}

// POST /api/orchestrator/analyze
func (h *handlers) analyze(c *fiber.Ctx) error {
	var in orchestrator.AnalyzeInput
	if err := bind(c, &in); err != nil {
		return err
	}
	res, err := h.deps.Orchestrator.StartAnalysis(c.UserContext(), in)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{
		"success":         true,
		"sessionId":       res.SessionID,
		"questions":       res.Questions,
		"recommendations": res.Recommendations,
		"scans":           res.Scans,
	})
}

type submitAnswersRequest struct {
	SessionID string            `json:"sessionId"`
	Answers   map[string]string `json:"answers"`
}

// POST /api/orchestrator/plan
func (h *handlers) submitAnswers(c *fiber.Ctx) error {
	var req submitAnswersRequest
	if err := bind(c, &req); err != nil {
		return err
	}
	if strings.TrimSpace(req.SessionID) == "" {
		return perrors.InvalidInput("sessionId is required")
	}
	if req.Answers == nil {
		return perrors.InvalidInput("answers object is required")
	}
	p, err := h.deps.Orchestrator.SubmitAnswers(c.UserContext(), req.SessionID, req.Answers)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"success": true, "plan": p})
}

// GET /api/orchestrator/:sessionId/status
func (h *handlers) sessionStatus(c *fiber.Ctx) error {
	st, err := h.deps.Orchestrator.GetStatus(c.UserContext(), c.Params("sessionId"))
	if err != nil {
		return err
	}
	return c.JSON(st)
}

// GET /api/projects/:id/sessions
func (h *handlers) projectSessions(c *fiber.Ctx) error {
	sessions, err := h.deps.Orchestrator.ListSessions(c.UserContext(), c.Params("id"))
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"sessions": sessions})
}

type bootstrapRequest struct {
	ProjectID  string `json:"projectId"`
	SprintType string `json:"sprintType"`
}

// POST /api/orchestrator/bootstrap
func (h *handlers) bootstrap(c *fiber.Ctx) error {
	var req bootstrapRequest
	if err := bind(c, &req); err != nil {
		return err
	}
	res, err := h.deps.Orchestrator.Bootstrap(c.UserContext(), req.ProjectID, req.SprintType)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{
		"success":       true,
		"sprint":        res.Sprint,
		"message":       res.Message,
		"tasks":         res.Tasks,
		"knowledgeDocs": res.KnowledgeDocs,
		"agents":        res.Agents,
	})
}

type executeRequest struct {
	SessionID string `json:"sessionId"`
	ProjectID string `json:"projectId"`
}

// POST /api/orchestrator/execute
func (h *handlers) execute(c *fiber.Ctx) error {
	var req executeRequest
	if err := bind(c, &req); err != nil {
		return err
	}
	res, err := h.deps.Orchestrator.Execute(c.UserContext(), req.SessionID, req.ProjectID)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"success": true, "tasks": res.Tasks})
}

type contextPackRequest struct {
	ProjectID string `json:"projectId"`
	TaskID    string `json:"taskId"`
	AgentType string `json:"agentType"`
}

// POST /api/context-pack
func (h *handlers) contextPack(c *fiber.Ctx) error {
	var req contextPackRequest
	if err := bind(c, &req); err != nil {
		return err
	}
	pack, err := h.deps.Assembler.Build(c.UserContext(), req.ProjectID, req.TaskID, req.AgentType)
	if err != nil {
		return err
	}
	return c.JSON(pack)
}

// GET /api/projects/:id/orchestrator-prompt
func (h *handlers) orchestratorPrompt(c *fiber.Ctx) error {
	prompt, err := h.deps.Assembler.BuildOrchestratorPrompt(c.UserContext(), c.Params("id"))
	if err != nil {
		return err
	}
	return c.JSON(prompt)
}

type analyzeRequestBody struct {
	Request string `json:"request"`
}

// POST /api/projects/:id/requests
func (h *handlers) analyzeRequest(c *fiber.Ctx) error {
	var req analyzeRequestBody
	if err := bind(c, &req); err != nil {
		return err
	}
	res, err := h.deps.Materializer.AnalyzeRequest(c.UserContext(), c.Params("id"), req.Request)
	if err != nil {
		return err
	}
	return c.Status(fiber.StatusCreated).JSON(res)
}
