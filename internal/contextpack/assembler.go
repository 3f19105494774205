// Package contextpack assembles the bounded briefings handed to agents:
// the per-task context pack and the per-project sub-orchestrator prompt.
// Knowledge content is copied verbatim, never summarized or truncated.
package contextpack

import (
	"bytes"
	"context"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"text/template"

	"github.com/rs/zerolog"

	perrors "github.com/p-blackswan/bootstrap-orchestrator/internal/errors"
	"github.com/p-blackswan/bootstrap-orchestrator/internal/metrics"
	"github.com/p-blackswan/bootstrap-orchestrator/internal/requestid"
	"github.com/p-blackswan/bootstrap-orchestrator/internal/store"
)

// DefaultRole is used when neither the caller nor the task names a role.
const DefaultRole = "@backend"

//go:embed templates/*.tmpl
var templateFS embed.FS

var templates = template.Must(template.New("").
	Funcs(template.FuncMap{"inc": func(i int) int { return i + 1 }}).
	ParseFS(templateFS, "templates/*.tmpl"))

type section struct {
	Type     store.KnowledgeType
	Heading  string
	Fallback string
}

// packSections is the fixed order of knowledge in a context pack.
var packSections = []section{
	{store.KnowledgeChangePatterns, "Change Patterns (How-To Guide)",
		"No change patterns defined for this project. Use standard best practices."},
	{store.KnowledgeComponentSummaries, "Component Summaries (Relevant Code)",
		"No component summaries defined. Explore the codebase to understand existing components."},
	{store.KnowledgeFileDependencies, "File Dependencies (Safety Check)",
		"No file dependencies defined. Be cautious when modifying shared files."},
	{store.KnowledgeProjectMap, "Full Project Map (Reference)",
		"No project map defined. Explore the codebase structure to understand the project layout."},
}

// promptSections is the fixed order of knowledge in an orchestrator prompt.
var promptSections = []section{
	{store.KnowledgeProjectMap, "Project Map",
		"No project map defined. Explore the codebase to understand the structure."},
	{store.KnowledgeComponentSummaries, "Component Summaries",
		"No component summaries defined. Agents will need to explore the codebase."},
	{store.KnowledgeChangePatterns, "Change Patterns",
		"No change patterns defined. Use standard development best practices."},
	{store.KnowledgeFileDependencies, "File Dependencies",
		"No file dependencies defined. Be cautious when coordinating changes across files."},
}

// Store is the read-only view the assembler needs.
type Store interface {
	GetProject(ctx context.Context, id string) (*store.Project, error)
	ListTasksByProject(ctx context.Context, projectID string) ([]*store.Task, error)
	ListKnowledgeFiles(ctx context.Context, projectID string) (map[store.KnowledgeType]*store.KnowledgeFile, error)
	GetWorkflowState(ctx context.Context, projectID string) (*store.WorkflowState, error)
}

// Assembler builds context packs and orchestrator prompts.
type Assembler struct {
	store   Store
	metrics *metrics.Metrics
	logger  zerolog.Logger
}

// New creates an Assembler. m may be nil.
func New(st Store, m *metrics.Metrics, logger zerolog.Logger) *Assembler {
	return &Assembler{
		store:   st,
		metrics: m,
		logger:  logger.With().Str("component", "contextpack").Logger(),
	}
}

// TaskRef identifies the task a pack was built for.
type TaskRef struct {
	ID         string           `json:"id"`
	Title      string           `json:"title"`
	AssignedTo string           `json:"assigned_to"`
	Status     store.TaskStatus `json:"status"`
}

// Pack is a context pack for one task and role.
type Pack struct {
	Message     string  `json:"message"`
	Role        string  `json:"role"`
	ContextPack string  `json:"contextPack"`
	Task        TaskRef `json:"task"`
}

type renderedSection struct {
	Heading string
	Body    string
}

// Build assembles the context pack for taskID within projectID. role
// overrides the task's assignee.
func (a *Assembler) Build(ctx context.Context, projectID, taskID, role string) (*Pack, error) {
	if strings.TrimSpace(projectID) == "" || strings.TrimSpace(taskID) == "" {
		return nil, perrors.InvalidInput("projectId and taskId are required")
	}
	if _, err := a.store.GetProject(ctx, projectID); err != nil {
		return nil, err
	}
	tasks, err := a.store.ListTasksByProject(ctx, projectID)
	if err != nil {
		return nil, err
	}
	var task *store.Task
	for _, t := range tasks {
		if t.ID == taskID {
			task = t
			break
		}
	}
	if task == nil {
		return nil, perrors.NotFound("Task")
	}
	files, err := a.store.ListKnowledgeFiles(ctx, projectID)
	if err != nil {
		return nil, err
	}

	role = strings.TrimSpace(role)
	if role == "" {
		role = task.AssignedTo
	}
	if role == "" {
		role = DefaultRole
	}
	description := task.Description
	if strings.TrimSpace(description) == "" {
		description = "No description provided."
	}

	var buf bytes.Buffer
	err = templates.ExecuteTemplate(&buf, "pack.md.tmpl", map[string]any{
		"Role":         role,
		"Task":         task,
		"Description":  description,
		"AllowedPaths": task.AllowedPaths,
		"Sections":     render(packSections, files),
	})
	if err != nil {
		return nil, fmt.Errorf("rendering context pack: %w", err)
	}

	content := buf.String()
	a.metrics.ObserveContextPack(len(content))
	log := requestid.Logger(ctx, a.logger)
	log.Debug().
		Str("project_id", projectID).
		Str("task_id", taskID).
		Int("size", len(content)).
		Msg("context pack generated")

	return &Pack{
		Message:     fmt.Sprintf("Context pack for task %s generated successfully.", taskID),
		Role:        role,
		ContextPack: content,
		Task: TaskRef{
			ID:         task.ID,
			Title:      task.Title,
			AssignedTo: task.AssignedTo,
			Status:     task.Status,
		},
	}, nil
}

// ProjectRef identifies the project a prompt was built for.
type ProjectRef struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Type string `json:"type"`
}

// Prompt is a sub-orchestrator system prompt for one project.
type Prompt struct {
	Message            string     `json:"message"`
	OrchestratorPrompt string     `json:"orchestratorPrompt"`
	Project            ProjectRef `json:"project"`
}

// BuildOrchestratorPrompt assembles the sub-orchestrator briefing for a
// project. A missing workflow state reads as BLUEPRINT with no active
// tasks.
func (a *Assembler) BuildOrchestratorPrompt(ctx context.Context, projectID string) (*Prompt, error) {
	if strings.TrimSpace(projectID) == "" {
		return nil, perrors.InvalidInput("projectId is required")
	}
	project, err := a.store.GetProject(ctx, projectID)
	if err != nil {
		return nil, err
	}
	files, err := a.store.ListKnowledgeFiles(ctx, projectID)
	if err != nil {
		return nil, err
	}
	log := requestid.Logger(ctx, a.logger).With().Str("project_id", projectID).Logger()

	phase, active := store.PhaseBlueprint, 0
	wf, err := a.store.GetWorkflowState(ctx, projectID)
	switch {
	case err == nil:
		if wf.CurrentPhase != "" {
			phase = wf.CurrentPhase
		}
		active = len(wf.ActiveTasks)
	case errors.Is(err, perrors.ErrNotFound):
	default:
		log.Warn().Err(err).Msg("could not fetch workflow state")
	}

	stack := project.TechStack
	if stack == nil {
		stack = map[string]string{}
	}
	stackJSON, err := json.MarshalIndent(stack, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encoding tech stack: %w", err)
	}

	var buf bytes.Buffer
	err = templates.ExecuteTemplate(&buf, "prompt.md.tmpl", map[string]any{
		"Project":     project,
		"TechStack":   string(stackJSON),
		"Phase":       phase,
		"ActiveTasks": active,
		"Sections":    render(promptSections, files),
	})
	if err != nil {
		return nil, fmt.Errorf("rendering orchestrator prompt: %w", err)
	}

	log.Info().Str("project_name", project.Name).Msg("sub-orchestrator prompt generated")
	return &Prompt{
		Message:            fmt.Sprintf("Sub-Orchestrator prompt for %q is ready.", project.Name),
		OrchestratorPrompt: buf.String(),
		Project:            ProjectRef{ID: project.ID, Name: project.Name, Type: project.Type},
	}, nil
}

// render fills every section from files, substituting the fallback for
// absent or blank content.
func render(sections []section, files map[store.KnowledgeType]*store.KnowledgeFile) []renderedSection {
	out := make([]renderedSection, len(sections))
	for i, s := range sections {
		body := s.Fallback
		if f, ok := files[s.Type]; ok && strings.TrimSpace(f.Content) != "" {
			body = f.Content
		}
		out[i] = renderedSection{Heading: s.Heading, Body: body}
	}
	return out
}
