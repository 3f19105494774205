package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/p-blackswan/bootstrap-orchestrator/internal/contextpack"
	perrors "github.com/p-blackswan/bootstrap-orchestrator/internal/errors"
	"github.com/p-blackswan/bootstrap-orchestrator/internal/plan"
	"github.com/p-blackswan/bootstrap-orchestrator/internal/probe"
	"github.com/p-blackswan/bootstrap-orchestrator/internal/store"
)

// Tool describes one callable tool.
type Tool struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	InputSchema schema `json:"inputSchema"`
}

type schema struct {
	Type       string              `json:"type"`
	Properties map[string]property `json:"properties"`
	Required   []string            `json:"required,omitempty"`
}

type property struct {
	Type        string   `json:"type"`
	Description string   `json:"description"`
	Enum        []string `json:"enum,omitempty"`
}

// TaskStore is the task access update-task-status needs.
type TaskStore interface {
	GetTask(ctx context.Context, id string) (*store.Task, error)
	ListTasksByProject(ctx context.Context, projectID string) ([]*store.Task, error)
	UpdateTaskStatus(ctx context.Context, id string, status store.TaskStatus) error
}

// Toolbox binds the tool definitions to the components that run them.
type Toolbox struct {
	tasks        TaskStore
	assembler    *contextpack.Assembler
	materializer *plan.Materializer
	prober       probe.Prober
	handlers     map[string]func(context.Context, json.RawMessage) (any, error)
}

// NewToolbox wires the tools.
func NewToolbox(tasks TaskStore, assembler *contextpack.Assembler, materializer *plan.Materializer, prober probe.Prober) *Toolbox {
	t := &Toolbox{
		tasks:        tasks,
		assembler:    assembler,
		materializer: materializer,
		prober:       prober,
	}
	t.handlers = map[string]func(context.Context, json.RawMessage) (any, error){
		"analyze-request":        t.analyzeRequest,
		"generate-context-pack":  t.generateContextPack,
		"spawn-sub-orchestrator": t.spawnSubOrchestrator,
		"update-task-status":     t.updateTaskStatus,
		"fetch-repo-metadata":    t.fetchRepoMetadata,
	}
	return t
}

// Definitions lists the tools with their input schemas.
func (t *Toolbox) Definitions() []Tool {
	str := func(desc string) property { return property{Type: "string", Description: desc} }
	return []Tool{
		{
			Name:        "analyze-request",
			Description: `Analyzes a user request (e.g., "add dark mode"), breaks it down into tasks, and creates them in the backend.`,
			InputSchema: schema{
				Type: "object",
				Properties: map[string]property{
					"projectId": str("The ID of the project."),
					"request":   str("The user's full natural language request."),
				},
				Required: []string{"projectId", "request"},
			},
		},
		{
			Name:        "generate-context-pack",
			Description: `Fetches all project knowledge and a specific task, then assembles a small, focused "Context Pack" for an agent to work on.`,
			InputSchema: schema{
				Type: "object",
				Properties: map[string]property{
					"projectId": str("The ID of the project."),
					"taskId":    str("The ID of the task the agent will work on."),
					"agentType": str(`The type of agent (e.g., "@frontend") to tailor the context.`),
				},
				Required: []string{"projectId", "taskId"},
			},
		},
		{
			Name:        "spawn-sub-orchestrator",
			Description: `Fetches all knowledge for a specific project and generates a unique, pre-loaded system prompt for a new "Sub-Orchestrator" instance.`,
			InputSchema: schema{
				Type: "object",
				Properties: map[string]property{
					"projectId": str("The ID of the project to orchestrate."),
				},
				Required: []string{"projectId"},
			},
		},
		{
			Name:        "update-task-status",
			Description: "Updates a task's status (e.g., 'READY', 'IN_PROGRESS', 'DONE'). Used for handover.",
			InputSchema: schema{
				Type: "object",
				Properties: map[string]property{
					"taskId": str("The ID of the task to update."),
					"newStatus": {
						Type:        "string",
						Description: "The new status.",
						Enum:        []string{"READY", "IN_PROGRESS", "DONE", "BLOCKED"},
					},
					"projectId": str("Optional project ID for validation."),
				},
				Required: []string{"taskId", "newStatus"},
			},
		},
		{
			Name:        "fetch-repo-metadata",
			Description: "Lists the top-level files of a GitHub repository and reads its primary manifest without cloning it.",
			InputSchema: schema{
				Type: "object",
				Properties: map[string]property{
					"repoUrl": str("The repository URL or owner/repo reference."),
				},
				Required: []string{"repoUrl"},
			},
		},
	}
}

// Has reports whether name is a known tool.
func (t *Toolbox) Has(name string) bool {
	_, ok := t.handlers[name]
	return ok
}

// Names lists the tool names, comma separated and sorted.
func (t *Toolbox) Names() string {
	names := make([]string, 0, len(t.handlers))
	for n := range t.handlers {
		names = append(names, n)
	}
	sort.Strings(names)
	return strings.Join(names, ", ")
}

// Call runs the named tool with its raw JSON arguments.
func (t *Toolbox) Call(ctx context.Context, name string, args json.RawMessage) (any, error) {
	h, ok := t.handlers[name]
	if !ok {
		return nil, fmt.Errorf("unknown tool: %s", name)
	}
	return h(ctx, args)
}

func decodeArgs(raw json.RawMessage, v any) error {
	if len(raw) == 0 {
		return perrors.InvalidInput("arguments are required")
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return perrors.InvalidInput("invalid arguments: %v", err)
	}
	return nil
}

func (t *Toolbox) analyzeRequest(ctx context.Context, raw json.RawMessage) (any, error) {
	var args struct {
		ProjectID string `json:"projectId"`
		Request   string `json:"request"`
	}
	if err := decodeArgs(raw, &args); err != nil {
		return nil, err
	}
	return t.materializer.AnalyzeRequest(ctx, args.ProjectID, args.Request)
}

func (t *Toolbox) generateContextPack(ctx context.Context, raw json.RawMessage) (any, error) {
	var args struct {
		ProjectID string `json:"projectId"`
		TaskID    string `json:"taskId"`
		AgentType string `json:"agentType"`
	}
	if err := decodeArgs(raw, &args); err != nil {
		return nil, err
	}
	return t.assembler.Build(ctx, args.ProjectID, args.TaskID, args.AgentType)
}

func (t *Toolbox) spawnSubOrchestrator(ctx context.Context, raw json.RawMessage) (any, error) {
	var args struct {
		ProjectID string `json:"projectId"`
	}
	if err := decodeArgs(raw, &args); err != nil {
		return nil, err
	}
	return t.assembler.BuildOrchestratorPrompt(ctx, args.ProjectID)
}

// TaskStatusResult reports a status handover.
type TaskStatusResult struct {
	Message     string              `json:"message"`
	UpdatedTask contextpack.TaskRef `json:"updatedTask"`
}

func (t *Toolbox) updateTaskStatus(ctx context.Context, raw json.RawMessage) (any, error) {
	var args struct {
		TaskID    string           `json:"taskId"`
		NewStatus store.TaskStatus `json:"newStatus"`
		ProjectID string           `json:"projectId"`
	}
	if err := decodeArgs(raw, &args); err != nil {
		return nil, err
	}
	if strings.TrimSpace(args.TaskID) == "" || args.NewStatus == "" {
		return nil, perrors.InvalidInput("taskId and newStatus are required")
	}
	if !args.NewStatus.Valid() {
		return nil, perrors.InvalidInput("Invalid status. Must be one of: READY, IN_PROGRESS, DONE, BLOCKED")
	}

	if args.ProjectID != "" {
		tasks, err := t.tasks.ListTasksByProject(ctx, args.ProjectID)
		if err != nil {
			return nil, err
		}
		found := false
		for _, task := range tasks {
			if task.ID == args.TaskID {
				found = true
				break
			}
		}
		if !found {
			return nil, perrors.InvalidInput("Task %s not found in project %s", args.TaskID, args.ProjectID)
		}
	}

	if err := t.tasks.UpdateTaskStatus(ctx, args.TaskID, args.NewStatus); err != nil {
		return nil, err
	}
	task, err := t.tasks.GetTask(ctx, args.TaskID)
	if err != nil {
		return nil, err
	}
	return &TaskStatusResult{
		Message: fmt.Sprintf("Task %s status updated to %s.", args.TaskID, args.NewStatus),
		UpdatedTask: contextpack.TaskRef{
			ID:         task.ID,
			Title:      task.Title,
			AssignedTo: task.AssignedTo,
			Status:     task.Status,
		},
	}, nil
}

func (t *Toolbox) fetchRepoMetadata(ctx context.Context, raw json.RawMessage) (any, error) {
	var args struct {
		RepoURL string `json:"repoUrl"`
	}
	if err := decodeArgs(raw, &args); err != nil {
		return nil, err
	}
	if strings.TrimSpace(args.RepoURL) == "" {
		return nil, perrors.InvalidInput("repoUrl is required")
	}
	return t.prober.Probe(ctx, strings.TrimSpace(args.RepoURL)), nil
}
