package plan

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/rs/zerolog"

	"github.com/p-blackswan/bootstrap-orchestrator/internal/besteffort"
	perrors "github.com/p-blackswan/bootstrap-orchestrator/internal/errors"
	"github.com/p-blackswan/bootstrap-orchestrator/internal/metrics"
	"github.com/p-blackswan/bootstrap-orchestrator/internal/store"
)

var rosterHeading = regexp.MustCompile(`## (@\w+)`)

// Store is the persistence the materializer writes through.
type Store interface {
	GetProject(ctx context.Context, id string) (*store.Project, error)
	CreateTask(ctx context.Context, t *store.Task) error
	CreateKnowledgeDoc(ctx context.Context, d *store.KnowledgeDoc) error
	GetKnowledgeFile(ctx context.Context, projectID string, fileType store.KnowledgeType) (*store.KnowledgeFile, error)
	AppendActiveTasks(ctx context.Context, projectID string, taskIDs ...string) (*store.WorkflowState, error)
}

// Config configures a Materializer.
type Config struct {
	// DefaultSprint is used when a bootstrap names no sprint.
	DefaultSprint string
}

// Materializer persists plans. Individual task and doc writes are best
// effort: failures are logged and skipped, and results list only what
// was actually stored. Repeated calls create duplicates.
type Materializer struct {
	store   Store
	catalog *Catalog
	writer  *besteffort.Writer
	metrics *metrics.Metrics
	cfg     Config
	logger  zerolog.Logger
}

// NewMaterializer creates a Materializer. m may be nil.
func NewMaterializer(st Store, catalog *Catalog, writer *besteffort.Writer, m *metrics.Metrics, cfg Config, logger zerolog.Logger) *Materializer {
	return &Materializer{
		store:   st,
		catalog: catalog,
		writer:  writer,
		metrics: m,
		cfg:     cfg,
		logger:  logger.With().Str("component", "plan").Logger(),
	}
}

// Catalog returns the templates the materializer draws from.
func (m *Materializer) Catalog() *Catalog {
	return m.catalog
}

// BootstrapResult reports what a bootstrap actually created.
type BootstrapResult struct {
	Sprint        string                `json:"sprint"`
	Message       string                `json:"message"`
	Tasks         []*store.Task         `json:"tasks"`
	KnowledgeDocs []*store.KnowledgeDoc `json:"knowledgeDocs"`
	Agents        []string              `json:"agents"`
}

// Bootstrap creates the tasks of the named sprint and the fixed knowledge
// docs for a project, then reads the agent roster from its AGENTS_CONFIG
// knowledge file.
func (m *Materializer) Bootstrap(ctx context.Context, projectID, sprint string) (*BootstrapResult, error) {
	if strings.TrimSpace(projectID) == "" {
		return nil, perrors.InvalidInput("projectId is required")
	}
	if sprint == "" {
		sprint = m.cfg.DefaultSprint
	}
	if _, err := m.store.GetProject(ctx, projectID); err != nil {
		return nil, err
	}

	resolved, templates := m.catalog.Sprint(sprint)
	log := m.logger.With().Str("project_id", projectID).Str("sprint", resolved).Logger()
	if resolved != sprint {
		log.Info().Str("requested", sprint).Msg("unknown sprint, using fallback")
	}

	res := &BootstrapResult{
		Sprint:        resolved,
		Tasks:         []*store.Task{},
		KnowledgeDocs: []*store.KnowledgeDoc{},
		Agents:        []string{},
	}
	for _, tpl := range templates {
		if t, ok := m.createTask(ctx, "bootstrap", projectID, tpl); ok {
			res.Tasks = append(res.Tasks, t)
		}
	}

	for _, doc := range m.catalog.Docs() {
		d := &store.KnowledgeDoc{
			ProjectID: projectID,
			Title:     doc.Title,
			ContentMD: doc.ContentMD,
			Tags:      doc.Tags,
		}
		ok := m.writer.Try(ctx, "bootstrap.create_doc", func(ctx context.Context) error {
			return m.store.CreateKnowledgeDoc(ctx, d)
		})
		if ok {
			res.KnowledgeDocs = append(res.KnowledgeDocs, d)
		}
	}

	res.Agents = m.roster(ctx, projectID)
	res.Message = fmt.Sprintf("Bootstrap sprint created: %d tasks and %d knowledge docs",
		len(res.Tasks), len(res.KnowledgeDocs))

	log.Info().
		Int("tasks", len(res.Tasks)).
		Int("docs", len(res.KnowledgeDocs)).
		Strs("agents", res.Agents).
		Msg("bootstrap sprint created")
	return res, nil
}

// roster lists the "## @role" headings of the project's agent roster. A
// missing roster yields no agents.
func (m *Materializer) roster(ctx context.Context, projectID string) []string {
	agents := []string{}
	f, err := m.store.GetKnowledgeFile(ctx, projectID, store.KnowledgeAgentsConfig)
	if errors.Is(err, perrors.ErrNotFound) {
		return agents
	}
	if err != nil {
		m.logger.Warn().Err(err).Str("project_id", projectID).Msg("reading agent roster failed")
		return agents
	}
	for _, match := range rosterHeading.FindAllStringSubmatch(f.Content, -1) {
		agents = append(agents, match[1])
	}
	return agents
}

// Result lists the tasks a materialization created.
type Result struct {
	Tasks []*store.Task `json:"tasks"`
}

// Materialize creates a READY task for every entry of p, then appends the
// created ids to the project's active tasks in the background.
func (m *Materializer) Materialize(ctx context.Context, projectID string, p *Plan) (*Result, error) {
	if strings.TrimSpace(projectID) == "" {
		return nil, perrors.InvalidInput("projectId is required")
	}
	if p == nil {
		return nil, perrors.InvalidInput("plan is required")
	}
	if _, err := m.store.GetProject(ctx, projectID); err != nil {
		return nil, err
	}

	res := &Result{Tasks: []*store.Task{}}
	for _, pt := range p.Tasks() {
		tpl := TemplateTask{Title: pt.Title, Description: pt.Description, AssignedTo: pt.AssignedTo}
		if t, ok := m.createTask(ctx, "plan", projectID, tpl); ok {
			res.Tasks = append(res.Tasks, t)
		}
	}
	m.activate(ctx, projectID, res.Tasks)

	m.logger.Info().Str("project_id", projectID).Int("tasks", len(res.Tasks)).Msg("plan materialized")
	return res, nil
}

// RequestResult is the outcome of analyzing a feature request.
type RequestResult struct {
	Message string        `json:"message"`
	Tasks   []*store.Task `json:"tasks"`
}

// AnalyzeRequest breaks a free-text feature request into tasks using the
// catalog's keyword rules and persists them.
func (m *Materializer) AnalyzeRequest(ctx context.Context, projectID, request string) (*RequestResult, error) {
	if strings.TrimSpace(projectID) == "" || strings.TrimSpace(request) == "" {
		return nil, perrors.InvalidInput("projectId and request are required")
	}
	if _, err := m.store.GetProject(ctx, projectID); err != nil {
		return nil, err
	}

	res := &RequestResult{Tasks: []*store.Task{}}
	for _, tpl := range m.catalog.MatchRequest(request) {
		if t, ok := m.createTask(ctx, "request", projectID, tpl); ok {
			res.Tasks = append(res.Tasks, t)
		}
	}
	m.activate(ctx, projectID, res.Tasks)

	res.Message = fmt.Sprintf("OK. I've analyzed the request and created %d task(s).", len(res.Tasks))
	m.logger.Info().Str("project_id", projectID).Int("tasks", len(res.Tasks)).Msg("request analyzed")
	return res, nil
}

func (m *Materializer) createTask(ctx context.Context, source, projectID string, tpl TemplateTask) (*store.Task, bool) {
	t := &store.Task{
		ProjectID:    projectID,
		Title:        tpl.Title,
		Description:  tpl.Description,
		Status:       store.TaskReady,
		AssignedTo:   tpl.AssignedTo,
		AllowedPaths: append([]string{}, tpl.AllowedPaths...),
		Priority:     tpl.Priority,
	}
	ok := m.writer.Try(ctx, source+".create_task", func(ctx context.Context) error {
		return m.store.CreateTask(ctx, t)
	})
	if !ok {
		m.metrics.RecordTask(source, "failed")
		return nil, false
	}
	m.metrics.RecordTask(source, "created")
	return t, true
}

func (m *Materializer) activate(ctx context.Context, projectID string, tasks []*store.Task) {
	if len(tasks) == 0 {
		return
	}
	ids := make([]string, len(tasks))
	for i, t := range tasks {
		ids[i] = t.ID
	}
	m.writer.Dispatch(ctx, "workflow.append_active_tasks", func(ctx context.Context) error {
		_, err := m.store.AppendActiveTasks(ctx, projectID, ids...)
		return err
	})
}
