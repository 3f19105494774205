// Package orchestrator owns the lifecycle of an orchestration session:
// analyze the repositories, ask clarifying questions, derive a plan from
// the answers and execute it against a project.
package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/p-blackswan/bootstrap-orchestrator/internal/besteffort"
	perrors "github.com/p-blackswan/bootstrap-orchestrator/internal/errors"
	"github.com/p-blackswan/bootstrap-orchestrator/internal/metrics"
	"github.com/p-blackswan/bootstrap-orchestrator/internal/notify"
	"github.com/p-blackswan/bootstrap-orchestrator/internal/plan"
	"github.com/p-blackswan/bootstrap-orchestrator/internal/probe"
	"github.com/p-blackswan/bootstrap-orchestrator/internal/requestid"
	"github.com/p-blackswan/bootstrap-orchestrator/internal/skills"
	"github.com/p-blackswan/bootstrap-orchestrator/internal/store"
)

// Store is the session persistence the service needs.
type Store interface {
	GetProject(ctx context.Context, id string) (*store.Project, error)
	CreateSession(ctx context.Context, sess *store.Session) error
	GetSession(ctx context.Context, id string) (*store.Session, error)
	CompleteSession(ctx context.Context, id string, qaHistory, plan []byte) (bool, error)
	ListSessionsByProject(ctx context.Context, projectID string) ([]*store.Session, error)
}

// Options wires a Service. Notifier and Metrics are optional.
type Options struct {
	Store        Store
	Prober       probe.Prober
	Detective    *skills.Detective
	Materializer *plan.Materializer
	Writer       *besteffort.Writer
	Notifier     notify.Notifier
	Metrics      *metrics.Metrics
	Logger       zerolog.Logger
}

// Service runs orchestration sessions. It holds no per-session state;
// everything lives in the store.
type Service struct {
	store        Store
	prober       probe.Prober
	detective    *skills.Detective
	materializer *plan.Materializer
	writer       *besteffort.Writer
	notifier     notify.Notifier
	metrics      *metrics.Metrics
	logger       zerolog.Logger
	now          func() time.Time
}

// NewService creates a Service.
func NewService(opts Options) *Service {
	n := opts.Notifier
	if n == nil {
		n = notify.Nop{}
	}
	return &Service{
		store:        opts.Store,
		prober:       opts.Prober,
		detective:    opts.Detective,
		materializer: opts.Materializer,
		writer:       opts.Writer,
		notifier:     n,
		metrics:      opts.Metrics,
		logger:       opts.Logger.With().Str("component", "orchestrator").Logger(),
		now:          time.Now,
	}
}

// AnalyzeInput starts a session.
type AnalyzeInput struct {
	RepoURLs  []string `json:"repoUrls"`
	Goal      string   `json:"goal"`
	ProjectID string   `json:"projectId,omitempty"`
}

// Analysis is what the session stores about the evidence it gathered.
type Analysis struct {
	Questions       []Question             `json:"questions"`
	Recommendations skills.Recommendations `json:"recommendations"`
}

// ScanSummary is the caller-facing outcome of one probe.
type ScanSummary struct {
	Name      string `json:"name"`
	Success   bool   `json:"success"`
	FileCount int    `json:"fileCount"`
	HasConfig bool   `json:"hasConfig"`
}

// AnalysisResult is returned by StartAnalysis.
type AnalysisResult struct {
	SessionID       string                 `json:"sessionId"`
	Questions       []Question             `json:"questions"`
	Recommendations skills.Recommendations `json:"recommendations"`
	Scans           []ScanSummary          `json:"scans"`
}

// QAHistory records the answers submitted for a session.
type QAHistory struct {
	Answers     map[string]string `json:"answers"`
	SubmittedAt time.Time         `json:"submittedAt"`
}

// StartAnalysis probes every repository, runs skill detection over the
// pooled evidence, derives the clarifying questions and persists the
// session as waiting_for_user.
func (s *Service) StartAnalysis(ctx context.Context, in AnalyzeInput) (*AnalysisResult, error) {
	refs := make([]string, 0, len(in.RepoURLs))
	for _, u := range in.RepoURLs {
		if u = strings.TrimSpace(u); u != "" {
			refs = append(refs, u)
		}
	}
	if len(refs) == 0 {
		return nil, perrors.InvalidInput("repoUrls array is required")
	}
	goal := strings.TrimSpace(in.Goal)
	if goal == "" {
		return nil, perrors.InvalidInput("goal is required")
	}
	projectID := strings.TrimSpace(in.ProjectID)
	if projectID != "" {
		if _, err := s.store.GetProject(ctx, projectID); err != nil {
			return nil, err
		}
	}

	log := requestid.Logger(ctx, s.logger)
	log.Info().Int("repos", len(refs)).Str("project_id", projectID).Msg("starting repository analysis")

	snaps := probe.All(ctx, s.prober, refs)
	scans := make([]ScanSummary, len(snaps))
	failed := 0
	for i, snap := range snaps {
		if !snap.Success {
			failed++
			log.Warn().Str("ref", snap.Ref).Str("reason", snap.Error).Msg("repository probe failed")
		}
		name := snap.Name
		if name == "" {
			name = snap.Ref
		}
		scans[i] = ScanSummary{
			Name:      name,
			Success:   snap.Success,
			FileCount: len(snap.Files),
			HasConfig: snap.ConfigFileName != "",
		}
	}

	recs := s.detective.Detect(skills.BuildEvidence(snaps, goal))
	for _, a := range recs.Agents {
		s.metrics.RecordRecommendation("agent", a.Role)
	}
	for _, m := range recs.MCPs {
		s.metrics.RecordRecommendation("mcp", m.Name)
	}

	analysis := Analysis{
		Questions:       deriveQuestions(snaps, len(refs), goal),
		Recommendations: recs,
	}
	meta, err := json.Marshal(snaps)
	if err != nil {
		return nil, perrors.Persistence("encode repo metadata", err)
	}
	analysisJSON, err := json.Marshal(analysis)
	if err != nil {
		return nil, perrors.Persistence("encode analysis", err)
	}

	sess := &store.Session{
		ProjectID:    projectID,
		Status:       store.SessionWaitingForUser,
		Goal:         goal,
		RepoURLs:     refs,
		RepoMetadata: meta,
		Analysis:     analysisJSON,
	}
	if err := s.store.CreateSession(ctx, sess); err != nil {
		return nil, err
	}
	s.metrics.RecordSession(string(store.SessionWaitingForUser))

	log.Info().
		Str("session_id", sess.ID).
		Int("questions", len(analysis.Questions)).
		Int("agents", len(recs.Agents)).
		Int("mcps", len(recs.MCPs)).
		Int("failed_probes", failed).
		Msg("analysis complete")

	s.announce(ctx, notify.Event{
		Type:      notify.EventAnalysisReady,
		SessionID: sess.ID,
		ProjectID: projectID,
		Summary:   fmt.Sprintf("Analysis of %d repositories is waiting for answers", len(refs)),
		Fields: map[string]string{
			"questions":     fmt.Sprint(len(analysis.Questions)),
			"failed_probes": fmt.Sprint(failed),
		},
	})

	return &AnalysisResult{
		SessionID:       sess.ID,
		Questions:       analysis.Questions,
		Recommendations: recs,
		Scans:           scans,
	}, nil
}

// SubmitAnswers checks that every stored question has an answer, derives
// the plan and completes the session. A session that is already complete
// returns its stored plan unchanged.
func (s *Service) SubmitAnswers(ctx context.Context, sessionID string, answers map[string]string) (*plan.Plan, error) {
	if strings.TrimSpace(sessionID) == "" {
		return nil, perrors.InvalidInput("sessionId is required")
	}
	sess, err := s.store.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	log := requestid.Logger(ctx, s.logger).With().Str("session_id", sessionID).Logger()

	if sess.Status == store.SessionPlanningComplete && len(sess.Plan) > 0 {
		var stored plan.Plan
		if err := json.Unmarshal(sess.Plan, &stored); err != nil {
			return nil, perrors.Persistence("decode stored plan", err)
		}
		log.Info().Msg("session already planned, returning stored plan")
		return &stored, nil
	}

	var analysis Analysis
	if len(sess.Analysis) > 0 {
		if err := json.Unmarshal(sess.Analysis, &analysis); err != nil {
			return nil, perrors.Persistence("decode analysis", err)
		}
	}
	var missing []string
	for _, q := range analysis.Questions {
		if strings.TrimSpace(answers[q.ID]) == "" {
			missing = append(missing, q.ID)
		}
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		return nil, perrors.IncompletePlan("missing answers for questions: %s", strings.Join(missing, ", "))
	}

	p := s.materializer.Catalog().Derive(answers)
	qa, err := json.Marshal(QAHistory{Answers: answers, SubmittedAt: s.now().UTC()})
	if err != nil {
		return nil, perrors.Persistence("encode answers", err)
	}
	planJSON, err := json.Marshal(p)
	if err != nil {
		return nil, perrors.Persistence("encode plan", err)
	}

	s.writer.Try(ctx, "session.complete", func(ctx context.Context) error {
		updated, err := s.store.CompleteSession(ctx, sessionID, qa, planJSON)
		if err == nil && !updated {
			log.Warn().Msg("session was completed concurrently, keeping first plan")
		}
		return err
	})
	s.metrics.RecordSession(string(store.SessionPlanningComplete))

	log.Info().Int("tasks", p.Summary.TotalTasks).Msg("plan generated")
	s.announce(ctx, notify.Event{
		Type:      notify.EventPlanReady,
		SessionID: sessionID,
		ProjectID: sess.ProjectID,
		Summary:   fmt.Sprintf("Plan ready: %d tasks over %s", p.Summary.TotalTasks, p.Summary.EstimatedTimeline),
		Fields:    map[string]string{"hours": fmt.Sprint(p.Summary.EstimatedHours)},
	})
	return p, nil
}

// Status is the read-only projection of a session.
type Status struct {
	SessionID    string            `json:"sessionId"`
	ProjectID    string            `json:"projectId,omitempty"`
	Status       string            `json:"status"`
	Goal         string            `json:"goal"`
	RepoURLs     []string          `json:"repoUrls"`
	RepoMetadata []probe.Snapshot  `json:"repoMetadata"`
	Analysis     *Analysis         `json:"analysis"`
	Questions    []Question        `json:"questions"`
	Answers      map[string]string `json:"answers"`
	Plan         *plan.Plan        `json:"plan"`
	CreatedAt    int64             `json:"createdAt"`
	UpdatedAt    int64             `json:"updatedAt"`
}

// GetStatus returns the session with its stored documents decoded. A
// document that fails to decode is logged and left empty.
func (s *Service) GetStatus(ctx context.Context, sessionID string) (*Status, error) {
	if strings.TrimSpace(sessionID) == "" {
		return nil, perrors.InvalidInput("sessionId is required")
	}
	sess, err := s.store.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	log := requestid.Logger(ctx, s.logger).With().Str("session_id", sessionID).Logger()

	st := &Status{
		SessionID: sess.ID,
		ProjectID: sess.ProjectID,
		Status:    string(sess.Status),
		Goal:      sess.Goal,
		RepoURLs:  sess.RepoURLs,
		CreatedAt: sess.CreatedAt,
		UpdatedAt: sess.UpdatedAt,
	}
	decode := func(field string, raw []byte, dst any) bool {
		if len(raw) == 0 {
			return false
		}
		if err := json.Unmarshal(raw, dst); err != nil {
			log.Warn().Err(err).Str("field", field).Msg("stored session field is not valid JSON")
			return false
		}
		return true
	}

	decode("repo_metadata", sess.RepoMetadata, &st.RepoMetadata)
	var analysis Analysis
	if decode("analysis", sess.Analysis, &analysis) {
		st.Analysis = &analysis
		st.Questions = analysis.Questions
	}
	var qa QAHistory
	if decode("qa_history", sess.QAHistory, &qa) {
		st.Answers = qa.Answers
	}
	var p plan.Plan
	if decode("plan", sess.Plan, &p) {
		st.Plan = &p
	}
	return st, nil
}

// SessionSummary is one entry of a project's session history.
type SessionSummary struct {
	SessionID string `json:"sessionId"`
	Status    string `json:"status"`
	Goal      string `json:"goal"`
	CreatedAt int64  `json:"createdAt"`
	UpdatedAt int64  `json:"updatedAt"`
}

// ListSessions returns the sessions attached to a project, newest first.
func (s *Service) ListSessions(ctx context.Context, projectID string) ([]SessionSummary, error) {
	if strings.TrimSpace(projectID) == "" {
		return nil, perrors.InvalidInput("projectId is required")
	}
	if _, err := s.store.GetProject(ctx, projectID); err != nil {
		return nil, err
	}
	sessions, err := s.store.ListSessionsByProject(ctx, projectID)
	if err != nil {
		return nil, err
	}
	out := make([]SessionSummary, 0, len(sessions))
	for _, sess := range sessions {
		out = append(out, SessionSummary{
			SessionID: sess.ID,
			Status:    string(sess.Status),
			Goal:      sess.Goal,
			CreatedAt: sess.CreatedAt,
			UpdatedAt: sess.UpdatedAt,
		})
	}
	return out, nil
}

// Execute materializes the plan of a completed session into tasks of a
// project. projectID overrides the session's own project.
func (s *Service) Execute(ctx context.Context, sessionID, projectID string) (*plan.Result, error) {
	if strings.TrimSpace(sessionID) == "" {
		return nil, perrors.InvalidInput("sessionId is required")
	}
	sess, err := s.store.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if sess.Status != store.SessionPlanningComplete || len(sess.Plan) == 0 {
		return nil, perrors.InvalidInput("session %s has no plan yet; submit answers first", sessionID)
	}
	if projectID = strings.TrimSpace(projectID); projectID == "" {
		projectID = sess.ProjectID
	}
	if projectID == "" {
		return nil, perrors.InvalidInput("projectId is required")
	}

	var p plan.Plan
	if err := json.Unmarshal(sess.Plan, &p); err != nil {
		return nil, perrors.Persistence("decode stored plan", err)
	}
	res, err := s.materializer.Materialize(ctx, projectID, &p)
	if err != nil {
		return nil, err
	}

	s.announce(ctx, notify.Event{
		Type:      notify.EventPlanExecuted,
		SessionID: sessionID,
		ProjectID: projectID,
		Summary:   fmt.Sprintf("Plan executed: %d tasks created", len(res.Tasks)),
	})
	return res, nil
}

// Bootstrap materializes a sprint template for a project.
func (s *Service) Bootstrap(ctx context.Context, projectID, sprint string) (*plan.BootstrapResult, error) {
	res, err := s.materializer.Bootstrap(ctx, projectID, sprint)
	if err != nil {
		return nil, err
	}
	s.announce(ctx, notify.Event{
		Type:      notify.EventBootstrapped,
		ProjectID: projectID,
		Summary:   res.Message,
		Fields:    map[string]string{"sprint": res.Sprint},
	})
	return res, nil
}

func (s *Service) announce(ctx context.Context, e notify.Event) {
	e.At = s.now().UTC()
	s.writer.Enqueue(ctx, "notify."+e.Type, func(ctx context.Context) error {
		return s.notifier.Notify(ctx, e)
	})
}
