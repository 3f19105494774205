package store

// TaskStatus is the lifecycle state of a Task. Any status may follow any
// other; the set is validated, the transitions are not.
type TaskStatus string

const (
	TaskReady      TaskStatus = "READY"
	TaskInProgress TaskStatus = "IN_PROGRESS"
	TaskDone       TaskStatus = "DONE"
	TaskBlocked    TaskStatus = "BLOCKED"
)

// Valid reports whether s is a known task status.
func (s TaskStatus) Valid() bool {
	switch s {
	case TaskReady, TaskInProgress, TaskDone, TaskBlocked:
		return true
	}
	return false
}

// Priority is an optional task priority set by template bootstraps.
type Priority string

const (
	PriorityNone   Priority = ""
	PriorityHigh   Priority = "HIGH"
	PriorityMedium Priority = "MEDIUM"
	PriorityLow    Priority = "LOW"
)

// Valid reports whether p is empty or a known priority.
func (p Priority) Valid() bool {
	switch p {
	case PriorityNone, PriorityHigh, PriorityMedium, PriorityLow:
		return true
	}
	return false
}

// Phase is the coarse lifecycle position of a project.
type Phase string

const (
	PhaseBlueprint Phase = "BLUEPRINT"
	PhaseConstruct Phase = "CONSTRUCT"
	PhaseTest      Phase = "TEST"
	PhaseDeploy    Phase = "DEPLOY"
)

// Phases lists the workflow phases in order.
var Phases = []Phase{PhaseBlueprint, PhaseConstruct, PhaseTest, PhaseDeploy}

// Valid reports whether p is a known phase.
func (p Phase) Valid() bool {
	for _, known := range Phases {
		if p == known {
			return true
		}
	}
	return false
}

// KnowledgeType identifies one knowledge file slot of a project.
type KnowledgeType string

const (
	KnowledgeProjectMap         KnowledgeType = "PROJECT_MAP"
	KnowledgeComponentSummaries KnowledgeType = "COMPONENT_SUMMARIES"
	KnowledgeChangePatterns     KnowledgeType = "CHANGE_PATTERNS"
	KnowledgeFileDependencies   KnowledgeType = "FILE_DEPENDENCIES"
	KnowledgeAgentsConfig       KnowledgeType = "AGENTS_CONFIG"
	KnowledgeMCPConfig          KnowledgeType = "MCP_CONFIG"
)

// CanonicalKnowledge are the four files every context pack carries.
var CanonicalKnowledge = []KnowledgeType{
	KnowledgeProjectMap,
	KnowledgeComponentSummaries,
	KnowledgeChangePatterns,
	KnowledgeFileDependencies,
}

// Valid reports whether t is a canonical or configuration type.
func (t KnowledgeType) Valid() bool {
	switch t {
	case KnowledgeProjectMap, KnowledgeComponentSummaries, KnowledgeChangePatterns,
		KnowledgeFileDependencies, KnowledgeAgentsConfig, KnowledgeMCPConfig:
		return true
	}
	return false
}

// SessionStatus is the state of an orchestration session.
type SessionStatus string

const (
	SessionWaitingForUser   SessionStatus = "waiting_for_user"
	SessionPlanningComplete SessionStatus = "planning_complete"
)

// Project is the root aggregate that owns tasks, knowledge and sessions.
type Project struct {
	ID          string            `json:"id"`
	Name        string            `json:"name"`
	Description string            `json:"description"`
	Type        string            `json:"type"`
	TechStack   map[string]string `json:"tech_stack"`
	CreatedAt   int64             `json:"created_at"` // unix ms
	UpdatedAt   int64             `json:"updated_at"` // unix ms
}

// Task is a unit of work scoped by its allow-list of path globs.
type Task struct {
	ID           string     `json:"id"`
	ProjectID    string     `json:"project_id"`
	Title        string     `json:"title"`
	Description  string     `json:"description"`
	Status       TaskStatus `json:"status"`
	AssignedTo   string     `json:"assigned_to"`
	AllowedPaths []string   `json:"allowed_paths"`
	Priority     Priority   `json:"priority,omitempty"`
	CreatedAt    int64      `json:"created_at"`
	UpdatedAt    int64      `json:"updated_at"`
}

// KnowledgeFile is the single versioned document of one type for a project.
type KnowledgeFile struct {
	ID        string        `json:"id"`
	ProjectID string        `json:"project_id"`
	FileType  KnowledgeType `json:"file_type"`
	Content   string        `json:"content"`
	Version   int           `json:"version"`
	UpdatedAt int64         `json:"updated_at"`
}

// KnowledgeDoc is a free-form markdown document attached to a project.
type KnowledgeDoc struct {
	ID        string `json:"id"`
	ProjectID string `json:"project_id"`
	Title     string `json:"title"`
	ContentMD string `json:"content_md"`
	Tags      string `json:"tags"`
	CreatedAt int64  `json:"created_at"`
	UpdatedAt int64  `json:"updated_at"`
}

// WorkflowState tracks the phase of a project.
type WorkflowState struct {
	ID           string   `json:"id"`
	ProjectID    string   `json:"project_id"`
	CurrentPhase Phase    `json:"current_phase"`
	ActiveTasks  []string `json:"active_tasks"`
	Blockers     string   `json:"blockers"`
	UpdatedAt    int64    `json:"updated_at"`
}

// Session is the persisted form of an orchestration session. Nested
// documents are kept as raw JSON; the orchestrator owns their shape.
type Session struct {
	ID           string
	ProjectID    string // empty when the session is not tied to a project
	Status       SessionStatus
	Goal         string
	RepoURLs     []string
	RepoMetadata []byte
	Analysis     []byte
	QAHistory    []byte
	Plan         []byte
	CreatedAt    int64
	UpdatedAt    int64
}
