package plan

// PlannedTask is one entry of a derived plan. ID is a placeholder until
// the plan is materialized.
type PlannedTask struct {
	ID             string `yaml:"id" json:"id"`
	Title          string `yaml:"title" json:"title"`
	Description    string `yaml:"description" json:"description"`
	AssignedTo     string `yaml:"assigned_to" json:"assigned_to"`
	EstimatedHours int    `yaml:"estimated_hours" json:"estimated_hours"`
}

// Phase groups the tasks scheduled for one week.
type Phase struct {
	Name  string        `yaml:"name" json:"name"`
	Week  int           `yaml:"week" json:"week"`
	Tasks []PlannedTask `yaml:"tasks" json:"tasks"`
}

// Summary aggregates a plan's phases.
type Summary struct {
	TotalTasks        int            `json:"total_tasks"`
	ByAgent           map[string]int `json:"by_agent"`
	EstimatedTimeline string         `json:"estimated_timeline"`
	EstimatedHours    int            `json:"estimated_hours"`
}

// Plan is the work plan produced when a session's questions are answered.
type Plan struct {
	Phases  []Phase `json:"phases"`
	Summary Summary `json:"summary"`
}

// Tasks flattens the plan in phase order.
func (p *Plan) Tasks() []PlannedTask {
	var out []PlannedTask
	for _, ph := range p.Phases {
		out = append(out, ph.Tasks...)
	}
	return out
}

// Derive builds the three-phase plan. The answers are recorded by the
// session but do not influence the plan yet.
func (c *Catalog) Derive(answers map[string]string) *Plan {
	phases := make([]Phase, len(c.phases))
	for i, ph := range c.phases {
		phases[i] = Phase{
			Name:  ph.Name,
			Week:  ph.Week,
			Tasks: append([]PlannedTask(nil), ph.Tasks...),
		}
	}
	return &Plan{
		Phases:  phases,
		Summary: Summarize(phases, c.timeline),
	}
}

// Summarize computes the summary from the phases so the totals always
// agree with the task list.
func Summarize(phases []Phase, timeline string) Summary {
	s := Summary{
		ByAgent:           map[string]int{},
		EstimatedTimeline: timeline,
	}
	for _, ph := range phases {
		for _, t := range ph.Tasks {
			s.TotalTasks++
			s.EstimatedHours += t.EstimatedHours
			s.ByAgent[t.AssignedTo]++
		}
	}
	return s
}
