// Package plan turns sprint templates and derived plans into persisted
// tasks and knowledge docs.
package plan

import (
	"embed"
	"fmt"
	"io/fs"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/p-blackswan/bootstrap-orchestrator/internal/store"
)

//go:embed templates.yaml
var defaultTemplates []byte

//go:embed docs/*.md
var defaultDocs embed.FS

// TemplateTask is one task of a sprint or request rule.
type TemplateTask struct {
	Title        string         `yaml:"title" json:"title"`
	Description  string         `yaml:"description" json:"description"`
	AssignedTo   string         `yaml:"assigned_to" json:"assigned_to"`
	Priority     store.Priority `yaml:"priority" json:"priority,omitempty"`
	AllowedPaths []string       `yaml:"allowed_paths" json:"allowed_paths,omitempty"`
}

// DocTemplate is one knowledge doc created by every bootstrap.
type DocTemplate struct {
	Title     string `yaml:"title"`
	File      string `yaml:"file"`
	Tags      string `yaml:"tags"`
	ContentMD string `yaml:"-"`
}

type requestRule struct {
	Keywords []string       `yaml:"keywords"`
	Tasks    []TemplateTask `yaml:"tasks"`
	matchers []*regexp.Regexp
}

type catalogFile struct {
	FallbackSprint string                    `yaml:"fallback_sprint"`
	Sprints        map[string][]TemplateTask `yaml:"sprints"`
	Docs           []DocTemplate             `yaml:"docs"`
	Derived        struct {
		EstimatedTimeline string  `yaml:"estimated_timeline"`
		Phases            []Phase `yaml:"phases"`
	} `yaml:"derived"`
	RequestRules []requestRule `yaml:"request_rules"`
}

// Catalog holds every template the materializer draws from. It is
// read-only after loading.
type Catalog struct {
	fallback     string
	sprints      map[string][]TemplateTask
	docs         []DocTemplate
	timeline     string
	phases       []Phase
	requestRules []requestRule
}

// DefaultCatalog loads the embedded templates and docs.
func DefaultCatalog() (*Catalog, error) {
	docs, err := fs.Sub(defaultDocs, "docs")
	if err != nil {
		return nil, err
	}
	return LoadCatalog(defaultTemplates, docs)
}

// LoadCatalog parses a template file. Doc bodies are read from docs by
// their file name.
func LoadCatalog(data []byte, docs fs.FS) (*Catalog, error) {
	var cf catalogFile
	if err := yaml.Unmarshal(data, &cf); err != nil {
		return nil, fmt.Errorf("parsing plan templates: %w", err)
	}
	if cf.FallbackSprint == "" {
		return nil, fmt.Errorf("plan templates: fallback_sprint is required")
	}
	if _, ok := cf.Sprints[cf.FallbackSprint]; !ok {
		return nil, fmt.Errorf("plan templates: fallback sprint %q is not defined", cf.FallbackSprint)
	}
	for name, tasks := range cf.Sprints {
		for _, t := range tasks {
			if t.Title == "" {
				return nil, fmt.Errorf("plan templates: sprint %q has a task without title", name)
			}
			if !t.Priority.Valid() {
				return nil, fmt.Errorf("plan templates: sprint %q task %q has invalid priority %q", name, t.Title, t.Priority)
			}
		}
	}
	if len(cf.Derived.Phases) == 0 {
		return nil, fmt.Errorf("plan templates: derived plan has no phases")
	}

	c := &Catalog{
		fallback: cf.FallbackSprint,
		sprints:  cf.Sprints,
		timeline: cf.Derived.EstimatedTimeline,
		phases:   cf.Derived.Phases,
	}

	for _, d := range cf.Docs {
		body, err := fs.ReadFile(docs, d.File)
		if err != nil {
			return nil, fmt.Errorf("plan templates: doc %q: %w", d.Title, err)
		}
		d.ContentMD = strings.TrimRight(string(body), "\n")
		c.docs = append(c.docs, d)
	}

	for i, r := range cf.RequestRules {
		if len(r.Tasks) == 0 {
			return nil, fmt.Errorf("plan templates: request rule %d has no tasks", i)
		}
		for _, kw := range r.Keywords {
			re, err := regexp.Compile(`(?i)\b` + regexp.QuoteMeta(kw) + `\b`)
			if err != nil {
				return nil, fmt.Errorf("plan templates: request keyword %q: %w", kw, err)
			}
			r.matchers = append(r.matchers, re)
		}
		c.requestRules = append(c.requestRules, r)
	}
	return c, nil
}

// Sprint returns the tasks of the named sprint, falling back to the
// generic sprint for unknown names. The resolved name is returned too.
func (c *Catalog) Sprint(name string) (string, []TemplateTask) {
	tasks, ok := c.sprints[name]
	if !ok {
		name = c.fallback
		tasks = c.sprints[name]
	}
	out := make([]TemplateTask, len(tasks))
	copy(out, tasks)
	return name, out
}

// Docs returns the knowledge docs every bootstrap creates.
func (c *Catalog) Docs() []DocTemplate {
	out := make([]DocTemplate, len(c.docs))
	copy(out, c.docs)
	return out
}

// MatchRequest returns the tasks of the first request rule that matches
// request, with {request} expanded. It returns nil when no rule matches.
func (c *Catalog) MatchRequest(request string) []TemplateTask {
	for _, r := range c.requestRules {
		if !r.matches(request) {
			continue
		}
		out := make([]TemplateTask, len(r.Tasks))
		for i, t := range r.Tasks {
			t.Description = strings.ReplaceAll(t.Description, "{request}", request)
			t.AllowedPaths = append([]string(nil), t.AllowedPaths...)
			out[i] = t
		}
		return out
	}
	return nil
}

func (r requestRule) matches(request string) bool {
	if len(r.matchers) == 0 {
		return true
	}
	for _, re := range r.matchers {
		if re.MatchString(request) {
			return true
		}
	}
	return false
}
