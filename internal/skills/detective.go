// Package skills maps pooled repository evidence to recommended specialist
// agents and auxiliary MCP tools using a declarative rule table.
package skills

import (
	_ "embed"
	"fmt"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/p-blackswan/bootstrap-orchestrator/internal/probe"
)

//go:embed rules.yaml
var defaultRules []byte

const matchesPlaceholder = "{matches}"

// Kind is what a category recommends.
type Kind string

const (
	KindAgent Kind = "agent"
	KindMCP   Kind = "mcp"
)

// AgentRecommendation suggests a specialist role for the project.
type AgentRecommendation struct {
	Role         string   `json:"role"`
	Description  string   `json:"description"`
	Instructions string   `json:"instructions"`
	Why          string   `json:"why"`
	Evidence     []string `json:"evidence"`
}

// MCPRecommendation suggests an auxiliary tool server.
type MCPRecommendation struct {
	Name           string   `json:"name"`
	Reason         string   `json:"reason"`
	InstallCommand string   `json:"installCommand"`
	Evidence       []string `json:"evidence"`
}

// Recommendations is the detective's output, in rule declaration order.
type Recommendations struct {
	Agents []AgentRecommendation `json:"agents"`
	MCPs   []MCPRecommendation   `json:"mcps"`
}

// Empty reports whether nothing was recommended.
func (r Recommendations) Empty() bool {
	return len(r.Agents) == 0 && len(r.MCPs) == 0
}

type ruleFile struct {
	Categories []categoryRule `yaml:"categories"`
}

type categoryRule struct {
	Name     string   `yaml:"name"`
	Kind     Kind     `yaml:"kind"`
	Patterns []string `yaml:"patterns"`
	Agent    *struct {
		Role         string `yaml:"role"`
		Description  string `yaml:"description"`
		Instructions string `yaml:"instructions"`
		Why          string `yaml:"why"`
	} `yaml:"agent"`
	MCP *struct {
		Name           string `yaml:"name"`
		Reason         string `yaml:"reason"`
		InstallCommand string `yaml:"install_command"`
	} `yaml:"mcp"`
}

type category struct {
	def      categoryRule
	patterns []*regexp.Regexp
}

// Detective is a stateless classifier over a compiled rule table. It is
// safe for concurrent use.
type Detective struct {
	categories []category
}

// New returns a Detective over the embedded default rule table.
func New() (*Detective, error) {
	return Load(defaultRules)
}

// Load compiles a YAML rule table. Every pattern is matched
// case-insensitively.
func Load(data []byte) (*Detective, error) {
	var rf ruleFile
	if err := yaml.Unmarshal(data, &rf); err != nil {
		return nil, fmt.Errorf("parsing skill rules: %w", err)
	}
	if len(rf.Categories) == 0 {
		return nil, fmt.Errorf("skill rules: no categories defined")
	}

	d := &Detective{}
	seen := make(map[string]bool, len(rf.Categories))
	for _, def := range rf.Categories {
		if def.Name == "" {
			return nil, fmt.Errorf("skill rules: category without name")
		}
		if seen[def.Name] {
			return nil, fmt.Errorf("skill rules: duplicate category %q", def.Name)
		}
		seen[def.Name] = true

		switch def.Kind {
		case KindAgent:
			if def.Agent == nil || def.Agent.Role == "" {
				return nil, fmt.Errorf("skill rules: category %q needs an agent role", def.Name)
			}
		case KindMCP:
			if def.MCP == nil || def.MCP.Name == "" {
				return nil, fmt.Errorf("skill rules: category %q needs an mcp name", def.Name)
			}
		default:
			return nil, fmt.Errorf("skill rules: category %q has unknown kind %q", def.Name, def.Kind)
		}
		if len(def.Patterns) == 0 {
			return nil, fmt.Errorf("skill rules: category %q has no patterns", def.Name)
		}

		c := category{def: def}
		for _, p := range def.Patterns {
			re, err := regexp.Compile("(?i)" + p)
			if err != nil {
				return nil, fmt.Errorf("skill rules: category %q pattern %q: %w", def.Name, p, err)
			}
			c.patterns = append(c.patterns, re)
		}
		d.categories = append(d.categories, c)
	}
	return d, nil
}

// Categories returns the category names in declaration order.
func (d *Detective) Categories() []string {
	names := make([]string, len(d.categories))
	for i, c := range d.categories {
		names[i] = c.def.Name
	}
	return names
}

// Detect evaluates every category against blob. A category triggers when
// any of its patterns match; its rationale lists the first match of every
// matching pattern. Categories without a match contribute nothing.
func (d *Detective) Detect(blob string) Recommendations {
	recs := Recommendations{
		Agents: []AgentRecommendation{},
		MCPs:   []MCPRecommendation{},
	}
	for _, c := range d.categories {
		evidence := c.match(blob)
		if len(evidence) == 0 {
			continue
		}
		found := describeMatches(evidence)
		switch c.def.Kind {
		case KindAgent:
			a := c.def.Agent
			recs.Agents = append(recs.Agents, AgentRecommendation{
				Role:         a.Role,
				Description:  a.Description,
				Instructions: a.Instructions,
				Why:          expand(a.Why, found),
				Evidence:     evidence,
			})
		case KindMCP:
			m := c.def.MCP
			recs.MCPs = append(recs.MCPs, MCPRecommendation{
				Name:           m.Name,
				Reason:         expand(m.Reason, found),
				InstallCommand: m.InstallCommand,
				Evidence:       evidence,
			})
		}
	}
	return recs
}

func (c category) match(blob string) []string {
	var out []string
	seen := make(map[string]bool)
	for _, re := range c.patterns {
		m := re.FindString(blob)
		if m == "" || seen[m] {
			continue
		}
		seen[m] = true
		out = append(out, m)
	}
	return out
}

func describeMatches(evidence []string) string {
	parts := make([]string, len(evidence))
	for i, m := range evidence {
		parts[i] = fmt.Sprintf("Found '%s'", m)
	}
	return strings.Join(parts, ", ")
}

func expand(template, found string) string {
	if !strings.Contains(template, matchesPlaceholder) {
		return template
	}
	return strings.ReplaceAll(template, matchesPlaceholder, found)
}

// BuildEvidence pools the manifest excerpts of successful snapshots, every
// file name and the goal into one blob. Sources are not attributed.
func BuildEvidence(snaps []probe.Snapshot, goal string) string {
	var configs, files []string
	for _, s := range snaps {
		if !s.Success {
			continue
		}
		if s.Config != "" {
			configs = append(configs, s.Config)
		}
		files = append(files, s.Files...)
	}
	var b strings.Builder
	b.WriteString(strings.Join(configs, "\n"))
	b.WriteString("\n")
	b.WriteString(strings.Join(files, " "))
	b.WriteString("\n")
	b.WriteString(goal)
	return b.String()
}
