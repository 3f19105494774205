package orchestrator

import (
	"fmt"

	"github.com/p-blackswan/bootstrap-orchestrator/internal/probe"
)

// Question is one clarifying question put to the user.
type Question struct {
	ID      string   `json:"id"`
	Text    string   `json:"text"`
	Options []string `json:"options"`
}

const goalPreviewRunes = 50

// deriveQuestions applies the question rules in order. The scope and
// tech questions are always asked.
func deriveQuestions(snaps []probe.Snapshot, refCount int, goal string) []Question {
	var qs []Question

	if anyHasFile(snaps, "package.json") {
		qs = append(qs, Question{
			ID:      "q_framework",
			Text:    "I see a Node.js project. Which frontend framework should we stick with?",
			Options: []string{"React", "Vue", "Angular", "None (Backend Only)"},
		})
	}
	if anyHasFile(snaps, "requirements.txt", "pyproject.toml") {
		qs = append(qs, Question{
			ID:      "q_python",
			Text:    "I see a Python project. What framework are you using?",
			Options: []string{"Django", "Flask", "FastAPI", "Other"},
		})
	}
	if refCount > 1 {
		qs = append(qs, Question{
			ID:   "q_integration",
			Text: "You provided multiple repos. How should they connect?",
			Options: []string{
				"Repo A calls Repo B (API integration)",
				"Merge them into one monorepo",
				"Keep separate (independent services)",
			},
		})
	}
	qs = append(qs,
		Question{
			ID:   "q_scope",
			Text: fmt.Sprintf("For your goal: \"%s\", what is the MVP priority?", preview(goal)),
			Options: []string{
				"Speed (Quick Prototype)",
				"Scalability (Production Ready)",
				"Learning (Educational Project)",
			},
		},
		Question{
			ID:   "q_tech",
			Text: "What is your preferred approach?",
			Options: []string{
				"Use existing tech stack from repos",
				"Modernize with latest versions",
				"Mix of both",
			},
		},
	)
	return qs
}

func anyHasFile(snaps []probe.Snapshot, names ...string) bool {
	for _, s := range snaps {
		if !s.Success {
			continue
		}
		for _, n := range names {
			if s.HasFile(n) {
				return true
			}
		}
	}
	return false
}

// preview shortens the goal to its first 50 runes.
func preview(goal string) string {
	r := []rune(goal)
	if len(r) <= goalPreviewRunes {
		return goal
	}
	return string(r[:goalPreviewRunes]) + "..."
}
