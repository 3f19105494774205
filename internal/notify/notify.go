// Package notify announces orchestration milestones to Slack and webhook
// subscribers. Delivery is always best effort.
package notify

import (
	"context"
	"errors"
	"time"
)

// Event types.
const (
	EventAnalysisReady = "analysis.waiting_for_user"
	EventPlanReady     = "plan.ready"
	EventPlanExecuted  = "plan.executed"
	EventBootstrapped  = "project.bootstrapped"
)

// Event is one milestone of a session or project.
type Event struct {
	Type      string            `json:"type"`
	SessionID string            `json:"session_id,omitempty"`
	ProjectID string            `json:"project_id,omitempty"`
	Summary   string            `json:"summary"`
	Fields    map[string]string `json:"fields,omitempty"`
	At        time.Time         `json:"at"`
}

// Notifier delivers events.
type Notifier interface {
	Notify(ctx context.Context, e Event) error
}

// Multi fans an event out to every notifier and joins their errors.
type Multi []Notifier

// Notify delivers e to every notifier, even after a failure.
func (m Multi) Notify(ctx context.Context, e Event) error {
	var errs []error
	for _, n := range m {
		if err := n.Notify(ctx, e); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Nop discards events.
type Nop struct{}

// Notify does nothing.
func (Nop) Notify(context.Context, Event) error { return nil }
