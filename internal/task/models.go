// Package task defines tasks, their version-pinned resource bindings and
// their persistence.
package task

import (
	"time"

	"github.com/mind-engage/mindengage-training/internal/content"
)

type Kind string

const (
	Learning Kind = "LEARNING"
	Practice Kind = "PRACTICE"
	Exam     Kind = "EXAM"
)

func (k Kind) Valid() bool {
	switch k {
	case Learning, Practice, Exam:
		return true
	}
	return false
}

// BindableKind is the only resource kind a task of this kind may bind.
func (k Kind) BindableKind() content.Kind {
	if k == Learning {
		return content.KindKnowledge
	}
	return content.KindTestSet
}

// Binding pins one resource version to a task.
type Binding struct {
	TaskID   string       `json:"task_id"`
	GroupID  string       `json:"group_id"`
	Kind     content.Kind `json:"kind"`
	Version  int          `json:"version_number"`
	Position int          `json:"position"`
}

func (b Binding) Ref() content.Ref { return content.Ref{GroupID: b.GroupID, Version: b.Version} }

type Task struct {
	ID        string        `json:"id"`
	Kind      Kind          `json:"kind"`
	Title     string        `json:"title"`
	CreatorID string        `json:"creator_id"`
	Deadline  time.Time     `json:"deadline"`
	StartTime *time.Time    `json:"start_time,omitempty"`
	Duration  time.Duration `json:"-"` // exposed as duration_seconds by the API
	PassScore *float64      `json:"pass_score,omitempty"`
	Closed    bool          `json:"closed"`
	ClosedAt  *time.Time    `json:"closed_at,omitempty"`
	CreatedAt time.Time     `json:"created_at"`
	Bindings  []Binding     `json:"bindings"`
}

// Binding returns the binding for groupID.
func (t Task) Binding(groupID string) (Binding, bool) {
	for _, b := range t.Bindings {
		if b.GroupID == groupID {
			return b, true
		}
	}
	return Binding{}, false
}

// BindingsOf returns the bindings of one resource kind, in position order.
func (t Task) BindingsOf(kind content.Kind) []Binding {
	var out []Binding
	for _, b := range t.Bindings {
		if b.Kind == kind {
			out = append(out, b)
		}
	}
	return out
}

// InWindow reports whether now lies in [start_time, deadline]. Tasks without
// a start time open at creation.
func (t Task) InWindow(now time.Time) bool {
	if t.StartTime != nil && now.Before(*t.StartTime) {
		return false
	}
	return !now.After(t.Deadline)
}

// Passed reports whether score meets the pass score. Tasks without one pass
// on any score.
func (t Task) Passed(score float64) bool {
	return t.PassScore == nil || score >= *t.PassScore
}
