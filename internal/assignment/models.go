// Package assignment drives each student's instance of a task through its
// lifecycle: PENDING_EXAM → IN_PROGRESS → {COMPLETED, OVERDUE}.
//
// Overdue detection is lazy. Every entry point that touches an assignment
// runs Reconcile first; there is no background sweep, so two reads of the
// same assignment may observe different statuses.
package assignment

import (
	"time"

	"github.com/mind-engage/mindengage-training/internal/apperr"
	"github.com/mind-engage/mindengage-training/internal/content"
	"github.com/mind-engage/mindengage-training/internal/task"
)

type Status string

const (
	PendingExam Status = "PENDING_EXAM"
	InProgress  Status = "IN_PROGRESS"
	Completed   Status = "COMPLETED"
	Overdue     Status = "OVERDUE"
)

// Initial is the status an assignment is created with.
func Initial(k task.Kind) Status {
	if k == task.Exam {
		return PendingExam
	}
	return InProgress
}

// Final reports whether no further transition can leave s.
func (s Status) Final() bool { return s == Completed || s == Overdue }

type Assignment struct {
	ID          string     `json:"id"`
	TaskID      string     `json:"task_id"`
	StudentID   string     `json:"student_id"`
	Status      Status     `json:"status"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// KnowledgeProgress is the per-assignment "learned" flag of one bound
// knowledge document.
type KnowledgeProgress struct {
	KnowledgeGroupID string     `json:"knowledge_group_id"`
	IsCompleted      bool       `json:"is_completed"`
	CompletedAt      *time.Time `json:"completed_at,omitempty"`
}

// Progress is the result of marking a knowledge document learned.
type Progress struct {
	IsCompleted   bool       `json:"is_completed"`
	CompletedAt   *time.Time `json:"completed_at,omitempty"`
	TaskCompleted bool       `json:"task_completed"`
	TaskStatus    Status     `json:"task_status"`
}

// Reconcile returns the status a should have at now. It is pure and
// idempotent: COMPLETED and OVERDUE are returned unchanged, a force-closed
// task makes anything else OVERDUE, and so does a passed deadline unless a
// submission handed in by the deadline is still waiting for a grader.
func Reconcile(a Assignment, t task.Task, awaitingGrading bool, now time.Time) Status {
	if a.Status.Final() {
		return a.Status
	}
	if t.Closed {
		return Overdue
	}
	if now.After(t.Deadline) && !awaitingGrading {
		return Overdue
	}
	return a.Status
}

var edges = map[Status][]Status{
	PendingExam: {InProgress, Overdue},
	InProgress:  {Completed, Overdue},
}

// Transition checks that from → to is an edge of the state machine.
func Transition(from, to Status) error {
	for _, s := range edges[from] {
		if s == to {
			return nil
		}
	}
	return apperr.New(apperr.KindInvalidInput, "assignment cannot move from %s to %s", from, to).WithState(string(from))
}

// Evidence is what the completion rule looks at: knowledge documents marked
// learned and test sets with at least one graded submission.
type Evidence struct {
	Learned map[string]bool
	Graded  map[string]bool
}

// Complete reports whether the evidence satisfies the completion rule of
// t's kind. A task with nothing of the relevant kind bound never completes.
func Complete(t task.Task, ev Evidence) bool {
	want, have := t.BindingsOf(content.KindTestSet), ev.Graded
	if t.Kind == task.Learning {
		want, have = t.BindingsOf(content.KindKnowledge), ev.Learned
	}
	if len(want) == 0 {
		return false
	}
	for _, b := range want {
		if !have[b.GroupID] {
			return false
		}
	}
	return true
}
