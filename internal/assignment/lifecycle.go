package assignment

import (
	"context"
	"database/sql"
	"time"

	"github.com/mind-engage/mindengage-training/internal/events"
	"github.com/mind-engage/mindengage-training/internal/metrics"
	"github.com/mind-engage/mindengage-training/internal/task"
)

// Lifecycle applies reconciliation and completion inside one transaction.
// The submission engine and the task composer use it so the state machine
// lives in one place.
type Lifecycle struct {
	Store *Store
	Tasks *task.Store
	batch *events.Batch
	now   time.Time
	moved []Status
}

func NewLifecycle(tx *sql.Tx, lock string, b *events.Batch, now time.Time) *Lifecycle {
	return &Lifecycle{
		Store: NewStore(tx, lock),
		Tasks: task.NewStore(tx, lock),
		batch: b,
		now:   now,
	}
}

// StatusChange is the payload of assignment.status_changed.
type StatusChange struct {
	AssignmentID string `json:"assignment_id"`
	TaskID       string `json:"task_id"`
	StudentID    string `json:"student_id"`
	From         Status `json:"from"`
	To           Status `json:"to"`
}

// Load locks the assignment, loads its task and reconciles the status.
func (l *Lifecycle) Load(ctx context.Context, id string) (Assignment, task.Task, error) {
	a, err := l.Store.GetForUpdate(ctx, id)
	if err != nil {
		return Assignment{}, task.Task{}, err
	}
	t, err := l.Tasks.Get(ctx, a.TaskID)
	if err != nil {
		return Assignment{}, task.Task{}, err
	}
	err = l.Reconcile(ctx, &a, t)
	return a, t, err
}

// Reconcile persists whatever Reconcile decides for a.
func (l *Lifecycle) Reconcile(ctx context.Context, a *Assignment, t task.Task) error {
	if a.Status.Final() {
		return nil
	}
	waiting, err := l.Store.AwaitingGrading(ctx, a.ID, t.Deadline)
	if err != nil {
		return err
	}
	if to := Reconcile(*a, t, waiting, l.now); to != a.Status {
		return l.Move(ctx, a, to)
	}
	return nil
}

// Move validates and writes a transition. COMPLETED stamps completed_at
// the first time only.
func (l *Lifecycle) Move(ctx context.Context, a *Assignment, to Status) error {
	if err := Transition(a.Status, to); err != nil {
		return err
	}
	change := StatusChange{AssignmentID: a.ID, TaskID: a.TaskID, StudentID: a.StudentID, From: a.Status, To: to}
	a.Status = to
	a.UpdatedAt = l.now
	if to == Completed && a.CompletedAt == nil {
		at := l.now
		a.CompletedAt = &at
	}
	if err := l.Store.SetStatus(ctx, *a); err != nil {
		return err
	}
	l.moved = append(l.moved, to)
	return l.batch.Add(ctx, events.AssignmentStatusChanged, a.ID, change)
}

// CheckCompletion moves an IN_PROGRESS assignment to COMPLETED when its
// task's completion rule holds. Otherwise it reconciles again, so an
// assignment kept open past its deadline by pending grading becomes
// OVERDUE once that grading settles. It reports whether the assignment is
// completed afterwards.
func (l *Lifecycle) CheckCompletion(ctx context.Context, a *Assignment, t task.Task) (bool, error) {
	if a.Status != InProgress {
		return a.Status == Completed, nil
	}
	ev, err := l.Store.Evidence(ctx, a.ID, t.Deadline)
	if err != nil {
		return false, err
	}
	if !Complete(t, ev) {
		return false, l.Reconcile(ctx, a, t)
	}
	return true, l.Move(ctx, a, Completed)
}

// Report counts the transitions made so far. Call it after commit.
func (l *Lifecycle) Report(m *metrics.Metrics) {
	for _, s := range l.moved {
		m.AssignmentTransition(string(s))
	}
}
