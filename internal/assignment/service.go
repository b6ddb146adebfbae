package assignment

import (
	"context"
	"database/sql"

	"github.com/mind-engage/mindengage-training/internal/apperr"
	"github.com/mind-engage/mindengage-training/internal/content"
	"github.com/mind-engage/mindengage-training/internal/directory"
	"github.com/mind-engage/mindengage-training/internal/events"
	"github.com/mind-engage/mindengage-training/internal/scope"
	"github.com/mind-engage/mindengage-training/internal/svc"
	"github.com/mind-engage/mindengage-training/internal/task"
)

type Service struct {
	svc.Deps
}

func NewService(deps svc.Deps) *Service {
	return &Service{Deps: deps.WithDefaults()}
}

// View is a reconciled assignment with its task and knowledge progress.
type View struct {
	Assignment
	Task      task.Task           `json:"task"`
	Knowledge []KnowledgeProgress `json:"knowledge,omitempty"`
}

// Filter selects assignments for List. Students always get their own.
type Filter struct {
	StudentID string
	TaskID    string
}

// CanView reports whether actor, acting as role, may read assignment a of
// task t: its student, the task creator, or staff with the student in scope.
func CanView(ctx context.Context, r *scope.Resolver, actor scope.Actor, role scope.Role, a Assignment, t task.Task) (bool, error) {
	if !actor.HasRole(role) {
		return false, nil
	}
	if role == scope.RoleStudent {
		return a.StudentID == actor.ID, nil
	}
	if t.CreatorID == actor.ID {
		return true, nil
	}
	return r.Covers(ctx, actor, role, a.StudentID)
}

// Get reconciles and returns one assignment.
func (s *Service) Get(ctx context.Context, actor scope.Actor, role scope.Role, id string) (View, error) {
	var (
		out View
		lc  *Lifecycle
	)
	err := s.Unit(ctx, func(tx *sql.Tx, b *events.Batch) error {
		lc = NewLifecycle(tx, s.DB.ForUpdate(), b, s.Clock())
		a, t, err := lc.Load(ctx, id)
		if err != nil {
			return err
		}
		ok, err := CanView(ctx, scope.NewResolver(directory.NewStore(tx)), actor, role, a, t)
		if err != nil {
			return err
		}
		if !ok {
			return apperr.New(apperr.KindForbidden, "assignment is not visible to this actor").WithIDs(id)
		}
		kp, err := lc.Store.Knowledge(ctx, a.ID)
		if err != nil {
			return err
		}
		out = View{Assignment: a, Task: t, Knowledge: kp}
		return nil
	})
	if err != nil {
		return View{}, err
	}
	lc.Report(s.Metrics)
	return out, nil
}

// List reconciles and returns the assignments matching f. Staff must name
// a student or a task; results are limited to students in scope unless the
// actor created the task.
func (s *Service) List(ctx context.Context, actor scope.Actor, role scope.Role, f Filter) ([]Assignment, error) {
	if !actor.HasRole(role) {
		return nil, apperr.New(apperr.KindForbidden, "role %s is not assigned", role)
	}
	if role == scope.RoleStudent {
		f = Filter{StudentID: actor.ID, TaskID: f.TaskID}
	}
	if f.StudentID == "" && f.TaskID == "" {
		return nil, apperr.New(apperr.KindInvalidInput, "student_id or task_id is required")
	}

	var (
		out []Assignment
		lc  *Lifecycle
	)
	err := s.Unit(ctx, func(tx *sql.Tx, b *events.Batch) error {
		lc = NewLifecycle(tx, s.DB.ForUpdate(), b, s.Clock())
		var (
			list []Assignment
			err  error
		)
		if f.StudentID != "" {
			list, err = lc.Store.ListByStudent(ctx, f.StudentID)
		} else {
			list, err = lc.Store.ListByTask(ctx, f.TaskID)
		}
		if err != nil {
			return err
		}
		r := scope.NewResolver(directory.NewStore(tx))
		tasks := map[string]task.Task{}
		for _, a := range list {
			if f.TaskID != "" && a.TaskID != f.TaskID {
				continue
			}
			t, ok := tasks[a.TaskID]
			if !ok {
				if t, err = lc.Tasks.Get(ctx, a.TaskID); err != nil {
					return err
				}
				tasks[a.TaskID] = t
			}
			visible, err := CanView(ctx, r, actor, role, a, t)
			if err != nil {
				return err
			}
			if !visible {
				if f.StudentID != "" {
					return apperr.New(apperr.KindScopeViolation, "student is outside the actor's scope").WithIDs(f.StudentID)
				}
				continue
			}
			if err := lc.Reconcile(ctx, &a, t); err != nil {
				return err
			}
			out = append(out, a)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	lc.Report(s.Metrics)
	return out, nil
}

// CompleteKnowledge marks one bound knowledge document learned for the
// assignment's student and runs the completion check.
func (s *Service) CompleteKnowledge(ctx context.Context, actor scope.Actor, assignmentID, groupID string) (Progress, error) {
	var (
		out Progress
		lc  *Lifecycle
	)
	err := s.Unit(ctx, func(tx *sql.Tx, b *events.Batch) error {
		lc = NewLifecycle(tx, s.DB.ForUpdate(), b, s.Clock())
		a, t, err := lc.Load(ctx, assignmentID)
		if err != nil {
			return err
		}
		if a.StudentID != actor.ID {
			return apperr.New(apperr.KindForbidden, "only the assigned student can mark documents learned").WithIDs(assignmentID)
		}
		if t.Closed {
			return apperr.New(apperr.KindAlreadyClosed, "task is closed").WithIDs(t.ID)
		}
		bnd, ok := t.Binding(groupID)
		if !ok || bnd.Kind != content.KindKnowledge {
			return apperr.New(apperr.KindResourceNotFound, "knowledge document is not bound to this task").WithIDs(groupID)
		}
		kp, err := lc.Store.MarkLearned(ctx, a.ID, groupID, s.Clock())
		if err != nil {
			return err
		}
		if err := b.Add(ctx, events.KnowledgeCompleted, a.ID, map[string]string{
			"assignment_id": a.ID, "knowledge_group_id": groupID, "student_id": a.StudentID,
		}); err != nil {
			return err
		}
		done, err := lc.CheckCompletion(ctx, &a, t)
		if err != nil {
			return err
		}
		out = Progress{
			IsCompleted:   kp.IsCompleted,
			CompletedAt:   kp.CompletedAt,
			TaskCompleted: done,
			TaskStatus:    a.Status,
		}
		return nil
	})
	if err != nil {
		return Progress{}, err
	}
	lc.Report(s.Metrics)
	s.Logger.Debug("knowledge marked learned", "assignment_id", assignmentID, "group_id", groupID, "status", out.TaskStatus)
	return out, nil
}
