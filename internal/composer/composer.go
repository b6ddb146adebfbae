// Package composer creates tasks: it validates targets against the actor's
// scope, pins the current version of every bound resource and creates one
// assignment per target, all in a single transaction.
package composer

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/mind-engage/mindengage-training/internal/apperr"
	"github.com/mind-engage/mindengage-training/internal/assignment"
	"github.com/mind-engage/mindengage-training/internal/content"
	"github.com/mind-engage/mindengage-training/internal/directory"
	"github.com/mind-engage/mindengage-training/internal/events"
	"github.com/mind-engage/mindengage-training/internal/scope"
	"github.com/mind-engage/mindengage-training/internal/svc"
	"github.com/mind-engage/mindengage-training/internal/task"
)

type Request struct {
	Kind             task.Kind
	Title            string
	ResourceGroupIDs []string
	TargetStudentIDs []string
	Deadline         time.Time
	StartTime        *time.Time
	Duration         time.Duration
	PassScore        *float64
}

// Result is a created task with the assignments generated for it.
type Result struct {
	task.Task
	Assignments []assignment.Assignment `json:"assignments"`
}

type Composer struct {
	svc.Deps
}

func New(deps svc.Deps) *Composer {
	return &Composer{Deps: deps.WithDefaults()}
}

// Create validates req and persists the task, its bindings and its
// assignments. Any rejection leaves nothing behind.
func (c *Composer) Create(ctx context.Context, actor scope.Actor, active scope.Role, req Request) (Result, error) {
	var out Result
	now := c.Clock()
	err := c.Unit(ctx, func(tx *sql.Tx, b *events.Batch) error {
		if err := checkShape(req); err != nil {
			return err
		}
		targets := dedupe(req.TargetStudentIDs)
		ok, rejected, err := scope.NewResolver(directory.NewStore(tx)).Validate(ctx, actor, active, targets)
		if err != nil {
			return err
		}
		if !ok {
			return apperr.New(apperr.KindScopeViolation, "%d target(s) outside the scope of %s as %s", len(rejected), actor.ID, active).
				WithIDs(rejected...)
		}

		bindings, err := pin(ctx, content.NewStore(tx, c.DB.ForUpdate()), req)
		if err != nil {
			return err
		}
		req = truncateSchedule(req)
		if err := checkSchedule(req, now); err != nil {
			return err
		}

		t := task.Task{
			ID:        uuid.NewString(),
			Kind:      req.Kind,
			Title:     strings.TrimSpace(req.Title),
			CreatorID: actor.ID,
			Deadline:  req.Deadline,
			PassScore: req.PassScore,
			CreatedAt: now,
		}
		if req.StartTime != nil {
			t.StartTime = req.StartTime
		}
		if req.Kind == task.Exam {
			t.Duration = req.Duration
		}
		for i := range bindings {
			bindings[i].TaskID = t.ID
		}
		t.Bindings = bindings
		if err := task.NewStore(tx, c.DB.ForUpdate()).Insert(ctx, t); err != nil {
			return err
		}

		as := assignment.NewStore(tx, c.DB.ForUpdate())
		var docs []string
		for _, bnd := range t.BindingsOf(content.KindKnowledge) {
			docs = append(docs, bnd.GroupID)
		}
		out = Result{Task: t}
		for _, sid := range targets {
			a := assignment.Assignment{
				ID:        uuid.NewString(),
				TaskID:    t.ID,
				StudentID: sid,
				Status:    assignment.Initial(t.Kind),
				UpdatedAt: now,
			}
			if err := as.Insert(ctx, a); err != nil {
				return err
			}
			if err := as.SeedKnowledge(ctx, a.ID, docs); err != nil {
				return err
			}
			out.Assignments = append(out.Assignments, a)
		}
		return b.Add(ctx, events.TaskCreated, t.ID, map[string]any{
			"task_id": t.ID, "kind": t.Kind, "creator_id": t.CreatorID, "students": targets,
		})
	})
	if err != nil {
		return Result{}, err
	}
	c.Metrics.TaskCreated(string(out.Kind))
	c.Logger.Info("task created", "task_id", out.ID, "kind", out.Kind, "assignments", len(out.Assignments))
	return out, nil
}

func checkShape(req Request) error {
	if !req.Kind.Valid() {
		return apperr.New(apperr.KindInvalidInput, "unknown task kind %q", req.Kind)
	}
	if strings.TrimSpace(req.Title) == "" {
		return apperr.New(apperr.KindInvalidInput, "title is required")
	}
	if len(req.TargetStudentIDs) == 0 {
		return apperr.New(apperr.KindInvalidInput, "at least one target student is required")
	}
	if req.PassScore != nil && *req.PassScore < 0 {
		return apperr.New(apperr.KindInvalidInput, "pass score cannot be negative")
	}
	return nil
}

// pin resolves and locks the current version of every requested group and
// checks the kinds against the task kind.
func pin(ctx context.Context, cs *content.Store, req Request) ([]task.Binding, error) {
	groups := req.ResourceGroupIDs
	if len(groups) == 0 {
		return nil, apperr.New(apperr.KindInvalidInput, "at least one resource is required")
	}
	if len(dedupe(groups)) != len(groups) {
		return nil, apperr.New(apperr.KindInvalidInput, "resources must not repeat")
	}
	want := req.Kind.BindableKind()
	var (
		out   []task.Binding
		wrong []string
	)
	for i, g := range groups {
		v, err := cs.CurrentForUpdate(ctx, g)
		if err != nil {
			return nil, err
		}
		if v.Kind != want {
			wrong = append(wrong, g)
			continue
		}
		out = append(out, task.Binding{GroupID: g, Kind: v.Kind, Version: v.Number, Position: i})
	}
	if req.Kind == task.Exam && (len(groups) != 1 || len(wrong) > 0) {
		return nil, apperr.New(apperr.KindInvalidInput, "an exam binds exactly one test set").WithIDs(groups...)
	}
	if len(wrong) > 0 {
		return nil, apperr.New(apperr.KindInvalidInput, "a %s task binds only %s resources", req.Kind, want).WithIDs(wrong...)
	}
	return out, nil
}

// truncateSchedule brings the schedule to the one-second resolution it is
// stored with, so validation sees the values that get persisted.
func truncateSchedule(req Request) Request {
	req.Deadline = req.Deadline.UTC().Truncate(time.Second)
	if req.StartTime != nil {
		st := req.StartTime.UTC().Truncate(time.Second)
		req.StartTime = &st
	}
	req.Duration = req.Duration.Truncate(time.Second)
	return req
}

func checkSchedule(req Request, now time.Time) error {
	if req.Deadline.IsZero() {
		return apperr.New(apperr.KindInvalidSchedule, "deadline is required")
	}
	if !req.Deadline.After(now) {
		return apperr.New(apperr.KindInvalidSchedule, "deadline %s is not in the future", req.Deadline.UTC().Format(time.RFC3339))
	}
	if req.StartTime != nil && !req.StartTime.Before(req.Deadline) {
		return apperr.New(apperr.KindInvalidSchedule, "start time must be before the deadline")
	}
	if req.Kind != task.Exam {
		return nil
	}
	if req.StartTime == nil {
		return apperr.New(apperr.KindInvalidSchedule, "an exam needs a start time")
	}
	if req.Duration < time.Second {
		return apperr.New(apperr.KindInvalidSchedule, "an exam needs a positive duration")
	}
	return nil
}

func dedupe(ids []string) []string {
	seen := make(map[string]bool, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	return out
}
