package composer

import (
	"context"
	"database/sql"

	"github.com/mind-engage/mindengage-training/internal/apperr"
	"github.com/mind-engage/mindengage-training/internal/assignment"
	"github.com/mind-engage/mindengage-training/internal/directory"
	"github.com/mind-engage/mindengage-training/internal/events"
	"github.com/mind-engage/mindengage-training/internal/scope"
	"github.com/mind-engage/mindengage-training/internal/task"
)

// Close force-closes a task. Every assignment that is not yet COMPLETED or
// OVERDUE becomes OVERDUE, and later mutations fail with AlreadyClosed.
func (c *Composer) Close(ctx context.Context, actor scope.Actor, active scope.Role, taskID string) (task.Task, error) {
	var (
		out task.Task
		lc  *assignment.Lifecycle
	)
	err := c.Unit(ctx, func(tx *sql.Tx, b *events.Batch) error {
		now := c.Clock()
		lc = assignment.NewLifecycle(tx, c.DB.ForUpdate(), b, now)
		t, err := lc.Tasks.GetForUpdate(ctx, taskID)
		if err != nil {
			return err
		}
		if t.Closed {
			return apperr.New(apperr.KindAlreadyClosed, "task is already closed").WithIDs(t.ID)
		}
		if t.CreatorID != actor.ID && !(active == scope.RoleAdmin && actor.HasRole(scope.RoleAdmin)) {
			return apperr.New(apperr.KindForbidden, "only the creator or an admin can close a task").WithIDs(t.ID)
		}
		if err := lc.Tasks.MarkClosed(ctx, t.ID, now); err != nil {
			return err
		}
		t.Closed, t.ClosedAt = true, &now

		ids, err := lc.Store.NonFinal(ctx, t.ID)
		if err != nil {
			return err
		}
		for _, id := range ids {
			a, err := lc.Store.GetForUpdate(ctx, id)
			if err != nil {
				return err
			}
			if err := lc.Reconcile(ctx, &a, t); err != nil {
				return err
			}
		}
		out = t
		return b.Add(ctx, events.TaskClosed, t.ID, map[string]any{"task_id": t.ID, "closed_by": actor.ID, "overdue": len(ids)})
	})
	if err != nil {
		return task.Task{}, err
	}
	lc.Report(c.Metrics)
	c.Logger.Info("task closed", "task_id", out.ID, "by", actor.ID)
	return out, nil
}

// Get returns a task to its creator, an admin, a student assigned to it, or
// staff with at least one of its students in scope.
func (c *Composer) Get(ctx context.Context, actor scope.Actor, active scope.Role, taskID string) (task.Task, error) {
	q := c.DB.SQL
	t, err := task.NewStore(q, "").Get(ctx, taskID)
	if err != nil {
		return task.Task{}, err
	}
	if !actor.HasRole(active) {
		return task.Task{}, apperr.New(apperr.KindForbidden, "role %s is not assigned", active)
	}
	if t.CreatorID == actor.ID || active == scope.RoleAdmin {
		return t, nil
	}
	list, err := assignment.NewStore(q, "").ListByTask(ctx, t.ID)
	if err != nil {
		return task.Task{}, err
	}
	r := scope.NewResolver(directory.NewStore(q))
	for _, a := range list {
		ok, err := assignment.CanView(ctx, r, actor, active, a, t)
		if err != nil {
			return task.Task{}, err
		}
		if ok {
			return t, nil
		}
	}
	return task.Task{}, apperr.New(apperr.KindForbidden, "task is not visible to this actor").WithIDs(t.ID)
}

// Mine lists the tasks the actor created.
func (c *Composer) Mine(ctx context.Context, actor scope.Actor) ([]task.Task, error) {
	return task.NewStore(c.DB.SQL, "").ListByCreator(ctx, actor.ID)
}
