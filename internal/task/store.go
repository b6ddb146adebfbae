package task

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/mind-engage/mindengage-training/internal/apperr"
	"github.com/mind-engage/mindengage-training/internal/db"
)

// Store persists tasks and bindings through q (a *sql.DB or *sql.Tx).
type Store struct {
	q    db.Querier
	lock string
}

func NewStore(q db.Querier, lock string) *Store { return &Store{q: q, lock: lock} }

// Insert writes the task row and all of its bindings.
func (s *Store) Insert(ctx context.Context, t Task) error {
	var (
		dur  sql.NullInt64
		pass sql.NullFloat64
	)
	if t.Duration > 0 {
		dur = sql.NullInt64{Int64: int64(t.Duration / time.Second), Valid: true}
	}
	if t.PassScore != nil {
		pass = sql.NullFloat64{Float64: *t.PassScore, Valid: true}
	}
	if _, err := s.q.ExecContext(ctx,
		`INSERT INTO tasks (id, kind, title, creator_id, deadline, start_time, duration_sec, pass_score, closed, created_at)
		 VALUES ($1,$2,$3,$4,$5,$6,$7,$8,0,$9)`,
		t.ID, string(t.Kind), t.Title, t.CreatorID, t.Deadline.Unix(), db.NullUnix(t.StartTime), dur, pass, t.CreatedAt.Unix()); err != nil {
		return err
	}
	for _, b := range t.Bindings {
		if _, err := s.q.ExecContext(ctx,
			`INSERT INTO task_bindings (task_id, group_id, kind, version_number, position) VALUES ($1,$2,$3,$4,$5)`,
			t.ID, b.GroupID, string(b.Kind), b.Version, b.Position); err != nil {
			return err
		}
	}
	return nil
}

// Get loads a task with its bindings.
func (s *Store) Get(ctx context.Context, id string) (Task, error) {
	return s.get(ctx, id, "")
}

// GetForUpdate is Get with the task row locked until the transaction ends.
func (s *Store) GetForUpdate(ctx context.Context, id string) (Task, error) {
	return s.get(ctx, id, s.lock)
}

func (s *Store) get(ctx context.Context, id, lock string) (Task, error) {
	var (
		t                 Task
		deadline, created int64
		start, closedAt   sql.NullInt64
		dur               sql.NullInt64
		pass              sql.NullFloat64
		closed            int
	)
	err := s.q.QueryRowContext(ctx,
		`SELECT id, kind, title, creator_id, deadline, start_time, duration_sec, pass_score, closed, closed_at, created_at
		 FROM tasks WHERE id=$1`+lock, id).
		Scan(&t.ID, &t.Kind, &t.Title, &t.CreatorID, &deadline, &start, &dur, &pass, &closed, &closedAt, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return Task{}, apperr.NotFound("task", id)
	}
	if err != nil {
		return Task{}, err
	}
	t.Deadline = time.Unix(deadline, 0).UTC()
	t.StartTime = db.TimePtr(start)
	if dur.Valid {
		t.Duration = time.Duration(dur.Int64) * time.Second
	}
	if pass.Valid {
		p := pass.Float64
		t.PassScore = &p
	}
	t.Closed = closed == 1
	t.ClosedAt = db.TimePtr(closedAt)
	t.CreatedAt = time.Unix(created, 0).UTC()

	t.Bindings, err = s.bindings(ctx, id)
	return t, err
}

func (s *Store) bindings(ctx context.Context, taskID string) ([]Binding, error) {
	rows, err := s.q.QueryContext(ctx,
		`SELECT task_id, group_id, kind, version_number, position FROM task_bindings WHERE task_id=$1 ORDER BY position`, taskID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Binding
	for rows.Next() {
		var b Binding
		if err := rows.Scan(&b.TaskID, &b.GroupID, &b.Kind, &b.Version, &b.Position); err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

// MarkClosed flags the task as force-closed.
func (s *Store) MarkClosed(ctx context.Context, id string, at time.Time) error {
	_, err := s.q.ExecContext(ctx, `UPDATE tasks SET closed=1, closed_at=$1 WHERE id=$2`, at.Unix(), id)
	return err
}

// ListByCreator returns the tasks an actor created, newest first, without
// bindings.
func (s *Store) ListByCreator(ctx context.Context, creatorID string) ([]Task, error) {
	rows, err := s.q.QueryContext(ctx,
		`SELECT id FROM tasks WHERE creator_id=$1 ORDER BY created_at DESC, id`, creatorID)
	if err != nil {
		return nil, err
	}
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, err
		}
		ids = append(ids, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}
	out := make([]Task, 0, len(ids))
	for _, id := range ids {
		t, err := s.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, nil
}
