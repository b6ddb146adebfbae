package assignment

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/mind-engage/mindengage-training/internal/apperr"
	"github.com/mind-engage/mindengage-training/internal/db"
)

type Store struct {
	q    db.Querier
	lock string
}

func NewStore(q db.Querier, lock string) *Store { return &Store{q: q, lock: lock} }

const cols = `id, task_id, student_id, status, completed_at, updated_at`

func scan(sc interface{ Scan(...any) error }) (Assignment, error) {
	var (
		a       Assignment
		done    sql.NullInt64
		updated int64
	)
	if err := sc.Scan(&a.ID, &a.TaskID, &a.StudentID, &a.Status, &done, &updated); err != nil {
		return Assignment{}, err
	}
	a.CompletedAt = db.TimePtr(done)
	a.UpdatedAt = time.Unix(updated, 0).UTC()
	return a, nil
}

func (s *Store) Insert(ctx context.Context, a Assignment) error {
	_, err := s.q.ExecContext(ctx,
		`INSERT INTO assignments (`+cols+`) VALUES ($1,$2,$3,$4,$5,$6)`,
		a.ID, a.TaskID, a.StudentID, string(a.Status), db.NullUnix(a.CompletedAt), a.UpdatedAt.Unix())
	return err
}

// SeedKnowledge creates an unlearned progress row per knowledge document.
func (s *Store) SeedKnowledge(ctx context.Context, assignmentID string, groupIDs []string) error {
	for _, g := range groupIDs {
		if _, err := s.q.ExecContext(ctx,
			`INSERT INTO knowledge_progress (assignment_id, knowledge_group_id, is_completed) VALUES ($1,$2,0)`,
			assignmentID, g); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) Get(ctx context.Context, id string) (Assignment, error) {
	return s.get(ctx, id, "")
}

// GetForUpdate locks the assignment row for the rest of the transaction.
func (s *Store) GetForUpdate(ctx context.Context, id string) (Assignment, error) {
	return s.get(ctx, id, s.lock)
}

func (s *Store) get(ctx context.Context, id, lock string) (Assignment, error) {
	a, err := scan(s.q.QueryRowContext(ctx, `SELECT `+cols+` FROM assignments WHERE id=$1`+lock, id))
	if errors.Is(err, sql.ErrNoRows) {
		return Assignment{}, apperr.NotFound("assignment", id)
	}
	return a, err
}

func (s *Store) ListByStudent(ctx context.Context, studentID string) ([]Assignment, error) {
	return s.list(ctx, `SELECT `+cols+` FROM assignments WHERE student_id=$1 ORDER BY updated_at DESC, id`, studentID)
}

func (s *Store) ListByTask(ctx context.Context, taskID string) ([]Assignment, error) {
	return s.list(ctx, `SELECT `+cols+` FROM assignments WHERE task_id=$1 ORDER BY student_id`, taskID)
}

func (s *Store) list(ctx context.Context, query string, args ...any) ([]Assignment, error) {
	rows, err := s.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Assignment
	for rows.Next() {
		a, err := scan(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (s *Store) SetStatus(ctx context.Context, a Assignment) error {
	_, err := s.q.ExecContext(ctx,
		`UPDATE assignments SET status=$1, completed_at=$2, updated_at=$3 WHERE id=$4`,
		string(a.Status), db.NullUnix(a.CompletedAt), a.UpdatedAt.Unix(), a.ID)
	return err
}

func (s *Store) Knowledge(ctx context.Context, assignmentID string) ([]KnowledgeProgress, error) {
	rows, err := s.q.QueryContext(ctx,
		`SELECT knowledge_group_id, is_completed, completed_at FROM knowledge_progress
		 WHERE assignment_id=$1 ORDER BY knowledge_group_id`, assignmentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []KnowledgeProgress
	for rows.Next() {
		var (
			p    KnowledgeProgress
			done int
			at   sql.NullInt64
		)
		if err := rows.Scan(&p.KnowledgeGroupID, &done, &at); err != nil {
			return nil, err
		}
		p.IsCompleted = done == 1
		p.CompletedAt = db.TimePtr(at)
		out = append(out, p)
	}
	return out, rows.Err()
}

// MarkLearned sets the learned flag once; completed_at keeps the first mark.
func (s *Store) MarkLearned(ctx context.Context, assignmentID, groupID string, at time.Time) (KnowledgeProgress, error) {
	if _, err := s.q.ExecContext(ctx,
		`UPDATE knowledge_progress SET is_completed=1, completed_at=$1
		 WHERE assignment_id=$2 AND knowledge_group_id=$3 AND is_completed=0`, at.Unix(), assignmentID, groupID); err != nil {
		return KnowledgeProgress{}, err
	}
	var (
		p    = KnowledgeProgress{KnowledgeGroupID: groupID}
		done int
		when sql.NullInt64
	)
	err := s.q.QueryRowContext(ctx,
		`SELECT is_completed, completed_at FROM knowledge_progress WHERE assignment_id=$1 AND knowledge_group_id=$2`,
		assignmentID, groupID).Scan(&done, &when)
	if errors.Is(err, sql.ErrNoRows) {
		return KnowledgeProgress{}, apperr.NotFound("knowledge document", groupID)
	}
	if err != nil {
		return KnowledgeProgress{}, err
	}
	p.IsCompleted = done == 1
	p.CompletedAt = db.TimePtr(when)
	return p, nil
}

// Evidence gathers what the completion rule needs for one assignment. Only
// submissions handed in by deadline count towards completion.
func (s *Store) Evidence(ctx context.Context, assignmentID string, deadline time.Time) (Evidence, error) {
	ev := Evidence{Learned: map[string]bool{}, Graded: map[string]bool{}}
	kp, err := s.Knowledge(ctx, assignmentID)
	if err != nil {
		return ev, err
	}
	for _, p := range kp {
		if p.IsCompleted {
			ev.Learned[p.KnowledgeGroupID] = true
		}
	}
	rows, err := s.q.QueryContext(ctx,
		`SELECT DISTINCT group_id FROM submissions
		  WHERE assignment_id=$1 AND status='GRADED' AND submitted_at <= $2`, assignmentID, deadline.Unix())
	if err != nil {
		return ev, err
	}
	defer rows.Close()
	for rows.Next() {
		var g string
		if err := rows.Scan(&g); err != nil {
			return ev, err
		}
		ev.Graded[g] = true
	}
	return ev, rows.Err()
}

// AwaitingGrading reports whether a submission handed in by deadline still
// has ungraded subjective answers.
func (s *Store) AwaitingGrading(ctx context.Context, assignmentID string, deadline time.Time) (bool, error) {
	var n int
	err := s.q.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM submissions WHERE assignment_id=$1 AND status='GRADING' AND submitted_at <= $2`,
		assignmentID, deadline.Unix()).Scan(&n)
	return n > 0, err
}

// NonFinal returns the ids of the task's assignments that can still move.
func (s *Store) NonFinal(ctx context.Context, taskID string) ([]string, error) {
	rows, err := s.q.QueryContext(ctx,
		`SELECT id FROM assignments WHERE task_id=$1 AND status IN ('PENDING_EXAM','IN_PROGRESS') ORDER BY id`, taskID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}
