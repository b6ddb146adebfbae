package submission

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/mind-engage/mindengage-training/internal/apperr"
	"github.com/mind-engage/mindengage-training/internal/content"
	"github.com/mind-engage/mindengage-training/internal/db"
)

type Store struct {
	q    db.Querier
	lock string
}

func NewStore(q db.Querier, lock string) *Store { return &Store{q: q, lock: lock} }

const subCols = `id, assignment_id, group_id, version_number, attempt_number, status, obtained_score, started_at, submitted_at, graded_at`

func scanSubmission(sc interface{ Scan(...any) error }) (Submission, error) {
	var (
		s                   Submission
		started             int64
		submitted, gradedAt sql.NullInt64
	)
	if err := sc.Scan(&s.ID, &s.AssignmentID, &s.GroupID, &s.Version, &s.Attempt, &s.Status, &s.ObtainedScore,
		&started, &submitted, &gradedAt); err != nil {
		return Submission{}, err
	}
	s.StartedAt = time.Unix(started, 0).UTC()
	s.SubmittedAt = db.TimePtr(submitted)
	s.GradedAt = db.TimePtr(gradedAt)
	return s, nil
}

func (s *Store) Insert(ctx context.Context, sub Submission) error {
	_, err := s.q.ExecContext(ctx,
		`INSERT INTO submissions (`+subCols+`) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)`,
		sub.ID, sub.AssignmentID, sub.GroupID, sub.Version, sub.Attempt, string(sub.Status), sub.ObtainedScore,
		sub.StartedAt.Unix(), db.NullUnix(sub.SubmittedAt), db.NullUnix(sub.GradedAt))
	return err
}

func (s *Store) Get(ctx context.Context, id string) (Submission, error) {
	return s.get(ctx, id, "")
}

// GetForUpdate locks the submission row. Every write to a submission or its
// answers goes through this lock first.
func (s *Store) GetForUpdate(ctx context.Context, id string) (Submission, error) {
	return s.get(ctx, id, s.lock)
}

func (s *Store) get(ctx context.Context, id, lock string) (Submission, error) {
	sub, err := scanSubmission(s.q.QueryRowContext(ctx, `SELECT `+subCols+` FROM submissions WHERE id=$1`+lock, id))
	if errors.Is(err, sql.ErrNoRows) {
		return Submission{}, apperr.NotFound("submission", id)
	}
	return sub, err
}

func (s *Store) ByAssignment(ctx context.Context, assignmentID string) ([]Submission, error) {
	rows, err := s.q.QueryContext(ctx,
		`SELECT `+subCols+` FROM submissions WHERE assignment_id=$1 ORDER BY group_id, attempt_number`, assignmentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Submission
	for rows.Next() {
		sub, err := scanSubmission(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, sub)
	}
	return out, rows.Err()
}

// Attempts counts the submissions of one test set under an assignment.
func (s *Store) Attempts(ctx context.Context, assignmentID, groupID string) (int, error) {
	var n int
	err := s.q.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM submissions WHERE assignment_id=$1 AND group_id=$2`, assignmentID, groupID).Scan(&n)
	return n, err
}

// FinalizedCount counts GRADING and GRADED submissions under an assignment,
// excluding exceptID.
func (s *Store) FinalizedCount(ctx context.Context, assignmentID, exceptID string) (int, error) {
	var n int
	err := s.q.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM submissions WHERE assignment_id=$1 AND id<>$2 AND status IN ('GRADING','GRADED')`,
		assignmentID, exceptID).Scan(&n)
	return n, err
}

// Open returns the IN_PROGRESS submission of a test set, if any.
func (s *Store) Open(ctx context.Context, assignmentID, groupID string) (Submission, bool, error) {
	sub, err := scanSubmission(s.q.QueryRowContext(ctx,
		`SELECT `+subCols+` FROM submissions WHERE assignment_id=$1 AND group_id=$2 AND status='IN_PROGRESS'
		 ORDER BY attempt_number DESC LIMIT 1`, assignmentID, groupID))
	if errors.Is(err, sql.ErrNoRows) {
		return Submission{}, false, nil
	}
	return sub, err == nil, err
}

func (s *Store) SetStatus(ctx context.Context, sub Submission) error {
	_, err := s.q.ExecContext(ctx,
		`UPDATE submissions SET status=$1, obtained_score=$2, submitted_at=$3, graded_at=$4 WHERE id=$5`,
		string(sub.Status), sub.ObtainedScore, db.NullUnix(sub.SubmittedAt), db.NullUnix(sub.GradedAt), sub.ID)
	return err
}

const answerCols = `id, submission_id, question_group_id, question_version_number, question_type, max_score, position,
  raw_response, is_correct, obtained_score, comment, COALESCE(graded_by,''), graded_at`

func scanAnswer(sc interface{ Scan(...any) error }) (Answer, error) {
	var (
		a       Answer
		raw     sql.NullString
		correct sql.NullInt64
		score   sql.NullFloat64
		graded  sql.NullInt64
	)
	if err := sc.Scan(&a.ID, &a.SubmissionID, &a.QuestionGroupID, &a.QuestionVersion, &a.QuestionType, &a.MaxScore,
		&a.Position, &raw, &correct, &score, &a.Comment, &a.GradedBy, &graded); err != nil {
		return Answer{}, err
	}
	if raw.Valid {
		a.RawResponse = json.RawMessage(raw.String)
	}
	if correct.Valid {
		c := correct.Int64 == 1
		a.IsCorrect = &c
	}
	if score.Valid {
		v := score.Float64
		a.ObtainedScore = &v
	}
	a.GradedAt = db.TimePtr(graded)
	return a, nil
}

func (s *Store) InsertAnswer(ctx context.Context, a Answer) error {
	_, err := s.q.ExecContext(ctx,
		`INSERT INTO answers (id, submission_id, question_group_id, question_version_number, question_type, max_score, position)
		 VALUES ($1,$2,$3,$4,$5,$6,$7)`,
		a.ID, a.SubmissionID, a.QuestionGroupID, a.QuestionVersion, string(a.QuestionType), a.MaxScore, a.Position)
	return err
}

func (s *Store) Answers(ctx context.Context, submissionID string) ([]Answer, error) {
	rows, err := s.q.QueryContext(ctx,
		`SELECT `+answerCols+` FROM answers WHERE submission_id=$1 ORDER BY position`, submissionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Answer
	for rows.Next() {
		a, err := scanAnswer(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// AnswerFor returns the answer row of one question in a submission.
func (s *Store) AnswerFor(ctx context.Context, submissionID, questionGroupID string) (Answer, error) {
	a, err := scanAnswer(s.q.QueryRowContext(ctx,
		`SELECT `+answerCols+` FROM answers WHERE submission_id=$1 AND question_group_id=$2`, submissionID, questionGroupID))
	if errors.Is(err, sql.ErrNoRows) {
		return Answer{}, apperr.New(apperr.KindResourceNotFound, "question is not part of this submission").WithIDs(questionGroupID)
	}
	return a, err
}

// Answer returns an answer by id, or ok=false when it is not bound to the
// submission.
func (s *Store) Answer(ctx context.Context, submissionID, answerID string) (Answer, bool, error) {
	a, err := scanAnswer(s.q.QueryRowContext(ctx,
		`SELECT `+answerCols+` FROM answers WHERE id=$1 AND submission_id=$2`, answerID, submissionID))
	if errors.Is(err, sql.ErrNoRows) {
		return Answer{}, false, nil
	}
	return a, err == nil, err
}

// SaveResponse stores the raw response and, for objective answers, the
// automatic score.
func (s *Store) SaveResponse(ctx context.Context, a Answer) error {
	var (
		correct sql.NullInt64
		score   sql.NullFloat64
	)
	if a.IsCorrect != nil {
		correct = sql.NullInt64{Int64: int64(db.BoolInt(*a.IsCorrect)), Valid: true}
	}
	if a.ObtainedScore != nil {
		score = sql.NullFloat64{Float64: *a.ObtainedScore, Valid: true}
	}
	_, err := s.q.ExecContext(ctx,
		`UPDATE answers SET raw_response=$1, is_correct=$2, obtained_score=$3, graded_at=$4 WHERE id=$5`,
		string(a.RawResponse), correct, score, db.NullUnix(a.GradedAt), a.ID)
	return err
}

// SettleUnanswered scores every answer without a response as incorrect.
func (s *Store) SettleUnanswered(ctx context.Context, submissionID string) error {
	_, err := s.q.ExecContext(ctx,
		`UPDATE answers SET is_correct=0, obtained_score=0 WHERE submission_id=$1 AND raw_response IS NULL`, submissionID)
	return err
}

func (s *Store) RecordGrade(ctx context.Context, answerID string, score float64, comment, grader string, at time.Time) error {
	_, err := s.q.ExecContext(ctx,
		`UPDATE answers SET obtained_score=$1, comment=$2, graded_by=$3, graded_at=$4 WHERE id=$5`,
		score, comment, grader, at.Unix(), answerID)
	return err
}

// Tally returns the sum of known scores and the number of answers still
// waiting for a human grader: subjective, answered, and not yet graded.
func (s *Store) Tally(ctx context.Context, submissionID string) (float64, int, error) {
	var total float64
	if err := s.q.QueryRowContext(ctx,
		`SELECT COALESCE(SUM(obtained_score),0) FROM answers WHERE submission_id=$1`, submissionID).Scan(&total); err != nil {
		return 0, 0, err
	}
	args := []any{submissionID}
	ph := make([]string, 0, len(content.ObjectiveTypes))
	for _, t := range content.ObjectiveTypes {
		args = append(args, string(t))
		ph = append(ph, fmt.Sprintf("$%d", len(args)))
	}
	var pending int
	err := s.q.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM answers WHERE submission_id=$1 AND question_type NOT IN (`+strings.Join(ph, ",")+`)
		 AND raw_response IS NOT NULL AND graded_at IS NULL`, args...).Scan(&pending)
	return total, pending, err
}
