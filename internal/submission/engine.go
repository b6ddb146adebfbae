package submission

import (
	"context"
	"database/sql"
	"encoding/json"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/mind-engage/mindengage-training/internal/apperr"
	"github.com/mind-engage/mindengage-training/internal/assignment"
	"github.com/mind-engage/mindengage-training/internal/content"
	"github.com/mind-engage/mindengage-training/internal/directory"
	"github.com/mind-engage/mindengage-training/internal/events"
	"github.com/mind-engage/mindengage-training/internal/grading"
	"github.com/mind-engage/mindengage-training/internal/scope"
	"github.com/mind-engage/mindengage-training/internal/svc"
	"github.com/mind-engage/mindengage-training/internal/task"
)

type Engine struct {
	svc.Deps
	grader *grading.Grader
}

func NewEngine(deps svc.Deps) *Engine {
	return &Engine{Deps: deps.WithDefaults(), grader: grading.NewDefaultGrader()}
}

// txn is the set of stores one unit of work uses.
type txn struct {
	subs    *Store
	content *content.Store
	lc      *assignment.Lifecycle
	batch   *events.Batch
	tx      *sql.Tx
}

func (e *Engine) unit(ctx context.Context, fn func(x *txn) error) error {
	var lc *assignment.Lifecycle
	err := e.Unit(ctx, func(tx *sql.Tx, b *events.Batch) error {
		lock := e.DB.ForUpdate()
		lc = assignment.NewLifecycle(tx, lock, b, e.Clock())
		return fn(&txn{subs: NewStore(tx, lock), content: content.NewStore(tx, ""), lc: lc, batch: b, tx: tx})
	})
	if err != nil {
		return err
	}
	lc.Report(e.Metrics)
	return nil
}

// Start opens an attempt at a bound test set. For an exam it must be inside
// the task window and no finalized submission may exist; an exam attempt
// already in progress is returned as is. Practice attempts are numbered
// 1..n per test set.
func (e *Engine) Start(ctx context.Context, actor scope.Actor, assignmentID, testSetGroupID string) (Submission, error) {
	var out Submission
	now := e.Clock()
	err := e.unit(ctx, func(x *txn) error {
		a, t, err := x.lc.Load(ctx, assignmentID)
		if err != nil {
			return err
		}
		if err := ownedOpen(actor, a, t); err != nil {
			return err
		}
		if t.Kind == task.Learning {
			return apperr.New(apperr.KindInvalidInput, "a learning task has no test sets").WithIDs(t.ID)
		}
		bnd, ok := t.Binding(testSetGroupID)
		if !ok || bnd.Kind != content.KindTestSet {
			return apperr.New(apperr.KindResourceNotFound, "test set is not bound to this task").WithIDs(testSetGroupID)
		}

		if t.Kind == task.Exam {
			if !t.InWindow(now) {
				return apperr.New(apperr.KindOutOfWindow, "exam is open from %s to %s", windowStart(t), t.Deadline.Format(time.RFC3339)).
					WithState(string(a.Status))
			}
			n, err := x.subs.FinalizedCount(ctx, a.ID, "")
			if err != nil {
				return err
			}
			if n > 0 {
				return apperr.New(apperr.KindAlreadySubmitted, "exam already submitted").WithIDs(a.ID)
			}
			open, found, err := x.subs.Open(ctx, a.ID, bnd.GroupID)
			if err != nil {
				return err
			}
			if found {
				out = open
				return nil
			}
			if a.Status == assignment.PendingExam {
				if err := x.lc.Move(ctx, &a, assignment.InProgress); err != nil {
					return err
				}
			}
		}

		prior, err := x.subs.Attempts(ctx, a.ID, bnd.GroupID)
		if err != nil {
			return err
		}
		sub := Submission{
			ID:           uuid.NewString(),
			AssignmentID: a.ID,
			GroupID:      bnd.GroupID,
			Version:      bnd.Version,
			Attempt:      prior + 1,
			Status:       InProgress,
			StartedAt:    now,
		}
		if err := x.subs.Insert(ctx, sub); err != nil {
			return err
		}

		ts, err := x.content.Version(ctx, bnd.GroupID, bnd.Version)
		if err != nil {
			return err
		}
		pinned, err := x.content.PinnedQuestions(ctx, ts)
		if err != nil {
			return err
		}
		for i, p := range pinned {
			ans := Answer{
				ID:              uuid.NewString(),
				SubmissionID:    sub.ID,
				QuestionGroupID: p.Ref.GroupID,
				QuestionVersion: p.Ref.Version,
				QuestionType:    p.Question.Type,
				MaxScore:        p.Points,
				Position:        i,
			}
			if err := x.subs.InsertAnswer(ctx, ans); err != nil {
				return err
			}
			sub.MaxScore += p.Points
			sub.Answers = append(sub.Answers, ans)
		}
		out = sub
		return x.batch.Add(ctx, events.SubmissionStarted, sub.ID, map[string]any{
			"submission_id": sub.ID, "assignment_id": a.ID, "group_id": sub.GroupID,
			"version_number": sub.Version, "attempt_number": sub.Attempt,
		})
	})
	if err != nil {
		return Submission{}, err
	}
	e.Logger.Info("submission started", "submission_id", out.ID, "assignment_id", out.AssignmentID, "attempt", out.Attempt)
	return out, nil
}

// SaveAnswer stores a response. Objective answers are scored on the spot
// against the pinned answer key; subjective ones wait for a grader.
func (e *Engine) SaveAnswer(ctx context.Context, actor scope.Actor, submissionID, questionGroupID string, raw json.RawMessage) (Answer, error) {
	if len(raw) == 0 || !json.Valid(raw) {
		return Answer{}, apperr.New(apperr.KindInvalidInput, "raw_response must be JSON")
	}
	var out Answer
	now := e.Clock()
	err := e.unit(ctx, func(x *txn) error {
		sub, a, t, err := e.lockForStudent(ctx, x, actor, submissionID)
		if err != nil {
			return err
		}
		if t.Kind == task.Exam {
			if !t.InWindow(now) {
				return apperr.New(apperr.KindOutOfWindow, "exam deadline has passed").WithState(string(a.Status))
			}
			if t.Duration > 0 && now.After(sub.StartedAt.Add(t.Duration)) {
				return apperr.New(apperr.KindOutOfWindow, "exam time of %s is used up", t.Duration).WithState(string(sub.Status))
			}
		}

		ans, err := x.subs.AnswerFor(ctx, sub.ID, questionGroupID)
		if err != nil {
			return err
		}
		qv, err := x.content.Version(ctx, ans.QuestionGroupID, ans.QuestionVersion)
		if err != nil {
			return err
		}
		q, err := qv.Question()
		if err != nil {
			return err
		}
		res, err := e.grader.Grade(ctx, grading.Q{Type: q.Type, Points: ans.MaxScore, AnswerKey: q.AnswerKey}, raw)
		if err != nil {
			return err
		}

		ans.RawResponse = raw
		ans.IsCorrect, ans.ObtainedScore, ans.GradedAt = nil, nil, nil
		if !res.NeedsManual {
			correct, pts := res.Correct, res.AutoPoints
			ans.IsCorrect, ans.ObtainedScore, ans.GradedAt = &correct, &pts, &now
		}
		if err := x.subs.SaveResponse(ctx, ans); err != nil {
			return err
		}
		out = ans
		return nil
	})
	return out, err
}

// Finalize hands the submission in. Unanswered questions score zero. The
// result is GRADED when no answered subjective question is waiting for a
// grader, and the assignment completion check runs; otherwise GRADING.
func (e *Engine) Finalize(ctx context.Context, actor scope.Actor, submissionID string) (Submission, error) {
	var out Submission
	now := e.Clock()
	err := e.unit(ctx, func(x *txn) error {
		sub, a, t, err := e.lockForStudent(ctx, x, actor, submissionID)
		if err != nil {
			return err
		}
		if t.Kind == task.Exam {
			n, err := x.subs.FinalizedCount(ctx, a.ID, sub.ID)
			if err != nil {
				return err
			}
			if n > 0 {
				return apperr.New(apperr.KindAlreadySubmitted, "exam already submitted").WithIDs(a.ID)
			}
		}
		if err := x.subs.SettleUnanswered(ctx, sub.ID); err != nil {
			return err
		}
		total, pending, err := x.subs.Tally(ctx, sub.ID)
		if err != nil {
			return err
		}
		sub.ObtainedScore = total
		sub.SubmittedAt = &now
		sub.Status = Grading
		if pending == 0 {
			sub.Status = Graded
			sub.GradedAt = &now
		}
		if err := x.subs.SetStatus(ctx, sub); err != nil {
			return err
		}
		if err := x.batch.Add(ctx, events.SubmissionFinalized, sub.ID, finalizedEvent(sub, a, pending)); err != nil {
			return err
		}
		if sub.Status == Graded {
			if err := e.graded(ctx, x, sub, &a, t); err != nil {
				return err
			}
		}
		out = sub
		return nil
	})
	if err != nil {
		return Submission{}, err
	}
	e.Metrics.SubmissionFinalized(string(out.Status))
	e.Logger.Info("submission finalized", "submission_id", out.ID, "status", out.Status, "score", out.ObtainedScore)
	return e.Get(ctx, actor, scope.RoleStudent, out.ID)
}

// GradeAnswer records a human grade for one subjective answer. The
// submission row stays locked from the status check to the pending count,
// so exactly one grader observes the count reach zero and flips the
// submission to GRADED.
func (e *Engine) GradeAnswer(ctx context.Context, actor scope.Actor, active scope.Role, submissionID, answerID string, points float64, comment string) (Grade, error) {
	if math.IsNaN(points) || math.IsInf(points, 0) || points < 0 {
		return Grade{}, apperr.New(apperr.KindInvalidInput, "score must be a non-negative number")
	}
	var out Grade
	now := e.Clock()
	err := e.unit(ctx, func(x *txn) error {
		sub, err := x.subs.GetForUpdate(ctx, submissionID)
		if err != nil {
			return err
		}
		if sub.Status != Grading {
			return apperr.New(apperr.KindNotGrading, "submission is not awaiting grading").WithIDs(sub.ID).WithState(string(sub.Status))
		}
		ans, ok, err := x.subs.Answer(ctx, sub.ID, answerID)
		if err != nil {
			return err
		}
		if !ok {
			return apperr.New(apperr.KindWrongAnswerKind, "answer is not part of this submission").WithIDs(answerID)
		}
		if ans.QuestionType.Objective() {
			return apperr.New(apperr.KindWrongAnswerKind, "%s answers are graded automatically", ans.QuestionType).WithIDs(answerID)
		}
		if points > ans.MaxScore {
			return apperr.New(apperr.KindInvalidInput, "score %.2f exceeds the maximum of %.2f", points, ans.MaxScore).WithIDs(answerID)
		}

		a, t, err := x.lc.Load(ctx, sub.AssignmentID)
		if err != nil {
			return err
		}
		if active == scope.RoleStudent {
			return apperr.New(apperr.KindForbidden, "students cannot grade")
		}
		ok, err = assignment.CanView(ctx, scope.NewResolver(directory.NewStore(x.tx)), actor, active, a, t)
		if err != nil {
			return err
		}
		if !ok {
			return apperr.New(apperr.KindScopeViolation, "student is outside the grader's scope").WithIDs(a.StudentID)
		}

		comment = strings.TrimSpace(comment)
		if err := x.subs.RecordGrade(ctx, ans.ID, points, comment, actor.ID, now); err != nil {
			return err
		}
		ans.ObtainedScore, ans.Comment, ans.GradedBy, ans.GradedAt = &points, comment, actor.ID, &now
		if err := x.batch.Add(ctx, events.AnswerGraded, ans.ID, map[string]any{
			"answer_id": ans.ID, "submission_id": sub.ID, "score": points, "grader_id": actor.ID,
		}); err != nil {
			return err
		}

		total, pending, err := x.subs.Tally(ctx, sub.ID)
		if err != nil {
			return err
		}
		sub.ObtainedScore = total
		if pending == 0 {
			sub.Status = Graded
			sub.GradedAt = &now
		}
		if err := x.subs.SetStatus(ctx, sub); err != nil {
			return err
		}
		if sub.Status == Graded {
			if err := e.graded(ctx, x, sub, &a, t); err != nil {
				return err
			}
		}
		out = Grade{
			Answer:           ans,
			SubmissionStatus: sub.Status,
			ObtainedScore:    total,
			Pending:          pending,
			AssignmentStatus: string(a.Status),
		}
		return nil
	})
	if err != nil {
		return Grade{}, err
	}
	e.Metrics.AnswerGraded()
	e.Logger.Info("answer graded", "submission_id", submissionID, "answer_id", answerID, "pending", out.Pending)
	return out, nil
}

// graded emits submission.graded and runs the assignment completion check.
func (e *Engine) graded(ctx context.Context, x *txn, sub Submission, a *assignment.Assignment, t task.Task) error {
	if err := x.batch.Add(ctx, events.SubmissionGraded, sub.ID, map[string]any{
		"submission_id": sub.ID, "assignment_id": a.ID, "obtained_score": sub.ObtainedScore,
	}); err != nil {
		return err
	}
	_, err := x.lc.CheckCompletion(ctx, a, t)
	return err
}

// lockForStudent locks an IN_PROGRESS submission owned by actor and
// reconciles its assignment.
func (e *Engine) lockForStudent(ctx context.Context, x *txn, actor scope.Actor, submissionID string) (Submission, assignment.Assignment, task.Task, error) {
	sub, err := x.subs.GetForUpdate(ctx, submissionID)
	if err != nil {
		return Submission{}, assignment.Assignment{}, task.Task{}, err
	}
	a, t, err := x.lc.Load(ctx, sub.AssignmentID)
	if err != nil {
		return Submission{}, assignment.Assignment{}, task.Task{}, err
	}
	if err := ownedOpen(actor, a, t); err != nil {
		return Submission{}, assignment.Assignment{}, task.Task{}, err
	}
	if sub.Status != InProgress {
		return Submission{}, assignment.Assignment{}, task.Task{}, apperr.New(apperr.KindAlreadySubmitted, "submission is already finalized").
			WithIDs(sub.ID).WithState(string(sub.Status))
	}
	return sub, a, t, nil
}

func ownedOpen(actor scope.Actor, a assignment.Assignment, t task.Task) error {
	if a.StudentID != actor.ID {
		return apperr.New(apperr.KindForbidden, "assignment belongs to another student").WithIDs(a.ID)
	}
	if t.Closed {
		return apperr.New(apperr.KindAlreadyClosed, "task is closed").WithIDs(t.ID)
	}
	return nil
}

func finalizedEvent(sub Submission, a assignment.Assignment, pending int) map[string]any {
	return map[string]any{
		"submission_id": sub.ID, "assignment_id": a.ID, "student_id": a.StudentID,
		"status": sub.Status, "obtained_score": sub.ObtainedScore, "pending": pending,
	}
}

func windowStart(t task.Task) string {
	if t.StartTime == nil {
		return t.CreatedAt.Format(time.RFC3339)
	}
	return t.StartTime.Format(time.RFC3339)
}
