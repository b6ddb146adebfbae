package submission

import (
	"context"

	"github.com/mind-engage/mindengage-training/internal/apperr"
	"github.com/mind-engage/mindengage-training/internal/assignment"
	"github.com/mind-engage/mindengage-training/internal/content"
	"github.com/mind-engage/mindengage-training/internal/directory"
	"github.com/mind-engage/mindengage-training/internal/grading"
	"github.com/mind-engage/mindengage-training/internal/scope"
	"github.com/mind-engage/mindengage-training/internal/task"
)

// Get returns a submission with its answers and pinned questions. The
// student sees no answer keys until the submission is GRADED; graders get
// a hint on pending short answers that match the reference answer.
func (e *Engine) Get(ctx context.Context, actor scope.Actor, active scope.Role, id string) (Submission, error) {
	q := e.DB.SQL
	subs := NewStore(q, "")
	sub, err := subs.Get(ctx, id)
	if err != nil {
		return Submission{}, err
	}
	a, t, err := e.visible(ctx, actor, active, sub.AssignmentID)
	if err != nil {
		return Submission{}, err
	}
	redact := a.StudentID == actor.ID && sub.Status != Graded

	if sub.Answers, err = subs.Answers(ctx, sub.ID); err != nil {
		return Submission{}, err
	}
	cs := content.NewStore(q, "")
	for i := range sub.Answers {
		ans := &sub.Answers[i]
		sub.MaxScore += ans.MaxScore
		qv, err := cs.Version(ctx, ans.QuestionGroupID, ans.QuestionVersion)
		if err != nil {
			return Submission{}, err
		}
		if redact {
			qv = qv.Redacted()
		}
		question, err := qv.Question()
		if err != nil {
			return Submission{}, err
		}
		ans.Question = &question
		if !redact && ans.Pending() {
			res, err := e.grader.Grade(ctx, grading.Q{Type: question.Type, Points: ans.MaxScore, AnswerKey: question.AnswerKey}, ans.RawResponse)
			if err == nil {
				ans.Feedback = res.Feedback
			}
		}
	}
	if sub.Status == Graded && t.Kind == task.Exam && t.PassScore != nil {
		passed := t.Passed(sub.ObtainedScore)
		sub.Passed = &passed
	}
	return sub, nil
}

// List returns the submissions of one assignment, without answers.
func (e *Engine) List(ctx context.Context, actor scope.Actor, active scope.Role, assignmentID string) ([]Submission, error) {
	_, t, err := e.visible(ctx, actor, active, assignmentID)
	if err != nil {
		return nil, err
	}
	list, err := NewStore(e.DB.SQL, "").ByAssignment(ctx, assignmentID)
	if err != nil {
		return nil, err
	}
	for i := range list {
		if list[i].Status == Graded && t.Kind == task.Exam && t.PassScore != nil {
			passed := t.Passed(list[i].ObtainedScore)
			list[i].Passed = &passed
		}
	}
	return list, nil
}

func (e *Engine) visible(ctx context.Context, actor scope.Actor, active scope.Role, assignmentID string) (assignment.Assignment, task.Task, error) {
	q := e.DB.SQL
	a, err := assignment.NewStore(q, "").Get(ctx, assignmentID)
	if err != nil {
		return assignment.Assignment{}, task.Task{}, err
	}
	t, err := task.NewStore(q, "").Get(ctx, a.TaskID)
	if err != nil {
		return assignment.Assignment{}, task.Task{}, err
	}
	if a.StudentID == actor.ID {
		return a, t, nil
	}
	ok, err := assignment.CanView(ctx, scope.NewResolver(directory.NewStore(q)), actor, active, a, t)
	if err != nil {
		return assignment.Assignment{}, task.Task{}, err
	}
	if !ok {
		return assignment.Assignment{}, task.Task{}, apperr.New(apperr.KindForbidden, "submission is not visible to this actor")
	}
	return a, t, nil
}
