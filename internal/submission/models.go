// Package submission runs attempts at a test set: start, save answers,
// finalize, and human grading of subjective answers.
//
// Submission states: IN_PROGRESS → (finalize) → GRADED | GRADING, and
// GRADING → GRADED when the last ungraded subjective answer gets a grade.
// GRADED is terminal.
package submission

import (
	"encoding/json"
	"time"

	"github.com/mind-engage/mindengage-training/internal/content"
)

type Status string

const (
	InProgress Status = "IN_PROGRESS"
	Grading    Status = "GRADING"
	Graded     Status = "GRADED"
)

// Finalized reports whether the submission has been handed in.
func (s Status) Finalized() bool { return s == Grading || s == Graded }

type Submission struct {
	ID            string     `json:"id"`
	AssignmentID  string     `json:"assignment_id"`
	GroupID       string     `json:"group_id"`
	Version       int        `json:"version_number"`
	Attempt       int        `json:"attempt_number"`
	Status        Status     `json:"status"`
	ObtainedScore float64    `json:"obtained_score"`
	MaxScore      float64    `json:"max_score"`
	Passed        *bool      `json:"passed,omitempty"`
	StartedAt     time.Time  `json:"started_at"`
	SubmittedAt   *time.Time `json:"submitted_at,omitempty"`
	GradedAt      *time.Time `json:"graded_at,omitempty"`
	Answers       []Answer   `json:"answers,omitempty"`
}

// Answer is one pinned question of a submission and the student's response.
// IsCorrect and ObtainedScore stay nil until the answer is scored.
type Answer struct {
	ID              string               `json:"id"`
	SubmissionID    string               `json:"submission_id"`
	QuestionGroupID string               `json:"question_group_id"`
	QuestionVersion int                  `json:"question_version_number"`
	QuestionType    content.QuestionType `json:"question_type"`
	MaxScore        float64              `json:"max_score"`
	Position        int                  `json:"position"`
	RawResponse     json.RawMessage      `json:"raw_response,omitempty"`
	IsCorrect       *bool                `json:"is_correct,omitempty"`
	ObtainedScore   *float64             `json:"obtained_score,omitempty"`
	Comment         string               `json:"comment,omitempty"`
	GradedBy        string               `json:"graded_by,omitempty"`
	GradedAt        *time.Time           `json:"graded_at,omitempty"`
	Feedback        []string             `json:"feedback,omitempty"`

	// Question is filled on reads; answer keys are stripped for students
	// until the submission is GRADED.
	Question *content.Question `json:"question,omitempty"`
}

// Pending reports whether the answer is waiting for a human grader.
func (a Answer) Pending() bool {
	return !a.QuestionType.Objective() && a.RawResponse != nil && a.GradedAt == nil
}

// Grade is the outcome of GradeAnswer: the graded answer and the state of
// its submission and assignment afterwards.
type Grade struct {
	Answer           Answer  `json:"answer"`
	SubmissionStatus Status  `json:"submission_status"`
	ObtainedScore    float64 `json:"obtained_score"`
	Pending          int     `json:"pending"`
	AssignmentStatus string  `json:"assignment_status"`
}
