package content

import (
	"encoding/json"
	"fmt"
	"time"
)

// Kind is the type of instructional artifact a version group holds.
type Kind string

const (
	KindQuestion  Kind = "question"
	KindTestSet   Kind = "test_set"
	KindKnowledge Kind = "knowledge"
)

func (k Kind) Valid() bool {
	switch k {
	case KindQuestion, KindTestSet, KindKnowledge:
		return true
	}
	return false
}

// Lifecycle tags a whole version group as usable or soft-deleted.
type Lifecycle string

const (
	Active  Lifecycle = "active"
	Deleted Lifecycle = "deleted"
)

type QuestionType string

const (
	SingleChoice   QuestionType = "single_choice"
	MultipleChoice QuestionType = "multiple_choice"
	TrueFalse      QuestionType = "true_false"
	ShortAnswer    QuestionType = "short_answer"
)

// ObjectiveTypes are scored automatically by exact match.
var ObjectiveTypes = []QuestionType{SingleChoice, MultipleChoice, TrueFalse}

func (t QuestionType) Objective() bool {
	for _, o := range ObjectiveTypes {
		if t == o {
			return true
		}
	}
	return false
}

func (t QuestionType) Valid() bool {
	return t.Objective() || t == ShortAnswer
}

type Choice struct {
	ID    string `json:"id"`
	Label string `json:"label"`
}

type Question struct {
	Type      QuestionType `json:"type"`
	Prompt    string       `json:"prompt"`
	Choices   []Choice     `json:"choices,omitempty"`
	AnswerKey []string     `json:"answer_key,omitempty"` // reference answer only, for short_answer
	Points    float64      `json:"points"`
}

// TestSetItem points at one question. QuestionVersion 0 in a draft means
// "the current version"; stored versions always carry the resolved number.
type TestSetItem struct {
	QuestionGroupID string  `json:"question_group_id"`
	QuestionVersion int     `json:"question_version,omitempty"`
	Points          float64 `json:"points,omitempty"` // overrides the question's points when > 0
}

type TestSet struct {
	Description string        `json:"description,omitempty"`
	Items       []TestSetItem `json:"items"`
}

type Knowledge struct {
	Body string `json:"body,omitempty"`
	URL  string `json:"url,omitempty"`
}

// Ref pins one version of a group.
type Ref struct {
	GroupID string `json:"group_id"`
	Version int    `json:"version_number"`
}

func (r Ref) String() string { return fmt.Sprintf("%s@%d", r.GroupID, r.Version) }

// Version is one immutable row of a version group.
type Version struct {
	ID        string          `json:"id"`
	GroupID   string          `json:"group_id"`
	Kind      Kind            `json:"kind"`
	Number    int             `json:"version_number"`
	IsCurrent bool            `json:"is_current"`
	Lifecycle Lifecycle       `json:"lifecycle"`
	Title     string          `json:"title"`
	Content   json.RawMessage `json:"content"`
	CreatedBy string          `json:"created_by"`
	CreatedAt time.Time       `json:"created_at"`
}

func (v Version) Ref() Ref { return Ref{GroupID: v.GroupID, Version: v.Number} }

func (v Version) Question() (Question, error) {
	var q Question
	if v.Kind != KindQuestion {
		return q, fmt.Errorf("content: %s is a %s, not a question", v.Ref(), v.Kind)
	}
	err := json.Unmarshal(v.Content, &q)
	return q, err
}

func (v Version) TestSet() (TestSet, error) {
	var ts TestSet
	if v.Kind != KindTestSet {
		return ts, fmt.Errorf("content: %s is a %s, not a test set", v.Ref(), v.Kind)
	}
	err := json.Unmarshal(v.Content, &ts)
	return ts, err
}

func (v Version) Knowledge() (Knowledge, error) {
	var k Knowledge
	if v.Kind != KindKnowledge {
		return k, fmt.Errorf("content: %s is a %s, not a knowledge document", v.Ref(), v.Kind)
	}
	err := json.Unmarshal(v.Content, &k)
	return k, err
}

// Redacted returns a copy safe to show students: question answer keys are
// removed.
func (v Version) Redacted() Version {
	if v.Kind != KindQuestion {
		return v
	}
	q, err := v.Question()
	if err != nil {
		return v
	}
	q.AnswerKey = nil
	if b, err := json.Marshal(q); err == nil {
		v.Content = b
	}
	return v
}

// Draft is the input for a brand-new version group.
type Draft struct {
	Kind    Kind            `json:"kind" validate:"required,oneof=question test_set knowledge"`
	Title   string          `json:"title" validate:"required"`
	Content json.RawMessage `json:"content" validate:"required"`
}

// Patch edits the current version. Nil fields are copied unchanged; Content
// is merged key by key over the current content.
type Patch struct {
	Title   *string         `json:"title,omitempty"`
	Content json.RawMessage `json:"content,omitempty"`
}

// PinnedQuestion is a test-set item resolved to its question version.
type PinnedQuestion struct {
	Ref      Ref      `json:"ref"`
	Question Question `json:"question"`
	Points   float64  `json:"points"`
}
