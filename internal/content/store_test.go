package content_test

import (
	"context"
	"encoding/json"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mind-engage/mindengage-training/internal/apperr"
	"github.com/mind-engage/mindengage-training/internal/content"
	"github.com/mind-engage/mindengage-training/internal/db/dbtest"
	"github.com/mind-engage/mindengage-training/internal/events"
	"github.com/mind-engage/mindengage-training/internal/svc"
)

func newService(t *testing.T) (*content.Service, *events.Recorder) {
	t.Helper()
	rec := &events.Recorder{}
	return content.NewService(svc.Deps{DB: dbtest.Open(t), Publisher: rec}), rec
}

func raw(t *testing.T, v any) json.RawMessage {
	t.Helper()
	b, err := json.Marshal(v)
	require.NoError(t, err)
	return b
}

func onePlusOne(t *testing.T) content.Draft {
	return content.Draft{Kind: content.KindQuestion, Title: "arith", Content: raw(t, content.Question{
		Type:      content.SingleChoice,
		Prompt:    "1+1=?",
		Choices:   []content.Choice{{ID: "A", Label: "1"}, {ID: "B", Label: "2"}, {ID: "C", Label: "4"}},
		AnswerKey: []string{"B"},
		Points:    10,
	})}
}

func TestCreateStartsAtVersionOne(t *testing.T) {
	s, rec := newService(t)
	ctx := context.Background()

	v, err := s.Create(ctx, onePlusOne(t), "author")
	require.NoError(t, err)
	assert.Equal(t, 1, v.Number)
	assert.True(t, v.IsCurrent)
	assert.Equal(t, content.Active, v.Lifecycle)

	cur, err := s.Current(ctx, v.GroupID)
	require.NoError(t, err)
	assert.Equal(t, v.ID, cur.ID)
	assert.Equal(t, []string{events.ResourceVersioned}, rec.Types())
}

func TestEditCreatesNewVersionAndKeepsOldImmutable(t *testing.T) {
	s, _ := newService(t)
	ctx := context.Background()

	v1, err := s.Create(ctx, onePlusOne(t), "author")
	require.NoError(t, err)

	v2, err := s.Edit(ctx, v1.GroupID, content.Patch{
		Content: json.RawMessage(`{"prompt":"2+2=?","answer_key":["C"]}`),
	}, "editor")
	require.NoError(t, err)
	assert.Equal(t, 2, v2.Number)
	assert.Equal(t, v1.Title, v2.Title, "unedited fields are copied")

	q2, err := v2.Question()
	require.NoError(t, err)
	assert.Equal(t, "2+2=?", q2.Prompt)
	assert.Equal(t, []string{"C"}, q2.AnswerKey)
	assert.Len(t, q2.Choices, 3)

	old, err := s.Version(ctx, v1.GroupID, 1)
	require.NoError(t, err)
	assert.False(t, old.IsCurrent)
	q1, err := old.Question()
	require.NoError(t, err)
	assert.Equal(t, "1+1=?", q1.Prompt)
	assert.Equal(t, []string{"B"}, q1.AnswerKey)

	cur, err := s.Current(ctx, v1.GroupID)
	require.NoError(t, err)
	assert.Equal(t, 2, cur.Number)

	hist, err := s.History(ctx, v1.GroupID)
	require.NoError(t, err)
	assert.Len(t, hist, 2)
}

func TestEditRejectsInvalidContentAndLeavesGroupUntouched(t *testing.T) {
	s, _ := newService(t)
	ctx := context.Background()

	v1, err := s.Create(ctx, onePlusOne(t), "author")
	require.NoError(t, err)

	_, err = s.Edit(ctx, v1.GroupID, content.Patch{Content: json.RawMessage(`{"answer_key":["Z"]}`)}, "editor")
	require.ErrorIs(t, err, apperr.InvalidInput)

	cur, err := s.Current(ctx, v1.GroupID)
	require.NoError(t, err)
	assert.Equal(t, 1, cur.Number)
}

func TestConcurrentEditsNeverReuseAVersionNumber(t *testing.T) {
	s, _ := newService(t)
	ctx := context.Background()

	v1, err := s.Create(ctx, onePlusOne(t), "author")
	require.NoError(t, err)

	const n = 8
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			title := "edited"
			_, err := s.Edit(ctx, v1.GroupID, content.Patch{Title: &title}, "editor")
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	hist, err := s.History(ctx, v1.GroupID)
	require.NoError(t, err)
	require.Len(t, hist, n+1)
	current := 0
	for i, v := range hist {
		assert.Equal(t, i+1, v.Number)
		if v.IsCurrent {
			current++
		}
	}
	assert.Equal(t, 1, current)
}

func TestTestSetPinsCurrentQuestionVersions(t *testing.T) {
	s, _ := newService(t)
	ctx := context.Background()

	q, err := s.Create(ctx, onePlusOne(t), "author")
	require.NoError(t, err)
	title := "arith v2"
	_, err = s.Edit(ctx, q.GroupID, content.Patch{Title: &title}, "author")
	require.NoError(t, err)

	ts, err := s.Create(ctx, content.Draft{Kind: content.KindTestSet, Title: "set", Content: raw(t, content.TestSet{
		Items: []content.TestSetItem{{QuestionGroupID: q.GroupID}},
	})}, "author")
	require.NoError(t, err)

	pinned, err := s.PinnedQuestions(ctx, ts)
	require.NoError(t, err)
	require.Len(t, pinned, 1)
	assert.Equal(t, content.Ref{GroupID: q.GroupID, Version: 2}, pinned[0].Ref)
	assert.Equal(t, 10.0, pinned[0].Points)

	// a later question edit does not move the test set's pin
	_, err = s.Edit(ctx, q.GroupID, content.Patch{Content: json.RawMessage(`{"prompt":"2+2=?"}`)}, "author")
	require.NoError(t, err)
	pinned, err = s.PinnedQuestions(ctx, ts)
	require.NoError(t, err)
	assert.Equal(t, 2, pinned[0].Ref.Version)
	assert.Equal(t, "1+1=?", pinned[0].Question.Prompt)
}

func TestTestSetRejectsNonQuestionItems(t *testing.T) {
	s, _ := newService(t)
	ctx := context.Background()

	doc, err := s.Create(ctx, content.Draft{Kind: content.KindKnowledge, Title: "doc", Content: json.RawMessage(`{"body":"read me"}`)}, "author")
	require.NoError(t, err)

	_, err = s.Create(ctx, content.Draft{Kind: content.KindTestSet, Title: "set", Content: raw(t, content.TestSet{
		Items: []content.TestSetItem{{QuestionGroupID: doc.GroupID}},
	})}, "author")
	assert.ErrorIs(t, err, apperr.InvalidInput)

	_, err = s.Create(ctx, content.Draft{Kind: content.KindTestSet, Title: "set", Content: raw(t, content.TestSet{
		Items: []content.TestSetItem{{QuestionGroupID: "missing"}},
	})}, "author")
	assert.ErrorIs(t, err, apperr.ResourceNotFound)
}

func TestDeleteHidesCurrentButKeepsPinnedVersions(t *testing.T) {
	s, _ := newService(t)
	ctx := context.Background()

	v, err := s.Create(ctx, onePlusOne(t), "author")
	require.NoError(t, err)
	require.NoError(t, s.Delete(ctx, v.GroupID))

	_, err = s.Current(ctx, v.GroupID)
	assert.ErrorIs(t, err, apperr.ResourceNotFound)
	_, err = s.Edit(ctx, v.GroupID, content.Patch{}, "author")
	assert.ErrorIs(t, err, apperr.ResourceNotFound)

	old, err := s.Version(ctx, v.GroupID, 1)
	require.NoError(t, err)
	assert.Equal(t, content.Deleted, old.Lifecycle)
}

func TestQuestionValidation(t *testing.T) {
	s, _ := newService(t)
	ctx := context.Background()

	bad := []content.Question{
		{Type: "essay", Prompt: "x", Points: 1},
		{Type: content.SingleChoice, Prompt: "x", Points: 1, Choices: []content.Choice{{ID: "A"}, {ID: "B"}}, AnswerKey: []string{"A", "B"}},
		{Type: content.MultipleChoice, Prompt: "x", Points: 1, Choices: []content.Choice{{ID: "A"}}, AnswerKey: []string{"A"}},
		{Type: content.TrueFalse, Prompt: "x", Points: 1, AnswerKey: []string{"yes"}},
		{Type: content.ShortAnswer, Prompt: "", Points: 1},
		{Type: content.ShortAnswer, Prompt: "x", Points: 0},
	}
	for _, q := range bad {
		_, err := s.Create(ctx, content.Draft{Kind: content.KindQuestion, Title: "q", Content: raw(t, q)}, "author")
		assert.ErrorIs(t, err, apperr.InvalidInput, "%+v", q)
	}

	_, err := s.Create(ctx, content.Draft{Kind: content.KindQuestion, Title: "q", Content: raw(t, content.Question{
		Type: content.ShortAnswer, Prompt: "Explain pinning", Points: 10,
	})}, "author")
	assert.NoError(t, err)
}

func TestRedactedStripsAnswerKey(t *testing.T) {
	s, _ := newService(t)
	v, err := s.Create(context.Background(), onePlusOne(t), "author")
	require.NoError(t, err)

	q, err := v.Redacted().Question()
	require.NoError(t, err)
	assert.Empty(t, q.AnswerKey)
	assert.Equal(t, "1+1=?", q.Prompt)
}
