package grading

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mind-engage/mindengage-training/internal/apperr"
	"github.com/mind-engage/mindengage-training/internal/content"
)

func TestObjectiveStrategies(t *testing.T) {
	g := NewDefaultGrader()
	ctx := context.Background()

	cases := []struct {
		name    string
		q       Q
		resp    string
		correct bool
	}{
		{"single hit", Q{Type: content.SingleChoice, Points: 10, AnswerKey: []string{"B"}}, `"B"`, true},
		{"single miss", Q{Type: content.SingleChoice, Points: 10, AnswerKey: []string{"B"}}, `"C"`, false},
		{"multi exact", Q{Type: content.MultipleChoice, Points: 4, AnswerKey: []string{"A", "C"}}, `["C","A"]`, true},
		{"multi subset gets nothing", Q{Type: content.MultipleChoice, Points: 4, AnswerKey: []string{"A", "C"}}, `["A"]`, false},
		{"multi superset gets nothing", Q{Type: content.MultipleChoice, Points: 4, AnswerKey: []string{"A", "C"}}, `["A","B","C"]`, false},
		{"true_false bool", Q{Type: content.TrueFalse, Points: 2, AnswerKey: []string{"true"}}, `true`, true},
		{"true_false string", Q{Type: content.TrueFalse, Points: 2, AnswerKey: []string{"false"}}, `"False"`, true},
		{"true_false miss", Q{Type: content.TrueFalse, Points: 2, AnswerKey: []string{"false"}}, `true`, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			res, err := g.Grade(ctx, tc.q, json.RawMessage(tc.resp))
			require.NoError(t, err)
			assert.Equal(t, tc.correct, res.Correct)
			assert.False(t, res.NeedsManual)
			assert.Equal(t, tc.q.Points, res.MaxPoints)
			if tc.correct {
				assert.Equal(t, tc.q.Points, res.AutoPoints)
			} else {
				assert.Zero(t, res.AutoPoints)
			}
		})
	}
}

func TestShortAnswerNeedsManual(t *testing.T) {
	g := NewDefaultGrader()
	q := Q{Type: content.ShortAnswer, Points: 10, AnswerKey: []string{"Version pinning!"}}

	res, err := g.Grade(context.Background(), q, json.RawMessage(`"version   pinning"`))
	require.NoError(t, err)
	assert.True(t, res.NeedsManual)
	assert.Zero(t, res.AutoPoints)
	assert.Contains(t, res.Feedback, "matches reference answer")

	res, err = g.Grade(context.Background(), q, json.RawMessage(`"something else"`))
	require.NoError(t, err)
	assert.True(t, res.NeedsManual)
	assert.Empty(t, res.Feedback)
}

func TestMalformedResponses(t *testing.T) {
	g := NewDefaultGrader()
	bad := []struct {
		q    Q
		resp string
	}{
		{Q{Type: content.SingleChoice, AnswerKey: []string{"A"}}, `["A"]`},
		{Q{Type: content.MultipleChoice, AnswerKey: []string{"A"}}, `"A"`},
		{Q{Type: content.MultipleChoice, AnswerKey: []string{"A"}}, `[1,2]`},
		{Q{Type: content.TrueFalse, AnswerKey: []string{"true"}}, `1`},
		{Q{Type: content.ShortAnswer}, `{}`},
		{Q{Type: content.SingleChoice, AnswerKey: []string{"A"}}, `not json`},
	}
	for _, b := range bad {
		_, err := g.Grade(context.Background(), b.q, json.RawMessage(b.resp))
		assert.ErrorIs(t, err, apperr.InvalidInput, "%s %s", b.q.Type, b.resp)
	}
}

func TestNormalize(t *testing.T) {
	assert.Equal(t, "hello world", normalize("  Hello,   World! "))
	assert.Equal(t, "", normalize("?!"))
}
