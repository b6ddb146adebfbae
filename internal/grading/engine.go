// Package grading scores single answers against a pinned question.
//
// Objective types are exact-match with no partial credit. Subjective types
// are never scored here; they are flagged for a human grader.
package grading

import (
	"context"
	"encoding/json"
	"strings"
	"unicode"

	"github.com/mind-engage/mindengage-training/internal/apperr"
	"github.com/mind-engage/mindengage-training/internal/content"
)

// Q is the part of a pinned question grading needs.
type Q struct {
	Type      content.QuestionType
	Points    float64
	AnswerKey []string
}

// Result is the outcome of grading a single response.
type Result struct {
	Correct     bool
	AutoPoints  float64
	MaxPoints   float64
	NeedsManual bool
	Feedback    []string
}

// Strategy grades one question type. response is the decoded JSON value.
type Strategy interface {
	Grade(ctx context.Context, q Q, response any) (Result, error)
}

// Grader routes by question type to its Strategy.
type Grader struct {
	strategies map[content.QuestionType]Strategy
}

// NewDefaultGrader installs the built-in strategies.
func NewDefaultGrader() *Grader {
	return &Grader{
		strategies: map[content.QuestionType]Strategy{
			content.SingleChoice:   singleChoice{},
			content.MultipleChoice: multipleChoice{},
			content.TrueFalse:      trueFalse{},
			content.ShortAnswer:    shortAnswer{},
		},
	}
}

// Grade decodes raw and grades it. A response of the wrong shape is an
// InvalidInput error; an unknown type goes to a human.
func (g *Grader) Grade(ctx context.Context, q Q, raw json.RawMessage) (Result, error) {
	s, ok := g.strategies[q.Type]
	if !ok {
		return Result{MaxPoints: q.Points, NeedsManual: true, Feedback: []string{"no strategy available"}}, nil
	}
	var resp any
	if err := json.Unmarshal(raw, &resp); err != nil {
		return Result{}, apperr.New(apperr.KindInvalidInput, "response is not valid JSON")
	}
	return s.Grade(ctx, q, resp)
}

type singleChoice struct{}

func (singleChoice) Grade(_ context.Context, q Q, response any) (Result, error) {
	resp, ok := response.(string)
	if !ok {
		return Result{}, apperr.New(apperr.KindInvalidInput, "single_choice response must be a choice id")
	}
	return score(q, len(q.AnswerKey) == 1 && resp == q.AnswerKey[0]), nil
}

type multipleChoice struct{}

func (multipleChoice) Grade(_ context.Context, q Q, response any) (Result, error) {
	resp, ok := toStringSlice(response)
	if !ok {
		return Result{}, apperr.New(apperr.KindInvalidInput, "multiple_choice response must be a list of choice ids")
	}
	return score(q, setEqual(toSet(q.AnswerKey), toSet(resp))), nil
}

type trueFalse struct{}

func (trueFalse) Grade(_ context.Context, q Q, response any) (Result, error) {
	var resp string
	switch v := response.(type) {
	case bool:
		if v {
			resp = "true"
		} else {
			resp = "false"
		}
	case string:
		resp = strings.ToLower(strings.TrimSpace(v))
	default:
		return Result{}, apperr.New(apperr.KindInvalidInput, "true_false response must be a boolean")
	}
	return score(q, len(q.AnswerKey) == 1 && resp == q.AnswerKey[0]), nil
}

// shortAnswer always needs a human. A response equal to the reference
// answer after normalization gets a hint for the grader, never points.
type shortAnswer struct{}

func (shortAnswer) Grade(_ context.Context, q Q, response any) (Result, error) {
	resp, ok := response.(string)
	if !ok {
		return Result{}, apperr.New(apperr.KindInvalidInput, "short_answer response must be text")
	}
	res := Result{MaxPoints: q.Points, NeedsManual: true}
	for _, k := range q.AnswerKey {
		if normalize(k) != "" && normalize(k) == normalize(resp) {
			res.Feedback = append(res.Feedback, "matches reference answer")
			break
		}
	}
	return res, nil
}

func score(q Q, correct bool) Result {
	res := Result{Correct: correct, MaxPoints: q.Points}
	if correct {
		res.AutoPoints = q.Points
	}
	return res
}

// helpers

func toStringSlice(v any) ([]string, bool) {
	switch t := v.(type) {
	case []string:
		return t, true
	case []any:
		out := make([]string, 0, len(t))
		for _, e := range t {
			s, ok := e.(string)
			if !ok {
				return nil, false
			}
			out = append(out, s)
		}
		return out, true
	default:
		return nil, false
	}
}

func toSet(arr []string) map[string]struct{} {
	m := make(map[string]struct{}, len(arr))
	for _, s := range arr {
		m[s] = struct{}{}
	}
	return m
}

func setEqual(a, b map[string]struct{}) bool {
	if len(a) != len(b) {
		return false
	}
	for k := range a {
		if _, ok := b[k]; !ok {
			return false
		}
	}
	return true
}

// normalize casefolds, drops punctuation and collapses whitespace.
func normalize(s string) string {
	out := make([]rune, 0, len(s))
	space := false
	for _, r := range s {
		switch {
		case unicode.IsSpace(r):
			space = true
		case unicode.IsPunct(r):
		default:
			if space && len(out) > 0 {
				out = append(out, ' ')
			}
			space = false
			out = append(out, unicode.ToLower(r))
		}
	}
	return string(out)
}
