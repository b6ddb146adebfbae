// Package testkit builds a fully wired set of services on an in-memory
// database, with a controllable clock, for package and HTTP tests.
package testkit

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/mind-engage/mindengage-training/internal/assignment"
	"github.com/mind-engage/mindengage-training/internal/composer"
	"github.com/mind-engage/mindengage-training/internal/content"
	"github.com/mind-engage/mindengage-training/internal/db"
	"github.com/mind-engage/mindengage-training/internal/db/dbtest"
	"github.com/mind-engage/mindengage-training/internal/directory"
	"github.com/mind-engage/mindengage-training/internal/events"
	"github.com/mind-engage/mindengage-training/internal/scope"
	"github.com/mind-engage/mindengage-training/internal/submission"
	"github.com/mind-engage/mindengage-training/internal/svc"
)

// Clock is a settable time source.
type Clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *Clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type World struct {
	T           testing.TB
	Deps        svc.Deps
	Clock       *Clock
	Events      *events.Recorder
	Content     *content.Service
	Composer    *composer.Composer
	Assignments *assignment.Service
	Engine      *submission.Engine
}

// New wires every service on a fresh in-memory database. The clock starts
// at a fixed instant.
func New(t testing.TB) *World {
	t.Helper()
	return NewOn(t, dbtest.Open(t))
}

// NewOn is New on a caller-provided database.
func NewOn(t testing.TB, d *db.DB) *World {
	t.Helper()
	clock := &Clock{now: time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)}
	rec := &events.Recorder{}
	deps := svc.Deps{
		DB:        d,
		Publisher: rec,
		Logger:    slog.New(slog.NewTextHandler(io.Discard, nil)),
		Now:       clock.Now,
	}
	return &World{
		T:           t,
		Deps:        deps,
		Clock:       clock,
		Events:      rec,
		Content:     content.NewService(deps),
		Composer:    composer.New(deps),
		Assignments: assignment.NewService(deps),
		Engine:      submission.NewEngine(deps),
	}
}

// User inserts an active user and returns its actor view.
func (w *World) User(id string, roles []scope.Role, mentorID, departmentID string) scope.Actor {
	w.T.Helper()
	a := scope.Actor{ID: id, Username: id, Roles: roles, MentorID: mentorID, DepartmentID: departmentID, Active: true}
	require.NoError(w.T, directory.NewStore(w.Deps.DB.SQL).Insert(context.Background(), directory.User{Actor: a}))
	return a
}

func (w *World) create(kind content.Kind, title string, body any) content.Version {
	w.T.Helper()
	raw, err := json.Marshal(body)
	require.NoError(w.T, err)
	v, err := w.Content.Create(context.Background(), content.Draft{Kind: kind, Title: title, Content: raw}, "author")
	require.NoError(w.T, err)
	return v
}

// Choice creates a single-choice question with choices A, B, C.
func (w *World) Choice(prompt, key string, points float64) content.Version {
	return w.create(content.KindQuestion, prompt, content.Question{
		Type:      content.SingleChoice,
		Prompt:    prompt,
		Choices:   []content.Choice{{ID: "A", Label: "a"}, {ID: "B", Label: "b"}, {ID: "C", Label: "c"}},
		AnswerKey: []string{key},
		Points:    points,
	})
}

func (w *World) ShortAnswer(prompt string, points float64) content.Version {
	return w.create(content.KindQuestion, prompt, content.Question{Type: content.ShortAnswer, Prompt: prompt, Points: points})
}

func (w *World) TestSet(title string, questions ...content.Version) content.Version {
	items := make([]content.TestSetItem, 0, len(questions))
	for _, q := range questions {
		items = append(items, content.TestSetItem{QuestionGroupID: q.GroupID})
	}
	return w.create(content.KindTestSet, title, content.TestSet{Items: items})
}

func (w *World) Knowledge(title string) content.Version {
	return w.create(content.KindKnowledge, title, content.Knowledge{Body: title})
}
