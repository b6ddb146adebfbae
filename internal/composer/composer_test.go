package composer_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mind-engage/mindengage-training/internal/apperr"
	"github.com/mind-engage/mindengage-training/internal/assignment"
	"github.com/mind-engage/mindengage-training/internal/composer"
	"github.com/mind-engage/mindengage-training/internal/content"
	"github.com/mind-engage/mindengage-training/internal/events"
	"github.com/mind-engage/mindengage-training/internal/scope"
	"github.com/mind-engage/mindengage-training/internal/task"
	"github.com/mind-engage/mindengage-training/internal/testkit"
)

type org struct {
	admin, mentor, teamLead, s1, s2 scope.Actor
}

func seed(w *testkit.World) org {
	return org{
		admin:    w.User("adm", []scope.Role{scope.RoleAdmin}, "", ""),
		mentor:   w.User("m1", []scope.Role{scope.RoleMentor}, "", "d1"),
		teamLead: w.User("tm", []scope.Role{scope.RoleTeamManager}, "", ""),
		s1:       w.User("s1", []scope.Role{scope.RoleStudent}, "m1", "d1"),
		s2:       w.User("s2", []scope.Role{scope.RoleStudent}, "m2", "d2"),
	}
}

func examRequest(w *testkit.World, groupID string, students ...string) composer.Request {
	now := w.Clock.Now()
	start := now.Add(-time.Hour)
	return composer.Request{
		Kind:             task.Exam,
		Title:            "midterm",
		ResourceGroupIDs: []string{groupID},
		TargetStudentIDs: students,
		StartTime:        &start,
		Deadline:         now.Add(2 * time.Hour),
		Duration:         90 * time.Minute,
	}
}

func TestCreateRejectsTargetsOutsideScopeAndPersistsNothing(t *testing.T) {
	w := testkit.New(t)
	o := seed(w)
	ts := w.TestSet("set", w.Choice("1+1=?", "B", 10))
	ctx := context.Background()

	_, err := w.Composer.Create(ctx, o.mentor, scope.RoleMentor, examRequest(w, ts.GroupID, "s1", "s2", "ghost"))
	require.ErrorIs(t, err, apperr.ScopeViolation)
	ae, ok := apperr.As(err)
	require.True(t, ok)
	assert.Equal(t, []string{"s2", "ghost"}, ae.IDs)

	mine, err := w.Composer.Mine(ctx, o.mentor)
	require.NoError(t, err)
	assert.Empty(t, mine)
	list, err := w.Assignments.List(ctx, o.s1, scope.RoleStudent, assignment.Filter{})
	require.NoError(t, err)
	assert.Empty(t, list)
	assert.NotContains(t, w.Events.Types(), events.TaskCreated)
}

func TestCreateUsesTheExplicitActiveRole(t *testing.T) {
	w := testkit.New(t)
	o := seed(w)
	ts := w.TestSet("set", w.Choice("1+1=?", "B", 10))
	ctx := context.Background()

	// mentor cannot act as admin
	_, err := w.Composer.Create(ctx, o.mentor, scope.RoleAdmin, examRequest(w, ts.GroupID, "s1"))
	assert.ErrorIs(t, err, apperr.ScopeViolation)

	// team managers have an empty creation scope
	_, err = w.Composer.Create(ctx, o.teamLead, scope.RoleTeamManager, examRequest(w, ts.GroupID, "s1"))
	assert.ErrorIs(t, err, apperr.ScopeViolation)

	_, err = w.Composer.Create(ctx, o.admin, scope.RoleAdmin, examRequest(w, ts.GroupID, "s1", "s2"))
	assert.NoError(t, err)
}

func TestCreateExamPinsVersionAndCreatesPendingAssignments(t *testing.T) {
	w := testkit.New(t)
	o := seed(w)
	q := w.Choice("1+1=?", "B", 10)
	ts := w.TestSet("set", q)
	ctx := context.Background()

	res, err := w.Composer.Create(ctx, o.admin, scope.RoleAdmin, examRequest(w, ts.GroupID, "s1", "s2", "s1"))
	require.NoError(t, err)
	require.Len(t, res.Assignments, 2, "duplicate targets collapse")
	for _, a := range res.Assignments {
		assert.Equal(t, assignment.PendingExam, a.Status)
	}
	require.Len(t, res.Bindings, 1)
	assert.Equal(t, 1, res.Bindings[0].Version)

	title := "set v2"
	_, err = w.Content.Edit(ctx, ts.GroupID, content.Patch{Title: &title}, "author")
	require.NoError(t, err)

	got, err := w.Composer.Get(ctx, o.admin, scope.RoleAdmin, res.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, got.Bindings[0].Version, "edits after bind do not move the pin")
	assert.Equal(t, []string{events.ResourceVersioned, events.ResourceVersioned, events.TaskCreated, events.ResourceVersioned}, w.Events.Types())
}

func TestCreateValidatesBindingsAndSchedule(t *testing.T) {
	w := testkit.New(t)
	o := seed(w)
	q := w.Choice("1+1=?", "B", 10)
	ts1 := w.TestSet("one", q)
	ts2 := w.TestSet("two", q)
	doc := w.Knowledge("handbook")
	ctx := context.Background()

	twoSets := examRequest(w, ts1.GroupID, "s1")
	twoSets.ResourceGroupIDs = []string{ts1.GroupID, ts2.GroupID}
	_, err := w.Composer.Create(ctx, o.admin, scope.RoleAdmin, twoSets)
	assert.ErrorIs(t, err, apperr.InvalidInput)

	_, err = w.Composer.Create(ctx, o.admin, scope.RoleAdmin, examRequest(w, doc.GroupID, "s1"))
	assert.ErrorIs(t, err, apperr.InvalidInput)

	_, err = w.Composer.Create(ctx, o.admin, scope.RoleAdmin, examRequest(w, "missing", "s1"))
	assert.ErrorIs(t, err, apperr.ResourceNotFound)

	late := examRequest(w, ts1.GroupID, "s1")
	start := late.Deadline
	late.StartTime = &start
	_, err = w.Composer.Create(ctx, o.admin, scope.RoleAdmin, late)
	assert.ErrorIs(t, err, apperr.InvalidSchedule)

	noDuration := examRequest(w, ts1.GroupID, "s1")
	noDuration.Duration = 0
	_, err = w.Composer.Create(ctx, o.admin, scope.RoleAdmin, noDuration)
	assert.ErrorIs(t, err, apperr.InvalidSchedule)

	noStart := examRequest(w, ts1.GroupID, "s1")
	noStart.StartTime = nil
	_, err = w.Composer.Create(ctx, o.admin, scope.RoleAdmin, noStart)
	assert.ErrorIs(t, err, apperr.InvalidSchedule)

	noTargets := examRequest(w, ts1.GroupID)
	_, err = w.Composer.Create(ctx, o.admin, scope.RoleAdmin, noTargets)
	assert.ErrorIs(t, err, apperr.InvalidInput)

	learning := composer.Request{
		Kind: task.Learning, Title: "read", ResourceGroupIDs: []string{doc.GroupID, ts1.GroupID},
		TargetStudentIDs: []string{"s1"}, Deadline: w.Clock.Now().Add(time.Hour),
	}
	_, err = w.Composer.Create(ctx, o.admin, scope.RoleAdmin, learning)
	require.ErrorIs(t, err, apperr.InvalidInput)
	ae, _ := apperr.As(err)
	assert.Equal(t, []string{ts1.GroupID}, ae.IDs)

	mine, err := w.Composer.Mine(ctx, o.admin)
	require.NoError(t, err)
	assert.Empty(t, mine)
}

func TestCreateChecksScheduleAtStoredResolution(t *testing.T) {
	w := testkit.New(t)
	o := seed(w)
	ts := w.TestSet("one", w.Choice("1+1=?", "B", 10))
	ctx := context.Background()
	now := w.Clock.Now()

	// both collapse onto the same second
	sameSecond := examRequest(w, ts.GroupID, "s1")
	start := now.Add(time.Hour + 200*time.Millisecond)
	sameSecond.StartTime = &start
	sameSecond.Deadline = now.Add(time.Hour + 900*time.Millisecond)
	_, err := w.Composer.Create(ctx, o.admin, scope.RoleAdmin, sameSecond)
	assert.ErrorIs(t, err, apperr.InvalidSchedule)

	nearlyNow := examRequest(w, ts.GroupID, "s1")
	nearlyNow.Deadline = now.Add(500 * time.Millisecond)
	_, err = w.Composer.Create(ctx, o.admin, scope.RoleAdmin, nearlyNow)
	assert.ErrorIs(t, err, apperr.InvalidSchedule)

	subSecond := examRequest(w, ts.GroupID, "s1")
	start = now.Add(-time.Hour + 700*time.Millisecond)
	subSecond.StartTime = &start
	subSecond.Duration = time.Hour + 400*time.Millisecond
	res, err := w.Composer.Create(ctx, o.admin, scope.RoleAdmin, subSecond)
	require.NoError(t, err)
	require.NotNil(t, res.StartTime)
	assert.True(t, res.StartTime.Equal(now.Add(-time.Hour)))
	assert.Equal(t, time.Hour, res.Duration)
	assert.True(t, res.StartTime.Before(res.Deadline))
}

func TestCreateLearningSeedsKnowledgeProgress(t *testing.T) {
	w := testkit.New(t)
	o := seed(w)
	d1, d2 := w.Knowledge("one"), w.Knowledge("two")
	ctx := context.Background()

	res, err := w.Composer.Create(ctx, o.mentor, scope.RoleMentor, composer.Request{
		Kind: task.Learning, Title: "read", ResourceGroupIDs: []string{d1.GroupID, d2.GroupID},
		TargetStudentIDs: []string{"s1"}, Deadline: w.Clock.Now().Add(24 * time.Hour),
	})
	require.NoError(t, err)
	require.Len(t, res.Assignments, 1)
	assert.Equal(t, assignment.InProgress, res.Assignments[0].Status)

	v, err := w.Assignments.Get(ctx, o.s1, scope.RoleStudent, res.Assignments[0].ID)
	require.NoError(t, err)
	require.Len(t, v.Knowledge, 2)
	for _, k := range v.Knowledge {
		assert.False(t, k.IsCompleted)
	}

	// a bound document can no longer be deleted
	err = w.Content.Delete(ctx, d1.GroupID)
	assert.ErrorIs(t, err, apperr.ResourceInUse)
}

func TestCloseMarksOpenAssignmentsOverdue(t *testing.T) {
	w := testkit.New(t)
	o := seed(w)
	doc := w.Knowledge("one")
	ctx := context.Background()

	res, err := w.Composer.Create(ctx, o.mentor, scope.RoleMentor, composer.Request{
		Kind: task.Learning, Title: "read", ResourceGroupIDs: []string{doc.GroupID},
		TargetStudentIDs: []string{"s1"}, Deadline: w.Clock.Now().Add(24 * time.Hour),
	})
	require.NoError(t, err)

	_, err = w.Composer.Close(ctx, o.teamLead, scope.RoleTeamManager, res.ID)
	assert.ErrorIs(t, err, apperr.Forbidden)

	closed, err := w.Composer.Close(ctx, o.mentor, scope.RoleMentor, res.ID)
	require.NoError(t, err)
	assert.True(t, closed.Closed)

	v, err := w.Assignments.Get(ctx, o.s1, scope.RoleStudent, res.Assignments[0].ID)
	require.NoError(t, err)
	assert.Equal(t, assignment.Overdue, v.Status)

	_, err = w.Assignments.CompleteKnowledge(ctx, o.s1, res.Assignments[0].ID, doc.GroupID)
	assert.ErrorIs(t, err, apperr.AlreadyClosed)
	_, err = w.Composer.Close(ctx, o.admin, scope.RoleAdmin, res.ID)
	assert.ErrorIs(t, err, apperr.AlreadyClosed)
}

func TestResultJSONCarriesAssignments(t *testing.T) {
	w := testkit.New(t)
	o := seed(w)
	res, err := w.Composer.Create(context.Background(), o.admin, scope.RoleAdmin, composer.Request{
		Kind: task.Practice, Title: "drill", ResourceGroupIDs: []string{w.TestSet("s", w.Choice("q", "A", 1)).GroupID},
		TargetStudentIDs: []string{"s1"}, Deadline: w.Clock.Now().Add(time.Hour),
	})
	require.NoError(t, err)
	b, err := json.Marshal(res)
	require.NoError(t, err)
	var m map[string]any
	require.NoError(t, json.Unmarshal(b, &m))
	assert.Equal(t, "PRACTICE", m["kind"])
	assert.Len(t, m["assignments"], 1)
}
