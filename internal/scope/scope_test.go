package scope_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mind-engage/mindengage-training/internal/scope"
)

/* ---------------- in-memory directory ---------------- */

type fakeDir struct {
	users []scope.Actor
	err   error
}

func (f *fakeDir) students(keep func(scope.Actor) bool) ([]scope.Actor, error) {
	if f.err != nil {
		return nil, f.err
	}
	var out []scope.Actor
	for _, u := range f.users {
		if u.HasRole(scope.RoleStudent) && keep(u) {
			out = append(out, u)
		}
	}
	return out, nil
}

func (f *fakeDir) ActiveStudents(context.Context) ([]scope.Actor, error) {
	return f.students(func(u scope.Actor) bool { return u.Active })
}

func (f *fakeDir) StudentsByMentor(_ context.Context, mentorID string) ([]scope.Actor, error) {
	return f.students(func(u scope.Actor) bool { return u.MentorID == mentorID })
}

func (f *fakeDir) ActiveStudentsInDepartment(_ context.Context, dep string) ([]scope.Actor, error) {
	return f.students(func(u scope.Actor) bool { return u.Active && u.DepartmentID == dep })
}

func student(id, mentor, dep string, active bool) scope.Actor {
	return scope.Actor{ID: id, Roles: []scope.Role{scope.RoleStudent}, MentorID: mentor, DepartmentID: dep, Active: active}
}

func seed() *fakeDir {
	return &fakeDir{users: []scope.Actor{
		student("s1", "m1", "d1", true),
		student("s2", "m1", "d2", true),
		student("s3", "m2", "d1", true),
		student("s4", "m1", "d1", false),
		// department manager who is also enrolled as a student
		{ID: "dm1", Roles: []scope.Role{scope.RoleStudent, scope.RoleDeptManager}, DepartmentID: "d1", Active: true},
	}}
}

var (
	admin   = scope.Actor{ID: "a1", Roles: []scope.Role{scope.RoleAdmin}, Active: true}
	mentor  = scope.Actor{ID: "m1", Roles: []scope.Role{scope.RoleMentor, scope.RoleStudent}, Active: true}
	manager = scope.Actor{ID: "dm1", Roles: []scope.Role{scope.RoleStudent, scope.RoleDeptManager}, DepartmentID: "d1", Active: true}
	teamMgr = scope.Actor{ID: "t1", Roles: []scope.Role{scope.RoleTeamManager}, Active: true}
)

func TestScopeByRole(t *testing.T) {
	r := scope.NewResolver(seed())
	ctx := context.Background()

	tests := []struct {
		name   string
		actor  scope.Actor
		active scope.Role
		want   []string
	}{
		{"admin sees all active students", admin, scope.RoleAdmin, []string{"dm1", "s1", "s2", "s3"}},
		{"mentor sees own mentees", mentor, scope.RoleMentor, []string{"s1", "s2", "s4"}},
		{"department manager excludes self", manager, scope.RoleDeptManager, []string{"s1", "s3"}},
		{"team manager has empty creation scope", teamMgr, scope.RoleTeamManager, []string{}},
		{"student role has empty scope", mentor, scope.RoleStudent, []string{}},
		{"unassigned active role yields empty scope", mentor, scope.RoleAdmin, []string{}},
		{"unknown role yields empty scope", admin, scope.Role("janitor"), []string{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			set, err := r.Scope(ctx, tt.actor, tt.active)
			require.NoError(t, err)
			assert.Equal(t, tt.want, set.IDs())
		})
	}
}

func TestInactiveActorHasEmptyScope(t *testing.T) {
	r := scope.NewResolver(seed())
	a := admin
	a.Active = false
	set, err := r.Scope(context.Background(), a, scope.RoleAdmin)
	require.NoError(t, err)
	assert.Empty(t, set)
}

func TestValidateReportsExactlyTheOutsiders(t *testing.T) {
	r := scope.NewResolver(seed())
	ok, rejected, err := r.Validate(context.Background(), mentor, scope.RoleMentor, []string{"s1", "s3", "s2", "zz", "s3"})
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, []string{"s3", "zz"}, rejected)

	ok, rejected, err = r.Validate(context.Background(), mentor, scope.RoleMentor, []string{"s1", "s2"})
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Empty(t, rejected)
}

func TestActiveRoleSwitchIsPerCall(t *testing.T) {
	r := scope.NewResolver(seed())
	ctx := context.Background()

	asMentor, err := r.Covers(ctx, mentor, scope.RoleMentor, "s1")
	require.NoError(t, err)
	asStudent, err := r.Covers(ctx, mentor, scope.RoleStudent, "s1")
	require.NoError(t, err)

	assert.True(t, asMentor)
	assert.False(t, asStudent)
}

func TestDirectoryErrorsPropagate(t *testing.T) {
	boom := errors.New("db down")
	r := scope.NewResolver(&fakeDir{err: boom})
	_, err := r.Scope(context.Background(), admin, scope.RoleAdmin)
	assert.ErrorIs(t, err, boom)
}

func TestParseRole(t *testing.T) {
	r, ok := scope.ParseRole(" Mentor ")
	assert.True(t, ok)
	assert.Equal(t, scope.RoleMentor, r)
	_, ok = scope.ParseRole("owner")
	assert.False(t, ok)
}
