// Package scope resolves which students an actor may target or view.
//
// The active role is always passed in explicitly; nothing here reads it
// from a session or context. An unknown role, or a role the actor is not
// assigned, resolves to an empty scope rather than an error.
package scope

import (
	"context"
	"sort"
	"strings"
)

type Role string

const (
	RoleStudent     Role = "student"
	RoleMentor      Role = "mentor"
	RoleDeptManager Role = "department_manager"
	RoleAdmin       Role = "admin"
	// RoleTeamManager has read-only cross-department visibility and never
	// creates tasks, so its creation scope is empty.
	RoleTeamManager Role = "team_manager"
)

var knownRoles = []Role{RoleStudent, RoleMentor, RoleDeptManager, RoleAdmin, RoleTeamManager}

// ParseRole returns the role named s and whether it is known.
func ParseRole(s string) (Role, bool) {
	r := Role(strings.ToLower(strings.TrimSpace(s)))
	for _, k := range knownRoles {
		if r == k {
			return r, true
		}
	}
	return r, false
}

// Actor is an authenticated user with their assigned roles and the
// organizational links the resolver needs.
type Actor struct {
	ID           string `json:"id"`
	Username     string `json:"username"`
	Roles        []Role `json:"roles"`
	MentorID     string `json:"mentor_id,omitempty"`
	DepartmentID string `json:"department_id,omitempty"`
	Active       bool   `json:"active"`
}

func (a Actor) HasRole(r Role) bool {
	for _, x := range a.Roles {
		if x == r {
			return true
		}
	}
	return false
}

// Directory is the organizational-relationship data the resolver reads.
// Every method returns users holding the student role.
type Directory interface {
	ActiveStudents(ctx context.Context) ([]Actor, error)
	StudentsByMentor(ctx context.Context, mentorID string) ([]Actor, error)
	ActiveStudentsInDepartment(ctx context.Context, departmentID string) ([]Actor, error)
}

// Set is a set of student ids.
type Set map[string]struct{}

func (s Set) Has(id string) bool {
	_, ok := s[id]
	return ok
}

// IDs returns the members in sorted order.
func (s Set) IDs() []string {
	out := make([]string, 0, len(s))
	for id := range s {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

type Resolver struct {
	dir Directory
}

func NewResolver(dir Directory) *Resolver { return &Resolver{dir: dir} }

// Scope computes the student ids actor may target while acting as active.
func (r *Resolver) Scope(ctx context.Context, actor Actor, active Role) (Set, error) {
	out := Set{}
	if !actor.Active || !actor.HasRole(active) {
		return out, nil
	}

	var (
		students []Actor
		err      error
	)
	switch active {
	case RoleAdmin:
		students, err = r.dir.ActiveStudents(ctx)
	case RoleMentor:
		students, err = r.dir.StudentsByMentor(ctx, actor.ID)
	case RoleDeptManager:
		if actor.DepartmentID == "" {
			return out, nil
		}
		students, err = r.dir.ActiveStudentsInDepartment(ctx, actor.DepartmentID)
	default:
		return out, nil
	}
	if err != nil {
		return nil, err
	}

	for _, s := range students {
		if active == RoleDeptManager && s.ID == actor.ID {
			continue
		}
		out[s.ID] = struct{}{}
	}
	return out, nil
}

// Validate checks requested ids against the actor's scope and returns the
// ones outside it, in request order and without duplicates.
func (r *Resolver) Validate(ctx context.Context, actor Actor, active Role, requested []string) (bool, []string, error) {
	set, err := r.Scope(ctx, actor, active)
	if err != nil {
		return false, nil, err
	}
	var rejected []string
	seen := map[string]bool{}
	for _, id := range requested {
		if seen[id] {
			continue
		}
		seen[id] = true
		if !set.Has(id) {
			rejected = append(rejected, id)
		}
	}
	return len(rejected) == 0, rejected, nil
}

// Covers reports whether studentID is inside the actor's scope.
func (r *Resolver) Covers(ctx context.Context, actor Actor, active Role, studentID string) (bool, error) {
	set, err := r.Scope(ctx, actor, active)
	if err != nil {
		return false, err
	}
	return set.Has(studentID), nil
}
