// Package directory persists users, their assigned roles and the mentor and
// department links the scope resolver reads.
package directory

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/mind-engage/mindengage-training/internal/apperr"
	"github.com/mind-engage/mindengage-training/internal/db"
	"github.com/mind-engage/mindengage-training/internal/scope"
)

// User is a directory row. PasswordHash never leaves the server.
type User struct {
	scope.Actor
	PasswordHash string    `json:"-"`
	CreatedAt    time.Time `json:"created_at"`
}

// Store reads and writes users through q, which may be a *sql.DB or a *sql.Tx.
type Store struct {
	q db.Querier
}

func NewStore(q db.Querier) *Store { return &Store{q: q} }

var _ scope.Directory = (*Store)(nil)

const userCols = `id, username, password_hash, roles, COALESCE(mentor_id,''), COALESCE(department_id,''), active, created_at`

func scanUser(sc interface{ Scan(...any) error }) (User, error) {
	var (
		u       User
		roles   string
		active  int
		created int64
	)
	if err := sc.Scan(&u.ID, &u.Username, &u.PasswordHash, &roles, &u.MentorID, &u.DepartmentID, &active, &created); err != nil {
		return User{}, err
	}
	u.Roles = DecodeRoles(roles)
	u.Active = active == 1
	u.CreatedAt = time.Unix(created, 0).UTC()
	return u, nil
}

func (s *Store) Get(ctx context.Context, id string) (User, error) {
	u, err := scanUser(s.q.QueryRowContext(ctx, `SELECT `+userCols+` FROM users WHERE id=$1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return User{}, apperr.NotFound("user", id)
	}
	return u, err
}

func (s *Store) GetByUsername(ctx context.Context, username string) (User, error) {
	u, err := scanUser(s.q.QueryRowContext(ctx, `SELECT `+userCols+` FROM users WHERE username=$1`, username))
	if errors.Is(err, sql.ErrNoRows) {
		return User{}, apperr.NotFound("user", username)
	}
	return u, err
}

// Actor loads the scope view of a user.
func (s *Store) Actor(ctx context.Context, id string) (scope.Actor, error) {
	u, err := s.Get(ctx, id)
	if err != nil {
		return scope.Actor{}, err
	}
	return u.Actor, nil
}

func (s *Store) ActiveStudents(ctx context.Context) ([]scope.Actor, error) {
	return s.listActors(ctx, `SELECT `+userCols+` FROM users WHERE active=1 AND roles LIKE $1 ORDER BY username`,
		roleLike(scope.RoleStudent))
}

func (s *Store) StudentsByMentor(ctx context.Context, mentorID string) ([]scope.Actor, error) {
	return s.listActors(ctx, `SELECT `+userCols+` FROM users WHERE mentor_id=$1 AND roles LIKE $2 ORDER BY username`,
		mentorID, roleLike(scope.RoleStudent))
}

func (s *Store) ActiveStudentsInDepartment(ctx context.Context, departmentID string) ([]scope.Actor, error) {
	return s.listActors(ctx, `SELECT `+userCols+` FROM users WHERE active=1 AND department_id=$1 AND roles LIKE $2 ORDER BY username`,
		departmentID, roleLike(scope.RoleStudent))
}

// List returns every user, optionally restricted to one role.
func (s *Store) List(ctx context.Context, role scope.Role) ([]scope.Actor, error) {
	if role == "" {
		return s.listActors(ctx, `SELECT `+userCols+` FROM users ORDER BY username`)
	}
	return s.listActors(ctx, `SELECT `+userCols+` FROM users WHERE roles LIKE $1 ORDER BY username`, roleLike(role))
}

func (s *Store) listActors(ctx context.Context, query string, args ...any) ([]scope.Actor, error) {
	rows, err := s.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []scope.Actor
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, u.Actor)
	}
	return out, rows.Err()
}

// Insert creates a user. PasswordHash must already be a bcrypt hash.
func (s *Store) Insert(ctx context.Context, u User) error {
	if u.CreatedAt.IsZero() {
		u.CreatedAt = time.Now()
	}
	_, err := s.q.ExecContext(ctx,
		`INSERT INTO users (id, username, password_hash, roles, mentor_id, department_id, active, created_at)
		 VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`,
		u.ID, u.Username, u.PasswordHash, EncodeRoles(u.Roles), nullString(u.MentorID), nullString(u.DepartmentID),
		db.BoolInt(u.Active), u.CreatedAt.Unix())
	return err
}

// Update rewrites everything but the password hash and creation time.
func (s *Store) Update(ctx context.Context, u User) error {
	_, err := s.q.ExecContext(ctx,
		`UPDATE users SET username=$1, roles=$2, mentor_id=$3, department_id=$4, active=$5 WHERE id=$6`,
		u.Username, EncodeRoles(u.Roles), nullString(u.MentorID), nullString(u.DepartmentID), db.BoolInt(u.Active), u.ID)
	return err
}

func (s *Store) SetPasswordHash(ctx context.Context, id, hash string) error {
	_, err := s.q.ExecContext(ctx, `UPDATE users SET password_hash=$1 WHERE id=$2`, hash, id)
	return err
}

// EncodeRoles stores roles as ",a,b," so a single LIKE matches one role.
func EncodeRoles(roles []scope.Role) string {
	if len(roles) == 0 {
		return ","
	}
	parts := make([]string, 0, len(roles))
	for _, r := range roles {
		parts = append(parts, string(r))
	}
	return "," + strings.Join(parts, ",") + ","
}

func DecodeRoles(s string) []scope.Role {
	var out []scope.Role
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, scope.Role(p))
		}
	}
	return out
}

func roleLike(r scope.Role) string { return "%," + string(r) + ",%" }

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
