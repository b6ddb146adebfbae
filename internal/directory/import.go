package directory

import (
	"context"
	"database/sql"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"

	"golang.org/x/crypto/bcrypt"

	"github.com/mind-engage/mindengage-training/internal/apperr"
	"github.com/mind-engage/mindengage-training/internal/db"
	"github.com/mind-engage/mindengage-training/internal/scope"
)

// BcryptCost is the work factor for stored password hashes.
var BcryptCost = 12

// Row is one user in a bulk import.
type Row struct {
	ID           string   `json:"id" validate:"required"`
	Username     string   `json:"username" validate:"required"`
	Roles        []string `json:"roles"`
	MentorID     string   `json:"mentor_id,omitempty"`
	DepartmentID string   `json:"department_id,omitempty"`
	Active       *bool    `json:"active,omitempty"`
	Password     string   `json:"password,omitempty"` // plaintext, hashed on write
}

// HashPassword returns a bcrypt hash of plain.
func HashPassword(plain string) (string, error) {
	b, err := bcrypt.GenerateFromPassword([]byte(plain), BcryptCost)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// CheckPassword reports whether plain matches hash.
func CheckPassword(hash, plain string) bool {
	if hash == "" {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(plain)) == nil
}

// Upsert inserts or updates every row in one transaction. A new user needs
// a password; an existing one keeps its hash unless a password is given.
func Upsert(ctx context.Context, d *db.DB, rows []Row) (inserted, updated int, err error) {
	err = d.WithTx(ctx, func(tx *sql.Tx) error {
		st := NewStore(tx)
		for _, r := range rows {
			u, e := r.toUser()
			if e != nil {
				return e
			}
			if r.Password != "" {
				if u.PasswordHash, e = HashPassword(r.Password); e != nil {
					return e
				}
			}

			existing, e := st.Get(ctx, u.ID)
			switch {
			case e == nil:
				if r.Active == nil {
					u.Active = existing.Active
				}
				if e := st.Update(ctx, u); e != nil {
					return e
				}
				if u.PasswordHash != "" {
					if e := st.SetPasswordHash(ctx, u.ID, u.PasswordHash); e != nil {
						return e
					}
				}
				updated++
			case errors.Is(e, apperr.ResourceNotFound):
				if u.PasswordHash == "" {
					return apperr.New(apperr.KindInvalidInput, "password required for new user %s", u.Username).WithIDs(u.ID)
				}
				if e := st.Insert(ctx, u); e != nil {
					return e
				}
				inserted++
			default:
				return e
			}
		}
		return nil
	})
	if err != nil {
		return 0, 0, err
	}
	return inserted, updated, nil
}

func (r Row) toUser() (User, error) {
	if strings.TrimSpace(r.ID) == "" || strings.TrimSpace(r.Username) == "" {
		return User{}, apperr.New(apperr.KindInvalidInput, "id and username are required")
	}
	roles := r.Roles
	if len(roles) == 0 {
		roles = []string{string(scope.RoleStudent)}
	}
	u := User{Actor: scope.Actor{
		ID:           strings.TrimSpace(r.ID),
		Username:     strings.TrimSpace(r.Username),
		MentorID:     strings.TrimSpace(r.MentorID),
		DepartmentID: strings.TrimSpace(r.DepartmentID),
		Active:       r.Active == nil || *r.Active,
	}}
	for _, s := range roles {
		role, ok := scope.ParseRole(s)
		if !ok {
			return User{}, apperr.New(apperr.KindInvalidInput, "invalid role %q", s).WithIDs(r.ID)
		}
		if !u.HasRole(role) {
			u.Roles = append(u.Roles, role)
		}
	}
	return u, nil
}

// ParseCSV reads rows with a header line. Required columns: id, username.
// Optional: roles ("|"-separated), mentor_id, department_id, active, password.
func ParseCSV(r io.Reader) ([]Row, error) {
	cr := csv.NewReader(r)
	cr.TrimLeadingSpace = true
	hdr, err := cr.Read()
	if err != nil {
		return nil, err
	}
	idx := map[string]int{}
	for i, h := range hdr {
		idx[strings.ToLower(strings.TrimSpace(h))] = i
	}
	for _, k := range []string{"id", "username"} {
		if _, ok := idx[k]; !ok {
			return nil, errors.New("missing column: " + k)
		}
	}
	col := func(rec []string, name string) string {
		if i, ok := idx[name]; ok && i < len(rec) {
			return strings.TrimSpace(rec[i])
		}
		return ""
	}

	var rows []Row
	for line := 2; ; line++ {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}
		row := Row{
			ID:           col(rec, "id"),
			Username:     col(rec, "username"),
			MentorID:     col(rec, "mentor_id"),
			DepartmentID: col(rec, "department_id"),
			Password:     col(rec, "password"),
		}
		if roles := col(rec, "roles"); roles != "" {
			for _, p := range strings.Split(roles, "|") {
				if p = strings.TrimSpace(p); p != "" {
					row.Roles = append(row.Roles, p)
				}
			}
		}
		if a := strings.ToLower(col(rec, "active")); a != "" {
			switch a {
			case "1", "true", "yes":
				v := true
				row.Active = &v
			case "0", "false", "no":
				v := false
				row.Active = &v
			default:
				return nil, fmt.Errorf("line %d: bad active value %q", line, a)
			}
		}
		rows = append(rows, row)
	}
	return rows, nil
}
