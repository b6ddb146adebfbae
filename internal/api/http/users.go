package http

import (
	"bufio"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"

	"github.com/mind-engage/mindengage-training/internal/apperr"
	"github.com/mind-engage/mindengage-training/internal/db"
	"github.com/mind-engage/mindengage-training/internal/directory"
	"github.com/mind-engage/mindengage-training/internal/scope"
)

// POST /users/bulk
//
// Accepts a JSON array body, or multipart file= holding CSV or JSON.
func BulkUpsertUsersHandler(d *db.DB, log *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var rows []directory.Row
		if strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/form-data") {
			f, _, err := r.FormFile("file")
			if err != nil {
				writeError(w, log, apperr.New(apperr.KindInvalidInput, "file required"))
				return
			}
			defer f.Close()
			br := bufio.NewReader(f)
			// sniff CSV vs JSON by the first non-space byte
			head, _ := br.Peek(64)
			if t := strings.TrimSpace(string(head)); strings.HasPrefix(t, "[") {
				if err := json.NewDecoder(br).Decode(&rows); err != nil {
					writeError(w, log, apperr.New(apperr.KindInvalidInput, "bad json"))
					return
				}
			} else {
				rows, err = directory.ParseCSV(br)
				if err != nil {
					writeError(w, log, apperr.New(apperr.KindInvalidInput, "bad csv: %s", err))
					return
				}
			}
		} else if err := json.NewDecoder(r.Body).Decode(&rows); err != nil {
			writeError(w, log, apperr.New(apperr.KindInvalidInput, "expected JSON array or multipart file"))
			return
		}
		for i := range rows {
			if err := validate.Struct(rows[i]); err != nil {
				writeError(w, log, err)
				return
			}
		}
		if len(rows) == 0 {
			writeJSON(w, http.StatusOK, map[string]int{"inserted": 0, "updated": 0})
			return
		}
		ins, upd, err := directory.Upsert(r.Context(), d, rows)
		if err != nil {
			writeError(w, log, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]int{"inserted": ins, "updated": upd})
	}
}

// GET /users?role=
//
// Admins see everyone. Other staff see the students in their scope.
func ListUsersHandler(d *db.DB, log *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, role, err := caller(r)
		if err != nil {
			writeError(w, log, err)
			return
		}
		st := directory.NewStore(d.SQL)
		var list []scope.Actor
		if role == scope.RoleAdmin {
			filter := scope.Role("")
			if q := r.URL.Query().Get("role"); q != "" {
				known := false
				if filter, known = scope.ParseRole(q); !known {
					writeError(w, log, apperr.New(apperr.KindInvalidInput, "unknown role %q", q))
					return
				}
			}
			list, err = st.List(r.Context(), filter)
		} else {
			list, err = scopedStudents(r, st, actor, role)
		}
		if err != nil {
			writeError(w, log, err)
			return
		}
		if list == nil {
			list = []scope.Actor{}
		}
		writeJSON(w, http.StatusOK, list)
	}
}

// GET /scope/students
//
// The students the caller may target while acting in the active role.
func ScopeStudentsHandler(d *db.DB, log *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, role, err := caller(r)
		if err != nil {
			writeError(w, log, err)
			return
		}
		list, err := scopedStudents(r, directory.NewStore(d.SQL), actor, role)
		if err != nil {
			writeError(w, log, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"role": role, "students": list})
	}
}

func scopedStudents(r *http.Request, st *directory.Store, actor scope.Actor, role scope.Role) ([]scope.Actor, error) {
	set, err := scope.NewResolver(st).Scope(r.Context(), actor, role)
	if err != nil {
		return nil, err
	}
	out := make([]scope.Actor, 0, len(set))
	for _, id := range set.IDs() {
		a, err := st.Actor(r.Context(), id)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, nil
}

type changePasswordReq struct {
	OldPassword string `json:"old_password" validate:"required"`
	NewPassword string `json:"new_password" validate:"required,min=8"`
}

// POST /users/change-password
func ChangePasswordHandler(d *db.DB, log *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, _, err := caller(r)
		if err != nil {
			writeError(w, log, err)
			return
		}
		var req changePasswordReq
		if err := decode(r, &req); err != nil {
			writeError(w, log, err)
			return
		}
		st := directory.NewStore(d.SQL)
		u, err := st.Get(r.Context(), actor.ID)
		if err != nil {
			writeError(w, log, err)
			return
		}
		if !directory.CheckPassword(u.PasswordHash, req.OldPassword) {
			writeError(w, log, apperr.New(apperr.KindForbidden, "incorrect old password"))
			return
		}
		hash, err := directory.HashPassword(req.NewPassword)
		if err != nil {
			writeError(w, log, err)
			return
		}
		if err := st.SetPasswordHash(r.Context(), actor.ID, hash); err != nil {
			writeError(w, log, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}
