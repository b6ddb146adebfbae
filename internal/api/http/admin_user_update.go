package http

import (
	"database/sql"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/mind-engage/mindengage-training/internal/apperr"
	"github.com/mind-engage/mindengage-training/internal/db"
	"github.com/mind-engage/mindengage-training/internal/directory"
	"github.com/mind-engage/mindengage-training/internal/scope"
)

type updateRolesReq struct {
	Roles []string `json:"roles" validate:"required,min=1,dive,required"`
}

// PUT /users/{userID}/roles
//
// Replaces a user's assigned roles. Sessions acting in a removed role are
// rejected from their next request. The last active admin cannot be demoted.
func AdminUpdateUserRolesHandler(d *db.DB, log *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req updateRolesReq
		if err := decode(r, &req); err != nil {
			writeError(w, log, err)
			return
		}
		roles := make([]scope.Role, 0, len(req.Roles))
		for _, s := range req.Roles {
			role, ok := scope.ParseRole(s)
			if !ok {
				writeError(w, log, apperr.New(apperr.KindInvalidInput, "invalid role %q", s))
				return
			}
			roles = append(roles, role)
		}

		var out scope.Actor
		err := d.WithTx(r.Context(), func(tx *sql.Tx) error {
			st := directory.NewStore(tx)
			u, err := st.Get(r.Context(), chi.URLParam(r, "userID"))
			if err != nil {
				return err
			}
			demoting := u.HasRole(scope.RoleAdmin) && !hasRole(roles, scope.RoleAdmin)
			if demoting && u.Active {
				admins, err := st.List(r.Context(), scope.RoleAdmin)
				if err != nil {
					return err
				}
				active := 0
				for _, a := range admins {
					if a.Active {
						active++
					}
				}
				if active <= 1 {
					return apperr.New(apperr.KindInvalidInput, "cannot demote the last admin").WithIDs(u.ID)
				}
			}
			u.Roles = roles
			if err := st.Update(r.Context(), u); err != nil {
				return err
			}
			out = u.Actor
			return nil
		})
		if err != nil {
			writeError(w, log, err)
			return
		}
		writeJSON(w, http.StatusOK, out)
	}
}

func hasRole(roles []scope.Role, r scope.Role) bool {
	for _, x := range roles {
		if x == r {
			return true
		}
	}
	return false
}
