package auth

import (
	"context"
	"errors"
	"net/http"

	"github.com/mind-engage/mindengage-training/internal/apperr"
	"github.com/mind-engage/mindengage-training/internal/directory"
	"github.com/mind-engage/mindengage-training/internal/rbac"
)

// Users is the directory lookup the auth layer needs.
type Users interface {
	Get(ctx context.Context, id string) (directory.User, error)
	GetByUsername(ctx context.Context, username string) (directory.User, error)
}

// LoadActor resolves the token subject against the directory on every
// request. A deactivated user, or a token whose active role is no longer
// assigned, is rejected; role changes take effect without re-login.
func LoadActor(users Users) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			u, err := users.Get(ctx, SubjectFromContext(ctx))
			switch {
			case errors.Is(err, apperr.ResourceNotFound):
				http.Error(w, "unknown user", http.StatusUnauthorized)
				return
			case err != nil:
				http.Error(w, "directory unavailable", http.StatusServiceUnavailable)
				return
			}
			if !u.Active {
				http.Error(w, "user is inactive", http.StatusUnauthorized)
				return
			}
			if !u.HasRole(rbac.RoleFromContext(ctx)) {
				http.Error(w, "role no longer assigned", http.StatusForbidden)
				return
			}
			next.ServeHTTP(w, r.WithContext(WithActor(ctx, u.Actor)))
		})
	}
}
