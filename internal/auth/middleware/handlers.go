package auth

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/mind-engage/mindengage-training/internal/apperr"
	"github.com/mind-engage/mindengage-training/internal/directory"
	"github.com/mind-engage/mindengage-training/internal/scope"
)

type tokenResponse struct {
	AccessToken string      `json:"access_token"`
	TokenType   string      `json:"token_type"`
	ExpiresAt   time.Time   `json:"expires_at"`
	Role        scope.Role  `json:"role"`
	User        scope.Actor `json:"user"`
}

func (a *AuthService) respond(w http.ResponseWriter, u directory.User, role scope.Role) {
	tok, exp, err := a.IssueJWT(u.ID, role)
	if err != nil {
		http.Error(w, "issue token", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(tokenResponse{AccessToken: tok, TokenType: "Bearer", ExpiresAt: exp.UTC(), Role: role, User: u.Actor})
}

// LoginHandler serves POST /auth/login {username, password, role}. The
// chosen role must be one the user holds; it becomes the session's active
// role.
func LoginHandler(a *AuthService, users Users) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Username string `json:"username"`
			Password string `json:"password"`
			Role     string `json:"role"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "bad json", http.StatusBadRequest)
			return
		}
		u, err := users.GetByUsername(r.Context(), req.Username)
		if err != nil && !errors.Is(err, apperr.ResourceNotFound) {
			http.Error(w, "directory unavailable", http.StatusServiceUnavailable)
			return
		}
		if err != nil || !u.Active || !directory.CheckPassword(u.PasswordHash, req.Password) {
			http.Error(w, "invalid credentials", http.StatusUnauthorized)
			return
		}
		role, ok := scope.ParseRole(req.Role)
		if req.Role == "" && len(u.Roles) == 1 {
			role, ok = u.Roles[0], true
		}
		if !ok || !u.HasRole(role) {
			http.Error(w, "role not assigned", http.StatusForbidden)
			return
		}
		a.respond(w, u, role)
	}
}

// SwitchRoleHandler serves POST /auth/switch-role {role}. It must run
// behind JWTMiddleware and LoadActor.
func SwitchRoleHandler(a *AuthService, users Users) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Role string `json:"role"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "bad json", http.StatusBadRequest)
			return
		}
		actor, ok := ActorFromContext(r.Context())
		if !ok {
			http.Error(w, "unauthenticated", http.StatusUnauthorized)
			return
		}
		role, known := scope.ParseRole(req.Role)
		if !known || !actor.HasRole(role) {
			http.Error(w, "role not assigned", http.StatusForbidden)
			return
		}
		u, err := users.Get(r.Context(), actor.ID)
		if err != nil {
			http.Error(w, "directory unavailable", http.StatusServiceUnavailable)
			return
		}
		a.respond(w, u, role)
	}
}
