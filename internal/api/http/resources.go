package http

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/mind-engage/mindengage-training/internal/apperr"
	"github.com/mind-engage/mindengage-training/internal/content"
	"github.com/mind-engage/mindengage-training/internal/scope"
)

// redactFor strips answer keys when a student is reading.
func redactFor(role scope.Role, v content.Version) content.Version {
	if role == scope.RoleStudent {
		return v.Redacted()
	}
	return v
}

// POST /resources
func CreateResourceHandler(svc *content.Service, log *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, _, err := caller(r)
		if err != nil {
			writeError(w, log, err)
			return
		}
		var d content.Draft
		if err := decode(r, &d); err != nil {
			writeError(w, log, err)
			return
		}
		v, err := svc.Create(r.Context(), d, actor.ID)
		if err != nil {
			writeError(w, log, err)
			return
		}
		writeJSON(w, http.StatusCreated, v)
	}
}

// PUT /resources/{groupID}
func EditResourceHandler(svc *content.Service, log *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, _, err := caller(r)
		if err != nil {
			writeError(w, log, err)
			return
		}
		var p content.Patch
		if err := decode(r, &p); err != nil {
			writeError(w, log, err)
			return
		}
		if p.Title == nil && len(p.Content) == 0 {
			writeError(w, log, apperr.New(apperr.KindInvalidInput, "nothing to change"))
			return
		}
		v, err := svc.Edit(r.Context(), chi.URLParam(r, "groupID"), p, actor.ID)
		if err != nil {
			writeError(w, log, err)
			return
		}
		writeJSON(w, http.StatusOK, v)
	}
}

// GET /resources/{groupID}
func GetResourceHandler(svc *content.Service, log *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		_, role, err := caller(r)
		if err != nil {
			writeError(w, log, err)
			return
		}
		v, err := svc.Current(r.Context(), chi.URLParam(r, "groupID"))
		if err != nil {
			writeError(w, log, err)
			return
		}
		writeJSON(w, http.StatusOK, redactFor(role, v))
	}
}

// GET /resources/{groupID}/versions
func ResourceHistoryHandler(svc *content.Service, log *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		_, role, err := caller(r)
		if err != nil {
			writeError(w, log, err)
			return
		}
		list, err := svc.History(r.Context(), chi.URLParam(r, "groupID"))
		if err != nil {
			writeError(w, log, err)
			return
		}
		for i := range list {
			list[i] = redactFor(role, list[i])
		}
		writeJSON(w, http.StatusOK, list)
	}
}

// GET /resources/{groupID}/versions/{n}
func GetResourceVersionHandler(svc *content.Service, log *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		_, role, err := caller(r)
		if err != nil {
			writeError(w, log, err)
			return
		}
		n, err := strconv.Atoi(chi.URLParam(r, "n"))
		if err != nil || n < 1 {
			writeError(w, log, apperr.New(apperr.KindInvalidInput, "version must be a positive integer"))
			return
		}
		v, err := svc.Version(r.Context(), chi.URLParam(r, "groupID"), n)
		if err != nil {
			writeError(w, log, err)
			return
		}
		writeJSON(w, http.StatusOK, redactFor(role, v))
	}
}

// DELETE /resources/{groupID}
func DeleteResourceHandler(svc *content.Service, log *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := svc.Delete(r.Context(), chi.URLParam(r, "groupID")); err != nil {
			writeError(w, log, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}
