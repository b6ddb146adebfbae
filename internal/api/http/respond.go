package http

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/mind-engage/mindengage-training/internal/apperr"
	authmw "github.com/mind-engage/mindengage-training/internal/auth/middleware"
	"github.com/mind-engage/mindengage-training/internal/rbac"
	"github.com/mind-engage/mindengage-training/internal/scope"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// errorBody is the wire form of every failed request.
type errorBody struct {
	Error   string            `json:"error"`
	Message string            `json:"message"`
	IDs     []string          `json:"ids,omitempty"`
	State   string            `json:"state,omitempty"`
	Fields  map[string]string `json:"fields,omitempty"`
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func statusOf(k apperr.Kind) int {
	switch k {
	case apperr.KindInvalidInput, apperr.KindInvalidSchedule, apperr.KindWrongAnswerKind:
		return http.StatusBadRequest
	case apperr.KindScopeViolation, apperr.KindForbidden:
		return http.StatusForbidden
	case apperr.KindResourceNotFound:
		return http.StatusNotFound
	case apperr.KindResourceInUse, apperr.KindOutOfWindow, apperr.KindAlreadySubmitted,
		apperr.KindNotGrading, apperr.KindAlreadyClosed:
		return http.StatusConflict
	}
	return http.StatusInternalServerError
}

// writeError renders business errors verbatim. Anything else is logged and
// reported as an opaque 500.
func writeError(w http.ResponseWriter, log *slog.Logger, err error) {
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) {
		fields := make(map[string]string, len(verrs))
		for _, fe := range verrs {
			fields[fe.Field()] = fe.Tag()
		}
		writeJSON(w, http.StatusBadRequest, errorBody{Error: string(apperr.KindInvalidInput), Message: "request validation failed", Fields: fields})
		return
	}
	if ae, ok := apperr.As(err); ok {
		writeJSON(w, statusOf(ae.Kind), errorBody{Error: string(ae.Kind), Message: ae.Msg, IDs: ae.IDs, State: ae.State})
		return
	}
	if log != nil {
		log.Error("request failed", "error", err)
	}
	writeJSON(w, http.StatusInternalServerError, errorBody{Error: "internal", Message: http.StatusText(http.StatusInternalServerError)})
}

// decode reads a JSON body into v and runs its validate tags.
func decode(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return apperr.New(apperr.KindInvalidInput, "bad json: %s", strings.TrimPrefix(err.Error(), "json: "))
	}
	if err := validate.Struct(v); err != nil {
		var inv *validator.InvalidValidationError
		if errors.As(err, &inv) {
			return fmt.Errorf("validate: %w", err)
		}
		return err
	}
	return nil
}

// caller returns the actor loaded for this request and its active role.
func caller(r *http.Request) (scope.Actor, scope.Role, error) {
	a, ok := authmw.ActorFromContext(r.Context())
	if !ok {
		return scope.Actor{}, "", apperr.New(apperr.KindForbidden, "no authenticated actor")
	}
	return a, rbac.RoleFromContext(r.Context()), nil
}
