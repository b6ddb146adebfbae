package http

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/mind-engage/mindengage-training/internal/scope"
	"github.com/mind-engage/mindengage-training/internal/submission"
)

type startReq struct {
	TestSetGroupID string `json:"test_set_group_id" validate:"required"`
}

type saveAnswerReq struct {
	RawResponse json.RawMessage `json:"raw_response" validate:"required"`
}

type gradeReq struct {
	Score   *float64 `json:"score" validate:"required"`
	Comment string   `json:"comment,omitempty" validate:"max=4000"`
}

// POST /assignments/{assignmentID}/submissions
func StartSubmissionHandler(e *submission.Engine, log *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, _, err := caller(r)
		if err != nil {
			writeError(w, log, err)
			return
		}
		var req startReq
		if err := decode(r, &req); err != nil {
			writeError(w, log, err)
			return
		}
		s, err := e.Start(r.Context(), actor, chi.URLParam(r, "assignmentID"), req.TestSetGroupID)
		if err != nil {
			writeError(w, log, err)
			return
		}
		// include the pinned questions, without keys
		full, err := e.Get(r.Context(), actor, scope.RoleStudent, s.ID)
		if err != nil {
			writeError(w, log, err)
			return
		}
		writeJSON(w, http.StatusCreated, full)
	}
}

// GET /assignments/{assignmentID}/submissions
func ListSubmissionsHandler(e *submission.Engine, log *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, role, err := caller(r)
		if err != nil {
			writeError(w, log, err)
			return
		}
		list, err := e.List(r.Context(), actor, role, chi.URLParam(r, "assignmentID"))
		if err != nil {
			writeError(w, log, err)
			return
		}
		writeJSON(w, http.StatusOK, list)
	}
}

// GET /submissions/{submissionID}
func GetSubmissionHandler(e *submission.Engine, log *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, role, err := caller(r)
		if err != nil {
			writeError(w, log, err)
			return
		}
		s, err := e.Get(r.Context(), actor, role, chi.URLParam(r, "submissionID"))
		if err != nil {
			writeError(w, log, err)
			return
		}
		writeJSON(w, http.StatusOK, s)
	}
}

// PUT /submissions/{submissionID}/answers/{questionGroupID}
func SaveAnswerHandler(e *submission.Engine, log *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, _, err := caller(r)
		if err != nil {
			writeError(w, log, err)
			return
		}
		var req saveAnswerReq
		if err := decode(r, &req); err != nil {
			writeError(w, log, err)
			return
		}
		a, err := e.SaveAnswer(r.Context(), actor, chi.URLParam(r, "submissionID"), chi.URLParam(r, "questionGroupID"), req.RawResponse)
		if err != nil {
			writeError(w, log, err)
			return
		}
		writeJSON(w, http.StatusOK, a)
	}
}

// POST /submissions/{submissionID}/finalize
func FinalizeSubmissionHandler(e *submission.Engine, log *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, _, err := caller(r)
		if err != nil {
			writeError(w, log, err)
			return
		}
		s, err := e.Finalize(r.Context(), actor, chi.URLParam(r, "submissionID"))
		if err != nil {
			writeError(w, log, err)
			return
		}
		writeJSON(w, http.StatusOK, s)
	}
}

// POST /submissions/{submissionID}/answers/{answerID}/grade
func GradeAnswerHandler(e *submission.Engine, log *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, role, err := caller(r)
		if err != nil {
			writeError(w, log, err)
			return
		}
		var req gradeReq
		if err := decode(r, &req); err != nil {
			writeError(w, log, err)
			return
		}
		g, err := e.GradeAnswer(r.Context(), actor, role, chi.URLParam(r, "submissionID"), chi.URLParam(r, "answerID"), *req.Score, req.Comment)
		if err != nil {
			writeError(w, log, err)
			return
		}
		writeJSON(w, http.StatusOK, g)
	}
}
