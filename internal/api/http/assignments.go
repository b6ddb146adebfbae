package http

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/mind-engage/mindengage-training/internal/assignment"
)

type assignmentView struct {
	assignment.View
	Task taskView `json:"task"`
}

// GET /assignments?student_id=&task_id=
func ListAssignmentsHandler(s *assignment.Service, log *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, role, err := caller(r)
		if err != nil {
			writeError(w, log, err)
			return
		}
		q := r.URL.Query()
		list, err := s.List(r.Context(), actor, role, assignment.Filter{StudentID: q.Get("student_id"), TaskID: q.Get("task_id")})
		if err != nil {
			writeError(w, log, err)
			return
		}
		writeJSON(w, http.StatusOK, list)
	}
}

// GET /assignments/{assignmentID}
func GetAssignmentHandler(s *assignment.Service, log *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, role, err := caller(r)
		if err != nil {
			writeError(w, log, err)
			return
		}
		v, err := s.Get(r.Context(), actor, role, chi.URLParam(r, "assignmentID"))
		if err != nil {
			writeError(w, log, err)
			return
		}
		writeJSON(w, http.StatusOK, assignmentView{View: v, Task: viewTask(v.Task)})
	}
}

// POST /assignments/{assignmentID}/knowledge/{groupID}/complete
func CompleteKnowledgeHandler(s *assignment.Service, log *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, _, err := caller(r)
		if err != nil {
			writeError(w, log, err)
			return
		}
		p, err := s.CompleteKnowledge(r.Context(), actor, chi.URLParam(r, "assignmentID"), chi.URLParam(r, "groupID"))
		if err != nil {
			writeError(w, log, err)
			return
		}
		writeJSON(w, http.StatusOK, p)
	}
}
