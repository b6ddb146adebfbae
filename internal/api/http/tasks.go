package http

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/mind-engage/mindengage-training/internal/assignment"
	"github.com/mind-engage/mindengage-training/internal/composer"
	"github.com/mind-engage/mindengage-training/internal/task"
)

type createTaskReq struct {
	Kind             string     `json:"kind" validate:"required,oneof=LEARNING PRACTICE EXAM"`
	Title            string     `json:"title" validate:"required,max=200"`
	ResourceGroupIDs []string   `json:"resource_group_ids" validate:"required,min=1,dive,required"`
	TargetStudentIDs []string   `json:"target_student_ids" validate:"required,min=1,dive,required"`
	Deadline         time.Time  `json:"deadline" validate:"required"`
	StartTime        *time.Time `json:"start_time,omitempty"`
	DurationSeconds  int64      `json:"duration_seconds,omitempty" validate:"gte=0"`
	PassScore        *float64   `json:"pass_score,omitempty" validate:"omitempty,gte=0"`
}

func (r createTaskReq) request() composer.Request {
	return composer.Request{
		Kind:             task.Kind(r.Kind),
		Title:            r.Title,
		ResourceGroupIDs: r.ResourceGroupIDs,
		TargetStudentIDs: r.TargetStudentIDs,
		Deadline:         r.Deadline.UTC(),
		StartTime:        r.StartTime,
		Duration:         time.Duration(r.DurationSeconds) * time.Second,
		PassScore:        r.PassScore,
	}
}

type taskView struct {
	task.Task
	DurationSeconds int64 `json:"duration_seconds,omitempty"`
}

func viewTask(t task.Task) taskView {
	return taskView{Task: t, DurationSeconds: int64(t.Duration / time.Second)}
}

type createTaskResp struct {
	taskView
	Assignments []assignment.Assignment `json:"assignments"`
}

// POST /tasks
func CreateTaskHandler(c *composer.Composer, log *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, role, err := caller(r)
		if err != nil {
			writeError(w, log, err)
			return
		}
		var req createTaskReq
		if err := decode(r, &req); err != nil {
			writeError(w, log, err)
			return
		}
		res, err := c.Create(r.Context(), actor, role, req.request())
		if err != nil {
			writeError(w, log, err)
			return
		}
		writeJSON(w, http.StatusCreated, createTaskResp{taskView: viewTask(res.Task), Assignments: res.Assignments})
	}
}

// GET /tasks
func MyTasksHandler(c *composer.Composer, log *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, _, err := caller(r)
		if err != nil {
			writeError(w, log, err)
			return
		}
		list, err := c.Mine(r.Context(), actor)
		if err != nil {
			writeError(w, log, err)
			return
		}
		out := make([]taskView, 0, len(list))
		for _, t := range list {
			out = append(out, viewTask(t))
		}
		writeJSON(w, http.StatusOK, out)
	}
}

// GET /tasks/{taskID}
func GetTaskHandler(c *composer.Composer, log *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, role, err := caller(r)
		if err != nil {
			writeError(w, log, err)
			return
		}
		t, err := c.Get(r.Context(), actor, role, chi.URLParam(r, "taskID"))
		if err != nil {
			writeError(w, log, err)
			return
		}
		writeJSON(w, http.StatusOK, viewTask(t))
	}
}

// POST /tasks/{taskID}/close
func CloseTaskHandler(c *composer.Composer, log *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, role, err := caller(r)
		if err != nil {
			writeError(w, log, err)
			return
		}
		t, err := c.Close(r.Context(), actor, role, chi.URLParam(r, "taskID"))
		if err != nil {
			writeError(w, log, err)
			return
		}
		writeJSON(w, http.StatusOK, viewTask(t))
	}
}
