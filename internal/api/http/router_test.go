package http_test

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	api "github.com/mind-engage/mindengage-training/internal/api/http"
	auth "github.com/mind-engage/mindengage-training/internal/auth/middleware"
	"github.com/mind-engage/mindengage-training/internal/directory"
	"github.com/mind-engage/mindengage-training/internal/scope"
	"github.com/mind-engage/mindengage-training/internal/testkit"
)

func init() { directory.BcryptCost = bcrypt.MinCost }

type harness struct {
	t    *testing.T
	w    *testkit.World
	h    http.Handler
	auth *auth.AuthService
}

func newHarness(t *testing.T) *harness {
	w := testkit.New(t)
	a := auth.NewAuthService("router-test-secret-0123", time.Hour)
	srv := &api.Server{
		DB:          w.Deps.DB,
		Auth:        a,
		Content:     w.Content,
		Composer:    w.Composer,
		Assignments: w.Assignments,
		Engine:      w.Engine,
		Logger:      w.Deps.Logger,
	}
	return &harness{t: t, w: w, h: srv.Router(), auth: a}
}

func (h *harness) token(id string, role scope.Role) string {
	h.t.Helper()
	tok, _, err := h.auth.IssueJWT(id, role)
	require.NoError(h.t, err)
	return tok
}

func (h *harness) do(tok, method, path string, body any) (int, map[string]any) {
	h.t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(h.t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if tok != "" {
		req.Header.Set("Authorization", "Bearer "+tok)
	}
	rec := httptest.NewRecorder()
	h.h.ServeHTTP(rec, req)
	out := map[string]any{}
	if rec.Body.Len() > 0 && rec.Header().Get("Content-Type") == "application/json" {
		var v any
		require.NoError(h.t, json.Unmarshal(rec.Body.Bytes(), &v))
		if m, ok := v.(map[string]any); ok {
			out = m
		} else {
			out["items"] = v
		}
	}
	return rec.Code, out
}

func (h *harness) create(tok string, body map[string]any) string {
	h.t.Helper()
	code, res := h.do(tok, http.MethodPost, "/resources", body)
	require.Equal(h.t, http.StatusCreated, code, res)
	return res["group_id"].(string)
}

func TestExamOverHTTP(t *testing.T) {
	h := newHarness(t)
	h.w.User("m1", []scope.Role{scope.RoleMentor}, "", "")
	h.w.User("s1", []scope.Role{scope.RoleStudent}, "m1", "")
	h.w.User("s9", []scope.Role{scope.RoleStudent}, "m9", "")
	mentor := h.token("m1", scope.RoleMentor)
	student := h.token("s1", scope.RoleStudent)

	choice := h.create(mentor, map[string]any{"kind": "question", "title": "sum", "content": map[string]any{
		"type": "single_choice", "prompt": "1+1=?", "points": 10, "answer_key": []string{"B"},
		"choices": []map[string]string{{"id": "A", "label": "1"}, {"id": "B", "label": "2"}},
	}})
	essay := h.create(mentor, map[string]any{"kind": "question", "title": "why", "content": map[string]any{
		"type": "short_answer", "prompt": "Explain pinning", "points": 10,
	}})
	set := h.create(mentor, map[string]any{"kind": "test_set", "title": "exam", "content": map[string]any{
		"items": []map[string]string{{"question_group_id": choice}, {"question_group_id": essay}},
	}})

	code, res := h.do(student, http.MethodGet, "/resources/"+choice, nil)
	require.Equal(t, http.StatusOK, code)
	assert.NotContains(t, res["content"], "answer_key", "students never see keys")

	now := h.w.Clock.Now()
	taskReq := map[string]any{
		"kind": "EXAM", "title": "midterm", "resource_group_ids": []string{set},
		"target_student_ids": []string{"s1", "s9"},
		"start_time":         now.Add(-time.Hour), "deadline": now.Add(2 * time.Hour), "duration_seconds": 3600,
	}
	code, res = h.do(mentor, http.MethodPost, "/tasks", taskReq)
	require.Equal(t, http.StatusForbidden, code)
	assert.Equal(t, "scope_violation", res["error"])
	assert.Equal(t, []any{"s9"}, res["ids"])

	taskReq["target_student_ids"] = []string{"s1"}
	code, res = h.do(mentor, http.MethodPost, "/tasks", taskReq)
	require.Equal(t, http.StatusCreated, code, res)
	assert.EqualValues(t, 3600, res["duration_seconds"])
	aid := res["assignments"].([]any)[0].(map[string]any)["id"].(string)

	code, _ = h.do(student, http.MethodPost, "/tasks", taskReq)
	assert.Equal(t, http.StatusForbidden, code, "students cannot create tasks")

	code, res = h.do(student, http.MethodGet, "/assignments", nil)
	require.Equal(t, http.StatusOK, code)
	require.Len(t, res["items"], 1)
	assert.Equal(t, "PENDING_EXAM", res["items"].([]any)[0].(map[string]any)["status"])

	code, res = h.do(student, http.MethodPost, "/assignments/"+aid+"/submissions", map[string]string{"test_set_group_id": set})
	require.Equal(t, http.StatusCreated, code, res)
	sid := res["id"].(string)
	assert.Len(t, res["answers"], 2)

	code, res = h.do(student, http.MethodPut, "/submissions/"+sid+"/answers/"+choice, map[string]any{"raw_response": "B"})
	require.Equal(t, http.StatusOK, code, res)
	assert.Equal(t, true, res["is_correct"])
	code, _ = h.do(student, http.MethodPut, "/submissions/"+sid+"/answers/"+essay, map[string]any{"raw_response": "versions are immutable"})
	require.Equal(t, http.StatusOK, code)

	code, res = h.do(student, http.MethodPost, "/submissions/"+sid+"/finalize", nil)
	require.Equal(t, http.StatusOK, code, res)
	assert.Equal(t, "GRADING", res["status"])
	assert.EqualValues(t, 10, res["obtained_score"])
	var essayAnswer string
	for _, a := range res["answers"].([]any) {
		if m := a.(map[string]any); m["question_group_id"] == essay {
			essayAnswer = m["id"].(string)
		}
	}
	require.NotEmpty(t, essayAnswer)

	code, res = h.do(student, http.MethodPost, "/assignments/"+aid+"/submissions", map[string]string{"test_set_group_id": set})
	assert.Equal(t, http.StatusConflict, code)
	assert.Equal(t, "already_submitted", res["error"])

	code, _ = h.do(student, http.MethodPost, "/submissions/"+sid+"/answers/"+essayAnswer+"/grade", map[string]any{"score": 10})
	assert.Equal(t, http.StatusForbidden, code)

	code, res = h.do(mentor, http.MethodPost, "/submissions/"+sid+"/answers/"+essayAnswer+"/grade", map[string]any{"score": 8, "comment": "good"})
	require.Equal(t, http.StatusOK, code, res)
	assert.Equal(t, "GRADED", res["submission_status"])
	assert.EqualValues(t, 18, res["obtained_score"])
	assert.Equal(t, "COMPLETED", res["assignment_status"])

	code, res = h.do(mentor, http.MethodPost, "/submissions/"+sid+"/answers/"+essayAnswer+"/grade", map[string]any{"score": 9})
	assert.Equal(t, http.StatusConflict, code)
	assert.Equal(t, "not_grading", res["error"])
	assert.Equal(t, "GRADED", res["state"])
}

func TestRequestValidationAndAuth(t *testing.T) {
	h := newHarness(t)
	h.w.User("adm", []scope.Role{scope.RoleAdmin}, "", "")
	admin := h.token("adm", scope.RoleAdmin)

	code, res := h.do(admin, http.MethodPost, "/tasks", map[string]any{"kind": "QUIZ", "title": ""})
	require.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, "invalid_input", res["error"])
	assert.Contains(t, res["fields"], "Kind")

	code, _ = h.do("", http.MethodGet, "/assignments", nil)
	assert.Equal(t, http.StatusUnauthorized, code)

	code, _ = h.do(h.token("ghost", scope.RoleAdmin), http.MethodGet, "/assignments", nil)
	assert.Equal(t, http.StatusUnauthorized, code)

	code, _ = h.do(h.token("adm", scope.RoleMentor), http.MethodGet, "/users", nil)
	assert.Equal(t, http.StatusForbidden, code, "role not assigned")

	code, res = h.do(admin, http.MethodGet, "/resources/missing", nil)
	assert.Equal(t, http.StatusNotFound, code)
	assert.Equal(t, "resource_not_found", res["error"])
}

func TestUserAdministration(t *testing.T) {
	h := newHarness(t)
	h.w.User("adm", []scope.Role{scope.RoleAdmin}, "", "")
	admin := h.token("adm", scope.RoleAdmin)

	code, res := h.do(admin, http.MethodPost, "/users/bulk", []map[string]any{
		{"id": "m1", "username": "mentor", "roles": []string{"mentor"}, "password": "password1"},
		{"id": "s1", "username": "stud", "roles": []string{"student"}, "mentor_id": "m1", "password": "password1"},
	})
	require.Equal(t, http.StatusOK, code, res)
	assert.EqualValues(t, 2, res["inserted"])

	code, res = h.do(h.token("m1", scope.RoleMentor), http.MethodGet, "/scope/students", nil)
	require.Equal(t, http.StatusOK, code)
	assert.Len(t, res["students"], 1)

	code, res = h.do(admin, http.MethodPut, "/users/adm/roles", map[string]any{"roles": []string{"mentor"}})
	assert.Equal(t, http.StatusBadRequest, code, "last admin")
	assert.Equal(t, "invalid_input", res["error"])

	code, _ = h.do(admin, http.MethodPut, "/users/m1/roles", map[string]any{"roles": []string{"mentor", "department_manager"}})
	assert.Equal(t, http.StatusOK, code)

	student := h.token("s1", scope.RoleStudent)
	code, _ = h.do(student, http.MethodPost, "/users/change-password", map[string]string{"old_password": "wrong", "new_password": "password2"})
	assert.Equal(t, http.StatusForbidden, code)
	code, _ = h.do(student, http.MethodPost, "/users/change-password", map[string]string{"old_password": "password1", "new_password": "password2"})
	assert.Equal(t, http.StatusNoContent, code)
}
