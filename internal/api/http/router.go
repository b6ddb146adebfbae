// Package http exposes the training engine over a JSON API.
package http

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/mind-engage/mindengage-training/internal/assignment"
	auth "github.com/mind-engage/mindengage-training/internal/auth/middleware"
	"github.com/mind-engage/mindengage-training/internal/composer"
	"github.com/mind-engage/mindengage-training/internal/content"
	"github.com/mind-engage/mindengage-training/internal/db"
	"github.com/mind-engage/mindengage-training/internal/directory"
	"github.com/mind-engage/mindengage-training/internal/rbac"
	"github.com/mind-engage/mindengage-training/internal/submission"
)

// Server holds the services the routes dispatch to.
type Server struct {
	DB          *db.DB
	Auth        *auth.AuthService
	Content     *content.Service
	Composer    *composer.Composer
	Assignments *assignment.Service
	Engine      *submission.Engine
	Logger      *slog.Logger
	CORSOrigins []string
	// Metrics, when set, is mounted at /metrics.
	Metrics http.Handler
}

func (s *Server) Router() http.Handler {
	log := s.Logger
	if log == nil {
		log = slog.Default()
	}
	users := directory.NewStore(s.DB.SQL)

	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.RealIP, middleware.Logger, middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))
	if len(s.CORSOrigins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins:   s.CORSOrigins,
			AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
			AllowedHeaders:   []string{"Authorization", "Content-Type"},
			ExposedHeaders:   []string{"Content-Length"},
			AllowCredentials: true,
			MaxAge:           300,
		}))
	}

	r.Post("/auth/login", auth.LoginHandler(s.Auth, users))

	// Protected API (JWT → actor from directory → RBAC on the active role)
	r.Group(func(pr chi.Router) {
		pr.Use(auth.JWTMiddleware(s.Auth), auth.LoadActor(users))

		pr.Post("/auth/switch-role", auth.SwitchRoleHandler(s.Auth, users))

		pr.With(rbac.Require(rbac.ResourceWrite)).Post("/resources", CreateResourceHandler(s.Content, log))
		pr.With(rbac.Require(rbac.ResourceRead)).Get("/resources/{groupID}", GetResourceHandler(s.Content, log))
		pr.With(rbac.Require(rbac.ResourceWrite)).Get("/resources/{groupID}/versions", ResourceHistoryHandler(s.Content, log))
		pr.With(rbac.Require(rbac.ResourceRead)).Get("/resources/{groupID}/versions/{n}", GetResourceVersionHandler(s.Content, log))
		pr.With(rbac.Require(rbac.ResourceWrite)).Put("/resources/{groupID}", EditResourceHandler(s.Content, log))
		pr.With(rbac.Require(rbac.ResourceWrite)).Delete("/resources/{groupID}", DeleteResourceHandler(s.Content, log))

		pr.With(rbac.Require(rbac.TaskCreate)).Post("/tasks", CreateTaskHandler(s.Composer, log))
		pr.With(rbac.Require(rbac.TaskCreate)).Get("/tasks", MyTasksHandler(s.Composer, log))
		pr.With(rbac.Require(rbac.TaskView)).Get("/tasks/{taskID}", GetTaskHandler(s.Composer, log))
		pr.With(rbac.Require(rbac.TaskClose)).Post("/tasks/{taskID}/close", CloseTaskHandler(s.Composer, log))

		pr.With(rbac.Require(rbac.AssignmentView)).Get("/assignments", ListAssignmentsHandler(s.Assignments, log))
		pr.With(rbac.Require(rbac.AssignmentView)).Get("/assignments/{assignmentID}", GetAssignmentHandler(s.Assignments, log))
		pr.With(rbac.Require(rbac.AssignmentWork)).
			Post("/assignments/{assignmentID}/knowledge/{groupID}/complete", CompleteKnowledgeHandler(s.Assignments, log))
		pr.With(rbac.Require(rbac.AssignmentWork)).Post("/assignments/{assignmentID}/submissions", StartSubmissionHandler(s.Engine, log))
		pr.With(rbac.Require(rbac.AssignmentView)).Get("/assignments/{assignmentID}/submissions", ListSubmissionsHandler(s.Engine, log))

		pr.With(rbac.RequireAny(rbac.AssignmentView, rbac.SubmissionGrade)).Get("/submissions/{submissionID}", GetSubmissionHandler(s.Engine, log))
		pr.With(rbac.Require(rbac.AssignmentWork)).
			Put("/submissions/{submissionID}/answers/{questionGroupID}", SaveAnswerHandler(s.Engine, log))
		pr.With(rbac.Require(rbac.AssignmentWork)).Post("/submissions/{submissionID}/finalize", FinalizeSubmissionHandler(s.Engine, log))
		pr.With(rbac.Require(rbac.SubmissionGrade)).
			Post("/submissions/{submissionID}/answers/{answerID}/grade", GradeAnswerHandler(s.Engine, log))

		pr.With(rbac.Require(rbac.ScopeView)).Get("/scope/students", ScopeStudentsHandler(s.DB, log))
		pr.With(rbac.Require(rbac.UsersBulkUpsert)).Post("/users/bulk", BulkUpsertUsersHandler(s.DB, log))
		pr.With(rbac.Require(rbac.UsersList)).Get("/users", ListUsersHandler(s.DB, log))
		pr.With(rbac.Require(rbac.UsersBulkUpsert)).Put("/users/{userID}/roles", AdminUpdateUserRolesHandler(s.DB, log))
		pr.With(rbac.Require(rbac.ChangePassword)).Post("/users/change-password", ChangePasswordHandler(s.DB, log))
	})

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) })
	r.Get("/readyz", func(w http.ResponseWriter, r *http.Request) {
		if err := s.DB.Ping(r.Context()); err != nil {
			http.Error(w, "db unavailable", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	})
	if s.Metrics != nil {
		r.Handle("/metrics", s.Metrics)
	}
	return r
}
