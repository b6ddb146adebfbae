package rbac

import "github.com/mind-engage/mindengage-training/internal/scope"

// Permissions are coarse route gates. Which students an actor may touch is
// decided by the scope resolver, not here.
const (
	ResourceRead    = "resource:read"
	ResourceWrite   = "resource:write"
	TaskCreate      = "task:create"
	TaskView        = "task:view"
	TaskClose       = "task:close"
	AssignmentView  = "assignment:view"
	AssignmentWork  = "assignment:work"
	SubmissionGrade = "submission:grade"
	ScopeView       = "scope:view"
	UsersList       = "users:list"
	UsersBulkUpsert = "users:bulk_upsert"
	ChangePassword  = "user:change_password"
)

var RolePermissions = map[scope.Role][]string{
	scope.RoleStudent: {
		ResourceRead,
		TaskView,
		AssignmentView,
		AssignmentWork,
		ChangePassword,
	},
	scope.RoleMentor: {
		"resource:*",
		"task:*",
		AssignmentView,
		SubmissionGrade,
		ScopeView,
		UsersList,
		ChangePassword,
	},
	scope.RoleDeptManager: {
		"resource:*",
		"task:*",
		AssignmentView,
		SubmissionGrade,
		ScopeView,
		UsersList,
		ChangePassword,
	},
	scope.RoleTeamManager: {
		ResourceRead,
		TaskView,
		AssignmentView,
		ScopeView,
		UsersList,
		ChangePassword,
	},
	scope.RoleAdmin: {
		"*",
	},
}
