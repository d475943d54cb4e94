// pkg/middleware/guard.go
package middleware

import (
	"net/http"

	"gatekit/internal/permissions"
	"gatekit/pkg/problems"
	"gatekit/pkg/roles"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

// RequireWorkspaceRole gates a route on the caller holding at least the given
// role in the workspace named by the {workspaceID} route param.
func RequireWorkspaceRole(checker *permissions.Checker, logger *zap.SugaredLogger, required roles.WorkspaceRole) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			userID := SubjectFrom(r.Context())
			if userID == "" {
				http.Error(w, "missing bearer", http.StatusUnauthorized)
				return
			}
			wsID := chi.URLParam(r, "workspaceID")
			if err := checker.RequireWorkspace(r.Context(), userID, wsID, required); err != nil {
				problems.Write(w, logger, err)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RequireAccountRole gates a route on the caller holding at least the given
// role for {accountID} within {workspaceID}. Workspace admins always pass.
func RequireAccountRole(checker *permissions.Checker, logger *zap.SugaredLogger, required roles.AccountRole) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			userID := SubjectFrom(r.Context())
			if userID == "" {
				http.Error(w, "missing bearer", http.StatusUnauthorized)
				return
			}
			wsID := chi.URLParam(r, "workspaceID")
			acctID := chi.URLParam(r, "accountID")
			if err := checker.RequireAccount(r.Context(), userID, wsID, acctID, required); err != nil {
				problems.Write(w, logger, err)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
