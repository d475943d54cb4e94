package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gatekit/internal/permissions"
	"gatekit/pkg/directory"
	"gatekit/pkg/logger"
	"gatekit/pkg/roles"
)

func guardedRouter(t *testing.T, required roles.WorkspaceRole) (chi.Router, *directory.MemoryClient) {
	t.Helper()
	dir := directory.NewMemoryClient(logger.Nop())
	resolver := permissions.NewResolver(dir, roles.DefaultMapping(), logger.Nop())
	checker := permissions.NewChecker(permissions.NewCache(resolver, time.Minute))

	r := chi.NewRouter()
	r.With(RequireWorkspaceRole(checker, logger.Nop(), required)).
		Get("/v1/workspaces/{workspaceID}/summary", func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusOK)
		})
	return r, dir
}

func asUser(req *http.Request, userID string) *http.Request {
	return req.WithContext(context.WithValue(req.Context(), "sub", userID))
}

func TestRequireWorkspaceRoleAllowsMember(t *testing.T) {
	r, dir := guardedRouter(t, roles.WorkspaceMember)
	ws := dir.Seed(directory.GroupRecord{
		Name: "workspace-acme", Path: "/workspace-acme", Kind: directory.GroupWorkspace,
	}, "member")
	require.NoError(t, dir.AddUserToGroup(context.Background(), "u1", ws))

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, asUser(httptest.NewRequest(http.MethodGet, "/v1/workspaces/acme/summary", nil), "u1"))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRequireWorkspaceRoleDeniesOutsider(t *testing.T) {
	r, _ := guardedRouter(t, roles.WorkspaceMember)

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, asUser(httptest.NewRequest(http.MethodGet, "/v1/workspaces/acme/summary", nil), "stranger"))
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Type"), "application/problem+json")
}

func TestRequireWorkspaceRoleDeniesInsufficientRole(t *testing.T) {
	r, dir := guardedRouter(t, roles.WorkspaceAdmin)
	ws := dir.Seed(directory.GroupRecord{
		Name: "workspace-acme", Path: "/workspace-acme", Kind: directory.GroupWorkspace,
	}, "member")
	require.NoError(t, dir.AddUserToGroup(context.Background(), "u1", ws))

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, asUser(httptest.NewRequest(http.MethodGet, "/v1/workspaces/acme/summary", nil), "u1"))
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestRequireWorkspaceRoleRejectsAnonymous(t *testing.T) {
	r, _ := guardedRouter(t, roles.WorkspaceMember)

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/workspaces/acme/summary", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}
