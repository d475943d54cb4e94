// internal/permissions/checker.go
package permissions

import (
	"context"
	"errors"
	"net/http"

	"gatekit/pkg/problems"
	"gatekit/pkg/roles"
)

// ErrForbidden is the generic denial surfaced to callers. It deliberately
// carries no detail about which role was required.
var ErrForbidden = errors.New("forbidden")

func init() {
	problems.Register(ErrForbidden, http.StatusForbidden, "forbidden", "access denied")
}

// WorkspaceAccess is the outcome of a workspace-level check.
type WorkspaceAccess struct {
	HasAccess bool
	Role      roles.WorkspaceRole
	Reason    string
}

// AccountAccess is the outcome of an account-level check.
type AccountAccess struct {
	HasAccess bool
	Role      roles.AccountRole
	Reason    string
}

// Checker answers access questions from cached snapshots. Workspace admins
// implicitly hold the account admin role on every account of the workspace.
type Checker struct {
	cache *Cache
}

func NewChecker(cache *Cache) *Checker {
	return &Checker{cache: cache}
}

// CheckWorkspaceAccess checks membership of a workspace, optionally for a
// minimum role. Passing required == "" checks presence only.
func (c *Checker) CheckWorkspaceAccess(ctx context.Context, userID, workspaceID string, required roles.WorkspaceRole) (WorkspaceAccess, error) {
	snap, err := c.cache.Get(ctx, userID)
	if err != nil {
		return WorkspaceAccess{}, err
	}
	entry, ok := snap.Workspace(workspaceID)
	if !ok {
		return WorkspaceAccess{Reason: "no workspace membership"}, nil
	}
	if required != "" && !roles.WorkspaceSufficient(entry.Role, required) {
		return WorkspaceAccess{Role: entry.Role, Reason: "insufficient role"}, nil
	}
	return WorkspaceAccess{HasAccess: true, Role: entry.Role}, nil
}

// CheckAccountAccess checks membership of an account, optionally for a
// minimum role. Workspace admins short-circuit to account admin without
// consulting account-level memberships.
func (c *Checker) CheckAccountAccess(ctx context.Context, userID, workspaceID, accountID string, required roles.AccountRole) (AccountAccess, error) {
	snap, err := c.cache.Get(ctx, userID)
	if err != nil {
		return AccountAccess{}, err
	}
	entry, ok := snap.Workspace(workspaceID)
	if !ok {
		return AccountAccess{Reason: "no workspace membership"}, nil
	}
	if roles.WorkspaceSufficient(entry.Role, roles.WorkspaceAdmin) {
		return AccountAccess{HasAccess: true, Role: roles.AccountAdmin}, nil
	}
	acct, ok := entry.Accounts[accountID]
	if !ok {
		return AccountAccess{Reason: "no account membership"}, nil
	}
	if required != "" && !roles.AccountSufficient(acct.Role, required) {
		return AccountAccess{Role: acct.Role, Reason: "insufficient role"}, nil
	}
	return AccountAccess{HasAccess: true, Role: acct.Role}, nil
}

// WorkspaceRoleFor returns the user's role on a workspace, or false when the
// user has no entry there.
func (c *Checker) WorkspaceRoleFor(ctx context.Context, userID, workspaceID string) (roles.WorkspaceRole, bool, error) {
	snap, err := c.cache.Get(ctx, userID)
	if err != nil {
		return "", false, err
	}
	entry, ok := snap.Workspace(workspaceID)
	if !ok {
		return "", false, nil
	}
	return entry.Role, true, nil
}

// AccountRoleFor returns the user's effective role on an account, applying
// the workspace-admin override.
func (c *Checker) AccountRoleFor(ctx context.Context, userID, workspaceID, accountID string) (roles.AccountRole, bool, error) {
	acc, err := c.CheckAccountAccess(ctx, userID, workspaceID, accountID, "")
	if err != nil {
		return "", false, err
	}
	if !acc.HasAccess {
		return "", false, nil
	}
	return acc.Role, true, nil
}

// RequireWorkspace is the precondition form of CheckWorkspaceAccess: it
// returns ErrForbidden on denial so privileged operations can guard their
// first line with it. Resolution failures pass through unchanged.
func (c *Checker) RequireWorkspace(ctx context.Context, userID, workspaceID string, required roles.WorkspaceRole) error {
	acc, err := c.CheckWorkspaceAccess(ctx, userID, workspaceID, required)
	if err != nil {
		return err
	}
	if !acc.HasAccess {
		return ErrForbidden
	}
	return nil
}

// RequireAccount is the precondition form of CheckAccountAccess.
func (c *Checker) RequireAccount(ctx context.Context, userID, workspaceID, accountID string, required roles.AccountRole) error {
	acc, err := c.CheckAccountAccess(ctx, userID, workspaceID, accountID, required)
	if err != nil {
		return err
	}
	if !acc.HasAccess {
		return ErrForbidden
	}
	return nil
}

// Invalidate drops a user's cached snapshot, forcing the next check to
// resolve fresh. Exposed for the admin operations that mutate group
// membership.
func (c *Checker) Invalidate(userID string) { c.cache.Invalidate(userID) }
