// Package permissions resolves, caches and checks a user's workspace/account
// role graph. The source of truth is the identity provider's group tree; this
// package never stores rows of its own.
package permissions

import (
	"gatekit/pkg/roles"
)

// AccountEntry is a user's role on one account.
type AccountEntry struct {
	Role roles.AccountRole
}

// WorkspaceEntry is a user's role on one workspace plus any explicit account
// memberships under it.
type WorkspaceEntry struct {
	Role     roles.WorkspaceRole
	Accounts map[string]AccountEntry
}

// Snapshot is the materialized view of a user's full role graph. Built fresh
// on every cache miss and immutable afterwards; invalidation always discards
// the whole thing.
type Snapshot struct {
	UserID     string
	Workspaces map[string]WorkspaceEntry
}

// Workspace returns the entry for a workspace id.
func (s *Snapshot) Workspace(id string) (WorkspaceEntry, bool) {
	e, ok := s.Workspaces[id]
	return e, ok
}
