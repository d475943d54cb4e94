// Package roles defines the two fixed role hierarchies used by the dashboard:
// workspace-level roles and account-level roles. Seniority is positional —
// a role is sufficient for a requirement when its index in the hierarchy is
// greater than or equal to the requirement's index.
package roles

// WorkspaceRole is a role at the workspace (top tenant) tier.
type WorkspaceRole string

// AccountRole is a role at the account (sub-tenant) tier.
type AccountRole string

const (
	WorkspaceMember  WorkspaceRole = "member"
	WorkspaceBilling WorkspaceRole = "billing"
	WorkspaceAdmin   WorkspaceRole = "admin"

	AccountViewer AccountRole = "viewer"
	AccountEditor AccountRole = "editor"
	AccountAdmin  AccountRole = "admin"
)

// Ordered hierarchies, least senior first. Closed sets: anything not listed
// here is not a role and is never sufficient for anything.
var (
	workspaceHierarchy = []WorkspaceRole{WorkspaceMember, WorkspaceBilling, WorkspaceAdmin}
	accountHierarchy   = []AccountRole{AccountViewer, AccountEditor, AccountAdmin}
)

func workspaceIndex(r WorkspaceRole) int {
	for i, h := range workspaceHierarchy {
		if h == r {
			return i
		}
	}
	return -1
}

func accountIndex(r AccountRole) int {
	for i, h := range accountHierarchy {
		if h == r {
			return i
		}
	}
	return -1
}

// ValidWorkspaceRole reports whether r is a member of the workspace hierarchy.
func ValidWorkspaceRole(r WorkspaceRole) bool { return workspaceIndex(r) >= 0 }

// ValidAccountRole reports whether r is a member of the account hierarchy.
func ValidAccountRole(r AccountRole) bool { return accountIndex(r) >= 0 }

// WorkspaceSufficient reports whether having role `have` satisfies a
// requirement of `want`. Unknown roles on either side are never sufficient.
func WorkspaceSufficient(have, want WorkspaceRole) bool {
	hi, wi := workspaceIndex(have), workspaceIndex(want)
	if hi < 0 || wi < 0 {
		return false
	}
	return hi >= wi
}

// AccountSufficient reports whether having role `have` satisfies a
// requirement of `want`. Unknown roles on either side are never sufficient.
func AccountSufficient(have, want AccountRole) bool {
	hi, wi := accountIndex(have), accountIndex(want)
	if hi < 0 || wi < 0 {
		return false
	}
	return hi >= wi
}

// MaxWorkspace returns the more senior of a and b. Unknown roles lose to
// known ones; if both are unknown, a is returned unchanged.
func MaxWorkspace(a, b WorkspaceRole) WorkspaceRole {
	if workspaceIndex(b) > workspaceIndex(a) {
		return b
	}
	return a
}

// MaxAccount returns the more senior of a and b.
func MaxAccount(a, b AccountRole) AccountRole {
	if accountIndex(b) > accountIndex(a) {
		return b
	}
	return a
}
