// internal/permissions/resolver.go
package permissions

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"gatekit/pkg/directory"
	"gatekit/pkg/roles"

	"go.uber.org/zap"
)

// Resolver walks a user's directory group memberships and assembles a
// Snapshot. Group lookups run concurrently; each goroutine writes to its own
// result slot and a single merge after Wait keeps the build race-free. Merge
// order never matters: per-key merges take the most senior role.
type Resolver struct {
	dir     directory.Client
	mapping *roles.Mapping
	log     *zap.SugaredLogger
}

func NewResolver(dir directory.Client, mapping *roles.Mapping, log *zap.SugaredLogger) *Resolver {
	return &Resolver{dir: dir, mapping: mapping, log: log}
}

// contribution is what one group adds to the snapshot. Exactly one of the
// two shapes is populated, matching the group's kind.
type contribution struct {
	workspaceID   string
	workspaceRole roles.WorkspaceRole

	accountWS   string
	accountID   string
	accountRole roles.AccountRole
}

// Resolve builds a fresh snapshot for userID. It fails only when the
// directory itself is unreachable; individual groups that cannot be resolved
// are logged and skipped so one bad group never empties a user's access.
func (r *Resolver) Resolve(ctx context.Context, userID string) (*Snapshot, error) {
	groups, err := r.dir.ListUserGroups(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("list groups for %s: %w", userID, err)
	}

	contribs := make([]*contribution, len(groups))
	g, ctx := errgroup.WithContext(ctx)
	for i, grp := range groups {
		i, grp := i, grp
		g.Go(func() error {
			c, cerr := r.resolveGroup(ctx, grp)
			if cerr != nil {
				resolverSkips.Inc()
				r.log.Warnw("partial resolution: skipping group",
					"user", userID, "group", grp.Name, "err", cerr)
				return nil
			}
			contribs[i] = c
			return nil
		})
	}
	_ = g.Wait()

	snap := &Snapshot{UserID: userID, Workspaces: map[string]WorkspaceEntry{}}
	for _, c := range contribs {
		if c == nil {
			continue
		}
		merge(snap, c)
	}
	return snap, nil
}

// resolveGroup classifies one group and fetches its assigned role.
func (r *Resolver) resolveGroup(ctx context.Context, grp directory.GroupRecord) (*contribution, error) {
	names, err := r.dir.ListGroupRoleMappings(ctx, grp.ID)
	if err != nil {
		return nil, fmt.Errorf("role mappings: %w", err)
	}

	switch grp.Kind {
	case directory.GroupWorkspace:
		wsID := grp.WorkspaceID()
		if wsID == "" {
			return nil, fmt.Errorf("no workspace id extractable from %q", grp.Name)
		}
		role, ok := r.pickWorkspaceRole(names)
		if !ok {
			return nil, fmt.Errorf("no recognized workspace role among %v", names)
		}
		return &contribution{workspaceID: wsID, workspaceRole: role}, nil

	case directory.GroupAccount:
		acctID := grp.AccountID()
		if acctID == "" {
			return nil, fmt.Errorf("no account id extractable from %q", grp.Name)
		}
		wsID := grp.ParentWorkspaceID()
		if wsID == "" {
			return nil, fmt.Errorf("no parent workspace for account group %q (path %q)", grp.Name, grp.Path)
		}
		role, ok := r.pickAccountRole(names)
		if !ok {
			return nil, fmt.Errorf("no recognized account role among %v", names)
		}
		return &contribution{accountWS: wsID, accountID: acctID, accountRole: role}, nil
	}
	return nil, fmt.Errorf("unhandled group kind %q", grp.Kind)
}

// pickWorkspaceRole maps role-mapping names to the most senior workspace role.
func (r *Resolver) pickWorkspaceRole(names []string) (roles.WorkspaceRole, bool) {
	var best roles.WorkspaceRole
	found := false
	for _, n := range names {
		if role, ok := r.mapping.Workspace(n); ok {
			if !found {
				best, found = role, true
			} else {
				best = roles.MaxWorkspace(best, role)
			}
		}
	}
	return best, found
}

func (r *Resolver) pickAccountRole(names []string) (roles.AccountRole, bool) {
	var best roles.AccountRole
	found := false
	for _, n := range names {
		if role, ok := r.mapping.Account(n); ok {
			if !found {
				best, found = role, true
			} else {
				best = roles.MaxAccount(best, role)
			}
		}
	}
	return best, found
}

// merge folds one contribution into the snapshot. A user can hold account
// access without independent workspace membership; such a workspace entry is
// opened with the default member role.
func merge(snap *Snapshot, c *contribution) {
	if c.workspaceID != "" {
		e, ok := snap.Workspaces[c.workspaceID]
		if !ok {
			e = WorkspaceEntry{Role: c.workspaceRole, Accounts: map[string]AccountEntry{}}
		} else {
			e.Role = roles.MaxWorkspace(e.Role, c.workspaceRole)
		}
		snap.Workspaces[c.workspaceID] = e
		return
	}

	e, ok := snap.Workspaces[c.accountWS]
	if !ok {
		e = WorkspaceEntry{Role: roles.WorkspaceMember, Accounts: map[string]AccountEntry{}}
	}
	if prev, ok := e.Accounts[c.accountID]; ok {
		e.Accounts[c.accountID] = AccountEntry{Role: roles.MaxAccount(prev.Role, c.accountRole)}
	} else {
		e.Accounts[c.accountID] = AccountEntry{Role: c.accountRole}
	}
	snap.Workspaces[c.accountWS] = e
}
