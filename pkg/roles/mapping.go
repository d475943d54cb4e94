// pkg/roles/mapping.go
package roles

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Mapping translates the role-mapping names assigned to directory groups into
// canonical hierarchy roles. Deployments rename directory roles occasionally
// (e.g. "owner" instead of "admin"); the defaults map each canonical name to
// itself and an optional YAML file overrides them.
//
// File shape:
//
//	workspace:
//	  owner: admin
//	  finance: billing
//	account:
//	  readonly: viewer
type Mapping struct {
	workspace map[string]WorkspaceRole
	account   map[string]AccountRole
}

// DefaultMapping maps each canonical role name to itself.
func DefaultMapping() *Mapping {
	m := &Mapping{workspace: map[string]WorkspaceRole{}, account: map[string]AccountRole{}}
	for _, r := range workspaceHierarchy {
		m.workspace[string(r)] = r
	}
	for _, r := range accountHierarchy {
		m.account[string(r)] = r
	}
	return m
}

// LoadMapping reads a YAML override file on top of the defaults. An empty
// path returns the defaults unchanged.
func LoadMapping(path string) (*Mapping, error) {
	m := DefaultMapping()
	if strings.TrimSpace(path) == "" {
		return m, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("role map read: %w", err)
	}
	var doc struct {
		Workspace map[string]string `yaml:"workspace"`
		Account   map[string]string `yaml:"account"`
	}
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("role map parse: %w", err)
	}
	for name, target := range doc.Workspace {
		r := WorkspaceRole(target)
		if !ValidWorkspaceRole(r) {
			return nil, fmt.Errorf("role map: %q maps to unknown workspace role %q", name, target)
		}
		m.workspace[strings.ToLower(name)] = r
	}
	for name, target := range doc.Account {
		r := AccountRole(target)
		if !ValidAccountRole(r) {
			return nil, fmt.Errorf("role map: %q maps to unknown account role %q", name, target)
		}
		m.account[strings.ToLower(name)] = r
	}
	return m, nil
}

// Workspace resolves a directory role-mapping name to a workspace role.
func (m *Mapping) Workspace(name string) (WorkspaceRole, bool) {
	r, ok := m.workspace[strings.ToLower(name)]
	return r, ok
}

// Account resolves a directory role-mapping name to an account role.
func (m *Mapping) Account(name string) (AccountRole, bool) {
	r, ok := m.account[strings.ToLower(name)]
	return r, ok
}
