// pkg/directory/model.go
package directory

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// GroupKind tags a directory group as one of the two tiers the dashboard
// understands. Groups carrying any other type tag are rejected at the
// boundary and skipped by callers.
type GroupKind string

const (
	GroupWorkspace GroupKind = "tenant"
	GroupAccount   GroupKind = "subtenant"
)

// GroupRecord is a validated directory group entry. The directory owns and
// mutates these; this system only reads them.
type GroupRecord struct {
	ID   string
	Name string
	Path string
	Kind GroupKind
	// ParentID is the owning workspace id for account groups. May be empty
	// when the directory entry lacks the attribute; callers fall back to
	// parsing Path.
	ParentID string
	// DisplayName is free-form and only used for messaging.
	DisplayName string
}

// rawGroup is the wire shape. Attributes follow the directory's
// multi-valued convention (every attribute is a string list).
type rawGroup struct {
	ID         string              `json:"id"`
	Name       string              `json:"name"`
	Path       string              `json:"path"`
	Attributes map[string][]string `json:"attributes"`
}

var errUnrecognizedGroup = errors.New("unrecognized group shape")

func attr(m map[string][]string, key string) string {
	if vs, ok := m[key]; ok && len(vs) > 0 {
		return strings.TrimSpace(vs[0])
	}
	return ""
}

// parseGroup validates one wire entry into a GroupRecord. Entries with a
// missing id or an unknown type tag fail with errUnrecognizedGroup so the
// resolver can skip them instead of trusting attribute presence.
func parseGroup(raw rawGroup) (GroupRecord, error) {
	if strings.TrimSpace(raw.ID) == "" || strings.TrimSpace(raw.Name) == "" {
		return GroupRecord{}, fmt.Errorf("%w: missing id or name", errUnrecognizedGroup)
	}
	kind := GroupKind(attr(raw.Attributes, "type"))
	switch kind {
	case GroupWorkspace, GroupAccount:
	default:
		return GroupRecord{}, fmt.Errorf("%w: type=%q", errUnrecognizedGroup, kind)
	}
	return GroupRecord{
		ID:          raw.ID,
		Name:        raw.Name,
		Path:        raw.Path,
		Kind:        kind,
		ParentID:    attr(raw.Attributes, "parent_id"),
		DisplayName: attr(raw.Attributes, "display_name"),
	}, nil
}

func decodeGroups(data []byte) ([]GroupRecord, []error) {
	var raws []rawGroup
	if err := json.Unmarshal(data, &raws); err != nil {
		return nil, []error{err}
	}
	var out []GroupRecord
	var skipped []error
	for _, r := range raws {
		g, err := parseGroup(r)
		if err != nil {
			skipped = append(skipped, err)
			continue
		}
		out = append(out, g)
	}
	return out, skipped
}

// Group name conventions: workspace groups are named "workspace-<id>" and
// account groups "account-<id>". Paths nest account groups under their
// workspace group ("/workspace-<wid>/account-<aid>").
const (
	workspacePrefix = "workspace-"
	accountPrefix   = "account-"
)

// WorkspaceID extracts the workspace id from a workspace group name.
// Returns "" when the name does not follow the convention.
func (g GroupRecord) WorkspaceID() string {
	if g.Kind != GroupWorkspace || !strings.HasPrefix(g.Name, workspacePrefix) {
		return ""
	}
	return strings.TrimPrefix(g.Name, workspacePrefix)
}

// AccountID extracts the account id from an account group name.
func (g GroupRecord) AccountID() string {
	if g.Kind != GroupAccount || !strings.HasPrefix(g.Name, accountPrefix) {
		return ""
	}
	return strings.TrimPrefix(g.Name, accountPrefix)
}

// ParentWorkspaceID resolves the owning workspace of an account group: the
// parent_id attribute when present, else the first path segment.
func (g GroupRecord) ParentWorkspaceID() string {
	if g.ParentID != "" {
		return g.ParentID
	}
	segs := strings.Split(strings.Trim(g.Path, "/"), "/")
	if len(segs) >= 2 && strings.HasPrefix(segs[0], workspacePrefix) {
		return strings.TrimPrefix(segs[0], workspacePrefix)
	}
	return ""
}
