// pkg/directory/client.go
package directory

import (
	"context"
	"errors"
	"net/http"

	"gatekit/pkg/problems"
)

// ErrUnavailable wraps transport failures and 5xx responses from the
// directory. Callers decide retry policy; nothing here retries.
var ErrUnavailable = errors.New("directory unavailable")

func init() {
	problems.Register(ErrUnavailable, http.StatusServiceUnavailable, "directory-unavailable", "the identity directory is unavailable")
}

// Client is the identity provider's group/role API surface.
// ListUserGroups and ListGroupRoleMappings sit on the permission hot path;
// CreateGroup and AddUserToGroup are administrative.
type Client interface {
	ListUserGroups(ctx context.Context, userID string) ([]GroupRecord, error)
	ListGroupRoleMappings(ctx context.Context, groupID string) ([]string, error)
	CreateGroup(ctx context.Context, g GroupRecord) (string, error)
	AddUserToGroup(ctx context.Context, userID, groupID string) error
}
