// pkg/directory/memory.go
package directory

import (
	"context"
	"errors"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// MemoryClient is an in-process directory for dev bring-up and tests.
type MemoryClient struct {
	log *zap.SugaredLogger

	mu       sync.RWMutex
	groups   map[string]GroupRecord // by group id
	members  map[string][]string    // user id -> group ids
	mappings map[string][]string    // group id -> role mapping names
}

func NewMemoryClient(log *zap.SugaredLogger) *MemoryClient {
	return &MemoryClient{
		log:      log,
		groups:   map[string]GroupRecord{},
		members:  map[string][]string{},
		mappings: map[string][]string{},
	}
}

// Seed installs a group with its role mappings and returns the group id.
func (m *MemoryClient) Seed(g GroupRecord, roleNames ...string) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if g.ID == "" {
		g.ID = uuid.NewString()
	}
	m.groups[g.ID] = g
	m.mappings[g.ID] = roleNames
	return g.ID
}

func (m *MemoryClient) ListUserGroups(ctx context.Context, userID string) ([]GroupRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []GroupRecord
	for _, gid := range m.members[userID] {
		if g, ok := m.groups[gid]; ok {
			out = append(out, g)
		}
	}
	return out, nil
}

func (m *MemoryClient) ListGroupRoleMappings(ctx context.Context, groupID string) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if _, ok := m.groups[groupID]; !ok {
		return nil, errors.New("group not found")
	}
	return append([]string(nil), m.mappings[groupID]...), nil
}

func (m *MemoryClient) CreateGroup(ctx context.Context, g GroupRecord) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if g.ID == "" {
		g.ID = uuid.NewString()
	}
	m.groups[g.ID] = g
	return g.ID, nil
}

func (m *MemoryClient) AddUserToGroup(ctx context.Context, userID, groupID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.groups[groupID]; !ok {
		return errors.New("group not found")
	}
	for _, gid := range m.members[userID] {
		if gid == groupID {
			return nil
		}
	}
	m.members[userID] = append(m.members[userID], groupID)
	return nil
}
