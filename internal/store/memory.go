package store

import (
	"context"
	"sync"
	"time"

	"github.com/profilium/fleet/backend/internal/shared/types"
)

// MemoryProfiles is an in-memory Profiles implementation for tests and
// single-node development runs.
type MemoryProfiles struct {
	mu       sync.RWMutex
	profiles map[string]*types.Profile
}

// NewMemoryProfiles creates an empty in-memory store.
func NewMemoryProfiles() *MemoryProfiles {
	return &MemoryProfiles{profiles: make(map[string]*types.Profile)}
}

// FindByID returns a copy of the profile record.
func (m *MemoryProfiles) FindByID(ctx context.Context, profileID string) (*types.Profile, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	p, ok := m.profiles[profileID]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *p
	return &cp, nil
}

// Save stores a profile record.
func (m *MemoryProfiles) Save(ctx context.Context, profile *types.Profile) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cp := *profile
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = time.Now()
	}
	m.profiles[cp.ID] = &cp
	return nil
}

// UpdateStatus transitions the persisted status.
func (m *MemoryProfiles) UpdateStatus(ctx context.Context, profileID string, status types.ProfileStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	p, ok := m.profiles[profileID]
	if !ok {
		return ErrNotFound
	}
	p.Status = status
	return nil
}

// UpdateLastActive records activity time.
func (m *MemoryProfiles) UpdateLastActive(ctx context.Context, profileID string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	p, ok := m.profiles[profileID]
	if !ok {
		return ErrNotFound
	}
	t := at
	p.LastActiveAt = &t
	return nil
}

// FindAllRunning lists profiles persisted as RUNNING.
func (m *MemoryProfiles) FindAllRunning(ctx context.Context) ([]*types.Profile, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]*types.Profile, 0)
	for _, p := range m.profiles {
		if p.Status == types.StatusRunning {
			cp := *p
			out = append(out, &cp)
		}
	}
	return out, nil
}
