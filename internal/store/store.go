// Package store holds the persistence collaborators for the supervision
// core. The core treats persisted profile status as an eventually
// consistent record of intent; actual worker liveness always wins during
// reconciliation.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/profilium/fleet/backend/internal/shared/types"
)

// ErrNotFound means the referenced profile has no record.
var ErrNotFound = errors.New("profile not found")

// Profiles persists profile records. The supervision core is the sole
// writer of Status and LastActiveAt.
type Profiles interface {
	FindByID(ctx context.Context, profileID string) (*types.Profile, error)
	Save(ctx context.Context, profile *types.Profile) error
	UpdateStatus(ctx context.Context, profileID string, status types.ProfileStatus) error
	UpdateLastActive(ctx context.Context, profileID string, at time.Time) error
	FindAllRunning(ctx context.Context) ([]*types.Profile, error)
}

// Limits provides per-user resource ceilings.
type Limits interface {
	GetLimits(ctx context.Context, userID string) (*types.ResourceLimit, error)
}

// StaticLimits serves a fixed limit set for every user. Useful as a
// default and in tests.
type StaticLimits struct {
	Limit *types.ResourceLimit
}

// GetLimits returns the configured limit for any user.
func (s *StaticLimits) GetLimits(ctx context.Context, userID string) (*types.ResourceLimit, error) {
	return s.Limit, nil
}
