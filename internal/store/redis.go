package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/profilium/fleet/backend/internal/infrastructure/config"
	"github.com/profilium/fleet/backend/internal/shared/types"
)

const (
	profileKeyPrefix = "fleet:profile:"
	runningSetKey    = "fleet:profiles:running"
)

// RedisProfiles is a Redis-backed Profiles implementation. Profile records
// are stored as JSON; a set index tracks profiles persisted as RUNNING so
// startup reconciliation avoids a full scan.
type RedisProfiles struct {
	client *redis.Client
}

// NewRedisProfiles connects to Redis and verifies the connection.
func NewRedisProfiles(ctx context.Context, cfg config.RedisConfig) (*RedisProfiles, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connect to redis at %s: %w", cfg.Address, err)
	}
	return &RedisProfiles{client: client}, nil
}

// NewRedisProfilesWithClient wraps an existing client. Used in tests with
// miniredis.
func NewRedisProfilesWithClient(client *redis.Client) *RedisProfiles {
	return &RedisProfiles{client: client}
}

// Close releases the connection pool.
func (r *RedisProfiles) Close() error {
	return r.client.Close()
}

func profileKey(profileID string) string {
	return profileKeyPrefix + profileID
}

// FindByID loads a profile record.
func (r *RedisProfiles) FindByID(ctx context.Context, profileID string) (*types.Profile, error) {
	data, err := r.client.Get(ctx, profileKey(profileID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load profile %s: %w", profileID, err)
	}

	var profile types.Profile
	if err := json.Unmarshal(data, &profile); err != nil {
		return nil, fmt.Errorf("decode profile %s: %w", profileID, err)
	}
	return &profile, nil
}

// Save stores a profile record and maintains the running index.
func (r *RedisProfiles) Save(ctx context.Context, profile *types.Profile) error {
	if profile.CreatedAt.IsZero() {
		profile.CreatedAt = time.Now()
	}
	data, err := json.Marshal(profile)
	if err != nil {
		return fmt.Errorf("encode profile %s: %w", profile.ID, err)
	}

	pipe := r.client.TxPipeline()
	pipe.Set(ctx, profileKey(profile.ID), data, 0)
	if profile.Status == types.StatusRunning {
		pipe.SAdd(ctx, runningSetKey, profile.ID)
	} else {
		pipe.SRem(ctx, runningSetKey, profile.ID)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("save profile %s: %w", profile.ID, err)
	}
	return nil
}

// UpdateStatus transitions the persisted status.
func (r *RedisProfiles) UpdateStatus(ctx context.Context, profileID string, status types.ProfileStatus) error {
	profile, err := r.FindByID(ctx, profileID)
	if err != nil {
		return err
	}
	profile.Status = status
	return r.Save(ctx, profile)
}

// UpdateLastActive records activity time.
func (r *RedisProfiles) UpdateLastActive(ctx context.Context, profileID string, at time.Time) error {
	profile, err := r.FindByID(ctx, profileID)
	if err != nil {
		return err
	}
	t := at
	profile.LastActiveAt = &t
	return r.Save(ctx, profile)
}

// FindAllRunning lists profiles persisted as RUNNING.
func (r *RedisProfiles) FindAllRunning(ctx context.Context) ([]*types.Profile, error) {
	ids, err := r.client.SMembers(ctx, runningSetKey).Result()
	if err != nil {
		return nil, fmt.Errorf("list running profiles: %w", err)
	}

	out := make([]*types.Profile, 0, len(ids))
	for _, id := range ids {
		profile, err := r.FindByID(ctx, id)
		if errors.Is(err, ErrNotFound) {
			// Index entry without a record; drop it.
			r.client.SRem(ctx, runningSetKey, id)
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, profile)
	}
	return out, nil
}

// RedisLimits reads per-user limits stored as JSON under fleet:limits:<user>.
type RedisLimits struct {
	client *redis.Client
}

// NewRedisLimits wraps a client for limit lookups.
func NewRedisLimits(client *redis.Client) *RedisLimits {
	return &RedisLimits{client: client}
}

// GetLimits returns the user's limits, or nil when none are configured.
func (r *RedisLimits) GetLimits(ctx context.Context, userID string) (*types.ResourceLimit, error) {
	data, err := r.client.Get(ctx, "fleet:limits:"+userID).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load limits for user %s: %w", userID, err)
	}

	var limit types.ResourceLimit
	if err := json.Unmarshal(data, &limit); err != nil {
		return nil, fmt.Errorf("decode limits for user %s: %w", userID, err)
	}
	return &limit, nil
}

// Client exposes the underlying client for sharing between stores.
func (r *RedisProfiles) Client() *redis.Client {
	return r.client
}
