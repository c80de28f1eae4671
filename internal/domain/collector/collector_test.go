package collector

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/profilium/fleet/backend/internal/domain/alerts"
	"github.com/profilium/fleet/backend/internal/domain/health"
	"github.com/profilium/fleet/backend/internal/domain/history"
	"github.com/profilium/fleet/backend/internal/domain/sampler"
	"github.com/profilium/fleet/backend/internal/domain/supervisor"
	"github.com/profilium/fleet/backend/internal/infrastructure/config"
	"github.com/profilium/fleet/backend/internal/infrastructure/logging"
	"github.com/profilium/fleet/backend/internal/infrastructure/monitoring"
	"github.com/profilium/fleet/backend/internal/shared/paths"
	"github.com/profilium/fleet/backend/internal/shared/types"
	"github.com/profilium/fleet/backend/internal/store"
)

func newTestCollector(t *testing.T) (*Collector, *history.Store, *store.MemoryProfiles) {
	t.Helper()

	workerCfg := config.WorkerConfig{
		Binary:          "/nonexistent/fleet-test-worker",
		ProfileRoot:     t.TempDir(),
		LaunchTimeout:   200 * time.Millisecond,
		StopGracePeriod: 50 * time.Millisecond,
		DebugPortBase:   39700,
	}
	cfg := config.MonitorConfig{
		SampleInterval: time.Hour,
		HealthInterval: time.Hour,
		SampleCacheTTL: time.Second,
		SampleTimeout:  time.Second,
	}

	logger := logging.NewNop()
	metrics := monitoring.NewMetrics()
	hist := history.NewStore(100, 100)
	profiles := store.NewMemoryProfiles()
	sup := supervisor.New(workerCfg, paths.NewResolver(workerCfg.ProfileRoot), logger, metrics)
	smp := sampler.New(cfg.SampleCacheTTL, cfg.SampleTimeout, logger, metrics)
	evaluator := health.NewEvaluator(hist, metrics)
	checker := health.NewChecker(sup, smp, &store.StaticLimits{}, evaluator, logger)
	emitter := alerts.NewEmitter(hist, logger, metrics)

	c := New(cfg, sup, smp, hist, checker, profiles, &store.StaticLimits{}, emitter, logger)
	return c, hist, profiles
}

func seedProfile(t *testing.T, profiles *store.MemoryProfiles, profileID string, status types.ProfileStatus) {
	t.Helper()
	err := profiles.Save(context.Background(), &types.Profile{
		ID:        profileID,
		UserID:    "u1",
		Name:      "test profile",
		Messenger: "whatsapp",
		Status:    status,
		CreatedAt: time.Now(),
	})
	require.NoError(t, err)
}

func TestPollHealthCoversDeadWorkers(t *testing.T) {
	c, hist, profiles := newTestCollector(t)

	// Persisted as running but no worker process exists for it.
	seedProfile(t, profiles, "p1", types.StatusRunning)

	c.pollHealth(context.Background())

	check, ok := hist.LatestCheck("p1")
	require.True(t, ok, "the dead worker must still be evaluated")
	assert.Equal(t, types.HealthUnhealthy, check.Status)
}

func TestPollHealthSkipsStoppedProfiles(t *testing.T) {
	c, hist, profiles := newTestCollector(t)

	seedProfile(t, profiles, "p1", types.StatusStopped)

	c.pollHealth(context.Background())

	_, ok := hist.LatestCheck("p1")
	assert.False(t, ok)
}
