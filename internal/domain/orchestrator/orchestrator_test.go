package orchestrator

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/profilium/fleet/backend/internal/domain/alerts"
	"github.com/profilium/fleet/backend/internal/domain/history"
	"github.com/profilium/fleet/backend/internal/domain/supervisor"
	"github.com/profilium/fleet/backend/internal/infrastructure/config"
	"github.com/profilium/fleet/backend/internal/infrastructure/logging"
	"github.com/profilium/fleet/backend/internal/infrastructure/monitoring"
	"github.com/profilium/fleet/backend/internal/shared/paths"
	"github.com/profilium/fleet/backend/internal/shared/types"
	"github.com/profilium/fleet/backend/internal/store"
)

type fixture struct {
	orch     *Orchestrator
	profiles *store.MemoryProfiles
	hist     *history.Store
}

// newFixture wires an orchestrator whose launches fail deterministically
// because the worker binary does not exist.
func newFixture(t *testing.T) *fixture {
	t.Helper()

	cfg := config.WorkerConfig{
		Binary:          "/nonexistent/fleet-test-worker",
		ProfileRoot:     t.TempDir(),
		Headless:        true,
		LaunchTimeout:   200 * time.Millisecond,
		StopGracePeriod: 50 * time.Millisecond,
		DebugPortBase:   39400,
	}

	logger := logging.NewNop()
	metrics := monitoring.NewMetrics()
	hist := history.NewStore(100, 100)
	emitter := alerts.NewEmitter(hist, logger, metrics)
	profiles := store.NewMemoryProfiles()
	sup := supervisor.New(cfg, paths.NewResolver(cfg.ProfileRoot), logger, metrics)

	orch := New(cfg, sup, profiles, &store.StaticLimits{}, emitter, metrics, logger)
	orch.Verify = nil

	return &fixture{orch: orch, profiles: profiles, hist: hist}
}

func (f *fixture) seed(t *testing.T, profileID string, status types.ProfileStatus) {
	t.Helper()
	err := f.profiles.Save(context.Background(), &types.Profile{
		ID:        profileID,
		UserID:    "u1",
		Name:      "test profile",
		Messenger: "whatsapp",
		Status:    status,
		CreatedAt: time.Now(),
	})
	require.NoError(t, err)
}

func (f *fixture) status(t *testing.T, profileID string) types.ProfileStatus {
	t.Helper()
	p, err := f.profiles.FindByID(context.Background(), profileID)
	require.NoError(t, err)
	return p.Status
}

func TestStartUnknownProfile(t *testing.T) {
	f := newFixture(t)

	err := f.orch.Start(context.Background(), "missing", "u1")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestStartWrongUser(t *testing.T) {
	f := newFixture(t)
	f.seed(t, "p1", types.StatusStopped)

	err := f.orch.Start(context.Background(), "p1", "intruder")
	assert.ErrorIs(t, err, ErrNotOwned)
}

func TestStartFailureSetsErrorStatusAndAlert(t *testing.T) {
	f := newFixture(t)
	f.seed(t, "p1", types.StatusStopped)

	err := f.orch.Start(context.Background(), "p1", "u1")
	require.Error(t, err)

	var launchErr *supervisor.LaunchError
	assert.ErrorAs(t, err, &launchErr)

	assert.Equal(t, types.StatusError, f.status(t, "p1"))

	recorded := f.hist.Alerts("p1", 0)
	require.NotEmpty(t, recorded)
	assert.Equal(t, types.AlertError, recorded[0].Type)
	assert.Equal(t, types.SeverityCritical, recorded[0].Severity)
}

func TestStartReleasesLockOnFailure(t *testing.T) {
	f := newFixture(t)
	f.seed(t, "p1", types.StatusStopped)

	require.Error(t, f.orch.Start(context.Background(), "p1", "u1"))

	// The lock must be free again; a second start reaches launch and
	// fails the same way rather than with a lock error.
	err := f.orch.Start(context.Background(), "p1", "u1")
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrAlreadyInProgress)
	assert.NotErrorIs(t, err, ErrConflictingOperation)
}

func TestErrorStateIsRestartable(t *testing.T) {
	f := newFixture(t)
	f.seed(t, "p1", types.StatusError)

	err := f.orch.Start(context.Background(), "p1", "u1")
	// Launch still fails in this fixture, but the error state itself
	// does not reject the attempt.
	assert.NotErrorIs(t, err, ErrConflictingOperation)
	assert.Equal(t, types.StatusError, f.status(t, "p1"))
}

func TestStopWithoutWorkerIsIdempotent(t *testing.T) {
	f := newFixture(t)
	f.seed(t, "p1", types.StatusRunning)

	// Persisted as running but no live worker: stop corrects the record
	// and succeeds.
	err := f.orch.Stop(context.Background(), "p1", "u1", false)
	require.NoError(t, err)
	assert.Equal(t, types.StatusStopped, f.status(t, "p1"))

	// And again.
	require.NoError(t, f.orch.Stop(context.Background(), "p1", "u1", false))
}

func TestGetStatusDemotesStaleRunning(t *testing.T) {
	f := newFixture(t)
	f.seed(t, "p1", types.StatusRunning)

	info, err := f.orch.GetStatus(context.Background(), "p1", "u1")
	require.NoError(t, err)
	assert.Equal(t, types.StatusStopped, info.Status)

	// The demotion is persisted, not just reported.
	assert.Equal(t, types.StatusStopped, f.status(t, "p1"))
}

func TestGetStatusStoppedProfile(t *testing.T) {
	f := newFixture(t)
	f.seed(t, "p1", types.StatusStopped)

	info, err := f.orch.GetStatus(context.Background(), "p1", "u1")
	require.NoError(t, err)
	assert.Equal(t, types.StatusStopped, info.Status)
	assert.Zero(t, info.PID)
	assert.Nil(t, info.StartedAt)
}

func TestRestoreRunningStateDemotesDeadProfiles(t *testing.T) {
	f := newFixture(t)
	f.seed(t, "p1", types.StatusRunning)
	f.seed(t, "p2", types.StatusRunning)
	f.seed(t, "p3", types.StatusStopped)

	f.orch.RestoreRunningState(context.Background())

	// Relaunch fails in this fixture, so both running profiles are
	// demoted with an alert; the stopped one is untouched.
	assert.Equal(t, types.StatusStopped, f.status(t, "p1"))
	assert.Equal(t, types.StatusStopped, f.status(t, "p2"))
	assert.Equal(t, types.StatusStopped, f.status(t, "p3"))

	assert.NotEmpty(t, f.hist.Alerts("p1", 0))
	assert.NotEmpty(t, f.hist.Alerts("p2", 0))
	assert.Empty(t, f.hist.Alerts("p3", 0))
}

type fakeRestarts struct {
	mu       sync.Mutex
	observed []types.HealthStatus
	profiles []string
	users    []string
}

func (f *fakeRestarts) Reset(profileID string) {}

func (f *fakeRestarts) Observe(ctx context.Context, profileID, userID string, verdict types.HealthStatus) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.observed = append(f.observed, verdict)
	f.profiles = append(f.profiles, profileID)
	f.users = append(f.users, userID)
}

func TestCrashFeedsRestartPolicy(t *testing.T) {
	f := newFixture(t)
	f.seed(t, "p1", types.StatusRunning)

	restarts := &fakeRestarts{}
	f.orch.SetRestarts(restarts)

	f.orch.onCrash(context.Background(), supervisor.CrashEvent{
		ProfileID: "p1",
		PID:       12345,
		ExitError: errors.New("signal: killed"),
		Timestamp: time.Now(),
	})

	// The demotion below would hide the profile from the poll loop, so
	// the verdict must have been handed over directly.
	assert.Equal(t, types.StatusError, f.status(t, "p1"))

	restarts.mu.Lock()
	defer restarts.mu.Unlock()
	require.Len(t, restarts.observed, 1)
	assert.Equal(t, types.HealthUnhealthy, restarts.observed[0])
	assert.Equal(t, "p1", restarts.profiles[0])
	assert.Equal(t, "u1", restarts.users[0])
}

func TestStopDuringStartTimesOut(t *testing.T) {
	f := newFixture(t)
	f.seed(t, "p1", types.StatusStopped)

	// Hold the starting lock the way an in-flight start would.
	release, err := f.orch.locks.acquire("p1", opStarting)
	require.NoError(t, err)
	defer release()

	err = f.orch.Stop(context.Background(), "p1", "u1", false)
	assert.ErrorIs(t, err, ErrConflictingOperation)
}

func TestStopProceedsAfterStartResolves(t *testing.T) {
	f := newFixture(t)
	f.seed(t, "p1", types.StatusStopped)

	release, err := f.orch.locks.acquire("p1", opStarting)
	require.NoError(t, err)

	go func() {
		time.Sleep(30 * time.Millisecond)
		release()
	}()

	err = f.orch.Stop(context.Background(), "p1", "u1", false)
	assert.NoError(t, err)
}
