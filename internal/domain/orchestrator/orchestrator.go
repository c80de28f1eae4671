// Package orchestrator is the entry point for profile lifecycle
// operations. It owns the per-profile operation locks, reconciles
// persisted status against actual worker liveness, and coordinates the
// process supervisor, persistence, and alerting.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/profilium/fleet/backend/internal/domain/alerts"
	"github.com/profilium/fleet/backend/internal/domain/supervisor"
	"github.com/profilium/fleet/backend/internal/infrastructure/config"
	"github.com/profilium/fleet/backend/internal/infrastructure/logging"
	"github.com/profilium/fleet/backend/internal/infrastructure/monitoring"
	"github.com/profilium/fleet/backend/internal/shared/types"
	"github.com/profilium/fleet/backend/internal/store"
)

var (
	// ErrAlreadyInProgress means a start is already running for the profile.
	ErrAlreadyInProgress = errors.New("start already in progress")

	// ErrConflictingOperation means the opposite operation holds the lock
	// and the caller must retry after it resolves.
	ErrConflictingOperation = errors.New("conflicting operation in progress")

	// ErrNotOwned means the profile belongs to a different user.
	ErrNotOwned = errors.New("profile not owned by user")
)

// Restarts is the slice of the auto-restart supervisor the orchestrator
// needs: clearing bookkeeping after a successful manual start, and
// feeding it crash verdicts so dead workers reach the restart policy
// without waiting for the next poll tick.
type Restarts interface {
	Reset(profileID string)
	Observe(ctx context.Context, profileID, userID string, verdict types.HealthStatus)
}

// StatusInfo is the reconciled view of one profile returned to callers.
type StatusInfo struct {
	Status       types.ProfileStatus `json:"status"`
	PID          int32               `json:"pid,omitempty"`
	StartedAt    *time.Time          `json:"started_at,omitempty"`
	LastActiveAt *time.Time          `json:"last_active_at,omitempty"`
}

// VerifyFunc is the post-launch account verification hook. It runs
// asynchronously after a successful start; its outcome never affects
// the start result.
type VerifyFunc func(ctx context.Context, profileID, userID string)

// Orchestrator serializes conflicting operations per profile and keeps
// persisted status convergent with worker liveness.
type Orchestrator struct {
	cfg      config.WorkerConfig
	sup      *supervisor.Supervisor
	profiles store.Profiles
	limits   store.Limits
	emitter  *alerts.Emitter
	metrics  *monitoring.Metrics
	logger   *logging.Logger
	restarts Restarts

	locks *lockTable

	// Verify can be replaced in tests. Nil disables the hook.
	Verify VerifyFunc

	stopCh chan struct{}
}

// New builds an orchestrator. The restarts collaborator may be nil
// until SetRestarts is called during wiring.
func New(
	cfg config.WorkerConfig,
	sup *supervisor.Supervisor,
	profiles store.Profiles,
	limits store.Limits,
	emitter *alerts.Emitter,
	metrics *monitoring.Metrics,
	logger *logging.Logger,
) *Orchestrator {
	o := &Orchestrator{
		cfg:      cfg,
		sup:      sup,
		profiles: profiles,
		limits:   limits,
		emitter:  emitter,
		metrics:  metrics,
		logger:   logger.Named("orchestrator"),
		locks:    newLockTable(),
		stopCh:   make(chan struct{}),
	}
	o.Verify = o.defaultVerify
	return o
}

// SetRestarts wires the auto-restart supervisor. Split from New because
// the two components reference each other.
func (o *Orchestrator) SetRestarts(r Restarts) {
	o.restarts = r
}

// Start launches the profile's worker. Idempotent when the worker is
// already live. Holds the profile's starting lock for the duration.
func (o *Orchestrator) Start(ctx context.Context, profileID, userID string) error {
	release, err := o.locks.acquire(profileID, opStarting)
	if err != nil {
		return err
	}
	defer release()

	profile, err := o.loadOwned(ctx, profileID, userID)
	if err != nil {
		return err
	}

	// Reconcile before acting. A live worker means the previous start
	// already succeeded, whatever the persisted record says.
	if o.sup.IsRunning(profileID) {
		o.reconcileUp(ctx, profile)
		return nil
	}

	if err := o.profiles.UpdateStatus(ctx, profileID, types.StatusStarting); err != nil {
		return fmt.Errorf("persist starting status: %w", err)
	}

	limits := profile.Limits
	if limits == nil && o.limits != nil {
		if l, lerr := o.limits.GetLimits(ctx, profile.UserID); lerr == nil {
			limits = l
		}
	}

	_, err = o.sup.Launch(ctx, profileID, supervisor.LaunchConfig{
		DataDir:  profile.DataDir,
		Headless: o.cfg.Headless,
		Limits:   limits,
	})
	if err != nil {
		o.fail(ctx, profileID, profile.UserID, "start", err)
		return err
	}

	now := time.Now()
	if err := o.profiles.UpdateStatus(ctx, profileID, types.StatusRunning); err != nil {
		o.logger.Warn("cannot persist running status",
			zap.String("profile_id", profileID), zap.Error(err))
	}
	if err := o.profiles.UpdateLastActive(ctx, profileID, now); err != nil {
		o.logger.Warn("cannot persist last active",
			zap.String("profile_id", profileID), zap.Error(err))
	}
	if o.restarts != nil {
		o.restarts.Reset(profileID)
	}
	// A working start means prior launch failures are stale signal.
	o.sup.ResetBreaker(profileID)

	if verify := o.Verify; verify != nil {
		go verify(context.Background(), profileID, profile.UserID)
	}

	o.logger.Info("profile started", zap.String("profile_id", profileID))
	return nil
}

// Stop shuts the profile's worker down. Idempotent: stopping a profile
// that is not running succeeds after correcting the persisted status.
// A stop arriving during a start waits bounded for the start to resolve.
func (o *Orchestrator) Stop(ctx context.Context, profileID, userID string, force bool) error {
	release, err := o.acquireStop(ctx, profileID)
	if err != nil {
		return err
	}
	if release == nil {
		// A stop is already in flight; treat this one as done.
		return nil
	}
	defer release()

	profile, err := o.loadOwned(ctx, profileID, userID)
	if err != nil {
		return err
	}

	if !o.sup.IsRunning(profileID) {
		// Worker already gone; correct the record and report success.
		if profile.Status != types.StatusStopped {
			if uerr := o.profiles.UpdateStatus(ctx, profileID, types.StatusStopped); uerr != nil {
				o.logger.Warn("cannot persist stopped status",
					zap.String("profile_id", profileID), zap.Error(uerr))
			}
		}
		return nil
	}

	if err := o.profiles.UpdateStatus(ctx, profileID, types.StatusStopping); err != nil {
		return fmt.Errorf("persist stopping status: %w", err)
	}

	if err := o.sup.Stop(ctx, profileID, force); err != nil {
		o.fail(ctx, profileID, profile.UserID, "stop", err)
		return err
	}

	if err := o.profiles.UpdateStatus(ctx, profileID, types.StatusStopped); err != nil {
		o.logger.Warn("cannot persist stopped status",
			zap.String("profile_id", profileID), zap.Error(err))
	}

	o.logger.Info("profile stopped",
		zap.String("profile_id", profileID), zap.Bool("force", force))
	return nil
}

// acquireStop takes the stopping lock, waiting bounded for an in-flight
// start. Returns (nil, nil) when a stop already holds the lock.
func (o *Orchestrator) acquireStop(ctx context.Context, profileID string) (func(), error) {
	deadline := time.Now().Add(o.cfg.LaunchTimeout)
	for {
		release, held, err := o.locks.tryAcquire(profileID, opStopping)
		if err == nil {
			return release, nil
		}
		if held == opStopping {
			return nil, nil
		}

		// A start holds the lock. Wait for it to resolve, bounded by
		// the launch timeout the start itself is subject to.
		waiter := o.locks.waiter(profileID)
		if waiter == nil {
			continue
		}
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return nil, ErrConflictingOperation
		}
		select {
		case <-waiter:
		case <-time.After(remaining):
			return nil, ErrConflictingOperation
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// GetStatus returns the profile's status after lazy reconciliation.
func (o *Orchestrator) GetStatus(ctx context.Context, profileID, userID string) (*StatusInfo, error) {
	profile, err := o.loadOwned(ctx, profileID, userID)
	if err != nil {
		return nil, err
	}

	info := &StatusInfo{
		Status:       profile.Status,
		LastActiveAt: profile.LastActiveAt,
	}

	handle, live := o.sup.Handle(profileID)
	busy := o.locks.held(profileID)

	switch {
	case live:
		info.PID = handle.PID
		started := handle.StartedAt
		info.StartedAt = &started
		if profile.Status != types.StatusRunning && !busy {
			info.Status = types.StatusRunning
			o.persistStatus(ctx, profileID, types.StatusRunning)
		}
	case profile.Status == types.StatusRunning && !busy:
		// Persisted as running but the worker is gone; demote.
		info.Status = types.StatusStopped
		o.persistStatus(ctx, profileID, types.StatusStopped)
	}

	return info, nil
}

// RestoreRunningState reconciles all profiles persisted as running after
// a service restart: live workers are left alone, dead ones relaunched,
// and profiles that fail to relaunch are demoted to stopped.
func (o *Orchestrator) RestoreRunningState(ctx context.Context) {
	profiles, err := o.profiles.FindAllRunning(ctx)
	if err != nil {
		o.logger.Error("cannot list running profiles for restore", zap.Error(err))
		return
	}

	o.logger.Info("restoring running profiles", zap.Int("count", len(profiles)))

	for _, profile := range profiles {
		if o.sup.IsRunning(profile.ID) {
			continue
		}

		if err := o.Start(ctx, profile.ID, profile.UserID); err != nil {
			o.logger.Warn("cannot restore profile",
				zap.String("profile_id", profile.ID), zap.Error(err))
			o.persistStatus(ctx, profile.ID, types.StatusStopped)
			o.emitter.Emit(profile.ID, profile.UserID,
				types.AlertError, types.SeverityCritical,
				"Profile could not be restored",
				err.Error(), nil)
			continue
		}

		o.logger.Info("profile restored", zap.String("profile_id", profile.ID))
	}
}

// Run consumes crash events from the supervisor until ctx is cancelled.
func (o *Orchestrator) Run(ctx context.Context) {
	events := o.sup.Events()
	for {
		select {
		case <-ctx.Done():
			return
		case <-o.stopCh:
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			o.onCrash(ctx, ev)
		}
	}
}

// Close stops the crash event loop.
func (o *Orchestrator) Close() {
	select {
	case <-o.stopCh:
	default:
		close(o.stopCh)
	}
}

func (o *Orchestrator) onCrash(ctx context.Context, ev supervisor.CrashEvent) {
	o.logger.Warn("worker crashed",
		zap.String("profile_id", ev.ProfileID),
		zap.Int32("pid", ev.PID),
		zap.Error(ev.ExitError),
	)
	o.metrics.RecordCrash()

	status := types.StatusStopped
	if ev.ExitError != nil {
		status = types.StatusError
	}
	if !o.locks.held(ev.ProfileID) {
		o.persistStatus(ctx, ev.ProfileID, status)
	}

	userID := ""
	if profile, err := o.profiles.FindByID(ctx, ev.ProfileID); err == nil {
		userID = profile.UserID
	}
	message := "Worker process exited unexpectedly"
	if ev.ExitError != nil {
		message = ev.ExitError.Error()
	}
	o.emitter.Emit(ev.ProfileID, userID,
		types.AlertCrash, types.SeverityCritical,
		"Worker crashed", message, nil)

	// The health poller only sees the state after the demotion above, so
	// hand the crash to the restart policy directly.
	if o.restarts != nil {
		o.restarts.Observe(ctx, ev.ProfileID, userID, types.HealthUnhealthy)
	}
}

// defaultVerify attaches to the worker's primary page after launch and
// raises a login-required alert when the messaging session is not
// reachable. Failures are logged, never propagated.
func (o *Orchestrator) defaultVerify(ctx context.Context, profileID, userID string) {
	ctx, cancel := context.WithTimeout(ctx, o.cfg.LaunchTimeout)
	defer cancel()

	if err := o.sup.AttachPrimary(ctx, profileID); err != nil {
		o.logger.Debug("post-launch verification skipped",
			zap.String("profile_id", profileID), zap.Error(err))
		return
	}

	if !o.sup.SessionConnected(ctx, profileID) {
		o.emitter.Emit(profileID, userID,
			types.AlertLoginRequired, types.SeverityWarning,
			"Login required",
			"Messaging session is not authenticated; manual login needed",
			nil)
	}
}

func (o *Orchestrator) loadOwned(ctx context.Context, profileID, userID string) (*types.Profile, error) {
	profile, err := o.profiles.FindByID(ctx, profileID)
	if err != nil {
		return nil, err
	}
	if userID != "" && profile.UserID != userID {
		return nil, ErrNotOwned
	}
	return profile, nil
}

// reconcileUp corrects the persisted record when the worker is already
// live on a start request.
func (o *Orchestrator) reconcileUp(ctx context.Context, profile *types.Profile) {
	if profile.Status != types.StatusRunning {
		o.persistStatus(ctx, profile.ID, types.StatusRunning)
	}
	if err := o.profiles.UpdateLastActive(ctx, profile.ID, time.Now()); err != nil {
		o.logger.Warn("cannot persist last active",
			zap.String("profile_id", profile.ID), zap.Error(err))
	}
}

func (o *Orchestrator) fail(ctx context.Context, profileID, userID, operation string, cause error) {
	o.persistStatus(ctx, profileID, types.StatusError)
	o.emitter.Emit(profileID, userID,
		types.AlertError, types.SeverityCritical,
		fmt.Sprintf("Profile %s failed", operation),
		cause.Error(), nil)
}

func (o *Orchestrator) persistStatus(ctx context.Context, profileID string, status types.ProfileStatus) {
	if err := o.profiles.UpdateStatus(ctx, profileID, status); err != nil {
		o.logger.Warn("cannot persist status",
			zap.String("profile_id", profileID),
			zap.String("status", string(status)),
			zap.Error(err))
	}
}
