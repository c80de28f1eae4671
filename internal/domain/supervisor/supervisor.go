// Package supervisor owns the browser worker processes. It is the only
// component that mutates worker handles: everything else observes workers
// through supervisor queries.
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"sync"
	"time"

	"github.com/shirou/gopsutil/process"
	"go.uber.org/zap"

	"github.com/profilium/fleet/backend/internal/infrastructure/config"
	"github.com/profilium/fleet/backend/internal/infrastructure/logging"
	"github.com/profilium/fleet/backend/internal/infrastructure/monitoring"
	"github.com/profilium/fleet/backend/internal/infrastructure/resilience"
	"github.com/profilium/fleet/backend/internal/shared/id"
	"github.com/profilium/fleet/backend/internal/shared/paths"
	"github.com/profilium/fleet/backend/internal/shared/types"
)

// LaunchError reports a worker that failed to start.
type LaunchError struct {
	ProfileID string
	Reason    string
	Err       error
}

func (e *LaunchError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("launch worker for profile %s: %s: %v", e.ProfileID, e.Reason, e.Err)
	}
	return fmt.Sprintf("launch worker for profile %s: %s", e.ProfileID, e.Reason)
}

func (e *LaunchError) Unwrap() error { return e.Err }

// ErrWorkerNotRunning is returned by session operations on a stopped worker.
var ErrWorkerNotRunning = errors.New("worker is not running")

// CrashEvent is published when a worker exits without a stop request.
type CrashEvent struct {
	ProfileID string
	PID       int32
	ExitError error
	Timestamp time.Time
}

// LaunchConfig carries per-launch options.
type LaunchConfig struct {
	DataDir  string
	Headless bool
	Args     []string
	Limits   *types.ResourceLimit
}

// Supervisor maps profile IDs to running worker handles.
type Supervisor struct {
	cfg      config.WorkerConfig
	resolver *paths.Resolver
	logger   *logging.Logger
	metrics  *monitoring.Metrics
	breakers *resilience.Group
	debug    *debugClient

	mu       sync.RWMutex
	workers  map[string]*WorkerHandle
	nextPort int

	events chan CrashEvent

	// Seams for tests; production defaults are set in New.
	buildCmd   func(dataDir string, port int, headless bool, args []string) *exec.Cmd
	probeReady func(ctx context.Context, port int) error
	alive      func(pid int32) bool
}

// New creates a supervisor.
func New(cfg config.WorkerConfig, resolver *paths.Resolver, logger *logging.Logger, metrics *monitoring.Metrics) *Supervisor {
	s := &Supervisor{
		cfg:      cfg,
		resolver: resolver,
		logger:   logger.Named("supervisor"),
		metrics:  metrics,
		debug:    newDebugClient(10 * time.Second),
		workers:  make(map[string]*WorkerHandle),
		nextPort: cfg.DebugPortBase,
		events:   make(chan CrashEvent, 64),
	}

	s.breakers = resilience.NewGroup(resilience.Settings{
		Timeout: time.Minute,
		ReadyToTrip: func(counts resilience.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to resilience.State) {
			s.logger.Warn("launch breaker state changed",
				zap.String("profile_id", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()))
		},
	})

	s.buildCmd = s.defaultBuildCmd
	s.probeReady = s.defaultProbeReady
	s.alive = func(pid int32) bool {
		ok, err := process.PidExists(pid)
		return err == nil && ok
	}

	return s
}

// Events returns the crash event channel. The orchestrator subscribes to
// reconcile persisted status after unexpected exits.
func (s *Supervisor) Events() <-chan CrashEvent {
	return s.events
}

// Launch starts a worker for the profile, or returns the existing handle
// when one is already alive. A registered handle whose process has died is
// evicted and relaunched; a worker still draining a stop cannot be
// relaunched until its exit is observed.
func (s *Supervisor) Launch(ctx context.Context, profileID string, lc LaunchConfig) (*WorkerHandle, error) {
	if existing := s.liveHandle(profileID); existing != nil {
		s.logger.Debug("worker already running",
			zap.String("profile_id", profileID),
			zap.Int32("pid", existing.PID),
		)
		return existing, nil
	}

	if s.draining(profileID) {
		return nil, &LaunchError{ProfileID: profileID, Reason: "worker is still shutting down"}
	}

	result, err := s.breakers.For(profileID).Execute(func() (interface{}, error) {
		return s.launch(ctx, profileID, lc)
	})
	s.metrics.RecordLaunch(err)
	if err != nil {
		if errors.Is(err, resilience.ErrCircuitOpen) {
			return nil, &LaunchError{ProfileID: profileID, Reason: "too many recent launch failures", Err: err}
		}
		return nil, err
	}

	handle := result.(*WorkerHandle)
	s.metrics.SetWorkersRunning(s.RunningCount())
	return handle, nil
}

func (s *Supervisor) launch(ctx context.Context, profileID string, lc LaunchConfig) (*WorkerHandle, error) {
	dataDir := lc.DataDir
	if dataDir == "" {
		var err error
		dataDir, err = s.resolver.EnsureDataDir(profileID)
		if err != nil {
			return nil, &LaunchError{ProfileID: profileID, Reason: "invalid data directory", Err: err}
		}
	} else if !s.resolver.Valid(dataDir) {
		return nil, &LaunchError{ProfileID: profileID, Reason: fmt.Sprintf("data directory outside profile root: %s", dataDir)}
	}

	port := s.allocatePort()
	cmd := s.buildCmd(dataDir, port, lc.Headless, lc.Args)

	if err := cmd.Start(); err != nil {
		return nil, &LaunchError{ProfileID: profileID, Reason: "process start failed", Err: err}
	}
	pid := int32(cmd.Process.Pid)

	probeCtx, cancel := context.WithTimeout(ctx, s.cfg.LaunchTimeout)
	defer cancel()
	if err := s.probeReady(probeCtx, port); err != nil {
		// The process came up but never opened its debug endpoint.
		_ = cmd.Process.Kill()
		_ = cmd.Wait()
		return nil, &LaunchError{ProfileID: profileID, Reason: "debug endpoint never became ready", Err: err}
	}

	handle := &WorkerHandle{
		ProfileID: profileID,
		WorkerID:  id.NewWorkerID(),
		PID:       pid,
		DebugPort: port,
		DataDir:   dataDir,
		StartedAt: time.Now(),
		status:    WorkerRunning,
		cmd:       cmd,
		sessions:  make(map[string]*Session),
		done:      make(chan struct{}),
	}

	s.mu.Lock()
	// A concurrent launch may have won the race; prefer the registered
	// handle and discard ours.
	if existing, ok := s.workers[profileID]; ok && existing.Status() == WorkerRunning && s.alive(existing.PID) {
		s.mu.Unlock()
		_ = cmd.Process.Kill()
		go cmd.Wait()
		return existing, nil
	}
	s.workers[profileID] = handle
	s.mu.Unlock()

	go s.waitWorker(handle)

	s.logger.Info("worker launched",
		zap.String("profile_id", profileID),
		zap.String("worker_id", handle.WorkerID.String()),
		zap.Int32("pid", pid),
		zap.Int("debug_port", port),
	)

	return handle, nil
}

// waitWorker blocks on process exit and reconciles the registry. An exit
// without a preceding stop request is a crash and is published as an event.
func (s *Supervisor) waitWorker(h *WorkerHandle) {
	err := h.cmd.Wait()

	h.mu.Lock()
	wasRunning := h.status == WorkerRunning
	h.status = WorkerStopped
	h.exitErr = err
	close(h.done)
	h.mu.Unlock()

	s.evict(h)
	s.metrics.SetWorkersRunning(s.RunningCount())

	if !wasRunning {
		return
	}

	s.metrics.RecordCrash()
	s.logger.Warn("worker exited unexpectedly",
		zap.String("profile_id", h.ProfileID),
		zap.Int32("pid", h.PID),
		zap.Error(err),
	)

	event := CrashEvent{
		ProfileID: h.ProfileID,
		PID:       h.PID,
		ExitError: err,
		Timestamp: time.Now(),
	}
	select {
	case s.events <- event:
	default:
		s.logger.Warn("crash event dropped, queue full",
			zap.String("profile_id", h.ProfileID),
		)
	}
}

// Stop shuts down the profile's worker. Named sessions close first, then
// the primary session, then the process is asked to exit. With force set,
// the process is killed once the grace period expires. Stopping a profile
// with no worker is a no-op.
func (s *Supervisor) Stop(ctx context.Context, profileID string, force bool) error {
	s.mu.RLock()
	handle, ok := s.workers[profileID]
	s.mu.RUnlock()
	if !ok {
		return nil
	}

	if handle.Status() != WorkerRunning {
		// Another stop is already draining this worker.
		return nil
	}
	handle.setStatus(WorkerStopping)
	s.metrics.RecordStop(force)

	for _, sess := range handle.drainSessions() {
		if err := sess.Close(); err != nil {
			s.logger.Debug("session close failed",
				zap.String("profile_id", profileID),
				zap.String("channel", sess.Channel),
				zap.Error(err),
			)
		}
	}

	// Ask the worker to shut its pages first so session state flushes to
	// the profile's data dir before the process goes away.
	s.closePages(ctx, handle)

	proc, err := process.NewProcess(handle.PID)
	if err != nil {
		// Process is already gone; the waiter goroutine cleans up.
		s.logger.Info("worker already exited",
			zap.String("profile_id", profileID),
			zap.Int32("pid", handle.PID),
		)
		return nil
	}

	if err := proc.TerminateWithContext(ctx); err != nil {
		s.logger.Warn("graceful shutdown request failed",
			zap.String("profile_id", profileID),
			zap.Int32("pid", handle.PID),
			zap.Error(err),
		)
	}

	grace := s.cfg.StopGracePeriod
	select {
	case <-handle.Done():
		s.logger.Info("worker stopped",
			zap.String("profile_id", profileID),
			zap.Int32("pid", handle.PID),
		)
		return nil
	case <-time.After(grace):
	case <-ctx.Done():
		return ctx.Err()
	}

	if !force {
		return fmt.Errorf("worker for profile %s did not exit within %s", profileID, grace)
	}

	if err := proc.KillWithContext(ctx); err != nil {
		return fmt.Errorf("kill worker pid %d: %w", handle.PID, err)
	}

	select {
	case <-handle.Done():
	case <-time.After(grace):
		return fmt.Errorf("worker pid %d survived kill", handle.PID)
	case <-ctx.Done():
		return ctx.Err()
	}

	s.logger.Info("worker force stopped",
		zap.String("profile_id", profileID),
		zap.Int32("pid", handle.PID),
	)
	return nil
}

// IsRunning is the authoritative liveness check. A handle registered as
// running whose process has actually died is corrected to stopped and
// evicted before answering.
func (s *Supervisor) IsRunning(profileID string) bool {
	return s.liveHandle(profileID) != nil
}

// Handle returns the live worker handle for a profile, after the same lazy
// reconciliation IsRunning performs.
func (s *Supervisor) Handle(profileID string) (*WorkerHandle, bool) {
	h := s.liveHandle(profileID)
	return h, h != nil
}

// liveHandle returns the profile's handle when its process is verifiably
// alive, evicting stale entries along the way.
func (s *Supervisor) liveHandle(profileID string) *WorkerHandle {
	s.mu.RLock()
	handle, ok := s.workers[profileID]
	s.mu.RUnlock()
	if !ok {
		return nil
	}

	status := handle.Status()
	if status == WorkerRunning && s.alive(handle.PID) {
		return handle
	}

	if s.alive(handle.PID) {
		// A stop is still draining this worker. Evicting now would let a
		// relaunch open a second worker over the same data dir, so keep
		// the handle registered until the process actually exits.
		return nil
	}

	if status == WorkerRunning {
		// Registered as running but the process is gone: self-heal.
		handle.setStatus(WorkerStopped)
		s.logger.Warn("evicting stale worker handle",
			zap.String("profile_id", profileID),
			zap.Int32("pid", handle.PID),
		)
	}
	s.evict(handle)
	s.metrics.SetWorkersRunning(s.RunningCount())
	return nil
}

// Session returns the open session for the channel, creating one when
// needed. A targetURL pointing at a different host re-navigates the
// existing session; when re-navigation fails the session is replaced.
func (s *Supervisor) Session(ctx context.Context, profileID, channel, targetURL string) (*Session, error) {
	handle := s.liveHandle(profileID)
	if handle == nil {
		return nil, ErrWorkerNotRunning
	}

	if sess, ok := handle.session(channel); ok {
		if targetURL == "" || sess.SameHost(targetURL) {
			return sess, nil
		}
		if err := sess.Navigate(ctx, targetURL); err == nil {
			return sess, nil
		}
		// Fall through and build a fresh session.
		_ = sess.Close()
	}

	target, err := s.debug.NewTarget(ctx, handle.DebugPort, targetURL)
	if err != nil {
		return nil, fmt.Errorf("open channel %s for profile %s: %w", channel, profileID, err)
	}

	var sess *Session
	sess, err = dialSession(ctx, channel, *target, func() {
		handle.evictSession(channel, sess)
		s.metrics.SessionsOpen.Dec()
	})
	if err != nil {
		return nil, fmt.Errorf("attach channel %s for profile %s: %w", channel, profileID, err)
	}

	handle.putSession(channel, sess)
	s.metrics.SessionsOpen.Inc()

	s.logger.Info("channel session opened",
		zap.String("profile_id", profileID),
		zap.String("channel", channel),
		zap.String("session_id", sess.ID.String()),
	)
	return sess, nil
}

// AttachPrimary connects the worker-level session used for liveness checks.
func (s *Supervisor) AttachPrimary(ctx context.Context, profileID string) error {
	handle := s.liveHandle(profileID)
	if handle == nil {
		return ErrWorkerNotRunning
	}

	info, err := s.debug.Version(ctx, handle.DebugPort)
	if err != nil {
		return fmt.Errorf("probe worker for profile %s: %w", profileID, err)
	}

	target := Target{ID: "browser", Type: "browser", WebSocketDebuggerURL: info.WebSocketDebuggerURL}
	sess, err := dialSession(ctx, "primary", target, nil)
	if err != nil {
		return fmt.Errorf("attach primary session for profile %s: %w", profileID, err)
	}

	handle.mu.Lock()
	if handle.primary != nil {
		_ = handle.primary.Close()
	}
	handle.primary = sess
	handle.mu.Unlock()
	return nil
}

// SessionConnected reports whether the worker's debug endpoint still
// answers. Used by health evaluation as the session-level liveness signal.
func (s *Supervisor) SessionConnected(ctx context.Context, profileID string) bool {
	handle := s.liveHandle(profileID)
	if handle == nil {
		return false
	}
	if primary := handle.Primary(); primary != nil && primary.Connected() {
		return true
	}
	_, err := s.debug.Version(ctx, handle.DebugPort)
	return err == nil
}

// RunningCount returns the number of live workers.
func (s *Supervisor) RunningCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	n := 0
	for _, h := range s.workers {
		if h.Status() == WorkerRunning {
			n++
		}
	}
	return n
}

// RunningProfiles returns the IDs of profiles with a live worker.
func (s *Supervisor) RunningProfiles() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]string, 0, len(s.workers))
	for profileID, h := range s.workers {
		if h.Status() == WorkerRunning {
			out = append(out, profileID)
		}
	}
	return out
}

// ResetBreaker clears the launch circuit breaker for a profile.
func (s *Supervisor) ResetBreaker(profileID string) {
	s.breakers.Reset(profileID)
}

// Shutdown force-stops every worker. Called during service drain.
func (s *Supervisor) Shutdown(ctx context.Context) error {
	s.mu.RLock()
	ids := make([]string, 0, len(s.workers))
	for profileID := range s.workers {
		ids = append(ids, profileID)
	}
	s.mu.RUnlock()

	var firstErr error
	for _, profileID := range ids {
		if err := s.Stop(ctx, profileID, true); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// closePages closes the worker's open page targets over the debug
// endpoint. Best effort: an unresponsive worker is handled by the
// terminate and kill escalation that follows.
func (s *Supervisor) closePages(ctx context.Context, h *WorkerHandle) {
	targets, err := s.debug.ListTargets(ctx, h.DebugPort)
	if err != nil {
		s.logger.Debug("cannot list worker targets",
			zap.String("profile_id", h.ProfileID),
			zap.Error(err),
		)
		return
	}

	for _, target := range targets {
		if target.Type != "page" {
			continue
		}
		if err := s.debug.CloseTarget(ctx, h.DebugPort, target.ID); err != nil {
			s.logger.Debug("cannot close worker target",
				zap.String("profile_id", h.ProfileID),
				zap.String("target_id", target.ID),
				zap.Error(err),
			)
		}
	}
}

// draining reports whether the profile's registered worker is mid-stop.
// Launching over a draining worker would put two processes on one data
// dir, so Launch refuses until the exit is observed.
func (s *Supervisor) draining(profileID string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	h, ok := s.workers[profileID]
	return ok && h.Status() == WorkerStopping
}

// evict removes a handle from the registry if it is still the registered one.
func (s *Supervisor) evict(h *WorkerHandle) {
	s.mu.Lock()
	if cur, ok := s.workers[h.ProfileID]; ok && cur == h {
		delete(s.workers, h.ProfileID)
	}
	s.mu.Unlock()
}

// allocatePort hands out sequential debug ports.
func (s *Supervisor) allocatePort() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	port := s.nextPort
	s.nextPort++
	return port
}

func (s *Supervisor) defaultBuildCmd(dataDir string, port int, headless bool, extraArgs []string) *exec.Cmd {
	args := []string{
		fmt.Sprintf("--user-data-dir=%s", dataDir),
		fmt.Sprintf("--remote-debugging-port=%d", port),
		"--no-first-run",
		"--no-default-browser-check",
	}
	if headless {
		args = append(args, "--headless=new")
	}
	args = append(args, extraArgs...)
	return exec.Command(s.cfg.Binary, args...)
}

func (s *Supervisor) defaultProbeReady(ctx context.Context, port int) error {
	ticker := time.NewTicker(250 * time.Millisecond)
	defer ticker.Stop()

	for {
		if _, err := s.debug.Version(ctx, port); err == nil {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}
