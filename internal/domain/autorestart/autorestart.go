// Package autorestart applies the bounded-retry restart policy. It polls
// recorded health verdicts on its own timer and drives the orchestrator's
// stop/start operations; it never touches worker processes directly.
package autorestart

import (
	"context"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/profilium/fleet/backend/internal/domain/alerts"
	"github.com/profilium/fleet/backend/internal/domain/history"
	"github.com/profilium/fleet/backend/internal/infrastructure/config"
	"github.com/profilium/fleet/backend/internal/infrastructure/logging"
	"github.com/profilium/fleet/backend/internal/infrastructure/monitoring"
	"github.com/profilium/fleet/backend/internal/shared/types"
	"github.com/profilium/fleet/backend/internal/store"
)

// Controller is the slice of the orchestrator the restart policy needs.
type Controller interface {
	Start(ctx context.Context, profileID, userID string) error
	Stop(ctx context.Context, profileID, userID string, force bool) error
}

// Supervisor runs the restart policy loop.
type Supervisor struct {
	cfg        config.RestartConfig
	history    *history.Store
	profiles   store.Profiles
	controller Controller
	emitter    *alerts.Emitter
	metrics    *monitoring.Metrics
	logger     *logging.Logger

	mu       sync.Mutex
	records  map[string]*types.RestartRecord
	inflight map[string]bool

	stopCh chan struct{}
	wg     sync.WaitGroup
	once   sync.Once
}

// New creates a restart supervisor.
func New(
	cfg config.RestartConfig,
	hist *history.Store,
	profiles store.Profiles,
	controller Controller,
	emitter *alerts.Emitter,
	metrics *monitoring.Metrics,
	logger *logging.Logger,
) *Supervisor {
	return &Supervisor{
		cfg:        cfg,
		history:    hist,
		profiles:   profiles,
		controller: controller,
		emitter:    emitter,
		metrics:    metrics,
		logger:     logger.Named("autorestart"),
		records:    make(map[string]*types.RestartRecord),
		inflight:   make(map[string]bool),
		stopCh:     make(chan struct{}),
	}
}

// Start launches the policy loop.
func (s *Supervisor) Start() {
	if !s.cfg.Enabled {
		s.logger.Info("auto-restart disabled")
		return
	}

	s.wg.Add(1)
	go s.loop()

	s.logger.Info("auto-restart started",
		zap.Int("max_attempts", s.cfg.MaxAttempts),
		zap.Duration("interval", s.cfg.Interval),
		zap.Duration("poll_every", s.cfg.PollEvery),
	)
}

// Stop halts the loop and waits for in-flight restarts.
func (s *Supervisor) Stop() {
	s.once.Do(func() { close(s.stopCh) })
	s.wg.Wait()
}

func (s *Supervisor) loop() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.cfg.PollEvery)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopCh:
			return
		case <-ticker.C:
			s.tick(context.Background())
		}
	}
}

// tick inspects the latest recorded verdict for every profile that is
// supposed to be running.
func (s *Supervisor) tick(ctx context.Context) {
	profiles, err := s.profiles.FindAllRunning(ctx)
	if err != nil {
		s.logger.Warn("cannot list running profiles", zap.Error(err))
		return
	}

	for _, profile := range profiles {
		check, ok := s.history.LatestCheck(profile.ID)
		if !ok {
			continue
		}
		s.Observe(ctx, profile.ID, profile.UserID, check.Status)
	}
}

// Observe applies the policy to one verdict. Exported so the health
// poller and the orchestrator's crash handling can feed verdicts
// directly instead of waiting for the next poll tick.
func (s *Supervisor) Observe(ctx context.Context, profileID, userID string, verdict types.HealthStatus) {
	if !s.cfg.Enabled {
		return
	}

	switch verdict {
	case types.HealthHealthy:
		s.markHealthy(profileID)
		return
	case types.HealthDegraded, types.HealthUnhealthy:
	default:
		// Unknown verdicts neither trigger restarts nor reset attempts.
		return
	}

	s.mu.Lock()
	record, ok := s.records[profileID]
	if !ok {
		record = &types.RestartRecord{ProfileID: profileID, UserID: userID}
		s.records[profileID] = record
	}

	if record.Attempts >= s.cfg.MaxAttempts {
		// Abandoned until attempts are reset by a successful manual start.
		s.mu.Unlock()
		return
	}
	if !record.LastRestartAt.IsZero() && time.Since(record.LastRestartAt) < s.cfg.Interval {
		s.mu.Unlock()
		return
	}
	if s.inflight[profileID] {
		s.mu.Unlock()
		return
	}
	s.inflight[profileID] = true
	s.mu.Unlock()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer func() {
			s.mu.Lock()
			delete(s.inflight, profileID)
			s.mu.Unlock()
		}()
		s.restart(ctx, profileID, userID, verdict)
	}()
}

// restart waits the configured delay, then force-stops and restarts the
// profile. Attempts advance regardless of outcome.
func (s *Supervisor) restart(ctx context.Context, profileID, userID string, verdict types.HealthStatus) {
	select {
	case <-time.After(s.cfg.Delay):
	case <-s.stopCh:
		return
	}

	s.logger.Info("restarting profile",
		zap.String("profile_id", profileID),
		zap.String("verdict", string(verdict)),
	)

	err := s.controller.Stop(ctx, profileID, userID, true)
	if err == nil {
		err = s.controller.Start(ctx, profileID, userID)
	}
	s.metrics.RecordRestart(err)

	s.mu.Lock()
	record, ok := s.records[profileID]
	if !ok {
		// The record can vanish while the controller call is in flight
		// (a concurrent Reset). The attempt still counts toward the
		// budget, so rebuild the bookkeeping.
		record = &types.RestartRecord{ProfileID: profileID, UserID: userID}
		s.records[profileID] = record
	}
	record.Attempts++
	record.LastRestartAt = time.Now()
	if err != nil {
		record.LastError = err.Error()
	} else {
		record.LastError = ""
	}
	attempts := record.Attempts
	s.mu.Unlock()

	if err != nil {
		s.logger.Warn("automatic restart failed",
			zap.String("profile_id", profileID),
			zap.Int("attempt", attempts),
			zap.Error(err),
		)
		s.emitter.Emit(profileID, userID,
			types.AlertCrash, types.SeverityCritical,
			"Automatic restart failed",
			err.Error(),
			map[string]string{"attempt": strconv.Itoa(attempts)},
		)
		return
	}

	s.logger.Info("automatic restart succeeded",
		zap.String("profile_id", profileID),
		zap.Int("attempt", attempts),
	)
	s.emitter.Emit(profileID, userID,
		types.AlertRestart, types.SeverityWarning,
		"Profile restarted automatically",
		"Worker was restarted after an unhealthy verdict",
		map[string]string{"attempt": strconv.Itoa(attempts)},
	)
}

// markHealthy resets restart bookkeeping on the first healthy verdict.
func (s *Supervisor) markHealthy(profileID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if record, ok := s.records[profileID]; ok && (record.Attempts > 0 || record.LastError != "") {
		record.Attempts = 0
		record.LastError = ""
	}
}

// Record returns a copy of the restart record for a profile.
func (s *Supervisor) Record(profileID string) (types.RestartRecord, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	record, ok := s.records[profileID]
	if !ok {
		return types.RestartRecord{}, false
	}
	return *record, true
}

// Reset clears restart bookkeeping, called after a successful manual
// start. Ignored while an automatic restart is in flight: that restart
// drives the same start path, and its attempt must stay on the books.
func (s *Supervisor) Reset(profileID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.inflight[profileID] {
		return
	}
	delete(s.records, profileID)
}

