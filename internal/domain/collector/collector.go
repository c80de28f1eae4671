// Package collector runs the periodic monitoring loops: resource
// collection feeding history and limit enforcement, and health polling
// feeding the restart policy. Each loop has its own cadence; a slow tick
// for one profile never blocks the others' schedules.
package collector

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/profilium/fleet/backend/internal/domain/alerts"
	"github.com/profilium/fleet/backend/internal/domain/health"
	"github.com/profilium/fleet/backend/internal/domain/history"
	"github.com/profilium/fleet/backend/internal/domain/sampler"
	"github.com/profilium/fleet/backend/internal/domain/supervisor"
	"github.com/profilium/fleet/backend/internal/infrastructure/config"
	"github.com/profilium/fleet/backend/internal/infrastructure/logging"
	"github.com/profilium/fleet/backend/internal/shared/types"
	"github.com/profilium/fleet/backend/internal/store"
)

// Collector owns the resource and health timer loops.
type Collector struct {
	cfg      config.MonitorConfig
	sup      *supervisor.Supervisor
	sampler  *sampler.Sampler
	history  *history.Store
	checker  *health.Checker
	profiles store.Profiles
	limits   store.Limits
	emitter  *alerts.Emitter
	logger   *logging.Logger

	// stopper lets limit enforcement request a worker stop without the
	// collector depending on the orchestrator.
	stopper func(ctx context.Context, profileID, userID string, force bool) error

	stopCh chan struct{}
	wg     sync.WaitGroup
	once   sync.Once
}

// New creates a collector.
func New(
	cfg config.MonitorConfig,
	sup *supervisor.Supervisor,
	smp *sampler.Sampler,
	hist *history.Store,
	checker *health.Checker,
	profiles store.Profiles,
	limits store.Limits,
	emitter *alerts.Emitter,
	logger *logging.Logger,
) *Collector {
	return &Collector{
		cfg:      cfg,
		sup:      sup,
		sampler:  smp,
		history:  hist,
		checker:  checker,
		profiles: profiles,
		limits:   limits,
		emitter:  emitter,
		logger:   logger.Named("collector"),
		stopCh:   make(chan struct{}),
	}
}

// WithStopper wires the stop callback used when limit enforcement is on.
func (c *Collector) WithStopper(stopper func(ctx context.Context, profileID, userID string, force bool) error) *Collector {
	c.stopper = stopper
	return c
}

// Start launches the timer loops.
func (c *Collector) Start() {
	c.wg.Add(2)
	go c.loop(c.cfg.SampleInterval, c.collectResources)
	go c.loop(c.cfg.HealthInterval, c.pollHealth)

	c.logger.Info("monitoring loops started",
		zap.Duration("sample_interval", c.cfg.SampleInterval),
		zap.Duration("health_interval", c.cfg.HealthInterval),
	)
}

// Stop halts the loops and waits for in-flight ticks.
func (c *Collector) Stop() {
	c.once.Do(func() { close(c.stopCh) })
	c.wg.Wait()
}

func (c *Collector) loop(interval time.Duration, tick func(ctx context.Context)) {
	defer c.wg.Done()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-c.stopCh:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), interval)
			tick(ctx)
			cancel()
		}
	}
}

// collectResources samples every running worker and records history.
func (c *Collector) collectResources(ctx context.Context) {
	for _, profileID := range c.sup.RunningProfiles() {
		handle, ok := c.sup.Handle(profileID)
		if !ok {
			continue
		}

		sample, err := c.sampler.Sample(ctx, handle.PID, profileID)
		if err != nil {
			if !errors.Is(err, sampler.ErrSampleUnavailable) {
				c.logger.Debug("resource sample failed",
					zap.String("profile_id", profileID),
					zap.Error(err),
				)
			}
			continue
		}
		c.history.AppendResource(*sample)

		if network, err := c.sampler.SampleNetwork(ctx, handle.PID, profileID); err == nil {
			c.history.AppendNetwork(*network)
			c.enforceLimits(ctx, profileID, sample, network)
		} else {
			c.enforceLimits(ctx, profileID, sample, nil)
		}
	}
}

// enforceLimits emits a limit-exceeded alert and, when configured, stops
// the offending worker.
func (c *Collector) enforceLimits(ctx context.Context, profileID string, sample *types.ResourceSample, network *types.NetworkSample) {
	profile, err := c.profiles.FindByID(ctx, profileID)
	if err != nil {
		return
	}

	limits := profile.Limits
	if limits == nil && c.limits != nil {
		limits, _ = c.limits.GetLimits(ctx, profile.UserID)
	}
	if limits == nil {
		return
	}

	exceeded := limits.CPUExceeded(sample.CPUPercent) || limits.MemoryExceeded(sample.MemoryMB)
	if network != nil && limits.NetworkExceeded(network.ReceiveRate+network.SendRate) {
		exceeded = true
	}
	if !exceeded {
		return
	}

	c.emitter.Emit(profileID, profile.UserID,
		types.AlertLimitExceeded, types.SeverityWarning,
		"Resource limit exceeded",
		"Worker exceeded a configured resource limit",
		map[string]string{
			"cpu_percent": strconv.FormatFloat(sample.CPUPercent, 'f', 1, 64),
			"memory_mb":   strconv.FormatFloat(sample.MemoryMB, 'f', 1, 64),
		},
	)

	if c.cfg.EnforceLimitsByStop && c.stopper != nil {
		if err := c.stopper(ctx, profileID, profile.UserID, true); err != nil {
			c.logger.Warn("limit enforcement stop failed",
				zap.String("profile_id", profileID),
				zap.Error(err),
			)
		}
	}
}

// pollHealth evaluates every profile that is supposed to be running,
// recording each verdict. Polling over persisted intent rather than live
// workers means a dead worker still yields an unhealthy verdict instead
// of silently leaving the poll set.
func (c *Collector) pollHealth(ctx context.Context) {
	profiles, err := c.profiles.FindAllRunning(ctx)
	if err != nil {
		c.logger.Warn("cannot list running profiles", zap.Error(err))
		return
	}

	for _, profile := range profiles {
		c.checker.Check(ctx, profile.ID, profile.UserID)
	}
}
