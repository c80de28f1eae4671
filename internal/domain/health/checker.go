package health

import (
	"context"
	"errors"

	"github.com/profilium/fleet/backend/internal/domain/sampler"
	"github.com/profilium/fleet/backend/internal/domain/supervisor"
	"github.com/profilium/fleet/backend/internal/infrastructure/logging"
	"github.com/profilium/fleet/backend/internal/shared/types"
	"github.com/profilium/fleet/backend/internal/store"
)

// Checker gathers observations from the supervisor, sampler, and limits
// provider and runs them through the evaluator. It is the single entry
// point for both on-demand health requests and the polling loop.
type Checker struct {
	sup       *supervisor.Supervisor
	sampler   *sampler.Sampler
	limits    store.Limits
	evaluator *Evaluator
	logger    *logging.Logger
}

// NewChecker creates a checker.
func NewChecker(sup *supervisor.Supervisor, smp *sampler.Sampler, limits store.Limits, evaluator *Evaluator, logger *logging.Logger) *Checker {
	return &Checker{
		sup:       sup,
		sampler:   smp,
		limits:    limits,
		evaluator: evaluator,
		logger:    logger.Named("health"),
	}
}

// Check evaluates one profile now. Monitoring failures degrade to partial
// observations; they never fail the check itself.
func (c *Checker) Check(ctx context.Context, profileID, userID string) types.HealthCheck {
	obs := Observation{}

	handle, running := c.sup.Handle(profileID)
	obs.ProcessRunning = running

	if running {
		obs.SessionConnected = c.sup.SessionConnected(ctx, profileID)

		if sample, err := c.sampler.Sample(ctx, handle.PID, profileID); err == nil {
			obs.Sample = sample
		} else if !errors.Is(err, sampler.ErrSampleUnavailable) {
			c.logger.Debug("resource sample failed during health check")
		}
		if network, err := c.sampler.SampleNetwork(ctx, handle.PID, profileID); err == nil {
			obs.Network = network
		}
	}

	if c.limits != nil && userID != "" {
		if limits, err := c.limits.GetLimits(ctx, userID); err == nil {
			obs.Limits = limits
		}
	}

	return c.evaluator.Evaluate(profileID, obs)
}
