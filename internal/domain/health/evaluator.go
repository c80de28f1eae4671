// Package health turns process liveness and resource readings into a
// categorical verdict per profile.
package health

import (
	"time"

	"github.com/profilium/fleet/backend/internal/domain/history"
	"github.com/profilium/fleet/backend/internal/infrastructure/monitoring"
	"github.com/profilium/fleet/backend/internal/shared/types"
)

// Observation is everything an evaluation looks at. A nil Sample means no
// resource reading was available for this check.
type Observation struct {
	ProcessRunning   bool
	SessionConnected bool
	Sample           *types.ResourceSample
	Network          *types.NetworkSample
	Limits           *types.ResourceLimit
}

// Evaluator derives health verdicts and records every evaluation,
// including unknowns, in history.
type Evaluator struct {
	history *history.Store
	metrics *monitoring.Metrics
}

// NewEvaluator creates an evaluator.
func NewEvaluator(store *history.Store, metrics *monitoring.Metrics) *Evaluator {
	return &Evaluator{history: store, metrics: metrics}
}

// Evaluate applies the verdict rules in order and appends the result to
// history.
func (e *Evaluator) Evaluate(profileID string, obs Observation) types.HealthCheck {
	check := Verdict(profileID, obs)
	e.history.AppendCheck(check)
	e.metrics.RecordHealthVerdict(string(check.Status))
	return check
}

// Verdict is the pure rule evaluation, usable without a history store.
//
// Rules, in order:
//  1. process not running -> unhealthy
//  2. running but session disconnected -> unhealthy
//  3. running, connected, a configured limit exceeded -> degraded
//  4. running, connected, sample present, within limits -> healthy
//  5. otherwise (no sample yet) -> unknown
func Verdict(profileID string, obs Observation) types.HealthCheck {
	details := types.HealthDetails{
		ProcessRunning:   obs.ProcessRunning,
		SessionConnected: obs.SessionConnected,
	}
	if obs.Sample != nil {
		cpu := obs.Sample.CPUPercent
		mem := obs.Sample.MemoryMB
		details.CPUUsage = &cpu
		details.MemoryUsage = &mem
	}

	status := types.HealthUnknown
	switch {
	case !obs.ProcessRunning:
		status = types.HealthUnhealthy
	case !obs.SessionConnected:
		status = types.HealthUnhealthy
	case obs.Sample != nil:
		exceeded := limitsExceeded(obs)
		details.LimitsExceeded = &exceeded
		if exceeded {
			status = types.HealthDegraded
		} else {
			status = types.HealthHealthy
		}
	}

	return types.HealthCheck{
		ProfileID: profileID,
		Status:    status,
		Timestamp: time.Now(),
		Details:   details,
	}
}

func limitsExceeded(obs Observation) bool {
	if obs.Limits == nil {
		return false
	}
	if obs.Limits.CPUExceeded(obs.Sample.CPUPercent) {
		return true
	}
	if obs.Limits.MemoryExceeded(obs.Sample.MemoryMB) {
		return true
	}
	if obs.Network != nil && obs.Limits.NetworkExceeded(obs.Network.ReceiveRate+obs.Network.SendRate) {
		return true
	}
	return false
}
