package health

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/profilium/fleet/backend/internal/domain/history"
	"github.com/profilium/fleet/backend/internal/infrastructure/monitoring"
	"github.com/profilium/fleet/backend/internal/shared/types"
)

func f64(v float64) *float64 { return &v }

func TestVerdictRules(t *testing.T) {
	limits := &types.ResourceLimit{
		MaxCPUPercent: f64(80),
		MaxMemoryMB:   f64(1024),
	}

	tests := []struct {
		name string
		obs  Observation
		want types.HealthStatus
	}{
		{
			name: "not running is unhealthy",
			obs:  Observation{ProcessRunning: false},
			want: types.HealthUnhealthy,
		},
		{
			name: "running but disconnected is unhealthy",
			obs:  Observation{ProcessRunning: true, SessionConnected: false},
			want: types.HealthUnhealthy,
		},
		{
			name: "disconnected wins even with a clean sample",
			obs: Observation{
				ProcessRunning: true,
				Sample:         &types.ResourceSample{CPUPercent: 5, MemoryMB: 100},
				Limits:         limits,
			},
			want: types.HealthUnhealthy,
		},
		{
			name: "cpu over limit is degraded",
			obs: Observation{
				ProcessRunning:   true,
				SessionConnected: true,
				Sample:           &types.ResourceSample{CPUPercent: 95, MemoryMB: 100},
				Limits:           limits,
			},
			want: types.HealthDegraded,
		},
		{
			name: "memory over limit is degraded",
			obs: Observation{
				ProcessRunning:   true,
				SessionConnected: true,
				Sample:           &types.ResourceSample{CPUPercent: 5, MemoryMB: 2048},
				Limits:           limits,
			},
			want: types.HealthDegraded,
		},
		{
			name: "network over limit is degraded",
			obs: Observation{
				ProcessRunning:   true,
				SessionConnected: true,
				Sample:           &types.ResourceSample{CPUPercent: 5, MemoryMB: 100},
				Network:          &types.NetworkSample{ReceiveRate: 900, SendRate: 200},
				Limits: &types.ResourceLimit{
					MaxNetworkBytesPerSec: f64(1000),
				},
			},
			want: types.HealthDegraded,
		},
		{
			name: "within limits is healthy",
			obs: Observation{
				ProcessRunning:   true,
				SessionConnected: true,
				Sample:           &types.ResourceSample{CPUPercent: 5, MemoryMB: 100},
				Limits:           limits,
			},
			want: types.HealthHealthy,
		},
		{
			name: "no limits configured is healthy",
			obs: Observation{
				ProcessRunning:   true,
				SessionConnected: true,
				Sample:           &types.ResourceSample{CPUPercent: 99, MemoryMB: 9999},
			},
			want: types.HealthHealthy,
		},
		{
			name: "no sample is unknown",
			obs: Observation{
				ProcessRunning:   true,
				SessionConnected: true,
			},
			want: types.HealthUnknown,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			check := Verdict("p1", tt.obs)
			assert.Equal(t, tt.want, check.Status)
			assert.Equal(t, "p1", check.ProfileID)
			assert.False(t, check.Timestamp.IsZero())
		})
	}
}

func TestVerdictDetails(t *testing.T) {
	check := Verdict("p1", Observation{
		ProcessRunning:   true,
		SessionConnected: true,
		Sample:           &types.ResourceSample{CPUPercent: 42, MemoryMB: 512},
		Limits:           &types.ResourceLimit{MaxCPUPercent: f64(80)},
	})

	require.NotNil(t, check.Details.CPUUsage)
	assert.Equal(t, 42.0, *check.Details.CPUUsage)
	require.NotNil(t, check.Details.MemoryUsage)
	assert.Equal(t, 512.0, *check.Details.MemoryUsage)
	require.NotNil(t, check.Details.LimitsExceeded)
	assert.False(t, *check.Details.LimitsExceeded)
}

func TestEvaluateRecordsEveryVerdict(t *testing.T) {
	hist := history.NewStore(10, 10)
	eval := NewEvaluator(hist, monitoring.NewMetrics())

	eval.Evaluate("p1", Observation{ProcessRunning: false})
	eval.Evaluate("p1", Observation{ProcessRunning: true, SessionConnected: true})

	checks := hist.Checks("p1", 0, nil, nil)
	require.Len(t, checks, 2)
	assert.Equal(t, types.HealthUnhealthy, checks[0].Status)
	assert.Equal(t, types.HealthUnknown, checks[1].Status)

	latest, ok := hist.LatestCheck("p1")
	require.True(t, ok)
	assert.Equal(t, types.HealthUnknown, latest.Status)
}
