package sampler

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/profilium/fleet/backend/internal/infrastructure/logging"
	"github.com/profilium/fleet/backend/internal/infrastructure/monitoring"
)

func newTestSampler(t *testing.T, ttl time.Duration) *Sampler {
	t.Helper()
	return New(ttl, 3*time.Second, logging.NewNop(), monitoring.NewMetrics())
}

func TestSampleOwnProcess(t *testing.T) {
	s := newTestSampler(t, time.Millisecond)
	pid := int32(os.Getpid())

	sample, err := s.Sample(context.Background(), pid, "p1")
	require.NoError(t, err)

	assert.Equal(t, "p1", sample.ProfileID)
	assert.Equal(t, pid, sample.PID)
	assert.Greater(t, sample.MemoryMB, 0.0)
	assert.False(t, sample.Timestamp.IsZero())
}

func TestSampleCacheHit(t *testing.T) {
	s := newTestSampler(t, time.Minute)
	pid := int32(os.Getpid())

	first, err := s.Sample(context.Background(), pid, "p1")
	require.NoError(t, err)

	second, err := s.Sample(context.Background(), pid, "p1")
	require.NoError(t, err)

	// Within the TTL the same sample is served, not re-read.
	assert.Same(t, first, second)
}

func TestSampleCacheMissOnPIDChange(t *testing.T) {
	s := newTestSampler(t, time.Minute)
	pid := int32(os.Getpid())

	first, err := s.Sample(context.Background(), pid, "p1")
	require.NoError(t, err)

	// A different PID for the same profile (worker restarted) must not
	// serve the stale cached sample.
	_, err = s.Sample(context.Background(), pid+999999, "p1")
	assert.ErrorIs(t, err, ErrSampleUnavailable)
	_ = first
}

func TestSampleDeadProcess(t *testing.T) {
	s := newTestSampler(t, time.Millisecond)

	_, err := s.Sample(context.Background(), 999999999, "p1")
	assert.ErrorIs(t, err, ErrSampleUnavailable)
}

func TestForgetClearsCache(t *testing.T) {
	s := newTestSampler(t, time.Minute)
	pid := int32(os.Getpid())

	first, err := s.Sample(context.Background(), pid, "p1")
	require.NoError(t, err)

	s.Forget("p1")

	second, err := s.Sample(context.Background(), pid, "p1")
	require.NoError(t, err)
	assert.NotSame(t, first, second)
}

func TestSampleNetworkFirstReadingHasZeroRates(t *testing.T) {
	s := newTestSampler(t, time.Millisecond)
	pid := int32(os.Getpid())

	sample, err := s.SampleNetwork(context.Background(), pid, "p1")
	require.NoError(t, err)

	assert.Zero(t, sample.ReceiveRate)
	assert.Zero(t, sample.SendRate)
	assert.Equal(t, pid, sample.PID)
}

func TestClampRate(t *testing.T) {
	tests := []struct {
		name    string
		cur     uint64
		prev    uint64
		elapsed float64
		want    float64
	}{
		{"steady growth", 2000, 1000, 2, 500},
		{"no traffic", 1000, 1000, 5, 0},
		{"counter reset clamps to zero", 100, 5000, 1, 0},
		{"one second interval", 4096, 0, 1, 4096},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, clampRate(tt.cur, tt.prev, tt.elapsed))
		})
	}
}
