package resilience

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errLaunch = errors.New("launch failed")

func failingSettings(timeout time.Duration) Settings {
	return Settings{
		Timeout: timeout,
		ReadyToTrip: func(counts Counts) bool {
			return counts.ConsecutiveFailures >= 3
		},
	}
}

func fail(b *Breaker) error {
	_, err := b.Execute(func() (interface{}, error) {
		return nil, errLaunch
	})
	return err
}

func succeed(b *Breaker) error {
	_, err := b.Execute(func() (interface{}, error) {
		return "ok", nil
	})
	return err
}

func TestBreakerTripsAfterConsecutiveFailures(t *testing.T) {
	b := New("p1", failingSettings(time.Minute))

	for i := 0; i < 3; i++ {
		require.ErrorIs(t, fail(b), errLaunch)
	}

	assert.Equal(t, StateOpen, b.State())
	assert.ErrorIs(t, fail(b), ErrCircuitOpen)
}

func TestBreakerSuccessResetsConsecutiveFailures(t *testing.T) {
	b := New("p1", failingSettings(time.Minute))

	require.ErrorIs(t, fail(b), errLaunch)
	require.ErrorIs(t, fail(b), errLaunch)
	require.NoError(t, succeed(b))
	require.ErrorIs(t, fail(b), errLaunch)
	require.ErrorIs(t, fail(b), errLaunch)

	assert.Equal(t, StateClosed, b.State())
	assert.Equal(t, uint32(2), b.Counts().ConsecutiveFailures)
}

func TestBreakerHalfOpenClosesOnSuccess(t *testing.T) {
	b := New("p1", failingSettings(20*time.Millisecond))

	for i := 0; i < 3; i++ {
		require.ErrorIs(t, fail(b), errLaunch)
	}
	require.Equal(t, StateOpen, b.State())

	time.Sleep(30 * time.Millisecond)
	require.Equal(t, StateHalfOpen, b.State())

	require.NoError(t, succeed(b))
	assert.Equal(t, StateClosed, b.State())
	assert.Equal(t, Counts{}, b.Counts())
}

func TestBreakerHalfOpenReopensOnFailure(t *testing.T) {
	b := New("p1", failingSettings(20*time.Millisecond))

	for i := 0; i < 3; i++ {
		require.ErrorIs(t, fail(b), errLaunch)
	}

	time.Sleep(30 * time.Millisecond)
	require.ErrorIs(t, fail(b), errLaunch)
	assert.Equal(t, StateOpen, b.State())
}

func TestBreakerHalfOpenAdmitsSingleTrial(t *testing.T) {
	b := New("p1", failingSettings(20*time.Millisecond))

	for i := 0; i < 3; i++ {
		require.ErrorIs(t, fail(b), errLaunch)
	}
	time.Sleep(30 * time.Millisecond)

	started := make(chan struct{})
	release := make(chan struct{})
	done := make(chan error, 1)
	go func() {
		_, err := b.Execute(func() (interface{}, error) {
			close(started)
			<-release
			return "ok", nil
		})
		done <- err
	}()

	<-started
	assert.ErrorIs(t, succeed(b), ErrCircuitOpen)

	close(release)
	require.NoError(t, <-done)
	assert.Equal(t, StateClosed, b.State())
}

func TestBreakerOnStateChange(t *testing.T) {
	type transition struct {
		from, to State
	}
	var transitions []transition

	settings := failingSettings(20 * time.Millisecond)
	settings.OnStateChange = func(name string, from State, to State) {
		assert.Equal(t, "p1", name)
		transitions = append(transitions, transition{from, to})
	}
	b := New("p1", settings)

	for i := 0; i < 3; i++ {
		require.ErrorIs(t, fail(b), errLaunch)
	}
	time.Sleep(30 * time.Millisecond)
	require.NoError(t, succeed(b))

	assert.Equal(t, []transition{
		{StateClosed, StateOpen},
		{StateOpen, StateHalfOpen},
		{StateHalfOpen, StateClosed},
	}, transitions)
}

func TestGroupIsolatesProfiles(t *testing.T) {
	g := NewGroup(failingSettings(time.Minute))

	for i := 0; i < 3; i++ {
		require.ErrorIs(t, fail(g.For("p1")), errLaunch)
	}

	assert.Equal(t, StateOpen, g.For("p1").State())
	assert.Equal(t, StateClosed, g.For("p2").State())
}

func TestGroupResetClearsTrippedBreaker(t *testing.T) {
	g := NewGroup(failingSettings(time.Minute))

	for i := 0; i < 3; i++ {
		require.ErrorIs(t, fail(g.For("p1")), errLaunch)
	}
	require.ErrorIs(t, fail(g.For("p1")), ErrCircuitOpen)

	g.Reset("p1")
	assert.NoError(t, succeed(g.For("p1")))
}
