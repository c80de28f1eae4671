package history

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/profilium/fleet/backend/internal/shared/types"
)

func sampleAt(profileID string, ts time.Time, cpu float64) types.ResourceSample {
	return types.ResourceSample{
		ProfileID:  profileID,
		CPUPercent: cpu,
		MemoryMB:   100,
		Timestamp:  ts,
	}
}

func TestStoreCapEvictsOldest(t *testing.T) {
	s := NewStore(3, 3)
	base := time.Now()

	for i := 0; i < 5; i++ {
		s.AppendResource(sampleAt("p1", base.Add(time.Duration(i)*time.Second), float64(i)))
	}

	got := s.Resources("p1", 0, nil, nil)
	require.Len(t, got, 3)
	assert.Equal(t, 2.0, got[0].CPUPercent)
	assert.Equal(t, 4.0, got[2].CPUPercent)
}

func TestStoreProfilesIsolated(t *testing.T) {
	s := NewStore(10, 10)
	now := time.Now()

	s.AppendResource(sampleAt("p1", now, 1))
	s.AppendResource(sampleAt("p2", now, 2))

	assert.Len(t, s.Resources("p1", 0, nil, nil), 1)
	assert.Len(t, s.Resources("p2", 0, nil, nil), 1)
	assert.Empty(t, s.Resources("p3", 0, nil, nil))
}

func TestStoreQueryWindow(t *testing.T) {
	s := NewStore(100, 10)
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	for i := 0; i < 10; i++ {
		s.AppendResource(sampleAt("p1", base.Add(time.Duration(i)*time.Minute), float64(i)))
	}

	from := base.Add(2 * time.Minute)
	to := base.Add(6 * time.Minute)

	got := s.Resources("p1", 0, &from, &to)
	require.Len(t, got, 5)
	assert.Equal(t, 2.0, got[0].CPUPercent)
	assert.Equal(t, 6.0, got[4].CPUPercent)

	// Limit keeps the most recent entries of the window.
	got = s.Resources("p1", 2, &from, &to)
	require.Len(t, got, 2)
	assert.Equal(t, 5.0, got[0].CPUPercent)
	assert.Equal(t, 6.0, got[1].CPUPercent)
}

func TestStoreChronologicalOrder(t *testing.T) {
	s := NewStore(50, 10)
	base := time.Now()

	for i := 0; i < 20; i++ {
		s.AppendResource(sampleAt("p1", base.Add(time.Duration(i)*time.Second), float64(i)))
	}

	got := s.Resources("p1", 0, nil, nil)
	for i := 1; i < len(got); i++ {
		assert.True(t, got[i].Timestamp.After(got[i-1].Timestamp))
	}
}

func TestStoreResultIsCopy(t *testing.T) {
	s := NewStore(10, 10)
	s.AppendResource(sampleAt("p1", time.Now(), 1))

	got := s.Resources("p1", 0, nil, nil)
	got[0].CPUPercent = 99

	again := s.Resources("p1", 0, nil, nil)
	assert.Equal(t, 1.0, again[0].CPUPercent)
}

func TestLatestCheck(t *testing.T) {
	s := NewStore(10, 10)

	_, ok := s.LatestCheck("p1")
	assert.False(t, ok)

	s.AppendCheck(types.HealthCheck{ProfileID: "p1", Status: types.HealthDegraded, Timestamp: time.Now()})
	s.AppendCheck(types.HealthCheck{ProfileID: "p1", Status: types.HealthHealthy, Timestamp: time.Now()})

	check, ok := s.LatestCheck("p1")
	require.True(t, ok)
	assert.Equal(t, types.HealthHealthy, check.Status)
}

func TestAlertsCapAndMarkRead(t *testing.T) {
	s := NewStore(10, 2)

	for i := 0; i < 3; i++ {
		s.AppendAlert(types.Alert{
			ID:        fmt.Sprintf("a%d", i),
			ProfileID: "p1",
			Type:      types.AlertCrash,
			Timestamp: time.Now(),
		})
	}

	alerts := s.Alerts("p1", 0)
	require.Len(t, alerts, 2)
	assert.Equal(t, "a1", alerts[0].ID)

	assert.True(t, s.MarkAlertRead("p1", "a2"))
	assert.False(t, s.MarkAlertRead("p1", "a0"))
	assert.False(t, s.MarkAlertRead("other", "a2"))

	alerts = s.Alerts("p1", 0)
	assert.True(t, alerts[1].Read)
	assert.False(t, alerts[0].Read)
}

func TestDropClearsProfile(t *testing.T) {
	s := NewStore(10, 10)
	s.AppendResource(sampleAt("p1", time.Now(), 1))
	s.AppendCheck(types.HealthCheck{ProfileID: "p1", Status: types.HealthHealthy, Timestamp: time.Now()})

	s.Drop("p1")

	assert.Empty(t, s.Resources("p1", 0, nil, nil))
	_, ok := s.LatestCheck("p1")
	assert.False(t, ok)
}
