// Package history retains bounded per-profile monitoring history: resource
// samples, network samples, health checks, and alerts. Buffers are FIFO
// with a fixed cap so long-running profiles cannot grow memory unbounded.
package history

import (
	"sync"
	"time"

	"github.com/profilium/fleet/backend/internal/shared/types"
)

// Store holds per-profile ring buffers. A single lock serializes appends,
// which keeps each profile's history chronological under concurrent
// writers.
type Store struct {
	mu        sync.RWMutex
	cap       int
	alertCap  int
	resources map[string][]types.ResourceSample
	network   map[string][]types.NetworkSample
	checks    map[string][]types.HealthCheck
	alerts    map[string][]types.Alert
}

// NewStore creates a history store. cap bounds sample and health-check
// history per profile; alertCap bounds alert history.
func NewStore(cap, alertCap int) *Store {
	if cap <= 0 {
		cap = 1000
	}
	if alertCap <= 0 {
		alertCap = 200
	}
	return &Store{
		cap:       cap,
		alertCap:  alertCap,
		resources: make(map[string][]types.ResourceSample),
		network:   make(map[string][]types.NetworkSample),
		checks:    make(map[string][]types.HealthCheck),
		alerts:    make(map[string][]types.Alert),
	}
}

// AppendResource records a resource sample, evicting the oldest entry at cap.
func (s *Store) AppendResource(sample types.ResourceSample) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.resources[sample.ProfileID] = appendBounded(s.resources[sample.ProfileID], sample, s.cap)
}

// AppendNetwork records a network sample.
func (s *Store) AppendNetwork(sample types.NetworkSample) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.network[sample.ProfileID] = appendBounded(s.network[sample.ProfileID], sample, s.cap)
}

// AppendCheck records a health check. Every evaluation lands here,
// including unknown verdicts.
func (s *Store) AppendCheck(check types.HealthCheck) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.checks[check.ProfileID] = appendBounded(s.checks[check.ProfileID], check, s.cap)
}

// AppendAlert records an alert.
func (s *Store) AppendAlert(alert types.Alert) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.alerts[alert.ProfileID] = appendBounded(s.alerts[alert.ProfileID], alert, s.alertCap)
}

func appendBounded[T any](buf []T, v T, cap int) []T {
	buf = append(buf, v)
	if len(buf) > cap {
		// FIFO eviction; shift rather than reslice so the backing array
		// does not pin evicted entries.
		copy(buf, buf[1:])
		buf = buf[:len(buf)-1]
	}
	return buf
}

// Resources returns a profile's resource samples, oldest first, filtered
// to [from, to] and truncated to the most recent limit entries.
func (s *Store) Resources(profileID string, limit int, from, to *time.Time) []types.ResourceSample {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return filterRecent(s.resources[profileID], limit, from, to, func(v types.ResourceSample) time.Time { return v.Timestamp })
}

// Network returns a profile's network samples with the same semantics.
func (s *Store) Network(profileID string, limit int, from, to *time.Time) []types.NetworkSample {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return filterRecent(s.network[profileID], limit, from, to, func(v types.NetworkSample) time.Time { return v.Timestamp })
}

// Checks returns a profile's health checks with the same semantics.
func (s *Store) Checks(profileID string, limit int, from, to *time.Time) []types.HealthCheck {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return filterRecent(s.checks[profileID], limit, from, to, func(v types.HealthCheck) time.Time { return v.Timestamp })
}

// LatestCheck returns the most recent health check for a profile.
func (s *Store) LatestCheck(profileID string) (types.HealthCheck, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	buf := s.checks[profileID]
	if len(buf) == 0 {
		return types.HealthCheck{}, false
	}
	return buf[len(buf)-1], true
}

// Alerts returns a profile's alerts, newest entries last.
func (s *Store) Alerts(profileID string, limit int) []types.Alert {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return filterRecent(s.alerts[profileID], limit, nil, nil, func(v types.Alert) time.Time { return v.Timestamp })
}

// MarkAlertRead flags one alert as read.
func (s *Store) MarkAlertRead(profileID, alertID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	buf := s.alerts[profileID]
	for i := range buf {
		if buf[i].ID == alertID {
			buf[i].Read = true
			return true
		}
	}
	return false
}

// Drop discards all history for a profile.
func (s *Store) Drop(profileID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.resources, profileID)
	delete(s.network, profileID)
	delete(s.checks, profileID)
	delete(s.alerts, profileID)
}

func filterRecent[T any](buf []T, limit int, from, to *time.Time, at func(T) time.Time) []T {
	matched := make([]T, 0, len(buf))
	for _, v := range buf {
		ts := at(v)
		if from != nil && ts.Before(*from) {
			continue
		}
		if to != nil && ts.After(*to) {
			continue
		}
		matched = append(matched, v)
	}
	if limit > 0 && len(matched) > limit {
		matched = matched[len(matched)-limit:]
	}
	// Copy so callers cannot alias the internal buffer.
	out := make([]T, len(matched))
	copy(out, matched)
	return out
}
