// Package sampler reads point-in-time CPU, memory, and network usage for
// worker processes. All OS access goes through gopsutil so platform
// dispatch stays behind one seam.
//
// Readings are best-effort. Per-process network counters are only exact on
// Linux (/proc/<pid>/net/dev); elsewhere they are approximated from
// connection counts, which is a documented precision ceiling rather than a
// bug.
package sampler

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/shirou/gopsutil/process"
	"go.uber.org/zap"

	"github.com/profilium/fleet/backend/internal/infrastructure/logging"
	"github.com/profilium/fleet/backend/internal/infrastructure/monitoring"
	"github.com/profilium/fleet/backend/internal/shared/types"
)

// ErrSampleUnavailable means the process could not be read, usually
// because it exited mid-sample. Callers treat this as "no data", not as a
// failure.
var ErrSampleUnavailable = errors.New("resource sample unavailable")

type cacheEntry struct {
	sample *types.ResourceSample
	at     time.Time
}

// Sampler produces resource samples with a short-lived per-profile cache
// so concurrent callers inside one polling tick share a single OS read.
type Sampler struct {
	logger   *logging.Logger
	metrics  *monitoring.Metrics
	cacheTTL time.Duration
	timeout  time.Duration

	mu    sync.Mutex
	cache map[string]cacheEntry
	procs map[string]*process.Process // per-profile handles keep CPU deltas meaningful
	net   map[string]netBaseline
}

// New creates a sampler. cacheTTL bounds how stale a served sample can be;
// timeout bounds every OS call.
func New(cacheTTL, timeout time.Duration, logger *logging.Logger, metrics *monitoring.Metrics) *Sampler {
	return &Sampler{
		logger:   logger.Named("sampler"),
		metrics:  metrics,
		cacheTTL: cacheTTL,
		timeout:  timeout,
		cache:    make(map[string]cacheEntry),
		procs:    make(map[string]*process.Process),
		net:      make(map[string]netBaseline),
	}
}

// Sample reads CPU and memory usage for the worker process.
func (s *Sampler) Sample(ctx context.Context, pid int32, profileID string) (*types.ResourceSample, error) {
	s.mu.Lock()
	if entry, ok := s.cache[profileID]; ok && time.Since(entry.at) < s.cacheTTL && entry.sample.PID == pid {
		s.mu.Unlock()
		return entry.sample, nil
	}
	s.mu.Unlock()

	start := time.Now()
	sample, err := s.read(ctx, pid, profileID)
	s.metrics.RecordSample(time.Since(start), err)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	s.cache[profileID] = cacheEntry{sample: sample, at: time.Now()}
	s.mu.Unlock()
	return sample, nil
}

func (s *Sampler) read(ctx context.Context, pid int32, profileID string) (*types.ResourceSample, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	proc, err := s.proc(ctx, pid, profileID)
	if err != nil {
		return nil, err
	}

	cpuPct, err := proc.CPUPercentWithContext(ctx)
	if err != nil {
		s.forget(profileID)
		return nil, ErrSampleUnavailable
	}

	memInfo, err := proc.MemoryInfoWithContext(ctx)
	if err != nil {
		s.forget(profileID)
		return nil, ErrSampleUnavailable
	}

	memPct, err := proc.MemoryPercentWithContext(ctx)
	if err != nil {
		// RSS is still usable without the percentage.
		s.logger.Debug("memory percent unavailable",
			zap.String("profile_id", profileID),
			zap.Int32("pid", pid),
		)
		memPct = 0
	}

	return &types.ResourceSample{
		ProfileID:     profileID,
		PID:           pid,
		CPUPercent:    cpuPct,
		MemoryMB:      float64(memInfo.RSS) / (1024 * 1024),
		MemoryPercent: float64(memPct),
		Timestamp:     time.Now(),
	}, nil
}

// proc returns a cached process handle, replacing it when the PID changed
// (worker restarted).
func (s *Sampler) proc(ctx context.Context, pid int32, profileID string) (*process.Process, error) {
	s.mu.Lock()
	cached, ok := s.procs[profileID]
	s.mu.Unlock()

	if ok && cached.Pid == pid {
		if running, err := cached.IsRunningWithContext(ctx); err == nil && running {
			return cached, nil
		}
		s.forget(profileID)
		return nil, ErrSampleUnavailable
	}

	proc, err := process.NewProcessWithContext(ctx, pid)
	if err != nil {
		return nil, ErrSampleUnavailable
	}

	s.mu.Lock()
	s.procs[profileID] = proc
	s.mu.Unlock()
	return proc, nil
}

// forget drops cached state for a profile. Called when its process is gone
// or when a worker restarts.
func (s *Sampler) forget(profileID string) {
	s.mu.Lock()
	delete(s.cache, profileID)
	delete(s.procs, profileID)
	delete(s.net, profileID)
	s.mu.Unlock()
}

// Forget is the exported eviction hook, called when a worker stops.
func (s *Sampler) Forget(profileID string) {
	s.forget(profileID)
}
