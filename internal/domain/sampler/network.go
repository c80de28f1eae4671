package sampler

import (
	"context"
	"time"

	"github.com/profilium/fleet/backend/internal/shared/types"
)

// bytesPerConnectionEstimate approximates transfer volume on platforms
// without per-process interface counters. Inherited heuristic; treat the
// resulting rates as indicative only.
const bytesPerConnectionEstimate = 4096

type netBaseline struct {
	bytesReceived uint64
	bytesSent     uint64
	at            time.Time
}

// SampleNetwork reads network activity for the worker process. Rates are
// deltas against the previous reading for the same profile divided by
// elapsed time, clamped at zero; the first reading reports zero rates.
func (s *Sampler) SampleNetwork(ctx context.Context, pid int32, profileID string) (*types.NetworkSample, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	proc, err := s.proc(ctx, pid, profileID)
	if err != nil {
		return nil, err
	}

	conns, err := proc.ConnectionsWithContext(ctx)
	if err != nil {
		conns = nil
	}

	var recv, sent uint64
	counters, err := proc.NetIOCountersWithContext(ctx, false)
	if err == nil && len(counters) > 0 {
		recv = counters[0].BytesRecv
		sent = counters[0].BytesSent
	} else {
		// No per-process counters on this platform: estimate from
		// connection count.
		est := uint64(len(conns)) * bytesPerConnectionEstimate
		recv, sent = est, est
	}

	now := time.Now()
	sample := &types.NetworkSample{
		ProfileID:       profileID,
		PID:             pid,
		BytesReceived:   recv,
		BytesSent:       sent,
		ConnectionCount: len(conns),
		Timestamp:       now,
	}

	s.mu.Lock()
	prev, ok := s.net[profileID]
	s.net[profileID] = netBaseline{bytesReceived: recv, bytesSent: sent, at: now}
	s.mu.Unlock()

	if ok {
		elapsed := now.Sub(prev.at).Seconds()
		if elapsed > 0 {
			sample.ReceiveRate = clampRate(recv, prev.bytesReceived, elapsed)
			sample.SendRate = clampRate(sent, prev.bytesSent, elapsed)
		}
	}

	return sample, nil
}

// clampRate computes Δbytes/Δt, floored at zero. Counters can move
// backwards when a worker restarts mid-interval.
func clampRate(cur, prev uint64, elapsedSec float64) float64 {
	if cur < prev {
		return 0
	}
	return float64(cur-prev) / elapsedSec
}
