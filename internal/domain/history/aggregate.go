package history

import (
	"fmt"
	"sort"
	"time"

	"gonum.org/v1/gonum/stat"

	"github.com/profilium/fleet/backend/internal/shared/types"
)

// Period selects the calendar bucket size for aggregation.
type Period string

const (
	PeriodHour  Period = "hour"
	PeriodDay   Period = "day"
	PeriodWeek  Period = "week"
	PeriodMonth Period = "month"
)

// ParsePeriod validates a period string.
func ParsePeriod(s string) (Period, error) {
	switch Period(s) {
	case PeriodHour, PeriodDay, PeriodWeek, PeriodMonth:
		return Period(s), nil
	default:
		return "", fmt.Errorf("invalid period %q (want hour, day, week, or month)", s)
	}
}

// FieldStats holds count/avg/min/max for one numeric field in a bucket.
type FieldStats struct {
	Avg float64 `json:"avg"`
	Min float64 `json:"min"`
	Max float64 `json:"max"`
}

// Bucket is one aggregated calendar period. Buckets only exist for
// periods that contained samples.
type Bucket struct {
	Key           string     `json:"key"`
	Start         time.Time  `json:"start"`
	Count         int        `json:"count"`
	CPUPercent    FieldStats `json:"cpu_percent"`
	MemoryMB      FieldStats `json:"memory_mb"`
	MemoryPercent FieldStats `json:"memory_percent"`
}

// Aggregate groups resource samples into calendar buckets using local
// time boundaries and computes per-field statistics.
func Aggregate(samples []types.ResourceSample, period Period) []Bucket {
	groups := make(map[string][]types.ResourceSample)
	starts := make(map[string]time.Time)

	for _, s := range samples {
		start := bucketStart(s.Timestamp.Local(), period)
		key := bucketKey(start, period)
		groups[key] = append(groups[key], s)
		starts[key] = start
	}

	buckets := make([]Bucket, 0, len(groups))
	for key, group := range groups {
		cpu := make([]float64, len(group))
		mem := make([]float64, len(group))
		memPct := make([]float64, len(group))
		for i, s := range group {
			cpu[i] = s.CPUPercent
			mem[i] = s.MemoryMB
			memPct[i] = s.MemoryPercent
		}

		buckets = append(buckets, Bucket{
			Key:           key,
			Start:         starts[key],
			Count:         len(group),
			CPUPercent:    fieldStats(cpu),
			MemoryMB:      fieldStats(mem),
			MemoryPercent: fieldStats(memPct),
		})
	}

	sort.Slice(buckets, func(i, j int) bool { return buckets[i].Start.Before(buckets[j].Start) })
	return buckets
}

func fieldStats(values []float64) FieldStats {
	if len(values) == 0 {
		return FieldStats{}
	}
	min, max := values[0], values[0]
	for _, v := range values[1:] {
		if v < min {
			min = v
		}
		if v > max {
			max = v
		}
	}
	return FieldStats{
		Avg: stat.Mean(values, nil),
		Min: min,
		Max: max,
	}
}

// bucketStart truncates a timestamp to its bucket's local start time.
func bucketStart(t time.Time, period Period) time.Time {
	switch period {
	case PeriodHour:
		return time.Date(t.Year(), t.Month(), t.Day(), t.Hour(), 0, 0, 0, t.Location())
	case PeriodDay:
		return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
	case PeriodWeek:
		day := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
		// Weeks start on Monday.
		offset := (int(day.Weekday()) + 6) % 7
		return day.AddDate(0, 0, -offset)
	case PeriodMonth:
		return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, t.Location())
	default:
		return t
	}
}

func bucketKey(start time.Time, period Period) string {
	switch period {
	case PeriodHour:
		return start.Format("2006-01-02 15:00")
	case PeriodDay:
		return start.Format("2006-01-02")
	case PeriodWeek:
		return start.Format("2006-01-02") + " (week)"
	case PeriodMonth:
		return start.Format("2006-01")
	default:
		return start.Format(time.RFC3339)
	}
}
