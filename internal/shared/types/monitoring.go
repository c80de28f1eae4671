package types

import "time"

// ResourceSample is a point-in-time resource reading for a worker process.
// Samples are immutable once recorded.
type ResourceSample struct {
	ProfileID     string    `json:"profile_id"`
	PID           int32     `json:"pid"`
	CPUPercent    float64   `json:"cpu_percent"`
	MemoryMB      float64   `json:"memory_mb"`
	MemoryPercent float64   `json:"memory_percent"`
	Timestamp     time.Time `json:"timestamp"`
}

// NetworkSample captures network activity for a worker process. Rate fields
// are derived from the delta against the previous sample for the same
// profile, clamped at zero.
type NetworkSample struct {
	ProfileID       string    `json:"profile_id"`
	PID             int32     `json:"pid"`
	BytesReceived   uint64    `json:"bytes_received"`
	BytesSent       uint64    `json:"bytes_sent"`
	ReceiveRate     float64   `json:"receive_rate"` // bytes/sec
	SendRate        float64   `json:"send_rate"`    // bytes/sec
	ConnectionCount int       `json:"connection_count"`
	Timestamp       time.Time `json:"timestamp"`
}

// HealthStatus is the categorical health verdict for a profile.
type HealthStatus string

const (
	HealthHealthy   HealthStatus = "healthy"
	HealthDegraded  HealthStatus = "degraded"
	HealthUnhealthy HealthStatus = "unhealthy"
	HealthUnknown   HealthStatus = "unknown"
)

// HealthDetails carries the observations behind a verdict.
type HealthDetails struct {
	ProcessRunning   bool     `json:"process_running"`
	SessionConnected bool     `json:"session_connected"`
	CPUUsage         *float64 `json:"cpu_usage,omitempty"`
	MemoryUsage      *float64 `json:"memory_usage,omitempty"`
	LimitsExceeded   *bool    `json:"limits_exceeded,omitempty"`
}

// HealthCheck is one recorded health evaluation.
type HealthCheck struct {
	ProfileID string        `json:"profile_id"`
	Status    HealthStatus  `json:"status"`
	Timestamp time.Time     `json:"timestamp"`
	Details   HealthDetails `json:"details"`
}

// RestartRecord tracks auto-restart bookkeeping for one profile.
// Attempts reset to zero on the first healthy verdict after a restart.
type RestartRecord struct {
	ProfileID     string    `json:"profile_id"`
	UserID        string    `json:"user_id"`
	Attempts      int       `json:"attempts"`
	LastRestartAt time.Time `json:"last_restart_at"`
	LastError     string    `json:"last_error,omitempty"`
}
