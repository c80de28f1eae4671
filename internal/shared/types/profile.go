package types

import "time"

// ProfileStatus represents profile lifecycle states
type ProfileStatus string

const (
	StatusStopped  ProfileStatus = "STOPPED"
	StatusStarting ProfileStatus = "STARTING"
	StatusRunning  ProfileStatus = "RUNNING"
	StatusStopping ProfileStatus = "STOPPING"
	StatusError    ProfileStatus = "ERROR"
)

// Profile represents a persisted messaging profile record.
// The supervision core is the sole writer of Status during lifecycle
// operations; the store only persists it.
type Profile struct {
	ID           string         `json:"id"`
	UserID       string         `json:"user_id"`
	Name         string         `json:"name"`
	Messenger    string         `json:"messenger"` // primary channel: "whatsapp", "telegram"
	Status       ProfileStatus  `json:"status"`
	DataDir      string         `json:"data_dir,omitempty"`
	LastActiveAt *time.Time     `json:"last_active_at,omitempty"`
	CreatedAt    time.Time      `json:"created_at"`
	Limits       *ResourceLimit `json:"limits,omitempty"`
}

// ResourceLimit holds optional per-user resource ceilings for a worker.
// A nil field means the dimension is unlimited.
type ResourceLimit struct {
	MaxCPUPercent         *float64 `json:"max_cpu_percent,omitempty"`
	MaxMemoryMB           *float64 `json:"max_memory_mb,omitempty"`
	MaxNetworkBytesPerSec *float64 `json:"max_network_bytes_per_sec,omitempty"`
}

// CPUExceeded reports whether the sample's CPU usage is over the limit.
func (l *ResourceLimit) CPUExceeded(cpuPercent float64) bool {
	return l != nil && l.MaxCPUPercent != nil && cpuPercent > *l.MaxCPUPercent
}

// MemoryExceeded reports whether the sample's memory usage is over the limit.
func (l *ResourceLimit) MemoryExceeded(memoryMB float64) bool {
	return l != nil && l.MaxMemoryMB != nil && memoryMB > *l.MaxMemoryMB
}

// NetworkExceeded reports whether the combined transfer rate is over the limit.
func (l *ResourceLimit) NetworkExceeded(bytesPerSec float64) bool {
	return l != nil && l.MaxNetworkBytesPerSec != nil && bytesPerSec > *l.MaxNetworkBytesPerSec
}
