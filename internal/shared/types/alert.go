package types

import "time"

// AlertType classifies an alert event.
type AlertType string

const (
	AlertCrash         AlertType = "crash"
	AlertRestart       AlertType = "restart"
	AlertLimitExceeded AlertType = "limit_exceeded"
	AlertLoginRequired AlertType = "login_required"
	AlertError         AlertType = "error"
)

// AlertSeverity ranks alert importance.
type AlertSeverity string

const (
	SeverityInfo     AlertSeverity = "info"
	SeverityWarning  AlertSeverity = "warning"
	SeverityCritical AlertSeverity = "critical"
)

// Alert is a notification event produced by the supervision core and
// consumed by notification sinks.
type Alert struct {
	ID        string            `json:"id"`
	ProfileID string            `json:"profile_id"`
	UserID    string            `json:"user_id"`
	Type      AlertType         `json:"type"`
	Severity  AlertSeverity     `json:"severity"`
	Title     string            `json:"title"`
	Message   string            `json:"message"`
	Metadata  map[string]string `json:"metadata,omitempty"`
	Timestamp time.Time         `json:"timestamp"`
	Read      bool              `json:"read"`
}
