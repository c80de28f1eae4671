// Package alerts produces notification events for operators. Delivery is
// fire-and-forget: a sink failure is logged and never propagates into the
// lifecycle operation that triggered the alert.
package alerts

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/profilium/fleet/backend/internal/domain/history"
	"github.com/profilium/fleet/backend/internal/infrastructure/logging"
	"github.com/profilium/fleet/backend/internal/infrastructure/monitoring"
	"github.com/profilium/fleet/backend/internal/shared/id"
	"github.com/profilium/fleet/backend/internal/shared/types"
)

// Sink receives alert events. Implementations must not block for long;
// the emitter calls them inline.
type Sink interface {
	Emit(alert types.Alert) error
}

// Emitter builds alerts, records them in history, and fans them out to
// registered sinks.
type Emitter struct {
	logger  *logging.Logger
	metrics *monitoring.Metrics
	history *history.Store

	mu    sync.RWMutex
	sinks []Sink
}

// NewEmitter creates an alert emitter.
func NewEmitter(store *history.Store, logger *logging.Logger, metrics *monitoring.Metrics) *Emitter {
	return &Emitter{
		logger:  logger.Named("alerts"),
		metrics: metrics,
		history: store,
	}
}

// AddSink registers a delivery sink.
func (e *Emitter) AddSink(s Sink) {
	e.mu.Lock()
	e.sinks = append(e.sinks, s)
	e.mu.Unlock()
}

// Emit creates and delivers an alert.
func (e *Emitter) Emit(profileID, userID string, typ types.AlertType, severity types.AlertSeverity, title, message string, metadata map[string]string) types.Alert {
	alert := types.Alert{
		ID:        id.NewAlertID().String(),
		ProfileID: profileID,
		UserID:    userID,
		Type:      typ,
		Severity:  severity,
		Title:     title,
		Message:   message,
		Metadata:  metadata,
		Timestamp: time.Now(),
	}

	e.history.AppendAlert(alert)
	e.metrics.RecordAlert(string(typ), string(severity))

	e.logger.Info("alert emitted",
		zap.String("alert_id", alert.ID),
		zap.String("profile_id", profileID),
		zap.String("type", string(typ)),
		zap.String("severity", string(severity)),
	)

	e.mu.RLock()
	sinks := make([]Sink, len(e.sinks))
	copy(sinks, e.sinks)
	e.mu.RUnlock()

	for _, sink := range sinks {
		if err := sink.Emit(alert); err != nil {
			e.logger.Warn("alert sink failed",
				zap.String("alert_id", alert.ID),
				zap.Error(err),
			)
		}
	}

	return alert
}

// LogSink writes alerts to the service log. Used when no push channel is
// configured.
type LogSink struct {
	logger *logging.Logger
}

// NewLogSink creates a log-backed sink.
func NewLogSink(logger *logging.Logger) *LogSink {
	return &LogSink{logger: logger.Named("alert-log")}
}

// Emit logs the alert.
func (s *LogSink) Emit(alert types.Alert) error {
	s.logger.Info("alert",
		zap.String("alert_id", alert.ID),
		zap.String("profile_id", alert.ProfileID),
		zap.String("type", string(alert.Type)),
		zap.String("severity", string(alert.Severity)),
		zap.String("title", alert.Title),
		zap.String("message", alert.Message),
	)
	return nil
}
