// Package http exposes the supervision core over a JSON API. Handlers
// translate transport concerns only; lifecycle semantics live in the
// orchestrator and its collaborators.
package http

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/profilium/fleet/backend/internal/domain/autorestart"
	"github.com/profilium/fleet/backend/internal/domain/health"
	"github.com/profilium/fleet/backend/internal/domain/history"
	"github.com/profilium/fleet/backend/internal/domain/orchestrator"
	"github.com/profilium/fleet/backend/internal/domain/sampler"
	"github.com/profilium/fleet/backend/internal/domain/supervisor"
	"github.com/profilium/fleet/backend/internal/infrastructure/logging"
	"github.com/profilium/fleet/backend/internal/shared/utils"
	"github.com/profilium/fleet/backend/internal/store"
)

// Handlers binds the supervision core to gin routes.
type Handlers struct {
	orch     *orchestrator.Orchestrator
	sup      *supervisor.Supervisor
	smp      *sampler.Sampler
	hist     *history.Store
	checker  *health.Checker
	restarts *autorestart.Supervisor
	logger   *logging.Logger
}

// NewHandlers wires the handler set.
func NewHandlers(
	orch *orchestrator.Orchestrator,
	sup *supervisor.Supervisor,
	smp *sampler.Sampler,
	hist *history.Store,
	checker *health.Checker,
	restarts *autorestart.Supervisor,
	logger *logging.Logger,
) *Handlers {
	return &Handlers{
		orch:     orch,
		sup:      sup,
		smp:      smp,
		hist:     hist,
		checker:  checker,
		restarts: restarts,
		logger:   logger.Named("http"),
	}
}

// Register attaches all profile routes to the router group.
func (h *Handlers) Register(r gin.IRoutes) {
	r.POST("/profiles/:id/start", h.Start)
	r.POST("/profiles/:id/stop", h.Stop)
	r.GET("/profiles/:id/status", h.GetStatus)
	r.GET("/profiles/:id/resources", h.GetResources)
	r.GET("/profiles/:id/resources/history", h.GetResourceHistory)
	r.GET("/profiles/:id/network", h.GetNetwork)
	r.GET("/profiles/:id/health", h.CheckHealth)
	r.GET("/profiles/:id/analytics", h.GetAnalytics)
	r.GET("/profiles/:id/alerts", h.GetAlerts)
	r.POST("/profiles/:id/alerts/:alertId/read", h.MarkAlertRead)
}

// Start launches the profile's worker and reports the resulting status.
func (h *Handlers) Start(c *gin.Context) {
	profileID, userID, ok := h.requestIDs(c)
	if !ok {
		return
	}

	if err := h.orch.Start(c.Request.Context(), profileID, userID); err != nil {
		h.lifecycleError(c, err)
		return
	}

	info, err := h.orch.GetStatus(c.Request.Context(), profileID, userID)
	if err != nil {
		h.lifecycleError(c, err)
		return
	}
	c.JSON(http.StatusOK, info)
}

// Stop shuts the worker down; the force flag skips the graceful phase.
func (h *Handlers) Stop(c *gin.Context) {
	profileID, userID, ok := h.requestIDs(c)
	if !ok {
		return
	}
	force := c.Query("force") == "true"

	if err := h.orch.Stop(c.Request.Context(), profileID, userID, force); err != nil {
		h.lifecycleError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "stopped"})
}

// GetStatus returns the reconciled status of the profile.
func (h *Handlers) GetStatus(c *gin.Context) {
	info, err := h.orch.GetStatus(c.Request.Context(), c.Param("id"), c.Query("user_id"))
	if err != nil {
		h.lifecycleError(c, err)
		return
	}
	c.JSON(http.StatusOK, info)
}

// GetResources returns a current resource sample for the running worker.
func (h *Handlers) GetResources(c *gin.Context) {
	profileID := c.Param("id")

	handle, ok := h.sup.Handle(profileID)
	if !ok {
		c.JSON(http.StatusConflict, gin.H{"error": "profile is not running"})
		return
	}

	sample, err := h.smp.Sample(c.Request.Context(), handle.PID, profileID)
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "sample unavailable"})
		return
	}
	c.JSON(http.StatusOK, sample)
}

// GetResourceHistory returns recorded samples, newest window first
// bounded by limit and the optional from/to range.
func (h *Handlers) GetResourceHistory(c *gin.Context) {
	profileID := c.Param("id")
	limit := intQuery(c, "limit", 100)
	from, to, err := timeRange(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	samples := h.hist.Resources(profileID, limit, from, to)
	c.JSON(http.StatusOK, gin.H{"samples": samples, "count": len(samples)})
}

// GetNetwork returns a current network sample for the running worker.
func (h *Handlers) GetNetwork(c *gin.Context) {
	profileID := c.Param("id")

	handle, ok := h.sup.Handle(profileID)
	if !ok {
		c.JSON(http.StatusConflict, gin.H{"error": "profile is not running"})
		return
	}

	sample, err := h.smp.SampleNetwork(c.Request.Context(), handle.PID, profileID)
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "sample unavailable"})
		return
	}
	c.JSON(http.StatusOK, sample)
}

// CheckHealth runs an on-demand health evaluation.
func (h *Handlers) CheckHealth(c *gin.Context) {
	check := h.checker.Check(c.Request.Context(), c.Param("id"), c.Query("user_id"))

	resp := gin.H{"check": check}
	if record, ok := h.restarts.Record(c.Param("id")); ok {
		resp["restarts"] = record
	}
	c.JSON(http.StatusOK, resp)
}

// GetAnalytics aggregates recorded samples into period buckets.
func (h *Handlers) GetAnalytics(c *gin.Context) {
	profileID := c.Param("id")

	period, err := history.ParsePeriod(c.DefaultQuery("period", "hour"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	from, to, err := timeRange(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	samples := h.hist.Resources(profileID, 0, from, to)
	buckets := history.Aggregate(samples, period)
	c.JSON(http.StatusOK, gin.H{
		"period":  string(period),
		"buckets": buckets,
		"count":   len(buckets),
	})
}

// GetAlerts lists recorded alerts for the profile, newest last.
func (h *Handlers) GetAlerts(c *gin.Context) {
	alerts := h.hist.Alerts(c.Param("id"), intQuery(c, "limit", 50))
	c.JSON(http.StatusOK, gin.H{"alerts": alerts, "count": len(alerts)})
}

// MarkAlertRead flags one alert as read.
func (h *Handlers) MarkAlertRead(c *gin.Context) {
	if err := utils.ValidateAlertID(c.Param("alertId")); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if !h.hist.MarkAlertRead(c.Param("id"), c.Param("alertId")) {
		c.JSON(http.StatusNotFound, gin.H{"error": "alert not found"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "read"})
}

// lifecycleError maps core errors to HTTP statuses.
func (h *Handlers) lifecycleError(c *gin.Context, err error) {
	var launchErr *supervisor.LaunchError

	switch {
	case errors.Is(err, store.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "profile not found"})
	case errors.Is(err, orchestrator.ErrNotOwned):
		c.JSON(http.StatusForbidden, gin.H{"error": "profile not owned by user"})
	case errors.Is(err, orchestrator.ErrAlreadyInProgress):
		c.JSON(http.StatusConflict, gin.H{"error": "start already in progress"})
	case errors.Is(err, orchestrator.ErrConflictingOperation):
		c.JSON(http.StatusConflict, gin.H{"error": "conflicting operation in progress"})
	case errors.As(err, &launchErr):
		c.JSON(http.StatusBadGateway, gin.H{
			"error":  "worker launch failed",
			"reason": launchErr.Reason,
		})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}

// requestIDs pulls and validates the profile and user identifiers.
// Aborts the request with a 400 when either is malformed.
func (h *Handlers) requestIDs(c *gin.Context) (profileID, userID string, ok bool) {
	profileID = c.Param("id")
	userID = c.Query("user_id")

	if err := utils.ValidateProfileID(profileID); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return "", "", false
	}
	if err := utils.ValidateUserID(userID); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return "", "", false
	}
	return profileID, userID, true
}

func intQuery(c *gin.Context, name string, fallback int) int {
	raw := c.Query(name)
	if raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return fallback
	}
	return n
}

// timeRange parses optional RFC 3339 from/to query parameters.
func timeRange(c *gin.Context) (*time.Time, *time.Time, error) {
	parse := func(name string) (*time.Time, error) {
		raw := c.Query(name)
		if raw == "" {
			return nil, nil
		}
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return nil, errors.New("invalid " + name + " timestamp, want RFC 3339")
		}
		return &t, nil
	}

	from, err := parse("from")
	if err != nil {
		return nil, nil, err
	}
	to, err := parse("to")
	if err != nil {
		return nil, nil, err
	}
	return from, to, nil
}
