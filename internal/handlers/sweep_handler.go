package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/driveshare/reservation-backend/internal/services"
)

// SweepHandler exposes the sweeps for manual triggering by operators
type SweepHandler struct {
	sweepSvc *services.SweepService
	cronSvc  *services.CronService
	logger   *logrus.Logger
}

// NewSweepHandler creates a new SweepHandler
func NewSweepHandler(sweepSvc *services.SweepService, cronSvc *services.CronService, logger *logrus.Logger) *SweepHandler {
	return &SweepHandler{
		sweepSvc: sweepSvc,
		cronSvc:  cronSvc,
		logger:   logger,
	}
}

// RunCompletedSweep runs the completed sweep immediately
// @Summary Run the completed sweep
// @Tags Operations
// @Produce json
// @Success 200 {object} map[string]interface{}
// @Security BearerAuth
// @Router /internal/sweeps/completed [post]
func (h *SweepHandler) RunCompletedSweep(c *gin.Context) {
	count, err := h.sweepSvc.SweepCompleted(c.Request.Context())
	if err != nil {
		h.logger.WithError(err).Error("Manual completed sweep failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Sweep failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"completed": count})
}

// RunPendingReconcile runs the pending reconciliation immediately
// @Summary Run the pending reconciliation
// @Tags Operations
// @Produce json
// @Success 200 {object} map[string]interface{}
// @Security BearerAuth
// @Router /internal/sweeps/pending [post]
func (h *SweepHandler) RunPendingReconcile(c *gin.Context) {
	count, err := h.sweepSvc.ReconcilePending(c.Request.Context())
	if err != nil {
		h.logger.WithError(err).Error("Manual pending reconciliation failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Reconciliation failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"changed": count})
}

// JobStatus reports the cron scheduler state
// @Summary Sweep scheduler status
// @Tags Operations
// @Produce json
// @Success 200 {object} map[string]interface{}
// @Security BearerAuth
// @Router /internal/sweeps/status [get]
func (h *SweepHandler) JobStatus(c *gin.Context) {
	if h.cronSvc == nil {
		c.JSON(http.StatusOK, gin.H{"running": false, "job_count": 0})
		return
	}
	c.JSON(http.StatusOK, h.cronSvc.JobStatus())
}
