package jobs

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
)

// Handler provides admin endpoints for scheduled jobs
type Handler struct {
	scheduler *Scheduler
	reconcile *Reconciliation
}

// NewHandler creates a new jobs handler
func NewHandler(scheduler *Scheduler, reconcile *Reconciliation) *Handler {
	return &Handler{scheduler: scheduler, reconcile: reconcile}
}

// RegisterRoutes sets up admin job routes
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.GET("/jobs", h.ListJobs)
	r.POST("/jobs/:name/run", h.RunJob)
	r.GET("/reconciliation", h.LastReconciliation)
}

// ListJobs handles GET /jobs
func (h *Handler) ListJobs(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"jobs": h.scheduler.Names()})
}

// RunJob handles POST /jobs/:name/run
func (h *Handler) RunJob(c *gin.Context) {
	report, err := h.scheduler.RunNow(c.Request.Context(), c.Param("name"))
	if err != nil {
		if errors.Is(err, ErrUnknownJob) {
			c.JSON(http.StatusNotFound, gin.H{
				"error":   "not_found",
				"message": err.Error(),
			})
			return
		}
		if errors.Is(err, ErrJobRunning) {
			c.JSON(http.StatusConflict, gin.H{
				"error":   "already_running",
				"message": err.Error(),
			})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "run_failed",
			"message": err.Error(),
			"report":  report,
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{"report": report})
}

// LastReconciliation handles GET /reconciliation
func (h *Handler) LastReconciliation(c *gin.Context) {
	report := h.reconcile.LastReport()
	if report == nil {
		c.JSON(http.StatusNotFound, gin.H{
			"error":   "no_report",
			"message": "No reconciliation run has completed yet",
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{"report": report})
}
