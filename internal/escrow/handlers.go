package escrow

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
)

// Handler provides read endpoints for holds and their audit trails
type Handler struct {
	machine *Machine
}

// NewHandler creates a new escrow handler
func NewHandler(machine *Machine) *Handler {
	return &Handler{machine: machine}
}

// RegisterRoutes sets up hold read routes
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.GET("/holds/:holdId", h.GetHold)
	r.GET("/holds/:holdId/audit", h.GetAudit)
}

// GetHold handles GET /holds/:holdId
func (h *Handler) GetHold(c *gin.Context) {
	hold, err := h.machine.Get(c.Request.Context(), c.Param("holdId"))
	if err != nil {
		if errors.Is(err, ErrHoldNotFound) {
			c.JSON(http.StatusNotFound, gin.H{
				"error":   "not_found",
				"message": "Hold not found",
			})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "get_failed",
			"message": "Failed to load hold",
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{"hold": hold})
}

// GetAudit handles GET /holds/:holdId/audit?limit=100
func (h *Handler) GetAudit(c *gin.Context) {
	var query struct {
		Limit int `form:"limit,default=100"`
	}
	if err := c.ShouldBindQuery(&query); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Invalid query parameters",
		})
		return
	}

	entries, err := h.machine.AuditTrail(c.Request.Context(), c.Param("holdId"), query.Limit)
	if err != nil {
		if errors.Is(err, ErrHoldNotFound) {
			c.JSON(http.StatusNotFound, gin.H{
				"error":   "not_found",
				"message": "Hold not found",
			})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "audit_failed",
			"message": "Failed to load audit trail",
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{"audit": entries, "count": len(entries)})
}
