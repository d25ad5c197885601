package release

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/Adam-Maverick/perks-app-sub000/internal/escrow"
	"github.com/Adam-Maverick/perks-app-sub000/internal/payments"
)

// Handler provides the manual release endpoint
type Handler struct {
	releaser *Releaser
}

// NewHandler creates a new release handler
func NewHandler(releaser *Releaser) *Handler {
	return &Handler{releaser: releaser}
}

// RegisterRoutes sets up release routes
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.POST("/holds/:holdId/release", h.Release)
}

// ReleaseRequest confirms receipt and releases the hold
type ReleaseRequest struct {
	ActorID string `json:"actorId" binding:"required"`
	Reason  string `json:"reason" binding:"required"`
}

// Release handles POST /holds/:holdId/release
func (h *Handler) Release(c *gin.Context) {
	var req ReleaseRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Invalid request body",
		})
		return
	}

	hold, err := h.releaser.Release(c.Request.Context(), c.Param("holdId"), req.ActorID, req.Reason, false)
	if err != nil {
		var settleErr *SettlementError
		var invalid *escrow.InvalidTransitionError
		switch {
		case errors.As(err, &settleErr):
			// Hold is RELEASED; the payout is pending operator retry.
			c.JSON(http.StatusBadGateway, gin.H{
				"error":      "settlement_pending",
				"message":    err.Error(),
				"hold":       hold,
				"settlement": "pending",
			})
		case errors.Is(err, escrow.ErrHoldNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": "not_found", "message": "Hold not found"})
		case errors.Is(err, ErrHoldNotReleasable), errors.As(err, &invalid):
			c.JSON(http.StatusConflict, gin.H{"error": "invalid_state", "message": err.Error()})
		case errors.Is(err, payments.ErrMerchantNotFound):
			c.JSON(http.StatusConflict, gin.H{"error": "no_merchant", "message": "Merchant has no settlement details"})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{"error": "release_failed", "message": err.Error()})
		}
		return
	}

	c.JSON(http.StatusOK, gin.H{"hold": hold})
}
