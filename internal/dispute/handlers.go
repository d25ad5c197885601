package dispute

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/Adam-Maverick/perks-app-sub000/internal/escrow"
	"github.com/Adam-Maverick/perks-app-sub000/internal/pagination"
	"github.com/Adam-Maverick/perks-app-sub000/internal/payments"
)

// Handler provides HTTP endpoints for the dispute workflow
type Handler struct {
	service *Service
}

// NewHandler creates a new dispute handler
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// RegisterRoutes sets up dispute routes
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.POST("/disputes", h.Open)
	r.GET("/disputes", h.List)
	r.GET("/disputes/:disputeId", h.Get)
	r.POST("/disputes/:disputeId/review", h.Review)
	r.POST("/disputes/:disputeId/resolve", h.Resolve)
}

// OpenRequest opens a dispute against a hold
type OpenRequest struct {
	HoldID   string   `json:"holdId" binding:"required"`
	UserID   string   `json:"userId" binding:"required"`
	Reason   string   `json:"reason" binding:"required"`
	Evidence []string `json:"evidence"`
}

// Open handles POST /disputes
func (h *Handler) Open(c *gin.Context) {
	var req OpenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Invalid request body",
		})
		return
	}

	d, err := h.service.Open(c.Request.Context(), req.HoldID, req.UserID, req.Reason, req.Evidence)
	if err != nil {
		status, code := openErrorStatus(err)
		c.JSON(status, gin.H{"error": code, "message": err.Error()})
		return
	}

	c.JSON(http.StatusCreated, gin.H{"dispute": d})
}

func openErrorStatus(err error) (int, string) {
	var invalid *escrow.InvalidTransitionError
	switch {
	case errors.Is(err, escrow.ErrHoldNotFound),
		errors.Is(err, payments.ErrTransactionNotFound):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, ErrNotHoldOwner):
		return http.StatusForbidden, "not_owner"
	case errors.Is(err, ErrDisputeExists):
		return http.StatusConflict, "dispute_exists"
	case errors.As(err, &invalid):
		return http.StatusConflict, "invalid_state"
	default:
		return http.StatusInternalServerError, "open_failed"
	}
}

// List handles GET /disputes?status=PENDING&limit=50&cursor=...
func (h *Handler) List(c *gin.Context) {
	var query struct {
		Status string `form:"status"`
		Cursor string `form:"cursor"`
		Limit  int    `form:"limit,default=50"`
	}
	if err := c.ShouldBindQuery(&query); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Invalid query parameters",
		})
		return
	}

	disputes, next, err := h.service.List(c.Request.Context(), Status(query.Status), query.Cursor, query.Limit)
	if err != nil {
		if errors.Is(err, pagination.ErrInvalidCursor) {
			c.JSON(http.StatusBadRequest, gin.H{
				"error":   "invalid_cursor",
				"message": "Invalid cursor",
			})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "list_failed",
			"message": "Failed to list disputes",
		})
		return
	}

	resp := gin.H{"disputes": disputes, "count": len(disputes)}
	if next != "" {
		resp["nextCursor"] = next
	}
	c.JSON(http.StatusOK, resp)
}

// Get handles GET /disputes/:disputeId
func (h *Handler) Get(c *gin.Context) {
	d, err := h.service.Get(c.Request.Context(), c.Param("disputeId"))
	if err != nil {
		if errors.Is(err, ErrDisputeNotFound) {
			c.JSON(http.StatusNotFound, gin.H{
				"error":   "not_found",
				"message": "Dispute not found",
			})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "get_failed",
			"message": "Failed to load dispute",
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{"dispute": d})
}

// ReviewRequest marks a dispute under review
type ReviewRequest struct {
	ReviewerID string `json:"reviewerId" binding:"required"`
}

// Review handles POST /disputes/:disputeId/review
func (h *Handler) Review(c *gin.Context) {
	var req ReviewRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Invalid request body",
		})
		return
	}

	d, err := h.service.Review(c.Request.Context(), c.Param("disputeId"), req.ReviewerID)
	if err != nil {
		switch {
		case errors.Is(err, ErrDisputeNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": "not_found", "message": "Dispute not found"})
		case errors.Is(err, ErrAlreadyResolved):
			c.JSON(http.StatusConflict, gin.H{"error": "already_resolved", "message": err.Error()})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{"error": "review_failed", "message": "Failed to update dispute"})
		}
		return
	}

	c.JSON(http.StatusOK, gin.H{"dispute": d})
}

// ResolveRequest closes a dispute in one party's favor
type ResolveRequest struct {
	ResolverID string `json:"resolverId" binding:"required"`
	Favor      string `json:"favor" binding:"required"`
	Notes      string `json:"notes"`
}

// Resolve handles POST /disputes/:disputeId/resolve
func (h *Handler) Resolve(c *gin.Context) {
	var req ResolveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Invalid request body",
		})
		return
	}

	d, err := h.service.Resolve(c.Request.Context(), c.Param("disputeId"), req.ResolverID, Favor(req.Favor), req.Notes)
	if err != nil {
		var settleErr *SettlementError
		var invalid *escrow.InvalidTransitionError
		switch {
		case errors.As(err, &settleErr):
			// The hold moved but no money did; the dispute stays open
			// and the resolve call can be retried safely.
			c.JSON(http.StatusBadGateway, gin.H{
				"error":      "settlement_failed",
				"message":    "Gateway settlement failed, retry the resolution",
				"dispute":    d,
				"settlement": "failed",
			})
		case errors.Is(err, ErrDisputeNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": "not_found", "message": "Dispute not found"})
		case errors.Is(err, ErrAlreadyResolved):
			c.JSON(http.StatusConflict, gin.H{"error": "already_resolved", "message": err.Error()})
		case errors.Is(err, ErrInvalidFavor):
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_favor", "message": err.Error()})
		case errors.As(err, &invalid):
			c.JSON(http.StatusConflict, gin.H{"error": "invalid_state", "message": err.Error()})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{"error": "resolve_failed", "message": "Failed to resolve dispute"})
		}
		return
	}

	c.JSON(http.StatusOK, gin.H{"dispute": d, "settlement": "completed"})
}
