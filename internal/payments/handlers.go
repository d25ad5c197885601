package payments

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/Adam-Maverick/perks-app-sub000/internal/idgen"
	"github.com/Adam-Maverick/perks-app-sub000/internal/settlement"
)

// Handler provides payment and merchant endpoints
type Handler struct {
	txns      Store
	merchants MerchantStore
	gateway   settlement.Gateway
}

// NewHandler creates a new payments handler
func NewHandler(txns Store, merchants MerchantStore, gateway settlement.Gateway) *Handler {
	return &Handler{txns: txns, merchants: merchants, gateway: gateway}
}

// RegisterRoutes sets up payment routes
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.POST("/payments/initialize", h.Initialize)
	r.GET("/payments/:transactionId", h.GetTransaction)
	r.GET("/payments/:transactionId/verify", h.Verify)
	r.PUT("/merchants/:merchantId", h.UpsertMerchant)
	r.GET("/merchants/:merchantId", h.GetMerchant)
}

// InitializeRequest starts a payment through the gateway
type InitializeRequest struct {
	UserID      string `json:"userId" binding:"required"`
	UserEmail   string `json:"userEmail" binding:"required,email"`
	MerchantID  string `json:"merchantId" binding:"required"`
	Amount      int64  `json:"amount" binding:"required,gt=0"`
	CallbackURL string `json:"callbackUrl" binding:"required,url"`
}

// Initialize handles POST /payments/initialize. It records a pending
// transaction and returns the gateway authorization URL; the hold is
// created later by the charge.success webhook, never here.
func (h *Handler) Initialize(c *gin.Context) {
	var req InitializeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Invalid request body",
		})
		return
	}

	if _, err := h.merchants.Get(c.Request.Context(), req.MerchantID); err != nil {
		if errors.Is(err, ErrMerchantNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "not_found", "message": "Merchant not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "initialize_failed", "message": "Failed to load merchant"})
		return
	}

	now := time.Now().UTC()
	txn := &Transaction{
		ID:                idgen.WithPrefix("txn_"),
		UserID:            req.UserID,
		UserEmail:         req.UserEmail,
		MerchantID:        req.MerchantID,
		Amount:            req.Amount,
		Status:            StatusPending,
		ExternalReference: idgen.WithPrefix("ref_"),
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	if err := h.txns.Create(c.Request.Context(), txn); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "initialize_failed",
			"message": "Failed to create transaction",
		})
		return
	}

	auth, err := h.gateway.InitializeTransaction(c.Request.Context(),
		req.UserEmail, req.Amount, txn.ExternalReference, req.CallbackURL)
	if err != nil {
		if serr := h.txns.SetStatus(c.Request.Context(), txn.ID, StatusFailed); serr == nil {
			txn.Status = StatusFailed
		}
		c.JSON(http.StatusBadGateway, gin.H{
			"error":   "gateway_failed",
			"message": "Payment gateway rejected the initialization",
		})
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"transaction":   txn,
		"authorization": auth,
	})
}

// GetTransaction handles GET /payments/:transactionId
func (h *Handler) GetTransaction(c *gin.Context) {
	txn, err := h.txns.Get(c.Request.Context(), c.Param("transactionId"))
	if err != nil {
		if errors.Is(err, ErrTransactionNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "not_found", "message": "Transaction not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "get_failed", "message": "Failed to load transaction"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"transaction": txn})
}

// Verify handles GET /payments/:transactionId/verify. It reports the
// gateway's view of the charge without touching local status; the
// webhook ingestor is the only writer of webhook-driven status.
func (h *Handler) Verify(c *gin.Context) {
	txn, err := h.txns.Get(c.Request.Context(), c.Param("transactionId"))
	if err != nil {
		if errors.Is(err, ErrTransactionNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "not_found", "message": "Transaction not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "verify_failed", "message": "Failed to load transaction"})
		return
	}

	v, err := h.gateway.VerifyTransaction(c.Request.Context(), txn.ExternalReference)
	if err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": "gateway_failed", "message": "Verification failed at the gateway"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"transaction":  txn,
		"verification": v,
	})
}

// UpsertMerchantRequest registers or updates a merchant's settlement details
type UpsertMerchantRequest struct {
	Name  string                 `json:"name" binding:"required"`
	Email string                 `json:"email" binding:"required,email"`
	Bank  settlement.BankDetails `json:"bank" binding:"required"`
}

// UpsertMerchant handles PUT /merchants/:merchantId
func (h *Handler) UpsertMerchant(c *gin.Context) {
	var req UpsertMerchantRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Invalid request body",
		})
		return
	}

	now := time.Now().UTC()
	m := &Merchant{
		ID:        c.Param("merchantId"),
		Name:      req.Name,
		Email:     req.Email,
		Bank:      req.Bank,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := h.merchants.Upsert(c.Request.Context(), m); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_bank_details",
			"message": err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{"merchant": m})
}

// GetMerchant handles GET /merchants/:merchantId
func (h *Handler) GetMerchant(c *gin.Context) {
	m, err := h.merchants.Get(c.Request.Context(), c.Param("merchantId"))
	if err != nil {
		if errors.Is(err, ErrMerchantNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "not_found", "message": "Merchant not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "get_failed", "message": "Failed to load merchant"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"merchant": m})
}
