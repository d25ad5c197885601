package notify

import (
	"crypto/rand"
	"encoding/hex"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/Adam-Maverick/perks-app-sub000/internal/idgen"
	"github.com/Adam-Maverick/perks-app-sub000/internal/security"
)

// Handler provides HTTP endpoints for notification subscription management
type Handler struct {
	store      Store
	dispatcher *Dispatcher
}

// NewHandler creates a new subscription handler
func NewHandler(store Store, dispatcher *Dispatcher) *Handler {
	return &Handler{
		store:      store,
		dispatcher: dispatcher,
	}
}

// RegisterRoutes sets up subscription routes
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.POST("/users/:userId/subscriptions", h.CreateSubscription)
	r.GET("/users/:userId/subscriptions", h.ListSubscriptions)
	r.DELETE("/users/:userId/subscriptions/:subscriptionId", h.DeleteSubscription)
}

// CreateSubscriptionRequest for creating a notification subscription
type CreateSubscriptionRequest struct {
	URL    string   `json:"url" binding:"required"`
	Events []string `json:"events" binding:"required"`
}

// CreateSubscription handles POST /users/:userId/subscriptions
func (h *Handler) CreateSubscription(c *gin.Context) {
	userID := c.Param("userId")

	var req CreateSubscriptionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Invalid request body",
		})
		return
	}

	// SSRF guard: subscription URLs are fetched server-side
	if err := security.ValidateEndpointURL(req.URL); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_url",
			"message": err.Error(),
		})
		return
	}

	events := make([]EventType, len(req.Events))
	for i, e := range req.Events {
		events[i] = EventType(e)
	}

	secret := generateSecret()

	sub := &Subscription{
		ID:        idgen.WithPrefix("sub_"),
		UserID:    userID,
		URL:       req.URL,
		Secret:    secret,
		Events:    events,
		Active:    true,
		CreatedAt: time.Now().UTC(),
	}

	if err := h.store.Create(c.Request.Context(), sub); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "create_failed",
			"message": "Failed to create subscription",
		})
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"subscription": sub,
		"secret":       secret, // Only shown once!
		"usage": gin.H{
			"signature": "Verify with HMAC-SHA256(payload, secret)",
			"header":    "X-Perks-Signature",
		},
	})
}

// ListSubscriptions handles GET /users/:userId/subscriptions
func (h *Handler) ListSubscriptions(c *gin.Context) {
	userID := c.Param("userId")

	subs, err := h.store.GetByUser(c.Request.Context(), userID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "list_failed",
			"message": "Failed to list subscriptions",
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"subscriptions": subs,
		"count":         len(subs),
	})
}

// DeleteSubscription handles DELETE /users/:userId/subscriptions/:subscriptionId
func (h *Handler) DeleteSubscription(c *gin.Context) {
	userID := c.Param("userId")
	subID := c.Param("subscriptionId")

	sub, err := h.store.Get(c.Request.Context(), subID)
	if err != nil || sub.UserID != userID {
		c.JSON(http.StatusNotFound, gin.H{
			"error":   "not_found",
			"message": "Subscription not found",
		})
		return
	}

	if err := h.store.Delete(c.Request.Context(), subID); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "delete_failed",
			"message": "Failed to delete subscription",
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "deleted"})
}

func generateSecret() string {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		panic("crypto/rand failed: " + err.Error())
	}
	return "whsec_" + hex.EncodeToString(b)
}
