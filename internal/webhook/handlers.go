package webhook

import (
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
)

// maxBodySize bounds webhook payloads; gateway events are small.
const maxBodySize = 1 << 20

// SignatureHeader carries the gateway's hex HMAC-SHA512 of the body.
const SignatureHeader = "x-paystack-signature"

// Handler provides the inbound webhook HTTP endpoint
type Handler struct {
	ingestor *Ingestor
}

// NewHandler creates a new webhook handler
func NewHandler(ingestor *Ingestor) *Handler {
	return &Handler{ingestor: ingestor}
}

// RegisterRoutes sets up webhook routes
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.POST("/webhooks/paystack", h.Receive)
}

// Receive handles POST /webhooks/paystack. The raw body must be read in
// full before verification; the signature covers every byte.
func (h *Handler) Receive(c *gin.Context) {
	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxBodySize))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_body",
			"message": "Failed to read request body",
		})
		return
	}

	signature := c.GetHeader(SignatureHeader)
	if signature == "" || !h.ingestor.VerifySignature(body, signature) {
		eventsRejected.Inc()
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_signature",
			"message": "Signature verification failed",
		})
		return
	}

	if err := h.ingestor.Process(c.Request.Context(), body); err != nil {
		// Unknown references are acknowledged so the gateway stops
		// redelivering an event we can never apply.
		if errors.Is(err, ErrUnknownReference) {
			c.JSON(http.StatusOK, gin.H{"status": "ignored"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "processing_failed",
			"message": "Event processing failed, delivery will be retried",
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
