package handlers

import (
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/driveshare/reservation-backend/internal/models"
	"github.com/driveshare/reservation-backend/internal/services"
)

// maxWebhookBody bounds provider callback payloads
const maxWebhookBody = 1 << 20

// WebhookHandler receives payment provider callbacks
type WebhookHandler struct {
	webhookSvc *services.WebhookService
	logger     *logrus.Logger
}

// NewWebhookHandler creates a new WebhookHandler
func NewWebhookHandler(webhookSvc *services.WebhookService, logger *logrus.Logger) *WebhookHandler {
	return &WebhookHandler{
		webhookSvc: webhookSvc,
		logger:     logger,
	}
}

// HandleCallback processes a provider webhook delivery
// @Summary Payment provider webhook
// @Description Verifies and reconciles an asynchronous payment notification. Duplicate deliveries are acknowledged without effect.
// @Tags Payments
// @Accept json
// @Produce json
// @Param provider path string true "Provider id (stripe or paypal)"
// @Success 200 {object} map[string]interface{} "Acknowledged"
// @Failure 400 {object} map[string]interface{} "Signature verification failed"
// @Failure 404 {object} map[string]interface{} "Unknown provider"
// @Router /api/v1/payments/{provider}/webhook [post]
func (h *WebhookHandler) HandleCallback(c *gin.Context) {
	provider := c.Param("provider")

	// signature verification needs the raw bytes, not a decoded form
	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxWebhookBody))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Failed to read request body"})
		return
	}

	outcome, err := h.webhookSvc.HandleCallback(c.Request.Context(), provider, body, c.Request.Header)
	if err != nil {
		switch {
		case errors.Is(err, models.ErrUnknownProvider):
			c.JSON(http.StatusNotFound, gin.H{"error": "Unknown payment provider"})
		case errors.Is(err, models.ErrInvalidSignature):
			h.logger.WithFields(logrus.Fields{
				"provider": provider,
				"ip":       c.ClientIP(),
			}).Warn("Webhook signature verification failed")
			c.JSON(http.StatusBadRequest, gin.H{"error": "Signature verification failed"})
		default:
			// transient failure, a non-2xx makes the provider redeliver
			h.logger.WithField("provider", provider).WithError(err).Error("Webhook processing failed")
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Processing failed"})
		}
		return
	}

	c.JSON(http.StatusOK, gin.H{"received": true, "outcome": string(outcome)})
}
