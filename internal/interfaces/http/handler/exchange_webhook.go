package handler

import (
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	invoicingapp "github.com/fatturino/backend/internal/application/invoicing"
	"github.com/fatturino/backend/internal/infrastructure/logger"
	"github.com/fatturino/backend/internal/infrastructure/telemetry"
)

// ExchangeWebhookHandler receives outcome notifications pushed by the
// exchange system. The exchange retries any non-200 response, so the
// endpoint acknowledges every delivery it managed to read; processing
// failures are logged and surfaced through alerts instead.
type ExchangeWebhookHandler struct {
	BaseHandler
	notificationService *invoicingapp.ExchangeNotificationService
	metrics             *telemetry.BusinessMetrics
	auth                gin.HandlerFunc
}

// NewExchangeWebhookHandler creates a new ExchangeWebhookHandler. The
// auth middleware guards the webhook group; metrics may be nil when
// telemetry is disabled.
func NewExchangeWebhookHandler(notificationService *invoicingapp.ExchangeNotificationService, auth gin.HandlerFunc, metrics *telemetry.BusinessMetrics) *ExchangeWebhookHandler {
	return &ExchangeWebhookHandler{
		notificationService: notificationService,
		metrics:             metrics,
		auth:                auth,
	}
}

// RegisterRoutes registers webhook routes
func (h *ExchangeWebhookHandler) RegisterRoutes(rg *gin.RouterGroup) {
	webhooks := rg.Group("/webhooks")
	if h.auth != nil {
		webhooks.Use(h.auth)
	}
	webhooks.POST("/exchange", h.Receive)
}

// Receive processes one exchange notification and always acknowledges
// with 200 so the exchange does not redeliver. Malformed payloads are
// dropped, not rejected.
func (h *ExchangeWebhookHandler) Receive(c *gin.Context) {
	log := logger.FromContext(c.Request.Context())

	payload, err := io.ReadAll(c.Request.Body)
	if err != nil {
		log.Warn("Failed to read exchange notification body", zap.Error(err))
		c.JSON(http.StatusOK, gin.H{"message": "Ok"})
		return
	}

	result, err := h.notificationService.ProcessNotification(c.Request.Context(), payload)
	if err != nil {
		log.Error("Exchange notification processing failed", zap.Error(err))
		c.JSON(http.StatusOK, gin.H{"message": "Ok"})
		return
	}

	if h.metrics != nil {
		h.metrics.RecordNotification(c.Request.Context(), string(result.Outcome), notificationMetricResult(result))
		for i := 0; i < result.Conflicts; i++ {
			h.metrics.RecordNotificationConflict(c.Request.Context(), notificationDocumentType(result))
		}
	}

	c.JSON(http.StatusOK, gin.H{"message": "Ok"})
}

func notificationDocumentType(result *invoicingapp.NotificationResult) telemetry.DocumentType {
	if result.Entity == invoicingapp.EntityCreditNote {
		return telemetry.DocumentTypeCreditNote
	}
	return telemetry.DocumentTypeInvoice
}

func notificationMetricResult(result *invoicingapp.NotificationResult) telemetry.NotificationResult {
	switch {
	case result.Applied:
		return telemetry.NotificationResultApplied
	case result.Dropped && result.Entity == invoicingapp.EntityNone:
		return telemetry.NotificationResultUnmatched
	case result.Reason == "duplicate delivery":
		return telemetry.NotificationResultDuplicate
	default:
		return telemetry.NotificationResultIgnored
	}
}
