package handler

import (
	"errors"
	"io"
	"net/http"

	"github.com/fundaciontea/donations-api/internal/mercadopago"
	"github.com/fundaciontea/donations-api/internal/service"
	"go.uber.org/zap"
)

// WebhookHandler receives payment notifications from MercadoPago.
type WebhookHandler struct {
	webhookSvc *service.WebhookService
}

func NewWebhookHandler(webhookSvc *service.WebhookService) *WebhookHandler {
	return &WebhookHandler{webhookSvc: webhookSvc}
}

// HandleMercadoPago handles POST /v1/webhooks/mercadopago.
//
// The contract with the processor is: 401 only for a bad signature, 2xx for
// everything else. Internal failures are journaled and retried by the sweep,
// so surfacing them as 5xx would only provoke duplicate deliveries of
// notifications idempotency already absorbs.
func (h *WebhookHandler) HandleMercadoPago(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		zap.L().Error("read webhook body failed", zap.Error(err))
		RespondError(w, r, http.StatusBadRequest, "webhook/unreadable-body", "Failed to read request body")
		return
	}

	signature := r.Header.Get(mercadopago.SignatureHeader)
	requestID := r.Header.Get(mercadopago.RequestIDHeader)

	result, err := h.webhookSvc.HandleNotification(r.Context(), body, signature, requestID, r.URL.Query())
	if err != nil {
		if errors.Is(err, service.ErrInvalidSignature) {
			RespondError(w, r, http.StatusUnauthorized, "webhook/invalid-signature", "Invalid signature")
			return
		}
		zap.L().Error("webhook processing failed", zap.Error(err))
		RespondError(w, r, http.StatusBadRequest, "webhook/processing-failed", "Failed to process notification")
		return
	}

	RespondJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"outcome": result.Outcome,
	})
}
