package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/fundaciontea/donations-api/internal/api/middleware"
	"github.com/fundaciontea/donations-api/internal/service"
	"go.uber.org/zap"
)

// DonationHandler serves the public donation form endpoints and the admin
// listing.
type DonationHandler struct {
	svc *service.DonationService
}

func NewDonationHandler(svc *service.DonationService) *DonationHandler {
	return &DonationHandler{svc: svc}
}

// CreateCheckout handles POST /v1/donations. It validates the form payload
// and returns the MercadoPago checkout redirect.
func (h *DonationHandler) CreateCheckout(w http.ResponseWriter, r *http.Request) {
	var req service.CheckoutRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		RespondError(w, r, http.StatusBadRequest, "request/invalid-body", "Invalid request body")
		return
	}

	resp, err := h.svc.CreateCheckout(r.Context(), &req)
	if err != nil {
		if errors.Is(err, service.ErrValidation) {
			RespondError(w, r, http.StatusBadRequest, "donation/validation-failed", validationDetail(err))
			return
		}
		zap.L().Error("create checkout failed", zap.Error(err))
		RespondError(w, r, http.StatusBadGateway, "donation/checkout-failed", "Failed to create checkout")
		return
	}

	RespondJSON(w, http.StatusCreated, resp)
}

// Save handles POST /v1/donations/save, the best-effort client-side record
// the thank-you page sends.
func (h *DonationHandler) Save(w http.ResponseWriter, r *http.Request) {
	var req service.SaveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		RespondError(w, r, http.StatusBadRequest, "request/invalid-body", "Invalid request body")
		return
	}

	donation, created, err := h.svc.Save(r.Context(), &req)
	if err != nil {
		if errors.Is(err, service.ErrValidation) {
			RespondError(w, r, http.StatusBadRequest, "donation/validation-failed", validationDetail(err))
			return
		}
		if status, problemType, message, ok := mapDBError(err); ok {
			RespondError(w, r, status, problemType, message)
			return
		}
		zap.L().Error("save donation failed", zap.Error(err))
		RespondError(w, r, http.StatusInternalServerError, "donation/save-failed", "Failed to save donation")
		return
	}

	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	RespondJSON(w, status, map[string]any{
		"created":  created,
		"donation": donation,
	})
}

// Check handles GET /v1/donations/check?payment_id=…, which the thank-you
// page polls to decide whether it still needs to call Save.
func (h *DonationHandler) Check(w http.ResponseWriter, r *http.Request) {
	paymentID := strings.TrimSpace(r.URL.Query().Get("payment_id"))
	if paymentID == "" {
		RespondError(w, r, http.StatusBadRequest, "request/missing-payment-id", "payment_id is required")
		return
	}

	exists, err := h.svc.Exists(r.Context(), paymentID)
	if err != nil {
		zap.L().Error("donation check failed", zap.Error(err), zap.String("payment_id", paymentID))
		RespondError(w, r, http.StatusInternalServerError, "donation/check-failed", "Failed to check donation")
		return
	}

	RespondJSON(w, http.StatusOK, map[string]bool{"exists": exists})
}

// List handles GET /v1/admin/donations for the admin dashboard.
func (h *DonationHandler) List(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))

	donations, err := h.svc.List(r.Context(), limit, offset)
	if err != nil {
		zap.L().Error("list donations failed", zap.Error(err))
		RespondError(w, r, http.StatusInternalServerError, "donation/list-failed", "Failed to list donations")
		return
	}

	RespondJSON(w, http.StatusOK, map[string]any{"donations": donations})
}

// SendReminders handles POST /v1/admin/donations/reminders, the daily cron
// trigger that invites monthly donors to renew.
func (h *DonationHandler) SendReminders(w http.ResponseWriter, r *http.Request) {
	summary, err := h.svc.SendReminders(r.Context())
	if err != nil {
		zap.L().Error("send reminders failed", zap.Error(err))
		RespondError(w, r, http.StatusInternalServerError, "donation/reminders-failed", "Failed to send reminders")
		return
	}

	zap.L().Info("reminder pass triggered",
		zap.String("triggered_by", middleware.UserEmailFromContext(r.Context())),
		zap.Int("sent", summary.Sent))
	RespondJSON(w, http.StatusOK, summary)
}

// validationDetail strips the sentinel prefix so the client sees only the
// human-readable part.
func validationDetail(err error) string {
	detail := err.Error()
	if rest, found := strings.CutPrefix(detail, service.ErrValidation.Error()+": "); found {
		return rest
	}
	return detail
}
