package handler

import (
	"errors"
	"net/http"

	"github.com/fundaciontea/donations-api/internal/service"
	"go.uber.org/zap"
)

// ConnectHandler drives the MercadoPago marketplace OAuth flow.
type ConnectHandler struct {
	svc *service.ConnectService
}

func NewConnectHandler(svc *service.ConnectService) *ConnectHandler {
	return &ConnectHandler{svc: svc}
}

// Authorize handles GET /v1/mercadopago/connect: it issues a state and
// redirects the admin to MercadoPago's authorization page.
func (h *ConnectHandler) Authorize(w http.ResponseWriter, r *http.Request) {
	authURL, err := h.svc.AuthorizeURL(r.Context())
	if err != nil {
		zap.L().Error("oauth authorize failed", zap.Error(err))
		RespondError(w, r, http.StatusInternalServerError, "connect/authorize-failed", "Failed to start authorization")
		return
	}
	http.Redirect(w, r, authURL, http.StatusFound)
}

// Callback handles GET /v1/mercadopago/callback with ?code=…&state=….
func (h *ConnectHandler) Callback(w http.ResponseWriter, r *http.Request) {
	code := r.URL.Query().Get("code")
	state := r.URL.Query().Get("state")

	creds, err := h.svc.Connect(r.Context(), code, state)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrMissingCode):
			RespondError(w, r, http.StatusBadRequest, "connect/missing-code", "Authorization code is required")
		case errors.Is(err, service.ErrInvalidState):
			RespondError(w, r, http.StatusBadRequest, "connect/invalid-state", "Invalid or expired state")
		default:
			zap.L().Error("oauth callback failed", zap.Error(err))
			RespondError(w, r, http.StatusBadGateway, "connect/exchange-failed", "Failed to connect account")
		}
		return
	}

	RespondJSON(w, http.StatusOK, map[string]any{
		"connected":  true,
		"mp_user_id": creds.MPUserID,
	})
}

// Status handles GET /v1/mercadopago/status for the admin dashboard.
func (h *ConnectHandler) Status(w http.ResponseWriter, r *http.Request) {
	status, err := h.svc.Status(r.Context())
	if err != nil {
		zap.L().Error("connection status failed", zap.Error(err))
		RespondError(w, r, http.StatusInternalServerError, "connect/status-failed", "Failed to read connection status")
		return
	}
	RespondJSON(w, http.StatusOK, status)
}
