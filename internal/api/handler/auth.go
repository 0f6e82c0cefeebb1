package handler

import (
	"crypto/subtle"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/fundaciontea/donations-api/internal/api/middleware"
	"github.com/fundaciontea/donations-api/internal/domain"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// AuthHandler issues admin tokens for the dashboard. The foundation has a
// handful of administrators, so access is a shared API key plus an email
// allow-list rather than a full user-management system.
type AuthHandler struct {
	apiKey      string
	adminEmails []string
}

func NewAuthHandler(apiKey string, adminEmails []string) *AuthHandler {
	return &AuthHandler{apiKey: apiKey, adminEmails: adminEmails}
}

// Login handles POST /v1/auth/login and exchanges the admin API key for a
// short-lived JWT.
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email  string `json:"email"`
		APIKey string `json:"api_key"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		RespondError(w, r, http.StatusBadRequest, "request/invalid-body", "Invalid request body")
		return
	}

	if h.apiKey == "" {
		RespondError(w, r, http.StatusForbidden, "auth/disabled", "Admin login is not configured")
		return
	}
	if subtle.ConstantTimeCompare([]byte(req.APIKey), []byte(h.apiKey)) != 1 || !h.isAdminEmail(req.Email) {
		RespondError(w, r, http.StatusUnauthorized, "auth/invalid-credentials", "Invalid credentials")
		return
	}

	userID := uuid.NewSHA1(uuid.NameSpaceURL, []byte("admin:"+strings.ToLower(req.Email)))
	now := time.Now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"user_id": userID.String(),
		"sub":     userID.String(),
		"email":   strings.ToLower(req.Email),
		"role":    domain.RoleAdmin,
		"iss":     middleware.JWTIssuer(),
		"aud":     middleware.JWTAudience(),
		"iat":     now.Unix(),
		"exp":     now.Add(12 * time.Hour).Unix(),
	})

	tokenString, err := token.SignedString(middleware.JWTSecret())
	if err != nil {
		zap.L().Error("sign admin token failed", zap.Error(err))
		RespondError(w, r, http.StatusInternalServerError, "auth/sign-failed", "Failed to sign token")
		return
	}

	RespondJSON(w, http.StatusOK, map[string]string{"token": tokenString})
}

func (h *AuthHandler) isAdminEmail(email string) bool {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" {
		return false
	}
	for _, admin := range h.adminEmails {
		if strings.ToLower(strings.TrimSpace(admin)) == email {
			return true
		}
	}
	return false
}
