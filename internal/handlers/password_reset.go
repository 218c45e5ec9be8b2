package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/pchan-tw/campusauth/internal/models"
	pkghttp "github.com/pchan-tw/campusauth/pkg/http"
)

// PasswordResetServiceInterface defines the interface for password resets
type PasswordResetServiceInterface interface {
	RequestReset(ctx context.Context, email, ip, userAgent string) error
	ResetPassword(ctx context.Context, token, password, passwordConfirm, ip string) error
}

// PasswordResetHandler handles the forgot/reset flow
type PasswordResetHandler struct {
	service  PasswordResetServiceInterface
	ipConfig *pkghttp.IPConfig
}

// NewPasswordResetHandler creates a new PasswordResetHandler
func NewPasswordResetHandler(service PasswordResetServiceInterface, ipConfig *pkghttp.IPConfig) *PasswordResetHandler {
	return &PasswordResetHandler{
		service:  service,
		ipConfig: ipConfig,
	}
}

// ForgotPasswordRequest represents the request body for requesting a reset
type ForgotPasswordRequest struct {
	Email string `json:"email" validate:"required,email"`
}

// ResetPasswordRequest represents the request body for redeeming a reset
type ResetPasswordRequest struct {
	Token           string `json:"token" validate:"required"`
	Password        string `json:"password" validate:"required"`
	PasswordConfirm string `json:"password_confirm" validate:"required"`
}

// Forgot issues a reset link
// @Router /password/forgot [post]
func (h *PasswordResetHandler) Forgot(w http.ResponseWriter, r *http.Request) {
	var req ForgotPasswordRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		pkghttp.WriteBadRequest(w, "Invalid request body")
		return
	}
	if err := ValidateRequest(req); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}

	ip := pkghttp.ExtractClientIP(r, h.ipConfig)
	if err := h.service.RequestReset(r.Context(), req.Email, ip, r.UserAgent()); err != nil {
		pkghttp.WriteInternalError(w, "Something went wrong")
		return
	}

	// Same answer whether or not the account exists.
	writeJSON(w, http.StatusAccepted, MessageResponse{Message: "If the account exists, a reset link is on its way."})
}

// Reset redeems a reset link
// @Router /password/reset [post]
func (h *PasswordResetHandler) Reset(w http.ResponseWriter, r *http.Request) {
	var req ResetPasswordRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		pkghttp.WriteBadRequest(w, "Invalid request body")
		return
	}
	if err := ValidateRequest(req); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}

	ip := pkghttp.ExtractClientIP(r, h.ipConfig)
	err := h.service.ResetPassword(r.Context(), req.Token, req.Password, req.PasswordConfirm, ip)
	if err != nil {
		switch {
		case isTokenFailure(err):
			pkghttp.WriteBadRequest(w, invalidLinkMessage)
		case errors.Is(err, models.ErrBadRequest):
			pkghttp.WriteBadRequest(w, "Passwords must match and be at least 8 characters")
		default:
			pkghttp.WriteInternalError(w, "Something went wrong")
		}
		return
	}

	writeJSON(w, http.StatusOK, MessageResponse{Message: "Password updated. You can sign in now."})
}
