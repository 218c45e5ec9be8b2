package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/pchan-tw/campusauth/internal/models"
	"github.com/pchan-tw/campusauth/internal/services"
	pkghttp "github.com/pchan-tw/campusauth/pkg/http"
)

// BindServiceInterface defines the interface for magic-link redemption
type BindServiceInterface interface {
	Redeem(ctx context.Context, token string) (*services.BindResponse, error)
	Confirm(ctx context.Context, token, code string) error
	Resend(ctx context.Context, email, ip, userAgent string) error
}

// BindHandler handles the emailed authenticator-binding flow. All token
// failures collapse into one message so the endpoint leaks nothing about
// why a link stopped working.
type BindHandler struct {
	service  BindServiceInterface
	ipConfig *pkghttp.IPConfig
}

// NewBindHandler creates a new BindHandler
func NewBindHandler(service BindServiceInterface, ipConfig *pkghttp.IPConfig) *BindHandler {
	return &BindHandler{
		service:  service,
		ipConfig: ipConfig,
	}
}

// BindConfirmRequest represents the request body for confirming a bind
type BindConfirmRequest struct {
	Token string `json:"token" validate:"required"`
	Code  string `json:"code" validate:"required,len=6"`
}

// BindResendRequest represents the request body for resending a bind link
type BindResendRequest struct {
	Email string `json:"email" validate:"required,email"`
}

// BindPageResponse is the provisioning material for the bind page
type BindPageResponse struct {
	Account         string `json:"account"`
	Secret          string `json:"secret"`
	ProvisioningURI string `json:"provisioning_uri"`
	QRCode          string `json:"qr_code"`
}

// MessageResponse is a plain confirmation message
type MessageResponse struct {
	Message string `json:"message"`
}

const invalidLinkMessage = "This link is invalid or has expired"

func isTokenFailure(err error) bool {
	return errors.Is(err, models.ErrTokenMalformed) ||
		errors.Is(err, models.ErrNotFound) ||
		errors.Is(err, models.ErrTokenUsed) ||
		errors.Is(err, models.ErrTokenExpired)
}

// Show redeems a bind link into provisioning material
// @Router /bind [get]
func (h *BindHandler) Show(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("token")

	resp, err := h.service.Redeem(r.Context(), token)
	if err != nil {
		if isTokenFailure(err) {
			pkghttp.WriteBadRequest(w, invalidLinkMessage)
			return
		}
		pkghttp.WriteInternalError(w, "Something went wrong")
		return
	}

	qr, err := qrDataURL(resp.ProvisioningURI)
	if err != nil {
		pkghttp.WriteInternalError(w, "Something went wrong")
		return
	}
	writeJSON(w, http.StatusOK, BindPageResponse{
		Account:         resp.Account,
		Secret:          resp.Secret,
		ProvisioningURI: resp.ProvisioningURI,
		QRCode:          qr,
	})
}

// Confirm checks the first code and consumes the link
// @Router /bind [post]
func (h *BindHandler) Confirm(w http.ResponseWriter, r *http.Request) {
	var req BindConfirmRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		pkghttp.WriteBadRequest(w, "Invalid request body")
		return
	}
	if err := ValidateRequest(req); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}

	if err := h.service.Confirm(r.Context(), req.Token, req.Code); err != nil {
		switch {
		case isTokenFailure(err):
			pkghttp.WriteBadRequest(w, invalidLinkMessage)
		case errors.Is(err, models.ErrUnauthorized):
			pkghttp.WriteUnauthorized(w, "Verification code incorrect")
		default:
			pkghttp.WriteInternalError(w, "Something went wrong")
		}
		return
	}

	writeJSON(w, http.StatusOK, MessageResponse{Message: "Authenticator bound. You can sign in now."})
}

// Resend issues a fresh bind link
// @Router /bind/resend [post]
func (h *BindHandler) Resend(w http.ResponseWriter, r *http.Request) {
	var req BindResendRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		pkghttp.WriteBadRequest(w, "Invalid request body")
		return
	}
	if err := ValidateRequest(req); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}

	ip := pkghttp.ExtractClientIP(r, h.ipConfig)
	if err := h.service.Resend(r.Context(), req.Email, ip, r.UserAgent()); err != nil {
		if errors.Is(err, models.ErrResendThrottled) {
			pkghttp.WriteTooManyRequests(w, "Please wait before requesting another link")
			return
		}
		pkghttp.WriteInternalError(w, "Something went wrong")
		return
	}

	// Same answer whether or not the account exists.
	writeJSON(w, http.StatusAccepted, MessageResponse{Message: "If the account exists, a new link is on its way."})
}
