package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/pchan-tw/campusauth/internal/models"
	"github.com/pchan-tw/campusauth/internal/services"
	"github.com/pchan-tw/campusauth/internal/session"
	pkghttp "github.com/pchan-tw/campusauth/pkg/http"
)

// LoginServiceInterface defines the interface for the login sequence
type LoginServiceInterface interface {
	IdentifyEmail(ctx context.Context, st session.State, email string) (session.State, *models.User, error)
	IssueChallenge(st session.State) (session.State, string, error)
	VerifyPassword(ctx context.Context, st session.State, password, challenge, ip, userAgent string) (session.State, *models.User, error)
	VerifyTOTP(ctx context.Context, st session.State, code, ip, userAgent string) (session.State, error)
	BeginSetup(ctx context.Context, st session.State) (*services.SetupResponse, error)
	CompleteSetup(ctx context.Context, st session.State, code, ip, userAgent string) (session.State, error)
	ChangeAccount(st session.State) session.State
	Logout(st session.State)
	CurrentUser(ctx context.Context, st session.State) (*models.User, error)
	RecentActivity(ctx context.Context, st session.State, limit int) ([]*models.LoginLog, error)
}

// AuthHandler drives the login sequence over the signed session cookie:
// decode the caller's state, hand it to the service, re-issue whatever
// state comes back.
type AuthHandler struct {
	service  LoginServiceInterface
	codec    *session.Codec
	ipConfig *pkghttp.IPConfig
}

// NewAuthHandler creates a new AuthHandler
func NewAuthHandler(service LoginServiceInterface, codec *session.Codec, ipConfig *pkghttp.IPConfig) *AuthHandler {
	return &AuthHandler{
		service:  service,
		codec:    codec,
		ipConfig: ipConfig,
	}
}

// Request DTOs

// IdentifyRequest represents the request body for the email step
type IdentifyRequest struct {
	Email string `json:"email" validate:"required,email"`
}

// LoginRequest represents the request body for the password step
type LoginRequest struct {
	Password  string `json:"password" validate:"required"`
	Challenge string `json:"challenge" validate:"required,len=6"`
}

// TOTPRequest represents the request body for the second-factor step
type TOTPRequest struct {
	Code string `json:"code" validate:"required,len=6"`
}

// SetupCompleteRequest represents the request body for finishing setup
type SetupCompleteRequest struct {
	Code string `json:"code" validate:"required,len=6"`
}

// StateResponse tells the client which step comes next.
type StateResponse struct {
	Status string        `json:"status"`
	Name   string        `json:"name,omitempty"`
	User   *UserResponse `json:"user,omitempty"`
}

// ChallengeResponse carries a freshly issued challenge code.
type ChallengeResponse struct {
	Challenge string `json:"challenge"`
}

// ActivityEntry is one row of the account's login history.
type ActivityEntry struct {
	At        string `json:"at"`
	IP        string `json:"ip,omitempty"`
	UserAgent string `json:"user_agent,omitempty"`
	Success   bool   `json:"success"`
}

// ActivityResponse lists recent login attempts, newest first.
type ActivityResponse struct {
	Activity []ActivityEntry `json:"activity"`
}

// SetupPageResponse is the provisioning material for the forced setup page.
type SetupPageResponse struct {
	Account         string `json:"account"`
	Secret          string `json:"secret"`
	ProvisioningURI string `json:"provisioning_uri"`
	QRCode          string `json:"qr_code"`
}

// IdentifyEmail handles the first login step
// @Router /auth/email [post]
func (h *AuthHandler) IdentifyEmail(w http.ResponseWriter, r *http.Request) {
	var req IdentifyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		pkghttp.WriteBadRequest(w, "Invalid request body")
		return
	}
	if err := ValidateRequest(req); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}

	st := h.codec.FromRequest(r)
	next, user, err := h.service.IdentifyEmail(r.Context(), st, req.Email)
	if err != nil {
		switch {
		case errors.Is(err, models.ErrNotFound):
			pkghttp.WriteNotFound(w, "Account not found")
		case errors.Is(err, models.ErrInvalidState):
			pkghttp.WriteConflict(w, "Already signed in")
		case errors.Is(err, models.ErrBadRequest):
			pkghttp.WriteBadRequest(w, "Invalid email")
		default:
			pkghttp.WriteInternalError(w, "Something went wrong")
		}
		return
	}

	if err := h.codec.Write(w, next); err != nil {
		pkghttp.WriteInternalError(w, "Something went wrong")
		return
	}
	writeJSON(w, http.StatusOK, StateResponse{Status: string(next.Status), Name: user.Name})
}

// Challenge issues a fresh challenge code for the password step
// @Router /auth/challenge [get]
func (h *AuthHandler) Challenge(w http.ResponseWriter, r *http.Request) {
	st := h.codec.FromRequest(r)
	next, code, err := h.service.IssueChallenge(st)
	if err != nil {
		if errors.Is(err, models.ErrInvalidState) {
			pkghttp.WriteConflict(w, "Identify your account first")
			return
		}
		pkghttp.WriteInternalError(w, "Something went wrong")
		return
	}

	if err := h.codec.Write(w, next); err != nil {
		pkghttp.WriteInternalError(w, "Something went wrong")
		return
	}
	writeJSON(w, http.StatusOK, ChallengeResponse{Challenge: code})
}

// Login handles the password step
// @Router /auth/login [post]
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		pkghttp.WriteBadRequest(w, "Invalid request body")
		return
	}
	if err := ValidateRequest(req); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}

	st := h.codec.FromRequest(r)
	ip := pkghttp.ExtractClientIP(r, h.ipConfig)
	next, user, err := h.service.VerifyPassword(r.Context(), st, req.Password, req.Challenge, ip, r.UserAgent())

	// The successor state is written even on failure: a failed attempt
	// spends the challenge and the client must fetch a new one.
	if werr := h.codec.Write(w, next); werr != nil {
		pkghttp.WriteInternalError(w, "Something went wrong")
		return
	}

	if err != nil {
		switch {
		case errors.Is(err, models.ErrChallengeMismatch):
			pkghttp.WriteBadRequest(w, "Challenge code incorrect")
		case errors.Is(err, models.ErrUnauthorized):
			pkghttp.WriteUnauthorized(w, "Invalid credentials")
		case errors.Is(err, models.ErrInvalidState):
			pkghttp.WriteConflict(w, "Identify your account first")
		default:
			pkghttp.WriteInternalError(w, "Something went wrong")
		}
		return
	}

	resp := StateResponse{Status: string(next.Status)}
	if next.IsAuthenticated() {
		resp.User = userModelToResponse(user)
	}
	writeJSON(w, http.StatusOK, resp)
}

// TOTP handles the second-factor step
// @Router /auth/totp [post]
func (h *AuthHandler) TOTP(w http.ResponseWriter, r *http.Request) {
	var req TOTPRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		pkghttp.WriteBadRequest(w, "Invalid request body")
		return
	}
	if err := ValidateRequest(req); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}

	st := h.codec.FromRequest(r)
	ip := pkghttp.ExtractClientIP(r, h.ipConfig)
	next, err := h.service.VerifyTOTP(r.Context(), st, req.Code, ip, r.UserAgent())
	if err != nil {
		switch {
		case errors.Is(err, models.ErrUnauthorized):
			pkghttp.WriteUnauthorized(w, "Verification code incorrect")
		case errors.Is(err, models.ErrInvalidState):
			pkghttp.WriteConflict(w, "No second factor pending")
		default:
			pkghttp.WriteInternalError(w, "Something went wrong")
		}
		return
	}

	if err := h.codec.Write(w, next); err != nil {
		pkghttp.WriteInternalError(w, "Something went wrong")
		return
	}
	writeJSON(w, http.StatusOK, StateResponse{Status: string(next.Status)})
}

// SetupShow returns the provisioning material for forced first-login setup
// @Router /auth/setup [get]
func (h *AuthHandler) SetupShow(w http.ResponseWriter, r *http.Request) {
	st := h.codec.FromRequest(r)
	setup, err := h.service.BeginSetup(r.Context(), st)
	if err != nil {
		if errors.Is(err, models.ErrInvalidState) {
			pkghttp.WriteConflict(w, "No authenticator setup pending")
			return
		}
		pkghttp.WriteInternalError(w, "Something went wrong")
		return
	}

	qr, err := qrDataURL(setup.ProvisioningURI)
	if err != nil {
		pkghttp.WriteInternalError(w, "Something went wrong")
		return
	}
	writeJSON(w, http.StatusOK, SetupPageResponse{
		Account:         setup.Account,
		Secret:          setup.Secret,
		ProvisioningURI: setup.ProvisioningURI,
		QRCode:          qr,
	})
}

// SetupComplete verifies the first code and promotes the session
// @Router /auth/setup [post]
func (h *AuthHandler) SetupComplete(w http.ResponseWriter, r *http.Request) {
	var req SetupCompleteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		pkghttp.WriteBadRequest(w, "Invalid request body")
		return
	}
	if err := ValidateRequest(req); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}

	st := h.codec.FromRequest(r)
	ip := pkghttp.ExtractClientIP(r, h.ipConfig)
	next, err := h.service.CompleteSetup(r.Context(), st, req.Code, ip, r.UserAgent())
	if err != nil {
		switch {
		case errors.Is(err, models.ErrUnauthorized):
			pkghttp.WriteUnauthorized(w, "Verification code incorrect")
		case errors.Is(err, models.ErrInvalidState):
			pkghttp.WriteConflict(w, "No authenticator setup pending")
		default:
			pkghttp.WriteInternalError(w, "Something went wrong")
		}
		return
	}

	if err := h.codec.Write(w, next); err != nil {
		pkghttp.WriteInternalError(w, "Something went wrong")
		return
	}
	writeJSON(w, http.StatusOK, StateResponse{Status: string(next.Status)})
}

// ChangeAccount abandons the pending sequence
// @Router /auth/change-account [post]
func (h *AuthHandler) ChangeAccount(w http.ResponseWriter, r *http.Request) {
	st := h.codec.FromRequest(r)
	next := h.service.ChangeAccount(st)

	if err := h.codec.Write(w, next); err != nil {
		pkghttp.WriteInternalError(w, "Something went wrong")
		return
	}
	writeJSON(w, http.StatusOK, StateResponse{Status: string(next.Status)})
}

// Logout ends the session
// @Router /auth/logout [post]
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	h.service.Logout(h.codec.FromRequest(r))
	h.codec.Clear(w)
	w.WriteHeader(http.StatusNoContent)
}

// Me returns the account behind an authenticated session. Pending states
// get a 401 whose details name the step the client should resume at.
// @Router /auth/me [get]
func (h *AuthHandler) Me(w http.ResponseWriter, r *http.Request) {
	st := h.codec.FromRequest(r)
	user, err := h.service.CurrentUser(r.Context(), st)
	if err != nil {
		if errors.Is(err, models.ErrUnauthorized) {
			pkghttp.WriteErrorWithDetails(w, http.StatusUnauthorized, "unauthorized", "Login incomplete", string(st.Status))
			return
		}
		pkghttp.WriteInternalError(w, "Something went wrong")
		return
	}
	writeJSON(w, http.StatusOK, userModelToResponse(user))
}

// Activity returns the account's recent login attempts
// @Router /auth/activity [get]
func (h *AuthHandler) Activity(w http.ResponseWriter, r *http.Request) {
	st := h.codec.FromRequest(r)
	logs, err := h.service.RecentActivity(r.Context(), st, 20)
	if err != nil {
		if errors.Is(err, models.ErrUnauthorized) {
			pkghttp.WriteUnauthorized(w, "Login required")
			return
		}
		pkghttp.WriteInternalError(w, "Something went wrong")
		return
	}

	entries := make([]ActivityEntry, 0, len(logs))
	for _, l := range logs {
		entries = append(entries, ActivityEntry{
			At:        l.CreatedAt.Format(time.RFC3339),
			IP:        l.IP,
			UserAgent: l.UserAgent,
			Success:   l.Success,
		})
	}
	writeJSON(w, http.StatusOK, ActivityResponse{Activity: entries})
}
