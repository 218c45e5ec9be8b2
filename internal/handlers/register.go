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

// RegistrationServiceInterface defines the interface for account creation
type RegistrationServiceInterface interface {
	Register(ctx context.Context, input services.RegisterInput, ip, userAgent string) (*models.User, error)
}

// RegisterHandler handles account registration
type RegisterHandler struct {
	service  RegistrationServiceInterface
	ipConfig *pkghttp.IPConfig
}

// NewRegisterHandler creates a new RegisterHandler
func NewRegisterHandler(service RegistrationServiceInterface, ipConfig *pkghttp.IPConfig) *RegisterHandler {
	return &RegisterHandler{
		service:  service,
		ipConfig: ipConfig,
	}
}

// RegisterRequest represents the request body for registration
type RegisterRequest struct {
	Email           string `json:"email" validate:"required,email"`
	Name            string `json:"name" validate:"required,min=1,max=100"`
	Password        string `json:"password" validate:"required"`
	PasswordConfirm string `json:"password_confirm" validate:"required"`
	AccountType     string `json:"account_type" validate:"omitempty,oneof=local cross"`
	SchoolName      string `json:"school_name" validate:"omitempty,max=200"`
	StudentID       string `json:"student_id" validate:"omitempty,max=20"`
}

// RegisterResponse wraps the created account
type RegisterResponse struct {
	User    *UserResponse `json:"user"`
	Message string        `json:"message"`
}

// Register handles account creation
// @Router /register [post]
func (h *RegisterHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req RegisterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		pkghttp.WriteBadRequest(w, "Invalid request body")
		return
	}
	if err := ValidateRequest(req); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}

	ip := pkghttp.ExtractClientIP(r, h.ipConfig)
	user, err := h.service.Register(r.Context(), services.RegisterInput{
		Email:           req.Email,
		Name:            req.Name,
		Password:        req.Password,
		PasswordConfirm: req.PasswordConfirm,
		AccountType:     req.AccountType,
		SchoolName:      req.SchoolName,
		StudentID:       req.StudentID,
	}, ip, r.UserAgent())
	if err != nil {
		switch {
		case errors.Is(err, models.ErrConflict):
			pkghttp.WriteConflict(w, "Email already registered")
		case errors.Is(err, models.ErrBadRequest):
			pkghttp.WriteBadRequest(w, "Invalid registration details")
		default:
			pkghttp.WriteInternalError(w, "Something went wrong")
		}
		return
	}

	writeJSON(w, http.StatusCreated, RegisterResponse{
		User:    userModelToResponse(user),
		Message: "Account created. Check your email for the authenticator setup link.",
	})
}
