package handlers

import (
	"encoding/base64"
	"encoding/json"
	"net/http"
	"time"

	qrcode "github.com/skip2/go-qrcode"

	"github.com/pchan-tw/campusauth/internal/models"
)

// UserResponse represents a user in HTTP responses. Risk flags stay
// server-side.
type UserResponse struct {
	ID          string `json:"id"`
	Email       string `json:"email"`
	Name        string `json:"name"`
	AccountType string `json:"account_type"`
	SchoolName  string `json:"school_name,omitempty"`
	StudentID   string `json:"student_id,omitempty"`
	CreatedAt   string `json:"created_at"`
}

func userModelToResponse(user *models.User) *UserResponse {
	return &UserResponse{
		ID:          user.ID,
		Email:       user.Email,
		Name:        user.Name,
		AccountType: user.AccountType,
		SchoolName:  user.SchoolName,
		StudentID:   user.StudentID,
		CreatedAt:   user.CreatedAt.Format(time.RFC3339),
	}
}

func writeJSON(w http.ResponseWriter, statusCode int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(v)
}

// qrDataURL renders an otpauth URI as an inline PNG for the setup pages.
func qrDataURL(uri string) (string, error) {
	png, err := qrcode.Encode(uri, qrcode.Medium, 256)
	if err != nil {
		return "", err
	}
	return "data:image/png;base64," + base64.StdEncoding.EncodeToString(png), nil
}
