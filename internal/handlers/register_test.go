package handlers

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pchan-tw/campusauth/internal/models"
	"github.com/pchan-tw/campusauth/internal/services"
	pkghttp "github.com/pchan-tw/campusauth/pkg/http"
)

func TestRegisterHandler_Register_Success(t *testing.T) {
	user := authTestUser()
	var gotInput services.RegisterInput
	svc := &MockRegistrationService{
		RegisterFunc: func(ctx context.Context, input services.RegisterInput, ip, ua string) (*models.User, error) {
			gotInput = input
			return user, nil
		},
	}
	h := NewRegisterHandler(svc, &pkghttp.IPConfig{})

	body := `{"email":"student@o365.ttu.edu.tw","name":"Student","password":"first-password","password_confirm":"first-password","account_type":"local","student_id":"B11201234"}`
	req := httptest.NewRequest("POST", "/register", strings.NewReader(body))
	w := httptest.NewRecorder()
	h.Register(w, req)

	require.Equal(t, 201, w.Code)
	assert.Equal(t, "B11201234", gotInput.StudentID)

	var resp RegisterResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, user.Email, resp.User.Email)
}

func TestRegisterHandler_Register_DuplicateEmail(t *testing.T) {
	svc := &MockRegistrationService{
		RegisterFunc: func(ctx context.Context, input services.RegisterInput, ip, ua string) (*models.User, error) {
			return nil, models.ErrConflict
		},
	}
	h := NewRegisterHandler(svc, &pkghttp.IPConfig{})

	body := `{"email":"student@o365.ttu.edu.tw","name":"Student","password":"first-password","password_confirm":"first-password"}`
	req := httptest.NewRequest("POST", "/register", strings.NewReader(body))
	w := httptest.NewRecorder()
	h.Register(w, req)

	assert.Equal(t, 409, w.Code)
}

func TestRegisterHandler_Register_BadAccountType(t *testing.T) {
	h := NewRegisterHandler(&MockRegistrationService{}, &pkghttp.IPConfig{})

	body := `{"email":"student@o365.ttu.edu.tw","name":"Student","password":"first-password","password_confirm":"first-password","account_type":"admin"}`
	req := httptest.NewRequest("POST", "/register", strings.NewReader(body))
	w := httptest.NewRecorder()
	h.Register(w, req)

	assert.Equal(t, 400, w.Code)
}
