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
	pkghttp "github.com/pchan-tw/campusauth/pkg/http"
)

func TestPasswordResetHandler_Forgot_AlwaysAccepted(t *testing.T) {
	h := NewPasswordResetHandler(&MockPasswordResetService{}, &pkghttp.IPConfig{})

	req := httptest.NewRequest("POST", "/password/forgot", strings.NewReader(`{"email":"whoever@o365.ttu.edu.tw"}`))
	w := httptest.NewRecorder()
	h.Forgot(w, req)

	assert.Equal(t, 202, w.Code)
}

func TestPasswordResetHandler_Reset_Success(t *testing.T) {
	var gotToken string
	svc := &MockPasswordResetService{
		ResetPasswordFunc: func(ctx context.Context, token, password, passwordConfirm, ip string) error {
			gotToken = token
			return nil
		},
	}
	h := NewPasswordResetHandler(svc, &pkghttp.IPConfig{})

	body := `{"token":"sometoken","password":"new-password-1","password_confirm":"new-password-1"}`
	req := httptest.NewRequest("POST", "/password/reset", strings.NewReader(body))
	w := httptest.NewRecorder()
	h.Reset(w, req)

	assert.Equal(t, 200, w.Code)
	assert.Equal(t, "sometoken", gotToken)
}

func TestPasswordResetHandler_Reset_TokenFailuresLookAlike(t *testing.T) {
	for _, serr := range []error{models.ErrTokenMalformed, models.ErrNotFound, models.ErrTokenUsed, models.ErrTokenExpired} {
		svc := &MockPasswordResetService{
			ResetPasswordFunc: func(ctx context.Context, token, password, passwordConfirm, ip string) error {
				return serr
			},
		}
		h := NewPasswordResetHandler(svc, &pkghttp.IPConfig{})

		body := `{"token":"sometoken","password":"new-password-1","password_confirm":"new-password-1"}`
		req := httptest.NewRequest("POST", "/password/reset", strings.NewReader(body))
		w := httptest.NewRecorder()
		h.Reset(w, req)

		assert.Equal(t, 400, w.Code, "error %v", serr)
		var resp pkghttp.ErrorResponse
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		assert.Equal(t, invalidLinkMessage, resp.Message, "error %v", serr)
	}
}

func TestPasswordResetHandler_Reset_PolicyFailure(t *testing.T) {
	svc := &MockPasswordResetService{
		ResetPasswordFunc: func(ctx context.Context, token, password, passwordConfirm, ip string) error {
			return models.ErrBadRequest
		},
	}
	h := NewPasswordResetHandler(svc, &pkghttp.IPConfig{})

	body := `{"token":"sometoken","password":"short","password_confirm":"short"}`
	req := httptest.NewRequest("POST", "/password/reset", strings.NewReader(body))
	w := httptest.NewRecorder()
	h.Reset(w, req)

	assert.Equal(t, 400, w.Code)
}
