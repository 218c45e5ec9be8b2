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

func TestBindHandler_Show_Success(t *testing.T) {
	svc := &MockBindService{
		RedeemFunc: func(ctx context.Context, token string) (*services.BindResponse, error) {
			assert.Equal(t, "sometoken", token)
			return &services.BindResponse{
				Account:         "student@o365.ttu.edu.tw",
				Secret:          "JBSWY3DPEHPK3PXPJBSWY3DPEHPK3PXP",
				ProvisioningURI: "otpauth://totp/TTU-Auth:student@o365.ttu.edu.tw?secret=JBSWY3DPEHPK3PXPJBSWY3DPEHPK3PXP",
			}, nil
		},
	}
	h := NewBindHandler(svc, &pkghttp.IPConfig{})

	req := httptest.NewRequest("GET", "/bind?token=sometoken", nil)
	w := httptest.NewRecorder()
	h.Show(w, req)

	require.Equal(t, 200, w.Code)
	var resp BindPageResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "student@o365.ttu.edu.tw", resp.Account)
	assert.True(t, strings.HasPrefix(resp.QRCode, "data:image/png;base64,"))
}

func TestBindHandler_Show_AllTokenFailuresLookAlike(t *testing.T) {
	for _, serr := range []error{models.ErrTokenMalformed, models.ErrNotFound, models.ErrTokenUsed, models.ErrTokenExpired} {
		svc := &MockBindService{
			RedeemFunc: func(ctx context.Context, token string) (*services.BindResponse, error) {
				return nil, serr
			},
		}
		h := NewBindHandler(svc, &pkghttp.IPConfig{})

		req := httptest.NewRequest("GET", "/bind?token=whatever", nil)
		w := httptest.NewRecorder()
		h.Show(w, req)

		assert.Equal(t, 400, w.Code, "error %v", serr)
		var resp pkghttp.ErrorResponse
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		assert.Equal(t, invalidLinkMessage, resp.Message, "error %v", serr)
	}
}

func TestBindHandler_Confirm_WrongCode(t *testing.T) {
	svc := &MockBindService{
		ConfirmFunc: func(ctx context.Context, token, code string) error {
			return models.ErrUnauthorized
		},
	}
	h := NewBindHandler(svc, &pkghttp.IPConfig{})

	req := httptest.NewRequest("POST", "/bind", strings.NewReader(`{"token":"sometoken","code":"123456"}`))
	w := httptest.NewRecorder()
	h.Confirm(w, req)

	assert.Equal(t, 401, w.Code)
}

func TestBindHandler_Resend_Throttled(t *testing.T) {
	svc := &MockBindService{
		ResendFunc: func(ctx context.Context, email, ip, ua string) error {
			return models.ErrResendThrottled
		},
	}
	h := NewBindHandler(svc, &pkghttp.IPConfig{})

	req := httptest.NewRequest("POST", "/bind/resend", strings.NewReader(`{"email":"student@o365.ttu.edu.tw"}`))
	w := httptest.NewRecorder()
	h.Resend(w, req)

	assert.Equal(t, 429, w.Code)
}

func TestBindHandler_Resend_GenericAccepted(t *testing.T) {
	h := NewBindHandler(&MockBindService{}, &pkghttp.IPConfig{})

	req := httptest.NewRequest("POST", "/bind/resend", strings.NewReader(`{"email":"nobody@o365.ttu.edu.tw"}`))
	w := httptest.NewRecorder()
	h.Resend(w, req)

	assert.Equal(t, 202, w.Code)
}
