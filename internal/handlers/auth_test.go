package handlers

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pchan-tw/campusauth/internal/models"
	"github.com/pchan-tw/campusauth/internal/services"
	"github.com/pchan-tw/campusauth/internal/session"
	pkghttp "github.com/pchan-tw/campusauth/pkg/http"
)

func authTestUser() *models.User {
	return &models.User{
		ID:          "user_123",
		Email:       "student@o365.ttu.edu.tw",
		Name:        "Student",
		AccountType: models.AccountTypeLocal,
	}
}

// ============================================================================
// IdentifyEmail Tests
// ============================================================================

func TestAuthHandler_IdentifyEmail_SetsCookie(t *testing.T) {
	codec := newTestCodec(t)
	user := authTestUser()
	svc := &MockLoginService{
		IdentifyEmailFunc: func(ctx context.Context, st session.State, email string) (session.State, *models.User, error) {
			return st.WithEmailConfirmed(user.ID, user.Email, user.Name, ""), user, nil
		},
	}
	h := NewAuthHandler(svc, codec, &pkghttp.IPConfig{})

	req := httptest.NewRequest("POST", "/auth/email", strings.NewReader(`{"email":"student@o365.ttu.edu.tw"}`))
	w := httptest.NewRecorder()
	h.IdentifyEmail(w, req)

	require.Equal(t, 200, w.Code)

	var resp StateResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "email_confirmed", resp.Status)
	assert.Equal(t, "Student", resp.Name)

	st := decodeStateFromResponse(t, codec, w)
	assert.Equal(t, user.ID, st.UserID)
	assert.True(t, st.Is(session.StatusEmailConfirmed))
}

func TestAuthHandler_IdentifyEmail_UnknownAccount(t *testing.T) {
	h := NewAuthHandler(&MockLoginService{}, newTestCodec(t), &pkghttp.IPConfig{})

	req := httptest.NewRequest("POST", "/auth/email", strings.NewReader(`{"email":"nobody@o365.ttu.edu.tw"}`))
	w := httptest.NewRecorder()
	h.IdentifyEmail(w, req)

	assert.Equal(t, 404, w.Code)
}

func TestAuthHandler_IdentifyEmail_InvalidBody(t *testing.T) {
	h := NewAuthHandler(&MockLoginService{}, newTestCodec(t), &pkghttp.IPConfig{})

	for _, body := range []string{`not json`, `{"email":"not-an-email"}`, `{}`} {
		req := httptest.NewRequest("POST", "/auth/email", strings.NewReader(body))
		w := httptest.NewRecorder()
		h.IdentifyEmail(w, req)
		assert.Equal(t, 400, w.Code, "body %q", body)
	}
}

// ============================================================================
// Login Tests
// ============================================================================

func TestAuthHandler_Login_FailureStillRotatesState(t *testing.T) {
	codec := newTestCodec(t)
	user := authTestUser()
	svc := &MockLoginService{
		VerifyPasswordFunc: func(ctx context.Context, st session.State, password, challenge, ip, ua string) (session.State, *models.User, error) {
			return st.WithChallenge(""), nil, models.ErrChallengeMismatch
		},
	}
	h := NewAuthHandler(svc, codec, &pkghttp.IPConfig{})

	prior := session.Anonymous().WithEmailConfirmed(user.ID, user.Email, user.Name, "some-hash")
	req := httptest.NewRequest("POST", "/auth/login", strings.NewReader(`{"password":"pw","challenge":"ABC123"}`))
	attachState(t, codec, req, prior)
	w := httptest.NewRecorder()
	h.Login(w, req)

	assert.Equal(t, 400, w.Code)
	st := decodeStateFromResponse(t, codec, w)
	assert.Empty(t, st.ChallengeHash, "spent challenge must not ride back to the client")
}

func TestAuthHandler_Login_AuthenticatedIncludesUser(t *testing.T) {
	codec := newTestCodec(t)
	user := authTestUser()
	svc := &MockLoginService{
		VerifyPasswordFunc: func(ctx context.Context, st session.State, password, challenge, ip, ua string) (session.State, *models.User, error) {
			return st.WithStatus(session.StatusAuthenticated), user, nil
		},
	}
	h := NewAuthHandler(svc, codec, &pkghttp.IPConfig{})

	prior := session.Anonymous().WithEmailConfirmed(user.ID, user.Email, user.Name, "some-hash")
	req := httptest.NewRequest("POST", "/auth/login", strings.NewReader(`{"password":"pw","challenge":"ABC123"}`))
	attachState(t, codec, req, prior)
	w := httptest.NewRecorder()
	h.Login(w, req)

	require.Equal(t, 200, w.Code)
	var resp StateResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "authenticated", resp.Status)
	require.NotNil(t, resp.User)
	assert.Equal(t, user.Email, resp.User.Email)
}

func TestAuthHandler_Login_ChallengeShapeEnforced(t *testing.T) {
	h := NewAuthHandler(&MockLoginService{}, newTestCodec(t), &pkghttp.IPConfig{})

	req := httptest.NewRequest("POST", "/auth/login", strings.NewReader(`{"password":"pw","challenge":"ABCD"}`))
	w := httptest.NewRecorder()
	h.Login(w, req)

	assert.Equal(t, 400, w.Code)
}

// ============================================================================
// TOTP Tests
// ============================================================================

func TestAuthHandler_TOTP_Success(t *testing.T) {
	codec := newTestCodec(t)
	user := authTestUser()
	svc := &MockLoginService{
		VerifyTOTPFunc: func(ctx context.Context, st session.State, code, ip, ua string) (session.State, error) {
			return st.WithStatus(session.StatusAuthenticated), nil
		},
	}
	h := NewAuthHandler(svc, codec, &pkghttp.IPConfig{})

	prior := session.Anonymous().
		WithEmailConfirmed(user.ID, user.Email, user.Name, "").
		WithStatus(session.StatusSecondFactorPending)
	req := httptest.NewRequest("POST", "/auth/totp", strings.NewReader(`{"code":"287082"}`))
	attachState(t, codec, req, prior)
	w := httptest.NewRecorder()
	h.TOTP(w, req)

	require.Equal(t, 200, w.Code)
	st := decodeStateFromResponse(t, codec, w)
	assert.True(t, st.IsAuthenticated())
}

func TestAuthHandler_TOTP_WrongCode(t *testing.T) {
	h := NewAuthHandler(&MockLoginService{}, newTestCodec(t), &pkghttp.IPConfig{})

	req := httptest.NewRequest("POST", "/auth/totp", strings.NewReader(`{"code":"287082"}`))
	w := httptest.NewRecorder()
	h.TOTP(w, req)

	assert.Equal(t, 401, w.Code)
}

// ============================================================================
// Setup Tests
// ============================================================================

func TestAuthHandler_SetupShow_IncludesQRCode(t *testing.T) {
	codec := newTestCodec(t)
	svc := &MockLoginService{
		BeginSetupFunc: func(ctx context.Context, st session.State) (*services.SetupResponse, error) {
			return &services.SetupResponse{
				Account:         "student@o365.ttu.edu.tw",
				Secret:          "JBSWY3DPEHPK3PXPJBSWY3DPEHPK3PXP",
				ProvisioningURI: "otpauth://totp/TTU-Auth:student@o365.ttu.edu.tw?secret=JBSWY3DPEHPK3PXPJBSWY3DPEHPK3PXP",
			}, nil
		},
	}
	h := NewAuthHandler(svc, codec, &pkghttp.IPConfig{})

	req := httptest.NewRequest("GET", "/auth/setup", nil)
	w := httptest.NewRecorder()
	h.SetupShow(w, req)

	require.Equal(t, 200, w.Code)
	var resp SetupPageResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.True(t, strings.HasPrefix(resp.QRCode, "data:image/png;base64,"))
	assert.NotEmpty(t, resp.Secret)
}

func TestAuthHandler_SetupShow_WrongState(t *testing.T) {
	h := NewAuthHandler(&MockLoginService{}, newTestCodec(t), &pkghttp.IPConfig{})

	req := httptest.NewRequest("GET", "/auth/setup", nil)
	w := httptest.NewRecorder()
	h.SetupShow(w, req)

	assert.Equal(t, 409, w.Code)
}

// ============================================================================
// Me / Logout Tests
// ============================================================================

func TestAuthHandler_Me_PendingStateHint(t *testing.T) {
	codec := newTestCodec(t)
	user := authTestUser()
	h := NewAuthHandler(&MockLoginService{}, codec, &pkghttp.IPConfig{})

	prior := session.Anonymous().
		WithEmailConfirmed(user.ID, user.Email, user.Name, "").
		WithStatus(session.StatusSecondFactorPending)
	req := httptest.NewRequest("GET", "/auth/me", nil)
	attachState(t, codec, req, prior)
	w := httptest.NewRecorder()
	h.Me(w, req)

	require.Equal(t, 401, w.Code)
	var resp pkghttp.ErrorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "second_factor_pending", resp.Details)
}

func TestAuthHandler_Me_Authenticated(t *testing.T) {
	codec := newTestCodec(t)
	user := authTestUser()
	svc := &MockLoginService{
		CurrentUserFunc: func(ctx context.Context, st session.State) (*models.User, error) {
			if !st.IsAuthenticated() {
				return nil, models.ErrUnauthorized
			}
			return user, nil
		},
	}
	h := NewAuthHandler(svc, codec, &pkghttp.IPConfig{})

	prior := session.Anonymous().
		WithEmailConfirmed(user.ID, user.Email, user.Name, "").
		WithStatus(session.StatusAuthenticated)
	req := httptest.NewRequest("GET", "/auth/me", nil)
	attachState(t, codec, req, prior)
	w := httptest.NewRecorder()
	h.Me(w, req)

	require.Equal(t, 200, w.Code)
	var resp UserResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, user.ID, resp.ID)
}

func TestAuthHandler_Activity_ListsAttempts(t *testing.T) {
	codec := newTestCodec(t)
	user := authTestUser()
	svc := &MockLoginService{
		RecentActivityFunc: func(ctx context.Context, st session.State, limit int) ([]*models.LoginLog, error) {
			return []*models.LoginLog{
				{ID: "log_1", UserID: &user.ID, IP: "203.0.113.9", Success: false, CreatedAt: time.Now()},
			}, nil
		},
	}
	h := NewAuthHandler(svc, codec, &pkghttp.IPConfig{})

	prior := session.Anonymous().
		WithEmailConfirmed(user.ID, user.Email, user.Name, "").
		WithStatus(session.StatusAuthenticated)
	req := httptest.NewRequest("GET", "/auth/activity", nil)
	attachState(t, codec, req, prior)
	w := httptest.NewRecorder()
	h.Activity(w, req)

	require.Equal(t, 200, w.Code)
	var resp ActivityResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Len(t, resp.Activity, 1)
	assert.Equal(t, "203.0.113.9", resp.Activity[0].IP)
	assert.False(t, resp.Activity[0].Success)
}

func TestAuthHandler_Activity_PendingSessionRejected(t *testing.T) {
	codec := newTestCodec(t)
	h := NewAuthHandler(&MockLoginService{}, codec, &pkghttp.IPConfig{})

	req := httptest.NewRequest("GET", "/auth/activity", nil)
	w := httptest.NewRecorder()
	h.Activity(w, req)

	assert.Equal(t, 401, w.Code)
}

func TestAuthHandler_Logout_ClearsCookie(t *testing.T) {
	codec := newTestCodec(t)
	h := NewAuthHandler(&MockLoginService{}, codec, &pkghttp.IPConfig{})

	req := httptest.NewRequest("POST", "/auth/logout", nil)
	w := httptest.NewRecorder()
	h.Logout(w, req)

	assert.Equal(t, 204, w.Code)
	cookies := w.Result().Cookies()
	require.NotEmpty(t, cookies)
	assert.Equal(t, session.CookieName, cookies[0].Name)
	assert.True(t, cookies[0].MaxAge < 0 || cookies[0].Value == "")
}

func TestAuthHandler_Logout_NotifiesService(t *testing.T) {
	codec := newTestCodec(t)
	user := authTestUser()

	var seen session.State
	svc := &MockLoginService{
		LogoutFunc: func(st session.State) { seen = st },
	}
	h := NewAuthHandler(svc, codec, &pkghttp.IPConfig{})

	prior := session.Anonymous().
		WithEmailConfirmed(user.ID, user.Email, user.Name, "").
		WithStatus(session.StatusAuthenticated)
	req := httptest.NewRequest("POST", "/auth/logout", nil)
	attachState(t, codec, req, prior)
	w := httptest.NewRecorder()
	h.Logout(w, req)

	assert.Equal(t, 204, w.Code)
	assert.Equal(t, user.ID, seen.UserID, "the service should see which session ended")
}
