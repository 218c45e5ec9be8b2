package handlers

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/pchan-tw/campusauth/internal/models"
	"github.com/pchan-tw/campusauth/internal/services"
	"github.com/pchan-tw/campusauth/internal/session"
)

// MockLoginService implements LoginServiceInterface for testing
type MockLoginService struct {
	IdentifyEmailFunc  func(ctx context.Context, st session.State, email string) (session.State, *models.User, error)
	IssueChallengeFunc func(st session.State) (session.State, string, error)
	VerifyPasswordFunc func(ctx context.Context, st session.State, password, challenge, ip, userAgent string) (session.State, *models.User, error)
	VerifyTOTPFunc     func(ctx context.Context, st session.State, code, ip, userAgent string) (session.State, error)
	BeginSetupFunc     func(ctx context.Context, st session.State) (*services.SetupResponse, error)
	CompleteSetupFunc  func(ctx context.Context, st session.State, code, ip, userAgent string) (session.State, error)
	LogoutFunc         func(st session.State)
	CurrentUserFunc    func(ctx context.Context, st session.State) (*models.User, error)
	RecentActivityFunc func(ctx context.Context, st session.State, limit int) ([]*models.LoginLog, error)
}

func (m *MockLoginService) IdentifyEmail(ctx context.Context, st session.State, email string) (session.State, *models.User, error) {
	if m.IdentifyEmailFunc != nil {
		return m.IdentifyEmailFunc(ctx, st, email)
	}
	return st, nil, models.ErrNotFound
}

func (m *MockLoginService) IssueChallenge(st session.State) (session.State, string, error) {
	if m.IssueChallengeFunc != nil {
		return m.IssueChallengeFunc(st)
	}
	return st, "", models.ErrInvalidState
}

func (m *MockLoginService) VerifyPassword(ctx context.Context, st session.State, password, challenge, ip, userAgent string) (session.State, *models.User, error) {
	if m.VerifyPasswordFunc != nil {
		return m.VerifyPasswordFunc(ctx, st, password, challenge, ip, userAgent)
	}
	return st, nil, models.ErrUnauthorized
}

func (m *MockLoginService) VerifyTOTP(ctx context.Context, st session.State, code, ip, userAgent string) (session.State, error) {
	if m.VerifyTOTPFunc != nil {
		return m.VerifyTOTPFunc(ctx, st, code, ip, userAgent)
	}
	return st, models.ErrUnauthorized
}

func (m *MockLoginService) BeginSetup(ctx context.Context, st session.State) (*services.SetupResponse, error) {
	if m.BeginSetupFunc != nil {
		return m.BeginSetupFunc(ctx, st)
	}
	return nil, models.ErrInvalidState
}

func (m *MockLoginService) CompleteSetup(ctx context.Context, st session.State, code, ip, userAgent string) (session.State, error) {
	if m.CompleteSetupFunc != nil {
		return m.CompleteSetupFunc(ctx, st, code, ip, userAgent)
	}
	return st, models.ErrInvalidState
}

func (m *MockLoginService) ChangeAccount(st session.State) session.State {
	return st.Reset()
}

func (m *MockLoginService) Logout(st session.State) {
	if m.LogoutFunc != nil {
		m.LogoutFunc(st)
	}
}

func (m *MockLoginService) CurrentUser(ctx context.Context, st session.State) (*models.User, error) {
	if m.CurrentUserFunc != nil {
		return m.CurrentUserFunc(ctx, st)
	}
	return nil, models.ErrUnauthorized
}

func (m *MockLoginService) RecentActivity(ctx context.Context, st session.State, limit int) ([]*models.LoginLog, error) {
	if m.RecentActivityFunc != nil {
		return m.RecentActivityFunc(ctx, st, limit)
	}
	return nil, models.ErrUnauthorized
}

// MockBindService implements BindServiceInterface for testing
type MockBindService struct {
	RedeemFunc  func(ctx context.Context, token string) (*services.BindResponse, error)
	ConfirmFunc func(ctx context.Context, token, code string) error
	ResendFunc  func(ctx context.Context, email, ip, userAgent string) error
}

func (m *MockBindService) Redeem(ctx context.Context, token string) (*services.BindResponse, error) {
	if m.RedeemFunc != nil {
		return m.RedeemFunc(ctx, token)
	}
	return nil, models.ErrTokenMalformed
}

func (m *MockBindService) Confirm(ctx context.Context, token, code string) error {
	if m.ConfirmFunc != nil {
		return m.ConfirmFunc(ctx, token, code)
	}
	return models.ErrTokenMalformed
}

func (m *MockBindService) Resend(ctx context.Context, email, ip, userAgent string) error {
	if m.ResendFunc != nil {
		return m.ResendFunc(ctx, email, ip, userAgent)
	}
	return nil
}

// MockRegistrationService implements RegistrationServiceInterface for testing
type MockRegistrationService struct {
	RegisterFunc func(ctx context.Context, input services.RegisterInput, ip, userAgent string) (*models.User, error)
}

func (m *MockRegistrationService) Register(ctx context.Context, input services.RegisterInput, ip, userAgent string) (*models.User, error) {
	if m.RegisterFunc != nil {
		return m.RegisterFunc(ctx, input, ip, userAgent)
	}
	return nil, models.ErrInternalServer
}

// MockPasswordResetService implements PasswordResetServiceInterface for testing
type MockPasswordResetService struct {
	RequestResetFunc  func(ctx context.Context, email, ip, userAgent string) error
	ResetPasswordFunc func(ctx context.Context, token, password, passwordConfirm, ip string) error
}

func (m *MockPasswordResetService) RequestReset(ctx context.Context, email, ip, userAgent string) error {
	if m.RequestResetFunc != nil {
		return m.RequestResetFunc(ctx, email, ip, userAgent)
	}
	return nil
}

func (m *MockPasswordResetService) ResetPassword(ctx context.Context, token, password, passwordConfirm, ip string) error {
	if m.ResetPasswordFunc != nil {
		return m.ResetPasswordFunc(ctx, token, password, passwordConfirm, ip)
	}
	return models.ErrTokenMalformed
}

// newTestCodec builds a session codec with a fixed test secret.
func newTestCodec(t *testing.T) *session.Codec {
	t.Helper()
	codec, err := session.NewCodec([]byte("test-secret-test-secret-test-secret!"), false)
	require.NoError(t, err)
	return codec
}

// attachState encodes a session state onto the request as the cookie a
// browser would send back.
func attachState(t *testing.T, codec *session.Codec, r *http.Request, st session.State) {
	t.Helper()
	value, err := codec.Encode(st)
	require.NoError(t, err)
	r.AddCookie(&http.Cookie{Name: session.CookieName, Value: value})
}

// decodeStateFromResponse reads the successor state out of the Set-Cookie
// header of a handler response.
func decodeStateFromResponse(t *testing.T, codec *session.Codec, w *httptest.ResponseRecorder) session.State {
	t.Helper()
	for _, c := range w.Result().Cookies() {
		if c.Name == session.CookieName {
			st, err := codec.Decode(c.Value)
			require.NoError(t, err)
			return st
		}
	}
	t.Fatal("no session cookie in response")
	return session.State{}
}
