package services

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pchan-tw/campusauth/internal/database"
	"github.com/pchan-tw/campusauth/internal/models"
)

const testBindToken = "0123456789abcdef0123456789abcdef0123456789abcdef0123456789abcdef"

func newTestBindService(users *MockUserRepository, secrets *MockTOTPSecretRepository, links *MockMagicLinkRepository, mail *MockEmailService) *BindService {
	if users == nil {
		users = &MockUserRepository{}
	}
	if secrets == nil {
		secrets = &MockTOTPSecretRepository{}
	}
	if links == nil {
		links = &MockMagicLinkRepository{}
	}
	if mail == nil {
		mail = &MockEmailService{}
	}
	return NewBindService(users, secrets, links, &MockTxRunner{}, mail, "TTU-Auth", 24*time.Hour, 60*time.Second, testLogger(), testAuditLogger())
}

func liveBindLink(userID string) *models.MagicLinkToken {
	return &models.MagicLinkToken{
		ID:        "link_123",
		UserID:    userID,
		Token:     testBindToken,
		Purpose:   models.MagicLinkPurposeBindTOTP,
		ExpiresAt: time.Now().Add(time.Hour),
		CreatedAt: time.Now(),
	}
}

// ============================================================================
// Redeem Tests
// ============================================================================

func TestBindService_Redeem_Success(t *testing.T) {
	user := testUser(t, true, true)
	svc := newTestBindService(&MockUserRepository{
		GetByIDFunc: func(ctx context.Context, id string) (*models.User, error) { return user, nil },
	}, &MockTOTPSecretRepository{
		GetCurrentTxFunc: func(ctx context.Context, q database.Querier, userID string) (*models.TOTPSecret, error) {
			return nil, models.ErrNotFound
		},
	}, &MockMagicLinkRepository{
		GetByTokenFunc: func(ctx context.Context, token, purpose string) (*models.MagicLinkToken, bool, error) {
			assert.Equal(t, models.MagicLinkPurposeBindTOTP, purpose)
			return liveBindLink(user.ID), false, nil
		},
	}, nil)

	resp, err := svc.Redeem(context.Background(), testBindToken)

	require.NoError(t, err)
	assert.Equal(t, user.Email, resp.Account)
	assert.Len(t, resp.Secret, 32)
	assert.Contains(t, resp.ProvisioningURI, "otpauth://totp/")
}

func TestBindService_Redeem_IsIdempotent(t *testing.T) {
	user := testUser(t, true, true)
	var stored *models.TOTPSecret
	var mints int
	secrets := &MockTOTPSecretRepository{
		GetCurrentTxFunc: func(ctx context.Context, q database.Querier, userID string) (*models.TOTPSecret, error) {
			if stored != nil {
				return stored, nil
			}
			return nil, models.ErrNotFound
		},
		CreateFunc: func(ctx context.Context, q database.Querier, userID, secret string) (*models.TOTPSecret, error) {
			mints++
			stored = &models.TOTPSecret{ID: "s1", UserID: userID, Secret: secret}
			return stored, nil
		},
	}
	svc := newTestBindService(&MockUserRepository{
		GetByIDFunc: func(ctx context.Context, id string) (*models.User, error) { return user, nil },
	}, secrets, &MockMagicLinkRepository{
		GetByTokenFunc: func(ctx context.Context, token, purpose string) (*models.MagicLinkToken, bool, error) {
			return liveBindLink(user.ID), false, nil
		},
	}, nil)

	first, err := svc.Redeem(context.Background(), testBindToken)
	require.NoError(t, err)
	second, err := svc.Redeem(context.Background(), testBindToken)
	require.NoError(t, err)

	assert.Equal(t, 1, mints, "second visit must reuse the secret")
	assert.Equal(t, first.Secret, second.Secret)
}

func TestBindService_Redeem_MalformedToken(t *testing.T) {
	svc := newTestBindService(nil, nil, &MockMagicLinkRepository{
		GetByTokenFunc: func(ctx context.Context, token, purpose string) (*models.MagicLinkToken, bool, error) {
			t.Fatal("malformed tokens must not reach the store")
			return nil, false, nil
		},
	}, nil)

	for _, tok := range []string{"", "short", "XYZ", testBindToken + "ff", testBindToken[:63] + "G"} {
		_, err := svc.Redeem(context.Background(), tok)
		assert.ErrorIs(t, err, models.ErrTokenMalformed, "token %q", tok)
	}
}

func TestBindService_Redeem_UsedToken(t *testing.T) {
	user := testUser(t, true, true)
	usedAt := time.Now().Add(-time.Minute)
	link := liveBindLink(user.ID)
	link.UsedAt = &usedAt
	svc := newTestBindService(nil, nil, &MockMagicLinkRepository{
		GetByTokenFunc: func(ctx context.Context, token, purpose string) (*models.MagicLinkToken, bool, error) {
			return link, false, nil
		},
	}, nil)

	_, err := svc.Redeem(context.Background(), testBindToken)

	assert.ErrorIs(t, err, models.ErrTokenUsed)
}

func TestBindService_Redeem_ExpiredToken(t *testing.T) {
	user := testUser(t, true, true)
	svc := newTestBindService(nil, nil, &MockMagicLinkRepository{
		GetByTokenFunc: func(ctx context.Context, token, purpose string) (*models.MagicLinkToken, bool, error) {
			return liveBindLink(user.ID), true, nil
		},
	}, nil)

	_, err := svc.Redeem(context.Background(), testBindToken)

	assert.ErrorIs(t, err, models.ErrTokenExpired)
}

// ============================================================================
// Confirm Tests
// ============================================================================

func TestBindService_Confirm_ConsumesTokenOnSuccess(t *testing.T) {
	user := testUser(t, true, true)
	secret := "JBSWY3DPEHPK3PXPJBSWY3DPEHPK3PXP"
	var consumed bool
	svc := newTestBindService(nil, &MockTOTPSecretRepository{
		GetCurrentFunc: func(ctx context.Context, userID string) (*models.TOTPSecret, error) {
			return &models.TOTPSecret{ID: "s1", UserID: userID, Secret: secret}, nil
		},
	}, &MockMagicLinkRepository{
		GetByTokenFunc: func(ctx context.Context, token, purpose string) (*models.MagicLinkToken, bool, error) {
			return liveBindLink(user.ID), false, nil
		},
		MarkUsedFunc: func(ctx context.Context, q database.Querier, id string) error {
			consumed = true
			return nil
		},
	}, nil)

	err := svc.Confirm(context.Background(), testBindToken, currentTOTPCode(secret))

	require.NoError(t, err)
	assert.True(t, consumed)
}

func TestBindService_Confirm_WrongCodeLeavesTokenLive(t *testing.T) {
	user := testUser(t, true, true)
	secret := "JBSWY3DPEHPK3PXPJBSWY3DPEHPK3PXP"
	svc := newTestBindService(nil, &MockTOTPSecretRepository{
		GetCurrentFunc: func(ctx context.Context, userID string) (*models.TOTPSecret, error) {
			return &models.TOTPSecret{ID: "s1", UserID: userID, Secret: secret}, nil
		},
	}, &MockMagicLinkRepository{
		GetByTokenFunc: func(ctx context.Context, token, purpose string) (*models.MagicLinkToken, bool, error) {
			return liveBindLink(user.ID), false, nil
		},
		MarkUsedFunc: func(ctx context.Context, q database.Querier, id string) error {
			t.Fatal("failed codes must not consume the token")
			return nil
		},
	}, nil)

	err := svc.Confirm(context.Background(), testBindToken, "000000")

	assert.ErrorIs(t, err, models.ErrUnauthorized)
}

func TestBindService_Confirm_LosingRaceSurfacesUsed(t *testing.T) {
	user := testUser(t, true, true)
	secret := "JBSWY3DPEHPK3PXPJBSWY3DPEHPK3PXP"
	svc := newTestBindService(nil, &MockTOTPSecretRepository{
		GetCurrentFunc: func(ctx context.Context, userID string) (*models.TOTPSecret, error) {
			return &models.TOTPSecret{ID: "s1", UserID: userID, Secret: secret}, nil
		},
	}, &MockMagicLinkRepository{
		GetByTokenFunc: func(ctx context.Context, token, purpose string) (*models.MagicLinkToken, bool, error) {
			return liveBindLink(user.ID), false, nil
		},
		MarkUsedFunc: func(ctx context.Context, q database.Querier, id string) error {
			return models.ErrTokenUsed
		},
	}, nil)

	err := svc.Confirm(context.Background(), testBindToken, currentTOTPCode(secret))

	assert.ErrorIs(t, err, models.ErrTokenUsed)
}

// ============================================================================
// Resend Tests
// ============================================================================

func TestBindService_Resend_IssuesNewLink(t *testing.T) {
	user := testUser(t, true, true)
	var issuedToken string
	var mailedToken string
	svc := newTestBindService(&MockUserRepository{
		GetByEmailFunc: func(ctx context.Context, email string) (*models.User, error) { return user, nil },
	}, nil, &MockMagicLinkRepository{
		CreateFunc: func(ctx context.Context, q database.Querier, userID, token, purpose string, ttl time.Duration, ip, ua string) (*models.MagicLinkToken, error) {
			issuedToken = token
			return &models.MagicLinkToken{ID: "link_456", UserID: userID, Token: token, Purpose: purpose, ExpiresAt: time.Now().Add(ttl)}, nil
		},
	}, &MockEmailService{
		SendBindLinkFunc: func(ctx context.Context, email, token string, expiresAt time.Time) error {
			mailedToken = token
			return nil
		},
	})

	err := svc.Resend(context.Background(), user.Email, "203.0.113.9", "ua")

	require.NoError(t, err)
	assert.Regexp(t, "^[a-f0-9]{64}$", issuedToken)
	assert.Equal(t, issuedToken, mailedToken)
}

func TestBindService_Resend_Throttled(t *testing.T) {
	user := testUser(t, true, true)
	now := time.Now()
	svc := newTestBindService(&MockUserRepository{
		GetByEmailFunc: func(ctx context.Context, email string) (*models.User, error) { return user, nil },
	}, nil, &MockMagicLinkRepository{
		LatestIssuedAtFunc: func(ctx context.Context, userID, purpose string) (time.Time, time.Time, error) {
			return now.Add(-30 * time.Second), now, nil
		},
		CreateFunc: func(ctx context.Context, q database.Querier, userID, token, purpose string, ttl time.Duration, ip, ua string) (*models.MagicLinkToken, error) {
			t.Fatal("throttled resend must not mint a token")
			return nil, nil
		},
	}, nil)

	err := svc.Resend(context.Background(), user.Email, "", "")

	assert.ErrorIs(t, err, models.ErrResendThrottled)
}

func TestBindService_Resend_AllowedAfterCooldown(t *testing.T) {
	user := testUser(t, true, true)
	now := time.Now()
	svc := newTestBindService(&MockUserRepository{
		GetByEmailFunc: func(ctx context.Context, email string) (*models.User, error) { return user, nil },
	}, nil, &MockMagicLinkRepository{
		LatestIssuedAtFunc: func(ctx context.Context, userID, purpose string) (time.Time, time.Time, error) {
			return now.Add(-61 * time.Second), now, nil
		},
	}, nil)

	err := svc.Resend(context.Background(), user.Email, "", "")

	assert.NoError(t, err)
}

func TestBindService_Resend_UnknownEmailReportsSuccess(t *testing.T) {
	svc := newTestBindService(nil, nil, &MockMagicLinkRepository{
		CreateFunc: func(ctx context.Context, q database.Querier, userID, token, purpose string, ttl time.Duration, ip, ua string) (*models.MagicLinkToken, error) {
			t.Fatal("unknown accounts must not get tokens")
			return nil, nil
		},
	}, nil)

	err := svc.Resend(context.Background(), "nobody@o365.ttu.edu.tw", "", "")

	assert.NoError(t, err)
}

func TestBindService_Resend_MailFailureStillSucceeds(t *testing.T) {
	user := testUser(t, true, true)
	svc := newTestBindService(&MockUserRepository{
		GetByEmailFunc: func(ctx context.Context, email string) (*models.User, error) { return user, nil },
	}, nil, nil, &MockEmailService{
		SendBindLinkFunc: func(ctx context.Context, email, token string, expiresAt time.Time) error {
			return models.ErrInternalServer
		},
	})

	err := svc.Resend(context.Background(), user.Email, "", "")

	assert.NoError(t, err)
}
