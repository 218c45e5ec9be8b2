package services

import (
	"context"
	"io"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/pchan-tw/campusauth/internal/database"
	"github.com/pchan-tw/campusauth/internal/models"
	pkglogger "github.com/pchan-tw/campusauth/pkg/logger"
)

// MockUserRepository implements UserRepository for testing
type MockUserRepository struct {
	GetByIDFunc            func(ctx context.Context, id string) (*models.User, error)
	GetByEmailFunc         func(ctx context.Context, email string) (*models.User, error)
	CreateFunc             func(ctx context.Context, q database.Querier, user *models.User) (*models.User, error)
	UpdatePasswordFunc     func(ctx context.Context, q database.Querier, userID, passwordHash string) error
	MarkFirstLoginDoneFunc func(ctx context.Context, q database.Querier, userID string) error
}

func (m *MockUserRepository) GetByID(ctx context.Context, id string) (*models.User, error) {
	if m.GetByIDFunc != nil {
		return m.GetByIDFunc(ctx, id)
	}
	return nil, models.ErrNotFound
}

func (m *MockUserRepository) GetByEmail(ctx context.Context, email string) (*models.User, error) {
	if m.GetByEmailFunc != nil {
		return m.GetByEmailFunc(ctx, email)
	}
	return nil, models.ErrNotFound
}

func (m *MockUserRepository) Create(ctx context.Context, q database.Querier, user *models.User) (*models.User, error) {
	if m.CreateFunc != nil {
		return m.CreateFunc(ctx, q, user)
	}
	return nil, models.ErrInternalServer
}

func (m *MockUserRepository) UpdatePassword(ctx context.Context, q database.Querier, userID, passwordHash string) error {
	if m.UpdatePasswordFunc != nil {
		return m.UpdatePasswordFunc(ctx, q, userID, passwordHash)
	}
	return nil
}

func (m *MockUserRepository) MarkFirstLoginDone(ctx context.Context, q database.Querier, userID string) error {
	if m.MarkFirstLoginDoneFunc != nil {
		return m.MarkFirstLoginDoneFunc(ctx, q, userID)
	}
	return nil
}

// MockTOTPSecretRepository implements TOTPSecretRepository for testing
type MockTOTPSecretRepository struct {
	GetCurrentFunc   func(ctx context.Context, userID string) (*models.TOTPSecret, error)
	GetCurrentTxFunc func(ctx context.Context, q database.Querier, userID string) (*models.TOTPSecret, error)
	CreateFunc       func(ctx context.Context, q database.Querier, userID, secret string) (*models.TOTPSecret, error)
}

func (m *MockTOTPSecretRepository) GetCurrent(ctx context.Context, userID string) (*models.TOTPSecret, error) {
	if m.GetCurrentFunc != nil {
		return m.GetCurrentFunc(ctx, userID)
	}
	return nil, models.ErrNotFound
}

func (m *MockTOTPSecretRepository) GetCurrentTx(ctx context.Context, q database.Querier, userID string) (*models.TOTPSecret, error) {
	if m.GetCurrentTxFunc != nil {
		return m.GetCurrentTxFunc(ctx, q, userID)
	}
	return nil, models.ErrNotFound
}

func (m *MockTOTPSecretRepository) Create(ctx context.Context, q database.Querier, userID, secret string) (*models.TOTPSecret, error) {
	if m.CreateFunc != nil {
		return m.CreateFunc(ctx, q, userID, secret)
	}
	return &models.TOTPSecret{ID: "secret_123", UserID: userID, Secret: secret, CreatedAt: time.Now()}, nil
}

// MockMagicLinkRepository implements MagicLinkRepository for testing
type MockMagicLinkRepository struct {
	CreateFunc         func(ctx context.Context, q database.Querier, userID, token, purpose string, ttl time.Duration, ip, userAgent string) (*models.MagicLinkToken, error)
	GetByTokenFunc     func(ctx context.Context, token, purpose string) (*models.MagicLinkToken, bool, error)
	MarkUsedFunc       func(ctx context.Context, q database.Querier, id string) error
	LatestIssuedAtFunc func(ctx context.Context, userID, purpose string) (time.Time, time.Time, error)
}

func (m *MockMagicLinkRepository) Create(ctx context.Context, q database.Querier, userID, token, purpose string, ttl time.Duration, ip, userAgent string) (*models.MagicLinkToken, error) {
	if m.CreateFunc != nil {
		return m.CreateFunc(ctx, q, userID, token, purpose, ttl, ip, userAgent)
	}
	return &models.MagicLinkToken{
		ID:        "link_123",
		UserID:    userID,
		Token:     token,
		Purpose:   purpose,
		ExpiresAt: time.Now().Add(ttl),
		CreatedAt: time.Now(),
	}, nil
}

func (m *MockMagicLinkRepository) GetByToken(ctx context.Context, token, purpose string) (*models.MagicLinkToken, bool, error) {
	if m.GetByTokenFunc != nil {
		return m.GetByTokenFunc(ctx, token, purpose)
	}
	return nil, false, models.ErrNotFound
}

func (m *MockMagicLinkRepository) MarkUsed(ctx context.Context, q database.Querier, id string) error {
	if m.MarkUsedFunc != nil {
		return m.MarkUsedFunc(ctx, q, id)
	}
	return nil
}

func (m *MockMagicLinkRepository) LatestIssuedAt(ctx context.Context, userID, purpose string) (time.Time, time.Time, error) {
	if m.LatestIssuedAtFunc != nil {
		return m.LatestIssuedAtFunc(ctx, userID, purpose)
	}
	return time.Time{}, time.Time{}, models.ErrNotFound
}

// MockPasswordResetRepository implements PasswordResetRepository for testing
type MockPasswordResetRepository struct {
	InvalidateUnusedFunc func(ctx context.Context, q database.Querier, userID string) error
	CreateFunc           func(ctx context.Context, q database.Querier, userID, tokenHash string, ttl time.Duration, ip, userAgent string) (*models.PasswordResetToken, error)
	GetByTokenHashFunc   func(ctx context.Context, tokenHash string) (*models.PasswordResetToken, bool, error)
	ConsumeFunc          func(ctx context.Context, q database.Querier, id string) error
}

func (m *MockPasswordResetRepository) InvalidateUnused(ctx context.Context, q database.Querier, userID string) error {
	if m.InvalidateUnusedFunc != nil {
		return m.InvalidateUnusedFunc(ctx, q, userID)
	}
	return nil
}

func (m *MockPasswordResetRepository) Create(ctx context.Context, q database.Querier, userID, tokenHash string, ttl time.Duration, ip, userAgent string) (*models.PasswordResetToken, error) {
	if m.CreateFunc != nil {
		return m.CreateFunc(ctx, q, userID, tokenHash, ttl, ip, userAgent)
	}
	return &models.PasswordResetToken{
		ID:        "reset_123",
		UserID:    userID,
		TokenHash: tokenHash,
		ExpiresAt: time.Now().Add(ttl),
		CreatedAt: time.Now(),
	}, nil
}

func (m *MockPasswordResetRepository) GetByTokenHash(ctx context.Context, tokenHash string) (*models.PasswordResetToken, bool, error) {
	if m.GetByTokenHashFunc != nil {
		return m.GetByTokenHashFunc(ctx, tokenHash)
	}
	return nil, false, models.ErrNotFound
}

func (m *MockPasswordResetRepository) Consume(ctx context.Context, q database.Querier, id string) error {
	if m.ConsumeFunc != nil {
		return m.ConsumeFunc(ctx, q, id)
	}
	return nil
}

// MockLoginLogRepository implements LoginLogRepository for testing
type MockLoginLogRepository struct {
	CreateFunc           func(ctx context.Context, q database.Querier, userID, email *string, ip, userAgent string, success bool) error
	ListRecentByUserFunc func(ctx context.Context, userID string, limit int) ([]*models.LoginLog, error)
}

func (m *MockLoginLogRepository) Create(ctx context.Context, q database.Querier, userID, email *string, ip, userAgent string, success bool) error {
	if m.CreateFunc != nil {
		return m.CreateFunc(ctx, q, userID, email, ip, userAgent, success)
	}
	return nil
}

func (m *MockLoginLogRepository) ListRecentByUser(ctx context.Context, userID string, limit int) ([]*models.LoginLog, error) {
	if m.ListRecentByUserFunc != nil {
		return m.ListRecentByUserFunc(ctx, userID, limit)
	}
	return []*models.LoginLog{}, nil
}

// MockEmailService implements EmailService for testing
type MockEmailService struct {
	SendBindLinkFunc      func(ctx context.Context, email, token string, expiresAt time.Time) error
	SendPasswordResetFunc func(ctx context.Context, email, token string, expiresAt time.Time) error
}

func (m *MockEmailService) SendBindLink(ctx context.Context, email, token string, expiresAt time.Time) error {
	if m.SendBindLinkFunc != nil {
		return m.SendBindLinkFunc(ctx, email, token, expiresAt)
	}
	return nil
}

func (m *MockEmailService) SendPasswordReset(ctx context.Context, email, token string, expiresAt time.Time) error {
	if m.SendPasswordResetFunc != nil {
		return m.SendPasswordResetFunc(ctx, email, token, expiresAt)
	}
	return nil
}

// MockTxRunner implements TxRunner for testing. The default runs the
// callback with a nil transaction, which the mocked repositories ignore.
type MockTxRunner struct {
	WithTransactionFunc func(ctx context.Context, fn func(pgx.Tx) error) error
}

func (m *MockTxRunner) WithTransaction(ctx context.Context, fn func(pgx.Tx) error) error {
	if m.WithTransactionFunc != nil {
		return m.WithTransactionFunc(ctx, fn)
	}
	return fn(nil)
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testAuditLogger() *pkglogger.AuditLogger {
	return pkglogger.NewAuditLogger(testLogger())
}
