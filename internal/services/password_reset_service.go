package services

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/pchan-tw/campusauth/internal/database"
	"github.com/pchan-tw/campusauth/internal/models"
	pkgauth "github.com/pchan-tw/campusauth/pkg/auth"
	pkglogger "github.com/pchan-tw/campusauth/pkg/logger"
)

// PasswordResetRepository defines the interface for reset-token storage
type PasswordResetRepository interface {
	InvalidateUnused(ctx context.Context, q database.Querier, userID string) error
	Create(ctx context.Context, q database.Querier, userID, tokenHash string, ttl time.Duration, ip, userAgent string) (*models.PasswordResetToken, error)
	GetByTokenHash(ctx context.Context, tokenHash string) (*models.PasswordResetToken, bool, error)
	Consume(ctx context.Context, q database.Querier, id string) error
}

// PasswordResetService issues and redeems password reset links.
type PasswordResetService struct {
	users    UserRepository
	resets   PasswordResetRepository
	db       TxRunner
	mail     EmailService
	resetTTL time.Duration
	logger   *slog.Logger
	audit    *pkglogger.AuditLogger
}

func NewPasswordResetService(users UserRepository, resets PasswordResetRepository, db TxRunner, mail EmailService, resetTTL time.Duration, logger *slog.Logger, audit *pkglogger.AuditLogger) *PasswordResetService {
	return &PasswordResetService{
		users:    users,
		resets:   resets,
		db:       db,
		mail:     mail,
		resetTTL: resetTTL,
		logger:   logger,
		audit:    audit,
	}
}

// RequestReset issues a reset link. Invalidating prior unused tokens and
// inserting the new one share a transaction, so at any moment at most
// one link works. Unknown emails report success.
func (s *PasswordResetService) RequestReset(ctx context.Context, email, ip, userAgent string) error {
	email = strings.ToLower(strings.TrimSpace(email))

	user, err := s.users.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			s.logger.Info("reset requested for unknown account",
				slog.String("email", pkglogger.SanitizedEmail(email)))
			return nil
		}
		s.logger.Error("failed to get user by email", slog.Any("error", err))
		return models.ErrInternalServer
	}

	token, err := newOpaqueToken()
	if err != nil {
		s.logger.Error("failed to generate reset token", slog.Any("error", err))
		return models.ErrInternalServer
	}

	var created *models.PasswordResetToken
	err = s.db.WithTransaction(ctx, func(tx pgx.Tx) error {
		if err := s.resets.InvalidateUnused(ctx, tx, user.ID); err != nil {
			return err
		}
		var err error
		created, err = s.resets.Create(ctx, tx, user.ID, hashToken(token), s.resetTTL, ip, userAgent)
		return err
	})
	if err != nil {
		s.logger.Error("failed to issue reset token", slog.String("user_id", user.ID), slog.Any("error", err))
		return models.ErrInternalServer
	}

	if err := s.mail.SendPasswordReset(ctx, user.Email, token, created.ExpiresAt); err != nil {
		s.logger.Warn("reset link not delivered",
			slog.String("user_id", user.ID), slog.Any("error", err))
	}

	s.audit.LogAccountAction("password_reset_requested", user.ID, ip, nil)
	return nil
}

// ResetPassword redeems a link. Consuming the token and replacing the
// hash run in one transaction; a concurrent second redeem of the same
// link loses the compare-and-set and surfaces as a used token.
func (s *PasswordResetService) ResetPassword(ctx context.Context, token, password, passwordConfirm, ip string) error {
	if !opaqueTokenShape.MatchString(token) {
		s.logger.Info("reset token rejected: malformed")
		return models.ErrTokenMalformed
	}

	if err := pkgauth.ValidatePassword(password); err != nil {
		return models.ErrBadRequest
	}
	if password != passwordConfirm {
		return models.ErrBadRequest
	}

	reset, expired, err := s.resets.GetByTokenHash(ctx, hashToken(token))
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			s.logger.Info("reset token rejected: not found")
			return models.ErrNotFound
		}
		s.logger.Error("failed to look up reset token", slog.Any("error", err))
		return models.ErrInternalServer
	}
	if reset.Used {
		s.logger.Info("reset token rejected: already used", slog.String("user_id", reset.UserID))
		return models.ErrTokenUsed
	}
	if expired {
		s.logger.Info("reset token rejected: expired", slog.String("user_id", reset.UserID))
		return models.ErrTokenExpired
	}

	passwordHash, err := pkgauth.HashPassword(password)
	if err != nil {
		s.logger.Error("failed to hash password", slog.Any("error", err))
		return models.ErrInternalServer
	}

	err = s.db.WithTransaction(ctx, func(tx pgx.Tx) error {
		if err := s.resets.Consume(ctx, tx, reset.ID); err != nil {
			return err
		}
		return s.users.UpdatePassword(ctx, tx, reset.UserID, passwordHash)
	})
	if err != nil {
		if errors.Is(err, models.ErrTokenUsed) {
			return models.ErrTokenUsed
		}
		s.logger.Error("failed to reset password", slog.String("user_id", reset.UserID), slog.Any("error", err))
		return models.ErrInternalServer
	}

	s.audit.LogPasswordChange(reset.UserID, ip, true)
	return nil
}
