package services

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/pchan-tw/campusauth/internal/models"
	pkgauth "github.com/pchan-tw/campusauth/pkg/auth"
	pkglogger "github.com/pchan-tw/campusauth/pkg/logger"
)

// RegistrationService creates accounts and issues their bind links.
type RegistrationService struct {
	users       UserRepository
	links       MagicLinkRepository
	db          TxRunner
	mail        EmailService
	bindTTL     time.Duration
	localDomain string
	logger      *slog.Logger
	audit       *pkglogger.AuditLogger
}

func NewRegistrationService(users UserRepository, links MagicLinkRepository, db TxRunner, mail EmailService, bindTTL time.Duration, localDomain string, logger *slog.Logger, audit *pkglogger.AuditLogger) *RegistrationService {
	return &RegistrationService{
		users:       users,
		links:       links,
		db:          db,
		mail:        mail,
		bindTTL:     bindTTL,
		localDomain: localDomain,
		logger:      logger,
		audit:       audit,
	}
}

// RegisterInput is the validated registration payload.
type RegisterInput struct {
	Email           string
	Name            string
	Password        string
	PasswordConfirm string
	AccountType     string
	SchoolName      string
	StudentID       string
}

// Register creates the user and its bind-TOTP magic link in one
// transaction, then mails the link. Mail delivery is best-effort; the
// resend endpoint covers a lost message.
func (s *RegistrationService) Register(ctx context.Context, input RegisterInput, ip, userAgent string) (*models.User, error) {
	email := strings.ToLower(strings.TrimSpace(input.Email))
	name := strings.TrimSpace(input.Name)
	if email == "" || name == "" {
		return nil, models.ErrBadRequest
	}

	if err := pkgauth.ValidatePassword(input.Password); err != nil {
		return nil, models.ErrBadRequest
	}
	if input.Password != input.PasswordConfirm {
		return nil, models.ErrBadRequest
	}

	switch input.AccountType {
	case models.AccountTypeLocal, "":
		input.AccountType = models.AccountTypeLocal
		if !strings.HasSuffix(email, "@"+s.localDomain) {
			s.logger.Info("registration rejected: email outside institutional domain",
				slog.String("email", pkglogger.SanitizedEmail(email)))
			return nil, models.ErrBadRequest
		}
	case models.AccountTypeCross:
		if strings.TrimSpace(input.SchoolName) == "" {
			return nil, models.ErrBadRequest
		}
	default:
		return nil, models.ErrBadRequest
	}

	passwordHash, err := pkgauth.HashPassword(input.Password)
	if err != nil {
		s.logger.Error("failed to hash password", slog.Any("error", err))
		return nil, models.ErrInternalServer
	}

	token, err := newOpaqueToken()
	if err != nil {
		s.logger.Error("failed to generate bind token", slog.Any("error", err))
		return nil, models.ErrInternalServer
	}

	user := &models.User{
		Email:        email,
		Name:         name,
		PasswordHash: passwordHash,
		AccountType:  input.AccountType,
		SchoolName:   strings.TrimSpace(input.SchoolName),
		StudentID:    strings.TrimSpace(input.StudentID),
		// Off-campus accounts always carry the second-factor requirement.
		IsHighRisk:   input.AccountType == models.AccountTypeCross,
		IsFirstLogin: true,
	}

	var link *models.MagicLinkToken
	err = s.db.WithTransaction(ctx, func(tx pgx.Tx) error {
		created, err := s.users.Create(ctx, tx, user)
		if err != nil {
			return err
		}
		user = created

		link, err = s.links.Create(ctx, tx, user.ID, token, models.MagicLinkPurposeBindTOTP, s.bindTTL, ip, userAgent)
		return err
	})
	if err != nil {
		if errors.Is(err, models.ErrConflict) {
			s.logger.Info("registration rejected: email already registered",
				slog.String("email", pkglogger.SanitizedEmail(email)))
			return nil, models.ErrConflict
		}
		s.logger.Error("failed to register user", slog.Any("error", err))
		return nil, models.ErrInternalServer
	}

	if err := s.mail.SendBindLink(ctx, user.Email, token, link.ExpiresAt); err != nil {
		s.logger.Warn("bind link not delivered at registration",
			slog.String("user_id", user.ID), slog.Any("error", err))
	}

	s.audit.LogAccountAction("user_registered", user.ID, ip, map[string]string{
		"account_type": user.AccountType,
	})

	return user, nil
}
