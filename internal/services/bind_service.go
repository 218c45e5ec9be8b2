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
	"github.com/pchan-tw/campusauth/internal/totp"
	pkglogger "github.com/pchan-tw/campusauth/pkg/logger"
)

// MagicLinkRepository defines the interface for emailed single-use tokens
type MagicLinkRepository interface {
	Create(ctx context.Context, q database.Querier, userID, token, purpose string, ttl time.Duration, ip, userAgent string) (*models.MagicLinkToken, error)
	GetByToken(ctx context.Context, token, purpose string) (*models.MagicLinkToken, bool, error)
	MarkUsed(ctx context.Context, q database.Querier, id string) error
	LatestIssuedAt(ctx context.Context, userID, purpose string) (time.Time, time.Time, error)
}

// BindService redeems bind-TOTP magic links. A link is redeemed in two
// requests: GET shows the provisioning material (idempotent), POST of a
// valid code consumes the token. The flow never creates a session.
type BindService struct {
	users    UserRepository
	secrets  TOTPSecretRepository
	links    MagicLinkRepository
	db       TxRunner
	mail     EmailService
	issuer   string
	bindTTL  time.Duration
	cooldown time.Duration
	logger   *slog.Logger
	audit    *pkglogger.AuditLogger
}

func NewBindService(users UserRepository, secrets TOTPSecretRepository, links MagicLinkRepository, db TxRunner, mail EmailService, issuer string, bindTTL, cooldown time.Duration, logger *slog.Logger, audit *pkglogger.AuditLogger) *BindService {
	return &BindService{
		users:    users,
		secrets:  secrets,
		links:    links,
		db:       db,
		mail:     mail,
		issuer:   issuer,
		bindTTL:  bindTTL,
		cooldown: cooldown,
		logger:   logger,
		audit:    audit,
	}
}

// BindResponse carries what the bind page needs to render.
type BindResponse struct {
	Account         string `json:"account"`
	Secret          string `json:"secret"`
	ProvisioningURI string `json:"provisioning_uri"`
}

// resolveLink validates the token through the full chain. The caller
// surfaces every failure as one generic message; the distinct sentinels
// exist for logs and tests.
func (s *BindService) resolveLink(ctx context.Context, token string) (*models.MagicLinkToken, error) {
	if !opaqueTokenShape.MatchString(token) {
		s.logger.Info("bind token rejected: malformed")
		return nil, models.ErrTokenMalformed
	}

	link, expired, err := s.links.GetByToken(ctx, token, models.MagicLinkPurposeBindTOTP)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			s.logger.Info("bind token rejected: not found")
			return nil, models.ErrNotFound
		}
		s.logger.Error("failed to look up bind token", slog.Any("error", err))
		return nil, models.ErrInternalServer
	}
	if link.IsUsed() {
		s.logger.Info("bind token rejected: already used", slog.String("user_id", link.UserID))
		return nil, models.ErrTokenUsed
	}
	if expired {
		s.logger.Info("bind token rejected: expired", slog.String("user_id", link.UserID))
		return nil, models.ErrTokenExpired
	}
	return link, nil
}

// Redeem resolves a live link into provisioning material. Lookup-or-create
// under a per-user advisory lock: reloading the page, or two concurrent
// visits, keep returning the same secret. The token itself stays live
// until a code is confirmed.
func (s *BindService) Redeem(ctx context.Context, token string) (*BindResponse, error) {
	link, err := s.resolveLink(ctx, token)
	if err != nil {
		return nil, err
	}

	user, err := s.users.GetByID(ctx, link.UserID)
	if err != nil {
		s.logger.Error("failed to load bind link owner", slog.String("user_id", link.UserID), slog.Any("error", err))
		return nil, models.ErrInternalServer
	}

	var secret *models.TOTPSecret
	err = s.db.WithTransaction(ctx, func(tx pgx.Tx) error {
		var err error
		secret, err = s.secrets.GetCurrentTx(ctx, tx, user.ID)
		if errors.Is(err, models.ErrNotFound) {
			raw, genErr := totp.GenerateSecret(20)
			if genErr != nil {
				return genErr
			}
			secret, err = s.secrets.Create(ctx, tx, user.ID, raw)
		}
		return err
	})
	if err != nil {
		s.logger.Error("failed to prepare bind secret", slog.String("user_id", user.ID), slog.Any("error", err))
		return nil, models.ErrInternalServer
	}

	return &BindResponse{
		Account:         user.Email,
		Secret:          secret.Secret,
		ProvisioningURI: totp.BuildProvisioningURI(s.issuer, user.Email, secret.Secret, totpDigits, totpPeriod),
	}, nil
}

// Confirm checks the first code from the newly provisioned app and only
// then consumes the token. A wrong code leaves the link live so the user
// can retry from the same email.
func (s *BindService) Confirm(ctx context.Context, token, code string) error {
	link, err := s.resolveLink(ctx, token)
	if err != nil {
		return err
	}

	secret, err := s.secrets.GetCurrent(ctx, link.UserID)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			// Code posted before the page was ever loaded.
			return models.ErrUnauthorized
		}
		s.logger.Error("failed to load bind secret", slog.String("user_id", link.UserID), slog.Any("error", err))
		return models.ErrInternalServer
	}

	if !totp.Verify(secret.Secret, code, totpPeriod, totpDigits, totpSkew) {
		return models.ErrUnauthorized
	}

	if err := s.links.MarkUsed(ctx, nil, link.ID); err != nil {
		if errors.Is(err, models.ErrTokenUsed) {
			return models.ErrTokenUsed
		}
		s.logger.Error("failed to consume bind token", slog.String("user_id", link.UserID), slog.Any("error", err))
		return models.ErrInternalServer
	}

	s.audit.LogAccountAction("totp_bound", link.UserID, "", nil)
	return nil
}

// Resend issues a fresh link, at most one per cooldown window per
// account. An unknown email reports success so the endpoint does not
// become an account oracle.
func (s *BindService) Resend(ctx context.Context, email, ip, userAgent string) error {
	email = strings.ToLower(strings.TrimSpace(email))

	user, err := s.users.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			s.logger.Info("bind resend for unknown account",
				slog.String("email", pkglogger.SanitizedEmail(email)))
			return nil
		}
		s.logger.Error("failed to get user by email", slog.Any("error", err))
		return models.ErrInternalServer
	}

	// Cooldown measured on the store clock so replicas agree.
	createdAt, now, err := s.links.LatestIssuedAt(ctx, user.ID, models.MagicLinkPurposeBindTOTP)
	switch {
	case err == nil:
		if now.Sub(createdAt) < s.cooldown {
			return models.ErrResendThrottled
		}
	case errors.Is(err, models.ErrNotFound):
		// No prior link; proceed.
	default:
		s.logger.Error("failed to check resend cooldown", slog.Any("error", err))
		return models.ErrInternalServer
	}

	token, err := newOpaqueToken()
	if err != nil {
		s.logger.Error("failed to generate bind token", slog.Any("error", err))
		return models.ErrInternalServer
	}

	link, err := s.links.Create(ctx, nil, user.ID, token, models.MagicLinkPurposeBindTOTP, s.bindTTL, ip, userAgent)
	if err != nil {
		s.logger.Error("failed to create bind token", slog.Any("error", err))
		return models.ErrInternalServer
	}

	if err := s.mail.SendBindLink(ctx, user.Email, token, link.ExpiresAt); err != nil {
		s.logger.Warn("bind link resend not delivered",
			slog.String("user_id", user.ID), slog.Any("error", err))
	}

	s.audit.LogAccountAction("bind_link_resent", user.ID, ip, nil)
	return nil
}
