package services

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/pchan-tw/campusauth/internal/auth"
	"github.com/pchan-tw/campusauth/internal/database"
	"github.com/pchan-tw/campusauth/internal/models"
	"github.com/pchan-tw/campusauth/internal/session"
	"github.com/pchan-tw/campusauth/internal/totp"
	pkgauth "github.com/pchan-tw/campusauth/pkg/auth"
	pkglogger "github.com/pchan-tw/campusauth/pkg/logger"
)

// UserRepository defines the interface for user storage
type UserRepository interface {
	GetByID(ctx context.Context, id string) (*models.User, error)
	GetByEmail(ctx context.Context, email string) (*models.User, error)
	Create(ctx context.Context, q database.Querier, user *models.User) (*models.User, error)
	UpdatePassword(ctx context.Context, q database.Querier, userID, passwordHash string) error
	MarkFirstLoginDone(ctx context.Context, q database.Querier, userID string) error
}

// TOTPSecretRepository defines the interface for shared-secret storage
type TOTPSecretRepository interface {
	GetCurrent(ctx context.Context, userID string) (*models.TOTPSecret, error)
	GetCurrentTx(ctx context.Context, q database.Querier, userID string) (*models.TOTPSecret, error)
	Create(ctx context.Context, q database.Querier, userID, secret string) (*models.TOTPSecret, error)
}

// LoginLogRepository defines the interface for the append-only attempt log
type LoginLogRepository interface {
	Create(ctx context.Context, q database.Querier, userID, email *string, ip, userAgent string, success bool) error
	ListRecentByUser(ctx context.Context, userID string, limit int) ([]*models.LoginLog, error)
}

// TxRunner groups repository calls into one transaction. Satisfied by
// *database.DB.
type TxRunner interface {
	WithTransaction(ctx context.Context, fn func(pgx.Tx) error) error
}

const (
	totpDigits = 6
	totpPeriod = 30 * time.Second
	totpSkew   = 1
)

// LoginService drives the login sequence. Each method takes the caller's
// current session state and returns the successor state; the state value
// itself lives in the signed cookie, never in the service.
type LoginService struct {
	users   UserRepository
	secrets TOTPSecretRepository
	logs    LoginLogRepository
	db      TxRunner
	delay   auth.FailureDelay
	issuer  string
	logger  *slog.Logger
	audit   *pkglogger.AuditLogger
}

func NewLoginService(users UserRepository, secrets TOTPSecretRepository, logs LoginLogRepository, db TxRunner, delay auth.FailureDelay, issuer string, logger *slog.Logger, audit *pkglogger.AuditLogger) *LoginService {
	return &LoginService{
		users:   users,
		secrets: secrets,
		logs:    logs,
		db:      db,
		delay:   delay,
		issuer:  issuer,
		logger:  logger,
		audit:   audit,
	}
}

// SetupResponse carries what the forced-setup page needs to render.
type SetupResponse struct {
	Account         string `json:"account"`
	Secret          string `json:"secret"`
	ProvisioningURI string `json:"provisioning_uri"`
}

// IdentifyEmail resolves the first step. The two-step flow deliberately
// confirms account existence here; the generic-error discipline starts
// at the password step.
func (s *LoginService) IdentifyEmail(ctx context.Context, st session.State, email string) (session.State, *models.User, error) {
	if !st.Is(session.StatusAnonymous) && !st.Is(session.StatusEmailConfirmed) {
		return st, nil, models.ErrInvalidState
	}

	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" {
		return st, nil, models.ErrBadRequest
	}

	user, err := s.users.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			s.logger.Info("identify failed: unknown account",
				slog.String("email", pkglogger.SanitizedEmail(email)))
			return st, nil, models.ErrNotFound
		}
		s.logger.Error("failed to get user by email", slog.Any("error", err))
		return st, nil, models.ErrInternalServer
	}

	return st.WithEmailConfirmed(user.ID, user.Email, user.Name, ""), user, nil
}

// IssueChallenge mints a fresh challenge code for the password step and
// stores only its digest in the successor state. Reissuing replaces any
// earlier code; each code is good for one attempt.
func (s *LoginService) IssueChallenge(st session.State) (session.State, string, error) {
	if !st.Is(session.StatusEmailConfirmed) {
		return st, "", models.ErrInvalidState
	}

	code, err := auth.GenerateChallenge()
	if err != nil {
		s.logger.Error("failed to generate challenge", slog.Any("error", err))
		return st, "", models.ErrInternalServer
	}

	return st.WithChallenge(auth.HashChallenge(code)), code, nil
}

// VerifyPassword runs the second step: challenge code first, then the
// password. Every attempt writes a login_logs row, the challenge is
// spent either way, and failures are padded to a minimum elapsed time.
func (s *LoginService) VerifyPassword(ctx context.Context, st session.State, password, challenge, ip, userAgent string) (session.State, *models.User, error) {
	if !st.Is(session.StatusEmailConfirmed) {
		return st, nil, models.ErrInvalidState
	}
	start := time.Now()

	if st.ChallengeHash == "" || !auth.VerifyChallenge(st.ChallengeHash, challenge) {
		s.recordAttempt(ctx, st.UserID, st.Email, ip, userAgent, false)
		s.audit.LogAuthAttempt(pkglogger.AuditEvent{
			EventType:     "login_failed",
			UserID:        st.UserID,
			IPAddress:     ip,
			FailureReason: "challenge_mismatch",
			Success:       false,
		})
		s.delay.Wait(start)
		return st.WithChallenge(""), nil, models.ErrChallengeMismatch
	}
	// Spent regardless of what the password check says below.
	st = st.WithChallenge("")

	user, err := s.users.GetByID(ctx, st.UserID)
	if err != nil {
		s.logger.Error("failed to load identified user", slog.String("user_id", st.UserID), slog.Any("error", err))
		s.delay.Wait(start)
		return st, nil, models.ErrInternalServer
	}

	if err := pkgauth.ComparePassword(user.PasswordHash, password); err != nil {
		s.recordAttempt(ctx, user.ID, user.Email, ip, userAgent, false)
		s.audit.LogAuthAttempt(pkglogger.AuditEvent{
			EventType:     "login_failed",
			UserID:        user.ID,
			IPAddress:     ip,
			FailureReason: "invalid_credentials",
			Success:       false,
		})
		s.delay.Wait(start)
		return st, nil, models.ErrUnauthorized
	}

	next := session.StatusAuthenticated
	if user.IsHighRisk {
		next = session.StatusSecondFactorPending
		if user.IsFirstLogin {
			next = session.StatusForcedSetupPending
		} else if _, err := s.secrets.GetCurrent(ctx, user.ID); errors.Is(err, models.ErrNotFound) {
			// High-risk account with no bound authenticator falls
			// back into setup rather than an unpassable code prompt.
			next = session.StatusForcedSetupPending
		}
	}

	if next == session.StatusAuthenticated {
		s.recordAttempt(ctx, user.ID, user.Email, ip, userAgent, true)
		s.audit.LogAuthAttempt(pkglogger.AuditEvent{
			EventType: "login_success",
			UserID:    user.ID,
			IPAddress: ip,
			Success:   true,
		})
	}

	return st.WithStatus(next), user, nil
}

// VerifyTOTP runs the second factor against the account's newest bound
// secret.
func (s *LoginService) VerifyTOTP(ctx context.Context, st session.State, code, ip, userAgent string) (session.State, error) {
	if !st.Is(session.StatusSecondFactorPending) {
		return st, models.ErrInvalidState
	}
	start := time.Now()

	secret, err := s.secrets.GetCurrent(ctx, st.UserID)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			s.logger.Warn("totp step reached with no bound secret", slog.String("user_id", st.UserID))
			s.delay.Wait(start)
			return st, models.ErrUnauthorized
		}
		s.logger.Error("failed to load totp secret", slog.String("user_id", st.UserID), slog.Any("error", err))
		return st, models.ErrInternalServer
	}

	if !totp.Verify(secret.Secret, code, totpPeriod, totpDigits, totpSkew) {
		s.recordAttempt(ctx, st.UserID, st.Email, ip, userAgent, false)
		s.audit.LogAuthAttempt(pkglogger.AuditEvent{
			EventType:     "login_failed",
			UserID:        st.UserID,
			IPAddress:     ip,
			FailureReason: "invalid_totp",
			Success:       false,
		})
		s.delay.Wait(start)
		return st, models.ErrUnauthorized
	}

	s.recordAttempt(ctx, st.UserID, st.Email, ip, userAgent, true)
	s.audit.LogAuthAttempt(pkglogger.AuditEvent{
		EventType: "login_success",
		UserID:    st.UserID,
		IPAddress: ip,
		Success:   true,
	})

	return st.WithStatus(session.StatusAuthenticated), nil
}

// BeginSetup returns the provisioning material for the forced first-login
// setup page. Lookup-or-create inside one transaction: reloading the page
// keeps showing the same secret instead of minting another.
func (s *LoginService) BeginSetup(ctx context.Context, st session.State) (*SetupResponse, error) {
	if !st.Is(session.StatusForcedSetupPending) {
		return nil, models.ErrInvalidState
	}

	var secret *models.TOTPSecret
	err := s.db.WithTransaction(ctx, func(tx pgx.Tx) error {
		var err error
		secret, err = s.secrets.GetCurrentTx(ctx, tx, st.UserID)
		if errors.Is(err, models.ErrNotFound) {
			raw, genErr := totp.GenerateSecret(20)
			if genErr != nil {
				return genErr
			}
			secret, err = s.secrets.Create(ctx, tx, st.UserID, raw)
		}
		return err
	})
	if err != nil {
		s.logger.Error("failed to prepare setup secret", slog.String("user_id", st.UserID), slog.Any("error", err))
		return nil, models.ErrInternalServer
	}

	return &SetupResponse{
		Account:         st.Email,
		Secret:          secret.Secret,
		ProvisioningURI: totp.BuildProvisioningURI(s.issuer, st.Email, secret.Secret, totpDigits, totpPeriod),
	}, nil
}

// CompleteSetup verifies the first code from the newly bound app, then
// flips is_first_login and writes the success row in one transaction
// before the session is promoted.
func (s *LoginService) CompleteSetup(ctx context.Context, st session.State, code, ip, userAgent string) (session.State, error) {
	if !st.Is(session.StatusForcedSetupPending) {
		return st, models.ErrInvalidState
	}
	start := time.Now()

	secret, err := s.secrets.GetCurrent(ctx, st.UserID)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			// Code submitted before the setup page was ever loaded.
			s.delay.Wait(start)
			return st, models.ErrUnauthorized
		}
		s.logger.Error("failed to load totp secret", slog.String("user_id", st.UserID), slog.Any("error", err))
		return st, models.ErrInternalServer
	}

	if !totp.Verify(secret.Secret, code, totpPeriod, totpDigits, totpSkew) {
		s.recordAttempt(ctx, st.UserID, st.Email, ip, userAgent, false)
		s.delay.Wait(start)
		return st, models.ErrUnauthorized
	}

	userID, email := st.UserID, st.Email
	err = s.db.WithTransaction(ctx, func(tx pgx.Tx) error {
		if err := s.users.MarkFirstLoginDone(ctx, tx, userID); err != nil {
			return err
		}
		return s.logs.Create(ctx, tx, &userID, &email, ip, userAgent, true)
	})
	if err != nil {
		s.logger.Error("failed to complete forced setup", slog.String("user_id", userID), slog.Any("error", err))
		return st, models.ErrInternalServer
	}

	s.audit.LogAccountAction("totp_setup_completed", userID, ip, nil)

	return st.WithStatus(session.StatusAuthenticated), nil
}

// ChangeAccount abandons the pending sequence with no other side effects.
func (s *LoginService) ChangeAccount(st session.State) session.State {
	return st.Reset()
}

// Logout records the end of a session. Dropping the cookie is the
// handler's job; the service's part is the audit trail, and only
// completed logins are worth a row there.
func (s *LoginService) Logout(st session.State) {
	if st.IsAuthenticated() {
		s.audit.LogAccountAction("logout", st.UserID, "", nil)
	}
}

// CurrentUser returns the account behind an authenticated session.
func (s *LoginService) CurrentUser(ctx context.Context, st session.State) (*models.User, error) {
	if !st.IsAuthenticated() {
		return nil, models.ErrUnauthorized
	}

	user, err := s.users.GetByID(ctx, st.UserID)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return nil, models.ErrUnauthorized
		}
		s.logger.Error("failed to load current user", slog.String("user_id", st.UserID), slog.Any("error", err))
		return nil, models.ErrInternalServer
	}
	return user, nil
}

// RecentActivity lists the newest login attempts against the account, so
// a signed-in user can spot attempts that were not theirs.
func (s *LoginService) RecentActivity(ctx context.Context, st session.State, limit int) ([]*models.LoginLog, error) {
	if !st.IsAuthenticated() {
		return nil, models.ErrUnauthorized
	}

	logs, err := s.logs.ListRecentByUser(ctx, st.UserID, limit)
	if err != nil {
		s.logger.Error("failed to list login activity", slog.String("user_id", st.UserID), slog.Any("error", err))
		return nil, models.ErrInternalServer
	}
	return logs, nil
}

// recordAttempt appends a login_logs row. The log is best-effort: a
// storage hiccup must not change the outcome of the attempt itself.
func (s *LoginService) recordAttempt(ctx context.Context, userID, email, ip, userAgent string, success bool) {
	var uid, em *string
	if userID != "" {
		uid = &userID
	}
	if email != "" {
		em = &email
	}
	if err := s.logs.Create(ctx, nil, uid, em, ip, userAgent, success); err != nil {
		s.logger.Error("failed to write login log", slog.Any("error", err))
	}
}
