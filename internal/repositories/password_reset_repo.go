package repositories

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/pchan-tw/campusauth/internal/database"
	"github.com/pchan-tw/campusauth/internal/models"
)

// PasswordResetRepository stores reset tokens by digest only.
type PasswordResetRepository struct {
	pool *pgxpool.Pool
}

func NewPasswordResetRepository(db *database.DB) *PasswordResetRepository {
	return &PasswordResetRepository{pool: db.Pool}
}

const passwordResetColumns = `id, user_id, token_hash, expires_at, used, used_at, ip, user_agent, created_at`

func scanResetRow(scanner rowScanner) (*models.PasswordResetToken, error) {
	var t models.PasswordResetToken
	var usedAt *time.Time
	var ip, ua *string

	err := scanner.Scan(
		&t.ID, &t.UserID, &t.TokenHash,
		&t.ExpiresAt, &t.Used, &usedAt, &ip, &ua, &t.CreatedAt,
	)
	if err != nil {
		return nil, database.MapPostgresError(err)
	}

	t.UsedAt = usedAt
	if ip != nil {
		t.IP = *ip
	}
	if ua != nil {
		t.UserAgent = *ua
	}
	return &t, nil
}

// InvalidateUnused marks every still-unused token of a user as used.
// Issuance calls this in the same transaction as the new insert so only
// the newest link ever works.
func (r *PasswordResetRepository) InvalidateUnused(ctx context.Context, q database.Querier, userID string) error {
	query := `
		UPDATE password_resets
		SET used = TRUE, used_at = NOW()
		WHERE user_id = $1 AND used = FALSE
	`

	if _, err := orPool(q, r.pool).Exec(ctx, query, userID); err != nil {
		return fmt.Errorf("failed to invalidate prior reset tokens: %w", err)
	}
	return nil
}

// Create inserts a token row; expiry is NOW()+ttl on the store clock.
func (r *PasswordResetRepository) Create(ctx context.Context, q database.Querier, userID, tokenHash string, ttl time.Duration, ip, userAgent string) (*models.PasswordResetToken, error) {
	query := `
		INSERT INTO password_resets (id, user_id, token_hash, expires_at, ip, user_agent, created_at)
		VALUES ($1, $2, $3, NOW() + ($4 * interval '1 second'), NULLIF($5, ''), NULLIF($6, ''), NOW())
		RETURNING ` + passwordResetColumns

	token, err := scanResetRow(orPool(q, r.pool).QueryRow(ctx, query,
		uuid.New().String(), userID, tokenHash, int64(ttl.Seconds()), ip, userAgent,
	))
	if err != nil {
		return nil, fmt.Errorf("failed to create password reset token: %w", err)
	}
	return token, nil
}

// GetByTokenHash fetches a token by digest, reporting expiry as seen by
// the store clock at lookup time.
func (r *PasswordResetRepository) GetByTokenHash(ctx context.Context, tokenHash string) (*models.PasswordResetToken, bool, error) {
	query := `
		SELECT ` + passwordResetColumns + `, expires_at <= NOW() AS expired
		FROM password_resets
		WHERE token_hash = $1
	`

	var t models.PasswordResetToken
	var usedAt *time.Time
	var ip, ua *string
	var expired bool

	err := r.pool.QueryRow(ctx, query, tokenHash).Scan(
		&t.ID, &t.UserID, &t.TokenHash,
		&t.ExpiresAt, &t.Used, &usedAt, &ip, &ua, &t.CreatedAt,
		&expired,
	)
	if err != nil {
		return nil, false, database.MapPostgresError(err)
	}

	t.UsedAt = usedAt
	if ip != nil {
		t.IP = *ip
	}
	if ua != nil {
		t.UserAgent = *ua
	}
	return &t, expired, nil
}

// PurgeStale deletes tokens that are consumed or expired and older than
// the retention window.
func (r *PasswordResetRepository) PurgeStale(ctx context.Context, retention time.Duration) (int64, error) {
	query := `
		DELETE FROM password_resets
		WHERE (used = TRUE OR expires_at <= NOW())
		  AND created_at < NOW() - ($1 * interval '1 second')
	`

	result, err := r.pool.Exec(ctx, query, int64(retention.Seconds()))
	if err != nil {
		return 0, fmt.Errorf("failed to purge stale reset tokens: %w", err)
	}
	return result.RowsAffected(), nil
}

// Consume marks one token used. Compare-and-set on used=FALSE: run it in
// the same transaction as the password update so neither can land
// without the other, and so a concurrent second consume observes
// ErrTokenUsed.
func (r *PasswordResetRepository) Consume(ctx context.Context, q database.Querier, id string) error {
	query := `
		UPDATE password_resets
		SET used = TRUE, used_at = NOW()
		WHERE id = $1 AND used = FALSE
	`

	result, err := orPool(q, r.pool).Exec(ctx, query, id)
	if err != nil {
		return fmt.Errorf("failed to consume reset token: %w", err)
	}
	if result.RowsAffected() == 0 {
		return models.ErrTokenUsed
	}
	return nil
}
