package repositories

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/pchan-tw/campusauth/internal/database"
	"github.com/pchan-tw/campusauth/internal/models"
)

// TOTPSecretRepository stores shared secrets. Rows are append-only; the
// newest row per user is the effective secret.
type TOTPSecretRepository struct {
	pool *pgxpool.Pool
}

func NewTOTPSecretRepository(db *database.DB) *TOTPSecretRepository {
	return &TOTPSecretRepository{pool: db.Pool}
}

func scanSecretRow(scanner rowScanner) (*models.TOTPSecret, error) {
	var s models.TOTPSecret
	if err := scanner.Scan(&s.ID, &s.UserID, &s.Secret, &s.CreatedAt); err != nil {
		return nil, database.MapPostgresError(err)
	}
	return &s, nil
}

// GetCurrent returns the newest secret for a user, or ErrNotFound when
// none has been created yet.
func (r *TOTPSecretRepository) GetCurrent(ctx context.Context, userID string) (*models.TOTPSecret, error) {
	query := `
		SELECT id, user_id, secret, created_at
		FROM totp_secrets
		WHERE user_id = $1
		ORDER BY created_at DESC, id DESC
		LIMIT 1
	`
	return scanSecretRow(r.pool.QueryRow(ctx, query, userID))
}

// GetCurrentTx is GetCurrent inside a caller-owned transaction, used by
// the lookup-or-create path so two concurrent redemptions of the same
// bind link cannot each mint a secret. Row locks cover nothing when the
// user has no row yet, so the lookup is serialized on a per-user
// advisory lock held until the transaction ends.
func (r *TOTPSecretRepository) GetCurrentTx(ctx context.Context, q database.Querier, userID string) (*models.TOTPSecret, error) {
	if _, err := q.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, userID); err != nil {
		return nil, database.MapPostgresError(err)
	}

	query := `
		SELECT id, user_id, secret, created_at
		FROM totp_secrets
		WHERE user_id = $1
		ORDER BY created_at DESC, id DESC
		LIMIT 1
	`
	return scanSecretRow(q.QueryRow(ctx, query, userID))
}

func (r *TOTPSecretRepository) Create(ctx context.Context, q database.Querier, userID, secret string) (*models.TOTPSecret, error) {
	query := `
		INSERT INTO totp_secrets (id, user_id, secret, created_at)
		VALUES ($1, $2, $3, NOW())
		RETURNING id, user_id, secret, created_at
	`
	return scanSecretRow(orPool(q, r.pool).QueryRow(ctx, query, uuid.New().String(), userID, secret))
}
