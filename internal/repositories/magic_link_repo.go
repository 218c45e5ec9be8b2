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

// MagicLinkRepository stores emailed single-use tokens looked up by raw
// value. Expiry is always evaluated against the store's clock.
type MagicLinkRepository struct {
	pool *pgxpool.Pool
}

func NewMagicLinkRepository(db *database.DB) *MagicLinkRepository {
	return &MagicLinkRepository{pool: db.Pool}
}

const magicLinkColumns = `id, user_id, token, purpose, expires_at, used_at, ip, user_agent, created_at`

func scanMagicLinkRow(scanner rowScanner) (*models.MagicLinkToken, error) {
	var t models.MagicLinkToken
	var usedAt *time.Time
	var ip, ua *string

	err := scanner.Scan(
		&t.ID, &t.UserID, &t.Token, &t.Purpose,
		&t.ExpiresAt, &usedAt, &ip, &ua, &t.CreatedAt,
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

// Create inserts a token whose expiry is NOW()+ttl on the store clock.
func (r *MagicLinkRepository) Create(ctx context.Context, q database.Querier, userID, token, purpose string, ttl time.Duration, ip, userAgent string) (*models.MagicLinkToken, error) {
	query := `
		INSERT INTO email_magic_links (id, user_id, token, purpose, expires_at, ip, user_agent, created_at)
		VALUES ($1, $2, $3, $4, NOW() + ($5 * interval '1 second'), NULLIF($6, ''), NULLIF($7, ''), NOW())
		RETURNING ` + magicLinkColumns

	link, err := scanMagicLinkRow(orPool(q, r.pool).QueryRow(ctx, query,
		uuid.New().String(), userID, token, purpose, int64(ttl.Seconds()), ip, userAgent,
	))
	if err != nil {
		return nil, fmt.Errorf("failed to create magic link: %w", err)
	}
	return link, nil
}

// GetByToken fetches a token by raw value and purpose, reporting expiry
// as seen by the store clock at lookup time.
func (r *MagicLinkRepository) GetByToken(ctx context.Context, token, purpose string) (*models.MagicLinkToken, bool, error) {
	query := `
		SELECT ` + magicLinkColumns + `, expires_at <= NOW() AS expired
		FROM email_magic_links
		WHERE token = $1 AND purpose = $2
	`

	var t models.MagicLinkToken
	var usedAt *time.Time
	var ip, ua *string
	var expired bool

	err := r.pool.QueryRow(ctx, query, token, purpose).Scan(
		&t.ID, &t.UserID, &t.Token, &t.Purpose,
		&t.ExpiresAt, &usedAt, &ip, &ua, &t.CreatedAt,
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

// MarkUsed consumes a token. The predicate on used_at makes this a
// compare-and-set: of two concurrent redemptions exactly one sees a row
// updated, the other gets ErrTokenUsed.
func (r *MagicLinkRepository) MarkUsed(ctx context.Context, q database.Querier, id string) error {
	query := `
		UPDATE email_magic_links
		SET used_at = NOW()
		WHERE id = $1 AND used_at IS NULL
	`

	result, err := orPool(q, r.pool).Exec(ctx, query, id)
	if err != nil {
		return fmt.Errorf("failed to mark magic link used: %w", err)
	}
	if result.RowsAffected() == 0 {
		return models.ErrTokenUsed
	}
	return nil
}

// PurgeStale deletes tokens that are consumed or expired and older than
// the retention window. Recent rows stay around for support queries.
func (r *MagicLinkRepository) PurgeStale(ctx context.Context, retention time.Duration) (int64, error) {
	query := `
		DELETE FROM email_magic_links
		WHERE (used_at IS NOT NULL OR expires_at <= NOW())
		  AND created_at < NOW() - ($1 * interval '1 second')
	`

	result, err := r.pool.Exec(ctx, query, int64(retention.Seconds()))
	if err != nil {
		return 0, fmt.Errorf("failed to purge stale magic links: %w", err)
	}
	return result.RowsAffected(), nil
}

// LatestIssuedAt returns when the newest token for this user/purpose was
// created, together with the store's current time, so the resend
// cooldown is measured on one clock.
func (r *MagicLinkRepository) LatestIssuedAt(ctx context.Context, userID, purpose string) (time.Time, time.Time, error) {
	query := `
		SELECT created_at, NOW()
		FROM email_magic_links
		WHERE user_id = $1 AND purpose = $2
		ORDER BY created_at DESC
		LIMIT 1
	`

	var createdAt, now time.Time
	if err := r.pool.QueryRow(ctx, query, userID, purpose).Scan(&createdAt, &now); err != nil {
		return time.Time{}, time.Time{}, database.MapPostgresError(err)
	}
	return createdAt, now, nil
}
