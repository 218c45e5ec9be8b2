package repositories

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/pchan-tw/campusauth/internal/database"
	"github.com/pchan-tw/campusauth/internal/models"
)

// LoginLogRepository appends login attempt records. Rows are never
// updated or deleted.
type LoginLogRepository struct {
	pool *pgxpool.Pool
}

func NewLoginLogRepository(db *database.DB) *LoginLogRepository {
	return &LoginLogRepository{pool: db.Pool}
}

// Create appends one attempt. userID and email are nullable: pass what
// was resolvable at the point of failure.
func (r *LoginLogRepository) Create(ctx context.Context, q database.Querier, userID, email *string, ip, userAgent string, success bool) error {
	query := `
		INSERT INTO login_logs (id, user_id, email, ip, user_agent, success, created_at)
		VALUES ($1, $2, $3, NULLIF($4, ''), NULLIF($5, ''), $6, NOW())
	`

	if _, err := orPool(q, r.pool).Exec(ctx, query, uuid.New().String(), userID, email, ip, userAgent, success); err != nil {
		return fmt.Errorf("failed to write login log: %w", err)
	}
	return nil
}

// ListRecentByUser returns the newest attempts for a user, newest first.
func (r *LoginLogRepository) ListRecentByUser(ctx context.Context, userID string, limit int) ([]*models.LoginLog, error) {
	if limit <= 0 {
		limit = 20
	}

	query := `
		SELECT id, user_id, email, ip, user_agent, success, created_at
		FROM login_logs
		WHERE user_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`

	rows, err := r.pool.Query(ctx, query, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query login logs: %w", err)
	}
	defer rows.Close()

	logs := make([]*models.LoginLog, 0)
	for rows.Next() {
		var l models.LoginLog
		var ip, ua *string
		if err := rows.Scan(&l.ID, &l.UserID, &l.Email, &ip, &ua, &l.Success, &l.CreatedAt); err != nil {
			return nil, database.MapPostgresError(err)
		}
		if ip != nil {
			l.IP = *ip
		}
		if ua != nil {
			l.UserAgent = *ua
		}
		logs = append(logs, &l)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating login log rows: %w", err)
	}

	return logs, nil
}
