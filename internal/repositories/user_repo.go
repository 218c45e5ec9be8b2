package repositories

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/pchan-tw/campusauth/internal/database"
	"github.com/pchan-tw/campusauth/internal/models"
)

type UserRepository struct {
	pool *pgxpool.Pool
}

func NewUserRepository(db *database.DB) *UserRepository {
	return &UserRepository{pool: db.Pool}
}

// rowScanner interface for scanning rows (supports both single row and multiple rows)
type rowScanner interface {
	Scan(dest ...interface{}) error
}

const userColumns = `id, email, name, password_hash, account_type, school_name, student_id, is_high_risk, is_first_login, created_at, updated_at`

// orPool lets single-statement calls pass a nil Querier and run against
// the repository's own pool; transactional callers pass their pgx.Tx.
func orPool(q database.Querier, pool *pgxpool.Pool) database.Querier {
	if q == nil {
		return pool
	}
	return q
}

func scanUserRow(scanner rowScanner) (*models.User, error) {
	var user models.User
	var schoolName, studentID *string

	err := scanner.Scan(
		&user.ID, &user.Email, &user.Name, &user.PasswordHash,
		&user.AccountType, &schoolName, &studentID,
		&user.IsHighRisk, &user.IsFirstLogin,
		&user.CreatedAt, &user.UpdatedAt,
	)
	if err != nil {
		return nil, database.MapPostgresError(err)
	}

	if schoolName != nil {
		user.SchoolName = *schoolName
	}
	if studentID != nil {
		user.StudentID = *studentID
	}

	return &user, nil
}

func (r *UserRepository) GetByID(ctx context.Context, id string) (*models.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE id = $1`
	return scanUserRow(r.pool.QueryRow(ctx, query, id))
}

func (r *UserRepository) GetByEmail(ctx context.Context, email string) (*models.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE email = $1`
	return scanUserRow(r.pool.QueryRow(ctx, query, email))
}

// Create inserts a user through q so that registration can group it with
// the magic-link insert in one transaction.
func (r *UserRepository) Create(ctx context.Context, q database.Querier, user *models.User) (*models.User, error) {
	q = orPool(q, r.pool)
	user.ID = uuid.New().String()

	now := time.Now()
	user.CreatedAt = now
	user.UpdatedAt = now

	if user.AccountType == "" {
		user.AccountType = models.AccountTypeLocal
	}

	var schoolName, studentID *string
	if user.SchoolName != "" {
		schoolName = &user.SchoolName
	}
	if user.StudentID != "" {
		studentID = &user.StudentID
	}

	query := `
		INSERT INTO users (id, email, name, password_hash, account_type, school_name, student_id, is_high_risk, is_first_login, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		RETURNING ` + userColumns

	return scanUserRow(q.QueryRow(ctx, query,
		user.ID, user.Email, user.Name, user.PasswordHash,
		user.AccountType, schoolName, studentID,
		user.IsHighRisk, user.IsFirstLogin,
		user.CreatedAt, user.UpdatedAt,
	))
}

// UpdatePassword replaces the password hash. Runs through q so that the
// reset flow can consume the token in the same transaction.
func (r *UserRepository) UpdatePassword(ctx context.Context, q database.Querier, userID, passwordHash string) error {
	query := `UPDATE users SET password_hash = $1, updated_at = NOW() WHERE id = $2`

	result, err := orPool(q, r.pool).Exec(ctx, query, passwordHash, userID)
	if err != nil {
		return database.MapPostgresError(err)
	}
	if result.RowsAffected() == 0 {
		return models.ErrNotFound
	}
	return nil
}

// MarkFirstLoginDone flips is_first_login off. Idempotent: flipping an
// already-flipped flag is a successful no-op, so forced-setup completion
// can be retried safely.
func (r *UserRepository) MarkFirstLoginDone(ctx context.Context, q database.Querier, userID string) error {
	query := `UPDATE users SET is_first_login = FALSE, updated_at = NOW() WHERE id = $1`

	result, err := orPool(q, r.pool).Exec(ctx, query, userID)
	if err != nil {
		return database.MapPostgresError(err)
	}
	if result.RowsAffected() == 0 {
		return models.ErrNotFound
	}
	return nil
}
