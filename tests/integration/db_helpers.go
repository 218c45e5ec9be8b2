package integration

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"log"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/pchan-tw/campusauth/internal/database"
	"github.com/pchan-tw/campusauth/internal/models"
	"github.com/pchan-tw/campusauth/internal/repositories"
	pkgauth "github.com/pchan-tw/campusauth/pkg/auth"
)

// TestDB manages PostgreSQL testcontainer and database operations
type TestDB struct {
	Container  testcontainers.Container
	ConnString string
	Pool       *pgxpool.Pool
	DB         *database.DB
}

// SetupTestDatabase creates a PostgreSQL testcontainer, runs migrations, returns TestDB
func SetupTestDatabase(ctx context.Context) (*TestDB, error) {
	container, err := postgres.RunContainer(ctx,
		testcontainers.WithImage("postgres:16-alpine"),
		postgres.WithDatabase("campusauth"),
		postgres.WithUsername("postgres"),
		postgres.WithPassword("postgres"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to start postgres container: %w", err)
	}

	connStr, err := container.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		container.Terminate(ctx)
		return nil, fmt.Errorf("failed to get connection string: %w", err)
	}

	pool, err := pgxpool.New(ctx, connStr)
	if err != nil {
		container.Terminate(ctx)
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		container.Terminate(ctx)
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if err := runMigrations(ctx, pool); err != nil {
		pool.Close()
		container.Terminate(ctx)
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return &TestDB{
		Container:  container,
		ConnString: connStr,
		Pool:       pool,
		DB:         &database.DB{Pool: pool},
	}, nil
}

// runMigrations executes all goose migrations
func runMigrations(ctx context.Context, pool *pgxpool.Pool) error {
	migrationsDir, err := filepath.Abs("../../migrations")
	if err != nil {
		return fmt.Errorf("failed to get migrations path: %w", err)
	}

	goose.SetLogger(log.New(io.Discard, "", 0))

	// Goose needs a database/sql connection; use the stdlib adapter from pgx
	sqlDB := stdlib.OpenDB(*pool.Config().ConnConfig)
	defer sqlDB.Close()

	if err := goose.UpContext(ctx, sqlDB, migrationsDir); err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	return nil
}

// Teardown stops the container and closes the connection pool
func (db *TestDB) Teardown(ctx context.Context) error {
	if db.Pool != nil {
		db.Pool.Close()
	}
	if db.Container != nil {
		return db.Container.Terminate(ctx)
	}
	return nil
}

// CleanupTables truncates all tables for test isolation
func (db *TestDB) CleanupTables(ctx context.Context) error {
	tables := []string{
		"login_logs",
		"password_resets",
		"email_magic_links",
		"totp_secrets",
		"users",
	}

	for _, table := range tables {
		if _, err := db.Pool.Exec(ctx, fmt.Sprintf("TRUNCATE TABLE %s CASCADE", table)); err != nil {
			return fmt.Errorf("failed to truncate table %s: %w", table, err)
		}
	}

	return nil
}

// InitializeRepositories creates all repository instances from database wrapper
func InitializeRepositories(db *database.DB) (
	*repositories.UserRepository,
	*repositories.TOTPSecretRepository,
	*repositories.MagicLinkRepository,
	*repositories.PasswordResetRepository,
	*repositories.LoginLogRepository,
) {
	return repositories.NewUserRepository(db),
		repositories.NewTOTPSecretRepository(db),
		repositories.NewMagicLinkRepository(db),
		repositories.NewPasswordResetRepository(db),
		repositories.NewLoginLogRepository(db)
}

// SeedUser inserts a test user with hashed password
func SeedUser(ctx context.Context, pool *pgxpool.Pool, email, name, password string, highRisk, firstLogin bool) (*models.User, error) {
	hashedPassword, err := pkgauth.HashPassword(password)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	query := `
		INSERT INTO users (id, email, name, password_hash, account_type, is_high_risk, is_first_login, created_at, updated_at)
		VALUES ($1, $2, $3, $4, 'local', $5, $6, NOW(), NOW())
		RETURNING id, email, name, password_hash, account_type, is_high_risk, is_first_login, created_at, updated_at
	`

	var user models.User
	err = pool.QueryRow(ctx, query, uuid.New().String(), email, name, hashedPassword, highRisk, firstLogin).Scan(
		&user.ID,
		&user.Email,
		&user.Name,
		&user.PasswordHash,
		&user.AccountType,
		&user.IsHighRisk,
		&user.IsFirstLogin,
		&user.CreatedAt,
		&user.UpdatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to insert user: %w", err)
	}

	return &user, nil
}

// SeedTOTPSecret binds a secret to a user directly in the store
func SeedTOTPSecret(ctx context.Context, pool *pgxpool.Pool, userID, secret string) error {
	query := `
		INSERT INTO totp_secrets (id, user_id, secret, created_at)
		VALUES ($1, $2, $3, NOW())
	`

	if _, err := pool.Exec(ctx, query, uuid.New().String(), userID, secret); err != nil {
		return fmt.Errorf("failed to insert totp secret: %w", err)
	}
	return nil
}

// sha256Hash computes SHA256 hash of input string
func sha256Hash(input string) string {
	hash := sha256.Sum256([]byte(input))
	return hex.EncodeToString(hash[:])
}

// SeedBindLink creates a bind magic link; offset shifts expiry relative to
// the store clock, so a negative offset seeds an already-expired link.
func SeedBindLink(ctx context.Context, pool *pgxpool.Pool, userID, token string, offset time.Duration) error {
	query := `
		INSERT INTO email_magic_links (id, user_id, token, purpose, expires_at, created_at)
		VALUES ($1, $2, $3, $4, NOW() + ($5 * interval '1 second'), NOW())
	`

	_, err := pool.Exec(ctx, query, uuid.New().String(), userID, token, models.MagicLinkPurposeBindTOTP, int64(offset.Seconds()))
	if err != nil {
		return fmt.Errorf("failed to insert bind link: %w", err)
	}
	return nil
}

// SeedResetToken creates a password reset row storing only the token digest
func SeedResetToken(ctx context.Context, pool *pgxpool.Pool, userID, token string, offset time.Duration) error {
	query := `
		INSERT INTO password_resets (id, user_id, token_hash, expires_at, created_at)
		VALUES ($1, $2, $3, NOW() + ($4 * interval '1 second'), NOW())
	`

	_, err := pool.Exec(ctx, query, uuid.New().String(), userID, sha256Hash(token), int64(offset.Seconds()))
	if err != nil {
		return fmt.Errorf("failed to insert reset token: %w", err)
	}
	return nil
}

// BackdateRow rewinds created_at on a table so retention-window behavior
// can be exercised without waiting.
func BackdateRow(ctx context.Context, pool *pgxpool.Pool, table, id string, age time.Duration) error {
	query := fmt.Sprintf(`UPDATE %s SET created_at = NOW() - ($1 * interval '1 second') WHERE id = $2`, table)

	if _, err := pool.Exec(ctx, query, int64(age.Seconds()), id); err != nil {
		return fmt.Errorf("failed to backdate row: %w", err)
	}
	return nil
}
