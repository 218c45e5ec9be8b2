package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_RequiresSessionSecret(t *testing.T) {
	t.Setenv("SESSION_SECRET", "")
	t.Setenv("DB_PASSWORD", "pw")

	_, err := Load()
	assert.Error(t, err)
}

func TestLoad_RejectsShortSessionSecret(t *testing.T) {
	t.Setenv("SESSION_SECRET", "too-short")
	t.Setenv("DB_PASSWORD", "pw")

	_, err := Load()
	assert.Error(t, err)
}

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("SESSION_SECRET", "0123456789abcdef0123456789abcdef")
	t.Setenv("DB_PASSWORD", "pw")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "localhost", cfg.Database.Host)
	assert.Equal(t, 5432, cfg.Database.Port)
	assert.Equal(t, "campusauth", cfg.Database.Name)
	assert.Equal(t, "TTU-Auth", cfg.Auth.Issuer)
	assert.Equal(t, 24*time.Hour, cfg.Auth.BindTokenTTL)
	assert.Equal(t, 30*time.Minute, cfg.Auth.ResetTokenTTL)
	assert.Equal(t, 60*time.Second, cfg.Auth.ResendCooldown)
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("SESSION_SECRET", "0123456789abcdef0123456789abcdef")
	t.Setenv("DB_PASSWORD", "pw")
	t.Setenv("BIND_TOKEN_TTL", "1h")
	t.Setenv("RESET_TOKEN_TTL", "10m")
	t.Setenv("DB_PORT", "5433")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, time.Hour, cfg.Auth.BindTokenTTL)
	assert.Equal(t, 10*time.Minute, cfg.Auth.ResetTokenTTL)
	assert.Equal(t, 5433, cfg.Database.Port)
}

func TestDSN(t *testing.T) {
	c := DatabaseConfig{Host: "h", Port: 5432, User: "u", Password: "p", Name: "db", SSLMode: "disable"}
	assert.Equal(t, "host=h port=5432 user=u password=p dbname=db sslmode=disable", c.DSN())
}
