package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("HALO_CLIENT_ID", "client-1")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.Server.Addr)
	assert.Equal(t, "client-1", cfg.Client.ClientID)
	assert.Equal(t, "_halo", cfg.Client.CookieName)
	assert.Equal(t, "CZK", cfg.Client.Currency)
	assert.Equal(t, 7*24*time.Hour, cfg.Attribution.TimeDecayHalfLife)
	assert.Equal(t, "last_touch", cfg.Attribution.DefaultModel)
	assert.True(t, cfg.RateLimit.Enabled)
	assert.Contains(t, cfg.Auth.SkipPaths, "/v1/touch")
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("HALO_CLIENT_ID", "client-2")
	t.Setenv("HALO_HTTP_ADDR", ":9090")
	t.Setenv("HALO_TIME_DECAY_HALF_LIFE", "72h")
	t.Setenv("HALO_RATE_LIMIT_INGEST_RPS", "250")
	t.Setenv("HALO_AUTH_SKIP_PATHS", "/health, /v1/touch")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, ":9090", cfg.Server.Addr)
	assert.Equal(t, 72*time.Hour, cfg.Attribution.TimeDecayHalfLife)
	assert.Equal(t, 250.0, cfg.RateLimit.IngestRPS)
	assert.Equal(t, []string{"/health", "/v1/touch"}, cfg.Auth.SkipPaths)
}

func TestLoadRequiresClientID(t *testing.T) {
	t.Setenv("HALO_CLIENT_ID", "")

	_, err := Load()
	assert.Error(t, err)
}

func TestValidateAuthRequiresKey(t *testing.T) {
	cfg := &Config{
		Client: ClientConfig{ClientID: "client-1"},
		Auth:   AuthConfig{Enabled: true},
	}
	assert.Error(t, cfg.Validate())

	cfg.Auth.APIKey = "key"
	assert.NoError(t, cfg.Validate())
}

func TestDatabaseDSN(t *testing.T) {
	d := DatabaseConfig{
		Host: "db", Port: 5432, User: "halo", Password: "pw",
		DBName: "halotrack", SSLMode: "disable",
	}
	assert.Equal(t, "postgres://halo:pw@db:5432/halotrack?sslmode=disable", d.DSN())
}
