package authd_config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setSecrets(t *testing.T, access, refresh string) {
	t.Helper()
	t.Setenv("AUTH_ACCESS_SECRET", access)
	t.Setenv("AUTH_REFRESH_SECRET", refresh)
	t.Setenv("JWT_SECRET_KEY", "")
	t.Setenv("JWT_REFRESH_SECRET_KEY", "")
}

func TestLoad_Defaults(t *testing.T) {
	setSecrets(t, "access-secret", "refresh-secret")
	t.Setenv("STORE_DRIVER", DriverMemory)

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "authd", cfg.App.Name)
	assert.Equal(t, ":8080", cfg.Server.HTTPAddr)
	assert.Equal(t, "", cfg.Server.RoutePrefix)
	assert.Equal(t, time.Hour, cfg.Auth.AccessTTL)
	assert.Equal(t, 30*24*time.Hour, cfg.Auth.RefreshTTL)
	assert.Equal(t, 10, cfg.Auth.BcryptCost)
	assert.Equal(t, "access-secret", cfg.Auth.AccessSecret)
	assert.Equal(t, "refresh-secret", cfg.Auth.RefreshSecret)
	assert.False(t, cfg.Events.Enable)
}

func TestLoad_LegacySecretNames(t *testing.T) {
	setSecrets(t, "", "")
	t.Setenv("JWT_SECRET_KEY", "legacy-access")
	t.Setenv("JWT_REFRESH_SECRET_KEY", "legacy-refresh")
	t.Setenv("STORE_DRIVER", DriverMemory)

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "legacy-access", cfg.Auth.AccessSecret)
	assert.Equal(t, "legacy-refresh", cfg.Auth.RefreshSecret)
}

func TestLoad_MissingSecretsRefused(t *testing.T) {
	setSecrets(t, "", "")
	t.Setenv("STORE_DRIVER", DriverMemory)

	_, err := Load("")
	require.ErrorIs(t, err, ErrInvalid)
	assert.Contains(t, err.Error(), "auth.access_secret")
	assert.Contains(t, err.Error(), "auth.refresh_secret")
}

func TestLoad_SharedSecretRefused(t *testing.T) {
	setSecrets(t, "same-value-123", "same-value-123")
	t.Setenv("STORE_DRIVER", DriverMemory)

	_, err := Load("")
	require.ErrorIs(t, err, ErrInvalid)
	assert.Contains(t, err.Error(), "must differ")
	assert.NotContains(t, err.Error(), "same-value-123")
}

func TestLoad_PostgresNeedsDSN(t *testing.T) {
	setSecrets(t, "a", "b")
	t.Setenv("STORE_DRIVER", DriverPostgres)
	t.Setenv("DB_DSN", "")
	t.Setenv("DATABASE_URL", "")

	_, err := Load("")
	require.ErrorIs(t, err, ErrInvalid)
	assert.Contains(t, err.Error(), "db.dsn")

	t.Setenv("DATABASE_URL", "postgres://u:p@localhost:5432/auth?sslmode=disable")
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "postgres://u:p@localhost:5432/auth?sslmode=disable", cfg.DB.DSN)
}

func TestLoad_EventsRequirePostgresAndBrokers(t *testing.T) {
	setSecrets(t, "a", "b")
	t.Setenv("STORE_DRIVER", DriverMemory)
	t.Setenv("EVENTS_ENABLE", "true")

	_, err := Load("")
	require.ErrorIs(t, err, ErrInvalid)
	assert.Contains(t, err.Error(), "events.enable")
	assert.Contains(t, err.Error(), "events.brokers")
}

func TestLoad_FileThenEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "authd.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
store:
  driver: memory
server:
  route_prefix: /api/auth
  cors_origins: ["http://localhost:3000"]
auth:
  access_secret: from-file-a
  refresh_secret: from-file-r
  access_ttl: 15m
log:
  level: debug
`), 0o600))

	setSecrets(t, "", "from-env-r")
	t.Setenv("STORE_DRIVER", "")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, DriverMemory, cfg.Store.Driver)
	assert.Equal(t, "/api/auth", cfg.Server.RoutePrefix)
	assert.Equal(t, []string{"http://localhost:3000"}, cfg.Server.CORSOrigins)
	assert.Equal(t, "from-file-a", cfg.Auth.AccessSecret)
	assert.Equal(t, "from-env-r", cfg.Auth.RefreshSecret)
	assert.Equal(t, 15*time.Minute, cfg.Auth.AccessTTL)
	assert.Equal(t, "debug", cfg.AsLoggerConfig().Level)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
}

func TestEvents_AsRunnerConfig(t *testing.T) {
	e := Events{Workers: 3, BatchSize: 50, WaitTime: time.Second, InProgressTTL: time.Minute}
	rc := e.AsRunnerConfig()
	assert.Equal(t, 3, rc.Workers)
	assert.Equal(t, 50, rc.BatchSize)
}
