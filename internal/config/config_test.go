package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeYAML(t *testing.T, body string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(p, []byte(body), 0o600))
	return p
}

func TestLoad_Defaults(t *testing.T) {
	c, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "dev", c.App.Env)
	assert.Equal(t, ":8080", c.Server.Addr)
	assert.Equal(t, "info", c.Log.Level)
	assert.Equal(t, "memory", c.Cache.Driver)
	assert.Equal(t, "30m", c.Session.Timeout)
	assert.Equal(t, 3, c.Session.MaxPerUser)
	assert.Equal(t, "authcore", c.MFA.Issuer)
	assert.Equal(t, 10*time.Minute, Duration(c.MFA.PendingTTL))
}

func TestLoad_YAML(t *testing.T) {
	p := writeYAML(t, `
app:
  env: prod
server:
  addr: ":9090"
rate:
  enabled: true
  auth:
    limit: 7
    window: 10m
session:
  timeout: 45m
  max_per_user: 5
`)
	c, err := Load(p)
	require.NoError(t, err)

	assert.Equal(t, "prod", c.App.Env)
	assert.Equal(t, ":9090", c.Server.Addr)
	assert.True(t, c.Rate.Enabled)
	assert.Equal(t, 7, c.Rate.Auth.Limit)
	assert.Equal(t, 10*time.Minute, Duration(c.Rate.Auth.Window))
	assert.Equal(t, 45*time.Minute, Duration(c.Session.Timeout))
	assert.Equal(t, 5, c.Session.MaxPerUser)
}

func TestLoad_EnvOverridesYAML(t *testing.T) {
	p := writeYAML(t, `
server:
  addr: ":9090"
log:
  level: debug
`)
	t.Setenv("SERVER_ADDR", ":7070")
	t.Setenv("LOG_LEVEL", "WARN")
	t.Setenv("SESSION_MAX_PER_USER", "9")
	t.Setenv("RATE_AUTH_LIMIT", "3")

	c, err := Load(p)
	require.NoError(t, err)

	assert.Equal(t, ":7070", c.Server.Addr, "el env pisa el YAML")
	assert.Equal(t, "warn", c.Log.Level)
	assert.Equal(t, 9, c.Session.MaxPerUser)
	assert.Equal(t, 3, c.Rate.Auth.Limit)
}

func TestLoad_InvalidDuration(t *testing.T) {
	p := writeYAML(t, `
session:
  timeout: treinta-minutos
`)
	_, err := Load(p)
	assert.Error(t, err)
}

func TestLoad_InvalidDriver(t *testing.T) {
	p := writeYAML(t, `
cache:
  driver: memcached
`)
	_, err := Load(p)
	assert.Error(t, err)
}

func TestLoad_RedisRequiresAddr(t *testing.T) {
	p := writeYAML(t, `
rate:
  driver: redis
`)
	_, err := Load(p)
	assert.Error(t, err)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load("/no/such/config.yaml")
	assert.Error(t, err)
}
