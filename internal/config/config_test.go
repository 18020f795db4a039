package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, "{}\n"))
	require.NoError(t, err)

	assert.Equal(t, "0.0.0.0:27500", cfg.Ingress.ListenAddr)
	assert.Equal(t, "cstrike", cfg.Ingress.DefaultGame)
	assert.False(t, cfg.Ingress.AutoRegister)
	assert.Equal(t, "127.0.0.1", cfg.HTTP.ListenAddr)
	assert.Equal(t, 8080, cfg.HTTP.HTTPPort)
	assert.Equal(t, "/var/lib/hlxd/hlxd.db", cfg.Database.Path)
	assert.Equal(t, Duration(24*time.Hour), cfg.Auth.TokenDuration)
	assert.Equal(t, Duration(30*time.Second), cfg.Rcon.StatusInterval)
	assert.Equal(t, Duration(60*time.Minute), cfg.Rcon.ActiveServerMaxAge)
	assert.Empty(t, cfg.Journal.Dir)
}

func TestLoadExplicitValues(t *testing.T) {
	cfg, err := Load(writeConfig(t, `
ingress:
  listen_addr: "10.0.0.1:29000"
  auto_register: true
  default_game: tfc
http:
  listen_addr: "0.0.0.0"
  http_port: 9090
database:
  path: /tmp/stats.db
auth:
  jwt_secret: sekrit
  token_duration: 1h
rcon:
  status_interval: 15s
  active_server_max_age: 2h
journal:
  dir: /var/log/hlxd
`))
	require.NoError(t, err)

	assert.Equal(t, "10.0.0.1:29000", cfg.Ingress.ListenAddr)
	assert.True(t, cfg.Ingress.AutoRegister)
	assert.Equal(t, "tfc", cfg.Ingress.DefaultGame)
	assert.Equal(t, 9090, cfg.HTTP.HTTPPort)
	assert.Equal(t, "/tmp/stats.db", cfg.Database.Path)
	assert.Equal(t, "sekrit", cfg.Auth.JWTSecret)
	assert.Equal(t, Duration(time.Hour), cfg.Auth.TokenDuration)
	assert.Equal(t, Duration(15*time.Second), cfg.Rcon.StatusInterval)
	assert.Equal(t, Duration(2*time.Hour), cfg.Rcon.ActiveServerMaxAge)
	assert.Equal(t, "/var/log/hlxd", cfg.Journal.Dir)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yml"))
	assert.Error(t, err)
}

func TestLoadMalformedYAML(t *testing.T) {
	_, err := Load(writeConfig(t, "ingress: [not a map\n"))
	assert.Error(t, err)
}

func TestEncryptionKeyFromEnvOnly(t *testing.T) {
	t.Setenv("ENCRYPTION_KEY", "env-secret")

	cfg, err := Load(writeConfig(t, "{}\n"))
	require.NoError(t, err)
	assert.Equal(t, "env-secret", cfg.EncryptionKey)

	// The key never round-trips through the file.
	path := filepath.Join(t.TempDir(), "saved.yml")
	require.NoError(t, Save(path, cfg))
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.NotContains(t, string(data), "env-secret")
}

func TestActiveServerMaxAgeOverride(t *testing.T) {
	t.Setenv("RCON_ACTIVE_SERVER_MAX_AGE_MINUTES", "90")

	cfg, err := Load(writeConfig(t, "{}\n"))
	require.NoError(t, err)
	assert.Equal(t, Duration(90*time.Minute), cfg.Rcon.ActiveServerMaxAge)
}

func TestActiveServerMaxAgeOverrideInvalid(t *testing.T) {
	for _, v := range []string{"zero", "0", "-5"} {
		t.Setenv("RCON_ACTIVE_SERVER_MAX_AGE_MINUTES", v)
		_, err := Load(writeConfig(t, "{}\n"))
		assert.Error(t, err, "value %q must be rejected", v)
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yml")
	original := &Config{
		Ingress:  IngressConfig{ListenAddr: "0.0.0.0:27500", AutoRegister: true, DefaultGame: "cstrike"},
		HTTP:     HTTPConfig{ListenAddr: "127.0.0.1", HTTPPort: 8080},
		Database: DatabaseConfig{Path: "/tmp/round.db"},
		Rcon:     RconConfig{StatusInterval: Duration(45 * time.Second)},
	}
	require.NoError(t, Save(path, original))

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, original.Ingress, loaded.Ingress)
	assert.Equal(t, original.HTTP, loaded.HTTP)
	assert.Equal(t, original.Database, loaded.Database)
	assert.Equal(t, Duration(45*time.Second), loaded.Rcon.StatusInterval)

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())
}
