package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaultsWhenNoFileOrEnv(t *testing.T) {
	cfg, warnings, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)
	assert.Equal(t, defaultAuthSentinel, cfg.AuthToken)
	assert.Equal(t, 8080, cfg.PreferredPort)
	assert.Contains(t, warnings, "MCP_AUTH_TOKEN is unset or default: authentication is effectively disabled")
	assert.Contains(t, warnings, "ALLOWED_IPS is empty: any client IP is accepted")
}

func TestLoadEnvOverridesFile(t *testing.T) {
	yamlPath := filepath.Join(t.TempDir(), "winbuildd.yaml")
	require.NoError(t, os.WriteFile(yamlPath, []byte("authToken: from-file\npreferredPort: 9000\n"), 0644))

	t.Setenv("MCP_AUTH_TOKEN", "from-env")
	cfg, _, err := Load(yamlPath)
	require.NoError(t, err)
	assert.Equal(t, "from-env", cfg.AuthToken)
	assert.Equal(t, 9000, cfg.PreferredPort)
}

func TestSanityCheckRaisesMaxTimeoutToMatchCommandTimeout(t *testing.T) {
	cfg := defaults()
	cfg.AuthToken = "real-token"
	cfg.AllowedIPs = []string{"10.0.0.1"}
	cfg.CommandTimeoutMs = 1000
	cfg.MaxAllowedTimeoutMs = 500

	warnings := sanityCheck(cfg)
	assert.Equal(t, 1000, cfg.MaxAllowedTimeoutMs)
	assert.Len(t, warnings, 1)
}

func TestSanityCheckWarnsOnDangerousMode(t *testing.T) {
	cfg := defaults()
	cfg.AuthToken = "real-token"
	cfg.AllowedIPs = []string{"10.0.0.1"}
	cfg.Modes.Dangerous = true

	warnings := sanityCheck(cfg)
	require.Len(t, warnings, 1)
	assert.Contains(t, warnings[0], "ENABLE_DANGEROUS_MODE")
}

func TestApplyEnvParsesCSVAndBooleans(t *testing.T) {
	t.Setenv("ALLOWED_IPS", " 10.0.0.1 , 10.0.0.2 ")
	t.Setenv("ENABLE_DEV_COMMANDS", "yes")

	cfg := defaults()
	applyEnv(cfg)
	assert.Equal(t, []string{"10.0.0.1", "10.0.0.2"}, cfg.AllowedIPs)
	assert.True(t, cfg.Modes.DevCommands)
}

func TestEncryptionKeyAndPortFilePaths(t *testing.T) {
	dir := "/tmp/winbuildd-app"
	assert.Equal(t, filepath.Join(dir, "winbuildd.key"), EncryptionKeyPath(dir))
	assert.Equal(t, filepath.Join(dir, "server-port.json"), PortFilePath(dir))
}

func TestLogMaxFileSizeDefaultsAndEnvOverride(t *testing.T) {
	cfg := defaults()
	assert.Equal(t, defaultLogMaxFileSize, cfg.LogMaxFileSizeBytes)

	t.Setenv("LOG_MAX_FILE_SIZE", "1048576")
	applyEnv(cfg)
	assert.Equal(t, 1048576, cfg.LogMaxFileSizeBytes)
}
