// 配置加载器与默认配置测试。
package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeTempConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoader_DefaultsOnly(t *testing.T) {
	cfg, err := NewLoader().Load()
	require.NoError(t, err)

	assert.Equal(t, "mcpwire-server", cfg.Server.Name)
	assert.Equal(t, 500, cfg.Server.MaxPageSize)
	assert.Equal(t, 30*time.Second, cfg.Client.RequestTimeout)
	assert.Equal(t, "sqlite", cfg.Database.Driver)
	assert.Equal(t, []string{"stderr"}, cfg.Log.OutputPaths)
	assert.Empty(t, cfg.Security.AllowedCommands)
}

func TestLoader_YAMLOverridesDefaults(t *testing.T) {
	path := writeTempConfig(t, `
server:
  name: custom-server
  max_page_size: 100
client:
  request_timeout: 5s
security:
  allowed_commands:
    - /usr/bin/python3
  lock: true
`)

	cfg, err := NewLoader().WithConfigPath(path).Load()
	require.NoError(t, err)

	assert.Equal(t, "custom-server", cfg.Server.Name)
	assert.Equal(t, 100, cfg.Server.MaxPageSize)
	assert.Equal(t, 5*time.Second, cfg.Client.RequestTimeout)
	assert.Equal(t, []string{"/usr/bin/python3"}, cfg.Security.AllowedCommands)
	assert.True(t, cfg.Security.Lock)

	// 未覆盖的字段保持默认值
	assert.Equal(t, "1.0.0", cfg.Server.Version)
}

func TestLoader_EnvOverridesYAML(t *testing.T) {
	path := writeTempConfig(t, `
server:
  name: from-yaml
`)
	t.Setenv("MCPWIRE_SERVER_NAME", "from-env")
	t.Setenv("MCPWIRE_CLIENT_MAX_RETRIES", "7")
	t.Setenv("MCPWIRE_PROCESS_STARTUP_WINDOW", "250ms")
	t.Setenv("MCPWIRE_SECURITY_ALLOWED_COMMANDS", "/bin/a, /bin/b")
	t.Setenv("MCPWIRE_METRICS_ENABLED", "false")

	cfg, err := NewLoader().WithConfigPath(path).Load()
	require.NoError(t, err)

	assert.Equal(t, "from-env", cfg.Server.Name)
	assert.Equal(t, 7, cfg.Client.MaxRetries)
	assert.Equal(t, 250*time.Millisecond, cfg.Process.StartupWindow)
	assert.Equal(t, []string{"/bin/a", "/bin/b"}, cfg.Security.AllowedCommands)
	assert.False(t, cfg.Metrics.Enabled)
}

func TestLoader_CustomEnvPrefix(t *testing.T) {
	t.Setenv("MYAPP_SERVER_NAME", "prefixed")

	cfg, err := NewLoader().WithEnvPrefix("MYAPP").Load()
	require.NoError(t, err)
	assert.Equal(t, "prefixed", cfg.Server.Name)
}

func TestLoader_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := NewLoader().WithConfigPath("/nonexistent/config.yaml").Load()
	require.NoError(t, err)
	assert.Equal(t, "mcpwire-server", cfg.Server.Name)
}

func TestLoader_InvalidYAML(t *testing.T) {
	path := writeTempConfig(t, "server: [not: valid\n  yaml}")
	_, err := NewLoader().WithConfigPath(path).Load()
	require.Error(t, err)
}

func TestLoader_ValidatorRuns(t *testing.T) {
	path := writeTempConfig(t, `
server:
  max_page_size: -1
`)
	_, err := NewLoader().
		WithConfigPath(path).
		WithValidator((*Config).Validate).
		Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "max_page_size")
}

func TestConfig_Validate(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())

	cfg.Database.Driver = "postgres"
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "postgres")
}

func TestDatabaseConfig_DSN(t *testing.T) {
	d := DatabaseConfig{Path: "/tmp/app.db"}
	assert.Equal(t, "/tmp/app.db", d.DSN())

	d.Path = ""
	assert.Equal(t, ":memory:", d.DSN())
}
