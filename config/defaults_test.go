package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestDefaultConfig_AllSections(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, "mcpwire-server", cfg.Server.Name)
	assert.Equal(t, "mcpwire-client", cfg.Client.Name)
	assert.Equal(t, 300*time.Millisecond, cfg.Process.StartupWindow)
	assert.Equal(t, 2*time.Second, cfg.Process.TerminateGrace)
	assert.Equal(t, "sqlite", cfg.Database.Driver)
	assert.Equal(t, ":memory:", cfg.Database.Path)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
	assert.True(t, cfg.Metrics.Enabled)
	assert.Equal(t, "mcpwire", cfg.Metrics.Namespace)
}

// 默认安全配置必须是拒绝一切的
func TestDefaultSecurityConfig_DenyAll(t *testing.T) {
	cfg := DefaultSecurityConfig()

	assert.Empty(t, cfg.AllowedCommands)
	assert.Empty(t, cfg.AllowedURLs)
	assert.False(t, cfg.DisableServing)
	assert.False(t, cfg.Lock)
}

func TestDefaultConfig_PassesValidation(t *testing.T) {
	assert.NoError(t, DefaultConfig().Validate())
}
