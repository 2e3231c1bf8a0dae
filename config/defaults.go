// =============================================================================
// 📦 mcpwire 默认配置
// =============================================================================
// 提供所有配置项的合理默认值
// =============================================================================
package config

import "time"

// DefaultConfig 返回默认配置
func DefaultConfig() *Config {
	return &Config{
		Server:   DefaultServerConfig(),
		Client:   DefaultClientConfig(),
		Process:  DefaultProcessConfig(),
		Database: DefaultDatabaseConfig(),
		Security: DefaultSecurityConfig(),
		Log:      DefaultLogConfig(),
		Metrics:  DefaultMetricsConfig(),
	}
}

// DefaultServerConfig 返回默认服务端配置
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		Name:              "mcpwire-server",
		Version:           "1.0.0",
		DefaultPageSize:   0,
		MaxPageSize:       500,
		MaxRequests:       0,
		RequestsPerSecond: 0,
		RateBurst:         0,
	}
}

// DefaultClientConfig 返回默认客户端配置
func DefaultClientConfig() ClientConfig {
	return ClientConfig{
		Name:           "mcpwire-client",
		Version:        "1.0.0",
		RequestTimeout: 30 * time.Second,
		MaxRetries:     2,
		RetryBackoff:   200 * time.Millisecond,
	}
}

// DefaultProcessConfig 返回默认子进程传输配置
func DefaultProcessConfig() ProcessConfig {
	return ProcessConfig{
		StartupWindow:  300 * time.Millisecond,
		ReadTimeout:    30 * time.Second,
		TerminateGrace: 2 * time.Second,
	}
}

// DefaultDatabaseConfig 返回默认数据库配置
func DefaultDatabaseConfig() DatabaseConfig {
	return DatabaseConfig{
		Driver:          "sqlite",
		Path:            ":memory:",
		MaxOpenConns:    5,
		MaxIdleConns:    2,
		ConnMaxLifetime: 5 * time.Minute,
	}
}

// DefaultSecurityConfig 返回默认安全配置。
// 允许列表为空即全部拒绝，安全默认值不开放任何命令。
func DefaultSecurityConfig() SecurityConfig {
	return SecurityConfig{
		AllowedCommands: nil,
		AllowedURLs:     nil,
		DisableServing:  false,
		Lock:            false,
	}
}

// DefaultLogConfig 返回默认日志配置
func DefaultLogConfig() LogConfig {
	return LogConfig{
		Level:            "info",
		Format:           "json",
		OutputPaths:      []string{"stderr"},
		EnableCaller:     true,
		EnableStacktrace: false,
	}
}

// DefaultMetricsConfig 返回默认指标配置
func DefaultMetricsConfig() MetricsConfig {
	return MetricsConfig{
		Enabled:   true,
		Namespace: "mcpwire",
	}
}
