// =============================================================================
// mcpwire 主入口
// =============================================================================
// MCP stdio 服务入口点，协议走 stdin/stdout，日志走 stderr
//
// 使用方法:
//
//	mcpwire serve                       # 在 stdio 上启动服务
//	mcpwire serve --config config.yaml  # 指定配置文件
//	mcpwire version                     # 显示版本信息
//
// =============================================================================
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/glebarez/sqlite"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gorm.io/gorm"

	"github.com/BaSui01/mcpwire/config"
	"github.com/BaSui01/mcpwire/internal/metrics"
	"github.com/BaSui01/mcpwire/security"
	"github.com/BaSui01/mcpwire/server"
	"github.com/BaSui01/mcpwire/transport"
)

// =============================================================================
// 📦 版本信息（构建时注入）
// =============================================================================

var (
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

// =============================================================================
// 🎯 主函数
// =============================================================================

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "serve":
		runServe(os.Args[2:])
	case "version":
		printVersion()
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

// =============================================================================
// 🖥️ serve 命令
// =============================================================================

func runServe(args []string) {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	configPath := fs.String("config", "", "Path to config file")
	fs.Parse(args)

	loader := config.NewLoader().WithValidator((*config.Config).Validate)
	if *configPath != "" {
		loader = loader.WithConfigPath(*configPath)
	}

	cfg, err := loader.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger := initLogger(cfg.Log)
	defer logger.Sync()

	policy := buildPolicy(cfg.Security, logger)

	var collector *metrics.Collector
	if cfg.Metrics.Enabled {
		collector = metrics.NewCollector(cfg.Metrics.Namespace, logger)
	}

	srv := server.NewServer(server.Config{
		Name:              cfg.Server.Name,
		Version:           cfg.Server.Version,
		DefaultPageSize:   cfg.Server.DefaultPageSize,
		MaxPageSize:       cfg.Server.MaxPageSize,
		MaxRequests:       cfg.Server.MaxRequests,
		RequestsPerSecond: cfg.Server.RequestsPerSecond,
		RateBurst:         cfg.Server.RateBurst,
	}, logger, server.WithPolicy(policy), server.WithMetrics(collector))

	registerBuiltins(srv, cfg, collector, logger)

	// stdout 是协议通道，信号触发的收尾全部走 stderr 日志
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	tr := transport.NewStdioTransport(logger)
	logger.Info("starting mcp server on stdio",
		zap.String("name", cfg.Server.Name),
		zap.String("version", Version))

	if err := srv.RunLoop(ctx, tr); err != nil && err != context.Canceled {
		logger.Error("server loop failed", zap.Error(err))
		os.Exit(1)
	}
}

// buildPolicy 从配置构造并按需锁定安全策略
func buildPolicy(cfg config.SecurityConfig, logger *zap.Logger) *security.Policy {
	policy := security.NewPolicy()
	if len(cfg.AllowedCommands) > 0 {
		if err := policy.SetAllowedCommands(cfg.AllowedCommands); err != nil {
			logger.Warn("failed to set allowed commands", zap.Error(err))
		}
	}
	if len(cfg.AllowedURLs) > 0 {
		if err := policy.SetAllowedURLs(cfg.AllowedURLs); err != nil {
			logger.Warn("failed to set allowed urls", zap.Error(err))
		}
	}
	policy.SetServingDisabled(cfg.DisableServing)
	if cfg.Lock {
		policy.Lock()
		logger.Info("security policy locked")
	}
	return policy
}

// registerBuiltins 注册内置资源与工具
func registerBuiltins(srv *server.Server, cfg *config.Config, collector *metrics.Collector, logger *zap.Logger) {
	// 服务自述与运行状态
	srv.RegisterResource(server.NewStaticProvider(
		"mcp://server/info",
		"server-info",
		"text/plain",
		fmt.Sprintf("%s %s (built %s, commit %s)", cfg.Server.Name, cfg.Server.Version, BuildTime, GitCommit),
	))
	srv.RegisterResource(server.NewStatusProvider("mcp://server/status", srv))

	srv.RegisterTool(server.NewFuncTool("echo", "Echo the input text back", map[string]any{
		"type": "object",
		"properties": map[string]any{
			"text": map[string]any{"type": "string"},
		},
		"required": []string{"text"},
	}, func(ctx context.Context, args map[string]any) (string, error) {
		text, _ := args["text"].(string)
		return text, nil
	}))

	if cfg.Database.Driver == "" {
		return
	}
	db, err := openDatabase(cfg.Database, logger)
	if err != nil {
		logger.Warn("database unavailable, skipping query tools", zap.Error(err))
		return
	}
	srv.RegisterTool(server.NewQueryTool(db))
	srv.RegisterTool(server.NewDescribeTool(db))
	srv.RegisterResource(server.NewQueryProvider(
		"mcp://db/tables",
		"db-tables",
		"SELECT name FROM sqlite_master WHERE type = 'table' ORDER BY name",
		db, time.Minute, logger,
	).WithMetrics(collector))
}

// =============================================================================
// 🔧 初始化
// =============================================================================

func initLogger(cfg config.LogConfig) *zap.Logger {
	// 解析日志级别
	var level zapcore.Level
	switch cfg.Level {
	case "debug":
		level = zapcore.DebugLevel
	case "info":
		level = zapcore.InfoLevel
	case "warn":
		level = zapcore.WarnLevel
	case "error":
		level = zapcore.ErrorLevel
	default:
		level = zapcore.InfoLevel
	}

	// 配置编码器
	var encoderConfig zapcore.EncoderConfig
	if cfg.Format == "console" {
		encoderConfig = zap.NewDevelopmentEncoderConfig()
		encoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	} else {
		encoderConfig = zap.NewProductionEncoderConfig()
		encoderConfig.TimeKey = "timestamp"
		encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	}

	// stdio 服务的日志绝不能落到 stdout
	outputs := make([]string, 0, len(cfg.OutputPaths))
	for _, p := range cfg.OutputPaths {
		if p == "stdout" {
			p = "stderr"
		}
		outputs = append(outputs, p)
	}
	if len(outputs) == 0 {
		outputs = []string{"stderr"}
	}

	zapConfig := zap.Config{
		Level:            zap.NewAtomicLevelAt(level),
		Development:      cfg.Format == "console",
		Encoding:         cfg.Format,
		EncoderConfig:    encoderConfig,
		OutputPaths:      outputs,
		ErrorOutputPaths: []string{"stderr"},
	}

	if cfg.Format != "console" {
		zapConfig.Encoding = "json"
	}

	logger, err := zapConfig.Build(
		zap.AddCaller(),
		zap.AddStacktrace(zapcore.ErrorLevel),
	)
	if err != nil {
		// 回退到基本 logger
		logger, _ = zap.NewProduction()
	}

	return logger
}

// openDatabase 根据配置打开数据库连接
func openDatabase(dbCfg config.DatabaseConfig, logger *zap.Logger) (*gorm.DB, error) {
	var dialector gorm.Dialector
	switch dbCfg.Driver {
	case "sqlite":
		dialector = sqlite.Open(dbCfg.DSN())
	default:
		return nil, fmt.Errorf("unsupported database driver: %s (supported: sqlite)", dbCfg.Driver)
	}

	db, err := gorm.Open(dialector, &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("failed to connect database: %w", err)
	}

	sqlDB, err := db.DB()
	if err == nil {
		sqlDB.SetMaxOpenConns(dbCfg.MaxOpenConns)
		sqlDB.SetMaxIdleConns(dbCfg.MaxIdleConns)
		sqlDB.SetConnMaxLifetime(dbCfg.ConnMaxLifetime)
	}

	logger.Info("Database connected", zap.String("driver", dbCfg.Driver), zap.String("path", dbCfg.DSN()))
	return db, nil
}

// =============================================================================
// ℹ️ 信息输出
// =============================================================================

func printVersion() {
	fmt.Printf("mcpwire %s\n", Version)
	fmt.Printf("  build time: %s\n", BuildTime)
	fmt.Printf("  git commit: %s\n", GitCommit)
}

func printUsage() {
	fmt.Println(`mcpwire - MCP protocol engine over stdio

Usage:
  mcpwire serve [--config config.yaml]   Start the MCP server on stdio
  mcpwire version                        Show version information
  mcpwire help                           Show this help`)
}
