// =============================================================================
// ResumeFlow 主入口
// =============================================================================
// 可恢复长任务的宿主进程：运行工作流、投递审批信号、查看检查点。
//
// 使用方法:
//
//	resumeflow serve --config resumeflow.yaml      # 启动 HTTP 服务
//	resumeflow run research --query "..."          # 在本进程运行一个工作流
//	resumeflow signal <thread> [--reject]          # 投递审批信号
//	resumeflow inspect [thread]                    # 查看快照历史
//	resumeflow migrate up                          # 运行数据库迁移
//	resumeflow version
// =============================================================================

package main

import (
	"errors"
	"flag"
	"fmt"
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/BaSui01/resumeflow/config"
)

// =============================================================================
// 📦 版本信息（构建时注入）
// =============================================================================

var (
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

// errUsage 参数错误，已输出用法
var errUsage = errors.New("invalid usage")

func main() {
	if err := run(os.Args[1:]); err != nil {
		if !errors.Is(err, errUsage) {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		}
		os.Exit(1)
	}
}

// run 分发子命令
func run(args []string) error {
	if len(args) < 1 {
		printUsage()
		return errUsage
	}

	switch args[0] {
	case "serve":
		return runServe(args[1:])
	case "run":
		return runWorkflow(args[1:])
	case "signal":
		return runSignal(args[1:], os.Stdout)
	case "inspect":
		return runInspect(args[1:], os.Stdout)
	case "migrate":
		return runMigrate(args[1:])
	case "health":
		return runHealthCheck(args[1:])
	case "version":
		printVersion()
		return nil
	case "help", "-h", "--help":
		printUsage()
		return nil
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", args[0])
		printUsage()
		return errUsage
	}
}

// =============================================================================
// 🔧 配置与日志
// =============================================================================

// loadConfig 加载并校验配置
func loadConfig(path string) (*config.Config, *config.Loader, error) {
	loader := config.NewLoader()
	if path != "" {
		loader = loader.WithConfigPath(path)
	}
	cfg, err := loader.Load()
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, loader, nil
}

// configFlag 注册 --config
func configFlag(fs *flag.FlagSet) *string {
	return fs.String("config", "", "Path to config file (YAML)")
}

// parseLevel 解析日志级别，未知值按 info 处理
func parseLevel(s string) zapcore.Level {
	level, err := zapcore.ParseLevel(s)
	if err != nil {
		return zapcore.InfoLevel
	}
	return level
}

// initLogger 按配置构建 logger，返回的 AtomicLevel 供配置重载调整级别
func initLogger(cfg config.LogConfig) (*zap.Logger, zap.AtomicLevel) {
	level := zap.NewAtomicLevelAt(parseLevel(cfg.Level))

	var encoderConfig zapcore.EncoderConfig
	encoding := "json"
	if cfg.Format == "console" {
		encoding = "console"
		encoderConfig = zap.NewDevelopmentEncoderConfig()
		encoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	} else {
		encoderConfig = zap.NewProductionEncoderConfig()
		encoderConfig.TimeKey = "timestamp"
		encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	}

	outputs := cfg.OutputPaths
	if len(outputs) == 0 {
		outputs = []string{"stdout"}
	}
	zapConfig := zap.Config{
		Level:             level,
		Development:       encoding == "console",
		Encoding:          encoding,
		EncoderConfig:     encoderConfig,
		OutputPaths:       outputs,
		ErrorOutputPaths:  []string{"stderr"},
		DisableCaller:     !cfg.EnableCaller,
		DisableStacktrace: !cfg.EnableStacktrace,
	}

	logger, err := zapConfig.Build()
	if err != nil {
		logger, _ = zap.NewProduction()
	}
	return logger, level
}

// =============================================================================
// 📋 版本和帮助
// =============================================================================

func printVersion() {
	fmt.Printf("ResumeFlow %s\n", Version)
	fmt.Printf("  Build Time: %s\n", BuildTime)
	fmt.Printf("  Git Commit: %s\n", GitCommit)
}

func printUsage() {
	fmt.Println(`ResumeFlow - resumable long-running tasks

Usage:
  resumeflow <command> [options]

Commands:
  serve     Start the HTTP server (signals, checkpoints, runs, /metrics)
  run       Run one workflow in this process: research | order | sleep
  signal    Deliver an approval signal to a waiting thread
  inspect   List threads or show the snapshot history of one thread
  migrate   Database migration commands
  health    Check server health
  version   Show version information
  help      Show this help message

Examples:
  resumeflow serve --config /etc/resumeflow/config.yaml
  resumeflow run research --query "durable execution" --approval
  resumeflow run order --order-id A-1 --expiry 12/30 --items widget,gadget
  resumeflow signal research-1234 --feedback "looks good"
  resumeflow signal order-A-1 --reject --feedback "out of stock"
  resumeflow inspect research-1234
  resumeflow migrate status`)
}
