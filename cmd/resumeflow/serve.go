package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/BaSui01/resumeflow/api/handlers"
	"github.com/BaSui01/resumeflow/config"
)

// =============================================================================
// 🖥️ serve 命令
// =============================================================================

func runServe(args []string) error {
	fs := flag.NewFlagSet("serve", flag.ContinueOnError)
	configPath := configFlag(fs)
	if err := fs.Parse(args); err != nil {
		return errUsage
	}

	cfg, loader, err := loadConfig(*configPath)
	if err != nil {
		return err
	}
	logger, level := initLogger(cfg.Log)
	defer func() { _ = logger.Sync() }()

	logger.Info("Starting ResumeFlow",
		zap.String("version", Version),
		zap.String("build_time", BuildTime),
		zap.String("git_commit", GitCommit),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.close(context.Background())

	tracker := handlers.NewRunTracker(ctx, logger)
	srv := newServerManager(a, newHandler(ctx, a, tracker), "")

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return srv.Run(gctx)
	})
	if a.pool != nil {
		g.Go(func() error {
			a.pool.RunHealthCheck(gctx)
			return nil
		})
	}
	if *configPath != "" {
		watcher := config.NewWatcher(loader, cfg, config.WithWatcherLogger(logger))
		watcher.OnReload(func(old, updated *config.Config) {
			if old.Log.Level != updated.Log.Level {
				level.SetLevel(parseLevel(updated.Log.Level))
				logger.Info("log level changed", zap.String("level", updated.Log.Level))
			}
		})
		g.Go(func() error {
			watcher.Run(gctx)
			return nil
		})
	}

	logStartup(a, srv.Addr())
	err = g.Wait()

	// 等待后台运行退出，宿主会把最新心跳刷入存储
	tracker.Wait()
	logger.Info("ResumeFlow stopped")
	return err
}

// =============================================================================
// 🏥 health 命令
// =============================================================================

func runHealthCheck(args []string) error {
	fs := flag.NewFlagSet("health", flag.ContinueOnError)
	addr := fs.String("addr", "http://localhost:8080", "Server address")
	if err := fs.Parse(args); err != nil {
		return errUsage
	}

	client := &http.Client{Timeout: 5 * time.Second}
	resp, err := client.Get(*addr + "/health")
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check failed: status %d", resp.StatusCode)
	}
	fmt.Fprintln(os.Stdout, "OK")
	return nil
}
