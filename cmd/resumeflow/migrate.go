package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"strconv"

	"go.uber.org/zap"

	"github.com/BaSui01/resumeflow/config"
	"github.com/BaSui01/resumeflow/internal/database"
	"github.com/BaSui01/resumeflow/internal/migration"
)

// =============================================================================
// 🗄️ migrate 命令
// =============================================================================

// runMigrate 处理 migrate 子命令；迁移与 gorm 共享同一连接池
func runMigrate(args []string) error {
	if len(args) < 1 {
		printMigrateUsage()
		return errUsage
	}
	sub := args[0]
	if sub == "help" || sub == "-h" || sub == "--help" {
		printMigrateUsage()
		return nil
	}

	fs := flag.NewFlagSet("migrate "+sub, flag.ContinueOnError)
	configPath := configFlag(fs)
	if err := fs.Parse(args[1:]); err != nil {
		return errUsage
	}

	action, err := migrateAction(sub, fs.Args())
	if err != nil {
		printMigrateUsage()
		return err
	}

	cfg, _, err := loadConfig(*configPath)
	if err != nil {
		return err
	}
	logger, _ := initLogger(cfg.Log)
	defer func() { _ = logger.Sync() }()

	pool, err := database.Open(cfg.Database, logger)
	if err != nil {
		return err
	}
	defer pool.Close()

	migrator, err := migration.NewMigratorFromGorm(pool.DB(), cfg.Database.Driver, logger)
	if err != nil {
		return fmt.Errorf("create migrator: %w", err)
	}
	defer func() {
		if err := migrator.Close(); err != nil {
			logger.Debug("migrator close", zap.Error(err))
		}
	}()

	ctx := context.Background()
	cli := migration.NewCLI(migrator, os.Stdout)
	if err := action(ctx, cli); err != nil {
		return err
	}
	if sub == "up" {
		return cli.Check(ctx, sqlStores(cfg.Store)...)
	}
	return nil
}

// sqlStores 返回配置为 sql 后端的检查点存储
func sqlStores(s config.StoreConfig) []string {
	var stores []string
	if s.Snapshots == "sql" {
		stores = append(stores, "snapshots")
	}
	if s.Heartbeats == "sql" {
		stores = append(stores, "heartbeats")
	}
	return stores
}

type migrateFunc func(ctx context.Context, cli *migration.CLI) error

// migrateAction 把子命令解析为对 CLI 的调用
func migrateAction(sub string, rest []string) (migrateFunc, error) {
	need := func(n int) error {
		if len(rest) < n {
			return fmt.Errorf("migrate %s: missing argument: %w", sub, errUsage)
		}
		return nil
	}

	switch sub {
	case "up":
		return func(ctx context.Context, cli *migration.CLI) error { return cli.Up(ctx) }, nil
	case "down":
		return func(ctx context.Context, cli *migration.CLI) error { return cli.Down(ctx) }, nil
	case "status":
		return func(ctx context.Context, cli *migration.CLI) error { return cli.Status(ctx) }, nil
	case "version":
		return func(ctx context.Context, cli *migration.CLI) error { return cli.Version(ctx) }, nil
	case "info":
		return func(ctx context.Context, cli *migration.CLI) error { return cli.Info(ctx) }, nil
	case "steps":
		if err := need(1); err != nil {
			return nil, err
		}
		n, err := strconv.Atoi(rest[0])
		if err != nil {
			return nil, fmt.Errorf("migrate steps: invalid step count %q", rest[0])
		}
		return func(ctx context.Context, cli *migration.CLI) error { return cli.Steps(ctx, n) }, nil
	case "goto":
		if err := need(1); err != nil {
			return nil, err
		}
		v, err := strconv.ParseUint(rest[0], 10, 32)
		if err != nil {
			return nil, fmt.Errorf("migrate goto: invalid version %q", rest[0])
		}
		return func(ctx context.Context, cli *migration.CLI) error { return cli.Goto(ctx, uint(v)) }, nil
	case "force":
		if err := need(1); err != nil {
			return nil, err
		}
		v, err := strconv.Atoi(rest[0])
		if err != nil {
			return nil, fmt.Errorf("migrate force: invalid version %q", rest[0])
		}
		return func(ctx context.Context, cli *migration.CLI) error { return cli.Force(ctx, v) }, nil
	default:
		return nil, errors.Join(fmt.Errorf("unknown migrate subcommand: %s", sub), errUsage)
	}
}

func printMigrateUsage() {
	fmt.Println(`Database Migration Commands

Usage:
  resumeflow migrate <subcommand> [--config <path>] [args]

Subcommands:
  up          Apply all pending migrations
  down        Roll back the last migration
  steps <n>   Apply (n > 0) or roll back (n < 0) n migrations
  goto <v>    Migrate to a specific version
  force <v>   Force set the schema version (use with caution)
  status      Show applied and pending migrations
  version     Show the current version
  info        Show the schema state of each checkpoint store

Tables:
  graph_snapshots     research graph checkpoints (store.snapshots: sql)
  heartbeat_details   last heartbeat per activity (store.heartbeats: sql)`)
}
