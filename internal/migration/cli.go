package migration

import (
	"context"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
)

// CLI 迁移命令的终端输出。每次变更 schema 后都会打印检查点存储的表状态，
// 便于确认 store.snapshots / store.heartbeats 选 sql 时表已就绪。
type CLI struct {
	migrator Migrator
	out      io.Writer
}

// NewCLI 创建 CLI；out 为 nil 时输出到 stdout
func NewCLI(migrator Migrator, out io.Writer) *CLI {
	if out == nil {
		out = os.Stdout
	}
	return &CLI{migrator: migrator, out: out}
}

// Up 执行全部待执行迁移
func (c *CLI) Up(ctx context.Context) error {
	return c.change(ctx, "Applying checkpoint schema migrations", c.migrator.Up)
}

// Down 回滚最近一次迁移
func (c *CLI) Down(ctx context.Context) error {
	return c.change(ctx, "Rolling back the last checkpoint schema migration", c.migrator.Down)
}

// Steps 前进 (n > 0) 或回滚 (n < 0) n 步
func (c *CLI) Steps(ctx context.Context, n int) error {
	what := fmt.Sprintf("Applying %d migration(s)", n)
	if n < 0 {
		what = fmt.Sprintf("Rolling back %d migration(s)", -n)
	}
	return c.change(ctx, what, func(ctx context.Context) error { return c.migrator.Steps(ctx, n) })
}

// Goto 迁移到指定版本
func (c *CLI) Goto(ctx context.Context, version uint) error {
	return c.change(ctx, fmt.Sprintf("Migrating to version %d", version),
		func(ctx context.Context) error { return c.migrator.Goto(ctx, version) })
}

// Force 强制设置版本，不执行任何 SQL
func (c *CLI) Force(ctx context.Context, version int) error {
	fmt.Fprintf(c.out, "Forcing schema version to %d; make sure the tables match.\n", version)
	return c.change(ctx, "Recording forced version",
		func(ctx context.Context) error { return c.migrator.Force(ctx, version) })
}

// Version 输出当前版本
func (c *CLI) Version(ctx context.Context) error {
	version, dirty, err := c.migrator.Version(ctx)
	if err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}
	switch {
	case version == 0:
		fmt.Fprintln(c.out, "No migrations applied yet.")
	case dirty:
		fmt.Fprintf(c.out, "Schema version: %d (dirty)\n", version)
	default:
		fmt.Fprintf(c.out, "Schema version: %d\n", version)
	}
	return nil
}

// Status 以表格输出每个迁移及其建表的存储
func (c *CLI) Status(ctx context.Context) error {
	statuses, err := c.migrator.Status(ctx)
	if err != nil {
		return fmt.Errorf("read migration status: %w", err)
	}
	if len(statuses) == 0 {
		fmt.Fprintln(c.out, "No migrations found.")
		return nil
	}

	w := tabwriter.NewWriter(c.out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "VERSION\tNAME\tSTORE\tSTATUS")
	applied := 0
	for _, s := range statuses {
		status := "pending"
		switch {
		case s.Dirty:
			status = "dirty"
		case s.Applied:
			status = "applied"
			applied++
		}
		fmt.Fprintf(w, "%06d\t%s\t%s\t%s\n", s.Version, s.Name, dash(s.Store), status)
	}
	if err := w.Flush(); err != nil {
		return err
	}
	fmt.Fprintf(c.out, "\n%d of %d applied\n", applied, len(statuses))
	return nil
}

// Info 输出版本与各检查点存储的 schema 状态
func (c *CLI) Info(ctx context.Context) error {
	info, err := c.migrator.Info(ctx)
	if err != nil {
		return fmt.Errorf("read migration info: %w", err)
	}
	c.printInfo(info)
	return nil
}

// Check 确认指定存储的表已迁移到位
func (c *CLI) Check(ctx context.Context, stores ...string) error {
	if len(stores) == 0 {
		return nil
	}
	info, err := c.migrator.Info(ctx)
	if err != nil {
		return fmt.Errorf("read migration info: %w", err)
	}
	return info.Require(stores...)
}

func (c *CLI) change(ctx context.Context, what string, fn func(context.Context) error) error {
	fmt.Fprintf(c.out, "%s...\n", what)
	if err := fn(ctx); err != nil {
		return fmt.Errorf("%s: %w", what, err)
	}
	info, err := c.migrator.Info(ctx)
	if err != nil {
		return fmt.Errorf("read migration info: %w", err)
	}
	c.printInfo(info)
	return nil
}

func (c *CLI) printInfo(info *MigrationInfo) {
	dirty := ""
	if info.Dirty {
		dirty = " (dirty)"
	}
	fmt.Fprintf(c.out, "Schema version: %d%s, %d pending\n", info.CurrentVersion, dirty, info.PendingMigrations)

	w := tabwriter.NewWriter(c.out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "STORE\tTABLE\tSINCE\tSCHEMA")
	for _, s := range info.Stores {
		fmt.Fprintf(w, "%s\t%s\t%06d\t%s\n", s.Name, s.Table, s.Since, s.State)
	}
	_ = w.Flush()
}

func dash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
