package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/BaSui01/resumeflow/api"
	"github.com/BaSui01/resumeflow/workflow"
)

// =============================================================================
// 🔍 inspect 命令
// =============================================================================

func runInspect(args []string, out io.Writer) error {
	fs := flag.NewFlagSet("inspect", flag.ContinueOnError)
	configPath := configFlag(fs)
	if err := fs.Parse(args); err != nil {
		return errUsage
	}

	cfg, _, err := loadConfig(*configPath)
	if err != nil {
		return err
	}
	if cfg.Store.Snapshots == "memory" {
		return errors.New("inspect: snapshot store is memory; configure store.snapshots as sql or redis")
	}
	logger, _ := initLogger(cfg.Log)
	defer func() { _ = logger.Sync() }()

	ctx := context.Background()
	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.close(ctx)

	if threadID := fs.Arg(0); threadID != "" {
		return printHistory(ctx, a.snapshots, threadID, out)
	}
	return printThreads(ctx, a.snapshots, out)
}

// printThreads 列出线程与快照数量
func printThreads(ctx context.Context, saver workflow.Saver, out io.Writer) error {
	threads, err := saver.Threads(ctx)
	if err != nil {
		return fmt.Errorf("list threads: %w", err)
	}
	if len(threads) == 0 {
		fmt.Fprintln(out, "No threads.")
		return nil
	}

	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "THREAD\tSNAPSHOTS\tLATEST VERSION")
	for _, t := range threads {
		fmt.Fprintf(tw, "%s\t%d\t%d\n", t.ThreadID, t.Snapshots, t.LatestVersion)
	}
	return tw.Flush()
}

// printHistory 按时间倒序输出线程的快照历史
func printHistory(ctx context.Context, saver workflow.Saver, threadID string, out io.Writer) error {
	snaps, err := saver.List(ctx, threadID)
	if err != nil {
		return fmt.Errorf("list snapshots: %w", err)
	}
	if len(snaps) == 0 {
		return fmt.Errorf("thread %s has no snapshots", threadID)
	}

	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "VERSION\tSTEP\tSOURCE\tWRITTEN\tNEXT\tID\tPARENT\tCREATED")
	for _, s := range snaps {
		e := api.NewHistoryEntry(s)
		next := strings.Join(e.Next, ",")
		if e.Interrupted {
			next += " (interrupted)"
		}
		fmt.Fprintf(tw, "%d\t%d\t%s\t%s\t%s\t%s\t%s\t%s\n",
			e.Version, e.Step, e.Source, dash(strings.Join(e.Written, ",")), dash(next),
			e.ID, dash(e.ParentID), e.CreatedAt.Format(time.RFC3339))
	}
	return tw.Flush()
}

func dash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
