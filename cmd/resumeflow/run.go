package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/BaSui01/resumeflow/agent"
	"github.com/BaSui01/resumeflow/agent/research"
	"github.com/BaSui01/resumeflow/api/handlers"
	"github.com/BaSui01/resumeflow/order"
)

// =============================================================================
// ▶️ run 命令
// =============================================================================

// runWorkflow 在本进程运行一个工作流；等待审批期间 HTTP 接口保持可用，
// 可以从另一个终端用 resumeflow signal 投递信号
func runWorkflow(args []string) error {
	if len(args) < 1 {
		printRunUsage()
		return errUsage
	}
	kind := args[0]

	fs := flag.NewFlagSet("run "+kind, flag.ContinueOnError)
	configPath := configFlag(fs)
	threadID := fs.String("thread", "", "Thread ID (default: generated)")
	addr := fs.String("addr", "", "Listen address for the signal API (default: server.http_port)")
	noServe := fs.Bool("no-serve", false, "Do not expose the signal API")

	query := fs.String("query", "", "research: question to research")
	approval := fs.Bool("approval", false, "research: pause for approval before the report")

	orderID := fs.String("order-id", "", "order: order ID")
	item := fs.String("item", "widget", "order: item name")
	quantity := fs.Int("quantity", 1, "order: quantity")
	expiry := fs.String("expiry", "", "order: credit card expiry MM/YY")
	items := fs.String("items", "", "order: comma separated items to pack")
	inventoryDown := fs.Bool("inventory-down", false, "order: simulate a flaky inventory service")

	sleepSeconds := fs.Float64("sleep-seconds", 0, "sleep: seconds per step (default 30)")
	steps := fs.Int("steps", 0, "sleep: number of steps (default 4)")

	if err := fs.Parse(args[1:]); err != nil {
		return errUsage
	}

	var launch func(a *app) handlers.RunFunc
	switch kind {
	case "research":
		if strings.TrimSpace(*query) == "" {
			return fmt.Errorf("run research: --query is required")
		}
		in := research.Input{Query: *query, NeedsApproval: *approval}
		launch = func(a *app) handlers.RunFunc {
			return func(ctx context.Context, threadID string) (any, error) {
				return a.research.Execute(ctx, threadID, in)
			}
		}
	case "order":
		o := order.Order{
			OrderID:          *orderID,
			Item:             *item,
			Quantity:         *quantity,
			CreditCardExpiry: *expiry,
			ItemsToPack:      splitList(*items),
		}
		if err := o.Validate(); err != nil {
			return fmt.Errorf("run order: %w", err)
		}
		if *threadID == "" {
			*threadID = "order-" + o.OrderID
		}
		launch = func(a *app) handlers.RunFunc {
			return func(ctx context.Context, threadID string) (any, error) {
				return a.order.Execute(ctx, threadID, o, *inventoryDown)
			}
		}
	case "sleep":
		in := agent.SleepingInput{SleepSeconds: *sleepSeconds, NumSteps: *steps}
		launch = func(a *app) handlers.RunFunc {
			return func(ctx context.Context, threadID string) (any, error) {
				return a.runSleeping(ctx, threadID, in)
			}
		}
	default:
		printRunUsage()
		return errUsage
	}
	if *threadID == "" {
		*threadID = kind + "-" + uuid.NewString()
	}

	cfg, _, err := loadConfig(*configPath)
	if err != nil {
		return err
	}
	logger, _ := initLogger(cfg.Log)
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.close(context.Background())

	serveCtx, stopServe := context.WithCancel(ctx)
	defer stopServe()
	served := make(chan error, 1)
	if *noServe {
		close(served)
	} else {
		tracker := handlers.NewRunTracker(serveCtx, logger)
		srv := newServerManager(a, newHandler(serveCtx, a, tracker), *addr)
		go func() { served <- srv.Run(serveCtx) }()
	}

	logger.Info("running workflow", zap.String("kind", kind), zap.String("thread_id", *threadID))
	fmt.Fprintf(os.Stderr, "thread: %s\n", *threadID)

	result, runErr := launch(a)(ctx, *threadID)
	stopServe()
	if err := <-served; err != nil {
		logger.Warn("signal API stopped with error", zap.Error(err))
	}
	if runErr != nil {
		if errors.Is(runErr, context.Canceled) {
			fmt.Fprintln(os.Stderr, "interrupted; rerun with the same --thread to resume from the last checkpoint")
		}
		return runErr
	}
	return printJSON(os.Stdout, result)
}

func printRunUsage() {
	fmt.Println(`Usage:
  resumeflow run research --query <q> [--approval] [--thread <id>]
  resumeflow run order --order-id <id> --expiry MM/YY [--items a,b] [--inventory-down]
  resumeflow run sleep [--sleep-seconds 30] [--steps 4]

Common options:
  --config <path>   Path to configuration file (YAML)
  --thread <id>     Thread ID; reuse it to resume an interrupted run
  --addr <addr>     Listen address for the signal API
  --no-serve        Do not expose the signal API`)
}

// splitList 解析逗号分隔列表
func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
