// Command nodeflow executes node-graph workflows: `nodeflow run wf.json`
// runs a single workflow to completion, `nodeflow serve` exposes the engine
// as an MCP stdio server.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/kordes/nodeflow/internal/engine"
	"github.com/kordes/nodeflow/internal/executors"
	"github.com/kordes/nodeflow/internal/logging"
	"github.com/kordes/nodeflow/internal/metrics"
	"github.com/kordes/nodeflow/internal/plugins"
	"github.com/kordes/nodeflow/internal/ports"
	"github.com/kordes/nodeflow/internal/scheduler"
	"github.com/kordes/nodeflow/internal/streaming"
	"github.com/kordes/nodeflow/internal/validation"
	"github.com/kordes/nodeflow/pkg/mcp"
	"github.com/kordes/nodeflow/pkg/schema"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}

	switch os.Args[1] {
	case "run":
		if len(os.Args) < 3 {
			fmt.Fprintln(os.Stderr, "usage: nodeflow run <workflow.json>")
			os.Exit(2)
		}
		os.Exit(cmdRun(os.Args[2]))
	case "serve":
		os.Exit(cmdServe())
	case "version":
		fmt.Println("nodeflow " + version)
	default:
		usage()
		os.Exit(2)
	}
}

const version = "1.0.0"

func usage() {
	fmt.Fprintln(os.Stderr, `usage: nodeflow <command>

commands:
  run <workflow.json>   execute a workflow file to completion
  serve                 serve the engine as an MCP stdio server
  version               print the version`)
}

// app bundles the wired engine components.
type app struct {
	cfg     Config
	logger  *slog.Logger
	hub     *streaming.MemoryHub
	manager *engine.Manager
	promReg *prometheus.Registry
}

func buildApp(ctx context.Context) (*app, error) {
	cfg := loadConfig()
	logger := newLogger(cfg.LogLevel)

	portReg := ports.NewRegistry()
	execReg := executors.NewRegistry()
	if err := executors.RegisterBuiltins(execReg, executors.BuiltinConfig{
		SQL:    executors.SQLConfig{DefaultDSN: cfg.SQLDefaultDSN},
		Logger: logger,
	}); err != nil {
		return nil, fmt.Errorf("register builtins: %w", err)
	}

	loader, err := plugins.NewLoader(execReg, portReg, logger)
	if err != nil {
		return nil, fmt.Errorf("plugin loader: %w", err)
	}
	if n, err := loader.LoadDir(ctx, cfg.PluginDir); err != nil {
		logger.Warn("plugin discovery failed", "dir", cfg.PluginDir, "error", err)
	} else if n > 0 {
		logger.Info("plugins loaded", "count", n)
	}

	validator, err := validation.NewWorkflowValidator(execReg, logger)
	if err != nil {
		return nil, fmt.Errorf("validator: %w", err)
	}

	promReg := prometheus.NewRegistry()
	collector := metrics.NewCollector(promReg)

	hub := streaming.NewMemoryHub()
	graph := engine.NewGraphExecutor(execReg, portReg, hub, logger)
	manager := engine.NewManager(engine.Config{
		MaxConcurrent:  cfg.MaxConcurrent,
		DefaultTimeout: cfg.timeout(),
		WorkspaceRoot:  cfg.WorkspaceRoot,
		KeepWorkspaces: cfg.KeepWorkspaces,
		QueueCapacity:  cfg.QueueCapacity,
		HistoryCap:     cfg.HistoryCap,
	}, graph, hub, validator, collector, logger)

	return &app{cfg: cfg, logger: logger, hub: hub, manager: manager, promReg: promReg}, nil
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	inner := slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: lvl})
	return slog.New(logging.NewCorrelationHandler(inner))
}

// cmdRun executes one workflow file and prints the terminal snapshot.
func cmdRun(path string) int {
	ctx := context.Background()
	a, err := buildApp(ctx)
	if err != nil {
		fmt.Fprintln(os.Stderr, "nodeflow:", err)
		return 1
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		fmt.Fprintln(os.Stderr, "nodeflow:", err)
		return 1
	}
	var def schema.WorkflowDefinition
	if err := json.Unmarshal(raw, &def); err != nil {
		fmt.Fprintln(os.Stderr, "nodeflow: parse workflow:", err)
		return 1
	}

	snap, runErr := a.manager.Execute(ctx, def)
	out, _ := json.MarshalIndent(snap, "", "  ")
	fmt.Println(string(out))

	if runErr != nil {
		fmt.Fprintln(os.Stderr, "nodeflow:", runErr)
		return 1
	}
	if snap.Status != schema.RunStatusCompleted {
		return 1
	}
	return 0
}

// cmdServe runs the MCP stdio server until stdin closes or a signal arrives.
func cmdServe() int {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := buildApp(ctx)
	if err != nil {
		fmt.Fprintln(os.Stderr, "nodeflow:", err)
		return 1
	}

	sched := scheduler.NewScheduler(a.manager, a.logger)
	if err := sched.Start(ctx); err != nil {
		a.logger.Error("scheduler start failed", "error", err)
		return 1
	}
	defer sched.Stop()

	if a.cfg.MetricsAddr != "" {
		go serveMetrics(a, ctx)
	}

	srv := mcp.NewNodeflowServer(a.manager, sched, a.logger)
	if err := srv.Serve(ctx); err != nil && ctx.Err() == nil {
		a.logger.Error("mcp server failed", "error", err)
		return 1
	}
	return 0
}

func serveMetrics(a *app, ctx context.Context) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(a.promReg, promhttp.HandlerOpts{}))

	srv := &http.Server{Addr: a.cfg.MetricsAddr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	a.logger.Info("metrics endpoint listening", "addr", a.cfg.MetricsAddr)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		a.logger.Error("metrics endpoint failed", "error", err)
	}
}
