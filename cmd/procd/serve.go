package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/gophpeek/procd/internal/audit"
	"github.com/gophpeek/procd/internal/config"
	"github.com/gophpeek/procd/internal/metrics"
	"github.com/gophpeek/procd/internal/process"
	"github.com/gophpeek/procd/internal/reaper"
	"github.com/gophpeek/procd/internal/rpcserver"
	"github.com/gophpeek/procd/internal/watch"
)

var watchConfig bool

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the supervisor daemon",
	Long: `Start procd in daemon mode: spawn every autostart process, accept
control-plane connections on the configured Unix socket, and run until a
halt is requested.`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().BoolVar(&watchConfig, "watch", false, "reload automatically when the config file changes on disk")
}

func runServe(cmd *cobra.Command, args []string) error {
	cfgPath := getConfigPath()

	cfg, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}

	log := newLogger(cfg.Daemon.LogLevel, cfg.Daemon.LogFormat)
	slog.SetDefault(log)

	log.Info("procd starting",
		"version", version,
		"pid", os.Getpid(),
		"config", cfgPath,
		"processes", len(cfg.Processes),
		"socket", cfg.Daemon.SocketPath,
	)

	auditLogger := audit.NewLogger(log)
	daemon := process.NewDaemon(cfg, cfgPath, log)

	loadConfig := func() (*config.Config, error) {
		return config.Load(cfgPath)
	}

	server := rpcserver.New(daemon, log, auditLogger, cfg.Daemon.SocketPath, cfg.Daemon.AuthGroup, loadConfig)
	if err := server.Bind(); err != nil {
		log.Error("failed to bind control socket", "error", err)
		return fmt.Errorf("bind control socket: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if reaper.IsPID1() {
		log.Info("running as pid 1, starting zombie reaper")
		go reaper.Run(ctx.Done(), time.Second, log)
	}

	if cfg.Metrics.Enabled {
		metricsSrv := metrics.NewServer(cfg.Metrics.Addr, cfg.Metrics.Path, log)
		metricsSrv.Start(ctx)
		log.Info("metrics server started", "addr", cfg.Metrics.Addr, "path", cfg.Metrics.Path)
	}

	if watchConfig {
		w, err := watch.New(cfgPath, func() error {
			newCfg, err := config.Load(cfgPath)
			if err != nil {
				return err
			}
			daemon.Reload(newCfg)
			return nil
		}, log, 2*time.Second)
		if err != nil {
			log.Error("failed to start config watcher", "error", err)
			return fmt.Errorf("start config watcher: %w", err)
		}
		go w.Run(ctx)
		log.Info("config watch enabled", "path", cfgPath)
	}

	serveErrCh := make(chan error, 1)
	go func() { serveErrCh <- server.Serve(ctx) }()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT, syscall.SIGQUIT)

	runDone := make(chan error, 1)
	go func() { runDone <- daemon.Run(ctx) }()

	select {
	case sig := <-sigCh:
		log.Info("received shutdown signal", "signal", sig.String())
		daemon.Halt()
	case err := <-runDone:
		cancel()
		<-serveErrCh
		if err != nil {
			log.Error("supervisor loop exited with error", "error", err)
			return err
		}
		log.Info("procd halted cleanly")
		return nil
	}

	if err := <-runDone; err != nil {
		cancel()
		<-serveErrCh
		return err
	}
	cancel()
	<-serveErrCh
	log.Info("procd halted cleanly")
	return nil
}

func newLogger(level, format string) *slog.Logger {
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

	opts := &slog.HandlerOptions{Level: lvl}
	if format == "text" {
		return slog.New(slog.NewTextHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewJSONHandler(os.Stderr, opts))
}
