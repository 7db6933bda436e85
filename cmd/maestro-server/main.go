package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"maestro/internal/config"
	"maestro/internal/engine"
	"maestro/internal/executor"
	"maestro/internal/logging"
	"maestro/internal/orchestrator"
	"maestro/internal/server"
	"maestro/internal/toolregistry"
	"maestro/internal/transport"
)

var (
	flagConfig   string
	flagHost     string
	flagPort     int
	flagLogLevel string
)

func main() {
	root := &cobra.Command{
		Use:   "maestro-server",
		Short: "Per-user task orchestration server",
		Long: "maestro-server accepts planner task batches over HTTP, drives their\n" +
			"dependency graphs to completion, executes server tools in-process, and\n" +
			"dispatches device tools to connected clients over websocket.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run()
		},
	}

	root.Flags().StringVarP(&flagConfig, "config", "c", "", "config file (default: ./maestro.yaml)")
	root.Flags().StringVar(&flagHost, "host", "", "listen host (overrides config)")
	root.Flags().IntVar(&flagPort, "port", 0, "listen port (overrides config)")
	root.Flags().StringVar(&flagLogLevel, "log-level", "", "log level: debug, info, warn, error")

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load(flagConfig)
	if err != nil {
		return err
	}
	if flagHost != "" {
		cfg.Server.Host = flagHost
	}
	if flagPort != 0 {
		cfg.Server.Port = flagPort
	}
	if flagLogLevel != "" {
		cfg.Log.Level = flagLogLevel
	}
	logging.SetLevel(logging.ParseLevel(cfg.Log.Level))

	logger := logging.NewComponentLogger("main")
	banner(cfg)

	registry := toolregistry.NewRegistry()
	orch := orchestrator.New(registry, logging.NewComponentLogger("orchestrator"))
	exec := executor.New(registry, executor.Config{
		CacheSize:    cfg.Executor.CacheSize,
		CacheTTL:     cfg.Executor.CacheTTL,
		SearchAPIKey: cfg.Executor.SearchAPIKey,
	}, logging.NewComponentLogger("executor"))

	hub := transport.NewHub(logging.NewComponentLogger("hub"))
	eng := engine.New(orch, exec, hub, engine.Config{
		MaxIterations: cfg.Engine.MaxIterations,
		MaxIdle:       cfg.Engine.MaxIdle,
		PollInterval:  cfg.Engine.PollInterval,
		IdleInterval:  cfg.Engine.IdleInterval,
	}, logging.NewComponentLogger("engine"))

	hub.SetAckHandler(orch.HandleClientAck)
	hub.SetDisconnectHandler(func(userID string) {
		eng.Stop(userID)
		orch.Cleanup(userID)
	})

	srv := server.New(cfg.Server, orch, eng, hub, registry, logging.NewComponentLogger("server"))

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return err
	case sig := <-quit:
		logger.Info("received %s, shutting down", sig)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Stop(ctx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	logger.Info("server stopped")
	return nil
}

func banner(cfg config.Config) {
	title := color.New(color.FgCyan, color.Bold)
	dim := color.New(color.Faint)
	title.Println("maestro-server")
	dim.Printf("  listen:     %s\n", cfg.Server.Addr())
	dim.Printf("  log level:  %s\n", cfg.Log.Level)
	dim.Printf("  web search: %s\n", searchMode(cfg.Executor.SearchAPIKey))
}

func searchMode(apiKey string) string {
	if apiKey == "" {
		return "offline (no API key)"
	}
	return "live"
}
