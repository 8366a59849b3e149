package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"fieldtrack/internal/api"
	"fieldtrack/internal/config"
	"fieldtrack/internal/core"
	"fieldtrack/internal/logging"
	fieldtrackmcp "fieldtrack/internal/mcp"
	"fieldtrack/internal/notify"
	"fieldtrack/internal/store"
)

type services struct {
	store       *store.Store
	assignments *core.AssignmentService
	ingestor    *core.Ingestor
	analytics   *core.Analytics
	mcp         *fieldtrackmcp.MCPServer
}

func main() {
	cfg, err := config.Parse()
	if err != nil {
		log.Fatalf("failed to parse config: %v", err)
	}

	logger := logging.New(cfg.Log.Level)

	baseCtx := context.Background()
	storeInst, err := store.Open(baseCtx, cfg.StateDir)
	if err != nil {
		logger.Error("open store", "err", err)
		os.Exit(1)
	}
	defer storeInst.Close()

	if cfg.Server.AdminID != "" {
		admin := &core.User{ID: cfg.Server.AdminID, Name: cfg.Server.AdminID, Role: core.RoleAdmin}
		if err := storeInst.UpsertUser(baseCtx, admin); err != nil {
			logger.Error("register admin", "err", err)
			os.Exit(1)
		}
	}

	location := cfg.Location()
	opts := []core.Option{
		core.WithLogger(logger),
		core.WithLocation(location),
		core.WithNotifier(buildNotifier(cfg, logger)),
		core.WithBatchWorkers(cfg.Ingest.BatchWorkers),
	}
	assignments := core.NewAssignmentService(storeInst, opts...)
	analytics := core.NewAnalytics(storeInst, opts...)
	svc := &services{
		store:       storeInst,
		assignments: assignments,
		ingestor:    core.NewIngestor(storeInst, opts...),
		analytics:   analytics,
		mcp:         fieldtrackmcp.NewMCPServer(assignments, analytics, logger, location),
	}

	// Run based on mode
	switch cfg.Server.Mode {
	case "http":
		runHTTPMode(cfg, svc, logger)
	case "mcp":
		runMCPMode(svc, logger)
	case "both":
		runBothMode(cfg, svc, logger)
	}
}

// buildNotifier returns the configured notifiers, or a no-op notifier.
func buildNotifier(cfg *config.Config, logger *slog.Logger) notify.Notifier {
	var notifiers []notify.Notifier
	if cfg.Notification.Bark.Enabled {
		bark, err := notify.NewBarkNotifier(cfg.Notification.Bark.URL)
		if err != nil {
			logger.Warn("bark notifications disabled", "err", err)
		} else {
			notifiers = append(notifiers, bark)
		}
	}
	if len(notifiers) == 0 {
		return &notify.NoOpNotifier{}
	}
	return notify.NewMultiNotifier(notifiers...)
}

func newHTTPServer(cfg *config.Config, svc *services, logger *slog.Logger, withMCP bool) *api.Server {
	deps := api.Dependencies{
		Store:       svc.store,
		Assignments: svc.assignments,
		Ingestor:    svc.ingestor,
		Analytics:   svc.analytics,
		Logger:      logger,
		Location:    cfg.Location(),
	}
	if withMCP {
		deps.MCP = svc.mcp.Handler()
	}
	server, err := api.NewServer(cfg.Server.Addr, cfg.Server.AuthToken, deps)
	if err != nil {
		logger.Error("create server", "err", err)
		os.Exit(1)
	}
	return server
}

// runHTTPMode starts only the HTTP server.
func runHTTPMode(cfg *config.Config, svc *services, logger *slog.Logger) {
	server := newHTTPServer(cfg, svc, logger, false)
	serveUntilSignal(cfg, server, logger, nil)
}

// runMCPMode starts only the MCP server. ServeStdio returns on SIGINT/SIGTERM.
func runMCPMode(svc *services, logger *slog.Logger) {
	// Run MCP server (blocking)
	if err := svc.mcp.Run(); err != nil {
		logger.Error("mcp server error", "err", err)
		os.Exit(1)
	}
}

// runBothMode serves the HTTP API with /mcp mounted, plus MCP on stdio.
func runBothMode(cfg *config.Config, svc *services, logger *slog.Logger) {
	mcpErr := make(chan error, 1)
	go func() {
		if err := svc.mcp.Run(); err != nil {
			mcpErr <- err
		}
	}()

	server := newHTTPServer(cfg, svc, logger, true)
	serveUntilSignal(cfg, server, logger, mcpErr)

	// Note: the stdio MCP server ends with the process
	logger.Info("shutdown complete")
}

func serveUntilSignal(cfg *config.Config, server *api.Server, logger *slog.Logger, mcpErr <-chan error) {
	serverErr := make(chan error, 1)
	go func() {
		if err := server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigs:
		logger.Info("received signal", "signal", sig.String())
	case err := <-serverErr:
		logger.Error("server error", "err", err)
	case err := <-mcpErr:
		logger.Error("mcp server error", "err", err)
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.ShutdownGrace)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown", "err", err)
	}
}
