package main

import (
	"context"   // library for cancellation and deadlines
	"log/slog"  // library for structured logging
	"os"        // library for os related operations
	"os/signal" // library for signal handling such as Ctrl+C and kill signals
	"syscall"   // library for system call constants
	"time"      // library for time formatting

	"github.com/dhruvsoni1802/devtools-rpc/internal/api"
	"github.com/dhruvsoni1802/devtools-rpc/internal/config"
	"github.com/dhruvsoni1802/devtools-rpc/internal/pool"
	"github.com/dhruvsoni1802/devtools-rpc/internal/protocol"
	"github.com/dhruvsoni1802/devtools-rpc/internal/session"
	"github.com/dhruvsoni1802/devtools-rpc/internal/storage"
)

//Function to initialize the logger
func setupLogger(level string) *slog.Logger {
	var logLevel slog.Level
	if err := logLevel.UnmarshalText([]byte(level)); err != nil {
		logLevel = slog.LevelInfo
	}

	var handler slog.Handler

	if os.Getenv("ENV") == "production" {

		// Initialize JSON handler for production environment
		handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel})
	} else {

		// Initialize Text handler for development environment with better formatting
		handler = slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
			Level:     logLevel,
			AddSource: false,
			ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
				// Format timestamp to be more readable
				if a.Key == slog.TimeKey {
					t := a.Value.Time()
					return slog.String("time", t.Format(time.DateTime))
				}
				return a
			},
		})
	}

	// Create a new logger with the initialized handler
	return slog.New(handler)
}

// Main entry point of the program
func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	// Setup the logger
	logger := setupLogger(cfg.LogLevel)
	slog.SetDefault(logger)

	slog.Info("DevTools RPC gateway starting",
		"server_port", cfg.ServerPort,
		"devtools_endpoint", cfg.DevToolsTarget(),
		"launch_browser", cfg.LaunchBrowser)

	// Load the protocol descriptor, the bundled one unless files are configured
	desc, err := protocol.LoadFiles(cfg.ProtocolPaths()...)
	if err != nil {
		slog.Error("failed to load protocol descriptor", "error", err)
		os.Exit(1)
	}
	slog.Info("protocol descriptor loaded",
		"version", desc.Version.Major+"."+desc.Version.Minor,
		"domains", len(desc.Domains))

	ctx := context.Background()

	// Optional browser pool, sessions without a target are spread over it
	var loadBalancer *pool.LoadBalancer
	var processPool *pool.ProcessPool
	if cfg.LaunchBrowser {
		launchCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
		processPool, err = pool.NewProcessPool(launchCtx, cfg.ChromiumPath, cfg.BrowserPoolSize)
		cancel()
		if err != nil {
			slog.Error("failed to launch browsers", "error", err)
			os.Exit(1)
		}
		loadBalancer = pool.NewLoadBalancer(processPool)
	}

	// Optional Redis persistence, the gateway keeps working without it
	var repo *storage.SessionRepository
	var redisClient *storage.RedisClient
	if cfg.RedisAddr != "" {
		redisCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		redisClient, err = storage.NewRedisClient(redisCtx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		cancel()
		if err != nil {
			slog.Warn("Redis unavailable, sessions will not be persisted", "error", err)
		} else {
			repo = storage.NewSessionRepository(redisClient, cfg.SessionTTL, cfg.EventJournalSize)
			slog.Info("connected to Redis", "addr", cfg.RedisAddr)
		}
	}

	managerCfg := session.Config{
		DefaultTarget:   cfg.DevToolsTarget(),
		MaxSessions:     cfg.MaxSessions,
		EventBufferSize: cfg.EventBufferSize,
		ConnectTimeout:  cfg.ConnectTimeout,
		CommandTimeout:  cfg.CommandTimeout,
	}
	endpoint := cfg.DevToolsTarget()
	if loadBalancer != nil {
		managerCfg.Picker = loadBalancer
		endpoint = processPool.GetProcesses()[0].Target()
	}

	manager := session.NewManager(desc, repo, managerCfg)

	// Close the Redis records a previous run left active
	reconcileCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	if _, err := manager.Reconcile(reconcileCtx); err != nil {
		slog.Warn("failed to reconcile persisted sessions", "error", err)
	}
	cancel()

	manager.StartCleanupWorker(cfg.CleanupInterval, cfg.SessionIdleTimeout)

	server := api.NewServer(cfg.ServerPort, manager, loadBalancer, endpoint)

	// Create a channel to receive shutdown signals
	quit := make(chan os.Signal, 1)

	// Notify the channel for SIGINT and SIGTERM signals
	// Ctrl+C is SIGINT, kill signal is SIGTERM
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	serverErr := make(chan error, 1)
	go func() {
		serverErr <- server.Start()
	}()

	// Log the service is ready and awaiting shutdown signal
	slog.Info("Service ready", "status", "awaiting shutdown signal")

	// Wait for a shutdown signal or a server failure
	exitCode := 0
	select {
	case sig := <-quit:
		// Log the shutdown initiated with the signal
		slog.Info("shutdown initiated", "signal", sig.String())
	case err := <-serverErr:
		if err != nil {
			slog.Error("server failed", "error", err)
			exitCode = 1
		}
	}

	shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.Warn("HTTP server shutdown failed", "error", err)
	}
	cancel()

	if err := manager.Close(); err != nil {
		slog.Warn("failed to close sessions", "error", err)
	}

	if processPool != nil {
		if err := processPool.Shutdown(); err != nil {
			slog.Warn("failed to stop browsers", "error", err)
		}
	}

	if redisClient != nil {
		if err := redisClient.Close(); err != nil {
			slog.Warn("failed to close Redis client", "error", err)
		}
	}

	// Log the shutdown complete
	slog.Info("shutdown complete")
	os.Exit(exitCode)
}
