// Workspaced is a scoped workspace store daemon with a semantic-search
// overlay.
//
// It stores text and JSON entries under organization, team, agent, and
// session scopes, embeds them in the background, and answers semantic
// queries within one scope or aggregated across many.
//
// Usage:
//
//	# Start the daemon with defaults
//	workspaced
//
//	# Point at a config file
//	workspaced -config /etc/workspaced/config.yaml
//
//	# Show version information
//	workspaced version
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/workspaced/internal/backend"
	"github.com/fyrsmithlabs/workspaced/internal/config"
	"github.com/fyrsmithlabs/workspaced/internal/embeddings"
	"github.com/fyrsmithlabs/workspaced/internal/identity"
	"github.com/fyrsmithlabs/workspaced/internal/indexer"
	"github.com/fyrsmithlabs/workspaced/internal/logging"
	"github.com/fyrsmithlabs/workspaced/internal/scope"
	"github.com/fyrsmithlabs/workspaced/internal/search"
	"github.com/fyrsmithlabs/workspaced/internal/server"
	"github.com/fyrsmithlabs/workspaced/internal/telemetry"
	"github.com/fyrsmithlabs/workspaced/internal/workspace"
)

// Version information (set via ldflags during build)
var (
	version   = "dev"
	gitCommit = "unknown"
	buildDate = "unknown"
)

func main() {
	configPath := flag.String("config", "", "path to config file")
	flag.Parse()

	if args := flag.Args(); len(args) > 0 {
		switch args[0] {
		case "version":
			printVersion()
			os.Exit(0)
		default:
			fmt.Fprintf(os.Stderr, "Unknown command: %s\n", args[0])
			fmt.Fprintf(os.Stderr, "\nUsage:\n")
			fmt.Fprintf(os.Stderr, "  workspaced           Start the daemon\n")
			fmt.Fprintf(os.Stderr, "  workspaced version   Show version information\n")
			os.Exit(1)
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		log.Printf("Received signal %v, shutting down gracefully...", sig)
		cancel()
	}()

	if err := run(ctx, *configPath); err != nil && err != http.ErrServerClosed {
		log.Fatalf("Server error: %v", err)
	}
	log.Println("Server shutdown complete")
}

func printVersion() {
	fmt.Printf("workspaced by Fyrsmith Labs\n")
	fmt.Printf("Version:    %s\n", version)
	fmt.Printf("Commit:     %s\n", gitCommit)
	fmt.Printf("Build Date: %s\n", buildDate)
}

// run wires every component and blocks until ctx is cancelled.
func run(ctx context.Context, configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}

	logger, err := logging.New(cfg.Logging)
	if err != nil {
		return fmt.Errorf("initializing logger: %w", err)
	}
	defer func() {
		_ = logger.Sync()
	}()

	logger.Info("starting workspaced",
		zap.String("version", version),
		zap.String("addr", cfg.Server.Addr),
		zap.String("backend", cfg.Backend.Provider))

	cfg.Telemetry.ServiceVersion = version
	tel, err := telemetry.New(ctx, cfg.Telemetry, logger)
	if err != nil {
		return fmt.Errorf("initializing telemetry: %w", err)
	}
	defer func() {
		if err := tel.Shutdown(context.Background()); err != nil {
			logger.Warn("telemetry shutdown failed", zap.Error(err))
		}
	}()

	directory, err := identity.NewStatic(cfg.Identity.OrganizationID, cfg.Identity.Teams, cfg.Identity.Agents)
	if err != nil {
		return fmt.Errorf("building identity directory: %w", err)
	}
	resolver, err := scope.NewResolver(directory, logger)
	if err != nil {
		return fmt.Errorf("building scope resolver: %w", err)
	}

	store, err := backend.New(cfg.Backend, logger)
	if err != nil {
		return fmt.Errorf("initializing backend: %w", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			logger.Warn("backend close failed", zap.Error(err))
		}
	}()

	provider, err := embeddings.NewProvider(cfg.Embedding.Provider)
	if err != nil {
		return fmt.Errorf("initializing embedding provider: %w", err)
	}
	generator := embeddings.NewGenerator(cfg.Embedding.Generator, provider, cfg.Embedding.Provider.Model, logger)
	defer func() {
		if err := generator.Close(); err != nil {
			logger.Warn("embedding provider close failed", zap.Error(err))
		}
	}()

	pool := indexer.NewPool(cfg.Indexer, store, generator, directory, logger)
	pool.Start()
	defer func() {
		stopCtx, stopCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer stopCancel()
		if err := pool.Stop(stopCtx); err != nil {
			logger.Warn("indexer stop timed out", zap.Error(err))
		}
	}()

	ws := workspace.NewService(cfg.Workspace, store, pool, logger)
	se := search.NewService(cfg.Search, store, generator, directory, logger)

	srv := server.New(server.Config{
		Addr:                cfg.Server.Addr,
		ShutdownTimeout:     cfg.Server.ShutdownTimeout,
		DefaultOrganization: cfg.Identity.OrganizationID,
	}, ws, se, resolver, logger)

	logger.Info("server configured",
		zap.String("health_endpoint", "/healthz"),
		zap.String("metrics_endpoint", "/metrics"),
		zap.String("api_prefix", "/v1"))

	return srv.Start(ctx)
}
