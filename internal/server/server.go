// Package server provides the main server initialization and run logic.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/nebari-dev/labgate/internal/api"
	"github.com/nebari-dev/labgate/internal/api/handlers"
	"github.com/nebari-dev/labgate/internal/config"
	"github.com/nebari-dev/labgate/internal/db"
	"github.com/nebari-dev/labgate/internal/logger"
	"github.com/nebari-dev/labgate/internal/rbac"
	"golang.org/x/sync/errgroup"
)

// Config holds the server configuration options.
type Config struct {
	Port    int    // Port to run the server on (0 = use config default)
	Mode    string // Run mode: server, worker, or both
	Version string // Version string to report
}

// Run starts the server with the given configuration and blocks until the context is canceled.
func Run(ctx context.Context, cfg Config) error {
	if cfg.Version != "" {
		handlers.Version = cfg.Version
	}

	appCfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	if cfg.Port != 0 {
		appCfg.Server.Port = cfg.Port
	}

	logger.Init(appCfg.Log.Format, appCfg.Log.Level)
	slog.Info("Starting labgate", "version", cfg.Version, "mode", appCfg.Server.Mode)

	mode := cfg.Mode
	if mode == "" {
		mode = "both"
	}
	runServer := mode == "server" || mode == "both"
	runWorker := mode == "worker" || mode == "both"
	if !runServer && !runWorker {
		return fmt.Errorf("invalid mode %q: valid modes are server, worker, both", mode)
	}

	app, err := Open(appCfg)
	if err != nil {
		return err
	}
	defer app.Close()

	serverID, err := db.GetOrCreateServerID(app.DB)
	if err != nil {
		return fmt.Errorf("failed to initialize server ID: %w", err)
	}
	slog.Info("Server ID initialized", "server_id", serverID)

	if err := db.CreateDefaultAdmin(app.DB); err != nil {
		return fmt.Errorf("failed to create default admin user: %w", err)
	}

	g, gctx := errgroup.WithContext(ctx)

	if runWorker {
		g.Go(func() error {
			err := app.Worker.Start(gctx)
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		})
	}

	if runServer {
		enforcer, err := rbac.NewEnforcer(app.DB, slog.Default())
		if err != nil {
			return err
		}
		router := api.NewRouter(appCfg, api.Deps{
			DB:       app.DB,
			Auth:     app.Auth,
			Enforcer: enforcer,
			Engine:   app.Engine,
			Access:   app.Access,
			Metrics:  app.Metrics,
			Catalog:  app.Catalog,
			Reports:  app.Reports,
			Jobs:     app.Worker,
			JobState: app.Queue,
			Blobs:    app.Blobs,
		})

		srv := &http.Server{
			Addr:              fmt.Sprintf(":%d", appCfg.Server.Port),
			Handler:           router,
			ReadHeaderTimeout: 10 * time.Second,
		}

		g.Go(func() error {
			slog.Info("Server listening", "address", srv.Addr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("http server: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				return fmt.Errorf("server forced to shutdown: %w", err)
			}
			slog.Info("Server stopped")
			return nil
		})
	}

	slog.Info("labgate started", "mode", mode)
	err = g.Wait()
	slog.Info("labgate exited")
	return err
}

// RunWithSignalHandling starts the server and stops it on SIGINT or SIGTERM.
func RunWithSignalHandling(cfg Config) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	return Run(ctx, cfg)
}
