package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/nebari-dev/labgate/internal/audit"
	"github.com/nebari-dev/labgate/internal/auth"
	"github.com/nebari-dev/labgate/internal/blob"
	"github.com/nebari-dev/labgate/internal/compliance"
	"github.com/nebari-dev/labgate/internal/config"
	"github.com/nebari-dev/labgate/internal/db"
	"github.com/nebari-dev/labgate/internal/fixture"
	"github.com/nebari-dev/labgate/internal/queue"
	"github.com/nebari-dev/labgate/internal/report"
	"github.com/nebari-dev/labgate/internal/service"
	"github.com/nebari-dev/labgate/internal/store"
	"github.com/nebari-dev/labgate/internal/worker"
	"gorm.io/gorm"
)

// App holds the wired components shared by the server and the CLI commands.
type App struct {
	Config   *config.Config
	DB       *gorm.DB
	Store    *store.Store
	Engine   *compliance.Engine
	Audit    *audit.Recorder
	Blobs    *blob.Store
	Access   *service.AccessService
	Metrics  *service.MetricsService
	Catalog  *service.CatalogService
	Reports  *report.Builder
	Importer *fixture.Importer
	Auth     *auth.Authenticator
	Queue    queue.Queue
	Worker   *worker.Worker

	closers []io.Closer
}

// Open connects to the database, migrates it and wires every component.
func Open(cfg *config.Config) (*App, error) {
	// Propagate app log level to database if not explicitly set
	if cfg.Database.LogLevel == "" {
		cfg.Database.LogLevel = cfg.Log.Level
	}

	database, err := db.New(cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}
	slog.Info("Database initialized", "driver", cfg.Database.Driver)

	if err := db.Migrate(database); err != nil {
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	slog.Info("Database migrations completed")

	a := &App{Config: cfg, DB: database}
	if sqlDB, err := database.DB(); err == nil {
		a.closers = append(a.closers, sqlDB)
	}

	sinks := []audit.Sink{audit.NewDBSink(database)}
	if cfg.Audit.AMQPURL != "" {
		amqpSink := audit.NewAMQPSink(cfg.Audit.AMQPURL, cfg.Audit.AMQPQueue)
		sinks = append(sinks, amqpSink)
		a.closers = append(a.closers, amqpSink)
		slog.Info("Publishing audit events to AMQP", "queue", cfg.Audit.AMQPQueue)
	}
	a.Audit = audit.NewRecorder(slog.Default(), sinks...)

	if cfg.Storage.URL != "" {
		a.Blobs, err = blob.OpenURL(context.Background(), cfg.Storage.URL)
	} else {
		a.Blobs, err = blob.NewFileStore(cfg.Storage.AttachmentsDir)
	}
	if err != nil {
		a.Close()
		return nil, err
	}
	a.closers = append(a.closers, a.Blobs)

	a.Store = store.New(database)
	a.Engine = compliance.New(a.Store)
	a.Access = service.NewAccessService(a.Store, a.Engine, a.Audit, slog.Default())
	a.Metrics = service.NewMetricsService(a.Store, a.Audit)
	a.Catalog = service.NewCatalogService(a.Store, a.Blobs, a.Audit, slog.Default())
	a.Reports = report.NewBuilder(a.Store, a.Engine)
	a.Importer = fixture.NewImporter(a.Store)
	a.Auth = auth.NewAuthenticator(a.Store, cfg.Auth.JWTSecret, cfg.Auth.TokenTTL, a.Audit)

	a.Queue, err = createQueue(cfg, database)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("failed to initialize job queue: %w", err)
	}
	// close the queue before the database so no dequeue runs against a closed pool
	a.closers = append([]io.Closer{a.Queue}, a.closers...)
	slog.Info("Job queue initialized", "type", cfg.Queue.Type)

	a.Worker = worker.New(database, a.Queue, a.Access, a.Audit, slog.Default(), worker.Options{
		Workers:  cfg.Autocheck.Workers,
		Interval: cfg.Autocheck.Interval,
	})
	return a, nil
}

// Close releases the queue, audit connections and the database pool.
func (a *App) Close() error {
	var errs []error
	for _, c := range a.closers {
		if err := c.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}

// createQueue creates a queue based on configuration.
func createQueue(cfg *config.Config, database *gorm.DB) (queue.Queue, error) {
	switch cfg.Queue.Type {
	case "memory":
		return queue.NewMemoryQueue(database, 100), nil
	case "valkey":
		if cfg.Queue.ValkeyAddr == "" {
			return nil, fmt.Errorf("valkey address is required when queue type is valkey")
		}
		return queue.NewValkeyQueue(cfg.Queue.ValkeyAddr, database)
	default:
		return nil, fmt.Errorf("unsupported queue type: %s (supported: memory, valkey)", cfg.Queue.Type)
	}
}
