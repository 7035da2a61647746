package main

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"nfcunha/orchestrator/core/repository"
	"nfcunha/orchestrator/core/service"
	"nfcunha/orchestrator/database"
	"nfcunha/orchestrator/handler"
	"nfcunha/orchestrator/utils/config"
	"nfcunha/orchestrator/utils/docker"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the orchestrator HTTP API",
		RunE: func(_ *cobra.Command, _ []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			return serve(cfg)
		},
	}
}

func serve(cfg *config.Config) error {
	logrus.Info("Starting orchestrator...")

	db, err := database.Open(cfg.Store.DBPath)
	if err != nil {
		return err
	}
	defer func() {
		if err := db.Close(); err != nil {
			logrus.Warnf("Error closing database: %v", err)
		}
	}()

	store, closeStore, err := openStore(cfg.Store, db)
	if err != nil {
		return err
	}
	defer closeStore()

	dockerClient, err := docker.NewClient(cfg.Docker.Host)
	if err != nil {
		return err
	}
	defer dockerClient.Close()

	// the engine may come up after us; requests report it as unavailable meanwhile
	pingCtx, cancelPing := context.WithTimeout(context.Background(), 5*time.Second)
	if err := dockerClient.Ping(pingCtx); err != nil {
		logrus.Warnf("Docker daemon is not reachable yet: %v", err)
	}
	cancelPing()

	audit := service.NewAuditService(
		repository.NewActionLogRepository(db),
		repository.NewEventLogRepository(db),
	)
	runtime := service.NewRuntimeAdapter(dockerClient, service.RuntimeOptions{
		CallTimeout: cfg.Runtime.CallTimeout,
		PullTimeout: cfg.Runtime.PullTimeout,
		StopTimeout: cfg.Runtime.StopTimeout,
		RetrySteps:  cfg.Runtime.RetrySteps,
		RetryBase:   cfg.Runtime.RetryBase,
	})
	images := service.NewImageCatalog(runtime, audit, cfg.Images.CacheTTL)
	registry := service.NewContainerRegistry(runtime, images, store, audit, cfg.Registry.RemovedRetention)
	if err := registry.Load(); err != nil {
		return err
	}
	logs := service.NewLogService(runtime, registry, cfg.Logs.BufferLines, cfg.Logs.GracePeriod)

	background, stopBackground := context.WithCancel(context.Background())
	defer stopBackground()

	go logs.Run(background)
	reconciler := service.NewReconciler(registry, audit, cfg.Reconcile.Interval, cfg.Audit.RetentionDays, cfg.Reconcile.Enabled)
	go reconciler.Run(background)

	engine := handler.NewEngine(cfg.Server.Mode, cfg.Server.CORSOrigins)
	handler.RegisterRoutes(engine.Group(cfg.Server.APIPrefix), handler.Services{
		Registry:    registry,
		Images:      images,
		Logs:        logs,
		Audit:       audit,
		Runtime:     dockerClient,
		DefaultTail: cfg.Logs.DefaultTail,
	})

	addr := cfg.Server.Host + ":" + cfg.Server.Port
	server := &http.Server{
		Addr:        addr,
		Handler:     engine,
		ReadTimeout: 30 * time.Second,
		IdleTimeout: 60 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		logrus.Infof("Orchestrator listening on %s", addr)
		logrus.Infof("API available at: %s", cfg.Server.APIPrefix)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-quit:
	case err := <-serverErr:
		return err
	}

	logrus.Info("Shutting down server...")
	stopBackground()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		logrus.Warnf("Error during shutdown: %v", err)
	}

	logrus.Info("Server stopped gracefully")
	return nil
}

// openStore returns the registry store selected by cfg.Driver and a func releasing it.
func openStore(cfg config.StoreConfig, db *sql.DB) (repository.ContainerStore, func(), error) {
	switch cfg.Driver {
	case "bolt":
		store, err := repository.OpenBoltContainerStore(cfg.BoltPath)
		if err != nil {
			return nil, nil, err
		}
		return store, func() {
			if err := store.Close(); err != nil {
				logrus.Warnf("Error closing bolt store: %v", err)
			}
		}, nil
	case "memory":
		logrus.Warn("Using in-memory container store; records are lost on restart")
		return repository.NewMemContainerStore(), func() {}, nil
	default:
		return repository.NewSQLiteContainerStore(db), func() {}, nil
	}
}
