package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/timmy/artfeed/internal/api"
	"github.com/timmy/artfeed/internal/config"
	"github.com/timmy/artfeed/internal/logger"
	"github.com/timmy/artfeed/internal/repository"
	"github.com/timmy/artfeed/internal/service"
	"github.com/timmy/artfeed/internal/storage"
)

func main() {
	// Support CONFIG_PATH environment variable for production deployments
	configPath := os.Getenv("CONFIG_PATH")
	cfg, err := config.Load(configPath)
	if err != nil {
		logger.Error("Failed to load config: %v", err)
		os.Exit(1)
	}

	envCfg := logger.LoadFromEnv()
	envCfg.Level = cfg.Log.Level
	envCfg.Format = cfg.Log.Format
	envCfg.ServiceName = "artfeed-api"
	appLogger := logger.NewFromEnv(envCfg)
	logger.SetDefaultLogger(appLogger)
	defer logger.Sync()

	db, err := repository.InitDB(&cfg.Database)
	if err != nil {
		appLogger.WithError(err).Fatal("Failed to initialize database")
	}
	store := repository.NewStore(db)
	defer store.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	objectStorage, err := storage.NewStorage(&cfg.Storage)
	if err != nil {
		appLogger.WithError(err).Fatal("Failed to initialize storage")
	}
	if err := objectStorage.EnsureBucket(ctx); err != nil {
		appLogger.WithError(err).Fatal("Failed to ensure storage bucket")
	}

	notifier := service.NewArtworkNotifier(store.Artworks, appLogger, 16)

	downloader := service.NewDownloadService(store.Artworks, store.Downloads, objectStorage, appLogger, &service.DownloadConfig{
		Workers:         cfg.Download.Workers,
		QueueSize:       cfg.Download.QueueSize,
		RetryCount:      cfg.Download.RetryCount,
		RetryDelay:      cfg.Download.RetryDelay,
		Timeout:         cfg.Download.Timeout,
		UserAgent:       cfg.Download.UserAgent,
		MaxBytes:        cfg.Download.MaxBytes,
		AllowLocalFiles: cfg.Download.AllowLocalFiles,
	})
	downloader.Start(ctx)
	go func() {
		if _, err := downloader.RecoverPending(ctx, cfg.Download.QueueSize); err != nil && !errors.Is(err, context.Canceled) {
			appLogger.WithError(err).Warn("Failed to resume pending downloads")
		}
	}()

	subscriber := service.NewSubscriberService(store.Sources, store, notifier, downloader, appLogger, &service.SubscriberConfig{
		QueueSize: cfg.Subscriber.QueueSize,
	})
	subscriberDone := make(chan struct{})
	go func() {
		defer close(subscriberDone)
		subscriber.Start(ctx)
	}()

	sources := service.NewSourceManager(store.Sources, appLogger, &service.SourceManagerConfig{
		CommandTimeout: cfg.Sources.CommandTimeout,
	})

	router := api.SetupRouter(&api.Services{
		Store:      store,
		Subscriber: subscriber,
		Downloader: downloader,
		Notifier:   notifier,
		Sources:    sources,
	}, cfg, appLogger)

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.Port),
		Handler: router,
	}

	go func() {
		appLogger.WithFields(logger.Fields{
			"port": cfg.Server.Port,
			"mode": cfg.Server.Mode,
		}).Info("Starting API server")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			appLogger.WithError(err).Fatal("Failed to start server")
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	appLogger.Info("Shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	// Stop taking requests before the workers go away.
	if err := srv.Shutdown(shutdownCtx); err != nil {
		appLogger.WithError(err).Error("Server forced to shutdown")
	}

	cancel()
	<-subscriberDone
	downloader.Wait()

	appLogger.Info("Server exited")
}
