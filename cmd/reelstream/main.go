package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"reelstream/internal/auth"
	"reelstream/internal/collector"
	"reelstream/internal/config"
	"reelstream/internal/database"
	"reelstream/internal/logging"
	"reelstream/internal/server"
	"reelstream/internal/tools"

	"github.com/sirupsen/logrus"
)

func main() {
	configPath := config.Path("./config.toml")

	// Initialize basic logger for startup
	logger := logrus.New()
	logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp: true,
	})

	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		logger.WithError(err).Fatal("Error loading configuration")
	}

	logger, logCloser, err := logging.New(cfg.Logging)
	if err != nil {
		logrus.WithError(err).Fatal("Error configuring logging")
	}
	defer logCloser.Close()

	for _, d := range cfg.Library.Directories {
		if _, err := os.Stat(d.Path); os.IsNotExist(err) && !d.Ignore {
			logger.WithField("path", d.Path).Warn("Library directory does not exist")
		}
	}
	for _, name := range []string{cfg.Tools.Ffmpeg, cfg.Tools.Mediainfo, cfg.Tools.Mkvinfo, cfg.Tools.Mkvextract, cfg.Tools.File} {
		if !tools.Available(name) {
			logger.WithField("tool", name).Warn("External tool not found in PATH")
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := database.NewDatabase(cfg.Database.Path, logger)
	if err != nil {
		logger.WithError(err).Fatal("Error initializing database")
	}
	defer db.Close()

	svc, err := server.NewServices(ctx, cfg, db, tools.NewExecRunner(), logger)
	if err != nil {
		logger.WithError(err).Fatal("Error creating services")
	}
	defer svc.Close()

	authService, err := auth.NewService(&cfg.Auth)
	if err != nil {
		logger.WithError(err).Fatal("Error initializing authentication")
	}
	defer authService.Close()

	if err := svc.Collector.SyncDirectories(ctx, server.LibraryDirectories(cfg)); err != nil {
		logger.WithError(err).Fatal("Error syncing library directories")
	}

	if cfg.Library.ScanOnStartup {
		go func() {
			if _, err := svc.Scheduler.RunOnce(ctx); err != nil {
				logger.WithError(err).Warn("Startup collection failed")
			}
		}()
	}

	if cfg.Library.WatchForChanges {
		watcher, err := collector.NewWatcher(svc.Collector, collector.DefaultSettleDelay, logger)
		if err != nil {
			logger.WithError(err).Warn("File watcher not available")
		} else {
			roots := make([]string, 0, len(cfg.Library.Directories))
			for _, d := range server.LibraryDirectories(cfg) {
				if !d.Ignore {
					roots = append(roots, d.Path)
				}
			}
			if err := watcher.Start(ctx, roots); err != nil {
				logger.WithError(err).Warn("Could not watch library directories")
			}
			defer func() {
				watcher.Close()
				watcher.Wait()
			}()
		}
	}

	svc.Scheduler.Start()
	defer svc.Scheduler.Stop()

	if err := server.New(cfg, svc, authService, logger).Start(ctx); err != nil {
		logger.WithError(err).Error("Server stopped with error")
	}
	logger.Info("Received shutdown signal")
}
