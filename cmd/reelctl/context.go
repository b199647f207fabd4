package main

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync"

	"reelstream/internal/config"
	"reelstream/internal/database"
	"reelstream/internal/logging"
	"reelstream/internal/server"
	"reelstream/internal/tools"

	"github.com/gofrs/flock"
	"github.com/sirupsen/logrus"
)

// appContext opens configuration, logging, the database and the services the
// first time a command needs them.
type appContext struct {
	configFlag *string

	once     sync.Once
	err      error
	config   *config.Config
	logger   *logrus.Logger
	db       *database.Database
	services *server.Services
	closers  []io.Closer
}

func newAppContext(configFlag *string) *appContext {
	return &appContext{configFlag: configFlag}
}

func (a *appContext) ensure(ctx context.Context) (*server.Services, error) {
	a.once.Do(func() {
		path := config.Path("./config.toml")
		if a.configFlag != nil && strings.TrimSpace(*a.configFlag) != "" {
			path = strings.TrimSpace(*a.configFlag)
		}

		cfg, err := config.LoadConfig(path)
		if err != nil {
			a.err = err
			return
		}
		logger, logCloser, err := logging.New(cfg.Logging)
		if err != nil {
			a.err = err
			return
		}
		a.closers = append(a.closers, logCloser)

		db, err := database.NewDatabase(cfg.Database.Path, logger)
		if err != nil {
			a.err = err
			return
		}
		a.closers = append(a.closers, db)

		svc, err := server.NewServices(ctx, cfg, db, tools.NewExecRunner(), logger)
		if err != nil {
			a.err = err
			return
		}
		if err := svc.Collector.SyncDirectories(ctx, server.LibraryDirectories(cfg)); err != nil {
			svc.Close()
			a.err = err
			return
		}

		a.config, a.logger, a.db, a.services = cfg, logger, db, svc
	})
	return a.services, a.err
}

// lock is the lock file the server's scheduler takes around collections.
func (a *appContext) lock() *flock.Flock {
	return flock.New(a.config.Collector.LockFile)
}

// roots returns the non-ignored library directories, or the given ones.
func (a *appContext) roots(args []string) []string {
	if len(args) > 0 {
		return args
	}
	var roots []string
	for _, d := range server.LibraryDirectories(a.config) {
		if !d.Ignore {
			roots = append(roots, d.Path)
		}
	}
	return roots
}

// Close releases everything ensure opened, the services first.
func (a *appContext) Close() error {
	if a.services != nil {
		a.services.Close()
	}
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		errs = append(errs, a.closers[i].Close())
	}
	return errors.Join(errs...)
}
