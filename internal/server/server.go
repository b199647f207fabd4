// Package server exposes the media library over HTTP: browsing, playback
// with on-the-fly transcoding, progress tracking, renders and subtitle search.
package server

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"reelstream/internal/auth"
	"reelstream/internal/config"
	"reelstream/internal/database"
	"reelstream/internal/ngrok"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 10 * time.Second

// Server represents the media streaming server
type Server struct {
	config       *config.Config
	db           *database.Database
	svc          *Services
	authService  *auth.Service
	ngrokService *ngrok.Service
	logger       *logrus.Logger
}

// New creates a server over already wired services.
func New(cfg *config.Config, svc *Services, authService *auth.Service, logger *logrus.Logger) *Server {
	ngrokSvc, err := ngrok.NewService(&cfg.Ngrok, logger)
	if err != nil {
		logger.WithError(err).Warn("Ngrok tunnel not available")
		ngrokSvc = nil
	}

	return &Server{
		config:       cfg,
		db:           svc.DB,
		svc:          svc,
		authService:  authService,
		ngrokService: ngrokSvc,
		logger:       logger,
	}
}

// Handler returns the routes wrapped in the middleware chain.
func (ms *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /api/auth/login", ms.handleAuthLogin)
	mux.HandleFunc("POST /api/auth/logout", ms.handleAuthLogout)
	mux.HandleFunc("GET /api/config", ms.handleGetConfig)
	mux.HandleFunc("GET /health", ms.handleHealthCheck)

	// Library
	mux.HandleFunc("GET /api/directories", ms.handleGetDirectories)
	mux.HandleFunc("GET /api/directories/{id}/mediafiles", ms.handleGetMediaFiles)
	mux.HandleFunc("POST /api/directories/{id}/collect", ms.handleCollectDirectory)

	// Playback
	mux.HandleFunc("GET /api/mediafiles/{id}/watch", ms.handleWatch)
	mux.HandleFunc("PUT /api/mediafiles/{id}/position", ms.handleReportPosition)
	mux.HandleFunc("GET /stream/{id}", ms.handleStream)
	mux.HandleFunc("GET /download/{id}", ms.handleDownload)

	// Renders
	mux.HandleFunc("POST /api/mediafiles/{id}/render", ms.handleRender)
	mux.HandleFunc("GET /api/jobs", ms.handleGetJobs)
	mux.HandleFunc("GET /api/jobs/{id}", ms.handleGetJob)
	mux.HandleFunc("DELETE /api/jobs", ms.handleCleanupJobs)

	mux.HandleFunc("GET /api/subtitles/search", ms.handleSearchSubtitles)
	mux.HandleFunc("GET /api/preferences", ms.handleGetPreferences)
	mux.HandleFunc("PUT /api/preferences", ms.handleUpdatePreferences)
	mux.HandleFunc("GET /api/activity", ms.handleActivity)

	var handler http.Handler = mux
	handler = ms.authMiddleware(handler)
	handler = ms.corsMiddleware(handler)
	handler = ms.requestLoggingMiddleware(handler)
	handler = ms.panicRecoveryMiddleware(handler)
	return handler
}

// Start serves until ctx is cancelled, then shuts down gracefully. Requests
// inherit ctx, so running transcodes are stopped on shutdown.
func (ms *Server) Start(ctx context.Context) error {
	// no WriteTimeout: a transcoded stream lasts as long as the film
	server := &http.Server{
		Addr:        ms.config.GetAddress(),
		Handler:     ms.Handler(),
		ReadTimeout: time.Duration(ms.config.Server.ReadTimeout) * time.Second,
		BaseContext: func(net.Listener) context.Context { return ctx },
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		ms.logger.WithField("address", server.Addr).Info("reelstream server starting")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		ms.logger.Info("Shutting down server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	if ms.ngrokService != nil {
		g.Go(func() error {
			if err := ms.ngrokService.StartTunnel(gctx, "http://"+server.Addr); err != nil {
				ms.logger.WithError(err).Warn("Could not start ngrok tunnel")
				return nil
			}
			closed := make(chan struct{})
			go func() {
				ms.ngrokService.Wait()
				close(closed)
			}()
			select {
			case <-gctx.Done():
				return ms.ngrokService.Stop()
			case <-closed:
				ms.logger.Warn("Ngrok tunnel closed, serving locally only")
				return nil
			}
		})
	}

	return g.Wait()
}

// PublicURL returns the tunnel address, empty until a tunnel is up.
func (ms *Server) PublicURL() string {
	return ms.ngrokService.GetPublicURL()
}
