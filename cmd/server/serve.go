package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/airq-visualizer/backend/internal/api"
	"github.com/airq-visualizer/backend/internal/config"
	"github.com/airq-visualizer/backend/internal/fetch"
	"github.com/airq-visualizer/backend/internal/historydb"
	"github.com/airq-visualizer/backend/internal/metrics"
	"github.com/airq-visualizer/backend/internal/quality"
	"github.com/airq-visualizer/backend/internal/refresh"
	"github.com/airq-visualizer/backend/internal/session"
	"github.com/airq-visualizer/backend/internal/web"
	"github.com/go-logr/logr"
	"github.com/labstack/echo/v4"
	"github.com/spf13/cobra"
)

const shutdownTimeout = 10 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Poll the snapshot and serve the map and dashboard",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, log, closeLog, err := loadRuntime()
		if err != nil {
			return err
		}
		defer closeLog()

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		return serve(ctx, cfg, log)
	},
}

func serve(ctx context.Context, cfg *config.AppConfig, log logr.Logger) error {
	loc, err := cfg.Location()
	if err != nil {
		return err
	}

	fetcher, err := fetch.New(cfg.Snapshot.URL, cfg.ConfigDir, cfg.SnapshotTimeout())
	if err != nil {
		return fmt.Errorf("failed to create snapshot fetcher: %w", err)
	}

	classifier := quality.NewClassifier(cfg.Thresholds)
	m := metrics.New(classifier)

	dashboardCtl := refresh.NewController(fetcher, refresh.Options{
		Name:     api.ViewDashboard,
		Interval: cfg.DashboardInterval(),
		Logger:   log,
		Recorder: m,
	})
	mapCtl := refresh.NewController(fetcher, refresh.Options{
		Name:     api.ViewMap,
		Interval: cfg.MapInterval(),
		Logger:   log,
		Recorder: m,
	})

	var history *historydb.Index
	if cfg.History.Enabled {
		history, err = historydb.Open(log)
		if err != nil {
			return fmt.Errorf("failed to open history index: %w", err)
		}
		defer history.Close()
		queryTimeout := time.Duration(cfg.History.QueryTimeoutSeconds) * time.Second
		dashboardCtl.OnResult(history.Listener(queryTimeout))
	}

	sessions := session.NewManagerWithLimit(log, cfg.Sessions.MaxSessions)

	h := api.NewHandler(&api.Dependencies{
		Dashboard:      dashboardCtl,
		Map:            mapCtl,
		Sessions:       sessions,
		Classifier:     classifier,
		History:        history,
		HistoryTimeout: time.Duration(cfg.History.QueryTimeoutSeconds) * time.Second,
		Metrics:        m,
		MapImage:       cfg.Map,
		Locale:         cfg.Display.Locale,
		Location:       loc,
		Version:        Version,
		Logger:         log,
	})
	hub := api.NewHub(h)
	defer hub.Close()

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	api.SetupMiddleware(e, api.MiddlewareConfig{
		EnableCORS:        cfg.Server.EnableCORS,
		AllowOrigins:      splitOrigins(cfg.Server.AllowOrigins),
		EnableCompression: cfg.Server.EnableCompression,
		CompressionLevel:  cfg.Server.CompressionLevel,
		BodyLimit:         cfg.Server.BodyLimit,
		RequestTimeout:    time.Duration(cfg.Server.RequestTimeout) * time.Second,
		RequestLogging:    cfg.Logging.EnableRequestLogging,
	}, log)
	api.RegisterRoutes(e, h, hub, m.Handler())

	embeddedMode := web.HasEmbeddedFiles()
	if embeddedMode {
		if err := web.RegisterStaticRoutes(e); err != nil {
			log.Error(err, "failed to register static routes")
		} else {
			log.Info("serving embedded frontend from binary")
		}
	}

	// Both views poll independently; the first fetch of each runs at once.
	dashboardRun := dashboardCtl.Start(ctx)
	mapRun := mapCtl.Start(ctx)
	defer mapRun.Stop()
	defer dashboardRun.Stop()

	go cleanupSessions(ctx, sessions, cfg.CleanupInterval(), cfg.SessionTimeout())

	s := &http.Server{
		Addr:         cfg.GetServerAddr(),
		Handler:      e,
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
		IdleTimeout:  time.Duration(cfg.Server.IdleTimeout) * time.Second,
	}

	log.Info("server starting",
		"version", Version,
		"buildTime", BuildTime,
		"listen", cfg.GetServerAddr(),
		"snapshot", cfg.Snapshot.URL,
		"dashboardInterval", cfg.DashboardInterval(),
		"mapInterval", cfg.MapInterval(),
		"embedded", embeddedMode,
	)

	errCh := make(chan error, 1)
	go func() {
		if err := s.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := s.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("graceful shutdown failed: %w", err)
	}
	return nil
}

// cleanupSessions sweeps idle dashboard sessions until ctx is done.
func cleanupSessions(ctx context.Context, sessions *session.Manager, every, maxAge time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			sessions.CleanupOldSessions(maxAge)
		}
	}
}

func splitOrigins(raw string) []string {
	var origins []string
	for _, o := range strings.Split(raw, ",") {
		if o = strings.TrimSpace(o); o != "" {
			origins = append(origins, o)
		}
	}
	return origins
}
