package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/riskibarqy/statharvest/internal/app"
	"github.com/riskibarqy/statharvest/internal/config"
	"github.com/riskibarqy/statharvest/internal/observability"
	"github.com/riskibarqy/statharvest/internal/platform/logging"
	"github.com/spf13/cobra"
)

func serveCmd() *cobra.Command {
	var noLoop bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the fetch workers, the reconciliation loop and the admin API",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if noLoop {
				cfg.Reconcile.LoopEnabled = false
			}
			return serve(cmd.Context(), cfg)
		},
	}
	cmd.Flags().BoolVar(&noLoop, "no-loop", false, "disable the periodic reconciliation loop")
	return cmd
}

func serve(parent context.Context, cfg config.Config) error {
	logger := logging.NewJSON(cfg.LogLevel).With("service", cfg.ServiceName, "env", cfg.AppEnv)
	logging.SetDefault(logger)
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := observability.InitUptrace(cfg, logger)
	if err != nil {
		return err
	}
	stopProfiler, err := observability.InitPyroscope(cfg, logger)
	if err != nil {
		return err
	}
	pprofSrv := observability.StartPprofServer(cfg, logger)

	a, err := app.Build(ctx, cfg, logger)
	if err != nil {
		logger.Error("build app", "error", err)
		return err
	}
	srv, err := a.NewHTTPServer()
	if err != nil {
		_ = a.Close()
		return err
	}

	a.Orchestrator.Start(cfg.Reconcile.LoopEnabled)

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("http server starting", "addr", cfg.HTTPAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	var runErr error
	select {
	case <-ctx.Done():
	case err, ok := <-serverErr:
		if ok {
			logger.Error("http server failed", "error", err)
			runErr = err
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown failed", "error", err)
	}
	if err := a.Orchestrator.Shutdown(shutdownCtx); err != nil {
		logger.Error("pipeline shutdown failed", "error", err)
	}
	if err := a.Close(); err != nil {
		logger.Error("release resources failed", "error", err)
	}
	if err := observability.StopPprofServer(shutdownCtx, pprofSrv); err != nil {
		logger.Warn("pprof shutdown failed", "error", err)
	}
	if err := stopProfiler(); err != nil {
		logger.Warn("pyroscope stop failed", "error", err)
	}

	flushCtx, flushCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer flushCancel()
	if err := shutdownTracing(flushCtx); err != nil {
		logger.Warn("uptrace shutdown failed", "error", err)
	}

	logger.Info("harvester stopped")
	return runErr
}
