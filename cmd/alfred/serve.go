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

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/RichardoC/alfred/internal/api"
	"github.com/RichardoC/alfred/internal/assistant"
	"github.com/RichardoC/alfred/internal/db"
	"github.com/RichardoC/alfred/internal/executor"
	"github.com/RichardoC/alfred/internal/llm"
	"github.com/RichardoC/alfred/internal/metrics"
	"github.com/RichardoC/alfred/internal/safety"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API",
	Args:  cobra.NoArgs,
	RunE:  runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	database, err := db.New(cfg.Database.Driver, cfg.Database.DSN)
	if err != nil {
		logger.Error("Failed to initialize database",
			zap.Error(err),
			zap.String("driver", cfg.Database.Driver))
		return err
	}
	defer database.Close()

	generator, err := llm.New(ctx, cfg.LLM, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize LLM service: %w", err)
	}

	runner := executor.New(executor.Config{
		Shell:          cfg.Executor.Shell,
		ShellArgs:      cfg.Executor.ShellArgs,
		Timeout:        cfg.Executor.Timeout,
		MaxOutputBytes: cfg.Executor.MaxOutputBytes,
	}, logger)
	gate := safety.NewGate(safety.NewAllowList(cfg.Executor.AllowList...))

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.New(reg)

	svc := assistant.NewService(database, generator, gate, runner, m, logger)
	handler := api.NewHandler(database, svc, logger)

	srv := &http.Server{
		Addr: cfg.Server.Addr,
		Handler: api.NewRouter(handler, api.RouterOptions{
			CORSOrigins:    cfg.Server.CORSOrigins,
			RequestTimeout: cfg.Server.RequestTimeout,
			StaticDir:      cfg.Server.StaticDir,
			Metrics:        m,
			Gatherer:       reg,
		}),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("Starting server",
			zap.String("addr", cfg.Server.Addr),
			zap.String("provider", cfg.LLM.Provider),
			zap.String("model", cfg.LLM.Model),
			zap.Strings("allow_list", gate.Allowed()))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("failed to start server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("Shutting down server")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	return g.Wait()
}
