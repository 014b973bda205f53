package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/AngelCh415/adreports/internal/config"
	"github.com/AngelCh415/adreports/internal/credentials"
	"github.com/AngelCh415/adreports/internal/export"
	"github.com/AngelCh415/adreports/internal/httpx"
	"github.com/AngelCh415/adreports/internal/ingest"
	"github.com/AngelCh415/adreports/internal/pipeline"
	"github.com/AngelCh415/adreports/internal/store"
)

func main() {
	cfg, err := config.FromEnv()
	if err != nil {
		slog.Error("config", slog.String("err", err.Error()))
		os.Exit(1)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.Level()}))
	slog.SetDefault(logger)

	runs, err := store.Open(cfg.StorePath)
	if err != nil {
		logger.Error("opening run store", slog.String("err", err.Error()))
		os.Exit(1)
	}
	defer runs.Close()

	runner := &pipeline.Runner{
		Pipeline: pipeline.New(ingest.NewRegistry(cfg, logger), credentials.FromConfig(cfg), logger, nil),
		Sinks:    export.NewMux(cfg, logger),
		Runs:     runs,
		Log:      logger,
	}

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           httpx.NewRouter(logger, runner),
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	go func() {
		<-ctx.Done()
		shutdown, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		srv.Shutdown(shutdown)
	}()

	logger.Info("starting server", slog.String("port", cfg.Port))
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("server error", slog.String("err", err.Error()))
		os.Exit(1)
	}
}
