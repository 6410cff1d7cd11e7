package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/Lllllllleong/medreportflow/internal/config"
	"github.com/Lllllllleong/medreportflow/internal/httpapi"
	"github.com/Lllllllleong/medreportflow/internal/services"
)

const (
	readTimeout  = 30 * time.Second
	writeTimeout = 60 * time.Second
	idleTimeout  = 60 * time.Second
)

func main() {
	_ = godotenv.Load()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	cfg, err := config.Load()
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	if err := cfg.RequireUpload(); err != nil {
		logger.Error("invalid gateway config", "error", err)
		os.Exit(1)
	}

	deps, err := services.NewGatewayDependencies(context.Background(), cfg)
	if err != nil {
		logger.Error("failed to init dependencies", "error", err)
		os.Exit(1)
	}
	defer func() {
		_ = deps.Close()
	}()

	handler := httpapi.New(cfg, logger, deps.Blobs, deps.Index)
	srv := &http.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      httpapi.NewRouter(handler),
		ReadTimeout:  readTimeout,
		WriteTimeout: writeTimeout,
		IdleTimeout:  idleTimeout,
	}

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		logger.Info("medical report gateway listening", "addr", cfg.HTTPAddr, "backend", cfg.BlobBackend)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	<-shutdown
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("graceful shutdown failed", "error", err)
	}
}
