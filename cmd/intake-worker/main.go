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

	"github.com/go-chi/chi/v5"
	"github.com/joho/godotenv"
	"github.com/segmentio/kafka-go"

	"github.com/Lllllllleong/medreportflow/internal/config"
	"github.com/Lllllllleong/medreportflow/internal/metrics"
	"github.com/Lllllllleong/medreportflow/internal/services"
	"github.com/Lllllllleong/medreportflow/internal/trigger"
)

const commitTimeout = 5 * time.Second

func main() {
	_ = godotenv.Load()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	cfg, err := config.Load()
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	if err := cfg.RequireWorker(); err != nil {
		logger.Error("invalid worker config", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	deps, err := services.NewPipelineDependencies(ctx, cfg)
	if err != nil {
		logger.Error("failed to init dependencies", "error", err)
		os.Exit(1)
	}
	defer func() {
		_ = deps.Close()
	}()
	pipeline := services.NewIngestionPipeline(deps, services.PipelineConfig{
		ModelID:     cfg.ModelID,
		ErrorBucket: cfg.ErrorBucket,
	})

	router := chi.NewRouter()
	router.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusOK) })
	router.Handle("/metrics", metrics.Handler())
	srv := &http.Server{Addr: cfg.HTTPAddr, Handler: router, ReadTimeout: 10 * time.Second}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("metrics server error", "error", err)
		}
	}()

	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  cfg.KafkaBrokers,
		Topic:    cfg.KafkaTopic,
		GroupID:  cfg.KafkaGroupID,
		MinBytes: 1,
		MaxBytes: 10e6,
	})
	defer func() {
		_ = reader.Close()
	}()

	logger.Info("intake worker consuming", "topic", cfg.KafkaTopic, "groupId", cfg.KafkaGroupID)
	consume(ctx, logger, reader, pipeline)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)
}

// consume processes notifications one at a time. A message is committed once
// every intake event in it has been processed, failed runs included, so a
// failed document is never redelivered.
func consume(ctx context.Context, logger *slog.Logger, reader *kafka.Reader, pipeline *services.IngestionPipeline) {
	for {
		msg, err := reader.FetchMessage(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || ctx.Err() != nil {
				return
			}
			logger.Error("failed to fetch notification", "error", err)
			continue
		}

		events, err := trigger.FromS3Notification(msg.Value)
		if err != nil {
			logger.Error("skipping undecodable notification", "error", err, "partition", msg.Partition, "offset", msg.Offset)
		}
		for _, e := range events {
			pipeline.Process(ctx, e)
		}

		commitCtx, cancel := context.WithTimeout(context.Background(), commitTimeout)
		if err := reader.CommitMessages(commitCtx, msg); err != nil {
			logger.Error("failed to commit notification", "error", err, "partition", msg.Partition, "offset", msg.Offset)
		}
		cancel()
	}
}
