package main

import (
	"context"
	"log/slog"
	"os"
	"sync"

	"github.com/GoogleCloudPlatform/functions-framework-go/functions"
	cloudevents "github.com/cloudevents/sdk-go/v2"

	"github.com/Lllllllleong/medreportflow/internal/config"
	"github.com/Lllllllleong/medreportflow/internal/services"
	"github.com/Lllllllleong/medreportflow/internal/trigger"
)

var (
	pipelineInstance *services.IngestionPipeline
	once             sync.Once
	initErr          error
)

func init() {
	// --- Set up structured logging ---
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	functions.CloudEvent("ProcessMedicalReport", processMedicalReport)
}

// main is required by the Go Functions Framework.
func main() {}

func initPipeline(ctx context.Context) (*services.IngestionPipeline, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	deps, err := services.NewPipelineDependencies(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return services.NewIngestionPipeline(deps, services.PipelineConfig{
		ModelID:     cfg.ModelID,
		ErrorBucket: cfg.ErrorBucket,
	}), nil
}

// processMedicalReport runs once per finalized intake object. Only an init
// failure is returned, so the platform never redelivers a processed event.
func processMedicalReport(ctx context.Context, e cloudevents.Event) error {
	once.Do(func() {
		pipelineInstance, initErr = initPipeline(context.Background())
	})
	if initErr != nil {
		slog.Error("Critical error during function initialization", "error", initErr)
		return initErr
	}

	intake, err := trigger.FromCloudEvent(e)
	if err != nil {
		slog.Error("Failed to decode storage event", "error", err, "eventId", e.ID(), "data", string(e.Data()))
		return nil
	}

	pipelineInstance.Process(ctx, intake)
	return nil
}
