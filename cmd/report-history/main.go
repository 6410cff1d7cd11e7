package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"sync"

	"github.com/GoogleCloudPlatform/functions-framework-go/functions"

	"github.com/Lllllllleong/medreportflow/internal/config"
	"github.com/Lllllllleong/medreportflow/internal/httpapi"
	"github.com/Lllllllleong/medreportflow/internal/services"
)

var (
	handlerInstance *httpapi.Handler
	once            sync.Once
	initErr         error
)

func init() {
	// --- Set up structured logging ---
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	functions.HTTP("MedicalReportHistory", medicalReportHistory)
}

func main() {}

func medicalReportHistory(w http.ResponseWriter, r *http.Request) {
	once.Do(func() {
		cfg, err := config.Load()
		if err != nil {
			initErr = err
			return
		}
		deps, err := services.NewGatewayDependencies(context.Background(), cfg)
		if err != nil {
			initErr = err
			return
		}
		handlerInstance = httpapi.New(cfg, slog.Default(), deps.Blobs, deps.Index)
	})
	if initErr != nil {
		slog.Error("Critical: history endpoint initialization failed", "error", initErr)
		http.Error(w, "Internal Server Error: failed to initialize service", http.StatusInternalServerError)
		return
	}
	if r.Method != http.MethodGet {
		http.Error(w, "Method Not Allowed", http.StatusMethodNotAllowed)
		return
	}

	handlerInstance.History(w, r)
}
