package services

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"cloud.google.com/go/firestore"
	"github.com/Lllllllleong/medreportflow/internal/config"
	"github.com/Lllllllleong/medreportflow/internal/gcp"
	"github.com/Lllllllleong/medreportflow/internal/models"
	"github.com/Lllllllleong/medreportflow/internal/s3compat"
)

// BlobStore is the object storage used for intake documents and error reports.
type BlobStore interface {
	Put(ctx context.Context, bucket, name string, data []byte, opts models.PutOptions) error
	// Get reads an object's content and metadata in one call.
	Get(ctx context.Context, bucket, name string) (*models.Blob, error)
	List(ctx context.Context, bucket, prefix string) ([]string, error)
}

// Dependencies is the bundle of collaborators injected into the pipeline and
// the HTTP handlers. Any member may be replaced with a substitute in tests.
type Dependencies struct {
	Blobs    BlobStore
	Analyzer DocumentAnalyzer
	Index    SearchIndex
	Registry PhysicianRegistry
	Now      func() time.Time

	closers []func() error
}

// Close releases every client opened by NewDependencies.
func (d *Dependencies) Close() error {
	var firstErr error
	for _, c := range d.closers {
		if err := c(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	d.closers = nil
	return firstErr
}

// NewGatewayDependencies opens the clients the HTTP endpoints need.
func NewGatewayDependencies(ctx context.Context, cfg config.Config) (*Dependencies, error) {
	deps := &Dependencies{Now: time.Now}
	if err := deps.openBlobStore(ctx, cfg); err != nil {
		return nil, err
	}
	if cfg.ProjectID != "" {
		fs, err := deps.openFirestore(ctx, cfg)
		if err != nil {
			_ = deps.Close()
			return nil, err
		}
		deps.Index = gcp.NewFirestoreIndex(fs, cfg.IndexCollection)
	} else {
		slog.Warn("PROJECT_ID is not set; history endpoint is disabled.")
	}
	return deps, nil
}

// NewPipelineDependencies opens every client the ingestion pipeline needs.
func NewPipelineDependencies(ctx context.Context, cfg config.Config) (*Dependencies, error) {
	if err := cfg.RequirePipeline(); err != nil {
		return nil, err
	}
	deps := &Dependencies{Now: time.Now}
	if err := deps.openBlobStore(ctx, cfg); err != nil {
		return nil, err
	}
	fs, err := deps.openFirestore(ctx, cfg)
	if err != nil {
		_ = deps.Close()
		return nil, err
	}
	deps.Index = gcp.NewFirestoreIndex(fs, cfg.IndexCollection)

	analyzer, err := gcp.NewVertexAnalyzer(ctx, cfg.ProjectID, cfg.VertexAIRegion, ExtractionFields)
	if err != nil {
		_ = deps.Close()
		return nil, fmt.Errorf("failed to create vertex analyzer: %w", err)
	}
	deps.closers = append(deps.closers, analyzer.Close)
	deps.Analyzer = analyzer

	switch {
	case cfg.PhysicianRegistryFile != "":
		reg, err := LoadRegistryFile(cfg.PhysicianRegistryFile)
		if err != nil {
			_ = deps.Close()
			return nil, err
		}
		deps.Registry = reg
	case cfg.PhysicianCollection != "":
		deps.Registry = gcp.NewFirestoreRegistry(fs, cfg.PhysicianCollection)
	default:
		deps.Registry = DefaultPhysicians
	}
	return deps, nil
}

func (d *Dependencies) openBlobStore(ctx context.Context, cfg config.Config) error {
	switch cfg.BlobBackend {
	case config.BackendMinio:
		store, err := s3compat.NewStore(cfg.MinioEndpoint, cfg.MinioAccessKey, cfg.MinioSecretKey, cfg.MinioSecure)
		if err != nil {
			return fmt.Errorf("failed to init minio client: %w", err)
		}
		d.Blobs = store
	default:
		store, err := gcp.NewGCSStore(ctx)
		if err != nil {
			return fmt.Errorf("failed to create storage client: %w", err)
		}
		d.closers = append(d.closers, store.Close)
		d.Blobs = store
	}
	return nil
}

func (d *Dependencies) openFirestore(ctx context.Context, cfg config.Config) (*firestore.Client, error) {
	fs, err := gcp.NewFirestoreClient(ctx, cfg.ProjectID)
	if err != nil {
		return nil, err
	}
	d.closers = append(d.closers, fs.Close)
	return fs, nil
}
