package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"cloud.google.com/go/civil"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/Lllllllleong/medreportflow/internal/config"
	"github.com/Lllllllleong/medreportflow/internal/models"
	"github.com/Lllllllleong/medreportflow/internal/services"
)

func newHashCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "hash <file>",
		Short: "Print the content hash a document would be indexed under",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), services.ContentHash(data))
			return nil
		},
	}
}

func newEvaluateCmd() *cobra.Command {
	var (
		reportDate    string
		physicianName string
		physicianID   string
		registryFile  string
		at            string
	)
	cmd := &cobra.Command{
		Use:   "evaluate",
		Short: "Apply the validity and physician rules to the given field values",
		RunE: func(cmd *cobra.Command, _ []string) error {
			now := time.Now()
			if at != "" {
				t, err := time.Parse(time.RFC3339, at)
				if err != nil {
					return fmt.Errorf("invalid --at: %w", err)
				}
				now = t
			}

			var registry services.PhysicianRegistry = services.DefaultPhysicians
			if registryFile != "" {
				reg, err := services.LoadRegistryFile(registryFile)
				if err != nil {
					return err
				}
				registry = reg
			}

			fields := models.FieldSet{
				PhysicianName: optionalText(physicianName),
				PhysicianID:   optionalText(physicianID),
			}
			if reportDate != "" {
				if d, err := civil.ParseDate(reportDate); err == nil {
					fields.ReportDate = models.DateValue(d)
				} else {
					fields.ReportDate = models.TextValue(reportDate)
				}
			}

			a, err := services.NewEvaluator(registry).Evaluate(cmd.Context(), fields, now)
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(a)
		},
	}
	cmd.Flags().StringVar(&reportDate, "date", "", "report date, YYYY-MM-DD or DD/MM/YYYY")
	cmd.Flags().StringVar(&physicianName, "physician-name", "", "physician name as printed on the report")
	cmd.Flags().StringVar(&physicianID, "physician-id", "", "physician registration number")
	cmd.Flags().StringVar(&registryFile, "registry", "", "YAML physician registry (defaults to the built-in table)")
	cmd.Flags().StringVar(&at, "at", "", "evaluate as of this RFC 3339 time instead of now")
	return cmd
}

func optionalText(s string) *models.FieldValue {
	if s == "" {
		return nil
	}
	return models.TextValue(s)
}

func newReprocessCmd() *cobra.Command {
	var (
		bucket      string
		prefix      string
		concurrency int
	)
	cmd := &cobra.Command{
		Use:   "reprocess",
		Short: "Run the pipeline again over existing intake objects",
		Long: "Lists intake objects under a prefix and runs each through the pipeline. " +
			"Validity depends on the evaluation time, so reprocessing refreshes the indexed status.",
		RunE: func(cmd *cobra.Command, _ []string) error {
			_ = godotenv.Load()
			slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stderr, nil)))

			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if bucket == "" {
				if err := cfg.RequireUpload(); err != nil {
					return fmt.Errorf("--bucket not given: %w", err)
				}
				bucket = cfg.IntakeBucket
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			deps, err := services.NewPipelineDependencies(ctx, cfg)
			if err != nil {
				return err
			}
			defer func() {
				_ = deps.Close()
			}()

			names, err := deps.Blobs.List(ctx, bucket, prefix)
			if err != nil {
				return err
			}
			pipeline := services.NewIngestionPipeline(deps, services.PipelineConfig{
				ModelID:     cfg.ModelID,
				ErrorBucket: cfg.ErrorBucket,
			})

			summary := reprocess(ctx, pipeline, bucket, names, concurrency)
			fmt.Fprintln(cmd.OutOrStdout(), summary.String())
			if summary.failed > 0 {
				return fmt.Errorf("%d objects failed; see the error bucket", summary.failed)
			}
			if summary.skipped > 0 {
				return fmt.Errorf("interrupted with %d objects not processed", summary.skipped)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&bucket, "bucket", "", "intake bucket (defaults to INTAKE_BUCKET)")
	cmd.Flags().StringVar(&prefix, "prefix", "", "only reprocess objects under this prefix")
	cmd.Flags().IntVar(&concurrency, "concurrency", 4, "number of documents processed at once")
	return cmd
}

type reprocessSummary struct {
	done    int
	failed  int
	skipped int
}

func (s reprocessSummary) String() string {
	return fmt.Sprintf("processed %d objects: %d done, %d failed, %d skipped", s.done+s.failed, s.done, s.failed, s.skipped)
}

type processor interface {
	Process(ctx context.Context, e models.IntakeEvent) models.PipelineResult
}

// reprocess runs each object as an independent invocation, at most limit at a
// time. Runs already started are allowed to finish when ctx is canceled.
func reprocess(ctx context.Context, p processor, bucket string, names []string, limit int) reprocessSummary {
	if limit < 1 {
		limit = 1
	}
	var (
		mu      sync.Mutex
		summary reprocessSummary
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(limit)
	for _, name := range names {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			res := p.Process(gctx, models.IntakeEvent{Bucket: bucket, Name: name})
			mu.Lock()
			defer mu.Unlock()
			if res.State == models.StateDone {
				summary.done++
			} else {
				summary.failed++
			}
			return nil
		})
	}
	_ = g.Wait()
	summary.skipped = len(names) - summary.done - summary.failed
	return summary
}
