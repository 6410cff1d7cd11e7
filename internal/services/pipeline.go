package services

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"path"
	"runtime/debug"
	"strings"
	"time"

	"github.com/Lllllllleong/medreportflow/internal/metrics"
	"github.com/Lllllllleong/medreportflow/internal/models"
	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
)

// PlaceholderUserID is recorded when the uploader's identity did not reach the
// pipeline.
const PlaceholderUserID = "unknown-user"

// errorReportTimeout bounds the error report write, which runs detached from
// the invocation's cancellation.
const errorReportTimeout = 30 * time.Second

type PipelineConfig struct {
	ModelID     string
	ErrorBucket string
}

// IngestionPipeline runs one intake object through hashing, extraction,
// evaluation and indexing.
type IngestionPipeline struct {
	blobs     BlobStore
	extractor *FieldExtractor
	evaluator *Evaluator
	writer    *IndexWriter
	config    PipelineConfig
	now       func() time.Time
}

func NewIngestionPipeline(deps *Dependencies, cfg PipelineConfig) *IngestionPipeline {
	now := deps.Now
	if now == nil {
		now = time.Now
	}
	p := &IngestionPipeline{
		blobs:     deps.Blobs,
		extractor: NewFieldExtractor(deps.Analyzer),
		evaluator: NewEvaluator(deps.Registry),
		writer:    NewIndexWriter(deps.Index),
		config:    cfg,
		now:       now,
	}
	slog.Info("Ingestion pipeline initialized.", "modelId", cfg.ModelID, "errorBucket", cfg.ErrorBucket)
	return p
}

// Process handles one storage event. Failures are logged and written to the
// error bucket; they are reported in the result, never returned.
func (p *IngestionPipeline) Process(ctx context.Context, e models.IntakeEvent) (res models.PipelineResult) {
	logCtx := slog.With("gcsBucket", e.Bucket, "gcsObject", e.Name)
	logCtx.Info("Processing new intake object.")
	res.State = models.StateStarted

	defer func() {
		if r := recover(); r != nil {
			err := NewError(KindCatastrophicFailure, fmt.Sprintf("panic: %v", r), nil)
			p.fail(ctx, logCtx, e, &res, err, fmt.Sprintf("panic in state %s: %v\n%s", res.State, r, debug.Stack()))
		}
		metrics.PipelineRuns.WithLabelValues(string(res.State), res.ErrorKind).Inc()
	}()

	if err := p.run(ctx, logCtx, e, &res); err != nil {
		p.fail(ctx, logCtx, e, &res, err, errorTrace(res.State, err))
		return res
	}
	res.State = models.StateDone
	logCtx.Info("Processing complete.", "fileHash", res.Hash)
	return res
}

func (p *IngestionPipeline) run(ctx context.Context, logCtx *slog.Logger, e models.IntakeEvent, res *models.PipelineResult) error {
	// The object is read once; everything below works on this copy.
	blob, err := p.blobs.Get(ctx, e.Bucket, e.Name)
	if err != nil {
		return NewError(KindStorageUnavailable, "failed to read intake object", err)
	}
	if len(blob.Data) == 0 {
		return NewError(KindInvalidInput, "intake object is empty", nil)
	}
	logCtx.Info("Intake object read.", "sizeBytes", len(blob.Data))

	res.Hash = ContentHash(blob.Data)
	res.State = models.StateHashed
	logCtx = logCtx.With("fileHash", res.Hash)

	meta := p.submissionMeta(logCtx, e, blob, res.Hash)
	meta.PageCount = countPages(logCtx, blob.Data)

	logCtx.Info("Starting extraction.", "modelId", p.config.ModelID)
	ext, err := p.extractor.Extract(ctx, blob.Data, p.config.ModelID)
	if err != nil {
		return err
	}
	res.State = models.StateExtracted

	assessment, err := p.evaluator.Evaluate(ctx, ext.Fields, p.now())
	if err != nil {
		return err
	}
	res.State = models.StateEvaluated
	metrics.Assessments.WithLabelValues(string(assessment.Validity), string(assessment.Fraud)).Inc()
	logCtx.Info("Report evaluated.", "validityStatus", assessment.Validity, "fraudStatus", assessment.Fraud)

	if err := p.writer.Write(ctx, BuildRecord(meta, ext, assessment)); err != nil {
		return err
	}
	res.State = models.StateIndexed
	logCtx.Info("Record indexed.")
	return nil
}

// submissionMeta recovers the uploader's identity and filename. Event metadata
// wins over object metadata; when neither carries them the placeholder
// identity and the object name are used.
func (p *IngestionPipeline) submissionMeta(logCtx *slog.Logger, e models.IntakeEvent, blob *models.Blob, hash string) models.SubmissionMeta {
	lookup := func(key string) string {
		if v := strings.TrimSpace(e.Metadata[key]); v != "" {
			return v
		}
		return strings.TrimSpace(blob.Metadata[key])
	}

	objectName := path.Base(e.Name)
	meta := models.SubmissionMeta{
		Hash:             hash,
		ObjectName:       objectName,
		OriginalFilename: lookup(models.MetadataOriginalFilename),
		UserID:           lookup(models.MetadataUserID),
		ModelID:          p.config.ModelID,
	}
	if meta.UserID == "" {
		logCtx.Warn("Uploader identity missing from object metadata; using placeholder.", "placeholder", PlaceholderUserID)
		meta.UserID = PlaceholderUserID
	}
	if meta.OriginalFilename == "" {
		meta.OriginalFilename = objectName
	}

	switch {
	case !e.TimeCreated.IsZero():
		meta.UploadedAt = e.TimeCreated
	case !blob.Created.IsZero():
		meta.UploadedAt = blob.Created
	default:
		meta.UploadedAt = p.now()
	}
	return meta
}

func (p *IngestionPipeline) fail(ctx context.Context, logCtx *slog.Logger, e models.IntakeEvent, res *models.PipelineResult, err error, trace string) {
	kind := KindOf(err)
	res.LastState = res.State
	res.State = models.StateFailed
	res.ErrorKind = string(kind)
	res.Err = err
	logCtx.Error("Ingestion failed.", "error", err, "errorKind", kind, "lastState", res.LastState)

	if p.config.ErrorBucket == "" {
		return
	}
	report := models.ErrorReport{Error: string(kind), Message: err.Error(), Traceback: trace}
	name := ErrorReportName(e.Name)
	// The run may have failed because ctx was canceled or timed out; the
	// report is still written.
	writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), errorReportTimeout)
	defer cancel()
	if werr := p.writeErrorReport(writeCtx, name, report); werr != nil {
		metrics.ErrorReportFailures.Inc()
		logCtx.Error("CRITICAL: Failed to save error report.", "errorBucket", p.config.ErrorBucket, "errorObject", name, "writeError", werr)
		return
	}
	logCtx.Info("Error report saved.", "errorBucket", p.config.ErrorBucket, "errorObject", name)
}

func (p *IngestionPipeline) writeErrorReport(ctx context.Context, name string, report models.ErrorReport) error {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(report); err != nil {
		return fmt.Errorf("failed to encode error report: %w", err)
	}
	return p.blobs.Put(ctx, p.config.ErrorBucket, name, buf.Bytes(), models.PutOptions{
		ContentType: "application/json; charset=utf-8",
		Overwrite:   true,
	})
}

// ErrorReportName derives the error object name from the intake object name:
// "dir/abc.pdf" becomes "abc_error.txt".
func ErrorReportName(objectName string) string {
	base := path.Base(objectName)
	return strings.TrimSuffix(base, path.Ext(base)) + "_error.txt"
}

// errorTrace lists the wrapped error chain, outermost first.
func errorTrace(state models.PipelineState, err error) string {
	var b strings.Builder
	fmt.Fprintf(&b, "failed in state %s\n", state)
	for cur := err; cur != nil; cur = errors.Unwrap(cur) {
		fmt.Fprintf(&b, "  %T: %v\n", cur, cur)
	}
	return b.String()
}

// countPages is best-effort; a document pdfcpu cannot read is still sent to
// the extraction service.
func countPages(logCtx *slog.Logger, data []byte) (pages int) {
	defer func() {
		if r := recover(); r != nil {
			logCtx.Warn("Page count panicked; continuing without it.", "panic", r)
			pages = 0
		}
	}()
	conf := model.NewDefaultConfiguration()
	conf.ValidationMode = model.ValidationRelaxed
	n, err := api.PageCount(bytes.NewReader(data), conf)
	if err != nil {
		logCtx.Warn("Could not count PDF pages.", "reason", firstLine(err.Error()))
		return 0
	}
	return n
}

// firstLine drops anything after the first line break, such as the stack
// frames pdfcpu attaches to its errors.
func firstLine(s string) string {
	line, _, _ := strings.Cut(s, "\n")
	return strings.TrimSpace(line)
}
