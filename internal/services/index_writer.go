package services

import (
	"context"
	"fmt"
	"time"

	"github.com/Lllllllleong/medreportflow/internal/models"
)

// SearchIndex is the upsert sink for assembled records.
type SearchIndex interface {
	// Upsert writes records keyed by their "id". A returned error means the
	// index could not be reached; per-document failures are reported in the
	// results.
	Upsert(ctx context.Context, records []models.IndexRecord) ([]models.UpsertResult, error)
	// ListByUser returns a user's records, newest upload first.
	ListByUser(ctx context.Context, userID string, limit int) ([]models.IndexRecord, error)
}

// ProcessingStatus marks records written by this pipeline.
const ProcessingStatus = "Processed"

// TimestampLayout is the UTC ISO-8601 form used for every timestamp in the
// index. It is fixed width so string order matches time order.
const TimestampLayout = "2006-01-02T15:04:05.000000Z"

// IndexWriter assembles index records and upserts them.
type IndexWriter struct {
	index SearchIndex
}

func NewIndexWriter(index SearchIndex) *IndexWriter {
	return &IndexWriter{index: index}
}

// BuildRecord flattens metadata, extracted fields and the assessment into one
// record. Absent values are left out entirely; the key is always present.
func BuildRecord(meta models.SubmissionMeta, ext *models.Extraction, a models.Assessment) models.IndexRecord {
	rec := models.IndexRecord{}
	putString(rec, "document_hash", meta.Hash)
	putString(rec, "filename", meta.ObjectName)
	putString(rec, "original_filename", meta.OriginalFilename)
	putString(rec, "user_id", meta.UserID)
	if !meta.UploadedAt.IsZero() {
		rec["upload_timestamp"] = formatTimestamp(meta.UploadedAt)
	}
	putString(rec, "model_id", meta.ModelID)
	if meta.PageCount > 0 {
		rec["page_count"] = meta.PageCount
	}

	if ext != nil {
		rec["raw_text"] = ext.RawText
		f := ext.Fields
		putField(rec, "patient_name", f.PatientName)
		putField(rec, "patient_rg", f.PatientRG)
		putField(rec, "patient_cpf", f.PatientCPF)
		putField(rec, "physician_name", f.PhysicianName)
		putField(rec, "physician_id", f.PhysicianID)
		putField(rec, "leave_duration", f.LeaveDuration)
		putField(rec, "report_definition", f.ReportDefinition)
		putField(rec, "issuer_name", f.IssuerName)
		putField(rec, "issuer_tax_id", f.IssuerTaxID)
	}
	if a.ReportDate != nil {
		rec["report_date"] = formatTimestamp(*a.ReportDate)
	} else if ext != nil {
		putField(rec, "report_date_text", ext.Fields.ReportDate)
	}
	if a.ExpiresAt != nil {
		rec["expires_at"] = formatTimestamp(*a.ExpiresAt)
	}

	rec["processing_status"] = ProcessingStatus
	rec["validity_status"] = string(a.Validity)
	rec["fraud_status"] = string(a.Fraud)
	rec["fraud_detail"] = a.Detail

	rec["id"] = meta.Hash
	return rec
}

// Write upserts exactly one record.
func (w *IndexWriter) Write(ctx context.Context, rec models.IndexRecord) error {
	key, _ := rec["id"].(string)
	results, err := w.index.Upsert(ctx, []models.IndexRecord{rec})
	if err != nil {
		return fmt.Errorf("failed to call index for %s: %w", key, err)
	}
	if len(results) != 1 {
		return NewError(KindIndexWriteFailed, fmt.Sprintf("index returned %d results for one record", len(results)), nil)
	}
	if !results[0].Succeeded {
		return NewError(KindIndexWriteFailed, fmt.Sprintf("index rejected %s: %s", key, results[0].ErrorMessage), nil)
	}
	return nil
}

func putString(rec models.IndexRecord, key, value string) {
	if value != "" {
		rec[key] = value
	}
}

func putField(rec models.IndexRecord, key string, v *models.FieldValue) {
	if v != nil {
		rec[key] = v.Text
	}
}

func formatTimestamp(t time.Time) string {
	return t.UTC().Format(TimestampLayout)
}
