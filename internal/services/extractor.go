package services

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"cloud.google.com/go/civil"
	"github.com/Lllllllleong/medreportflow/internal/metrics"
	"github.com/Lllllllleong/medreportflow/internal/models"
)

// DocumentAnalyzer is the external document-understanding service.
type DocumentAnalyzer interface {
	Analyze(ctx context.Context, modelID string, document []byte) (*models.AnalyzeResult, error)
}

// Field names as they are defined in the extraction model.
const (
	FieldPatientName      = "PatientName"
	FieldPatientRG        = "PatientRG"
	FieldPatientCPF       = "PatientCPF"
	FieldPhysicianName    = "PhysicianName"
	FieldPhysicianID      = "PhysicianID"
	FieldReportDate       = "ReportDate"
	FieldLeaveDuration    = "LeaveDuration"
	FieldReportDefinition = "ReportDefinition"
	FieldIssuerName       = "IssuerName"
	FieldIssuerTaxID      = "IssuerTaxID"
)

// ExtractionFields lists every field the extraction model is asked for.
var ExtractionFields = []string{
	FieldPatientName, FieldPatientRG, FieldPatientCPF,
	FieldPhysicianName, FieldPhysicianID, FieldReportDate,
	FieldLeaveDuration, FieldReportDefinition, FieldIssuerName, FieldIssuerTaxID,
}

// FieldExtractor turns raw analysis results into a FieldSet.
type FieldExtractor struct {
	analyzer DocumentAnalyzer
}

func NewFieldExtractor(analyzer DocumentAnalyzer) *FieldExtractor {
	return &FieldExtractor{analyzer: analyzer}
}

// Extract blocks until the analyzer answers. Only the first analyzed document
// is used.
func (e *FieldExtractor) Extract(ctx context.Context, document []byte, modelID string) (*models.Extraction, error) {
	start := time.Now()
	result, err := e.analyzer.Analyze(ctx, modelID, document)
	metrics.ExtractionDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		return nil, fmt.Errorf("document analysis failed: %w", err)
	}
	if result == nil || len(result.Documents) == 0 {
		return nil, NewError(KindNoDocumentFound, "extraction returned no documents", nil)
	}
	if len(result.Documents) > 1 {
		slog.Warn("Analysis returned several documents; using the first.", "documentCount", len(result.Documents))
	}

	doc := result.Documents[0]
	return &models.Extraction{
		RawText: result.Content,
		Fields: models.FieldSet{
			PatientName:      fieldValue(doc, FieldPatientName),
			PatientRG:        fieldValue(doc, FieldPatientRG),
			PatientCPF:       fieldValue(doc, FieldPatientCPF),
			PhysicianName:    fieldValue(doc, FieldPhysicianName),
			PhysicianID:      fieldValue(doc, FieldPhysicianID),
			ReportDate:       fieldValue(doc, FieldReportDate),
			LeaveDuration:    fieldValue(doc, FieldLeaveDuration),
			ReportDefinition: fieldValue(doc, FieldReportDefinition),
			IssuerName:       fieldValue(doc, FieldIssuerName),
			IssuerTaxID:      fieldValue(doc, FieldIssuerTaxID),
		},
	}, nil
}

// fieldValue applies the representation rule: date fields prefer the
// structured date and fall back to the raw content, every other type uses the
// raw content only.
func fieldValue(doc models.AnalyzedDocument, name string) *models.FieldValue {
	field, ok := doc.Fields[name]
	if !ok {
		return nil
	}
	if field.Type == "date" && field.ValueDate != nil {
		if d, err := civil.ParseDate(*field.ValueDate); err == nil {
			return models.DateValue(d)
		}
	}
	if field.Content == nil {
		return nil
	}
	return models.TextValue(*field.Content)
}
