package models

import (
	"time"

	"cloud.google.com/go/civil"
)

// FieldKind tags how an extracted value should be interpreted.
type FieldKind string

const (
	KindText FieldKind = "text"
	KindDate FieldKind = "date"
)

// FieldValue is a single normalized field produced by the extractor.
// Date is only set when Kind is KindDate; Text always carries the raw content.
type FieldValue struct {
	Kind FieldKind
	Text string
	Date *civil.Date
}

// TextValue returns a text-kind field.
func TextValue(s string) *FieldValue {
	return &FieldValue{Kind: KindText, Text: s}
}

// DateValue returns a date-kind field with its raw text set to the ISO form.
func DateValue(d civil.Date) *FieldValue {
	return &FieldValue{Kind: KindDate, Text: d.String(), Date: &d}
}

// FieldSet holds the named fields of a medical report. A nil entry means the
// extraction service did not detect the field.
type FieldSet struct {
	PatientName      *FieldValue
	PatientRG        *FieldValue
	PatientCPF       *FieldValue
	PhysicianName    *FieldValue
	PhysicianID      *FieldValue
	ReportDate       *FieldValue
	LeaveDuration    *FieldValue
	ReportDefinition *FieldValue
	IssuerName       *FieldValue
	IssuerTaxID      *FieldValue
}

// Extraction is the normalized output of one extraction call.
type Extraction struct {
	RawText string
	Fields  FieldSet
}

type ValidityStatus string

const (
	ValidityValid               ValidityStatus = "Valid"
	ValidityExpired             ValidityStatus = "Expired"
	ValidityDateMissing         ValidityStatus = "DateMissing"
	ValidityDateValidationError ValidityStatus = "DateValidationError"
	ValidityIndeterminate       ValidityStatus = "Indeterminate"
)

type FraudStatus string

const (
	FraudNotVerified                   FraudStatus = "NotVerified"
	FraudRejectedExpired               FraudStatus = "RejectedExpired"
	FraudRejectedUnauthorizedPhysician FraudStatus = "RejectedUnauthorizedPhysician"
)

// Assessment is derived from a FieldSet and the evaluation time. It is never
// stored on its own.
type Assessment struct {
	Validity   ValidityStatus `json:"validity_status"`
	Fraud      FraudStatus    `json:"fraud_status"`
	Detail     string         `json:"fraud_detail"`
	ReportDate *time.Time     `json:"report_date,omitempty"`
	ExpiresAt  *time.Time     `json:"expires_at,omitempty"`
}

// SubmissionMeta describes where a document came from.
type SubmissionMeta struct {
	Hash             string
	ObjectName       string
	OriginalFilename string
	UserID           string
	UploadedAt       time.Time
	ModelID          string
	PageCount        int
}

// IndexRecord is the flat document upserted into the index. Keys with absent
// values are never present.
type IndexRecord map[string]any

// UpsertResult is the per-document outcome reported by the index.
type UpsertResult struct {
	Key          string
	Succeeded    bool
	ErrorMessage string
}

// PipelineState tracks how far an ingestion run progressed.
type PipelineState string

const (
	StateStarted   PipelineState = "Started"
	StateHashed    PipelineState = "Hashed"
	StateExtracted PipelineState = "Extracted"
	StateEvaluated PipelineState = "Evaluated"
	StateIndexed   PipelineState = "Indexed"
	StateDone      PipelineState = "Done"
	StateFailed    PipelineState = "Failed"
)

// PipelineResult summarizes one ingestion run.
type PipelineResult struct {
	State     PipelineState
	LastState PipelineState // last state reached before a failure
	Hash      string
	ErrorKind string
	Err       error
}
