package models

import "time"

// These structs define the JSON payloads exchanged with HTTP callers and the
// records written to the error sink.

// UploadResponse is returned by the upload endpoint on success.
type UploadResponse struct {
	Success  bool   `json:"success"`
	Message  string `json:"message"`
	BlobName string `json:"blob_name"`
}

// HistoryResponse lists the caller's indexed reports.
type HistoryResponse struct {
	Documents []IndexRecord `json:"documents"`
}

// ErrorReport is persisted when an ingestion run fails.
type ErrorReport struct {
	Error     string `json:"error"`
	Message   string `json:"message"`
	Traceback string `json:"traceback"`
}

// IntakeEvent is a storage-change notification for a newly written intake
// object, independent of the transport that delivered it.
type IntakeEvent struct {
	Bucket      string
	Name        string
	TimeCreated time.Time
	Metadata    map[string]string
}

// Intake object metadata keys written by the upload gateway.
const (
	MetadataUserID           = "user_id"
	MetadataOriginalFilename = "original_filename"
)
