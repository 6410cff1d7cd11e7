package models

// AnalyzeResult mirrors the document-analysis payload returned by the
// extraction service. Values are kept as the service reports them; the field
// extractor decides which representation to trust.
type AnalyzeResult struct {
	Content   string             `json:"content"`
	Documents []AnalyzedDocument `json:"documents"`
}

type AnalyzedDocument struct {
	DocType string                   `json:"docType,omitempty"`
	Fields  map[string]AnalyzedField `json:"fields"`
}

// AnalyzedField is one named field as detected by the service. Content is the
// raw text span; ValueDate is the service's structured date (YYYY-MM-DD) and
// ValueString its structured string, which is not reliable.
type AnalyzedField struct {
	Type        string  `json:"type"`
	Content     *string `json:"content"`
	ValueDate   *string `json:"valueDate,omitempty"`
	ValueString *string `json:"valueString,omitempty"`
}
