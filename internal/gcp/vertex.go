package gcp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"cloud.google.com/go/vertexai/genai"
	"github.com/Lllllllleong/medreportflow/internal/models"
	"github.com/santhosh-tekuri/jsonschema/v5"
)

const AnalyzerSystemPrompt = "You are a document analysis service for Brazilian medical leave certificates (atestados médicos). You read a PDF and report the text it contains and the fields you detect. You must output a single JSON object and nothing else."

const analyzerUserPrompt = `Analyze the attached PDF.

Return a JSON object with:
- "content": the full text of the document, in reading order.
- "documents": an array with one entry per medical report found in the file. Each entry has a "fields" object.

The "fields" object may contain these keys, and no others:
%s

Each field value is an object with:
- "type": "date" for ReportDate, otherwise "string".
- "content": the exact text span as it appears in the document.
- "valueDate": for date fields only, the date as YYYY-MM-DD when you are certain of it.

Omit a field that does not appear in the document. Do not guess or normalize names, IDs or tax numbers. If the file contains no medical report, return an empty "documents" array.`

// analyzeResultSchema is the contract the model's output must satisfy before
// it is decoded.
const analyzeResultSchema = `{
  "type": "object",
  "required": ["content", "documents"],
  "properties": {
    "content": {"type": "string"},
    "documents": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["fields"],
        "properties": {
          "docType": {"type": "string"},
          "fields": {
            "type": "object",
            "additionalProperties": {
              "type": "object",
              "required": ["type"],
              "properties": {
                "type": {"type": "string"},
                "content": {"type": ["string", "null"]},
                "valueDate": {"type": ["string", "null"]},
                "valueString": {"type": ["string", "null"]}
              }
            }
          }
        }
      }
    }
  }
}`

var compiledResultSchema = mustCompileSchema(analyzeResultSchema)

func mustCompileSchema(raw string) *jsonschema.Schema {
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("analyze_result.json", strings.NewReader(raw)); err != nil {
		panic(fmt.Sprintf("add schema: %v", err))
	}
	return compiler.MustCompile("analyze_result.json")
}

// VertexAnalyzer answers document analysis requests with a Gemini model
// constrained to JSON output.
type VertexAnalyzer struct {
	baseClient *genai.Client
	fields     []string
}

// NewVertexAnalyzer creates the genai client. fields are the field names the
// model is asked to detect.
func NewVertexAnalyzer(ctx context.Context, projectID, region string, fields []string) (*VertexAnalyzer, error) {
	if projectID == "" || region == "" {
		return nil, fmt.Errorf("NewVertexAnalyzer: projectID and region cannot be empty")
	}

	baseClient, err := genai.NewClient(ctx, projectID, region)
	if err != nil {
		return nil, fmt.Errorf("genai.NewClient: %w", err)
	}
	return &VertexAnalyzer{baseClient: baseClient, fields: fields}, nil
}

func (a *VertexAnalyzer) Close() error {
	if a.baseClient != nil {
		return a.baseClient.Close()
	}
	return nil
}

func (a *VertexAnalyzer) model(modelID string) *genai.GenerativeModel {
	m := a.baseClient.GenerativeModel(modelID)
	m.SystemInstruction = &genai.Content{
		Parts: []genai.Part{genai.Text(AnalyzerSystemPrompt)},
	}
	m.GenerationConfig = genai.GenerationConfig{
		ResponseMIMEType: "application/json",
		ResponseSchema:   responseSchema(a.fields),
		Temperature:      genai.Ptr[float32](0.0),
	}
	m.SafetySettings = []*genai.SafetySetting{
		{Category: genai.HarmCategoryHateSpeech, Threshold: genai.HarmBlockNone},
		{Category: genai.HarmCategoryDangerousContent, Threshold: genai.HarmBlockNone},
		{Category: genai.HarmCategorySexuallyExplicit, Threshold: genai.HarmBlockNone},
		{Category: genai.HarmCategoryHarassment, Threshold: genai.HarmBlockNone},
	}
	return m
}

// responseSchema mirrors analyzeResultSchema in the model's schema dialect,
// which has no additionalProperties, so each field is listed by name.
func responseSchema(fields []string) *genai.Schema {
	field := &genai.Schema{
		Type: genai.TypeObject,
		Properties: map[string]*genai.Schema{
			"type":      {Type: genai.TypeString},
			"content":   {Type: genai.TypeString, Nullable: true},
			"valueDate": {Type: genai.TypeString, Nullable: true},
		},
		Required: []string{"type"},
	}
	fieldProps := make(map[string]*genai.Schema, len(fields))
	for _, name := range fields {
		fieldProps[name] = field
	}
	return &genai.Schema{
		Type: genai.TypeObject,
		Properties: map[string]*genai.Schema{
			"content": {Type: genai.TypeString},
			"documents": {
				Type: genai.TypeArray,
				Items: &genai.Schema{
					Type: genai.TypeObject,
					Properties: map[string]*genai.Schema{
						"fields": {Type: genai.TypeObject, Properties: fieldProps},
					},
					Required: []string{"fields"},
				},
			},
		},
		Required: []string{"content", "documents"},
	}
}

// Analyze sends the PDF to modelID and decodes the validated answer.
func (a *VertexAnalyzer) Analyze(ctx context.Context, modelID string, document []byte) (*models.AnalyzeResult, error) {
	prompt := fmt.Sprintf(analyzerUserPrompt, "- "+strings.Join(a.fields, "\n- "))
	resp, err := a.model(modelID).GenerateContent(ctx,
		genai.Blob{MIMEType: "application/pdf", Data: document},
		genai.Text(prompt),
	)
	if err != nil {
		return nil, fmt.Errorf("GenerateContent failed: %w", err)
	}

	raw, err := responseText(resp)
	if err != nil {
		return nil, err
	}
	return decodeAnalyzeResult(raw)
}

func responseText(resp *genai.GenerateContentResponse) ([]byte, error) {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return nil, fmt.Errorf("vertex AI returned an empty response")
	}
	var buf bytes.Buffer
	for _, part := range resp.Candidates[0].Content.Parts {
		if txt, ok := part.(genai.Text); ok {
			buf.WriteString(string(txt))
		}
	}
	if buf.Len() == 0 {
		return nil, fmt.Errorf("vertex AI response has no text part")
	}
	return []byte(trimFences(buf.String())), nil
}

// trimFences strips a markdown code fence the model sometimes wraps JSON in.
func trimFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")
	return strings.TrimSpace(s)
}

func decodeAnalyzeResult(raw []byte) (*models.AnalyzeResult, error) {
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, fmt.Errorf("analysis response is not valid JSON: %w", err)
	}
	if err := compiledResultSchema.Validate(v); err != nil {
		return nil, fmt.Errorf("analysis response does not match schema: %w", err)
	}
	var result models.AnalyzeResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, fmt.Errorf("failed to decode analysis response: %w", err)
	}
	return &result, nil
}
