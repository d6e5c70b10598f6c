// Package extract implements the seven-step extraction and normalization
// pipeline: summarize, extract entities, normalize, dedupe within document,
// dedupe across documents, derive relationships, and emit chunks. When the
// LLM cannot be reached or returns unparseable output, each step falls back
// to a deterministic rule-based path so the document still becomes
// searchable (Design Note: "Dynamic JSON shapes from the LLM").
package extract

import (
	"context"
	"encoding/json"
	"strings"

	"qsrcore/internal/llm"
	"qsrcore/internal/qsrmodel"
)

// DocumentSummary is the structured shape the LLM is asked to produce in
// step 1. Field names mirror spec §4.3 exactly.
type DocumentSummary struct {
	Purpose              string       `json:"purpose"`
	EquipmentFocus        string       `json:"equipment_focus"`
	TargetAudience        string       `json:"target_audience"`
	DocumentType          string       `json:"document_type"`
	QSRCategory           string       `json:"qsr_category"`
	KeyProcedures         []string     `json:"key_procedures"`
	SafetyProtocols       []string     `json:"safety_protocols"`
	CriticalTemperatures  []string     `json:"critical_temperatures"`
	MaintenanceSchedules  []string     `json:"maintenance_schedules"`
	BrandContext          string       `json:"brand_context"`
	ExecutiveSummary      string       `json:"executive_summary"`
	HierarchicalSections  []string     `json:"hierarchical_sections"`
}

const summarySystemPrompt = `You are a technical document summarizer for quick-service-restaurant equipment manuals.
Given a document's text, respond with a single JSON object with exactly these fields:
purpose, equipment_focus, target_audience, document_type, qsr_category, key_procedures (array),
safety_protocols (array), critical_temperatures (array), maintenance_schedules (array),
brand_context, executive_summary, hierarchical_sections (array).
document_type must be one of: service-manual, cleaning-guide, safety-protocol, operation-guide,
installation-manual, troubleshooting-guide, training, reference.
qsr_category must be one of: ice-cream, fryer, grill, beverage, refrigeration, cleaning, general.
Respond with JSON only, no surrounding prose.`

// Summarize asks provider for a structured DocumentSummary. On any failure
// to reach the provider, or on a response that doesn't parse as the
// expected JSON shape, it falls back to RuleBasedSummary so the document
// still becomes searchable (spec §4.3 step 1's fallback clause).
func Summarize(ctx context.Context, provider llm.Provider, model, filename, text string) (DocumentSummary, bool) {
	if provider == nil {
		return RuleBasedSummary(filename, text), false
	}
	msgs := []llm.Message{
		{Role: "system", Content: summarySystemPrompt},
		{Role: "user", Content: "Filename: " + filename + "\n\nDocument text:\n" + truncate(text, 12000)},
	}
	resp, err := provider.Chat(ctx, msgs, nil, model)
	if err != nil {
		return RuleBasedSummary(filename, text), false
	}
	var s DocumentSummary
	if err := json.Unmarshal([]byte(extractJSONObject(resp.Content)), &s); err != nil {
		return RuleBasedSummary(filename, text), false
	}
	if s.DocumentType == "" || s.QSRCategory == "" {
		return RuleBasedSummary(filename, text), false
	}
	return s, true
}

// filenameCategoryHints maps filename keywords to a qsr_category, used by
// the rule-based fallback classifier when the LLM path is unavailable.
var filenameCategoryHints = []struct {
	keyword  string
	category qsrmodel.QSRCategory
}{
	{"fryer", qsrmodel.CategoryFryer},
	{"grill", qsrmodel.CategoryGrill},
	{"ice", qsrmodel.CategoryIceCream},
	{"soft-serve", qsrmodel.CategoryIceCream},
	{"beverage", qsrmodel.CategoryBeverage},
	{"soda", qsrmodel.CategoryBeverage},
	{"fridge", qsrmodel.CategoryRefrigeration},
	{"refrig", qsrmodel.CategoryRefrigeration},
	{"freezer", qsrmodel.CategoryRefrigeration},
	{"clean", qsrmodel.CategoryCleaning},
	{"sanit", qsrmodel.CategoryCleaning},
}

var docTypeKeywords = []struct {
	keyword string
	docType qsrmodel.DocumentType
}{
	{"clean", qsrmodel.DocTypeCleaningGuide},
	{"safety", qsrmodel.DocTypeSafetyProtocol},
	{"install", qsrmodel.DocTypeInstallationManual},
	{"troubleshoot", qsrmodel.DocTypeTroubleshootingGuide},
	{"train", qsrmodel.DocTypeTraining},
	{"operat", qsrmodel.DocTypeOperationGuide},
	{"service", qsrmodel.DocTypeServiceManual},
	{"manual", qsrmodel.DocTypeServiceManual},
}

// RuleBasedSummary fills the same shape as Summarize using filename
// patterns and keyword tables, per spec §4.3 step 1's documented fallback.
func RuleBasedSummary(filename, text string) DocumentSummary {
	lower := strings.ToLower(filename + " " + text)

	category := qsrmodel.CategoryGeneral
	for _, hint := range filenameCategoryHints {
		if strings.Contains(lower, hint.keyword) {
			category = hint.category
			break
		}
	}

	docType := qsrmodel.DocTypeReference
	for _, hint := range docTypeKeywords {
		if strings.Contains(lower, hint.keyword) {
			docType = hint.docType
			break
		}
	}

	return DocumentSummary{
		Purpose:          "Equipment reference material",
		DocumentType:     string(docType),
		QSRCategory:      string(category),
		ExecutiveSummary: truncate(strings.TrimSpace(text), 500),
	}
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}

// extractJSONObject trims surrounding prose/fencing the LLM may add around
// a JSON object so json.Unmarshal doesn't fail on otherwise-valid output.
func extractJSONObject(s string) string {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")
	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start == -1 || end == -1 || end < start {
		return s
	}
	return s[start : end+1]
}
