package extract

import (
	"context"
	"encoding/json"
	"strings"

	"qsrcore/internal/llm"
	"qsrcore/internal/qsrmodel"
)

// extractedEntity is the raw shape the LLM returns for step 2, before
// normalization. Field names mirror spec §4.3 step 2 exactly.
type extractedEntity struct {
	EntityText     string  `json:"entity_text"`
	EntityType     string  `json:"entity_type"`
	CanonicalName  string  `json:"canonical_name"`
	HierarchyLevel int     `json:"hierarchy_level"`
	ParentEntity   string  `json:"parent_entity"`
	PageReference  int     `json:"page_reference"`
	SectionContext string  `json:"section_context"`
	QSRContext     string  `json:"qsr_context"`
	Confidence     float64 `json:"confidence"`
}

const entitySystemPrompt = `You are an entity extractor for quick-service-restaurant equipment manuals.
Given a document summary and its text, return a JSON array of entity objects, each with exactly:
entity_text, entity_type, canonical_name, hierarchy_level (1-6), parent_entity, page_reference,
section_context, qsr_context, confidence (0-1).
entity_type must be one of: equipment, procedure, step, component, temperature, safety, parameter, tool, document, entity.
Follow the hierarchy Manual(1) -> Equipment_Type(2) -> Equipment_Model(3) -> Procedure(4) -> Step(5) -> Detail(6).
Respond with a JSON array only, no surrounding prose.`

// ExtractEntities prompts provider with summary and text for a list of raw
// entity candidates. Raw entities still need Normalize before they carry
// qsrmodel.Entity's canonical shape.
func ExtractEntities(ctx context.Context, provider llm.Provider, model string, summary DocumentSummary, text string) ([]extractedEntity, bool) {
	if provider == nil {
		return nil, false
	}
	summaryJSON, _ := json.Marshal(summary)
	msgs := []llm.Message{
		{Role: "system", Content: entitySystemPrompt},
		{Role: "user", Content: "Summary: " + string(summaryJSON) + "\n\nDocument text:\n" + truncate(text, 12000)},
	}
	resp, err := provider.Chat(ctx, msgs, nil, model)
	if err != nil {
		return nil, false
	}
	var raw []extractedEntity
	if err := json.Unmarshal([]byte(extractJSONArray(resp.Content)), &raw); err != nil {
		return nil, false
	}
	return raw, true
}

func extractJSONArray(s string) string {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")
	start := strings.Index(s, "[")
	end := strings.LastIndex(s, "]")
	if start == -1 || end == -1 || end < start {
		return s
	}
	return s[start : end+1]
}

// ToEntity applies the normalization rules of step 3 and converts a raw
// extracted entity into the canonical qsrmodel.Entity shape for one
// source document.
func (e extractedEntity) ToEntity(documentID string) qsrmodel.Entity {
	entityType := qsrmodel.EntityType(e.EntityType)
	if _, ok := validEntityType(entityType); !ok {
		entityType = qsrmodel.EntityGeneric
	}
	canonical := e.CanonicalName
	if canonical == "" {
		canonical = e.EntityText
	}
	canonical = Normalize(canonical, entityType)

	level := e.HierarchyLevel
	if level < qsrmodel.MinHierarchyLevel || level > qsrmodel.MaxHierarchyLevel {
		level = qsrmodel.MinHierarchyLevel
	}

	confidence := e.Confidence
	if confidence <= 0 {
		confidence = 0.6
	}
	if confidence > 1 {
		confidence = 1
	}

	ent := qsrmodel.Entity{
		CanonicalName:     canonical,
		SurfaceForm:       e.EntityText,
		Type:              entityType,
		HierarchyLevel:    level,
		ParentEntity:      Normalize(e.ParentEntity, qsrmodel.EntityGeneric),
		SourceDocumentIDs: map[string]bool{documentID: true},
		QSRContext:        e.QSRContext,
		Confidence:        confidence,
	}
	if e.PageReference > 0 {
		ent.PageReferences = map[int]bool{e.PageReference: true}
	}
	return ent
}

func validEntityType(t qsrmodel.EntityType) (qsrmodel.EntityType, bool) {
	switch t {
	case qsrmodel.EntityEquipment, qsrmodel.EntityProcedure, qsrmodel.EntityStep,
		qsrmodel.EntityComponent, qsrmodel.EntityTemperature, qsrmodel.EntitySafety,
		qsrmodel.EntityParameter, qsrmodel.EntityTool, qsrmodel.EntityDocument,
		qsrmodel.EntityGeneric:
		return t, true
	}
	return t, false
}
