package extract

import (
	"path/filepath"
	"strings"

	"qsrcore/internal/qsrmodel"
)

// toolKeywords and ppeKeywords are the rule-based vocabulary used when the
// LLM path is unavailable and entity extraction must fall back to keyword
// matching rather than leaving a document unsearchable.
var toolKeywords = []string{"wrench", "screwdriver", "cleaning", "cloth", "brush", "gloves", "sanitizer"}
var ppeKeywords = []string{"gloves", "goggles", "apron", "mask", "helmet"}
var safetyKeywords = []string{"warning", "caution", "danger", "hazard", "lockout", "tagout"}
var temperatureRE = temperaturePattern

// FallbackEntities builds a minimal deterministic entity set from filename
// and keyword matches when ExtractEntities cannot reach the LLM. It seeds
// one Equipment entity for the document itself plus Tool, Safety, and
// Temperature entities found by keyword scan, so the document still yields
// a searchable graph in degraded mode (spec §4.3 step 6's fallback clause).
func FallbackEntities(documentID, filename, text string) []qsrmodel.Entity {
	lower := strings.ToLower(text)
	var entities []qsrmodel.Entity

	equipName := Normalize(equipmentNameFromFilename(filename), qsrmodel.EntityEquipment)
	equip := qsrmodel.Entity{
		CanonicalName:     equipName,
		SurfaceForm:       filename,
		Type:              qsrmodel.EntityEquipment,
		HierarchyLevel:    2,
		SourceDocumentIDs: map[string]bool{documentID: true},
		Confidence:        0.4,
	}
	entities = append(entities, equip)

	seenTools := map[string]bool{}
	for _, kw := range toolKeywords {
		if !strings.Contains(lower, kw) || seenTools[kw] {
			continue
		}
		seenTools[kw] = true
		entities = append(entities, qsrmodel.Entity{
			CanonicalName:     titleCaseWord(kw),
			SurfaceForm:       kw,
			Type:              qsrmodel.EntityTool,
			HierarchyLevel:    5,
			ParentEntity:      equipName,
			SourceDocumentIDs: map[string]bool{documentID: true},
			Confidence:        0.35,
		})
	}

	for _, kw := range ppeKeywords {
		if !strings.Contains(lower, kw) {
			continue
		}
		entities = append(entities, qsrmodel.Entity{
			CanonicalName:     "PPE: " + titleCaseWord(kw),
			SurfaceForm:       kw,
			Type:              qsrmodel.EntitySafety,
			HierarchyLevel:    5,
			ParentEntity:      equipName,
			QSRContext:        "personal protective equipment",
			SourceDocumentIDs: map[string]bool{documentID: true},
			Confidence:        0.35,
		})
	}

	seenSafety := map[string]bool{}
	for _, kw := range safetyKeywords {
		if !strings.Contains(lower, kw) || seenSafety[kw] {
			continue
		}
		seenSafety[kw] = true
		entities = append(entities, qsrmodel.Entity{
			CanonicalName:     titleCaseWord(kw) + " Notice",
			SurfaceForm:       kw,
			Type:              qsrmodel.EntitySafety,
			HierarchyLevel:    5,
			ParentEntity:      equipName,
			QSRContext:        kw,
			SourceDocumentIDs: map[string]bool{documentID: true},
			Confidence:        0.3,
		})
	}

	seenTemps := map[string]bool{}
	for _, m := range temperatureRE.FindAllString(text, -1) {
		norm := normalizeTemperature(m)
		if seenTemps[norm] {
			continue
		}
		seenTemps[norm] = true
		entities = append(entities, qsrmodel.Entity{
			CanonicalName:     norm,
			SurfaceForm:       m,
			Type:              qsrmodel.EntityTemperature,
			HierarchyLevel:    6,
			ParentEntity:      equipName,
			SourceDocumentIDs: map[string]bool{documentID: true},
			Confidence:        0.4,
		})
	}

	return entities
}

func equipmentNameFromFilename(filename string) string {
	base := strings.TrimSuffix(filepath.Base(filename), filepath.Ext(filename))
	base = strings.NewReplacer("_", " ", "-", " ").Replace(base)
	base = strings.TrimSpace(base)
	if base == "" {
		return "Unidentified Equipment"
	}
	return base
}
