package extract

import (
	"strings"

	"qsrcore/internal/qsrmodel"
)

// semanticKeywords are the procedure-context words that trigger a
// PROCEDURE_FOR edge between a Procedure and a co-mentioned Equipment
// entity, per spec §4.3 step 6.
var semanticKeywords = []string{"cleaning", "maintenance", "service", "repair"}

// DeriveRelationships emits the hierarchical BELONGS_TO edges (for every
// entity with ParentEntity set) and the semantic edges (PROCEDURE_FOR,
// CONTAINS, REQUIRES, SAFETY_WARNING_FOR, DOCUMENTS, PARAMETER_OF) for one
// document's deduplicated entity set.
func DeriveRelationships(entities []qsrmodel.Entity, documentID string) []qsrmodel.Relationship {
	byLevel := make(map[int][]qsrmodel.Entity)
	byKey := make(map[string]qsrmodel.Entity, len(entities))
	for _, e := range entities {
		byLevel[e.HierarchyLevel] = append(byLevel[e.HierarchyLevel], e)
		byKey[e.NodeKey()] = e
	}

	var rels []qsrmodel.Relationship
	rels = append(rels, hierarchicalEdges(entities, byLevel, documentID)...)
	rels = append(rels, semanticEdges(entities, documentID)...)
	return rels
}

// hierarchicalEdges emits BELONGS_TO from each child to the first matching
// parent at hierarchy_level-1 sharing the same canonical parent name.
func hierarchicalEdges(entities []qsrmodel.Entity, byLevel map[int][]qsrmodel.Entity, documentID string) []qsrmodel.Relationship {
	var rels []qsrmodel.Relationship
	for _, child := range entities {
		if child.ParentEntity == "" {
			continue
		}
		parentLevel := child.HierarchyLevel - 1
		for _, candidate := range byLevel[parentLevel] {
			if candidate.CanonicalName == child.ParentEntity {
				rels = append(rels, newRelationship(child, candidate, qsrmodel.RelBelongsTo, documentID))
				break
			}
		}
	}
	return rels
}

// semanticEdges applies the co-mention rules of spec §4.3 step 6 between
// Procedure and Equipment entities, plus the analogous CONTAINS, REQUIRES,
// SAFETY_WARNING_FOR, DOCUMENTS, and PARAMETER_OF rules for the other
// typed pairs.
func semanticEdges(entities []qsrmodel.Entity, documentID string) []qsrmodel.Relationship {
	var procedures, equipment, components, safety, parameters, docs []qsrmodel.Entity
	for _, e := range entities {
		switch e.Type {
		case qsrmodel.EntityProcedure:
			procedures = append(procedures, e)
		case qsrmodel.EntityEquipment:
			equipment = append(equipment, e)
		case qsrmodel.EntityComponent:
			components = append(components, e)
		case qsrmodel.EntitySafety:
			safety = append(safety, e)
		case qsrmodel.EntityParameter:
			parameters = append(parameters, e)
		case qsrmodel.EntityDocument:
			docs = append(docs, e)
		}
	}

	var rels []qsrmodel.Relationship
	for _, proc := range procedures {
		context := strings.ToLower(proc.QSRContext + " " + proc.SurfaceForm)
		for _, equip := range equipment {
			if strings.Contains(context, strings.ToLower(equip.CanonicalName)) || containsAny(context, semanticKeywords) {
				rels = append(rels, newRelationship(proc, equip, qsrmodel.RelProcedureFor, documentID))
			}
			rels = append(rels, newRelationship(equip, proc, qsrmodel.RelRequires, documentID))
			for _, comp := range components {
				rels = append(rels, newRelationship(equip, comp, qsrmodel.RelContains, documentID))
			}
		}
		for _, s := range safety {
			if strings.Contains(strings.ToLower(s.QSRContext), strings.ToLower(proc.CanonicalName)) {
				rels = append(rels, newRelationship(s, proc, qsrmodel.RelSafetyWarningFor, documentID))
			}
		}
	}
	for _, d := range docs {
		for _, equip := range equipment {
			rels = append(rels, newRelationship(d, equip, qsrmodel.RelDocuments, documentID))
		}
	}
	for _, p := range parameters {
		for _, equip := range equipment {
			if strings.Contains(strings.ToLower(p.QSRContext), strings.ToLower(equip.CanonicalName)) {
				rels = append(rels, newRelationship(p, equip, qsrmodel.RelParameterOf, documentID))
			}
		}
	}
	return dedupeRelationships(rels)
}

func containsAny(haystack string, needles []string) bool {
	for _, n := range needles {
		if strings.Contains(haystack, n) {
			return true
		}
	}
	return false
}

func newRelationship(src, dst qsrmodel.Entity, relType qsrmodel.RelationType, documentID string) qsrmodel.Relationship {
	if src.CanonicalName == "" || dst.CanonicalName == "" {
		return qsrmodel.Relationship{}
	}
	return qsrmodel.Relationship{
		SrcCanonical:      src.CanonicalName,
		SrcType:           src.Type,
		DstCanonical:      dst.CanonicalName,
		DstType:           dst.Type,
		Type:              relType,
		SourceDocumentIDs: map[string]bool{documentID: true},
		Confidence:        minFloat(src.Confidence, dst.Confidence),
	}
}

func minFloat(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}

// dedupeRelationships folds relationships sharing an EdgeKey, unioning
// source documents and taking the max confidence, per spec §4.4's
// relationship-identity consistency guarantee. Empty placeholders (from
// missing src/dst) are dropped.
func dedupeRelationships(rels []qsrmodel.Relationship) []qsrmodel.Relationship {
	byKey := make(map[string]qsrmodel.Relationship)
	order := make([]string, 0, len(rels))
	for _, r := range rels {
		if r.SrcCanonical == "" || r.DstCanonical == "" {
			continue
		}
		key := r.EdgeKey()
		existing, ok := byKey[key]
		if !ok {
			order = append(order, key)
			byKey[key] = r
			continue
		}
		for d := range r.SourceDocumentIDs {
			existing.SourceDocumentIDs[d] = true
		}
		if r.Confidence > existing.Confidence {
			existing.Confidence = r.Confidence
		}
		byKey[key] = existing
	}
	out := make([]qsrmodel.Relationship, 0, len(order))
	for _, k := range order {
		out = append(out, byKey[k])
	}
	return out
}
