package retrieve

import (
	"context"
	"strings"

	"qsrcore/internal/persistence/databases"
	"qsrcore/internal/qsrmodel"
)

const entityLabel = "Entity"

// EntityHit is one entity matched against the query's key terms, carrying
// the relevance score that ranked it.
type EntityHit struct {
	Entity qsrmodel.Entity
	Score  float64
}

// RetrieveEntities scans every Entity node (there is no query language to
// push key-term filters into) and scores each by the formula of spec §4.6
// step 3, returning the top maxResults by score.
func RetrieveEntities(ctx context.Context, g databases.GraphDB, terms []string, maxResults int) ([]EntityHit, error) {
	if g == nil || len(terms) == 0 {
		return nil, nil
	}
	nodes, err := g.ListNodesByLabel(ctx, entityLabel)
	if err != nil {
		return nil, err
	}

	var hits []EntityHit
	for _, n := range nodes {
		e := entityFromNode(n)
		score := scoreEntity(e, terms)
		if score <= 0 {
			continue
		}
		hits = append(hits, EntityHit{Entity: e, Score: score})
	}

	sortHitsDesc(hits)
	if maxResults > 0 && len(hits) > maxResults {
		hits = hits[:maxResults]
	}
	return hits, nil
}

// scoreEntity implements: 0.5*name_match + 0.3*text_match + 0.1*context_overlap
// + confidence_boost + hierarchy_boost(level<=3 gets x1.2).
func scoreEntity(e qsrmodel.Entity, terms []string) float64 {
	name := strings.ToLower(e.CanonicalName)
	surface := strings.ToLower(e.SurfaceForm)
	ctx := strings.ToLower(e.QSRContext)

	nameMatch := termMatchRatio(name, terms)
	textMatch := termMatchRatio(surface, terms)
	contextOverlap := termMatchRatio(ctx, terms)
	if nameMatch == 0 && textMatch == 0 && contextOverlap == 0 {
		return 0
	}

	confidenceBoost := e.Confidence * 0.1
	score := 0.5*nameMatch + 0.3*textMatch + 0.1*contextOverlap + confidenceBoost
	if e.HierarchyLevel > 0 && e.HierarchyLevel <= 3 {
		score *= 1.2
	}
	return score
}

func termMatchRatio(field string, terms []string) float64 {
	if field == "" {
		return 0
	}
	matched := 0
	for _, t := range terms {
		if strings.Contains(field, t) {
			matched++
		}
	}
	return float64(matched) / float64(len(terms))
}

func sortHitsDesc(hits []EntityHit) {
	for i := 1; i < len(hits); i++ {
		for j := i; j > 0 && hits[j].Score > hits[j-1].Score; j-- {
			hits[j], hits[j-1] = hits[j-1], hits[j]
		}
	}
}

func entityFromNode(n databases.Node) qsrmodel.Entity {
	e := qsrmodel.Entity{
		CanonicalName:  asString(n.Props["canonical_name"]),
		SurfaceForm:    asString(n.Props["surface_form"]),
		Type:           qsrmodel.EntityType(asString(n.Props["entity_type"])),
		HierarchyLevel: asInt(n.Props["hierarchy_level"]),
		ParentEntity:   asString(n.Props["parent_entity"]),
		QSRContext:     asString(n.Props["qsr_context"]),
		Confidence:     asFloat(n.Props["confidence"]),
	}
	if docs, ok := n.Props["source_document_ids"].(map[string]bool); ok {
		e.SourceDocumentIDs = docs
	}
	if pages, ok := n.Props["page_references"].(map[int]bool); ok {
		e.PageReferences = pages
	}
	return e
}

func asString(v any) string {
	s, _ := v.(string)
	return s
}

func asInt(v any) int {
	switch t := v.(type) {
	case int:
		return t
	case float64:
		return int(t)
	default:
		return 0
	}
}

func asFloat(v any) float64 {
	switch t := v.(type) {
	case float64:
		return t
	case int:
		return float64(t)
	default:
		return 0
	}
}
