package extract

import (
	"context"

	"qsrcore/internal/persistence/databases"
	"qsrcore/internal/qsrmodel"
)

// DedupeWithinDocument groups entities by (canonical_name, entity_type),
// merging each group by keeping the most complete record (highest non-null
// field count), unioning page references, and bumping confidence by +0.1
// capped at 0.95. Returns the merged entities and, per node key, how many
// raw records were folded into it.
func DedupeWithinDocument(entities []qsrmodel.Entity) ([]qsrmodel.Entity, map[string]int) {
	groups := make(map[string][]qsrmodel.Entity)
	order := make([]string, 0)
	for _, e := range entities {
		key := e.NodeKey()
		if _, ok := groups[key]; !ok {
			order = append(order, key)
		}
		groups[key] = append(groups[key], e)
	}

	merged := make([]qsrmodel.Entity, 0, len(order))
	mergeCounts := make(map[string]int, len(order))
	for _, key := range order {
		group := groups[key]
		mergeCounts[key] = len(group)
		merged = append(merged, mergeGroup(group))
	}
	return merged, mergeCounts
}

func mergeGroup(group []qsrmodel.Entity) qsrmodel.Entity {
	best := group[0]
	bestScore := completeness(best)
	for _, e := range group[1:] {
		if s := completeness(e); s > bestScore {
			best, bestScore = e, s
		}
	}
	for _, e := range group {
		for doc := range e.SourceDocumentIDs {
			if best.SourceDocumentIDs == nil {
				best.SourceDocumentIDs = map[string]bool{}
			}
			best.SourceDocumentIDs[doc] = true
		}
		for page := range e.PageReferences {
			if best.PageReferences == nil {
				best.PageReferences = map[int]bool{}
			}
			best.PageReferences[page] = true
		}
	}
	if len(group) > 1 {
		best.Confidence += 0.1
		if best.Confidence > 0.95 {
			best.Confidence = 0.95
		}
	}
	return best
}

func completeness(e qsrmodel.Entity) int {
	score := 0
	if e.SurfaceForm != "" {
		score++
	}
	if e.ParentEntity != "" {
		score++
	}
	if e.QSRContext != "" {
		score++
	}
	score += len(e.PageReferences)
	return score
}

// GraphLookup is the capability needed to dedupe across documents: finding
// an already-persisted entity by its node key.
type GraphLookup interface {
	GetNode(ctx context.Context, id string) (databases.Node, bool)
}

// DedupeAcrossDocuments looks up each candidate's node key in the graph. If
// present, the existing provenance (document ids, pages) is unioned into
// the candidate rather than creating a duplicate node; otherwise the
// candidate is marked for insertion. The bool in the returned map is true
// when the entity already existed and was merged.
func DedupeAcrossDocuments(ctx context.Context, lookup GraphLookup, candidates []qsrmodel.Entity) ([]qsrmodel.Entity, map[string]bool) {
	merged := make([]qsrmodel.Entity, len(candidates))
	existed := make(map[string]bool, len(candidates))
	for i, c := range candidates {
		key := c.NodeKey()
		node, ok := lookup.GetNode(ctx, key)
		if !ok {
			merged[i] = c
			continue
		}
		existed[key] = true
		merged[i] = unionProvenance(c, node)
	}
	return merged, existed
}

func unionProvenance(candidate qsrmodel.Entity, existing databases.Node) qsrmodel.Entity {
	if docs, ok := existing.Props["source_document_ids"].(map[string]bool); ok {
		for d := range docs {
			candidate.SourceDocumentIDs[d] = true
		}
	}
	if pages, ok := existing.Props["page_references"].(map[int]bool); ok {
		if candidate.PageReferences == nil {
			candidate.PageReferences = map[int]bool{}
		}
		for p := range pages {
			candidate.PageReferences[p] = true
		}
	}
	if existingConfidence, ok := existing.Props["confidence"].(float64); ok && existingConfidence > candidate.Confidence {
		candidate.Confidence = existingConfidence
	}
	return candidate
}
