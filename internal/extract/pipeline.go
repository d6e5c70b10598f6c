package extract

import (
	"context"
	"strings"

	"qsrcore/internal/llm"
	"qsrcore/internal/qsrmodel"
)

// Result is the complete output of one document's run through the seven-step
// pipeline, before cross-document dedupe (which needs graph access and is
// the caller's responsibility, see DedupeAcrossDocuments).
type Result struct {
	Summary           DocumentSummary
	Entities          []qsrmodel.Entity
	Relationships     []qsrmodel.Relationship
	Chunks            []qsrmodel.Chunk
	UsedSummaryFallback  bool
	UsedEntityFallback   bool
}

// Run executes steps 1-7 of the extraction pipeline for one document:
// summarize, extract entities, normalize, dedupe within document, derive
// relationships, and emit chunks. Cross-document dedupe happens afterward,
// against the persisted graph (DedupeAcrossDocuments).
func Run(ctx context.Context, provider llm.Provider, model, documentID, filename string, pages []PageText) (Result, error) {
	fullText := joinPages(pages)

	summary, summaryOK := Summarize(ctx, provider, model, filename, fullText)

	var entities []qsrmodel.Entity
	entityFallback := false
	raw, ok := ExtractEntities(ctx, provider, model, summary, fullText)
	if ok && len(raw) > 0 {
		entities = make([]qsrmodel.Entity, 0, len(raw))
		for _, r := range raw {
			entities = append(entities, r.ToEntity(documentID))
		}
	} else {
		entityFallback = true
		entities = FallbackEntities(documentID, filename, fullText)
	}

	merged, _ := DedupeWithinDocument(entities)
	rels := DeriveRelationships(merged, documentID)

	chunks, err := EmitChunks(documentID, pages)
	if err != nil {
		return Result{}, err
	}

	return Result{
		Summary:             summary,
		Entities:            merged,
		Relationships:       rels,
		Chunks:              chunks,
		UsedSummaryFallback: !summaryOK,
		UsedEntityFallback:  entityFallback,
	}, nil
}

func joinPages(pages []PageText) string {
	var b strings.Builder
	for i, p := range pages {
		if i > 0 {
			b.WriteString("\n\n")
		}
		b.WriteString(p.Text)
	}
	return b.String()
}
