// Package graphwriter is the dual-writer of spec §4.4: it fans each
// extraction result out to the graph, full-text, and vector stores under one
// idempotent, ordered write (document, then entities, then relationships,
// then chunks), so a crash mid-write never leaves an orphaned chunk pointing
// at a document that doesn't exist, or a relationship pointing at entities
// that were never created.
package graphwriter

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"qsrcore/internal/persistence/databases"
	"qsrcore/internal/qsrmodel"
	"qsrcore/internal/rag/embedder"
)

const (
	labelDocument     = "Document"
	labelEntity       = "Entity"
	relHasChunk       = "HAS_CHUNK"
	relHasEntity      = "HAS_ENTITY"
	docIDMetaKey      = "document_id"

	// maxConcurrentChunkWrites bounds how many chunks are fanned out to the
	// graph/search/vector stores at once within one document's IndexChunks
	// call; per-chunk writes touch disjoint node/edge keys, so they never
	// contend with each other.
	maxConcurrentChunkWrites = 8
)

// Writer performs the idempotent dual-write of one document's extraction
// result across the graph, search, and vector stores.
type Writer struct {
	Graph    databases.GraphDB
	Search   databases.FullTextSearch
	Vector   databases.VectorStore
	Embedder embedder.Embedder
}

// New constructs a Writer from a resolved store Manager and an embedder.
func New(stores databases.Manager, emb embedder.Embedder) *Writer {
	return &Writer{Graph: stores.Graph, Search: stores.Search, Vector: stores.Vector, Embedder: emb}
}

// WriteDocument performs the full ordered write for one document: upsert the
// document node, then every entity, then every relationship, then index
// every chunk. Each sub-step is independently idempotent, so a retried call
// after a partial failure converges rather than duplicating state.
func (w *Writer) WriteDocument(ctx context.Context, doc qsrmodel.Document, entities []qsrmodel.Entity, rels []qsrmodel.Relationship, chunks []qsrmodel.Chunk) error {
	if err := w.UpsertDocument(ctx, doc); err != nil {
		return fmt.Errorf("graphwriter: upsert document: %w", err)
	}
	for _, e := range entities {
		if err := w.UpsertEntity(ctx, e); err != nil {
			return fmt.Errorf("graphwriter: upsert entity %q: %w", e.CanonicalName, err)
		}
	}
	for _, r := range rels {
		if err := w.UpsertRelationship(ctx, r); err != nil {
			return fmt.Errorf("graphwriter: upsert relationship %s-%s->%s: %w", r.SrcCanonical, r.Type, r.DstCanonical, err)
		}
	}
	if err := w.IndexChunks(ctx, doc.ID, chunks); err != nil {
		return fmt.Errorf("graphwriter: index chunks: %w", err)
	}
	return nil
}

// UpsertDocument writes the document node and indexes its executive summary
// for full-text search. The document node id is the document id itself.
func (w *Writer) UpsertDocument(ctx context.Context, doc qsrmodel.Document) error {
	if err := doc.Validate(); err != nil {
		return err
	}
	if w.Graph != nil {
		uploadedAt := doc.UploadedAt
		if uploadedAt.IsZero() {
			uploadedAt = time.Now()
		}
		props := map[string]any{
			"filename":          doc.Filename,
			"file_type":         doc.FileType,
			"blob_path":         doc.BlobPath,
			"page_count":        doc.PageCount,
			"executive_summary": doc.ExecutiveSummary,
			"qsr_category":      string(doc.QSRCategory),
			"document_type":     string(doc.DocumentType),
			"size_bytes":        doc.SizeBytes,
			"upload_ts":         uploadedAt.Format(time.RFC3339Nano),
		}
		if err := w.Graph.UpsertNode(ctx, doc.ID, []string{labelDocument}, props); err != nil {
			return err
		}
	}
	if w.Search != nil {
		md := map[string]string{
			"type":          "document",
			"document_id":   doc.ID,
			"filename":      doc.Filename,
			"qsr_category":  string(doc.QSRCategory),
			"document_type": string(doc.DocumentType),
		}
		if err := w.Search.Index(ctx, doc.ID, doc.ExecutiveSummary, md); err != nil {
			return err
		}
	}
	return nil
}

// UpsertEntity writes one entity node, keyed by its stable NodeKey so
// repeated calls for the same (entity_type, canonical_name) converge onto
// one node rather than creating duplicates (spec §3/§4.4 P4).
func (w *Writer) UpsertEntity(ctx context.Context, e qsrmodel.Entity) error {
	if err := e.Validate(); err != nil {
		return err
	}
	if w.Graph == nil {
		return nil
	}
	key := e.NodeKey()
	props := map[string]any{
		"canonical_name":      e.CanonicalName,
		"surface_form":        e.SurfaceForm,
		"entity_type":         string(e.Type),
		"hierarchy_level":     e.HierarchyLevel,
		"parent_entity":       e.ParentEntity,
		"qsr_context":         e.QSRContext,
		"confidence":          e.Confidence,
		"source_document_ids": e.SourceDocumentIDs,
		"page_references":     e.PageReferences,
	}
	if err := w.Graph.UpsertNode(ctx, key, []string{labelEntity, string(e.Type)}, props); err != nil {
		return err
	}
	for docID := range e.SourceDocumentIDs {
		if err := w.Graph.UpsertEdge(ctx, docID, relHasEntity, key, nil); err != nil {
			return err
		}
	}
	return nil
}

// UpsertRelationship writes one relationship edge between two entity nodes,
// addressed by their NodeKeys. Repeated calls with the same EdgeKey
// overwrite the same edge rather than duplicating it.
func (w *Writer) UpsertRelationship(ctx context.Context, r qsrmodel.Relationship) error {
	if err := r.Validate(); err != nil {
		return err
	}
	if w.Graph == nil {
		return nil
	}
	srcKey := qsrmodel.Entity{Type: r.SrcType, CanonicalName: r.SrcCanonical}.NodeKey()
	dstKey := qsrmodel.Entity{Type: r.DstType, CanonicalName: r.DstCanonical}.NodeKey()
	props := map[string]any{
		"confidence":          r.Confidence,
		"source_document_ids": r.SourceDocumentIDs,
	}
	return w.Graph.UpsertEdge(ctx, srcKey, string(r.Type), dstKey, props)
}

// IndexChunks embeds and upserts every chunk into the vector store, indexes
// its text for full-text search, and links it to its document in the graph
// via HAS_CHUNK.
func (w *Writer) IndexChunks(ctx context.Context, documentID string, chunks []qsrmodel.Chunk) error {
	if len(chunks) == 0 {
		return nil
	}
	var vectors [][]float32
	if w.Vector != nil && w.Embedder != nil {
		texts := make([]string, len(chunks))
		for i, c := range chunks {
			texts[i] = c.Text
		}
		embs, err := w.Embedder.EmbedBatch(ctx, texts)
		if err != nil {
			return err
		}
		vectors = embs
	}

	var g errgroup.Group
	g.SetLimit(maxConcurrentChunkWrites)
	for i, c := range chunks {
		i, c := i, c
		g.Go(func() error {
			if err := c.Validate(); err != nil {
				return err
			}
			if w.Graph != nil {
				cprops := map[string]any{"document_id": c.DocumentID, "page": c.Page, "offset": c.Offset}
				if err := w.Graph.UpsertNode(ctx, c.ID, []string{"Chunk"}, cprops); err != nil {
					return err
				}
				if err := w.Graph.UpsertEdge(ctx, documentID, relHasChunk, c.ID, map[string]any{"page": c.Page}); err != nil {
					return err
				}
			}
			if w.Search != nil {
				md := map[string]string{"type": "chunk", docIDMetaKey: c.DocumentID, "page": fmt.Sprintf("%d", c.Page)}
				if err := w.Search.Index(ctx, c.ID, c.Text, md); err != nil {
					return err
				}
			}
			if w.Vector != nil && vectors != nil {
				md := map[string]string{docIDMetaKey: c.DocumentID, "page": fmt.Sprintf("%d", c.Page)}
				if err := w.Vector.Upsert(ctx, c.ID, vectors[i], md); err != nil {
					return err
				}
			}
			return nil
		})
	}
	return g.Wait()
}

// DeleteDocument removes the document node, every chunk it owns, and every
// HAS_ENTITY/HAS_CHUNK edge sourced from it. Entities and relationships
// themselves are not deleted here: they may be shared across documents, and
// lose only this document's provenance (see PruneProvenance).
func (w *Writer) DeleteDocument(ctx context.Context, documentID string) error {
	if w.Graph != nil {
		edges, err := w.Graph.EdgesInvolving(ctx, documentID)
		if err != nil {
			return err
		}
		for _, e := range edges {
			if e.Rel != relHasChunk {
				continue
			}
			chunkID := e.Dst
			if err := w.Graph.DeleteEdge(ctx, e.Src, e.Rel, e.Dst); err != nil {
				return err
			}
			if err := w.Graph.DeleteNode(ctx, chunkID); err != nil {
				return err
			}
			if w.Search != nil {
				_ = w.Search.Remove(ctx, chunkID)
			}
			if w.Vector != nil {
				_ = w.Vector.Delete(ctx, chunkID)
			}
		}
		for _, e := range edges {
			if e.Rel == relHasEntity {
				_ = w.Graph.DeleteEdge(ctx, e.Src, e.Rel, e.Dst)
			}
		}
		if err := w.Graph.DeleteNode(ctx, documentID); err != nil {
			return err
		}
	}
	if w.Search != nil {
		_ = w.Search.Remove(ctx, documentID)
	}
	return nil
}

// PruneProvenance removes documentID from an entity's source_document_ids.
// The caller (ingestpipe's delete flow) is responsible for deciding whether
// an entity with no remaining provenance should itself be deleted.
func PruneProvenance(e *qsrmodel.Entity, documentID string) {
	delete(e.SourceDocumentIDs, documentID)
}
