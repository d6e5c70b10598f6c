package retrieve

import (
	"context"

	"qsrcore/internal/persistence/databases"
	"qsrcore/internal/rag/embedder"
)

// ChunkHit is one chunk matched by vector similarity.
type ChunkHit struct {
	ChunkID    string
	DocumentID string
	Score      float64
}

// VectorRetrieve embeds query and searches the chunk index for the top-K
// chunks by semantic similarity, per spec §4.6 step 6.
func VectorRetrieve(ctx context.Context, vec databases.VectorStore, emb embedder.Embedder, query string, k int) ([]ChunkHit, error) {
	if vec == nil || emb == nil || query == "" {
		return nil, nil
	}
	vectors, err := emb.EmbedBatch(ctx, []string{query})
	if err != nil || len(vectors) == 0 {
		return nil, err
	}
	results, err := vec.SimilaritySearch(ctx, vectors[0], k, nil)
	if err != nil {
		return nil, err
	}
	hits := make([]ChunkHit, 0, len(results))
	for _, r := range results {
		hits = append(hits, ChunkHit{ChunkID: r.ID, DocumentID: r.Metadata["document_id"], Score: r.Score})
	}
	return hits, nil
}

// MergeByDocument groups chunk hits under the document ids already known
// from entity retrieval, appending any additional documents vector search
// surfaced on its own.
func MergeByDocument(documentIDs []string, chunkHits []ChunkHit) []string {
	seen := make(map[string]bool, len(documentIDs))
	out := append([]string{}, documentIDs...)
	for _, id := range documentIDs {
		seen[id] = true
	}
	for _, h := range chunkHits {
		if h.DocumentID != "" && !seen[h.DocumentID] {
			seen[h.DocumentID] = true
			out = append(out, h.DocumentID)
		}
	}
	return out
}
