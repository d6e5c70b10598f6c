package retrieve

import (
	"context"

	"qsrcore/internal/citations"
	"qsrcore/internal/persistence/databases"
	"qsrcore/internal/rag/embedder"
)

// defaultMaxResults bounds entity-level retrieval when the caller doesn't
// specify one.
const defaultMaxResults = 20

// defaultVectorK bounds vector retrieval when the caller doesn't specify one.
const defaultVectorK = 10

// Retriever wires the stores a query needs: the graph for entity and
// hierarchy lookups, the vector store and embedder for chunk similarity,
// full-text search for chunk text recovery, and the citation index for
// media references.
type Retriever struct {
	Graph     databases.GraphDB
	Vector    databases.VectorStore
	Search    databases.FullTextSearch
	Embedder  embedder.Embedder
	Citations *citations.Index
}

// Query runs classify, key-term extraction, entity retrieval, document
// collection, vector retrieval, and compose. It does not walk BELONGS_TO
// ancestors: AncestorPath is not called and the Response carries no ancestor
// path. maxResults <= 0 uses the default cap.
func (r *Retriever) Query(ctx context.Context, query string, maxResults int) (Response, error) {
	terms := KeyTerms(query)
	if len(terms) == 0 {
		return EmptyResponse(), nil
	}
	if maxResults <= 0 {
		maxResults = defaultMaxResults
	}

	class := Classify(query)

	entityHits, err := RetrieveEntities(ctx, r.Graph, terms, maxResults)
	if err != nil {
		return Response{}, err
	}

	documentIDs := DistinctDocuments(entityHits)

	chunkHits, err := VectorRetrieve(ctx, r.Vector, r.Embedder, query, defaultVectorK)
	if err != nil {
		return Response{}, err
	}
	documentIDs = MergeByDocument(documentIDs, chunkHits)

	resp := Compose(ctx, r.Search, query, class, entityHits, chunkHits, r.Citations, documentIDs)
	return resp, nil
}
