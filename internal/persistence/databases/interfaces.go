package databases

import (
	"context"
)

// SearchResult represents a single hit from the full-text search backend.
type SearchResult struct {
	ID       string
	Score    float64
	Snippet  string
	Text     string
	Metadata map[string]string
}

// ByIDFetcher is an optional FullTextSearch capability for fetching one
// indexed record's full text by id, used by retrieval to recover chunk
// text after a vector or graph hit surfaces only a chunk id.
type ByIDFetcher interface {
	GetByID(ctx context.Context, id string) (SearchResult, bool, error)
}

// FullTextSearch defines the minimum interface for a pluggable FTS backend.
type FullTextSearch interface {
	Index(ctx context.Context, id string, text string, metadata map[string]string) error
	Remove(ctx context.Context, id string) error
	Search(ctx context.Context, query string, limit int) ([]SearchResult, error)
}

// VectorResult represents a single nearest neighbor lookup result.
type VectorResult struct {
	ID       string
	Score    float64 // Higher is closer by default
	Metadata map[string]string
}

// VectorStore defines the minimum interface for a pluggable vector store.
type VectorStore interface {
	Upsert(ctx context.Context, id string, vector []float32, metadata map[string]string) error
	Delete(ctx context.Context, id string) error
	SimilaritySearch(ctx context.Context, vector []float32, k int, filter map[string]string) ([]VectorResult, error)
}

// Node is a minimal in-memory representation of a graph node.
type Node struct {
	ID     string
	Labels []string
	Props  map[string]any
}

// Edge is a minimal portable representation of a graph edge, used for
// cascade-delete and full-scan retrieval paths that can't be expressed as a
// single Neighbors lookup.
type Edge struct {
	Src, Rel, Dst string
	Props         map[string]any
}

// GraphDB defines a portable interface for minimal graph operations.
type GraphDB interface {
	UpsertNode(ctx context.Context, id string, labels []string, props map[string]any) error
	UpsertEdge(ctx context.Context, srcID, rel, dstID string, props map[string]any) error
	Neighbors(ctx context.Context, id string, rel string) ([]string, error)
	GetNode(ctx context.Context, id string) (Node, bool)
	DeleteNode(ctx context.Context, id string) error
	DeleteEdge(ctx context.Context, srcID, rel, dstID string) error
	// EdgesInvolving returns every edge with id as either source or
	// destination, used to find relationships to drop during cascade delete.
	EdgesInvolving(ctx context.Context, id string) ([]Edge, error)
	// ListNodesByLabel returns every node carrying label, used by entity
	// retrieval which has no query language to push filters down into.
	ListNodesByLabel(ctx context.Context, label string) ([]Node, error)
}

// Manager holds concrete database backends resolved from configuration.
type Manager struct {
	Search FullTextSearch
	Vector VectorStore
	Graph  GraphDB
}

// Close attempts to close any underlying pools. It's a no-op for memory backends.
func (m Manager) Close() {
	if c, ok := any(m.Search).(interface{ Close() }); ok {
		c.Close()
	}
	if c, ok := any(m.Vector).(interface{ Close() }); ok {
		c.Close()
	}
	if c, ok := any(m.Graph).(interface{ Close() }); ok {
		c.Close()
	}
}
