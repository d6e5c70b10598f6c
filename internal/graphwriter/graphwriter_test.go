package graphwriter

import (
	"context"
	"fmt"
	"testing"

	"qsrcore/internal/persistence/databases"
	"qsrcore/internal/qsrmodel"
	"qsrcore/internal/rag/embedder"
)

func newTestWriter() (*Writer, databases.Manager) {
	stores := databases.Manager{
		Graph:  databases.NewMemoryGraph(),
		Search: databases.NewMemorySearch(),
		Vector: databases.NewMemoryVector(),
	}
	return New(stores, embedder.NewDeterministic(8, true, 0)), stores
}

func TestWriteDocument_OrderedWriteLandsEverything(t *testing.T) {
	t.Parallel()
	w, stores := newTestWriter()
	ctx := context.Background()

	doc := qsrmodel.Document{ID: "doc-1", Filename: "fryer.txt", FileType: "txt", ExecutiveSummary: "Fryer cleaning steps"}
	entities := []qsrmodel.Entity{
		{CanonicalName: "FRY-300", Type: qsrmodel.EntityEquipment, HierarchyLevel: 1, SourceDocumentIDs: map[string]bool{"doc-1": true}},
	}
	chunks := make([]qsrmodel.Chunk, 20)
	for i := range chunks {
		chunks[i] = qsrmodel.Chunk{ID: fmt.Sprintf("chunk-%d", i), DocumentID: doc.ID, Text: fmt.Sprintf("step %d", i), Page: i}
	}

	if err := w.WriteDocument(ctx, doc, entities, nil, chunks); err != nil {
		t.Fatalf("WriteDocument: %v", err)
	}

	if _, ok := stores.Graph.GetNode(ctx, doc.ID); !ok {
		t.Fatalf("document node missing after write")
	}
	for _, c := range chunks {
		if _, ok := stores.Graph.GetNode(ctx, c.ID); !ok {
			t.Fatalf("chunk node %s missing after concurrent IndexChunks", c.ID)
		}
	}
}

func TestIndexChunks_ConcurrentFanOutDoesNotDropWrites(t *testing.T) {
	t.Parallel()
	w, stores := newTestWriter()
	ctx := context.Background()

	const n = 50
	chunks := make([]qsrmodel.Chunk, n)
	for i := range chunks {
		chunks[i] = qsrmodel.Chunk{ID: fmt.Sprintf("c-%d", i), DocumentID: "doc-x", Text: fmt.Sprintf("text %d", i), Page: i}
	}
	if err := w.IndexChunks(ctx, "doc-x", chunks); err != nil {
		t.Fatalf("IndexChunks: %v", err)
	}

	nodes, err := stores.Graph.ListNodesByLabel(ctx, "Chunk")
	if err != nil {
		t.Fatalf("list chunk nodes: %v", err)
	}
	if len(nodes) != n {
		t.Fatalf("expected %d chunk nodes, got %d", n, len(nodes))
	}
}

func TestIndexChunks_PropagatesValidationError(t *testing.T) {
	t.Parallel()
	w, _ := newTestWriter()
	ctx := context.Background()

	chunks := []qsrmodel.Chunk{{ID: "", DocumentID: "doc-1", Text: "missing id"}}
	if err := w.IndexChunks(ctx, "doc-1", chunks); err == nil {
		t.Fatalf("expected validation error for chunk with empty id")
	}
}
