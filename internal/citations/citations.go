// Package citations implements spec §4.5: stable, content-addressed
// references to visual artifacts inside a document (images, diagrams,
// tables, text sections, safety warnings), indexed lazily and materialized
// to PNG bytes on demand.
package citations

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"

	"qsrcore/internal/persistence/databases"
	"qsrcore/internal/qsrmodel"
)

// ErrNotFound is returned by GetContent when citation_id is unknown.
var ErrNotFound = errors.New("citations: not found")

const labelCitation = "VisualCitation"
const relHasCitation = "HAS_CITATION"

// CitationID is a pure function of (document_id, page, reference_text), per
// spec §4.4 P7: stable across re-ingestions of the same document.
func CitationID(documentID string, page int, refText string) string {
	h := sha256.New()
	fmt.Fprintf(h, "%s|%d|%s", documentID, page, refText)
	return hex.EncodeToString(h.Sum(nil))
}

// PageArtifact is one visual artifact discovered while walking a document's
// pages during indexing, before it is assigned a citation_id.
type PageArtifact struct {
	Type    qsrmodel.CitationType
	Page    int
	RefText string
	BBox    *qsrmodel.BoundingBox
	XRef    string
}

// PageRenderer is the narrow collaborator that knows how to walk a
// document's pages for embedded visual artifacts, and to render one on
// demand as PNG bytes. It is backed by a PDF library outside this module's
// scope; tests supply a fake.
type PageRenderer interface {
	// Enumerate walks every page of the document at blobPath and returns
	// every embedded image and table-like text block found.
	Enumerate(ctx context.Context, documentID, blobPath string) ([]PageArtifact, error)
	// Render re-extracts one artifact as PNG bytes, converting non-RGB
	// color spaces to RGB.
	Render(ctx context.Context, documentID, blobPath string, page int, bbox *qsrmodel.BoundingBox, xref string) ([]byte, error)
}

// Index walks the stores' graph backend, owns the citation cache in
// objectstore, and drives PageRenderer.
type Index struct {
	Graph    databases.GraphDB
	Cache    CitationCache
	Renderer PageRenderer
}

// CitationCache persists materialized citation bytes, keyed by citation_id.
// Backed by objectstore.ObjectStore in production.
type CitationCache interface {
	Get(ctx context.Context, citationID string) ([]byte, bool, error)
	Put(ctx context.Context, citationID string, data []byte) error
}
