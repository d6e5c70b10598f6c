package qsrmodel

import "fmt"

// Chunk is a searchable fragment of a document, retrievable by both lexical
// keyword and vector similarity. Deleting a document deletes all its chunks.
type Chunk struct {
	ID         string    `json:"chunk_id"`
	DocumentID string    `json:"document_id"`
	Text       string    `json:"text"`
	Page       int       `json:"page"`
	Offset     int       `json:"offset"`
	Embedding  []float32 `json:"-"`
}

func (c Chunk) Validate() error {
	if c.ID == "" || c.DocumentID == "" {
		return fmt.Errorf("chunk: chunk_id and document_id are required")
	}
	return nil
}

// CitationType is the closed discriminator for visual artifacts a
// VisualCitation can reference.
type CitationType string

const (
	CitationImage         CitationType = "image"
	CitationDiagram       CitationType = "diagram"
	CitationTable         CitationType = "table"
	CitationTextSection   CitationType = "text-section"
	CitationSafetyWarning CitationType = "safety-warning"
)

var validCitationTypes = map[CitationType]bool{
	CitationImage: true, CitationDiagram: true, CitationTable: true,
	CitationTextSection: true, CitationSafetyWarning: true,
}

// BoundingBox is an optional page-coordinate rectangle for a citation's
// source artifact, in PDF user-space units.
type BoundingBox struct {
	X0, Y0, X1, Y1 float64
}

// VisualCitation is a stable, content-addressed reference to a visual
// artifact inside a document. Content bytes are materialized lazily.
type VisualCitation struct {
	CitationID  string       `json:"citation_id"`
	Type        CitationType `json:"citation_type"`
	DocumentID  string       `json:"document_id"`
	Page        int          `json:"page_number"`
	RefText     string       `json:"reference_text"`
	BBox        *BoundingBox `json:"bbox,omitempty"`
	XRef        string       `json:"xref,omitempty"`
	CachedBytes []byte       `json:"-"`
}

func (v VisualCitation) Validate() error {
	if v.CitationID == "" || v.DocumentID == "" {
		return fmt.Errorf("visual_citation: citation_id and document_id are required")
	}
	if !validCitationTypes[v.Type] {
		return fmt.Errorf("visual_citation: unknown citation_type %q", v.Type)
	}
	return nil
}
