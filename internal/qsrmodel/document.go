// Package qsrmodel holds the core value types shared by every stage of the
// ingestion and retrieval pipeline: Document, Entity, Relationship, Chunk,
// VisualCitation, and ProgressRecord. Types are plain structs with json tags;
// persistence packages map them to/from backend-specific representations.
package qsrmodel

import (
	"fmt"
	"time"
)

// QSRCategory is the coarse equipment domain a document belongs to.
type QSRCategory string

const (
	CategoryIceCream      QSRCategory = "ice-cream"
	CategoryFryer         QSRCategory = "fryer"
	CategoryGrill         QSRCategory = "grill"
	CategoryBeverage      QSRCategory = "beverage"
	CategoryRefrigeration QSRCategory = "refrigeration"
	CategoryCleaning      QSRCategory = "cleaning"
	CategoryGeneral       QSRCategory = "general"
)

var validCategories = map[QSRCategory]bool{
	CategoryIceCream: true, CategoryFryer: true, CategoryGrill: true,
	CategoryBeverage: true, CategoryRefrigeration: true, CategoryCleaning: true,
	CategoryGeneral: true,
}

// DocumentType is the closed set of manual kinds the extractor classifies.
type DocumentType string

const (
	DocTypeServiceManual       DocumentType = "service-manual"
	DocTypeCleaningGuide       DocumentType = "cleaning-guide"
	DocTypeSafetyProtocol      DocumentType = "safety-protocol"
	DocTypeOperationGuide      DocumentType = "operation-guide"
	DocTypeInstallationManual  DocumentType = "installation-manual"
	DocTypeTroubleshootingGuide DocumentType = "troubleshooting-guide"
	DocTypeTraining            DocumentType = "training"
	DocTypeReference           DocumentType = "reference"
)

var validDocumentTypes = map[DocumentType]bool{
	DocTypeServiceManual: true, DocTypeCleaningGuide: true, DocTypeSafetyProtocol: true,
	DocTypeOperationGuide: true, DocTypeInstallationManual: true,
	DocTypeTroubleshootingGuide: true, DocTypeTraining: true, DocTypeReference: true,
}

// Document is the immutable-once-derived record for one uploaded manual.
type Document struct {
	ID                 string       `json:"document_id"`
	Filename           string       `json:"filename"`
	FileType           string       `json:"file_type"`
	BlobPath           string       `json:"blob_path"`
	PageCount          int          `json:"page_count,omitempty"`
	UploadedAt         time.Time    `json:"upload_ts"`
	ExecutiveSummary   string       `json:"executive_summary"`
	QSRCategory        QSRCategory  `json:"qsr_category"`
	DocumentType       DocumentType `json:"document_type"`
	HierarchicalSections []string   `json:"hierarchical_sections,omitempty"`
	SizeBytes          int64        `json:"size_bytes"`
}

// Validate rejects a Document whose closed-enum fields fall outside §3.
func (d Document) Validate() error {
	if d.ID == "" {
		return fmt.Errorf("document: id is required")
	}
	if !validCategories[d.QSRCategory] {
		return fmt.Errorf("document: unknown qsr_category %q", d.QSRCategory)
	}
	if !validDocumentTypes[d.DocumentType] {
		return fmt.Errorf("document: unknown document_type %q", d.DocumentType)
	}
	return nil
}

// TextPreview truncates ExecutiveSummary to at most n runes for list views.
func (d Document) TextPreview(n int) string {
	r := []rune(d.ExecutiveSummary)
	if len(r) <= n {
		return d.ExecutiveSummary
	}
	return string(r[:n])
}
