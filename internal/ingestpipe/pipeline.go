package ingestpipe

import (
	"context"
	"path/filepath"
	"strings"
	"time"

	"qsrcore/internal/extract"
	"qsrcore/internal/qsrmodel"
	"qsrcore/internal/sanitize"
)

// runPipeline drives one document through the background stages of spec
// §4.1: validated, text-extracted, entities-extracted,
// relationships-generated, indexed, verified. Each stage's progress is
// reported before the next begins; a stage that exhausts its retries marks
// the record terminally failed rather than advancing.
func (o *Orchestrator) runPipeline(j job) {
	ctx := j.ctx

	o.advance(j.processID, j.documentID, qsrmodel.StageValidated, "content validated")

	pages, err := o.TextExtractor.Extract(ctx, j.filename, j.data)
	if err != nil || len(pages) == 0 {
		o.fail(j.processID, j.documentID, qsrmodel.StagePercent[qsrmodel.StageValidated], "text extraction yielded no content")
		return
	}
	o.advance(j.processID, j.documentID, qsrmodel.StageTextExtracted, "text extracted")

	extractCtx, cancel := context.WithTimeout(ctx, o.Cfg.ExtractionDeadline)
	var result extract.Result
	err = retryStage(extractCtx, func() error {
		r, err := extract.Run(extractCtx, o.Provider, o.Model, j.documentID, j.filename, pages)
		if err != nil {
			return err
		}
		result = r
		return nil
	})
	cancel()
	if err != nil {
		o.fail(j.processID, j.documentID, qsrmodel.StagePercent[qsrmodel.StageTextExtracted], "extraction failed: "+sanitize.Text(err.Error()))
		return
	}

	mergedEntities := result.Entities
	if o.Stores.Graph != nil {
		merged, _ := extract.DedupeAcrossDocuments(ctx, o.Stores.Graph, result.Entities)
		mergedEntities = merged
	}
	o.advanceWithCounts(j.processID, j.documentID, qsrmodel.StageEntitiesExtracted, "entities extracted", len(mergedEntities), 0)
	o.advanceWithCounts(j.processID, j.documentID, qsrmodel.StageRelationshipsGenerated, "relationships derived", len(mergedEntities), len(result.Relationships))

	doc := qsrmodel.Document{
		ID:               j.documentID,
		Filename:         j.filename,
		FileType:         strings.TrimPrefix(filepath.Ext(j.filename), "."),
		BlobPath:         j.blobPath,
		PageCount:        len(pages),
		ExecutiveSummary: result.Summary.ExecutiveSummary,
		QSRCategory:      sanitizeCategory(result.Summary.QSRCategory),
		DocumentType:     sanitizeDocType(result.Summary.DocumentType),
		HierarchicalSections: result.Summary.HierarchicalSections,
		SizeBytes:        int64(len(j.data)),
		UploadedAt:       time.Now(),
	}

	writeCtx, cancel := context.WithTimeout(ctx, o.Cfg.DualWriteDeadline)
	err = retryStage(writeCtx, func() error {
		if o.Writer == nil {
			return nil
		}
		return o.Writer.WriteDocument(writeCtx, doc, mergedEntities, result.Relationships, result.Chunks)
	})
	cancel()
	if err != nil {
		o.fail(j.processID, j.documentID, qsrmodel.StagePercent[qsrmodel.StageRelationshipsGenerated], "dual write failed: "+sanitize.Text(err.Error()))
		return
	}

	if o.Citations != nil {
		citeCtx, cancel := context.WithTimeout(ctx, o.Cfg.CitationDeadline)
		// Citation indexing enriches the response with media references but
		// is not required for a document to become searchable; a failure
		// here does not fail the ingestion.
		_, _ = o.Citations.IndexDocument(citeCtx, doc)
		cancel()
	}

	o.advanceWithCounts(j.processID, j.documentID, qsrmodel.StageIndexed, "indexed", len(mergedEntities), len(result.Relationships))

	if !o.verify(ctx, j.documentID) {
		o.fail(j.processID, j.documentID, qsrmodel.StagePercent[qsrmodel.StageIndexed], "post-write verification failed")
		return
	}

	o.terminal(j.processID, j.documentID, qsrmodel.StageVerified, "ingestion complete", len(mergedEntities), len(result.Relationships))
}

// verify re-reads the document node back from the graph, confirming the
// write actually landed before the caller is told ingestion succeeded.
func (o *Orchestrator) verify(ctx context.Context, documentID string) bool {
	if o.Stores.Graph == nil {
		return true
	}
	_, ok := o.Stores.Graph.GetNode(ctx, documentID)
	return ok
}

func (o *Orchestrator) advance(processID, documentID string, stage qsrmodel.Stage, message string) {
	_ = o.Progress.Update(qsrmodel.ProgressRecord{
		ProcessID:  processID,
		DocumentID: documentID,
		Stage:      stage,
		Percent:    qsrmodel.StagePercent[stage],
		Message:    message,
		LastUpdate: time.Now(),
	})
}

func (o *Orchestrator) advanceWithCounts(processID, documentID string, stage qsrmodel.Stage, message string, entities, rels int) {
	_ = o.Progress.Update(qsrmodel.ProgressRecord{
		ProcessID:          processID,
		DocumentID:         documentID,
		Stage:              stage,
		Percent:            qsrmodel.StagePercent[stage],
		Message:            message,
		EntitiesFound:      entities,
		RelationshipsFound: rels,
		LastUpdate:         time.Now(),
	})
}

func (o *Orchestrator) terminal(processID, documentID string, stage qsrmodel.Stage, message string, entities, rels int) {
	_ = o.Progress.Update(qsrmodel.ProgressRecord{
		ProcessID:          processID,
		DocumentID:         documentID,
		Stage:              stage,
		Percent:            qsrmodel.StagePercent[stage],
		Message:            message,
		EntitiesFound:      entities,
		RelationshipsFound: rels,
		Terminal:           true,
		LastUpdate:         time.Now(),
	})
}

// fail marks a process terminally failed without decreasing percent below
// the last successfully completed stage.
func (o *Orchestrator) fail(processID, documentID string, lastPercent int, message string) {
	_ = o.Progress.Update(qsrmodel.ProgressRecord{
		ProcessID:  processID,
		DocumentID: documentID,
		Stage:      qsrmodel.StageFailed,
		Percent:    lastPercent,
		Message:    message,
		Terminal:   true,
		LastUpdate: time.Now(),
	})
}

func sanitizeCategory(s string) qsrmodel.QSRCategory {
	switch qsrmodel.QSRCategory(s) {
	case qsrmodel.CategoryIceCream, qsrmodel.CategoryFryer, qsrmodel.CategoryGrill,
		qsrmodel.CategoryBeverage, qsrmodel.CategoryRefrigeration, qsrmodel.CategoryCleaning,
		qsrmodel.CategoryGeneral:
		return qsrmodel.QSRCategory(s)
	default:
		return qsrmodel.CategoryGeneral
	}
}

func sanitizeDocType(s string) qsrmodel.DocumentType {
	switch qsrmodel.DocumentType(s) {
	case qsrmodel.DocTypeServiceManual, qsrmodel.DocTypeCleaningGuide, qsrmodel.DocTypeSafetyProtocol,
		qsrmodel.DocTypeOperationGuide, qsrmodel.DocTypeInstallationManual, qsrmodel.DocTypeTroubleshootingGuide,
		qsrmodel.DocTypeTraining, qsrmodel.DocTypeReference:
		return qsrmodel.DocumentType(s)
	default:
		return qsrmodel.DocTypeReference
	}
}
