// Package ingestpipe implements the spec §4.1 ingestion orchestrator: it
// accepts an upload, validates it synchronously, and hands the rest of the
// seven-step extraction-and-write pipeline to a bounded background worker
// pool, reporting progress through progress.Store as each stage completes.
//
// A submission is never split across two workers: runs for the same
// document_id are serialized so a resubmission of a document already being
// processed, or a retry after a crash, converges rather than racing the
// graph's idempotent upserts.
package ingestpipe

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/google/uuid"

	"qsrcore/internal/citations"
	"qsrcore/internal/config"
	"qsrcore/internal/degrade"
	"qsrcore/internal/extract"
	"qsrcore/internal/graphwriter"
	"qsrcore/internal/llm"
	"qsrcore/internal/localqueue"
	"qsrcore/internal/objectstore"
	"qsrcore/internal/persistence/databases"
	"qsrcore/internal/progress"
	"qsrcore/internal/qsrerr"
	"qsrcore/internal/qsrmodel"
	"qsrcore/internal/rag/embedder"
	"qsrcore/internal/sanitize"
	"qsrcore/internal/validate"
)

// defaultQueueDepth bounds the FIFO backlog of submitted-but-not-yet-running
// jobs before Submit itself starts blocking its caller.
const defaultQueueDepth = 256

// TextExtractor recovers page text from raw upload bytes. PDF/Office text
// extraction is a library outside this module's scope (spec §1 non-goals);
// a host wires a concrete implementation. The built-in fallback treats the
// bytes as UTF-8 plain text, which is exactly right for the text/markdown
// category and a degraded-mode stand-in for everything else.
type TextExtractor interface {
	Extract(ctx context.Context, filename string, data []byte) ([]extract.PageText, error)
}

// Orchestrator is the single entry point for spec §4.1's submit/status/delete
// contract. One Orchestrator owns one bounded worker pool.
type Orchestrator struct {
	Validator     *validate.Validator
	Objects       objectstore.ObjectStore
	Stores        databases.Manager
	Writer        *graphwriter.Writer
	Citations     *citations.Index
	Provider      llm.Provider
	Model         string
	Embedder      embedder.Embedder
	Progress      *progress.Store
	Degrade       *degrade.Controller
	LocalQueue    *localqueue.Queue
	TextExtractor TextExtractor
	Cfg           config.IngestConfig

	jobs       chan job
	active     int
	activeMu   sync.Mutex
	docLocks   map[string]*sync.Mutex
	docLocksMu sync.Mutex
	startOnce  sync.Once
}

type job struct {
	ctx        context.Context
	processID  string
	documentID string
	filename   string
	blobPath   string
	data       []byte
}

// New constructs an Orchestrator and starts its worker pool. Cfg.MaxConcurrent
// <= 0 defaults to 4.
func New(o Orchestrator) *Orchestrator {
	if o.Cfg.MaxConcurrent <= 0 {
		o.Cfg.MaxConcurrent = 4
	}
	if o.Cfg.ExtractionDeadline <= 0 {
		o.Cfg.ExtractionDeadline = 120 * time.Second
	}
	if o.Cfg.DualWriteDeadline <= 0 {
		o.Cfg.DualWriteDeadline = 60 * time.Second
	}
	if o.Cfg.CitationDeadline <= 0 {
		o.Cfg.CitationDeadline = 60 * time.Second
	}
	if o.Validator == nil {
		o.Validator = validate.New(nil)
	}
	if o.TextExtractor == nil {
		o.TextExtractor = plainTextExtractor{}
	}
	o.jobs = make(chan job, defaultQueueDepth)
	o.docLocks = make(map[string]*sync.Mutex)
	o.start()
	return &o
}

// start launches the worker pool exactly once. Each worker pulls jobs off
// the shared FIFO channel and throttles itself against the degrade
// controller's current concurrency cap before running.
func (o *Orchestrator) start() {
	o.startOnce.Do(func() {
		for i := 0; i < o.Cfg.MaxConcurrent; i++ {
			go o.worker()
		}
	})
}

func (o *Orchestrator) worker() {
	for j := range o.jobs {
		o.waitForCapacity(j.ctx)
		o.runDocumentLocked(j)
	}
}

// waitForCapacity blocks until the number of currently-running jobs is
// under the degrade-adjusted concurrency cap, or the job's context is done.
func (o *Orchestrator) waitForCapacity(ctx context.Context) {
	for {
		limit := o.Cfg.MaxConcurrent
		if o.Degrade != nil {
			limit = o.Degrade.IngestConcurrency(o.Cfg.MaxConcurrent)
		}
		o.activeMu.Lock()
		if o.active < limit {
			o.active++
			o.activeMu.Unlock()
			return
		}
		o.activeMu.Unlock()
		select {
		case <-ctx.Done():
			return
		case <-time.After(50 * time.Millisecond):
		}
	}
}

func (o *Orchestrator) releaseCapacity() {
	o.activeMu.Lock()
	o.active--
	o.activeMu.Unlock()
}

// runDocumentLocked serializes all processing for one document_id: a
// resubmission of a document already in flight waits for the prior run to
// finish, rather than racing it.
func (o *Orchestrator) runDocumentLocked(j job) {
	defer o.releaseCapacity()
	lock := o.lockFor(j.documentID)
	lock.Lock()
	defer lock.Unlock()
	o.runPipeline(j)
}

func (o *Orchestrator) lockFor(documentID string) *sync.Mutex {
	o.docLocksMu.Lock()
	defer o.docLocksMu.Unlock()
	l, ok := o.docLocks[documentID]
	if !ok {
		l = &sync.Mutex{}
		o.docLocks[documentID] = l
	}
	return l
}

// Submit validates the upload synchronously and, if accepted, stores the
// blob and enqueues the background pipeline. ok is false when validation
// rejected the upload outright (err carries the qsrerr.ValidationRejected
// or qsrerr.SecurityViolation detail); the caller still gets a process_id so
// the rejection itself is visible through Status.
func (o *Orchestrator) Submit(ctx context.Context, filename string, data []byte) (processID, documentID string, ok bool, err error) {
	processID = uuid.NewString()
	documentID = uuid.NewString()

	outcome := o.Validator.Validate(filename, data)
	if outcome.Result != validate.ResultValid {
		kind := qsrerr.ValidationRejected
		if outcome.Result == validate.ResultSecurityRisk {
			kind = qsrerr.SecurityViolation
		}
		detail := sanitize.Text(outcome.Detail)
		_ = o.Progress.Create(qsrmodel.ProgressRecord{
			ProcessID:  processID,
			DocumentID: documentID,
			Stage:      qsrmodel.StageFailed,
			Percent:    0,
			Message:    detail,
			Terminal:   true,
			LastUpdate: time.Now(),
		})
		return processID, documentID, false, qsrerr.New(kind, detail)
	}

	safeName, err := validate.SafeFilename(filename)
	if err != nil {
		return processID, documentID, false, qsrerr.Wrap(qsrerr.ValidationRejected, "unsafe filename", err)
	}
	blobPath := fmt.Sprintf("uploads/%s/%s", documentID, safeName)
	if o.Objects != nil {
		if _, err := o.Objects.Put(ctx, blobPath, bytesReader(data), objectstore.PutOptions{ContentType: outcome.Metadata.DetectedMIME}); err != nil {
			return processID, documentID, false, qsrerr.Wrap(qsrerr.UpstreamUnavailable, "blob storage unavailable", err)
		}
	}

	degraded := o.Degrade != nil && o.Degrade.CurrentMode() == degrade.ModeLocalQueue && o.LocalQueue != nil
	message := "upload accepted"
	if degraded {
		message = "upload accepted; queued for replay (degraded mode)"
	}
	if err := o.Progress.Create(qsrmodel.ProgressRecord{
		ProcessID:  processID,
		DocumentID: documentID,
		Stage:      qsrmodel.StageUploaded,
		Percent:    qsrmodel.StagePercent[qsrmodel.StageUploaded],
		Message:    message,
		LastUpdate: time.Now(),
	}); err != nil {
		return processID, documentID, false, err
	}

	if degraded {
		if err := o.LocalQueue.Push(ctx, localqueue.Job{
			ProcessID:  processID,
			DocumentID: documentID,
			Filename:   safeName,
			BlobPath:   blobPath,
		}); err != nil {
			return processID, documentID, false, qsrerr.Wrap(qsrerr.UpstreamUnavailable, "local queue unavailable", err)
		}
		return processID, documentID, true, nil
	}

	bg := context.Background()
	o.jobs <- job{ctx: bg, processID: processID, documentID: documentID, filename: safeName, blobPath: blobPath, data: data}
	return processID, documentID, true, nil
}

// ReplayQueued drains the local-queue replay buffer and resubmits each
// queued job into the normal background worker pool, reading the blob bytes
// back from object storage. Called once the degrade controller reports
// recovery to ModeNormal.
func (o *Orchestrator) ReplayQueued(ctx context.Context) (int, error) {
	if o.LocalQueue == nil {
		return 0, nil
	}
	jobs, err := o.LocalQueue.Drain(ctx)
	if err != nil {
		return 0, fmt.Errorf("ingestpipe: drain local queue: %w", err)
	}
	replayed := 0
	for _, qj := range jobs {
		if o.Objects == nil {
			continue
		}
		rc, _, err := o.Objects.Get(ctx, qj.BlobPath)
		if err != nil {
			continue
		}
		data, err := io.ReadAll(rc)
		rc.Close()
		if err != nil {
			continue
		}
		_ = o.Progress.Update(qsrmodel.ProgressRecord{
			ProcessID:  qj.ProcessID,
			DocumentID: qj.DocumentID,
			Stage:      qsrmodel.StageUploaded,
			Percent:    qsrmodel.StagePercent[qsrmodel.StageUploaded],
			Message:    "replaying queued upload",
			LastUpdate: time.Now(),
		})
		bg := context.Background()
		o.jobs <- job{ctx: bg, processID: qj.ProcessID, documentID: qj.DocumentID, filename: qj.Filename, blobPath: qj.BlobPath, data: data}
		replayed++
	}
	return replayed, nil
}

// Status returns the current ProgressRecord for processID.
func (o *Orchestrator) Status(processID string) (qsrmodel.ProgressRecord, bool) {
	return o.Progress.Get(processID)
}

// Delete removes documentID from every store: its chunks, its citations,
// its provenance on shared entities (deleting entities left with no
// remaining provenance), and the document node itself.
func (o *Orchestrator) Delete(ctx context.Context, documentID string) error {
	lock := o.lockFor(documentID)
	lock.Lock()
	defer lock.Unlock()

	if err := o.pruneEntityProvenance(ctx, documentID); err != nil {
		return fmt.Errorf("ingestpipe: prune provenance for %s: %w", documentID, err)
	}
	if o.Citations != nil {
		if err := o.Citations.DeleteDocument(ctx, documentID); err != nil {
			return fmt.Errorf("ingestpipe: delete citations for %s: %w", documentID, err)
		}
	}
	if o.Writer != nil {
		if err := o.Writer.DeleteDocument(ctx, documentID); err != nil {
			return fmt.Errorf("ingestpipe: delete document %s: %w", documentID, err)
		}
	}
	return nil
}

func (o *Orchestrator) pruneEntityProvenance(ctx context.Context, documentID string) error {
	if o.Stores.Graph == nil {
		return nil
	}
	nodes, err := o.Stores.Graph.ListNodesByLabel(ctx, "Entity")
	if err != nil {
		return err
	}
	for _, n := range nodes {
		e := entityFromNode(n)
		if !e.SourceDocumentIDs[documentID] {
			continue
		}
		graphwriter.PruneProvenance(&e, documentID)
		if len(e.SourceDocumentIDs) == 0 {
			if err := o.Stores.Graph.DeleteNode(ctx, e.NodeKey()); err != nil {
				return err
			}
			continue
		}
		if o.Writer == nil {
			continue
		}
		if err := o.Writer.UpsertEntity(ctx, e); err != nil {
			return err
		}
	}
	return nil
}

func entityFromNode(n databases.Node) qsrmodel.Entity {
	e := qsrmodel.Entity{
		CanonicalName:     asString(n.Props["canonical_name"]),
		SurfaceForm:       asString(n.Props["surface_form"]),
		Type:              qsrmodel.EntityType(asString(n.Props["entity_type"])),
		HierarchyLevel:    asInt(n.Props["hierarchy_level"]),
		ParentEntity:      asString(n.Props["parent_entity"]),
		QSRContext:        asString(n.Props["qsr_context"]),
		SourceDocumentIDs: map[string]bool{},
	}
	if f, ok := n.Props["confidence"].(float64); ok {
		e.Confidence = f
	}
	if docs, ok := n.Props["source_document_ids"].(map[string]bool); ok {
		for d := range docs {
			e.SourceDocumentIDs[d] = true
		}
	}
	if pages, ok := n.Props["page_references"].(map[int]bool); ok {
		e.PageReferences = make(map[int]bool, len(pages))
		for p := range pages {
			e.PageReferences[p] = true
		}
	}
	return e
}

func asString(v any) string {
	s, _ := v.(string)
	return s
}

func asInt(v any) int {
	switch t := v.(type) {
	case int:
		return t
	case float64:
		return int(t)
	default:
		return 0
	}
}
