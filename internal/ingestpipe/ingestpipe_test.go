package ingestpipe

import (
	"context"
	"strings"
	"testing"
	"time"

	"qsrcore/internal/config"
	"qsrcore/internal/graphwriter"
	"qsrcore/internal/objectstore"
	"qsrcore/internal/persistence/databases"
	"qsrcore/internal/progress"
	"qsrcore/internal/qsrerr"
	"qsrcore/internal/qsrmodel"
	"qsrcore/internal/rag/embedder"
)

func newTestOrchestrator(t *testing.T) *Orchestrator {
	t.Helper()
	stores := databases.Manager{
		Graph:  databases.NewMemoryGraph(),
		Search: databases.NewMemorySearch(),
		Vector: databases.NewMemoryVector(),
	}
	emb := embedder.NewDeterministic(16, true, 0)
	return New(Orchestrator{
		Objects:  objectstore.NewMemoryStore(),
		Stores:   stores,
		Writer:   graphwriter.New(stores, emb),
		Embedder: emb,
		Progress: progress.New(0, 0),
		Cfg:      config.IngestConfig{MaxConcurrent: 2, ExtractionDeadline: 5 * time.Second, DualWriteDeadline: 5 * time.Second},
	})
}

func waitTerminal(t *testing.T, o *Orchestrator, processID string) qsrmodel.ProgressRecord {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		rec, ok := o.Status(processID)
		if ok && rec.Terminal {
			return rec
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("process %s never reached a terminal state", processID)
	return qsrmodel.ProgressRecord{}
}

func TestSubmit_HappyPathReachesVerified(t *testing.T) {
	t.Parallel()
	o := newTestOrchestrator(t)
	text := "Fryer FRY-300 Cleaning Guide\n\nStep 1: Drain the oil.\nStep 2: Scrub the basket with a brush.\nWARNING: Allow the fryer to cool before cleaning.\n"
	processID, documentID, ok, err := o.Submit(context.Background(), "fryer_cleaning.txt", []byte(text))
	if err != nil || !ok {
		t.Fatalf("submit rejected: ok=%v err=%v", ok, err)
	}
	rec := waitTerminal(t, o, processID)
	if rec.Stage != "verified" {
		t.Fatalf("expected stage verified, got %s (message=%s)", rec.Stage, rec.Message)
	}
	if rec.Percent != 100 {
		t.Fatalf("expected percent 100, got %d", rec.Percent)
	}
	if rec.DocumentID != documentID {
		t.Fatalf("document id mismatch: %s vs %s", rec.DocumentID, documentID)
	}
}

func TestSubmit_OversizeRejectedSynchronously(t *testing.T) {
	t.Parallel()
	o := newTestOrchestrator(t)
	big := strings.Repeat("a", 20*1024*1024) // exceeds the text category's size policy
	_, _, ok, err := o.Submit(context.Background(), "notes.txt", []byte(big))
	if ok {
		t.Fatalf("expected oversize upload to be rejected")
	}
	if err == nil {
		t.Fatalf("expected an error")
	}
	if qsrerr.KindOf(err) != qsrerr.ValidationRejected {
		t.Fatalf("expected ValidationRejected, got %s", qsrerr.KindOf(err))
	}
}

func TestSubmit_EmptyFileRejected(t *testing.T) {
	t.Parallel()
	o := newTestOrchestrator(t)
	_, _, ok, err := o.Submit(context.Background(), "empty.txt", []byte{})
	if ok || err == nil {
		t.Fatalf("expected empty upload to be rejected, ok=%v err=%v", ok, err)
	}
}

func TestDelete_RemovesDocumentNode(t *testing.T) {
	t.Parallel()
	o := newTestOrchestrator(t)
	text := "Grill GR-100 Operation Guide\n\nStep 1: Preheat the grill to 350F.\n"
	processID, documentID, ok, err := o.Submit(context.Background(), "grill_ops.txt", []byte(text))
	if err != nil || !ok {
		t.Fatalf("submit rejected: ok=%v err=%v", ok, err)
	}
	waitTerminal(t, o, processID)

	if err := o.Delete(context.Background(), documentID); err != nil {
		t.Fatalf("delete failed: %v", err)
	}
	if _, ok := o.Stores.Graph.GetNode(context.Background(), documentID); ok {
		t.Fatalf("document node still present after delete")
	}
}

// TestResubmission_SameDocumentIDConverges exercises the crash-retry path:
// the same document_id run through the background pipeline twice (as would
// happen if a caller resubmitted after an apparent crash) must not duplicate
// graph nodes, since every upsert is keyed by a stable identity.
func TestResubmission_SameDocumentIDConverges(t *testing.T) {
	t.Parallel()
	o := newTestOrchestrator(t)
	text := "Ice Cream IC-200 Service Manual\n\nStep 1: Remove the mix pump.\nStep 2: Inspect the O-rings.\n"
	documentID := "fixed-doc-id"

	run := func(processID string) qsrmodel.ProgressRecord {
		j := job{
			ctx:        context.Background(),
			processID:  processID,
			documentID: documentID,
			filename:   "ic200.txt",
			blobPath:   "uploads/" + documentID + "/ic200.txt",
			data:       []byte(text),
		}
		if err := o.Progress.Create(qsrmodel.ProgressRecord{
			ProcessID: processID, DocumentID: documentID,
			Stage: qsrmodel.StageUploaded, Percent: qsrmodel.StagePercent[qsrmodel.StageUploaded],
		}); err != nil {
			t.Fatalf("progress create: %v", err)
		}
		o.runPipeline(j)
		rec, ok := o.Status(processID)
		if !ok {
			t.Fatalf("no progress record for %s", processID)
		}
		return rec
	}

	rec1 := run("proc-1")
	if rec1.Stage != qsrmodel.StageVerified {
		t.Fatalf("first run: expected verified, got %s (%s)", rec1.Stage, rec1.Message)
	}
	entitiesAfterFirst, err := o.Stores.Graph.ListNodesByLabel(context.Background(), "Entity")
	if err != nil {
		t.Fatalf("list entities: %v", err)
	}

	rec2 := run("proc-2")
	if rec2.Stage != qsrmodel.StageVerified {
		t.Fatalf("second run: expected verified, got %s (%s)", rec2.Stage, rec2.Message)
	}
	entitiesAfterSecond, err := o.Stores.Graph.ListNodesByLabel(context.Background(), "Entity")
	if err != nil {
		t.Fatalf("list entities: %v", err)
	}
	if len(entitiesAfterSecond) != len(entitiesAfterFirst) {
		t.Fatalf("resubmission duplicated entities: %d -> %d", len(entitiesAfterFirst), len(entitiesAfterSecond))
	}
}
