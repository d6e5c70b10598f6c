package localqueue

import (
	"context"
	"encoding/json"
	"testing"

	"qsrcore/internal/config"
)

func TestNew_DisabledReturnsNil(t *testing.T) {
	q, err := New(config.LocalQueueConfig{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if q != nil {
		t.Fatalf("expected nil queue when redis is disabled")
	}
}

func TestNilQueue_MethodsAreNoOps(t *testing.T) {
	var q *Queue
	ctx := context.Background()

	if err := q.Push(ctx, Job{ProcessID: "p1"}); err != nil {
		t.Fatalf("expected nil-receiver Push to be a no-op, got %v", err)
	}
	n, err := q.Len(ctx)
	if err != nil || n != 0 {
		t.Fatalf("expected nil-receiver Len to return (0, nil), got (%d, %v)", n, err)
	}
	jobs, err := q.Drain(ctx)
	if err != nil || jobs != nil {
		t.Fatalf("expected nil-receiver Drain to return (nil, nil), got (%v, %v)", jobs, err)
	}
}

func TestJob_RoundTripsThroughJSON(t *testing.T) {
	job := Job{ProcessID: "p1", DocumentID: "d1", Filename: "manual.pdf", BlobPath: "uploads/d1/manual.pdf"}
	b, err := json.Marshal(job)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var out Job
	if err := json.Unmarshal(b, &out); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if out != job {
		t.Fatalf("round-trip mismatch: got %+v, want %+v", out, job)
	}
}
