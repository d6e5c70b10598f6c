package httpapi

import (
	"bytes"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"qsrcore/internal/citations"
	"qsrcore/internal/config"
	"qsrcore/internal/graphwriter"
	"qsrcore/internal/ingestpipe"
	"qsrcore/internal/objectstore"
	"qsrcore/internal/persistence/databases"
	"qsrcore/internal/progress"
	"qsrcore/internal/qsrmodel"
	"qsrcore/internal/rag/embedder"
	"qsrcore/internal/retrieve"
)

func newTestServer(t *testing.T) (*httptest.Server, *Server) {
	t.Helper()
	stores := databases.Manager{
		Graph:  databases.NewMemoryGraph(),
		Search: databases.NewMemorySearch(),
		Vector: databases.NewMemoryVector(),
	}
	emb := embedder.NewDeterministic(16, true, 0)
	orchestrator := ingestpipe.New(ingestpipe.Orchestrator{
		Objects:  objectstore.NewMemoryStore(),
		Stores:   stores,
		Writer:   graphwriter.New(stores, emb),
		Embedder: emb,
		Progress: progress.New(0, 0),
		Cfg:      config.IngestConfig{MaxConcurrent: 2, ExtractionDeadline: 5 * time.Second, DualWriteDeadline: 5 * time.Second},
	})
	citationIndex := &citations.Index{Graph: stores.Graph}
	srv := &Server{
		Ingest: orchestrator,
		Retriever: &retrieve.Retriever{
			Graph:     stores.Graph,
			Vector:    stores.Vector,
			Search:    stores.Search,
			Embedder:  emb,
			Citations: citationIndex,
		},
		Citations: citationIndex,
		Graph:     stores.Graph,
	}
	mux := http.NewServeMux()
	srv.Register(mux)
	return httptest.NewServer(mux), srv
}

func waitTerminal(t *testing.T, s *Server, processID string) qsrmodel.ProgressRecord {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		rec, ok := s.Ingest.Status(processID)
		if ok && rec.Terminal {
			return rec
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("process %s never reached a terminal state", processID)
	return qsrmodel.ProgressRecord{}
}

func uploadFile(t *testing.T, ts *httptest.Server, filename string, content []byte) uploadResponse {
	t.Helper()
	var body bytes.Buffer
	w := multipart.NewWriter(&body)
	part, err := w.CreateFormFile("file", filename)
	if err != nil {
		t.Fatalf("create form file: %v", err)
	}
	if _, err := part.Write(content); err != nil {
		t.Fatalf("write form file: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("close writer: %v", err)
	}
	resp, err := http.Post(ts.URL+"/upload", w.FormDataContentType(), &body)
	if err != nil {
		t.Fatalf("post upload: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("upload status = %d", resp.StatusCode)
	}
	var out uploadResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode upload response: %v", err)
	}
	return out
}

func TestUploadProgressAndDocumentLifecycle(t *testing.T) {
	t.Parallel()
	ts, srv := newTestServer(t)
	defer ts.Close()

	text := "Fryer FRY-300 Cleaning Guide\n\nStep 1: Drain the oil.\nStep 2: Scrub the basket.\nWARNING: Let it cool first.\n"
	up := uploadFile(t, ts, "fryer_cleaning.txt", []byte(text))
	if !up.OK {
		t.Fatalf("expected upload accepted, got message %q", up.Message)
	}

	rec := waitTerminal(t, srv, up.ProcessID)
	if rec.Stage != qsrmodel.StageVerified {
		t.Fatalf("expected verified, got %s (%s)", rec.Stage, rec.Message)
	}

	progResp, err := http.Get(ts.URL + "/progress/" + up.ProcessID)
	if err != nil {
		t.Fatalf("get progress: %v", err)
	}
	defer progResp.Body.Close()
	if progResp.StatusCode != http.StatusOK {
		t.Fatalf("progress status = %d", progResp.StatusCode)
	}

	listResp, err := http.Get(ts.URL + "/documents")
	if err != nil {
		t.Fatalf("list documents: %v", err)
	}
	defer listResp.Body.Close()
	var docs []documentSummary
	if err := json.NewDecoder(listResp.Body).Decode(&docs); err != nil {
		t.Fatalf("decode documents: %v", err)
	}
	if len(docs) != 1 || docs[0].ID != up.DocumentID {
		t.Fatalf("expected one document %s, got %+v", up.DocumentID, docs)
	}

	detailResp, err := http.Get(ts.URL + "/documents/" + up.DocumentID)
	if err != nil {
		t.Fatalf("get document: %v", err)
	}
	defer detailResp.Body.Close()
	if detailResp.StatusCode != http.StatusOK {
		t.Fatalf("document detail status = %d", detailResp.StatusCode)
	}
	var detail documentDetail
	if err := json.NewDecoder(detailResp.Body).Decode(&detail); err != nil {
		t.Fatalf("decode document detail: %v", err)
	}
	if len(detail.TextPreview) > textPreviewLimit {
		t.Fatalf("text_preview exceeds limit: %d runes", len(detail.TextPreview))
	}

	missingResp, err := http.Get(ts.URL + "/documents/does-not-exist")
	if err != nil {
		t.Fatalf("get missing document: %v", err)
	}
	defer missingResp.Body.Close()
	if missingResp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404 for missing document, got %d", missingResp.StatusCode)
	}

	req, _ := http.NewRequest(http.MethodDelete, ts.URL+"/documents/"+up.DocumentID, nil)
	delResp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("delete document: %v", err)
	}
	defer delResp.Body.Close()
	if delResp.StatusCode != http.StatusOK {
		t.Fatalf("delete status = %d", delResp.StatusCode)
	}
	var delOut deleteResponse
	if err := json.NewDecoder(delResp.Body).Decode(&delOut); err != nil {
		t.Fatalf("decode delete response: %v", err)
	}
	if !delOut.OK {
		t.Fatalf("expected delete ok=true, got %+v", delOut)
	}
}

func TestUploadRejectionReturns200WithOKFalse(t *testing.T) {
	t.Parallel()
	ts, _ := newTestServer(t)
	defer ts.Close()

	up := uploadFile(t, ts, "..passwd.txt", []byte("whatever"))
	if up.OK {
		t.Fatalf("expected path-unsafe upload to be rejected")
	}
	if up.Message == "" {
		t.Fatalf("expected a rejection message")
	}
}

func TestQueryWithNoMatchesReturnsEmptyResponse(t *testing.T) {
	t.Parallel()
	ts, _ := newTestServer(t)
	defer ts.Close()

	body, _ := json.Marshal(queryRequest{Text: "zzz nonexistent gibberish"})
	resp, err := http.Post(ts.URL+"/query", "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("post query: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("query status = %d", resp.StatusCode)
	}
	var out retrieve.Response
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode query response: %v", err)
	}
	if out.Confidence != 0 {
		t.Fatalf("expected zero confidence for no matches, got %f", out.Confidence)
	}
}

func TestGetCitationUnknownReturns404(t *testing.T) {
	t.Parallel()
	ts, _ := newTestServer(t)
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/citations/unknown-id")
	if err != nil {
		t.Fatalf("get citation: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", resp.StatusCode)
	}
	_, _ = io.ReadAll(resp.Body)
}
