package httpapi

import (
	"net/http"
	"time"

	"qsrcore/internal/qsrerr"
	"qsrcore/internal/qsrmodel"
	"qsrcore/internal/retrieve"
)

// documentSummary is the list-view shape spec §6's GET documents() returns.
type documentSummary struct {
	ID       string `json:"id"`
	Filename string `json:"filename"`
	UploadTS string `json:"upload_ts"`
	Size     int64  `json:"size"`
	Pages    int    `json:"pages"`
	URL      string `json:"url"`
	FileType string `json:"file_type"`
}

func toSummary(d qsrmodel.Document) documentSummary {
	return documentSummary{
		ID:       d.ID,
		Filename: d.Filename,
		UploadTS: d.UploadedAt.Format(time.RFC3339Nano),
		Size:     d.SizeBytes,
		Pages:    d.PageCount,
		URL:      "/documents/" + d.ID,
		FileType: d.FileType,
	}
}

// handleListDocuments serves GET /documents: every document, newest-first.
func (s *Server) handleListDocuments(w http.ResponseWriter, r *http.Request) {
	docs, err := retrieve.ListDocuments(r.Context(), s.Graph)
	if err != nil {
		writeErr(w, err)
		return
	}
	out := make([]documentSummary, 0, len(docs))
	for _, d := range docs {
		out = append(out, toSummary(d))
	}
	writeJSON(w, http.StatusOK, out)
}

// documentDetail is the GET /documents/{id} shape: the summary fields plus a
// truncated text_preview, per spec §6.
type documentDetail struct {
	documentSummary
	TextPreview  string               `json:"text_preview"`
	QSRCategory  qsrmodel.QSRCategory `json:"qsr_category"`
	DocumentType qsrmodel.DocumentType `json:"document_type"`
}

const textPreviewLimit = 200

// handleGetDocument serves GET /documents/{id}: document detail, or 404 if
// id names no known document.
func (s *Server) handleGetDocument(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	docs := retrieve.FetchDocuments(r.Context(), s.Graph, []string{id})
	if len(docs) == 0 {
		writeErr(w, qsrerr.New(qsrerr.NotFound, "unknown document id"))
		return
	}
	d := docs[0]
	writeJSON(w, http.StatusOK, documentDetail{
		documentSummary: toSummary(d),
		TextPreview:     d.TextPreview(textPreviewLimit),
		QSRCategory:     d.QSRCategory,
		DocumentType:    d.DocumentType,
	})
}

type deleteResponse struct {
	OK      bool   `json:"ok"`
	Message string `json:"message"`
}

// handleDeleteDocument serves DELETE /documents/{id}: cascading delete of
// the document, its chunks, its citations, and provenance-only entities,
// per spec §4.4.
func (s *Server) handleDeleteDocument(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := s.Ingest.Delete(r.Context(), id); err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, deleteResponse{OK: true, Message: "deleted"})
}
