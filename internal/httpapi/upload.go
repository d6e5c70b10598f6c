package httpapi

import (
	"io"
	"net/http"

	"qsrcore/internal/qsrerr"
)

const maxUploadBytes = 64 << 20 // 64MiB request body cap; per-category size policy narrows further in validate

type uploadResponse struct {
	ProcessID  string `json:"process_id"`
	DocumentID string `json:"document_id"`
	OK         bool   `json:"ok"`
	Message    string `json:"message"`
}

// handleUpload accepts a multipart/form-data upload under field "file" and
// kicks off the background ingestion pipeline. Per spec §6, a rejected
// upload still returns 200 with ok=false and a terminal process_id rather
// than an HTTP error, since the rejection itself is part of the contract.
func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		writeErr(w, qsrerr.Wrap(qsrerr.ValidationRejected, "malformed upload", err))
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		writeErr(w, qsrerr.Wrap(qsrerr.ValidationRejected, "missing file field", err))
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		writeErr(w, qsrerr.Wrap(qsrerr.ValidationRejected, "failed to read upload", err))
		return
	}

	processID, documentID, ok, err := s.Ingest.Submit(r.Context(), header.Filename, data)
	if err != nil && !ok {
		writeJSON(w, http.StatusOK, uploadResponse{ProcessID: processID, DocumentID: documentID, OK: false, Message: err.Error()})
		return
	}
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, uploadResponse{ProcessID: processID, DocumentID: documentID, OK: true, Message: "accepted"})
}
