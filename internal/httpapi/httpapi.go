// Package httpapi wires spec §6's seven logical operations onto a plain
// net/http.ServeMux, mirroring the teacher's webui package: no framework,
// just handler funcs registered against explicit routes.
package httpapi

import (
	"encoding/json"
	"net/http"

	"github.com/rs/zerolog/log"

	"qsrcore/internal/citations"
	"qsrcore/internal/ingestpipe"
	"qsrcore/internal/persistence/databases"
	"qsrcore/internal/qsrerr"
	"qsrcore/internal/retrieve"
	"qsrcore/internal/tts"
)

// Server holds every collaborator a handler needs. All fields are read-only
// after Register; handlers reach into them concurrently.
type Server struct {
	Ingest    *ingestpipe.Orchestrator
	Retriever *retrieve.Retriever
	Citations *citations.Index
	Graph     databases.GraphDB
	// Speech synthesizes the spoken narration for spec §4.6 step 8 when a
	// query requests it. Nil when tts is not configured; handleQuery falls
	// back to text-only responses in that case.
	Speech tts.Shaper
}

// Register mounts every spec §6 operation onto mux.
func (s *Server) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /upload", s.handleUpload)
	mux.HandleFunc("GET /progress/{process_id}", s.handleProgress)
	mux.HandleFunc("GET /documents", s.handleListDocuments)
	mux.HandleFunc("GET /documents/{id}", s.handleGetDocument)
	mux.HandleFunc("DELETE /documents/{id}", s.handleDeleteDocument)
	mux.HandleFunc("POST /query", s.handleQuery)
	mux.HandleFunc("GET /citations/{citation_id}", s.handleGetCitation)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeErr(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch qsrerr.KindOf(err) {
	case qsrerr.ValidationRejected, qsrerr.ContentMalformed, qsrerr.SecurityViolation:
		status = http.StatusBadRequest
	case qsrerr.NotFound:
		status = http.StatusNotFound
	case qsrerr.ConflictingWrite:
		status = http.StatusConflict
	case qsrerr.DeadlineExceeded:
		status = http.StatusGatewayTimeout
	case qsrerr.UpstreamUnavailable:
		status = http.StatusBadGateway
	}
	log.Error().Err(err).Msg("http request failed")
	writeJSON(w, status, map[string]string{"ok": "false", "message": err.Error()})
}
