package httpapi

import (
	"net/http"

	"qsrcore/internal/qsrerr"
)

// handleProgress serves spec §6's GET progress(process_id): the current
// ProgressRecord, or 404 if process_id is unknown.
func (s *Server) handleProgress(w http.ResponseWriter, r *http.Request) {
	processID := r.PathValue("process_id")
	rec, ok := s.Ingest.Status(processID)
	if !ok {
		writeErr(w, qsrerr.New(qsrerr.NotFound, "unknown process_id"))
		return
	}
	writeJSON(w, http.StatusOK, rec)
}
