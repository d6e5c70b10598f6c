package httpapi

import (
	"errors"
	"net/http"

	"qsrcore/internal/citations"
	"qsrcore/internal/qsrerr"
)

// handleGetCitation serves GET /citations/{citation_id}: PNG bytes for a
// previously indexed visual citation, or 404 if citation_id is unknown.
func (s *Server) handleGetCitation(w http.ResponseWriter, r *http.Request) {
	citationID := r.PathValue("citation_id")
	data, err := s.Citations.GetContent(r.Context(), citationID)
	if err != nil {
		if errors.Is(err, citations.ErrNotFound) {
			writeErr(w, qsrerr.New(qsrerr.NotFound, "unknown citation_id"))
			return
		}
		writeErr(w, qsrerr.Wrap(qsrerr.UpstreamUnavailable, "citation render failed", err))
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}
