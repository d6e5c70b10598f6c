package httpapi

import (
	"encoding/base64"
	"encoding/json"
	"net/http"

	"github.com/rs/zerolog/log"

	"qsrcore/internal/qsrerr"
	"qsrcore/internal/retrieve"
)

type queryRequest struct {
	Text       string `json:"text"`
	MaxResults int    `json:"max_results"`
	// Speech requests spoken-narration synthesis alongside the text
	// response (spec §4.6 step 8). Ignored when the server has no
	// configured tts.Shaper.
	Speech bool `json:"speech"`
}

type queryResponse struct {
	retrieve.Response
	// SpeechAudioBase64 carries synthesized narration audio when the
	// caller requested it and a Shaper is configured. Omitted otherwise.
	SpeechAudioBase64 string `json:"speech_audio_base64,omitempty"`
}

// handleQuery serves POST /query: runs the full spec §4.6 retrieval pipeline
// and returns the composed structured response.
func (s *Server) handleQuery(w http.ResponseWriter, r *http.Request) {
	var req queryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErr(w, qsrerr.Wrap(qsrerr.ValidationRejected, "malformed query body", err))
		return
	}
	if req.Text == "" {
		writeErr(w, qsrerr.New(qsrerr.ValidationRejected, "text is required"))
		return
	}

	resp, err := s.Retriever.Query(r.Context(), req.Text, req.MaxResults)
	if err != nil {
		writeErr(w, err)
		return
	}

	out := queryResponse{Response: resp}
	if req.Speech && s.Speech != nil {
		narration := retrieve.ShapeForSpeech(resp)
		audio, err := s.Speech.Synthesize(r.Context(), narration)
		if err != nil {
			log.Error().Err(err).Msg("speech synthesis failed; returning text-only response")
		} else {
			out.SpeechAudioBase64 = base64.StdEncoding.EncodeToString(audio)
		}
	}
	writeJSON(w, http.StatusOK, out)
}
