package extract

import (
	"fmt"
	"strings"

	"qsrcore/internal/qsrmodel"
	"qsrcore/internal/rag/chunker"
	"qsrcore/internal/rag/ingest"
)

// chunkTargetTokens and chunkOverlapRatio are the defaults of spec §4.3
// step 7: a 384-token target with 25% overlap between consecutive chunks.
const (
	chunkTargetTokens = 384
	chunkOverlapRatio = 0.25
)

// PageText is one page's worth of extracted document text, in reading
// order. Documents without page structure (plain text, markdown) are a
// single PageText with Page 0.
type PageText struct {
	Page int
	Text string
}

// EmitChunks splits each page's text into fixed-size, overlapping segments
// via chunker.SimpleChunker and stamps each with document id, page, and the
// character offset within that page's text, per spec §4.3 step 7.
func EmitChunks(documentID string, pages []PageText) ([]qsrmodel.Chunk, error) {
	opt := ingest.ChunkingOptions{
		Strategy:  "fixed",
		MaxTokens: chunkTargetTokens,
		Overlap:   int(chunkTargetTokens * chunkOverlapRatio),
	}
	var splitter chunker.SimpleChunker

	var out []qsrmodel.Chunk
	seq := 0
	for _, pg := range pages {
		text := strings.TrimSpace(pg.Text)
		if text == "" {
			continue
		}
		parts, err := splitter.Chunk(text, opt)
		if err != nil {
			return nil, fmt.Errorf("extract: chunking page %d: %w", pg.Page, err)
		}
		offset := 0
		for _, p := range parts {
			at := strings.Index(text[offset:], p.Text)
			start := offset
			if at >= 0 {
				start = offset + at
			}
			out = append(out, qsrmodel.Chunk{
				ID:         fmt.Sprintf("%s:chunk:%d", documentID, seq),
				DocumentID: documentID,
				Text:       p.Text,
				Page:       pg.Page,
				Offset:     start,
			})
			offset = start + len(p.Text)
			seq++
		}
	}
	return out, nil
}
