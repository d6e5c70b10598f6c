package ingestpipe

import (
	"bytes"
	"context"
	"io"
	"unicode/utf8"

	"qsrcore/internal/extract"
)

// bytesReader adapts a []byte into an io.Reader for objectstore.Put.
func bytesReader(data []byte) io.Reader {
	return bytes.NewReader(data)
}

// plainTextExtractor treats upload bytes as a single page of UTF-8 text.
// It is exact for the text/markdown category and serves as the
// degraded-mode fallback for every other category when no richer
// TextExtractor (backed by a PDF/Office library outside this module's
// scope) is wired.
type plainTextExtractor struct{}

func (plainTextExtractor) Extract(_ context.Context, _ string, data []byte) ([]extract.PageText, error) {
	if !utf8.Valid(data) {
		return nil, nil
	}
	return []extract.PageText{{Page: 1, Text: string(data)}}, nil
}
