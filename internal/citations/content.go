package citations

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"

	"qsrcore/internal/objectstore"
)

// GetContent returns the PNG bytes for citationID, rendering and caching
// them on first request if not already cached. Returns ErrNotFound if the
// citation is not in the index, per spec §4.5: missing citations return
// NOT_FOUND rather than synthesizing content.
func (idx *Index) GetContent(ctx context.Context, citationID string) ([]byte, error) {
	if idx.Cache != nil {
		if data, ok, err := idx.Cache.Get(ctx, citationID); err != nil {
			return nil, err
		} else if ok {
			return data, nil
		}
	}
	if idx.Graph == nil {
		return nil, ErrNotFound
	}

	node, ok := idx.Graph.GetNode(ctx, citationID)
	if !ok {
		return nil, ErrNotFound
	}
	vc := nodeToCitation(node)

	if idx.Renderer == nil {
		return nil, fmt.Errorf("citations: no renderer configured for %s", citationID)
	}
	doc, ok := idx.Graph.GetNode(ctx, vc.DocumentID)
	if !ok {
		return nil, ErrNotFound
	}
	blobPath, _ := doc.Props["blob_path"].(string)
	data, err := idx.Renderer.Render(ctx, vc.DocumentID, blobPath, vc.Page, vc.BBox, vc.XRef)
	if err != nil {
		return nil, fmt.Errorf("citations: render %s: %w", citationID, err)
	}
	if idx.Cache != nil {
		if err := idx.Cache.Put(ctx, citationID, data); err != nil {
			return nil, err
		}
	}
	return data, nil
}

// ObjectStoreCache adapts an objectstore.ObjectStore into a CitationCache,
// storing each citation's bytes under "citations/<citation_id>.png".
type ObjectStoreCache struct {
	Store objectstore.ObjectStore
}

func (c ObjectStoreCache) key(citationID string) string {
	return "citations/" + citationID + ".png"
}

func (c ObjectStoreCache) Get(ctx context.Context, citationID string) ([]byte, bool, error) {
	r, _, err := c.Store.Get(ctx, c.key(citationID))
	if err != nil {
		if errors.Is(err, objectstore.ErrNotFound) {
			return nil, false, nil
		}
		return nil, false, err
	}
	defer r.Close()
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, false, err
	}
	return data, true, nil
}

func (c ObjectStoreCache) Put(ctx context.Context, citationID string, data []byte) error {
	_, err := c.Store.Put(ctx, c.key(citationID), bytes.NewReader(data), objectstore.PutOptions{ContentType: "image/png"})
	return err
}
