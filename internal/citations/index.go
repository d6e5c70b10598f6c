package citations

import (
	"context"
	"fmt"

	"qsrcore/internal/persistence/databases"
	"qsrcore/internal/qsrmodel"
)

// IndexDocument walks every page of the document via PageRenderer.Enumerate
// and caches the resulting VisualCitation nodes in the graph, linked to the
// Document node by HAS_CITATION. Already-indexed documents are safe to
// re-index: citation_id is deterministic, so UpsertNode just overwrites the
// same node.
func (idx *Index) IndexDocument(ctx context.Context, doc qsrmodel.Document) ([]qsrmodel.VisualCitation, error) {
	if idx.Renderer == nil {
		return nil, nil
	}
	artifacts, err := idx.Renderer.Enumerate(ctx, doc.ID, doc.BlobPath)
	if err != nil {
		return nil, fmt.Errorf("citations: enumerate %s: %w", doc.ID, err)
	}

	out := make([]qsrmodel.VisualCitation, 0, len(artifacts))
	for _, a := range artifacts {
		vc := qsrmodel.VisualCitation{
			CitationID: CitationID(doc.ID, a.Page, a.RefText),
			Type:       a.Type,
			DocumentID: doc.ID,
			Page:       a.Page,
			RefText:    a.RefText,
			BBox:       a.BBox,
			XRef:       a.XRef,
		}
		if err := vc.Validate(); err != nil {
			continue
		}
		if idx.Graph != nil {
			if err := idx.upsertNode(ctx, vc); err != nil {
				return out, err
			}
		}
		out = append(out, vc)
	}
	return out, nil
}

// DeleteDocument removes every VisualCitation node and HAS_CITATION edge
// recorded for documentID. Cache entries are left in place: they are keyed
// by citation_id and harmless to leak until the backing object store's own
// retention policy reclaims them.
func (idx *Index) DeleteDocument(ctx context.Context, documentID string) error {
	if idx.Graph == nil {
		return nil
	}
	cites, err := idx.Lookup(ctx, []string{documentID})
	if err != nil {
		return fmt.Errorf("citations: lookup %s: %w", documentID, err)
	}
	for _, vc := range cites {
		if err := idx.Graph.DeleteEdge(ctx, documentID, relHasCitation, vc.CitationID); err != nil {
			return err
		}
		if err := idx.Graph.DeleteNode(ctx, vc.CitationID); err != nil {
			return err
		}
	}
	return nil
}

func (idx *Index) upsertNode(ctx context.Context, vc qsrmodel.VisualCitation) error {
	props := map[string]any{
		"citation_type": string(vc.Type),
		"document_id":   vc.DocumentID,
		"page":          vc.Page,
		"reference_text": vc.RefText,
		"xref":          vc.XRef,
	}
	if vc.BBox != nil {
		props["bbox"] = [4]float64{vc.BBox.X0, vc.BBox.Y0, vc.BBox.X1, vc.BBox.Y1}
	}
	if err := idx.Graph.UpsertNode(ctx, vc.CitationID, []string{labelCitation}, props); err != nil {
		return err
	}
	return idx.Graph.UpsertEdge(ctx, vc.DocumentID, relHasCitation, vc.CitationID, map[string]any{"page": vc.Page})
}

// Lookup returns every VisualCitation recorded for the given documents,
// reconstructed from the graph's VisualCitation nodes.
func (idx *Index) Lookup(ctx context.Context, documentIDs []string) ([]qsrmodel.VisualCitation, error) {
	if idx.Graph == nil {
		return nil, nil
	}
	wanted := make(map[string]bool, len(documentIDs))
	for _, d := range documentIDs {
		wanted[d] = true
	}
	nodes, err := idx.Graph.ListNodesByLabel(ctx, labelCitation)
	if err != nil {
		return nil, err
	}
	var out []qsrmodel.VisualCitation
	for _, n := range nodes {
		docID, _ := n.Props["document_id"].(string)
		if !wanted[docID] {
			continue
		}
		out = append(out, nodeToCitation(n))
	}
	return out, nil
}

func nodeToCitation(n databases.Node) qsrmodel.VisualCitation {
	vc := qsrmodel.VisualCitation{
		CitationID: n.ID,
		Type:       qsrmodel.CitationType(asString(n.Props["citation_type"])),
		DocumentID: asString(n.Props["document_id"]),
		Page:       asInt(n.Props["page"]),
		RefText:    asString(n.Props["reference_text"]),
		XRef:       asString(n.Props["xref"]),
	}
	if bbox, ok := n.Props["bbox"].([4]float64); ok {
		vc.BBox = &qsrmodel.BoundingBox{X0: bbox[0], Y0: bbox[1], X1: bbox[2], Y1: bbox[3]}
	}
	return vc
}

func asString(v any) string {
	s, _ := v.(string)
	return s
}

func asInt(v any) int {
	switch t := v.(type) {
	case int:
		return t
	case float64:
		return int(t)
	default:
		return 0
	}
}
