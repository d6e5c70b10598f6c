package retrieve

import (
	"context"
	"sort"
	"time"

	"qsrcore/internal/persistence/databases"
	"qsrcore/internal/qsrmodel"
)

// DistinctDocuments collects the document ids referenced by a set of entity
// hits' source_document_ids, per spec §4.6 step 4.
func DistinctDocuments(hits []EntityHit) []string {
	seen := map[string]bool{}
	var out []string
	for _, h := range hits {
		for docID := range h.Entity.SourceDocumentIDs {
			if !seen[docID] {
				seen[docID] = true
				out = append(out, docID)
			}
		}
	}
	return out
}

// FetchDocuments resolves Document nodes by id from the graph, skipping any
// that no longer exist (e.g. deleted between the entity scan and this call).
func FetchDocuments(ctx context.Context, g databases.GraphDB, documentIDs []string) []qsrmodel.Document {
	if g == nil {
		return nil
	}
	var out []qsrmodel.Document
	for _, id := range documentIDs {
		n, ok := g.GetNode(ctx, id)
		if !ok {
			continue
		}
		out = append(out, documentFromNode(id, n))
	}
	return out
}

// ListDocuments returns every Document node in the graph, newest-first by
// upload timestamp, for spec §6's GET documents().
func ListDocuments(ctx context.Context, g databases.GraphDB) ([]qsrmodel.Document, error) {
	if g == nil {
		return nil, nil
	}
	nodes, err := g.ListNodesByLabel(ctx, "Document")
	if err != nil {
		return nil, err
	}
	out := make([]qsrmodel.Document, 0, len(nodes))
	for _, n := range nodes {
		out = append(out, documentFromNode(n.ID, n))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UploadedAt.After(out[j].UploadedAt) })
	return out, nil
}

func documentFromNode(id string, n databases.Node) qsrmodel.Document {
	doc := qsrmodel.Document{
		ID:               id,
		Filename:         asString(n.Props["filename"]),
		FileType:         asString(n.Props["file_type"]),
		BlobPath:         asString(n.Props["blob_path"]),
		PageCount:        asInt(n.Props["page_count"]),
		ExecutiveSummary: asString(n.Props["executive_summary"]),
		QSRCategory:      qsrmodel.QSRCategory(asString(n.Props["qsr_category"])),
		DocumentType:     qsrmodel.DocumentType(asString(n.Props["document_type"])),
		SizeBytes:        asInt64(n.Props["size_bytes"]),
	}
	if ts := asString(n.Props["upload_ts"]); ts != "" {
		if t, err := time.Parse(time.RFC3339Nano, ts); err == nil {
			doc.UploadedAt = t
		}
	}
	return doc
}

func asInt64(v any) int64 {
	switch t := v.(type) {
	case int64:
		return t
	case int:
		return int64(t)
	case float64:
		return int64(t)
	default:
		return 0
	}
}
