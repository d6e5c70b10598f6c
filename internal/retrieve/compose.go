package retrieve

import (
	"context"
	"regexp"
	"strings"

	"qsrcore/internal/citations"
	"qsrcore/internal/persistence/databases"
	"qsrcore/internal/qsrmodel"
)

// Severity is the closed set a safety warning is classified into.
type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityHigh     Severity = "high"
	SeverityMedium   Severity = "medium"
	SeverityLow      Severity = "low"
)

// SafetyWarning is one mined safety note with its severity.
type SafetyWarning struct {
	Text     string
	Severity Severity
}

// Response is the structured answer composed in spec §4.6 step 7.
type Response struct {
	TaskTitle         string
	Steps             []string
	SafetyWarnings    []SafetyWarning
	EquipmentNeeded   []string
	EstimatedTime     int // minutes
	MediaReferences   []qsrmodel.VisualCitation
	SourceDocuments   []string
	Confidence        float64
	ProcedureType     string
}

// EmptyResponse is returned when retrieval finds nothing, per spec §4.6's
// error-handling clause and P9: never fabricate procedure content.
func EmptyResponse() Response {
	return Response{
		TaskTitle: "No matching procedure found",
		Steps:     []string{"Contact management for assistance with this request."},
		Confidence: 0,
	}
}

var stepCueRE = regexp.MustCompile(`(?im)^\s*(?:step\s*\d+[:.)]?|\d+[.)]|first|second|third|next|then|finally)\s*[:.)]?\s*(.+)$`)

// mineSteps extracts ordered step lines from chunk text using ordinal cues:
// "step", numeric prefixes, and ordinal words.
func mineSteps(text string) []string {
	var steps []string
	for _, line := range strings.Split(text, "\n") {
		m := stepCueRE.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		s := strings.TrimSpace(m[1])
		if s != "" {
			steps = append(steps, s)
		}
	}
	return steps
}

var safetySeverityWords = []struct {
	word     string
	severity Severity
}{
	{"danger", SeverityCritical},
	{"hazard", SeverityCritical},
	{"warning", SeverityHigh},
	{"caution", SeverityMedium},
	{"safety", SeverityLow},
}

// mineSafetyWarnings extracts sentences containing warning/caution/danger/
// safety keywords, assigning each a severity by the strongest keyword hit.
func mineSafetyWarnings(text string) []SafetyWarning {
	var warnings []SafetyWarning
	for _, sentence := range splitSentences(text) {
		lower := strings.ToLower(sentence)
		var sev Severity
		for _, sw := range safetySeverityWords {
			if strings.Contains(lower, sw.word) {
				sev = sw.severity
				break
			}
		}
		if sev == "" {
			continue
		}
		warnings = append(warnings, SafetyWarning{Text: strings.TrimSpace(sentence), Severity: sev})
	}
	return warnings
}

var sentenceSplitRE = regexp.MustCompile(`(?:[.!?]+\s+|\n+)`)

func splitSentences(text string) []string {
	parts := sentenceSplitRE.Split(text, -1)
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if s := strings.TrimSpace(p); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// estimatedTime implements max(5, steps*2) * (1 + 0.2*distinct_equipment),
// rounded to 5-minute buckets.
func estimatedTime(stepCount, distinctEquipment int) int {
	base := stepCount * 2
	if base < 5 {
		base = 5
	}
	minutes := float64(base) * (1 + 0.2*float64(distinctEquipment))
	bucket := int(minutes/5+0.5) * 5
	if bucket < 5 {
		bucket = 5
	}
	return bucket
}

// procedureType derives the composed response's procedure_type from the
// query's classification.
func procedureType(class QueryClass) string {
	switch class {
	case ClassCleaningProcedure:
		return "cleaning"
	case ClassSafetyProtocol:
		return "safety"
	case ClassTroubleshooting:
		return "troubleshooting"
	case ClassEquipmentMaintenance:
		return "maintenance"
	default:
		return "general"
	}
}

// chunkText fetches full text for a chunk id, preferring the search
// backend's ByIDFetcher capability.
func chunkText(ctx context.Context, search databases.FullTextSearch, chunkID string) string {
	fetcher, ok := search.(databases.ByIDFetcher)
	if !ok {
		return ""
	}
	r, ok, err := fetcher.GetByID(ctx, chunkID)
	if err != nil || !ok {
		return ""
	}
	return r.Text
}

// Compose builds the structured Response from entity hits, chunk hits,
// documents, and any citations already resolved for the composed text.
func Compose(ctx context.Context, search databases.FullTextSearch, query string, class QueryClass, entityHits []EntityHit, chunkHits []ChunkHit, cites *citations.Index, documentIDs []string) Response {
	if len(entityHits) == 0 && len(chunkHits) == 0 {
		return EmptyResponse()
	}

	var equipment []string
	equipSeen := map[string]bool{}
	for _, h := range entityHits {
		if h.Entity.Type == qsrmodel.EntityEquipment && !equipSeen[h.Entity.CanonicalName] {
			equipSeen[h.Entity.CanonicalName] = true
			equipment = append(equipment, h.Entity.CanonicalName)
		}
	}

	var allText strings.Builder
	var steps []string
	var warnings []SafetyWarning
	for _, ch := range chunkHits {
		text := chunkText(ctx, search, ch.ChunkID)
		if text == "" {
			continue
		}
		allText.WriteString(text)
		allText.WriteString("\n")
		steps = append(steps, mineSteps(text)...)
		warnings = append(warnings, mineSafetyWarnings(text)...)
	}

	title := "How to: " + strings.TrimSpace(query)
	if len(equipment) > 0 {
		title = capitalize(procedureType(class)) + " — " + equipment[0]
	}

	var media []qsrmodel.VisualCitation
	if cites != nil {
		refs := citations.DetectReferences(allText.String())
		indexed, _ := cites.Lookup(ctx, documentIDs)
		media = citations.MatchCitations(refs, indexed)
	}

	confidence := meanScore(entityHits, chunkHits)
	if confidence > 1 {
		confidence = 1
	}
	if confidence < 0 {
		confidence = 0
	}

	return Response{
		TaskTitle:       title,
		Steps:           steps,
		SafetyWarnings:  warnings,
		EquipmentNeeded: equipment,
		EstimatedTime:   estimatedTime(len(steps), len(equipment)),
		MediaReferences: media,
		SourceDocuments: documentIDs,
		Confidence:      confidence,
		ProcedureType:   procedureType(class),
	}
}

func meanScore(entityHits []EntityHit, chunkHits []ChunkHit) float64 {
	var sum float64
	var n int
	for _, h := range entityHits {
		sum += h.Score
		n++
	}
	for _, h := range chunkHits {
		sum += h.Score
		n++
	}
	if n == 0 {
		return 0
	}
	return sum / float64(n)
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	r := []rune(s)
	r[0] = []rune(strings.ToUpper(string(r[0])))[0]
	return string(r)
}
