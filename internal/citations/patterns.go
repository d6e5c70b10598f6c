package citations

import (
	"regexp"
	"strconv"
	"strings"

	"qsrcore/internal/qsrmodel"
)

// Reference is a mention of a visual artifact detected in composed answer
// text, before it is resolved to an indexed VisualCitation.
type Reference struct {
	Type qsrmodel.CitationType
	Page int // 0 when the reference doesn't name a page directly
	Text string
}

var referencePatterns = []struct {
	re   *regexp.Regexp
	kind qsrmodel.CitationType
}{
	{regexp.MustCompile(`(?i)\bdiagram\s+(\d+)\b`), qsrmodel.CitationDiagram},
	{regexp.MustCompile(`(?i)\bfigure\s+(\d+)\b`), qsrmodel.CitationDiagram},
	{regexp.MustCompile(`(?i)\btable\s+(\d+)\b`), qsrmodel.CitationTable},
	{regexp.MustCompile(`(?i)\bpage\s+(\d+)\b`), qsrmodel.CitationTextSection},
	{regexp.MustCompile(`(?i)\bsection\s+(\d+\.\d+)\b`), qsrmodel.CitationTextSection},
}

var safetyWordRE = regexp.MustCompile(`(?i)\b(warning|caution|danger|hazard)\b`)

// DetectReferences scans answer text for the pattern families of spec §4.5:
// diagram N, figure N, table N, page N, section N.M, temperature
// expressions, and safety words.
func DetectReferences(answer string) []Reference {
	var refs []Reference
	for _, p := range referencePatterns {
		for _, m := range p.re.FindAllStringSubmatch(answer, -1) {
			page, _ := strconv.Atoi(strings.SplitN(m[1], ".", 2)[0])
			refs = append(refs, Reference{Type: p.kind, Page: page, Text: m[0]})
		}
	}
	for _, m := range temperatureRefRE.FindAllString(answer, -1) {
		refs = append(refs, Reference{Type: qsrmodel.CitationTextSection, Text: m})
	}
	for _, m := range safetyWordRE.FindAllString(answer, -1) {
		refs = append(refs, Reference{Type: qsrmodel.CitationSafetyWarning, Text: m})
	}
	return refs
}

var temperatureRefRE = regexp.MustCompile(`(?i)(-?\d+)\s*(?:°|deg(?:rees)?)?\s*f\b`)

// MatchCitations resolves detected references against the indexed
// VisualCitations of the given documents, per reference preferring an exact
// page match, then the first citation of the same type.
func MatchCitations(refs []Reference, indexed []qsrmodel.VisualCitation) []qsrmodel.VisualCitation {
	var out []qsrmodel.VisualCitation
	seen := map[string]bool{}
	for _, ref := range refs {
		var best *qsrmodel.VisualCitation
		for i := range indexed {
			c := &indexed[i]
			if c.Type != ref.Type {
				continue
			}
			if ref.Page > 0 && c.Page == ref.Page {
				best = c
				break
			}
			if best == nil {
				best = c
			}
		}
		if best != nil && !seen[best.CitationID] {
			seen[best.CitationID] = true
			out = append(out, *best)
		}
	}
	return out
}
