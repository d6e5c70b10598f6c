package retrieve

import (
	"regexp"
	"strings"
)

// maxKeyTerms caps the key-term list at 10, per spec §4.6 step 2.
const maxKeyTerms = 10

// minKeyTermLength drops tokens shorter than 3 characters.
const minKeyTermLength = 3

var stopWords = map[string]bool{
	"the": true, "a": true, "an": true, "and": true, "or": true, "but": true,
	"is": true, "are": true, "was": true, "were": true, "be": true, "been": true,
	"to": true, "of": true, "in": true, "on": true, "for": true, "with": true,
	"how": true, "do": true, "does": true, "i": true, "my": true, "it": true,
	"this": true, "that": true, "what": true, "when": true, "where": true,
	"can": true, "you": true, "me": true, "at": true, "by": true, "from": true,
}

var wordRE = regexp.MustCompile(`[A-Za-z0-9]+`)

// KeyTerms extracts up to maxKeyTerms lowercased words from query after
// removing the stop-word set and tokens shorter than minKeyTermLength.
func KeyTerms(query string) []string {
	words := wordRE.FindAllString(strings.ToLower(query), -1)
	out := make([]string, 0, maxKeyTerms)
	for _, w := range words {
		if len(w) < minKeyTermLength || stopWords[w] {
			continue
		}
		out = append(out, w)
		if len(out) == maxKeyTerms {
			break
		}
	}
	return out
}
