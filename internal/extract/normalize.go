package extract

import (
	"regexp"
	"strconv"
	"strings"

	"qsrcore/internal/qsrmodel"
)

var whitespaceRun = regexp.MustCompile(`\s+`)

// equipmentModelPattern matches a brand/model token sequence like "Taylor
// C602" or "Taylor-C602", collapsing separator variants to a single
// canonical spacing so the same physical model always dedupes to one node.
var equipmentModelPattern = regexp.MustCompile(`(?i)^([A-Za-z]+)[\s\-]*([A-Za-z]*\d[A-Za-z0-9\-]*)$`)

// temperaturePattern matches a bare or decorated Fahrenheit temperature
// (e.g. "350 degrees F", "350F", "350 °F") for normalization to "<int>°F".
var temperaturePattern = regexp.MustCompile(`(?i)(-?\d+)\s*(?:°|deg(?:rees)?)?\s*f\b`)

// Normalize applies the deterministic rewrite rules of spec §4.3 step 3:
// equipment model collapse, Title Case for procedures, temperature
// normalization, and whitespace collapse.
func Normalize(name string, entityType qsrmodel.EntityType) string {
	name = strings.TrimSpace(name)
	if name == "" {
		return name
	}
	name = whitespaceRun.ReplaceAllString(name, " ")

	switch entityType {
	case qsrmodel.EntityEquipment:
		if m := equipmentModelPattern.FindStringSubmatch(name); m != nil {
			return titleCaseWord(strings.ToLower(m[1])) + " " + strings.ToUpper(m[2])
		}
		return name
	case qsrmodel.EntityProcedure, qsrmodel.EntityStep:
		return titleCase(name)
	case qsrmodel.EntityTemperature:
		return normalizeTemperature(name)
	default:
		return name
	}
}

// titleCase upper-cases the first rune of each whitespace-separated word,
// lower-casing the rest, without depending on the deprecated strings.Title.
func titleCase(s string) string {
	words := strings.Fields(strings.ToLower(s))
	for i, w := range words {
		words[i] = titleCaseWord(w)
	}
	return strings.Join(words, " ")
}

func titleCaseWord(w string) string {
	if w == "" {
		return w
	}
	r := []rune(w)
	r[0] = []rune(strings.ToUpper(string(r[0])))[0]
	return string(r)
}

func normalizeTemperature(s string) string {
	m := temperaturePattern.FindStringSubmatch(s)
	if m == nil {
		return s
	}
	n, err := strconv.Atoi(m[1])
	if err != nil {
		return s
	}
	return strconv.Itoa(n) + "°F"
}
