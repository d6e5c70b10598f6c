// Package retrieve implements spec §4.6: the hybrid retrieval pipeline that
// turns a natural-language query into a structured answer by fanning out to
// graph, vector, and document-summary retrievers and composing the results.
package retrieve

import "strings"

// QueryClass is the closed set a query is classified into before retrieval.
type QueryClass string

const (
	ClassEquipmentMaintenance QueryClass = "equipment-maintenance"
	ClassSafetyProtocol       QueryClass = "safety-protocol"
	ClassCleaningProcedure    QueryClass = "cleaning-procedure"
	ClassTroubleshooting      QueryClass = "troubleshooting"
	ClassGeneral              QueryClass = "general"
)

// classVocabulary is the closed keyword set per class. Classify picks the
// first class whose vocabulary contains a query word, in this priority
// order (safety takes precedence over maintenance, etc.) so an ambiguous
// query classifies deterministically.
var classVocabulary = []struct {
	class QueryClass
	words []string
}{
	{ClassSafetyProtocol, []string{"safety", "warning", "caution", "danger", "hazard", "lockout", "tagout", "ppe"}},
	{ClassTroubleshooting, []string{"troubleshoot", "not working", "broken", "error", "fault", "fix", "repair", "diagnose"}},
	{ClassCleaningProcedure, []string{"clean", "sanitize", "sanitiz", "wash", "descale"}},
	{ClassEquipmentMaintenance, []string{"maintenance", "service", "calibrate", "replace", "install", "maintain"}},
}

// Classify assigns a query to one of the five closed classes using a
// keyword-rule vocabulary, per spec §4.6 step 1.
func Classify(query string) QueryClass {
	lower := strings.ToLower(query)
	for _, c := range classVocabulary {
		for _, w := range c.words {
			if strings.Contains(lower, w) {
				return c.class
			}
		}
	}
	return ClassGeneral
}
