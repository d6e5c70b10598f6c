package qsrmodel

import (
	"fmt"
	"time"
)

// Stage is the closed set of ingestion pipeline stages a ProgressRecord can
// occupy, in the order §4.1 runs them.
type Stage string

const (
	StageUploaded              Stage = "uploaded"
	StageValidated              Stage = "validated"
	StageTextExtracted          Stage = "text-extracted"
	StageEntitiesExtracted      Stage = "entities-extracted"
	StageRelationshipsGenerated Stage = "relationships-generated"
	StageIndexed                Stage = "indexed"
	StageVerified               Stage = "verified"
	StageFailed                 Stage = "failed"
)

var stageOrder = map[Stage]int{
	StageUploaded: 0, StageValidated: 1, StageTextExtracted: 2,
	StageEntitiesExtracted: 3, StageRelationshipsGenerated: 4,
	StageIndexed: 5, StageVerified: 6, StageFailed: 7,
}

var validStages = map[Stage]bool{
	StageUploaded: true, StageValidated: true, StageTextExtracted: true,
	StageEntitiesExtracted: true, StageRelationshipsGenerated: true,
	StageIndexed: true, StageVerified: true, StageFailed: true,
}

// StagePercent is the fixed percent value each stage reaches on success,
// matching the background pipeline stages enumerated in §4.1.
var StagePercent = map[Stage]int{
	StageUploaded:               10,
	StageValidated:              25,
	StageTextExtracted:          40,
	StageEntitiesExtracted:      60,
	StageRelationshipsGenerated: 75,
	StageIndexed:                90,
	StageVerified:               100,
}

// ProgressRecord is the durable, process-local observable state of one
// background ingestion. Percent is monotonically non-decreasing for a given
// ProcessID; once Terminal, the record is immutable.
type ProgressRecord struct {
	ProcessID         string    `json:"process_id"`
	DocumentID        string    `json:"document_id"`
	Stage             Stage     `json:"stage"`
	Percent           int       `json:"percent"`
	Message           string    `json:"message"`
	EntitiesFound     int       `json:"entities_found"`
	RelationshipsFound int      `json:"relationships_found"`
	LastUpdate        time.Time `json:"last_update"`
	Terminal          bool      `json:"terminal"`
}

func (p ProgressRecord) Validate() error {
	if p.ProcessID == "" {
		return fmt.Errorf("progress_record: process_id is required")
	}
	if !validStages[p.Stage] {
		return fmt.Errorf("progress_record: unknown stage %q", p.Stage)
	}
	if p.Percent < 0 || p.Percent > 100 {
		return fmt.Errorf("progress_record: percent %d out of range [0,100]", p.Percent)
	}
	return nil
}

// AdvancesFrom reports whether transitioning from prev to p respects the
// monotonically non-decreasing percent invariant (P2) and never mutates a
// terminal record.
func (p ProgressRecord) AdvancesFrom(prev ProgressRecord) bool {
	if prev.Terminal {
		return false
	}
	if p.Percent < prev.Percent {
		return false
	}
	return true
}

// StageRank orders stages for comparison; failed sorts last.
func StageRank(s Stage) int { return stageOrder[s] }
