// Package progress implements spec §4.7: an in-memory, process-local map
// from process_id to ProgressRecord, single-writer/many-reader, with bounded
// retention — records are LRU-evicted once terminal and older than the
// retention window, or once the store exceeds its soft capacity.
package progress

import (
	"container/list"
	"sync"
	"time"

	"qsrcore/internal/qsrerr"
	"qsrcore/internal/qsrmodel"
)

const (
	defaultMaxRecords     = 10000
	defaultTerminalWindow = time.Hour
)

type entry struct {
	record     qsrmodel.ProgressRecord
	terminalAt time.Time
	elem       *list.Element
}

// Store is the sole writer's handle to the progress table; any number of
// goroutines may call Get concurrently with a writer's Create/Update.
type Store struct {
	mu             sync.RWMutex
	records        map[string]*entry
	lru            *list.List // front = least recently touched
	maxRecords     int
	terminalWindow time.Duration
}

// New constructs a Store. maxRecords <= 0 uses the spec default of 10,000;
// terminalWindow <= 0 uses the spec default of 1 hour.
func New(maxRecords int, terminalWindow time.Duration) *Store {
	if maxRecords <= 0 {
		maxRecords = defaultMaxRecords
	}
	if terminalWindow <= 0 {
		terminalWindow = defaultTerminalWindow
	}
	return &Store{
		records:        make(map[string]*entry),
		lru:            list.New(),
		maxRecords:     maxRecords,
		terminalWindow: terminalWindow,
	}
}

// Create writes the initial ProgressRecord for a process_id (stage uploaded,
// percent 10). Calling Create twice for the same process_id is rejected —
// progress records are created once, then advanced via Update.
func (s *Store) Create(rec qsrmodel.ProgressRecord) error {
	if err := rec.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.records[rec.ProcessID]; exists {
		return qsrerr.New(qsrerr.ConflictingWrite, "progress record already exists for process_id "+rec.ProcessID)
	}
	s.insertLocked(rec)
	s.evictOverCapLocked()
	return nil
}

// Update atomically replaces the stage/percent/message triple for an
// existing process_id, enforcing the monotonic-percent invariant (P2) and
// immutability once terminal.
func (s *Store) Update(rec qsrmodel.ProgressRecord) error {
	if err := rec.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.records[rec.ProcessID]
	if !ok {
		return qsrerr.New(qsrerr.NotFound, "no progress record for process_id "+rec.ProcessID)
	}
	if !rec.AdvancesFrom(e.record) {
		return qsrerr.New(qsrerr.ConflictingWrite, "progress update does not advance process_id "+rec.ProcessID)
	}
	e.record = rec
	if rec.Terminal {
		e.terminalAt = time.Now()
	}
	s.lru.MoveToBack(e.elem)
	return nil
}

// Get returns a coherent snapshot of the current record for process_id, or
// !ok if unknown (including evicted). Readers never observe a torn record.
func (s *Store) Get(processID string) (qsrmodel.ProgressRecord, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.records[processID]
	if !ok {
		return qsrmodel.ProgressRecord{}, false
	}
	return e.record, true
}

// Sweep evicts every terminal record older than the retention window. The
// same sweep also runs whenever Create pushes the store past its soft
// capacity, before any LRU eviction.
func (s *Store) Sweep() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sweepLocked(time.Now())
}

func (s *Store) sweepLocked(now time.Time) int {
	evicted := 0
	for id, e := range s.records {
		if e.record.Terminal && now.Sub(e.terminalAt) >= s.terminalWindow {
			s.lru.Remove(e.elem)
			delete(s.records, id)
			evicted++
		}
	}
	return evicted
}

// evictOverCapLocked drops the oldest terminal records (LRU order) once the
// store exceeds maxRecords, never evicting an in-flight (non-terminal)
// record.
func (s *Store) evictOverCapLocked() {
	if len(s.records) <= s.maxRecords {
		return
	}
	s.sweepLocked(time.Now())
	for elem := s.lru.Front(); elem != nil && len(s.records) > s.maxRecords; {
		next := elem.Next()
		id := elem.Value.(string)
		if e, ok := s.records[id]; ok && e.record.Terminal {
			s.lru.Remove(elem)
			delete(s.records, id)
		}
		elem = next
	}
}

func (s *Store) insertLocked(rec qsrmodel.ProgressRecord) {
	elem := s.lru.PushBack(rec.ProcessID)
	s.records[rec.ProcessID] = &entry{record: rec, elem: elem}
}
