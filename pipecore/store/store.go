// Package store provides the shared state store for one pipeline run.
//
// The store is the single channel through which stage outputs become later
// stages' inputs. Keys are write-once: iteration-scoped artifacts embed their
// iteration number in the key (resume_candidate_3), so the write-once rule is
// uniform across the whole keyspace. Values are JSON-like (string,
// map[string]any, []any) and are deep-copied on both insert and read, so a
// value that passed validation can never be mutated in place afterwards.
//
// Inserts are per-key atomic rather than guarded by a store-wide lock, so
// fan-out stages writing disjoint keys never block each other. One store
// belongs to exactly one run; concurrent runs hold independent stores.
package store

import (
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// WriteRecord is one entry in the store's audit trail. Every successful
// write appends exactly one record.
type WriteRecord struct {
	Key       string    `json:"key"`
	Owner     string    `json:"owner,omitempty"`
	Iteration int       `json:"iteration,omitempty"`
	At        time.Time `json:"at"`
}

// Snapshot is a deep-copied, serializable view of a store, taken for
// archival or inspection after a run finishes.
type Snapshot struct {
	RunID     string         `json:"run_id"`
	CreatedAt time.Time      `json:"created_at"`
	TakenAt   time.Time      `json:"taken_at"`
	Values    map[string]any `json:"values"`
	History   []WriteRecord  `json:"history"`
}

// Store holds all intermediate and final artifacts of one run.
type Store struct {
	runID     string
	createdAt time.Time

	entries sync.Map // key string -> value any

	historyMu sync.Mutex
	history   []WriteRecord
}

// NewRunID generates a fresh run identifier, "run_" plus 16 hex characters.
func NewRunID() string {
	return "run_" + strings.ReplaceAll(uuid.New().String(), "-", "")[:16]
}

// New creates an empty store for a fresh run.
func New() *Store {
	return NewWithID(NewRunID())
}

// NewWithID creates an empty store bound to an existing run ID.
func NewWithID(runID string) *Store {
	return &Store{
		runID:     runID,
		createdAt: time.Now().UTC(),
	}
}

// RunID returns the ID of the run this store belongs to.
func (s *Store) RunID() string {
	return s.runID
}

// =============================================================================
// Core operations
// =============================================================================

// Set writes value under key. It fails with *DuplicateKeyError if the key is
// already populated. The value is deep-copied before insertion so the caller
// keeps no handle into stored state.
func (s *Store) Set(key string, value any) error {
	return s.insert(key, value, "", 0)
}

// Get returns a deep copy of the value under key, or *MissingKeyError if the
// key has not been written. Reads have no side effects.
func (s *Store) Get(key string) (any, error) {
	v, ok := s.entries.Load(key)
	if !ok {
		return nil, NewMissingKeyError(key)
	}
	return deepCopyValue(v), nil
}

// Has reports whether key has been written. It never fails.
func (s *Store) Has(key string) bool {
	_, ok := s.entries.Load(key)
	return ok
}

// Commit writes a stage's declared outputs all-or-nothing. Keys are
// attempted in sorted order so a conflict is reported deterministically.
// On conflict, keys inserted by this call are removed again and a
// *DuplicateKeyError naming the conflicting key is returned; keys written
// by other owners are never touched.
//
// Disjoint output ownership is validated when the plan is loaded, so a
// mid-commit conflict indicates a wiring bug and is treated as fatal by
// every caller.
func (s *Store) Commit(owner string, iteration int, outputs map[string]any) error {
	keys := make([]string, 0, len(outputs))
	for k := range outputs {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	inserted := make([]string, 0, len(keys))
	for _, k := range keys {
		copied := deepCopyValue(outputs[k])
		if _, loaded := s.entries.LoadOrStore(k, copied); loaded {
			for _, ik := range inserted {
				s.entries.Delete(ik)
			}
			return NewDuplicateKeyError(k, owner)
		}
		inserted = append(inserted, k)
	}

	now := time.Now().UTC()
	s.historyMu.Lock()
	for _, k := range inserted {
		s.history = append(s.history, WriteRecord{
			Key:       k,
			Owner:     owner,
			Iteration: iteration,
			At:        now,
		})
	}
	s.historyMu.Unlock()
	return nil
}

func (s *Store) insert(key string, value any, owner string, iteration int) error {
	copied := deepCopyValue(value)
	if _, loaded := s.entries.LoadOrStore(key, copied); loaded {
		return NewDuplicateKeyError(key, owner)
	}
	s.historyMu.Lock()
	s.history = append(s.history, WriteRecord{
		Key:       key,
		Owner:     owner,
		Iteration: iteration,
		At:        time.Now().UTC(),
	})
	s.historyMu.Unlock()
	return nil
}

// Keys returns all populated keys in sorted order.
func (s *Store) Keys() []string {
	var keys []string
	s.entries.Range(func(k, _ any) bool {
		keys = append(keys, k.(string))
		return true
	})
	sort.Strings(keys)
	return keys
}

// Len returns the number of populated keys.
func (s *Store) Len() int {
	n := 0
	s.entries.Range(func(_, _ any) bool {
		n++
		return true
	})
	return n
}

// =============================================================================
// Audit trail
// =============================================================================

// History returns a copy of the write audit trail in write order.
func (s *Store) History() []WriteRecord {
	s.historyMu.Lock()
	defer s.historyMu.Unlock()
	out := make([]WriteRecord, len(s.history))
	copy(out, s.history)
	return out
}

// =============================================================================
// Snapshot / Restore
// =============================================================================

// Snapshot returns a deep-copied view of the store suitable for archival.
func (s *Store) Snapshot() *Snapshot {
	values := make(map[string]any)
	s.entries.Range(func(k, v any) bool {
		values[k.(string)] = deepCopyValue(v)
		return true
	})
	return &Snapshot{
		RunID:     s.runID,
		CreatedAt: s.createdAt,
		TakenAt:   time.Now().UTC(),
		Values:    values,
		History:   s.History(),
	}
}

// Restore rebuilds a store from an archived snapshot. It is an inspection
// aid; restored stores are never handed back to a running pipeline.
func Restore(snap *Snapshot) *Store {
	s := NewWithID(snap.RunID)
	s.createdAt = snap.CreatedAt
	for k, v := range snap.Values {
		s.entries.Store(k, deepCopyValue(v))
	}
	s.history = make([]WriteRecord, len(snap.History))
	copy(s.history, snap.History)
	return s
}

// =============================================================================
// Deep copy helpers
// =============================================================================

func deepCopyValue(v any) any {
	switch val := v.(type) {
	case map[string]any:
		return deepCopyAnyMap(val)
	case []any:
		result := make([]any, len(val))
		for i, item := range val {
			result[i] = deepCopyValue(item)
		}
		return result
	case []string:
		return copyStringSlice(val)
	case []map[string]any:
		result := make([]map[string]any, len(val))
		for i, m := range val {
			result[i] = deepCopyAnyMap(m)
		}
		return result
	default:
		return v // Primitives are copied by value
	}
}

func deepCopyAnyMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	result := make(map[string]any, len(m))
	for k, v := range m {
		result[k] = deepCopyValue(v)
	}
	return result
}

func copyStringSlice(s []string) []string {
	if s == nil {
		return nil
	}
	result := make([]string, len(s))
	copy(result, s)
	return result
}
