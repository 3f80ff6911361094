package contextstore

import (
	"encoding/hex"
	"encoding/json"
	"sort"

	"github.com/zeebo/blake3"

	"github.com/chisuhua/AgenticDSL/internal/dsl/model"
)

// Entry is one retained snapshot: a deep copy of the context as observed at
// on_start for the node at Key, plus its canonical size and content hash.
type Entry struct {
	Key      model.NodePath
	Context  map[string]any
	SizeKB   int
	Checksum string // blake3 hex digest of the canonical encoding, for trace-replay comparison
}

// SnapshotStore is the bounded FIFO context snapshot store from spec.md §4.1:
// save_snapshot, get_snapshot, enforce_budget.
type SnapshotStore struct {
	order   []model.NodePath
	entries map[model.NodePath]*Entry
	totalKB int

	maxCount  int // -1 unbounded
	maxTotalKB int
}

// NewSnapshotStore builds a store bounded by maxCount entries (-1 for
// unbounded) and maxTotalKB aggregate size.
func NewSnapshotStore(maxCount, maxTotalKB int) *SnapshotStore {
	return &SnapshotStore{
		entries:    map[model.NodePath]*Entry{},
		maxCount:   maxCount,
		maxTotalKB: maxTotalKB,
	}
}

// estimateSizeKB canonically encodes ctx (sorted keys, via encoding/json on a
// deterministic structure) and rounds its byte length up to whole KiB.
func estimateSizeKB(ctx map[string]any) (int, string, error) {
	canon, err := canonicalJSON(ctx)
	if err != nil {
		return 0, "", err
	}
	sum := blake3.Sum256(canon)
	sizeKB := (len(canon) + 1023) / 1024
	return sizeKB, hex.EncodeToString(sum[:]), nil
}

// canonicalJSON produces a byte-stable encoding of a JSON-object-shaped value
// by recursively sorting map keys before marshaling.
func canonicalJSON(v any) ([]byte, error) {
	return json.Marshal(canonicalize(v))
}

func canonicalize(v any) any {
	switch t := v.(type) {
	case map[string]any:
		keys := make([]string, 0, len(t))
		for k := range t {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		// json.Marshal on map[string]any already sorts keys; this function
		// exists so nested values are recursively normalized first.
		out := make(map[string]any, len(t))
		for _, k := range keys {
			out[k] = canonicalize(t[k])
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, item := range t {
			out[i] = canonicalize(item)
		}
		return out
	default:
		return v
	}
}

// Save stores a deep copy of ctx under key, evicting oldest entries (FIFO)
// until both the count and size caps hold, per spec.md §4.1. If ctx cannot
// fit even after evicting everything, it is silently dropped — the run
// continues without that snapshot, matching the original's fail-open policy.
func (s *SnapshotStore) Save(key model.NodePath, ctx map[string]any) error {
	sizeKB, checksum, err := estimateSizeKB(ctx)
	if err != nil {
		return err
	}

	s.EnforceBudget(s.maxCount, s.maxTotalKB)
	for s.overBudgetAfterAdding(sizeKB) && len(s.order) > 0 {
		s.evictOldest()
	}
	if s.overBudgetAfterAdding(sizeKB) {
		return nil
	}

	if existing, ok := s.entries[key]; ok {
		s.totalKB -= existing.SizeKB
		s.removeFromOrder(key)
	}

	s.entries[key] = &Entry{Key: key, Context: cloneMap(ctx), SizeKB: sizeKB, Checksum: checksum}
	s.order = append(s.order, key)
	s.totalKB += sizeKB
	return nil
}

func (s *SnapshotStore) overBudgetAfterAdding(addKB int) bool {
	if s.maxCount >= 0 && len(s.order) >= s.maxCount {
		return true
	}
	if s.maxTotalKB >= 0 && s.totalKB+addKB > s.maxTotalKB {
		return true
	}
	return false
}

// Get returns the deep copy stored under key, or nil if absent/evicted.
func (s *SnapshotStore) Get(key model.NodePath) (map[string]any, bool) {
	e, ok := s.entries[key]
	if !ok {
		return nil, false
	}
	return cloneMap(e.Context), true
}

// Checksum returns the blake3 digest recorded for key, if present.
func (s *SnapshotStore) Checksum(key model.NodePath) (string, bool) {
	e, ok := s.entries[key]
	if !ok {
		return "", false
	}
	return e.Checksum, true
}

// EnforceBudget evicts oldest-inserted entries until both caps hold.
// Eviction is FIFO. The count cap never removes an entry while fewer than
// maxCount entries are held; the size cap can evict before that point.
func (s *SnapshotStore) EnforceBudget(maxCount, maxTotalKB int) {
	s.maxCount = maxCount
	s.maxTotalKB = maxTotalKB
	for len(s.order) > 0 && ((s.maxCount >= 0 && len(s.order) > s.maxCount) ||
		(s.maxTotalKB >= 0 && s.totalKB > s.maxTotalKB)) {
		s.evictOldest()
	}
}

func (s *SnapshotStore) evictOldest() {
	oldest := s.order[0]
	s.order = s.order[1:]
	if e, ok := s.entries[oldest]; ok {
		s.totalKB -= e.SizeKB
		delete(s.entries, oldest)
	}
}

func (s *SnapshotStore) removeFromOrder(key model.NodePath) {
	for i, k := range s.order {
		if k == key {
			s.order = append(s.order[:i], s.order[i+1:]...)
			return
		}
	}
}
