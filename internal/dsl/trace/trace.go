// Package trace implements the per-node trace recorder from spec.md §4.3:
// start/end records with status, context delta, snapshot key, and budget
// snapshot. Traces are append-only and are never dropped under pressure.
package trace

import (
	"crypto/rand"
	"sort"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/chisuhua/AgenticDSL/internal/dsl/budget"
	"github.com/chisuhua/AgenticDSL/internal/dsl/model"
)

// Status is the terminal outcome of one node execution.
type Status string

const (
	StatusSuccess Status = "success"
	StatusFailed  Status = "failed"
	StatusSkipped Status = "skipped"
)

// Record is one node's start/end trace entry, matching the wire form in
// spec.md §6.
type Record struct {
	TraceID        string          `json:"trace_id"`
	NodePath       model.NodePath  `json:"node_path"`
	Type           model.Kind      `json:"type"`
	StartTime      time.Time       `json:"start_time"`
	EndTime        time.Time       `json:"end_time"`
	Status         Status          `json:"status"`
	ErrorCode      string          `json:"error_code,omitempty"`
	ContextDelta   map[string]any  `json:"context_delta"`
	CtxSnapshotKey model.NodePath  `json:"ctx_snapshot_key,omitempty"`
	BudgetSnapshot budget.Snapshot `json:"budget_snapshot"`
	Metadata       map[string]any  `json:"metadata,omitempty"`
	Mode           string          `json:"mode"` // "main" | "fork_branch", for the wire form's disambiguation
}

// Recorder accumulates records for the full run, in pop order.
type Recorder struct {
	records []Record
	source  *ulid.MonotonicEntropy
}

// NewRecorder builds an empty recorder with a monotonic ULID source for
// trace IDs, so concurrently-started traces still sort by creation order.
func NewRecorder(seedTime time.Time) *Recorder {
	entropy := ulid.Monotonic(rand.Reader, 0)
	return &Recorder{source: entropy}
}

// NewTraceID mints a ULID-based trace identifier.
func (r *Recorder) NewTraceID() string {
	id := ulid.MustNew(ulid.Timestamp(time.Now()), r.source)
	return id.String()
}

// pending tracks an in-flight node's start state until OnEnd closes it.
type pending struct {
	traceID        string
	nodePath       model.NodePath
	kind           model.Kind
	start          time.Time
	budgetBefore   budget.Snapshot
	initialContext map[string]any
}

// Start records a node's entry and returns a handle to close it with End.
func (r *Recorder) Start(path model.NodePath, kind model.Kind, budgetBefore budget.Snapshot, initialContext map[string]any) *pending {
	return &pending{
		traceID:        r.NewTraceID(),
		nodePath:       path,
		kind:           kind,
		start:          time.Now(),
		budgetBefore:   budgetBefore,
		initialContext: initialContext,
	}
}

// End closes a pending trace, computing the context delta between the
// pre-node and post-node context and appending the finished record. The
// mode parameter records whether this execution happened on the main
// schedule or inside a fork branch.
func (r *Recorder) End(p *pending, status Status, errorCode string, finalContext map[string]any, snapshotKey model.NodePath, budgetAfter budget.Snapshot, metadata map[string]any, mode string) Record {
	rec := Record{
		TraceID:        p.traceID,
		NodePath:       p.nodePath,
		Type:           p.kind,
		StartTime:      p.start,
		EndTime:        time.Now(),
		Status:         status,
		ErrorCode:      errorCode,
		ContextDelta:   Delta(p.initialContext, finalContext),
		CtxSnapshotKey: snapshotKey,
		BudgetSnapshot: budgetAfter,
		Metadata:       metadata,
		Mode:           mode,
	}
	if rec.EndTime.Before(rec.StartTime) {
		rec.EndTime = rec.StartTime
	}
	r.records = append(r.records, rec)
	return rec
}

// Delta computes the JSON object containing every key whose value differs
// between before and after: added/changed keys present with their new
// value, removed keys set to null (nil), per spec.md §4.3.
func Delta(before, after map[string]any) map[string]any {
	delta := map[string]any{}
	for k, av := range after {
		bv, existed := before[k]
		if !existed || !valueEqual(bv, av) {
			delta[k] = av
		}
	}
	for k := range before {
		if _, stillPresent := after[k]; !stillPresent {
			delta[k] = nil
		}
	}
	return delta
}

func valueEqual(a, b any) bool {
	am, aIsMap := a.(map[string]any)
	bm, bIsMap := b.(map[string]any)
	if aIsMap && bIsMap {
		if len(am) != len(bm) {
			return false
		}
		for k, av := range am {
			bv, ok := bm[k]
			if !ok || !valueEqual(av, bv) {
				return false
			}
		}
		return true
	}
	aa, aIsArr := a.([]any)
	ba, bIsArr := b.([]any)
	if aIsArr && bIsArr {
		if len(aa) != len(ba) {
			return false
		}
		for i := range aa {
			if !valueEqual(aa[i], ba[i]) {
				return false
			}
		}
		return true
	}
	return a == b
}

// Records returns the full trace in pop order. Callers must not mutate the
// returned slice.
func (r *Recorder) Records() []Record { return r.records }

// SortByStart is a stable helper for callers (e.g. the CLI writer) who want
// traces grouped deterministically when fork branches interleave wall-clock
// order with the main schedule.
func SortByStart(records []Record) []Record {
	out := append([]Record(nil), records...)
	sort.SliceStable(out, func(i, j int) bool { return out[i].StartTime.Before(out[j].StartTime) })
	return out
}
