// Package contextstore implements the structured-JSON context document that
// nodes mutate, per spec.md §4.1: path-scoped merge policies, render-and-merge
// for assign nodes, and a bounded FIFO snapshot store.
package contextstore

import (
	"fmt"
	"sort"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

// Strategy is one of the five context merge strategies from spec.md §4.1.
type Strategy string

const (
	ErrorOnConflict Strategy = "error_on_conflict"
	LastWriteWins   Strategy = "last_write_wins"
	DeepMerge       Strategy = "deep_merge"
	ArrayConcat     Strategy = "array_concat"
	ArrayMergeUnique Strategy = "array_merge_unique"
)

// Policy resolves a merge strategy per context path. Exact matches win,
// then the longest matching "prefix.*" glob, then Default.
type Policy struct {
	FieldPolicies  map[string]Strategy
	DefaultStrategy Strategy
}

// DefaultPolicy is error_on_conflict with no field overrides, per spec.md §4.1.
func DefaultPolicy() Policy {
	return Policy{DefaultStrategy: ErrorOnConflict}
}

// ConflictError reports a scalar/array disagreement under error_on_conflict.
type ConflictError struct {
	Path string
	Dst  any
	Src  any
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("contextstore: merge conflict at %q: %v vs %v", e.Path, e.Dst, e.Src)
}

// strategyForPath resolves exact match, then longest-prefix glob, then default.
// doublestar.Match treats "results.*" literally as a glob pattern; "*" already
// matches any suffix, giving us the "prefix.*" semantics spec.md asks for.
func strategyForPath(path string, policy Policy) Strategy {
	if s, ok := policy.FieldPolicies[path]; ok {
		return s
	}
	type candidate struct {
		pattern string
		prefix  string
		s       Strategy
	}
	var matches []candidate
	for pattern, s := range policy.FieldPolicies {
		if !strings.HasSuffix(pattern, "*") {
			continue
		}
		ok, err := doublestar.Match(pattern, path)
		if err != nil {
			continue
		}
		if ok {
			matches = append(matches, candidate{pattern: pattern, prefix: strings.TrimSuffix(pattern, "*"), s: s})
		}
	}
	if len(matches) == 0 {
		return policy.DefaultStrategy
	}
	sort.Slice(matches, func(i, j int) bool { return len(matches[i].prefix) > len(matches[j].prefix) })
	return matches[0].s
}

// Merge deep-merges src into dst according to policy, mutating a copy of dst
// and returning it. dst and src must both be JSON-object-shaped
// (map[string]any); Merge does not mutate its inputs.
func Merge(dst, src map[string]any, policy Policy) (map[string]any, error) {
	out := cloneMap(dst)
	if err := mergeInto(out, src, "", policy); err != nil {
		return nil, err
	}
	return out, nil
}

func mergeInto(target map[string]any, source map[string]any, pathPrefix string, policy Policy) error {
	keys := make([]string, 0, len(source))
	for k := range source {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		sv := source[k]
		currentPath := k
		if pathPrefix != "" {
			currentPath = pathPrefix + "." + k
		}
		tv, exists := target[k]
		if !exists {
			target[k] = deepCopyValue(sv)
			continue
		}

		tMap, tIsMap := tv.(map[string]any)
		sMap, sIsMap := sv.(map[string]any)
		if tIsMap && sIsMap {
			merged := cloneMap(tMap)
			if err := mergeInto(merged, sMap, currentPath, policy); err != nil {
				return err
			}
			target[k] = merged
			continue
		}

		strategy := strategyForPath(currentPath, policy)

		tArr, tIsArr := tv.([]any)
		sArr, sIsArr := sv.([]any)
		if tIsArr && sIsArr {
			merged, err := mergeArray(currentPath, tArr, sArr, strategy)
			if err != nil {
				return err
			}
			target[k] = merged
			continue
		}

		merged, err := mergeScalar(currentPath, tv, sv, strategy)
		if err != nil {
			return err
		}
		target[k] = merged
	}
	return nil
}

func mergeArray(path string, dst, src []any, strategy Strategy) (any, error) {
	switch strategy {
	case ArrayConcat:
		out := append(append([]any(nil), dst...), src...)
		return out, nil
	case ArrayMergeUnique:
		out := append([]any(nil), dst...)
		for _, item := range src {
			if !containsJSONEqual(out, item) {
				out = append(out, item)
			}
		}
		return out, nil
	case LastWriteWins, DeepMerge:
		// spec.md §4.1: for arrays, deep_merge means replacement, not recursion.
		return deepCopyValue(src), nil
	default: // ErrorOnConflict falls back here too ("non-array conflict falls
		// back to policy default" only applies to array_concat; any other
		// mismatch under the default strategy is a conflict).
		if jsonEqual(dst, src) {
			return dst, nil
		}
		return nil, &ConflictError{Path: path, Dst: dst, Src: src}
	}
}

func mergeScalar(path string, dst, src any, strategy Strategy) (any, error) {
	switch strategy {
	case LastWriteWins, DeepMerge:
		return deepCopyValue(src), nil
	default:
		if jsonEqual(dst, src) {
			return dst, nil
		}
		return nil, &ConflictError{Path: path, Dst: dst, Src: src}
	}
}

func containsJSONEqual(haystack []any, needle any) bool {
	for _, v := range haystack {
		if jsonEqual(v, needle) {
			return true
		}
	}
	return false
}
