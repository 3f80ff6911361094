// Package stdlib is the standard-library index from spec.md §4.9: a
// registry of /lib/ subgraph descriptors exposed to LLM prompts under
// available_subgraphs, tagged stable or dynamic. It is grounded in the
// original StandardLibraryLoader (library_loader.cpp): built-ins registered
// in code, plus an optional directory scan for additional *.md libraries.
package stdlib

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/zeebo/blake3"

	"github.com/chisuhua/AgenticDSL/internal/dsl/markdown"
	"github.com/chisuhua/AgenticDSL/internal/dsl/model"
)

// Stability tags a library entry's change guarantees, surfaced to the LLM so
// generated subgraphs can prefer stable entries.
type Stability string

const (
	Stable  Stability = "stable"
	Dynamic Stability = "dynamic"
)

// Descriptor is one /lib/ entry's prompt-facing summary.
type Descriptor struct {
	Path         model.NodePath  `json:"path"`
	Signature    string          `json:"signature"`
	OutputSchema json.RawMessage `json:"output_schema,omitempty"`
	Permissions  []string        `json:"permissions,omitempty"`
	Stability    Stability       `json:"stability"`
	Hash         string          `json:"hash"`
}

// Index holds every known library entry, keyed by path.
type Index struct {
	entries map[model.NodePath]Descriptor
	graphs  map[model.NodePath]*model.ParsedGraph
}

// New builds an index seeded with the built-in libraries.
func New() *Index {
	idx := &Index{
		entries: map[model.NodePath]Descriptor{},
		graphs:  map[model.NodePath]*model.ParsedGraph{},
	}
	idx.loadBuiltins()
	return idx
}

// loadBuiltins registers the fixed set of always-available library
// signatures, matching load_builtin_libraries's /lib/math/add and
// /lib/reasoning/with_rollback seeds.
func (idx *Index) loadBuiltins() {
	idx.registerDescriptor(Descriptor{
		Path:         "/lib/math/add",
		Signature:    "(a: number, b: number) -> {sum: number}",
		OutputSchema: json.RawMessage(`{"type":"object","properties":{"sum":{"type":"number"}}}`),
		Stability:    Stable,
	})
	idx.registerDescriptor(Descriptor{
		Path:         "/lib/reasoning/with_rollback",
		Signature:    "(try_path: string, fallback_path: string) -> {success: boolean}",
		OutputSchema: json.RawMessage(`{"type":"object","properties":{"success":{"type":"boolean"}}}`),
		Stability:    Stable,
	})
}

func (idx *Index) registerDescriptor(d Descriptor) {
	d.Hash = hashDescriptor(d)
	idx.entries[d.Path] = d
}

func hashDescriptor(d Descriptor) string {
	h := blake3.New()
	fmt.Fprintf(h, "%s\x00%s\x00%s", d.Path, d.Signature, string(d.OutputSchema))
	return fmt.Sprintf("%x", h.Sum(nil))[:16]
}

// RegisterGraph records a parsed graph marked is_standard_library as a
// library entry tagged Dynamic; graphs without that flag are ignored. The
// engine calls it for loaded and appended graphs, and LoadDir for graphs
// found in a library directory.
func (idx *Index) RegisterGraph(g *model.ParsedGraph) {
	if g == nil || !g.IsStandardLibrary {
		return
	}
	idx.graphs[g.Path] = g
	idx.registerDescriptor(Descriptor{
		Path:         g.Path,
		Signature:    g.Signature,
		OutputSchema: g.OutputSchema,
		Permissions:  append([]string(nil), g.Permissions...),
		Stability:    Dynamic,
	})
}

// LoadDir walks dir for *.md files and registers any standard_library graphs
// found inside, mirroring load_from_directory. Parse failures are skipped,
// not fatal, matching the original's "log and continue" behavior.
func (idx *Index) LoadDir(dir string) error {
	info, err := os.Stat(dir)
	if err != nil || !info.IsDir() {
		return nil
	}
	return filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil || d.IsDir() || !strings.HasSuffix(path, ".md") {
			return nil
		}
		raw, readErr := os.ReadFile(path)
		if readErr != nil {
			return nil
		}
		graphs, parseErr := markdown.Parse(string(raw))
		if parseErr != nil {
			return nil
		}
		for _, g := range graphs {
			idx.RegisterGraph(g)
		}
		return nil
	})
}

// Get returns a registered graph body, for splicing a library call's
// implementation into the live DAG.
func (idx *Index) Get(path model.NodePath) (*model.ParsedGraph, bool) {
	g, ok := idx.graphs[path]
	return g, ok
}

// AvailableSubgraphs builds the available_subgraphs list injected into
// generate_subgraph prompts, sorted by path for determinism.
func (idx *Index) AvailableSubgraphs() []Descriptor {
	paths := make([]string, 0, len(idx.entries))
	for p := range idx.entries {
		paths = append(paths, string(p))
	}
	sort.Strings(paths)
	out := make([]Descriptor, 0, len(paths))
	for _, p := range paths {
		out = append(out, idx.entries[model.NodePath(p)])
	}
	return out
}
