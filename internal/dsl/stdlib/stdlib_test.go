package stdlib

import "testing"

func TestBuiltinsRegistered(t *testing.T) {
	idx := New()
	list := idx.AvailableSubgraphs()
	if len(list) != 2 {
		t.Fatalf("expected 2 built-in descriptors, got %d", len(list))
	}
	if list[0].Path != "/lib/math/add" {
		t.Fatalf("expected sorted-first /lib/math/add, got %q", list[0].Path)
	}
	for _, d := range list {
		if d.Hash == "" {
			t.Fatalf("expected non-empty hash for %q", d.Path)
		}
		if d.Stability != Stable {
			t.Fatalf("expected built-ins to be stable, got %q", d.Stability)
		}
	}
}

func TestLoadDirMissingIsNoop(t *testing.T) {
	idx := New()
	if err := idx.LoadDir("/nonexistent/path/for/test"); err != nil {
		t.Fatalf("expected nil error for missing directory, got %v", err)
	}
	if len(idx.AvailableSubgraphs()) != 2 {
		t.Fatalf("expected no additional entries registered")
	}
}
