package contextstore

import "testing"

func TestSnapshotSaveAndGet(t *testing.T) {
	s := NewSnapshotStore(-1, -1)
	ctx := map[string]any{"x": "1"}
	if err := s.Save("/main/a", ctx); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	got, ok := s.Get("/main/a")
	if !ok {
		t.Fatalf("expected snapshot present")
	}
	if got["x"] != "1" {
		t.Fatalf("unexpected snapshot content: %v", got)
	}
	// mutating the returned copy must not affect the stored entry.
	got["x"] = "mutated"
	got2, _ := s.Get("/main/a")
	if got2["x"] != "1" {
		t.Fatalf("snapshot store leaked mutation from caller copy")
	}
}

func TestSnapshotEvictionFIFO(t *testing.T) {
	s := NewSnapshotStore(2, -1)
	s.Save("/main/a", map[string]any{"x": "1"})
	s.Save("/main/b", map[string]any{"x": "2"})
	s.Save("/main/c", map[string]any{"x": "3"})

	if _, ok := s.Get("/main/a"); ok {
		t.Fatalf("expected oldest snapshot evicted")
	}
	if _, ok := s.Get("/main/b"); !ok {
		t.Fatalf("expected second snapshot retained")
	}
	if _, ok := s.Get("/main/c"); !ok {
		t.Fatalf("expected newest snapshot retained")
	}
}

func TestSnapshotMissingReturnsFalse(t *testing.T) {
	s := NewSnapshotStore(-1, -1)
	if _, ok := s.Get("/main/nope"); ok {
		t.Fatalf("expected no snapshot for unknown key")
	}
}
