package memory

import (
	"path/filepath"
	"strings"
	"testing"
)

func TestAddAndBuildContext(t *testing.T) {
	s := NewStore(t.TempDir())
	s.Add(1, []Finding{
		{Severity: "critical", File: "main.go", Line: 10, Description: "nil deref"},
		{Severity: "minor", File: "util.go", Description: "missing doc comment"},
	})

	ctx := s.BuildContext()
	if !strings.Contains(ctx, "nil deref") || !strings.Contains(ctx, "Critical") {
		t.Errorf("got %q, missing expected finding text", ctx)
	}
	if !strings.Contains(ctx, "Minor") {
		t.Errorf("got %q, expected minor section", ctx)
	}
}

func TestBuildContextEmptyStoreReturnsEmptyString(t *testing.T) {
	s := NewStore(t.TempDir())
	if ctx := s.BuildContext(); ctx != "" {
		t.Errorf("got %q, want empty", ctx)
	}
}

func TestSaveAndLoadRoundTrips(t *testing.T) {
	dir := t.TempDir()
	s := NewStore(dir)
	s.Add(1, []Finding{{Severity: "major", File: "a.go", Description: "leaked goroutine"}})
	if err := s.Save(); err != nil {
		t.Fatalf("Save: %v", err)
	}

	reloaded := NewStore(dir)
	if err := reloaded.Load(); err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(reloaded.Findings()) != 1 {
		t.Fatalf("got %d findings, want 1", len(reloaded.Findings()))
	}
	if reloaded.Findings()[0].Description != "leaked goroutine" {
		t.Errorf("got %q, want leaked goroutine", reloaded.Findings()[0].Description)
	}
}

func TestLoadMissingFileIsNotError(t *testing.T) {
	s := NewStore(filepath.Join(t.TempDir(), "nested", "deeper"))
	if err := s.Load(); err != nil {
		t.Fatalf("Load on missing file: %v", err)
	}
}

func TestAddPrunesOldestBeyondMax(t *testing.T) {
	s := NewStore(t.TempDir())
	s.maxEntries = 2
	s.Add(1, []Finding{{Severity: "minor", Description: "one"}})
	s.Add(2, []Finding{{Severity: "minor", Description: "two"}})
	pruned := s.Add(3, []Finding{{Severity: "minor", Description: "three"}})
	if pruned != 1 {
		t.Errorf("pruned = %d, want 1", pruned)
	}
	if len(s.Findings()) != 2 {
		t.Fatalf("got %d findings, want 2", len(s.Findings()))
	}
	if s.Findings()[0].Description != "two" {
		t.Errorf("oldest remaining = %q, want two", s.Findings()[0].Description)
	}
}
