package eventlog

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/andywolf/agentfleet/internal/domain"
)

func TestAppendAndRead(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "events.jsonl")

	log, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	for i := 0; i < 3; i++ {
		e := domain.Event{
			ID:        string(rune('a' + i)),
			Type:      domain.EventItemCreated,
			Timestamp: time.Now(),
			ItemID:    "ITEM-1",
		}
		if err := log.Append(e); err != nil {
			t.Fatalf("Append: %v", err)
		}
	}

	events, err := Read(path)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if len(events) != 3 {
		t.Fatalf("got %d events, want 3", len(events))
	}
	for i, e := range events {
		if e.Seq() != int64(i+1) {
			t.Errorf("event %d Seq = %d, want %d", i, e.Seq(), i+1)
		}
	}
}

func TestReadMissingFile(t *testing.T) {
	events, err := Read(filepath.Join(t.TempDir(), "missing.jsonl"))
	if err != nil {
		t.Fatalf("Read missing file should not error: %v", err)
	}
	if events != nil {
		t.Errorf("expected nil events, got %v", events)
	}
}

func TestReadDiscardsPartialLastLine(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "events.jsonl")

	log, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := log.Append(domain.Event{ID: "a", Type: domain.EventItemCreated, ItemID: "ITEM-1"}); err != nil {
		t.Fatalf("Append: %v", err)
	}

	// Simulate a crash mid-write: append a truncated JSON fragment with no
	// trailing newline.
	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		t.Fatalf("open for truncated append: %v", err)
	}
	if _, err := f.WriteString(`{"id":"b","type":"item_cr`); err != nil {
		t.Fatalf("write truncated line: %v", err)
	}
	f.Close()

	events, err := Read(path)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("got %d events, want 1 (partial line discarded)", len(events))
	}
}
