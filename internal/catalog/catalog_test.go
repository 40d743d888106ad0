package catalog

import (
	"path/filepath"
	"testing"
)

func TestOpenMissingFileYieldsEmptyCatalog(t *testing.T) {
	path := filepath.Join(t.TempDir(), "repositories.yaml")
	c, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if got := c.List(); len(got) != 0 {
		t.Fatalf("List() = %v, want empty", got)
	}
}

func TestRecordAppendsNewEntry(t *testing.T) {
	c, err := Open(filepath.Join(t.TempDir(), "repositories.yaml"))
	if err != nil {
		t.Fatal(err)
	}
	c.Record("api", "https://github.com/acme/api.git", "", "item-1")

	entries := c.List()
	if len(entries) != 1 {
		t.Fatalf("List() has %d entries, want 1", len(entries))
	}
	if entries[0].Name != "api" || entries[0].ItemIDs[0] != "item-1" {
		t.Errorf("entry = %+v, unexpected", entries[0])
	}
}

func TestRecordDedupesByURLAndAppendsItemID(t *testing.T) {
	c, err := Open(filepath.Join(t.TempDir(), "repositories.yaml"))
	if err != nil {
		t.Fatal(err)
	}
	c.Record("api", "https://github.com/acme/api.git", "", "item-1")
	c.Record("api", "https://github.com/acme/api.git", "", "item-2")

	entries := c.List()
	if len(entries) != 1 {
		t.Fatalf("List() has %d entries, want 1 (deduplicated)", len(entries))
	}
	if len(entries[0].ItemIDs) != 2 {
		t.Fatalf("ItemIDs = %v, want 2 entries", entries[0].ItemIDs)
	}
}

func TestRecordDoesNotDuplicateSameItemID(t *testing.T) {
	c, err := Open(filepath.Join(t.TempDir(), "repositories.yaml"))
	if err != nil {
		t.Fatal(err)
	}
	c.Record("api", "https://github.com/acme/api.git", "", "item-1")
	c.Record("api", "https://github.com/acme/api.git", "", "item-1")

	entries := c.List()
	if len(entries[0].ItemIDs) != 1 {
		t.Fatalf("ItemIDs = %v, want exactly one item-1", entries[0].ItemIDs)
	}
}

func TestRecordDistinguishesLocalFromRemoteByKey(t *testing.T) {
	c, err := Open(filepath.Join(t.TempDir(), "repositories.yaml"))
	if err != nil {
		t.Fatal(err)
	}
	c.Record("api", "", "/home/dev/api", "item-1")
	c.Record("api", "https://github.com/acme/api.git", "", "item-2")

	entries := c.List()
	if len(entries) != 2 {
		t.Fatalf("List() has %d entries, want 2 distinct (local vs remote)", len(entries))
	}
}

func TestSaveAndReopenRoundTrips(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "repositories.yaml")
	c, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	c.Record("api", "https://github.com/acme/api.git", "", "item-1")
	if err := c.Save(); err != nil {
		t.Fatalf("Save: %v", err)
	}

	reopened, err := Open(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	entries := reopened.List()
	if len(entries) != 1 || entries[0].Name != "api" {
		t.Fatalf("reopened entries = %+v, want one api entry", entries)
	}
}

func TestListOrdersByMostRecentlyUsedFirst(t *testing.T) {
	c, err := Open(filepath.Join(t.TempDir(), "repositories.yaml"))
	if err != nil {
		t.Fatal(err)
	}
	c.Record("older", "https://github.com/acme/older.git", "", "item-1")
	c.Record("newer", "https://github.com/acme/newer.git", "", "item-1")
	// Re-touch "older" so it becomes the most recently used.
	c.Record("older", "https://github.com/acme/older.git", "", "item-2")

	entries := c.List()
	if len(entries) != 2 {
		t.Fatalf("List() has %d entries, want 2", len(entries))
	}
	if entries[0].Name != "older" {
		t.Errorf("List()[0] = %q, want %q (most recently touched)", entries[0].Name, "older")
	}
}
