// Package catalog maintains the saved-repositories list at
// $DATA/repositories.yaml (spec.md §4.1): the CLI's `item create` records
// every repository it is given here (SPEC_FULL.md §8's "repositories
// catalog" supplemented feature). The CLI does not list or offer these
// entries back when creating an item. Grounded on the teacher's config file discipline
// (internal/config/config.go's Viper-backed load, applied here to a
// directly read/written YAML document since there is no env-var surface
// for catalog entries).
package catalog

import (
	"bytes"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Entry is one deduplicated repository remembered across items.
type Entry struct {
	Name       string    `yaml:"name"`
	URL        string    `yaml:"url,omitempty"`
	LocalPath  string    `yaml:"localPath,omitempty"`
	LastUsedAt time.Time `yaml:"lastUsedAt"`
	ItemIDs    []string  `yaml:"itemIds"`
}

type document struct {
	Entries []Entry `yaml:"entries"`
}

// Catalog is a YAML-file-backed, deduplicated repository list.
type Catalog struct {
	path string
	doc  document
}

// Open loads path, treating a missing file as an empty catalog.
func Open(path string) (*Catalog, error) {
	c := &Catalog{path: path}
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return c, nil
		}
		return nil, err
	}
	if err := yaml.Unmarshal(raw, &c.doc); err != nil {
		return nil, err
	}
	return c, nil
}

// key identifies a catalog entry by its URL (remote) or local path.
func key(url, localPath string) string {
	if url != "" {
		return "remote:" + url
	}
	return "local:" + localPath
}

// Record upserts an entry for (name, url, localPath) used by itemID,
// bumping its lastUsedAt and appending itemID if new.
func (c *Catalog) Record(name, url, localPath, itemID string) {
	k := key(url, localPath)
	for i := range c.doc.Entries {
		e := &c.doc.Entries[i]
		if key(e.URL, e.LocalPath) != k {
			continue
		}
		e.LastUsedAt = time.Now()
		for _, id := range e.ItemIDs {
			if id == itemID {
				return
			}
		}
		e.ItemIDs = append(e.ItemIDs, itemID)
		return
	}
	c.doc.Entries = append(c.doc.Entries, Entry{
		Name:       name,
		URL:        url,
		LocalPath:  localPath,
		LastUsedAt: time.Now(),
		ItemIDs:    []string{itemID},
	})
}

// List returns every catalog entry, most recently used first.
func (c *Catalog) List() []Entry {
	out := make([]Entry, len(c.doc.Entries))
	copy(out, c.doc.Entries)
	for i := 0; i < len(out); i++ {
		for j := i + 1; j < len(out); j++ {
			if out[j].LastUsedAt.After(out[i].LastUsedAt) {
				out[i], out[j] = out[j], out[i]
			}
		}
	}
	return out
}

// Save persists the catalog as 2-space-indented YAML (spec.md §6).
func (c *Catalog) Save() error {
	if err := os.MkdirAll(filepath.Dir(c.path), 0o755); err != nil {
		return err
	}
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(c.doc); err != nil {
		return err
	}
	_ = enc.Close()
	return os.WriteFile(c.path, buf.Bytes(), 0o644)
}
