// Package eventlog is the append-only newline-delimited JSON journal (C2).
// Grounded on the teacher's internal/memory.Store file-persistence style
// (os.MkdirAll + os.OpenFile), adapted from a single whole-file read/rewrite
// to a true append-only log since the event log's authoritative order is
// defined by append position, not by a rewritten snapshot.
package eventlog

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/andywolf/agentfleet/internal/domain"
)

// Log wraps a single JSONL file with a mutex so concurrent Append calls from
// goroutines never interleave partial writes.
type Log struct {
	mu   sync.Mutex
	path string
}

// Open returns a Log bound to path, creating parent directories.
func Open(path string) (*Log, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("eventlog: creating directory for %s: %w", path, err)
	}
	return &Log{path: path}, nil
}

// Append writes e as one JSON line, appending to the file. Crash-safety:
// each call is a single Write of a complete line terminated by '\n', so a
// process killed mid-write leaves at most one incomplete trailing line,
// which Read discards.
func (l *Log) Append(e domain.Event) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	f, err := os.OpenFile(l.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("eventlog: opening %s: %w", l.path, err)
	}
	defer f.Close()

	line, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("eventlog: marshaling event %s: %w", e.ID, err)
	}
	line = append(line, '\n')
	if _, err := f.Write(line); err != nil {
		return fmt.Errorf("eventlog: appending to %s: %w", l.path, err)
	}
	return nil
}

// Read returns every event in the file in append order, with Seq set to its
// 1-based line position (invariant 1: append order is the authoritative
// total order; Seq breaks timestamp ties by that position). A partially
// written last line (no trailing newline reached, or invalid JSON) is
// silently discarded rather than erroring, per spec.md §4.2.
func Read(path string) ([]domain.Event, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("eventlog: opening %s: %w", path, err)
	}
	defer f.Close()

	var events []domain.Event
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 8*1024*1024)
	seq := int64(0)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var e domain.Event
		if err := json.Unmarshal(line, &e); err != nil {
			// Partial/corrupt last line written during a crash: discard it
			// and stop, rather than surfacing a parse error to the caller.
			break
		}
		seq++
		events = append(events, e.WithSeq(seq))
	}
	// scanner.Err() is deliberately ignored for the same reason: a
	// truncated final read is the crash-safety case this function exists
	// to tolerate, not a caller-visible failure.
	return events, nil
}

// Path returns the file path this Log appends to.
func (l *Log) Path() string { return l.path }
