// pkg/redaction/tracker.go
package redaction

import (
	"context"
	"errors"
	"sort"
	"sync"
)

// FailedNameScanner reads the distinct failed constraint names of rows
// appended after a given offset
type FailedNameScanner interface {
	ScanFailedNames(ctx context.Context, table string, afterSeq int64) (names []string, lastSeq int64, err error)
}

// Tracker caches the distinct failed constraint names in the quarantine
// table. Each refresh scans only rows appended since the previous one.
type Tracker struct {
	scanner FailedNameScanner
	table   string

	mu      sync.Mutex
	lastSeq int64
	names   map[string]bool
}

// NewTracker creates a Tracker for a quarantine table
func NewTracker(scanner FailedNameScanner, table string) (*Tracker, error) {
	if scanner == nil {
		return nil, errors.New("scanner cannot be nil")
	}
	if table == "" {
		return nil, errors.New("table name cannot be empty")
	}

	return &Tracker{
		scanner: scanner,
		table:   table,
		names:   make(map[string]bool),
	}, nil
}

// Refresh scans new rows and reports whether any unseen name appeared
func (t *Tracker) Refresh(ctx context.Context) (bool, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	names, lastSeq, err := t.scanner.ScanFailedNames(ctx, t.table, t.lastSeq)
	if err != nil {
		return false, err
	}

	changed := false
	for _, name := range names {
		if !t.names[name] {
			t.names[name] = true
			changed = true
		}
	}
	if lastSeq > t.lastSeq {
		t.lastSeq = lastSeq
	}

	return changed, nil
}

// Names returns the distinct names seen so far, sorted
func (t *Tracker) Names() []string {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make([]string, 0, len(t.names))
	for name := range t.names {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// LastSeq returns the offset of the last scanned row
func (t *Tracker) LastSeq() int64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.lastSeq
}
