package daemon

import (
	"slices"
	"strings"
	"sync"
	"time"

	"tsusu/internal/ipc"
)

// Table is an in-memory ProcessTable keyed by process name.
type Table struct {
	mu   sync.RWMutex
	rows map[string]ipc.ProcessInfo
}

// NewTable returns an empty table.
func NewTable() *Table {
	return &Table{rows: make(map[string]ipc.ProcessInfo)}
}

// Set inserts or replaces the row for info.Name. A zero Since is stamped with
// the current time.
func (t *Table) Set(info ipc.ProcessInfo) {
	if info.Since.IsZero() {
		info.Since = time.Now().UTC()
	}
	t.mu.Lock()
	t.rows[info.Name] = info
	t.mu.Unlock()
}

// Remove deletes the named row and reports whether it existed.
func (t *Table) Remove(name string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.rows[name]; !ok {
		return false
	}
	delete(t.rows, name)
	return true
}

// Snapshot returns a copy of all rows sorted by name.
func (t *Table) Snapshot() []ipc.ProcessInfo {
	t.mu.RLock()
	rows := make([]ipc.ProcessInfo, 0, len(t.rows))
	for _, row := range t.rows {
		rows = append(rows, row)
	}
	t.mu.RUnlock()

	slices.SortFunc(rows, func(a, b ipc.ProcessInfo) int {
		return strings.Compare(a.Name, b.Name)
	})
	return rows
}
