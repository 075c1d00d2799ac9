// Package store provides in-memory settlement.Journal implementations.
package store

import (
	"context"
	"errors"
	"sort"
	"sync"

	"github.com/warp/settlement-engine/settlement"
)

// ErrDuplicateEntry is returned when an entry id is appended twice.
var ErrDuplicateEntry = errors.New("duplicate journal entry")

// =============================================================================
// MEMORY JOURNAL - In-memory implementation (for testing/dev)
// =============================================================================

type Memory struct {
	mu      sync.RWMutex
	entries []settlement.JournalEntry
	ids     map[string]bool
}

func NewMemory() *Memory {
	return &Memory{ids: make(map[string]bool)}
}

// Append adds an entry, keeping entries ordered by Seq. Append-only.
func (m *Memory) Append(_ context.Context, entry settlement.JournalEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if entry.ID != "" && m.ids[entry.ID] {
		return ErrDuplicateEntry
	}

	// Sharded engines may append slightly out of sequence.
	i := sort.Search(len(m.entries), func(i int) bool {
		return m.entries[i].Seq > entry.Seq
	})
	m.entries = append(m.entries, settlement.JournalEntry{})
	copy(m.entries[i+1:], m.entries[i:])
	m.entries[i] = entry

	if entry.ID != "" {
		m.ids[entry.ID] = true
	}
	return nil
}

// Entries returns a copy of all entries ordered by Seq.
func (m *Memory) Entries() []settlement.JournalEntry {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]settlement.JournalEntry, len(m.entries))
	copy(result, m.entries)
	return result
}

// JournalForTransaction returns the entries for one tx id in Seq order.
func (m *Memory) JournalForTransaction(_ context.Context, id settlement.TransactionID) ([]settlement.JournalEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []settlement.JournalEntry
	for _, e := range m.entries {
		if e.Record.TxID == id {
			result = append(result, e)
		}
	}
	return result, nil
}

// Len returns the number of entries.
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries)
}
