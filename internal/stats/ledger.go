// Package stats keeps per-chat processing counters for the current run.
package stats

import "sync"

// Entry holds the counters for a single chat.
type Entry struct {
	Processed int `json:"processed"`
	Errors    int `json:"errors"`
}

// Ledger tracks processed and errored links per chat.
// Counters live in memory only and are reset when processing is toggled on.
type Ledger struct {
	mu      sync.Mutex
	entries map[int64]*Entry
}

// NewLedger creates an empty ledger.
func NewLedger() *Ledger {
	return &Ledger{entries: make(map[int64]*Entry)}
}

func (l *Ledger) entry(chatID int64) *Entry {
	e, ok := l.entries[chatID]
	if !ok {
		e = &Entry{}
		l.entries[chatID] = e
	}
	return e
}

// AddProcessed increments the processed counter for a chat.
func (l *Ledger) AddProcessed(chatID int64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entry(chatID).Processed++
}

// AddError increments the error counter for a chat.
func (l *Ledger) AddError(chatID int64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entry(chatID).Errors++
}

// Get returns the counters for a chat.
func (l *Ledger) Get(chatID int64) Entry {
	l.mu.Lock()
	defer l.mu.Unlock()
	if e, ok := l.entries[chatID]; ok {
		return *e
	}
	return Entry{}
}

// Snapshot returns a copy of all per-chat counters.
func (l *Ledger) Snapshot() map[int64]Entry {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make(map[int64]Entry, len(l.entries))
	for id, e := range l.entries {
		out[id] = *e
	}
	return out
}

// Totals returns the summed counters across all chats.
func (l *Ledger) Totals() Entry {
	l.mu.Lock()
	defer l.mu.Unlock()
	var total Entry
	for _, e := range l.entries {
		total.Processed += e.Processed
		total.Errors += e.Errors
	}
	return total
}

// Reset clears all counters. Called when the processing toggle goes off->on.
func (l *Ledger) Reset() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = make(map[int64]*Entry)
}
