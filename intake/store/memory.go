// Package store provides in-process Store implementations.
package store

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/warp/intake-ledger/intake"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

// Memory keeps entries and ledger rows in maps guarded by one RWMutex.
// Ledger rows are integer hundredths, so Increment is an exact atomic add.
type Memory struct {
	mu      sync.RWMutex
	entries map[intake.EntryID]intake.Entry
	totals  map[string]int64

	// NewID assigns entry ids. Defaults to random UUIDs.
	NewID func() string
}

func NewMemory() *Memory {
	return &Memory{
		entries: make(map[intake.EntryID]intake.Entry),
		totals:  make(map[string]int64),
		NewID:   uuid.NewString,
	}
}

func (m *Memory) InsertEntry(_ context.Context, e intake.Entry) (intake.Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.insertLocked(e), nil
}

func (m *Memory) GetEntry(_ context.Context, id intake.EntryID) (intake.Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.getLocked(id)
}

func (m *Memory) ReplaceEntry(_ context.Context, e intake.Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.replaceLocked(e)
}

func (m *Memory) DeleteEntry(_ context.Context, id intake.EntryID) (intake.Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.deleteLocked(id)
}

func (m *Memory) ListEntries(_ context.Context, f intake.EntryFilter) ([]intake.Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.listLocked(f), nil
}

func (m *Memory) Increment(_ context.Context, date intake.Date, delta decimal.Decimal) (decimal.Decimal, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.incrementLocked(date, delta)
}

func (m *Memory) Total(_ context.Context, date intake.Date) (decimal.Decimal, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return intake.FromCenti(m.totals[date.String()]), nil
}

func (m *Memory) Totals(_ context.Context, r intake.DateRange) ([]intake.DailyTotal, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.totalsLocked(r), nil
}

// Len returns the number of live entries.
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries)
}

// =============================================================================
// LOCKED HELPERS - Caller holds m.mu
// =============================================================================

func (m *Memory) insertLocked(e intake.Entry) intake.Entry {
	newID := m.NewID
	if newID == nil {
		newID = uuid.NewString
	}
	e.ID = intake.EntryID(newID())
	m.entries[e.ID] = e
	return e
}

func (m *Memory) getLocked(id intake.EntryID) (intake.Entry, error) {
	e, ok := m.entries[id]
	if !ok {
		return intake.Entry{}, &intake.NotFoundError{EntryID: id}
	}
	return e, nil
}

func (m *Memory) replaceLocked(e intake.Entry) error {
	if _, ok := m.entries[e.ID]; !ok {
		return &intake.NotFoundError{EntryID: e.ID}
	}
	m.entries[e.ID] = e
	return nil
}

func (m *Memory) deleteLocked(id intake.EntryID) (intake.Entry, error) {
	e, ok := m.entries[id]
	if !ok {
		return intake.Entry{}, &intake.NotFoundError{EntryID: id}
	}
	delete(m.entries, id)
	return e, nil
}

func (m *Memory) incrementLocked(date intake.Date, delta decimal.Decimal) (decimal.Decimal, error) {
	c, err := intake.Centi(delta)
	if err != nil {
		return decimal.Zero, fmt.Errorf("increment total for %s: %w", date, err)
	}
	key := date.String()
	total, err := intake.AddCenti(m.totals[key], c)
	if err != nil {
		return decimal.Zero, fmt.Errorf("increment total for %s: %w", date, err)
	}
	m.totals[key] = total
	return intake.FromCenti(total), nil
}

func (m *Memory) totalsLocked(r intake.DateRange) []intake.DailyTotal {
	result := []intake.DailyTotal{}
	for key, centi := range m.totals {
		d, err := intake.ParseDate(key)
		if err != nil || !r.Contains(d) {
			continue
		}
		result = append(result, intake.DailyTotal{Date: d, TotalCalories: intake.FromCenti(centi)})
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Date.Before(result[j].Date) })
	return result
}

func (m *Memory) listLocked(f intake.EntryFilter) []intake.Entry {
	result := []intake.Entry{}
	for _, e := range m.entries {
		if f.Date != nil && !e.Date.Equal(*f.Date) {
			continue
		}
		if f.Range != nil && !f.Range.Contains(e.Date) {
			continue
		}
		result = append(result, e)
	}
	SortEntries(result)
	return Page(result, f.Limit, f.Offset)
}

// SortEntries orders entries by date ascending, then timestamp descending,
// then id ascending.
func SortEntries(entries []intake.Entry) {
	sort.Slice(entries, func(i, j int) bool {
		a, b := entries[i], entries[j]
		if !a.Date.Equal(b.Date) {
			return a.Date.Before(b.Date)
		}
		if !a.Timestamp.Equal(b.Timestamp) {
			return a.Timestamp.After(b.Timestamp)
		}
		return a.ID < b.ID
	})
}

// Page applies offset and limit to an already ordered slice.
func Page(entries []intake.Entry, limit, offset int) []intake.Entry {
	if offset > 0 {
		if offset >= len(entries) {
			return []intake.Entry{}
		}
		entries = entries[offset:]
	}
	if limit > 0 && limit < len(entries) {
		entries = entries[:limit]
	}
	return entries
}

// =============================================================================
// TRANSACTIONAL MEMORY STORE
// =============================================================================

// TxMemory wraps Memory with transaction support.
type TxMemory struct {
	*Memory
}

func NewTxMemory() *TxMemory {
	return &TxMemory{Memory: NewMemory()}
}

// WithTx executes fn within a transaction.
// For memory store, this is simulated with a snapshot + rollback on error.
func (tm *TxMemory) WithTx(ctx context.Context, fn func(intake.Store) error) error {
	tm.mu.Lock()
	defer tm.mu.Unlock()

	snapshot := tm.snapshot()

	if err := fn(&txMemoryView{parent: tm.Memory}); err != nil {
		tm.restore(snapshot)
		return err
	}
	return nil
}

type memorySnapshot struct {
	entries map[intake.EntryID]intake.Entry
	totals  map[string]int64
}

func (tm *TxMemory) snapshot() memorySnapshot {
	entries := make(map[intake.EntryID]intake.Entry, len(tm.entries))
	for k, v := range tm.entries {
		entries[k] = v
	}
	totals := make(map[string]int64, len(tm.totals))
	for k, v := range tm.totals {
		totals[k] = v
	}
	return memorySnapshot{entries: entries, totals: totals}
}

func (tm *TxMemory) restore(s memorySnapshot) {
	tm.entries = s.entries
	tm.totals = s.totals
}

// txMemoryView runs against the parent's maps while WithTx holds the lock.
type txMemoryView struct {
	parent *Memory
}

func (tv *txMemoryView) InsertEntry(_ context.Context, e intake.Entry) (intake.Entry, error) {
	return tv.parent.insertLocked(e), nil
}

func (tv *txMemoryView) GetEntry(_ context.Context, id intake.EntryID) (intake.Entry, error) {
	return tv.parent.getLocked(id)
}

func (tv *txMemoryView) ReplaceEntry(_ context.Context, e intake.Entry) error {
	return tv.parent.replaceLocked(e)
}

func (tv *txMemoryView) DeleteEntry(_ context.Context, id intake.EntryID) (intake.Entry, error) {
	return tv.parent.deleteLocked(id)
}

func (tv *txMemoryView) ListEntries(_ context.Context, f intake.EntryFilter) ([]intake.Entry, error) {
	return tv.parent.listLocked(f), nil
}

func (tv *txMemoryView) Increment(_ context.Context, date intake.Date, delta decimal.Decimal) (decimal.Decimal, error) {
	return tv.parent.incrementLocked(date, delta)
}

func (tv *txMemoryView) Total(_ context.Context, date intake.Date) (decimal.Decimal, error) {
	return intake.FromCenti(tv.parent.totals[date.String()]), nil
}

func (tv *txMemoryView) Totals(_ context.Context, r intake.DateRange) ([]intake.DailyTotal, error) {
	return tv.parent.totalsLocked(r), nil
}

var (
	_ intake.Store   = (*Memory)(nil)
	_ intake.TxStore = (*TxMemory)(nil)
	_ intake.Store   = (*txMemoryView)(nil)
)
