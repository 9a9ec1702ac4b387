/*
store.go - Persistence capabilities consumed by the engine

PURPOSE:
  The engine never owns persisted state. It talks to two collaborators
  through the capability interfaces below:

  EntryStore:  durable keyed storage of entries (source of truth)
  TotalLedger: durable date -> running calorie sum (materialized view)

ATOMIC ADD:
  TotalLedger.Increment MUST be a true atomic add on the store side (not a
  read-modify-write from the caller) so concurrent requests against the same
  date never lose updates.

TRANSACTIONS:
  A store that can span both collaborators in one transaction implements
  TxStore. The orchestrator uses it when configured to; otherwise it falls
  back to the sequential two-write discipline and reports partial failures.
  The reconciler always runs inside a transaction when one is available.

IMPLEMENTATIONS:
  - intake/store/memory.go: In-memory, single RWMutex (tests/dev)
  - store/sqldb: SQLite (modernc, mattn) and Postgres (pgx)
*/
package intake

import (
	"context"

	"github.com/shopspring/decimal"
)

// =============================================================================
// ENTRY STORE
// =============================================================================

// EntryFilter selects entries for listing. Date and Range are mutually
// exclusive; both nil lists everything. Limit <= 0 means no limit.
type EntryFilter struct {
	Date   *Date
	Range  *DateRange
	Limit  int
	Offset int
}

// EntryStore is the source of truth for entries.
//
// Listing order: ascending by date, then most recent timestamp first, then
// by id for a stable tie-break.
type EntryStore interface {
	// InsertEntry persists e and returns it with the store-assigned ID.
	InsertEntry(ctx context.Context, e Entry) (Entry, error)

	// GetEntry returns ErrEntryNotFound (wrapped) if id does not exist.
	GetEntry(ctx context.Context, id EntryID) (Entry, error)

	// ReplaceEntry overwrites the stored record with the same ID.
	ReplaceEntry(ctx context.Context, e Entry) error

	// DeleteEntry removes and returns the entry.
	DeleteEntry(ctx context.Context, id EntryID) (Entry, error)

	// ListEntries returns entries matching f in listing order.
	ListEntries(ctx context.Context, f EntryFilter) ([]Entry, error)
}

// =============================================================================
// TOTAL LEDGER
// =============================================================================

// TotalLedger maps a date to the running calorie sum.
type TotalLedger interface {
	// Increment atomically adds delta to the row for date (creating it at
	// zero if absent) and returns the new total.
	Increment(ctx context.Context, date Date, delta decimal.Decimal) (decimal.Decimal, error)

	// Total returns the row for date, or zero if absent.
	Total(ctx context.Context, date Date) (decimal.Decimal, error)

	// Totals returns the rows present in r, ascending by date.
	Totals(ctx context.Context, r DateRange) ([]DailyTotal, error)
}

// =============================================================================
// COMBINED AND TRANSACTIONAL STORES
// =============================================================================

// Store is a single logical backend serving both collaborators.
type Store interface {
	EntryStore
	TotalLedger
}

// TxStore runs fn with a Store view bound to one transaction. If fn returns
// an error the transaction is rolled back; otherwise it is committed.
type TxStore interface {
	Store
	WithTx(ctx context.Context, fn func(Store) error) error
}

// LedgerLocker is an optional capability of transaction views. LockLedger
// blocks ledger writes from other transactions until this one ends.
// Views whose transactions are already exclusive need not implement it.
type LedgerLocker interface {
	LockLedger(ctx context.Context) error
}
