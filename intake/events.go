package intake

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// CHANGE FEED - Emitted after a mutation completes
// =============================================================================

type EventType string

const (
	EventEntryCreated EventType = "entry.created"
	EventEntryUpdated EventType = "entry.updated"
	EventEntryDeleted EventType = "entry.deleted"
)

// Event describes one completed mutation and its ledger effect on Date.
// PreviousDate is set when an update moved an entry between dates.
type Event struct {
	Type          EventType
	EntryIDs      []EntryID
	Date          Date
	PreviousDate  *Date
	Delta         decimal.Decimal
	TotalCalories decimal.Decimal
	At            time.Time
}

// Publisher delivers events downstream. Delivery is best effort: a publish
// failure is logged by the orchestrator and never fails the mutation.
type Publisher interface {
	Publish(ctx context.Context, evt Event) error
}

// NopPublisher discards events.
type NopPublisher struct{}

func (NopPublisher) Publish(context.Context, Event) error { return nil }

// MutationObserver is notified of every mutation outcome (metrics hook).
type MutationObserver interface {
	ObserveMutation(op string, err error)
}
