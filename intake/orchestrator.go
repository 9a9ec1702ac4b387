/*
orchestrator.go - Mutation Orchestrator

PURPOSE:
  Executes create (log), update and delete against the entry store and
  issues the compensating deltas to the total ledger so that

    ledger[date] == sum of calories of live entries with that date

  holds after each operation completes.

RECONCILIATION RULES:
  Log:    N inserts, then ONE increment of sum(item calories) at date.
  Update: load, merge field-by-field, replace, then
            date changed   -> increment(old date, -old calories)
                              increment(new date, +new calories)
            date unchanged -> increment(date, new - old), skipped when zero
  Delete: load+remove, then increment(date, -calories).

ORDERING:
  Within one operation every step runs strictly in sequence: later steps
  depend on earlier results (assigned ids, the loaded prior state). Nothing
  is cached across requests; concurrent requests meet only at the store.

TWO-WRITE DISCIPLINE:
  Without a transaction spanning both collaborators, a failure after the
  entry write leaves the ledger stale for that date. This is reported as a
  *PartialMutationError (never masked) and repaired by the Reconciler.
  When Atomic is set and the store implements TxStore, each operation runs
  in one transaction instead and a failure rolls everything back.

CONCURRENCY:
  Concurrent update/delete on the same id race at the store: last writer
  wins on the entry and both apply their own ledger deltas. There is no
  version token.

SEE ALSO:
  - store.go: capability interfaces
  - reconcile.go: repair of stale ledger rows
*/
package intake

import (
	"context"
	"log"
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// ORCHESTRATOR
// =============================================================================

type Orchestrator struct {
	Store Store

	// Atomic runs each mutation in one transaction when Store is a TxStore.
	Atomic bool

	// Clock supplies creation timestamps. Defaults to time.Now.
	Clock func() time.Time

	Publisher Publisher
	Observer  MutationObserver
}

// NewOrchestrator returns a best-effort orchestrator over store.
func NewOrchestrator(store Store) *Orchestrator {
	return &Orchestrator{Store: store, Clock: time.Now, Publisher: NopPublisher{}}
}

// LogResult is the outcome of a create.
type LogResult struct {
	Date          Date
	TotalCalories decimal.Decimal
	EntryIDs      []EntryID
}

// MutationResult is the outcome of an update or delete. Date is the
// effective date (post-update for updates, pre-delete for deletes).
type MutationResult struct {
	EntryID       EntryID
	Date          Date
	TotalCalories decimal.Decimal
}

// =============================================================================
// CREATE
// =============================================================================

// Log persists every item as a new entry and adds their calories to the
// ledger row for the command's date.
func (o *Orchestrator) Log(ctx context.Context, cmd LogCommand) (res LogResult, err error) {
	defer func() { o.observe("log", err) }()

	if err := cmd.Validate(); err != nil {
		return LogResult{}, err
	}

	timestamp := o.now().UTC()
	delta := cmd.Delta()

	err = o.run(ctx, func(s Store, p *progress) error {
		p.op, p.date = "log", cmd.Date

		ids := make([]EntryID, 0, len(cmd.Items))
		for _, item := range cmd.Items {
			e, err := s.InsertEntry(ctx, Entry{
				Timestamp:  timestamp,
				Date:       cmd.Date,
				MealType:   cmd.MealType,
				Item:       item.Name,
				Quantity:   item.Quantity,
				Calories:   Round2(item.Calories),
				Confidence: Round2(item.Confidence),
				Source:     cmd.Source,
				RawText:    cmd.RawText,
			})
			if err != nil {
				return p.fail("insert entry", err)
			}
			p.wrote = true
			ids = append(ids, e.ID)
		}

		total, err := s.Increment(ctx, cmd.Date, delta)
		if err != nil {
			return p.fail("increment ledger", err)
		}

		res = LogResult{Date: cmd.Date, TotalCalories: total, EntryIDs: ids}
		return nil
	})
	if err != nil {
		return LogResult{}, err
	}

	o.publish(ctx, Event{
		Type:          EventEntryCreated,
		EntryIDs:      res.EntryIDs,
		Date:          res.Date,
		Delta:         delta,
		TotalCalories: res.TotalCalories,
		At:            timestamp,
	})
	return res, nil
}

// =============================================================================
// UPDATE
// =============================================================================

// Update merges the patch over the stored entry and moves the calorie
// difference in the ledger. An empty patch changes nothing.
func (o *Orchestrator) Update(ctx context.Context, cmd UpdateCommand) (res MutationResult, err error) {
	defer func() { o.observe("update", err) }()

	if err := cmd.Patch.Validate(); err != nil {
		return MutationResult{}, err
	}

	var (
		evt     Event
		changed bool
	)
	err = o.run(ctx, func(s Store, p *progress) error {
		p.op = "update"

		current, err := s.GetEntry(ctx, cmd.EntryID)
		if err != nil {
			return storageErr("get entry", err)
		}
		p.date = current.Date

		if cmd.Patch.IsEmpty() {
			total, err := s.Total(ctx, current.Date)
			if err != nil {
				return storageErr("read ledger", err)
			}
			res = MutationResult{EntryID: current.ID, Date: current.Date, TotalCalories: total}
			return nil
		}

		merged := cmd.Patch.Apply(current)
		if err := s.ReplaceEntry(ctx, merged); err != nil {
			return storageErr("replace entry", err)
		}
		p.wrote = true
		changed = true

		var total, delta decimal.Decimal
		evt = Event{Type: EventEntryUpdated, EntryIDs: []EntryID{current.ID}, Date: merged.Date}

		if !merged.Date.Equal(current.Date) {
			if _, err := s.Increment(ctx, current.Date, current.Calories.Neg()); err != nil {
				return p.fail("decrement old date", err)
			}
			p.date = merged.Date
			if total, err = s.Increment(ctx, merged.Date, merged.Calories); err != nil {
				return p.fail("increment new date", err)
			}
			prev := current.Date
			evt.PreviousDate = &prev
			delta = merged.Calories
		} else {
			delta = merged.Calories.Sub(current.Calories)
			if delta.IsZero() {
				total, err = s.Total(ctx, merged.Date)
				if err != nil {
					return storageErr("read ledger", err)
				}
			} else if total, err = s.Increment(ctx, merged.Date, delta); err != nil {
				return p.fail("increment ledger", err)
			}
		}

		evt.Delta, evt.TotalCalories = delta, total
		res = MutationResult{EntryID: current.ID, Date: merged.Date, TotalCalories: total}
		return nil
	})
	if err != nil {
		return MutationResult{}, err
	}

	if changed {
		evt.At = o.now().UTC()
		o.publish(ctx, evt)
	}
	return res, nil
}

// =============================================================================
// DELETE
// =============================================================================

// Delete removes the entry and subtracts its calories from its date.
func (o *Orchestrator) Delete(ctx context.Context, id EntryID) (res MutationResult, err error) {
	defer func() { o.observe("delete", err) }()

	if id == "" {
		return MutationResult{}, &ValidationError{Field: "entry_id", Reason: "is required"}
	}

	var removed Entry
	err = o.run(ctx, func(s Store, p *progress) error {
		p.op = "delete"

		e, err := s.DeleteEntry(ctx, id)
		if err != nil {
			return storageErr("delete entry", err)
		}
		p.wrote, p.date = true, e.Date
		removed = e

		total, err := s.Increment(ctx, e.Date, e.Calories.Neg())
		if err != nil {
			return p.fail("decrement ledger", err)
		}
		res = MutationResult{EntryID: e.ID, Date: e.Date, TotalCalories: total}
		return nil
	})
	if err != nil {
		return MutationResult{}, err
	}

	o.publish(ctx, Event{
		Type:          EventEntryDeleted,
		EntryIDs:      []EntryID{removed.ID},
		Date:          removed.Date,
		Delta:         removed.Calories.Neg(),
		TotalCalories: res.TotalCalories,
		At:            o.now().UTC(),
	})
	return res, nil
}

// =============================================================================
// EXECUTION HELPERS
// =============================================================================

// progress tracks whether a mutation has already written, so a later
// failure can be reported as partial.
type progress struct {
	op    string
	date  Date
	wrote bool
	inTx  bool
}

func (p *progress) fail(step string, err error) error {
	if p.wrote && !p.inTx {
		return &PartialMutationError{Op: p.op, Step: step, Date: p.date, Err: storageErr(step, err)}
	}
	return storageErr(step, err)
}

func (o *Orchestrator) run(ctx context.Context, fn func(Store, *progress) error) error {
	if o.Atomic {
		if tx, ok := o.Store.(TxStore); ok {
			return tx.WithTx(ctx, func(s Store) error {
				return fn(s, &progress{inTx: true})
			})
		}
	}
	return fn(o.Store, &progress{})
}

func (o *Orchestrator) now() time.Time {
	if o.Clock == nil {
		return time.Now()
	}
	return o.Clock()
}

func (o *Orchestrator) publish(ctx context.Context, evt Event) {
	if o.Publisher == nil {
		return
	}
	if err := o.Publisher.Publish(ctx, evt); err != nil {
		log.Printf("[Events] publish %s for %s failed: %v", evt.Type, evt.Date, err)
	}
}

func (o *Orchestrator) observe(op string, err error) {
	if o.Observer != nil {
		o.Observer.ObserveMutation(op, err)
	}
}
