/*
reconcile.go - Ledger repair

PURPOSE:
  The ledger is a materialized view. When a two-write mutation is
  interrupted between its entry write and its ledger increment, the row for
  that date is stale. The Reconciler recomputes the true sum from the entry
  store and issues a corrective atomic increment for every date that
  disagrees.

CORRECTION:
  delta = sum(entries on date) - ledger[date]
  Increment(date, delta) when delta != 0

  The correction is applied with the same atomic add as regular mutations,
  so a concurrent increment landing between the read and the correction is
  not lost.

CONSISTENT READS:
  The entry listing and the ledger read must describe the same moment, or a
  mutation committing between them looks like drift and the "repair" breaks
  a correct row. On a TxStore the whole pass (list, read, correct) runs in
  one transaction, and views implementing LedgerLocker hold off concurrent
  ledger writes until it commits. On a plain Store the two reads are
  separate and a racing mutation can still skew one pass.

SEE ALSO:
  - api/scheduler.go: periodic trailing-window reconciliation
*/
package intake

import (
	"context"
	"sort"

	"github.com/shopspring/decimal"
)

// Repair records one corrected ledger row.
type Repair struct {
	Date   Date
	Ledger decimal.Decimal
	Actual decimal.Decimal
	Delta  decimal.Decimal
}

// ReconcileReport summarizes one reconciliation pass.
type ReconcileReport struct {
	Range   DateRange
	Checked int
	Repairs []Repair
}

type Reconciler struct {
	Store Store
}

func NewReconciler(store Store) *Reconciler {
	return &Reconciler{Store: store}
}

// ReconcileRange checks every date in r that has entries or a ledger row.
func (rc *Reconciler) ReconcileRange(ctx context.Context, r DateRange) (ReconcileReport, error) {
	if r.Start.After(r.End) {
		return ReconcileReport{}, ErrInvalidRange
	}

	txs, ok := rc.Store.(TxStore)
	if !ok {
		return reconcile(ctx, rc.Store, r)
	}

	var report ReconcileReport
	err := txs.WithTx(ctx, func(s Store) error {
		if l, ok := s.(LedgerLocker); ok {
			if err := l.LockLedger(ctx); err != nil {
				return storageErr("lock ledger", err)
			}
		}
		var err error
		report, err = reconcile(ctx, s, r)
		return err
	})
	if err != nil {
		// Rolled back: nothing in the report was applied.
		return ReconcileReport{Range: r}, storageErr("reconcile", err)
	}
	return report, nil
}

func reconcile(ctx context.Context, s Store, r DateRange) (ReconcileReport, error) {
	entries, err := s.ListEntries(ctx, EntryFilter{Range: &r})
	if err != nil {
		return ReconcileReport{}, storageErr("list entries", err)
	}
	rows, err := s.Totals(ctx, r)
	if err != nil {
		return ReconcileReport{}, storageErr("read ledger range", err)
	}

	actual := make(map[Date]decimal.Decimal)
	for _, e := range entries {
		actual[e.Date] = actual[e.Date].Add(e.Calories)
	}
	recorded := make(map[Date]decimal.Decimal, len(rows))
	for _, row := range rows {
		recorded[row.Date] = row.TotalCalories
		if _, ok := actual[row.Date]; !ok {
			actual[row.Date] = decimal.Zero
		}
	}

	dates := make([]Date, 0, len(actual))
	for d := range actual {
		dates = append(dates, d)
	}
	sort.Slice(dates, func(i, j int) bool { return dates[i].Before(dates[j]) })

	report := ReconcileReport{Range: r, Checked: len(dates)}
	for _, d := range dates {
		delta := actual[d].Sub(recorded[d])
		if delta.IsZero() {
			continue
		}
		if _, err := s.Increment(ctx, d, delta); err != nil {
			return report, storageErr("repair ledger", err)
		}
		report.Repairs = append(report.Repairs, Repair{
			Date:   d,
			Ledger: recorded[d],
			Actual: actual[d],
			Delta:  delta,
		})
	}
	return report, nil
}

// ReconcileDate checks a single date.
func (rc *Reconciler) ReconcileDate(ctx context.Context, d Date) (ReconcileReport, error) {
	return rc.ReconcileRange(ctx, DateRange{Start: d, End: d})
}
