/*
aggregator.go - Range Aggregator

PURPOSE:
  Answers summary reads over an inclusive calendar range:

  Totals:            flat per-date series read from the ledger
  TotalsByMealType:  per-date {breakfast, lunch, dinner, snacks} re-derived
                     from the entry store (the ledger has no meal dimension)
  Trailing:          "last N days" ending today in the service location
  DayTotal:          point read of one ledger row
  Entries:           ordered entry listing for a day or a range

GAP FILLING:
  With IncludeEmpty every calendar day in [start, end] yields exactly one
  row; days absent from the read are reported as zero. Without it only days
  with activity appear, ascending.

  Gap-filled reads are capped at MaxRangeDays rows. Reads that only return
  stored rows are not capped.

  Example: [2026-02-02, 2026-02-04] with only 02-03 = 105
    IncludeEmpty=false -> [{02-03: 105}]
    IncludeEmpty=true  -> [{02-02: 0}, {02-03: 105}, {02-04: 0}]

READS ARE IDEMPOTENT:
  Nothing here writes. Repeating a read without intervening mutations
  yields identical output.
*/
package intake

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// AGGREGATOR
// =============================================================================

// DefaultMaxRangeDays bounds gap-filled enumerations.
const DefaultMaxRangeDays = 3660

type Aggregator struct {
	Entries EntryStore
	Ledger  TotalLedger

	// Clock and Location define "today" for trailing windows.
	Clock    func() time.Time
	Location *time.Location

	// MaxRangeDays caps gap-filled reads. <= 0 disables the cap.
	MaxRangeDays int
}

// NewAggregator reads entries and totals from the same store.
func NewAggregator(store Store) *Aggregator {
	return &Aggregator{
		Entries:      store,
		Ledger:       store,
		Clock:        time.Now,
		Location:     time.Local,
		MaxRangeDays: DefaultMaxRangeDays,
	}
}

// checkRange validates q and, when it gap-fills, its length.
func (a *Aggregator) checkRange(q RangeQuery) error {
	if q.Range.Start.After(q.Range.End) {
		return ErrInvalidRange
	}
	if q.IncludeEmpty && a.MaxRangeDays > 0 && q.Range.Len() > a.MaxRangeDays {
		return &ValidationError{Field: "end", Reason: fmt.Sprintf("gap-filled range exceeds %d days", a.MaxRangeDays)}
	}
	return nil
}

// RangeTotals is the flat range result.
type RangeTotals struct {
	Range  DateRange
	Totals []DailyTotal
}

// GroupedRangeTotals is the per-meal-type range result.
type GroupedRangeTotals struct {
	Range  DateRange
	Totals []GroupedTotal
}

// Totals reads ledger rows in the range, optionally gap-filling.
func (a *Aggregator) Totals(ctx context.Context, q RangeQuery) (RangeTotals, error) {
	if err := a.checkRange(q); err != nil {
		return RangeTotals{}, err
	}

	rows, err := a.Ledger.Totals(ctx, q.Range)
	if err != nil {
		return RangeTotals{}, storageErr("read ledger range", err)
	}
	sort.SliceStable(rows, func(i, j int) bool { return rows[i].Date.Before(rows[j].Date) })

	if !q.IncludeEmpty {
		if rows == nil {
			rows = []DailyTotal{}
		}
		return RangeTotals{Range: q.Range, Totals: rows}, nil
	}

	byDate := make(map[Date]decimal.Decimal, len(rows))
	for _, r := range rows {
		byDate[r.Date] = r.TotalCalories
	}
	days := q.Range.Days()
	filled := make([]DailyTotal, 0, len(days))
	for _, d := range days {
		total, ok := byDate[d]
		if !ok {
			total = decimal.Zero
		}
		filled = append(filled, DailyTotal{Date: d, TotalCalories: total})
	}
	return RangeTotals{Range: q.Range, Totals: filled}, nil
}

// TotalsByMealType folds the entries in range into four buckets per date.
// Entries whose meal type is not one of the canonical four are dropped.
func (a *Aggregator) TotalsByMealType(ctx context.Context, q RangeQuery) (GroupedRangeTotals, error) {
	if err := a.checkRange(q); err != nil {
		return GroupedRangeTotals{}, err
	}

	r := q.Range
	entries, err := a.Entries.ListEntries(ctx, EntryFilter{Range: &r})
	if err != nil {
		return GroupedRangeTotals{}, storageErr("list entries", err)
	}

	folded := make(map[Date]MealTotals)
	for _, e := range entries {
		buckets, ok := folded[e.Date]
		if !ok {
			buckets = NewMealTotals()
			folded[e.Date] = buckets
		}
		if _, canonical := buckets[e.MealType]; !canonical {
			continue
		}
		buckets[e.MealType] = buckets[e.MealType].Add(e.Calories)
	}

	var dates []Date
	if q.IncludeEmpty {
		dates = r.Days()
	} else {
		dates = make([]Date, 0, len(folded))
		for d := range folded {
			dates = append(dates, d)
		}
		sort.Slice(dates, func(i, j int) bool { return dates[i].Before(dates[j]) })
	}

	out := make([]GroupedTotal, 0, len(dates))
	for _, d := range dates {
		buckets, ok := folded[d]
		if !ok {
			buckets = NewMealTotals()
		}
		out = append(out, GroupedTotal{Date: d, Totals: buckets})
	}
	return GroupedRangeTotals{Range: r, Totals: out}, nil
}

// Trailing returns flat totals for the n days ending today (inclusive).
func (a *Aggregator) Trailing(ctx context.Context, n int, includeEmpty bool) (RangeTotals, error) {
	if n < 1 {
		return RangeTotals{}, &ValidationError{Field: "days", Reason: "must be a positive number"}
	}
	r := TrailingRange(Today(a.Clock, a.Location), n)
	return a.Totals(ctx, RangeQuery{Range: r, IncludeEmpty: includeEmpty})
}

// DayTotal is the point read for one date. Absent rows read as zero.
func (a *Aggregator) DayTotal(ctx context.Context, date Date) (DailyTotal, error) {
	total, err := a.Ledger.Total(ctx, date)
	if err != nil {
		return DailyTotal{}, storageErr("read ledger", err)
	}
	return DailyTotal{Date: date, TotalCalories: total}, nil
}

// Entry returns one entry by id.
func (a *Aggregator) Entry(ctx context.Context, id EntryID) (Entry, error) {
	e, err := a.Entries.GetEntry(ctx, id)
	if err != nil {
		return Entry{}, storageErr("get entry", err)
	}
	return e, nil
}

// ListEntries returns entries in listing order.
func (a *Aggregator) ListEntries(ctx context.Context, f EntryFilter) ([]Entry, error) {
	if f.Range != nil && f.Range.Start.After(f.Range.End) {
		return nil, ErrInvalidRange
	}
	entries, err := a.Entries.ListEntries(ctx, f)
	if err != nil {
		return nil, storageErr("list entries", err)
	}
	if entries == nil {
		entries = []Entry{}
	}
	return entries, nil
}
