/*
Package intake provides the food-intake ledger engine.

PURPOSE:
  This package owns the domain model and the two pieces of logic with real
  invariants: keeping the per-date calorie ledger consistent with the mutable
  collection of entries, and answering range/grouped summary queries.

KEY CONCEPTS IN THIS FILE (types.go):
  - Entry: One logged food item (the source of truth)
  - DailyTotal: One ledger row (a materialized sum, never the source of truth)
  - MealType: Closed enumeration {breakfast, lunch, dinner, snacks}
  - Calories: Two-decimal quantities backed by decimal.Decimal

LEDGER INVARIANT:
  After every successfully completed mutation, for every date d:

    ledger[d] == sum(calories(e)) for every live entry e with e.Date == d

  A missing ledger row reads as zero.

DESIGN PRINCIPLES:
  1. Precision: decimal.Decimal, rounded half away from zero to 2 places
  2. Explicit boundary: untyped input is parsed once into typed commands
  3. Capabilities: persistence is described by interfaces (store.go)

SEE ALSO:
  - orchestrator.go: create/update/delete with ledger reconciliation
  - aggregator.go: range and grouped totals with gap filling
  - reconcile.go: out-of-band ledger repair
*/
package intake

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// IDENTIFIERS
// =============================================================================

// EntryID is the opaque identifier assigned by the entry store on insert.
type EntryID string

// =============================================================================
// MEAL TYPE - Closed enumeration
// =============================================================================

type MealType string

const (
	MealBreakfast MealType = "breakfast"
	MealLunch     MealType = "lunch"
	MealDinner    MealType = "dinner"
	MealSnacks    MealType = "snacks"
)

// MealTypes lists the canonical buckets in display order.
var MealTypes = []MealType{MealBreakfast, MealLunch, MealDinner, MealSnacks}

// ParseMealType normalizes s case-insensitively. Returns false for anything
// outside the enumeration.
func ParseMealType(s string) (MealType, bool) {
	mt := MealType(strings.ToLower(strings.TrimSpace(s)))
	if mt.Valid() {
		return mt, true
	}
	return "", false
}

func (m MealType) Valid() bool {
	switch m {
	case MealBreakfast, MealLunch, MealDinner, MealSnacks:
		return true
	}
	return false
}

// =============================================================================
// CALORIES - Two decimal places, half away from zero
// =============================================================================

// Scale is the number of decimal places kept for calories and confidence.
const Scale = 2

// Round2 rounds d to two decimal places, half away from zero.
func Round2(d decimal.Decimal) decimal.Decimal { return d.Round(Scale) }

// MaxAmount bounds calories and confidence (absolute value) at the input
// boundary. Its hundredths are far inside int64.
var MaxAmount = decimal.NewFromInt(1_000_000_000)

var (
	maxCenti = decimal.NewFromInt(math.MaxInt64)
	minCenti = decimal.NewFromInt(math.MinInt64)
)

// Centi returns d as an integer count of hundredths. d is rounded first.
// Values with no int64 representation return ErrAmountOutOfRange.
func Centi(d decimal.Decimal) (int64, error) {
	c := Round2(d).Shift(Scale)
	if c.GreaterThan(maxCenti) || c.LessThan(minCenti) {
		return 0, fmt.Errorf("%w: %s", ErrAmountOutOfRange, d)
	}
	return c.IntPart(), nil
}

// AddCenti adds two hundredths counts, failing instead of wrapping.
func AddCenti(a, b int64) (int64, error) {
	sum := a + b
	if (b > 0 && sum < a) || (b < 0 && sum > a) {
		return 0, fmt.Errorf("%w: %s + %s", ErrAmountOutOfRange, FromCenti(a), FromCenti(b))
	}
	return sum, nil
}

// CheckAmount rejects values whose magnitude exceeds MaxAmount.
func CheckAmount(field string, d decimal.Decimal) error {
	if d.Abs().GreaterThan(MaxAmount) {
		return &ValidationError{Field: field, Reason: "must not exceed " + MaxAmount.String()}
	}
	return nil
}

// FromCenti is the inverse of Centi.
func FromCenti(c int64) decimal.Decimal { return decimal.New(c, -Scale) }

// SumCalories adds the calories of the given entries.
func SumCalories(entries []Entry) decimal.Decimal {
	sum := decimal.Zero
	for _, e := range entries {
		sum = sum.Add(e.Calories)
	}
	return sum
}

// =============================================================================
// ENTRY - One logged food item
// =============================================================================

// TimestampLayout is the fixed-width ISO-8601 layout used for entry
// timestamps. Fixed width keeps lexical order equal to chronological order.
const TimestampLayout = "2006-01-02T15:04:05.000Z"

type Entry struct {
	ID         EntryID
	Timestamp  time.Time // creation instant, UTC, immutable
	Date       Date      // partition key for aggregation
	MealType   MealType
	Item       string
	Quantity   string
	Calories   decimal.Decimal
	Confidence decimal.Decimal
	Source     string
	RawText    string
}

// FormatTimestamp renders t in TimestampLayout (UTC).
func FormatTimestamp(t time.Time) string { return t.UTC().Format(TimestampLayout) }

// ParseTimestamp parses a TimestampLayout string, falling back to RFC3339.
func ParseTimestamp(s string) (time.Time, error) {
	t, err := time.Parse(TimestampLayout, s)
	if err == nil {
		return t, nil
	}
	return time.Parse(time.RFC3339Nano, s)
}

// =============================================================================
// DAILY TOTAL - One ledger row
// =============================================================================

type DailyTotal struct {
	Date          Date
	TotalCalories decimal.Decimal
}

// MealTotals is the per-meal-type breakdown for one date.
type MealTotals map[MealType]decimal.Decimal

// NewMealTotals returns all four buckets initialized to zero.
func NewMealTotals() MealTotals {
	mt := make(MealTotals, len(MealTypes))
	for _, m := range MealTypes {
		mt[m] = decimal.Zero
	}
	return mt
}

// GroupedTotal is one row of a grouped-by-meal-type range result.
type GroupedTotal struct {
	Date   Date
	Totals MealTotals
}
