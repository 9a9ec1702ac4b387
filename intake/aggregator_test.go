package intake_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/intake-ledger/intake"
	"github.com/warp/intake-ledger/intake/store"
)

func newTestAggregator(t *testing.T) (*intake.Aggregator, *intake.Orchestrator, *store.Memory) {
	t.Helper()
	o, mem := newTestOrchestrator(t)
	a := intake.NewAggregator(mem)
	a.Clock = func() time.Time { return fixedNow }
	a.Location = time.UTC
	return a, o, mem
}

func rangeQuery(start, end string, includeEmpty bool) intake.RangeQuery {
	return intake.RangeQuery{
		Range:        intake.DateRange{Start: intake.MustParseDate(start), End: intake.MustParseDate(end)},
		IncludeEmpty: includeEmpty,
	}
}

// =============================================================================
// FLAT TOTALS
// =============================================================================

func TestAggregator_Totals_GapFill(t *testing.T) {
	// GIVEN: Only 2026-02-03 has activity (105)
	// WHEN: Reading [02-02, 02-04]
	// THEN: Without gap fill one row; with gap fill three rows

	a, o, _ := newTestAggregator(t)
	ctx := context.Background()

	_, err := o.Log(ctx, logCmd("2026-02-03", intake.MealBreakfast, item("banana", "105")))
	require.NoError(t, err)

	sparse, err := a.Totals(ctx, rangeQuery("2026-02-02", "2026-02-04", false))
	require.NoError(t, err)
	require.Len(t, sparse.Totals, 1)
	assert.Equal(t, "2026-02-03", sparse.Totals[0].Date.String())
	assertCalories(t, "105", sparse.Totals[0].TotalCalories)

	filled, err := a.Totals(ctx, rangeQuery("2026-02-02", "2026-02-04", true))
	require.NoError(t, err)
	require.Len(t, filled.Totals, 3)
	want := []struct{ date, total string }{
		{"2026-02-02", "0"},
		{"2026-02-03", "105"},
		{"2026-02-04", "0"},
	}
	for i, w := range want {
		assert.Equal(t, w.date, filled.Totals[i].Date.String())
		assertCalories(t, w.total, filled.Totals[i].TotalCalories)
	}
}

func TestAggregator_Totals_EmptyRange(t *testing.T) {
	a, _, _ := newTestAggregator(t)

	res, err := a.Totals(context.Background(), rangeQuery("2026-03-01", "2026-03-31", false))
	require.NoError(t, err)
	assert.NotNil(t, res.Totals)
	assert.Empty(t, res.Totals)
}

func TestAggregator_Totals_SingleDay(t *testing.T) {
	a, _, _ := newTestAggregator(t)

	res, err := a.Totals(context.Background(), rangeQuery("2026-03-01", "2026-03-01", true))
	require.NoError(t, err)
	require.Len(t, res.Totals, 1)
	assertCalories(t, "0", res.Totals[0].TotalCalories)
}

func TestAggregator_Totals_StartAfterEnd(t *testing.T) {
	a, _, _ := newTestAggregator(t)

	_, err := a.Totals(context.Background(), rangeQuery("2026-02-05", "2026-02-01", true))
	require.Error(t, err)
	assert.True(t, intake.IsClientError(err))
	assert.ErrorIs(t, err, intake.ErrInvalidRange)
}

func TestAggregator_RangeCapAppliesOnlyToGapFill(t *testing.T) {
	// GIVEN: A 10-day cap and activity on one day of a 60-day range
	a, o, _ := newTestAggregator(t)
	a.MaxRangeDays = 10
	ctx := context.Background()
	_, err := o.Log(ctx, logCmd("2026-02-03", intake.MealLunch, item("soup", "120")))
	require.NoError(t, err)

	// WHEN/THEN: Reads returning only stored rows are not capped
	flat, err := a.Totals(ctx, rangeQuery("2026-01-01", "2026-03-01", false))
	require.NoError(t, err)
	require.Len(t, flat.Totals, 1)
	assertCalories(t, "120", flat.Totals[0].TotalCalories)

	grouped, err := a.TotalsByMealType(ctx, rangeQuery("2026-01-01", "2026-03-01", false))
	require.NoError(t, err)
	assert.Len(t, grouped.Totals, 1)

	r := intake.DateRange{Start: intake.MustParseDate("2026-01-01"), End: intake.MustParseDate("2026-03-01")}
	entries, err := a.ListEntries(ctx, intake.EntryFilter{Range: &r})
	require.NoError(t, err)
	assert.Len(t, entries, 1)

	// AND: Gap-filled reads past the cap are rejected
	var ve *intake.ValidationError
	_, err = a.Totals(ctx, rangeQuery("2026-01-01", "2026-03-01", true))
	require.ErrorAs(t, err, &ve)
	assert.Equal(t, "end", ve.Field)
	_, err = a.TotalsByMealType(ctx, rangeQuery("2026-01-01", "2026-03-01", true))
	assert.True(t, intake.IsClientError(err))

	// AND: A gap-filled read at the cap succeeds
	capped, err := a.Totals(ctx, rangeQuery("2026-02-01", "2026-02-10", true))
	require.NoError(t, err)
	assert.Len(t, capped.Totals, 10)
}

func TestAggregator_Totals_GapFillAcrossMonthAndLeapDay(t *testing.T) {
	a, _, _ := newTestAggregator(t)

	res, err := a.Totals(context.Background(), rangeQuery("2028-02-27", "2028-03-02", true))
	require.NoError(t, err)

	var dates []string
	for _, r := range res.Totals {
		dates = append(dates, r.Date.String())
	}
	assert.Equal(t, []string{"2028-02-27", "2028-02-28", "2028-02-29", "2028-03-01", "2028-03-02"}, dates)
}

func TestAggregator_ReadsAreIdempotent(t *testing.T) {
	a, o, _ := newTestAggregator(t)
	ctx := context.Background()

	_, err := o.Log(ctx, logCmd("2026-02-03", intake.MealLunch, item("ramen", "540")))
	require.NoError(t, err)

	q := rangeQuery("2026-02-01", "2026-02-07", true)
	first, err := a.Totals(ctx, q)
	require.NoError(t, err)
	second, err := a.Totals(ctx, q)
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

// =============================================================================
// GROUPED TOTALS
// =============================================================================

func TestAggregator_TotalsByMealType(t *testing.T) {
	// GIVEN: Lunch 200 + 100 and a 50 snack on 02-03
	// THEN: lunch=300, snacks=50, breakfast=dinner=0

	a, o, _ := newTestAggregator(t)
	ctx := context.Background()

	_, err := o.Log(ctx, logCmd("2026-02-03", intake.MealLunch, item("sandwich", "200"), item("chips", "100")))
	require.NoError(t, err)
	_, err = o.Log(ctx, logCmd("2026-02-03", intake.MealSnacks, item("grapes", "50")))
	require.NoError(t, err)

	res, err := a.TotalsByMealType(ctx, rangeQuery("2026-02-01", "2026-02-05", false))
	require.NoError(t, err)
	require.Len(t, res.Totals, 1)

	row := res.Totals[0]
	assert.Equal(t, "2026-02-03", row.Date.String())
	assert.Len(t, row.Totals, 4)
	assertCalories(t, "300", row.Totals[intake.MealLunch])
	assertCalories(t, "50", row.Totals[intake.MealSnacks])
	assertCalories(t, "0", row.Totals[intake.MealBreakfast])
	assertCalories(t, "0", row.Totals[intake.MealDinner])
}

func TestAggregator_TotalsByMealType_GapFill(t *testing.T) {
	a, o, _ := newTestAggregator(t)
	ctx := context.Background()

	_, err := o.Log(ctx, logCmd("2026-02-03", intake.MealDinner, item("steak", "700")))
	require.NoError(t, err)

	res, err := a.TotalsByMealType(ctx, rangeQuery("2026-02-02", "2026-02-04", true))
	require.NoError(t, err)
	require.Len(t, res.Totals, 3)
	for _, row := range res.Totals {
		assert.Len(t, row.Totals, 4, "every row carries all four buckets")
	}
	assertCalories(t, "700", res.Totals[1].Totals[intake.MealDinner])
	assertCalories(t, "0", res.Totals[0].Totals[intake.MealDinner])
}

func TestAggregator_TotalsByMealType_DropsUnknownMealTypes(t *testing.T) {
	// GIVEN: A store row with a legacy meal type written outside validation
	a, _, mem := newTestAggregator(t)
	ctx := context.Background()

	_, err := mem.InsertEntry(ctx, intake.Entry{
		Date:     intake.MustParseDate("2026-02-03"),
		MealType: intake.MealType("brunch"),
		Item:     "mimosa",
		Calories: dec("120"),
	})
	require.NoError(t, err)

	res, err := a.TotalsByMealType(ctx, rangeQuery("2026-02-03", "2026-02-03", false))
	require.NoError(t, err)
	require.Len(t, res.Totals, 1)
	assert.Len(t, res.Totals[0].Totals, 4)
	for _, mt := range intake.MealTypes {
		assertCalories(t, "0", res.Totals[0].Totals[mt])
	}
}

func TestAggregator_GroupedMatchesFlat(t *testing.T) {
	a, o, _ := newTestAggregator(t)
	ctx := context.Background()

	for i, meal := range intake.MealTypes {
		_, err := o.Log(ctx, logCmd("2026-02-0"+string(rune('1'+i)), meal, item("x", "123.45")))
		require.NoError(t, err)
		_, err = o.Log(ctx, logCmd("2026-02-03", meal, item("y", "10.1")))
		require.NoError(t, err)
	}

	q := rangeQuery("2026-02-01", "2026-02-06", true)
	flat, err := a.Totals(ctx, q)
	require.NoError(t, err)
	grouped, err := a.TotalsByMealType(ctx, q)
	require.NoError(t, err)
	require.Len(t, grouped.Totals, len(flat.Totals))

	for i := range flat.Totals {
		sum := dec("0")
		for _, v := range grouped.Totals[i].Totals {
			sum = sum.Add(v)
		}
		assertCalories(t, flat.Totals[i].TotalCalories.String(), sum, "date %s", flat.Totals[i].Date)
	}
}

// =============================================================================
// TRAILING WINDOW
// =============================================================================

func TestAggregator_Trailing(t *testing.T) {
	// GIVEN: Today is 2026-02-03
	// WHEN: Asking for the last 7 days with gap fill
	// THEN: Seven rows, 01-28 .. 02-03

	a, o, _ := newTestAggregator(t)
	ctx := context.Background()

	_, err := o.Log(ctx, logCmd("2026-02-03", intake.MealLunch, item("pho", "450")))
	require.NoError(t, err)
	_, err = o.Log(ctx, logCmd("2026-01-27", intake.MealLunch, item("outside", "999")))
	require.NoError(t, err)

	res, err := a.Trailing(ctx, 7, true)
	require.NoError(t, err)
	require.Len(t, res.Totals, 7)
	assert.Equal(t, "2026-01-28", res.Range.Start.String())
	assert.Equal(t, "2026-02-03", res.Range.End.String())
	assertCalories(t, "450", res.Totals[6].TotalCalories)

	one, err := a.Trailing(ctx, 1, false)
	require.NoError(t, err)
	require.Len(t, one.Totals, 1)
	assert.Equal(t, "2026-02-03", one.Totals[0].Date.String())
}

func TestAggregator_Trailing_UsesServiceLocation(t *testing.T) {
	// 2026-02-03T12:30Z is already 02-04 in Auckland (UTC+13)
	a, _, _ := newTestAggregator(t)
	loc, err := time.LoadLocation("Pacific/Auckland")
	if err != nil {
		t.Skip("tzdata not available")
	}
	a.Location = loc

	res, err := a.Trailing(context.Background(), 1, true)
	require.NoError(t, err)
	assert.Equal(t, "2026-02-04", res.Range.End.String())
}

func TestAggregator_Trailing_RejectsNonPositive(t *testing.T) {
	a, _, _ := newTestAggregator(t)
	_, err := a.Trailing(context.Background(), 0, true)
	assert.True(t, intake.IsClientError(err))
}

// =============================================================================
// POINT READ AND LISTING
// =============================================================================

func TestAggregator_DayTotal_AbsentIsZero(t *testing.T) {
	a, _, _ := newTestAggregator(t)

	res, err := a.DayTotal(context.Background(), intake.MustParseDate("1999-12-31"))
	require.NoError(t, err)
	assertCalories(t, "0", res.TotalCalories)
}

func TestAggregator_ListEntries_Order(t *testing.T) {
	// date ascending, then most recent timestamp first
	a, o, _ := newTestAggregator(t)
	ctx := context.Background()

	now := fixedNow
	o.Clock = func() time.Time { return now }

	_, err := o.Log(ctx, logCmd("2026-02-04", intake.MealLunch, item("late-day", "1")))
	require.NoError(t, err)
	_, err = o.Log(ctx, logCmd("2026-02-03", intake.MealLunch, item("older", "1")))
	require.NoError(t, err)
	now = now.Add(time.Hour)
	_, err = o.Log(ctx, logCmd("2026-02-03", intake.MealLunch, item("newer", "1")))
	require.NoError(t, err)

	r := intake.DateRange{Start: intake.MustParseDate("2026-02-01"), End: intake.MustParseDate("2026-02-28")}
	entries, err := a.ListEntries(ctx, intake.EntryFilter{Range: &r})
	require.NoError(t, err)

	var names []string
	for _, e := range entries {
		names = append(names, e.Item)
	}
	assert.Equal(t, []string{"newer", "older", "late-day"}, names)

	day := intake.MustParseDate("2026-02-03")
	page, err := a.ListEntries(ctx, intake.EntryFilter{Date: &day, Limit: 1, Offset: 1})
	require.NoError(t, err)
	require.Len(t, page, 1)
	assert.Equal(t, "older", page[0].Item)
}

func TestAggregator_Entry_NotFound(t *testing.T) {
	a, _, _ := newTestAggregator(t)
	_, err := a.Entry(context.Background(), "missing")
	assert.True(t, intake.IsNotFound(err))
}
