/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. Domain types carry
  decimals and Date values; DTOs carry the wire representation:
  - dates as YYYY-MM-DD strings
  - calories as JSON numbers with at most two decimal places
  - timestamps as fixed-width ISO-8601 UTC

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients
  - *Response: Operation result wrappers

REQUEST BODIES:
  Create and update bodies are decoded into map[string]any and handed to
  intake.Validator, which owns coercion. Only the admin bodies have typed
  request structs.

SEE ALSO:
  - handlers.go: Uses these types
  - intake/validate.go: Coercion of untyped input
*/
package api

import (
	"encoding/json"

	"github.com/shopspring/decimal"
	"github.com/warp/intake-ledger/intake"
)

// calories renders d as a JSON number with two-place precision.
func calories(d decimal.Decimal) json.Number {
	return json.Number(intake.Round2(d).String())
}

// =============================================================================
// ENTRIES
// =============================================================================

// EntryDTO represents an entry in API responses.
type EntryDTO struct {
	ID         string      `json:"id"`
	Timestamp  string      `json:"timestamp"`
	Date       string      `json:"date"`
	MealType   string      `json:"meal_type"`
	Item       string      `json:"item"`
	Quantity   string      `json:"quantity"`
	Calories   json.Number `json:"calories"`
	Confidence json.Number `json:"confidence"`
	Source     string      `json:"source"`
	RawText    string      `json:"raw_text"`
}

func toEntryDTO(e intake.Entry) EntryDTO {
	return EntryDTO{
		ID:         string(e.ID),
		Timestamp:  intake.FormatTimestamp(e.Timestamp),
		Date:       e.Date.String(),
		MealType:   string(e.MealType),
		Item:       e.Item,
		Quantity:   e.Quantity,
		Calories:   calories(e.Calories),
		Confidence: calories(e.Confidence),
		Source:     e.Source,
		RawText:    e.RawText,
	}
}

func toEntryDTOs(entries []intake.Entry) []EntryDTO {
	dtos := make([]EntryDTO, len(entries))
	for i, e := range entries {
		dtos[i] = toEntryDTO(e)
	}
	return dtos
}

// EntryListResponse is a page of entries.
type EntryListResponse struct {
	Entries []EntryDTO `json:"entries"`
	Limit   int        `json:"limit"`
	Offset  int        `json:"offset"`
}

// LogResponse is returned by the create (log) operation.
type LogResponse struct {
	Date          string      `json:"date"`
	TotalCalories json.Number `json:"total_calories"`
	EntryIDs      []string    `json:"entry_ids"`
}

func toLogResponse(res intake.LogResult) LogResponse {
	ids := make([]string, len(res.EntryIDs))
	for i, id := range res.EntryIDs {
		ids[i] = string(id)
	}
	return LogResponse{
		Date:          res.Date.String(),
		TotalCalories: calories(res.TotalCalories),
		EntryIDs:      ids,
	}
}

// MutationResponse is returned by update and delete.
type MutationResponse struct {
	EntryID       string      `json:"entry_id"`
	Date          string      `json:"date"`
	TotalCalories json.Number `json:"total_calories"`
}

func toMutationResponse(res intake.MutationResult) MutationResponse {
	return MutationResponse{
		EntryID:       string(res.EntryID),
		Date:          res.Date.String(),
		TotalCalories: calories(res.TotalCalories),
	}
}

// =============================================================================
// TOTALS
// =============================================================================

// DailyTotalDTO is one ledger row.
type DailyTotalDTO struct {
	Date          string      `json:"date"`
	TotalCalories json.Number `json:"total_calories"`
}

func toDailyTotalDTO(t intake.DailyTotal) DailyTotalDTO {
	return DailyTotalDTO{Date: t.Date.String(), TotalCalories: calories(t.TotalCalories)}
}

// RangeTotalsResponse is the flat range (and trailing window) result.
type RangeTotalsResponse struct {
	Start  string          `json:"start"`
	End    string          `json:"end"`
	Totals []DailyTotalDTO `json:"totals"`
}

func toRangeTotalsResponse(rt intake.RangeTotals) RangeTotalsResponse {
	totals := make([]DailyTotalDTO, len(rt.Totals))
	for i, t := range rt.Totals {
		totals[i] = toDailyTotalDTO(t)
	}
	return RangeTotalsResponse{
		Start:  rt.Range.Start.String(),
		End:    rt.Range.End.String(),
		Totals: totals,
	}
}

// MealTotalsDTO is the four-bucket breakdown for one date.
type MealTotalsDTO struct {
	Breakfast json.Number `json:"breakfast"`
	Lunch     json.Number `json:"lunch"`
	Dinner    json.Number `json:"dinner"`
	Snacks    json.Number `json:"snacks"`
}

// GroupedTotalDTO is one date of a grouped range result.
type GroupedTotalDTO struct {
	Date   string        `json:"date"`
	Totals MealTotalsDTO `json:"totals"`
}

// GroupedTotalsResponse is the grouped-by-meal-type range result.
type GroupedTotalsResponse struct {
	Start  string            `json:"start"`
	End    string            `json:"end"`
	Group  string            `json:"group"`
	Totals []GroupedTotalDTO `json:"totals"`
}

func toGroupedTotalsResponse(gt intake.GroupedRangeTotals) GroupedTotalsResponse {
	totals := make([]GroupedTotalDTO, len(gt.Totals))
	for i, t := range gt.Totals {
		totals[i] = GroupedTotalDTO{
			Date: t.Date.String(),
			Totals: MealTotalsDTO{
				Breakfast: calories(t.Totals[intake.MealBreakfast]),
				Lunch:     calories(t.Totals[intake.MealLunch]),
				Dinner:    calories(t.Totals[intake.MealDinner]),
				Snacks:    calories(t.Totals[intake.MealSnacks]),
			},
		}
	}
	return GroupedTotalsResponse{
		Start:  gt.Range.Start.String(),
		End:    gt.Range.End.String(),
		Group:  "meal_type",
		Totals: totals,
	}
}

// =============================================================================
// ADMIN
// =============================================================================

// ReconcileRequest selects the dates to check. Both bounds are required.
type ReconcileRequest struct {
	Start string `json:"start"`
	End   string `json:"end"`
}

// RepairDTO is one corrected ledger row.
type RepairDTO struct {
	Date   string      `json:"date"`
	Ledger json.Number `json:"ledger"`
	Actual json.Number `json:"actual"`
	Delta  json.Number `json:"delta"`
}

// ReconcileResponse summarizes a reconciliation pass.
type ReconcileResponse struct {
	Start   string      `json:"start"`
	End     string      `json:"end"`
	Checked int         `json:"checked"`
	Repairs []RepairDTO `json:"repairs"`
}

func toReconcileResponse(rep intake.ReconcileReport) ReconcileResponse {
	repairs := make([]RepairDTO, len(rep.Repairs))
	for i, r := range rep.Repairs {
		repairs[i] = RepairDTO{
			Date:   r.Date.String(),
			Ledger: calories(r.Ledger),
			Actual: calories(r.Actual),
			Delta:  calories(r.Delta),
		}
	}
	return ReconcileResponse{
		Start:   rep.Range.Start.String(),
		End:     rep.Range.End.String(),
		Checked: rep.Checked,
		Repairs: repairs,
	}
}

// ExportRequest asks for an export to be written to the blob sink.
type ExportRequest struct {
	Start  string `json:"start"`
	End    string `json:"end"`
	Format string `json:"format"`
}

// =============================================================================
// ERRORS
// =============================================================================

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error   string        `json:"error"`
	Code    string        `json:"code"`
	Details *ErrorDetails `json:"details,omitempty"`
}

// ErrorDetails points at the offending input field, when known.
type ErrorDetails struct {
	Field string `json:"field"`
}
