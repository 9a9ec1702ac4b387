package intake

import (
	"github.com/shopspring/decimal"
)

// =============================================================================
// LOG (CREATE) COMMAND
// =============================================================================

// LogItem is one food item within a log request.
type LogItem struct {
	Name       string
	Quantity   string
	Calories   decimal.Decimal
	Confidence decimal.Decimal
}

// LogCommand creates one entry per item, all sharing date, meal type,
// source, raw text and creation timestamp.
type LogCommand struct {
	Date     Date
	MealType MealType
	Source   string
	RawText  string
	Items    []LogItem
}

// Validate checks the invariants the orchestrator relies on. It runs before
// any persistence.
func (c LogCommand) Validate() error {
	if c.Date.IsZero() {
		return &ValidationError{Field: "date", Reason: "is required"}
	}
	if !c.MealType.Valid() {
		return &ValidationError{Field: "meal_type", Reason: "must be one of breakfast, lunch, dinner, snacks"}
	}
	if len(c.Items) == 0 {
		return &ValidationError{Field: "items", Reason: "must contain at least one item"}
	}
	for _, it := range c.Items {
		if it.Name == "" {
			return &ValidationError{Field: "items.name", Reason: "is required"}
		}
		if it.Calories.IsNegative() {
			return &ValidationError{Field: "items.calories", Reason: "must not be negative"}
		}
		if err := CheckAmount("items.calories", it.Calories); err != nil {
			return err
		}
		if err := CheckAmount("items.confidence", it.Confidence); err != nil {
			return err
		}
	}
	return nil
}

// Delta is the ledger increment this command produces: the sum of the
// item calories, each rounded to two places first.
func (c LogCommand) Delta() decimal.Decimal {
	sum := decimal.Zero
	for _, it := range c.Items {
		sum = sum.Add(Round2(it.Calories))
	}
	return sum
}

// =============================================================================
// UPDATE COMMAND - Sparse field-level merge
// =============================================================================

// EntryPatch holds the fields to change. Nil means "keep the stored value".
type EntryPatch struct {
	Date       *Date
	MealType   *MealType
	Item       *string
	Quantity   *string
	Calories   *decimal.Decimal
	Confidence *decimal.Decimal
	Source     *string
	RawText    *string
}

// IsEmpty reports whether the patch changes nothing.
func (p EntryPatch) IsEmpty() bool {
	return p.Date == nil && p.MealType == nil && p.Item == nil && p.Quantity == nil &&
		p.Calories == nil && p.Confidence == nil && p.Source == nil && p.RawText == nil
}

// Apply merges the patch over e. ID and Timestamp are never touched.
func (p EntryPatch) Apply(e Entry) Entry {
	if p.Date != nil {
		e.Date = *p.Date
	}
	if p.MealType != nil {
		e.MealType = *p.MealType
	}
	if p.Item != nil {
		e.Item = *p.Item
	}
	if p.Quantity != nil {
		e.Quantity = *p.Quantity
	}
	if p.Calories != nil {
		e.Calories = Round2(*p.Calories)
	}
	if p.Confidence != nil {
		e.Confidence = Round2(*p.Confidence)
	}
	if p.Source != nil {
		e.Source = *p.Source
	}
	if p.RawText != nil {
		e.RawText = *p.RawText
	}
	return e
}

// Validate checks the fields that carry invariants.
func (p EntryPatch) Validate() error {
	if p.Date != nil && p.Date.IsZero() {
		return &ValidationError{Field: "date", Reason: "must be YYYY-MM-DD"}
	}
	if p.MealType != nil && !p.MealType.Valid() {
		return &ValidationError{Field: "meal_type", Reason: "must be one of breakfast, lunch, dinner, snacks"}
	}
	if p.Calories != nil {
		if p.Calories.IsNegative() {
			return &ValidationError{Field: "calories", Reason: "must not be negative"}
		}
		if err := CheckAmount("calories", *p.Calories); err != nil {
			return err
		}
	}
	if p.Confidence != nil {
		if err := CheckAmount("confidence", *p.Confidence); err != nil {
			return err
		}
	}
	return nil
}

type UpdateCommand struct {
	EntryID EntryID
	Patch   EntryPatch
}

// =============================================================================
// RANGE QUERY
// =============================================================================

type RangeQuery struct {
	Range        DateRange
	IncludeEmpty bool
}
