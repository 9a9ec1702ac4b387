/*
validate.go - Parse-and-validate boundary for untyped input

PURPOSE:
  HTTP bodies and MCP tool arguments arrive as decoded JSON maps. This file
  turns them into typed commands exactly once. Everything past this point
  works with LogCommand, UpdateCommand and RangeQuery.

NUMERIC POLICY:
  Calories and confidence are coerced to numbers and rounded to 2 places.
  What happens to non-numeric input is configurable:

    NumericLenient (default): non-numeric -> 0, the write proceeds
    NumericStrict:            non-numeric -> ValidationError

  Lenient mode can mask data-entry mistakes (a typo in calories silently
  contributes 0 to the day's total). Numbers, JSON numbers and numeric
  strings are accepted under both policies; NaN and Inf are non-numeric.

NULLS:
  A JSON null in an update map is treated the same as an absent key.
*/
package intake

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
)

// NumericPolicy controls coercion of malformed numbers.
type NumericPolicy string

const (
	NumericLenient NumericPolicy = "lenient"
	NumericStrict  NumericPolicy = "strict"
)

// ParseNumericPolicy accepts "", "lenient" or "strict".
func ParseNumericPolicy(s string) (NumericPolicy, error) {
	switch NumericPolicy(strings.ToLower(strings.TrimSpace(s))) {
	case "", NumericLenient:
		return NumericLenient, nil
	case NumericStrict:
		return NumericStrict, nil
	}
	return "", fmt.Errorf("unknown numeric policy %q", s)
}

// maxTrailingDays keeps trailing-window date arithmetic inside the calendar.
const maxTrailingDays = 1_000_000

// Validator coerces untyped input into typed commands.
type Validator struct {
	Policy NumericPolicy
}

// NewValidator returns a lenient validator.
func NewValidator() Validator {
	return Validator{Policy: NumericLenient}
}

// =============================================================================
// COMMANDS
// =============================================================================

// LogCommand parses {date, meal_type, source?, raw_text?, items:[...]}.
func (v Validator) LogCommand(raw map[string]any) (LogCommand, error) {
	var cmd LogCommand

	date, err := v.date("date", raw["date"])
	if err != nil {
		return cmd, err
	}
	cmd.Date = date

	mt, err := v.mealType(raw["meal_type"])
	if err != nil {
		return cmd, err
	}
	cmd.MealType = mt
	cmd.Source = CoerceString(raw["source"])
	cmd.RawText = CoerceString(raw["raw_text"])

	items, ok := raw["items"].([]any)
	if !ok || len(items) == 0 {
		return cmd, &ValidationError{Field: "items", Reason: "must be a non-empty array"}
	}
	for i, rawItem := range items {
		obj, ok := rawItem.(map[string]any)
		if !ok {
			return cmd, &ValidationError{Field: fmt.Sprintf("items[%d]", i), Reason: "must be an object"}
		}
		item, err := v.logItem(i, obj)
		if err != nil {
			return cmd, err
		}
		cmd.Items = append(cmd.Items, item)
	}

	return cmd, cmd.Validate()
}

func (v Validator) logItem(i int, obj map[string]any) (LogItem, error) {
	name := strings.TrimSpace(CoerceString(obj["name"]))
	if name == "" {
		return LogItem{}, &ValidationError{Field: fmt.Sprintf("items[%d].name", i), Reason: "is required"}
	}
	cal, err := v.Number(fmt.Sprintf("items[%d].calories", i), obj["calories"], true)
	if err != nil {
		return LogItem{}, err
	}
	conf, err := v.Number(fmt.Sprintf("items[%d].confidence", i), obj["confidence"], false)
	if err != nil {
		return LogItem{}, err
	}
	return LogItem{
		Name:       name,
		Quantity:   CoerceString(obj["quantity"]),
		Calories:   cal,
		Confidence: conf,
	}, nil
}

// UpdateCommand parses the sparse updates map for entry id.
func (v Validator) UpdateCommand(id string, updates map[string]any) (UpdateCommand, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return UpdateCommand{}, &ValidationError{Field: "entry_id", Reason: "is required"}
	}
	cmd := UpdateCommand{EntryID: EntryID(id)}
	p := &cmd.Patch

	if raw, ok := present(updates, "date"); ok {
		d, err := v.date("date", raw)
		if err != nil {
			return cmd, err
		}
		p.Date = &d
	}
	if raw, ok := present(updates, "meal_type"); ok {
		mt, err := v.mealType(raw)
		if err != nil {
			return cmd, err
		}
		p.MealType = &mt
	}
	if raw, ok := present(updates, "calories"); ok {
		cal, err := v.Number("calories", raw, true)
		if err != nil {
			return cmd, err
		}
		p.Calories = &cal
	}
	if raw, ok := present(updates, "confidence"); ok {
		conf, err := v.Number("confidence", raw, true)
		if err != nil {
			return cmd, err
		}
		p.Confidence = &conf
	}
	p.Item = optionalString(updates, "item")
	p.Quantity = optionalString(updates, "quantity")
	p.Source = optionalString(updates, "source")
	p.RawText = optionalString(updates, "raw_text")

	return cmd, p.Validate()
}

// RangeQuery parses start/end (inclusive) and the include_empty flag. The
// length is not bounded here; the aggregator caps only gap-filled reads.
func (v Validator) RangeQuery(start, end string, includeEmpty any) (RangeQuery, error) {
	r, err := ParseDateRange(start, end)
	if err != nil {
		return RangeQuery{}, err
	}
	return RangeQuery{Range: r, IncludeEmpty: CoerceBool(includeEmpty)}, nil
}

// TrailingDays parses the window size of a "last N days" read. N must be a
// finite positive number; fractional N truncates toward zero after
// subtracting the current day.
func (v Validator) TrailingDays(raw any) (int, error) {
	n, ok := toFloat(raw)
	if !ok || math.IsNaN(n) || math.IsInf(n, 0) || n <= 0 {
		return 0, &ValidationError{Field: "days", Reason: "must be a positive number"}
	}
	if n > maxTrailingDays {
		return 0, &ValidationError{Field: "days", Reason: fmt.Sprintf("must not exceed %d", maxTrailingDays)}
	}
	return int(math.Trunc(n-1)) + 1, nil
}

// =============================================================================
// FIELD COERCION
// =============================================================================

// Number coerces v to a 2-place decimal under the validator's policy.
// A missing value is 0 unless required and strict. Numbers beyond MaxAmount
// are rejected under both policies.
func (v Validator) Number(field string, raw any, required bool) (decimal.Decimal, error) {
	if raw == nil {
		if required && v.Policy == NumericStrict {
			return decimal.Zero, &ValidationError{Field: field, Reason: "is required"}
		}
		return decimal.Zero, nil
	}
	d, ok := CoerceNumber(raw)
	if !ok {
		if v.Policy == NumericStrict {
			return decimal.Zero, &ValidationError{Field: field, Reason: fmt.Sprintf("must be a number, got %v", raw)}
		}
		return decimal.Zero, nil
	}
	if err := CheckAmount(field, d); err != nil {
		return decimal.Zero, err
	}
	return Round2(d), nil
}

func (v Validator) date(field string, raw any) (Date, error) {
	s, ok := raw.(string)
	if !ok || s == "" {
		return Date{}, &ValidationError{Field: field, Reason: "is required (YYYY-MM-DD)"}
	}
	d, err := ParseDate(strings.TrimSpace(s))
	if err != nil {
		return Date{}, &ValidationError{Field: field, Reason: "must be YYYY-MM-DD: " + s}
	}
	return d, nil
}

func (v Validator) mealType(raw any) (MealType, error) {
	mt, ok := ParseMealType(CoerceString(raw))
	if !ok {
		return "", &ValidationError{Field: "meal_type", Reason: fmt.Sprintf("must be one of breakfast, lunch, dinner, snacks, got %q", CoerceString(raw))}
	}
	return mt, nil
}

// CoerceNumber converts JSON-decoded values and numeric strings. The second
// result is false for anything non-numeric.
func CoerceNumber(raw any) (decimal.Decimal, bool) {
	switch n := raw.(type) {
	case float64:
		if math.IsNaN(n) || math.IsInf(n, 0) {
			return decimal.Zero, false
		}
		return decimal.NewFromFloat(n), true
	case float32:
		return CoerceNumber(float64(n))
	case int:
		return decimal.NewFromInt(int64(n)), true
	case int64:
		return decimal.NewFromInt(n), true
	case json.Number:
		d, err := decimal.NewFromString(n.String())
		return d, err == nil
	case decimal.Decimal:
		return n, true
	case string:
		s := strings.TrimSpace(n)
		if s == "" {
			return decimal.Zero, true
		}
		d, err := decimal.NewFromString(s)
		return d, err == nil
	}
	return decimal.Zero, false
}

// CoerceString renders any JSON scalar as a string; nil becomes "".
func CoerceString(raw any) string {
	switch s := raw.(type) {
	case nil:
		return ""
	case string:
		return s
	case float64:
		return strconv.FormatFloat(s, 'f', -1, 64)
	case json.Number:
		return s.String()
	case bool:
		return strconv.FormatBool(s)
	}
	return fmt.Sprint(raw)
}

// CoerceBool accepts true, "true", "1", "yes" (any case) and numbers != 0.
func CoerceBool(raw any) bool {
	switch b := raw.(type) {
	case bool:
		return b
	case string:
		switch strings.ToLower(strings.TrimSpace(b)) {
		case "true", "1", "yes":
			return true
		}
	case float64:
		return b != 0
	}
	return false
}

func toFloat(raw any) (float64, bool) {
	if s, ok := raw.(string); ok && strings.TrimSpace(s) == "" {
		return 0, false
	}
	d, ok := CoerceNumber(raw)
	if !ok {
		return 0, false
	}
	f, _ := d.Float64()
	if n, isFloat := raw.(float64); isFloat {
		f = n
	}
	return f, true
}

func present(m map[string]any, key string) (any, bool) {
	v, ok := m[key]
	if !ok || v == nil {
		return nil, false
	}
	return v, true
}

func optionalString(m map[string]any, key string) *string {
	raw, ok := present(m, key)
	if !ok {
		return nil
	}
	s := CoerceString(raw)
	return &s
}
