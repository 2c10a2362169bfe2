package domain

import (
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
)

var validate = validator.New()

// DateLayouts are the accepted textual date forms, tried in order.
var DateLayouts = []string{time.RFC3339, "2006-01-02T15:04", "2006-01-02"}

// Value is the polymorphic payload of an InputInstance. Exactly one slot is
// populated, chosen by the templated InputType.
type Value struct {
	Text           string           `json:"text,omitempty"`
	Number         *decimal.Decimal `json:"number,omitempty"`
	Bool           *bool            `json:"bool,omitempty"`
	Date           *time.Time       `json:"date,omitempty"`
	DropdownItemID *int64           `json:"dropdown_item_id,omitempty"`
}

func (v Value) IsEmpty() bool {
	return v.Text == "" && v.Number == nil && v.Bool == nil && v.Date == nil && v.DropdownItemID == nil
}

func (v Value) Equal(o Value) bool {
	if v.Text != o.Text {
		return false
	}
	if (v.Number == nil) != (o.Number == nil) || (v.Number != nil && !v.Number.Equal(*o.Number)) {
		return false
	}
	if (v.Bool == nil) != (o.Bool == nil) || (v.Bool != nil && *v.Bool != *o.Bool) {
		return false
	}
	if (v.Date == nil) != (o.Date == nil) || (v.Date != nil && !v.Date.Equal(*o.Date)) {
		return false
	}
	if (v.DropdownItemID == nil) != (o.DropdownItemID == nil) || (v.DropdownItemID != nil && *v.DropdownItemID != *o.DropdownItemID) {
		return false
	}
	return true
}

// String renders the value the way conditions compare it lexically.
func (v Value) String() string {
	switch {
	case v.Number != nil:
		return v.Number.String()
	case v.Bool != nil:
		return strconv.FormatBool(*v.Bool)
	case v.Date != nil:
		return v.Date.UTC().Format(time.RFC3339)
	case v.DropdownItemID != nil:
		return strconv.FormatInt(*v.DropdownItemID, 10)
	}
	return v.Text
}

// ZeroValue is the type-appropriate empty value used when a template has no default.
func ZeroValue(t InputType) Value {
	switch {
	case t.Numeric():
		zero := decimal.Zero
		return Value{Number: &zero}
	case t == InputBoolean:
		f := false
		return Value{Bool: &f}
	}
	return Value{}
}

// ParseScalar converts raw user input into a Value for every type except
// DROPDOWN, CHECKBOX and TABLE, whose payloads live elsewhere on the instance.
// An empty raw string clears the value.
func ParseScalar(t InputType, raw string) (Value, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return Value{}, nil
	}
	switch {
	case t.Numeric():
		d, err := decimal.NewFromString(raw)
		if err != nil {
			return Value{}, &ValidationError{Field: "value", Reason: "not a number: " + raw}
		}
		return Value{Number: &d}, nil
	case t.Temporal():
		when, err := ParseDate(raw)
		if err != nil {
			return Value{}, err
		}
		return Value{Date: &when}, nil
	case t == InputBoolean:
		b, err := strconv.ParseBool(raw)
		if err != nil {
			return Value{}, &ValidationError{Field: "value", Reason: "not a boolean: " + raw}
		}
		return Value{Bool: &b}, nil
	case t == InputEmail:
		if err := validate.Var(raw, "email"); err != nil {
			return Value{}, &ValidationError{Field: "value", Reason: "not an email address: " + raw}
		}
		return Value{Text: raw}, nil
	case t.Textual():
		return Value{Text: raw}, nil
	}
	return Value{}, &ValidationError{Field: "value", Reason: "type " + string(t) + " does not take a scalar value"}
}

func ParseDate(raw string) (time.Time, error) {
	for _, layout := range DateLayouts {
		if when, err := time.Parse(layout, raw); err == nil {
			return when.UTC(), nil
		}
	}
	return time.Time{}, &ValidationError{Field: "value", Reason: "not a date: " + raw}
}

// ParseUserIDs splits a comma separated user id list such as "7,9".
func ParseUserIDs(raw string) ([]int64, error) {
	var ids []int64
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		id, err := strconv.ParseInt(part, 10, 64)
		if err != nil || id <= 0 {
			return nil, &ValidationError{Field: "action_value", Reason: "invalid user id " + part}
		}
		ids = append(ids, id)
	}
	if len(ids) == 0 {
		return nil, &ValidationError{Field: "action_value", Reason: "user id list is empty"}
	}
	return ids, nil
}
