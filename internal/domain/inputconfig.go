package domain

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"regexp"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/shopspring/decimal"
)

// InputConfig is the type-specific configuration of an InputTemplate. The
// interface is sealed: only the variants in this file implement it, and each
// variant accepts a fixed family of input types.
type InputConfig interface {
	Accepts(t InputType) bool
	// Validate checks the configuration itself.
	Validate() error
	// Check validates a parsed value against the configured rules.
	Check(v Value) error
	sealed()
}

// TextRules apply to free-text inputs.
type TextRules struct {
	MinLength *int   `json:"min_length,omitempty" yaml:"min_length,omitempty"`
	MaxLength *int   `json:"max_length,omitempty" yaml:"max_length,omitempty"`
	Pattern   string `json:"pattern,omitempty" yaml:"pattern,omitempty"`
}

func (*TextRules) sealed() {}

func (*TextRules) Accepts(t InputType) bool {
	switch t {
	case InputText, InputTextarea, InputEmail, InputPhone, InputRichText:
		return true
	}
	return false
}

func (r *TextRules) Validate() error {
	if r.MinLength != nil && *r.MinLength < 0 {
		return &ValidationError{Field: "config.min_length", Reason: "must not be negative"}
	}
	if r.MinLength != nil && r.MaxLength != nil && *r.MinLength > *r.MaxLength {
		return &ValidationError{Field: "config.max_length", Reason: "must be >= min_length"}
	}
	if r.Pattern != "" {
		if _, err := regexp.Compile(r.Pattern); err != nil {
			return &ValidationError{Field: "config.pattern", Reason: err.Error()}
		}
	}
	return nil
}

func (r *TextRules) Check(v Value) error {
	if v.Text == "" {
		return nil
	}
	n := utf8.RuneCountInString(v.Text)
	if r.MinLength != nil && n < *r.MinLength {
		return &ValidationError{Field: "value", Reason: fmt.Sprintf("shorter than %d characters", *r.MinLength)}
	}
	if r.MaxLength != nil && n > *r.MaxLength {
		return &ValidationError{Field: "value", Reason: fmt.Sprintf("longer than %d characters", *r.MaxLength)}
	}
	if r.Pattern != "" {
		re, err := regexp.Compile(r.Pattern)
		if err != nil {
			return &ValidationError{Field: "config.pattern", Reason: err.Error()}
		}
		if !re.MatchString(v.Text) {
			return &ValidationError{Field: "value", Reason: "does not match pattern " + r.Pattern}
		}
	}
	return nil
}

// NumberRules apply to NUMBER and AMOUNT inputs.
type NumberRules struct {
	Min      *decimal.Decimal `json:"min,omitempty" yaml:"min,omitempty"`
	Max      *decimal.Decimal `json:"max,omitempty" yaml:"max,omitempty"`
	Currency string           `json:"currency,omitempty" yaml:"currency,omitempty"`
}

func (*NumberRules) sealed() {}

func (*NumberRules) Accepts(t InputType) bool { return t.Numeric() }

func (r *NumberRules) Validate() error {
	if r.Min != nil && r.Max != nil && r.Min.GreaterThan(*r.Max) {
		return &ValidationError{Field: "config.max", Reason: "must be >= min"}
	}
	return nil
}

func (r *NumberRules) Check(v Value) error {
	if v.Number == nil {
		return nil
	}
	if r.Min != nil && v.Number.LessThan(*r.Min) {
		return &ValidationError{Field: "value", Reason: "below minimum " + r.Min.String()}
	}
	if r.Max != nil && v.Number.GreaterThan(*r.Max) {
		return &ValidationError{Field: "value", Reason: "above maximum " + r.Max.String()}
	}
	return nil
}

// DateRules bound DATE inputs.
type DateRules struct {
	MinDate *time.Time `json:"min_date,omitempty" yaml:"min_date,omitempty"`
	MaxDate *time.Time `json:"max_date,omitempty" yaml:"max_date,omitempty"`
}

func (*DateRules) sealed() {}

func (*DateRules) Accepts(t InputType) bool { return t.Temporal() }

func (r *DateRules) Validate() error {
	if r.MinDate != nil && r.MaxDate != nil && r.MinDate.After(*r.MaxDate) {
		return &ValidationError{Field: "config.max_date", Reason: "must not precede min_date"}
	}
	return nil
}

func (r *DateRules) Check(v Value) error {
	if v.Date == nil {
		return nil
	}
	if r.MinDate != nil && v.Date.Before(*r.MinDate) {
		return &ValidationError{Field: "value", Reason: "before " + r.MinDate.Format("2006-01-02")}
	}
	if r.MaxDate != nil && v.Date.After(*r.MaxDate) {
		return &ValidationError{Field: "value", Reason: "after " + r.MaxDate.Format("2006-01-02")}
	}
	return nil
}

// FileRules constrain FILE and MULTIPLE_FILES inputs, whose value is the
// stored file name (comma separated for multiple files).
type FileRules struct {
	AllowedExtensions []string `json:"allowed_extensions,omitempty" yaml:"allowed_extensions,omitempty"`
	MaxSizeBytes      int64    `json:"max_size_bytes,omitempty" yaml:"max_size_bytes,omitempty"`
}

func (*FileRules) sealed() {}

func (*FileRules) Accepts(t InputType) bool { return t == InputFile || t == InputMultipleFiles }

func (r *FileRules) Validate() error {
	if r.MaxSizeBytes < 0 {
		return &ValidationError{Field: "config.max_size_bytes", Reason: "must not be negative"}
	}
	for _, ext := range r.AllowedExtensions {
		if strings.TrimSpace(ext) == "" {
			return &ValidationError{Field: "config.allowed_extensions", Reason: "empty extension"}
		}
	}
	return nil
}

func (r *FileRules) Check(v Value) error {
	if v.Text == "" || len(r.AllowedExtensions) == 0 {
		return nil
	}
	for _, name := range strings.Split(v.Text, ",") {
		ext := strings.TrimPrefix(strings.ToLower(filepath.Ext(strings.TrimSpace(name))), ".")
		ok := false
		for _, allowed := range r.AllowedExtensions {
			if strings.TrimPrefix(strings.ToLower(allowed), ".") == ext {
				ok = true
				break
			}
		}
		if !ok {
			return &ValidationError{Field: "value", Reason: fmt.Sprintf("file %q has a disallowed extension", strings.TrimSpace(name))}
		}
	}
	return nil
}

// TableColumn is one header of a TABLE input.
type TableColumn struct {
	Name  string `json:"name" yaml:"name"`
	Order int    `json:"order" yaml:"order"`
}

// TableSchema declares the columns a TABLE input is instantiated with.
type TableSchema struct {
	Columns []TableColumn `json:"columns" yaml:"columns"`
}

func (*TableSchema) sealed() {}

func (*TableSchema) Accepts(t InputType) bool { return t == InputTable }

func (s *TableSchema) Validate() error {
	names := map[string]bool{}
	orders := map[int]bool{}
	for _, c := range s.Columns {
		if strings.TrimSpace(c.Name) == "" {
			return &ValidationError{Field: "config.columns", Reason: "column name is required"}
		}
		if names[c.Name] {
			return &ValidationError{Field: "config.columns", Reason: "duplicate column " + c.Name}
		}
		if orders[c.Order] {
			return &DuplicateOrderError{Parent: "table schema", Order: c.Order}
		}
		names[c.Name] = true
		orders[c.Order] = true
	}
	return nil
}

func (*TableSchema) Check(Value) error { return nil }

// NewConfigFor returns an empty configuration variant for t, or nil when the
// type takes no configuration.
func NewConfigFor(t InputType) InputConfig {
	candidates := []InputConfig{&TextRules{}, &NumberRules{}, &DateRules{}, &FileRules{}, &TableSchema{}}
	for _, c := range candidates {
		if c.Accepts(t) {
			return c
		}
	}
	return nil
}

func decodeConfig(t InputType, raw json.RawMessage) (InputConfig, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return nil, nil
	}
	cfg := NewConfigFor(t)
	if cfg == nil {
		return nil, &ValidationError{Field: "config", Reason: "type " + string(t) + " takes no configuration"}
	}
	if err := json.Unmarshal(raw, cfg); err != nil {
		return nil, fmt.Errorf("decode %s config: %w", t, err)
	}
	return cfg, nil
}
