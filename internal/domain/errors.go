package domain

import (
	"errors"
	"fmt"
)

// ValidationError rejects a malformed edit or value.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "validation: " + e.Reason
	}
	return fmt.Sprintf("validation: %s: %s", e.Field, e.Reason)
}

// DuplicateOrderError reports a sibling order collision.
type DuplicateOrderError struct {
	Parent string
	Order  int
}

func (e *DuplicateOrderError) Error() string {
	return fmt.Sprintf("order %d already used under %s", e.Order, e.Parent)
}

// TypeMismatchError is raised when a condition cannot be applied to the input's type.
type TypeMismatchError struct {
	InputType InputType
	Condition ConditionType
	Reason    string
}

func (e *TypeMismatchError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("condition %s not applicable to %s input: %s", e.Condition, e.InputType, e.Reason)
	}
	return fmt.Sprintf("condition %s not applicable to %s input", e.Condition, e.InputType)
}

// TemplateNotFoundError reports a dangling template reference.
type TemplateNotFoundError struct {
	Kind string
	ID   int64
}

func (e *TemplateNotFoundError) Error() string {
	return fmt.Sprintf("%s template %d not found", e.Kind, e.ID)
}

// NoOpError refuses an action against terminal or immutable state.
type NoOpError struct {
	Reason string
}

func (e *NoOpError) Error() string { return "no-op: " + e.Reason }

// StaleUpdateError reports a failed version guard.
type StaleUpdateError struct {
	Entity   string
	ID       int64
	Expected int64
	Actual   int64
}

func (e *StaleUpdateError) Error() string {
	return fmt.Sprintf("stale update on %s %d: expected version %d, current %d", e.Entity, e.ID, e.Expected, e.Actual)
}

// InUseError rejects deleting or narrowing a template that instances still
// reference.
type InUseError struct {
	TemplateID int64
	Instances  int
}

func (e *InUseError) Error() string {
	return fmt.Sprintf("task template %d is referenced by %d instance(s)", e.TemplateID, e.Instances)
}

func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

func IsDuplicateOrder(err error) bool {
	var de *DuplicateOrderError
	return errors.As(err, &de)
}

func IsTypeMismatch(err error) bool {
	var te *TypeMismatchError
	return errors.As(err, &te)
}

func IsTemplateNotFound(err error) bool {
	var te *TemplateNotFoundError
	return errors.As(err, &te)
}

func IsNoOp(err error) bool {
	var ne *NoOpError
	return errors.As(err, &ne)
}

func IsStale(err error) bool {
	var se *StaleUpdateError
	return errors.As(err, &se)
}

func IsInUse(err error) bool {
	var ie *InUseError
	return errors.As(err, &ie)
}
