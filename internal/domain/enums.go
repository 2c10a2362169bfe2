package domain

import "strings"

type InputType string

const (
	InputFile          InputType = "FILE"
	InputMultipleFiles InputType = "MULTIPLE_FILES"
	InputText          InputType = "TEXT"
	InputTextarea      InputType = "TEXTAREA"
	InputNumber        InputType = "NUMBER"
	InputEmail         InputType = "EMAIL"
	InputPhone         InputType = "PHONE"
	InputDropdown      InputType = "DROPDOWN"
	InputAmount        InputType = "AMOUNT"
	InputTable         InputType = "TABLE"
	InputCheckbox      InputType = "CHECKBOX"
	InputDate          InputType = "DATE"
	InputBoolean       InputType = "BOOLEAN"
	InputRichText      InputType = "RICH_TEXT_EDITOR"
	InputLookups       InputType = "LOOK_UPS"
)

var inputTypes = []InputType{
	InputFile, InputMultipleFiles, InputText, InputTextarea, InputNumber, InputEmail, InputPhone,
	InputDropdown, InputAmount, InputTable, InputCheckbox, InputDate, InputBoolean, InputRichText, InputLookups,
}

func (t InputType) Valid() bool { return contains(inputTypes, t) }

// Numeric reports whether values of this type compare as decimals.
func (t InputType) Numeric() bool { return t == InputNumber || t == InputAmount }

// Temporal reports whether values of this type compare as dates.
func (t InputType) Temporal() bool { return t == InputDate }

// Ordered reports whether LESS_THAN/GREATER_THAN style conditions apply.
func (t InputType) Ordered() bool { return t.Numeric() || t.Temporal() }

// Textual reports whether the value is stored as free text.
func (t InputType) Textual() bool {
	switch t {
	case InputText, InputTextarea, InputEmail, InputPhone, InputRichText, InputLookups, InputFile, InputMultipleFiles:
		return true
	}
	return false
}

func ParseInputType(s string) (InputType, error) {
	t := InputType(strings.ToUpper(strings.TrimSpace(s)))
	if !t.Valid() {
		return "", &ValidationError{Field: "type", Reason: "unknown input type " + s}
	}
	return t, nil
}

type ConditionType string

const (
	CondEquals            ConditionType = "EQUALS"
	CondLessThan          ConditionType = "LESS_THAN"
	CondLessThanEquals    ConditionType = "LESS_THAN_EQUALS"
	CondGreaterThan       ConditionType = "GREATER_THAN"
	CondGreaterThanEquals ConditionType = "GREATER_THAN_EQUALS"
)

var conditionTypes = []ConditionType{CondEquals, CondLessThan, CondLessThanEquals, CondGreaterThan, CondGreaterThanEquals}

func (c ConditionType) Valid() bool { return contains(conditionTypes, c) }

// Ordered is true for every condition except EQUALS.
func (c ConditionType) Ordered() bool { return c.Valid() && c != CondEquals }

func ParseConditionType(s string) (ConditionType, error) {
	c := ConditionType(strings.ToUpper(strings.TrimSpace(s)))
	if !c.Valid() {
		return "", &ValidationError{Field: "condition_type", Reason: "unknown condition type " + s}
	}
	return c, nil
}

type ActionType string

const (
	ActionMarkTaskDone    ActionType = "MARK_TASK_AS_DONE"
	ActionMarkFnDone      ActionType = "MARK_FN_AS_DONE"
	ActionMarkFieldDone   ActionType = "MARK_FIELD_AS_DONE"
	ActionNotifyUsers     ActionType = "NOTIFY_USERS"
	ActionAddDynamicInput ActionType = "ADD_DYNAMIC_INPUT"
)

var actionTypes = []ActionType{ActionMarkTaskDone, ActionMarkFnDone, ActionMarkFieldDone, ActionNotifyUsers, ActionAddDynamicInput}

func (a ActionType) Valid() bool { return contains(actionTypes, a) }

func ParseActionType(s string) (ActionType, error) {
	a := ActionType(strings.ToUpper(strings.TrimSpace(s)))
	if !a.Valid() {
		return "", &ValidationError{Field: "action_type", Reason: "unknown action type " + s}
	}
	return a, nil
}

type TaskStatus string

const (
	StatusPending          TaskStatus = "PENDING"
	StatusInProgress       TaskStatus = "IN_PROGRESS"
	StatusCompleted        TaskStatus = "COMPLETED"
	StatusRejected         TaskStatus = "REJECTED"
	StatusOnHold           TaskStatus = "ON_HOLD"
	StatusCancelled        TaskStatus = "CANCELLED"
	StatusRevisionRequired TaskStatus = "REVISION_REQUIRED"
)

var taskStatuses = []TaskStatus{
	StatusPending, StatusInProgress, StatusCompleted, StatusRejected, StatusOnHold, StatusCancelled, StatusRevisionRequired,
}

func (s TaskStatus) Valid() bool { return contains(taskStatuses, s) }

// Terminal statuses freeze the instance tree.
func (s TaskStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusCancelled || s == StatusRejected
}

func ParseTaskStatus(s string) (TaskStatus, error) {
	st := TaskStatus(strings.ToUpper(strings.TrimSpace(s)))
	if !st.Valid() {
		return "", &ValidationError{Field: "status", Reason: "unknown task status " + s}
	}
	return st, nil
}

type Priority string

const (
	PriorityNormal Priority = "NORMAL"
	PriorityMedium Priority = "MEDIUM"
	PriorityHigh   Priority = "HIGH"
)

func (p Priority) Valid() bool {
	return p == PriorityNormal || p == PriorityMedium || p == PriorityHigh
}

func ParsePriority(s string) (Priority, error) {
	if strings.TrimSpace(s) == "" {
		return PriorityNormal, nil
	}
	p := Priority(strings.ToUpper(strings.TrimSpace(s)))
	if !p.Valid() {
		return "", &ValidationError{Field: "priority", Reason: "unknown priority " + s}
	}
	return p, nil
}

type FnType string

const (
	FnNormal  FnType = "NORMAL"
	FnSpecial FnType = "SPECIAL"
)

func (t FnType) Valid() bool { return t == FnNormal || t == FnSpecial }

// CompletionSource records how a field or function became complete.
type CompletionSource string

const (
	CompletionNone    CompletionSource = ""
	CompletionDerived CompletionSource = "DERIVED"
	CompletionAction  CompletionSource = "ACTION"
	CompletionManual  CompletionSource = "MANUAL"
)

// Sticky sources survive recomputation.
func (c CompletionSource) Sticky() bool {
	return c == CompletionAction || c == CompletionManual
}

func contains[T comparable](set []T, v T) bool {
	for _, s := range set {
		if s == v {
			return true
		}
	}
	return false
}
