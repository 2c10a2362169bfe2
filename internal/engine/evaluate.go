package engine

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"fieldwork/internal/domain"
)

// TriggerLevel is the template node an action was attached to.
type TriggerLevel string

const (
	LevelItem     TriggerLevel = "item"
	LevelCheckbox TriggerLevel = "checkbox"
	LevelInput    TriggerLevel = "input"
)

// AppliedEffect describes one conditional action that fired.
type AppliedEffect struct {
	Kind       domain.ActionType `json:"kind"`
	ActionID   int64             `json:"conditional_action_id"`
	Level      TriggerLevel      `json:"level"`
	TargetKind string            `json:"target_kind"`
	TargetID   int64             `json:"target_id"`
	// UserIDs and Message are set for NOTIFY_USERS.
	UserIDs []int64 `json:"user_ids,omitempty"`
	Message string  `json:"message,omitempty"`
	// CreatedInputID is set for ADD_DYNAMIC_INPUT. Reused marks a match
	// whose input already existed; no second input is spawned.
	CreatedInputID int64 `json:"created_input_id,omitempty"`
	Reused         bool  `json:"reused,omitempty"`
}

// operand is the typed view of a value a condition compares against.
type operand struct {
	inputType domain.InputType
	text      string
	alt       string
	number    *decimal.Decimal
	date      *time.Time
	numeric   bool
	temporal  bool
	opaque    bool
}

type trigger struct {
	level   TriggerLevel
	action  *domain.ConditionalAction
	operand operand
	// item is set for dropdown item triggers; the condition is implicit.
	item *domain.DropdownItem
	// selected is the item currently chosen when item is set.
	selected int64
}

func itemTrigger(item *domain.DropdownItem, selected int64) trigger {
	return trigger{level: LevelItem, action: item.Action, item: item, selected: selected}
}

func checkboxTrigger(cb *domain.CheckboxTemplate, checked bool) trigger {
	return trigger{
		level:   LevelCheckbox,
		action:  cb.Action,
		operand: operand{inputType: domain.InputCheckbox, text: strconv.FormatBool(checked)},
	}
}

// inputOperand renders an input's current state for comparison.
func inputOperand(tpl *domain.InputTemplate, in *domain.InputInstance) operand {
	op := operand{inputType: tpl.Type}
	v := in.Value
	switch {
	case tpl.Type.Numeric():
		op.numeric = true
		op.number = v.Number
		op.text = v.String()
	case tpl.Type.Temporal():
		op.temporal = true
		op.date = v.Date
		op.text = v.String()
	case tpl.Type == domain.InputDropdown:
		if v.DropdownItemID != nil {
			op.alt = strconv.FormatInt(*v.DropdownItemID, 10)
			if item := tpl.Dropdown.Item(*v.DropdownItemID); item != nil {
				op.text = item.Name
			}
		}
	case tpl.Type == domain.InputCheckbox:
		var names []string
		for _, cb := range in.Checkboxes {
			if !cb.IsChecked {
				continue
			}
			if cbTpl := tpl.Checkbox(cb.CheckboxTemplateID); cbTpl != nil {
				names = append(names, cbTpl.Name)
			}
		}
		op.text = strings.Join(names, ",")
	case tpl.Type == domain.InputTable:
		op.opaque = true
	default:
		op.text = v.String()
	}
	return op
}

// inputTriggers lists the actions a value change on in fires, item level
// first.
func (e Engine) inputTriggers(tpl *domain.InputTemplate, in *domain.InputInstance) []trigger {
	var out []trigger
	if tpl.Type == domain.InputDropdown && in.Value.DropdownItemID != nil {
		if item := tpl.Dropdown.Item(*in.Value.DropdownItemID); item != nil && item.Action != nil {
			out = append(out, itemTrigger(item, item.ID))
		}
	}
	if tpl.Type == domain.InputCheckbox {
		for _, cb := range in.Checkboxes {
			if cbTpl := tpl.Checkbox(cb.CheckboxTemplateID); cbTpl != nil && cbTpl.Action != nil {
				out = append(out, checkboxTrigger(cbTpl, cb.IsChecked))
			}
		}
	}
	if tpl.Action != nil {
		out = append(out, trigger{level: LevelInput, action: tpl.Action, operand: inputOperand(tpl, in)})
	}
	return out
}

// Evaluate runs every conditional action attached to the input against its
// current state and propagates completion. Frozen tasks and locked fns are
// refused like any other edit. Per-action failures come back as
// an *EffectError next to the effects that did apply.
func (e Engine) Evaluate(task *domain.TaskInstance, cat Catalog, inputInstanceID, actorID int64) ([]AppliedEffect, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	path, tpl, err := e.editableInput(task, cat, inputInstanceID, 0)
	if err != nil {
		return nil, err
	}
	effects, failures := e.run(task, cat, path, e.inputTriggers(tpl, path.Input), actorID)
	if e.recompute(task, cat, &actorID) || len(effects) > 0 {
		e.touch(task, e.now())
	}
	return effects, effectErr(failures)
}

// run applies triggers in order. A failing trigger is recorded and skipped.
func (e Engine) run(task *domain.TaskInstance, cat Catalog, path domain.InputPath, triggers []trigger, actorID int64) ([]AppliedEffect, []error) {
	var (
		effects  []AppliedEffect
		failures []error
	)
	for _, tr := range triggers {
		if tr.action == nil {
			continue
		}
		ok, err := tr.matches()
		if err != nil {
			failures = append(failures, fmt.Errorf("conditional action %d: %w", tr.action.ID, err))
			continue
		}
		if !ok {
			continue
		}
		eff, applied, err := e.apply(task, cat, path, tr.action, actorID)
		if err != nil {
			failures = append(failures, fmt.Errorf("conditional action %d: %w", tr.action.ID, err))
			continue
		}
		if applied {
			eff.Level = tr.level
			effects = append(effects, eff)
		}
	}
	return effects, failures
}

func (tr trigger) matches() (bool, error) {
	a := tr.action
	if !a.ConditionType.Valid() {
		return false, &domain.ValidationError{Field: "condition_type", Reason: "unknown condition type " + string(a.ConditionType)}
	}
	switch tr.level {
	case LevelItem:
		if a.ConditionType != domain.CondEquals {
			return false, &domain.TypeMismatchError{InputType: domain.InputDropdown, Condition: a.ConditionType, Reason: "dropdown options are not ordered"}
		}
		if tr.selected != tr.item.ID {
			return false, nil
		}
		cv := a.ConditionValue
		return cv == "" || cv == tr.item.Name || cv == strconv.FormatInt(tr.item.ID, 10), nil
	case LevelCheckbox:
		if a.ConditionType != domain.CondEquals {
			return false, &domain.TypeMismatchError{InputType: domain.InputCheckbox, Condition: a.ConditionType, Reason: "checkbox state is a boolean"}
		}
		cv := a.ConditionValue
		if cv == "" {
			cv = "true"
		}
		return tr.operand.text == cv, nil
	}
	return compare(tr.operand, a.ConditionType, a.ConditionValue)
}

func compare(op operand, cond domain.ConditionType, expected string) (bool, error) {
	if op.opaque {
		return false, &domain.TypeMismatchError{InputType: op.inputType, Condition: cond, Reason: "table values are not comparable"}
	}
	if cond.Ordered() && !op.numeric && !op.temporal {
		return false, &domain.TypeMismatchError{InputType: op.inputType, Condition: cond}
	}
	switch {
	case op.numeric:
		want, err := decimal.NewFromString(strings.TrimSpace(expected))
		if err != nil {
			return false, &domain.TypeMismatchError{InputType: op.inputType, Condition: cond, Reason: fmt.Sprintf("condition value %q is not a number", expected)}
		}
		if op.number == nil {
			return false, nil
		}
		return ordered(op.number.Cmp(want), cond), nil
	case op.temporal:
		want, err := domain.ParseDate(strings.TrimSpace(expected))
		if err != nil {
			return false, &domain.TypeMismatchError{InputType: op.inputType, Condition: cond, Reason: fmt.Sprintf("condition value %q is not a date", expected)}
		}
		if op.date == nil {
			return false, nil
		}
		return ordered(op.date.Compare(want), cond), nil
	}
	return op.text == expected || (op.alt != "" && op.alt == expected), nil
}

func ordered(c int, cond domain.ConditionType) bool {
	switch cond {
	case domain.CondEquals:
		return c == 0
	case domain.CondLessThan:
		return c < 0
	case domain.CondLessThanEquals:
		return c <= 0
	case domain.CondGreaterThan:
		return c > 0
	case domain.CondGreaterThanEquals:
		return c >= 0
	}
	return false
}

// apply performs one action. applied is false when the action had nothing to
// do, such as a dynamic input that already exists.
func (e Engine) apply(task *domain.TaskInstance, cat Catalog, path domain.InputPath, a *domain.ConditionalAction, actorID int64) (AppliedEffect, bool, error) {
	now := e.now()
	eff := AppliedEffect{Kind: a.ActionType, ActionID: a.ID}
	switch a.ActionType {
	case domain.ActionMarkTaskDone:
		if task.Status.Terminal() {
			return eff, false, &domain.NoOpError{Reason: fmt.Sprintf("task %s is already %s", task.Code, task.Status)}
		}
		task.Status = domain.StatusCompleted
		task.ClosedAt = &now
		task.ClosedByID = &actorID
		eff.TargetKind, eff.TargetID = "task", task.ID
	case domain.ActionMarkFnDone:
		if path.Fn == nil {
			return eff, false, &domain.NoOpError{Reason: "no function in scope"}
		}
		markFn(path.Fn, domain.CompletionAction, &actorID, now)
		eff.TargetKind, eff.TargetID = "fn", path.Fn.ID
	case domain.ActionMarkFieldDone:
		if path.Field == nil {
			return eff, false, &domain.NoOpError{Reason: "no field in scope"}
		}
		markField(path.Field, domain.CompletionAction, &actorID, now)
		eff.TargetKind, eff.TargetID = "field", path.Field.ID
	case domain.ActionNotifyUsers:
		ids, err := domain.ParseUserIDs(a.ActionValue)
		if err != nil {
			return eff, false, err
		}
		eff.UserIDs = ids
		eff.Message = notifyMessage(task, a)
		eff.TargetKind, eff.TargetID = "task", task.ID
	case domain.ActionAddDynamicInput:
		return e.addDynamicInput(task, cat, path, a, eff, now)
	default:
		return eff, false, &domain.ValidationError{Field: "action_type", Reason: "unknown action type " + string(a.ActionType)}
	}
	e.recompute(task, cat, &actorID)
	return eff, true, nil
}

func notifyMessage(task *domain.TaskInstance, a *domain.ConditionalAction) string {
	if a.Name != "" {
		return fmt.Sprintf("%s: %s", task.Code, a.Name)
	}
	return fmt.Sprintf("%s: condition %s %q matched", task.Code, a.ConditionType, a.ConditionValue)
}

func (e Engine) addDynamicInput(task *domain.TaskInstance, cat Catalog, path domain.InputPath, a *domain.ConditionalAction, eff AppliedEffect, now time.Time) (AppliedEffect, bool, error) {
	tplID, err := strconv.ParseInt(strings.TrimSpace(a.ActionValue), 10, 64)
	if err != nil {
		return eff, false, &domain.TemplateNotFoundError{Kind: "input"}
	}
	tpl, ok := cat.InputTemplate(tplID)
	if !ok {
		return eff, false, &domain.TemplateNotFoundError{Kind: "input", ID: tplID}
	}
	field := path.Field
	if a.TargetFieldTemplateID != nil {
		if _, field = task.FindFieldByTemplate(*a.TargetFieldTemplateID); field == nil {
			return eff, false, &domain.TemplateNotFoundError{Kind: "field", ID: *a.TargetFieldTemplateID}
		}
	}
	if field == nil && path.Fn != nil && len(path.Fn.Fields) > 0 {
		field = path.Fn.Fields[0]
	}

	siblings := task.Metadata
	if field != nil {
		siblings = field.Inputs
	}
	for _, in := range siblings {
		if in.InputTemplateID == tpl.ID && in.TriggeringConditionalActionID != nil && *in.TriggeringConditionalActionID == a.ID {
			eff.TargetKind, eff.TargetID = "task", task.ID
			if field != nil {
				eff.TargetKind, eff.TargetID = "field", field.ID
			}
			eff.CreatedInputID, eff.Reused = in.ID, true
			return eff, true, nil
		}
	}

	var fieldID int64
	if field != nil {
		fieldID = field.ID
	}
	in, err := e.newInput(task.ID, fieldID, tpl, now)
	if err != nil {
		return eff, false, err
	}
	actionID := a.ID
	in.IsDynamicallyCreated = true
	in.TriggeringConditionalActionID = &actionID
	if field != nil {
		field.Inputs = append(field.Inputs, in)
		eff.TargetKind, eff.TargetID = "field", field.ID
	} else {
		task.Metadata = append(task.Metadata, in)
		eff.TargetKind, eff.TargetID = "task", task.ID
	}
	eff.CreatedInputID = in.ID
	if idx, ok := cat.(*Index); ok {
		idx.AddInput(tpl)
	}
	e.recompute(task, cat, nil)
	return eff, true, nil
}
