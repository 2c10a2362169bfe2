package engine

import (
	"fmt"
	"strings"

	"fieldwork/internal/domain"
)

// Outcome is the result of one mutation: the updated tree plus the effects
// its conditional actions produced.
type Outcome struct {
	Task    *domain.TaskInstance
	Input   *domain.InputInstance
	Changed bool
	Effects []AppliedEffect
}

// EffectError reports conditional actions that failed while the triggering
// change itself stayed applied.
type EffectError struct {
	Failures []error
}

func (e *EffectError) Error() string {
	msgs := make([]string, 0, len(e.Failures))
	for _, f := range e.Failures {
		msgs = append(msgs, f.Error())
	}
	return fmt.Sprintf("%d conditional action(s) failed: %s", len(e.Failures), strings.Join(msgs, "; "))
}

func (e *EffectError) Unwrap() []error { return e.Failures }

func effectErr(failures []error) error {
	if len(failures) == 0 {
		return nil
	}
	return &EffectError{Failures: failures}
}

// ValueUpdate sets the value of one input instance.
type ValueUpdate struct {
	InputInstanceID int64
	Value           string
	ActorID         int64
	// ExpectedVersion guards against concurrent edits; zero skips the check.
	ExpectedVersion int64
}

// ApplyInputValue stores a new value and, when it changed, evaluates the
// input's conditional actions and propagates completion. A returned
// *EffectError means the value was applied but some effects were skipped;
// the Outcome is valid in that case.
func (e Engine) ApplyInputValue(task *domain.TaskInstance, cat Catalog, upd ValueUpdate) (*Outcome, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	path, tpl, err := e.editableInput(task, cat, upd.InputInstanceID, upd.ExpectedVersion)
	if err != nil {
		return nil, err
	}
	value, err := parseValue(tpl, upd.Value)
	if err != nil {
		return nil, err
	}
	now := e.now()
	in := path.Input
	// A first answer equal to the seeded zero value ("0", "false") still
	// completes the input.
	changed := !in.Value.Equal(value) || (!in.IsComplete && !value.IsEmpty())
	out := &Outcome{Task: task, Input: in, Changed: changed}
	if !out.Changed {
		return out, nil
	}
	in.Value = value
	stampInput(in, upd.ActorID, now)
	e.touch(task, now)

	effects, failures := e.run(task, cat, path, e.inputTriggers(tpl, in), upd.ActorID)
	out.Effects = effects
	e.recompute(task, cat, &upd.ActorID)
	return out, effectErr(failures)
}

// CheckboxUpdate sets one checkbox of a CHECKBOX input.
type CheckboxUpdate struct {
	CheckboxInstanceID int64
	Checked            bool
	ActorID            int64
	ExpectedVersion    int64
}

// ToggleCheckbox flips a checkbox. On a transition the checkbox-level action
// runs first, then the input-level action sees the checked option names.
func (e Engine) ToggleCheckbox(task *domain.TaskInstance, cat Catalog, upd CheckboxUpdate) (*Outcome, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	cb, found, ok := task.FindCheckbox(upd.CheckboxInstanceID)
	if !ok {
		return nil, fmt.Errorf("checkbox instance %d: %w", upd.CheckboxInstanceID, ErrNodeNotFound)
	}
	path, tpl, err := e.editableInput(task, cat, found.Input.ID, upd.ExpectedVersion)
	if err != nil {
		return nil, err
	}
	in := path.Input
	out := &Outcome{Task: task, Input: in, Changed: cb.IsChecked != upd.Checked}
	if !out.Changed {
		return out, nil
	}
	now := e.now()
	cb.IsChecked = upd.Checked
	stampInput(in, upd.ActorID, now)
	e.touch(task, now)

	var triggers []trigger
	if cbTpl := tpl.Checkbox(cb.CheckboxTemplateID); cbTpl != nil && cbTpl.Action != nil {
		triggers = append(triggers, checkboxTrigger(cbTpl, cb.IsChecked))
	}
	if tpl.Action != nil {
		triggers = append(triggers, trigger{level: LevelInput, action: tpl.Action, operand: inputOperand(tpl, in)})
	}
	effects, failures := e.run(task, cat, path, triggers, upd.ActorID)
	out.Effects = effects
	e.recompute(task, cat, &upd.ActorID)
	return out, effectErr(failures)
}

// BranchSelection picks an item of a function-level dropdown.
type BranchSelection struct {
	FnInstanceID int64
	ItemID       int64
	ActorID      int64
}

// SelectFnBranch records the selected branch of a function and evaluates the
// item's conditional action.
func (e Engine) SelectFnBranch(task *domain.TaskInstance, cat Catalog, sel BranchSelection) (*Outcome, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	if err := ensureMutable(task); err != nil {
		return nil, err
	}
	fn := task.FindFn(sel.FnInstanceID)
	if fn == nil {
		return nil, fmt.Errorf("fn instance %d: %w", sel.FnInstanceID, ErrNodeNotFound)
	}
	if fn.IsLocked {
		return nil, &domain.NoOpError{Reason: fmt.Sprintf("fn %d is locked until its prerequisites complete", fn.ID)}
	}
	fnTpl, ok := cat.FnTemplate(fn.FnTemplateID)
	if !ok {
		return nil, &domain.TemplateNotFoundError{Kind: "fn", ID: fn.FnTemplateID}
	}
	item := fnTpl.Dropdown.Item(sel.ItemID)
	if item == nil {
		return nil, &domain.ValidationError{Field: "item_id", Reason: fmt.Sprintf("item %d is not a branch of fn template %d", sel.ItemID, fnTpl.ID)}
	}
	out := &Outcome{Task: task, Changed: fn.DropdownItemID == nil || *fn.DropdownItemID != item.ID}
	if !out.Changed {
		return out, nil
	}
	now := e.now()
	id := item.ID
	fn.DropdownItemID = &id
	e.touch(task, now)

	var failures []error
	if item.Action != nil {
		path := domain.InputPath{Fn: fn}
		out.Effects, failures = e.run(task, cat, path, []trigger{itemTrigger(item, item.ID)}, sel.ActorID)
	}
	e.recompute(task, cat, &sel.ActorID)
	return out, effectErr(failures)
}

// RowAdd appends an empty row to a TABLE input.
type RowAdd struct {
	InputInstanceID int64
	ActorID         int64
}

func (e Engine) AddTableRow(task *domain.TaskInstance, cat Catalog, add RowAdd) (*domain.TableRowInstance, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	path, _, err := e.editableInput(task, cat, add.InputInstanceID, 0)
	if err != nil {
		return nil, err
	}
	tbl := path.Input.Table
	if tbl == nil {
		return nil, &domain.ValidationError{Field: "input_instance_id", Reason: "input is not a table"}
	}
	order := 1
	for _, r := range tbl.Rows {
		if r.Order >= order {
			order = r.Order + 1
		}
	}
	row := &domain.TableRowInstance{
		ID:              e.IDs.Next(),
		InputInstanceID: path.Input.ID,
		Order:           order,
		Cells:           []*domain.TableCellInstance{},
	}
	for _, col := range tbl.Columns {
		row.Cells = append(row.Cells, &domain.TableCellInstance{
			ID:               e.IDs.Next(),
			RowInstanceID:    row.ID,
			ColumnInstanceID: col.ID,
		})
	}
	tbl.Rows = append(tbl.Rows, row)
	now := e.now()
	stampInput(path.Input, add.ActorID, now)
	e.touch(task, now)
	return row, nil
}

// CellUpdate writes one table cell.
type CellUpdate struct {
	InputInstanceID int64
	RowID           int64
	ColumnID        int64
	Value           string
	ActorID         int64
	ExpectedVersion int64
}

// SetTableCell writes the cell at (row, column). Both must belong to the same
// input; the pair is unique.
func (e Engine) SetTableCell(task *domain.TaskInstance, cat Catalog, upd CellUpdate) (*Outcome, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	path, _, err := e.editableInput(task, cat, upd.InputInstanceID, upd.ExpectedVersion)
	if err != nil {
		return nil, err
	}
	tbl := path.Input.Table
	if tbl == nil {
		return nil, &domain.ValidationError{Field: "input_instance_id", Reason: "input is not a table"}
	}
	row, col := tbl.Row(upd.RowID), tbl.Column(upd.ColumnID)
	if row == nil || col == nil {
		return nil, &domain.ValidationError{Field: "cell", Reason: "row and column must belong to the same table input"}
	}
	var cell *domain.TableCellInstance
	for _, c := range row.Cells {
		if c.ColumnInstanceID == col.ID {
			cell = c
			break
		}
	}
	if cell == nil {
		cell = &domain.TableCellInstance{ID: e.IDs.Next(), RowInstanceID: row.ID, ColumnInstanceID: col.ID}
		row.Cells = append(row.Cells, cell)
	}
	out := &Outcome{Task: task, Input: path.Input, Changed: cell.Value != upd.Value}
	if !out.Changed {
		return out, nil
	}
	now := e.now()
	cell.Value = upd.Value
	stampInput(path.Input, upd.ActorID, now)
	e.touch(task, now)
	e.recompute(task, cat, &upd.ActorID)
	return out, nil
}

// editableInput locates an input and checks that it may be edited.
func (e Engine) editableInput(task *domain.TaskInstance, cat Catalog, inputID, expectedVersion int64) (domain.InputPath, *domain.InputTemplate, error) {
	if err := ensureMutable(task); err != nil {
		return domain.InputPath{}, nil, err
	}
	path, ok := task.FindInput(inputID)
	if !ok {
		return domain.InputPath{}, nil, fmt.Errorf("input instance %d: %w", inputID, ErrNodeNotFound)
	}
	if path.Fn != nil && path.Fn.IsLocked {
		return domain.InputPath{}, nil, &domain.NoOpError{Reason: fmt.Sprintf("fn %d is locked until its prerequisites complete", path.Fn.ID)}
	}
	if expectedVersion != 0 && expectedVersion != path.Input.Version {
		return domain.InputPath{}, nil, &domain.StaleUpdateError{Entity: "input", ID: inputID, Expected: expectedVersion, Actual: path.Input.Version}
	}
	tpl, ok := cat.InputTemplate(path.Input.InputTemplateID)
	if !ok {
		return domain.InputPath{}, nil, &domain.TemplateNotFoundError{Kind: "input", ID: path.Input.InputTemplateID}
	}
	return path, tpl, nil
}
