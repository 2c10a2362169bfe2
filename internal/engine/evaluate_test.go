package engine_test

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fieldwork/internal/domain"
	"fieldwork/internal/engine"
)

func TestEqualsMatchYieldsExactlyOneEffect(t *testing.T) {
	cases := []struct {
		name   string
		action domain.ActionType
		value  string
	}{
		{name: "notify", action: domain.ActionNotifyUsers, value: "7,9"},
		{name: "mark field", action: domain.ActionMarkFieldDone},
		{name: "mark fn", action: domain.ActionMarkFnDone},
		{name: "mark task", action: domain.ActionMarkTaskDone},
		{name: "add dynamic input", action: domain.ActionAddDynamicInput, value: "40"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			eng := newTestEngine(t)
			action := &domain.ConditionalAction{ID: 50, ConditionType: domain.CondEquals, ConditionValue: "yes", ActionType: tc.action, ActionValue: tc.value}
			tpl := singleInputTemplate(domain.InputText, action)
			cat := engine.NewIndex(tpl)

			task := instantiate(t, eng, tpl)
			out, err := eng.ApplyInputValue(task, cat, engine.ValueUpdate{InputInstanceID: firstInput(task).ID, Value: "no", ActorID: 2})
			require.NoError(t, err)
			assert.Empty(t, out.Effects)

			out, err = eng.ApplyInputValue(task, cat, engine.ValueUpdate{InputInstanceID: firstInput(task).ID, Value: "yes", ActorID: 2})
			require.NoError(t, err)
			require.Len(t, out.Effects, 1)
			assert.Equal(t, tc.action, out.Effects[0].Kind)
			assert.EqualValues(t, 50, out.Effects[0].ActionID)
			assert.Equal(t, engine.LevelInput, out.Effects[0].Level)
		})
	}
}

func TestEvaluateCurrentValue(t *testing.T) {
	eng := newTestEngine(t)
	action := &domain.ConditionalAction{ID: 50, ConditionType: domain.CondEquals, ConditionValue: "100", ActionType: domain.ActionNotifyUsers, ActionValue: "4"}
	tpl := singleInputTemplate(domain.InputAmount, action)
	cat := engine.NewIndex(tpl)
	task := instantiate(t, eng, tpl)

	effects, err := eng.Evaluate(task, cat, firstInput(task).ID, 2)
	require.NoError(t, err)
	assert.Empty(t, effects, "zero seed does not match")

	_, err = eng.ApplyInputValue(task, cat, engine.ValueUpdate{InputInstanceID: firstInput(task).ID, Value: "100.00", ActorID: 2})
	require.NoError(t, err)
	before := task.Version
	effects, err = eng.Evaluate(task, cat, firstInput(task).ID, 2)
	require.NoError(t, err)
	require.Len(t, effects, 1, "numeric equality ignores scale")
	assert.Greater(t, task.Version, before, "fired effects bump the task version")
	assert.Equal(t, []int64{4}, effects[0].UserIDs)

	_, err = eng.Evaluate(task, cat, 424242, 2)
	assert.ErrorIs(t, err, engine.ErrNodeNotFound)
}

func TestOrderedConditionOnTextIsTypeMismatch(t *testing.T) {
	for _, cond := range []domain.ConditionType{domain.CondGreaterThan, domain.CondLessThan, domain.CondLessThanEquals} {
		t.Run(string(cond), func(t *testing.T) {
			eng := newTestEngine(t)
			action := &domain.ConditionalAction{ID: 50, ConditionType: cond, ConditionValue: "5", ActionType: domain.ActionNotifyUsers, ActionValue: "1"}
			tpl := singleInputTemplate(domain.InputText, action)
			task := instantiate(t, eng, tpl)

			out, err := eng.ApplyInputValue(task, engine.NewIndex(tpl), engine.ValueUpdate{InputInstanceID: firstInput(task).ID, Value: "abc", ActorID: 2})
			require.Error(t, err)
			assert.True(t, domain.IsTypeMismatch(err))
			var effErr *engine.EffectError
			require.True(t, errors.As(err, &effErr))
			assert.Len(t, effErr.Failures, 1)

			require.NotNil(t, out)
			assert.Empty(t, out.Effects)
			assert.Equal(t, "abc", firstInput(task).Value.Text, "value update stays applied")
			assert.True(t, firstInput(task).IsComplete)
		})
	}
}

func TestOrderedConditions(t *testing.T) {
	cases := []struct {
		typ   domain.InputType
		cond  domain.ConditionType
		want  string
		value string
		fires bool
	}{
		{domain.InputNumber, domain.CondGreaterThan, "10", "10.5", true},
		{domain.InputNumber, domain.CondGreaterThan, "10", "10", false},
		{domain.InputNumber, domain.CondGreaterThanEquals, "10", "10", true},
		{domain.InputAmount, domain.CondLessThan, "0", "-3", true},
		{domain.InputAmount, domain.CondLessThanEquals, "2.50", "2.5", true},
		{domain.InputDate, domain.CondLessThan, "2024-06-01", "2024-05-31", true},
		{domain.InputDate, domain.CondGreaterThan, "2024-06-01", "2024-05-31", false},
		{domain.InputDate, domain.CondEquals, "2024-06-01", "2024-06-01T00:00:00Z", true},
	}
	for _, tc := range cases {
		t.Run(string(tc.typ)+" "+string(tc.cond)+" "+tc.value, func(t *testing.T) {
			eng := newTestEngine(t)
			action := &domain.ConditionalAction{ID: 50, ConditionType: tc.cond, ConditionValue: tc.want, ActionType: domain.ActionNotifyUsers, ActionValue: "1"}
			tpl := singleInputTemplate(tc.typ, action)
			task := instantiate(t, eng, tpl)
			out, err := eng.ApplyInputValue(task, engine.NewIndex(tpl), engine.ValueUpdate{InputInstanceID: firstInput(task).ID, Value: tc.value, ActorID: 2})
			require.NoError(t, err)
			assert.Equal(t, tc.fires, len(out.Effects) == 1)
		})
	}
}

func TestNonNumericConditionValueIsTypeMismatch(t *testing.T) {
	eng := newTestEngine(t)
	action := &domain.ConditionalAction{ID: 50, ConditionType: domain.CondEquals, ConditionValue: "lots", ActionType: domain.ActionMarkFieldDone}
	tpl := singleInputTemplate(domain.InputNumber, action)
	task := instantiate(t, eng, tpl)
	_, err := eng.ApplyInputValue(task, engine.NewIndex(tpl), engine.ValueUpdate{InputInstanceID: firstInput(task).ID, Value: "4", ActorID: 2})
	assert.True(t, domain.IsTypeMismatch(err))
	assert.Equal(t, "4", firstInput(task).Value.String())
}

func TestMarkTaskDoneNeverResurrectsCancelled(t *testing.T) {
	eng := newTestEngine(t)
	action := &domain.ConditionalAction{ID: 50, ConditionType: domain.CondEquals, ConditionValue: "done", ActionType: domain.ActionMarkTaskDone}
	tpl := singleInputTemplate(domain.InputText, action)
	cat := engine.NewIndex(tpl)
	task := instantiate(t, eng, tpl)

	_, err := eng.ApplyInputValue(task, cat, engine.ValueUpdate{InputInstanceID: firstInput(task).ID, Value: "done", ActorID: 2})
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCompleted, task.Status)
	require.NotNil(t, task.ClosedAt)

	task = instantiate(t, eng, tpl)
	in := firstInput(task)
	in.Value = domain.Value{Text: "done"}
	require.NoError(t, eng.SetStatus(task, engine.StatusChange{Status: domain.StatusCancelled, ActorID: 2}))

	effects, err := eng.Evaluate(task, cat, in.ID, 2)
	assert.True(t, domain.IsNoOp(err))
	assert.Empty(t, effects)
	assert.Equal(t, domain.StatusCancelled, task.Status)

	_, err = eng.ApplyInputValue(task, cat, engine.ValueUpdate{InputInstanceID: in.ID, Value: "again", ActorID: 2})
	assert.True(t, domain.IsNoOp(err))
	assert.Equal(t, domain.StatusCancelled, task.Status)
	assert.Equal(t, "done", in.Value.Text)
}

func TestAddDynamicInput(t *testing.T) {
	t.Run("unknown template", func(t *testing.T) {
		eng := newTestEngine(t)
		action := &domain.ConditionalAction{ID: 50, ConditionType: domain.CondEquals, ConditionValue: "yes", ActionType: domain.ActionAddDynamicInput, ActionValue: "999"}
		tpl := singleInputTemplate(domain.InputText, action)
		task := instantiate(t, eng, tpl)

		out, err := eng.ApplyInputValue(task, engine.NewIndex(tpl), engine.ValueUpdate{InputInstanceID: firstInput(task).ID, Value: "yes", ActorID: 2})
		assert.True(t, domain.IsTemplateNotFound(err))
		assert.Empty(t, out.Effects)
		assert.Len(t, task.Fns[0].Fields[0].Inputs, 1)
		assert.Equal(t, "yes", firstInput(task).Value.Text)
	})

	t.Run("spawns once per action", func(t *testing.T) {
		eng := newTestEngine(t)
		action := &domain.ConditionalAction{ID: 50, ConditionType: domain.CondEquals, ConditionValue: "yes", ActionType: domain.ActionAddDynamicInput, ActionValue: "40"}
		tpl := singleInputTemplate(domain.InputText, action)
		cat := engine.NewIndex(tpl)
		task := instantiate(t, eng, tpl)
		field := task.Fns[0].Fields[0]

		out, err := eng.ApplyInputValue(task, cat, engine.ValueUpdate{InputInstanceID: firstInput(task).ID, Value: "yes", ActorID: 2})
		require.NoError(t, err)
		require.Len(t, out.Effects, 1)
		require.Len(t, field.Inputs, 2)
		added := field.Inputs[1]
		assert.True(t, added.IsDynamicallyCreated)
		require.NotNil(t, added.TriggeringConditionalActionID)
		assert.EqualValues(t, 50, *added.TriggeringConditionalActionID)
		assert.Equal(t, out.Effects[0].CreatedInputID, added.ID)
		assert.Equal(t, field.ID, added.FieldInstanceID)
		assert.False(t, field.IsComplete, "the new required input keeps the field open")

		_, _, _, dynamic := task.Shape()
		assert.Equal(t, 1, dynamic)

		_, err = eng.ApplyInputValue(task, cat, engine.ValueUpdate{InputInstanceID: firstInput(task).ID, Value: "no", ActorID: 2})
		require.NoError(t, err)
		out, err = eng.ApplyInputValue(task, cat, engine.ValueUpdate{InputInstanceID: firstInput(task).ID, Value: "yes", ActorID: 2})
		require.NoError(t, err)
		require.Len(t, out.Effects, 1, "a repeated match still reports its effect")
		assert.True(t, out.Effects[0].Reused)
		assert.Equal(t, added.ID, out.Effects[0].CreatedInputID)
		assert.Len(t, field.Inputs, 2)

		_, err = eng.ApplyInputValue(task, cat, engine.ValueUpdate{InputInstanceID: added.ID, Value: "leak", ActorID: 2})
		require.NoError(t, err)
		assert.True(t, field.IsComplete)
	})

	t.Run("explicit target field", func(t *testing.T) {
		eng := newTestEngine(t)
		tpl := richTemplate()
		target := int64(9)
		count := tpl.Fns[1].Fields[0].Inputs[0]
		count.Action = &domain.ConditionalAction{ID: 60, ConditionType: domain.CondGreaterThan, ConditionValue: "5", ActionType: domain.ActionAddDynamicInput, ActionValue: "12", TargetFieldTemplateID: &target}
		task := instantiate(t, eng, tpl)

		out, err := eng.ApplyInputValue(task, engine.NewIndex(tpl), engine.ValueUpdate{InputInstanceID: firstInput(task).ID, Value: "6", ActorID: 2})
		require.NoError(t, err)
		require.Len(t, out.Effects, 1)
		notes := task.Fns[0].Fields[1]
		assert.Equal(t, notes.ID, out.Effects[0].TargetID)
		require.Len(t, notes.Inputs, 2)
		assert.EqualValues(t, 12, notes.Inputs[1].InputTemplateID)
	})
}

func TestNumberFieldScenario(t *testing.T) {
	eng := newTestEngine(t)
	action := &domain.ConditionalAction{ID: 50, ConditionType: domain.CondEquals, ConditionValue: "100", ActionType: domain.ActionMarkFieldDone}
	tpl := singleInputTemplate(domain.InputNumber, action)
	cat := engine.NewIndex(tpl)
	task := instantiate(t, eng, tpl)
	fn, field := task.Fns[0], task.Fns[0].Fields[0]

	out, err := eng.ApplyInputValue(task, cat, engine.ValueUpdate{InputInstanceID: firstInput(task).ID, Value: "50", ActorID: 2})
	require.NoError(t, err)
	assert.Empty(t, out.Effects)
	assert.False(t, field.IsComplete)
	assert.False(t, fn.IsComplete)

	out, err = eng.ApplyInputValue(task, cat, engine.ValueUpdate{InputInstanceID: firstInput(task).ID, Value: "100", ActorID: 2})
	require.NoError(t, err)
	require.Len(t, out.Effects, 1)
	assert.Equal(t, domain.ActionMarkFieldDone, out.Effects[0].Kind)
	assert.True(t, field.IsComplete)
	assert.Equal(t, domain.CompletionAction, field.CompletionSource)
	require.NotNil(t, field.CompletedByID)
	assert.EqualValues(t, 2, *field.CompletedByID)
	assert.Equal(t, fixedNow, *field.CompletedAt)
	assert.True(t, fn.IsComplete)
	assert.Equal(t, 100, task.Progress)

	// action completion is sticky across later edits
	_, err = eng.ApplyInputValue(task, cat, engine.ValueUpdate{InputInstanceID: firstInput(task).ID, Value: "50", ActorID: 2})
	require.NoError(t, err)
	assert.True(t, field.IsComplete)
}

func dropdownTemplate() *domain.TaskTemplate {
	tpl := singleInputTemplate(domain.InputDropdown, nil)
	in := tpl.Fns[0].Fields[0].Inputs[0]
	in.Dropdown = &domain.DropdownTemplate{ID: 5, Items: []*domain.DropdownItem{
		{ID: 6, DropdownTemplateID: 5, Name: "Approved", Order: 1},
		{ID: 7, DropdownTemplateID: 5, Name: "Rejected", Order: 2, Action: &domain.ConditionalAction{
			ID: 51, ConditionType: domain.CondEquals, ConditionValue: "Rejected", ActionType: domain.ActionNotifyUsers, ActionValue: "7,9",
		}},
	}}
	return tpl
}

func TestDropdownNotifyScenario(t *testing.T) {
	eng := newTestEngine(t)
	tpl := dropdownTemplate()
	cat := engine.NewIndex(tpl)

	task := instantiate(t, eng, tpl)
	out, err := eng.ApplyInputValue(task, cat, engine.ValueUpdate{InputInstanceID: firstInput(task).ID, Value: "Rejected", ActorID: 2})
	require.NoError(t, err)
	require.Len(t, out.Effects, 1)
	assert.Equal(t, domain.ActionNotifyUsers, out.Effects[0].Kind)
	assert.Equal(t, []int64{7, 9}, out.Effects[0].UserIDs)
	assert.Equal(t, engine.LevelItem, out.Effects[0].Level)
	require.NotNil(t, firstInput(task).Value.DropdownItemID)
	assert.EqualValues(t, 7, *firstInput(task).Value.DropdownItemID)

	task = instantiate(t, eng, tpl)
	out, err = eng.ApplyInputValue(task, cat, engine.ValueUpdate{InputInstanceID: firstInput(task).ID, Value: "Approved", ActorID: 2})
	require.NoError(t, err)
	assert.Empty(t, out.Effects)

	// selection by item id
	out, err = eng.ApplyInputValue(task, cat, engine.ValueUpdate{InputInstanceID: firstInput(task).ID, Value: "7", ActorID: 2})
	require.NoError(t, err)
	assert.Len(t, out.Effects, 1)

	_, err = eng.ApplyInputValue(task, cat, engine.ValueUpdate{InputInstanceID: firstInput(task).ID, Value: "Maybe", ActorID: 2})
	assert.True(t, domain.IsValidation(err))
}

func TestItemActionsRunBeforeInputAction(t *testing.T) {
	eng := newTestEngine(t)
	tpl := dropdownTemplate()
	tpl.Fns[0].Fields[0].Inputs[0].Action = &domain.ConditionalAction{
		ID: 52, ConditionType: domain.CondEquals, ConditionValue: "Rejected", ActionType: domain.ActionAddDynamicInput, ActionValue: "40",
	}
	task := instantiate(t, eng, tpl)
	out, err := eng.ApplyInputValue(task, engine.NewIndex(tpl), engine.ValueUpdate{InputInstanceID: firstInput(task).ID, Value: "Rejected", ActorID: 2})
	require.NoError(t, err)
	require.Len(t, out.Effects, 2)
	assert.Equal(t, engine.LevelItem, out.Effects[0].Level)
	assert.Equal(t, engine.LevelInput, out.Effects[1].Level)
}

func TestOrderedConditionOnDropdownItem(t *testing.T) {
	eng := newTestEngine(t)
	tpl := dropdownTemplate()
	tpl.Fns[0].Fields[0].Inputs[0].Dropdown.Items[1].Action.ConditionType = domain.CondGreaterThan
	task := instantiate(t, eng, tpl)
	_, err := eng.ApplyInputValue(task, engine.NewIndex(tpl), engine.ValueUpdate{InputInstanceID: firstInput(task).ID, Value: "Rejected", ActorID: 2})
	assert.True(t, domain.IsTypeMismatch(err))
}

func checkboxTemplate() *domain.TaskTemplate {
	tpl := singleInputTemplate(domain.InputCheckbox, &domain.ConditionalAction{
		ID: 53, ConditionType: domain.CondEquals, ConditionValue: "Sealed,Labeled", ActionType: domain.ActionMarkFnDone,
	})
	in := tpl.Fns[0].Fields[0].Inputs[0]
	in.Checkboxes = []*domain.CheckboxTemplate{
		{ID: 7, InputTemplateID: 4, Name: "Sealed", Order: 1, Action: &domain.ConditionalAction{
			ID: 54, ConditionType: domain.CondEquals, ConditionValue: "true", ActionType: domain.ActionNotifyUsers, ActionValue: "3",
		}},
		{ID: 8, InputTemplateID: 4, Name: "Labeled", Order: 2},
	}
	return tpl
}

func TestToggleCheckbox(t *testing.T) {
	eng := newTestEngine(t)
	tpl := checkboxTemplate()
	cat := engine.NewIndex(tpl)
	task := instantiate(t, eng, tpl)
	sealed, labeled := firstInput(task).Checkboxes[0], firstInput(task).Checkboxes[1]

	out, err := eng.ToggleCheckbox(task, cat, engine.CheckboxUpdate{CheckboxInstanceID: sealed.ID, Checked: true, ActorID: 2})
	require.NoError(t, err)
	require.Len(t, out.Effects, 1)
	assert.Equal(t, engine.LevelCheckbox, out.Effects[0].Level)
	assert.Equal(t, []int64{3}, out.Effects[0].UserIDs)
	assert.False(t, task.Fns[0].IsComplete)

	out, err = eng.ToggleCheckbox(task, cat, engine.CheckboxUpdate{CheckboxInstanceID: sealed.ID, Checked: true, ActorID: 2})
	require.NoError(t, err)
	assert.False(t, out.Changed)
	assert.Empty(t, out.Effects)

	out, err = eng.ToggleCheckbox(task, cat, engine.CheckboxUpdate{CheckboxInstanceID: labeled.ID, Checked: true, ActorID: 2})
	require.NoError(t, err)
	require.Len(t, out.Effects, 1)
	assert.Equal(t, domain.ActionMarkFnDone, out.Effects[0].Kind)
	assert.Equal(t, engine.LevelInput, out.Effects[0].Level)
	assert.True(t, task.Fns[0].IsComplete)
	assert.Equal(t, domain.CompletionAction, task.Fns[0].CompletionSource)

	_, err = eng.ToggleCheckbox(task, cat, engine.CheckboxUpdate{CheckboxInstanceID: 424242, Checked: true, ActorID: 2})
	assert.ErrorIs(t, err, engine.ErrNodeNotFound)
}

func TestStaleUpdateIsRefused(t *testing.T) {
	eng := newTestEngine(t)
	tpl := singleInputTemplate(domain.InputText, nil)
	cat := engine.NewIndex(tpl)
	task := instantiate(t, eng, tpl)
	in := firstInput(task)

	_, err := eng.ApplyInputValue(task, cat, engine.ValueUpdate{InputInstanceID: in.ID, Value: "a", ActorID: 2, ExpectedVersion: 1})
	require.NoError(t, err)
	assert.EqualValues(t, 2, in.Version)

	_, err = eng.ApplyInputValue(task, cat, engine.ValueUpdate{InputInstanceID: in.ID, Value: "b", ActorID: 3, ExpectedVersion: 1})
	require.Error(t, err)
	assert.True(t, domain.IsStale(err))
	assert.Equal(t, "a", in.Value.Text)
}

func TestValueRulesAreEnforced(t *testing.T) {
	eng := newTestEngine(t)
	tpl := singleInputTemplate(domain.InputNumber, nil)
	maxValue := decimalOf(t, "10")
	tpl.Fns[0].Fields[0].Inputs[0].Config = &domain.NumberRules{Max: &maxValue}
	cat := engine.NewIndex(tpl)
	task := instantiate(t, eng, tpl)

	_, err := eng.ApplyInputValue(task, cat, engine.ValueUpdate{InputInstanceID: firstInput(task).ID, Value: "11", ActorID: 2})
	assert.True(t, domain.IsValidation(err))
	assert.True(t, firstInput(task).Value.Number.IsZero())

	_, err = eng.ApplyInputValue(task, cat, engine.ValueUpdate{InputInstanceID: firstInput(task).ID, Value: "ten", ActorID: 2})
	assert.True(t, domain.IsValidation(err))

	out, err := eng.ApplyInputValue(task, cat, engine.ValueUpdate{InputInstanceID: firstInput(task).ID, Value: "9.5", ActorID: 2})
	require.NoError(t, err)
	assert.True(t, out.Changed)
}

func TestSelectFnBranch(t *testing.T) {
	eng := newTestEngine(t)
	tpl := singleInputTemplate(domain.InputText, nil)
	tpl.Fns[0].Dropdown = &domain.DropdownTemplate{ID: 70, Items: []*domain.DropdownItem{
		{ID: 71, DropdownTemplateID: 70, Name: "Skip", Order: 1, Action: &domain.ConditionalAction{ID: 72, ConditionType: domain.CondEquals, ActionType: domain.ActionMarkFnDone}},
		{ID: 73, DropdownTemplateID: 70, Name: "Proceed", Order: 2},
	}}
	cat := engine.NewIndex(tpl)
	task := instantiate(t, eng, tpl)
	fn := task.Fns[0]

	out, err := eng.SelectFnBranch(task, cat, engine.BranchSelection{FnInstanceID: fn.ID, ItemID: 73, ActorID: 2})
	require.NoError(t, err)
	assert.Empty(t, out.Effects)
	assert.False(t, fn.IsComplete)

	out, err = eng.SelectFnBranch(task, cat, engine.BranchSelection{FnInstanceID: fn.ID, ItemID: 71, ActorID: 2})
	require.NoError(t, err)
	require.Len(t, out.Effects, 1)
	assert.True(t, fn.IsComplete)
	assert.EqualValues(t, 71, *fn.DropdownItemID)

	_, err = eng.SelectFnBranch(task, cat, engine.BranchSelection{FnInstanceID: fn.ID, ItemID: 999, ActorID: 2})
	assert.True(t, domain.IsValidation(err))
}

func TestTableRowsAndCells(t *testing.T) {
	eng := newTestEngine(t)
	tpl := richTemplate()
	cat := engine.NewIndex(tpl)
	task := instantiate(t, eng, tpl)
	lines := task.Fns[0].Fields[0].Inputs[1]

	row, err := eng.AddTableRow(task, cat, engine.RowAdd{InputInstanceID: lines.ID, ActorID: 2})
	require.NoError(t, err)
	assert.Equal(t, 1, row.Order)
	assert.Len(t, row.Cells, 2)
	assert.False(t, lines.IsComplete)

	col := lines.Table.Columns[1]
	out, err := eng.SetTableCell(task, cat, engine.CellUpdate{InputInstanceID: lines.ID, RowID: row.ID, ColumnID: col.ID, Value: "4", ActorID: 2})
	require.NoError(t, err)
	assert.True(t, out.Changed)
	assert.True(t, lines.IsComplete)
	assert.Len(t, row.Cells, 2, "writing a cell never duplicates the (row, column) pair")

	other := task.Fns[0].Fields[0].Inputs[0]
	_, err = eng.SetTableCell(task, cat, engine.CellUpdate{InputInstanceID: lines.ID, RowID: row.ID, ColumnID: other.ID, Value: "x", ActorID: 2})
	assert.True(t, domain.IsValidation(err))

	_, err = eng.AddTableRow(task, cat, engine.RowAdd{InputInstanceID: other.ID, ActorID: 2})
	assert.True(t, domain.IsValidation(err))

	_, err = eng.ApplyInputValue(task, cat, engine.ValueUpdate{InputInstanceID: lines.ID, Value: "x", ActorID: 2})
	assert.True(t, domain.IsValidation(err))
}

func decimalOf(t *testing.T, s string) decimal.Decimal {
	t.Helper()
	d, err := decimal.NewFromString(s)
	require.NoError(t, err)
	return d
}

func TestEvaluateRefusesFrozenTasks(t *testing.T) {
	freeze := map[string]func(task *domain.TaskInstance){
		"cancelled": func(task *domain.TaskInstance) { task.Status = domain.StatusCancelled },
		"archived":  func(task *domain.TaskInstance) { task.IsArchived = true },
		"trashed": func(task *domain.TaskInstance) {
			at := fixedNow
			task.TrashedAt = &at
		},
	}
	for name, apply := range freeze {
		t.Run(name, func(t *testing.T) {
			eng := newTestEngine(t)
			action := &domain.ConditionalAction{ID: 50, ConditionType: domain.CondEquals, ConditionValue: "100", ActionType: domain.ActionMarkFieldDone}
			tpl := singleInputTemplate(domain.InputNumber, action)
			cat := engine.NewIndex(tpl)
			task := instantiate(t, eng, tpl)
			in := firstInput(task)
			hundred := decimalOf(t, "100")
			in.Value = domain.Value{Number: &hundred}
			apply(task)

			before, err := json.Marshal(task)
			require.NoError(t, err)
			effects, err := eng.Evaluate(task, cat, in.ID, 2)
			assert.True(t, domain.IsNoOp(err), "got %v", err)
			assert.Empty(t, effects)
			after, err := json.Marshal(task)
			require.NoError(t, err)
			assert.JSONEq(t, string(before), string(after))
		})
	}
}

func TestEvaluateRefusesLockedFn(t *testing.T) {
	eng := newTestEngine(t)
	tpl := richTemplate()
	tpl.Fns[0].Fields[0].Inputs[0].Action = &domain.ConditionalAction{ID: 61, ConditionType: domain.CondEquals, ConditionValue: "true", ActionType: domain.ActionMarkFnDone}
	task := instantiate(t, eng, tpl)
	dispatch := task.FnByTemplate(20)
	require.True(t, dispatch.IsLocked)
	signed := dispatch.Fields[0].Inputs[0]
	yes := true
	signed.Value = domain.Value{Bool: &yes}
	version := task.Version

	effects, err := eng.Evaluate(task, engine.NewIndex(tpl), signed.ID, 2)
	assert.True(t, domain.IsNoOp(err), "got %v", err)
	assert.Empty(t, effects)
	assert.False(t, dispatch.IsComplete)
	assert.Equal(t, version, task.Version)
}

func TestZeroLikeAnswersComplete(t *testing.T) {
	cases := []struct {
		typ   domain.InputType
		value string
	}{
		{typ: domain.InputNumber, value: "0"},
		{typ: domain.InputAmount, value: "0.00"},
		{typ: domain.InputBoolean, value: "false"},
	}
	for _, tc := range cases {
		t.Run(string(tc.typ), func(t *testing.T) {
			eng := newTestEngine(t)
			tpl := singleInputTemplate(tc.typ, nil)
			cat := engine.NewIndex(tpl)
			task := instantiate(t, eng, tpl)
			in, field := firstInput(task), task.Fns[0].Fields[0]
			require.False(t, in.IsComplete)

			out, err := eng.ApplyInputValue(task, cat, engine.ValueUpdate{InputInstanceID: in.ID, Value: tc.value, ActorID: 2})
			require.NoError(t, err)
			assert.True(t, out.Changed)
			assert.True(t, in.IsComplete)
			assert.EqualValues(t, 2, in.Version)
			assert.True(t, field.IsComplete)

			out, err = eng.ApplyInputValue(task, cat, engine.ValueUpdate{InputInstanceID: in.ID, Value: tc.value, ActorID: 2})
			require.NoError(t, err)
			assert.False(t, out.Changed, "repeating the answer is not a change")
			assert.EqualValues(t, 2, in.Version)
		})
	}
}
