package engine_test

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fieldwork/internal/domain"
	"fieldwork/internal/engine"
)

var fixedNow = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

func newTestEngine(t *testing.T) engine.Engine {
	t.Helper()
	eng := engine.New(engine.NewSequenceAt(1000))
	eng.Now = func() time.Time { return fixedNow }
	return eng
}

func instantiate(t *testing.T, eng engine.Engine, tpl *domain.TaskTemplate) *domain.TaskInstance {
	t.Helper()
	task, err := eng.InstantiateTask(tpl, engine.InstantiateOptions{Code: "T-1", CreatedByID: 1})
	require.NoError(t, err)
	return task
}

func firstInput(task *domain.TaskInstance) *domain.InputInstance {
	return task.Fns[0].Fields[0].Inputs[0]
}

// singleInputTemplate builds one fn with one field holding one required input
// (id 4) plus a spare dynamic TEXT input template (id 40).
func singleInputTemplate(typ domain.InputType, action *domain.ConditionalAction) *domain.TaskTemplate {
	return &domain.TaskTemplate{
		ID:   1,
		Name: "Inspection",
		Fns: []*domain.FnTemplate{{
			ID: 2, TaskTemplateID: 1, Name: "Survey", Type: domain.FnNormal, Order: 1,
			Fields: []*domain.FieldTemplate{{
				ID: 3, FnTemplateID: 2, Name: "Reading", Order: 1,
				Inputs: []*domain.InputTemplate{{
					ID: 4, TaskTemplateID: 1, FieldTemplateID: 3, Name: "Value", Type: typ,
					IsRequired: true, Order: 1, Action: action,
				}},
			}},
		}},
		DynamicInputs: []*domain.InputTemplate{{
			ID: 40, TaskTemplateID: 1, Name: "Reason", Type: domain.InputText, IsRequired: true, Order: 1,
		}},
	}
}

func richTemplate() *domain.TaskTemplate {
	cols := &domain.TableSchema{Columns: []domain.TableColumn{{Name: "Qty", Order: 2}, {Name: "Item", Order: 1}}}
	return &domain.TaskTemplate{
		ID:   1,
		Name: "Delivery",
		Fns: []*domain.FnTemplate{
			{
				ID: 20, TaskTemplateID: 1, Name: "Dispatch", Type: domain.FnSpecial, Order: 2,
				Fields: []*domain.FieldTemplate{{ID: 21, FnTemplateID: 20, Name: "Sign-off", Order: 1,
					Inputs: []*domain.InputTemplate{{ID: 22, FieldTemplateID: 21, Name: "Signed", Type: domain.InputBoolean, IsRequired: true, Order: 1}},
				}},
			},
			{
				ID: 2, TaskTemplateID: 1, Name: "Pick", Type: domain.FnNormal, Order: 1,
				FollowUps: []*domain.NextFollowUp{{ID: 30, FnTemplateID: 2, NextFnTemplateID: 20}},
				Fields: []*domain.FieldTemplate{
					{ID: 3, FnTemplateID: 2, Name: "Items", Order: 1, Inputs: []*domain.InputTemplate{
						{ID: 4, FieldTemplateID: 3, Name: "Count", Type: domain.InputNumber, IsRequired: true, Order: 1},
						{ID: 5, FieldTemplateID: 3, Name: "Lines", Type: domain.InputTable, Order: 2, Config: cols},
						{ID: 6, FieldTemplateID: 3, Name: "Checks", Type: domain.InputCheckbox, Order: 3, Checkboxes: []*domain.CheckboxTemplate{
							{ID: 7, InputTemplateID: 6, Name: "Sealed", DefaultChecked: true, Order: 1},
							{ID: 8, InputTemplateID: 6, Name: "Labeled", Order: 2},
						}},
					}},
					{ID: 9, FnTemplateID: 2, Name: "Notes", Order: 2, Inputs: []*domain.InputTemplate{
						{ID: 10, FieldTemplateID: 9, Name: "Comment", Type: domain.InputText, Order: 1, DefaultValue: "n/a"},
					}},
				},
			},
		},
		Metadata: []*domain.InputTemplate{{ID: 11, Name: "Site", Type: domain.InputText, Order: 1}},
		DynamicInputs: []*domain.InputTemplate{
			{ID: 12, Name: "Extra", Type: domain.InputText, Order: 1},
		},
	}
}

func TestInstantiateMirrorsTemplateShape(t *testing.T) {
	eng := newTestEngine(t)
	tpl := richTemplate()
	task := instantiate(t, eng, tpl)

	fns, fields, inputs := tpl.Shape()
	gotFns, gotFields, gotInputs, dynamic := task.Shape()
	assert.Equal(t, fns, gotFns)
	assert.Equal(t, fields, gotFields)
	assert.Equal(t, inputs, gotInputs)
	assert.Zero(t, dynamic)
	require.Len(t, task.Metadata, 1)

	assert.Equal(t, domain.StatusPending, task.Status)
	assert.Equal(t, domain.PriorityNormal, task.Priority)
	assert.EqualValues(t, 1, task.Version)

	// fns follow template order
	assert.EqualValues(t, 2, task.Fns[0].FnTemplateID)
	assert.False(t, task.Fns[0].IsLocked)
	assert.True(t, task.Fns[1].IsLocked, "follow-up target starts locked")

	count := task.Fns[0].Fields[0].Inputs[0]
	require.NotNil(t, count.Value.Number)
	assert.True(t, count.Value.Number.IsZero())
	assert.False(t, count.IsComplete)

	table := task.Fns[0].Fields[0].Inputs[1].Table
	require.NotNil(t, table)
	require.Len(t, table.Columns, 2)
	assert.Equal(t, "Item", table.Columns[0].Name)
	assert.Empty(t, table.Rows)

	checks := task.Fns[0].Fields[0].Inputs[2].Checkboxes
	require.Len(t, checks, 2)
	assert.True(t, checks[0].IsChecked)
	assert.False(t, checks[1].IsChecked)

	assert.Equal(t, "n/a", task.Fns[0].Fields[1].Inputs[0].Value.Text)

	seen := map[int64]bool{}
	task.WalkInputs(func(p domain.InputPath) bool {
		assert.False(t, seen[p.Input.ID], "duplicate id %d", p.Input.ID)
		seen[p.Input.ID] = true
		assert.False(t, p.Input.IsComplete)
		return true
	})
	assert.Greater(t, task.MaxID(), task.ID)
}

func TestInstantiateIsSnapshot(t *testing.T) {
	eng := newTestEngine(t)
	tpl := richTemplate()
	task := instantiate(t, eng, tpl)
	before, err := json.Marshal(task)
	require.NoError(t, err)

	tpl.Fns = append(tpl.Fns, &domain.FnTemplate{ID: 99, Name: "Late", Order: 3})
	tpl.Fns[1].Fields[1].Inputs[0].DefaultValue = "changed"
	tpl.Fns[1].Fields[0].Inputs = tpl.Fns[1].Fields[0].Inputs[:1]

	after, err := json.Marshal(task)
	require.NoError(t, err)
	assert.JSONEq(t, string(before), string(after))
}

func TestInstantiateCode(t *testing.T) {
	eng := newTestEngine(t)
	tpl := singleInputTemplate(domain.InputText, nil)

	_, err := eng.InstantiateTask(tpl, engine.InstantiateOptions{})
	require.Error(t, err)
	assert.True(t, domain.IsValidation(err))

	eng.Codes = func(*domain.TaskTemplate) (string, error) { return "INSP-0001", nil }
	task, err := eng.InstantiateTask(tpl, engine.InstantiateOptions{Priority: domain.PriorityHigh})
	require.NoError(t, err)
	assert.Equal(t, "INSP-0001", task.Code)
	assert.Equal(t, domain.PriorityHigh, task.Priority)

	_, err = eng.InstantiateTask(nil, engine.InstantiateOptions{Code: "X"})
	assert.True(t, domain.IsTemplateNotFound(err))
}

func TestRecomputeCompletionIsIdempotent(t *testing.T) {
	eng := newTestEngine(t)
	tpl := richTemplate()
	cat := engine.NewIndex(tpl)
	task := instantiate(t, eng, tpl)

	_, err := eng.ApplyInputValue(task, cat, engine.ValueUpdate{InputInstanceID: firstInput(task).ID, Value: "3", ActorID: 7})
	require.NoError(t, err)

	eng.RecomputeCompletion(task, cat)
	first, err := json.Marshal(task)
	require.NoError(t, err)
	eng.RecomputeCompletion(task, cat)
	second, err := json.Marshal(task)
	require.NoError(t, err)
	assert.Equal(t, string(first), string(second))
}

func TestCompletionPropagation(t *testing.T) {
	eng := newTestEngine(t)
	tpl := richTemplate()
	cat := engine.NewIndex(tpl)
	task := instantiate(t, eng, tpl)
	pick, dispatch := task.Fns[0], task.Fns[1]

	// Notes holds only an optional input, so it is complete from the start.
	assert.True(t, pick.Fields[1].IsComplete)
	assert.False(t, pick.Fields[0].IsComplete)
	assert.Zero(t, task.Progress)

	signed := dispatch.Fields[0].Inputs[0]
	_, err := eng.ApplyInputValue(task, cat, engine.ValueUpdate{InputInstanceID: signed.ID, Value: "true", ActorID: 7})
	assert.True(t, domain.IsNoOp(err), "locked fn refuses edits: %v", err)

	out, err := eng.ApplyInputValue(task, cat, engine.ValueUpdate{InputInstanceID: firstInput(task).ID, Value: "12", ActorID: 7})
	require.NoError(t, err)
	assert.True(t, out.Changed)
	assert.True(t, pick.Fields[0].IsComplete)
	assert.Equal(t, domain.CompletionDerived, pick.Fields[0].CompletionSource)
	assert.True(t, pick.IsComplete)
	assert.False(t, dispatch.IsLocked, "completing a fn unlocks its follow-ups")
	assert.False(t, dispatch.IsComplete)
	assert.Equal(t, 50, task.Progress)
	assert.Equal(t, domain.StatusPending, task.Status, "derived completion never closes the task")

	// clearing the value reopens the field and fn but the follow-up stays unlocked
	_, err = eng.ApplyInputValue(task, cat, engine.ValueUpdate{InputInstanceID: firstInput(task).ID, Value: "", ActorID: 7})
	require.NoError(t, err)
	assert.False(t, pick.Fields[0].IsComplete)
	assert.False(t, pick.IsComplete)
	assert.Nil(t, pick.CompletedAt)
	assert.False(t, dispatch.IsLocked)
	assert.Zero(t, task.Progress)
}

func TestCompleteFieldManually(t *testing.T) {
	eng := newTestEngine(t)
	tpl := richTemplate()
	cat := engine.NewIndex(tpl)
	task := instantiate(t, eng, tpl)
	items := task.Fns[0].Fields[0]

	require.NoError(t, eng.CompleteField(task, cat, items.ID, 3))
	assert.True(t, items.IsComplete)
	assert.Equal(t, domain.CompletionManual, items.CompletionSource)
	require.NotNil(t, items.CompletedByID)
	assert.EqualValues(t, 3, *items.CompletedByID)

	eng.RecomputeCompletion(task, cat)
	assert.True(t, items.IsComplete, "manual completion is sticky")
	assert.True(t, task.Fns[0].IsComplete)

	err := eng.CompleteField(task, cat, 424242, 3)
	assert.ErrorIs(t, err, engine.ErrNodeNotFound)
}

func TestSequence(t *testing.T) {
	seq := engine.NewSequenceAt(10)
	assert.EqualValues(t, 11, seq.Next())
	seq.Observe(5)
	assert.EqualValues(t, 11, seq.Current())
	seq.Observe(40)
	assert.EqualValues(t, 41, seq.Next())
}
