package engine_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fieldwork/internal/domain"
	"fieldwork/internal/engine"
)

func TestTaskStatusTransitions(t *testing.T) {
	eng := newTestEngine(t)
	task := instantiate(t, eng, singleInputTemplate(domain.InputText, nil))

	// valid path
	for _, st := range []domain.TaskStatus{domain.StatusInProgress, domain.StatusOnHold, domain.StatusInProgress, domain.StatusRevisionRequired, domain.StatusInProgress} {
		require.NoError(t, eng.SetStatus(task, engine.StatusChange{Status: st, ActorID: 2}), "to %s", st)
		assert.Equal(t, st, task.Status)
	}
	assert.Nil(t, task.ClosedAt)

	// invalid transition should error
	err := eng.SetStatus(task, engine.StatusChange{Status: domain.StatusPending, ActorID: 2})
	assert.True(t, domain.IsValidation(err))

	require.NoError(t, eng.SetStatus(task, engine.StatusChange{Status: domain.StatusCompleted, ActorID: 2, Remarks: "signed off"}))
	require.NotNil(t, task.ClosedAt)
	require.NotNil(t, task.ClosedByID)
	assert.EqualValues(t, 2, *task.ClosedByID)
	assert.Equal(t, "signed off", task.Remarks)

	// terminal statuses are final, even when forced
	err = eng.SetStatus(task, engine.StatusChange{Status: domain.StatusInProgress, ActorID: 2, Force: true})
	assert.True(t, domain.IsNoOp(err))

	err = eng.SetStatus(task, engine.StatusChange{Status: "DONE", ActorID: 2})
	assert.True(t, domain.IsValidation(err))
}

func TestForcedTransition(t *testing.T) {
	eng := newTestEngine(t)
	task := instantiate(t, eng, singleInputTemplate(domain.InputText, nil))
	require.Error(t, eng.SetStatus(task, engine.StatusChange{Status: domain.StatusCompleted}))
	require.NoError(t, eng.SetStatus(task, engine.StatusChange{Status: domain.StatusCompleted, Force: true}))
	assert.Equal(t, domain.StatusCompleted, task.Status)
}

func TestArchiveTrashRestore(t *testing.T) {
	eng := newTestEngine(t)
	tpl := singleInputTemplate(domain.InputText, nil)
	cat := engine.NewIndex(tpl)
	task := instantiate(t, eng, tpl)
	version := task.Version

	assert.True(t, eng.Archive(task))
	assert.False(t, eng.Archive(task))
	assert.True(t, task.IsArchived)
	assert.Equal(t, version+1, task.Version)

	_, err := eng.ApplyInputValue(task, cat, engine.ValueUpdate{InputInstanceID: firstInput(task).ID, Value: "x", ActorID: 2})
	assert.True(t, domain.IsNoOp(err))

	assert.True(t, eng.Trash(task))
	require.NotNil(t, task.TrashedAt)
	assert.Equal(t, fixedNow, *task.TrashedAt)

	assert.True(t, eng.Restore(task))
	assert.False(t, task.IsArchived)
	assert.Nil(t, task.TrashedAt)
	assert.False(t, eng.Restore(task))

	_, err = eng.ApplyInputValue(task, cat, engine.ValueUpdate{InputInstanceID: firstInput(task).ID, Value: "x", ActorID: 2})
	assert.NoError(t, err)
}
