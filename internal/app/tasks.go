package app

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"fieldwork/internal/domain"
	"fieldwork/internal/engine"
	"fieldwork/internal/events"
	"fieldwork/internal/repo"
)

// Instantiate materialises a task from a template. An empty code is
// generated from the template name as PREFIX-0001.
func (s *Service) Instantiate(ctx context.Context, templateID int64, opts engine.InstantiateOptions) (*domain.TaskInstance, error) {
	if err := s.syncSequence(ctx); err != nil {
		return nil, err
	}
	tpl, err := s.GetTemplate(ctx, templateID)
	if err != nil {
		return nil, err
	}
	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	if strings.TrimSpace(opts.Code) == "" {
		code, err := s.Repo.NextCodeTx(ctx, tx, repo.CodePrefix(tpl.Name, s.Config.Codes.Prefix), s.Config.Codes.Width)
		if err != nil {
			return nil, err
		}
		opts.Code = code
	}
	task, err := s.Engine.InstantiateTask(tpl, opts)
	if err != nil {
		return nil, err
	}
	if err := s.Repo.InsertTaskInstanceTx(ctx, tx, task); err != nil {
		return nil, err
	}
	fns, fields, inputs, _ := task.Shape()
	if err := s.events.Correlated().Append(ctx, tx, events.TaskInstantiated, "task", task.ID, opts.CreatedByID, events.EventPayload{
		"code":             task.Code,
		"task_template_id": tpl.ID,
		"priority":         task.Priority,
		"fns":              fns,
		"fields":           fields,
		"inputs":           inputs,
		"progress":         task.Progress,
	}); err != nil {
		return nil, err
	}
	if err := s.Repo.SaveSequenceTx(ctx, tx, s.ids.Current()); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	s.Log.Info("task instantiated", "task", task.Code, "template", tpl.ID)
	return task, nil
}

func (s *Service) GetTask(ctx context.Context, id int64) (*domain.TaskInstance, error) {
	task, err := s.Repo.GetTaskInstance(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("task %d: %w", id, err)
	}
	return task, nil
}

// ResolveTask accepts a numeric id or a task code.
func (s *Service) ResolveTask(ctx context.Context, ref string) (*domain.TaskInstance, error) {
	ref = strings.TrimSpace(ref)
	if id, err := strconv.ParseInt(ref, 10, 64); err == nil {
		return s.GetTask(ctx, id)
	}
	task, err := s.Repo.GetTaskInstanceByCode(ctx, ref)
	if err != nil {
		return nil, fmt.Errorf("task %s: %w", ref, err)
	}
	return task, nil
}

func (s *Service) ListTasks(ctx context.Context, f repo.TaskFilter) ([]repo.TaskSummary, error) {
	return s.Repo.ListTaskInstances(ctx, f)
}

func (s *Service) Events(ctx context.Context, f repo.EventFilter) ([]domain.Event, error) {
	return s.Repo.LatestEvents(ctx, f)
}

func fromOutcome(out *engine.Outcome) *Result {
	if out == nil {
		return &Result{}
	}
	return &Result{Effects: out.Effects}
}

// ApplyInputValue sets an input value and runs its conditional actions.
func (s *Service) ApplyInputValue(ctx context.Context, taskID int64, upd engine.ValueUpdate) (*Result, error) {
	return s.mutate(ctx, taskID, upd.ActorID, func(task *domain.TaskInstance, cat engine.Catalog) (*Result, *change, error) {
		out, err := s.Engine.ApplyInputValue(task, cat, upd)
		if out == nil {
			return nil, nil, err
		}
		return fromOutcome(out), &change{events.InputUpdated, "input", upd.InputInstanceID, events.EventPayload{
			"task_id": task.ID,
			"value":   out.Input.Value.String(),
			"version": out.Input.Version,
		}}, err
	})
}

func (s *Service) ToggleCheckbox(ctx context.Context, taskID int64, upd engine.CheckboxUpdate) (*Result, error) {
	return s.mutate(ctx, taskID, upd.ActorID, func(task *domain.TaskInstance, cat engine.Catalog) (*Result, *change, error) {
		out, err := s.Engine.ToggleCheckbox(task, cat, upd)
		if out == nil {
			return nil, nil, err
		}
		return fromOutcome(out), &change{events.CheckboxToggled, "checkbox", upd.CheckboxInstanceID, events.EventPayload{
			"task_id":           task.ID,
			"input_instance_id": out.Input.ID,
			"checked":           upd.Checked,
		}}, err
	})
}

func (s *Service) SelectFnBranch(ctx context.Context, taskID int64, sel engine.BranchSelection) (*Result, error) {
	return s.mutate(ctx, taskID, sel.ActorID, func(task *domain.TaskInstance, cat engine.Catalog) (*Result, *change, error) {
		out, err := s.Engine.SelectFnBranch(task, cat, sel)
		if out == nil {
			return nil, nil, err
		}
		return fromOutcome(out), &change{events.BranchSelected, "fn", sel.FnInstanceID, events.EventPayload{
			"task_id": task.ID,
			"item_id": sel.ItemID,
		}}, err
	})
}

func (s *Service) AddTableRow(ctx context.Context, taskID int64, add engine.RowAdd) (*Result, error) {
	return s.mutate(ctx, taskID, add.ActorID, func(task *domain.TaskInstance, cat engine.Catalog) (*Result, *change, error) {
		row, err := s.Engine.AddTableRow(task, cat, add)
		if err != nil {
			return nil, nil, err
		}
		return &Result{Row: row}, &change{events.TableChanged, "input", add.InputInstanceID, events.EventPayload{
			"task_id":   task.ID,
			"op":        "row_added",
			"row_id":    row.ID,
			"row_order": row.Order,
		}}, nil
	})
}

func (s *Service) SetTableCell(ctx context.Context, taskID int64, upd engine.CellUpdate) (*Result, error) {
	return s.mutate(ctx, taskID, upd.ActorID, func(task *domain.TaskInstance, cat engine.Catalog) (*Result, *change, error) {
		out, err := s.Engine.SetTableCell(task, cat, upd)
		if out == nil {
			return nil, nil, err
		}
		return fromOutcome(out), &change{events.TableChanged, "input", upd.InputInstanceID, events.EventPayload{
			"task_id":   task.ID,
			"op":        "cell_set",
			"row_id":    upd.RowID,
			"column_id": upd.ColumnID,
			"value":     upd.Value,
		}}, err
	})
}

// Evaluate re-runs the conditional actions of an input against its current
// value.
func (s *Service) Evaluate(ctx context.Context, taskID, inputInstanceID, actorID int64) (*Result, error) {
	return s.mutate(ctx, taskID, actorID, func(task *domain.TaskInstance, cat engine.Catalog) (*Result, *change, error) {
		effects, err := s.Engine.Evaluate(task, cat, inputInstanceID, actorID)
		var partial *engine.EffectError
		if err != nil && !errors.As(err, &partial) {
			return nil, nil, err
		}
		return &Result{Effects: effects}, &change{events.TaskRecomputed, "task", task.ID, events.EventPayload{
			"input_instance_id": inputInstanceID,
			"progress":          task.Progress,
		}}, err
	})
}

// Recompute re-derives completion flags and progress.
func (s *Service) Recompute(ctx context.Context, taskID, actorID int64) (*Result, error) {
	return s.mutate(ctx, taskID, actorID, func(task *domain.TaskInstance, cat engine.Catalog) (*Result, *change, error) {
		s.Engine.RecomputeCompletion(task, cat)
		return &Result{}, &change{events.TaskRecomputed, "task", task.ID, events.EventPayload{"progress": task.Progress}}, nil
	})
}

func (s *Service) SetStatus(ctx context.Context, taskID int64, ch engine.StatusChange) (*Result, error) {
	return s.mutate(ctx, taskID, ch.ActorID, func(task *domain.TaskInstance, _ engine.Catalog) (*Result, *change, error) {
		from := task.Status
		if err := s.Engine.SetStatus(task, ch); err != nil {
			return nil, nil, err
		}
		return &Result{}, &change{events.TaskStatusChanged, "task", task.ID, events.EventPayload{
			"from":    from,
			"to":      task.Status,
			"forced":  ch.Force,
			"remarks": ch.Remarks,
		}}, nil
	})
}

// CompleteField marks a field complete by hand.
func (s *Service) CompleteField(ctx context.Context, taskID, fieldInstanceID, actorID int64) (*Result, error) {
	return s.mutate(ctx, taskID, actorID, func(task *domain.TaskInstance, cat engine.Catalog) (*Result, *change, error) {
		if err := s.Engine.CompleteField(task, cat, fieldInstanceID, actorID); err != nil {
			return nil, nil, err
		}
		return &Result{}, &change{events.FieldCompleted, "field", fieldInstanceID, events.EventPayload{
			"task_id":  task.ID,
			"progress": task.Progress,
		}}, nil
	})
}

func (s *Service) Archive(ctx context.Context, taskID, actorID int64) (*Result, error) {
	return s.flag(ctx, taskID, actorID, events.TaskArchived, s.Engine.Archive)
}

func (s *Service) Trash(ctx context.Context, taskID, actorID int64) (*Result, error) {
	return s.flag(ctx, taskID, actorID, events.TaskTrashed, s.Engine.Trash)
}

func (s *Service) Restore(ctx context.Context, taskID, actorID int64) (*Result, error) {
	return s.flag(ctx, taskID, actorID, events.TaskRestored, s.Engine.Restore)
}

// flag runs an archive style toggle. An unchanged task is reported with
// Changed false and no event.
func (s *Service) flag(ctx context.Context, taskID, actorID int64, evtType string, set func(*domain.TaskInstance) bool) (*Result, error) {
	return s.mutate(ctx, taskID, actorID, func(task *domain.TaskInstance, _ engine.Catalog) (*Result, *change, error) {
		set(task)
		return &Result{}, &change{evtType, "task", task.ID, events.EventPayload{"code": task.Code}}, nil
	})
}

// PurgeTrashed deletes tasks trashed longer than olderThan ago. A zero
// duration uses the configured retention.
func (s *Service) PurgeTrashed(ctx context.Context, olderThan time.Duration, actorID int64) ([]int64, error) {
	if olderThan <= 0 {
		olderThan = time.Duration(s.Config.Trash.RetentionDays) * 24 * time.Hour
	}
	before := s.now().Add(-olderThan)
	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	ids, err := s.Repo.PurgeTrashedTx(ctx, tx, before)
	if err != nil {
		return nil, err
	}
	w := s.events.Correlated()
	for _, id := range ids {
		if err := w.Append(ctx, tx, events.TaskPurged, "task", id, actorID, events.EventPayload{"trashed_before": before.Format(time.RFC3339)}); err != nil {
			return nil, err
		}
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	if len(ids) > 0 {
		s.Log.Info("trash purged", "tasks", len(ids))
	}
	return ids, nil
}
