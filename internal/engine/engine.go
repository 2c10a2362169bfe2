package engine

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"fieldwork/internal/domain"
)

// ErrNodeNotFound is returned when an instance id does not belong to the task tree.
var ErrNodeNotFound = errors.New("instance node not found")

// CodeFunc generates the human-readable code of a new task instance.
type CodeFunc func(tpl *domain.TaskTemplate) (string, error)

// Engine holds the synchronous core. Every method is a pure computation over
// the in-memory tree it is handed; loading and saving belong to the caller.
type Engine struct {
	IDs   *Sequence
	Codes CodeFunc
	Now   func() time.Time
}

func New(ids *Sequence) Engine {
	return Engine{
		IDs: ids,
		Now: time.Now,
	}
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now().UTC()
	}
	return time.Now().UTC()
}

func (e Engine) ready() error {
	if e.IDs == nil {
		return errors.New("id sequence not configured")
	}
	return nil
}

// InstantiateOptions are parameters for materializing a task instance.
type InstantiateOptions struct {
	Code        string
	CustomerID  *int64
	Priority    domain.Priority
	CreatedByID int64
	AssigneeID  *int64
	Remarks     string
}

// InstantiateTask builds a TaskInstance whose shape mirrors tpl. The result
// shares nothing with tpl, so later template edits do not reach it.
func (e Engine) InstantiateTask(tpl *domain.TaskTemplate, opts InstantiateOptions) (*domain.TaskInstance, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	if tpl == nil || tpl.ID == 0 {
		return nil, &domain.TemplateNotFoundError{Kind: "task"}
	}
	if opts.Priority == "" {
		opts.Priority = domain.PriorityNormal
	}
	if !opts.Priority.Valid() {
		return nil, &domain.ValidationError{Field: "priority", Reason: "unknown priority " + string(opts.Priority)}
	}
	code := strings.TrimSpace(opts.Code)
	if code == "" && e.Codes != nil {
		generated, err := e.Codes(tpl)
		if err != nil {
			return nil, fmt.Errorf("generate code: %w", err)
		}
		code = generated
	}
	if code == "" {
		return nil, &domain.ValidationError{Field: "code", Reason: "code is required"}
	}

	now := e.now()
	task := &domain.TaskInstance{
		ID:             e.IDs.Next(),
		TaskTemplateID: tpl.ID,
		Code:           code,
		CustomerID:     opts.CustomerID,
		Priority:       opts.Priority,
		CreatedByID:    opts.CreatedByID,
		AssigneeID:     opts.AssigneeID,
		Status:         domain.StatusPending,
		Remarks:        opts.Remarks,
		Version:        1,
		Fns:            []*domain.FnInstance{},
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	locked := followUpTargets(tpl)
	for _, fnTpl := range sortedFns(tpl.Fns) {
		fn := &domain.FnInstance{
			ID:             e.IDs.Next(),
			TaskInstanceID: task.ID,
			FnTemplateID:   fnTpl.ID,
			IsLocked:       locked[fnTpl.ID],
			Fields:         []*domain.FieldInstance{},
		}
		for _, fieldTpl := range sortedFields(fnTpl.Fields) {
			field := &domain.FieldInstance{
				ID:              e.IDs.Next(),
				FnInstanceID:    fn.ID,
				FieldTemplateID: fieldTpl.ID,
				Inputs:          []*domain.InputInstance{},
			}
			for _, inTpl := range sortedInputs(fieldTpl.Inputs) {
				in, err := e.newInput(task.ID, field.ID, inTpl, now)
				if err != nil {
					return nil, err
				}
				field.Inputs = append(field.Inputs, in)
			}
			fn.Fields = append(fn.Fields, field)
		}
		task.Fns = append(task.Fns, fn)
	}
	for _, inTpl := range sortedInputs(tpl.Metadata) {
		in, err := e.newInput(task.ID, 0, inTpl, now)
		if err != nil {
			return nil, err
		}
		task.Metadata = append(task.Metadata, in)
	}
	e.recompute(task, NewIndex(tpl), nil)
	return task, nil
}

func (e Engine) newInput(taskID, fieldID int64, tpl *domain.InputTemplate, now time.Time) (*domain.InputInstance, error) {
	value := domain.ZeroValue(tpl.Type)
	if tpl.DefaultValue != "" && tpl.Type != domain.InputCheckbox && tpl.Type != domain.InputTable {
		v, err := parseValue(tpl, tpl.DefaultValue)
		if err != nil {
			return nil, fmt.Errorf("default value of input template %d: %w", tpl.ID, err)
		}
		value = v
	}
	in := &domain.InputInstance{
		ID:              e.IDs.Next(),
		TaskInstanceID:  taskID,
		FieldInstanceID: fieldID,
		InputTemplateID: tpl.ID,
		Value:           value,
		Version:         1,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if tpl.Type == domain.InputCheckbox {
		cbs := append([]*domain.CheckboxTemplate(nil), tpl.Checkboxes...)
		sort.SliceStable(cbs, func(i, j int) bool { return cbs[i].Order < cbs[j].Order })
		for _, cb := range cbs {
			in.Checkboxes = append(in.Checkboxes, &domain.CheckboxInstance{
				ID:                 e.IDs.Next(),
				InputInstanceID:    in.ID,
				CheckboxTemplateID: cb.ID,
				IsChecked:          cb.DefaultChecked,
			})
		}
	}
	if tpl.Type == domain.InputTable {
		in.Table = &domain.TableInstance{Columns: []*domain.TableColumnInstance{}, Rows: []*domain.TableRowInstance{}}
		if schema, ok := tpl.Config.(*domain.TableSchema); ok {
			cols := append([]domain.TableColumn(nil), schema.Columns...)
			sort.SliceStable(cols, func(i, j int) bool { return cols[i].Order < cols[j].Order })
			for _, c := range cols {
				in.Table.Columns = append(in.Table.Columns, &domain.TableColumnInstance{
					ID:              e.IDs.Next(),
					InputInstanceID: in.ID,
					Name:            c.Name,
					Order:           c.Order,
				})
			}
		}
	}
	return in, nil
}

// parseValue converts raw input for the given template. DROPDOWN values
// resolve to an item id; the raw form may be the item id or its name.
func parseValue(tpl *domain.InputTemplate, raw string) (domain.Value, error) {
	switch tpl.Type {
	case domain.InputCheckbox, domain.InputTable:
		return domain.Value{}, &domain.ValidationError{Field: "value", Reason: string(tpl.Type) + " inputs are edited through their own operations"}
	case domain.InputDropdown:
		raw = strings.TrimSpace(raw)
		if raw == "" {
			return domain.Value{}, nil
		}
		item := tpl.Dropdown.ItemByName(raw)
		if item == nil {
			if id, err := strconv.ParseInt(raw, 10, 64); err == nil {
				item = tpl.Dropdown.Item(id)
			}
		}
		if item == nil {
			return domain.Value{}, &domain.ValidationError{Field: "value", Reason: fmt.Sprintf("%q is not an option of input %d", raw, tpl.ID)}
		}
		id := item.ID
		return domain.Value{DropdownItemID: &id}, nil
	}
	v, err := domain.ParseScalar(tpl.Type, raw)
	if err != nil {
		return domain.Value{}, err
	}
	if tpl.Config != nil {
		if err := tpl.Config.Check(v); err != nil {
			return domain.Value{}, err
		}
	}
	return v, nil
}

func followUpTargets(tpl *domain.TaskTemplate) map[int64]bool {
	out := map[int64]bool{}
	for _, fn := range tpl.Fns {
		for _, fu := range fn.FollowUps {
			out[fu.NextFnTemplateID] = true
		}
	}
	return out
}

func sortedFns(in []*domain.FnTemplate) []*domain.FnTemplate {
	out := append([]*domain.FnTemplate(nil), in...)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Order < out[j].Order })
	return out
}

func sortedFields(in []*domain.FieldTemplate) []*domain.FieldTemplate {
	out := append([]*domain.FieldTemplate(nil), in...)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Order < out[j].Order })
	return out
}

func sortedInputs(in []*domain.InputTemplate) []*domain.InputTemplate {
	out := append([]*domain.InputTemplate(nil), in...)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Order < out[j].Order })
	return out
}

// ensureMutable refuses edits against frozen tasks.
func ensureMutable(task *domain.TaskInstance) error {
	switch {
	case task.Status.Terminal():
		return &domain.NoOpError{Reason: fmt.Sprintf("task %s is %s", task.Code, task.Status)}
	case task.TrashedAt != nil:
		return &domain.NoOpError{Reason: fmt.Sprintf("task %s is in the trash", task.Code)}
	case task.IsArchived:
		return &domain.NoOpError{Reason: fmt.Sprintf("task %s is archived", task.Code)}
	}
	return nil
}

func (e Engine) touch(task *domain.TaskInstance, now time.Time) {
	task.Version++
	if now.After(task.UpdatedAt) {
		task.UpdatedAt = now
	}
}

func stampInput(in *domain.InputInstance, actorID int64, now time.Time) {
	in.Version++
	in.UpdatedByID = &actorID
	if now.After(in.UpdatedAt) {
		in.UpdatedAt = now
	}
	complete := in.HasValue()
	switch {
	case complete && !in.IsComplete:
		in.IsComplete = true
		in.CompletedAt = &now
		in.CompletedByID = &actorID
	case !complete && in.IsComplete:
		in.IsComplete = false
		in.CompletedAt = nil
		in.CompletedByID = nil
	}
}
