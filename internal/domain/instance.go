package domain

import "time"

type CheckboxInstance struct {
	ID                 int64 `json:"id"`
	InputInstanceID    int64 `json:"input_instance_id"`
	CheckboxTemplateID int64 `json:"checkbox_template_id"`
	IsChecked          bool  `json:"is_checked"`
}

type TableColumnInstance struct {
	ID              int64  `json:"id"`
	InputInstanceID int64  `json:"input_instance_id"`
	Name            string `json:"name"`
	Order           int    `json:"order"`
}

type TableCellInstance struct {
	ID               int64  `json:"id"`
	RowInstanceID    int64  `json:"row_instance_id"`
	ColumnInstanceID int64  `json:"column_instance_id"`
	Value            string `json:"value"`
}

type TableRowInstance struct {
	ID              int64                `json:"id"`
	InputInstanceID int64                `json:"input_instance_id"`
	Order           int                  `json:"order"`
	Cells           []*TableCellInstance `json:"cells"`
}

// TableInstance is the payload of a TABLE input. Every cell references a row
// and a column of the same input, and each (row, column) pair is unique.
type TableInstance struct {
	Columns []*TableColumnInstance `json:"headers"`
	Rows    []*TableRowInstance    `json:"rows"`
}

func (t *TableInstance) Column(id int64) *TableColumnInstance {
	for _, c := range t.Columns {
		if c.ID == id {
			return c
		}
	}
	return nil
}

func (t *TableInstance) Row(id int64) *TableRowInstance {
	for _, r := range t.Rows {
		if r.ID == id {
			return r
		}
	}
	return nil
}

// HasData reports whether any cell holds a value.
func (t *TableInstance) HasData() bool {
	if t == nil {
		return false
	}
	for _, r := range t.Rows {
		for _, c := range r.Cells {
			if c.Value != "" {
				return true
			}
		}
	}
	return false
}

type InputInstance struct {
	ID              int64               `json:"id"`
	TaskInstanceID  int64               `json:"task_instance_id"`
	FieldInstanceID int64               `json:"field_instance_id,omitempty"`
	InputTemplateID int64               `json:"input_template_id"`
	Value           Value               `json:"value"`
	IsComplete      bool                `json:"is_complete"`
	CompletedByID   *int64              `json:"completed_by_id,omitempty"`
	CompletedAt     *time.Time          `json:"completed_at,omitempty"`
	Checkboxes      []*CheckboxInstance `json:"checkbox_instances,omitempty"`
	Table           *TableInstance      `json:"table,omitempty"`
	// IsDynamicallyCreated marks inputs spawned by ADD_DYNAMIC_INPUT.
	IsDynamicallyCreated          bool      `json:"is_dynamically_created"`
	TriggeringConditionalActionID *int64    `json:"triggering_conditional_action_id,omitempty"`
	Version                       int64     `json:"version"`
	UpdatedByID                   *int64    `json:"updated_by_id,omitempty"`
	CreatedAt                     time.Time `json:"created_at"`
	UpdatedAt                     time.Time `json:"updated_at"`
}

func (in *InputInstance) Checkbox(id int64) *CheckboxInstance {
	for _, cb := range in.Checkboxes {
		if cb.ID == id {
			return cb
		}
	}
	return nil
}

// HasValue reports whether the user supplied anything for this input.
func (in *InputInstance) HasValue() bool {
	if !in.Value.IsEmpty() {
		return true
	}
	for _, cb := range in.Checkboxes {
		if cb.IsChecked {
			return true
		}
	}
	return in.Table.HasData()
}

type FieldInstance struct {
	ID               int64            `json:"id"`
	FnInstanceID     int64            `json:"fn_instance_id"`
	FieldTemplateID  int64            `json:"field_template_id"`
	IsComplete       bool             `json:"is_complete"`
	CompletionSource CompletionSource `json:"completion_source,omitempty"`
	CompletedByID    *int64           `json:"completed_by_id,omitempty"`
	CompletedAt      *time.Time       `json:"completed_at,omitempty"`
	Inputs           []*InputInstance `json:"input_instances"`
}

type FnInstance struct {
	ID               int64            `json:"id"`
	TaskInstanceID   int64            `json:"task_instance_id"`
	FnTemplateID     int64            `json:"fn_template_id"`
	DropdownItemID   *int64           `json:"dropdown_item_id,omitempty"`
	IsLocked         bool             `json:"is_locked"`
	IsComplete       bool             `json:"is_complete"`
	CompletionSource CompletionSource `json:"completion_source,omitempty"`
	CompletedByID    *int64           `json:"completed_by_id,omitempty"`
	CompletedAt      *time.Time       `json:"completed_at,omitempty"`
	Fields           []*FieldInstance `json:"field_instances"`
}

type TaskInstance struct {
	ID             int64            `json:"id"`
	TaskTemplateID int64            `json:"task_template_id"`
	Code           string           `json:"code"`
	CustomerID     *int64           `json:"customer_id,omitempty"`
	Priority       Priority         `json:"priority" enum:"NORMAL,MEDIUM,HIGH"`
	CreatedByID    int64            `json:"created_by_id"`
	AssigneeID     *int64           `json:"assignee_id,omitempty"`
	ClosedByID     *int64           `json:"closed_by_id,omitempty"`
	IsArchived     bool             `json:"is_archived"`
	TrashedAt      *time.Time       `json:"trashed_at,omitempty"`
	Status         TaskStatus       `json:"status" enum:"PENDING,IN_PROGRESS,COMPLETED,REJECTED,ON_HOLD,CANCELLED,REVISION_REQUIRED"`
	Remarks        string           `json:"remarks,omitempty"`
	Progress       int              `json:"progress"`
	Version        int64            `json:"version"`
	Fns            []*FnInstance    `json:"fn_instances"`
	Metadata       []*InputInstance `json:"metadata_instances,omitempty"`
	CreatedAt      time.Time        `json:"created_at"`
	UpdatedAt      time.Time        `json:"updated_at"`
	ClosedAt       *time.Time       `json:"closed_at,omitempty"`
}

// InputPath locates an input and its ancestors. Field and Fn are nil for
// metadata inputs.
type InputPath struct {
	Fn    *FnInstance
	Field *FieldInstance
	Input *InputInstance
}

func (t *TaskInstance) FindInput(id int64) (InputPath, bool) {
	for _, fn := range t.Fns {
		for _, f := range fn.Fields {
			for _, in := range f.Inputs {
				if in.ID == id {
					return InputPath{Fn: fn, Field: f, Input: in}, true
				}
			}
		}
	}
	for _, in := range t.Metadata {
		if in.ID == id {
			return InputPath{Input: in}, true
		}
	}
	return InputPath{}, false
}

// FindCheckbox returns the checkbox and the path of its owning input.
func (t *TaskInstance) FindCheckbox(id int64) (*CheckboxInstance, InputPath, bool) {
	var (
		cb   *CheckboxInstance
		path InputPath
	)
	t.WalkInputs(func(p InputPath) bool {
		if c := p.Input.Checkbox(id); c != nil {
			cb, path = c, p
			return false
		}
		return true
	})
	return cb, path, cb != nil
}

func (t *TaskInstance) FindFn(id int64) *FnInstance {
	for _, fn := range t.Fns {
		if fn.ID == id {
			return fn
		}
	}
	return nil
}

// FindFieldByTemplate returns the first field instantiated from templateID.
func (t *TaskInstance) FindFieldByTemplate(templateID int64) (*FnInstance, *FieldInstance) {
	for _, fn := range t.Fns {
		for _, f := range fn.Fields {
			if f.FieldTemplateID == templateID {
				return fn, f
			}
		}
	}
	return nil, nil
}

func (t *TaskInstance) FnByTemplate(templateID int64) *FnInstance {
	for _, fn := range t.Fns {
		if fn.FnTemplateID == templateID {
			return fn
		}
	}
	return nil
}

// WalkInputs visits every input, field inputs first, until fn returns false.
func (t *TaskInstance) WalkInputs(fn func(InputPath) bool) {
	for _, f := range t.Fns {
		for _, field := range f.Fields {
			for _, in := range field.Inputs {
				if !fn(InputPath{Fn: f, Field: field, Input: in}) {
					return
				}
			}
		}
	}
	for _, in := range t.Metadata {
		if !fn(InputPath{Input: in}) {
			return
		}
	}
}

// Shape counts fn, field and field-input instances, split by dynamic origin.
func (t *TaskInstance) Shape() (fns, fields, inputs, dynamic int) {
	for _, fn := range t.Fns {
		fns++
		for _, f := range fn.Fields {
			fields++
			for _, in := range f.Inputs {
				if in.IsDynamicallyCreated {
					dynamic++
					continue
				}
				inputs++
			}
		}
	}
	return fns, fields, inputs, dynamic
}

// MaxID returns the largest node id in the tree.
func (t *TaskInstance) MaxID() int64 {
	maxID := t.ID
	bump := func(id int64) {
		if id > maxID {
			maxID = id
		}
	}
	for _, fn := range t.Fns {
		bump(fn.ID)
		for _, f := range fn.Fields {
			bump(f.ID)
		}
	}
	t.WalkInputs(func(p InputPath) bool {
		bump(p.Input.ID)
		for _, cb := range p.Input.Checkboxes {
			bump(cb.ID)
		}
		if tbl := p.Input.Table; tbl != nil {
			for _, c := range tbl.Columns {
				bump(c.ID)
			}
			for _, r := range tbl.Rows {
				bump(r.ID)
				for _, cell := range r.Cells {
					bump(cell.ID)
				}
			}
		}
		return true
	})
	return maxID
}
