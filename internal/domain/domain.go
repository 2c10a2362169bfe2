package domain

import (
	"encoding/json"
	"time"
)

// ConditionalAction is a rule attached to a template node. When the
// condition matches the triggering value the action is applied to the
// instance tree.
type ConditionalAction struct {
	ID             int64         `json:"id"`
	Name           string        `json:"name,omitempty"`
	ConditionType  ConditionType `json:"condition_type" enum:"EQUALS,LESS_THAN,LESS_THAN_EQUALS,GREATER_THAN,GREATER_THAN_EQUALS"`
	ConditionValue string        `json:"condition_value"`
	ActionType     ActionType    `json:"action_type" enum:"MARK_TASK_AS_DONE,MARK_FN_AS_DONE,MARK_FIELD_AS_DONE,NOTIFY_USERS,ADD_DYNAMIC_INPUT"`
	// ActionValue is a comma separated user id list for NOTIFY_USERS and an
	// input template id for ADD_DYNAMIC_INPUT.
	ActionValue           string `json:"action_value,omitempty"`
	TargetFieldTemplateID *int64 `json:"target_field_template_id,omitempty"`
}

// Actionable is implemented by the template nodes that own a single action slot.
type Actionable interface {
	ActionSlot() **ConditionalAction
}

type DropdownItem struct {
	ID                 int64              `json:"id"`
	DropdownTemplateID int64              `json:"dropdown_template_id"`
	Name               string             `json:"name"`
	Order              int                `json:"order"`
	Action             *ConditionalAction `json:"conditional_action,omitempty"`
}

func (d *DropdownItem) ActionSlot() **ConditionalAction { return &d.Action }

type DropdownTemplate struct {
	ID    int64           `json:"id"`
	Items []*DropdownItem `json:"items"`
}

func (d *DropdownTemplate) Item(id int64) *DropdownItem {
	if d == nil {
		return nil
	}
	for _, it := range d.Items {
		if it.ID == id {
			return it
		}
	}
	return nil
}

// ItemByName matches case-sensitively.
func (d *DropdownTemplate) ItemByName(name string) *DropdownItem {
	if d == nil {
		return nil
	}
	for _, it := range d.Items {
		if it.Name == name {
			return it
		}
	}
	return nil
}

type CheckboxTemplate struct {
	ID              int64              `json:"id"`
	InputTemplateID int64              `json:"input_template_id"`
	Name            string             `json:"name"`
	DefaultChecked  bool               `json:"default_checked"`
	Order           int                `json:"order"`
	Action          *ConditionalAction `json:"conditional_action,omitempty"`
}

func (c *CheckboxTemplate) ActionSlot() **ConditionalAction { return &c.Action }

type InputTemplate struct {
	ID              int64     `json:"id"`
	TaskTemplateID  int64     `json:"task_template_id"`
	FieldTemplateID int64     `json:"field_template_id,omitempty"`
	Name            string    `json:"name"`
	Description     string    `json:"description,omitempty"`
	Type            InputType `json:"type"`
	IsRequired      bool      `json:"is_required"`
	Order           int       `json:"order"`
	DefaultValue    string    `json:"default_value,omitempty"`
	Placeholder     string    `json:"placeholder,omitempty"`
	// Config is encoded under "config" tagged by Type.
	Config     InputConfig         `json:"-"`
	Dropdown   *DropdownTemplate   `json:"dropdown,omitempty"`
	Checkboxes []*CheckboxTemplate `json:"checkboxes,omitempty"`
	Action     *ConditionalAction  `json:"conditional_action,omitempty"`
	CreatedAt  time.Time           `json:"created_at"`
	UpdatedAt  time.Time           `json:"updated_at"`
}

func (i *InputTemplate) ActionSlot() **ConditionalAction { return &i.Action }

func (i *InputTemplate) Checkbox(id int64) *CheckboxTemplate {
	for _, c := range i.Checkboxes {
		if c.ID == id {
			return c
		}
	}
	return nil
}

type inputTemplateAlias InputTemplate

type inputTemplateJSON struct {
	*inputTemplateAlias
	Config json.RawMessage `json:"config,omitempty"`
}

func (i InputTemplate) MarshalJSON() ([]byte, error) {
	out := inputTemplateJSON{inputTemplateAlias: (*inputTemplateAlias)(&i)}
	if i.Config != nil {
		raw, err := json.Marshal(i.Config)
		if err != nil {
			return nil, err
		}
		out.Config = raw
	}
	return json.Marshal(out)
}

func (i *InputTemplate) UnmarshalJSON(data []byte) error {
	in := inputTemplateJSON{inputTemplateAlias: (*inputTemplateAlias)(i)}
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}
	cfg, err := decodeConfig(i.Type, in.Config)
	if err != nil {
		return err
	}
	i.Config = cfg
	return nil
}

type FieldTemplate struct {
	ID           int64            `json:"id"`
	FnTemplateID int64            `json:"fn_template_id"`
	Name         string           `json:"name"`
	Description  string           `json:"description,omitempty"`
	Order        int              `json:"order"`
	Inputs       []*InputTemplate `json:"input_templates"`
	CreatedAt    time.Time        `json:"created_at"`
	UpdatedAt    time.Time        `json:"updated_at"`
}

// NextFollowUp unlocks NextFnTemplateID once FnTemplateID completes.
type NextFollowUp struct {
	ID               int64  `json:"id"`
	FnTemplateID     int64  `json:"fn_template_id"`
	NextFnTemplateID int64  `json:"next_fn_template_id"`
	Name             string `json:"name,omitempty"`
}

type FnTemplate struct {
	ID             int64             `json:"id"`
	TaskTemplateID int64             `json:"task_template_id"`
	Name           string            `json:"name"`
	Description    string            `json:"description,omitempty"`
	Type           FnType            `json:"type" enum:"NORMAL,SPECIAL"`
	Order          int               `json:"order"`
	Fields         []*FieldTemplate  `json:"field_templates"`
	Dropdown       *DropdownTemplate `json:"dropdown,omitempty"`
	FollowUps      []*NextFollowUp   `json:"next_follow_ups,omitempty"`
	CreatedAt      time.Time         `json:"created_at"`
	UpdatedAt      time.Time         `json:"updated_at"`
}

type TaskTemplate struct {
	ID          int64         `json:"id"`
	Name        string        `json:"name"`
	Description string        `json:"description,omitempty"`
	Fns         []*FnTemplate `json:"fn_templates"`
	// Metadata inputs hang directly off the task.
	Metadata []*InputTemplate `json:"metadata_templates,omitempty"`
	// DynamicInputs are only instantiated by ADD_DYNAMIC_INPUT actions.
	DynamicInputs []*InputTemplate `json:"dynamic_input_templates,omitempty"`
	CreatedAt     time.Time        `json:"created_at"`
	UpdatedAt     time.Time        `json:"updated_at"`
}

func (t *TaskTemplate) Fn(id int64) *FnTemplate {
	for _, fn := range t.Fns {
		if fn.ID == id {
			return fn
		}
	}
	return nil
}

func (t *TaskTemplate) Field(id int64) *FieldTemplate {
	for _, fn := range t.Fns {
		for _, f := range fn.Fields {
			if f.ID == id {
				return f
			}
		}
	}
	return nil
}

// Input searches field inputs, metadata and dynamic inputs.
func (t *TaskTemplate) Input(id int64) *InputTemplate {
	var found *InputTemplate
	t.WalkInputs(func(in *InputTemplate) bool {
		if in.ID == id {
			found = in
			return false
		}
		return true
	})
	return found
}

// WalkInputs visits every input template until fn returns false.
func (t *TaskTemplate) WalkInputs(fn func(*InputTemplate) bool) {
	for _, f := range t.Fns {
		for _, field := range f.Fields {
			for _, in := range field.Inputs {
				if !fn(in) {
					return
				}
			}
		}
	}
	for _, in := range t.Metadata {
		if !fn(in) {
			return
		}
	}
	for _, in := range t.DynamicInputs {
		if !fn(in) {
			return
		}
	}
}

// Actions lists every conditional action in the template.
func (t *TaskTemplate) Actions() []*ConditionalAction {
	var out []*ConditionalAction
	collect := func(a *ConditionalAction) {
		if a != nil {
			out = append(out, a)
		}
	}
	t.WalkInputs(func(in *InputTemplate) bool {
		collect(in.Action)
		if in.Dropdown != nil {
			for _, it := range in.Dropdown.Items {
				collect(it.Action)
			}
		}
		for _, cb := range in.Checkboxes {
			collect(cb.Action)
		}
		return true
	})
	for _, fn := range t.Fns {
		if fn.Dropdown != nil {
			for _, it := range fn.Dropdown.Items {
				collect(it.Action)
			}
		}
	}
	return out
}

// Shape counts fns, fields and field inputs, the nodes instantiation mirrors.
func (t *TaskTemplate) Shape() (fns, fields, inputs int) {
	for _, fn := range t.Fns {
		fns++
		for _, f := range fn.Fields {
			fields++
			inputs += len(f.Inputs)
		}
	}
	return fns, fields, inputs
}

// MaxID returns the largest node id used in the template.
func (t *TaskTemplate) MaxID() int64 {
	maxID := t.ID
	bump := func(id int64) {
		if id > maxID {
			maxID = id
		}
	}
	dropdown := func(d *DropdownTemplate) {
		if d == nil {
			return
		}
		bump(d.ID)
		for _, it := range d.Items {
			bump(it.ID)
		}
	}
	for _, fn := range t.Fns {
		bump(fn.ID)
		dropdown(fn.Dropdown)
		for _, fu := range fn.FollowUps {
			bump(fu.ID)
		}
		for _, f := range fn.Fields {
			bump(f.ID)
		}
	}
	t.WalkInputs(func(in *InputTemplate) bool {
		bump(in.ID)
		dropdown(in.Dropdown)
		for _, cb := range in.Checkboxes {
			bump(cb.ID)
		}
		return true
	})
	for _, a := range t.Actions() {
		bump(a.ID)
	}
	return maxID
}
