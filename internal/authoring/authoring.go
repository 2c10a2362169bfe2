// Package authoring implements the administrative edits of the template
// tree. Every operation validates before it mutates, so a rejected edit
// leaves the template exactly as it was.
package authoring

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"fieldwork/internal/domain"
)

// IDSource allocates node ids.
type IDSource interface {
	Next() int64
}

type Author struct {
	IDs      IDSource
	Now      func() time.Time
	validate *validator.Validate
}

func New(ids IDSource) *Author {
	return &Author{IDs: ids, Now: time.Now, validate: validator.New()}
}

func (a *Author) now() time.Time {
	if a.Now != nil {
		return a.Now().UTC()
	}
	return time.Now().UTC()
}

// check runs struct validation and converts the first failure into a
// ValidationError.
func (a *Author) check(spec any) error {
	if a.validate == nil {
		a.validate = validator.New()
	}
	err := a.validate.Struct(spec)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		fe := verrs[0]
		return &domain.ValidationError{Field: snake(fe.Field()), Reason: describe(fe)}
	}
	return &domain.ValidationError{Reason: err.Error()}
}

func describe(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "max":
		return "must be at most " + fe.Param() + " characters"
	case "gte":
		return "must be >= " + fe.Param()
	case "oneof":
		return "must be one of " + fe.Param()
	}
	return "failed " + fe.Tag()
}

func snake(s string) string {
	var b strings.Builder
	for i, r := range s {
		if r >= 'A' && r <= 'Z' {
			if i > 0 {
				b.WriteByte('_')
			}
			r += 'a' - 'A'
		}
		b.WriteRune(r)
	}
	return b.String()
}

type FnSpec struct {
	Name        string        `validate:"required,max=200"`
	Description string        `validate:"max=2000"`
	Type        domain.FnType `validate:"omitempty,oneof=NORMAL SPECIAL"`
	// Order 0 takes the next free position.
	Order int `validate:"gte=0"`
}

type FieldSpec struct {
	Name        string `validate:"required,max=200"`
	Description string `validate:"max=2000"`
	Order       int    `validate:"gte=0"`
}

type InputSpec struct {
	Name         string           `validate:"required,max=200"`
	Description  string           `validate:"max=2000"`
	Type         domain.InputType `validate:"required"`
	IsRequired   bool
	Order        int `validate:"gte=0"`
	DefaultValue string
	Placeholder  string             `validate:"max=200"`
	Config       domain.InputConfig `validate:"-"`
}

type ItemSpec struct {
	Name  string `validate:"required,max=200"`
	Order int    `validate:"gte=0"`
}

type CheckboxSpec struct {
	Name           string `validate:"required,max=200"`
	DefaultChecked bool
	Order          int `validate:"gte=0"`
}

type ActionSpec struct {
	Name                  string               `validate:"max=200"`
	ConditionType         domain.ConditionType `validate:"required"`
	ConditionValue        string
	ActionType            domain.ActionType `validate:"required"`
	ActionValue           string
	TargetFieldTemplateID *int64
}

func (a *Author) CreateTaskTemplate(name, description string) (*domain.TaskTemplate, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, &domain.ValidationError{Field: "name", Reason: "is required"}
	}
	now := a.now()
	return &domain.TaskTemplate{
		ID:          a.IDs.Next(),
		Name:        name,
		Description: description,
		Fns:         []*domain.FnTemplate{},
		CreatedAt:   now,
		UpdatedAt:   now,
	}, nil
}

func (a *Author) UpdateTaskTemplate(tpl *domain.TaskTemplate, name, description string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return &domain.ValidationError{Field: "name", Reason: "is required"}
	}
	tpl.Name = name
	tpl.Description = description
	tpl.UpdatedAt = a.now()
	return nil
}

func (a *Author) AddFnTemplate(tpl *domain.TaskTemplate, spec FnSpec) (*domain.FnTemplate, error) {
	spec.Name = strings.TrimSpace(spec.Name)
	if err := a.check(spec); err != nil {
		return nil, err
	}
	if spec.Type == "" {
		spec.Type = domain.FnNormal
	}
	orders := make([]int, 0, len(tpl.Fns))
	for _, fn := range tpl.Fns {
		orders = append(orders, fn.Order)
	}
	order, err := pickOrder(orders, spec.Order, fmt.Sprintf("task template %d", tpl.ID))
	if err != nil {
		return nil, err
	}
	now := a.now()
	fn := &domain.FnTemplate{
		ID:             a.IDs.Next(),
		TaskTemplateID: tpl.ID,
		Name:           spec.Name,
		Description:    spec.Description,
		Type:           spec.Type,
		Order:          order,
		Fields:         []*domain.FieldTemplate{},
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	tpl.Fns = append(tpl.Fns, fn)
	tpl.UpdatedAt = now
	return fn, nil
}

func (a *Author) AddFieldTemplate(tpl *domain.TaskTemplate, fnID int64, spec FieldSpec) (*domain.FieldTemplate, error) {
	fn := tpl.Fn(fnID)
	if fn == nil {
		return nil, &domain.TemplateNotFoundError{Kind: "fn", ID: fnID}
	}
	spec.Name = strings.TrimSpace(spec.Name)
	if err := a.check(spec); err != nil {
		return nil, err
	}
	orders := make([]int, 0, len(fn.Fields))
	for _, f := range fn.Fields {
		orders = append(orders, f.Order)
	}
	order, err := pickOrder(orders, spec.Order, fmt.Sprintf("fn template %d", fn.ID))
	if err != nil {
		return nil, err
	}
	now := a.now()
	field := &domain.FieldTemplate{
		ID:           a.IDs.Next(),
		FnTemplateID: fn.ID,
		Name:         spec.Name,
		Description:  spec.Description,
		Order:        order,
		Inputs:       []*domain.InputTemplate{},
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	fn.Fields = append(fn.Fields, field)
	fn.UpdatedAt = now
	tpl.UpdatedAt = now
	return field, nil
}

func (a *Author) AddInputTemplate(tpl *domain.TaskTemplate, fieldID int64, spec InputSpec) (*domain.InputTemplate, error) {
	field := tpl.Field(fieldID)
	if field == nil {
		return nil, &domain.TemplateNotFoundError{Kind: "field", ID: fieldID}
	}
	in, err := a.newInput(tpl, field.Inputs, fmt.Sprintf("field template %d", field.ID), spec)
	if err != nil {
		return nil, err
	}
	in.FieldTemplateID = field.ID
	field.Inputs = append(field.Inputs, in)
	field.UpdatedAt = in.CreatedAt
	tpl.UpdatedAt = in.CreatedAt
	return in, nil
}

// AddMetadataInput adds an input that hangs directly off the task.
func (a *Author) AddMetadataInput(tpl *domain.TaskTemplate, spec InputSpec) (*domain.InputTemplate, error) {
	in, err := a.newInput(tpl, tpl.Metadata, fmt.Sprintf("metadata of task template %d", tpl.ID), spec)
	if err != nil {
		return nil, err
	}
	tpl.Metadata = append(tpl.Metadata, in)
	tpl.UpdatedAt = in.CreatedAt
	return in, nil
}

// AddDynamicInput registers an input template that only ADD_DYNAMIC_INPUT
// actions instantiate.
func (a *Author) AddDynamicInput(tpl *domain.TaskTemplate, spec InputSpec) (*domain.InputTemplate, error) {
	in, err := a.newInput(tpl, tpl.DynamicInputs, fmt.Sprintf("dynamic inputs of task template %d", tpl.ID), spec)
	if err != nil {
		return nil, err
	}
	tpl.DynamicInputs = append(tpl.DynamicInputs, in)
	tpl.UpdatedAt = in.CreatedAt
	return in, nil
}

func (a *Author) newInput(tpl *domain.TaskTemplate, siblings []*domain.InputTemplate, parent string, spec InputSpec) (*domain.InputTemplate, error) {
	spec.Name = strings.TrimSpace(spec.Name)
	if err := a.check(spec); err != nil {
		return nil, err
	}
	if !spec.Type.Valid() {
		return nil, &domain.ValidationError{Field: "type", Reason: "unknown input type " + string(spec.Type)}
	}
	if err := checkConfig(spec.Type, spec.Config); err != nil {
		return nil, err
	}
	if err := checkDefault(spec.Type, spec.DefaultValue); err != nil {
		return nil, err
	}
	orders := make([]int, 0, len(siblings))
	for _, in := range siblings {
		orders = append(orders, in.Order)
	}
	order, err := pickOrder(orders, spec.Order, parent)
	if err != nil {
		return nil, err
	}
	now := a.now()
	in := &domain.InputTemplate{
		ID:             a.IDs.Next(),
		TaskTemplateID: tpl.ID,
		Name:           spec.Name,
		Description:    spec.Description,
		Type:           spec.Type,
		IsRequired:     spec.IsRequired,
		Order:          order,
		DefaultValue:   spec.DefaultValue,
		Placeholder:    spec.Placeholder,
		Config:         spec.Config,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	a.resetTypeSpecific(in)
	return in, nil
}

func (a *Author) AddDropdownItem(tpl *domain.TaskTemplate, inputID int64, spec ItemSpec) (*domain.DropdownItem, error) {
	in := tpl.Input(inputID)
	if in == nil {
		return nil, &domain.TemplateNotFoundError{Kind: "input", ID: inputID}
	}
	if in.Type != domain.InputDropdown {
		return nil, &domain.ValidationError{Field: "input_id", Reason: "dropdown items need a DROPDOWN input"}
	}
	if in.Dropdown == nil {
		in.Dropdown = &domain.DropdownTemplate{ID: a.IDs.Next()}
	}
	item, err := a.addItem(in.Dropdown, fmt.Sprintf("dropdown of input template %d", in.ID), spec)
	if err != nil {
		return nil, err
	}
	in.UpdatedAt = a.now()
	tpl.UpdatedAt = in.UpdatedAt
	return item, nil
}

// AddFnDropdownItem adds a branch option to a function.
func (a *Author) AddFnDropdownItem(tpl *domain.TaskTemplate, fnID int64, spec ItemSpec) (*domain.DropdownItem, error) {
	fn := tpl.Fn(fnID)
	if fn == nil {
		return nil, &domain.TemplateNotFoundError{Kind: "fn", ID: fnID}
	}
	if fn.Dropdown == nil {
		fn.Dropdown = &domain.DropdownTemplate{ID: a.IDs.Next()}
	}
	item, err := a.addItem(fn.Dropdown, fmt.Sprintf("dropdown of fn template %d", fn.ID), spec)
	if err != nil {
		return nil, err
	}
	fn.UpdatedAt = a.now()
	tpl.UpdatedAt = fn.UpdatedAt
	return item, nil
}

func (a *Author) addItem(d *domain.DropdownTemplate, parent string, spec ItemSpec) (*domain.DropdownItem, error) {
	spec.Name = strings.TrimSpace(spec.Name)
	if err := a.check(spec); err != nil {
		return nil, err
	}
	if d.ItemByName(spec.Name) != nil {
		return nil, &domain.ValidationError{Field: "name", Reason: fmt.Sprintf("option %q already exists", spec.Name)}
	}
	orders := make([]int, 0, len(d.Items))
	for _, it := range d.Items {
		orders = append(orders, it.Order)
	}
	order, err := pickOrder(orders, spec.Order, parent)
	if err != nil {
		return nil, err
	}
	item := &domain.DropdownItem{ID: a.IDs.Next(), DropdownTemplateID: d.ID, Name: spec.Name, Order: order}
	d.Items = append(d.Items, item)
	return item, nil
}

func (a *Author) AddCheckboxOption(tpl *domain.TaskTemplate, inputID int64, spec CheckboxSpec) (*domain.CheckboxTemplate, error) {
	in := tpl.Input(inputID)
	if in == nil {
		return nil, &domain.TemplateNotFoundError{Kind: "input", ID: inputID}
	}
	if in.Type != domain.InputCheckbox {
		return nil, &domain.ValidationError{Field: "input_id", Reason: "checkbox options need a CHECKBOX input"}
	}
	spec.Name = strings.TrimSpace(spec.Name)
	if err := a.check(spec); err != nil {
		return nil, err
	}
	orders := make([]int, 0, len(in.Checkboxes))
	for _, cb := range in.Checkboxes {
		if cb.Name == spec.Name {
			return nil, &domain.ValidationError{Field: "name", Reason: fmt.Sprintf("option %q already exists", spec.Name)}
		}
		orders = append(orders, cb.Order)
	}
	order, err := pickOrder(orders, spec.Order, fmt.Sprintf("checkboxes of input template %d", in.ID))
	if err != nil {
		return nil, err
	}
	cb := &domain.CheckboxTemplate{
		ID:              a.IDs.Next(),
		InputTemplateID: in.ID,
		Name:            spec.Name,
		DefaultChecked:  spec.DefaultChecked,
		Order:           order,
	}
	in.Checkboxes = append(in.Checkboxes, cb)
	in.UpdatedAt = a.now()
	tpl.UpdatedAt = in.UpdatedAt
	return cb, nil
}

// ChangeInputType switches the type of an input and resets every
// type-specific setting: config, default value, options and any action whose
// condition no longer applies.
func (a *Author) ChangeInputType(tpl *domain.TaskTemplate, inputID int64, t domain.InputType) (*domain.InputTemplate, error) {
	in := tpl.Input(inputID)
	if in == nil {
		return nil, &domain.TemplateNotFoundError{Kind: "input", ID: inputID}
	}
	if !t.Valid() {
		return nil, &domain.ValidationError{Field: "type", Reason: "unknown input type " + string(t)}
	}
	if in.Type == t {
		return in, nil
	}
	in.Type = t
	in.Config = nil
	in.DefaultValue = ""
	in.Dropdown = nil
	in.Checkboxes = nil
	if in.Action != nil && checkCondition(t, in.Action.ConditionType) != nil {
		in.Action = nil
	}
	a.resetTypeSpecific(in)
	in.UpdatedAt = a.now()
	tpl.UpdatedAt = in.UpdatedAt
	return in, nil
}

// resetTypeSpecific drops sub-templates the input type cannot carry and
// creates the containers the type needs.
func (a *Author) resetTypeSpecific(in *domain.InputTemplate) {
	if in.Type != domain.InputDropdown {
		in.Dropdown = nil
	} else if in.Dropdown == nil {
		in.Dropdown = &domain.DropdownTemplate{ID: a.IDs.Next(), Items: []*domain.DropdownItem{}}
	}
	if in.Type != domain.InputCheckbox {
		in.Checkboxes = nil
	}
	if in.Type == domain.InputTable && in.Config == nil {
		in.Config = &domain.TableSchema{Columns: []domain.TableColumn{}}
	}
}

// SetInputConfig replaces the configuration. A nil cfg clears it.
func (a *Author) SetInputConfig(tpl *domain.TaskTemplate, inputID int64, cfg domain.InputConfig) error {
	in := tpl.Input(inputID)
	if in == nil {
		return &domain.TemplateNotFoundError{Kind: "input", ID: inputID}
	}
	if err := checkConfig(in.Type, cfg); err != nil {
		return err
	}
	in.Config = cfg
	a.resetTypeSpecific(in)
	in.UpdatedAt = a.now()
	tpl.UpdatedAt = in.UpdatedAt
	return nil
}

func checkConfig(t domain.InputType, cfg domain.InputConfig) error {
	if cfg == nil {
		return nil
	}
	if !cfg.Accepts(t) {
		return &domain.ValidationError{Field: "config", Reason: fmt.Sprintf("%T does not apply to %s inputs", cfg, t)}
	}
	return cfg.Validate()
}

func checkDefault(t domain.InputType, raw string) error {
	if raw == "" {
		return nil
	}
	switch t {
	case domain.InputDropdown:
		return nil
	case domain.InputCheckbox, domain.InputTable:
		return &domain.ValidationError{Field: "default_value", Reason: string(t) + " inputs take no default value"}
	}
	_, err := domain.ParseScalar(t, raw)
	return err
}

// ActionTarget resolves the node an action is attached to. kind is one of
// input, item or checkbox.
func ActionTarget(tpl *domain.TaskTemplate, kind string, id int64) (domain.Actionable, error) {
	switch kind {
	case "input":
		if in := tpl.Input(id); in != nil {
			return in, nil
		}
	case "item":
		var found *domain.DropdownItem
		tpl.WalkInputs(func(in *domain.InputTemplate) bool {
			found = in.Dropdown.Item(id)
			return found == nil
		})
		for _, fn := range tpl.Fns {
			if found == nil {
				found = fn.Dropdown.Item(id)
			}
		}
		if found != nil {
			return found, nil
		}
	case "checkbox":
		var found *domain.CheckboxTemplate
		tpl.WalkInputs(func(in *domain.InputTemplate) bool {
			found = in.Checkbox(id)
			return found == nil
		})
		if found != nil {
			return found, nil
		}
	default:
		return nil, &domain.ValidationError{Field: "target", Reason: "unknown target kind " + kind}
	}
	return nil, &domain.TemplateNotFoundError{Kind: kind, ID: id}
}

// AttachConditionalAction sets the single action slot of target, replacing
// any previous action.
func (a *Author) AttachConditionalAction(tpl *domain.TaskTemplate, target domain.Actionable, spec ActionSpec) (*domain.ConditionalAction, error) {
	if err := a.check(spec); err != nil {
		return nil, err
	}
	if !spec.ConditionType.Valid() {
		return nil, &domain.ValidationError{Field: "condition_type", Reason: "unknown condition type " + string(spec.ConditionType)}
	}
	if !spec.ActionType.Valid() {
		return nil, &domain.ValidationError{Field: "action_type", Reason: "unknown action type " + string(spec.ActionType)}
	}
	switch t := target.(type) {
	case *domain.InputTemplate:
		if err := checkCondition(t.Type, spec.ConditionType); err != nil {
			return nil, err
		}
	case *domain.DropdownItem:
		if err := checkCondition(domain.InputDropdown, spec.ConditionType); err != nil {
			return nil, err
		}
	case *domain.CheckboxTemplate:
		if err := checkCondition(domain.InputCheckbox, spec.ConditionType); err != nil {
			return nil, err
		}
		if v := spec.ConditionValue; v != "" && v != "true" && v != "false" {
			return nil, &domain.ValidationError{Field: "condition_value", Reason: `checkbox conditions compare against "true" or "false"`}
		}
	}
	switch spec.ActionType {
	case domain.ActionNotifyUsers:
		if _, err := domain.ParseUserIDs(spec.ActionValue); err != nil {
			return nil, err
		}
	case domain.ActionAddDynamicInput:
		if _, err := strconv.ParseInt(strings.TrimSpace(spec.ActionValue), 10, 64); err != nil {
			return nil, &domain.ValidationError{Field: "action_value", Reason: "must be an input template id"}
		}
	}
	if spec.TargetFieldTemplateID != nil {
		if spec.ActionType != domain.ActionAddDynamicInput {
			return nil, &domain.ValidationError{Field: "target_field_template_id", Reason: "only ADD_DYNAMIC_INPUT takes a target field"}
		}
		if tpl.Field(*spec.TargetFieldTemplateID) == nil {
			return nil, &domain.TemplateNotFoundError{Kind: "field", ID: *spec.TargetFieldTemplateID}
		}
	}
	action := &domain.ConditionalAction{
		ID:                    a.IDs.Next(),
		Name:                  strings.TrimSpace(spec.Name),
		ConditionType:         spec.ConditionType,
		ConditionValue:        spec.ConditionValue,
		ActionType:            spec.ActionType,
		ActionValue:           strings.TrimSpace(spec.ActionValue),
		TargetFieldTemplateID: spec.TargetFieldTemplateID,
	}
	*target.ActionSlot() = action
	tpl.UpdatedAt = a.now()
	return action, nil
}

// DetachConditionalAction clears the action slot. It reports whether an
// action was removed.
func (a *Author) DetachConditionalAction(tpl *domain.TaskTemplate, target domain.Actionable) bool {
	slot := target.ActionSlot()
	if *slot == nil {
		return false
	}
	*slot = nil
	tpl.UpdatedAt = a.now()
	return true
}

func checkCondition(t domain.InputType, c domain.ConditionType) error {
	if t == domain.InputTable {
		return &domain.TypeMismatchError{InputType: t, Condition: c, Reason: "table values are not comparable"}
	}
	if c.Ordered() && !t.Ordered() {
		return &domain.TypeMismatchError{InputType: t, Condition: c}
	}
	return nil
}

// AddNextFollowUp locks toFnID until fromFnID completes.
func (a *Author) AddNextFollowUp(tpl *domain.TaskTemplate, fromFnID, toFnID int64, name string) (*domain.NextFollowUp, error) {
	from, to := tpl.Fn(fromFnID), tpl.Fn(toFnID)
	if from == nil {
		return nil, &domain.TemplateNotFoundError{Kind: "fn", ID: fromFnID}
	}
	if to == nil {
		return nil, &domain.TemplateNotFoundError{Kind: "fn", ID: toFnID}
	}
	if from.ID == to.ID {
		return nil, &domain.ValidationError{Field: "next_fn_template_id", Reason: "a function cannot follow itself"}
	}
	for _, fu := range from.FollowUps {
		if fu.NextFnTemplateID == to.ID {
			return nil, &domain.ValidationError{Field: "next_fn_template_id", Reason: "follow-up already exists"}
		}
	}
	if reaches(tpl, to.ID, from.ID) {
		return nil, &domain.ValidationError{Field: "next_fn_template_id", Reason: "follow-ups would form a cycle"}
	}
	fu := &domain.NextFollowUp{ID: a.IDs.Next(), FnTemplateID: from.ID, NextFnTemplateID: to.ID, Name: strings.TrimSpace(name)}
	from.FollowUps = append(from.FollowUps, fu)
	from.UpdatedAt = a.now()
	tpl.UpdatedAt = from.UpdatedAt
	return fu, nil
}

// reaches reports whether target is reachable from start along follow-ups.
func reaches(tpl *domain.TaskTemplate, start, target int64) bool {
	seen := map[int64]bool{}
	stack := []int64{start}
	for len(stack) > 0 {
		id := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if id == target {
			return true
		}
		if seen[id] {
			continue
		}
		seen[id] = true
		if fn := tpl.Fn(id); fn != nil {
			for _, fu := range fn.FollowUps {
				stack = append(stack, fu.NextFnTemplateID)
			}
		}
	}
	return false
}

func (a *Author) RemoveFnTemplate(tpl *domain.TaskTemplate, fnID int64) error {
	idx := -1
	for i, fn := range tpl.Fns {
		if fn.ID == fnID {
			idx = i
		}
	}
	if idx < 0 {
		return &domain.TemplateNotFoundError{Kind: "fn", ID: fnID}
	}
	for _, f := range tpl.Fns[idx].Fields {
		clearFieldTargets(tpl, f.ID)
	}
	tpl.Fns = append(tpl.Fns[:idx], tpl.Fns[idx+1:]...)
	for _, fn := range tpl.Fns {
		kept := fn.FollowUps[:0]
		for _, fu := range fn.FollowUps {
			if fu.NextFnTemplateID != fnID {
				kept = append(kept, fu)
			}
		}
		fn.FollowUps = kept
	}
	tpl.UpdatedAt = a.now()
	return nil
}

func (a *Author) RemoveFieldTemplate(tpl *domain.TaskTemplate, fieldID int64) error {
	for _, fn := range tpl.Fns {
		for i, f := range fn.Fields {
			if f.ID != fieldID {
				continue
			}
			fn.Fields = append(fn.Fields[:i], fn.Fields[i+1:]...)
			clearFieldTargets(tpl, fieldID)
			tpl.UpdatedAt = a.now()
			return nil
		}
	}
	return &domain.TemplateNotFoundError{Kind: "field", ID: fieldID}
}

// RemoveInputTemplate removes an input from a field, metadata or the dynamic
// input list.
func (a *Author) RemoveInputTemplate(tpl *domain.TaskTemplate, inputID int64) error {
	drop := func(list []*domain.InputTemplate) ([]*domain.InputTemplate, bool) {
		for i, in := range list {
			if in.ID == inputID {
				return append(list[:i], list[i+1:]...), true
			}
		}
		return list, false
	}
	var ok bool
	for _, fn := range tpl.Fns {
		for _, f := range fn.Fields {
			if f.Inputs, ok = drop(f.Inputs); ok {
				tpl.UpdatedAt = a.now()
				return nil
			}
		}
	}
	if tpl.Metadata, ok = drop(tpl.Metadata); ok {
		tpl.UpdatedAt = a.now()
		return nil
	}
	if tpl.DynamicInputs, ok = drop(tpl.DynamicInputs); ok {
		tpl.UpdatedAt = a.now()
		return nil
	}
	return &domain.TemplateNotFoundError{Kind: "input", ID: inputID}
}

func clearFieldTargets(tpl *domain.TaskTemplate, fieldID int64) {
	for _, act := range tpl.Actions() {
		if act.TargetFieldTemplateID != nil && *act.TargetFieldTemplateID == fieldID {
			act.TargetFieldTemplateID = nil
		}
	}
}

// Check validates cross references of a whole template: dropdown defaults
// name existing options and dynamic-input actions point at known inputs.
func Check(tpl *domain.TaskTemplate) error {
	if strings.TrimSpace(tpl.Name) == "" {
		return &domain.ValidationError{Field: "name", Reason: "is required"}
	}
	var err error
	tpl.WalkInputs(func(in *domain.InputTemplate) bool {
		if in.Type == domain.InputDropdown && in.DefaultValue != "" && in.Dropdown.ItemByName(in.DefaultValue) == nil {
			err = &domain.ValidationError{Field: "default_value", Reason: fmt.Sprintf("input %q defaults to unknown option %q", in.Name, in.DefaultValue)}
			return false
		}
		return true
	})
	if err != nil {
		return err
	}
	for _, act := range tpl.Actions() {
		if act.ActionType != domain.ActionAddDynamicInput {
			continue
		}
		id, perr := strconv.ParseInt(act.ActionValue, 10, 64)
		if perr != nil || tpl.Input(id) == nil {
			return &domain.TemplateNotFoundError{Kind: "input", ID: id}
		}
	}
	return nil
}

// pickOrder returns want when it is free among siblings, or the next free
// order when want is zero.
func pickOrder(siblings []int, want int, parent string) (int, error) {
	if want == 0 {
		next := 1
		for _, o := range siblings {
			if o >= next {
				next = o + 1
			}
		}
		return next, nil
	}
	for _, o := range siblings {
		if o == want {
			return 0, &domain.DuplicateOrderError{Parent: parent, Order: want}
		}
	}
	return want, nil
}
