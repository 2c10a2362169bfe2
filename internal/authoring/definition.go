package authoring

import (
	"bytes"
	"fmt"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"fieldwork/internal/domain"
)

// Definition is the declarative YAML form of a task template.
type Definition struct {
	Name          string     `yaml:"name"`
	Description   string     `yaml:"description,omitempty"`
	Metadata      []InputDef `yaml:"metadata,omitempty"`
	DynamicInputs []InputDef `yaml:"dynamic_inputs,omitempty"`
	Fns           []FnDef    `yaml:"fns"`
}

type FnDef struct {
	Name        string     `yaml:"name"`
	Description string     `yaml:"description,omitempty"`
	Type        string     `yaml:"type,omitempty"`
	Order       int        `yaml:"order,omitempty"`
	Next        []string   `yaml:"next,omitempty"`
	Branches    []ItemDef  `yaml:"branches,omitempty"`
	Fields      []FieldDef `yaml:"fields"`
}

type FieldDef struct {
	Name        string     `yaml:"name"`
	Description string     `yaml:"description,omitempty"`
	Order       int        `yaml:"order,omitempty"`
	Inputs      []InputDef `yaml:"inputs"`
}

type InputDef struct {
	Name        string        `yaml:"name"`
	Description string        `yaml:"description,omitempty"`
	Type        string        `yaml:"type"`
	Required    bool          `yaml:"required,omitempty"`
	Order       int           `yaml:"order,omitempty"`
	Default     string        `yaml:"default,omitempty"`
	Placeholder string        `yaml:"placeholder,omitempty"`
	Config      yaml.Node     `yaml:"config,omitempty"`
	Options     []ItemDef     `yaml:"options,omitempty"`
	Checkboxes  []CheckboxDef `yaml:"checkboxes,omitempty"`
	Action      *ActionDef    `yaml:"action,omitempty"`
}

type ItemDef struct {
	Name   string     `yaml:"name"`
	Order  int        `yaml:"order,omitempty"`
	Action *ActionDef `yaml:"action,omitempty"`
}

type CheckboxDef struct {
	Name    string     `yaml:"name"`
	Checked bool       `yaml:"checked,omitempty"`
	Order   int        `yaml:"order,omitempty"`
	Action  *ActionDef `yaml:"action,omitempty"`
}

// ActionDef names its references instead of using ids: AddInput is the name
// of a dynamic input and TargetField the name of a field.
type ActionDef struct {
	Name        string `yaml:"name,omitempty"`
	Condition   string `yaml:"condition"`
	Value       string `yaml:"value,omitempty"`
	Do          string `yaml:"do"`
	Users       string `yaml:"users,omitempty"`
	AddInput    string `yaml:"add_input,omitempty"`
	TargetField string `yaml:"target_field,omitempty"`
}

// ParseDefinition decodes YAML, rejecting unknown keys.
func ParseDefinition(data []byte) (Definition, error) {
	var def Definition
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&def); err != nil {
		return Definition{}, fmt.Errorf("parse template definition: %w", err)
	}
	return def, nil
}

type pendingAction struct {
	target domain.Actionable
	def    *ActionDef
	where  string
}

// Build turns a definition into a template through the authoring
// operations, so every rule they enforce applies to imports too.
func (a *Author) Build(def Definition) (*domain.TaskTemplate, error) {
	tpl, err := a.CreateTaskTemplate(def.Name, def.Description)
	if err != nil {
		return nil, err
	}
	var pending []pendingAction
	addInput := func(where string, in InputDef, add func(InputSpec) (*domain.InputTemplate, error)) error {
		spec, err := inputSpec(in)
		if err != nil {
			return fmt.Errorf("%s: %w", where, err)
		}
		created, err := add(spec)
		if err != nil {
			return fmt.Errorf("%s: %w", where, err)
		}
		for _, opt := range in.Options {
			item, err := a.AddDropdownItem(tpl, created.ID, ItemSpec{Name: opt.Name, Order: opt.Order})
			if err != nil {
				return fmt.Errorf("%s option %q: %w", where, opt.Name, err)
			}
			if opt.Action != nil {
				pending = append(pending, pendingAction{item, opt.Action, where + " option " + opt.Name})
			}
		}
		for _, cb := range in.Checkboxes {
			option, err := a.AddCheckboxOption(tpl, created.ID, CheckboxSpec{Name: cb.Name, DefaultChecked: cb.Checked, Order: cb.Order})
			if err != nil {
				return fmt.Errorf("%s checkbox %q: %w", where, cb.Name, err)
			}
			if cb.Action != nil {
				pending = append(pending, pendingAction{option, cb.Action, where + " checkbox " + cb.Name})
			}
		}
		if in.Action != nil {
			pending = append(pending, pendingAction{created, in.Action, where})
		}
		return nil
	}

	for _, in := range def.DynamicInputs {
		if err := addInput("dynamic input "+in.Name, in, func(s InputSpec) (*domain.InputTemplate, error) { return a.AddDynamicInput(tpl, s) }); err != nil {
			return nil, err
		}
	}
	for _, in := range def.Metadata {
		if err := addInput("metadata "+in.Name, in, func(s InputSpec) (*domain.InputTemplate, error) { return a.AddMetadataInput(tpl, s) }); err != nil {
			return nil, err
		}
	}
	for _, fd := range def.Fns {
		fn, err := a.AddFnTemplate(tpl, FnSpec{Name: fd.Name, Description: fd.Description, Type: domain.FnType(strings.ToUpper(fd.Type)), Order: fd.Order})
		if err != nil {
			return nil, fmt.Errorf("fn %q: %w", fd.Name, err)
		}
		for _, br := range fd.Branches {
			item, err := a.AddFnDropdownItem(tpl, fn.ID, ItemSpec{Name: br.Name, Order: br.Order})
			if err != nil {
				return nil, fmt.Errorf("fn %q branch %q: %w", fd.Name, br.Name, err)
			}
			if br.Action != nil {
				pending = append(pending, pendingAction{item, br.Action, "fn " + fd.Name + " branch " + br.Name})
			}
		}
		for _, fld := range fd.Fields {
			field, err := a.AddFieldTemplate(tpl, fn.ID, FieldSpec{Name: fld.Name, Description: fld.Description, Order: fld.Order})
			if err != nil {
				return nil, fmt.Errorf("field %q: %w", fld.Name, err)
			}
			for _, in := range fld.Inputs {
				where := fmt.Sprintf("input %s/%s", fld.Name, in.Name)
				if err := addInput(where, in, func(s InputSpec) (*domain.InputTemplate, error) { return a.AddInputTemplate(tpl, field.ID, s) }); err != nil {
					return nil, err
				}
			}
		}
	}

	for _, fd := range def.Fns {
		from := fnByName(tpl, fd.Name)
		for _, next := range fd.Next {
			to := fnByName(tpl, next)
			if to == nil {
				return nil, &domain.ValidationError{Field: "next", Reason: fmt.Sprintf("fn %q follows unknown fn %q", fd.Name, next)}
			}
			if _, err := a.AddNextFollowUp(tpl, from.ID, to.ID, ""); err != nil {
				return nil, fmt.Errorf("fn %q: %w", fd.Name, err)
			}
		}
	}
	for _, p := range pending {
		spec, err := actionSpec(tpl, p.def)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", p.where, err)
		}
		if _, err := a.AttachConditionalAction(tpl, p.target, spec); err != nil {
			return nil, fmt.Errorf("%s: %w", p.where, err)
		}
	}
	if err := Check(tpl); err != nil {
		return nil, err
	}
	return tpl, nil
}

func inputSpec(in InputDef) (InputSpec, error) {
	t, err := domain.ParseInputType(in.Type)
	if err != nil {
		return InputSpec{}, err
	}
	spec := InputSpec{
		Name:         in.Name,
		Description:  in.Description,
		Type:         t,
		IsRequired:   in.Required,
		Order:        in.Order,
		DefaultValue: in.Default,
		Placeholder:  in.Placeholder,
	}
	if in.Config.Kind != 0 {
		cfg := domain.NewConfigFor(t)
		if cfg == nil {
			return InputSpec{}, &domain.ValidationError{Field: "config", Reason: string(t) + " inputs take no configuration"}
		}
		if err := in.Config.Decode(cfg); err != nil {
			return InputSpec{}, &domain.ValidationError{Field: "config", Reason: err.Error()}
		}
		spec.Config = cfg
	}
	return spec, nil
}

func actionSpec(tpl *domain.TaskTemplate, def *ActionDef) (ActionSpec, error) {
	cond, err := domain.ParseConditionType(def.Condition)
	if err != nil {
		return ActionSpec{}, err
	}
	kind, err := domain.ParseActionType(def.Do)
	if err != nil {
		return ActionSpec{}, err
	}
	spec := ActionSpec{Name: def.Name, ConditionType: cond, ConditionValue: def.Value, ActionType: kind}
	switch kind {
	case domain.ActionNotifyUsers:
		spec.ActionValue = def.Users
	case domain.ActionAddDynamicInput:
		in := inputByName(tpl, def.AddInput)
		if in == nil {
			return ActionSpec{}, &domain.ValidationError{Field: "add_input", Reason: fmt.Sprintf("unknown input %q", def.AddInput)}
		}
		spec.ActionValue = strconv.FormatInt(in.ID, 10)
	}
	if def.TargetField != "" {
		field := fieldByName(tpl, def.TargetField)
		if field == nil {
			return ActionSpec{}, &domain.ValidationError{Field: "target_field", Reason: fmt.Sprintf("unknown field %q", def.TargetField)}
		}
		id := field.ID
		spec.TargetFieldTemplateID = &id
	}
	return spec, nil
}

func fnByName(tpl *domain.TaskTemplate, name string) *domain.FnTemplate {
	for _, fn := range tpl.Fns {
		if fn.Name == name {
			return fn
		}
	}
	return nil
}

func fieldByName(tpl *domain.TaskTemplate, name string) *domain.FieldTemplate {
	for _, fn := range tpl.Fns {
		for _, f := range fn.Fields {
			if f.Name == name {
				return f
			}
		}
	}
	return nil
}

// inputByName prefers dynamic inputs, then any other input.
func inputByName(tpl *domain.TaskTemplate, name string) *domain.InputTemplate {
	for _, in := range tpl.DynamicInputs {
		if in.Name == name {
			return in
		}
	}
	var found *domain.InputTemplate
	tpl.WalkInputs(func(in *domain.InputTemplate) bool {
		if in.Name == name {
			found = in
			return false
		}
		return true
	})
	return found
}
