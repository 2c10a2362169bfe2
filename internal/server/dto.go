package server

import (
	"encoding/json"

	"fieldwork/internal/app"
	"fieldwork/internal/authoring"
	"fieldwork/internal/domain"
	"fieldwork/internal/engine"
	"fieldwork/internal/repo"
)

// Request payloads

type CreateTemplateRequest struct {
	Name        string `json:"name" minLength:"1"`
	Description string `json:"description,omitempty"`
}

type ImportTemplateRequest struct {
	// Definition is the YAML template definition.
	Definition string `json:"definition" minLength:"1"`
}

type FnRequest struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Type        string `json:"type,omitempty" enum:"NORMAL,SPECIAL"`
	Order       int    `json:"order,omitempty"`
}

func (r FnRequest) spec() authoring.FnSpec {
	return authoring.FnSpec{Name: r.Name, Description: r.Description, Type: domain.FnType(r.Type), Order: r.Order}
}

type FieldRequest struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Order       int    `json:"order,omitempty"`
}

func (r FieldRequest) spec() authoring.FieldSpec {
	return authoring.FieldSpec{Name: r.Name, Description: r.Description, Order: r.Order}
}

type InputRequest struct {
	Name         string         `json:"name"`
	Description  string         `json:"description,omitempty"`
	Type         string         `json:"type"`
	IsRequired   bool           `json:"is_required,omitempty"`
	Order        int            `json:"order,omitempty"`
	DefaultValue string         `json:"default_value,omitempty"`
	Placeholder  string         `json:"placeholder,omitempty"`
	Config       map[string]any `json:"config,omitempty"`
}

func (r InputRequest) spec() (authoring.InputSpec, error) {
	t, err := domain.ParseInputType(r.Type)
	if err != nil {
		return authoring.InputSpec{}, err
	}
	cfg, err := decodeConfig(t, r.Config)
	if err != nil {
		return authoring.InputSpec{}, err
	}
	return authoring.InputSpec{
		Name:         r.Name,
		Description:  r.Description,
		Type:         t,
		IsRequired:   r.IsRequired,
		Order:        r.Order,
		DefaultValue: r.DefaultValue,
		Placeholder:  r.Placeholder,
		Config:       cfg,
	}, nil
}

// decodeConfig turns a loose JSON object into the configuration variant of t.
func decodeConfig(t domain.InputType, raw map[string]any) (domain.InputConfig, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	cfg := domain.NewConfigFor(t)
	if cfg == nil {
		return nil, &domain.ValidationError{Field: "config", Reason: string(t) + " inputs take no configuration"}
	}
	data, err := json.Marshal(raw)
	if err != nil {
		return nil, &domain.ValidationError{Field: "config", Reason: err.Error()}
	}
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, &domain.ValidationError{Field: "config", Reason: err.Error()}
	}
	return cfg, nil
}

type InputTypeRequest struct {
	Type string `json:"type"`
}

type InputConfigRequest struct {
	Config map[string]any `json:"config"`
}

type ItemRequest struct {
	Name  string `json:"name"`
	Order int    `json:"order,omitempty"`
}

type CheckboxRequest struct {
	Name           string `json:"name"`
	DefaultChecked bool   `json:"default_checked,omitempty"`
	Order          int    `json:"order,omitempty"`
}

type ActionRequest struct {
	Name                  string `json:"name,omitempty"`
	ConditionType         string `json:"condition_type" enum:"EQUALS,LESS_THAN,LESS_THAN_EQUALS,GREATER_THAN,GREATER_THAN_EQUALS"`
	ConditionValue        string `json:"condition_value,omitempty"`
	ActionType            string `json:"action_type" enum:"MARK_TASK_AS_DONE,MARK_FN_AS_DONE,MARK_FIELD_AS_DONE,NOTIFY_USERS,ADD_DYNAMIC_INPUT"`
	ActionValue           string `json:"action_value,omitempty"`
	TargetFieldTemplateID *int64 `json:"target_field_template_id,omitempty"`
}

func (r ActionRequest) spec() authoring.ActionSpec {
	return authoring.ActionSpec{
		Name:                  r.Name,
		ConditionType:         domain.ConditionType(r.ConditionType),
		ConditionValue:        r.ConditionValue,
		ActionType:            domain.ActionType(r.ActionType),
		ActionValue:           r.ActionValue,
		TargetFieldTemplateID: r.TargetFieldTemplateID,
	}
}

type FollowUpRequest struct {
	NextFnTemplateID int64  `json:"next_fn_template_id"`
	Name             string `json:"name,omitempty"`
}

type InstantiateRequest struct {
	TaskTemplateID int64  `json:"task_template_id"`
	Code           string `json:"code,omitempty"`
	CustomerID     *int64 `json:"customer_id,omitempty"`
	Priority       string `json:"priority,omitempty" enum:"NORMAL,MEDIUM,HIGH"`
	AssigneeID     *int64 `json:"assignee_id,omitempty"`
	Remarks        string `json:"remarks,omitempty"`
}

type ValueRequest struct {
	Value           string `json:"value"`
	ExpectedVersion int64  `json:"expected_version,omitempty"`
}

type CheckboxToggleRequest struct {
	Checked         bool  `json:"checked"`
	ExpectedVersion int64 `json:"expected_version,omitempty"`
}

type BranchRequest struct {
	ItemID int64 `json:"item_id"`
}

type CellRequest struct {
	RowID           int64  `json:"row_id"`
	ColumnID        int64  `json:"column_id"`
	Value           string `json:"value"`
	ExpectedVersion int64  `json:"expected_version,omitempty"`
}

type StatusRequest struct {
	Status  string `json:"status" enum:"PENDING,IN_PROGRESS,COMPLETED,REJECTED,ON_HOLD,CANCELLED,REVISION_REQUIRED"`
	Remarks string `json:"remarks,omitempty"`
	Force   bool   `json:"force,omitempty"`
}

type PurgeRequest struct {
	OlderThanDays int `json:"older_than_days,omitempty" minimum:"0"`
}

type DevLoginRequest struct {
	ActorID int64    `json:"actor_id" minimum:"1"`
	Roles   []string `json:"roles,omitempty"`
}

// Response payloads

// TemplateEditResponse carries the edited template and the id of the node
// the edit created, if any.
type TemplateEditResponse struct {
	Template *domain.TaskTemplate `json:"template"`
	NodeID   int64                `json:"node_id,omitempty"`
}

type DeleteTemplateResponse struct {
	DeletedTaskIDs []int64 `json:"deleted_task_ids"`
}

type paginatedTasks struct {
	Items      []repo.TaskSummary `json:"items"`
	NextOffset int                `json:"next_offset,omitempty"`
}

// MutationResponse is returned by every task mutation. Failures lists the
// conditional actions that could not be applied; the change itself was saved.
type MutationResponse struct {
	Task     *domain.TaskInstance     `json:"task"`
	Changed  bool                     `json:"changed"`
	Effects  []engine.AppliedEffect   `json:"effects"`
	Row      *domain.TableRowInstance `json:"row,omitempty"`
	Failures []string                 `json:"failures,omitempty"`
}

func mutationResponse(res *app.Result) MutationResponse {
	return MutationResponse{
		Task:     res.Task,
		Changed:  res.Changed,
		Effects:  nonNilSlice(res.Effects),
		Row:      res.Row,
		Failures: res.Failures,
	}
}

type PurgeResponse struct {
	PurgedTaskIDs []int64 `json:"purged_task_ids"`
}

type EventResponse struct {
	ID            int64          `json:"id"`
	TS            string         `json:"ts"`
	Type          string         `json:"type"`
	EntityKind    string         `json:"entity_kind"`
	EntityID      int64          `json:"entity_id,omitempty"`
	ActorID       int64          `json:"actor_id,omitempty"`
	CorrelationID string         `json:"correlation_id,omitempty"`
	Payload       map[string]any `json:"payload,omitempty"`
}

type paginatedEvents struct {
	Items      []EventResponse `json:"items"`
	NextCursor string          `json:"next_cursor,omitempty"`
}

type DevLoginResponse struct {
	Token string `json:"token"`
}

func eventResponse(e domain.Event) EventResponse {
	return EventResponse{
		ID:            e.ID,
		TS:            e.TS,
		Type:          e.Type,
		EntityKind:    e.EntityKind,
		EntityID:      e.EntityID,
		ActorID:       e.ActorID,
		CorrelationID: e.CorrelationID,
		Payload:       decodeJSONMap(e.Payload),
	}
}

// JSON helpers

func decodeJSONMap(raw string) map[string]any {
	if raw == "" {
		return nil
	}
	var obj map[string]any
	if err := json.Unmarshal([]byte(raw), &obj); err != nil {
		return nil
	}
	return obj
}

func nonNilSlice[T any](in []T) []T {
	if in == nil {
		return []T{}
	}
	return in
}
