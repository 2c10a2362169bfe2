package server

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"fieldwork/internal/app"
	"fieldwork/internal/authoring"
	"fieldwork/internal/domain"
	"fieldwork/internal/repo"
)

var templateErrors = []int{
	http.StatusBadRequest,
	http.StatusUnauthorized,
	http.StatusNotFound,
	http.StatusConflict,
	http.StatusUnprocessableEntity,
	http.StatusInternalServerError,
}

func registerTemplates(api huma.API, svc *app.Service) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-template",
		Method:        http.MethodPost,
		Path:          "/templates",
		Summary:       "Create an empty task template",
		DefaultStatus: http.StatusCreated,
		Errors:        templateErrors,
	}, func(ctx context.Context, input *struct {
		Body CreateTemplateRequest
	}) (*output[*domain.TaskTemplate], error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		tpl, err := svc.CreateTemplate(ctx, input.Body.Name, input.Body.Description, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return respond(tpl), nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "import-template",
		Method:        http.MethodPost,
		Path:          "/templates/import",
		Summary:       "Build a task template from a YAML definition",
		DefaultStatus: http.StatusCreated,
		Errors:        templateErrors,
	}, func(ctx context.Context, input *struct {
		Body ImportTemplateRequest
	}) (*output[*domain.TaskTemplate], error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		tpl, err := svc.ImportDefinition(ctx, []byte(input.Body.Definition), actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return respond(tpl), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-templates",
		Method:      http.MethodGet,
		Path:        "/templates",
		Summary:     "List task templates",
	}, func(ctx context.Context, _ *struct{}) (*output[[]repo.TemplateSummary], error) {
		items, err := svc.ListTemplates(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		return respond(nonNilSlice(items)), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-template",
		Method:      http.MethodGet,
		Path:        "/templates/{id}",
		Summary:     "Get a task template",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID int64 `path:"id"`
	}) (*output[*domain.TaskTemplate], error) {
		tpl, err := svc.GetTemplate(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return respond(tpl), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-template",
		Method:      http.MethodPatch,
		Path:        "/templates/{id}",
		Summary:     "Rename or describe a task template",
		Errors:      templateErrors,
	}, func(ctx context.Context, input *struct {
		ID   int64 `path:"id"`
		Body CreateTemplateRequest
	}) (*output[TemplateEditResponse], error) {
		return editTemplate(ctx, svc, input.ID, func(a *authoring.Author, tpl *domain.TaskTemplate) (int64, error) {
			return 0, a.UpdateTaskTemplate(tpl, input.Body.Name, input.Body.Description)
		})
	})

	huma.Register(api, huma.Operation{
		OperationID: "delete-template",
		Method:      http.MethodDelete,
		Path:        "/templates/{id}",
		Summary:     "Delete a task template",
		Description: "Templates referenced by instances are refused unless cascade is set.",
		Errors:      templateErrors,
	}, func(ctx context.Context, input *struct {
		ID      int64 `path:"id"`
		Cascade bool  `query:"cascade"`
	}) (*output[DeleteTemplateResponse], error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		ids, err := svc.DeleteTemplate(ctx, input.ID, input.Cascade, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return respond(DeleteTemplateResponse{DeletedTaskIDs: nonNilSlice(ids)}), nil
	})
}

// editTemplate runs one authoring operation through the service. edit
// returns the id of the node it created, or zero.
func editTemplate(ctx context.Context, svc *app.Service, id int64, edit func(a *authoring.Author, tpl *domain.TaskTemplate) (int64, error)) (*output[TemplateEditResponse], error) {
	actorID, authErr := actorIDFromContext(ctx)
	if authErr != nil {
		return nil, authErr
	}
	var nodeID int64
	tpl, err := svc.EditTemplate(ctx, id, actorID, func(a *authoring.Author, tpl *domain.TaskTemplate) error {
		created, err := edit(a, tpl)
		nodeID = created
		return err
	})
	if err != nil {
		return nil, handleError(err)
	}
	return respond(TemplateEditResponse{Template: tpl, NodeID: nodeID}), nil
}

func registerTemplateEdits(api huma.API, svc *app.Service) {
	huma.Register(api, huma.Operation{
		OperationID:   "add-fn",
		Method:        http.MethodPost,
		Path:          "/templates/{id}/fns",
		Summary:       "Add a function",
		DefaultStatus: http.StatusCreated,
		Errors:        templateErrors,
	}, func(ctx context.Context, input *struct {
		ID   int64 `path:"id"`
		Body FnRequest
	}) (*output[TemplateEditResponse], error) {
		return editTemplate(ctx, svc, input.ID, func(a *authoring.Author, tpl *domain.TaskTemplate) (int64, error) {
			fn, err := a.AddFnTemplate(tpl, input.Body.spec())
			if err != nil {
				return 0, err
			}
			return fn.ID, nil
		})
	})

	huma.Register(api, huma.Operation{
		OperationID: "remove-fn",
		Method:      http.MethodDelete,
		Path:        "/templates/{id}/fns/{fn_id}",
		Summary:     "Remove a function with its fields",
		Errors:      templateErrors,
	}, func(ctx context.Context, input *struct {
		ID   int64 `path:"id"`
		FnID int64 `path:"fn_id"`
	}) (*output[TemplateEditResponse], error) {
		return editTemplate(ctx, svc, input.ID, func(a *authoring.Author, tpl *domain.TaskTemplate) (int64, error) {
			return 0, a.RemoveFnTemplate(tpl, input.FnID)
		})
	})

	huma.Register(api, huma.Operation{
		OperationID:   "add-fn-branch",
		Method:        http.MethodPost,
		Path:          "/templates/{id}/fns/{fn_id}/items",
		Summary:       "Add a branch item to a function dropdown",
		DefaultStatus: http.StatusCreated,
		Errors:        templateErrors,
	}, func(ctx context.Context, input *struct {
		ID   int64 `path:"id"`
		FnID int64 `path:"fn_id"`
		Body ItemRequest
	}) (*output[TemplateEditResponse], error) {
		return editTemplate(ctx, svc, input.ID, func(a *authoring.Author, tpl *domain.TaskTemplate) (int64, error) {
			item, err := a.AddFnDropdownItem(tpl, input.FnID, authoring.ItemSpec{Name: input.Body.Name, Order: input.Body.Order})
			if err != nil {
				return 0, err
			}
			return item.ID, nil
		})
	})

	huma.Register(api, huma.Operation{
		OperationID:   "add-follow-up",
		Method:        http.MethodPost,
		Path:          "/templates/{id}/fns/{fn_id}/follow-ups",
		Summary:       "Lock a function until this one completes",
		DefaultStatus: http.StatusCreated,
		Errors:        templateErrors,
	}, func(ctx context.Context, input *struct {
		ID   int64 `path:"id"`
		FnID int64 `path:"fn_id"`
		Body FollowUpRequest
	}) (*output[TemplateEditResponse], error) {
		return editTemplate(ctx, svc, input.ID, func(a *authoring.Author, tpl *domain.TaskTemplate) (int64, error) {
			fu, err := a.AddNextFollowUp(tpl, input.FnID, input.Body.NextFnTemplateID, input.Body.Name)
			if err != nil {
				return 0, err
			}
			return fu.ID, nil
		})
	})

	huma.Register(api, huma.Operation{
		OperationID:   "add-field",
		Method:        http.MethodPost,
		Path:          "/templates/{id}/fns/{fn_id}/fields",
		Summary:       "Add a field to a function",
		DefaultStatus: http.StatusCreated,
		Errors:        templateErrors,
	}, func(ctx context.Context, input *struct {
		ID   int64 `path:"id"`
		FnID int64 `path:"fn_id"`
		Body FieldRequest
	}) (*output[TemplateEditResponse], error) {
		return editTemplate(ctx, svc, input.ID, func(a *authoring.Author, tpl *domain.TaskTemplate) (int64, error) {
			field, err := a.AddFieldTemplate(tpl, input.FnID, input.Body.spec())
			if err != nil {
				return 0, err
			}
			return field.ID, nil
		})
	})

	huma.Register(api, huma.Operation{
		OperationID: "remove-field",
		Method:      http.MethodDelete,
		Path:        "/templates/{id}/fields/{field_id}",
		Summary:     "Remove a field with its inputs",
		Errors:      templateErrors,
	}, func(ctx context.Context, input *struct {
		ID      int64 `path:"id"`
		FieldID int64 `path:"field_id"`
	}) (*output[TemplateEditResponse], error) {
		return editTemplate(ctx, svc, input.ID, func(a *authoring.Author, tpl *domain.TaskTemplate) (int64, error) {
			return 0, a.RemoveFieldTemplate(tpl, input.FieldID)
		})
	})

	type addInput func(a *authoring.Author, tpl *domain.TaskTemplate, spec authoring.InputSpec) (*domain.InputTemplate, error)
	inputEdit := func(req InputRequest, add addInput) func(a *authoring.Author, tpl *domain.TaskTemplate) (int64, error) {
		return func(a *authoring.Author, tpl *domain.TaskTemplate) (int64, error) {
			spec, err := req.spec()
			if err != nil {
				return 0, err
			}
			in, err := add(a, tpl, spec)
			if err != nil {
				return 0, err
			}
			return in.ID, nil
		}
	}

	huma.Register(api, huma.Operation{
		OperationID:   "add-input",
		Method:        http.MethodPost,
		Path:          "/templates/{id}/fields/{field_id}/inputs",
		Summary:       "Add an input to a field",
		DefaultStatus: http.StatusCreated,
		Errors:        templateErrors,
	}, func(ctx context.Context, input *struct {
		ID      int64 `path:"id"`
		FieldID int64 `path:"field_id"`
		Body    InputRequest
	}) (*output[TemplateEditResponse], error) {
		return editTemplate(ctx, svc, input.ID, inputEdit(input.Body, func(a *authoring.Author, tpl *domain.TaskTemplate, spec authoring.InputSpec) (*domain.InputTemplate, error) {
			return a.AddInputTemplate(tpl, input.FieldID, spec)
		}))
	})

	huma.Register(api, huma.Operation{
		OperationID:   "add-metadata-input",
		Method:        http.MethodPost,
		Path:          "/templates/{id}/metadata",
		Summary:       "Add a task-level metadata input",
		DefaultStatus: http.StatusCreated,
		Errors:        templateErrors,
	}, func(ctx context.Context, input *struct {
		ID   int64 `path:"id"`
		Body InputRequest
	}) (*output[TemplateEditResponse], error) {
		return editTemplate(ctx, svc, input.ID, inputEdit(input.Body, (*authoring.Author).AddMetadataInput))
	})

	huma.Register(api, huma.Operation{
		OperationID:   "add-dynamic-input",
		Method:        http.MethodPost,
		Path:          "/templates/{id}/dynamic-inputs",
		Summary:       "Add an input only created by ADD_DYNAMIC_INPUT actions",
		DefaultStatus: http.StatusCreated,
		Errors:        templateErrors,
	}, func(ctx context.Context, input *struct {
		ID   int64 `path:"id"`
		Body InputRequest
	}) (*output[TemplateEditResponse], error) {
		return editTemplate(ctx, svc, input.ID, inputEdit(input.Body, (*authoring.Author).AddDynamicInput))
	})

	huma.Register(api, huma.Operation{
		OperationID: "remove-input",
		Method:      http.MethodDelete,
		Path:        "/templates/{id}/inputs/{input_id}",
		Summary:     "Remove an input",
		Errors:      templateErrors,
	}, func(ctx context.Context, input *struct {
		ID      int64 `path:"id"`
		InputID int64 `path:"input_id"`
	}) (*output[TemplateEditResponse], error) {
		return editTemplate(ctx, svc, input.ID, func(a *authoring.Author, tpl *domain.TaskTemplate) (int64, error) {
			return 0, a.RemoveInputTemplate(tpl, input.InputID)
		})
	})

	huma.Register(api, huma.Operation{
		OperationID: "change-input-type",
		Method:      http.MethodPut,
		Path:        "/templates/{id}/inputs/{input_id}/type",
		Summary:     "Change an input type, resetting type-specific settings",
		Errors:      templateErrors,
	}, func(ctx context.Context, input *struct {
		ID      int64 `path:"id"`
		InputID int64 `path:"input_id"`
		Body    InputTypeRequest
	}) (*output[TemplateEditResponse], error) {
		return editTemplate(ctx, svc, input.ID, func(a *authoring.Author, tpl *domain.TaskTemplate) (int64, error) {
			t, err := domain.ParseInputType(input.Body.Type)
			if err != nil {
				return 0, err
			}
			_, err = a.ChangeInputType(tpl, input.InputID, t)
			return 0, err
		})
	})

	huma.Register(api, huma.Operation{
		OperationID: "set-input-config",
		Method:      http.MethodPut,
		Path:        "/templates/{id}/inputs/{input_id}/config",
		Summary:     "Replace an input configuration",
		Errors:      templateErrors,
	}, func(ctx context.Context, input *struct {
		ID      int64 `path:"id"`
		InputID int64 `path:"input_id"`
		Body    InputConfigRequest
	}) (*output[TemplateEditResponse], error) {
		return editTemplate(ctx, svc, input.ID, func(a *authoring.Author, tpl *domain.TaskTemplate) (int64, error) {
			in := tpl.Input(input.InputID)
			if in == nil {
				return 0, &domain.TemplateNotFoundError{Kind: "input", ID: input.InputID}
			}
			cfg, err := decodeConfig(in.Type, input.Body.Config)
			if err != nil {
				return 0, err
			}
			return 0, a.SetInputConfig(tpl, in.ID, cfg)
		})
	})

	huma.Register(api, huma.Operation{
		OperationID:   "add-dropdown-item",
		Method:        http.MethodPost,
		Path:          "/templates/{id}/inputs/{input_id}/items",
		Summary:       "Add an option to a dropdown input",
		DefaultStatus: http.StatusCreated,
		Errors:        templateErrors,
	}, func(ctx context.Context, input *struct {
		ID      int64 `path:"id"`
		InputID int64 `path:"input_id"`
		Body    ItemRequest
	}) (*output[TemplateEditResponse], error) {
		return editTemplate(ctx, svc, input.ID, func(a *authoring.Author, tpl *domain.TaskTemplate) (int64, error) {
			item, err := a.AddDropdownItem(tpl, input.InputID, authoring.ItemSpec{Name: input.Body.Name, Order: input.Body.Order})
			if err != nil {
				return 0, err
			}
			return item.ID, nil
		})
	})

	huma.Register(api, huma.Operation{
		OperationID:   "add-checkbox-option",
		Method:        http.MethodPost,
		Path:          "/templates/{id}/inputs/{input_id}/checkboxes",
		Summary:       "Add an option to a checkbox input",
		DefaultStatus: http.StatusCreated,
		Errors:        templateErrors,
	}, func(ctx context.Context, input *struct {
		ID      int64 `path:"id"`
		InputID int64 `path:"input_id"`
		Body    CheckboxRequest
	}) (*output[TemplateEditResponse], error) {
		return editTemplate(ctx, svc, input.ID, func(a *authoring.Author, tpl *domain.TaskTemplate) (int64, error) {
			cb, err := a.AddCheckboxOption(tpl, input.InputID, authoring.CheckboxSpec{Name: input.Body.Name, DefaultChecked: input.Body.DefaultChecked, Order: input.Body.Order})
			if err != nil {
				return 0, err
			}
			return cb.ID, nil
		})
	})

	huma.Register(api, huma.Operation{
		OperationID: "attach-action",
		Method:      http.MethodPut,
		Path:        "/templates/{id}/actions/{kind}/{target_id}",
		Summary:     "Attach the conditional action of an input, dropdown item or checkbox",
		Errors:      templateErrors,
	}, func(ctx context.Context, input *struct {
		ID       int64  `path:"id"`
		Kind     string `path:"kind" enum:"input,item,checkbox"`
		TargetID int64  `path:"target_id"`
		Body     ActionRequest
	}) (*output[TemplateEditResponse], error) {
		return editTemplate(ctx, svc, input.ID, func(a *authoring.Author, tpl *domain.TaskTemplate) (int64, error) {
			target, err := authoring.ActionTarget(tpl, input.Kind, input.TargetID)
			if err != nil {
				return 0, err
			}
			act, err := a.AttachConditionalAction(tpl, target, input.Body.spec())
			if err != nil {
				return 0, err
			}
			return act.ID, nil
		})
	})

	huma.Register(api, huma.Operation{
		OperationID: "detach-action",
		Method:      http.MethodDelete,
		Path:        "/templates/{id}/actions/{kind}/{target_id}",
		Summary:     "Remove a conditional action",
		Errors:      templateErrors,
	}, func(ctx context.Context, input *struct {
		ID       int64  `path:"id"`
		Kind     string `path:"kind" enum:"input,item,checkbox"`
		TargetID int64  `path:"target_id"`
	}) (*output[TemplateEditResponse], error) {
		return editTemplate(ctx, svc, input.ID, func(a *authoring.Author, tpl *domain.TaskTemplate) (int64, error) {
			target, err := authoring.ActionTarget(tpl, input.Kind, input.TargetID)
			if err != nil {
				return 0, err
			}
			if !a.DetachConditionalAction(tpl, target) {
				return 0, &domain.NoOpError{Reason: "no conditional action attached"}
			}
			return 0, nil
		})
	})
}
