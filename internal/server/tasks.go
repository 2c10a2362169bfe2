package server

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/danielgtaylor/huma/v2"

	"fieldwork/internal/app"
	"fieldwork/internal/domain"
	"fieldwork/internal/engine"
	"fieldwork/internal/repo"
)

var taskErrors = []int{
	http.StatusBadRequest,
	http.StatusUnauthorized,
	http.StatusNotFound,
	http.StatusConflict,
	http.StatusUnprocessableEntity,
	http.StatusInternalServerError,
}

func registerTasks(api huma.API, svc *app.Service) {
	huma.Register(api, huma.Operation{
		OperationID:   "instantiate-task",
		Method:        http.MethodPost,
		Path:          "/tasks",
		Summary:       "Instantiate a task from a template",
		DefaultStatus: http.StatusCreated,
		Errors:        taskErrors,
	}, func(ctx context.Context, input *struct {
		Body InstantiateRequest
	}) (*output[*domain.TaskInstance], error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		priority, err := domain.ParsePriority(input.Body.Priority)
		if err != nil {
			return nil, handleError(err)
		}
		task, err := svc.Instantiate(ctx, input.Body.TaskTemplateID, engine.InstantiateOptions{
			Code:        input.Body.Code,
			CustomerID:  input.Body.CustomerID,
			Priority:    priority,
			CreatedByID: actorID,
			AssigneeID:  input.Body.AssigneeID,
			Remarks:     input.Body.Remarks,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return respond(task), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-tasks",
		Method:      http.MethodGet,
		Path:        "/tasks",
		Summary:     "List task instances",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		TemplateID int64  `query:"template_id"`
		Status     string `query:"status" doc:"Comma separated statuses"`
		AssigneeID int64  `query:"assignee_id"`
		CustomerID int64  `query:"customer_id"`
		Archived   string `query:"archived" doc:"true or false; empty lists both"`
		Trashed    bool   `query:"trashed"`
		Limit      int    `query:"limit" default:"50"`
		Offset     int    `query:"offset" minimum:"0"`
	}) (*output[paginatedTasks], error) {
		limit := normalizeLimit(input.Limit)
		f := repo.TaskFilter{
			TemplateID: input.TemplateID,
			Trashed:    input.Trashed,
			Limit:      limit + 1,
			Offset:     input.Offset,
		}
		for _, raw := range strings.Split(input.Status, ",") {
			if strings.TrimSpace(raw) == "" {
				continue
			}
			st, err := domain.ParseTaskStatus(raw)
			if err != nil {
				return nil, handleError(err)
			}
			f.Statuses = append(f.Statuses, st)
		}
		if input.AssigneeID != 0 {
			f.AssigneeID = &input.AssigneeID
		}
		if input.CustomerID != 0 {
			f.CustomerID = &input.CustomerID
		}
		if input.Archived != "" {
			archived, err := strconv.ParseBool(input.Archived)
			if err != nil {
				return nil, newAPIError(http.StatusBadRequest, "bad_request", "archived must be true or false", map[string]any{"archived": input.Archived})
			}
			f.Archived = &archived
		}
		items, err := svc.ListTasks(ctx, f)
		if err != nil {
			return nil, handleError(err)
		}
		resp := paginatedTasks{Items: nonNilSlice(items)}
		if len(items) > limit {
			resp.Items = items[:limit]
			resp.NextOffset = input.Offset + limit
		}
		return respond(resp), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-task",
		Method:      http.MethodGet,
		Path:        "/tasks/{ref}",
		Summary:     "Get a task by id or code",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		Ref string `path:"ref"`
	}) (*output[*domain.TaskInstance], error) {
		task, err := svc.ResolveTask(ctx, input.Ref)
		if err != nil {
			return nil, handleError(err)
		}
		return respond(task), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "purge-tasks",
		Method:      http.MethodPost,
		Path:        "/tasks/purge",
		Summary:     "Delete tasks trashed before the retention window",
		Errors:      taskErrors,
	}, func(ctx context.Context, input *struct {
		Body PurgeRequest
	}) (*output[PurgeResponse], error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		olderThan := time.Duration(input.Body.OlderThanDays) * 24 * time.Hour
		ids, err := svc.PurgeTrashed(ctx, olderThan, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return respond(PurgeResponse{PurgedTaskIDs: nonNilSlice(ids)}), nil
	})
}

// mutation resolves the actor, runs op and shapes the result. A partial
// failure still answers 200 with the failures listed.
func mutation(ctx context.Context, op func(actorID int64) (*app.Result, error)) (*output[MutationResponse], error) {
	actorID, authErr := actorIDFromContext(ctx)
	if authErr != nil {
		return nil, authErr
	}
	res, err := op(actorID)
	if err != nil {
		return nil, handleError(err)
	}
	return respond(mutationResponse(res)), nil
}

func registerTaskMutations(api huma.API, svc *app.Service) {
	huma.Register(api, huma.Operation{
		OperationID: "set-input-value",
		Method:      http.MethodPut,
		Path:        "/tasks/{id}/inputs/{input_id}/value",
		Summary:     "Set an input value and run its conditional action",
		Errors:      taskErrors,
	}, func(ctx context.Context, input *struct {
		ID      int64 `path:"id"`
		InputID int64 `path:"input_id"`
		Body    ValueRequest
	}) (*output[MutationResponse], error) {
		return mutation(ctx, func(actorID int64) (*app.Result, error) {
			return svc.ApplyInputValue(ctx, input.ID, engine.ValueUpdate{
				InputInstanceID: input.InputID,
				Value:           input.Body.Value,
				ActorID:         actorID,
				ExpectedVersion: input.Body.ExpectedVersion,
			})
		})
	})

	huma.Register(api, huma.Operation{
		OperationID: "toggle-checkbox",
		Method:      http.MethodPut,
		Path:        "/tasks/{id}/checkboxes/{checkbox_id}",
		Summary:     "Check or uncheck a checkbox option",
		Errors:      taskErrors,
	}, func(ctx context.Context, input *struct {
		ID         int64 `path:"id"`
		CheckboxID int64 `path:"checkbox_id"`
		Body       CheckboxToggleRequest
	}) (*output[MutationResponse], error) {
		return mutation(ctx, func(actorID int64) (*app.Result, error) {
			return svc.ToggleCheckbox(ctx, input.ID, engine.CheckboxUpdate{
				CheckboxInstanceID: input.CheckboxID,
				Checked:            input.Body.Checked,
				ActorID:            actorID,
				ExpectedVersion:    input.Body.ExpectedVersion,
			})
		})
	})

	huma.Register(api, huma.Operation{
		OperationID: "select-fn-branch",
		Method:      http.MethodPut,
		Path:        "/tasks/{id}/fns/{fn_id}/branch",
		Summary:     "Select the branch of a function",
		Errors:      taskErrors,
	}, func(ctx context.Context, input *struct {
		ID   int64 `path:"id"`
		FnID int64 `path:"fn_id"`
		Body BranchRequest
	}) (*output[MutationResponse], error) {
		return mutation(ctx, func(actorID int64) (*app.Result, error) {
			return svc.SelectFnBranch(ctx, input.ID, engine.BranchSelection{FnInstanceID: input.FnID, ItemID: input.Body.ItemID, ActorID: actorID})
		})
	})

	huma.Register(api, huma.Operation{
		OperationID:   "add-table-row",
		Method:        http.MethodPost,
		Path:          "/tasks/{id}/inputs/{input_id}/rows",
		Summary:       "Append a row to a table input",
		DefaultStatus: http.StatusCreated,
		Errors:        taskErrors,
	}, func(ctx context.Context, input *struct {
		ID      int64 `path:"id"`
		InputID int64 `path:"input_id"`
	}) (*output[MutationResponse], error) {
		return mutation(ctx, func(actorID int64) (*app.Result, error) {
			return svc.AddTableRow(ctx, input.ID, engine.RowAdd{InputInstanceID: input.InputID, ActorID: actorID})
		})
	})

	huma.Register(api, huma.Operation{
		OperationID: "set-table-cell",
		Method:      http.MethodPut,
		Path:        "/tasks/{id}/inputs/{input_id}/cells",
		Summary:     "Write one table cell",
		Errors:      taskErrors,
	}, func(ctx context.Context, input *struct {
		ID      int64 `path:"id"`
		InputID int64 `path:"input_id"`
		Body    CellRequest
	}) (*output[MutationResponse], error) {
		return mutation(ctx, func(actorID int64) (*app.Result, error) {
			return svc.SetTableCell(ctx, input.ID, engine.CellUpdate{
				InputInstanceID: input.InputID,
				RowID:           input.Body.RowID,
				ColumnID:        input.Body.ColumnID,
				Value:           input.Body.Value,
				ActorID:         actorID,
				ExpectedVersion: input.Body.ExpectedVersion,
			})
		})
	})

	huma.Register(api, huma.Operation{
		OperationID: "evaluate-input",
		Method:      http.MethodPost,
		Path:        "/tasks/{id}/inputs/{input_id}/evaluate",
		Summary:     "Re-run the conditional action of an input against its current value",
		Errors:      taskErrors,
	}, func(ctx context.Context, input *struct {
		ID      int64 `path:"id"`
		InputID int64 `path:"input_id"`
	}) (*output[MutationResponse], error) {
		return mutation(ctx, func(actorID int64) (*app.Result, error) {
			return svc.Evaluate(ctx, input.ID, input.InputID, actorID)
		})
	})

	huma.Register(api, huma.Operation{
		OperationID: "recompute-task",
		Method:      http.MethodPost,
		Path:        "/tasks/{id}/recompute",
		Summary:     "Recompute completion and progress",
		Errors:      taskErrors,
	}, func(ctx context.Context, input *struct {
		ID int64 `path:"id"`
	}) (*output[MutationResponse], error) {
		return mutation(ctx, func(actorID int64) (*app.Result, error) {
			return svc.Recompute(ctx, input.ID, actorID)
		})
	})

	huma.Register(api, huma.Operation{
		OperationID: "complete-field",
		Method:      http.MethodPost,
		Path:        "/tasks/{id}/fields/{field_id}/complete",
		Summary:     "Mark a field done by hand",
		Errors:      taskErrors,
	}, func(ctx context.Context, input *struct {
		ID      int64 `path:"id"`
		FieldID int64 `path:"field_id"`
	}) (*output[MutationResponse], error) {
		return mutation(ctx, func(actorID int64) (*app.Result, error) {
			return svc.CompleteField(ctx, input.ID, input.FieldID, actorID)
		})
	})

	huma.Register(api, huma.Operation{
		OperationID: "set-task-status",
		Method:      http.MethodPatch,
		Path:        "/tasks/{id}/status",
		Summary:     "Change the task status",
		Errors:      taskErrors,
	}, func(ctx context.Context, input *struct {
		ID   int64 `path:"id"`
		Body StatusRequest
	}) (*output[MutationResponse], error) {
		return mutation(ctx, func(actorID int64) (*app.Result, error) {
			st, err := domain.ParseTaskStatus(input.Body.Status)
			if err != nil {
				return nil, err
			}
			return svc.SetStatus(ctx, input.ID, engine.StatusChange{Status: st, ActorID: actorID, Remarks: input.Body.Remarks, Force: input.Body.Force})
		})
	})

	flags := []struct {
		name string
		op   func(ctx context.Context, taskID, actorID int64) (*app.Result, error)
	}{
		{"archive", svc.Archive},
		{"trash", svc.Trash},
		{"restore", svc.Restore},
	}
	for _, fl := range flags {
		op := fl.op
		huma.Register(api, huma.Operation{
			OperationID: fl.name + "-task",
			Method:      http.MethodPost,
			Path:        "/tasks/{id}/" + fl.name,
			Summary:     strings.ToUpper(fl.name[:1]) + fl.name[1:] + " a task",
			Errors:      taskErrors,
		}, func(ctx context.Context, input *struct {
			ID int64 `path:"id"`
		}) (*output[MutationResponse], error) {
			return mutation(ctx, func(actorID int64) (*app.Result, error) {
				return op(ctx, input.ID, actorID)
			})
		})
	}
}
