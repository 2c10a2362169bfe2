package engine

import (
	"time"

	"fieldwork/internal/domain"
)

// RecomputeCompletion derives field and function completion bottom-up and
// refreshes the task progress. It never changes the task status. Running it
// twice in a row leaves the tree untouched the second time.
func (e Engine) RecomputeCompletion(task *domain.TaskInstance, cat Catalog) *domain.TaskInstance {
	if e.recompute(task, cat, nil) {
		e.touch(task, e.now())
	}
	return task
}

// recompute reports whether any completion flag, lock or the progress moved.
func (e Engine) recompute(task *domain.TaskInstance, cat Catalog, actorID *int64) bool {
	now := e.now()
	changed := false
	completed := 0
	for _, fn := range task.Fns {
		fnTpl, _ := cat.FnTemplate(fn.FnTemplateID)
		fnGated := gatedByAction(fnTpl, fn, cat, domain.ActionMarkFnDone)
		allFields := len(fn.Fields) > 0
		for _, field := range fn.Fields {
			if !field.CompletionSource.Sticky() {
				derived := !fieldGated(field, cat) && requiredSatisfied(field, cat)
				changed = setField(field, derived, actorID, now) || changed
			}
			allFields = allFields && field.IsComplete
		}
		if !fn.CompletionSource.Sticky() {
			changed = setFn(fn, !fnGated && allFields, actorID, now) || changed
		}
		if fn.IsComplete {
			completed++
		}
	}
	for _, fn := range task.Fns {
		if !fn.IsComplete {
			continue
		}
		fnTpl, ok := cat.FnTemplate(fn.FnTemplateID)
		if !ok {
			continue
		}
		for _, fu := range fnTpl.FollowUps {
			if next := task.FnByTemplate(fu.NextFnTemplateID); next != nil && next.IsLocked {
				next.IsLocked = false
				changed = true
			}
		}
	}
	progress := 0
	if len(task.Fns) > 0 {
		progress = completed * 100 / len(task.Fns)
	}
	if progress != task.Progress {
		task.Progress = progress
		changed = true
	}
	return changed
}

// requiredSatisfied is true when every required input is complete. Inputs
// whose template cannot be resolved count as required.
func requiredSatisfied(field *domain.FieldInstance, cat Catalog) bool {
	for _, in := range field.Inputs {
		tpl, ok := cat.InputTemplate(in.InputTemplateID)
		if ok && !tpl.IsRequired {
			continue
		}
		if !in.IsComplete {
			return false
		}
	}
	return true
}

// fieldGated reports whether a MARK_FIELD_AS_DONE action owns the field's
// completion. Such fields only complete through the action.
func fieldGated(field *domain.FieldInstance, cat Catalog) bool {
	for _, in := range field.Inputs {
		if tpl, ok := cat.InputTemplate(in.InputTemplateID); ok && carries(tpl, domain.ActionMarkFieldDone) {
			return true
		}
	}
	return false
}

func gatedByAction(fnTpl *domain.FnTemplate, fn *domain.FnInstance, cat Catalog, kind domain.ActionType) bool {
	if fnTpl != nil && fnTpl.Dropdown != nil {
		for _, it := range fnTpl.Dropdown.Items {
			if it.Action != nil && it.Action.ActionType == kind {
				return true
			}
		}
	}
	for _, field := range fn.Fields {
		for _, in := range field.Inputs {
			if tpl, ok := cat.InputTemplate(in.InputTemplateID); ok && carries(tpl, kind) {
				return true
			}
		}
	}
	return false
}

// carries reports whether tpl or any of its options holds an action of kind.
func carries(tpl *domain.InputTemplate, kind domain.ActionType) bool {
	if tpl.Action != nil && tpl.Action.ActionType == kind {
		return true
	}
	if tpl.Dropdown != nil {
		for _, it := range tpl.Dropdown.Items {
			if it.Action != nil && it.Action.ActionType == kind {
				return true
			}
		}
	}
	for _, cb := range tpl.Checkboxes {
		if cb.Action != nil && cb.Action.ActionType == kind {
			return true
		}
	}
	return false
}

func setField(f *domain.FieldInstance, complete bool, actorID *int64, now time.Time) bool {
	if f.IsComplete == complete {
		return false
	}
	if complete {
		markField(f, domain.CompletionDerived, actorID, now)
		return true
	}
	f.IsComplete = false
	f.CompletionSource = domain.CompletionNone
	f.CompletedAt = nil
	f.CompletedByID = nil
	return true
}

func setFn(fn *domain.FnInstance, complete bool, actorID *int64, now time.Time) bool {
	if fn.IsComplete == complete {
		return false
	}
	if complete {
		markFn(fn, domain.CompletionDerived, actorID, now)
		return true
	}
	fn.IsComplete = false
	fn.CompletionSource = domain.CompletionNone
	fn.CompletedAt = nil
	fn.CompletedByID = nil
	return true
}

// markField completes f. A sticky source replaces a derived one, and the
// completion stamp is kept when f was already complete.
func markField(f *domain.FieldInstance, source domain.CompletionSource, actorID *int64, now time.Time) {
	if !f.IsComplete {
		f.IsComplete = true
		f.CompletedAt = &now
		f.CompletedByID = copyID(actorID)
	}
	if source.Sticky() || f.CompletionSource == domain.CompletionNone {
		f.CompletionSource = source
	}
}

func markFn(fn *domain.FnInstance, source domain.CompletionSource, actorID *int64, now time.Time) {
	if !fn.IsComplete {
		fn.IsComplete = true
		fn.CompletedAt = &now
		fn.CompletedByID = copyID(actorID)
	}
	if source.Sticky() || fn.CompletionSource == domain.CompletionNone {
		fn.CompletionSource = source
	}
}

func copyID(id *int64) *int64 {
	if id == nil {
		return nil
	}
	v := *id
	return &v
}
