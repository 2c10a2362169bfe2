package engine

import (
	"fmt"

	"fieldwork/internal/domain"
)

// StatusChange moves a task along the status board.
type StatusChange struct {
	Status  domain.TaskStatus
	ActorID int64
	Remarks string
	// Force skips the transition table but never leaves a terminal status.
	Force bool
}

func (e Engine) SetStatus(task *domain.TaskInstance, ch StatusChange) error {
	if !ch.Status.Valid() {
		return &domain.ValidationError{Field: "status", Reason: "unknown task status " + string(ch.Status)}
	}
	if task.Status == ch.Status {
		return nil
	}
	if task.Status.Terminal() {
		return &domain.NoOpError{Reason: fmt.Sprintf("task %s is %s", task.Code, task.Status)}
	}
	if err := ensureTaskTransition(task.Status, ch.Status, ch.Force); err != nil {
		return err
	}
	now := e.now()
	task.Status = ch.Status
	if ch.Remarks != "" {
		task.Remarks = ch.Remarks
	}
	if ch.Status.Terminal() {
		actor := ch.ActorID
		task.ClosedAt = &now
		task.ClosedByID = &actor
	}
	e.touch(task, now)
	return nil
}

func ensureTaskTransition(oldStatus, newStatus domain.TaskStatus, force bool) error {
	if force {
		return nil
	}
	switch oldStatus {
	case domain.StatusPending:
		if newStatus == domain.StatusInProgress || newStatus == domain.StatusOnHold || newStatus == domain.StatusCancelled {
			return nil
		}
	case domain.StatusInProgress:
		switch newStatus {
		case domain.StatusOnHold, domain.StatusCompleted, domain.StatusRejected, domain.StatusCancelled, domain.StatusRevisionRequired:
			return nil
		}
	case domain.StatusOnHold:
		if newStatus == domain.StatusInProgress || newStatus == domain.StatusCancelled {
			return nil
		}
	case domain.StatusRevisionRequired:
		if newStatus == domain.StatusInProgress || newStatus == domain.StatusCancelled {
			return nil
		}
	}
	return &domain.ValidationError{Field: "status", Reason: fmt.Sprintf("invalid task status transition %s -> %s", oldStatus, newStatus)}
}

// Archive hides the task from default listings. It keeps the tree intact.
func (e Engine) Archive(task *domain.TaskInstance) bool {
	if task.IsArchived {
		return false
	}
	task.IsArchived = true
	e.touch(task, e.now())
	return true
}

// Trash stamps the task for later purging.
func (e Engine) Trash(task *domain.TaskInstance) bool {
	if task.TrashedAt != nil {
		return false
	}
	now := e.now()
	task.TrashedAt = &now
	e.touch(task, now)
	return true
}

// Restore clears both the archive and trash flags.
func (e Engine) Restore(task *domain.TaskInstance) bool {
	if !task.IsArchived && task.TrashedAt == nil {
		return false
	}
	task.IsArchived = false
	task.TrashedAt = nil
	e.touch(task, e.now())
	return true
}

// CompleteField marks a field complete by hand. Manual completion survives
// recomputation like action-driven completion.
func (e Engine) CompleteField(task *domain.TaskInstance, cat Catalog, fieldInstanceID, actorID int64) error {
	if err := ensureMutable(task); err != nil {
		return err
	}
	for _, fn := range task.Fns {
		for _, f := range fn.Fields {
			if f.ID != fieldInstanceID {
				continue
			}
			if fn.IsLocked {
				return &domain.NoOpError{Reason: fmt.Sprintf("fn %d is locked until its prerequisites complete", fn.ID)}
			}
			now := e.now()
			markField(f, domain.CompletionManual, &actorID, now)
			e.recompute(task, cat, &actorID)
			e.touch(task, now)
			return nil
		}
	}
	return fmt.Errorf("field instance %d: %w", fieldInstanceID, ErrNodeNotFound)
}
