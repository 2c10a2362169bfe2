package events

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

const (
	TemplateCreated       = "template.created"
	TemplateUpdated       = "template.updated"
	TemplateDeleted       = "template.deleted"
	TaskInstantiated      = "task.instantiated"
	TaskStatusChanged     = "task.status_changed"
	TaskArchived          = "task.archived"
	TaskTrashed           = "task.trashed"
	TaskRestored          = "task.restored"
	TaskPurged            = "task.purged"
	TaskRecomputed        = "task.recomputed"
	InputUpdated          = "input.updated"
	CheckboxToggled       = "checkbox.toggled"
	BranchSelected        = "fn.branch_selected"
	FieldCompleted        = "field.completed"
	TableChanged          = "table.changed"
	EffectApplied         = "effect.applied"
	EffectFailed          = "effect.failed"
	NotificationRequested = "notification.requested"
)

// Writer appends events inside the caller's transaction. One Writer value is
// used per mutation so every event it writes shares a correlation id.
type Writer struct {
	DB            *sql.DB
	Now           func() time.Time
	CorrelationID string
}

type EventPayload map[string]any

// Correlated returns a copy of w with a fresh correlation id.
func (w Writer) Correlated() Writer {
	w.CorrelationID = uuid.NewString()
	return w
}

func (w Writer) Append(ctx context.Context, tx *sql.Tx, evtType, entityKind string, entityID, actorID int64, payload EventPayload) error {
	if w.Now == nil {
		w.Now = time.Now
	}
	ts := w.Now().UTC().Format(time.RFC3339Nano)
	if payload == nil {
		payload = EventPayload{}
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal event payload: %w", err)
	}
	_, err = tx.ExecContext(ctx, `INSERT INTO events(ts,type,entity_kind,entity_id,actor_id,correlation_id,payload_json) VALUES (?,?,?,?,?,?,?)`,
		ts, evtType, entityKind, nullableID(entityID), nullableID(actorID), nullable(w.CorrelationID), string(data))
	return err
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}

func nullableID(v int64) any {
	if v == 0 {
		return nil
	}
	return v
}
