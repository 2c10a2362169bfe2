package notify

import (
	"fieldwork/internal/domain"
	"fieldwork/internal/events"
)

// Notification is the outbox form of a NOTIFY_USERS effect.
type Notification struct {
	TaskID   int64
	TaskCode string
	ActionID int64
	UserIDs  []int64
	Message  string
}

func (n Notification) Payload() events.EventPayload {
	return events.EventPayload{
		"task_id":               n.TaskID,
		"task_code":             n.TaskCode,
		"conditional_action_id": n.ActionID,
		"user_ids":              n.UserIDs,
		"message":               n.Message,
	}
}

// FromEffect builds the notification for a NOTIFY_USERS effect, reporting
// false for every other kind.
func FromEffect(task *domain.TaskInstance, kind domain.ActionType, actionID int64, userIDs []int64, message string) (Notification, bool) {
	if kind != domain.ActionNotifyUsers || len(userIDs) == 0 {
		return Notification{}, false
	}
	return Notification{
		TaskID:   task.ID,
		TaskCode: task.Code,
		ActionID: actionID,
		UserIDs:  append([]int64(nil), userIDs...),
		Message:  message,
	}, true
}
