package models

import "encoding/json"

type EventType string

const (
	TaskCreatedEvent EventType = "task.created"
	TaskUpdatedEvent EventType = "task.updated"
	TaskDeletedEvent EventType = "task.deleted"
)

// ClassifyEvent derives the event type from the before/after snapshots of a
// task write. A missing before snapshot means creation; a missing after
// snapshot means deletion. Creation is checked first.
func ClassifyEvent(before, after *Task) EventType {
	if before == nil {
		return TaskCreatedEvent
	}
	if after == nil {
		return TaskDeletedEvent
	}
	return TaskUpdatedEvent
}

// EventContext identifies where an event happened.
type EventContext struct {
	ProjectID string `json:"projectId"`
	TaskID    string `json:"taskId"`
}

// WebhookEvent is the canonical payload sent to integrations. It is
// ephemeral; only delivery attempts persist it (verbatim, for audit).
type WebhookEvent struct {
	ID        string       `json:"-"`         // Internal identity, keys retry rows; not part of the wire payload
	Event     EventType    `json:"event"`     // "task.created", "task.updated" or "task.deleted"
	Data      *Task        `json:"data"`      // After snapshot, or before for deletions
	Timestamp int64        `json:"timestamp"` // Milliseconds since epoch
	Context   EventContext `json:"context"`   // Project and task the event belongs to
}

// Marshal renders the canonical payload JSON.
func (e WebhookEvent) Marshal() ([]byte, error) {
	return json.Marshal(e)
}
