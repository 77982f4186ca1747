package model

import "time"

// WebSocket message types
const (
	WSMessageTypeNotification = "notification"
	WSMessageTypeTaskUpdate   = "task_update"
	WSMessageTypePing         = "ping"
	WSMessageTypePong         = "pong"
)

// WSMessage represents a generic WebSocket message
type WSMessage struct {
	Type string `json:"type"`
}

// Notification is a user-visible event. At most one is emitted per (TaskID, Kind).
type Notification struct {
	Kind    NotificationKind `json:"kind"`
	TaskID  string           `json:"taskId"`
	Message string           `json:"message"`
	Reason  FailureReason    `json:"reason,omitempty"`
	Items   []GeneratedItem  `json:"items,omitempty"`
	At      time.Time        `json:"at"`
}

// WSNotificationMessage wraps a Notification for the socket
type WSNotificationMessage struct {
	Type         string       `json:"type"`
	Notification Notification `json:"notification"`
}

// WSTaskUpdateMessage carries a task snapshot after a state change
type WSTaskUpdateMessage struct {
	Type string         `json:"type"`
	Task GenerationTask `json:"task"`
}
