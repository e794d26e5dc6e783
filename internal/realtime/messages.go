package realtime

import "time"

// Kind identifies the push message types clients understand.
type Kind string

const (
	KindNotification        Kind = "notification"
	KindNotificationUpdated Kind = "notification_updated"
	KindUnreadUpdate        Kind = "unread_update"
	KindHeartbeat           Kind = "heartbeat"
	KindConnected           Kind = "connected"
)

// Message represents a JSON payload delivered over a user's push channel.
type Message struct {
	Type      Kind      `json:"type"`
	Data      any       `json:"data,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// NewMessage stamps a message of the given kind with the current time.
func NewMessage(kind Kind, data any) Message {
	return Message{Type: kind, Data: data, Timestamp: time.Now().UTC()}
}

// UnreadUpdate is the payload of an unread_update message.
type UnreadUpdate struct {
	UnreadCount int64 `json:"unread_count"`
}
