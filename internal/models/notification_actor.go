package models

import "time"

// NotificationActor records one distinct actor contributing to a notification.
// The composite unique index keeps the actor set a set.
type NotificationActor struct {
	ID             uint      `gorm:"primaryKey;autoIncrement" json:"-"`
	NotificationID string    `gorm:"type:varchar(36);not null;uniqueIndex:idx_notification_actor" json:"notification_id"`
	ActorID        string    `gorm:"type:varchar(64);not null;uniqueIndex:idx_notification_actor;index" json:"actor_id"`
	CreatedAt      time.Time `json:"created_at"`
}
