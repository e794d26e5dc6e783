package models

import (
	"time"

	"gorm.io/datatypes"
)

// NotificationType enumerates the kinds of user activity that produce notifications.
type NotificationType string

const (
	NotificationNewMessage     NotificationType = "NEW_MESSAGE"
	NotificationPinLiked       NotificationType = "PIN_LIKED"
	NotificationPinCommented   NotificationType = "PIN_COMMENTED"
	NotificationPinSaved       NotificationType = "PIN_SAVED"
	NotificationCommentLiked   NotificationType = "COMMENT_LIKED"
	NotificationCommentReplied NotificationType = "COMMENT_REPLIED"
	NotificationUserFollowed   NotificationType = "USER_FOLLOWED"
)

// NotificationTypes lists every notification type in declaration order.
var NotificationTypes = []NotificationType{
	NotificationNewMessage,
	NotificationPinLiked,
	NotificationPinCommented,
	NotificationPinSaved,
	NotificationCommentLiked,
	NotificationCommentReplied,
	NotificationUserFollowed,
}

// IsSingleAction reports whether a repeat contribution from the same actor must
// leave the aggregate untouched (likes, saves and follows).
func (t NotificationType) IsSingleAction() bool {
	switch t {
	case NotificationPinLiked, NotificationPinSaved, NotificationCommentLiked, NotificationUserFollowed:
		return true
	default:
		return false
	}
}

// NotificationStatus is the read state of a notification. READ is terminal.
type NotificationStatus string

const (
	StatusUnread NotificationStatus = "UNREAD"
	StatusRead   NotificationStatus = "READ"
)

// Notification is the coalesced record for one recipient and aggregation key.
// ActorID is the most recent contributor; Actors holds every distinct contributor.
type Notification struct {
	BaseModel

	RecipientID    string             `gorm:"type:varchar(64);not null;index:idx_notifications_lookup,priority:1" json:"recipient_id"`
	ActorID        string             `gorm:"type:varchar(64);not null" json:"actor_id"`
	Type           NotificationType   `gorm:"type:varchar(32);not null;index:idx_notifications_lookup,priority:3" json:"type"`
	Status         NotificationStatus `gorm:"type:varchar(16);not null;default:'UNREAD';index:idx_notifications_lookup,priority:2" json:"status"`
	ReferenceID    string             `gorm:"type:varchar(64);index:idx_notifications_lookup,priority:4" json:"reference_id,omitempty"`
	SecondaryRefID string             `gorm:"type:varchar(64);index" json:"secondary_ref_id,omitempty"`

	PreviewText    string `gorm:"type:text" json:"preview_text,omitempty"`
	PreviewImageID string `gorm:"type:varchar(128)" json:"preview_image_id,omitempty"`

	AggregatedCount  int `gorm:"not null;default:1" json:"aggregated_count"`
	UniqueActorCount int `gorm:"not null;default:1" json:"unique_actor_count"`

	Metadata datatypes.JSONMap `json:"metadata,omitempty"`
	ReadAt   *time.Time        `json:"read_at"`

	Actors []NotificationActor `gorm:"foreignKey:NotificationID;constraint:OnDelete:CASCADE" json:"-"`
}

// ActorIDs returns the contributing actor ids in insertion order.
func (n *Notification) ActorIDs() []string {
	ids := make([]string, 0, len(n.Actors))
	for _, actor := range n.Actors {
		ids = append(ids, actor.ActorID)
	}
	return ids
}

// HasActor reports whether actorID has already contributed to the notification.
func (n *Notification) HasActor(actorID string) bool {
	for _, actor := range n.Actors {
		if actor.ActorID == actorID {
			return true
		}
	}
	return false
}

// IsUnread reports whether the notification is still open for aggregation.
func (n *Notification) IsUnread() bool {
	return n.Status == StatusUnread
}
