package events

import (
	"errors"
	"fmt"
	"strings"

	"github.com/charlesng35/pinnotify/internal/models"
)

// ErrUnknownEventType is returned when a wire type string has no notification type.
var ErrUnknownEventType = errors.New("unknown event type")

// Wire type strings equal the notification type names.
var typeTable = func() map[string]models.NotificationType {
	table := make(map[string]models.NotificationType, len(models.NotificationTypes))
	for _, typ := range models.NotificationTypes {
		table[string(typ)] = typ
	}
	return table
}()

// MapType resolves a wire-level event type to its notification type.
func MapType(raw string) (models.NotificationType, error) {
	if typ, ok := typeTable[raw]; ok {
		return typ, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownEventType, strings.TrimSpace(raw))
}

// DomainFor returns the producing domain for a notification type.
func DomainFor(typ models.NotificationType) Domain {
	switch typ {
	case models.NotificationNewMessage:
		return DomainChat
	case models.NotificationUserFollowed:
		return DomainUser
	default:
		return DomainContent
	}
}
