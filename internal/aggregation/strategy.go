// Package aggregation decides how an incoming event interacts with the unread
// notifications a recipient already has. It reads through Lookup and never writes.
package aggregation

import (
	"context"
	"errors"
	"fmt"

	"github.com/charlesng35/pinnotify/internal/events"
	"github.com/charlesng35/pinnotify/internal/models"
)

// ErrVariantMismatch is returned when an event's variant cannot carry the given type.
var ErrVariantMismatch = errors.New("aggregation: event variant does not match notification type")

// ErrMissingSubject is returned when an event lacks the subject id its type aggregates on.
var ErrMissingSubject = errors.New("aggregation: event has no subject id")

// Lookup is the read side of the aggregation store. Every finder returns at most
// one UNREAD notification for the recipient, or nil when there is none.
type Lookup interface {
	FindUnreadMessagesNotification(ctx context.Context, recipientID, chatID string) (*models.Notification, error)
	FindUnreadPinNotification(ctx context.Context, recipientID string, typ models.NotificationType, pinID string) (*models.Notification, error)
	FindUnreadCommentLikeNotification(ctx context.Context, recipientID, commentID string) (*models.Notification, error)
	FindUnreadRepliesNotification(ctx context.Context, recipientID, parentCommentID string) (*models.Notification, error)
	FindUnreadFollowsNotification(ctx context.Context, recipientID string) (*models.Notification, error)
	IsActorAlreadyInFollowNotification(ctx context.Context, recipientID, actorID string) (bool, error)
}

// Decision is the outcome of classifying an event against its candidate.
type Decision int

const (
	DecisionCreate Decision = iota
	DecisionMerge
	DecisionDropDuplicate
)

func (d Decision) String() string {
	switch d {
	case DecisionCreate:
		return "create"
	case DecisionMerge:
		return "merge"
	case DecisionDropDuplicate:
		return "drop_duplicate"
	default:
		return fmt.Sprintf("decision(%d)", int(d))
	}
}

// Strategy implements the create/merge/drop decision procedure.
type Strategy struct {
	lookup Lookup
}

// NewStrategy constructs a Strategy reading through lookup.
func NewStrategy(lookup Lookup) (*Strategy, error) {
	if lookup == nil {
		return nil, errors.New("aggregation: lookup is required")
	}
	return &Strategy{lookup: lookup}, nil
}

// FindCandidate returns the unread notification the event would merge into.
func (s *Strategy) FindCandidate(ctx context.Context, ev events.Event, typ models.NotificationType) (*models.Notification, error) {
	recipient := ev.Header().RecipientID

	switch e := ev.(type) {
	case events.ChatEvent:
		if typ != models.NotificationNewMessage {
			return nil, mismatch(ev, typ)
		}
		return s.lookup.FindUnreadMessagesNotification(ctx, recipient, e.ChatID)
	case events.ContentEvent:
		switch typ {
		case models.NotificationPinLiked, models.NotificationPinSaved, models.NotificationPinCommented:
			if e.PinRef() == "" {
				return nil, missingSubject(typ, "pinId")
			}
			return s.lookup.FindUnreadPinNotification(ctx, recipient, typ, e.PinRef())
		case models.NotificationCommentLiked:
			if e.CommentID == "" {
				return nil, missingSubject(typ, "commentId")
			}
			return s.lookup.FindUnreadCommentLikeNotification(ctx, recipient, e.CommentID)
		case models.NotificationCommentReplied:
			if e.SecondaryRefID == "" {
				return nil, missingSubject(typ, "secondaryRefId")
			}
			return s.lookup.FindUnreadRepliesNotification(ctx, recipient, e.SecondaryRefID)
		default:
			return nil, mismatch(ev, typ)
		}
	case events.UserEvent:
		if typ != models.NotificationUserFollowed {
			return nil, mismatch(ev, typ)
		}
		return s.lookup.FindUnreadFollowsNotification(ctx, recipient)
	default:
		return nil, fmt.Errorf("aggregation: unsupported event %T", ev)
	}
}

// Classify decides what to do with the event given the candidate found for it.
func (s *Strategy) Classify(ctx context.Context, candidate *models.Notification, ev events.Event, typ models.NotificationType) (Decision, error) {
	if candidate == nil {
		return DecisionCreate, nil
	}

	actor := ev.Header().ActorID
	if typ.IsSingleAction() && candidate.HasActor(actor) {
		return DecisionDropDuplicate, nil
	}

	if typ == models.NotificationUserFollowed {
		// The loaded actor set may be stale; ask the store directly.
		member, err := s.lookup.IsActorAlreadyInFollowNotification(ctx, candidate.RecipientID, actor)
		if err != nil {
			return DecisionCreate, err
		}
		if member {
			return DecisionDropDuplicate, nil
		}
	}
	return DecisionMerge, nil
}

// SecondaryRefID returns the secondary subject id an event contributes.
func SecondaryRefID(ev events.Event, typ models.NotificationType) string {
	switch e := ev.(type) {
	case events.ChatEvent:
		return e.MessageID
	case events.ContentEvent:
		switch typ {
		case models.NotificationCommentReplied:
			return e.SecondaryRefID
		case models.NotificationCommentLiked:
			// The comment is already the reference; keep the pin it belongs to.
			return e.PinRef()
		default:
			return e.CommentID
		}
	default:
		return ""
	}
}

// References returns the reference and secondary reference ids stored on a new
// notification for the event.
func References(ev events.Event, typ models.NotificationType) (string, string) {
	secondary := SecondaryRefID(ev, typ)

	switch e := ev.(type) {
	case events.ChatEvent:
		return e.ChatID, secondary
	case events.ContentEvent:
		if typ == models.NotificationCommentLiked {
			return e.CommentID, secondary
		}
		return e.PinRef(), secondary
	default:
		return "", secondary
	}
}

// Metadata collects the variant fields that are not part of the aggregation key.
func Metadata(ev events.Event) map[string]any {
	meta := map[string]any{}
	switch e := ev.(type) {
	case events.ChatEvent:
		putIfSet(meta, "messageType", e.MessageType)
		putIfSet(meta, "messageId", e.MessageID)
	case events.ContentEvent:
		putIfSet(meta, "pinId", e.PinRef())
		putIfSet(meta, "commentId", e.CommentID)
		putIfSet(meta, "boardId", e.BoardID)
	}
	if len(meta) == 0 {
		return nil
	}
	return meta
}

func putIfSet(meta map[string]any, key, value string) {
	if value != "" {
		meta[key] = value
	}
}

func missingSubject(typ models.NotificationType, field string) error {
	return fmt.Errorf("%w: %s requires %s", ErrMissingSubject, typ, field)
}

func mismatch(ev events.Event, typ models.NotificationType) error {
	return fmt.Errorf("%w: %s on %s event", ErrVariantMismatch, typ, ev.Domain())
}
