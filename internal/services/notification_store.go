package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/charlesng35/pinnotify/internal/models"
	apperrors "github.com/charlesng35/pinnotify/pkg/errors"
)

// errCandidateGone signals that a merge target stopped being UNREAD between the
// lookup and the write.
var errCandidateGone = errors.New("notification store: merge target no longer unread")

const (
	defaultPageSize = 20
	maxPageSize     = 100
)

// Page selects a zero-based page of results.
type Page struct {
	Number int
	Size   int
}

// Normalise clamps the page to valid bounds, applying the default size.
func (p Page) Normalise() Page {
	if p.Number < 0 {
		p.Number = 0
	}
	if p.Size <= 0 {
		p.Size = defaultPageSize
	}
	if p.Size > maxPageSize {
		p.Size = maxPageSize
	}
	return p
}

// MergeUpdate carries the fields a merging event overwrites.
type MergeUpdate struct {
	ActorID        string
	PreviewText    string
	PreviewImageID string
	SecondaryRefID string
	Metadata       map[string]any
	At             time.Time
}

// NotificationStore persists notifications and answers aggregation lookups.
type NotificationStore struct {
	db *gorm.DB
}

// NewNotificationStore constructs a GORM-backed store.
func NewNotificationStore(db *gorm.DB) (*NotificationStore, error) {
	if db == nil {
		return nil, errors.New("notification store: db is required")
	}
	return &NotificationStore{db: db}, nil
}

func (s *NotificationStore) FindUnreadMessagesNotification(ctx context.Context, recipientID, chatID string) (*models.Notification, error) {
	return s.findUnread(ctx, recipientID, models.NotificationNewMessage, "reference_id = ?", chatID)
}

func (s *NotificationStore) FindUnreadPinNotification(ctx context.Context, recipientID string, typ models.NotificationType, pinID string) (*models.Notification, error) {
	return s.findUnread(ctx, recipientID, typ, "reference_id = ?", pinID)
}

func (s *NotificationStore) FindUnreadCommentLikeNotification(ctx context.Context, recipientID, commentID string) (*models.Notification, error) {
	return s.findUnread(ctx, recipientID, models.NotificationCommentLiked, "reference_id = ?", commentID)
}

// FindUnreadRepliesNotification is keyed by the parent comment.
func (s *NotificationStore) FindUnreadRepliesNotification(ctx context.Context, recipientID, parentCommentID string) (*models.Notification, error) {
	return s.findUnread(ctx, recipientID, models.NotificationCommentReplied, "secondary_ref_id = ?", parentCommentID)
}

func (s *NotificationStore) FindUnreadFollowsNotification(ctx context.Context, recipientID string) (*models.Notification, error) {
	return s.findUnread(ctx, recipientID, models.NotificationUserFollowed, "")
}

// IsActorAlreadyInFollowNotification checks actor membership in the store rather
// than on a loaded entity.
func (s *NotificationStore) IsActorAlreadyInFollowNotification(ctx context.Context, recipientID, actorID string) (bool, error) {
	var count int64
	err := s.db.WithContext(ensureContext(ctx)).
		Table("notification_actors").
		Joins("JOIN notifications ON notifications.id = notification_actors.notification_id").
		Where("notifications.recipient_id = ? AND notifications.type = ? AND notifications.status = ? AND notification_actors.actor_id = ?",
			recipientID, models.NotificationUserFollowed, models.StatusUnread, actorID).
		Count(&count).Error
	if err != nil {
		return false, fmt.Errorf("notification store: follow membership: %w", err)
	}
	return count > 0, nil
}

func (s *NotificationStore) findUnread(ctx context.Context, recipientID string, typ models.NotificationType, cond string, args ...any) (*models.Notification, error) {
	query := s.db.WithContext(ensureContext(ctx)).
		Preload("Actors", func(db *gorm.DB) *gorm.DB { return db.Order("id ASC") }).
		Where("recipient_id = ? AND status = ? AND type = ?", recipientID, models.StatusUnread, typ)
	if cond != "" {
		query = query.Where(cond, args...)
	}

	var notification models.Notification
	err := query.Order("updated_at DESC").Take(&notification).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("notification store: find unread %s: %w", typ, err)
	}
	return &notification, nil
}

// Create inserts a notification together with its actor set.
func (s *NotificationStore) Create(ctx context.Context, notification *models.Notification) error {
	if err := s.db.WithContext(ensureContext(ctx)).Create(notification).Error; err != nil {
		return fmt.Errorf("notification store: create: %w", err)
	}
	return nil
}

// ApplyMerge folds one more contribution into an unread notification. It reports
// whether the actor was new to the notification and reloads the record.
func (s *NotificationStore) ApplyMerge(ctx context.Context, notification *models.Notification, update MergeUpdate) (bool, error) {
	var added bool
	err := s.db.WithContext(ensureContext(ctx)).Transaction(func(tx *gorm.DB) error {
		columns := map[string]any{
			"actor_id":         update.ActorID,
			"preview_text":     update.PreviewText,
			"preview_image_id": update.PreviewImageID,
			"secondary_ref_id": update.SecondaryRefID,
			"aggregated_count": gorm.Expr("aggregated_count + 1"),
			"updated_at":       update.At,
		}
		if len(update.Metadata) > 0 {
			merged := datatypes.JSONMap{}
			for k, v := range notification.Metadata {
				merged[k] = v
			}
			for k, v := range update.Metadata {
				merged[k] = v
			}
			columns["metadata"] = merged
		}

		res := tx.Model(&models.Notification{}).
			Where("id = ? AND status = ?", notification.ID, models.StatusUnread).
			Updates(columns)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return errCandidateGone
		}

		actor := models.NotificationActor{NotificationID: notification.ID, ActorID: update.ActorID}
		res = tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&actor)
		if res.Error != nil {
			return res.Error
		}
		added = res.RowsAffected > 0
		if added {
			if err := tx.Model(&models.Notification{}).
				Where("id = ?", notification.ID).
				UpdateColumn("unique_actor_count", gorm.Expr("unique_actor_count + 1")).Error; err != nil {
				return err
			}
		}

		var reloaded models.Notification
		if err := tx.Preload("Actors", func(db *gorm.DB) *gorm.DB { return db.Order("id ASC") }).
			Take(&reloaded, "id = ?", notification.ID).Error; err != nil {
			return err
		}
		*notification = reloaded
		return nil
	})
	if errors.Is(err, errCandidateGone) {
		return false, err
	}
	if err != nil {
		return false, fmt.Errorf("notification store: merge: %w", err)
	}
	return added, nil
}

// CountUnread returns the number of UNREAD notifications for the recipient.
func (s *NotificationStore) CountUnread(ctx context.Context, recipientID string) (int64, error) {
	var count int64
	if err := s.db.WithContext(ensureContext(ctx)).
		Model(&models.Notification{}).
		Where("recipient_id = ? AND status = ?", recipientID, models.StatusUnread).
		Count(&count).Error; err != nil {
		return 0, fmt.Errorf("notification store: count unread: %w", err)
	}
	return count, nil
}

// MarkAllRead transitions every UNREAD notification of the recipient to READ.
func (s *NotificationStore) MarkAllRead(ctx context.Context, recipientID string, at time.Time) (int64, error) {
	res := s.db.WithContext(ensureContext(ctx)).
		Model(&models.Notification{}).
		Where("recipient_id = ? AND status = ?", recipientID, models.StatusUnread).
		Updates(map[string]any{"status": models.StatusRead, "read_at": at})
	if res.Error != nil {
		return 0, fmt.Errorf("notification store: mark all read: %w", res.Error)
	}
	return res.RowsAffected, nil
}

// MarkRead transitions the given UNREAD notifications owned by the recipient.
func (s *NotificationStore) MarkRead(ctx context.Context, recipientID string, ids []string, at time.Time) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	res := s.db.WithContext(ensureContext(ctx)).
		Model(&models.Notification{}).
		Where("recipient_id = ? AND status = ? AND id IN ?", recipientID, models.StatusUnread, ids).
		Updates(map[string]any{"status": models.StatusRead, "read_at": at})
	if res.Error != nil {
		return 0, fmt.Errorf("notification store: mark read: %w", res.Error)
	}
	return res.RowsAffected, nil
}

// FindForRecipient loads a notification owned by the recipient.
func (s *NotificationStore) FindForRecipient(ctx context.Context, recipientID, id string) (*models.Notification, error) {
	var notification models.Notification
	err := s.db.WithContext(ensureContext(ctx)).
		Where("id = ? AND recipient_id = ?", id, recipientID).
		Take(&notification).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperrors.ErrNotificationNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("notification store: load: %w", err)
	}
	return &notification, nil
}

// Delete removes a notification and its actor rows.
func (s *NotificationStore) Delete(ctx context.Context, id string) error {
	return s.db.WithContext(ensureContext(ctx)).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("notification_id = ?", id).Delete(&models.NotificationActor{}).Error; err != nil {
			return fmt.Errorf("notification store: delete actors: %w", err)
		}
		if err := tx.Where("id = ?", id).Delete(&models.Notification{}).Error; err != nil {
			return fmt.Errorf("notification store: delete: %w", err)
		}
		return nil
	})
}

// List returns a page of the recipient's notifications, newest first, and the
// total number matching. A non-empty status filters by read state.
func (s *NotificationStore) List(ctx context.Context, recipientID string, status models.NotificationStatus, page Page) ([]models.Notification, int64, error) {
	page = page.Normalise()

	scoped := func() *gorm.DB {
		query := s.db.WithContext(ensureContext(ctx)).
			Model(&models.Notification{}).
			Where("recipient_id = ?", recipientID)
		if status != "" {
			query = query.Where("status = ?", status)
		}
		return query
	}

	var total int64
	if err := scoped().Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("notification store: count: %w", err)
	}

	var rows []models.Notification
	if err := scoped().
		Preload("Actors", func(db *gorm.DB) *gorm.DB { return db.Order("id ASC") }).
		Order("created_at DESC").
		Limit(page.Size).
		Offset(page.Number * page.Size).
		Find(&rows).Error; err != nil {
		return nil, 0, fmt.Errorf("notification store: list: %w", err)
	}
	return rows, total, nil
}

// DeleteOlderThan removes notifications created before cutoff, whatever their status.
func (s *NotificationStore) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, []string, error) {
	var (
		deleted    int64
		recipients []string
	)
	err := s.db.WithContext(ensureContext(ctx)).Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&models.Notification{}).
			Where("created_at < ? AND status = ?", cutoff, models.StatusUnread).
			Distinct().
			Pluck("recipient_id", &recipients).Error; err != nil {
			return err
		}
		expired := tx.Model(&models.Notification{}).Select("id").Where("created_at < ?", cutoff)
		if err := tx.Where("notification_id IN (?)", expired).Delete(&models.NotificationActor{}).Error; err != nil {
			return err
		}
		res := tx.Where("created_at < ?", cutoff).Delete(&models.Notification{})
		if res.Error != nil {
			return res.Error
		}
		deleted = res.RowsAffected
		return nil
	})
	if err != nil {
		return 0, nil, fmt.Errorf("notification store: delete older than: %w", err)
	}
	return deleted, recipients, nil
}

func ensureContext(ctx context.Context) context.Context {
	if ctx != nil {
		return ctx
	}
	return context.Background()
}
