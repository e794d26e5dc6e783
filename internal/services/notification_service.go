package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"gorm.io/datatypes"

	"github.com/charlesng35/pinnotify/internal/aggregation"
	"github.com/charlesng35/pinnotify/internal/cache"
	"github.com/charlesng35/pinnotify/internal/events"
	"github.com/charlesng35/pinnotify/internal/models"
	"github.com/charlesng35/pinnotify/internal/realtime"
	"github.com/charlesng35/pinnotify/pkg/logger"
	"github.com/charlesng35/pinnotify/pkg/metrics"
)

// ErrAggregationLookup wraps store failures while looking for a merge candidate.
var ErrAggregationLookup = errors.New("aggregation lookup failed")

// Outcome describes what CreateAndSendNotification did with an event.
type Outcome string

const (
	OutcomeSelf      Outcome = "self"
	OutcomeCreated   Outcome = "created"
	OutcomeMerged    Outcome = "merged"
	OutcomeDuplicate Outcome = "duplicate"
)

// Pusher delivers best-effort push messages to a user's channel.
type Pusher interface {
	SendToUser(userID string, msg realtime.Message) bool
}

// NotificationDTO represents the API-friendly notification payload.
type NotificationDTO struct {
	ID               string         `json:"id"`
	RecipientID      string         `json:"recipient_id"`
	ActorID          string         `json:"actor_id"`
	Type             string         `json:"type"`
	Status           string         `json:"status"`
	ReferenceID      string         `json:"reference_id,omitempty"`
	SecondaryRefID   string         `json:"secondary_ref_id,omitempty"`
	PreviewText      string         `json:"preview_text,omitempty"`
	PreviewImageID   string         `json:"preview_image_id,omitempty"`
	AggregatedCount  int            `json:"aggregated_count"`
	UniqueActorCount int            `json:"unique_actor_count"`
	ActorIDs         []string       `json:"actor_ids"`
	Metadata         map[string]any `json:"metadata,omitempty"`
	IsRead           bool           `json:"is_read"`
	CreatedAt        time.Time      `json:"created_at"`
	UpdatedAt        time.Time      `json:"updated_at"`
	ReadAt           *time.Time     `json:"read_at,omitempty"`
}

// NotificationServiceOption customises a NotificationService.
type NotificationServiceOption func(*NotificationService)

// WithPusher sets the push transport. Without one, pushes are skipped.
func WithPusher(p Pusher) NotificationServiceOption {
	return func(s *NotificationService) {
		s.pusher = p
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) NotificationServiceOption {
	return func(s *NotificationService) {
		if now != nil {
			s.now = now
		}
	}
}

// WithServiceLogger overrides the service logger.
func WithServiceLogger(log *zap.Logger) NotificationServiceOption {
	return func(s *NotificationService) {
		if log != nil {
			s.log = log
		}
	}
}

// NotificationService turns consumed events into coalesced notifications and
// serves the read/delete operations on them.
type NotificationService struct {
	store    *NotificationStore
	strategy *aggregation.Strategy
	counter  *cache.UnreadCounter
	pusher   Pusher
	now      func() time.Time
	log      *zap.Logger
}

// NewNotificationService constructs a NotificationService.
func NewNotificationService(store *NotificationStore, counter *cache.UnreadCounter, opts ...NotificationServiceOption) (*NotificationService, error) {
	if store == nil {
		return nil, errors.New("notification service: store is required")
	}
	if counter == nil {
		return nil, errors.New("notification service: unread counter is required")
	}

	strategy, err := aggregation.NewStrategy(store)
	if err != nil {
		return nil, fmt.Errorf("notification service: %w", err)
	}

	svc := &NotificationService{
		store:    store,
		strategy: strategy,
		counter:  counter,
		now:      func() time.Time { return time.Now().UTC() },
		log:      logger.WithModule("notifications"),
	}
	for _, opt := range opts {
		opt(svc)
	}
	return svc, nil
}

// CreateAndSendNotification applies one consumed event: it creates or merges
// the matching notification, keeps the unread counter in step and pushes the
// result. Counter and push failures are logged and never returned.
func (s *NotificationService) CreateAndSendNotification(ctx context.Context, ev events.Event) (Outcome, error) {
	ctx = ensureContext(ctx)
	if ev == nil {
		return "", errors.New("notification service: nil event")
	}

	header := ev.Header()
	if events.IsSelfAction(ev) {
		metrics.Notifications.WithLabelValues(typeLabel(header.Type), string(OutcomeSelf)).Inc()
		return OutcomeSelf, nil
	}

	typ, err := events.MapType(header.Type)
	if err != nil {
		return "", err
	}

	candidate, err := s.strategy.FindCandidate(ctx, ev, typ)
	if err != nil {
		return "", lookupError(err)
	}
	decision, err := s.strategy.Classify(ctx, candidate, ev, typ)
	if err != nil {
		return "", lookupError(err)
	}

	var outcome Outcome
	switch decision {
	case aggregation.DecisionDropDuplicate:
		outcome = OutcomeDuplicate
	case aggregation.DecisionMerge:
		outcome, err = s.merge(ctx, candidate, ev, typ)
	case aggregation.DecisionCreate:
		outcome, err = s.create(ctx, ev, typ)
	default:
		err = fmt.Errorf("notification service: unhandled decision %s", decision)
	}
	if err != nil {
		return "", err
	}

	metrics.Notifications.WithLabelValues(string(typ), string(outcome)).Inc()
	s.log.Debug("event applied",
		zap.String("type", string(typ)),
		zap.String("recipient_id", header.RecipientID),
		zap.String("actor_id", header.ActorID),
		zap.String("outcome", string(outcome)),
	)
	return outcome, nil
}

func (s *NotificationService) create(ctx context.Context, ev events.Event, typ models.NotificationType) (Outcome, error) {
	header := ev.Header()
	reference, secondary := aggregation.References(ev, typ)

	notification := &models.Notification{
		RecipientID:      header.RecipientID,
		ActorID:          header.ActorID,
		Type:             typ,
		Status:           models.StatusUnread,
		ReferenceID:      reference,
		SecondaryRefID:   secondary,
		PreviewText:      header.PreviewText,
		PreviewImageID:   header.PreviewImageID,
		AggregatedCount:  1,
		UniqueActorCount: 1,
		Actors:           []models.NotificationActor{{ActorID: header.ActorID}},
	}
	if meta := aggregation.Metadata(ev); meta != nil {
		notification.Metadata = datatypes.JSONMap(meta)
	}

	if err := s.store.Create(ctx, notification); err != nil {
		return "", fmt.Errorf("notification service: %w", err)
	}

	s.adjustUnread(ctx, header.RecipientID, 1)
	s.push(header.RecipientID, realtime.NewMessage(realtime.KindNotification, mapNotification(*notification)))
	return OutcomeCreated, nil
}

func (s *NotificationService) merge(ctx context.Context, candidate *models.Notification, ev events.Event, typ models.NotificationType) (Outcome, error) {
	header := ev.Header()
	update := MergeUpdate{
		ActorID:        header.ActorID,
		PreviewText:    header.PreviewText,
		PreviewImageID: header.PreviewImageID,
		SecondaryRefID: aggregation.SecondaryRefID(ev, typ),
		Metadata:       aggregation.Metadata(ev),
		At:             s.now(),
	}

	if _, err := s.store.ApplyMerge(ctx, candidate, update); err != nil {
		if errors.Is(err, errCandidateGone) {
			// Read in the meantime; a read record is never reopened.
			return s.create(ctx, ev, typ)
		}
		return "", fmt.Errorf("notification service: %w", err)
	}

	s.push(header.RecipientID, realtime.NewMessage(realtime.KindNotificationUpdated, mapNotification(*candidate)))
	return OutcomeMerged, nil
}

// GetUnreadCount returns the cached unread count, recomputing it from the store
// and repopulating the cache on a miss.
func (s *NotificationService) GetUnreadCount(ctx context.Context, userID string) (int64, error) {
	ctx = ensureContext(ctx)

	count, ok, err := s.counter.Get(ctx, userID)
	if err != nil {
		s.log.Warn("unread counter read failed", zap.String("user_id", userID), zap.Error(err))
	}
	if err == nil && ok {
		return count, nil
	}

	count, err = s.store.CountUnread(ctx, userID)
	if err != nil {
		return 0, fmt.Errorf("notification service: %w", err)
	}
	if err := s.counter.Set(ctx, userID, count); err != nil {
		s.log.Warn("unread counter populate failed", zap.String("user_id", userID), zap.Error(err))
		return count, nil
	}
	return s.verifyPopulated(ctx, userID, count), nil
}

// verifyPopulated recounts after a cache fill. Increments issued while the key
// was missing are no-ops, so a write that landed between the first count and
// the fill leaves the cache behind the store; such a key is evicted.
func (s *NotificationService) verifyPopulated(ctx context.Context, userID string, populated int64) int64 {
	recount, err := s.store.CountUnread(ctx, userID)
	if err != nil {
		s.log.Warn("unread recount failed", zap.String("user_id", userID), zap.Error(err))
		s.evictUnread(ctx, userID)
		return populated
	}

	cached, ok, err := s.counter.Get(ctx, userID)
	if err != nil || !ok || cached != recount {
		s.log.Debug("unread counter raced a write; evicting",
			zap.String("user_id", userID),
			zap.Int64("populated", populated),
			zap.Int64("store", recount),
		)
		s.evictUnread(ctx, userID)
	}
	return recount
}

// MarkAllAsRead transitions every unread notification of the user to READ.
func (s *NotificationService) MarkAllAsRead(ctx context.Context, userID string) (int64, error) {
	ctx = ensureContext(ctx)

	updated, err := s.store.MarkAllRead(ctx, userID, s.now())
	if err != nil {
		return 0, fmt.Errorf("notification service: %w", err)
	}
	if updated == 0 {
		return 0, nil
	}

	if err := s.counter.Reset(ctx, userID); err != nil {
		s.log.Warn("unread counter reset failed", zap.String("user_id", userID), zap.Error(err))
		s.evictUnread(ctx, userID)
	}
	s.push(userID, realtime.NewMessage(realtime.KindUnreadUpdate, realtime.UnreadUpdate{UnreadCount: 0}))
	return updated, nil
}

// MarkAsRead transitions the given notifications owned by the user and returns
// how many actually changed.
func (s *NotificationService) MarkAsRead(ctx context.Context, userID string, ids []string) (int64, error) {
	ctx = ensureContext(ctx)

	ids = normaliseIDs(ids)
	if len(ids) == 0 {
		return 0, nil
	}

	updated, err := s.store.MarkRead(ctx, userID, ids, s.now())
	if err != nil {
		return 0, fmt.Errorf("notification service: %w", err)
	}
	if updated == 0 {
		return 0, nil
	}

	s.adjustUnread(ctx, userID, -updated)
	s.pushUnreadCount(ctx, userID)
	return updated, nil
}

// Delete removes a notification owned by the user. Records owned by someone
// else are reported as not found.
func (s *NotificationService) Delete(ctx context.Context, userID, id string) error {
	ctx = ensureContext(ctx)

	notification, err := s.store.FindForRecipient(ctx, userID, strings.TrimSpace(id))
	if err != nil {
		return err
	}

	wasUnread := notification.IsUnread()
	if wasUnread {
		s.adjustUnread(ctx, userID, -1)
	}

	if err := s.store.Delete(ctx, notification.ID); err != nil {
		if wasUnread {
			s.evictUnread(ctx, userID)
		}
		return fmt.Errorf("notification service: %w", err)
	}

	if wasUnread {
		s.pushUnreadCount(ctx, userID)
	}
	return nil
}

// ListNotifications returns a page of the user's notifications.
func (s *NotificationService) ListNotifications(ctx context.Context, userID string, page Page) ([]NotificationDTO, int64, error) {
	return s.list(ctx, userID, "", page)
}

// ListUnread returns a page of the user's unread notifications.
func (s *NotificationService) ListUnread(ctx context.Context, userID string, page Page) ([]NotificationDTO, int64, error) {
	return s.list(ctx, userID, models.StatusUnread, page)
}

func (s *NotificationService) list(ctx context.Context, userID string, status models.NotificationStatus, page Page) ([]NotificationDTO, int64, error) {
	rows, total, err := s.store.List(ensureContext(ctx), userID, status, page)
	if err != nil {
		return nil, 0, fmt.Errorf("notification service: %w", err)
	}
	return mapNotificationRows(rows), total, nil
}

// PurgeOlderThan deletes notifications created before cutoff.
func (s *NotificationService) PurgeOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	ctx = ensureContext(ctx)
	deleted, recipients, err := s.store.DeleteOlderThan(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("notification service: %w", err)
	}
	// Unread rows went with the purge; cached counts for these users are stale.
	for _, userID := range recipients {
		s.evictUnread(ctx, userID)
	}
	return deleted, nil
}

// adjustUnread applies delta to a cached count. A failed mutation drops the
// key so the next read recomputes from the store.
func (s *NotificationService) adjustUnread(ctx context.Context, userID string, delta int64) {
	var err error
	if delta >= 0 {
		_, _, err = s.counter.Increment(ctx, userID)
	} else {
		_, _, err = s.counter.Decrement(ctx, userID, -delta)
	}
	if err != nil {
		s.log.Warn("unread counter update failed",
			zap.String("user_id", userID),
			zap.Int64("delta", delta),
			zap.Error(err),
		)
		s.evictUnread(ctx, userID)
	}
}

func (s *NotificationService) evictUnread(ctx context.Context, userID string) {
	if err := s.counter.Evict(ctx, userID); err != nil {
		s.log.Error("unread counter evict failed", zap.String("user_id", userID), zap.Error(err))
	}
}

func (s *NotificationService) pushUnreadCount(ctx context.Context, userID string) {
	count, err := s.store.CountUnread(ctx, userID)
	if err != nil {
		s.log.Warn("unread recount failed", zap.String("user_id", userID), zap.Error(err))
		return
	}
	s.push(userID, realtime.NewMessage(realtime.KindUnreadUpdate, realtime.UnreadUpdate{UnreadCount: count}))
}

func (s *NotificationService) push(userID string, msg realtime.Message) {
	if s.pusher == nil {
		return
	}
	if !s.pusher.SendToUser(userID, msg) {
		s.log.Debug("push not delivered", zap.String("user_id", userID), zap.String("kind", string(msg.Type)))
	}
}

// typeLabel keeps the metric label set closed over the known notification types.
func typeLabel(raw string) string {
	typ, err := events.MapType(raw)
	if err != nil {
		return "unknown"
	}
	return string(typ)
}

func lookupError(err error) error {
	if errors.Is(err, aggregation.ErrVariantMismatch) || errors.Is(err, aggregation.ErrMissingSubject) {
		return err
	}
	return fmt.Errorf("%w: %v", ErrAggregationLookup, err)
}

func mapNotificationRows(rows []models.Notification) []NotificationDTO {
	items := make([]NotificationDTO, 0, len(rows))
	for _, row := range rows {
		items = append(items, mapNotification(row))
	}
	return items
}

func mapNotification(row models.Notification) NotificationDTO {
	var metadata map[string]any
	if len(row.Metadata) > 0 {
		metadata = map[string]any(row.Metadata)
	}
	return NotificationDTO{
		ID:               row.ID,
		RecipientID:      row.RecipientID,
		ActorID:          row.ActorID,
		Type:             string(row.Type),
		Status:           string(row.Status),
		ReferenceID:      row.ReferenceID,
		SecondaryRefID:   row.SecondaryRefID,
		PreviewText:      row.PreviewText,
		PreviewImageID:   row.PreviewImageID,
		AggregatedCount:  row.AggregatedCount,
		UniqueActorCount: row.UniqueActorCount,
		ActorIDs:         row.ActorIDs(),
		Metadata:         metadata,
		IsRead:           row.Status == models.StatusRead,
		CreatedAt:        row.CreatedAt,
		UpdatedAt:        row.UpdatedAt,
		ReadAt:           row.ReadAt,
	}
}
