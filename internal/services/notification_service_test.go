package services

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	promtest "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/charlesng35/pinnotify/internal/aggregation"
	"github.com/charlesng35/pinnotify/internal/cache"
	"github.com/charlesng35/pinnotify/internal/database/testutil"
	"github.com/charlesng35/pinnotify/internal/events"
	"github.com/charlesng35/pinnotify/internal/models"
	"github.com/charlesng35/pinnotify/internal/realtime"
	"github.com/charlesng35/pinnotify/pkg/metrics"
	apperrors "github.com/charlesng35/pinnotify/pkg/errors"
)

type recordingPusher struct {
	mu        sync.Mutex
	messages  map[string][]realtime.Message
	connected map[string]bool
}

func newRecordingPusher(connected ...string) *recordingPusher {
	p := &recordingPusher{messages: map[string][]realtime.Message{}, connected: map[string]bool{}}
	for _, user := range connected {
		p.connected[user] = true
	}
	return p
}

func (p *recordingPusher) SendToUser(userID string, msg realtime.Message) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.connected[userID] {
		return false
	}
	p.messages[userID] = append(p.messages[userID], msg)
	return true
}

func (p *recordingPusher) kinds(userID string) []realtime.Kind {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []realtime.Kind
	for _, msg := range p.messages[userID] {
		out = append(out, msg.Type)
	}
	return out
}

func (p *recordingPusher) last(userID string) realtime.Message {
	p.mu.Lock()
	defer p.mu.Unlock()
	msgs := p.messages[userID]
	return msgs[len(msgs)-1]
}

type serviceFixture struct {
	db      *gorm.DB
	svc     *NotificationService
	store   *NotificationStore
	counter *cache.UnreadCounter
	pusher  *recordingPusher
}

func newServiceFixture(t *testing.T, connected ...string) serviceFixture {
	t.Helper()

	db := testutil.MustOpenTestDB(t, testutil.WithAutoMigrate())
	store, err := NewNotificationStore(db)
	require.NoError(t, err)
	counter, err := cache.NewUnreadCounter(cache.NewDatabaseStore(db), time.Hour)
	require.NoError(t, err)

	pusher := newRecordingPusher(connected...)
	svc, err := NewNotificationService(store, counter, WithPusher(pusher), WithServiceLogger(zap.NewNop()))
	require.NoError(t, err)

	return serviceFixture{db: db, svc: svc, store: store, counter: counter, pusher: pusher}
}

func pinLiked(actor, recipient, pin string) events.ContentEvent {
	return events.ContentEvent{
		Envelope: events.Envelope{Type: "PIN_LIKED", ActorID: actor, RecipientID: recipient, ReferenceID: pin, PreviewText: actor + " liked your pin"},
		PinID:    pin,
	}
}

func followed(actor, recipient string) events.UserEvent {
	return events.UserEvent{Envelope: events.Envelope{Type: "USER_FOLLOWED", ActorID: actor, RecipientID: recipient}}
}

func (f serviceFixture) notifications(t *testing.T, recipient string) []models.Notification {
	t.Helper()
	var rows []models.Notification
	require.NoError(t, f.db.Preload("Actors").Where("recipient_id = ?", recipient).Order("created_at ASC").Find(&rows).Error)
	return rows
}

func (f serviceFixture) storeUnread(t *testing.T, recipient string) int64 {
	t.Helper()
	count, err := f.store.CountUnread(context.Background(), recipient)
	require.NoError(t, err)
	return count
}

func TestIdempotentSingleAction(t *testing.T) {
	f := newServiceFixture(t, "B")
	ctx := context.Background()

	outcome, err := f.svc.CreateAndSendNotification(ctx, pinLiked("A", "B", "P1"))
	require.NoError(t, err)
	require.Equal(t, OutcomeCreated, outcome)

	outcome, err = f.svc.CreateAndSendNotification(ctx, pinLiked("A", "B", "P1"))
	require.NoError(t, err)
	require.Equal(t, OutcomeDuplicate, outcome)

	rows := f.notifications(t, "B")
	require.Len(t, rows, 1)
	require.Equal(t, 1, rows[0].AggregatedCount)
	require.Equal(t, []realtime.Kind{realtime.KindNotification}, f.pusher.kinds("B"), "duplicates are not re-pushed")
}

func TestMultiActorAggregation(t *testing.T) {
	f := newServiceFixture(t, "B")
	ctx := context.Background()

	_, err := f.svc.CreateAndSendNotification(ctx, pinLiked("A", "B", "P1"))
	require.NoError(t, err)
	outcome, err := f.svc.CreateAndSendNotification(ctx, pinLiked("C", "B", "P1"))
	require.NoError(t, err)
	require.Equal(t, OutcomeMerged, outcome)

	rows := f.notifications(t, "B")
	require.Len(t, rows, 1)
	require.Equal(t, 2, rows[0].AggregatedCount)
	require.Equal(t, 2, rows[0].UniqueActorCount)
	require.ElementsMatch(t, []string{"A", "C"}, rows[0].ActorIDs())
	require.Equal(t, "C", rows[0].ActorID)
	require.Equal(t, "C liked your pin", rows[0].PreviewText)

	require.Equal(t, []realtime.Kind{realtime.KindNotification, realtime.KindNotificationUpdated}, f.pusher.kinds("B"))
	updated, ok := f.pusher.last("B").Data.(NotificationDTO)
	require.True(t, ok)
	require.Equal(t, 2, updated.AggregatedCount)
	require.ElementsMatch(t, []string{"A", "C"}, updated.ActorIDs)
}

func TestReadResetsAggregationKey(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()

	_, err := f.svc.CreateAndSendNotification(ctx, pinLiked("A", "B", "P1"))
	require.NoError(t, err)
	first := f.notifications(t, "B")[0]

	updated, err := f.svc.MarkAllAsRead(ctx, "B")
	require.NoError(t, err)
	require.EqualValues(t, 1, updated)

	outcome, err := f.svc.CreateAndSendNotification(ctx, pinLiked("A", "B", "P1"))
	require.NoError(t, err)
	require.Equal(t, OutcomeCreated, outcome)

	rows := f.notifications(t, "B")
	require.Len(t, rows, 2)
	require.NotEqual(t, first.ID, rows[1].ID)
	require.Equal(t, models.StatusRead, rows[0].Status)
	require.NotNil(t, rows[0].ReadAt)
	require.Equal(t, models.StatusUnread, rows[1].Status)
}

func TestSelfNotificationSuppressed(t *testing.T) {
	f := newServiceFixture(t, "A")
	ctx := context.Background()
	require.NoError(t, f.counter.Set(ctx, "A", 0))

	for _, ev := range []events.Event{
		pinLiked("A", "A", "P1"),
		followed("A", "A"),
		events.ChatEvent{Envelope: events.Envelope{Type: "NEW_MESSAGE", ActorID: "A", RecipientID: "A"}, ChatID: "c1"},
	} {
		outcome, err := f.svc.CreateAndSendNotification(ctx, ev)
		require.NoError(t, err)
		require.Equal(t, OutcomeSelf, outcome)
	}

	require.Empty(t, f.notifications(t, "A"))
	require.Empty(t, f.pusher.kinds("A"))
	count, ok, err := f.counter.Get(ctx, "A")
	require.NoError(t, err)
	require.True(t, ok)
	require.Zero(t, count)
}

func TestCounterStoreConsistency(t *testing.T) {
	f := newServiceFixture(t, "B")
	ctx := context.Background()

	assertConsistent := func() {
		t.Helper()
		got, err := f.svc.GetUnreadCount(ctx, "B")
		require.NoError(t, err)
		require.Equal(t, f.storeUnread(t, "B"), got)
	}

	assertConsistent()

	_, err := f.svc.CreateAndSendNotification(ctx, pinLiked("A", "B", "P1"))
	require.NoError(t, err)
	assertConsistent()

	_, err = f.svc.CreateAndSendNotification(ctx, pinLiked("C", "B", "P1"))
	require.NoError(t, err)
	_, err = f.svc.CreateAndSendNotification(ctx, pinLiked("A", "B", "P2"))
	require.NoError(t, err)
	_, err = f.svc.CreateAndSendNotification(ctx, followed("F", "B"))
	require.NoError(t, err)
	assertConsistent()
	require.EqualValues(t, 3, f.storeUnread(t, "B"))

	require.NoError(t, f.counter.Evict(ctx, "B"))
	assertConsistent()

	rows := f.notifications(t, "B")
	updated, err := f.svc.MarkAsRead(ctx, "B", []string{rows[0].ID, rows[0].ID, " "})
	require.NoError(t, err)
	require.EqualValues(t, 1, updated)
	assertConsistent()

	last := f.pusher.last("B")
	require.Equal(t, realtime.KindUnreadUpdate, last.Type)
	require.Equal(t, realtime.UnreadUpdate{UnreadCount: 2}, last.Data)

	require.NoError(t, f.svc.Delete(ctx, "B", rows[1].ID))
	assertConsistent()

	require.NoError(t, f.counter.Evict(ctx, "B"))
	require.NoError(t, f.svc.Delete(ctx, "B", rows[0].ID), "deleting a read record leaves the count alone")
	assertConsistent()

	_, err = f.svc.MarkAllAsRead(ctx, "B")
	require.NoError(t, err)
	assertConsistent()
	require.Zero(t, f.storeUnread(t, "B"))
}

// writeBeforeSetStore runs a hook once before the first Set, standing in for a
// consumer write that lands between the recount and the cache fill.
type writeBeforeSetStore struct {
	cache.CounterStore
	once   sync.Once
	before func()
}

func (s *writeBeforeSetStore) Set(ctx context.Context, key string, value int64, ttl time.Duration) error {
	s.once.Do(s.before)
	return s.CounterStore.Set(ctx, key, value, ttl)
}

func TestUnreadCountFillRacingCreate(t *testing.T) {
	ctx := context.Background()
	db := testutil.MustOpenTestDB(t, testutil.WithAutoMigrate())
	store, err := NewNotificationStore(db)
	require.NoError(t, err)

	racing := &writeBeforeSetStore{CounterStore: cache.NewDatabaseStore(db)}
	counter, err := cache.NewUnreadCounter(racing, time.Hour)
	require.NoError(t, err)
	svc, err := NewNotificationService(store, counter, WithServiceLogger(zap.NewNop()))
	require.NoError(t, err)

	racing.before = func() {
		_, err := svc.CreateAndSendNotification(ctx, pinLiked("A", "B", "P1"))
		require.NoError(t, err)
	}

	first, err := svc.GetUnreadCount(ctx, "B")
	require.NoError(t, err)
	require.EqualValues(t, 1, first)

	_, ok, err := counter.Get(ctx, "B")
	require.NoError(t, err)
	require.False(t, ok, "a fill that raced a write must not stay cached")

	second, err := svc.GetUnreadCount(ctx, "B")
	require.NoError(t, err)
	require.EqualValues(t, 1, second)

	cached, ok, err := counter.Get(ctx, "B")
	require.NoError(t, err)
	require.True(t, ok)
	require.EqualValues(t, 1, cached)
}

func TestMarkAsReadIgnoresOtherUsersIDs(t *testing.T) {
	f := newServiceFixture(t, "B", "C")
	ctx := context.Background()

	_, err := f.svc.CreateAndSendNotification(ctx, pinLiked("A", "B", "P1"))
	require.NoError(t, err)
	_, err = f.svc.CreateAndSendNotification(ctx, pinLiked("A", "C", "P2"))
	require.NoError(t, err)

	for _, user := range []string{"B", "C"} {
		count, err := f.svc.GetUnreadCount(ctx, user)
		require.NoError(t, err)
		require.EqualValues(t, 1, count)
	}
	pushedToC := len(f.pusher.kinds("C"))

	row := f.notifications(t, "B")[0]
	updated, err := f.svc.MarkAsRead(ctx, "C", []string{row.ID})
	require.NoError(t, err)
	require.Zero(t, updated)

	require.Equal(t, models.StatusUnread, f.notifications(t, "B")[0].Status)
	for _, user := range []string{"B", "C"} {
		cached, ok, err := f.counter.Get(ctx, user)
		require.NoError(t, err)
		require.True(t, ok)
		require.EqualValues(t, 1, cached, user)
	}
	require.Len(t, f.pusher.kinds("C"), pushedToC, "no unread_update for a no-op read")
}

func TestFollowDedup(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()

	_, err := f.svc.CreateAndSendNotification(ctx, followed("F", "U"))
	require.NoError(t, err)
	outcome, err := f.svc.CreateAndSendNotification(ctx, followed("F", "U"))
	require.NoError(t, err)
	require.Equal(t, OutcomeDuplicate, outcome)

	rows := f.notifications(t, "U")
	require.Len(t, rows, 1)
	require.Equal(t, []string{"F"}, rows[0].ActorIDs())
	require.Equal(t, 1, rows[0].AggregatedCount)
	require.Empty(t, rows[0].ReferenceID)

	outcome, err = f.svc.CreateAndSendNotification(ctx, followed("G", "U"))
	require.NoError(t, err)
	require.Equal(t, OutcomeMerged, outcome)

	rows = f.notifications(t, "U")
	require.Len(t, rows, 1)
	require.Equal(t, 2, rows[0].UniqueActorCount)
	require.Equal(t, 2, rows[0].AggregatedCount)
	require.ElementsMatch(t, []string{"F", "G"}, rows[0].ActorIDs())
}

func TestFollowDedupUsesStoreMembership(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()

	_, err := f.svc.CreateAndSendNotification(ctx, followed("F", "U"))
	require.NoError(t, err)

	stale, err := f.store.FindUnreadFollowsNotification(ctx, "U")
	require.NoError(t, err)
	stale.Actors = nil

	decision, err := f.svc.strategy.Classify(ctx, stale, followed("F", "U"), models.NotificationUserFollowed)
	require.NoError(t, err)
	require.Equal(t, "drop_duplicate", decision.String())
}

func TestPushBestEffortScenario(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()
	require.NoError(t, f.counter.Set(ctx, "B", 4))

	ev := events.ContentEvent{Envelope: events.Envelope{Type: "PIN_LIKED", ActorID: "A", RecipientID: "B", ReferenceID: "P1"}}
	outcome, err := f.svc.CreateAndSendNotification(ctx, ev)
	require.NoError(t, err)
	require.Equal(t, OutcomeCreated, outcome)

	rows := f.notifications(t, "B")
	require.Len(t, rows, 1)
	require.Equal(t, "B", rows[0].RecipientID)
	require.Equal(t, "A", rows[0].ActorID)
	require.Equal(t, models.NotificationPinLiked, rows[0].Type)
	require.Equal(t, "P1", rows[0].ReferenceID)
	require.Equal(t, 1, rows[0].AggregatedCount)
	require.Equal(t, models.StatusUnread, rows[0].Status)

	count, ok, err := f.counter.Get(ctx, "B")
	require.NoError(t, err)
	require.True(t, ok)
	require.EqualValues(t, 5, count)
	require.Empty(t, f.pusher.kinds("B"))
}

func TestSelfActionMetricUsesKnownTypeLabels(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()

	unknown := metrics.Notifications.WithLabelValues("unknown", string(OutcomeSelf))
	followSelf := metrics.Notifications.WithLabelValues(string(models.NotificationUserFollowed), string(OutcomeSelf))
	unknownBefore := promtest.ToFloat64(unknown)
	followBefore := promtest.ToFloat64(followSelf)

	for _, raw := range []string{"x-1", "x-2", "USER_FOLLOWED"} {
		outcome, err := f.svc.CreateAndSendNotification(ctx, events.UserEvent{Envelope: events.Envelope{Type: raw, ActorID: "A", RecipientID: "A"}})
		require.NoError(t, err)
		require.Equal(t, OutcomeSelf, outcome)
	}

	require.Equal(t, unknownBefore+2, promtest.ToFloat64(unknown))
	require.Equal(t, followBefore+1, promtest.ToFloat64(followSelf))
}

func TestUnknownEventTypeIsRejected(t *testing.T) {
	f := newServiceFixture(t)
	_, err := f.svc.CreateAndSendNotification(context.Background(), events.UserEvent{
		Envelope: events.Envelope{Type: "USER_BLOCKED", ActorID: "A", RecipientID: "B"},
	})
	require.ErrorIs(t, err, events.ErrUnknownEventType)
	require.Empty(t, f.notifications(t, "B"))
}

func TestLookupFailureIsWrapped(t *testing.T) {
	f := newServiceFixture(t)
	sqlDB, err := f.db.DB()
	require.NoError(t, err)
	require.NoError(t, sqlDB.Close())

	_, err = f.svc.CreateAndSendNotification(context.Background(), pinLiked("A", "B", "P1"))
	require.ErrorIs(t, err, ErrAggregationLookup)
}

func TestCommentAggregation(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()

	reply := func(actor, comment string) events.ContentEvent {
		return events.ContentEvent{
			Envelope:       events.Envelope{Type: "COMMENT_REPLIED", ActorID: actor, RecipientID: "B"},
			PinID:          "P1",
			CommentID:      comment,
			SecondaryRefID: "parent",
		}
	}

	_, err := f.svc.CreateAndSendNotification(ctx, reply("A", "c1"))
	require.NoError(t, err)
	outcome, err := f.svc.CreateAndSendNotification(ctx, reply("A", "c2"))
	require.NoError(t, err)
	require.Equal(t, OutcomeMerged, outcome, "replies from the same actor keep aggregating")

	rows := f.notifications(t, "B")
	require.Len(t, rows, 1)
	require.Equal(t, "P1", rows[0].ReferenceID)
	require.Equal(t, "parent", rows[0].SecondaryRefID)
	require.Equal(t, 2, rows[0].AggregatedCount)
	require.Equal(t, 1, rows[0].UniqueActorCount)

	like := events.ContentEvent{
		Envelope:  events.Envelope{Type: "COMMENT_LIKED", ActorID: "A", RecipientID: "B"},
		PinID:     "P1",
		CommentID: "c9",
	}
	_, err = f.svc.CreateAndSendNotification(ctx, like)
	require.NoError(t, err)

	var liked models.Notification
	require.NoError(t, f.db.Where("type = ?", models.NotificationCommentLiked).Take(&liked).Error)
	require.Equal(t, "c9", liked.ReferenceID)
	require.Equal(t, "P1", liked.SecondaryRefID)
	require.Equal(t, "P1", liked.Metadata["pinId"])
}

func TestEventsWithoutSubjectAreRejected(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()

	for _, pin := range []string{"P1", "P2"} {
		_, err := f.svc.CreateAndSendNotification(ctx, events.ContentEvent{
			Envelope: events.Envelope{Type: "COMMENT_REPLIED", ActorID: "A", RecipientID: "B"},
			PinID:    pin,
		})
		require.ErrorIs(t, err, aggregation.ErrMissingSubject)
		require.NotErrorIs(t, err, ErrAggregationLookup)
	}

	_, err := f.svc.CreateAndSendNotification(ctx, events.ContentEvent{
		Envelope: events.Envelope{Type: "PIN_LIKED", ActorID: "A", RecipientID: "B"},
	})
	require.ErrorIs(t, err, aggregation.ErrMissingSubject)

	require.Empty(t, f.notifications(t, "B"))
}

func TestChatMessagesAggregatePerChat(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()

	msg := func(chat, id string) events.ChatEvent {
		return events.ChatEvent{
			Envelope:  events.Envelope{Type: "NEW_MESSAGE", ActorID: "A", RecipientID: "B", PreviewText: "msg " + id},
			ChatID:    chat,
			MessageID: id,
		}
	}

	for _, ev := range []events.ChatEvent{msg("c1", "m1"), msg("c1", "m2"), msg("c2", "m3")} {
		_, err := f.svc.CreateAndSendNotification(ctx, ev)
		require.NoError(t, err)
	}

	rows := f.notifications(t, "B")
	require.Len(t, rows, 2)
	require.Equal(t, "c1", rows[0].ReferenceID)
	require.Equal(t, "m2", rows[0].SecondaryRefID)
	require.Equal(t, "msg m2", rows[0].PreviewText)
	require.Equal(t, 2, rows[0].AggregatedCount)
}

func TestMergeAfterConcurrentReadCreatesNewRecord(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()

	_, err := f.svc.CreateAndSendNotification(ctx, pinLiked("A", "B", "P1"))
	require.NoError(t, err)
	candidate, err := f.store.FindUnreadPinNotification(ctx, "B", models.NotificationPinLiked, "P1")
	require.NoError(t, err)

	_, err = f.store.MarkAllRead(ctx, "B", time.Now())
	require.NoError(t, err)

	outcome, err := f.svc.merge(ctx, candidate, pinLiked("C", "B", "P1"), models.NotificationPinLiked)
	require.NoError(t, err)
	require.Equal(t, OutcomeCreated, outcome)
	require.Len(t, f.notifications(t, "B"), 2)
}

func TestDeleteNotOwned(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()

	_, err := f.svc.CreateAndSendNotification(ctx, pinLiked("A", "B", "P1"))
	require.NoError(t, err)
	row := f.notifications(t, "B")[0]

	err = f.svc.Delete(ctx, "intruder", row.ID)
	require.Error(t, err)
	require.True(t, apperrors.IsNotFound(err))

	err = f.svc.Delete(ctx, "B", "missing")
	require.True(t, errors.Is(err, apperrors.ErrNotificationNotFound))

	require.NoError(t, f.svc.Delete(ctx, "B", row.ID))
	require.Empty(t, f.notifications(t, "B"))

	var actors int64
	require.NoError(t, f.db.Model(&models.NotificationActor{}).Count(&actors).Error)
	require.Zero(t, actors)
}

func TestMarkAllAsReadPushesZero(t *testing.T) {
	f := newServiceFixture(t, "B")
	ctx := context.Background()

	updated, err := f.svc.MarkAllAsRead(ctx, "B")
	require.NoError(t, err)
	require.Zero(t, updated)
	require.Empty(t, f.pusher.kinds("B"), "nothing to read, nothing pushed")

	_, err = f.svc.CreateAndSendNotification(ctx, pinLiked("A", "B", "P1"))
	require.NoError(t, err)
	_, err = f.svc.MarkAllAsRead(ctx, "B")
	require.NoError(t, err)

	last := f.pusher.last("B")
	require.Equal(t, realtime.KindUnreadUpdate, last.Type)
	require.Equal(t, realtime.UnreadUpdate{UnreadCount: 0}, last.Data)
}

func TestListNotificationsPaging(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()

	for _, pin := range []string{"P1", "P2", "P3"} {
		_, err := f.svc.CreateAndSendNotification(ctx, pinLiked("A", "B", pin))
		require.NoError(t, err)
	}
	rows := f.notifications(t, "B")
	_, err := f.svc.MarkAsRead(ctx, "B", []string{rows[0].ID})
	require.NoError(t, err)

	items, total, err := f.svc.ListNotifications(ctx, "B", Page{Number: 0, Size: 2})
	require.NoError(t, err)
	require.EqualValues(t, 3, total)
	require.Len(t, items, 2)
	require.Equal(t, []string{"A"}, items[0].ActorIDs)

	items, total, err = f.svc.ListNotifications(ctx, "B", Page{Number: 1, Size: 2})
	require.NoError(t, err)
	require.EqualValues(t, 3, total)
	require.Len(t, items, 1)

	unread, total, err := f.svc.ListUnread(ctx, "B", Page{})
	require.NoError(t, err)
	require.EqualValues(t, 2, total)
	for _, item := range unread {
		require.False(t, item.IsRead)
	}
}

func TestPurgeOlderThan(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()

	_, err := f.svc.CreateAndSendNotification(ctx, pinLiked("A", "B", "P1"))
	require.NoError(t, err)
	_, err = f.svc.CreateAndSendNotification(ctx, pinLiked("A", "B", "P2"))
	require.NoError(t, err)

	old := time.Now().Add(-40 * 24 * time.Hour)
	require.NoError(t, f.db.Model(&models.Notification{}).Where("reference_id = ?", "P1").Update("created_at", old).Error)

	deleted, err := f.svc.PurgeOlderThan(ctx, time.Now().Add(-30*24*time.Hour))
	require.NoError(t, err)
	require.EqualValues(t, 1, deleted)

	rows := f.notifications(t, "B")
	require.Len(t, rows, 1)
	require.Equal(t, "P2", rows[0].ReferenceID)

	count, err := f.svc.GetUnreadCount(ctx, "B")
	require.NoError(t, err)
	require.EqualValues(t, 1, count)
}

func TestNewNotificationServiceValidation(t *testing.T) {
	_, err := NewNotificationService(nil, nil)
	require.Error(t, err)

	db := testutil.MustOpenTestDB(t)
	store, err := NewNotificationStore(db)
	require.NoError(t, err)
	_, err = NewNotificationService(store, nil)
	require.Error(t, err)

	_, err = NewNotificationStore(nil)
	require.Error(t, err)
}
