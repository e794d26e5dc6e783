package aggregation

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/charlesng35/pinnotify/internal/events"
	"github.com/charlesng35/pinnotify/internal/models"
)

type fakeLookup struct {
	calls      []string
	result     *models.Notification
	err        error
	inFollow   bool
	followErr  error
	lastArgs   []string
	followArgs []string
}

func (f *fakeLookup) record(name string, args ...string) (*models.Notification, error) {
	f.calls = append(f.calls, name)
	f.lastArgs = args
	return f.result, f.err
}

func (f *fakeLookup) FindUnreadMessagesNotification(_ context.Context, recipientID, chatID string) (*models.Notification, error) {
	return f.record("messages", recipientID, chatID)
}

func (f *fakeLookup) FindUnreadPinNotification(_ context.Context, recipientID string, typ models.NotificationType, pinID string) (*models.Notification, error) {
	return f.record("pin", recipientID, string(typ), pinID)
}

func (f *fakeLookup) FindUnreadCommentLikeNotification(_ context.Context, recipientID, commentID string) (*models.Notification, error) {
	return f.record("comment_like", recipientID, commentID)
}

func (f *fakeLookup) FindUnreadRepliesNotification(_ context.Context, recipientID, parentCommentID string) (*models.Notification, error) {
	return f.record("replies", recipientID, parentCommentID)
}

func (f *fakeLookup) FindUnreadFollowsNotification(_ context.Context, recipientID string) (*models.Notification, error) {
	return f.record("follows", recipientID)
}

func (f *fakeLookup) IsActorAlreadyInFollowNotification(_ context.Context, recipientID, actorID string) (bool, error) {
	f.followArgs = []string{recipientID, actorID}
	return f.inFollow, f.followErr
}

func newStrategy(t *testing.T, lookup *fakeLookup) *Strategy {
	t.Helper()
	s, err := NewStrategy(lookup)
	require.NoError(t, err)
	return s
}

func env(typ, actor, recipient string) events.Envelope {
	return events.Envelope{Type: typ, ActorID: actor, RecipientID: recipient}
}

func TestNewStrategyRequiresLookup(t *testing.T) {
	_, err := NewStrategy(nil)
	require.Error(t, err)
}

func TestFindCandidateRoutesByType(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name string
		ev   events.Event
		typ  models.NotificationType
		call string
		args []string
	}{
		{
			name: "chat",
			ev:   events.ChatEvent{Envelope: env("NEW_MESSAGE", "a", "b"), ChatID: "c1", MessageID: "m1"},
			typ:  models.NotificationNewMessage,
			call: "messages",
			args: []string{"b", "c1"},
		},
		{
			name: "pin liked",
			ev:   events.ContentEvent{Envelope: env("PIN_LIKED", "a", "b"), PinID: "p1"},
			typ:  models.NotificationPinLiked,
			call: "pin",
			args: []string{"b", "PIN_LIKED", "p1"},
		},
		{
			name: "pin saved via reference id",
			ev:   events.ContentEvent{Envelope: events.Envelope{Type: "PIN_SAVED", ActorID: "a", RecipientID: "b", ReferenceID: "p2"}},
			typ:  models.NotificationPinSaved,
			call: "pin",
			args: []string{"b", "PIN_SAVED", "p2"},
		},
		{
			name: "comment liked",
			ev:   events.ContentEvent{Envelope: env("COMMENT_LIKED", "a", "b"), PinID: "p1", CommentID: "c9"},
			typ:  models.NotificationCommentLiked,
			call: "comment_like",
			args: []string{"b", "c9"},
		},
		{
			name: "comment replied",
			ev:   events.ContentEvent{Envelope: env("COMMENT_REPLIED", "a", "b"), PinID: "p1", CommentID: "c2", SecondaryRefID: "c1"},
			typ:  models.NotificationCommentReplied,
			call: "replies",
			args: []string{"b", "c1"},
		},
		{
			name: "follow",
			ev:   events.UserEvent{Envelope: env("USER_FOLLOWED", "a", "b")},
			typ:  models.NotificationUserFollowed,
			call: "follows",
			args: []string{"b"},
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			lookup := &fakeLookup{}
			_, err := newStrategy(t, lookup).FindCandidate(ctx, tc.ev, tc.typ)
			require.NoError(t, err)
			require.Equal(t, []string{tc.call}, lookup.calls)
			require.Equal(t, tc.args, lookup.lastArgs)
		})
	}
}

func TestFindCandidateRejectsMismatchedVariant(t *testing.T) {
	lookup := &fakeLookup{}
	s := newStrategy(t, lookup)

	_, err := s.FindCandidate(context.Background(), events.UserEvent{Envelope: env("PIN_LIKED", "a", "b")}, models.NotificationPinLiked)
	require.ErrorIs(t, err, ErrVariantMismatch)

	_, err = s.FindCandidate(context.Background(), events.ContentEvent{Envelope: env("NEW_MESSAGE", "a", "b")}, models.NotificationNewMessage)
	require.ErrorIs(t, err, ErrVariantMismatch)
	require.Empty(t, lookup.calls)
}

func TestFindCandidatePropagatesLookupErrors(t *testing.T) {
	boom := errors.New("db down")
	s := newStrategy(t, &fakeLookup{err: boom})
	_, err := s.FindCandidate(context.Background(), events.UserEvent{Envelope: env("USER_FOLLOWED", "a", "b")}, models.NotificationUserFollowed)
	require.ErrorIs(t, err, boom)
}

func withActors(n *models.Notification, actors ...string) *models.Notification {
	for _, actor := range actors {
		n.Actors = append(n.Actors, models.NotificationActor{ActorID: actor})
	}
	return n
}

func TestClassify(t *testing.T) {
	ctx := context.Background()
	like := events.ContentEvent{Envelope: env("PIN_LIKED", "a", "b"), PinID: "p1"}
	comment := events.ContentEvent{Envelope: env("PIN_COMMENTED", "a", "b"), PinID: "p1", CommentID: "c1"}

	s := newStrategy(t, &fakeLookup{})

	decision, err := s.Classify(ctx, nil, like, models.NotificationPinLiked)
	require.NoError(t, err)
	require.Equal(t, DecisionCreate, decision)

	existing := withActors(&models.Notification{RecipientID: "b"}, "a")
	decision, err = s.Classify(ctx, existing, like, models.NotificationPinLiked)
	require.NoError(t, err)
	require.Equal(t, DecisionDropDuplicate, decision)

	decision, err = s.Classify(ctx, existing, comment, models.NotificationPinCommented)
	require.NoError(t, err)
	require.Equal(t, DecisionMerge, decision, "comments from the same actor keep aggregating")

	other := withActors(&models.Notification{RecipientID: "b"}, "z")
	decision, err = s.Classify(ctx, other, like, models.NotificationPinLiked)
	require.NoError(t, err)
	require.Equal(t, DecisionMerge, decision)
}

func TestClassifyFollowChecksStore(t *testing.T) {
	ctx := context.Background()
	follow := events.UserEvent{Envelope: env("USER_FOLLOWED", "f", "u")}
	stale := withActors(&models.Notification{RecipientID: "u"}, "g")

	lookup := &fakeLookup{inFollow: true}
	decision, err := newStrategy(t, lookup).Classify(ctx, stale, follow, models.NotificationUserFollowed)
	require.NoError(t, err)
	require.Equal(t, DecisionDropDuplicate, decision)
	require.Equal(t, []string{"u", "f"}, lookup.followArgs)

	lookup = &fakeLookup{}
	decision, err = newStrategy(t, lookup).Classify(ctx, stale, follow, models.NotificationUserFollowed)
	require.NoError(t, err)
	require.Equal(t, DecisionMerge, decision)

	boom := errors.New("timeout")
	_, err = newStrategy(t, &fakeLookup{followErr: boom}).Classify(ctx, stale, follow, models.NotificationUserFollowed)
	require.ErrorIs(t, err, boom)
}

func TestFindCandidateRequiresSubject(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name string
		ev   events.ContentEvent
		typ  models.NotificationType
	}{
		{"pin liked", events.ContentEvent{Envelope: env("PIN_LIKED", "a", "b"), CommentID: "c1"}, models.NotificationPinLiked},
		{"pin saved", events.ContentEvent{Envelope: env("PIN_SAVED", "a", "b"), BoardID: "b1"}, models.NotificationPinSaved},
		{"pin commented", events.ContentEvent{Envelope: env("PIN_COMMENTED", "a", "b"), CommentID: "c1"}, models.NotificationPinCommented},
		{"comment liked", events.ContentEvent{Envelope: env("COMMENT_LIKED", "a", "b"), PinID: "p1"}, models.NotificationCommentLiked},
		{"comment replied", events.ContentEvent{Envelope: env("COMMENT_REPLIED", "a", "b"), PinID: "p1", CommentID: "c2"}, models.NotificationCommentReplied},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			lookup := &fakeLookup{}
			_, err := newStrategy(t, lookup).FindCandidate(ctx, tc.ev, tc.typ)
			require.ErrorIs(t, err, ErrMissingSubject)
			require.Empty(t, lookup.calls)
		})
	}
}

func TestReferences(t *testing.T) {
	tests := []struct {
		name      string
		ev        events.Event
		typ       models.NotificationType
		reference string
		secondary string
	}{
		{"message", events.ChatEvent{ChatID: "c1", MessageID: "m1"}, models.NotificationNewMessage, "c1", "m1"},
		{"pin liked", events.ContentEvent{PinID: "p1"}, models.NotificationPinLiked, "p1", ""},
		{"pin commented", events.ContentEvent{PinID: "p1", CommentID: "c3"}, models.NotificationPinCommented, "p1", "c3"},
		{"comment liked", events.ContentEvent{PinID: "p1", CommentID: "c3"}, models.NotificationCommentLiked, "c3", "p1"},
		{"comment replied", events.ContentEvent{PinID: "p1", CommentID: "c4", SecondaryRefID: "c3"}, models.NotificationCommentReplied, "p1", "c3"},
		{"followed", events.UserEvent{}, models.NotificationUserFollowed, "", ""},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			reference, secondary := References(tc.ev, tc.typ)
			require.Equal(t, tc.reference, reference)
			require.Equal(t, tc.secondary, secondary)
		})
	}
}

func TestMetadata(t *testing.T) {
	meta := Metadata(events.ContentEvent{PinID: "p1", CommentID: "c1", BoardID: "b1"})
	require.Equal(t, map[string]any{"pinId": "p1", "commentId": "c1", "boardId": "b1"}, meta)

	require.Nil(t, Metadata(events.UserEvent{}))
}

func TestDecisionString(t *testing.T) {
	require.Equal(t, "create", DecisionCreate.String())
	require.Equal(t, "merge", DecisionMerge.String())
	require.Equal(t, "drop_duplicate", DecisionDropDuplicate.String())
}
