package models

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBaseModelBeforeCreateGeneratesID(t *testing.T) {
	var base BaseModel
	require.NoError(t, base.BeforeCreate(nil))
	require.NotEmpty(t, base.ID)

	keep := BaseModel{ID: "fixed"}
	require.NoError(t, keep.BeforeCreate(nil))
	require.Equal(t, "fixed", keep.ID)
}

func TestSingleActionTypes(t *testing.T) {
	single := map[NotificationType]bool{
		NotificationPinLiked:     true,
		NotificationPinSaved:     true,
		NotificationCommentLiked: true,
		NotificationUserFollowed: true,
	}
	for _, typ := range NotificationTypes {
		require.Equal(t, single[typ], typ.IsSingleAction(), typ)
	}
}

func TestNotificationActorHelpers(t *testing.T) {
	n := Notification{
		Status: StatusUnread,
		Actors: []NotificationActor{{ActorID: "a"}, {ActorID: "b"}},
	}

	require.True(t, n.IsUnread())
	require.True(t, n.HasActor("a"))
	require.False(t, n.HasActor("c"))
	require.Equal(t, []string{"a", "b"}, n.ActorIDs())

	n.Status = StatusRead
	require.False(t, n.IsUnread())
}
