package notifications_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/notifykit/pkg/notifications"
)

func newStored(id, userID string, created time.Time, channels ...notifications.Channel) notifications.Notification {
	return notifications.Notification{
		ID:        id,
		UserID:    userID,
		Type:      notifications.TypeGeneric,
		Title:     "t",
		Message:   "m",
		Priority:  notifications.PriorityNormal,
		Channels:  channels,
		CreatedAt: created,
	}
}

func TestMemoryStorage_Notifications(t *testing.T) {
	ctx := context.Background()
	s := notifications.NewMemoryStorage()

	n1 := newStored("n1", "u1", fixedNow.Add(-2*time.Hour), notifications.ChannelInApp, notifications.ChannelEmail)
	n2 := newStored("n2", "u1", fixedNow.Add(-time.Hour), notifications.ChannelInApp)
	n3 := newStored("n3", "u2", fixedNow, notifications.ChannelInApp)
	for _, n := range []notifications.Notification{n1, n2, n3} {
		require.NoError(t, s.Create(ctx, n))
	}
	assert.Error(t, s.Create(ctx, n1), "duplicate id")

	t.Run("caller slices are not aliased", func(t *testing.T) {
		n1.Channels[0] = notifications.ChannelSMS
		got, err := s.Get(ctx, "n1")
		require.NoError(t, err)
		assert.Equal(t, notifications.ChannelInApp, got.Channels[0])
	})

	t.Run("list newest first", func(t *testing.T) {
		list, err := s.List(ctx, "u1", notifications.ListOptions{})
		require.NoError(t, err)
		require.Len(t, list, 2)
		assert.Equal(t, "n2", list[0].ID)

		page, err := s.List(ctx, "u1", notifications.ListOptions{Limit: 1, Offset: 1})
		require.NoError(t, err)
		require.Len(t, page, 1)
		assert.Equal(t, "n1", page[0].ID)
	})

	t.Run("mark delivered keeps subset", func(t *testing.T) {
		require.NoError(t, s.MarkDelivered(ctx, "n1", []notifications.Channel{notifications.ChannelEmail, notifications.ChannelPush}, fixedNow))
		got, err := s.Get(ctx, "n1")
		require.NoError(t, err)
		assert.Equal(t, []notifications.Channel{notifications.ChannelEmail}, got.DeliveredChannels)
		assert.ErrorIs(t, s.MarkDelivered(ctx, "n1", nil, fixedNow), notifications.ErrAlreadyDelivered)
		assert.ErrorIs(t, s.MarkDelivered(ctx, "missing", nil, fixedNow), notifications.ErrNotificationNotFound)
	})

	t.Run("add delivered channel stays a subset", func(t *testing.T) {
		require.NoError(t, s.AddDeliveredChannel(ctx, "n1", notifications.ChannelInApp))
		require.NoError(t, s.AddDeliveredChannel(ctx, "n1", notifications.ChannelInApp))
		require.NoError(t, s.AddDeliveredChannel(ctx, "n1", notifications.ChannelSMS))
		got, err := s.Get(ctx, "n1")
		require.NoError(t, err)
		assert.Equal(t, []notifications.Channel{notifications.ChannelInApp, notifications.ChannelEmail}, got.DeliveredChannels)
		assert.ErrorIs(t, s.AddDeliveredChannel(ctx, "missing", notifications.ChannelInApp), notifications.ErrNotificationNotFound)
	})

	t.Run("read flags", func(t *testing.T) {
		changed, err := s.MarkRead(ctx, "n1", fixedNow)
		require.NoError(t, err)
		assert.True(t, changed)

		changed, err = s.MarkRead(ctx, "n1", fixedNow.Add(time.Minute))
		require.NoError(t, err)
		assert.False(t, changed)

		got, err := s.Get(ctx, "n1")
		require.NoError(t, err)
		require.NotNil(t, got.ReadAt)
		assert.Equal(t, fixedNow, *got.ReadAt)

		unread, err := s.CountUnread(ctx, "u1")
		require.NoError(t, err)
		assert.Equal(t, 1, unread)

		count, err := s.MarkAllRead(ctx, "u1", fixedNow)
		require.NoError(t, err)
		assert.Equal(t, 1, count)
	})

	t.Run("cleanup", func(t *testing.T) {
		old, err := s.ListCreatedBefore(ctx, fixedNow.Add(-30*time.Minute), 1)
		require.NoError(t, err)
		require.Len(t, old, 1)
		assert.Equal(t, "n1", old[0].ID)

		removed, err := s.DeleteCreatedBefore(ctx, fixedNow.Add(-30*time.Minute))
		require.NoError(t, err)
		assert.Equal(t, 2, removed)

		removed, err = s.DeleteByIDs(ctx, []string{"n3", "missing"})
		require.NoError(t, err)
		assert.Equal(t, 1, removed)
	})
}

func TestMemoryStorage_ListDueAndStats(t *testing.T) {
	ctx := context.Background()
	s := notifications.NewMemoryStorage()

	past := fixedNow.Add(-time.Minute)
	future := fixedNow.Add(time.Hour)

	due := newStored("due", "u1", fixedNow, notifications.ChannelInApp)
	due.ScheduledFor = &past
	later := newStored("later", "u1", fixedNow, notifications.ChannelInApp)
	later.ScheduledFor = &future
	later.Type = notifications.TypeOrderShipped
	now := newStored("now", "u1", fixedNow, notifications.ChannelInApp)

	for _, n := range []notifications.Notification{due, later, now} {
		require.NoError(t, s.Create(ctx, n))
	}

	list, err := s.ListDue(ctx, fixedNow, 10)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "due", list[0].ID)

	st, err := s.Stats(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 3, st.Total)
	assert.Equal(t, 3, st.Unread)
	assert.Equal(t, 2, st.Scheduled)
	assert.Equal(t, 1, st.ByType[notifications.TypeOrderShipped])
}

func TestMemoryStorage_Preferences(t *testing.T) {
	ctx := context.Background()
	s := notifications.NewMemoryStorage()

	_, err := s.GetPreferences(ctx, "u1")
	assert.ErrorIs(t, err, notifications.ErrPreferencesNotFound)

	p := notifications.DefaultPreferences("u1", fixedNow)
	require.NoError(t, s.CreatePreferences(ctx, p))
	assert.ErrorIs(t, s.CreatePreferences(ctx, p), notifications.ErrPreferencesExist)

	p.Digest.Enabled = true
	require.NoError(t, s.UpdatePreferences(ctx, p))
	assert.ErrorIs(t, s.UpdatePreferences(ctx, notifications.DefaultPreferences("u2", fixedNow)), notifications.ErrPreferencesNotFound)

	digest, err := s.ListDigestPreferences(ctx)
	require.NoError(t, err)
	require.Len(t, digest, 1)
	assert.Equal(t, "u1", digest[0].UserID)
}
