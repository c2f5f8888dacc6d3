package notifications_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/notifykit/pkg/logger"
	"github.com/dmitrymomot/notifykit/pkg/notifications"
)

var fixedNow = time.Date(2025, 3, 14, 12, 0, 0, 0, time.UTC)

func clock() time.Time { return fixedNow }

func TestResolver_CreatesDefaults(t *testing.T) {
	store := notifications.NewMemoryStorage()
	r := notifications.NewResolver(store, logger.Discard(), clock)

	channels, prefs, err := r.Resolve(context.Background(), "u1", notifications.TypeOrderShipped, nil)
	require.NoError(t, err)
	assert.Equal(t, []notifications.Channel{
		notifications.ChannelInApp, notifications.ChannelEmail, notifications.ChannelPush,
	}, channels)
	assert.True(t, prefs.InAppEnabled)
	assert.True(t, prefs.EmailEnabled)
	assert.True(t, prefs.PushEnabled)
	assert.False(t, prefs.SMSEnabled)

	stored, err := store.GetPreferences(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, fixedNow, stored.CreatedAt)
}

type racingPrefs struct {
	*notifications.MemoryStorage
	misses int
}

// GetPreferences reports a miss once so the resolver hits the create race.
func (r *racingPrefs) GetPreferences(ctx context.Context, userID string) (notifications.Preferences, error) {
	if r.misses > 0 {
		r.misses--
		return notifications.Preferences{}, notifications.ErrPreferencesNotFound
	}
	return r.MemoryStorage.GetPreferences(ctx, userID)
}

func TestResolver_CreateRace(t *testing.T) {
	mem := notifications.NewMemoryStorage()
	existing := notifications.DefaultPreferences("u1", fixedNow)
	existing.SMSEnabled = true
	require.NoError(t, mem.CreatePreferences(context.Background(), existing))

	r := notifications.NewResolver(&racingPrefs{MemoryStorage: mem, misses: 1}, logger.Discard(), clock)
	p, err := r.Preferences(context.Background(), "u1")
	require.NoError(t, err)
	assert.True(t, p.SMSEnabled, "winner's row is returned")
}

type brokenPrefs struct {
	*notifications.MemoryStorage
}

func (brokenPrefs) GetPreferences(context.Context, string) (notifications.Preferences, error) {
	return notifications.Preferences{}, errors.New("connection reset")
}

func TestResolver_StorageError(t *testing.T) {
	r := notifications.NewResolver(brokenPrefs{notifications.NewMemoryStorage()}, logger.Discard(), clock)
	_, _, err := r.Resolve(context.Background(), "u1", notifications.TypeGeneric, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection reset")
}

func TestResolveChannels(t *testing.T) {
	base := notifications.DefaultPreferences("u1", fixedNow)

	allOff := base
	allOff.InAppEnabled, allOff.EmailEnabled, allOff.PushEnabled = false, false, false

	withOverride := base
	withOverride.TypeOverrides = map[notifications.Type]notifications.TypeOverride{
		notifications.TypePaymentFailed: {Enabled: true, Channels: []notifications.Channel{notifications.ChannelEmail, notifications.ChannelSMS}},
		notifications.TypeCommentMention: {Enabled: false},
		notifications.TypeOrderShipped:   {Enabled: true},
	}

	tests := []struct {
		name     string
		prefs    notifications.Preferences
		typ      notifications.Type
		explicit []notifications.Channel
		want     []notifications.Channel
	}{
		{
			name:  "global toggles",
			prefs: base,
			typ:   notifications.TypeGeneric,
			want:  []notifications.Channel{notifications.ChannelInApp, notifications.ChannelEmail, notifications.ChannelPush},
		},
		{
			name:     "explicit list wins and is deduplicated",
			prefs:    withOverride,
			typ:      notifications.TypePaymentFailed,
			explicit: []notifications.Channel{notifications.ChannelWebhook, notifications.ChannelWebhook, notifications.ChannelInApp},
			want:     []notifications.Channel{notifications.ChannelWebhook, notifications.ChannelInApp},
		},
		{
			name:  "type override",
			prefs: withOverride,
			typ:   notifications.TypePaymentFailed,
			want:  []notifications.Channel{notifications.ChannelEmail, notifications.ChannelSMS},
		},
		{
			name:  "disabled override suppresses",
			prefs: withOverride,
			typ:   notifications.TypeCommentMention,
			want:  []notifications.Channel{},
		},
		{
			name:  "enabled override without channels falls back to in_app",
			prefs: withOverride,
			typ:   notifications.TypeOrderShipped,
			want:  []notifications.Channel{notifications.ChannelInApp},
		},
		{
			name:  "nothing enabled falls back to in_app",
			prefs: allOff,
			typ:   notifications.TypeGeneric,
			want:  []notifications.Channel{notifications.ChannelInApp},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := notifications.ResolveChannels(tt.prefs, tt.typ, tt.explicit)
			assert.Equal(t, tt.want, got)
		})
	}
}
