package notifications

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/dmitrymomot/notifykit/pkg/logger"
)

// Resolver decides which channels a notification uses for a recipient.
type Resolver struct {
	store  PreferenceStore
	now    func() time.Time
	logger *slog.Logger
}

// NewResolver creates a resolver backed by store.
func NewResolver(store PreferenceStore, log *slog.Logger, now func() time.Time) *Resolver {
	if log == nil {
		log = slog.Default()
	}
	if now == nil {
		now = time.Now
	}
	return &Resolver{store: store, now: now, logger: log}
}

// Preferences returns the user's preferences, creating the default row on
// first access. Losing a concurrent create race is resolved by re-reading.
func (r *Resolver) Preferences(ctx context.Context, userID string) (Preferences, error) {
	p, err := r.store.GetPreferences(ctx, userID)
	if err == nil {
		return p, nil
	}
	if !errors.Is(err, ErrPreferencesNotFound) {
		return Preferences{}, fmt.Errorf("get preferences: %w", err)
	}

	p = DefaultPreferences(userID, r.now())
	err = r.store.CreatePreferences(ctx, p)
	switch {
	case err == nil:
		r.logger.DebugContext(ctx, "created default preferences", logger.UserID(userID))
		return p, nil
	case errors.Is(err, ErrPreferencesExist):
		p, err = r.store.GetPreferences(ctx, userID)
		if err != nil {
			return Preferences{}, fmt.Errorf("get preferences after create race: %w", err)
		}
		return p, nil
	default:
		return Preferences{}, fmt.Errorf("create default preferences: %w", err)
	}
}

// Resolve returns the effective channels for a (user, type) pair together
// with the preferences used to compute them.
func (r *Resolver) Resolve(ctx context.Context, userID string, typ Type, explicit []Channel) ([]Channel, Preferences, error) {
	p, err := r.Preferences(ctx, userID)
	if err != nil {
		return nil, Preferences{}, err
	}
	return ResolveChannels(p, typ, explicit), p, nil
}

// ResolveChannels applies the resolution order: an explicit list wins, then
// a per-type override, then the global toggles. Only a disabled override
// yields the empty set; any other empty result falls back to in_app.
func ResolveChannels(p Preferences, typ Type, explicit []Channel) []Channel {
	if len(explicit) > 0 {
		return dedupeChannels(explicit)
	}

	if o, ok := p.TypeOverrides[typ]; ok {
		if !o.Enabled {
			return []Channel{}
		}
		if chs := dedupeChannels(o.Channels); len(chs) > 0 {
			return chs
		}
		return []Channel{ChannelInApp}
	}

	out := make([]Channel, 0, 4)
	for _, ch := range []Channel{ChannelInApp, ChannelEmail, ChannelSMS, ChannelPush} {
		if p.ChannelEnabled(ch) {
			out = append(out, ch)
		}
	}
	if len(out) == 0 {
		return []Channel{ChannelInApp}
	}
	return out
}
