package notifications

import (
	"errors"
	"time"

	"github.com/dmitrymomot/notifykit/pkg/validator"
)

// TypeOverride replaces the global channel toggles for a single type.
// Enabled=false suppresses the type entirely.
type TypeOverride struct {
	Enabled  bool      `json:"enabled"`
	Channels []Channel `json:"channels,omitempty"`
}

type DigestFrequency string

const (
	DigestDaily  DigestFrequency = "daily"
	DigestWeekly DigestFrequency = "weekly"
)

// Period returns the aggregation window of the frequency.
func (f DigestFrequency) Period() time.Duration {
	if f == DigestWeekly {
		return 7 * 24 * time.Hour
	}
	return 24 * time.Hour
}

// DigestSettings controls the periodic summary of unread notifications.
type DigestSettings struct {
	Enabled    bool            `json:"enabled"`
	Frequency  DigestFrequency `json:"frequency"`
	Channels   []Channel       `json:"channels,omitempty"`
	LastSentAt *time.Time      `json:"last_sent_at,omitempty"`
}

// Preferences is the per-user delivery configuration. Exactly one row
// exists per user.
type Preferences struct {
	UserID            string                `json:"user_id"`
	InAppEnabled      bool                  `json:"in_app_enabled"`
	EmailEnabled      bool                  `json:"email_enabled"`
	SMSEnabled        bool                  `json:"sms_enabled"`
	PushEnabled       bool                  `json:"push_enabled"`
	TypeOverrides     map[Type]TypeOverride `json:"type_overrides,omitempty"`
	QuietHoursEnabled bool                  `json:"quiet_hours_enabled"`
	QuietHoursStart   string                `json:"quiet_hours_start,omitempty"`
	QuietHoursEnd     string                `json:"quiet_hours_end,omitempty"`
	Timezone          string                `json:"timezone,omitempty"`
	Digest            DigestSettings        `json:"digest"`
	CreatedAt         time.Time             `json:"created_at"`
	UpdatedAt         time.Time             `json:"updated_at"`
}

// DefaultPreferences returns the row created on first resolution.
func DefaultPreferences(userID string, now time.Time) Preferences {
	return Preferences{
		UserID:       userID,
		InAppEnabled: true,
		EmailEnabled: true,
		SMSEnabled:   false,
		PushEnabled:  true,
		Digest:       DigestSettings{Frequency: DigestDaily},
		CreatedAt:    now,
		UpdatedAt:    now,
	}
}

// ChannelEnabled reports the global toggle for ch. Channels without a
// toggle, such as webhook, are always enabled.
func (p Preferences) ChannelEnabled(ch Channel) bool {
	switch ch {
	case ChannelInApp:
		return p.InAppEnabled
	case ChannelEmail:
		return p.EmailEnabled
	case ChannelSMS:
		return p.SMSEnabled
	case ChannelPush:
		return p.PushEnabled
	}
	return true
}

// Location returns the user's timezone, falling back to UTC when it is
// empty or unknown.
func (p Preferences) Location() *time.Location {
	if p.Timezone == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(p.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// DigestDue reports whether a digest should be produced at now.
func (p Preferences) DigestDue(now time.Time) bool {
	if !p.Digest.Enabled {
		return false
	}
	if p.Digest.LastSentAt == nil {
		return true
	}
	return !now.Before(p.Digest.LastSentAt.Add(p.Digest.Frequency.Period()))
}

func (p Preferences) clone() Preferences {
	out := p
	if p.TypeOverrides != nil {
		out.TypeOverrides = make(map[Type]TypeOverride, len(p.TypeOverrides))
		for k, v := range p.TypeOverrides {
			v.Channels = append([]Channel(nil), v.Channels...)
			out.TypeOverrides[k] = v
		}
	}
	out.Digest.Channels = append([]Channel(nil), p.Digest.Channels...)
	return out
}

// PreferencesUpdate is a partial update. Nil fields are left unchanged.
type PreferencesUpdate struct {
	InAppEnabled      *bool                  `json:"in_app_enabled,omitempty"`
	EmailEnabled      *bool                  `json:"email_enabled,omitempty"`
	SMSEnabled        *bool                  `json:"sms_enabled,omitempty"`
	PushEnabled       *bool                  `json:"push_enabled,omitempty"`
	TypeOverrides     map[Type]*TypeOverride `json:"type_overrides,omitempty"`
	QuietHoursEnabled *bool                  `json:"quiet_hours_enabled,omitempty"`
	QuietHoursStart   *string                `json:"quiet_hours_start,omitempty"`
	QuietHoursEnd     *string                `json:"quiet_hours_end,omitempty"`
	Timezone          *string                `json:"timezone,omitempty"`
	DigestEnabled     *bool                  `json:"digest_enabled,omitempty"`
	DigestFrequency   *DigestFrequency       `json:"digest_frequency,omitempty"`
	DigestChannels    []Channel              `json:"digest_channels,omitempty"`
}

// Apply merges u into p. A nil entry in TypeOverrides removes the override.
func (u PreferencesUpdate) Apply(p *Preferences) {
	setBool := func(dst *bool, src *bool) {
		if src != nil {
			*dst = *src
		}
	}
	setString := func(dst *string, src *string) {
		if src != nil {
			*dst = *src
		}
	}

	setBool(&p.InAppEnabled, u.InAppEnabled)
	setBool(&p.EmailEnabled, u.EmailEnabled)
	setBool(&p.SMSEnabled, u.SMSEnabled)
	setBool(&p.PushEnabled, u.PushEnabled)
	setBool(&p.QuietHoursEnabled, u.QuietHoursEnabled)
	setString(&p.QuietHoursStart, u.QuietHoursStart)
	setString(&p.QuietHoursEnd, u.QuietHoursEnd)
	setString(&p.Timezone, u.Timezone)
	setBool(&p.Digest.Enabled, u.DigestEnabled)
	if u.DigestFrequency != nil {
		p.Digest.Frequency = *u.DigestFrequency
	}
	if u.DigestChannels != nil {
		p.Digest.Channels = dedupeChannels(u.DigestChannels)
	}

	for typ, o := range u.TypeOverrides {
		if o == nil {
			delete(p.TypeOverrides, typ)
			continue
		}
		if p.TypeOverrides == nil {
			p.TypeOverrides = make(map[Type]TypeOverride)
		}
		p.TypeOverrides[typ] = TypeOverride{Enabled: o.Enabled, Channels: dedupeChannels(o.Channels)}
	}
}

// Validate checks the merged preferences.
func (p Preferences) Validate() error {
	rules := []validator.Rule{
		validator.RequiredString("user_id", p.UserID),
		validator.Timezone("timezone", p.Timezone),
		validator.ClockTime("quiet_hours_start", p.QuietHoursStart).When(p.QuietHoursEnabled || p.QuietHoursStart != ""),
		validator.ClockTime("quiet_hours_end", p.QuietHoursEnd).When(p.QuietHoursEnabled || p.QuietHoursEnd != ""),
		validator.InList("digest_frequency", p.Digest.Frequency, []DigestFrequency{DigestDaily, DigestWeekly}).When(p.Digest.Enabled),
		validator.EachInList("digest_channels", p.Digest.Channels, Channels),
	}
	for typ, o := range p.TypeOverrides {
		rules = append(rules,
			validator.InList("type_overrides", typ, Types),
			validator.EachInList("type_overrides."+string(typ), o.Channels, Channels),
		)
	}
	if err := validator.Apply(rules...); err != nil {
		return errors.Join(ErrValidation, err)
	}
	return nil
}
