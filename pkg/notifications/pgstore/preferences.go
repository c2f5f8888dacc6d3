package pgstore

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/dmitrymomot/notifykit/pkg/notifications"
	"github.com/dmitrymomot/notifykit/pkg/pg"
)

const preferenceColumns = `user_id, in_app_enabled, email_enabled, sms_enabled, push_enabled, type_overrides,
	quiet_hours_enabled, quiet_hours_start, quiet_hours_end, timezone, digest, created_at, updated_at`

func (s *Store) GetPreferences(ctx context.Context, userID string) (notifications.Preferences, error) {
	p, err := scanPreferences(s.db.QueryRow(ctx, `SELECT `+preferenceColumns+` FROM notification_preferences WHERE user_id = $1`, userID))
	if err != nil {
		if pg.IsNotFoundError(err) {
			return notifications.Preferences{}, notifications.ErrPreferencesNotFound
		}
		return notifications.Preferences{}, fmt.Errorf("get preferences: %w", err)
	}
	return p, nil
}

// CreatePreferences relies on the primary key: a concurrent insert for the
// same user inserts nothing and reports ErrPreferencesExist.
func (s *Store) CreatePreferences(ctx context.Context, p notifications.Preferences) error {
	overrides, digest, err := encodePreferenceJSON(p)
	if err != nil {
		return err
	}
	tag, err := s.db.Exec(ctx, `
		INSERT INTO notification_preferences (`+preferenceColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		ON CONFLICT (user_id) DO NOTHING
	`,
		p.UserID, p.InAppEnabled, p.EmailEnabled, p.SMSEnabled, p.PushEnabled, overrides,
		p.QuietHoursEnabled, p.QuietHoursStart, p.QuietHoursEnd, p.Timezone, digest, p.CreatedAt, p.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert preferences: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return notifications.ErrPreferencesExist
	}
	return nil
}

func (s *Store) UpdatePreferences(ctx context.Context, p notifications.Preferences) error {
	overrides, digest, err := encodePreferenceJSON(p)
	if err != nil {
		return err
	}
	tag, err := s.db.Exec(ctx, `
		UPDATE notification_preferences SET
			in_app_enabled = $2, email_enabled = $3, sms_enabled = $4, push_enabled = $5,
			type_overrides = $6, quiet_hours_enabled = $7, quiet_hours_start = $8,
			quiet_hours_end = $9, timezone = $10, digest = $11, updated_at = $12
		WHERE user_id = $1
	`,
		p.UserID, p.InAppEnabled, p.EmailEnabled, p.SMSEnabled, p.PushEnabled, overrides,
		p.QuietHoursEnabled, p.QuietHoursStart, p.QuietHoursEnd, p.Timezone, digest, p.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("update preferences: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return notifications.ErrPreferencesNotFound
	}
	return nil
}

func (s *Store) ListDigestPreferences(ctx context.Context) ([]notifications.Preferences, error) {
	rows, err := s.db.Query(ctx, `SELECT `+preferenceColumns+` FROM notification_preferences
		WHERE (digest ->> 'enabled')::BOOLEAN ORDER BY user_id`)
	if err != nil {
		return nil, fmt.Errorf("list digest preferences: %w", err)
	}
	out, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (notifications.Preferences, error) {
		return scanPreferences(row)
	})
	if err != nil {
		return nil, fmt.Errorf("scan preferences: %w", err)
	}
	return out, nil
}

func scanPreferences(row pgx.Row) (notifications.Preferences, error) {
	var (
		p                 notifications.Preferences
		overrides, digest []byte
	)
	err := row.Scan(
		&p.UserID, &p.InAppEnabled, &p.EmailEnabled, &p.SMSEnabled, &p.PushEnabled, &overrides,
		&p.QuietHoursEnabled, &p.QuietHoursStart, &p.QuietHoursEnd, &p.Timezone, &digest,
		&p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		return notifications.Preferences{}, err
	}
	if err := decodeJSON(overrides, &p.TypeOverrides); err != nil {
		return notifications.Preferences{}, err
	}
	if err := decodeJSON(digest, &p.Digest); err != nil {
		return notifications.Preferences{}, err
	}
	return p, nil
}

func encodePreferenceJSON(p notifications.Preferences) (overrides, digest []byte, err error) {
	if overrides, err = encodeJSON(p.TypeOverrides); err != nil {
		return nil, nil, err
	}
	if digest, err = encodeJSON(p.Digest); err != nil {
		return nil, nil, err
	}
	return overrides, digest, nil
}
