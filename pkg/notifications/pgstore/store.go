// Package pgstore implements notifications.Storage on PostgreSQL with pgx.
package pgstore

import (
	"context"
	"embed"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/dmitrymomot/notifykit/pkg/notifications"
	"github.com/dmitrymomot/notifykit/pkg/pg"
)

// Migrations holds the goose migrations for both tables.
//
//go:embed migrations/*.sql
var Migrations embed.FS

// MigrationsDir is the directory of Migrations that goose reads.
const MigrationsDir = "migrations"

// Migrate applies the embedded migrations.
func Migrate(ctx context.Context, pool *pgxpool.Pool, cfg pg.Config, log *slog.Logger) error {
	return pg.Migrate(ctx, pool, Migrations, MigrationsDir, cfg, log)
}

// DB is the subset of *pgxpool.Pool used by the store.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Store is a PostgreSQL notifications.Storage.
type Store struct {
	db DB
}

var _ notifications.Storage = (*Store)(nil)

func New(db DB) *Store {
	return &Store{db: db}
}

const notificationColumns = `id, user_id, type, title, message, priority, channels, delivered_channels,
	read, read_at, metadata, category, tags, locale, deferred_from, scheduled_for, delivered_at, created_at`

func (s *Store) Create(ctx context.Context, n notifications.Notification) error {
	metadata, err := encodeJSON(n.Metadata)
	if err != nil {
		return err
	}
	var deferredFrom *string
	if n.DeferredFrom != "" {
		deferredFrom = &n.DeferredFrom
	}

	query := `
		INSERT INTO notifications (` + notificationColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)
	`
	_, err = s.db.Exec(ctx, query,
		n.ID, n.UserID, string(n.Type), n.Title, n.Message, string(n.Priority),
		channelStrings(n.Channels), channelStrings(intersect(n.Channels, n.DeliveredChannels)),
		n.Read, n.ReadAt, metadata, n.Category, nonNil(n.Tags), n.Locale,
		deferredFrom, n.ScheduledFor, n.DeliveredAt, n.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert notification: %w", err)
	}
	return nil
}

func (s *Store) Get(ctx context.Context, id string) (notifications.Notification, error) {
	query := `SELECT ` + notificationColumns + ` FROM notifications WHERE id = $1`
	n, err := scanNotification(s.db.QueryRow(ctx, query, id))
	if err != nil {
		if pg.IsNotFoundError(err) {
			return notifications.Notification{}, notifications.ErrNotificationNotFound
		}
		return notifications.Notification{}, fmt.Errorf("get notification: %w", err)
	}
	return n, nil
}

func (s *Store) List(ctx context.Context, userID string, opts notifications.ListOptions) ([]notifications.Notification, error) {
	query, args := buildListQuery(userID, opts)
	return s.queryNotifications(ctx, query, args...)
}

func (s *Store) CountUnread(ctx context.Context, userID string) (int, error) {
	var count int
	err := s.db.QueryRow(ctx, `SELECT COUNT(*) FROM notifications WHERE user_id = $1 AND read = FALSE`, userID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count unread: %w", err)
	}
	return count, nil
}

func (s *Store) Stats(ctx context.Context, userID string) (notifications.Stats, error) {
	st := notifications.Stats{ByType: make(map[notifications.Type]int)}
	err := s.db.QueryRow(ctx, `
		SELECT
			COUNT(*),
			COUNT(*) FILTER (WHERE read = FALSE),
			COUNT(*) FILTER (WHERE scheduled_for IS NOT NULL AND delivered_at IS NULL)
		FROM notifications
		WHERE user_id = $1
	`, userID).Scan(&st.Total, &st.Unread, &st.Scheduled)
	if err != nil {
		return notifications.Stats{}, fmt.Errorf("notification stats: %w", err)
	}

	rows, err := s.db.Query(ctx, `SELECT type, COUNT(*) FROM notifications WHERE user_id = $1 GROUP BY type`, userID)
	if err != nil {
		return notifications.Stats{}, fmt.Errorf("notification stats by type: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var (
			typ   string
			count int
		)
		if err := rows.Scan(&typ, &count); err != nil {
			return notifications.Stats{}, err
		}
		st.ByType[notifications.Type(typ)] = count
	}
	return st, rows.Err()
}

// MarkDelivered keeps the channel order of the row and only updates rows
// that were not delivered yet.
func (s *Store) MarkDelivered(ctx context.Context, id string, channels []notifications.Channel, at time.Time) error {
	tag, err := s.db.Exec(ctx, `
		UPDATE notifications
		SET delivered_channels = ARRAY(
				SELECT c FROM unnest(channels) WITH ORDINALITY AS t(c, i)
				WHERE c = ANY($2::TEXT[])
				ORDER BY i
			),
			delivered_at = $3
		WHERE id = $1 AND delivered_at IS NULL
	`, id, channelStrings(channels), at)
	if err != nil {
		return fmt.Errorf("mark delivered: %w", err)
	}
	if tag.RowsAffected() > 0 {
		return nil
	}
	exists, err := s.exists(ctx, id)
	if err != nil {
		return err
	}
	if !exists {
		return notifications.ErrNotificationNotFound
	}
	return notifications.ErrAlreadyDelivered
}

// AddDeliveredChannel merges ch into delivered_channels, keeping the
// channel order of the row.
func (s *Store) AddDeliveredChannel(ctx context.Context, id string, ch notifications.Channel) error {
	tag, err := s.db.Exec(ctx, `
		UPDATE notifications
		SET delivered_channels = ARRAY(
				SELECT c FROM unnest(channels) WITH ORDINALITY AS t(c, i)
				WHERE c = ANY(delivered_channels) OR c = $2::TEXT
				ORDER BY i
			)
		WHERE id = $1 AND $2::TEXT = ANY(channels) AND NOT ($2::TEXT = ANY(delivered_channels))
	`, id, string(ch))
	if err != nil {
		return fmt.Errorf("add delivered channel: %w", err)
	}
	if tag.RowsAffected() > 0 {
		return nil
	}
	exists, err := s.exists(ctx, id)
	if err != nil {
		return err
	}
	if !exists {
		return notifications.ErrNotificationNotFound
	}
	return nil
}

func (s *Store) MarkRead(ctx context.Context, id string, at time.Time) (bool, error) {
	tag, err := s.db.Exec(ctx, `UPDATE notifications SET read = TRUE, read_at = $2 WHERE id = $1 AND read = FALSE`, id, at)
	if err != nil {
		return false, fmt.Errorf("mark read: %w", err)
	}
	if tag.RowsAffected() > 0 {
		return true, nil
	}
	exists, err := s.exists(ctx, id)
	if err != nil {
		return false, err
	}
	if !exists {
		return false, notifications.ErrNotificationNotFound
	}
	return false, nil
}

func (s *Store) MarkAllRead(ctx context.Context, userID string, at time.Time) (int, error) {
	tag, err := s.db.Exec(ctx, `UPDATE notifications SET read = TRUE, read_at = $2 WHERE user_id = $1 AND read = FALSE`, userID, at)
	if err != nil {
		return 0, fmt.Errorf("mark all read: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

func (s *Store) ListDue(ctx context.Context, now time.Time, limit int) ([]notifications.Notification, error) {
	query := `SELECT ` + notificationColumns + ` FROM notifications
		WHERE delivered_at IS NULL AND scheduled_for IS NOT NULL AND scheduled_for <= $1
		ORDER BY scheduled_for`
	args := []any{now}
	if limit > 0 {
		query += ` LIMIT $2`
		args = append(args, limit)
	}
	return s.queryNotifications(ctx, query, args...)
}

func (s *Store) ListCreatedBefore(ctx context.Context, cutoff time.Time, limit int) ([]notifications.Notification, error) {
	query := `SELECT ` + notificationColumns + ` FROM notifications WHERE created_at < $1 ORDER BY created_at`
	args := []any{cutoff}
	if limit > 0 {
		query += ` LIMIT $2`
		args = append(args, limit)
	}
	return s.queryNotifications(ctx, query, args...)
}

func (s *Store) DeleteByIDs(ctx context.Context, ids []string) (int, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	tag, err := s.db.Exec(ctx, `DELETE FROM notifications WHERE id = ANY($1::TEXT[])`, ids)
	if err != nil {
		return 0, fmt.Errorf("delete notifications: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

func (s *Store) DeleteCreatedBefore(ctx context.Context, cutoff time.Time) (int, error) {
	tag, err := s.db.Exec(ctx, `DELETE FROM notifications WHERE created_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("delete expired notifications: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

func (s *Store) exists(ctx context.Context, id string) (bool, error) {
	var ok bool
	if err := s.db.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM notifications WHERE id = $1)`, id).Scan(&ok); err != nil {
		return false, fmt.Errorf("check notification: %w", err)
	}
	return ok, nil
}

func (s *Store) queryNotifications(ctx context.Context, query string, args ...any) ([]notifications.Notification, error) {
	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query notifications: %w", err)
	}
	out, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (notifications.Notification, error) {
		return scanNotification(row)
	})
	if err != nil {
		return nil, fmt.Errorf("scan notifications: %w", err)
	}
	if out == nil {
		out = []notifications.Notification{}
	}
	return out, nil
}

func scanNotification(row pgx.Row) (notifications.Notification, error) {
	var (
		n                   notifications.Notification
		typ, priority       string
		channels, delivered []string
		metadata            []byte
		deferredFrom        *string
	)
	err := row.Scan(
		&n.ID, &n.UserID, &typ, &n.Title, &n.Message, &priority,
		&channels, &delivered, &n.Read, &n.ReadAt, &metadata,
		&n.Category, &n.Tags, &n.Locale, &deferredFrom,
		&n.ScheduledFor, &n.DeliveredAt, &n.CreatedAt,
	)
	if err != nil {
		return notifications.Notification{}, err
	}
	n.Type = notifications.Type(typ)
	n.Priority = notifications.Priority(priority)
	n.Channels = toChannels(channels)
	n.DeliveredChannels = toChannels(delivered)
	if deferredFrom != nil {
		n.DeferredFrom = *deferredFrom
	}
	if err := decodeJSON(metadata, &n.Metadata); err != nil {
		return notifications.Notification{}, err
	}
	return n, nil
}

// buildListQuery renders the filtered, newest-first listing query.
func buildListQuery(userID string, opts notifications.ListOptions) (string, []any) {
	var sb strings.Builder
	args := []any{userID}
	sb.WriteString(`SELECT ` + notificationColumns + ` FROM notifications WHERE user_id = $1`)

	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if opts.OnlyUnread {
		sb.WriteString(` AND read = FALSE`)
	}
	if len(opts.Types) > 0 {
		types := make([]string, len(opts.Types))
		for i, t := range opts.Types {
			types[i] = string(t)
		}
		sb.WriteString(` AND type = ANY(` + arg(types) + `::TEXT[])`)
	}
	if opts.Category != "" {
		sb.WriteString(` AND category = ` + arg(opts.Category))
	}
	if opts.Since != nil {
		sb.WriteString(` AND created_at >= ` + arg(*opts.Since))
	}
	sb.WriteString(` ORDER BY created_at DESC, id`)
	if opts.Limit > 0 {
		sb.WriteString(` LIMIT ` + arg(opts.Limit))
	}
	if opts.Offset > 0 {
		sb.WriteString(` OFFSET ` + arg(opts.Offset))
	}
	return sb.String(), args
}
