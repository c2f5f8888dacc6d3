package notifications

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/dmitrymomot/notifykit/pkg/broadcast"
	"github.com/dmitrymomot/notifykit/pkg/logger"
)

// Manager orchestrates resolution, persistence and per-channel delivery.
type Manager struct {
	store    Storage
	resolver *Resolver
	registry *Registry
	events   *broadcast.MemoryBroadcaster[Event]

	logger      *slog.Logger
	now         func() time.Time
	deferDelay  time.Duration
	batcher     Batcher
	recorder    Recorder
	enqueuer    Enqueuer
	archiver    Archiver
	eventBuffer int
	dueLimit    int
	replayLimit int
}

// NewManager creates a new notification manager.
func NewManager(store Storage, registry *Registry, opts ...ManagerOption) *Manager {
	if registry == nil {
		registry = NewRegistry()
	}
	m := &Manager{
		store:       store,
		registry:    registry,
		logger:      slog.Default(),
		now:         time.Now,
		deferDelay:  DefaultDeferDelay,
		batcher:     Batcher{Size: DefaultBatchSize, Pause: DefaultBatchPause},
		recorder:    noopRecorder{},
		eventBuffer: 64,
		dueLimit:    500,
		replayLimit: 50,
	}
	for _, opt := range opts {
		opt(m)
	}
	m.logger = m.logger.With(logger.Component("notifications"))
	m.resolver = NewResolver(store, m.logger, m.now)
	m.events = broadcast.NewMemoryBroadcaster[Event](m.eventBuffer)
	return m
}

// Send resolves channels, applies quiet hours, persists and delivers one
// notification. A future ScheduledFor only persists it.
func (m *Manager) Send(ctx context.Context, req SendRequest) (DeliveryResult, error) {
	req = req.normalize()
	if err := req.Validate(); err != nil {
		return DeliveryResult{}, err
	}

	now := m.now()
	channels, prefs, err := m.resolver.Resolve(ctx, req.UserID, req.Type, req.Channels)
	if err != nil {
		return DeliveryResult{}, err
	}
	if len(channels) == 0 {
		m.logger.DebugContext(ctx, "notification type disabled by preferences",
			logger.UserID(req.UserID), slog.String("type", string(req.Type)))
		return DeliveryResult{UserID: req.UserID, Delivered: []Channel{}, Failed: []Channel{}, Suppressed: true}, nil
	}

	n := newNotification(req, channels, now)

	if !n.IsDue(now) {
		if err := m.store.Create(ctx, n); err != nil {
			return DeliveryResult{}, fmt.Errorf("failed to store notification: %w", err)
		}
		m.recorder.NotificationCreated(n.Type, true)
		m.publish(ctx, Event{Kind: EventScheduled, NotificationID: n.ID, UserID: n.UserID, Channels: n.Channels, At: now})
		return DeliveryResult{
			NotificationID: n.ID,
			UserID:         n.UserID,
			Delivered:      []Channel{},
			Failed:         []Channel{},
			Scheduled:      true,
		}, nil
	}

	if err := m.store.Create(ctx, n); err != nil {
		return DeliveryResult{}, fmt.Errorf("failed to store notification: %w", err)
	}
	m.recorder.NotificationCreated(n.Type, false)

	return m.deliver(ctx, n, prefs, now)
}

// deliver runs quiet hours and the channel attempts for a persisted
// notification, then records the outcome. A failure to record it is
// returned with the result; a row already marked by a concurrent run is
// not an error.
func (m *Manager) deliver(ctx context.Context, n Notification, prefs Preferences, now time.Time) (DeliveryResult, error) {
	allowed, deferred := splitQuietHours(prefs, n.Channels, n.Priority, now)

	res := DeliveryResult{NotificationID: n.ID, UserID: n.UserID}

	if len(deferred) > 0 {
		cp := m.deferredCopy(n, deferred, now)
		if err := m.store.Create(ctx, cp); err != nil {
			m.logger.ErrorContext(ctx, "failed to store deferred copy",
				logger.NotificationID(n.ID), logger.Channels(deferred), logger.Error(err))
			for _, ch := range deferred {
				res.Failed = append(res.Failed, ch)
				res.Errors = append(res.Errors, ChannelError{Channel: ch, Err: err})
			}
		} else {
			res.Deferred = deferred
			res.DeferredID = cp.ID
			m.publish(ctx, Event{Kind: EventDeferred, NotificationID: cp.ID, UserID: n.UserID, Channels: deferred, At: now})
		}
	}

	delivered, failed, errs := m.attempt(ctx, n, prefs, allowed)
	res.Delivered = delivered
	res.Failed = append(res.Failed, failed...)
	res.Errors = append(res.Errors, errs...)

	var recordErr error
	if err := m.store.MarkDelivered(ctx, n.ID, delivered, now); err != nil {
		if !errors.Is(err, ErrAlreadyDelivered) {
			recordErr = fmt.Errorf("failed to record delivery of %s: %w", n.ID, err)
		}
		m.logger.LogAttrs(ctx, slog.LevelWarn, "delivery not recorded",
			logger.NotificationID(n.ID), logger.Error(err))
	}

	if recordErr == nil && len(delivered) > 0 {
		m.publish(ctx, Event{Kind: EventDelivered, NotificationID: n.ID, UserID: n.UserID, Channels: delivered, At: now})
	}
	if len(res.Failed) > 0 {
		m.logger.LogAttrs(ctx, slog.LevelWarn, "notification partially delivered",
			logger.NotificationID(n.ID),
			logger.UserID(n.UserID),
			logger.Channels(res.Failed),
			logger.Error(res.Err()),
		)
	}
	return res, recordErr
}

// attempt sends over every channel concurrently. A failing or panicking
// sender only affects its own channel.
func (m *Manager) attempt(ctx context.Context, n Notification, prefs Preferences, channels []Channel) (delivered, failed []Channel, errs []ChannelError) {
	outcomes := make([]error, len(channels))

	var g errgroup.Group
	for i, ch := range channels {
		g.Go(func() error {
			outcomes[i] = m.sendOne(ctx, ch, n, prefs)
			return nil
		})
	}
	_ = g.Wait()

	delivered = make([]Channel, 0, len(channels))
	failed = make([]Channel, 0)
	for i, ch := range channels {
		if outcomes[i] == nil {
			delivered = append(delivered, ch)
			continue
		}
		failed = append(failed, ch)
		errs = append(errs, ChannelError{Channel: ch, Err: outcomes[i]})
	}
	return delivered, failed, errs
}

func (m *Manager) sendOne(ctx context.Context, ch Channel, n Notification, prefs Preferences) (err error) {
	sender, ok := m.registry.Lookup(ch)
	if !ok {
		return fmt.Errorf("%w: no sender for %s", ErrChannelUnavailable, ch)
	}

	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: sender panicked: %v", ErrDeliveryFailed, r)
		}
		m.recorder.ChannelAttempt(ch, err, time.Since(start))
		if err != nil {
			m.logger.WarnContext(ctx, "channel delivery failed",
				logger.NotificationID(n.ID), logger.Channel(string(ch)), logger.Error(err))
		}
	}()

	return sender.Send(ctx, n, prefs)
}

func (m *Manager) deferredCopy(n Notification, channels []Channel, now time.Time) Notification {
	at := now.Add(m.deferDelay)
	cp := n
	cp.ID = uuid.New().String()
	cp.Channels = append([]Channel(nil), channels...)
	cp.DeliveredChannels = []Channel{}
	cp.Metadata = cloneMetadata(n.Metadata)
	cp.Tags = append([]string(nil), n.Tags...)
	cp.DeferredFrom = n.ID
	cp.ScheduledFor = &at
	cp.DeliveredAt = nil
	cp.Read = false
	cp.ReadAt = nil
	cp.CreatedAt = now
	return cp
}

func newNotification(req SendRequest, channels []Channel, now time.Time) Notification {
	return Notification{
		ID:                uuid.New().String(),
		UserID:            req.UserID,
		Type:              req.Type,
		Title:             req.Title,
		Message:           req.Message,
		Priority:          req.Priority,
		Channels:          channels,
		DeliveredChannels: []Channel{},
		Metadata:          cloneMetadata(req.Metadata),
		Category:          req.Category,
		Tags:              req.Tags,
		Locale:            req.Locale,
		ScheduledFor:      req.ScheduledFor,
		CreatedAt:         now,
	}
}

// Subscribe returns a stream of lifecycle events. The subscription ends
// with ctx.
func (m *Manager) Subscribe(ctx context.Context) broadcast.Subscriber[Event] {
	return m.events.Subscribe(ctx)
}

// SubscribeUser returns a stream of events for a single user.
func (m *Manager) SubscribeUser(ctx context.Context, userID string) broadcast.Subscriber[Event] {
	return m.events.SubscribeFunc(ctx, func(e Event) bool { return e.UserID == userID })
}

// Close ends every event subscription.
func (m *Manager) Close() error {
	return m.events.Close()
}

func (m *Manager) publish(ctx context.Context, e Event) {
	_ = m.events.Broadcast(ctx, broadcast.Message[Event]{Data: e})
}
