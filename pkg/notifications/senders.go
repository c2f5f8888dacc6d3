package notifications

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/dmitrymomot/notifykit/pkg/logger"
)

// TransportEventNotification is the event name used when pushing a
// notification to live sessions.
const TransportEventNotification = "notification"

// Transport pushes payloads to a user's live sessions and reports how many
// sessions accepted the write.
type Transport interface {
	SendToUser(ctx context.Context, userID, event string, payload any) int
}

// InAppSender delivers through the real-time transport. It succeeds when at
// least one session received the notification.
type InAppSender struct {
	transport Transport
}

func NewInAppSender(t Transport) *InAppSender {
	return &InAppSender{transport: t}
}

func (s *InAppSender) Send(ctx context.Context, n Notification, _ Preferences) error {
	if s.transport.SendToUser(ctx, n.UserID, TransportEventNotification, n) == 0 {
		return ErrNoActiveSessions
	}
	return nil
}

// UnimplementedSender stands in for channels without a provider. Every
// attempt fails with ErrChannelNotImplemented.
type UnimplementedSender struct {
	Channel Channel
}

func (s UnimplementedSender) Send(context.Context, Notification, Preferences) error {
	return fmt.Errorf("%w: %s", ErrChannelNotImplemented, s.Channel)
}

// Dispatcher publishes an event to the webhook subsystem.
type Dispatcher interface {
	Dispatch(ctx context.Context, event string, payload any) error
}

// WebhookSender hands notifications to a Dispatcher without waiting for the
// outcome. Dispatch runs detached from the caller's cancellation, bounded
// by a timeout, and failures are only logged.
type WebhookSender struct {
	dispatcher Dispatcher
	timeout    time.Duration
	logger     *slog.Logger
	wg         sync.WaitGroup
}

func NewWebhookSender(d Dispatcher, timeout time.Duration, log *slog.Logger) *WebhookSender {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	if log == nil {
		log = slog.Default()
	}
	return &WebhookSender{dispatcher: d, timeout: timeout, logger: log}
}

func (s *WebhookSender) Send(ctx context.Context, n Notification, _ Preferences) error {
	dctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.timeout)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer cancel()
		if err := s.dispatcher.Dispatch(dctx, "notification."+string(n.Type), n); err != nil {
			s.logger.WarnContext(dctx, "webhook dispatch failed",
				logger.NotificationID(n.ID),
				logger.UserID(n.UserID),
				logger.Error(err),
			)
		}
	}()
	return nil
}

// Wait blocks until in-flight dispatches finish.
func (s *WebhookSender) Wait() {
	s.wg.Wait()
}
