// Package notifications delivers user notifications over several channels
// while honouring each recipient's preferences.
//
// A Manager owns the whole lifecycle of a notification:
//
//   - the Resolver loads or creates the recipient's Preferences and decides
//     which channels to use (explicit list, per-type override, global toggles);
//   - quiet hours hold back interruptive channels (email, sms, push) by
//     storing a deferred copy that the scheduled pass delivers later;
//   - every remaining channel is attempted concurrently through the Sender
//     registered for it in a Registry, and one failing or panicking sender
//     never affects the others;
//   - the delivered subset is persisted and lifecycle Events are published
//     to subscribers.
//
// Channel outcomes are reported in a DeliveryResult. Errors for a channel
// wrap either ErrChannelUnavailable (no attempt was possible) or
// ErrDeliveryFailed (an attempt was made and failed).
//
// # Usage
//
//	store := notifications.NewMemoryStorage()
//	registry := notifications.NewRegistry(
//	    notifications.Route{Channel: notifications.ChannelInApp, Sender: notifications.NewInAppSender(hub)},
//	    notifications.Route{Channel: notifications.ChannelEmail, Sender: notifications.NewEmailSender(mailer, catalog)},
//	)
//	m := notifications.NewManager(store, registry, notifications.WithManagerLogger(log))
//
//	res, err := m.Send(ctx, notifications.SendRequest{
//	    UserID:  "u1",
//	    Type:    notifications.TypeOrderShipped,
//	    Title:   "Order #42",
//	    Message: "Your parcel left the warehouse.",
//	})
//
// Bulk sends run in paced batches (see Batcher) either inline with SendBulk
// or through a durable queue with EnqueueBulk and BulkHandler.
//
// Periodic work (ProcessScheduled, Cleanup, ProcessDigests) is driven by an
// external scheduler. ProcessScheduled is idempotent: a notification is
// stamped delivered exactly once, even when no channel succeeded.
package notifications
