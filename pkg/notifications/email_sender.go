package notifications

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/dmitrymomot/notifykit/pkg/email"
	"github.com/dmitrymomot/notifykit/pkg/templates"
)

// MetadataEmail is the metadata key holding an explicit recipient address.
const MetadataEmail = "email"

// AddressBook resolves a user's email address.
type AddressBook interface {
	EmailAddress(ctx context.Context, userID string) (string, error)
}

// EmailSender renders the catalog template for the notification type and
// hands it to an email provider.
type EmailSender struct {
	mailer    email.EmailSender
	catalog   *templates.Catalog
	addresses AddressBook
	now       func() time.Time
}

// EmailSenderOption configures an EmailSender.
type EmailSenderOption func(*EmailSender)

// WithAddressBook sets the fallback used when metadata carries no address.
func WithAddressBook(ab AddressBook) EmailSenderOption {
	return func(s *EmailSender) { s.addresses = ab }
}

// WithEmailClock overrides the clock used for the quiet-hours check.
func WithEmailClock(now func() time.Time) EmailSenderOption {
	return func(s *EmailSender) { s.now = now }
}

func NewEmailSender(mailer email.EmailSender, catalog *templates.Catalog, opts ...EmailSenderOption) *EmailSender {
	s := &EmailSender{mailer: mailer, catalog: catalog, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *EmailSender) Send(ctx context.Context, n Notification, p Preferences) error {
	if !p.EmailEnabled {
		return ErrChannelDisabled
	}
	if n.Priority != PriorityUrgent && IsSuppressed(p, ChannelEmail, s.now()) {
		return ErrQuietHours
	}

	to, err := s.recipient(ctx, n)
	if err != nil {
		return err
	}

	tpl, err := s.catalog.Lookup(string(ChannelEmail), string(n.Type), n.Locale)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrDeliveryFailed, err)
	}
	subject, body, err := tpl.Render(templates.Data{
		UserID:   n.UserID,
		Type:     string(n.Type),
		Title:    n.Title,
		Message:  n.Message,
		Metadata: n.Metadata,
	})
	if err != nil {
		return fmt.Errorf("%w: %w", ErrDeliveryFailed, err)
	}
	html, err := templates.Render(ctx, templates.EmailLayout(subject, body))
	if err != nil {
		return fmt.Errorf("%w: %w", ErrDeliveryFailed, err)
	}

	if err := s.mailer.SendEmail(ctx, email.SendEmailParams{
		SendTo:   to,
		Subject:  subject,
		BodyHTML: html,
		Tag:      string(n.Type),
	}); err != nil {
		return fmt.Errorf("%w: %w", ErrDeliveryFailed, err)
	}
	return nil
}

func (s *EmailSender) recipient(ctx context.Context, n Notification) (string, error) {
	if addr, ok := n.Metadata[MetadataEmail].(string); ok && strings.TrimSpace(addr) != "" {
		return addr, nil
	}
	if s.addresses == nil {
		return "", ErrNoRecipient
	}
	addr, err := s.addresses.EmailAddress(ctx, n.UserID)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrNoRecipient, err)
	}
	if addr == "" {
		return "", ErrNoRecipient
	}
	return addr, nil
}
