// Package email sends transactional email for the email channel.
//
// Two EmailSender implementations are provided: a Postmark-backed client for
// real delivery and DevSender, which writes each message to disk so local
// runs never reach a provider. New picks one based on Config.
package email

import (
	"context"
	"errors"
	"net/mail"

	"github.com/dmitrymomot/notifykit/pkg/validator"
)

var (
	ErrFailedToSendEmail = errors.New("email: failed to send email")
	ErrInvalidConfig     = errors.New("email: invalid config")
	ErrInvalidParams     = errors.New("email: invalid params")
)

// EmailSender represents an interface for sending emails.
type EmailSender interface {
	SendEmail(ctx context.Context, params SendEmailParams) error
}

// SendEmailParams represents the parameters for sending an email.
type SendEmailParams struct {
	SendTo   string `json:"send_to"`
	Subject  string `json:"subject"`
	BodyHTML string `json:"body_html"`
	Tag      string `json:"tag,omitempty"`
}

// Validate checks that the message can be handed to a provider.
func (p SendEmailParams) Validate() error {
	err := validator.Apply(
		validator.RequiredString("send_to", p.SendTo),
		validAddress("send_to", p.SendTo).When(p.SendTo != ""),
		validator.RequiredString("subject", p.Subject),
		validator.MaxLenString("subject", p.Subject, 998),
		validator.RequiredString("body_html", p.BodyHTML),
		validator.MaxLenString("tag", p.Tag, 1000),
	)
	if err != nil {
		return errors.Join(ErrInvalidParams, err)
	}
	return nil
}

func validAddress(field, value string) validator.Rule {
	return validator.Rule{
		Check: func() bool {
			addr, err := mail.ParseAddress(value)
			return err == nil && addr.Address == value
		},
		Error: validator.ValidationError{Field: field, Message: "must be a valid email address"},
	}
}

// Config holds email service configuration. Without Postmark tokens New
// falls back to the development sender.
type Config struct {
	PostmarkServerToken  string `env:"POSTMARK_SERVER_TOKEN"`
	PostmarkAccountToken string `env:"POSTMARK_ACCOUNT_TOKEN"`
	SenderEmail          string `env:"SENDER_EMAIL" envDefault:"notifications@example.com"`
	SupportEmail         string `env:"SUPPORT_EMAIL"`
	DevDir               string `env:"EMAIL_DEV_DIR" envDefault:"tmp/emails"`
}

// New returns a Postmark sender when tokens are configured and a DevSender
// otherwise.
func New(cfg Config) (EmailSender, error) {
	if cfg.PostmarkServerToken == "" && cfg.PostmarkAccountToken == "" {
		return NewDevSender(cfg.DevDir), nil
	}
	return NewPostmarkClient(cfg)
}
