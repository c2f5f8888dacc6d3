package notifications

import (
	"errors"
	"strings"
	"time"

	"github.com/dmitrymomot/notifykit/pkg/validator"
)

// SendRequest describes one notification for one user.
type SendRequest struct {
	UserID       string         `json:"user_id"`
	Type         Type           `json:"type"`
	Title        string         `json:"title"`
	Message      string         `json:"message"`
	Priority     Priority       `json:"priority,omitempty"`
	Channels     []Channel      `json:"channels,omitempty"`
	Metadata     map[string]any `json:"metadata,omitempty"`
	Category     string         `json:"category,omitempty"`
	Tags         []string       `json:"tags,omitempty"`
	Locale       string         `json:"locale,omitempty"`
	ScheduledFor *time.Time     `json:"scheduled_for,omitempty"`
}

func (r SendRequest) normalize() SendRequest {
	r.UserID = strings.TrimSpace(r.UserID)
	if r.Priority == "" {
		r.Priority = PriorityNormal
	}
	if r.Locale == "" {
		r.Locale = "en"
	}
	r.Tags = dedupeStrings(r.Tags)
	return r
}

// Validate checks the request after defaults are applied.
func (r SendRequest) Validate() error {
	return validate(
		validator.RequiredString("user_id", r.UserID),
		validator.InList("type", r.Type, Types),
		validator.RequiredString("title", r.Title),
		validator.MaxLenString("title", r.Title, 255),
		validator.RequiredString("message", r.Message),
		validator.InList("priority", r.Priority, Priorities),
		validator.EachInList("channels", r.Channels, Channels),
		validator.MaxLenSlice("tags", r.Tags, 32),
	)
}

// BulkRequest sends the same notification to many users.
type BulkRequest struct {
	UserIDs  []string    `json:"user_ids"`
	Template SendRequest `json:"template"`
}

// MaxBulkRecipients caps a single bulk request.
const MaxBulkRecipients = 10000

func (r BulkRequest) Validate() error {
	tpl := r.Template.normalize()
	return validate(
		validator.RequiredSlice("user_ids", r.UserIDs),
		validator.MaxLenSlice("user_ids", r.UserIDs, MaxBulkRecipients),
		validator.InList("type", tpl.Type, Types),
		validator.RequiredString("title", tpl.Title),
		validator.RequiredString("message", tpl.Message),
		validator.InList("priority", tpl.Priority, Priorities),
		validator.EachInList("channels", tpl.Channels, Channels),
	)
}

// forUser returns the per-recipient request.
func (r BulkRequest) forUser(userID string) SendRequest {
	req := r.Template
	req.UserID = userID
	req.Metadata = cloneMetadata(r.Template.Metadata)
	return req
}

func validate(rules ...validator.Rule) error {
	if err := validator.Apply(rules...); err != nil {
		return errors.Join(ErrValidation, err)
	}
	return nil
}
