package notifications

import (
	"encoding/json"
	"errors"
)

// DeliveryResult is the per-recipient outcome of a send.
type DeliveryResult struct {
	NotificationID string         `json:"notification_id,omitempty"`
	UserID         string         `json:"user_id"`
	Delivered      []Channel      `json:"delivered"`
	Failed         []Channel      `json:"failed"`
	Deferred       []Channel      `json:"deferred,omitempty"`
	DeferredID     string         `json:"deferred_id,omitempty"`
	Scheduled      bool           `json:"scheduled,omitempty"`
	Suppressed     bool           `json:"suppressed,omitempty"`
	Errors         []ChannelError `json:"errors,omitempty"`
}

// OK reports whether no channel failed.
func (r DeliveryResult) OK() bool {
	return len(r.Failed) == 0
}

// Partial reports whether some channels succeeded and some failed.
func (r DeliveryResult) Partial() bool {
	return len(r.Delivered) > 0 && len(r.Failed) > 0
}

// Err joins the channel errors, or returns nil.
func (r DeliveryResult) Err() error {
	if len(r.Errors) == 0 {
		return nil
	}
	errs := make([]error, len(r.Errors))
	for i, e := range r.Errors {
		errs[i] = e
	}
	return errors.Join(errs...)
}

func (e ChannelError) MarshalJSON() ([]byte, error) {
	msg := ""
	if e.Err != nil {
		msg = e.Err.Error()
	}
	return json.Marshal(struct {
		Channel Channel `json:"channel"`
		Error   string  `json:"error"`
	}{e.Channel, msg})
}

// failedResult marks every channel as failed with the same cause.
func failedResult(userID string, channels []Channel, err error) DeliveryResult {
	res := DeliveryResult{
		UserID:    userID,
		Delivered: []Channel{},
		Failed:    append([]Channel(nil), channels...),
	}
	if len(channels) == 0 {
		res.Errors = []ChannelError{{Err: err}}
		return res
	}
	for _, ch := range channels {
		res.Errors = append(res.Errors, ChannelError{Channel: ch, Err: err})
	}
	return res
}
