package pgstore

import (
	"encoding/json"
	"fmt"
	"reflect"
	"slices"

	"github.com/dmitrymomot/notifykit/pkg/notifications"
)

// encodeJSON marshals v for a JSONB column. Nil maps become "{}".
func encodeJSON(v any) ([]byte, error) {
	if rv := reflect.ValueOf(v); v == nil || (rv.Kind() == reflect.Map && rv.IsNil()) {
		return []byte("{}"), nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode json column: %w", err)
	}
	return b, nil
}

func decodeJSON(b []byte, dst any) error {
	if len(b) == 0 || string(b) == "null" {
		return nil
	}
	if err := json.Unmarshal(b, dst); err != nil {
		return fmt.Errorf("decode json column: %w", err)
	}
	return nil
}

func channelStrings(chs []notifications.Channel) []string {
	out := make([]string, len(chs))
	for i, ch := range chs {
		out[i] = string(ch)
	}
	return out
}

func toChannels(in []string) []notifications.Channel {
	out := make([]notifications.Channel, len(in))
	for i, s := range in {
		out[i] = notifications.Channel(s)
	}
	return out
}

// intersect keeps the elements of a also present in b.
func intersect(a, b []notifications.Channel) []notifications.Channel {
	out := make([]notifications.Channel, 0, len(b))
	for _, ch := range a {
		if slices.Contains(b, ch) && !slices.Contains(out, ch) {
			out = append(out, ch)
		}
	}
	return out
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
