package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/dmitrymomot/notifykit/pkg/notifications"
	"github.com/dmitrymomot/notifykit/pkg/validator"
)

const (
	defaultListLimit = 50
	maxListLimit     = 200
)

var (
	errUnsupportedMediaType = HTTPError{Status: http.StatusUnsupportedMediaType, Code: "unsupported_media_type", Message: "expected application/json"}
	errBodyTooLarge         = HTTPError{Status: http.StatusRequestEntityTooLarge, Code: "body_too_large", Message: "request body too large"}
)

func invalidJSON(msg string) HTTPError {
	return HTTPError{Status: http.StatusBadRequest, Code: "invalid_json", Message: msg}
}

// decodeJSON strictly decodes a single JSON object from the request body.
func decodeJSON(w http.ResponseWriter, r *http.Request, maxBytes int64, v any) error {
	mediaType, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if err != nil || mediaType != "application/json" {
		return errUnsupportedMediaType
	}

	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBytes))
	dec.DisallowUnknownFields()

	if err := dec.Decode(v); err != nil {
		var tooLarge *http.MaxBytesError
		switch {
		case errors.As(err, &tooLarge):
			return errBodyTooLarge
		case errors.Is(err, io.EOF):
			return invalidJSON("empty body")
		default:
			return invalidJSON(err.Error())
		}
	}

	var extra json.RawMessage
	if err := dec.Decode(&extra); !errors.Is(err, io.EOF) {
		return invalidJSON("unexpected data after JSON object")
	}
	return nil
}

// parseListOptions reads the listing filters from the query string:
// limit, offset, unread, type (repeatable or comma separated), category
// and since (RFC 3339).
func parseListOptions(r *http.Request) (notifications.ListOptions, error) {
	q := r.URL.Query()
	opts := notifications.ListOptions{Limit: defaultListLimit}

	var errs validator.ValidationErrors
	fail := func(field, msg string) {
		errs = append(errs, validator.ValidationError{Field: field, Message: msg})
	}

	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		switch {
		case err != nil || n <= 0:
			fail("limit", "must be a positive integer")
		case n > maxListLimit:
			fail("limit", fmt.Sprintf("must be at most %d", maxListLimit))
		default:
			opts.Limit = n
		}
	}
	if v := q.Get("offset"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			fail("offset", "must be a non-negative integer")
		} else {
			opts.Offset = n
		}
	}
	if v := q.Get("unread"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			fail("unread", "must be a boolean")
		}
		opts.OnlyUnread = b
	}
	for _, raw := range q["type"] {
		for t := range strings.SplitSeq(raw, ",") {
			if t = strings.TrimSpace(t); t != "" {
				opts.Types = append(opts.Types, notifications.Type(t))
			}
		}
	}
	if err := validator.Apply(validator.EachInList("type", opts.Types, notifications.Types)); err != nil {
		errs = append(errs, validator.ExtractValidationErrors(err)...)
	}
	opts.Category = strings.TrimSpace(q.Get("category"))
	if v := q.Get("since"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			fail("since", "must be an RFC 3339 timestamp")
		} else {
			opts.Since = &t
		}
	}

	if len(errs) > 0 {
		return notifications.ListOptions{}, errors.Join(notifications.ErrValidation, errs)
	}
	return opts, nil
}
