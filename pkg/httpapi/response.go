package httpapi

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/dmitrymomot/notifykit/pkg/logger"
	"github.com/dmitrymomot/notifykit/pkg/notifications"
	"github.com/dmitrymomot/notifykit/pkg/scheduler"
	"github.com/dmitrymomot/notifykit/pkg/validator"
)

// Response is the JSON envelope of every API reply.
type Response struct {
	Data  any            `json:"data,omitempty"`
	Meta  map[string]any `json:"meta,omitempty"`
	Error *ErrorDetail   `json:"error,omitempty"`
}

// ErrorDetail describes a failed request. Details maps field names to
// validation messages.
type ErrorDetail struct {
	Code    string              `json:"code"`
	Message string              `json:"message"`
	Details map[string][]string `json:"details,omitempty"`
}

// HTTPError is an error with a fixed status and machine-readable code.
type HTTPError struct {
	Status  int
	Code    string
	Message string
}

func (e HTTPError) Error() string { return e.Message }

var (
	errUnauthenticated = HTTPError{Status: http.StatusUnauthorized, Code: "unauthenticated", Message: "missing user identity"}
	errNotFound        = HTTPError{Status: http.StatusNotFound, Code: "not_found", Message: "resource not found"}
	errNotAllowed      = HTTPError{Status: http.StatusMethodNotAllowed, Code: "method_not_allowed", Message: "method not allowed"}
	errUnavailable     = HTTPError{Status: http.StatusServiceUnavailable, Code: "unavailable", Message: "feature not configured"}
)

func writeJSON(w http.ResponseWriter, status int, body Response) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func respond(w http.ResponseWriter, status int, data any, meta map[string]any) {
	writeJSON(w, status, Response{Data: data, Meta: meta})
}

// respondError maps err onto a status and error code and logs it at warn
// level for client errors and error level otherwise.
func respondError(w http.ResponseWriter, r *http.Request, log *slog.Logger, err error) {
	status, detail := errorToDetail(err)

	level := slog.LevelWarn
	if status >= http.StatusInternalServerError {
		level = slog.LevelError
	}
	log.Log(r.Context(), level, "request failed",
		slog.String("method", r.Method),
		slog.String("path", r.URL.Path),
		slog.Int("status", status),
		logger.Error(err),
	)

	writeJSON(w, status, Response{Error: detail})
}

func errorToDetail(err error) (int, *ErrorDetail) {
	var httpErr HTTPError
	if errors.As(err, &httpErr) {
		return httpErr.Status, &ErrorDetail{Code: httpErr.Code, Message: httpErr.Message}
	}

	if errors.Is(err, notifications.ErrValidation) {
		detail := &ErrorDetail{Code: "validation_error", Message: "request validation failed"}
		if ve := validator.ExtractValidationErrors(err); len(ve) > 0 {
			detail.Details = make(map[string][]string)
			for _, e := range ve {
				detail.Details[e.Field] = append(detail.Details[e.Field], e.Message)
			}
		}
		return http.StatusUnprocessableEntity, detail
	}

	switch {
	case errors.Is(err, notifications.ErrNotificationNotFound),
		errors.Is(err, notifications.ErrPreferencesNotFound):
		return http.StatusNotFound, &ErrorDetail{Code: "not_found", Message: "notification not found"}
	case errors.Is(err, notifications.ErrForbidden):
		return http.StatusForbidden, &ErrorDetail{Code: "forbidden", Message: "notification belongs to another user"}
	case errors.Is(err, notifications.ErrQueueFailure):
		return http.StatusServiceUnavailable, &ErrorDetail{Code: "queue_unavailable", Message: "work could not be queued"}
	case errors.Is(err, scheduler.ErrJobNotFound):
		return http.StatusNotFound, &ErrorDetail{Code: "job_not_found", Message: "job not found"}
	case errors.Is(err, scheduler.ErrJobRunning), errors.Is(err, scheduler.ErrLockHeld):
		return http.StatusConflict, &ErrorDetail{Code: "job_busy", Message: "job is already running"}
	case errors.Is(err, scheduler.ErrStopping):
		return http.StatusServiceUnavailable, &ErrorDetail{Code: "scheduler_stopping", Message: "scheduler is shutting down"}
	}

	return http.StatusInternalServerError, &ErrorDetail{Code: "internal_error", Message: http.StatusText(http.StatusInternalServerError)}
}
