package httpapi

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/dmitrymomot/notifykit/pkg/notifications"
)

func (a *API) send(w http.ResponseWriter, r *http.Request) {
	var req notifications.SendRequest
	if err := decodeJSON(w, r, a.maxBodyBytes, &req); err != nil {
		respondError(w, r, a.logger, err)
		return
	}

	res, err := a.notifier.Send(r.Context(), req)
	if err != nil {
		respondError(w, r, a.logger, err)
		return
	}

	status := http.StatusCreated
	switch {
	case res.Scheduled:
		status = http.StatusAccepted
	case res.Suppressed:
		status = http.StatusOK
	}
	respond(w, status, res, nil)
}

// bulk queues a bulk request. With ?sync=true it runs the batches inline
// and returns the per-recipient results.
func (a *API) bulk(w http.ResponseWriter, r *http.Request) {
	var req notifications.BulkRequest
	if err := decodeJSON(w, r, a.maxBodyBytes, &req); err != nil {
		respondError(w, r, a.logger, err)
		return
	}

	if sync, _ := strconv.ParseBool(r.URL.Query().Get("sync")); sync {
		results, err := a.notifier.SendBulk(r.Context(), req)
		if err != nil {
			respondError(w, r, a.logger, err)
			return
		}
		failed := 0
		for _, res := range results {
			if !res.OK() {
				failed++
			}
		}
		respond(w, http.StatusOK, results, map[string]any{"recipients": len(results), "failed": failed})
		return
	}

	if err := a.notifier.EnqueueBulk(r.Context(), req, a.enqueueOpts...); err != nil {
		respondError(w, r, a.logger, err)
		return
	}
	respond(w, http.StatusAccepted, map[string]any{"queued": true}, map[string]any{"recipients": len(req.UserIDs)})
}

func (a *API) list(w http.ResponseWriter, r *http.Request) {
	opts, err := parseListOptions(r)
	if err != nil {
		respondError(w, r, a.logger, err)
		return
	}

	userID := UserID(r.Context())
	items, err := a.notifier.List(r.Context(), userID, opts)
	if err != nil {
		respondError(w, r, a.logger, err)
		return
	}
	unread, err := a.notifier.CountUnread(r.Context(), userID)
	if err != nil {
		respondError(w, r, a.logger, err)
		return
	}
	respond(w, http.StatusOK, items, map[string]any{
		"limit":  opts.Limit,
		"offset": opts.Offset,
		"count":  len(items),
		"unread": unread,
	})
}

func (a *API) get(w http.ResponseWriter, r *http.Request) {
	n, err := a.notifier.Get(r.Context(), chi.URLParam(r, "id"), UserID(r.Context()))
	if err != nil {
		respondError(w, r, a.logger, err)
		return
	}
	respond(w, http.StatusOK, n, nil)
}

func (a *API) stats(w http.ResponseWriter, r *http.Request) {
	st, err := a.notifier.Stats(r.Context(), UserID(r.Context()))
	if err != nil {
		respondError(w, r, a.logger, err)
		return
	}
	respond(w, http.StatusOK, st, nil)
}

func (a *API) read(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	outcome, err := a.notifier.MarkAsRead(r.Context(), id, UserID(r.Context()))
	if err != nil {
		respondError(w, r, a.logger, err)
		return
	}

	body := map[string]any{"id": id, "outcome": outcome}
	switch outcome {
	case notifications.ReadMarked:
		respond(w, http.StatusOK, body, nil)
	case notifications.ReadAlready:
		writeJSON(w, http.StatusConflict, Response{Data: body, Error: &ErrorDetail{Code: "already_read", Message: "notification is already read"}})
	case notifications.ReadForbidden:
		respondError(w, r, a.logger, notifications.ErrForbidden)
	default:
		respondError(w, r, a.logger, notifications.ErrNotificationNotFound)
	}
}

func (a *API) readAll(w http.ResponseWriter, r *http.Request) {
	count, err := a.notifier.MarkAllAsRead(r.Context(), UserID(r.Context()))
	if err != nil {
		respondError(w, r, a.logger, err)
		return
	}
	respond(w, http.StatusOK, map[string]any{"marked": count}, nil)
}

func (a *API) getPreferences(w http.ResponseWriter, r *http.Request) {
	p, err := a.notifier.Preferences(r.Context(), UserID(r.Context()))
	if err != nil {
		respondError(w, r, a.logger, err)
		return
	}
	respond(w, http.StatusOK, p, nil)
}

func (a *API) updatePreferences(w http.ResponseWriter, r *http.Request) {
	var u notifications.PreferencesUpdate
	if err := decodeJSON(w, r, a.maxBodyBytes, &u); err != nil {
		respondError(w, r, a.logger, err)
		return
	}
	p, err := a.notifier.UpdatePreferences(r.Context(), UserID(r.Context()), u)
	if err != nil {
		respondError(w, r, a.logger, err)
		return
	}
	respond(w, http.StatusOK, p, nil)
}

func (a *API) schedulerStatus(w http.ResponseWriter, r *http.Request) {
	if a.jobs == nil {
		respondError(w, r, a.logger, errUnavailable)
		return
	}
	respond(w, http.StatusOK, a.jobs.Status(), nil)
}

func (a *API) runJob(w http.ResponseWriter, r *http.Request) {
	if a.jobs == nil {
		respondError(w, r, a.logger, errUnavailable)
		return
	}
	job := chi.URLParam(r, "job")
	if err := a.jobs.RunNow(r.Context(), job); err != nil {
		respondError(w, r, a.logger, err)
		return
	}
	respond(w, http.StatusOK, map[string]any{"job": job, "status": "completed"}, nil)
}
