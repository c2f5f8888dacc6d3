package httpapi_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/notifykit/pkg/httpapi"
	"github.com/dmitrymomot/notifykit/pkg/logger"
	"github.com/dmitrymomot/notifykit/pkg/notifications"
	"github.com/dmitrymomot/notifykit/pkg/queue"
	"github.com/dmitrymomot/notifykit/pkg/scheduler"
)

type onlineTransport struct{}

func (onlineTransport) SendToUser(context.Context, string, string, any) int { return 1 }

type fakeJobs struct {
	err error
	ran []string
}

func (j *fakeJobs) Status() []scheduler.Status {
	return []scheduler.Status{{Name: scheduler.JobDueNotifications, Spec: "@every 2m", Active: true}}
}

func (j *fakeJobs) RunNow(_ context.Context, name string) error {
	j.ran = append(j.ran, name)
	return j.err
}

type envelope struct {
	Data  json.RawMessage      `json:"data"`
	Meta  map[string]any       `json:"meta"`
	Error *httpapi.ErrorDetail `json:"error"`
}

type fixture struct {
	handler http.Handler
	manager *notifications.Manager
	tasks   *queue.MemoryStorage
}

func newFixture(t *testing.T, opts ...httpapi.Option) *fixture {
	t.Helper()

	tasks := queue.NewMemoryStorage()
	enq, err := queue.NewEnqueuer(tasks)
	require.NoError(t, err)

	registry := notifications.NewRegistry(
		notifications.Route{Channel: notifications.ChannelInApp, Sender: notifications.NewInAppSender(onlineTransport{})},
	)
	m := notifications.NewManager(notifications.NewMemoryStorage(), registry,
		notifications.WithManagerLogger(logger.Discard()),
		notifications.WithEnqueuer(enq),
	)
	t.Cleanup(func() { _ = m.Close() })

	return &fixture{
		handler: httpapi.New(m, opts...).Routes(),
		manager: m,
		tasks:   tasks,
	}
}

func (f *fixture) do(t *testing.T, method, path, userID, body string) (*httptest.ResponseRecorder, envelope) {
	t.Helper()

	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	if userID != "" {
		req.Header.Set("X-User-ID", userID)
	}
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)

	var env envelope
	if strings.HasPrefix(rec.Header().Get("Content-Type"), "application/json") {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
	}
	return rec, env
}

func (f *fixture) send(t *testing.T, userID string) string {
	t.Helper()
	rec, env := f.do(t, http.MethodPost, "/v1/notifications", "",
		`{"user_id":"`+userID+`","type":"system_alert","title":"Disk","message":"Disk almost full","channels":["in_app"]}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var res notifications.DeliveryResult
	require.NoError(t, json.Unmarshal(env.Data, &res))
	return res.NotificationID
}

func TestSend(t *testing.T) {
	f := newFixture(t)

	t.Run("delivered", func(t *testing.T) {
		rec, env := f.do(t, http.MethodPost, "/v1/notifications", "",
			`{"user_id":"u1","type":"order_shipped","title":"Shipped","message":"Your order is on its way","channels":["in_app"]}`)
		require.Equal(t, http.StatusCreated, rec.Code)

		var res notifications.DeliveryResult
		require.NoError(t, json.Unmarshal(env.Data, &res))
		assert.NotEmpty(t, res.NotificationID)
		assert.Equal(t, []notifications.Channel{notifications.ChannelInApp}, res.Delivered)
		assert.Empty(t, res.Failed)
		assert.NotEmpty(t, rec.Header().Get(httpapi.RequestIDHeader))
	})

	t.Run("scheduled", func(t *testing.T) {
		when := time.Now().Add(time.Hour).UTC().Format(time.RFC3339)
		rec, env := f.do(t, http.MethodPost, "/v1/notifications", "",
			`{"user_id":"u1","type":"order_shipped","title":"Later","message":"m","scheduled_for":"`+when+`"}`)
		require.Equal(t, http.StatusAccepted, rec.Code)

		var res notifications.DeliveryResult
		require.NoError(t, json.Unmarshal(env.Data, &res))
		assert.True(t, res.Scheduled)
	})

	t.Run("validation error", func(t *testing.T) {
		rec, env := f.do(t, http.MethodPost, "/v1/notifications", "",
			`{"user_id":"u1","type":"nope","title":"","message":"m"}`)
		require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
		require.NotNil(t, env.Error)
		assert.Equal(t, "validation_error", env.Error.Code)
		assert.Contains(t, env.Error.Details, "type")
		assert.Contains(t, env.Error.Details, "title")
	})

	t.Run("unknown field", func(t *testing.T) {
		rec, env := f.do(t, http.MethodPost, "/v1/notifications", "", `{"user":"u1"}`)
		require.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Equal(t, "invalid_json", env.Error.Code)
	})

	t.Run("wrong content type", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/v1/notifications", strings.NewReader("user_id=u1"))
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		rec := httptest.NewRecorder()
		f.handler.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusUnsupportedMediaType, rec.Code)
	})
}

func TestBulk(t *testing.T) {
	const body = `{"user_ids":["u1","u2","u3"],"template":{"type":"system_alert","title":"Maintenance","message":"Tonight","channels":["in_app"]}}`

	t.Run("queued", func(t *testing.T) {
		f := newFixture(t)
		rec, env := f.do(t, http.MethodPost, "/v1/notifications/bulk", "", body)
		require.Equal(t, http.StatusAccepted, rec.Code)
		assert.EqualValues(t, 3, env.Meta["recipients"])
		assert.Len(t, f.tasks.Tasks(queue.TaskStatusPending), 1)
	})

	t.Run("sync", func(t *testing.T) {
		f := newFixture(t)
		rec, env := f.do(t, http.MethodPost, "/v1/notifications/bulk?sync=true", "", body)
		require.Equal(t, http.StatusOK, rec.Code)

		var results []notifications.DeliveryResult
		require.NoError(t, json.Unmarshal(env.Data, &results))
		assert.Len(t, results, 3)
		assert.EqualValues(t, 0, env.Meta["failed"])
		assert.Empty(t, f.tasks.Tasks(queue.TaskStatusPending))
	})

	t.Run("invalid", func(t *testing.T) {
		f := newFixture(t)
		rec, env := f.do(t, http.MethodPost, "/v1/notifications/bulk", "", `{"user_ids":[],"template":{"type":"system_alert","title":"t","message":"m"}}`)
		require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
		assert.Contains(t, env.Error.Details, "user_ids")
	})

	t.Run("no queue", func(t *testing.T) {
		m := notifications.NewManager(notifications.NewMemoryStorage(), nil, notifications.WithManagerLogger(logger.Discard()))
		t.Cleanup(func() { _ = m.Close() })
		f := &fixture{handler: httpapi.New(m).Routes()}

		rec, env := f.do(t, http.MethodPost, "/v1/notifications/bulk", "", body)
		require.Equal(t, http.StatusServiceUnavailable, rec.Code)
		assert.Equal(t, "queue_unavailable", env.Error.Code)
	})
}

func TestListAndStats(t *testing.T) {
	f := newFixture(t)
	f.send(t, "u1")
	f.send(t, "u1")
	f.send(t, "u2")

	t.Run("requires identity", func(t *testing.T) {
		rec, env := f.do(t, http.MethodGet, "/v1/notifications", "", "")
		require.Equal(t, http.StatusUnauthorized, rec.Code)
		assert.Equal(t, "unauthenticated", env.Error.Code)
	})

	t.Run("own notifications", func(t *testing.T) {
		rec, env := f.do(t, http.MethodGet, "/v1/notifications?unread=true&type=system_alert&limit=10", "u1", "")
		require.Equal(t, http.StatusOK, rec.Code)

		var items []notifications.Notification
		require.NoError(t, json.Unmarshal(env.Data, &items))
		assert.Len(t, items, 2)
		for _, n := range items {
			assert.Equal(t, "u1", n.UserID)
		}
		assert.EqualValues(t, 2, env.Meta["unread"])
		assert.EqualValues(t, 10, env.Meta["limit"])
	})

	t.Run("bad filters", func(t *testing.T) {
		rec, env := f.do(t, http.MethodGet, "/v1/notifications?limit=0&since=yesterday&type=bogus", "u1", "")
		require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
		assert.Contains(t, env.Error.Details, "limit")
		assert.Contains(t, env.Error.Details, "since")
		assert.Contains(t, env.Error.Details, "type")
	})

	t.Run("stats", func(t *testing.T) {
		rec, env := f.do(t, http.MethodGet, "/v1/notifications/stats", "u1", "")
		require.Equal(t, http.StatusOK, rec.Code)

		var st notifications.Stats
		require.NoError(t, json.Unmarshal(env.Data, &st))
		assert.Equal(t, 2, st.Total)
		assert.Equal(t, 2, st.Unread)
		assert.Equal(t, 2, st.ByType[notifications.TypeSystemAlert])
	})
}

func TestGet(t *testing.T) {
	f := newFixture(t)
	id := f.send(t, "u1")

	rec, _ := f.do(t, http.MethodGet, "/v1/notifications/"+id, "u1", "")
	assert.Equal(t, http.StatusOK, rec.Code)

	rec, env := f.do(t, http.MethodGet, "/v1/notifications/"+id, "u2", "")
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, "forbidden", env.Error.Code)

	rec, _ = f.do(t, http.MethodGet, "/v1/notifications/missing", "u1", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRead(t *testing.T) {
	f := newFixture(t)
	id := f.send(t, "u1")

	tests := []struct {
		name   string
		id     string
		user   string
		status int
	}{
		{"foreign user", id, "u2", http.StatusForbidden},
		{"owner", id, "u1", http.StatusOK},
		{"already read", id, "u1", http.StatusConflict},
		{"missing", "missing", "u1", http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec, _ := f.do(t, http.MethodPost, "/v1/notifications/"+tt.id+"/read", tt.user, "")
			assert.Equal(t, tt.status, rec.Code, rec.Body.String())
		})
	}

	n, err := f.manager.Get(context.Background(), id, "u1")
	require.NoError(t, err)
	assert.True(t, n.Read)
}

func TestReadAll(t *testing.T) {
	f := newFixture(t)
	f.send(t, "u1")
	f.send(t, "u1")
	f.send(t, "u2")

	rec, env := f.do(t, http.MethodPost, "/v1/notifications/read-all", "u1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"marked":2}`, string(env.Data))

	unread, err := f.manager.CountUnread(context.Background(), "u2")
	require.NoError(t, err)
	assert.Equal(t, 1, unread)
}

func TestPreferences(t *testing.T) {
	f := newFixture(t)

	rec, env := f.do(t, http.MethodGet, "/v1/preferences", "u1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var p notifications.Preferences
	require.NoError(t, json.Unmarshal(env.Data, &p))
	assert.True(t, p.EmailEnabled)

	rec, env = f.do(t, http.MethodPatch, "/v1/preferences", "u1",
		`{"email_enabled":false,"quiet_hours_enabled":true,"quiet_hours_start":"22:00","quiet_hours_end":"07:00","timezone":"Europe/Berlin"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	require.NoError(t, json.Unmarshal(env.Data, &p))
	assert.False(t, p.EmailEnabled)
	assert.True(t, p.QuietHoursEnabled)
	assert.Equal(t, "Europe/Berlin", p.Timezone)

	rec, env = f.do(t, http.MethodPatch, "/v1/preferences", "u1", `{"timezone":"Mars/Olympus"}`)
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Contains(t, env.Error.Details, "timezone")
}

func TestScheduler(t *testing.T) {
	t.Run("not configured", func(t *testing.T) {
		f := newFixture(t)
		rec, _ := f.do(t, http.MethodGet, "/v1/scheduler", "", "")
		assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	})

	t.Run("status and run", func(t *testing.T) {
		jobs := &fakeJobs{}
		f := newFixture(t, httpapi.WithJobs(jobs))

		rec, env := f.do(t, http.MethodGet, "/v1/scheduler", "", "")
		require.Equal(t, http.StatusOK, rec.Code)
		var status []scheduler.Status
		require.NoError(t, json.Unmarshal(env.Data, &status))
		require.Len(t, status, 1)
		assert.Equal(t, scheduler.JobDueNotifications, status[0].Name)

		rec, _ = f.do(t, http.MethodPost, "/v1/scheduler/"+scheduler.JobRetentionCleanup+"/run", "", "")
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, []string{scheduler.JobRetentionCleanup}, jobs.ran)
	})

	t.Run("errors", func(t *testing.T) {
		tests := []struct {
			err    error
			status int
		}{
			{scheduler.ErrJobNotFound, http.StatusNotFound},
			{scheduler.ErrJobRunning, http.StatusConflict},
			{scheduler.ErrLockHeld, http.StatusConflict},
			{scheduler.ErrStopping, http.StatusServiceUnavailable},
			{errors.New("boom"), http.StatusInternalServerError},
		}
		for _, tt := range tests {
			f := newFixture(t, httpapi.WithJobs(&fakeJobs{err: tt.err}))
			rec, _ := f.do(t, http.MethodPost, "/v1/scheduler/x/run", "", "")
			assert.Equal(t, tt.status, rec.Code, tt.err.Error())
		}
	})
}

func TestHealthAndMetrics(t *testing.T) {
	metricsHandler := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("# metrics"))
	})
	f := newFixture(t,
		httpapi.WithHealthCheck("db", func(context.Context) error { return errors.New("down") }),
		httpapi.WithMetricsHandler(metricsHandler),
	)

	rec, _ := f.do(t, http.MethodGet, "/healthz", "", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	rec, _ = f.do(t, http.MethodGet, "/metrics", "", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "# metrics", rec.Body.String())
}

func TestRouting(t *testing.T) {
	f := newFixture(t)

	rec, env := f.do(t, http.MethodGet, "/v1/unknown", "u1", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "not_found", env.Error.Code)

	rec, _ = f.do(t, http.MethodDelete, "/v1/preferences", "u1", "")
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set(httpapi.RequestIDHeader, "req-123")
	w := httptest.NewRecorder()
	f.handler.ServeHTTP(w, req)
	assert.Equal(t, "req-123", w.Header().Get(httpapi.RequestIDHeader))
}
