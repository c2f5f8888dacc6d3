// Package httpapi exposes the notification engine over HTTP.
//
// Producer routes (send, bulk, scheduler) act on the request body. User
// routes act on behalf of the identity the upstream auth layer puts in the
// X-User-ID header. Every reply is a JSON envelope with data, meta and
// error members.
package httpapi

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/dmitrymomot/notifykit/pkg/httpserver"
	"github.com/dmitrymomot/notifykit/pkg/logger"
	"github.com/dmitrymomot/notifykit/pkg/notifications"
	"github.com/dmitrymomot/notifykit/pkg/queue"
	"github.com/dmitrymomot/notifykit/pkg/scheduler"
)

// Notifier is the subset of notifications.Manager served by the API.
type Notifier interface {
	Send(ctx context.Context, req notifications.SendRequest) (notifications.DeliveryResult, error)
	SendBulk(ctx context.Context, req notifications.BulkRequest) ([]notifications.DeliveryResult, error)
	EnqueueBulk(ctx context.Context, req notifications.BulkRequest, opts ...queue.EnqueueOption) error
	Get(ctx context.Context, id, userID string) (notifications.Notification, error)
	List(ctx context.Context, userID string, opts notifications.ListOptions) ([]notifications.Notification, error)
	CountUnread(ctx context.Context, userID string) (int, error)
	Stats(ctx context.Context, userID string) (notifications.Stats, error)
	MarkAsRead(ctx context.Context, id, userID string) (notifications.ReadOutcome, error)
	MarkAllAsRead(ctx context.Context, userID string) (int, error)
	Preferences(ctx context.Context, userID string) (notifications.Preferences, error)
	UpdatePreferences(ctx context.Context, userID string, u notifications.PreferencesUpdate) (notifications.Preferences, error)
}

// Jobs is the subset of scheduler.Scheduler served by the API.
type Jobs interface {
	Status() []scheduler.Status
	RunNow(ctx context.Context, name string) error
}

// Streams serves the live transports.
type Streams interface {
	ServeWS(w http.ResponseWriter, r *http.Request)
	ServeSSE(w http.ResponseWriter, r *http.Request)
}

// API holds the handlers. Build it with New and mount Routes.
type API struct {
	notifier       Notifier
	jobs           Jobs
	streams        Streams
	metrics        http.Handler
	middlewares    []func(http.Handler) http.Handler
	health         map[string]httpserver.Check
	healthTimeout  time.Duration
	identityHeader string
	maxBodyBytes   int64
	enqueueOpts    []queue.EnqueueOption
	logger         *slog.Logger
}

// Option configures an API.
type Option func(*API)

func WithLogger(l *slog.Logger) Option {
	return func(a *API) {
		if l != nil {
			a.logger = l
		}
	}
}

// WithJobs enables the scheduler routes.
func WithJobs(j Jobs) Option {
	return func(a *API) { a.jobs = j }
}

// WithStreams enables the WebSocket and SSE routes.
func WithStreams(s Streams) Option {
	return func(a *API) { a.streams = s }
}

// WithMetricsHandler serves h on GET /metrics.
func WithMetricsHandler(h http.Handler) Option {
	return func(a *API) { a.metrics = h }
}

// WithMiddleware appends router middleware such as metrics.Middleware.
func WithMiddleware(mw ...func(http.Handler) http.Handler) Option {
	return func(a *API) { a.middlewares = append(a.middlewares, mw...) }
}

// WithHealthCheck adds a named dependency probe to GET /healthz.
func WithHealthCheck(name string, check httpserver.Check) Option {
	return func(a *API) {
		if check != nil {
			a.health[name] = check
		}
	}
}

func WithHealthTimeout(d time.Duration) Option {
	return func(a *API) {
		if d > 0 {
			a.healthTimeout = d
		}
	}
}

// WithIdentityHeader changes the header carrying the caller identity.
func WithIdentityHeader(name string) Option {
	return func(a *API) {
		if name != "" {
			a.identityHeader = name
		}
	}
}

func WithMaxBodyBytes(n int64) Option {
	return func(a *API) {
		if n > 0 {
			a.maxBodyBytes = n
		}
	}
}

// WithEnqueueOptions are applied to every queued bulk job.
func WithEnqueueOptions(opts ...queue.EnqueueOption) Option {
	return func(a *API) { a.enqueueOpts = append(a.enqueueOpts, opts...) }
}

func New(n Notifier, opts ...Option) *API {
	a := &API{
		notifier:       n,
		health:         make(map[string]httpserver.Check),
		healthTimeout:  3 * time.Second,
		identityHeader: "X-User-ID",
		maxBodyBytes:   4 << 20,
		logger:         logger.Discard(),
	}
	for _, opt := range opts {
		opt(a)
	}
	a.logger = a.logger.With(logger.Component("httpapi"))
	return a
}

// Routes builds the router.
func (a *API) Routes() chi.Router {
	r := chi.NewRouter()
	r.Use(requestIDMiddleware, middleware.Recoverer, accessLog(a.logger))
	r.Use(a.middlewares...)

	r.NotFound(func(w http.ResponseWriter, r *http.Request) { respondError(w, r, a.logger, errNotFound) })
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) { respondError(w, r, a.logger, errNotAllowed) })

	r.Get("/healthz", httpserver.HealthHandler(a.logger, a.healthTimeout, a.health))
	if a.metrics != nil {
		r.Method(http.MethodGet, "/metrics", a.metrics)
	}

	r.Route("/v1", func(r chi.Router) {
		r.Post("/notifications", a.send)
		r.Post("/notifications/bulk", a.bulk)

		r.Route("/scheduler", func(r chi.Router) {
			r.Get("/", a.schedulerStatus)
			r.Post("/{job}/run", a.runJob)
		})

		if a.streams != nil {
			r.Get("/ws", a.streams.ServeWS)
			r.Get("/stream", a.streams.ServeSSE)
		}

		r.Group(func(r chi.Router) {
			r.Use(identityMiddleware(a.identityHeader, a.logger))

			r.Get("/notifications", a.list)
			r.Get("/notifications/stats", a.stats)
			r.Post("/notifications/read-all", a.readAll)
			r.Get("/notifications/{id}", a.get)
			r.Post("/notifications/{id}/read", a.read)

			r.Get("/preferences", a.getPreferences)
			r.Patch("/preferences", a.updatePreferences)
		})
	})
	return r
}
