package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/dmitrymomot/notifykit/pkg/logger"
)

// Envelope is the JSON body every endpoint receives.
type Envelope struct {
	ID         string    `json:"id"`
	Event      string    `json:"event"`
	OccurredAt time.Time `json:"occurred_at"`
	Data       any       `json:"data"`
}

type endpoint struct {
	url     string
	breaker *CircuitBreaker
}

// Dispatcher fans events out to every configured endpoint.
type Dispatcher struct {
	client    *Client
	endpoints []endpoint
	secret    string
	post      []PostOption
	logger    *slog.Logger
	now       func() time.Time
}

// DispatcherOption configures a Dispatcher.
type DispatcherOption func(*Dispatcher)

func WithClient(c *Client) DispatcherOption {
	return func(d *Dispatcher) {
		if c != nil {
			d.client = c
		}
	}
}

func WithLogger(l *slog.Logger) DispatcherOption {
	return func(d *Dispatcher) {
		if l != nil {
			d.logger = l
		}
	}
}

// WithPostOptions appends options applied to every delivery.
func WithPostOptions(opts ...PostOption) DispatcherOption {
	return func(d *Dispatcher) { d.post = append(d.post, opts...) }
}

func WithDispatcherClock(now func() time.Time) DispatcherOption {
	return func(d *Dispatcher) {
		if now != nil {
			d.now = now
		}
	}
}

// NewDispatcher validates the endpoint list and builds one circuit breaker
// per endpoint.
func NewDispatcher(cfg Config, opts ...DispatcherOption) (*Dispatcher, error) {
	if !cfg.Enabled() {
		return nil, ErrNoEndpoints
	}
	d := &Dispatcher{
		client: NewClient(nil),
		secret: cfg.Secret,
		logger: slog.Default(),
		now:    time.Now,
		post: []PostOption{
			WithTimeout(cfg.Timeout),
			WithMaxRetries(cfg.MaxRetries),
		},
	}
	for _, u := range cfg.URLs {
		if err := validateTarget(u, []byte("{}")); err != nil {
			return nil, err
		}
		d.endpoints = append(d.endpoints, endpoint{
			url:     u,
			breaker: NewCircuitBreaker(cfg.BreakerFailures, 0, cfg.BreakerRecovery),
		})
	}
	for _, opt := range opts {
		opt(d)
	}
	d.logger = d.logger.With(logger.Component("webhook"))
	return d, nil
}

// Dispatch posts event to all endpoints concurrently. It returns the joined
// errors of the endpoints that failed.
func (d *Dispatcher) Dispatch(ctx context.Context, event string, payload any) error {
	env := Envelope{
		ID:         uuid.NewString(),
		Event:      event,
		OccurredAt: d.now().UTC(),
		Data:       payload,
	}
	body, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidPayload, err)
	}

	errs := make([]error, len(d.endpoints))
	var g errgroup.Group
	for i, ep := range d.endpoints {
		g.Go(func() error {
			opts := append([]PostOption{WithCircuitBreaker(ep.breaker)}, d.post...)
			if d.secret != "" {
				opts = append(opts, WithSignature(d.secret, env.ID))
			}
			if err := d.client.Post(ctx, ep.url, body, opts...); err != nil {
				errs[i] = fmt.Errorf("%s: %w", ep.url, err)
				return nil
			}
			d.logger.DebugContext(ctx, "webhook delivered",
				slog.String("event", event),
				slog.String("delivery_id", env.ID),
				slog.String("url", ep.url),
			)
			return nil
		})
	}
	_ = g.Wait()
	return errors.Join(errs...)
}

// Breaker returns the state of the breaker guarding url.
func (d *Dispatcher) Breaker(url string) (CircuitState, bool) {
	for _, ep := range d.endpoints {
		if ep.url == url {
			return ep.breaker.State(), true
		}
	}
	return CircuitClosed, false
}
